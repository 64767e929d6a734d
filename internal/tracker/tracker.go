// Package tracker owns the lifecycle of runs. Stage is folded from an
// append-only per-run event log and raised by durable artifact evidence.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/recapbook/api/internal/model"
	"github.com/recapbook/api/internal/store"
)

var (
	ErrRunNotFound  = errors.New("run not found")
	ErrStageTimeout = errors.New("timed out waiting for stage")
	ErrRunFailed    = errors.New("run failed")
)

// Signal asks the tracker to move a run to Stage. Reason is kept for
// failures.
type Signal struct {
	Stage  model.Stage
	Reason string
}

func Advance(stage model.Stage) Signal { return Signal{Stage: stage} }

func Failure(reason string) Signal { return Signal{Stage: model.StageFailed, Reason: reason} }

// State is a run's folded lifecycle plus the evidence it was derived from.
type State struct {
	Run             *model.Run
	Stage           model.Stage
	Reason          string
	SourceCollected bool
	MediaCount      int
	DocumentReady   bool
	PlaceholderDoc  bool
}

type Tracker struct {
	log          EventLog
	store        store.ArtifactStore
	pollInterval time.Duration
	now          func() time.Time
}

func New(log EventLog, st store.ArtifactStore, pollInterval time.Duration) *Tracker {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Tracker{log: log, store: st, pollInterval: pollInterval, now: time.Now}
}

// Create records a new run. It returns the existing record and false when
// the run is already known.
func (t *Tracker) Create(ctx context.Context, run *model.Run) (*model.Run, bool, error) {
	events, err := t.log.Events(ctx, run.ID)
	if err != nil {
		return nil, false, err
	}
	if f := fold(events); f.run != nil {
		return f.run, false, nil
	}
	if err := t.log.Append(ctx, run.ID, Event{Type: EventCreated, Run: run, At: t.now()}); err != nil {
		return nil, false, err
	}
	return run, true, nil
}

// Run returns the run record.
func (t *Tracker) Run(ctx context.Context, runID string) (*model.Run, error) {
	events, err := t.log.Events(ctx, runID)
	if err != nil {
		return nil, err
	}
	f := fold(events)
	if f.run == nil {
		return nil, ErrRunNotFound
	}
	return f.run, nil
}

// RecordSignal appends sig when it moves the run forward from a
// non-terminal stage. Anything else is ignored.
func (t *Tracker) RecordSignal(ctx context.Context, runID string, sig Signal) error {
	st, err := t.Inspect(ctx, runID)
	if err != nil {
		return err
	}
	if st.Stage.Terminal() {
		return nil
	}
	if sig.Stage != model.StageFailed && sig.Stage <= st.Stage {
		return nil
	}
	ev, ok := stageEvents[sig.Stage]
	if !ok {
		return fmt.Errorf("no signal for stage %s", sig.Stage)
	}
	return t.log.Append(ctx, runID, Event{Type: ev, Reason: sig.Reason, At: t.now()})
}

// Reset starts the run's lifecycle over. The run record is kept.
func (t *Tracker) Reset(ctx context.Context, runID string) error {
	if _, err := t.Run(ctx, runID); err != nil {
		return err
	}
	return t.log.Append(ctx, runID, Event{Type: EventReset, At: t.now()})
}

// CurrentStage returns the run's stage.
func (t *Tracker) CurrentStage(ctx context.Context, runID string) (model.Stage, error) {
	st, err := t.Inspect(ctx, runID)
	if err != nil {
		return model.StageCreated, err
	}
	return st.Stage, nil
}

// Inspect folds the event log and raises the result with artifact evidence.
// Evidence that moves the stage forward is appended to the log so later
// reads never fall back below it.
func (t *Tracker) Inspect(ctx context.Context, runID string) (*State, error) {
	events, err := t.log.Events(ctx, runID)
	if err != nil {
		return nil, err
	}
	f := fold(events)
	if f.run == nil {
		return nil, ErrRunNotFound
	}

	st := &State{Run: f.run, Stage: f.stage, Reason: f.reason}
	if err := t.gather(ctx, st); err != nil {
		return nil, err
	}

	if st.Stage == model.StageFailed {
		return st, nil
	}
	evidence := model.StageCreated
	switch {
	case st.DocumentReady:
		evidence = model.StageDocumentReady
	case st.SourceCollected && st.MediaCount > 0:
		evidence = model.StageMediaReady
	case st.SourceCollected:
		evidence = model.StageSourceCollected
	}
	if evidence > st.Stage {
		if err := t.log.Append(ctx, runID, Event{Type: stageEvents[evidence], At: t.now()}); err != nil {
			return nil, err
		}
		st.Stage = evidence
	}
	return st, nil
}

func (t *Tracker) gather(ctx context.Context, st *State) error {
	run := st.Run
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ok, err := t.store.SourceExists(gctx, run.SourceRef)
		st.SourceCollected = ok
		return err
	})
	g.Go(func() error {
		media, err := t.store.ListMedia(gctx, run.SourceRef)
		st.MediaCount = len(media)
		return err
	})
	g.Go(func() error {
		ok, err := t.store.DocumentExists(gctx, run.ID, run.Format, store.DocFinal)
		st.DocumentReady = ok
		return err
	})
	g.Go(func() error {
		ok, err := t.store.DocumentExists(gctx, run.ID, run.Format, store.DocPlaceholder)
		st.PlaceholderDoc = ok
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to gather evidence: %w", err)
	}
	return nil
}

// AwaitStage polls until the run reaches target, fails, or timeout elapses.
// A timeout is reported as ErrStageTimeout and does not change the run.
func (t *Tracker) AwaitStage(ctx context.Context, runID string, target model.Stage, timeout time.Duration) (model.Stage, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		stage, err := t.CurrentStage(ctx, runID)
		if err != nil {
			return stage, err
		}
		if stage.Reached(target) {
			return stage, nil
		}
		if stage == model.StageFailed {
			return stage, ErrRunFailed
		}

		select {
		case <-ctx.Done():
			return stage, ctx.Err()
		case <-deadline.C:
			return stage, fmt.Errorf("%w: %s after %s", ErrStageTimeout, target, timeout)
		case <-ticker.C:
		}
	}
}

type folded struct {
	run    *model.Run
	stage  model.Stage
	reason string
}

// fold replays events. Events that would be invalid at the point they were
// appended are skipped, so concurrent writers cannot break the stage order.
func fold(events []Event) folded {
	var f folded
	for _, ev := range events {
		switch ev.Type {
		case EventCreated:
			if f.run == nil {
				f.run = ev.Run
			}
		case EventReset:
			f.stage = model.StageCreated
			f.reason = ""
		case EventFailed:
			if f.run != nil && !f.stage.Terminal() {
				f.stage = model.StageFailed
				f.reason = ev.Reason
			}
		default:
			stage, ok := eventStages[ev.Type]
			if ok && f.run != nil && !f.stage.Terminal() && stage > f.stage {
				f.stage = stage
			}
		}
	}
	return f
}
