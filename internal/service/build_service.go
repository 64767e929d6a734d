// Package service orchestrates the run lifecycle: it creates runs, starts
// supervised builds and answers status and document reads.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/recapbook/api/internal/cache"
	"github.com/recapbook/api/internal/config"
	"github.com/recapbook/api/internal/document"
	"github.com/recapbook/api/internal/generation"
	"github.com/recapbook/api/internal/lock"
	"github.com/recapbook/api/internal/media"
	"github.com/recapbook/api/internal/model"
	"github.com/recapbook/api/internal/plan"
	"github.com/recapbook/api/internal/store"
	"github.com/recapbook/api/internal/tracker"
)

var (
	ErrRunNotFound       = tracker.ErrRunNotFound
	ErrSourceNotFound    = errors.New("source artifact not found")
	ErrDocumentNotReady  = errors.New("document not ready")
	ErrCollectionTimeout = errors.New("collection timed out")
	ErrAssembly          = document.ErrAssembly
)

// BuildService owns the build pipeline
type BuildService struct {
	tracker    *tracker.Tracker
	store      store.ArtifactStore
	plans      *plan.Registry
	scheduler  *generation.Scheduler
	locker     lock.Locker
	status     *StatusCache
	dispatcher Dispatcher
	mediaWait  time.Duration
	now        func() time.Time
}

func NewBuildService(
	tr *tracker.Tracker,
	st store.ArtifactStore,
	plans *plan.Registry,
	scheduler *generation.Scheduler,
	locker lock.Locker,
	statusCache cache.Cache,
	cfg *config.Config,
) *BuildService {
	s := &BuildService{
		tracker:   tr,
		store:     st,
		plans:     plans,
		scheduler: scheduler,
		locker:    locker,
		mediaWait: cfg.Pipeline.MediaWaitTimeout,
		now:       time.Now,
	}
	s.status = NewStatusCache(statusCache, cfg.Status.TTL, s.computeStatus)
	s.dispatcher = NewLocalDispatcher(s)
	return s
}

// SetDispatcher replaces the default in-process dispatcher.
func (s *BuildService) SetDispatcher(d Dispatcher) {
	s.dispatcher = d
}

// CreateRun registers a run. Creating a run that already exists returns
// the existing record.
func (s *BuildService) CreateRun(ctx context.Context, req *model.CreateRunRequest) (*model.Run, error) {
	runID := req.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	return s.ensureRun(ctx, runID, req.Style, req.Format, req.SourceRef, req.OwnerID)
}

func (s *BuildService) ensureRun(ctx context.Context, runID string, style model.StyleID, format model.Format, sourceRef, owner string) (*model.Run, error) {
	if existing, err := s.tracker.Run(ctx, runID); err == nil {
		return existing, nil
	} else if !errors.Is(err, tracker.ErrRunNotFound) {
		return nil, err
	}

	// markers left by the collector fill in what the caller did not pass
	if style == "" {
		if v, err := s.store.GetMarker(ctx, runID, store.MarkerStyle); err == nil {
			style = model.StyleID(v)
		}
	}
	if format == "" {
		if v, err := s.store.GetMarker(ctx, runID, store.MarkerFormat); err == nil {
			format = model.Format(v)
		}
	}
	if !format.Valid() {
		format = model.FormatJSON
	}
	if sourceRef == "" {
		sourceRef = runID
	}

	run := &model.Run{
		ID:        runID,
		Style:     s.plans.Resolve(style),
		Format:    format,
		SourceRef: sourceRef,
		OwnerID:   owner,
		CreatedAt: s.now(),
	}
	if err := store.CheckID(run.ID); err != nil {
		return nil, err
	}
	if err := store.CheckID(run.SourceRef); err != nil {
		return nil, err
	}

	run, created, err := s.tracker.Create(ctx, run)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	if created {
		if err := s.store.PutMarker(ctx, run.ID, store.MarkerStyle, string(run.Style)); err != nil {
			return nil, fmt.Errorf("failed to write style marker: %w", err)
		}
		if err := s.store.PutMarker(ctx, run.ID, store.MarkerFormat, string(run.Format)); err != nil {
			return nil, fmt.Errorf("failed to write format marker: %w", err)
		}
		log.Printf("Run created: %s (style=%s format=%s source=%s)", run.ID, run.Style, run.Format, run.SourceRef)
	}
	return run, nil
}

// StartBuild dispatches the build pipeline for a run and returns without
// waiting for it. A failed run is reset first so it can be retried.
func (s *BuildService) StartBuild(ctx context.Context, req *model.StartBuildRequest) (*model.BuildAcceptedResponse, error) {
	sourceRef := req.SourceRef
	existing, err := s.tracker.Run(ctx, req.RunID)
	switch {
	case err == nil:
		sourceRef = existing.SourceRef
	case errors.Is(err, tracker.ErrRunNotFound):
		if sourceRef == "" {
			sourceRef = req.RunID
		}
	default:
		return nil, err
	}

	ok, err := s.store.SourceExists(ctx, sourceRef)
	if err != nil {
		return nil, fmt.Errorf("failed to check source: %w", err)
	}
	if !ok {
		return nil, ErrSourceNotFound
	}

	run, err := s.ensureRun(ctx, req.RunID, req.Style, req.Format, sourceRef, req.OwnerID)
	if err != nil {
		return nil, err
	}

	stage, err := s.tracker.CurrentStage(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	if stage == model.StageFailed {
		if err := s.tracker.Reset(ctx, run.ID); err != nil {
			return nil, fmt.Errorf("failed to reset run: %w", err)
		}
		if stage, err = s.tracker.CurrentStage(ctx, run.ID); err != nil {
			return nil, err
		}
		log.Printf("Run %s reset for retry", run.ID)
	}

	now := s.now()
	if err := s.dispatcher.Dispatch(ctx, model.BuildJobPayload{RunID: run.ID, RequestedAt: now}); err != nil {
		return nil, fmt.Errorf("failed to dispatch build: %w", err)
	}

	return &model.BuildAcceptedResponse{
		RunID:     run.ID,
		Stage:     stage,
		Format:    run.Format,
		Queued:    true,
		CreatedAt: now,
	}, nil
}

// GetStatus returns a possibly cached snapshot of the run's progress.
func (s *BuildService) GetStatus(ctx context.Context, runID string) (*model.StatusSnapshot, error) {
	data, err := s.status.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	var snap model.StatusSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode status: %w", err)
	}
	return &snap, nil
}

var stageMessages = map[model.Stage]string{
	model.StageCreated:         "Waiting for your posts to be collected.",
	model.StageSourceCollected: "Posts collected. Downloading your photos.",
	model.StageMediaReady:      "Photos ready. Writing your recap.",
	model.StageDocumentReady:   "Your recap is ready.",
}

func (s *BuildService) computeStatus(ctx context.Context, runID string) (*model.StatusSnapshot, error) {
	st, err := s.tracker.Inspect(ctx, runID)
	if err != nil {
		return nil, err
	}

	snap := &model.StatusSnapshot{
		RunID:           runID,
		Stage:           st.Stage,
		SourceCollected: st.SourceCollected || st.Stage.Reached(model.StageSourceCollected),
		MediaReady:      st.Stage.Reached(model.StageMediaReady),
		DocumentReady:   st.Stage == model.StageDocumentReady,
		Failed:          st.Stage == model.StageFailed,
		Reason:          st.Reason,
		MediaCount:      st.MediaCount,
		ComputedAt:      s.now().UTC(),
	}

	switch {
	case snap.Failed:
		snap.Message = "Build failed. Please start the run again."
		if st.Reason != "" {
			snap.Message = fmt.Sprintf("Build failed: %s. Please start the run again.", st.Reason)
		}
		if st.PlaceholderDoc {
			snap.Locators = map[string]string{
				"placeholder": s.store.Locator(runID, st.Run.Format, store.DocPlaceholder),
			}
		}
	case snap.DocumentReady:
		snap.Message = stageMessages[st.Stage]
		snap.Locators = map[string]string{
			string(st.Run.Format): s.store.Locator(runID, st.Run.Format, store.DocFinal),
		}
	default:
		snap.Message = stageMessages[st.Stage]
	}
	return snap, nil
}

// GetDocument returns the finished document, or the placeholder left by a
// failed assembly. Empty format means the run's own format.
func (s *BuildService) GetDocument(ctx context.Context, runID string, format model.Format) (*model.Document, error) {
	run, err := s.tracker.Run(ctx, runID)
	if err != nil {
		return nil, err
	}
	if format == "" {
		format = run.Format
	}

	for _, kind := range []store.DocKind{store.DocFinal, store.DocPlaceholder} {
		data, err := s.store.GetDocument(ctx, runID, format, kind)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read document: %w", err)
		}
		var doc model.Document
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to decode document: %w", err)
		}
		return &doc, nil
	}
	return nil, ErrDocumentNotReady
}

// RunBuild is the supervised pipeline for one run. Builds of the same run
// are serialized; a build whose trigger was already satisfied by a document
// finished after requestedAt is skipped. Any panic is recorded as a run
// failure.
func (s *BuildService) RunBuild(ctx context.Context, runID string, requestedAt time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Build %s panicked: %v", runID, r)
			s.fail(ctx, runID, fmt.Sprintf("internal error: %v", r))
			err = fmt.Errorf("build panicked: %v", r)
		}
	}()

	unlock, err := s.locker.Lock(ctx, "build:"+runID)
	if err != nil {
		return fmt.Errorf("failed to lock run: %w", err)
	}
	defer unlock()

	run, err := s.tracker.Run(ctx, runID)
	if err != nil {
		return err
	}
	if s.alreadyBuilt(ctx, run, requestedAt) {
		log.Printf("Build %s skipped: document already rebuilt after %s", runID, requestedAt.Format(time.RFC3339Nano))
		return nil
	}

	log.Printf("Starting build: %s (style=%s format=%s)", run.ID, run.Style, run.Format)
	started := s.now()

	if _, err := s.tracker.AwaitStage(ctx, run.ID, model.StageMediaReady, s.mediaWait); err != nil {
		if errors.Is(err, tracker.ErrStageTimeout) {
			s.fail(ctx, run.ID, "timed out waiting for media")
			return fmt.Errorf("%w: %v", ErrCollectionTimeout, err)
		}
		return err
	}

	p := s.plans.Plan(run.Style)

	items, err := s.store.LoadSource(ctx, run.SourceRef)
	if err != nil {
		return s.failAssembly(ctx, run, p, fmt.Sprintf("source unavailable: %v", err))
	}
	pc := plan.BuildContext(run, items)

	results := s.scheduler.Generate(ctx, p.Sections, pc, func(done, total int, r model.SectionResult) {
		log.Printf("Build %s: section %s %s (%d/%d)", run.ID, r.SectionID, r.Origin, done, total)
	})

	pool, err := s.store.ListMedia(ctx, run.SourceRef)
	if err != nil {
		return s.failAssembly(ctx, run, p, fmt.Sprintf("media unavailable: %v", err))
	}
	selection := media.Select(pool, p.MediaCount, media.Seed(run.ID, started))

	doc, err := document.Assemble(document.Input{
		Run:     run,
		Plan:    p,
		Results: results,
		Media:   selection,
		Context: pc,
		Now:     s.now(),
	})
	if err != nil {
		return s.failAssembly(ctx, run, p, err.Error())
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return s.failAssembly(ctx, run, p, fmt.Sprintf("encode document: %v", err))
	}
	if err := s.store.PutDocument(ctx, run.ID, run.Format, store.DocFinal, data); err != nil {
		return s.failAssembly(ctx, run, p, fmt.Sprintf("persist document: %v", err))
	}
	if err := s.tracker.RecordSignal(ctx, run.ID, tracker.Advance(model.StageDocumentReady)); err != nil {
		// the stored document is itself evidence of readiness
		log.Printf("Warning: failed to record document_ready for %s: %v", run.ID, err)
	}

	log.Printf("Build completed: %s (%d sections, %d fallback, %d media) in %s",
		run.ID, len(doc.Sections), doc.FallbackCount(), len(pool), s.now().Sub(started).Round(time.Millisecond))
	return nil
}

func (s *BuildService) alreadyBuilt(ctx context.Context, run *model.Run, requestedAt time.Time) bool {
	if requestedAt.IsZero() {
		return false
	}
	data, err := s.store.GetDocument(ctx, run.ID, run.Format, store.DocFinal)
	if err != nil {
		return false
	}
	var doc model.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return false
	}
	return !doc.CreatedAt.Before(requestedAt)
}

// failAssembly stores a placeholder document and fails the run.
func (s *BuildService) failAssembly(ctx context.Context, run *model.Run, p plan.Plan, reason string) error {
	ctx = context.WithoutCancel(ctx)
	doc := document.Placeholder(run, p, reason, s.now())
	data, err := json.Marshal(doc)
	if err == nil {
		err = s.store.PutDocument(ctx, run.ID, run.Format, store.DocPlaceholder, data)
	}
	if err != nil {
		log.Printf("Warning: failed to store placeholder for %s: %v", run.ID, err)
	}
	s.fail(ctx, run.ID, reason)
	return fmt.Errorf("%w: %s", ErrAssembly, reason)
}

func (s *BuildService) fail(ctx context.Context, runID, reason string) {
	ctx = context.WithoutCancel(ctx)
	log.Printf("Build failed: %s: %s", runID, reason)
	if err := s.tracker.RecordSignal(ctx, runID, tracker.Failure(reason)); err != nil {
		log.Printf("Warning: failed to record failure for %s: %v", runID, err)
	}
}
