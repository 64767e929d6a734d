package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/recapbook/api/internal/model"
	"github.com/recapbook/api/internal/service"
	"github.com/recapbook/api/internal/tracker"
)

// BuildWorker processes queued build tasks
type BuildWorker struct {
	runner service.Runner
}

// NewBuildWorker creates a new build worker
func NewBuildWorker(runner service.Runner) *BuildWorker {
	return &BuildWorker{runner: runner}
}

// ProcessTask handles build task processing. Failures already recorded on
// the run are not retried.
func (w *BuildWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload model.BuildJobPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal build payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.RunID == "" {
		return fmt.Errorf("build payload has no run id: %w", asynq.SkipRetry)
	}

	log.Printf("Starting build job: %s", payload.RunID)
	err := w.runner.RunBuild(ctx, payload.RunID, payload.RequestedAt)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, service.ErrCollectionTimeout),
		errors.Is(err, service.ErrAssembly),
		errors.Is(err, tracker.ErrRunFailed),
		errors.Is(err, tracker.ErrRunNotFound):
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}
