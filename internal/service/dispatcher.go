package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hibiken/asynq"

	"github.com/recapbook/api/internal/model"
)

// Dispatcher starts a build in the background and returns immediately.
type Dispatcher interface {
	Dispatch(ctx context.Context, payload model.BuildJobPayload) error
}

// Runner executes one build
type Runner interface {
	RunBuild(ctx context.Context, runID string, requestedAt time.Time) error
}

// LocalDispatcher runs builds on goroutines of this process. A build shares
// neither cancellation nor values with the triggering request, whose context
// may be recycled once the handler returns.
type LocalDispatcher struct {
	runner Runner
	wg     sync.WaitGroup
}

func NewLocalDispatcher(runner Runner) *LocalDispatcher {
	return &LocalDispatcher{runner: runner}
}

func (d *LocalDispatcher) Dispatch(ctx context.Context, payload model.BuildJobPayload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	bctx := context.Background()
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.runner.RunBuild(bctx, payload.RunID, payload.RequestedAt); err != nil {
			log.Printf("Build %s ended with error: %v", payload.RunID, err)
		}
	}()
	return nil
}

// Wait blocks until every dispatched build has returned.
func (d *LocalDispatcher) Wait() {
	d.wg.Wait()
}

// AsynqDispatcher queues builds for the worker server.
type AsynqDispatcher struct {
	client *asynq.Client
}

func NewAsynqDispatcher(client *asynq.Client) *AsynqDispatcher {
	return &AsynqDispatcher{client: client}
}

func NewBuildTask(payload model.BuildJobPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return asynq.NewTask(model.TaskTypeBuild, data), nil
}

func (d *AsynqDispatcher) Dispatch(ctx context.Context, payload model.BuildJobPayload) error {
	task, err := NewBuildTask(payload)
	if err != nil {
		return err
	}
	_, err = d.client.EnqueueContext(ctx, task,
		asynq.Queue("build"),
		asynq.MaxRetry(3),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}
