package generation

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/recapbook/api/internal/client"
	"github.com/recapbook/api/internal/config"
	"github.com/recapbook/api/internal/model"
	"github.com/recapbook/api/internal/plan"
)

const systemPrompt = `You are a warm, observant storyteller writing one chapter of a personal recap book.
Write flowing prose in the second person. Do not use headings, lists or markup.
Do not mention that you are an AI. Only output the chapter text.`

// ProgressFunc is called from the fan-in goroutine each time a section is
// resolved.
type ProgressFunc func(done, total int, result model.SectionResult)

// Scheduler runs one generation task per section. Each task is bounded by
// the per-task timeout and the whole fan-in by the global deadline; tasks
// still outstanding are abandoned and resolved to fallback.
type Scheduler struct {
	gen            client.TextGenerator
	gate           *Gate
	perTaskTimeout time.Duration
	globalDeadline time.Duration
}

func NewScheduler(gen client.TextGenerator, gate *Gate, cfg config.PipelineConfig) *Scheduler {
	return &Scheduler{
		gen:            gen,
		gate:           gate,
		perTaskTimeout: cfg.PerTaskTimeout,
		globalDeadline: cfg.GlobalDeadline,
	}
}

type outcome struct {
	idx int
	out Output
}

// Generate returns one result per section, in plan order.
func (s *Scheduler) Generate(ctx context.Context, sections []model.SectionSpec, pc plan.PromptContext, progress ProgressFunc) []model.SectionResult {
	results := make([]model.SectionResult, len(sections))
	if len(sections) == 0 {
		return results
	}

	gctx, cancel := withBudget(ctx, s.globalDeadline)
	defer cancel()

	keywords := pc.Keywords()
	// buffered so finished tasks never block once nobody is reading
	done := make(chan outcome, len(sections))
	for i, spec := range sections {
		go func(i int, spec model.SectionSpec) {
			done <- outcome{idx: i, out: s.runTask(gctx, spec, pc)}
		}(i, spec)
	}

	resolved := make([]bool, len(sections))
	count := 0
	settle := func(i int, out Output) {
		results[i] = s.gate.Resolve(sections[i], out, keywords)
		resolved[i] = true
		count++
		if out.Err != nil {
			log.Printf("Section %s fell back: %v", sections[i].ID, out.Err)
		}
		if progress != nil {
			progress(count, len(sections), results[i])
		}
	}

	for count < len(sections) {
		select {
		case o := <-done:
			settle(o.idx, o.out)
		case <-gctx.Done():
			for i := range sections {
				if !resolved[i] {
					settle(i, Output{Err: fmt.Errorf("abandoned at global deadline: %w", gctx.Err())})
				}
			}
		}
	}
	return results
}

// runTask waits for one generation call for at most the per-task timeout.
// The call itself runs in its own goroutine and may outlive runTask; its
// result is then dropped into a buffered channel nobody reads.
func (s *Scheduler) runTask(ctx context.Context, spec model.SectionSpec, pc plan.PromptContext) Output {
	tctx, cancel := withBudget(ctx, s.perTaskTimeout)
	defer cancel()

	user, err := plan.Render(spec.Prompt, pc)
	if err != nil {
		return Output{Err: err}
	}
	prompt := client.Prompt{System: systemPrompt, User: user}

	ch := make(chan Output, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- Output{Err: fmt.Errorf("generator panic: %v", r)}
			}
		}()
		text, err := s.gen.Generate(tctx, prompt)
		ch <- Output{Text: text, Err: err}
	}()

	select {
	case out := <-ch:
		return out
	case <-tctx.Done():
		return Output{Err: tctx.Err()}
	}
}

func withBudget(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
