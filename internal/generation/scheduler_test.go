package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recapbook/api/internal/client"
	"github.com/recapbook/api/internal/config"
	"github.com/recapbook/api/internal/model"
	"github.com/recapbook/api/internal/plan"
)

// funcGenerator adapts a function to client.TextGenerator
type funcGenerator func(ctx context.Context, p client.Prompt) (string, error)

func (f funcGenerator) Generate(ctx context.Context, p client.Prompt) (string, error) {
	return f(ctx, p)
}

func (f funcGenerator) IsConfigured() bool { return true }

func sections(n int) []model.SectionSpec {
	out := make([]model.SectionSpec, n)
	for i := range out {
		out[i] = model.SectionSpec{
			ID:       fmt.Sprintf("s%d", i),
			Title:    fmt.Sprintf("Section %d", i),
			Prompt:   fmt.Sprintf("section %d", i),
			Fallback: fmt.Sprintf("Fallback text for section %d.", i),
		}
	}
	return out
}

func prose(p client.Prompt) string {
	return "For " + p.User + " the days were long and bright, full of walks, meals shared with friends and evenings by the sea."
}

func newScheduler(gen client.TextGenerator, perTask, global time.Duration) *Scheduler {
	return NewScheduler(gen, NewGate(testQuality), config.PipelineConfig{
		PerTaskTimeout: perTask,
		GlobalDeadline: global,
	})
}

func TestScheduler_AllGenerated(t *testing.T) {
	gen := funcGenerator(func(ctx context.Context, p client.Prompt) (string, error) {
		return prose(p), nil
	})
	s := newScheduler(gen, time.Second, 2*time.Second)

	var calls []int
	results := s.Generate(context.Background(), sections(4), plan.PromptContext{}, func(done, total int, r model.SectionResult) {
		assert.Equal(t, 4, total)
		calls = append(calls, done)
	})

	require.Len(t, results, 4)
	for i, r := range results {
		assert.Equal(t, fmt.Sprintf("s%d", i), r.SectionID)
		assert.Equal(t, model.OriginGenerated, r.Origin)
		assert.Contains(t, r.Content, fmt.Sprintf("section %d", i))
	}
	assert.Equal(t, []int{1, 2, 3, 4}, calls)
}

func TestScheduler_PlanOrderNotCompletionOrder(t *testing.T) {
	gen := funcGenerator(func(ctx context.Context, p client.Prompt) (string, error) {
		var i int
		fmt.Sscanf(p.User, "section %d", &i)
		time.Sleep(time.Duration(5-i) * 10 * time.Millisecond)
		return prose(p), nil
	})
	s := newScheduler(gen, time.Second, 2*time.Second)

	results := s.Generate(context.Background(), sections(5), plan.PromptContext{}, nil)
	for i, r := range results {
		assert.Equal(t, fmt.Sprintf("s%d", i), r.SectionID)
	}
}

func TestScheduler_FailuresAreAbsorbed(t *testing.T) {
	gen := funcGenerator(func(ctx context.Context, p client.Prompt) (string, error) {
		switch {
		case strings.HasSuffix(p.User, "0"):
			return "", errors.New("provider down")
		case strings.HasSuffix(p.User, "1"):
			panic("provider exploded")
		case strings.HasSuffix(p.User, "2"):
			return "", nil
		case strings.HasSuffix(p.User, "3"):
			return "meh", nil
		}
		return prose(p), nil
	})
	s := newScheduler(gen, time.Second, 2*time.Second)

	results := s.Generate(context.Background(), sections(5), plan.PromptContext{}, nil)
	require.Len(t, results, 5)
	for i := 0; i < 4; i++ {
		assert.Equal(t, model.OriginFallback, results[i].Origin, "section %d", i)
		assert.Equal(t, fmt.Sprintf("Fallback text for section %d.", i), results[i].Content)
	}
	assert.Equal(t, model.OriginGenerated, results[4].Origin)
}

// Every call hangs and ignores its context: the scheduler must still
// return within the global deadline with one fallback per section.
func TestScheduler_HangingProviderIsBounded(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	gen := funcGenerator(func(ctx context.Context, p client.Prompt) (string, error) {
		<-release
		return prose(p), nil
	})
	perTask, global := 20*time.Millisecond, 120*time.Millisecond
	s := newScheduler(gen, perTask, global)

	start := time.Now()
	results := s.Generate(context.Background(), sections(10), plan.PromptContext{}, nil)
	elapsed := time.Since(start)

	assert.Less(t, elapsed, global+100*time.Millisecond)
	require.Len(t, results, 10)
	for i, r := range results {
		assert.Equal(t, fmt.Sprintf("s%d", i), r.SectionID)
		assert.Equal(t, model.OriginFallback, r.Origin)
	}
}

func TestScheduler_GlobalDeadlineAbandonsOutstanding(t *testing.T) {
	release := make(chan struct{})
	gen := funcGenerator(func(ctx context.Context, p client.Prompt) (string, error) {
		if strings.HasSuffix(p.User, "1") {
			<-release
		}
		return prose(p), nil
	})
	s := newScheduler(gen, 0, 60*time.Millisecond)

	start := time.Now()
	results := s.Generate(context.Background(), sections(3), plan.PromptContext{}, nil)
	assert.Less(t, time.Since(start), time.Second)

	snapshot := append([]model.SectionResult(nil), results...)
	assert.Equal(t, model.OriginGenerated, results[0].Origin)
	assert.Equal(t, model.OriginFallback, results[1].Origin)
	assert.Equal(t, model.OriginGenerated, results[2].Origin)

	// the late result must not leak into what was returned
	close(release)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, snapshot, results)
}

func TestScheduler_ParentCancellation(t *testing.T) {
	gen := funcGenerator(func(ctx context.Context, p client.Prompt) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	s := newScheduler(gen, time.Second, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	results := s.Generate(ctx, sections(3), plan.PromptContext{}, nil)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.Equal(t, model.OriginFallback, r.Origin)
	}
}

func TestScheduler_EmptyPlan(t *testing.T) {
	s := newScheduler(client.MockGenerator{}, time.Second, time.Second)
	assert.Empty(t, s.Generate(context.Background(), nil, plan.PromptContext{}, nil))
}

func TestScheduler_RendersPromptTemplates(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	gen := funcGenerator(func(ctx context.Context, p client.Prompt) (string, error) {
		mu.Lock()
		seen = append(seen, p.User)
		mu.Unlock()
		assert.NotEmpty(t, p.System)
		return prose(p), nil
	})
	s := newScheduler(gen, time.Second, time.Second)

	specs := []model.SectionSpec{{ID: "a", Title: "A", Prompt: `{{ .ItemCount }} posts in {{ join .Locations ", " }}`, Fallback: "f"}}
	s.Generate(context.Background(), specs, plan.PromptContext{ItemCount: 3, Locations: []string{"Rome", "Oslo"}}, nil)

	assert.Equal(t, []string{"3 posts in Rome, Oslo"}, seen)
}
