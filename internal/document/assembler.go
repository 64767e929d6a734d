// Package document binds resolved sections and selected media into a
// Document and renders documents for delivery.
package document

import (
	"errors"
	"fmt"
	"time"

	"github.com/recapbook/api/internal/model"
	"github.com/recapbook/api/internal/plan"
)

// ErrAssembly wraps every reason a document could not be assembled.
var ErrAssembly = errors.New("document assembly failed")

// Input is everything Assemble needs. Results must be in plan order.
type Input struct {
	Run     *model.Run
	Plan    plan.Plan
	Results []model.SectionResult
	Media   []model.MediaRef
	Context plan.PromptContext
	Now     time.Time
}

// Assemble builds the document for a run. It has no side effects.
func Assemble(in Input) (*model.Document, error) {
	if in.Run == nil {
		return nil, fmt.Errorf("%w: missing run", ErrAssembly)
	}
	if len(in.Results) != len(in.Plan.Sections) {
		return nil, fmt.Errorf("%w: %d results for %d sections", ErrAssembly, len(in.Results), len(in.Plan.Sections))
	}

	title, err := plan.Render(in.Plan.Title, in.Context)
	if err != nil {
		return nil, fmt.Errorf("%w: title: %v", ErrAssembly, err)
	}
	closing, err := plan.Render(in.Plan.Closing, in.Context)
	if err != nil {
		return nil, fmt.Errorf("%w: closing: %v", ErrAssembly, err)
	}

	sections := make([]model.BoundSection, len(in.Results))
	for i, res := range in.Results {
		spec := in.Plan.Sections[i]
		if res.SectionID != spec.ID {
			return nil, fmt.Errorf("%w: result %q out of plan order at %d", ErrAssembly, res.SectionID, i)
		}
		if res.Content == "" {
			return nil, fmt.Errorf("%w: section %q has no content", ErrAssembly, spec.ID)
		}
		sections[i] = model.BoundSection{
			SectionResult: res,
			Media:         bind(spec.MediaSlot, in.Media),
		}
	}

	return &model.Document{
		RunID:     in.Run.ID,
		Format:    in.Run.Format,
		Style:     in.Plan.Style,
		Title:     title,
		Closing:   closing,
		Sections:  sections,
		CreatedAt: in.Now,
	}, nil
}

// bind picks the media for a plan slot, cycling when there are more slots
// than selected media.
func bind(slot *int, selection []model.MediaRef) *model.MediaRef {
	if slot == nil || len(selection) == 0 {
		return nil
	}
	m := selection[*slot%len(selection)]
	if m.IsNone() {
		return nil
	}
	return &m
}

// Placeholder is the degraded document stored when a build cannot assemble
// a real one. Every section carries its fallback text.
func Placeholder(run *model.Run, p plan.Plan, reason string, now time.Time) *model.Document {
	pc := plan.BuildContext(run, nil)

	title, err := plan.Render(p.Title, pc)
	if err != nil || title == "" {
		title = "Your recap"
	}
	closing, err := plan.Render(p.Closing, pc)
	if err != nil {
		closing = ""
	}

	sections := make([]model.BoundSection, len(p.Sections))
	for i, spec := range p.Sections {
		sections[i] = model.BoundSection{SectionResult: model.SectionResult{
			SectionID: spec.ID,
			Title:     spec.Title,
			Content:   spec.Fallback,
			Origin:    model.OriginFallback,
		}}
	}

	doc := &model.Document{
		Title:       title,
		Closing:     closing,
		Style:       p.Style,
		Sections:    sections,
		Placeholder: true,
		Reason:      reason,
		CreatedAt:   now,
	}
	if run != nil {
		doc.RunID = run.ID
		doc.Format = run.Format
	}
	return doc
}
