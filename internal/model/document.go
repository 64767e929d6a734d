package model

import "time"

// SectionSpec is a planned unit of generated content
type SectionSpec struct {
	ID        string `json:"id" yaml:"id" validate:"required"`
	Title     string `json:"title" yaml:"title" validate:"required"`
	Prompt    string `json:"prompt" yaml:"prompt" validate:"required"`
	Fallback  string `json:"fallback" yaml:"fallback" validate:"required"`
	MediaSlot *int   `json:"mediaSlot,omitempty" yaml:"media_slot" validate:"omitempty,min=0"`
}

// SectionResult is the resolved output for one SectionSpec. Content is never empty.
type SectionResult struct {
	SectionID string `json:"sectionId"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	Origin    Origin `json:"origin"`
}

// BoundSection is a SectionResult placed in a document with its media.
type BoundSection struct {
	SectionResult
	Media *MediaRef `json:"media,omitempty"`
}

// Document is the assembled output for one (run, format) pair.
type Document struct {
	RunID       string         `json:"runId"`
	Format      Format         `json:"format"`
	Style       StyleID        `json:"style"`
	Title       string         `json:"title"`
	Closing     string         `json:"closing"`
	Sections    []BoundSection `json:"sections"`
	Placeholder bool           `json:"placeholder,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// FallbackCount returns how many sections fell back to deterministic text.
func (d *Document) FallbackCount() int {
	n := 0
	for _, s := range d.Sections {
		if s.Origin == OriginFallback {
			n++
		}
	}
	return n
}
