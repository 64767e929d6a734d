package model

import "fmt"

// Stage is the coarse lifecycle position of a run.
// The success path is ordered; StageFailed sits outside it.
type Stage int

const (
	StageCreated Stage = iota
	StageSourceCollected
	StageMediaReady
	StageDocumentReady
	StageFailed
)

var stageNames = map[Stage]string{
	StageCreated:         "created",
	StageSourceCollected: "source_collected",
	StageMediaReady:      "media_ready",
	StageDocumentReady:   "document_ready",
	StageFailed:          "failed",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// Terminal reports whether no further transition is expected.
func (s Stage) Terminal() bool {
	return s == StageDocumentReady || s == StageFailed
}

// Reached reports whether s satisfies a wait for target.
// A failed run never reaches a success stage.
func (s Stage) Reached(target Stage) bool {
	if s == StageFailed || target == StageFailed {
		return s == target
	}
	return s >= target
}

func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Stage) UnmarshalText(b []byte) error {
	for stage, name := range stageNames {
		if name == string(b) {
			*s = stage
			return nil
		}
	}
	return fmt.Errorf("unknown stage %q", string(b))
}

// StyleID selects a section plan
type StyleID string

const (
	StyleClassic StyleID = "classic"
	StyleTravel  StyleID = "travel"
	StyleMinimal StyleID = "minimal"
)

var ValidStyles = []StyleID{StyleClassic, StyleTravel, StyleMinimal}

// Format selects the output encoding of a document
type Format string

const (
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

var ValidFormats = []Format{FormatJSON, FormatMarkdown, FormatHTML}

// Valid reports whether f is a known format.
func (f Format) Valid() bool {
	for _, v := range ValidFormats {
		if f == v {
			return true
		}
	}
	return false
}

// Origin tells where the content of a section came from
type Origin string

const (
	OriginGenerated Origin = "generated"
	OriginFallback  Origin = "fallback"
)
