package model

import "time"

// StatusSnapshot is a derived, cacheable view of a run's progress.
type StatusSnapshot struct {
	RunID           string            `json:"runId"`
	Stage           Stage             `json:"stage"`
	SourceCollected bool              `json:"sourceCollected"`
	MediaReady      bool              `json:"mediaReady"`
	DocumentReady   bool              `json:"documentReady"`
	Failed          bool              `json:"failed"`
	Message         string            `json:"message"`
	Reason          string            `json:"reason,omitempty"`
	MediaCount      int               `json:"mediaCount"`
	Locators        map[string]string `json:"locators,omitempty"`
	ComputedAt      time.Time         `json:"computedAt"`
}

// CreateRunRequest represents the request to register a run
type CreateRunRequest struct {
	RunID     string  `json:"runId" validate:"omitempty,max=128,excludesall=/\\"`
	Style     StyleID `json:"style" validate:"omitempty,max=32"`
	Format    Format  `json:"format" validate:"omitempty,oneof=json markdown html"`
	SourceRef string  `json:"sourceRef" validate:"omitempty,max=128,excludesall=/\\"`
	OwnerID   string  `json:"-"`
}

// StartBuildRequest represents the request to start building a run's document
type StartBuildRequest struct {
	RunID     string  `json:"-" validate:"required,max=128,excludesall=/\\"`
	Style     StyleID `json:"style" validate:"omitempty,max=32"`
	Format    Format  `json:"format" validate:"omitempty,oneof=json markdown html"`
	SourceRef string  `json:"sourceRef" validate:"omitempty,max=128,excludesall=/\\"`
	OwnerID   string  `json:"-"`
}

// BuildAcceptedResponse is returned when a build has been dispatched
type BuildAcceptedResponse struct {
	RunID     string    `json:"runId"`
	Stage     Stage     `json:"stage"`
	Format    Format    `json:"format"`
	Queued    bool      `json:"queued"`
	CreatedAt time.Time `json:"createdAt"`
}
