package model

import "time"

// Task types
const (
	TaskTypeBuild = "build:process"
)

// BuildJobPayload is the payload of a queued build task
type BuildJobPayload struct {
	RunID       string    `json:"runId"`
	RequestedAt time.Time `json:"requestedAt"`
}
