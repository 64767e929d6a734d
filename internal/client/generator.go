package client

import "context"

// Prompt is a single system+user exchange sent to a text model.
type Prompt struct {
	System string
	User   string
}

// TextGenerator produces prose for a prompt.
//
// Callers may stop waiting on a call at any time. Implementations must not
// write shared state from the call so an abandoned result can simply be dropped.
type TextGenerator interface {
	Generate(ctx context.Context, prompt Prompt) (string, error)
	IsConfigured() bool
}
