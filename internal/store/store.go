// Package store persists the per-run artifacts the orchestrator reads and
// writes: the collected source blob, the media pool, style and format
// markers, and document artifacts.
//
// Every write is atomic-then-visible: readers never observe a partially
// written artifact.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/recapbook/api/internal/model"
)

var (
	// ErrNotFound is returned when an artifact does not exist.
	ErrNotFound  = errors.New("artifact not found")
	ErrInvalidID = errors.New("invalid artifact id")
)

// DocKind distinguishes a real document from the degraded placeholder
// written when assembly fails.
type DocKind string

const (
	DocFinal       DocKind = "final"
	DocPlaceholder DocKind = "placeholder"
)

// Marker names
const (
	MarkerStyle  = "style"
	MarkerFormat = "format"
)

// ArtifactStore is the durable per-run layout. Source and media are keyed by
// source ref; markers and documents by run id.
type ArtifactStore interface {
	PutSource(ctx context.Context, ref string, items []model.SourceItem) error
	SourceExists(ctx context.Context, ref string) (bool, error)
	LoadSource(ctx context.Context, ref string) ([]model.SourceItem, error)

	AddMedia(ctx context.Context, ref, name string, body io.Reader) error
	ListMedia(ctx context.Context, ref string) ([]model.MediaRef, error)

	PutMarker(ctx context.Context, runID, name, value string) error
	GetMarker(ctx context.Context, runID, name string) (string, error)

	PutDocument(ctx context.Context, runID string, format model.Format, kind DocKind, data []byte) error
	GetDocument(ctx context.Context, runID string, format model.Format, kind DocKind) ([]byte, error)
	DocumentExists(ctx context.Context, runID string, format model.Format, kind DocKind) (bool, error)
	Locator(runID string, format model.Format, kind DocKind) string
}

// CheckID rejects ids that could escape the per-run namespace.
func CheckID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, 0) {
		return fmt.Errorf("%w %q", ErrInvalidID, id)
	}
	return nil
}

func documentName(format model.Format, kind DocKind) string {
	if kind == DocPlaceholder {
		return string(format) + ".placeholder.json"
	}
	return string(format) + ".json"
}

// partial reports whether a media file name belongs to an in-flight write.
func partial(name string) bool {
	return strings.HasPrefix(name, ".") ||
		strings.HasSuffix(name, ".tmp") ||
		strings.HasSuffix(name, ".part")
}
