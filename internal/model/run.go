package model

import "time"

// Run is one end-to-end request to turn collected source material into a document.
// It is created once and never mutated; lifecycle lives in the stage tracker.
type Run struct {
	ID        string    `json:"id"`
	Style     StyleID   `json:"style"`
	Format    Format    `json:"format"`
	SourceRef string    `json:"sourceRef"`
	OwnerID   string    `json:"ownerId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// SourceItem is one collected post. The core only reads it.
type SourceItem struct {
	ID       string         `json:"id"`
	Caption  string         `json:"caption"`
	Location string         `json:"location,omitempty"`
	TakenAt  *time.Time     `json:"takenAt,omitempty"`
	Hashtags []string       `json:"hashtags,omitempty"`
	Media    []string       `json:"media,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

// MediaRef points at one downloaded media file of a run's pool.
type MediaRef struct {
	Key string `json:"key"`
	URL string `json:"url,omitempty"`
}

// NoMedia is returned in place of real media when the pool is empty.
var NoMedia = MediaRef{Key: "none"}

// IsNone reports whether m is the NoMedia sentinel.
func (m MediaRef) IsNone() bool {
	return m.Key == NoMedia.Key && m.URL == ""
}
