package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/recapbook/api/internal/model"
)

// EventType names an entry of a run's event log
type EventType string

const (
	EventCreated         EventType = "created"
	EventSourceCollected EventType = "source_collected"
	EventMediaReady      EventType = "media_ready"
	EventDocumentReady   EventType = "document_ready"
	EventFailed          EventType = "failed"
	EventReset           EventType = "reset"
)

var stageEvents = map[model.Stage]EventType{
	model.StageSourceCollected: EventSourceCollected,
	model.StageMediaReady:      EventMediaReady,
	model.StageDocumentReady:   EventDocumentReady,
	model.StageFailed:          EventFailed,
}

var eventStages = map[EventType]model.Stage{
	EventSourceCollected: model.StageSourceCollected,
	EventMediaReady:      model.StageMediaReady,
	EventDocumentReady:   model.StageDocumentReady,
}

// Event is one append-only log entry
type Event struct {
	Type   EventType  `json:"type"`
	Run    *model.Run `json:"run,omitempty"`
	Reason string     `json:"reason,omitempty"`
	At     time.Time  `json:"at"`
}

// EventLog stores per-run events in append order.
type EventLog interface {
	Append(ctx context.Context, runID string, ev Event) error
	Events(ctx context.Context, runID string) ([]Event, error)
}

// MemoryLog is an in-process EventLog
type MemoryLog struct {
	mu   sync.RWMutex
	runs map[string][]Event
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{runs: make(map[string][]Event)}
}

func (l *MemoryLog) Append(ctx context.Context, runID string, ev Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runs[runID] = append(l.runs[runID], ev)
	return nil
}

func (l *MemoryLog) Events(ctx context.Context, runID string) ([]Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	events := l.runs[runID]
	out := make([]Event, len(events))
	copy(out, events)
	return out, nil
}

// RedisLog keeps each run's events in a Redis list (run:<id>:events).
type RedisLog struct {
	redis *redis.Client
}

func NewRedisLog(redisClient *redis.Client) *RedisLog {
	return &RedisLog{redis: redisClient}
}

func eventsKey(runID string) string {
	return fmt.Sprintf("run:%s:events", runID)
}

func (l *RedisLog) Append(ctx context.Context, runID string, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := l.redis.RPush(ctx, eventsKey(runID), data).Err(); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

func (l *RedisLog) Events(ctx context.Context, runID string) ([]Event, error) {
	raw, err := l.redis.LRange(ctx, eventsKey(runID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	events := make([]Event, 0, len(raw))
	for _, r := range raw {
		var ev Event
		if err := json.Unmarshal([]byte(r), &ev); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}
