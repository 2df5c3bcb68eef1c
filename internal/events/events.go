// Package events carries pipeline domain events from the meeting store to
// whoever schedules the next stage.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nickigann03/ai-secretary/internal/models"
)

type Type string

const (
	AudioStored     Type = "audio.stored"
	TranscriptReady Type = "transcript.ready"
	MinutesReady    Type = "minutes.ready"
	MeetingFailed   Type = "meeting.failed"
)

// Event is emitted after a meeting write commits.
type Event struct {
	ID        string        `json:"id"`
	Type      Type          `json:"type"`
	MeetingID int64         `json:"meeting_id"`
	OwnerID   int64         `json:"owner_id"`
	Token     int64         `json:"token"`
	Status    models.Status `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
}

// New builds an event describing the meeting's state right after a write.
func New(t Type, m *models.Meeting) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		MeetingID: m.ID,
		OwnerID:   m.UserID,
		Token:     m.StageToken,
		Status:    m.Status,
		Timestamp: time.Now().UTC(),
	}
}

type Handler func(ctx context.Context, evt Event)

// Bus delivers events to every subscribed handler.
type Bus interface {
	Publish(ctx context.Context, evt Event) error
	Subscribe(h Handler) (unsubscribe func())
	Close() error
}

// handlers is the subscriber list shared by both bus implementations.
type handlers struct {
	mu   sync.RWMutex
	next int
	subs map[int]Handler
}

func (h *handlers) add(fn Handler) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs == nil {
		h.subs = make(map[int]Handler)
	}
	id := h.next
	h.next++
	h.subs[id] = fn
	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}

func (h *handlers) dispatch(ctx context.Context, evt Event) {
	h.mu.RLock()
	subs := make([]Handler, 0, len(h.subs))
	for _, fn := range h.subs {
		subs = append(subs, fn)
	}
	h.mu.RUnlock()
	for _, fn := range subs {
		fn(ctx, evt)
	}
}

// MemoryBus delivers events synchronously inside the publishing process.
type MemoryBus struct {
	subs handlers
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

func (b *MemoryBus) Publish(ctx context.Context, evt Event) error {
	b.subs.dispatch(ctx, evt)
	return nil
}

func (b *MemoryBus) Subscribe(h Handler) func() {
	return b.subs.add(h)
}

func (b *MemoryBus) Close() error { return nil }
