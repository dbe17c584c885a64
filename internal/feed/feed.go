// Package feed fans the change log out to live subscribers and webhooks.
// Changes are read from the changes table by cursor, so a restart resumes
// where the log is and no mutation path needs to know about subscribers.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"deskline/internal/domain"
)

const (
	defaultInterval = 500 * time.Millisecond
	defaultBatch    = 200
	defaultBuffer   = 64
)

// Source is the change log.
type Source interface {
	ChangesAfter(ctx context.Context, cursor int64, limit int) ([]domain.ChangeEvent, error)
	LatestChangeID(ctx context.Context) (int64, error)
}

// Match selects change events by table and, optionally, one payload field.
// Field "row_id" compares against the changed row's id.
type Match struct {
	Table string
	Field string
	Value string
}

func (m Match) Matches(evt domain.ChangeEvent) bool {
	if m.Table != "" && m.Table != evt.Table {
		return false
	}
	if m.Field == "" {
		return true
	}
	if m.Field == "row_id" {
		return evt.RowID == m.Value
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(evt.Payload), &payload); err != nil {
		return false
	}
	v, ok := payload[m.Field]
	if !ok || v == nil {
		return false
	}
	return fmt.Sprint(v) == m.Value
}

type subscriber struct {
	match   Match
	ch      chan domain.ChangeEvent
	dropped int
}

type Hub struct {
	Source   Source
	Interval time.Duration
	Buffer   int
	Logger   *zap.Logger

	mu     sync.Mutex
	nextID int
	subs   map[int]*subscriber
	closed bool
}

func NewHub(src Source, interval time.Duration, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{Source: src, Interval: interval, Logger: logger, subs: make(map[int]*subscriber)}
}

// Subscribe registers a subscriber. The channel is closed by the returned
// cancel func or when the hub stops. A subscriber that falls behind loses
// events instead of stalling the hub.
func (h *Hub) Subscribe(m Match) (<-chan domain.ChangeEvent, func()) {
	buf := h.Buffer
	if buf <= 0 {
		buf = defaultBuffer
	}
	ch := make(chan domain.ChangeEvent, buf)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	if h.subs == nil {
		h.subs = make(map[int]*subscriber)
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = &subscriber{match: m, ch: ch}
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if s, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(s.ch)
			}
		})
	}
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Publish delivers one event to every matching subscriber.
func (h *Hub) Publish(evt domain.ChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.subs {
		if !s.match.Matches(evt) {
			continue
		}
		select {
		case s.ch <- evt:
		default:
			s.dropped++
			if s.dropped == 1 || s.dropped%100 == 0 {
				h.Logger.Warn("feed subscriber lagging", zap.Int("dropped", s.dropped), zap.String("table", s.match.Table))
			}
		}
	}
}

// Run polls the change log from its current end until ctx is done, then
// closes every subscription.
func (h *Hub) Run(ctx context.Context) error {
	defer h.shutdown()
	cursor, err := h.Source.LatestChangeID(ctx)
	if err != nil {
		return fmt.Errorf("feed cursor: %w", err)
	}
	interval := h.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		cursor = h.poll(ctx, cursor)
	}
}

func (h *Hub) poll(ctx context.Context, cursor int64) int64 {
	for {
		batch, err := h.Source.ChangesAfter(ctx, cursor, defaultBatch)
		if err != nil {
			if ctx.Err() == nil {
				h.Logger.Warn("feed poll failed", zap.Error(err))
			}
			return cursor
		}
		for _, evt := range batch {
			h.Publish(evt)
			cursor = evt.ID
		}
		if len(batch) < defaultBatch {
			return cursor
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, s := range h.subs {
		close(s.ch)
		delete(h.subs, id)
	}
}
