package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"deskline/internal/config"
	"deskline/internal/domain"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// Webhooks posts change events to the configured URLs. Each hook keeps its
// own cursor and stops at the first failed delivery, retrying it on the next
// round.
type Webhooks struct {
	Source   Source
	Hooks    []config.Webhook
	Interval time.Duration
	Client   *http.Client
	Logger   *zap.Logger

	mu      sync.Mutex
	cursors map[string]int64
}

func NewWebhooks(src Source, hooks []config.Webhook, logger *zap.Logger) *Webhooks {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Webhooks{
		Source:  src,
		Hooks:   hooks,
		Client:  &http.Client{Timeout: defaultWebhookTimeout},
		Logger:  logger,
		cursors: make(map[string]int64),
	}
}

func (w *Webhooks) Run(ctx context.Context) {
	if len(w.Hooks) == 0 {
		return
	}
	interval := w.Interval
	if interval <= 0 {
		interval = defaultWebhookInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		w.DeliverAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DeliverAll runs one delivery round over every enabled hook.
func (w *Webhooks) DeliverAll(ctx context.Context) {
	for _, hook := range w.Hooks {
		if !hook.IsEnabled() || strings.TrimSpace(hook.URL) == "" {
			continue
		}
		w.deliver(ctx, hook)
	}
}

func (w *Webhooks) deliver(ctx context.Context, hook config.Webhook) {
	cursor, ok := w.cursorFor(ctx, hook.ID)
	if !ok {
		return
	}
	events, err := w.Source.ChangesAfter(ctx, cursor, defaultWebhookBatch)
	if err != nil {
		w.Logger.Warn("webhook: fetch changes failed", zap.String("hook", hook.ID), zap.Error(err))
		return
	}
	tables := newTableFilter(hook.Tables)
	for _, evt := range events {
		if tables.match(evt.Table) {
			if err := w.post(ctx, hook, evt); err != nil {
				w.Logger.Warn("webhook: delivery failed", zap.String("hook", hook.ID), zap.String("url", hook.URL), zap.Error(err))
				return
			}
		}
		w.setCursor(hook.ID, evt.ID)
	}
}

func (w *Webhooks) cursorFor(ctx context.Context, id string) (int64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cursors == nil {
		w.cursors = make(map[string]int64)
	}
	if cur, ok := w.cursors[id]; ok {
		return cur, true
	}
	cur, err := w.Source.LatestChangeID(ctx)
	if err != nil {
		w.Logger.Warn("webhook: init cursor failed", zap.String("hook", id), zap.Error(err))
		return 0, false
	}
	w.cursors[id] = cur
	return cur, true
}

func (w *Webhooks) setCursor(id string, value int64) {
	w.mu.Lock()
	w.cursors[id] = value
	w.mu.Unlock()
}

type webhookEvent struct {
	ID      int64           `json:"id"`
	TS      string          `json:"ts"`
	Table   string          `json:"table"`
	Op      string          `json:"op"`
	RowID   string          `json:"row_id"`
	ActorID string          `json:"actor_id,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

func (w *Webhooks) post(ctx context.Context, hook config.Webhook, evt domain.ChangeEvent) error {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	data, err := json.Marshal(webhookEvent{
		ID: evt.ID, TS: evt.TS, Table: evt.Table, Op: evt.Op, RowID: evt.RowID, ActorID: evt.ActorID, Payload: payload,
	})
	if err != nil {
		return err
	}
	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	if hook.TimeoutSeconds > 0 {
		if timeout := time.Duration(hook.TimeoutSeconds) * time.Second; timeout != client.Timeout {
			client = &http.Client{Timeout: timeout, Transport: client.Transport}
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Deskline-Event", evt.Table+"."+evt.Op)
	req.Header.Set("X-Deskline-Delivery", fmt.Sprintf("%d", evt.ID))
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Deskline-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type tableFilter struct {
	all bool
	set map[string]struct{}
}

func newTableFilter(tables []string) tableFilter {
	set := make(map[string]struct{}, len(tables))
	for _, t := range tables {
		if key := strings.TrimSpace(t); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return tableFilter{all: true}
	}
	return tableFilter{set: set}
}

func (f tableFilter) match(table string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[table]
	return ok
}
