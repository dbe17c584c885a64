package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"deskline/internal/config"
	"deskline/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type memSource struct {
	mu     sync.Mutex
	events []domain.ChangeEvent
}

func (s *memSource) add(table, op, rowID, payload string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, domain.ChangeEvent{
		ID: int64(len(s.events) + 1), Table: table, Op: op, RowID: rowID, Payload: payload,
	})
}

func (s *memSource) ChangesAfter(_ context.Context, cursor int64, limit int) ([]domain.ChangeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ChangeEvent
	for _, e := range s.events {
		if e.ID > cursor && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memSource) LatestChangeID(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.events)), nil
}

func TestMatch(t *testing.T) {
	evt := domain.ChangeEvent{Table: "ticket_messages", RowID: "m1", Payload: `{"ticket_id":"t1","n":3}`}
	assert.True(t, Match{}.Matches(evt))
	assert.True(t, Match{Table: "ticket_messages", Field: "ticket_id", Value: "t1"}.Matches(evt))
	assert.False(t, Match{Table: "ticket_messages", Field: "ticket_id", Value: "t2"}.Matches(evt))
	assert.False(t, Match{Table: "tickets"}.Matches(evt))
	assert.True(t, Match{Field: "row_id", Value: "m1"}.Matches(evt))
	assert.True(t, Match{Field: "n", Value: "3"}.Matches(evt))
	assert.False(t, Match{Field: "missing", Value: ""}.Matches(evt))
}

func TestHubDeliversOnlyToMatchingSubscribers(t *testing.T) {
	src := &memSource{}
	src.add("tickets", "insert", "old", `{}`)
	hub := NewHub(src, 5*time.Millisecond, nil)
	mine, cancelMine := hub.Subscribe(Match{Table: "ticket_messages", Field: "ticket_id", Value: "t1"})
	defer cancelMine()
	other, cancelOther := hub.Subscribe(Match{Table: "ticket_messages", Field: "ticket_id", Value: "t2"})
	defer cancelOther()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()

	src.add("ticket_messages", "insert", "m1", `{"ticket_id":"t1"}`)
	select {
	case evt := <-mine:
		assert.Equal(t, "m1", evt.RowID)
	case <-time.After(2 * time.Second):
		t.Fatal("matching subscriber got nothing")
	}
	select {
	case evt, ok := <-other:
		if ok {
			t.Fatalf("non-matching subscriber got %+v", evt)
		}
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	require.NoError(t, <-done)
	_, open := <-mine
	assert.False(t, open)
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	hub := NewHub(&memSource{}, time.Second, nil)
	hub.Buffer = 1
	ch, cancel := hub.Subscribe(Match{})
	defer cancel()
	hub.Publish(domain.ChangeEvent{ID: 1})
	hub.Publish(domain.ChangeEvent{ID: 2})
	evt := <-ch
	assert.Equal(t, int64(1), evt.ID)
	select {
	case <-ch:
		t.Fatal("second event should have been dropped")
	default:
	}
}

func TestCancelRemovesSubscriber(t *testing.T) {
	hub := NewHub(&memSource{}, time.Second, nil)
	_, cancel := hub.Subscribe(Match{})
	assert.Equal(t, 1, hub.Subscribers())
	cancel()
	cancel()
	assert.Equal(t, 0, hub.Subscribers())
}

func TestWebhooksDeliverFilteredTables(t *testing.T) {
	var (
		mu  sync.Mutex
		got []webhookEvent
		hdr http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		_ = json.NewDecoder(r.Body).Decode(&evt)
		mu.Lock()
		got = append(got, evt)
		hdr = r.Header.Clone()
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	src := &memSource{}
	src.add("users", "insert", "before-start", `{}`)
	wh := NewWebhooks(src, []config.Webhook{{ID: "audit", URL: srv.URL, Tables: []string{"users"}, Secret: "s3"}}, nil)
	ctx := context.Background()
	wh.DeliverAll(ctx)

	src.add("users", "delete", "u1", `{"tickets":2}`)
	src.add("tickets", "insert", "t1", `{}`)
	wh.DeliverAll(ctx)
	wh.DeliverAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "u1", got[0].RowID)
	assert.JSONEq(t, `{"tickets":2}`, string(got[0].Payload))
	assert.Equal(t, "users.delete", hdr.Get("X-Deskline-Event"))
	assert.Equal(t, "s3", hdr.Get("X-Deskline-Secret"))
}

func TestWebhooksRetryAfterFailure(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	src := &memSource{}
	wh := NewWebhooks(src, []config.Webhook{{ID: "h", URL: srv.URL}}, nil)
	ctx := context.Background()
	wh.DeliverAll(ctx)
	src.add("teams", "insert", "x", `{}`)
	wh.DeliverAll(ctx)
	wh.DeliverAll(ctx)
	wh.DeliverAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, calls)
}
