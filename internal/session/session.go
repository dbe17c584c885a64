// Package session keeps the per-screen state of the admin console: the
// metadata filter set, the user and ticket selections and the last command
// result. A session lives from screen mount to unmount or idle expiry.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"deskline/internal/bulk"
	"deskline/internal/dispatch"
	"deskline/internal/filter"
)

var (
	ErrNotFound = errors.New("session not found")
	// ErrStale is returned when a newer command started while this one ran.
	ErrStale = errors.New("command superseded by a newer one")
)

type Dispatcher interface {
	Dispatch(ctx context.Context, text string) (dispatch.Response, error)
}

type Session struct {
	ID      string
	Owner   string
	Filters *filter.Builder
	Users   *bulk.Controller
	Tickets *bulk.Controller

	mu         sync.Mutex
	generation uint64
	last       *dispatch.Response
	lastSeen   time.Time
}

// RunCommand dispatches text and records the response as the session's last
// command, unless another command was started in the meantime; then the
// response is returned with ErrStale and the newer one wins. A failed
// dispatch changes nothing.
func (s *Session) RunCommand(ctx context.Context, d Dispatcher, text string) (dispatch.Response, error) {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	resp, err := d.Dispatch(ctx, text)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return resp, ErrStale
	}
	if err != nil {
		return resp, err
	}
	s.last = &resp
	return resp, nil
}

// LastCommand returns the most recent applied command response.
func (s *Session) LastCommand() (dispatch.Response, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return dispatch.Response{}, false
	}
	return *s.last, true
}

// Controller returns the selection controller for a scope.
func (s *Session) Controller(scope string) (*bulk.Controller, bool) {
	switch scope {
	case "users":
		return s.Users, true
	case "tickets":
		return s.Tickets, true
	}
	return nil, false
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

type Store struct {
	TTL    time.Duration
	Now    func() time.Time
	Logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewStore(ttl time.Duration) *Store {
	return &Store{TTL: ttl, sessions: make(map[string]*Session)}
}

func (st *Store) logger() *zap.Logger {
	if st.Logger != nil {
		return st.Logger
	}
	return zap.NewNop()
}

func (st *Store) now() time.Time {
	if st.Now != nil {
		return st.Now()
	}
	return time.Now()
}

// Create opens a session owned by owner; confirmed actions go through the
// given mutators.
func (st *Store) Create(owner string, users, tickets bulk.Mutator) *Session {
	s := &Session{
		ID:       uuid.NewString(),
		Owner:    owner,
		Filters:  filter.New(),
		Users:    bulk.New(users),
		Tickets:  bulk.New(tickets),
		lastSeen: st.now(),
	}
	log := st.logger().With(zap.String("session", s.ID), zap.String("owner", owner))
	for scope, c := range map[string]*bulk.Controller{"users": s.Users, "tickets": s.Tickets} {
		c.OnMutated(func(o bulk.Outcome) {
			log.Info("bulk action applied",
				zap.String("scope", scope),
				zap.String("action", string(o.Action)),
				zap.Int("count", len(o.IDs)),
				zap.String("target_team", o.TargetTeam))
		})
	}
	st.mu.Lock()
	if st.sessions == nil {
		st.sessions = make(map[string]*Session)
	}
	st.sessions[s.ID] = s
	st.mu.Unlock()
	return s
}

// Get returns the session if it exists and belongs to owner.
func (st *Store) Get(id, owner string) (*Session, error) {
	st.mu.Lock()
	s, ok := st.sessions[id]
	st.mu.Unlock()
	if !ok || s.Owner != owner {
		return nil, ErrNotFound
	}
	s.touch(st.now())
	return s, nil
}

func (st *Store) Delete(id, owner string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if !ok || s.Owner != owner {
		return ErrNotFound
	}
	delete(st.sessions, id)
	return nil
}

func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// Sweep drops sessions idle for longer than the TTL and reports how many went.
func (st *Store) Sweep() int {
	if st.TTL <= 0 {
		return 0
	}
	cutoff := st.now().Add(-st.TTL)
	st.mu.Lock()
	defer st.mu.Unlock()
	n := 0
	for id, s := range st.sessions {
		if s.idleSince().Before(cutoff) {
			delete(st.sessions, id)
			n++
		}
	}
	return n
}

// Run sweeps periodically until ctx is done.
func (st *Store) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := st.Sweep(); n > 0 {
				st.logger().Debug("expired sessions", zap.Int("count", n), zap.Int("remaining", st.Len()))
			}
		}
	}
}
