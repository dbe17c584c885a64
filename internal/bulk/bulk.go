// Package bulk drives confirmation-gated bulk mutations over a selection of
// entity ids. One Controller backs one screen.
package bulk

import (
	"context"
	"errors"
	"strings"
	"sync"
)

type Action string

const (
	ActionNone     Action = ""
	ActionDelete   Action = "delete"
	ActionReassign Action = "reassign"
)

var (
	ErrNoPendingAction    = errors.New("no pending action to confirm")
	ErrMutationInFlight   = errors.New("mutation already in flight")
	ErrEmptySelection     = errors.New("selection is empty")
	ErrTargetTeamRequired = errors.New("target team required")
	ErrPendingChanged     = errors.New("pending action changed before confirm")
)

// Mutator performs the backend side of a confirmed action.
type Mutator interface {
	Delete(ctx context.Context, ids []string) error
	Reassign(ctx context.Context, ids []string, targetTeamID string) error
}

// Describer is implemented by mutators that can tell what a delete takes
// with it.
type Describer interface {
	DescribeDelete(ctx context.Context, ids []string) (Consequences, error)
}

type Consequences struct {
	Entity   string         `json:"entity"`
	Count    int            `json:"count"`
	Cascades map[string]int `json:"cascades,omitempty"`
}

// Outcome is passed to observers after a successful mutation.
type Outcome struct {
	Action     Action   `json:"action"`
	IDs        []string `json:"ids"`
	TargetTeam string   `json:"target_team,omitempty"`
}

type State struct {
	Selected    []string `json:"selected"`
	Pending     Action   `json:"pending" enum:",delete,reassign"`
	TargetTeam  string   `json:"target_team,omitempty"`
	Deleting    bool     `json:"deleting"`
	Reassigning bool     `json:"reassigning"`
}

type Controller struct {
	mu          sync.Mutex
	mutator     Mutator
	order       []string
	selected    map[string]struct{}
	pending     Action
	targetTeam  string
	deleting    bool
	reassigning bool
	observers   []func(Outcome)
	// gen is bumped by every selection or pending-action change.
	gen uint64
}

func New(m Mutator) *Controller {
	return &Controller{mutator: m, selected: make(map[string]struct{})}
}

// OnMutated registers fn to run after every successful confirm.
func (c *Controller) OnMutated(fn func(Outcome)) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

// SelectAll replaces the selection with ids.
func (c *Controller) SelectAll(ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.order = nil
	c.selected = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		c.add(id)
	}
}

func (c *Controller) SelectOne(id string, included bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	if included {
		c.add(id)
		return
	}
	if _, ok := c.selected[id]; !ok {
		return
	}
	delete(c.selected, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *Controller) add(id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		return
	}
	if _, ok := c.selected[id]; ok {
		return
	}
	c.selected[id] = struct{}{}
	c.order = append(c.order, id)
}

func (c *Controller) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.order = nil
	c.selected = make(map[string]struct{})
}

func (c *Controller) Selected() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.order...)
}

func (c *Controller) RequestDelete() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.order) == 0 {
		return ErrEmptySelection
	}
	c.gen++
	c.pending = ActionDelete
	c.targetTeam = ""
	return nil
}

func (c *Controller) RequestReassign(targetTeamID string) error {
	targetTeamID = strings.TrimSpace(targetTeamID)
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.order) == 0 {
		return ErrEmptySelection
	}
	if targetTeamID == "" {
		return ErrTargetTeamRequired
	}
	c.gen++
	c.pending = ActionReassign
	c.targetTeam = targetTeamID
	return nil
}

// Confirm runs the pending action once over the current selection. On
// failure the selection and pending action are kept so the caller can retry,
// and the mutator's error is returned unchanged. On success the selection and
// pending action are cleared unless they were changed while the mutation ran.
func (c *Controller) Confirm(ctx context.Context) (Outcome, error) {
	return c.confirm(ctx, ActionNone)
}

// ConfirmAction is Confirm for a caller that has already authorized expect:
// it fails with ErrPendingChanged, without mutating, when the pending action
// is no longer expect.
func (c *Controller) ConfirmAction(ctx context.Context, expect Action) (Outcome, error) {
	if expect == ActionNone {
		return Outcome{}, ErrNoPendingAction
	}
	return c.confirm(ctx, expect)
}

func (c *Controller) confirm(ctx context.Context, expect Action) (Outcome, error) {
	c.mu.Lock()
	action := c.pending
	if action == ActionNone {
		c.mu.Unlock()
		return Outcome{}, ErrNoPendingAction
	}
	if expect != ActionNone && action != expect {
		c.mu.Unlock()
		return Outcome{}, ErrPendingChanged
	}
	flag := c.flag(action)
	if *flag {
		c.mu.Unlock()
		return Outcome{}, ErrMutationInFlight
	}
	*flag = true
	out := Outcome{Action: action, IDs: append([]string(nil), c.order...), TargetTeam: c.targetTeam}
	gen := c.gen
	c.mu.Unlock()

	var err error
	switch action {
	case ActionDelete:
		err = c.mutator.Delete(ctx, out.IDs)
	case ActionReassign:
		err = c.mutator.Reassign(ctx, out.IDs, out.TargetTeam)
	}

	c.mu.Lock()
	*flag = false
	if err != nil {
		c.mu.Unlock()
		return Outcome{}, err
	}
	if c.gen == gen {
		c.gen++
		c.pending = ActionNone
		c.targetTeam = ""
		c.order = nil
		c.selected = make(map[string]struct{})
	}
	observers := append([]func(Outcome){}, c.observers...)
	c.mu.Unlock()

	for _, fn := range observers {
		fn(out)
	}
	return out, nil
}

func (c *Controller) flag(a Action) *bool {
	if a == ActionDelete {
		return &c.deleting
	}
	return &c.reassigning
}

// Cancel drops the pending action and the selection without mutating.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.pending = ActionNone
	c.targetTeam = ""
	c.order = nil
	c.selected = make(map[string]struct{})
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Selected:    append([]string{}, c.order...),
		Pending:     c.pending,
		TargetTeam:  c.targetTeam,
		Deleting:    c.deleting,
		Reassigning: c.reassigning,
	}
}

// Consequences describes the pending delete so it can be shown before
// confirmation.
func (c *Controller) Consequences(ctx context.Context) (Consequences, error) {
	c.mu.Lock()
	pending := c.pending
	ids := append([]string(nil), c.order...)
	c.mu.Unlock()
	if pending != ActionDelete {
		return Consequences{}, ErrNoPendingAction
	}
	if d, ok := c.mutator.(Describer); ok {
		return d.DescribeDelete(ctx, ids)
	}
	return Consequences{Count: len(ids)}, nil
}
