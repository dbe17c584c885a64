// Package filter holds the metadata filter set of one screen and turns it into
// clauses the ticket query understands.
package filter

import (
	"fmt"
	"sync"

	"deskline/internal/domain"
)

// Op is the comparison a clause performs.
type Op string

const (
	OpEq     Op = "eq"
	OpDateEq Op = "date-eq"
)

// OperatorFor picks the comparison for a value kind. There are no range
// operators.
func OperatorFor(kind domain.ValueKind) Op {
	switch kind {
	case domain.KindDate, domain.KindTimestamp:
		return OpDateEq
	default:
		return OpEq
	}
}

type Predicate struct {
	Field domain.FieldDefinition `json:"field"`
	Value domain.Value           `json:"value"`
}

type Clause struct {
	FieldID string           `json:"field_id"`
	Kind    domain.ValueKind `json:"value_kind"`
	Op      Op               `json:"op"`
	Value   domain.Value     `json:"value"`
}

// Builder is the active predicate set, unique by field id and kept in
// insertion order. Disabling it hides the predicates from ToQuery without
// forgetting them.
type Builder struct {
	mu       sync.Mutex
	order    []string
	preds    map[string]Predicate
	disabled bool
}

func New() *Builder {
	return &Builder{preds: make(map[string]Predicate)}
}

// SetPredicate upserts the predicate for field. A nil raw value adds nothing.
func (b *Builder) SetPredicate(field domain.FieldDefinition, raw any) error {
	if raw == nil {
		return nil
	}
	if field.ID == "" {
		return fmt.Errorf("field id required")
	}
	value, err := domain.ParseValue(field.ValueKind, raw)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.preds[field.ID]; !exists {
		b.order = append(b.order, field.ID)
	}
	b.preds[field.ID] = Predicate{Field: field, Value: value}
	return nil
}

func (b *Builder) RemovePredicate(fieldID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.preds[fieldID]; !ok {
		return
	}
	delete(b.preds, fieldID)
	for i, id := range b.order {
		if id == fieldID {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

func (b *Builder) ClearAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.order = nil
	b.preds = make(map[string]Predicate)
}

func (b *Builder) SetEnabled(enabled bool) {
	b.mu.Lock()
	b.disabled = !enabled
	b.mu.Unlock()
}

func (b *Builder) Enabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.disabled
}

// Predicates returns every stored predicate, enabled or not.
func (b *Builder) Predicates() []Predicate {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Predicate, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.preds[id])
	}
	return out
}

// ToQuery returns the clauses to apply, or none while the set is disabled.
func (b *Builder) ToQuery() []Clause {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disabled {
		return nil
	}
	out := make([]Clause, 0, len(b.order))
	for _, id := range b.order {
		p := b.preds[id]
		out = append(out, Clause{
			FieldID: id,
			Kind:    p.Field.ValueKind,
			Op:      OperatorFor(p.Field.ValueKind),
			Value:   p.Value,
		})
	}
	return out
}

// Forget drops predicates whose field no longer exists in the catalog.
func (b *Builder) Forget(exists func(fieldID string) bool) {
	b.mu.Lock()
	var stale []string
	for _, id := range b.order {
		if !exists(id) {
			stale = append(stale, id)
		}
	}
	b.mu.Unlock()
	for _, id := range stale {
		b.RemovePredicate(id)
	}
}
