package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ValueKind is the closed set of metadata value types. Adding a kind means
// touching ParseValue, Value.Validate, the repo slot mapping and the filter
// operator table together.
type ValueKind string

const (
	KindText      ValueKind = "text"
	KindInteger   ValueKind = "integer"
	KindFloat     ValueKind = "float"
	KindBoolean   ValueKind = "boolean"
	KindDate      ValueKind = "date"
	KindTimestamp ValueKind = "timestamp"
	KindUserRef   ValueKind = "user-reference"
	KindTicketRef ValueKind = "ticket-reference"
)

var ValueKinds = []ValueKind{
	KindText, KindInteger, KindFloat, KindBoolean,
	KindDate, KindTimestamp, KindUserRef, KindTicketRef,
}

func (k ValueKind) Valid() bool {
	for _, v := range ValueKinds {
		if v == k {
			return true
		}
	}
	return false
}

type FieldDefinition struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ValueKind   ValueKind `json:"value_kind" enum:"text,integer,float,boolean,date,timestamp,user-reference,ticket-reference"`
	Description string    `json:"description,omitempty"`
	CreatedAt   string    `json:"created_at" format:"date-time"`
}

// Value is a metadata payload. Exactly one slot is set and Kind says which.
type Value struct {
	Kind     ValueKind
	Text     *string
	Int      *int64
	Float    *float64
	Bool     *bool
	Date     *string
	Time     *string
	UserID   *string
	TicketID *string
}

const dateLayout = "2006-01-02"

// ParseValue converts a loosely typed input (string, JSON number, bool) into a
// Value of the given kind.
func ParseValue(kind ValueKind, raw any) (Value, error) {
	if !kind.Valid() {
		return Value{}, fmt.Errorf("invalid value kind %q", kind)
	}
	if raw == nil {
		return Value{}, fmt.Errorf("value required for %s field", kind)
	}
	v := Value{Kind: kind}
	switch kind {
	case KindText:
		s, err := asString(raw)
		if err != nil {
			return Value{}, err
		}
		v.Text = &s
	case KindInteger:
		n, err := asInt(raw)
		if err != nil {
			return Value{}, err
		}
		v.Int = &n
	case KindFloat:
		f, err := asFloat(raw)
		if err != nil {
			return Value{}, err
		}
		v.Float = &f
	case KindBoolean:
		b, err := asBool(raw)
		if err != nil {
			return Value{}, err
		}
		v.Bool = &b
	case KindDate:
		s, err := asString(raw)
		if err != nil {
			return Value{}, err
		}
		d, err := normalizeDate(s)
		if err != nil {
			return Value{}, err
		}
		v.Date = &d
	case KindTimestamp:
		s, err := asString(raw)
		if err != nil {
			return Value{}, err
		}
		ts, err := time.Parse(time.RFC3339, strings.TrimSpace(s))
		if err != nil {
			return Value{}, fmt.Errorf("invalid timestamp %q: must be RFC3339", s)
		}
		out := ts.UTC().Format(time.RFC3339)
		v.Time = &out
	case KindUserRef:
		s, err := asRef(raw)
		if err != nil {
			return Value{}, err
		}
		v.UserID = &s
	case KindTicketRef:
		s, err := asRef(raw)
		if err != nil {
			return Value{}, err
		}
		v.TicketID = &s
	}
	return v, nil
}

// Validate checks the discriminant against the populated slot.
func (v Value) Validate() error {
	if !v.Kind.Valid() {
		return fmt.Errorf("invalid value kind %q", v.Kind)
	}
	slots := map[ValueKind]bool{
		KindText:      v.Text != nil,
		KindInteger:   v.Int != nil,
		KindFloat:     v.Float != nil,
		KindBoolean:   v.Bool != nil,
		KindDate:      v.Date != nil,
		KindTimestamp: v.Time != nil,
		KindUserRef:   v.UserID != nil,
		KindTicketRef: v.TicketID != nil,
	}
	set := 0
	for _, ok := range slots {
		if ok {
			set++
		}
	}
	if set != 1 || !slots[v.Kind] {
		return fmt.Errorf("invalid %s value: exactly the %s slot must be set", v.Kind, v.Kind)
	}
	return nil
}

// Any returns the payload of the populated slot.
func (v Value) Any() any {
	switch v.Kind {
	case KindText:
		return deref(v.Text)
	case KindInteger:
		if v.Int != nil {
			return *v.Int
		}
	case KindFloat:
		if v.Float != nil {
			return *v.Float
		}
	case KindBoolean:
		if v.Bool != nil {
			return *v.Bool
		}
	case KindDate:
		return deref(v.Date)
	case KindTimestamp:
		return deref(v.Time)
	case KindUserRef:
		return deref(v.UserID)
	case KindTicketRef:
		return deref(v.TicketID)
	}
	return nil
}

func (v Value) String() string {
	switch p := v.Any().(type) {
	case nil:
		return ""
	case string:
		return p
	case float64:
		return strconv.FormatFloat(p, 'f', -1, 64)
	default:
		return fmt.Sprint(p)
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind  ValueKind `json:"kind"`
		Value any       `json:"value"`
	}{v.Kind, v.Any()})
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var wire struct {
		Kind  ValueKind `json:"kind"`
		Value any       `json:"value"`
	}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&wire); err != nil {
		return err
	}
	parsed, err := ParseValue(wire.Kind, wire.Value)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

type MetadataValue struct {
	TicketID  string    `json:"ticket_id"`
	FieldID   string    `json:"field_id"`
	FieldName string    `json:"field_name,omitempty"`
	Kind      ValueKind `json:"value_kind"`
	Value     Value     `json:"value"`
	UpdatedAt string    `json:"updated_at" format:"date-time"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func asString(raw any) (string, error) {
	switch t := raw.(type) {
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case fmt.Stringer:
		return t.String(), nil
	case float64, int, int64, bool:
		return fmt.Sprint(t), nil
	}
	return "", fmt.Errorf("invalid text value %v", raw)
}

func asRef(raw any) (string, error) {
	s, ok := raw.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("invalid reference value %v: id required", raw)
	}
	return strings.TrimSpace(s), nil
}

func asInt(raw any) (int64, error) {
	switch t := raw.(type) {
	case int:
		return int64(t), nil
	case int64:
		return t, nil
	case float64:
		if t != math.Trunc(t) {
			return 0, fmt.Errorf("invalid integer value %v", t)
		}
		return int64(t), nil
	case json.Number:
		return t.Int64()
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid integer value %q", t)
		}
		return n, nil
	}
	return 0, fmt.Errorf("invalid integer value %v", raw)
}

func asFloat(raw any) (float64, error) {
	switch t := raw.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case json.Number:
		return t.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid float value %q", t)
		}
		return f, nil
	}
	return 0, fmt.Errorf("invalid float value %v", raw)
}

func asBool(raw any) (bool, error) {
	switch t := raw.(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return false, fmt.Errorf("invalid boolean value %q", t)
		}
		return b, nil
	}
	return false, fmt.Errorf("invalid boolean value %v", raw)
}

func normalizeDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	if d, err := time.Parse(dateLayout, s); err == nil {
		return d.Format(dateLayout), nil
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC().Format(dateLayout), nil
	}
	return "", fmt.Errorf("invalid date %q: must be YYYY-MM-DD", s)
}
