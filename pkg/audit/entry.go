// Package audit keeps the append-only trail of entity mutations.
//
// Ledger mutations enqueue entries into an outbox table inside their own unit
// of work (Outbox.RecordTx). A Dispatcher later moves them into audit_log.
// A committed mutation therefore always has its entry persisted somewhere,
// and a failing audit write can never undo it.
package audit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidEntry is returned when an entry is missing required fields.
var ErrInvalidEntry = errors.New("invalid audit entry")

// Action is the kind of mutation recorded.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	default:
		return false
	}
}

// Entry is one immutable audit record. Before is empty for creates and After
// is empty for deletes.
type Entry struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"ownerId"`
	Action      Action          `json:"action"`
	EntityType  string          `json:"entityType"`
	EntityID    string          `json:"entityId"`
	Before      json.RawMessage `json:"before,omitempty"`
	After       json.RawMessage `json:"after,omitempty"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// NewEntry builds an entry, serializing the before/after snapshots.
// A nil snapshot is stored as absent.
func NewEntry(ownerID string, action Action, entityType, entityID string, before, after any, description string) (Entry, error) {
	e := Entry{
		OwnerID:     ownerID,
		Action:      action,
		EntityType:  entityType,
		EntityID:    entityID,
		Description: description,
	}

	var err error
	if e.Before, err = snapshot(before); err != nil {
		return Entry{}, fmt.Errorf("failed to serialize before snapshot: %w", err)
	}
	if e.After, err = snapshot(after); err != nil {
		return Entry{}, fmt.Errorf("failed to serialize after snapshot: %w", err)
	}

	return e, e.validate()
}

func (e Entry) validate() error {
	if e.OwnerID == "" || e.EntityType == "" || e.EntityID == "" {
		return fmt.Errorf("%w: owner, entity type and entity id are required", ErrInvalidEntry)
	}
	if !e.Action.Valid() {
		return fmt.Errorf("%w: unknown action %q", ErrInvalidEntry, e.Action)
	}
	return nil
}

func snapshot(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	return data, nil
}

// Change is the before/after pair of one field.
type Change struct {
	Before any `json:"before"`
	After  any `json:"after"`
}

// Changes computes the per-field diff of the entry's snapshots.
func (e Entry) Changes() (map[string]Change, error) {
	before, err := decodeSnapshot(e.Before)
	if err != nil {
		return nil, fmt.Errorf("failed to decode before snapshot: %w", err)
	}
	after, err := decodeSnapshot(e.After)
	if err != nil {
		return nil, fmt.Errorf("failed to decode after snapshot: %w", err)
	}
	return Diff(before, after), nil
}

// Diff returns, for every key present in either snapshot whose serialized
// values differ, the pair of values. Unchanged keys are omitted.
func Diff(before, after map[string]any) map[string]Change {
	changes := make(map[string]Change)

	keys := make(map[string]struct{}, len(before)+len(after))
	for k := range before {
		keys[k] = struct{}{}
	}
	for k := range after {
		keys[k] = struct{}{}
	}

	for k := range keys {
		b, a := before[k], after[k]
		if serialize(b) != serialize(a) {
			changes[k] = Change{Before: b, After: a}
		}
	}

	return changes
}

func serialize(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%#v", v)
	}
	return string(data)
}

func decodeSnapshot(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}
