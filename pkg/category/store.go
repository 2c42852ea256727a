// Package category stores user categories referenced by transactions and
// line items. The ledger only validates references against it.
package category

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shunichi-ikebuchi/ledger-engine/pkg/clock"
	"github.com/shunichi-ikebuchi/ledger-engine/pkg/db"
)

// ErrInvalidInput is returned for malformed categories.
var ErrInvalidInput = errors.New("invalid category input")

// Kind is the direction of money a category describes.
type Kind string

const (
	KindIncome  Kind = "income"
	KindExpense Kind = "expense"
)

// Category is a user-defined label for transactions and line items.
type Category struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Name      string    `json:"name"`
	Kind      Kind      `json:"kind"`
	CreatedAt time.Time `json:"createdAt"`
}

// Default is a category template, typically loaded from configuration.
type Default struct {
	Name string `yaml:"name"`
	Kind Kind   `yaml:"kind"`
}

// Store manages categories.
type Store struct {
	conn  *db.Connection
	clock clock.Clock
}

// NewStore creates a new Store.
func NewStore(conn *db.Connection, c clock.Clock) *Store {
	if c == nil {
		c = clock.NewReal()
	}
	return &Store{conn: conn, clock: c}
}

// Create inserts a category. Names are unique per owner.
func (s *Store) Create(ctx context.Context, ownerID, name string, kind Kind) (*Category, error) {
	name = strings.TrimSpace(name)
	if ownerID == "" || name == "" {
		return nil, fmt.Errorf("%w: owner and name are required", ErrInvalidInput)
	}
	if kind != KindIncome && kind != KindExpense {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidInput, kind)
	}

	c := &Category{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Name:      name,
		Kind:      kind,
		CreatedAt: s.clock.Now().UTC(),
	}

	_, err := s.conn.GetDB().ExecContext(ctx,
		`INSERT INTO categories (id, owner_id, name, kind, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.OwnerID, c.Name, string(c.Kind), db.FormatTime(c.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create category: %w", err)
	}

	return c, nil
}

// Seed creates every default the owner does not already have (matched by name).
// It returns the number of categories created.
func (s *Store) Seed(ctx context.Context, ownerID string, defaults []Default) (int, error) {
	created := 0
	for _, d := range defaults {
		result, err := s.conn.GetDB().ExecContext(ctx, `
			INSERT INTO categories (id, owner_id, name, kind, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(owner_id, name) DO NOTHING
		`, uuid.NewString(), ownerID, strings.TrimSpace(d.Name), string(d.Kind), db.FormatTime(s.clock.Now()))
		if err != nil {
			return created, fmt.Errorf("failed to seed category %q: %w", d.Name, err)
		}
		if n, _ := result.RowsAffected(); n > 0 {
			created++
		}
	}
	return created, nil
}

// List retrieves all categories of an owner ordered by name.
func (s *Store) List(ctx context.Context, ownerID string) ([]Category, error) {
	rows, err := s.conn.GetDB().QueryContext(ctx,
		`SELECT id, owner_id, name, kind, created_at FROM categories WHERE owner_id = ? ORDER BY name`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	var categories []Category
	for rows.Next() {
		var (
			c         Category
			kind      string
			createdAt string
		)
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Name, &kind, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		c.Kind = Kind(kind)
		if c.CreatedAt, err = db.ParseTime(createdAt); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}

	return categories, rows.Err()
}

// Exists reports whether the category exists and belongs to ownerID.
func (s *Store) Exists(ctx context.Context, q db.Querier, ownerID, id string) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM categories WHERE id = ? AND owner_id = ?`, id, ownerID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check category: %w", err)
	}
	return count > 0, nil
}
