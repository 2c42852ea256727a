// Package account owns per-account balances.
//
// Balances only change through Increment/UpdateBalance, which apply a signed
// delta as one arithmetic UPDATE at the storage layer. There is no
// read-modify-write of the balance in Go code, so concurrent increments from
// different units of work never lose updates.
package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/shunichi-ikebuchi/ledger-engine/pkg/clock"
	"github.com/shunichi-ikebuchi/ledger-engine/pkg/db"
	"github.com/shunichi-ikebuchi/ledger-engine/pkg/money"
)

var (
	// ErrNotFound is returned when an account does not exist or is not owned by the caller.
	ErrNotFound = errors.New("account not found")

	// ErrAccessDenied is returned when an ownership-checked update targets another owner's account.
	ErrAccessDenied = errors.New("account access denied")

	// ErrUpdateFailed is returned when an atomic balance update affects no rows.
	ErrUpdateFailed = errors.New("account balance update failed")

	// ErrBalanceOutOfRange is returned when a delta would move a balance past
	// money.MaxBalanceMinor in either direction.
	ErrBalanceOutOfRange = errors.New("account balance out of range")

	// ErrInvalidInput is returned for malformed create requests.
	ErrInvalidInput = errors.New("invalid account input")
)

// Account is a balance-holding account.
type Account struct {
	ID        string          `json:"id"`
	OwnerID   string          `json:"ownerId"`
	Name      string          `json:"name"`
	Currency  string          `json:"currency"`
	Balance   decimal.Decimal `json:"balance"`
	IsActive  bool            `json:"isActive"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// CreateInput describes a new account.
type CreateInput struct {
	OwnerID  string
	Name     string
	Currency string
}

// Store manages accounts.
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

// Create inserts a new active account with a zero balance.
func (s *Store) Create(ctx context.Context, in CreateInput) (*Account, error) {
	name := strings.TrimSpace(in.Name)
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if in.OwnerID == "" || name == "" || len(currency) != 3 {
		return nil, fmt.Errorf("%w: owner, name and a 3-letter currency are required", ErrInvalidInput)
	}

	now := s.clock.Now().UTC()
	acc := &Account{
		ID:        uuid.NewString(),
		OwnerID:   in.OwnerID,
		Name:      name,
		Currency:  currency,
		Balance:   decimal.Zero,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	query := `
		INSERT INTO accounts (id, owner_id, name, currency, balance_minor, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, 1, ?, ?)
	`
	_, err := s.conn.GetDB().ExecContext(ctx, query,
		acc.ID, acc.OwnerID, acc.Name, acc.Currency,
		db.FormatTime(now), db.FormatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	return acc, nil
}

const selectAccount = `
	SELECT id, owner_id, name, currency, balance_minor, is_active, created_at, updated_at
	FROM accounts
`

// Get retrieves an account by ID regardless of owner. A nil q reads outside
// any unit of work.
func (s *Store) Get(ctx context.Context, q db.Querier, id string) (*Account, error) {
	return scanAccount(s.querier(q).QueryRowContext(ctx, selectAccount+` WHERE id = ?`, id))
}

// FindOwned retrieves an account by ID, returning ErrNotFound when it does
// not exist or belongs to someone else. A nil q reads outside any unit of work.
func (s *Store) FindOwned(ctx context.Context, q db.Querier, id, ownerID string) (*Account, error) {
	return scanAccount(s.querier(q).QueryRowContext(ctx, selectAccount+` WHERE id = ? AND owner_id = ?`, id, ownerID))
}

func (s *Store) querier(q db.Querier) db.Querier {
	if q == nil {
		return s.conn.GetDB()
	}
	return q
}

// ListOwned retrieves all accounts of an owner, active ones first.
func (s *Store) ListOwned(ctx context.Context, ownerID string) ([]Account, error) {
	rows, err := s.conn.GetDB().QueryContext(ctx,
		selectAccount+` WHERE owner_id = ? ORDER BY is_active DESC, name ASC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *acc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate accounts: %w", err)
	}

	return accounts, nil
}

// Deactivate soft-deactivates an account. Accounts are never hard-deleted.
func (s *Store) Deactivate(ctx context.Context, id, ownerID string) error {
	result, err := s.conn.GetDB().ExecContext(ctx,
		`UPDATE accounts SET is_active = 0, updated_at = ? WHERE id = ? AND owner_id = ?`,
		db.FormatTime(s.clock.Now()), id, ownerID,
	)
	if err != nil {
		return fmt.Errorf("failed to deactivate account: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// Increment applies a signed delta (minor units) to the balance as a single
// atomic UPDATE and returns the number of rows affected. The update matches
// nothing when the new balance would leave the money.MaxBalanceMinor range.
func (s *Store) Increment(ctx context.Context, q db.Querier, id string, delta int64) (int64, error) {
	return s.increment(ctx, q, id, delta, "")
}

// UpdateBalance applies delta like Increment. When ownerID is non-empty the
// update only matches an account of that owner; a mismatch is reported as
// ErrAccessDenied. A delta that would push the balance out of range is
// ErrBalanceOutOfRange. Zero rows affected for any other reason is
// ErrUpdateFailed.
func (s *Store) UpdateBalance(ctx context.Context, q db.Querier, id string, delta int64, ownerID string) error {
	rows, err := s.increment(ctx, q, id, delta, ownerID)
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}

	var (
		actualOwner string
		balance     int64
	)
	err = q.QueryRowContext(ctx, `SELECT owner_id, balance_minor FROM accounts WHERE id = ?`, id).Scan(&actualOwner, &balance)
	switch {
	case err != nil:
		return fmt.Errorf("%w: account %s", ErrUpdateFailed, id)
	case ownerID != "" && actualOwner != ownerID:
		return fmt.Errorf("%w: account %s", ErrAccessDenied, id)
	case !balanceInRange(balance, delta):
		return fmt.Errorf("%w: account %s", ErrBalanceOutOfRange, id)
	default:
		return fmt.Errorf("%w: account %s", ErrUpdateFailed, id)
	}
}

func (s *Store) increment(ctx context.Context, q db.Querier, id string, delta int64, ownerID string) (int64, error) {
	if delta > money.MaxBalanceMinor || delta < -money.MaxBalanceMinor {
		return 0, fmt.Errorf("%w: delta %d", ErrBalanceOutOfRange, delta)
	}

	query := `UPDATE accounts SET balance_minor = balance_minor + ?, updated_at = ?
		WHERE id = ? AND balance_minor + ? BETWEEN ? AND ?`
	args := []any{delta, db.FormatTime(s.clock.Now()), id, delta, -money.MaxBalanceMinor, money.MaxBalanceMinor}
	if ownerID != "" {
		query += ` AND owner_id = ?`
		args = append(args, ownerID)
	}

	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to update balance: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

func balanceInRange(balance, delta int64) bool {
	next := balance + delta
	return next >= -money.MaxBalanceMinor && next <= money.MaxBalanceMinor
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*Account, error) {
	var (
		acc                  Account
		balanceMinor         int64
		isActive             int
		createdAt, updatedAt string
	)

	err := row.Scan(&acc.ID, &acc.OwnerID, &acc.Name, &acc.Currency, &balanceMinor, &isActive, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}

	acc.Balance = money.FromMinor(balanceMinor)
	acc.IsActive = isActive == 1
	if acc.CreatedAt, err = db.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if acc.UpdatedAt, err = db.ParseTime(updatedAt); err != nil {
		return nil, err
	}

	return &acc, nil
}
