// Package ledger keeps account balances consistent with the transactions
// posted against them.
//
// Every mutation runs as one unit of work covering the transaction row, its
// line items, the account balance changes and the audit outbox entry. The
// audit dispatcher is only notified after the unit of work commits.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/shunichi-ikebuchi/ledger-engine/pkg/account"
	"github.com/shunichi-ikebuchi/ledger-engine/pkg/audit"
	"github.com/shunichi-ikebuchi/ledger-engine/pkg/clock"
	"github.com/shunichi-ikebuchi/ledger-engine/pkg/db"
	"github.com/shunichi-ikebuchi/ledger-engine/pkg/money"
)

// EntityType is the audit entity type of transactions.
const EntityType = "transaction"

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// AccountStore is the account lookup and balance primitive the engine needs.
type AccountStore interface {
	FindOwned(ctx context.Context, q db.Querier, id, ownerID string) (*account.Account, error)
	UpdateBalance(ctx context.Context, q db.Querier, id string, delta int64, ownerID string) error
}

// CategoryChecker validates category references.
type CategoryChecker interface {
	Exists(ctx context.Context, q db.Querier, ownerID, id string) (bool, error)
}

// AuditLog receives audit entries inside the mutation's unit of work.
type AuditLog interface {
	RecordTx(ctx context.Context, q db.Querier, entry audit.Entry) error
}

// Notifier is told that committed audit entries are waiting.
type Notifier interface {
	Notify()
}

// Config wires an Engine. Accounts is required.
type Config struct {
	Accounts   AccountStore
	Categories CategoryChecker
	Audit      AuditLog
	Notifier   Notifier
	Clock      clock.Clock
	Logger     *slog.Logger
}

// Engine runs ledger operations.
type Engine struct {
	conn       *db.Connection
	accounts   AccountStore
	categories CategoryChecker
	audit      AuditLog
	notifier   Notifier
	clock      clock.Clock
	logger     *slog.Logger
}

// NewEngine creates a new Engine.
func NewEngine(conn *db.Connection, cfg Config) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewReal()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		conn:       conn,
		accounts:   cfg.Accounts,
		categories: cfg.Categories,
		audit:      cfg.Audit,
		notifier:   cfg.Notifier,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
	}
}

// CreateInput describes a new transaction. When LineItems is non-empty the
// amount is their sum and Amount is ignored.
type CreateInput struct {
	AccountID   string
	ToAccountID string
	CategoryID  string
	Amount      decimal.Decimal
	Type        Type
	Date        string
	Description string
	Notes       string
	Tags        []string
	LineItems   []LineItemInput
	IsVerified  bool
	Source      Source
}

// Create posts a new transaction and applies its balance effect.
func (e *Engine) Create(ctx context.Context, ownerID string, in CreateInput) (*Transaction, error) {
	now := e.clock.Now().UTC()
	t := &Transaction{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		AccountID:   strings.TrimSpace(in.AccountID),
		ToAccountID: strings.TrimSpace(in.ToAccountID),
		CategoryID:  strings.TrimSpace(in.CategoryID),
		Type:        in.Type,
		Date:        strings.TrimSpace(in.Date),
		Description: strings.TrimSpace(in.Description),
		Notes:       in.Notes,
		Tags:        normalizeTags(in.Tags),
		IsVerified:  in.IsVerified,
		State:       Active(),
		Source:      in.Source,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if t.Date == "" {
		t.Date = now.Format(db.DateLayout)
	}

	if len(in.LineItems) > 0 {
		items, total, err := allocate(in.LineItems)
		if err != nil {
			return nil, err
		}
		t.LineItems = items
		t.setAmountMinor(total)
	} else {
		minor, err := positiveMinor(in.Amount)
		if err != nil {
			return nil, err
		}
		t.setAmountMinor(minor)
	}

	if err := validateFields(t); err != nil {
		return nil, err
	}

	err := e.conn.Transaction(ctx, func(tx *sql.Tx) error {
		if err := e.checkReferences(ctx, tx, t, nil); err != nil {
			return err
		}
		if err := insertTransaction(ctx, tx, t); err != nil {
			return err
		}
		if len(t.LineItems) > 0 {
			if err := replaceLineItems(ctx, tx, t.ID, t.LineItems); err != nil {
				return err
			}
		}
		if err := e.applyChanges(ctx, tx, ownerID, netChanges(nil, t.effects())); err != nil {
			return err
		}
		return e.enqueueAudit(ctx, tx, ownerID, audit.ActionCreate, t.ID, nil, t,
			fmt.Sprintf("Created %s transaction of %s", t.Type, t.Amount.StringFixed(money.Scale)))
	})
	if err != nil {
		return nil, err
	}

	e.committed()
	e.logger.Info("transaction created",
		"transaction_id", t.ID,
		"owner_id", ownerID,
		"account_id", t.AccountID,
		"type", string(t.Type),
		"amount", t.Amount.StringFixed(money.Scale),
	)
	return t, nil
}

// Get retrieves a non-deleted transaction of ownerID.
func (e *Engine) Get(ctx context.Context, ownerID, id string) (*Transaction, error) {
	return loadOwned(ctx, e.conn.GetDB(), ownerID, id)
}

// ListFilter narrows List. Dates are inclusive YYYY-MM-DD bounds.
type ListFilter struct {
	AccountID     string
	Type          Type
	From          string
	To            string
	IncludeMerged bool
	Page          int
	Limit         int
}

// ListResult is one page of transactions, newest first.
type ListResult struct {
	Transactions []Transaction `json:"transactions"`
	Total        int           `json:"total"`
	Page         int           `json:"page"`
	Limit        int           `json:"limit"`
}

// List retrieves an owner's non-deleted transactions. Merged duplicates are
// left out unless IncludeMerged is set.
func (e *Engine) List(ctx context.Context, ownerID string, filter ListFilter) (*ListResult, error) {
	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	where := []string{"owner_id = ?"}
	args := []any{ownerID}

	if filter.IncludeMerged {
		where = append(where, "status != ?")
		args = append(args, string(StateDeleted))
	} else {
		where = append(where, "status = ?")
		args = append(args, string(StateActive))
	}
	if filter.AccountID != "" {
		where = append(where, "(account_id = ? OR to_account_id = ?)")
		args = append(args, filter.AccountID, filter.AccountID)
	}
	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.From != "" {
		where = append(where, "date >= ?")
		args = append(args, filter.From)
	}
	if filter.To != "" {
		where = append(where, "date <= ?")
		args = append(args, filter.To)
	}

	clause := strings.Join(where, " AND ")
	q := e.conn.GetDB()

	var total int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM transactions WHERE "+clause, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count transactions: %w", err)
	}

	transactions, err := queryTransactions(ctx, q, clause,
		"ORDER BY date DESC, created_at DESC, id DESC LIMIT ? OFFSET ?",
		append(args, limit, (page-1)*limit)...)
	if err != nil {
		return nil, err
	}
	if transactions == nil {
		transactions = []Transaction{}
	}

	return &ListResult{Transactions: transactions, Total: total, Page: page, Limit: limit}, nil
}

// Patch is a partial update. Nil fields are left unchanged. A non-nil
// LineItems replaces all existing items; an empty slice removes them.
type Patch struct {
	AccountID   *string
	ToAccountID *string
	CategoryID  *string
	Amount      *decimal.Decimal
	Type        *Type
	Date        *string
	Description *string
	Notes       *string
	Tags        *[]string
	LineItems   *[]LineItemInput
	IsVerified  *bool
}

// Update applies patch and moves the balance effect from the old values to
// the new ones. When the account changes, the old account gets the reversal
// and the new account the new effect.
func (e *Engine) Update(ctx context.Context, ownerID, id string, patch Patch) (*Transaction, error) {
	var updated *Transaction

	err := e.conn.Transaction(ctx, func(tx *sql.Tx) error {
		current, err := loadOwned(ctx, tx, ownerID, id)
		if err != nil {
			return err
		}
		if primary := current.MergedIntoID(); primary != "" {
			return invalid("transaction %s is merged into %s", id, primary)
		}

		next := current.clone()
		if err := next.apply(patch); err != nil {
			return err
		}
		next.UpdatedAt = e.clock.Now().UTC()
		if err := validateFields(next); err != nil {
			return err
		}
		if err := e.checkReferences(ctx, tx, next, current); err != nil {
			return err
		}

		if err := saveTransaction(ctx, tx, next); err != nil {
			return err
		}
		if patch.LineItems != nil {
			if err := replaceLineItems(ctx, tx, next.ID, next.LineItems); err != nil {
				return err
			}
		}
		if err := e.applyChanges(ctx, tx, ownerID, netChanges(current.effects(), next.effects())); err != nil {
			return err
		}
		if err := e.enqueueAudit(ctx, tx, ownerID, audit.ActionUpdate, id, current, next, "Updated transaction"); err != nil {
			return err
		}

		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.committed()
	e.logger.Info("transaction updated", "transaction_id", id, "owner_id", ownerID)
	return updated, nil
}

// Remove soft-deletes a transaction and reverses its balance effect. A
// primary that still has merged duplicates cannot be removed.
func (e *Engine) Remove(ctx context.Context, ownerID, id string) (*Transaction, error) {
	var removed *Transaction

	err := e.conn.Transaction(ctx, func(tx *sql.Tx) error {
		current, err := loadOwned(ctx, tx, ownerID, id)
		if err != nil {
			return err
		}
		if current.State.IsActive() {
			has, err := hasMergedDuplicates(ctx, tx, id)
			if err != nil {
				return err
			}
			if has {
				return invalid("transaction %s has merged duplicates; unmerge them first", id)
			}
		}

		next := current.clone()
		next.State = Deleted()
		next.LineItems = nil
		next.UpdatedAt = e.clock.Now().UTC()

		if err := saveTransaction(ctx, tx, next); err != nil {
			return err
		}
		if err := replaceLineItems(ctx, tx, id, nil); err != nil {
			return err
		}
		if err := e.applyChanges(ctx, tx, ownerID, netChanges(current.effects(), nil)); err != nil {
			return err
		}
		if err := e.enqueueAudit(ctx, tx, ownerID, audit.ActionDelete, id, current, nil, "Deleted transaction"); err != nil {
			return err
		}

		removed = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.committed()
	e.logger.Info("transaction removed", "transaction_id", id, "owner_id", ownerID)
	return removed, nil
}

func (t *Transaction) apply(p Patch) error {
	if p.AccountID != nil {
		t.AccountID = strings.TrimSpace(*p.AccountID)
	}
	if p.Type != nil {
		if t.Type == TypeTransfer && *p.Type != TypeTransfer && p.ToAccountID == nil {
			t.ToAccountID = ""
		}
		t.Type = *p.Type
	}
	if p.ToAccountID != nil {
		t.ToAccountID = strings.TrimSpace(*p.ToAccountID)
	}
	if p.CategoryID != nil {
		t.CategoryID = strings.TrimSpace(*p.CategoryID)
	}
	if p.Date != nil {
		t.Date = strings.TrimSpace(*p.Date)
	}
	if p.Description != nil {
		t.Description = strings.TrimSpace(*p.Description)
	}
	if p.Notes != nil {
		t.Notes = *p.Notes
	}
	if p.Tags != nil {
		t.Tags = normalizeTags(*p.Tags)
	}
	if p.IsVerified != nil {
		t.IsVerified = *p.IsVerified
	}

	switch {
	case p.LineItems != nil && len(*p.LineItems) > 0:
		items, total, err := allocate(*p.LineItems)
		if err != nil {
			return err
		}
		t.LineItems = items
		t.setAmountMinor(total)
	case p.LineItems != nil:
		t.LineItems = nil
		if p.Amount != nil {
			minor, err := positiveMinor(*p.Amount)
			if err != nil {
				return err
			}
			t.setAmountMinor(minor)
		}
	case p.Amount != nil:
		minor, err := positiveMinor(*p.Amount)
		if err != nil {
			return err
		}
		if len(t.LineItems) > 0 && sumLineItems(t.LineItems) != minor {
			return invalid("line items sum to %s, not %s",
				money.FromMinor(sumLineItems(t.LineItems)).StringFixed(money.Scale),
				money.FromMinor(minor).StringFixed(money.Scale))
		}
		t.setAmountMinor(minor)
	}

	return nil
}

func validateFields(t *Transaction) error {
	if !t.Type.Valid() {
		return validation("unknown transaction type %q", t.Type)
	}
	if t.AccountID == "" {
		return validation("account is required")
	}
	if t.Description == "" {
		return validation("description is required")
	}
	if _, err := time.Parse(db.DateLayout, t.Date); err != nil {
		return validation("date %q is not YYYY-MM-DD", t.Date)
	}
	if t.ToAccountID != "" {
		if t.Type != TypeTransfer {
			return validation("only transfers have a destination account")
		}
		if t.ToAccountID == t.AccountID {
			return validation("transfer destination must differ from the source account")
		}
	}
	return nil
}

// checkReferences verifies the accounts and categories t points at. prev is
// the stored version on update; an inactive account is only rejected when it
// is newly referenced.
func (e *Engine) checkReferences(ctx context.Context, q db.Querier, t, prev *Transaction) error {
	src, err := e.accounts.FindOwned(ctx, q, t.AccountID, t.OwnerID)
	if err != nil {
		return accountError(err, t.AccountID)
	}
	if !src.IsActive && (prev == nil || prev.AccountID != t.AccountID) {
		return invalid("account %s is inactive", src.ID)
	}

	if t.ToAccountID != "" {
		dst, err := e.accounts.FindOwned(ctx, q, t.ToAccountID, t.OwnerID)
		if err != nil {
			return accountError(err, t.ToAccountID)
		}
		if !dst.IsActive && (prev == nil || prev.ToAccountID != t.ToAccountID) {
			return invalid("account %s is inactive", dst.ID)
		}
		if dst.Currency != src.Currency {
			return invalid("transfer between %s and %s accounts", src.Currency, dst.Currency)
		}
	}

	if e.categories == nil {
		return nil
	}
	seen := make(map[string]bool)
	refs := []string{t.CategoryID}
	for _, item := range t.LineItems {
		refs = append(refs, item.CategoryID)
	}
	for _, id := range refs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ok, err := e.categories.Exists(ctx, q, t.OwnerID, id)
		if err != nil {
			return err
		}
		if !ok {
			return validation("unknown category %s", id)
		}
	}
	return nil
}

func (e *Engine) applyChanges(ctx context.Context, q db.Querier, ownerID string, changes []balanceChange) error {
	for _, c := range changes {
		if err := e.accounts.UpdateBalance(ctx, q, c.accountID, c.delta, ownerID); err != nil {
			return accountError(err, c.accountID)
		}
		e.logger.Debug("balance adjusted", "account_id", c.accountID, "delta_minor", c.delta)
	}
	return nil
}

func (e *Engine) enqueueAudit(ctx context.Context, q db.Querier, ownerID string, action audit.Action, id string, before, after *Transaction, description string) error {
	if e.audit == nil {
		return nil
	}
	entry, err := audit.NewEntry(ownerID, action, EntityType, id, snapshot(before), snapshot(after), description)
	if err != nil {
		return err
	}
	return e.audit.RecordTx(ctx, q, entry)
}

// snapshot keeps a nil *Transaction from becoming a non-nil interface.
func snapshot(t *Transaction) any {
	if t == nil {
		return nil
	}
	return t
}

func (e *Engine) committed() {
	if e.notifier != nil {
		e.notifier.Notify()
	}
}

func positiveMinor(amount decimal.Decimal) (int64, error) {
	if !amount.IsPositive() {
		return 0, validation("amount must be positive")
	}
	minor, err := money.ToMinor(amount)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return minor, nil
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}
