package ledger

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shunichi-ikebuchi/ledger-engine/pkg/money"
)

// Type is the kind of money movement a transaction records.
type Type string

const (
	TypeIncome   Type = "income"
	TypeExpense  Type = "expense"
	TypeTransfer Type = "transfer"
	TypeLend     Type = "lend"
	TypeBorrow   Type = "borrow"
	TypeGroup    Type = "group"
)

// Valid reports whether t is a known transaction type.
func (t Type) Valid() bool {
	switch t {
	case TypeIncome, TypeExpense, TypeTransfer, TypeLend, TypeBorrow, TypeGroup:
		return true
	default:
		return false
	}
}

// StateKind names a lifecycle state.
type StateKind string

const (
	StateActive  StateKind = "active"
	StateDeleted StateKind = "deleted"
	StateMerged  StateKind = "merged"
)

// State is the lifecycle state of a transaction: Active, Deleted, or
// MergedInto(primary). Fields are unexported so deleted-and-merged or a
// merged state without a primary cannot be constructed.
type State struct {
	kind       StateKind
	mergedInto string
	mergedAt   time.Time
}

// Active is the state of a transaction that counts toward its balance.
func Active() State { return State{kind: StateActive} }

// Deleted is the state of a soft-deleted transaction.
func Deleted() State { return State{kind: StateDeleted} }

// MergedInto is the state of a duplicate consolidated into primaryID at at.
func MergedInto(primaryID string, at time.Time) State {
	return State{kind: StateMerged, mergedInto: primaryID, mergedAt: at.UTC()}
}

// Kind returns the state name. The zero State is active.
func (s State) Kind() StateKind {
	if s.kind == "" {
		return StateActive
	}
	return s.kind
}

func (s State) IsActive() bool  { return s.Kind() == StateActive }
func (s State) IsDeleted() bool { return s.kind == StateDeleted }
func (s State) IsMerged() bool  { return s.kind == StateMerged }

// MergedInto returns the primary and merge time when the state is merged.
func (s State) MergedInto() (primaryID string, at time.Time, ok bool) {
	if s.kind != StateMerged {
		return "", time.Time{}, false
	}
	return s.mergedInto, s.mergedAt, true
}

// LineItem is one categorized part of a transaction's amount.
type LineItem struct {
	ID          string          `json:"id"`
	CategoryID  string          `json:"categoryId"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	SortOrder   int             `json:"sortOrder"`

	amountMinor int64
}

// Transaction is a single posting against an account.
type Transaction struct {
	ID                  string
	OwnerID             string
	AccountID           string
	ToAccountID         string
	CategoryID          string
	Amount              decimal.Decimal
	Type                Type
	Date                string
	Description         string
	Notes               string
	Tags                []string
	LineItems           []LineItem
	IsVerified          bool
	State               State
	DuplicateExclusions []string
	Source              Source
	CreatedAt           time.Time
	UpdatedAt           time.Time

	amountMinor int64
}

// IsDeleted reports whether the transaction is soft-deleted.
func (t *Transaction) IsDeleted() bool { return t.State.IsDeleted() }

// IsMerged reports whether the transaction was merged into another one.
func (t *Transaction) IsMerged() bool { return t.State.IsMerged() }

// MergedIntoID returns the primary transaction ID, or "" when not merged.
func (t *Transaction) MergedIntoID() string {
	id, _, _ := t.State.MergedInto()
	return id
}

// MergedAt returns the merge time, or nil when not merged.
func (t *Transaction) MergedAt() *time.Time {
	_, at, ok := t.State.MergedInto()
	if !ok {
		return nil
	}
	return &at
}

func (t *Transaction) setAmountMinor(minor int64) {
	t.amountMinor = minor
	t.Amount = money.FromMinor(minor)
}

func (t *Transaction) excludes(id string) bool {
	for _, x := range t.DuplicateExclusions {
		if x == id {
			return true
		}
	}
	return false
}

func (t *Transaction) clone() *Transaction {
	c := *t
	c.Tags = append([]string(nil), t.Tags...)
	c.LineItems = append([]LineItem(nil), t.LineItems...)
	c.DuplicateExclusions = append([]string(nil), t.DuplicateExclusions...)
	return &c
}

type transactionJSON struct {
	ID                  string     `json:"id"`
	OwnerID             string     `json:"ownerId"`
	AccountID           string     `json:"accountId"`
	ToAccountID         string     `json:"toAccountId,omitempty"`
	CategoryID          string     `json:"categoryId,omitempty"`
	Amount              string     `json:"amount"`
	Type                Type       `json:"type"`
	Date                string     `json:"date"`
	Description         string     `json:"description"`
	Notes               string     `json:"notes"`
	Tags                []string   `json:"tags"`
	LineItems           []LineItem `json:"lineItems"`
	IsVerified          bool       `json:"isVerified"`
	IsDeleted           bool       `json:"isDeleted"`
	IsMerged            bool       `json:"isMerged"`
	MergedIntoID        *string    `json:"mergedIntoId"`
	MergedAt            *time.Time `json:"mergedAt"`
	DuplicateExclusions []string   `json:"duplicateExclusions"`
	SourceType          SourceKind `json:"sourceType"`
	SourceID            string     `json:"sourceId,omitempty"`
	SourceTarget        string     `json:"sourceTarget,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// MarshalJSON renders the transaction with the flat merge/delete flags used
// by API responses and audit snapshots.
func (t *Transaction) MarshalJSON() ([]byte, error) {
	out := transactionJSON{
		ID:                  t.ID,
		OwnerID:             t.OwnerID,
		AccountID:           t.AccountID,
		ToAccountID:         t.ToAccountID,
		CategoryID:          t.CategoryID,
		Amount:              t.Amount.StringFixed(money.Scale),
		Type:                t.Type,
		Date:                t.Date,
		Description:         t.Description,
		Notes:               t.Notes,
		Tags:                nonNil(t.Tags),
		LineItems:           t.LineItems,
		IsVerified:          t.IsVerified,
		IsDeleted:           t.IsDeleted(),
		IsMerged:            t.IsMerged(),
		MergedAt:            t.MergedAt(),
		DuplicateExclusions: nonNil(t.DuplicateExclusions),
		SourceType:          t.Source.Kind(),
		SourceID:            t.Source.ID(),
		SourceTarget:        t.Source.Target(),
		CreatedAt:           t.CreatedAt,
		UpdatedAt:           t.UpdatedAt,
	}
	if out.LineItems == nil {
		out.LineItems = []LineItem{}
	}
	if id := t.MergedIntoID(); id != "" {
		out.MergedIntoID = &id
	}
	return json.Marshal(out)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// effect is a signed balance change on one account, in minor units.
type effect struct {
	accountID string
	delta     int64
}

// effects returns the balance contribution of t. Deleted and merged
// transactions contribute nothing.
func (t *Transaction) effects() []effect {
	if !t.State.IsActive() {
		return nil
	}
	return signedEffects(t.Type, t.AccountID, t.ToAccountID, t.amountMinor)
}

// signedEffects maps a transaction type to balance changes: income and
// borrow add to the account; expense, lend and group subtract; a transfer
// subtracts from the account and adds to its destination when one is set.
func signedEffects(typ Type, accountID, toAccountID string, amount int64) []effect {
	switch typ {
	case TypeIncome, TypeBorrow:
		return []effect{{accountID, amount}}
	case TypeExpense, TypeLend, TypeGroup:
		return []effect{{accountID, -amount}}
	case TypeTransfer:
		if toAccountID == "" {
			return []effect{{accountID, -amount}}
		}
		return []effect{{accountID, -amount}, {toAccountID, amount}}
	default:
		panic(fmt.Sprintf("ledger: unknown transaction type %q", typ))
	}
}

// balanceChange is the net delta to apply to one account.
type balanceChange struct {
	accountID string
	delta     int64
}

// netChanges reverses old and applies new, netted per account and ordered
// by account ID. Accounts with a zero net change are dropped.
func netChanges(old, new []effect) []balanceChange {
	net := make(map[string]int64)
	for _, e := range old {
		net[e.accountID] -= e.delta
	}
	for _, e := range new {
		net[e.accountID] += e.delta
	}

	changes := make([]balanceChange, 0, len(net))
	for id, delta := range net {
		if delta != 0 {
			changes = append(changes, balanceChange{accountID: id, delta: delta})
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].accountID < changes[j].accountID })
	return changes
}
