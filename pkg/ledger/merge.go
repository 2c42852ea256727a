package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shunichi-ikebuchi/ledger-engine/pkg/audit"
	"github.com/shunichi-ikebuchi/ledger-engine/pkg/db"
)

// UnmergeWindow is how long after a merge the duplicate can be restored.
const UnmergeWindow = 30 * 24 * time.Hour

// DuplicateWindowDays is how far apart, in days, two transactions may be
// dated and still be duplicate candidates.
const DuplicateWindowDays = 3

// MergeResult summarizes a merge.
type MergeResult struct {
	PrimaryID            string   `json:"primaryId"`
	MergedCount          int      `json:"mergedCount"`
	MergedTransactionIDs []string `json:"mergedTransactionIds"`
}

// Merge consolidates duplicates into primaryID. Each duplicate keeps its row
// but stops contributing to its account balance. All preconditions are
// checked before anything is written; a failed check leaves every
// transaction untouched.
func (e *Engine) Merge(ctx context.Context, ownerID, primaryID string, duplicateIDs []string) (*MergeResult, error) {
	primaryID = strings.TrimSpace(primaryID)
	ids := make([]string, 0, len(duplicateIDs))
	seen := make(map[string]bool, len(duplicateIDs))
	for _, id := range duplicateIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		if id == primaryID {
			return nil, invalid("transaction %s cannot be merged into itself", id)
		}
		seen[id] = true
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, validation("at least one duplicate is required")
	}

	err := e.conn.Transaction(ctx, func(tx *sql.Tx) error {
		primary, err := loadOwned(ctx, tx, ownerID, primaryID)
		if err != nil {
			return err
		}
		if into := primary.MergedIntoID(); into != "" {
			return invalid("primary %s is itself merged into %s", primaryID, into)
		}

		duplicates := make([]*Transaction, 0, len(ids))
		for _, id := range ids {
			d, err := loadOwned(ctx, tx, ownerID, id)
			if err != nil {
				return err
			}
			if into := d.MergedIntoID(); into != "" {
				return invalid("transaction %s is already merged into %s", id, into)
			}
			has, err := hasMergedDuplicates(ctx, tx, id)
			if err != nil {
				return err
			}
			if has {
				return invalid("transaction %s has merged duplicates of its own", id)
			}
			duplicates = append(duplicates, d)
		}

		now := e.clock.Now().UTC()
		for _, d := range duplicates {
			next := d.clone()
			next.State = MergedInto(primary.ID, now)
			next.UpdatedAt = now

			if err := saveTransaction(ctx, tx, next); err != nil {
				return err
			}
			if err := e.applyChanges(ctx, tx, ownerID, netChanges(d.effects(), nil)); err != nil {
				return err
			}
			if err := e.enqueueAudit(ctx, tx, ownerID, audit.ActionUpdate, d.ID, d, next,
				fmt.Sprintf("Merged into transaction %s", primary.ID)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.committed()
	e.logger.Info("transactions merged",
		"primary_id", primaryID,
		"owner_id", ownerID,
		"merged_count", len(ids),
	)
	return &MergeResult{PrimaryID: primaryID, MergedCount: len(ids), MergedTransactionIDs: ids}, nil
}

// UnmergeTransaction restores a merged duplicate and re-applies its balance
// effect. It is only allowed within UnmergeWindow of the merge.
func (e *Engine) UnmergeTransaction(ctx context.Context, ownerID, id string) (*Transaction, error) {
	var restored *Transaction

	err := e.conn.Transaction(ctx, func(tx *sql.Tx) error {
		current, err := loadOwned(ctx, tx, ownerID, id)
		if err != nil {
			return err
		}
		_, mergedAt, ok := current.State.MergedInto()
		if !ok {
			return invalid("transaction %s is not merged", id)
		}
		now := e.clock.Now().UTC()
		if now.Sub(mergedAt) > UnmergeWindow {
			return invalid("transaction %s was merged more than %d days ago", id, int(UnmergeWindow.Hours()/24))
		}

		next := current.clone()
		next.State = Active()
		next.UpdatedAt = now

		if err := saveTransaction(ctx, tx, next); err != nil {
			return err
		}
		if err := e.applyChanges(ctx, tx, ownerID, netChanges(nil, next.effects())); err != nil {
			return err
		}
		if err := e.enqueueAudit(ctx, tx, ownerID, audit.ActionUpdate, id, current, next, "Unmerged transaction"); err != nil {
			return err
		}

		restored = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.committed()
	e.logger.Info("transaction unmerged", "transaction_id", id, "owner_id", ownerID)
	return restored, nil
}

// MarkAsNotDuplicate records that id and comparedWithID are distinct, adding
// each to the other's exclusion set. Repeating the call changes nothing.
func (e *Engine) MarkAsNotDuplicate(ctx context.Context, ownerID, id, comparedWithID string) error {
	if id == comparedWithID {
		return validation("a transaction cannot be compared with itself")
	}

	changed := false
	err := e.conn.Transaction(ctx, func(tx *sql.Tx) error {
		a, err := loadOwned(ctx, tx, ownerID, id)
		if err != nil {
			return err
		}
		b, err := loadOwned(ctx, tx, ownerID, comparedWithID)
		if err != nil {
			return err
		}

		now := e.clock.Now().UTC()
		for _, pair := range [][2]*Transaction{{a, b}, {b, a}} {
			t, other := pair[0], pair[1]
			if t.excludes(other.ID) {
				continue
			}
			before := t.clone()
			t.DuplicateExclusions = append(t.DuplicateExclusions, other.ID)
			t.UpdatedAt = now
			if err := updateExclusions(ctx, tx, t); err != nil {
				return err
			}
			if err := e.enqueueAudit(ctx, tx, ownerID, audit.ActionUpdate, t.ID, before, t,
				fmt.Sprintf("Marked as not a duplicate of %s", other.ID)); err != nil {
				return err
			}
			changed = true
		}
		return nil
	})
	if err != nil {
		return err
	}

	if changed {
		e.committed()
	}
	return nil
}

// GetMergedTransactions lists the duplicates currently merged into primaryID.
func (e *Engine) GetMergedTransactions(ctx context.Context, ownerID, primaryID string) ([]Transaction, error) {
	q := e.conn.GetDB()
	if _, err := loadOwned(ctx, q, ownerID, primaryID); err != nil {
		return nil, err
	}

	merged, err := queryTransactions(ctx, q,
		"owner_id = ? AND merged_into_id = ? AND status != ?",
		"ORDER BY date DESC, created_at DESC",
		ownerID, primaryID, string(StateDeleted),
	)
	if err != nil {
		return nil, err
	}
	if merged == nil {
		merged = []Transaction{}
	}
	return merged, nil
}

// FindDuplicates lists active transactions that look like duplicates of id:
// same account, type and amount, dated within DuplicateWindowDays. Pairs
// marked as not duplicates are skipped.
func (e *Engine) FindDuplicates(ctx context.Context, ownerID, id string) ([]Transaction, error) {
	q := e.conn.GetDB()
	t, err := loadOwned(ctx, q, ownerID, id)
	if err != nil {
		return nil, err
	}

	day, err := time.Parse(db.DateLayout, t.Date)
	if err != nil {
		return nil, fmt.Errorf("failed to parse transaction date: %w", err)
	}
	from := day.AddDate(0, 0, -DuplicateWindowDays).Format(db.DateLayout)
	to := day.AddDate(0, 0, DuplicateWindowDays).Format(db.DateLayout)

	candidates, err := queryTransactions(ctx, q,
		"owner_id = ? AND account_id = ? AND type = ? AND amount_minor = ? AND status = ? AND date BETWEEN ? AND ? AND id != ?",
		"ORDER BY date, created_at",
		ownerID, t.AccountID, string(t.Type), t.amountMinor, string(StateActive), from, to, t.ID,
	)
	if err != nil {
		return nil, err
	}

	result := []Transaction{}
	for _, c := range candidates {
		if t.excludes(c.ID) || c.excludes(t.ID) {
			continue
		}
		result = append(result, c)
	}
	return result, nil
}
