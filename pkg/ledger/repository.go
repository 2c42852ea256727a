package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shunichi-ikebuchi/ledger-engine/pkg/db"
)

const selectTransaction = `
	SELECT id, owner_id, account_id, to_account_id, category_id, amount_minor, type, date,
	       description, notes, tags, is_verified, status, merged_into_id, merged_at,
	       duplicate_exclusions, source_type, source_id, created_at, updated_at
	FROM transactions
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*Transaction, error) {
	var (
		t                       Transaction
		toAccountID, categoryID sql.NullString
		amountMinor             int64
		typ, status             string
		tags, exclusions        string
		isVerified              int
		mergedIntoID, mergedAt  sql.NullString
		sourceType              string
		sourceID                sql.NullString
		createdAt, updatedAt    string
	)

	err := row.Scan(
		&t.ID, &t.OwnerID, &t.AccountID, &toAccountID, &categoryID, &amountMinor, &typ, &t.Date,
		&t.Description, &t.Notes, &tags, &isVerified, &status, &mergedIntoID, &mergedAt,
		&exclusions, &sourceType, &sourceID, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}

	t.ToAccountID = toAccountID.String
	t.CategoryID = categoryID.String
	t.Type = Type(typ)
	t.IsVerified = isVerified == 1
	t.setAmountMinor(amountMinor)

	if err := json.Unmarshal([]byte(tags), &t.Tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags: %w", err)
	}
	if err := json.Unmarshal([]byte(exclusions), &t.DuplicateExclusions); err != nil {
		return nil, fmt.Errorf("failed to decode duplicate exclusions: %w", err)
	}

	switch StateKind(status) {
	case StateActive:
		t.State = Active()
	case StateDeleted:
		t.State = Deleted()
	case StateMerged:
		at, err := db.ParseNullTime(mergedAt)
		if err != nil {
			return nil, err
		}
		if at == nil {
			return nil, fmt.Errorf("transaction %s is merged without a merge time", t.ID)
		}
		t.State = MergedInto(mergedIntoID.String, *at)
	default:
		return nil, fmt.Errorf("transaction %s has unknown status %q", t.ID, status)
	}

	if t.Source, err = ParseSource(sourceType, sourceID.String); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = db.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = db.ParseTime(updatedAt); err != nil {
		return nil, err
	}

	return &t, nil
}

// stateColumns returns the status, merged_into_id and merged_at values of s.
func stateColumns(s State) (string, sql.NullString, sql.NullString) {
	id, at, ok := s.MergedInto()
	if !ok {
		return string(s.Kind()), sql.NullString{}, sql.NullString{}
	}
	return string(StateMerged),
		sql.NullString{String: id, Valid: true},
		sql.NullString{String: db.FormatTime(at), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func encodeList(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func insertTransaction(ctx context.Context, q db.Querier, t *Transaction) error {
	tags, err := encodeList(t.Tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}
	exclusions, err := encodeList(t.DuplicateExclusions)
	if err != nil {
		return fmt.Errorf("failed to encode duplicate exclusions: %w", err)
	}
	status, mergedInto, mergedAt := stateColumns(t.State)

	_, err = q.ExecContext(ctx, `
		INSERT INTO transactions (
			id, owner_id, account_id, to_account_id, category_id, amount_minor, type, date,
			description, notes, tags, is_verified, status, merged_into_id, merged_at,
			duplicate_exclusions, source_type, source_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ID, t.OwnerID, t.AccountID, nullString(t.ToAccountID), nullString(t.CategoryID), t.amountMinor, string(t.Type), t.Date,
		t.Description, t.Notes, tags, boolInt(t.IsVerified), status, mergedInto, mergedAt,
		exclusions, string(t.Source.Kind()), nullString(t.Source.ID()), db.FormatTime(t.CreatedAt), db.FormatTime(t.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// saveTransaction writes every mutable column of t.
func saveTransaction(ctx context.Context, q db.Querier, t *Transaction) error {
	tags, err := encodeList(t.Tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}
	exclusions, err := encodeList(t.DuplicateExclusions)
	if err != nil {
		return fmt.Errorf("failed to encode duplicate exclusions: %w", err)
	}
	status, mergedInto, mergedAt := stateColumns(t.State)

	result, err := q.ExecContext(ctx, `
		UPDATE transactions
		SET account_id = ?, to_account_id = ?, category_id = ?, amount_minor = ?, type = ?, date = ?,
		    description = ?, notes = ?, tags = ?, is_verified = ?, status = ?, merged_into_id = ?,
		    merged_at = ?, duplicate_exclusions = ?, updated_at = ?
		WHERE id = ?
	`,
		t.AccountID, nullString(t.ToAccountID), nullString(t.CategoryID), t.amountMinor, string(t.Type), t.Date,
		t.Description, t.Notes, tags, boolInt(t.IsVerified), status, mergedInto,
		mergedAt, exclusions, db.FormatTime(t.UpdatedAt),
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: transaction %s vanished during update", ErrStorageFailure, t.ID)
	}
	return nil
}

// loadOwned retrieves a non-deleted transaction of ownerID with its line
// items. Inside a unit of work the row is covered by the write lock taken at
// BEGIN, so the returned state cannot go stale before the caller commits.
func loadOwned(ctx context.Context, q db.Querier, ownerID, id string) (*Transaction, error) {
	t, err := scanTransaction(q.QueryRowContext(ctx,
		selectTransaction+` WHERE id = ? AND owner_id = ? AND status != ?`,
		id, ownerID, string(StateDeleted),
	))
	if err == sql.ErrNoRows {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, err
	}

	items, err := loadLineItems(ctx, q, []string{t.ID})
	if err != nil {
		return nil, err
	}
	t.LineItems = items[t.ID]
	return t, nil
}

// queryTransactions runs a select over transactions and attaches line items.
func queryTransactions(ctx context.Context, q db.Querier, where string, tail string, args ...any) ([]Transaction, error) {
	rows, err := q.QueryContext(ctx, selectTransaction+` WHERE `+where+` `+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var (
		result []Transaction
		ids    []string
	)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
		ids = append(ids, t.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	rows.Close()

	items, err := loadLineItems(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	for i := range result {
		result[i].LineItems = items[result[i].ID]
	}

	return result, nil
}

func hasMergedDuplicates(ctx context.Context, q db.Querier, id string) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE merged_into_id = ? AND status = ?`,
		id, string(StateMerged),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to count merged duplicates: %w", err)
	}
	return count > 0, nil
}

func updateExclusions(ctx context.Context, q db.Querier, t *Transaction) error {
	exclusions, err := encodeList(t.DuplicateExclusions)
	if err != nil {
		return fmt.Errorf("failed to encode duplicate exclusions: %w", err)
	}
	_, err = q.ExecContext(ctx,
		`UPDATE transactions SET duplicate_exclusions = ?, updated_at = ? WHERE id = ?`,
		exclusions, db.FormatTime(t.UpdatedAt), t.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update duplicate exclusions: %w", err)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
