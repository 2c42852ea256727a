package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/shunichi-ikebuchi/ledger-engine/pkg/db"
	"github.com/shunichi-ikebuchi/ledger-engine/pkg/money"
)

// LineItemInput is one requested split of a transaction.
type LineItemInput struct {
	CategoryID  string          `json:"categoryId"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// AllocateLineItems validates inputs and turns them into line items ordered
// as given. Every item needs a category and a positive amount. The returned
// total is the transaction amount the items imply.
func AllocateLineItems(inputs []LineItemInput) ([]LineItem, decimal.Decimal, error) {
	items, total, err := allocate(inputs)
	if err != nil {
		return nil, decimal.Zero, err
	}
	return items, money.FromMinor(total), nil
}

func allocate(inputs []LineItemInput) ([]LineItem, int64, error) {
	items := make([]LineItem, 0, len(inputs))
	var total int64

	for i, in := range inputs {
		categoryID := strings.TrimSpace(in.CategoryID)
		if categoryID == "" {
			return nil, 0, validation("line item %d: category is required", i)
		}
		if !in.Amount.IsPositive() {
			return nil, 0, validation("line item %d: amount must be positive", i)
		}
		minor, err := money.ToMinor(in.Amount)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: line item %d: %w", ErrValidation, i, err)
		}
		if minor > money.MaxMinor-total {
			return nil, 0, validation("line items total exceeds %s", money.FromMinor(money.MaxMinor).StringFixed(money.Scale))
		}

		items = append(items, LineItem{
			ID:          uuid.NewString(),
			CategoryID:  categoryID,
			Description: strings.TrimSpace(in.Description),
			Amount:      money.FromMinor(minor),
			SortOrder:   i,
			amountMinor: minor,
		})
		total += minor
	}

	return items, total, nil
}

func sumLineItems(items []LineItem) int64 {
	var total int64
	for _, item := range items {
		total += item.amountMinor
	}
	return total
}

// replaceLineItems discards the transaction's items and inserts items in
// their place.
func replaceLineItems(ctx context.Context, q db.Querier, transactionID string, items []LineItem) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM transaction_line_items WHERE transaction_id = ?`, transactionID); err != nil {
		return fmt.Errorf("failed to delete line items: %w", err)
	}

	for _, item := range items {
		_, err := q.ExecContext(ctx, `
			INSERT INTO transaction_line_items (id, transaction_id, category_id, description, amount_minor, sort_order)
			VALUES (?, ?, ?, ?, ?, ?)
		`, item.ID, transactionID, item.CategoryID, item.Description, item.amountMinor, item.SortOrder)
		if err != nil {
			return fmt.Errorf("failed to insert line item: %w", err)
		}
	}

	return nil
}

// loadLineItems retrieves the items of every listed transaction keyed by
// transaction ID, each slice in sort order.
func loadLineItems(ctx context.Context, q db.Querier, transactionIDs []string) (map[string][]LineItem, error) {
	result := make(map[string][]LineItem)
	if len(transactionIDs) == 0 {
		return result, nil
	}

	args := make([]any, len(transactionIDs))
	for i, id := range transactionIDs {
		args[i] = id
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, transaction_id, category_id, description, amount_minor, sort_order
		FROM transaction_line_items
		WHERE transaction_id IN (`+placeholders(len(transactionIDs))+`)
		ORDER BY transaction_id, sort_order
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load line items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item          LineItem
			transactionID string
		)
		if err := rows.Scan(&item.ID, &transactionID, &item.CategoryID, &item.Description, &item.amountMinor, &item.SortOrder); err != nil {
			return nil, fmt.Errorf("failed to scan line item: %w", err)
		}
		item.Amount = money.FromMinor(item.amountMinor)
		result[transactionID] = append(result[transactionID], item)
	}

	return result, rows.Err()
}
