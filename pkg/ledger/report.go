package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/shunichi-ikebuchi/ledger-engine/pkg/clock"
	"github.com/shunichi-ikebuchi/ledger-engine/pkg/money"
)

// BalanceDrift is an account whose stored balance differs from the sum of
// its active transactions.
type BalanceDrift struct {
	AccountID string          `json:"accountId"`
	Stored    decimal.Decimal `json:"stored"`
	Expected  decimal.Decimal `json:"expected"`
}

// VerifyBalances recomputes every balance of ownerID from its active
// transactions. It returns no drift when the books are consistent.
func (e *Engine) VerifyBalances(ctx context.Context, ownerID string) ([]BalanceDrift, error) {
	drift := []BalanceDrift{}

	err := e.conn.Transaction(ctx, func(tx *sql.Tx) error {
		stored := make(map[string]int64)
		var order []string

		rows, err := tx.QueryContext(ctx,
			`SELECT id, balance_minor FROM accounts WHERE owner_id = ? ORDER BY id`, ownerID)
		if err != nil {
			return fmt.Errorf("failed to load balances: %w", err)
		}
		for rows.Next() {
			var (
				id      string
				balance int64
			)
			if err := rows.Scan(&id, &balance); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan balance: %w", err)
			}
			stored[id] = balance
			order = append(order, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to iterate balances: %w", err)
		}

		expected := make(map[string]int64, len(stored))
		rows, err = tx.QueryContext(ctx, `
			SELECT type, account_id, to_account_id, amount_minor
			FROM transactions
			WHERE owner_id = ? AND status = ?
		`, ownerID, string(StateActive))
		if err != nil {
			return fmt.Errorf("failed to load transactions: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				typ, accountID string
				toAccountID    sql.NullString
				amount         int64
			)
			if err := rows.Scan(&typ, &accountID, &toAccountID, &amount); err != nil {
				return fmt.Errorf("failed to scan transaction: %w", err)
			}
			if !Type(typ).Valid() {
				return fmt.Errorf("stored transaction has unknown type %q", typ)
			}
			for _, eff := range signedEffects(Type(typ), accountID, toAccountID.String, amount) {
				expected[eff.accountID] += eff.delta
			}
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to iterate transactions: %w", err)
		}

		for _, id := range order {
			if stored[id] != expected[id] {
				drift = append(drift, BalanceDrift{
					AccountID: id,
					Stored:    money.FromMinor(stored[id]),
					Expected:  money.FromMinor(expected[id]),
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(drift) > 0 {
		e.logger.Warn("balance drift detected", "owner_id", ownerID, "accounts", len(drift))
	}
	return drift, nil
}

// Usage counts the transactions an owner created in one period.
type Usage struct {
	Period       string `json:"period"`
	Transactions int    `json:"transactions"`
}

// MonthlyUsage counts the transactions ownerID created in the engine
// clock's current period, deleted and merged ones included.
func (e *Engine) MonthlyUsage(ctx context.Context, ownerID string) (*Usage, error) {
	period := clock.Period(e.clock)

	var count int
	err := e.conn.GetDB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE owner_id = ? AND substr(created_at, 1, 7) = ?`,
		ownerID, period,
	).Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("failed to count monthly usage: %w", err)
	}

	return &Usage{Period: period, Transactions: count}, nil
}
