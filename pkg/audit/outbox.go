package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shunichi-ikebuchi/ledger-engine/pkg/clock"
	"github.com/shunichi-ikebuchi/ledger-engine/pkg/db"
)

// OutboxStatus is the delivery state of an outbox row.
type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "pending"
	OutboxPublished OutboxStatus = "published"
	OutboxFailed    OutboxStatus = "failed"
)

// OutboxEvent is one queued audit entry.
type OutboxEvent struct {
	ID            string
	AggregateID   string
	Payload       []byte
	Status        OutboxStatus
	Attempts      int
	LastError     string
	NextAttemptAt time.Time
	CreatedAt     time.Time
	PublishedAt   *time.Time
}

// Outbox persists audit entries in the caller's unit of work.
type Outbox struct {
	conn  *db.Connection
	clock clock.Clock
}

// NewOutbox creates a new Outbox.
func NewOutbox(conn *db.Connection, c clock.Clock) *Outbox {
	if c == nil {
		c = clock.NewReal()
	}
	return &Outbox{conn: conn, clock: c}
}

// RecordTx enqueues entry using q, normally the *sql.Tx of the ledger
// mutation being audited. The entry's ID and timestamp are fixed here, at
// mutation time, not when the dispatcher delivers it.
func (o *Outbox) RecordTx(ctx context.Context, q db.Querier, entry Entry) error {
	if err := entry.validate(); err != nil {
		return err
	}

	now := o.clock.Now().UTC()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO audit_outbox (id, aggregate_id, payload, status, attempts, next_attempt_at, created_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)
	`, uuid.NewString(), entry.EntityID, string(payload), string(OutboxPending), db.FormatTime(now), db.FormatTime(now))
	if err != nil {
		return fmt.Errorf("failed to enqueue audit entry: %w", err)
	}

	return nil
}

// ListDue retrieves pending events whose next attempt is due, oldest first.
func (o *Outbox) ListDue(ctx context.Context, limit int) ([]OutboxEvent, error) {
	rows, err := o.conn.GetDB().QueryContext(ctx, `
		SELECT id, aggregate_id, payload, status, attempts, last_error, next_attempt_at, created_at, published_at
		FROM audit_outbox
		WHERE status = ? AND next_attempt_at <= ?
		ORDER BY created_at, id
		LIMIT ?
	`, string(OutboxPending), db.FormatTime(o.clock.Now()), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending outbox events: %w", err)
	}
	defer rows.Close()

	var events []OutboxEvent
	for rows.Next() {
		var (
			e                      OutboxEvent
			payload, status        string
			nextAttempt, createdAt string
			publishedAt            sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.AggregateID, &payload, &status, &e.Attempts, &e.LastError, &nextAttempt, &createdAt, &publishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		e.Payload = []byte(payload)
		e.Status = OutboxStatus(status)
		if e.NextAttemptAt, err = db.ParseTime(nextAttempt); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = db.ParseTime(createdAt); err != nil {
			return nil, err
		}
		if e.PublishedAt, err = db.ParseNullTime(publishedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// MarkPublished flags an event as delivered.
func (o *Outbox) MarkPublished(ctx context.Context, q db.Querier, id string) error {
	_, err := q.ExecContext(ctx,
		`UPDATE audit_outbox SET status = ?, published_at = ?, last_error = '' WHERE id = ?`,
		string(OutboxPublished), db.FormatTime(o.clock.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark outbox event published: %w", err)
	}
	return nil
}

// MarkFailed records a failed attempt. The event is retried at retryAt, or
// parked as failed once attempts reaches maxAttempts.
func (o *Outbox) MarkFailed(ctx context.Context, id, errMsg string, retryAt time.Time, maxAttempts int) error {
	_, err := o.conn.GetDB().ExecContext(ctx, `
		UPDATE audit_outbox
		SET attempts = attempts + 1,
		    last_error = ?,
		    next_attempt_at = ?,
		    status = CASE WHEN attempts + 1 >= ? THEN ? ELSE ? END
		WHERE id = ?
	`, errMsg, db.FormatTime(retryAt), maxAttempts, string(OutboxFailed), string(OutboxPending), id)
	if err != nil {
		return fmt.Errorf("failed to mark outbox event failed: %w", err)
	}
	return nil
}

// Counts returns the number of outbox events per status.
func (o *Outbox) Counts(ctx context.Context) (map[OutboxStatus]int, error) {
	rows, err := o.conn.GetDB().QueryContext(ctx, `SELECT status, COUNT(*) FROM audit_outbox GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count outbox events: %w", err)
	}
	defer rows.Close()

	counts := map[OutboxStatus]int{}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan outbox count: %w", err)
		}
		counts[OutboxStatus(status)] = n
	}

	return counts, rows.Err()
}
