package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shunichi-ikebuchi/ledger-engine/pkg/clock"
	"github.com/shunichi-ikebuchi/ledger-engine/pkg/db"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// Recorder appends to and reads from audit_log.
type Recorder struct {
	conn  *db.Connection
	clock clock.Clock
}

// NewRecorder creates a new Recorder.
func NewRecorder(conn *db.Connection, c clock.Clock) *Recorder {
	if c == nil {
		c = clock.NewReal()
	}
	return &Recorder{conn: conn, clock: c}
}

// Record appends one entry. An entry whose ID is already present is ignored,
// so redelivery from the outbox never duplicates a record.
func (r *Recorder) Record(ctx context.Context, q db.Querier, entry Entry) error {
	if err := entry.validate(); err != nil {
		return err
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.clock.Now()
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO audit_log (id, owner_id, action, entity_type, entity_id, before_snapshot, after_snapshot, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		entry.ID, entry.OwnerID, string(entry.Action), entry.EntityType, entry.EntityID,
		nullableJSON(entry.Before), nullableJSON(entry.After), entry.Description,
		db.FormatTime(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}

	return nil
}

// Filter narrows an audit query. From is inclusive and To is exclusive.
type Filter struct {
	From       *time.Time
	To         *time.Time
	Action     Action
	EntityType string
	EntityID   string
	Search     string
	Page       int
	Limit      int
}

// Page is one page of audit entries, newest first.
type Page struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Page    int     `json:"page"`
	Limit   int     `json:"limit"`
}

// Query retrieves an owner's entries matching filter, newest first.
func (r *Recorder) Query(ctx context.Context, ownerID string, filter Filter) (*Page, error) {
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

	if filter.From != nil {
		where = append(where, "created_at >= ?")
		args = append(args, db.FormatTime(*filter.From))
	}
	if filter.To != nil {
		where = append(where, "created_at < ?")
		args = append(args, db.FormatTime(*filter.To))
	}
	if filter.Action != "" {
		where = append(where, "action = ?")
		args = append(args, string(filter.Action))
	}
	if filter.EntityType != "" {
		where = append(where, "entity_type = ?")
		args = append(args, filter.EntityType)
	}
	if filter.EntityID != "" {
		where = append(where, "entity_id = ?")
		args = append(args, filter.EntityID)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		where = append(where, "description LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(search)+"%")
	}

	clause := strings.Join(where, " AND ")
	conn := r.conn.GetDB()

	var total int
	if err := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_log WHERE "+clause, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count audit entries: %w", err)
	}

	query := `
		SELECT id, owner_id, action, entity_type, entity_id, before_snapshot, after_snapshot, description, created_at
		FROM audit_log
		WHERE ` + clause + `
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`
	rows, err := conn.QueryContext(ctx, query, append(args, limit, (page-1)*limit)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e             Entry
			action        string
			before, after sql.NullString
			createdAt     string
		)
		if err := rows.Scan(&e.ID, &e.OwnerID, &action, &e.EntityType, &e.EntityID, &before, &after, &e.Description, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Action = Action(action)
		if before.Valid {
			e.Before = []byte(before.String)
		}
		if after.Valid {
			e.After = []byte(after.String)
		}
		if e.CreatedAt, err = db.ParseTime(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit entries: %w", err)
	}

	return &Page{Entries: entries, Total: total, Page: page, Limit: limit}, nil
}

// DayActivity counts one calendar day's (UTC) entries per action.
type DayActivity struct {
	Date   string `json:"date"`
	Create int    `json:"create"`
	Update int    `json:"update"`
	Delete int    `json:"delete"`
	Total  int    `json:"total"`
}

// Summary is the activity of an owner over a time range.
type Summary struct {
	Days  []DayActivity `json:"days"`
	Total int           `json:"total"`
}

// ActivitySummary groups an owner's entries in [start, end) by day and action.
func (r *Recorder) ActivitySummary(ctx context.Context, ownerID string, start, end time.Time) (*Summary, error) {
	rows, err := r.conn.GetDB().QueryContext(ctx, `
		SELECT substr(created_at, 1, 10) AS day, action, COUNT(*)
		FROM audit_log
		WHERE owner_id = ? AND created_at >= ? AND created_at < ?
		GROUP BY day, action
		ORDER BY day
	`, ownerID, db.FormatTime(start), db.FormatTime(end))
	if err != nil {
		return nil, fmt.Errorf("failed to summarize audit activity: %w", err)
	}
	defer rows.Close()

	summary := &Summary{Days: []DayActivity{}}
	index := make(map[string]int)
	for rows.Next() {
		var (
			day, action string
			count       int
		)
		if err := rows.Scan(&day, &action, &count); err != nil {
			return nil, fmt.Errorf("failed to scan activity row: %w", err)
		}

		i, ok := index[day]
		if !ok {
			summary.Days = append(summary.Days, DayActivity{Date: day})
			i = len(summary.Days) - 1
			index[day] = i
		}

		d := &summary.Days[i]
		switch Action(action) {
		case ActionCreate:
			d.Create += count
		case ActionUpdate:
			d.Update += count
		case ActionDelete:
			d.Delete += count
		}
		d.Total += count
		summary.Total += count
	}

	return summary, rows.Err()
}

func nullableJSON(raw []byte) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
