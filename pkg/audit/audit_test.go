package audit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shunichi-ikebuchi/ledger-engine/pkg/clock"
	"github.com/shunichi-ikebuchi/ledger-engine/pkg/db"
)

type testEnv struct {
	conn       *db.Connection
	recorder   *Recorder
	outbox     *Outbox
	dispatcher *Dispatcher
	now        *time.Time
}

func setup(t *testing.T) *testEnv {
	t.Helper()

	conn, err := db.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	c := clock.FuncClock(func() time.Time { return now })

	env := &testEnv{
		conn:     conn,
		recorder: NewRecorder(conn, c),
		outbox:   NewOutbox(conn, c),
		now:      &now,
	}
	env.dispatcher = NewDispatcher(conn, env.outbox, env.recorder, c, DispatcherConfig{BatchSize: 10, MaxAttempts: 2}, nil)
	return env
}

func (e *testEnv) record(t *testing.T, action Action, entityID, description string) {
	t.Helper()
	entry, err := NewEntry("alice", action, "transaction", entityID,
		map[string]any{"amount": "10.00"}, map[string]any{"amount": "12.00"}, description)
	require.NoError(t, err)
	require.NoError(t, e.recorder.Record(context.Background(), e.conn.GetDB(), entry))
}

func TestDiff(t *testing.T) {
	before := map[string]any{"amount": "50.00", "accountId": "x", "tags": []any{"a"}, "notes": "n"}
	after := map[string]any{"amount": "80.00", "accountId": "y", "tags": []any{"a"}, "verified": true}

	changes := Diff(before, after)

	assert.Len(t, changes, 4)
	assert.Equal(t, Change{Before: "50.00", After: "80.00"}, changes["amount"])
	assert.Equal(t, Change{Before: "x", After: "y"}, changes["accountId"])
	assert.Equal(t, Change{Before: "n", After: nil}, changes["notes"])
	assert.Equal(t, Change{Before: nil, After: true}, changes["verified"])
	assert.NotContains(t, changes, "tags")
}

func TestEntryChangesForCreate(t *testing.T) {
	entry, err := NewEntry("alice", ActionCreate, "transaction", "t1", nil, map[string]any{"amount": 5}, "created")
	require.NoError(t, err)
	assert.Empty(t, entry.Before)

	changes, err := entry.Changes()
	require.NoError(t, err)
	require.Contains(t, changes, "amount")
	assert.Nil(t, changes["amount"].Before)
}

func TestNewEntryValidation(t *testing.T) {
	_, err := NewEntry("", ActionCreate, "transaction", "t1", nil, nil, "")
	assert.ErrorIs(t, err, ErrInvalidEntry)

	_, err = NewEntry("alice", Action("merge"), "transaction", "t1", nil, nil, "")
	assert.ErrorIs(t, err, ErrInvalidEntry)
}

func TestQueryFiltersAndPaginates(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	env.record(t, ActionCreate, "t1", "Created transaction coffee")
	*env.now = env.now.Add(time.Minute)
	env.record(t, ActionUpdate, "t1", "Updated transaction coffee")
	*env.now = env.now.Add(time.Minute)
	env.record(t, ActionDelete, "t2", "Deleted transaction rent_100%")

	page, err := env.recorder.Query(ctx, "alice", Filter{})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Entries, 3)
	assert.Equal(t, ActionDelete, page.Entries[0].Action, "newest first")

	page, err = env.recorder.Query(ctx, "alice", Filter{EntityID: "t1", Limit: 1, Page: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, ActionCreate, page.Entries[0].Action)

	page, err = env.recorder.Query(ctx, "alice", Filter{Search: "100%"})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	page, err = env.recorder.Query(ctx, "alice", Filter{Action: ActionUpdate})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	from := time.Date(2026, 10, 16, 9, 1, 0, 0, time.UTC)
	page, err = env.recorder.Query(ctx, "alice", Filter{From: &from})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)

	page, err = env.recorder.Query(ctx, "bob", Filter{})
	require.NoError(t, err)
	assert.Equal(t, 0, page.Total)
	assert.Empty(t, page.Entries)
}

func TestActivitySummary(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	env.record(t, ActionCreate, "t1", "")
	env.record(t, ActionCreate, "t2", "")
	*env.now = env.now.Add(24 * time.Hour)
	env.record(t, ActionUpdate, "t1", "")
	env.record(t, ActionDelete, "t2", "")

	start := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	summary, err := env.recorder.ActivitySummary(ctx, "alice", start, end)
	require.NoError(t, err)

	assert.Equal(t, 4, summary.Total)
	require.Len(t, summary.Days, 2)
	assert.Equal(t, DayActivity{Date: "2026-10-16", Create: 2, Total: 2}, summary.Days[0])
	assert.Equal(t, DayActivity{Date: "2026-10-17", Update: 1, Delete: 1, Total: 2}, summary.Days[1])
}

func TestAuditLogIsAppendOnly(t *testing.T) {
	env := setup(t)
	env.record(t, ActionCreate, "t1", "")

	_, err := env.conn.GetDB().Exec(`UPDATE audit_log SET description = 'tampered'`)
	assert.Error(t, err)

	_, err = env.conn.GetDB().Exec(`DELETE FROM audit_log`)
	assert.Error(t, err)
}

func TestDispatcherDeliversOutbox(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	entry, err := NewEntry("alice", ActionCreate, "transaction", "t1", nil, map[string]any{"amount": "1.00"}, "created")
	require.NoError(t, err)
	require.NoError(t, env.outbox.RecordTx(ctx, env.conn.GetDB(), entry))

	result, err := env.dispatcher.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, DispatchResult{Processed: 1, Published: 1}, result)

	page, err := env.recorder.Query(ctx, "alice", Filter{EntityID: "t1"})
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	assert.True(t, page.Entries[0].CreatedAt.Equal(*env.now))

	result, err = env.dispatcher.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Processed)

	counts, err := env.outbox.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[OutboxPublished])
}

type failingSink struct{ calls int }

func (s *failingSink) Record(context.Context, db.Querier, Entry) error {
	s.calls++
	return errors.New("audit store unavailable")
}

func TestDispatcherRetriesThenParks(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	sink := &failingSink{}
	c := clock.FuncClock(func() time.Time { return *env.now })
	d := NewDispatcher(env.conn, env.outbox, sink, c, DispatcherConfig{MaxAttempts: 2, RetryBase: time.Minute}, nil)

	entry, err := NewEntry("alice", ActionDelete, "transaction", "t1", map[string]any{"amount": "1.00"}, nil, "deleted")
	require.NoError(t, err)
	require.NoError(t, env.outbox.RecordTx(ctx, env.conn.GetDB(), entry))

	result, err := d.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	result, err = d.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Processed, "retry is not due yet")

	*env.now = env.now.Add(2 * time.Minute)
	result, err = d.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	counts, err := env.outbox.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[OutboxFailed])
	assert.Equal(t, 2, sink.calls)
}

func TestRecordIgnoresRedelivery(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	entry, err := NewEntry("alice", ActionCreate, "transaction", "t1", nil, map[string]any{"a": 1}, "")
	require.NoError(t, err)
	entry.ID = "fixed-id"

	require.NoError(t, env.recorder.Record(ctx, env.conn.GetDB(), entry))
	require.NoError(t, env.recorder.Record(ctx, env.conn.GetDB(), entry))

	page, err := env.recorder.Query(ctx, "alice", Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
}
