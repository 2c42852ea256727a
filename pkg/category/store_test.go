package category

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shunichi-ikebuchi/ledger-engine/pkg/db"
)

func TestSeedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer conn.Close()

	store := NewStore(conn, nil)
	defaults := []Default{
		{Name: "Groceries", Kind: KindExpense},
		{Name: "Salary", Kind: KindIncome},
	}

	n, err := store.Seed(ctx, "alice", defaults)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = store.Seed(ctx, "alice", defaults)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	categories, err := store.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, categories, 2)
	assert.Equal(t, "Groceries", categories[0].Name)

	ok, err := store.Exists(ctx, conn.GetDB(), "alice", categories[0].ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Exists(ctx, conn.GetDB(), "bob", categories[0].ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCreateRejectsUnknownKind(t *testing.T) {
	conn, err := db.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer conn.Close()

	_, err = NewStore(conn, nil).Create(context.Background(), "alice", "Misc", Kind("transfer"))
	assert.ErrorIs(t, err, ErrInvalidInput)
}
