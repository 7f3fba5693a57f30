package store

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tithebookapp/tithebook-server/internal/domain"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := New(t.TempDir(), logger)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})

	return s
}

func orderEntry(id, assembly, memberID string, index int) *domain.MemberOrderEntry {
	return &domain.MemberOrderEntry{
		ID:             id,
		AssemblyName:   assembly,
		MemberID:       memberID,
		DisplayName:    "MENSAH Kofi",
		TitheBookIndex: index,
		FirstSeenDate:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		FirstSeenMonth: "2026-03",
		LastUpdated:    time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		IsActive:       true,
	}
}

func TestEntityCRUD(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	entry := orderEntry("ord-1", "Grace Assembly", "M001", 1)
	require.NoError(t, s.Orders.Create(ctx, entry.ID, entry))

	got, err := s.Orders.Get(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, "M001", got.MemberID)
	assert.Equal(t, 1, got.TitheBookIndex)

	got.TitheBookIndex = 3
	require.NoError(t, s.Orders.Update(ctx, "ord-1", got))

	got, err = s.Orders.Get(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, 3, got.TitheBookIndex)

	require.NoError(t, s.Orders.Delete(ctx, "ord-1"))
	_, err = s.Orders.Get(ctx, "ord-1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Delete is idempotent.
	require.NoError(t, s.Orders.Delete(ctx, "ord-1"))
}

func TestCreateDuplicateFails(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	entry := orderEntry("ord-1", "Grace Assembly", "M001", 1)
	require.NoError(t, s.Orders.Create(ctx, entry.ID, entry))

	err := s.Orders.Create(ctx, entry.ID, entry)
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestPutUpserts(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	entry := orderEntry("ord-1", "Grace Assembly", "M001", 1)
	require.NoError(t, s.Orders.Put(ctx, entry.ID, entry))

	entry.TitheBookIndex = 2
	require.NoError(t, s.Orders.Put(ctx, entry.ID, entry))

	got, err := s.Orders.Get(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.TitheBookIndex)
}

func TestPutReindexesOnAssemblyChange(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	entry := orderEntry("ord-1", "Grace Assembly", "M001", 1)
	require.NoError(t, s.Orders.Put(ctx, entry.ID, entry))

	entry.AssemblyName = "Bethel Assembly"
	require.NoError(t, s.Orders.Put(ctx, entry.ID, entry))

	old, err := s.Orders.ListByIndex(ctx, "assembly", "Grace Assembly")
	require.NoError(t, err)
	assert.Empty(t, old)

	moved, err := s.Orders.ListByIndex(ctx, "assembly", "Bethel Assembly")
	require.NoError(t, err)
	require.Len(t, moved, 1)
	assert.Equal(t, "ord-1", moved[0].ID)
}

func TestListByIndexScopesToAssembly(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Orders.Put(ctx, "ord-b", orderEntry("ord-b", "Grace Assembly", "M002", 2)))
	require.NoError(t, s.Orders.Put(ctx, "ord-a", orderEntry("ord-a", "Grace Assembly", "M001", 1)))
	require.NoError(t, s.Orders.Put(ctx, "ord-c", orderEntry("ord-c", "Bethel Assembly", "M003", 1)))

	entries, err := s.Orders.ListByIndex(ctx, "assembly", "Grace Assembly")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "ord-a", entries[0].ID)
	assert.Equal(t, "ord-b", entries[1].ID)
}

func TestListByIndexNormalizesLookup(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Orders.Put(ctx, "ord-a", orderEntry("ord-a", "Grace Assembly", "M001", 1)))

	entries, err := s.Orders.ListByIndex(ctx, "assembly", "GRACE  assembly")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestActionKeysIterateInSubmissionOrder(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	var keys []string
	for i := 0; i < 3; i++ {
		seq, err := s.NextActionSeq()
		require.NoError(t, err)
		key := ActionKey(seq)
		keys = append(keys, key)

		action := &domain.PendingAction{
			ID:        key,
			Seq:       seq,
			Type:      domain.ActionUpdateTithe,
			EntityID:  "M001",
			Timestamp: time.Now(),
		}
		require.NoError(t, s.Actions.Create(ctx, key, action))
	}

	var got []string
	for action, err := range s.Actions.List(ctx) {
		require.NoError(t, err)
		got = append(got, action.ID)
	}
	assert.Equal(t, keys, got)
}

func TestCorrections(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, found, err := s.LookupCorrection(ctx, "Grace Assembly", 700)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.RecordCorrection(ctx, "Grace Assembly", 700, 7.00))

	corrected, found, err := s.LookupCorrection(ctx, "Grace Assembly", 700)
	require.NoError(t, err)
	assert.True(t, found)
	assert.InDelta(t, 7.00, corrected, 0.001)

	// Corrections are scoped per assembly.
	_, found, err = s.LookupCorrection(ctx, "Bethel Assembly", 700)
	require.NoError(t, err)
	assert.False(t, found)

	// Re-recording overwrites.
	require.NoError(t, s.RecordCorrection(ctx, "Grace Assembly", 700, 70.00))
	corrected, found, err = s.LookupCorrection(ctx, "Grace Assembly", 700)
	require.NoError(t, err)
	assert.True(t, found)
	assert.InDelta(t, 70.00, corrected, 0.001)
}
