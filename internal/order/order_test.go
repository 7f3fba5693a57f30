package order

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tithebookapp/tithebook-server/internal/domain"
	"github.com/tithebookapp/tithebook-server/internal/store"
)

func setupService(t *testing.T) *Service {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := store.New(t.TempDir(), logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})

	return NewService(s, logger)
}

func testRoster() []domain.RosterMember {
	return []domain.RosterMember{
		{MembershipID: "M001", Surname: "MENSAH", FirstName: "Kofi"},
		{MembershipID: "M002", Surname: "OWUSU", FirstName: "Ama"},
		{MembershipID: "M003", Surname: "BOATENG", FirstName: "Yaw"},
	}
}

func memberIDs(entries []*domain.MemberOrderEntry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.MemberID
	}
	return ids
}

func TestInitializeOrder(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	created, err := svc.InitializeOrder(ctx, "Grace Assembly", testRoster(), "2026-03")
	require.NoError(t, err)
	assert.Equal(t, 3, created)

	entries, err := svc.GetOrderedMembers(ctx, "Grace Assembly")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []string{"M001", "M002", "M003"}, memberIDs(entries))
	for i, e := range entries {
		assert.Equal(t, i+1, e.TitheBookIndex)
		assert.Equal(t, "2026-03", e.FirstSeenMonth)
		assert.True(t, e.IsActive)
	}
}

func TestInitializeOrderIsIdempotent(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	_, err := svc.InitializeOrder(ctx, "Grace Assembly", testRoster(), "2026-03")
	require.NoError(t, err)

	created, err := svc.InitializeOrder(ctx, "Grace Assembly", testRoster(), "2026-04")
	require.NoError(t, err)
	assert.Zero(t, created)

	history, err := svc.GetHistory(ctx, "Grace Assembly")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestApplyNewOrder(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	_, err := svc.InitializeOrder(ctx, "Grace Assembly", testRoster(), "2026-03")
	require.NoError(t, err)

	err = svc.ApplyNewOrder(ctx, "Grace Assembly", []string{"M003", "M001", "M002"}, domain.ChangeReorder, "match physical book")
	require.NoError(t, err)

	entries, err := svc.GetOrderedMembers(ctx, "Grace Assembly")
	require.NoError(t, err)
	assert.Equal(t, []string{"M003", "M001", "M002"}, memberIDs(entries))

	history, err := svc.GetHistory(ctx, "Grace Assembly")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.ChangeReorder, history[0].Kind)
	assert.NotEmpty(t, history[0].SnapshotID)
}

func TestApplyNewOrderRejectsBadSequences(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	_, err := svc.InitializeOrder(ctx, "Grace Assembly", testRoster(), "2026-03")
	require.NoError(t, err)

	tests := []struct {
		name string
		ids  []string
	}{
		{"too few members", []string{"M001", "M002"}},
		{"unknown member", []string{"M001", "M002", "M999"}},
		{"duplicate member", []string{"M001", "M002", "M002"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.ApplyNewOrder(ctx, "Grace Assembly", tt.ids, domain.ChangeReorder, "")
			assert.Error(t, err)
		})
	}

	// Rejected mutations leave the order untouched.
	entries, err := svc.GetOrderedMembers(ctx, "Grace Assembly")
	require.NoError(t, err)
	assert.Equal(t, []string{"M001", "M002", "M003"}, memberIDs(entries))
}

func TestSyncWithMasterList(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	_, err := svc.InitializeOrder(ctx, "Grace Assembly", testRoster(), "2026-03")
	require.NoError(t, err)

	// M002 leaves, M004 joins.
	newRoster := []domain.RosterMember{
		{MembershipID: "M001", Surname: "MENSAH", FirstName: "Kofi"},
		{MembershipID: "M003", Surname: "BOATENG", FirstName: "Yaw"},
		{MembershipID: "M004", Surname: "ASANTE", FirstName: "Akosua"},
	}

	result, err := svc.SyncWithMasterList(ctx, "Grace Assembly", newRoster, "2026-04")
	require.NoError(t, err)
	assert.Equal(t, []string{"M004"}, result.Added)
	assert.Equal(t, []string{"M002"}, result.Deactivated)
	assert.Empty(t, result.Reactivated)

	entries, err := svc.GetOrderedMembers(ctx, "Grace Assembly")
	require.NoError(t, err)
	assert.Equal(t, []string{"M001", "M003", "M004"}, memberIDs(entries))
	for i, e := range entries {
		assert.Equal(t, i+1, e.TitheBookIndex)
	}

	// New member's first-seen month is the sync month.
	assert.Equal(t, "2026-04", entries[2].FirstSeenMonth)
}

func TestSyncReactivatesReturningMember(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	_, err := svc.InitializeOrder(ctx, "Grace Assembly", testRoster(), "2026-03")
	require.NoError(t, err)

	// M002 leaves...
	smaller := []domain.RosterMember{
		{MembershipID: "M001", Surname: "MENSAH", FirstName: "Kofi"},
		{MembershipID: "M003", Surname: "BOATENG", FirstName: "Yaw"},
	}
	_, err = svc.SyncWithMasterList(ctx, "Grace Assembly", smaller, "2026-04")
	require.NoError(t, err)

	// ...and comes back.
	result, err := svc.SyncWithMasterList(ctx, "Grace Assembly", testRoster(), "2026-05")
	require.NoError(t, err)
	assert.Equal(t, []string{"M002"}, result.Reactivated)

	entries, err := svc.GetOrderedMembers(ctx, "Grace Assembly")
	require.NoError(t, err)
	// Returning members rejoin at the end, keeping their original first-seen month.
	assert.Equal(t, []string{"M001", "M003", "M002"}, memberIDs(entries))
	assert.Equal(t, "2026-03", entries[2].FirstSeenMonth)
}

func TestSyncWithUnchangedRosterIsNoOp(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	_, err := svc.InitializeOrder(ctx, "Grace Assembly", testRoster(), "2026-03")
	require.NoError(t, err)

	result, err := svc.SyncWithMasterList(ctx, "Grace Assembly", testRoster(), "2026-04")
	require.NoError(t, err)
	assert.False(t, result.Changed())

	history, err := svc.GetHistory(ctx, "Grace Assembly")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestRestoreSnapshot(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	_, err := svc.InitializeOrder(ctx, "Grace Assembly", testRoster(), "2026-03")
	require.NoError(t, err)

	require.NoError(t, svc.ApplyNewOrder(ctx, "Grace Assembly", []string{"M003", "M001", "M002"}, domain.ChangeReorder, ""))

	history, err := svc.GetHistory(ctx, "Grace Assembly")
	require.NoError(t, err)
	snapshotID := history[0].SnapshotID
	require.NotEmpty(t, snapshotID)

	result, err := svc.RestoreSnapshot(ctx, "Grace Assembly", snapshotID)
	require.NoError(t, err)
	assert.Equal(t, 3, result.RestoredCount)
	assert.Empty(t, result.AppendedMembers)

	entries, err := svc.GetOrderedMembers(ctx, "Grace Assembly")
	require.NoError(t, err)
	assert.Equal(t, []string{"M001", "M002", "M003"}, memberIDs(entries))
}

func TestRestoreSnapshotAppendsLaterJoiners(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	_, err := svc.InitializeOrder(ctx, "Grace Assembly", testRoster(), "2026-03")
	require.NoError(t, err)

	require.NoError(t, svc.ApplyNewOrder(ctx, "Grace Assembly", []string{"M003", "M001", "M002"}, domain.ChangeReorder, ""))

	history, err := svc.GetHistory(ctx, "Grace Assembly")
	require.NoError(t, err)
	snapshotID := history[0].SnapshotID

	// M004 joins after the snapshot was taken.
	bigger := append(testRoster(), domain.RosterMember{MembershipID: "M004", Surname: "ASANTE", FirstName: "Akosua"})
	_, err = svc.SyncWithMasterList(ctx, "Grace Assembly", bigger, "2026-04")
	require.NoError(t, err)

	result, err := svc.RestoreSnapshot(ctx, "Grace Assembly", snapshotID)
	require.NoError(t, err)
	assert.Equal(t, 3, result.RestoredCount)
	assert.Equal(t, []string{"M004"}, result.AppendedMembers)

	entries, err := svc.GetOrderedMembers(ctx, "Grace Assembly")
	require.NoError(t, err)
	assert.Equal(t, []string{"M001", "M002", "M003", "M004"}, memberIDs(entries))

	report, err := svc.ValidateIntegrity(ctx, "Grace Assembly")
	require.NoError(t, err)
	assert.True(t, report.IsHealthy)
}

func TestRestoreSnapshotRejectsWrongAssembly(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	_, err := svc.InitializeOrder(ctx, "Grace Assembly", testRoster(), "2026-03")
	require.NoError(t, err)
	require.NoError(t, svc.ApplyNewOrder(ctx, "Grace Assembly", []string{"M002", "M001", "M003"}, domain.ChangeReorder, ""))

	history, err := svc.GetHistory(ctx, "Grace Assembly")
	require.NoError(t, err)
	snapshotID := history[0].SnapshotID

	_, err = svc.RestoreSnapshot(ctx, "Bethel Assembly", snapshotID)
	assert.Error(t, err)
}

func TestRestoreSnapshotNotFound(t *testing.T) {
	svc := setupService(t)

	_, err := svc.RestoreSnapshot(context.Background(), "Grace Assembly", "snap-missing")
	assert.Error(t, err)
}

func TestValidateIntegrityFlagsCorruption(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	_, err := svc.InitializeOrder(ctx, "Grace Assembly", testRoster(), "2026-03")
	require.NoError(t, err)

	// Healthy after a clean import.
	report, err := svc.ValidateIntegrity(ctx, "Grace Assembly")
	require.NoError(t, err)
	assert.True(t, report.IsHealthy)

	// Corrupt one entry behind the service's back.
	entries, err := svc.GetOrderedMembers(ctx, "Grace Assembly")
	require.NoError(t, err)
	entries[2].TitheBookIndex = 1
	require.NoError(t, svc.store.Orders.Put(ctx, entries[2].ID, entries[2]))

	report, err = svc.ValidateIntegrity(ctx, "Grace Assembly")
	require.NoError(t, err)
	assert.False(t, report.IsHealthy)
	assert.Equal(t, []int{1}, report.DuplicateIndices)
}

func TestSnapshotRetention(t *testing.T) {
	svc := setupService(t)
	svc.snapshotRetention = 2
	ctx := context.Background()

	_, err := svc.InitializeOrder(ctx, "Grace Assembly", testRoster(), "2026-03")
	require.NoError(t, err)

	orders := [][]string{
		{"M002", "M001", "M003"},
		{"M003", "M002", "M001"},
		{"M001", "M003", "M002"},
		{"M001", "M002", "M003"},
	}
	for _, o := range orders {
		require.NoError(t, svc.ApplyNewOrder(ctx, "Grace Assembly", o, domain.ChangeReorder, ""))
	}

	snapshots, err := svc.store.Snapshots.ListByIndex(ctx, "assembly", "Grace Assembly")
	require.NoError(t, err)
	assert.Len(t, snapshots, 2)

	// History keeps every mutation even after its snapshot is pruned.
	history, err := svc.GetHistory(ctx, "Grace Assembly")
	require.NoError(t, err)
	assert.Len(t, history, 5)
}