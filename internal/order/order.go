// Package order maintains the durable per-assembly member ordering that
// mirrors the physical tithe book. Every mutation is serialized per
// assembly, snapshotted beforehand, and recorded in an append-only
// history, so a bad reorder is always one restore away from undone.
package order

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tithebookapp/tithebook-server/internal/domain"
	"github.com/tithebookapp/tithebook-server/internal/errors"
	"github.com/tithebookapp/tithebook-server/internal/id"
	"github.com/tithebookapp/tithebook-server/internal/store"
	"github.com/tithebookapp/tithebook-server/internal/util"
)

// DefaultSnapshotRetention bounds how many pre-mutation snapshots are kept
// per assembly. History entries outlive their snapshots.
const DefaultSnapshotRetention = 20

// Service owns all member-order mutations.
type Service struct {
	store  *store.Store
	logger *slog.Logger

	// One mutex per assembly slug. Mutations on different assemblies
	// proceed concurrently; per assembly they are serialized.
	locks *util.SyncMap[string, *sync.Mutex]

	snapshotRetention int
}

// NewService creates the order service.
func NewService(s *store.Store, logger *slog.Logger) *Service {
	return &Service{
		store:             s,
		logger:            logger,
		locks:             util.NewSyncMap[string, *sync.Mutex](),
		snapshotRetention: DefaultSnapshotRetention,
	}
}

// SetSnapshotRetention overrides how many snapshots are kept per
// assembly. Values below 1 are ignored.
func (s *Service) SetSnapshotRetention(n int) {
	if n >= 1 {
		s.snapshotRetention = n
	}
}

func (s *Service) lock(assembly string) func() {
	mu, _ := s.locks.LoadOrStore(util.NormalizeSlug(assembly), &sync.Mutex{})
	mu.Lock()
	return mu.Unlock
}

// SyncResult reports what a master-list reconciliation changed.
type SyncResult struct {
	Added       []string `json:"added,omitempty"`       // member IDs appended at the end
	Deactivated []string `json:"deactivated,omitempty"` // member IDs no longer on the roster
	Reactivated []string `json:"reactivated,omitempty"` // member IDs that rejoined
}

// Changed reports whether the sync mutated anything.
func (r *SyncResult) Changed() bool {
	return len(r.Added) > 0 || len(r.Deactivated) > 0 || len(r.Reactivated) > 0
}

// RestoreResult reports the outcome of a snapshot restore.
type RestoreResult struct {
	RestoredCount   int      `json:"restored_count"`
	AppendedMembers []string `json:"appended_members,omitempty"` // joined after the snapshot, kept at the end
}

// InitializeOrder seeds an assembly's ordering from the master roster in
// roster order. Calling it again for an initialized assembly is a no-op,
// so accidental double imports cannot scramble positions.
func (s *Service) InitializeOrder(ctx context.Context, assembly string, roster []domain.RosterMember, month string) (int, error) {
	unlock := s.lock(assembly)
	defer unlock()

	existing, err := s.store.Orders.ListByIndex(ctx, "assembly", assembly)
	if err != nil {
		return 0, fmt.Errorf("list order entries: %w", err)
	}
	if len(existing) > 0 {
		s.logger.Debug("order already initialized", "assembly", assembly, "entries", len(existing))
		return 0, nil
	}

	now := time.Now()
	for i, member := range roster {
		entry := &domain.MemberOrderEntry{
			ID:             id.OrderEntry(assembly, member.MembershipID),
			AssemblyName:   assembly,
			MemberID:       member.MembershipID,
			DisplayName:    member.FullName(),
			TitheBookIndex: i + 1,
			FirstSeenDate:  now,
			FirstSeenMonth: month,
			LastUpdated:    now,
			IsActive:       true,
		}
		if err := s.store.Orders.Put(ctx, entry.ID, entry); err != nil {
			return 0, fmt.Errorf("store order entry for %s: %w", member.MembershipID, err)
		}
	}

	if err := s.recordHistory(ctx, assembly, domain.ChangeImport, "initial import from master list", "", len(roster)); err != nil {
		return 0, err
	}

	s.logger.Info("initialized member order", "assembly", assembly, "members", len(roster))
	return len(roster), nil
}

// GetOrderedMembers returns the assembly's active entries sorted by
// tithe-book index.
func (s *Service) GetOrderedMembers(ctx context.Context, assembly string) ([]*domain.MemberOrderEntry, error) {
	entries, err := s.store.Orders.ListByIndex(ctx, "assembly", assembly)
	if err != nil {
		return nil, fmt.Errorf("list order entries: %w", err)
	}

	active := make([]*domain.MemberOrderEntry, 0, len(entries))
	for _, e := range entries {
		if e.IsActive {
			active = append(active, e)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].TitheBookIndex < active[j].TitheBookIndex
	})
	return active, nil
}

// ApplyNewOrder atomically replaces the assembly's ordering with the given
// member ID sequence. The sequence must be exactly the active membership,
// no more, no fewer. A pre-mutation snapshot is taken first.
func (s *Service) ApplyNewOrder(ctx context.Context, assembly string, memberIDs []string, kind domain.ChangeKind, description string) error {
	unlock := s.lock(assembly)
	defer unlock()

	active, err := s.GetOrderedMembers(ctx, assembly)
	if err != nil {
		return err
	}

	byMember := make(map[string]*domain.MemberOrderEntry, len(active))
	for _, e := range active {
		byMember[e.MemberID] = e
	}

	if len(memberIDs) != len(active) {
		return errors.Validationf("new order has %d members, assembly has %d active", len(memberIDs), len(active))
	}
	seen := make(map[string]bool, len(memberIDs))
	for _, memberID := range memberIDs {
		if seen[memberID] {
			return errors.Validationf("member %s appears twice in new order", memberID)
		}
		seen[memberID] = true
		if _, ok := byMember[memberID]; !ok {
			return errors.Validationf("member %s is not an active member of %s", memberID, assembly)
		}
	}

	snapshotID, err := s.takeSnapshot(ctx, assembly, active)
	if err != nil {
		return err
	}

	for position, memberID := range memberIDs {
		entry := byMember[memberID]
		if entry.TitheBookIndex == position+1 {
			continue
		}
		entry.TitheBookIndex = position + 1
		entry.Touch()
		if err := s.store.Orders.Put(ctx, entry.ID, entry); err != nil {
			return fmt.Errorf("store order entry for %s: %w", memberID, err)
		}
	}

	if err := s.recordHistory(ctx, assembly, kind, description, snapshotID, len(memberIDs)); err != nil {
		return err
	}

	s.logger.Info("applied new member order",
		"assembly", assembly,
		"kind", kind,
		"members", len(memberIDs),
	)
	return nil
}

// SyncWithMasterList reconciles the ordering against the current roster.
// New members are appended at the end in roster order, departed members
// are deactivated, and returning members are reactivated at the end.
// Existing relative positions never change.
func (s *Service) SyncWithMasterList(ctx context.Context, assembly string, roster []domain.RosterMember, month string) (*SyncResult, error) {
	unlock := s.lock(assembly)
	defer unlock()

	entries, err := s.store.Orders.ListByIndex(ctx, "assembly", assembly)
	if err != nil {
		return nil, fmt.Errorf("list order entries: %w", err)
	}

	byMember := make(map[string]*domain.MemberOrderEntry, len(entries))
	for _, e := range entries {
		byMember[e.MemberID] = e
	}
	onRoster := make(map[string]domain.RosterMember, len(roster))
	for _, m := range roster {
		onRoster[m.MembershipID] = m
	}

	result := &SyncResult{}

	var active []*domain.MemberOrderEntry
	for _, e := range entries {
		if e.IsActive {
			active = append(active, e)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].TitheBookIndex < active[j].TitheBookIndex
	})

	snapshotID := ""

	// Deactivate departed members.
	var kept []*domain.MemberOrderEntry
	for _, e := range active {
		if _, ok := onRoster[e.MemberID]; ok {
			kept = append(kept, e)
			continue
		}
		if snapshotID == "" {
			if snapshotID, err = s.takeSnapshot(ctx, assembly, active); err != nil {
				return nil, err
			}
		}
		e.IsActive = false
		e.Touch()
		if err := s.store.Orders.Put(ctx, e.ID, e); err != nil {
			return nil, fmt.Errorf("deactivate %s: %w", e.MemberID, err)
		}
		result.Deactivated = append(result.Deactivated, e.MemberID)
	}

	// Reactivate returning members and append new ones, in roster order.
	now := time.Now()
	for _, member := range roster {
		existing, ok := byMember[member.MembershipID]
		if ok && existing.IsActive {
			continue
		}
		if snapshotID == "" {
			if snapshotID, err = s.takeSnapshot(ctx, assembly, active); err != nil {
				return nil, err
			}
		}
		if ok {
			existing.IsActive = true
			existing.Touch()
			kept = append(kept, existing)
			result.Reactivated = append(result.Reactivated, member.MembershipID)
			continue
		}
		entry := &domain.MemberOrderEntry{
			ID:             id.OrderEntry(assembly, member.MembershipID),
			AssemblyName:   assembly,
			MemberID:       member.MembershipID,
			DisplayName:    member.FullName(),
			FirstSeenDate:  now,
			FirstSeenMonth: month,
			LastUpdated:    now,
			IsActive:       true,
		}
		byMember[member.MembershipID] = entry
		kept = append(kept, entry)
		result.Added = append(result.Added, member.MembershipID)
	}

	if !result.Changed() {
		return result, nil
	}

	// Compact to a contiguous 1..N over the surviving order.
	for i, e := range kept {
		if e.TitheBookIndex != i+1 {
			e.TitheBookIndex = i + 1
			e.Touch()
		}
		if err := s.store.Orders.Put(ctx, e.ID, e); err != nil {
			return nil, fmt.Errorf("store order entry for %s: %w", e.MemberID, err)
		}
	}

	description := fmt.Sprintf("roster sync: %d added, %d deactivated, %d reactivated",
		len(result.Added), len(result.Deactivated), len(result.Reactivated))
	if err := s.recordHistory(ctx, assembly, domain.ChangeImport, description, snapshotID, len(kept)); err != nil {
		return nil, err
	}

	s.logger.Info("synced member order with master list",
		"assembly", assembly,
		"added", len(result.Added),
		"deactivated", len(result.Deactivated),
		"reactivated", len(result.Reactivated),
	)
	return result, nil
}

// RestoreSnapshot rolls the assembly back to a snapshot. Members who
// joined after the snapshot keep their membership and are appended after
// the restored block in their current relative order. The restore itself
// takes a snapshot, so it can be undone too.
func (s *Service) RestoreSnapshot(ctx context.Context, assembly, snapshotID string) (*RestoreResult, error) {
	unlock := s.lock(assembly)
	defer unlock()

	snapshot, err := s.store.Snapshots.Get(ctx, snapshotID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errors.NotFoundf("snapshot %s", snapshotID)
		}
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	if util.NormalizeSlug(snapshot.AssemblyName) != util.NormalizeSlug(assembly) {
		return nil, errors.Validationf("snapshot %s belongs to assembly %s", snapshotID, snapshot.AssemblyName)
	}

	current, err := s.GetOrderedMembers(ctx, assembly)
	if err != nil {
		return nil, err
	}

	preRestoreID, err := s.takeSnapshot(ctx, assembly, current)
	if err != nil {
		return nil, err
	}

	inSnapshot := make(map[string]bool, len(snapshot.Entries))
	for _, e := range snapshot.Entries {
		inSnapshot[e.MemberID] = true
	}

	result := &RestoreResult{}

	// Restore the snapshot block.
	position := 0
	for _, snap := range snapshot.Entries {
		if !snap.IsActive {
			continue
		}
		position++
		entry := snap
		entry.TitheBookIndex = position
		entry.Touch()
		if err := s.store.Orders.Put(ctx, entry.ID, &entry); err != nil {
			return nil, fmt.Errorf("restore entry for %s: %w", entry.MemberID, err)
		}
		result.RestoredCount++
	}

	// Append members unknown to the snapshot.
	for _, e := range current {
		if inSnapshot[e.MemberID] {
			continue
		}
		position++
		e.TitheBookIndex = position
		e.Touch()
		if err := s.store.Orders.Put(ctx, e.ID, e); err != nil {
			return nil, fmt.Errorf("append entry for %s: %w", e.MemberID, err)
		}
		result.AppendedMembers = append(result.AppendedMembers, e.MemberID)
	}

	description := fmt.Sprintf("restored snapshot %s", snapshotID)
	if err := s.recordHistory(ctx, assembly, domain.ChangeReset, description, preRestoreID, position); err != nil {
		return nil, err
	}

	s.logger.Info("restored order snapshot",
		"assembly", assembly,
		"snapshot", snapshotID,
		"restored", result.RestoredCount,
		"appended", len(result.AppendedMembers),
	)
	return result, nil
}

// GetHistory returns the assembly's mutation history, newest first.
func (s *Service) GetHistory(ctx context.Context, assembly string) ([]*domain.OrderHistoryEntry, error) {
	history, err := s.store.History.ListByIndex(ctx, "assembly", assembly)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	sort.Slice(history, func(i, j int) bool {
		return history[i].CreatedAt.After(history[j].CreatedAt)
	})
	return history, nil
}

// ValidateIntegrity checks that active indexes form a contiguous 1..N.
// It is read-only; repairs go through ApplyNewOrder or RestoreSnapshot.
func (s *Service) ValidateIntegrity(ctx context.Context, assembly string) (*domain.IntegrityReport, error) {
	active, err := s.GetOrderedMembers(ctx, assembly)
	if err != nil {
		return nil, err
	}

	report := &domain.IntegrityReport{IsHealthy: true}

	counts := make(map[int]int, len(active))
	for _, e := range active {
		counts[e.TitheBookIndex]++
		if e.TitheBookIndex < 1 || e.TitheBookIndex > len(active) {
			report.OrphanedMembers = append(report.OrphanedMembers, e.MemberID)
		}
	}
	for index, n := range counts {
		if n > 1 {
			report.DuplicateIndices = append(report.DuplicateIndices, index)
		}
	}
	sort.Ints(report.DuplicateIndices)
	sort.Strings(report.OrphanedMembers)

	report.IsHealthy = len(report.DuplicateIndices) == 0 && len(report.OrphanedMembers) == 0
	return report, nil
}

func (s *Service) recordHistory(ctx context.Context, assembly string, kind domain.ChangeKind, description, snapshotID string, memberCount int) error {
	entry := &domain.OrderHistoryEntry{
		ID:           id.MustGenerate("hist"),
		AssemblyName: assembly,
		Kind:         kind,
		Description:  description,
		SnapshotID:   snapshotID,
		MemberCount:  memberCount,
		CreatedAt:    time.Now(),
	}
	if err := s.store.History.Create(ctx, entry.ID, entry); err != nil {
		return fmt.Errorf("record history: %w", err)
	}
	return nil
}

// takeSnapshot copies the current active ordering and prunes old
// snapshots beyond the retention limit.
func (s *Service) takeSnapshot(ctx context.Context, assembly string, entries []*domain.MemberOrderEntry) (string, error) {
	snapshot := &domain.OrderSnapshot{
		ID:           id.MustGenerate("snap"),
		AssemblyName: assembly,
		TakenAt:      time.Now(),
	}
	snapshot.Entries = make([]domain.MemberOrderEntry, 0, len(entries))
	for _, e := range entries {
		snapshot.Entries = append(snapshot.Entries, *e)
	}

	if err := s.store.Snapshots.Create(ctx, snapshot.ID, snapshot); err != nil {
		return "", fmt.Errorf("store snapshot: %w", err)
	}

	if err := s.pruneSnapshots(ctx, assembly); err != nil {
		s.logger.Warn("failed to prune snapshots", "assembly", assembly, "error", err)
	}

	return snapshot.ID, nil
}

func (s *Service) pruneSnapshots(ctx context.Context, assembly string) error {
	snapshots, err := s.store.Snapshots.ListByIndex(ctx, "assembly", assembly)
	if err != nil {
		return err
	}
	if len(snapshots) <= s.snapshotRetention {
		return nil
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].TakenAt.After(snapshots[j].TakenAt)
	})
	for _, old := range snapshots[s.snapshotRetention:] {
		if err := s.store.Snapshots.Delete(ctx, old.ID); err != nil {
			return err
		}
	}
	return nil
}
