package domain

import "time"

// MemberOrderEntry is one row of the durable per-assembly member ordering
// (the tithe-book index). For an assembly with N active entries, the active
// TitheBookIndex values must form the set {1..N} exactly once each.
type MemberOrderEntry struct {
	ID             string    `json:"id"` // deterministic: assembly + normalized member ID
	AssemblyName   string    `json:"assembly_name"`
	MemberID       string    `json:"member_id"`
	DisplayName    string    `json:"display_name"`
	TitheBookIndex int       `json:"tithe_book_index"` // 1-based ledger position
	FirstSeenDate  time.Time `json:"first_seen_date"`
	FirstSeenMonth string    `json:"first_seen_month"` // "YYYY-MM"
	LastUpdated    time.Time `json:"last_updated"`
	IsActive       bool      `json:"is_active"`
}

// Touch updates LastUpdated to now.
func (e *MemberOrderEntry) Touch() {
	e.LastUpdated = time.Now()
}

// ChangeKind classifies a member-order mutation in the audit history.
type ChangeKind string

// Order mutation kinds.
const (
	ChangeReorder   ChangeKind = "reorder"
	ChangeImport    ChangeKind = "import"
	ChangeReset     ChangeKind = "reset"
	ChangeAIReorder ChangeKind = "ai_reorder"
	ChangeManual    ChangeKind = "manual"
)

// OrderHistoryEntry is one append-only audit record of an ordering mutation.
// History entries are never deleted.
type OrderHistoryEntry struct {
	ID           string     `json:"id"`
	AssemblyName string     `json:"assembly_name"`
	Kind         ChangeKind `json:"kind"`
	Description  string     `json:"description,omitempty"`
	SnapshotID   string     `json:"snapshot_id,omitempty"` // pre-mutation snapshot, if taken
	MemberCount  int        `json:"member_count"`
	CreatedAt    time.Time  `json:"created_at"`
}

// OrderSnapshot is a full copy of an assembly's ordering taken immediately
// before a mutation, enabling point-in-time restore. Snapshots may be pruned
// by retention policy; history entries referencing them are not.
type OrderSnapshot struct {
	ID           string             `json:"id"`
	AssemblyName string             `json:"assembly_name"`
	TakenAt      time.Time          `json:"taken_at"`
	Entries      []MemberOrderEntry `json:"entries"`
}

// IntegrityReport is the result of the read-only order diagnostic.
type IntegrityReport struct {
	IsHealthy        bool     `json:"is_healthy"`
	DuplicateIndices []int    `json:"duplicate_indices,omitempty"`
	OrphanedMembers  []string `json:"orphaned_members,omitempty"` // member IDs with missing/invalid index
}
