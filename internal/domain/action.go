package domain

import (
	"encoding/json/jsontext"
	"time"
)

// ActionType enumerates the mutations the sync queue can carry to the
// remote store.
type ActionType string

// Pending action types.
const (
	ActionAddMember    ActionType = "add_member"
	ActionUpdateMember ActionType = "update_member"
	ActionDeleteMember ActionType = "delete_member"
	ActionUpdateTithe  ActionType = "update_tithe"
)

// Valid reports whether t is one of the known action types.
func (t ActionType) Valid() bool {
	switch t {
	case ActionAddMember, ActionUpdateMember, ActionDeleteMember, ActionUpdateTithe:
		return true
	}
	return false
}

// PendingAction is a queued mutation destined for remote sync.
// It is deleted only on confirmed remote success; an action that exhausts
// its retry budget stays queued with LastError set and is surfaced as a
// terminal failure, never silently dropped.
type PendingAction struct {
	ID         string         `json:"id"`
	Seq        uint64         `json:"seq"` // monotonic submission order
	Type       ActionType     `json:"type"`
	EntityID   string         `json:"entity_id,omitempty"`
	Payload    jsontext.Value `json:"payload,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	RetryCount int            `json:"retry_count"`
	LastError  string         `json:"last_error,omitempty"`
}

// SyncState is the lifecycle state of the sync queue.
type SyncState string

// Sync queue states.
const (
	SyncIdle    SyncState = "idle"
	SyncSyncing SyncState = "syncing"
	SyncError   SyncState = "error"
	SyncOffline SyncState = "offline"
)
