package api

import (
	"encoding/json/v2"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tithebookapp/tithebook-server/internal/domain"
	"github.com/tithebookapp/tithebook-server/internal/http/response"
)

// ApplyOrderRequest carries a complete new ordering for an assembly.
// MemberIDs must be an exact permutation of the current active members.
type ApplyOrderRequest struct {
	MemberIDs   []string `json:"member_ids"`
	Kind        string   `json:"kind,omitempty"` // "manual" (default) or "ai_reorder"
	Description string   `json:"description,omitempty"`
}

// OrderResponse wraps the ordered member list.
type OrderResponse struct {
	Assembly string                     `json:"assembly"`
	Members  []*domain.MemberOrderEntry `json:"members"`
}

// handleGetOrder returns the active members in tithe-book order.
func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	assembly := chi.URLParam(r, "assembly")

	members, err := s.services.Order.GetOrderedMembers(ctx, assembly)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	response.Success(w, OrderResponse{Assembly: assembly, Members: members}, s.logger)
}

// handleApplyOrder replaces the assembly's ordering with the given
// permutation. A snapshot of the previous ordering is taken first, so the
// change can be undone via restore.
func (s *Server) handleApplyOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	assembly := chi.URLParam(r, "assembly")

	var req ApplyOrderRequest
	if err := json.UnmarshalRead(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid request body", s.logger)
		return
	}

	if len(req.MemberIDs) == 0 {
		response.BadRequest(w, "member_ids is required", s.logger)
		return
	}

	kind := domain.ChangeManual
	switch req.Kind {
	case "", string(domain.ChangeManual):
	case string(domain.ChangeAIReorder):
		kind = domain.ChangeAIReorder
	default:
		response.BadRequest(w, "Kind must be 'manual' or 'ai_reorder'", s.logger)
		return
	}

	description := req.Description
	if description == "" {
		description = "reordered via dashboard"
	}

	if err := s.services.Order.ApplyNewOrder(ctx, assembly, req.MemberIDs, kind, description); err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	members, err := s.services.Order.GetOrderedMembers(ctx, assembly)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	s.logger.Info("Member order applied",
		"assembly", assembly,
		"members", len(members),
		"kind", kind)

	response.Success(w, OrderResponse{Assembly: assembly, Members: members}, s.logger)
}

// handleGetOrderHistory returns the assembly's order audit trail,
// newest first.
func (s *Server) handleGetOrderHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	assembly := chi.URLParam(r, "assembly")

	history, err := s.services.Order.GetHistory(ctx, assembly)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	response.Success(w, history, s.logger)
}

// handleRestoreSnapshot rolls the ordering back to a prior snapshot.
// Members who joined after the snapshot keep their positions at the end.
func (s *Server) handleRestoreSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	assembly := chi.URLParam(r, "assembly")
	snapshotID := chi.URLParam(r, "snapshotID")

	result, err := s.services.Order.RestoreSnapshot(ctx, assembly, snapshotID)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	s.logger.Info("Order snapshot restored",
		"assembly", assembly,
		"snapshot_id", snapshotID,
		"restored", result.RestoredCount,
		"appended", len(result.AppendedMembers))

	response.Success(w, result, s.logger)
}
