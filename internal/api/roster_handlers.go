package api

import (
	"encoding/json/v2"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tithebookapp/tithebook-server/internal/domain"
	domainerrors "github.com/tithebookapp/tithebook-server/internal/errors"
	"github.com/tithebookapp/tithebook-server/internal/http/response"
	"github.com/tithebookapp/tithebook-server/internal/search"
)

// UploadRosterRequest carries a full replacement master list for an assembly.
type UploadRosterRequest struct {
	Members []domain.RosterMember `json:"members"`
}

// UploadRosterResponse reports what the roster import changed.
type UploadRosterResponse struct {
	Assembly    string   `json:"assembly"`
	MemberCount int      `json:"member_count"`
	Initialized bool     `json:"initialized"` // true when this import created the order
	Added       []string `json:"added,omitempty"`
	Deactivated []string `json:"deactivated,omitempty"`
	Reactivated []string `json:"reactivated,omitempty"`
}

// handleUploadRoster replaces an assembly's master list. The order store is
// initialized on first import and synced on every later one, so uploading a
// roster is the single entry point for membership changes.
func (s *Server) handleUploadRoster(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	assembly := chi.URLParam(r, "assembly")

	var req UploadRosterRequest
	if err := json.UnmarshalRead(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid request body", s.logger)
		return
	}

	if len(req.Members) == 0 {
		response.BadRequest(w, "Roster must contain at least one member", s.logger)
		return
	}

	if err := s.services.Rosters.Save(assembly, req.Members); err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	if err := s.services.Search.IndexRoster(assembly, req.Members); err != nil {
		s.logger.Error("Failed to index roster", "assembly", assembly, "error", err)
		response.InternalError(w, "Failed to index roster for search", s.logger)
		return
	}

	month := time.Now().Format("2006-01")
	resp := UploadRosterResponse{
		Assembly:    assembly,
		MemberCount: len(req.Members),
	}

	existing, err := s.services.Order.GetOrderedMembers(ctx, assembly)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	if len(existing) == 0 {
		created, err := s.services.Order.InitializeOrder(ctx, assembly, req.Members, month)
		if err != nil {
			response.HandleError(w, err, s.logger)
			return
		}
		resp.Initialized = created > 0
	} else {
		syncResult, err := s.services.Order.SyncWithMasterList(ctx, assembly, req.Members, month)
		if err != nil {
			response.HandleError(w, err, s.logger)
			return
		}
		resp.Added = syncResult.Added
		resp.Deactivated = syncResult.Deactivated
		resp.Reactivated = syncResult.Reactivated
	}

	s.logger.Info("Roster imported",
		"assembly", assembly,
		"members", len(req.Members),
		"initialized", resp.Initialized)

	response.Success(w, resp, s.logger)
}

// handleSearchMembers resolves a free-text query against the assembly's
// indexed roster. Matches membership IDs, legacy IDs, and fuzzy or
// phonetic name variants.
func (s *Server) handleSearchMembers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	assembly := chi.URLParam(r, "assembly")

	query := r.URL.Query().Get("q")
	if query == "" {
		response.BadRequest(w, "Query parameter 'q' is required", s.logger)
		return
	}

	limit := 0
	if rawLimit := r.URL.Query().Get("limit"); rawLimit != "" {
		parsed, err := strconv.Atoi(rawLimit)
		if err != nil || parsed < 1 || parsed > 100 {
			response.BadRequest(w, "Limit must be an integer between 1 and 100", s.logger)
			return
		}
		limit = parsed
	}

	result, err := s.services.Search.Search(ctx, search.Params{
		Assembly: assembly,
		Query:    query,
		Limit:    limit,
	})
	if err != nil {
		var domainErr *domainerrors.Error
		if errors.As(err, &domainErr) {
			response.HandleError(w, err, s.logger)
			return
		}
		s.logger.Error("Member search failed", "assembly", assembly, "query", query, "error", err)
		response.InternalError(w, "Search failed", s.logger)
		return
	}

	response.Success(w, result, s.logger)
}
