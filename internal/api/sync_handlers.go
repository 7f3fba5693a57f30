package api

import (
	"encoding/json/v2"
	"net/http"

	"github.com/tithebookapp/tithebook-server/internal/http/response"
)

// SetOnlineRequest toggles the queue's connectivity assumption.
type SetOnlineRequest struct {
	Online bool `json:"online"`
}

// handleSyncStatus reports the queue state and pending action count for
// the dashboard's sync indicator.
func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status, err := s.services.Queue.Status(ctx)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	response.Success(w, status, s.logger)
}

// handleSyncTrigger requests a sync cycle. The queue debounces, so rapid
// triggers collapse into one cycle.
func (s *Server) handleSyncTrigger(w http.ResponseWriter, r *http.Request) {
	s.services.Queue.Trigger()
	response.Success(w, map[string]string{"message": "sync requested"}, s.logger)
}

// handleSetOnline flips the queue between online and offline. Going
// online triggers an immediate drain of anything queued while offline.
func (s *Server) handleSetOnline(w http.ResponseWriter, r *http.Request) {
	var req SetOnlineRequest
	if err := json.UnmarshalRead(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid request body", s.logger)
		return
	}

	s.services.Queue.SetOnline(req.Online)

	status, err := s.services.Queue.Status(r.Context())
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	response.Success(w, status, s.logger)
}
