package api

import (
	"encoding/json/jsontext"
	"encoding/json/v2"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"

	"github.com/tithebookapp/tithebook-server/internal/domain"
	"github.com/tithebookapp/tithebook-server/internal/http/response"
)

// LearnCorrectionRequest records an operator's amount fix so the same OCR
// misread is corrected automatically in future batches.
type LearnCorrectionRequest struct {
	Raw       float64 `json:"raw"`
	Corrected float64 `json:"corrected"`
}

// ContributionEntry is one confirmed giving record to persist.
type ContributionEntry struct {
	MemberID string  `json:"member_id"`
	Amount   float64 `json:"amount"`
}

// RecordContributionsRequest persists a reviewed batch into the ledger.
type RecordContributionsRequest struct {
	Period        string              `json:"period"` // "YYYY-MM"
	Contributions []ContributionEntry `json:"contributions"`
}

// RecordContributionsResponse reports how many records were persisted
// and queued for remote sync.
type RecordContributionsResponse struct {
	Recorded int `json:"recorded"`
	Queued   int `json:"queued"`
}

var periodPattern = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

// handleLearnCorrection stores a raw-to-corrected amount mapping for the
// assembly. Applies from the next processed batch onward.
func (s *Server) handleLearnCorrection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	assembly := chi.URLParam(r, "assembly")

	var req LearnCorrectionRequest
	if err := json.UnmarshalRead(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid request body", s.logger)
		return
	}

	if req.Corrected <= 0 {
		response.BadRequest(w, "Corrected amount must be positive", s.logger)
		return
	}
	if req.Raw == req.Corrected {
		response.BadRequest(w, "Raw and corrected amounts are identical", s.logger)
		return
	}

	if err := s.services.Amounts.Learn(ctx, assembly, req.Raw, req.Corrected); err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	s.logger.Info("Amount correction learned",
		"assembly", assembly,
		"raw", req.Raw,
		"corrected", req.Corrected)

	response.Success(w, map[string]string{"message": "correction recorded"}, s.logger)
}

// handleRecordContributions writes reviewed records into the local ledger
// and enqueues each for remote sync. Ledger writes happen first so amount
// validation sees the new history even if the remote is unreachable.
func (s *Server) handleRecordContributions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	assembly := chi.URLParam(r, "assembly")

	var req RecordContributionsRequest
	if err := json.UnmarshalRead(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid request body", s.logger)
		return
	}

	if !periodPattern.MatchString(req.Period) {
		response.BadRequest(w, "Period must be in YYYY-MM format", s.logger)
		return
	}
	if len(req.Contributions) == 0 {
		response.BadRequest(w, "At least one contribution is required", s.logger)
		return
	}
	for _, entry := range req.Contributions {
		if entry.MemberID == "" {
			response.BadRequest(w, "Every contribution needs a member_id", s.logger)
			return
		}
		if entry.Amount < 0 {
			response.BadRequest(w, "Contribution amounts cannot be negative", s.logger)
			return
		}
	}

	resp := RecordContributionsResponse{}
	for _, entry := range req.Contributions {
		contribution := domain.Contribution{
			AssemblyName: assembly,
			MemberID:     entry.MemberID,
			Amount:       entry.Amount,
			Period:       req.Period,
		}

		if err := s.services.History.RecordContribution(ctx, contribution); err != nil {
			s.logger.Error("Failed to record contribution",
				"assembly", assembly,
				"member_id", entry.MemberID,
				"error", err)
			response.HandleError(w, err, s.logger)
			return
		}
		resp.Recorded++

		payload, err := json.Marshal(contribution)
		if err != nil {
			response.HandleError(w, err, s.logger)
			return
		}

		if _, err := s.services.Queue.Enqueue(ctx, domain.ActionUpdateTithe, entry.MemberID, jsontext.Value(payload)); err != nil {
			s.logger.Error("Failed to enqueue tithe sync action",
				"assembly", assembly,
				"member_id", entry.MemberID,
				"error", err)
			response.HandleError(w, err, s.logger)
			return
		}
		resp.Queued++
	}

	s.logger.Info("Contributions recorded",
		"assembly", assembly,
		"period", req.Period,
		"count", resp.Recorded)

	response.Created(w, resp, s.logger)
}

// handlePeriodTotal returns the assembly's ledger total for one period.
func (s *Server) handlePeriodTotal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	assembly := chi.URLParam(r, "assembly")

	period := r.URL.Query().Get("period")
	if !periodPattern.MatchString(period) {
		response.BadRequest(w, "Query parameter 'period' must be in YYYY-MM format", s.logger)
		return
	}

	total, err := s.services.History.PeriodTotal(ctx, assembly, period)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	response.Success(w, map[string]any{
		"assembly": assembly,
		"period":   period,
		"total":    total,
	}, s.logger)
}
