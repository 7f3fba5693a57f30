package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tithebookapp/tithebook-server/internal/batch"
	domainerrors "github.com/tithebookapp/tithebook-server/internal/errors"
	"github.com/tithebookapp/tithebook-server/internal/http/response"
)

// Tithe-book photos are phone camera shots, well under 15MB each.
const maxBatchUploadSize = 128 << 20 // 128MB

// handleProcessBatch runs a multipart upload of tithe-book page photos
// through the extraction pipeline and returns the reconciled records.
// Files are processed in submission order; duplicate photos of the same
// page are merged rather than double-counted.
func (s *Server) handleProcessBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	assembly := chi.URLParam(r, "assembly")

	r.Body = http.MaxBytesReader(w, r.Body, maxBatchUploadSize)
	if err := r.ParseMultipartForm(maxBatchUploadSize); err != nil {
		response.BadRequest(w, "Failed to parse form data", s.logger)
		return
	}

	fileHeaders := r.MultipartForm.File["pages"]
	if len(fileHeaders) == 0 {
		response.BadRequest(w, "At least one page image is required in the 'pages' field", s.logger)
		return
	}

	files := make([]batch.File, 0, len(fileHeaders))
	for _, header := range fileHeaders {
		file, err := header.Open()
		if err != nil {
			s.logger.Error("Failed to open uploaded page", "file", header.Filename, "error", err)
			response.BadRequest(w, "Failed to read uploaded file "+header.Filename, s.logger)
			return
		}

		data, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			response.BadRequest(w, "Failed to read uploaded file "+header.Filename, s.logger)
			return
		}

		files = append(files, batch.File{Name: header.Filename, Data: data})
	}

	// A missing roster is not fatal; the pipeline emits every record
	// unmatched with a warning so the operator can still review the batch.
	roster, err := s.services.Rosters.Roster(assembly)
	if err != nil {
		if !errors.Is(err, domainerrors.ErrNotFound) {
			response.HandleError(w, err, s.logger)
			return
		}
		roster = nil
	}

	result, err := s.services.Processor.Process(ctx, files, assembly, roster)
	if err != nil {
		s.logger.Error("Batch processing failed", "assembly", assembly, "files", len(files), "error", err)
		response.HandleError(w, err, s.logger)
		return
	}

	s.logger.Info("Batch processed",
		"assembly", assembly,
		"files", result.FilesProcessed,
		"skipped", result.FilesSkipped,
		"records", len(result.Records),
		"warnings", len(result.Warnings))

	response.Success(w, result, s.logger)
}
