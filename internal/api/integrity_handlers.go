package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/tithebookapp/tithebook-server/internal/domain"
)

func (s *Server) registerIntegrityRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "checkOrderIntegrity",
		Method:      http.MethodGet,
		Path:        "/api/v1/assemblies/{assembly}/order/integrity",
		Summary:     "Check order integrity",
		Description: "Runs a read-only diagnostic over an assembly's member order",
		Tags:        []string{"Order"},
	}, s.handleCheckOrderIntegrity)
}

type CheckIntegrityInput struct {
	Assembly string `path:"assembly" doc:"Assembly name"`
}

type CheckIntegrityOutput struct {
	Body domain.IntegrityReport
}

func (s *Server) handleCheckOrderIntegrity(ctx context.Context, input *CheckIntegrityInput) (*CheckIntegrityOutput, error) {
	report, err := s.services.Order.ValidateIntegrity(ctx, input.Assembly)
	if err != nil {
		s.logger.Error("order integrity check failed", "assembly", input.Assembly, "error", err)
		return nil, huma.Error500InternalServerError("integrity check failed")
	}
	return &CheckIntegrityOutput{Body: *report}, nil
}
