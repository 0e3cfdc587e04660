package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	fv "github.com/PraveenKS30/hl7-fhir-validator"
)

// handleValidate handles POST /fhir/validate.
//
// The body is parsed into a resource, validated and answered with the
// OperationOutcome of the result: 200 when the resource is valid, 400 when
// it is not. Bodies that are not a resource at all get 422 and never reach
// the engine; oversized bodies get 413.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeOutcome(w, http.StatusRequestEntityTooLarge, fatalOutcome(fv.IssueTypeTooLong,
				fmt.Sprintf("Request body exceeds the limit of %d bytes", tooLarge.Limit)))
			return
		}
		s.writeError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest,
			"Failed to read request body", false, nil)
		return
	}

	res, err := fv.ParseResource(body)
	if err != nil {
		s.logger.Debug("rejected request body", "requestID", RequestID(r.Context()), "error", err)
		s.writeOutcome(w, http.StatusUnprocessableEntity, fv.NewParseErrorOutcome(err))
		return
	}

	result, err := s.engine.Validate(r.Context(), res)
	if err != nil {
		s.logger.Error("validation failed",
			"requestID", RequestID(r.Context()),
			"resourceType", res.Type,
			"error", err,
		)
		s.writeError(w, r, http.StatusInternalServerError, ErrCodeInternalError,
			"Validation could not be completed", true, nil)
		return
	}

	status := http.StatusOK
	if !result.Valid {
		status = http.StatusBadRequest
	}
	s.writeOutcome(w, status, fv.NewOperationOutcome(result))
}

func (s *Server) writeOutcome(w http.ResponseWriter, status int, outcome *fv.OperationOutcome) {
	s.respondJSON(w, status, fv.MediaTypeFHIRJSON, outcome)
}

func fatalOutcome(code fv.IssueType, diagnostics string) *fv.OperationOutcome {
	issue := fv.NewIssue(fv.SeverityFatal, code).Diagnostics(diagnostics).Build()
	return fv.NewOperationOutcome(fv.NewResult("", nil, []fv.Issue{issue}))
}
