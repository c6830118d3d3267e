package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/icsrlink/pkg/domain/interfaces"
	"github.com/secmon-lab/icsrlink/pkg/domain/model"
	"github.com/secmon-lab/icsrlink/pkg/domain/types"
	"github.com/secmon-lab/icsrlink/pkg/usecase"
	"github.com/secmon-lab/icsrlink/pkg/utils/async"
	"github.com/secmon-lab/icsrlink/pkg/utils/safe"
)

func caseID(r *http.Request) model.CaseID {
	return model.CaseID(chi.URLParam(r, "caseID"))
}

type validationResponse struct {
	Valid    bool                   `json:"valid"`
	Errors   model.ValidationErrors `json:"errors"`
	Warnings model.ValidationErrors `json:"warnings"`
}

func newValidationResponse(result *model.ValidationResult) validationResponse {
	return validationResponse{
		Valid:    result.Valid,
		Errors:   result.Errors.Errors(),
		Warnings: result.Errors.Warnings(),
	}
}

type caseReadyResponse struct {
	Case       *model.Case        `json:"case,omitempty"`
	Validation validationResponse `json:"validation"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type acknowledgmentRequest struct {
	Type           types.AckType    `json:"type"`
	ExternalCaseID string           `json:"external_case_id"`
	Message        string           `json:"message"`
	Errors         []model.AckError `json:"errors"`
}

func (req *acknowledgmentRequest) toModel() *model.Acknowledgment {
	return &model.Acknowledgment{
		Type:           req.Type,
		ExternalCaseID: req.ExternalCaseID,
		Message:        req.Message,
		Errors:         req.Errors,
	}
}

type pollResponse struct {
	Outcome usecase.PollOutcome `json:"outcome"`
}

func (s *Server) createCase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var input model.Case
	if err := decodeJSON(r, &input); err != nil {
		writeError(ctx, w, err)
		return
	}

	created, err := s.uc.Case.CreateCase(ctx, &input)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusCreated, created)
}

func (s *Server) listCases(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var opts []interfaces.ListCaseOption
	if q := r.URL.Query().Get("status"); q != "" {
		status, err := types.ParseCaseStatus(q)
		if err != nil {
			writeError(ctx, w, goerr.Wrap(errBadRequest, "invalid status filter", goerr.V("status", q)))
			return
		}
		opts = append(opts, interfaces.WithStatus(status))
	}

	cases, err := s.uc.Case.ListCases(ctx, opts...)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, cases)
}

func (s *Server) getCase(w http.ResponseWriter, r *http.Request) {
	c, err := s.uc.Case.GetCase(r.Context(), caseID(r))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, c)
}

func (s *Server) updateCase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var input model.Case
	if err := decodeJSON(r, &input); err != nil {
		writeError(ctx, w, err)
		return
	}

	updated, err := s.uc.Case.UpdateCase(ctx, caseID(r), &input)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, updated)
}

// caseXML returns the wire document of the case. Generation failures are answered with the
// findings that blocked it.
func (s *Server) caseXML(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	result, err := s.uc.Case.GenerateXML(ctx, caseID(r))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	if !result.Success {
		writeJSON(ctx, w, http.StatusUnprocessableEntity, validationResponse{
			Errors:   result.Errors,
			Warnings: result.Warnings,
		})
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	safe.Write(ctx, w, result.XML)
}

func (s *Server) caseHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.uc.Case.History(r.Context(), caseID(r))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, entries)
}

func (s *Server) caseAttempts(w http.ResponseWriter, r *http.Request) {
	attempts, err := s.uc.Case.Attempts(r.Context(), caseID(r))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, attempts)
}

func (s *Server) caseChain(w http.ResponseWriter, r *http.Request) {
	chain, err := s.uc.Version.Chain(r.Context(), caseID(r))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, chain)
}

func (s *Server) validateCase(w http.ResponseWriter, r *http.Request) {
	result, err := s.uc.Case.ValidateCase(r.Context(), caseID(r))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, newValidationResponse(result))
}

func (s *Server) markReady(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	updated, result, err := s.uc.Case.MarkReadyForExport(ctx, caseID(r))
	if errors.Is(err, usecase.ErrValidationFailed) && result != nil {
		writeJSON(ctx, w, http.StatusUnprocessableEntity, caseReadyResponse{Validation: newValidationResponse(result)})
		return
	}
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, caseReadyResponse{Case: updated, Validation: newValidationResponse(result)})
}

func (s *Server) exportCase(w http.ResponseWriter, r *http.Request) {
	updated, err := s.uc.Case.ExportCase(r.Context(), caseID(r))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, updated)
}

// submitCase runs the submission in the background and answers 202. With ?wait=true the
// request blocks until the submission has settled.
func (s *Server) submitCase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := caseID(r)

	if r.URL.Query().Get("wait") == "true" {
		submitted, err := s.uc.Submission.SubmitCase(ctx, id)
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		writeJSON(ctx, w, http.StatusOK, submitted)
		return
	}

	// reject obvious mistakes before going async
	current, err := s.uc.Case.GetCase(ctx, id)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	if current.Status != types.CaseStatusExported && current.Status != types.CaseStatusSubmissionFailed {
		writeError(ctx, w, goerr.Wrap(usecase.ErrInvalidTransition, "case cannot be submitted",
			goerr.V("status", current.Status)))
		return
	}

	async.Dispatch(ctx, func(ctx context.Context) error {
		_, err := s.uc.Submission.SubmitCase(ctx, id)
		return err
	})
	writeJSON(ctx, w, http.StatusAccepted, current)
}

func (s *Server) cancelCaseSubmission(w http.ResponseWriter, r *http.Request) {
	if err := s.uc.Submission.CancelSubmission(r.Context(), caseID(r)); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) returnToDraft(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req reasonRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}

	updated, err := s.uc.Case.ReturnToDraft(ctx, caseID(r), req.Reason)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, updated)
}

func (s *Server) pollCase(w http.ResponseWriter, r *http.Request) {
	outcome, err := s.uc.Acknowledgment.PollCase(r.Context(), caseID(r))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, pollResponse{Outcome: outcome})
}

// recordCaseAcknowledgment applies an acknowledgment received out of band
func (s *Server) recordCaseAcknowledgment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req acknowledgmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}

	updated, err := s.uc.Acknowledgment.RecordCaseAcknowledgment(ctx, caseID(r), req.toModel())
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, updated)
}

// createFollowUp creates the next version. A non-empty body replaces the clinical content of
// the copy.
func (s *Server) createFollowUp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var input *model.Case
	if r.ContentLength != 0 {
		input = &model.Case{}
		if err := decodeJSON(r, input); err != nil {
			writeError(ctx, w, err)
			return
		}
	}

	created, err := s.uc.Version.CreateFollowUp(ctx, caseID(r), func(c *model.Case) error {
		if input == nil {
			return nil
		}
		applyClinicalContent(c, input)
		return nil
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusCreated, created)
}

// applyClinicalContent copies the reported content of src onto dst, keeping version identity
func applyClinicalContent(dst, src *model.Case) {
	dst.ReportType = src.ReportType
	dst.MostRecentReceiptDate = src.MostRecentReceiptDate
	dst.Serious = src.Serious
	dst.ResultsInDeath = src.ResultsInDeath
	dst.LifeThreatening = src.LifeThreatening
	dst.Hospitalization = src.Hospitalization
	dst.Disabling = src.Disabling
	dst.CongenitalAnomaly = src.CongenitalAnomaly
	dst.OtherMedicallyImportant = src.OtherMedicallyImportant
	dst.Patient = src.Patient
	dst.Narrative = src.Narrative
	dst.ReporterComments = src.ReporterComments
	dst.SenderComments = src.SenderComments
	dst.Reporters = src.Reporters
	dst.Reactions = src.Reactions
	dst.Drugs = src.Drugs
}

func (s *Server) nullifyCase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req reasonRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}

	created, err := s.uc.Version.Nullify(ctx, caseID(r), req.Reason)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusCreated, created)
}
