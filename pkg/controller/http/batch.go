package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/icsrlink/pkg/domain/interfaces"
	"github.com/secmon-lab/icsrlink/pkg/domain/model"
	"github.com/secmon-lab/icsrlink/pkg/domain/types"
	"github.com/secmon-lab/icsrlink/pkg/usecase"
	"github.com/secmon-lab/icsrlink/pkg/utils/async"
)

func batchID(r *http.Request) model.BatchID {
	return model.BatchID(chi.URLParam(r, "batchID"))
}

type createBatchRequest struct {
	Type        types.BatchType `json:"type"`
	Description string          `json:"description"`
	CaseIDs     []model.CaseID  `json:"case_ids"`
}

type addCaseRequest struct {
	CaseID model.CaseID `json:"case_id"`
}

type batchValidationResponse struct {
	Batch        *model.Batch       `json:"batch"`
	ValidCases   int                `json:"valid_cases"`
	InvalidCases int                `json:"invalid_cases"`
	IsValid      bool               `json:"is_valid"`
	Results      []*model.BatchCase `json:"results"`
}

func (s *Server) createBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createBatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}
	if !req.Type.IsValid() {
		writeError(ctx, w, goerr.Wrap(errBadRequest, "invalid batch type", goerr.V("type", req.Type)))
		return
	}

	created, err := s.uc.Batch.CreateBatch(ctx, req.Type, req.Description, req.CaseIDs)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusCreated, created)
}

func (s *Server) listBatches(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var opts []interfaces.ListBatchOption
	if q := r.URL.Query().Get("status"); q != "" {
		status, err := types.ParseBatchStatus(q)
		if err != nil {
			writeError(ctx, w, goerr.Wrap(errBadRequest, "invalid status filter", goerr.V("status", q)))
			return
		}
		opts = append(opts, interfaces.WithBatchStatus(status))
	}

	batches, err := s.uc.Batch.ListBatches(ctx, opts...)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, batches)
}

func (s *Server) getBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := s.uc.Batch.GetBatch(r.Context(), batchID(r))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, batch)
}

func (s *Server) deleteBatch(w http.ResponseWriter, r *http.Request) {
	if err := s.uc.Batch.DeleteBatch(r.Context(), batchID(r)); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) batchCases(w http.ResponseWriter, r *http.Request) {
	members, err := s.uc.Batch.ListCases(r.Context(), batchID(r))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, members)
}

func (s *Server) addBatchCase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req addCaseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}

	if err := s.uc.Batch.AddCase(ctx, batchID(r), req.CaseID); err != nil {
		writeError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) removeBatchCase(w http.ResponseWriter, r *http.Request) {
	if err := s.uc.Batch.RemoveCase(r.Context(), batchID(r), caseID(r)); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) batchHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.uc.Batch.History(r.Context(), batchID(r))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, entries)
}

func (s *Server) batchAttempts(w http.ResponseWriter, r *http.Request) {
	attempts, err := s.uc.Batch.Attempts(r.Context(), batchID(r))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, attempts)
}

func (s *Server) validateBatch(w http.ResponseWriter, r *http.Request) {
	v, err := s.uc.Batch.ValidateBatch(r.Context(), batchID(r))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, batchValidationResponse{
		Batch:        v.Batch,
		ValidCases:   v.ValidCases,
		InvalidCases: v.InvalidCases,
		IsValid:      v.IsValid,
		Results:      v.Results,
	})
}

func (s *Server) exportBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := s.uc.Batch.ExportBatch(r.Context(), batchID(r))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, batch)
}

// submitBatch mirrors submitCase: async by default, blocking with ?wait=true
func (s *Server) submitBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := batchID(r)

	if r.URL.Query().Get("wait") == "true" {
		submitted, err := s.uc.Submission.SubmitBatch(ctx, id)
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		writeJSON(ctx, w, http.StatusOK, submitted)
		return
	}

	current, err := s.uc.Batch.GetBatch(ctx, id)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	if current.Status != types.BatchStatusExported {
		writeError(ctx, w, goerr.Wrap(usecase.ErrInvalidTransition, "batch cannot be submitted",
			goerr.V("status", current.Status)))
		return
	}

	async.Dispatch(ctx, func(ctx context.Context) error {
		_, err := s.uc.Submission.SubmitBatch(ctx, id)
		return err
	})
	writeJSON(ctx, w, http.StatusAccepted, current)
}

func (s *Server) cancelBatchSubmission(w http.ResponseWriter, r *http.Request) {
	if err := s.uc.Submission.CancelBatchSubmission(r.Context(), batchID(r)); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) pollBatch(w http.ResponseWriter, r *http.Request) {
	outcome, err := s.uc.Acknowledgment.PollBatch(r.Context(), batchID(r))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, pollResponse{Outcome: outcome})
}

func (s *Server) recordBatchAcknowledgment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req acknowledgmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}

	updated, err := s.uc.Batch.RecordAcknowledgment(ctx, batchID(r), req.toModel())
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, updated)
}
