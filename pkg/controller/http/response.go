package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/icsrlink/pkg/usecase"
	"github.com/secmon-lab/icsrlink/pkg/utils/errutil"
	"github.com/secmon-lab/icsrlink/pkg/utils/logging"
	"github.com/secmon-lab/icsrlink/pkg/utils/safe"
)

const maxRequestBody = 8 << 20

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		errutil.HandleHTTP(ctx, w, goerr.Wrap(err, "failed to marshal response"), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	safe.Write(ctx, w, data)
}

func decodeJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return goerr.Wrap(errBadRequest, "failed to read request body", goerr.V("error", err.Error()))
	}
	if err := json.Unmarshal(body, v); err != nil {
		return goerr.Wrap(errBadRequest, "malformed JSON body", goerr.V("error", err.Error()))
	}
	return nil
}

var errBadRequest = goerr.New("bad request")

// errorStatus maps the use case sentinels to HTTP statuses
var errorStatus = []struct {
	err    error
	status int
	code   string
}{
	{usecase.ErrCaseNotFound, http.StatusNotFound, "case_not_found"},
	{usecase.ErrBatchNotFound, http.StatusNotFound, "batch_not_found"},
	{usecase.ErrSubmissionNotRunning, http.StatusNotFound, "submission_not_running"},
	{usecase.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{usecase.ErrStatusConflict, http.StatusConflict, "status_conflict"},
	{usecase.ErrCaseInActiveBatch, http.StatusConflict, "case_in_active_batch"},
	{usecase.ErrAlreadyNullified, http.StatusConflict, "already_nullified"},
	{usecase.ErrSubmissionInProgress, http.StatusConflict, "submission_in_progress"},
	{usecase.ErrSubmissionCancelled, http.StatusConflict, "submission_cancelled"},
	{usecase.ErrValidationFailed, http.StatusUnprocessableEntity, "validation_failed"},
	{usecase.ErrGenerationFailed, http.StatusUnprocessableEntity, "generation_failed"},
	{usecase.ErrInvalidBatchMembers, http.StatusUnprocessableEntity, "invalid_batch_members"},
	{usecase.ErrNullificationReason, http.StatusUnprocessableEntity, "nullification_reason_required"},
	{usecase.ErrAckNotFinal, http.StatusUnprocessableEntity, "ack_not_final"},
	{usecase.ErrGatewayNotConfigured, http.StatusServiceUnavailable, "gateway_not_configured"},
	{usecase.ErrExportNotConfigured, http.StatusServiceUnavailable, "export_not_configured"},
	{errBadRequest, http.StatusBadRequest, "bad_request"},
}

// writeError answers client errors with a JSON body and hands everything else to
// errutil.HandleHTTP
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	for _, m := range errorStatus {
		if !errors.Is(err, m.err) {
			continue
		}
		if m.status >= http.StatusInternalServerError {
			errutil.HandleHTTP(ctx, w, err, m.status)
			return
		}
		logging.From(ctx).Info("request rejected", "status", m.status, "error", err.Error())
		writeJSON(ctx, w, m.status, errorResponse{Error: err.Error(), Code: m.code})
		return
	}

	errutil.HandleHTTP(ctx, w, err, http.StatusInternalServerError)
}
