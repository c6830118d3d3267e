package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	server "github.com/secmon-lab/icsrlink/pkg/controller/http"
	"github.com/secmon-lab/icsrlink/pkg/domain/model"
	"github.com/secmon-lab/icsrlink/pkg/domain/types"
	"github.com/secmon-lab/icsrlink/pkg/repository/memory"
	"github.com/secmon-lab/icsrlink/pkg/service/export"
	"github.com/secmon-lab/icsrlink/pkg/service/gateway"
	"github.com/secmon-lab/icsrlink/pkg/service/worker"
	"github.com/secmon-lab/icsrlink/pkg/usecase"
	"github.com/secmon-lab/icsrlink/pkg/utils/testutil"
)

// stubGateway accepts every submission and answers acknowledgments with ackType
type stubGateway struct {
	ackType types.AckType
}

func (g *stubGateway) Authenticate(ctx context.Context) error { return nil }

func (g *stubGateway) CreateSubmission(ctx context.Context, req *gateway.SubmissionRequest) (*gateway.Submission, error) {
	return &gateway.Submission{ID: "sub-" + req.Reference}, nil
}

func (g *stubGateway) UploadContent(ctx context.Context, id string, content []byte) error {
	return nil
}

func (g *stubGateway) Finalize(ctx context.Context, id string) (*gateway.Submission, error) {
	return &gateway.Submission{ID: id, TrackingID: "trk"}, nil
}

func (g *stubGateway) GetAcknowledgment(ctx context.Context, id string) (*model.Acknowledgment, error) {
	return &model.Acknowledgment{Type: g.ackType, ExternalCaseID: "EXT-" + id}, nil
}

type testServer struct {
	srv http.Handler
	gw  *stubGateway
}

func newTestServer(t *testing.T, opts ...server.Options) *testServer {
	t.Helper()

	store, err := export.NewLocal(t.TempDir())
	gt.NoError(t, err).Required()

	gw := &stubGateway{ackType: types.AckTypePending}
	uc := usecase.New(memory.New(),
		usecase.WithGateway(gw),
		usecase.WithExportStore(store),
		usecase.WithBackoff(gateway.Backoff{Base: time.Millisecond, MaxAttempts: 2}),
	)
	return &testServer{srv: server.New(uc, opts...), gw: gw}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		gt.NoError(t, err).Required()
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.srv.ServeHTTP(w, req)

	if out != nil && w.Body.Len() > 0 {
		gt.NoError(t, json.Unmarshal(w.Body.Bytes(), out)).Required()
	}
	return w.Code
}

func TestServer_CaseLifecycle(t *testing.T) {
	ts := newTestServer(t)

	var created model.Case
	code := ts.do(t, http.MethodPost, "/api/cases", testutil.NewCase(), &created)
	gt.Value(t, code).Equal(http.StatusCreated)
	gt.Value(t, created.Status).Equal(types.CaseStatusDraft)
	base := "/api/cases/" + string(created.ID)

	var ready struct {
		Case *model.Case `json:"case"`
	}
	code = ts.do(t, http.MethodPost, base+"/ready", nil, &ready)
	gt.Value(t, code).Equal(http.StatusOK)
	gt.Value(t, ready.Case.Status).Equal(types.CaseStatusReadyForExport)

	var exported model.Case
	code = ts.do(t, http.MethodPost, base+"/export", nil, &exported)
	gt.Value(t, code).Equal(http.StatusOK)
	gt.Value(t, exported.Status).Equal(types.CaseStatusExported)

	var submitted model.Case
	code = ts.do(t, http.MethodPost, base+"/submit?wait=true", nil, &submitted)
	gt.Value(t, code).Equal(http.StatusOK)
	gt.Value(t, submitted.Status).Equal(types.CaseStatusSubmitted)

	var poll struct {
		Outcome string `json:"outcome"`
	}
	code = ts.do(t, http.MethodPost, base+"/poll", nil, &poll)
	gt.Value(t, code).Equal(http.StatusOK)
	gt.Value(t, poll.Outcome).Equal("pending")

	ts.gw.ackType = types.AckTypeAccepted
	code = ts.do(t, http.MethodPost, base+"/poll", nil, &poll)
	gt.Value(t, code).Equal(http.StatusOK)
	gt.Value(t, poll.Outcome).Equal("acknowledged")

	var history []model.HistoryEntry
	code = ts.do(t, http.MethodGet, base+"/history", nil, &history)
	gt.Value(t, code).Equal(http.StatusOK)
	gt.A(t, history).Length(6)

	var attempts []model.SubmissionAttempt
	code = ts.do(t, http.MethodGet, base+"/attempts", nil, &attempts)
	gt.Value(t, code).Equal(http.StatusOK)
	gt.A(t, attempts).Length(1)
}

func TestServer_CaseErrors(t *testing.T) {
	testCases := []struct {
		name   string
		setup  func(t *testing.T, ts *testServer) string
		method string
		suffix string
		body   any
		want   int
		code   string
	}{
		{
			name:   "unknown case",
			setup:  func(t *testing.T, ts *testServer) string { return "missing" },
			method: http.MethodGet,
			want:   http.StatusNotFound,
			code:   "case_not_found",
		},
		{
			name: "export of a draft",
			setup: func(t *testing.T, ts *testServer) string {
				var c model.Case
				ts.do(t, http.MethodPost, "/api/cases", testutil.NewCase(), &c)
				return string(c.ID)
			},
			method: http.MethodPost,
			suffix: "/export",
			want:   http.StatusConflict,
			code:   "invalid_transition",
		},
		{
			name: "second nullification",
			setup: func(t *testing.T, ts *testServer) string {
				var c model.Case
				ts.do(t, http.MethodPost, "/api/cases", testutil.NewCase(), &c)
				ts.do(t, http.MethodPost, "/api/cases/"+string(c.ID)+"/nullify", map[string]string{"reason": "duplicate"}, nil)
				return string(c.ID)
			},
			method: http.MethodPost,
			suffix: "/nullify",
			body:   map[string]string{"reason": "again"},
			want:   http.StatusConflict,
			code:   "already_nullified",
		},
		{
			name: "cancel without running submission",
			setup: func(t *testing.T, ts *testServer) string {
				return "idle"
			},
			method: http.MethodPost,
			suffix: "/cancel",
			want:   http.StatusNotFound,
			code:   "submission_not_running",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t)
			id := tc.setup(t, ts)

			var resp struct {
				Code string `json:"code"`
			}
			code := ts.do(t, tc.method, "/api/cases/"+id+tc.suffix, tc.body, &resp)
			gt.Value(t, code).Equal(tc.want)
			gt.Value(t, resp.Code).Equal(tc.code)
		})
	}
}

func TestServer_MarkReadyValidationFailure(t *testing.T) {
	ts := newTestServer(t)

	var created model.Case
	ts.do(t, http.MethodPost, "/api/cases", testutil.NewCase(func(c *model.Case) { c.Reactions = nil }), &created)

	var resp struct {
		Case       *model.Case `json:"case"`
		Validation struct {
			Valid  bool                   `json:"valid"`
			Errors model.ValidationErrors `json:"errors"`
		} `json:"validation"`
	}
	code := ts.do(t, http.MethodPost, "/api/cases/"+string(created.ID)+"/ready", nil, &resp)
	gt.Value(t, code).Equal(http.StatusUnprocessableEntity)
	gt.Bool(t, resp.Validation.Valid).False()
	fields := make([]string, 0, len(resp.Validation.Errors))
	for _, e := range resp.Validation.Errors {
		fields = append(fields, e.Field)
	}
	gt.Bool(t, slices.Contains(fields, "reactions")).True()
}

func TestServer_Batch(t *testing.T) {
	ts := newTestServer(t)

	var ids []model.CaseID
	for _, c := range []*model.Case{
		testutil.NewCase(),
		testutil.NewCase(),
		testutil.NewCase(func(c *model.Case) { c.Reactions = nil }),
	} {
		var created model.Case
		ts.do(t, http.MethodPost, "/api/cases", c, &created)
		ids = append(ids, created.ID)
	}

	var batch model.Batch
	code := ts.do(t, http.MethodPost, "/api/batches", map[string]any{
		"type":     "expedited",
		"case_ids": ids,
	}, &batch)
	gt.Value(t, code).Equal(http.StatusCreated)
	base := "/api/batches/" + string(batch.ID)

	var v struct {
		ValidCases   int  `json:"valid_cases"`
		InvalidCases int  `json:"invalid_cases"`
		IsValid      bool `json:"is_valid"`
	}
	code = ts.do(t, http.MethodPost, base+"/validate", nil, &v)
	gt.Value(t, code).Equal(http.StatusOK)
	gt.Value(t, v.ValidCases).Equal(2)
	gt.Value(t, v.InvalidCases).Equal(1)
	gt.Bool(t, v.IsValid).False()

	code = ts.do(t, http.MethodDelete, base+"/cases/"+string(ids[2]), nil, nil)
	gt.Value(t, code).Equal(http.StatusNoContent)

	code = ts.do(t, http.MethodPost, base+"/validate", nil, &v)
	gt.Value(t, code).Equal(http.StatusOK)
	gt.Bool(t, v.IsValid).True()

	// a validated batch can no longer be deleted
	code = ts.do(t, http.MethodDelete, base, nil, nil)
	gt.Value(t, code).Equal(http.StatusConflict)

	var exported model.Batch
	code = ts.do(t, http.MethodPost, base+"/export", nil, &exported)
	gt.Value(t, code).Equal(http.StatusOK)
	gt.Value(t, exported.Status).Equal(types.BatchStatusExported)

	var submitted model.Batch
	code = ts.do(t, http.MethodPost, base+"/submit?wait=true", nil, &submitted)
	gt.Value(t, code).Equal(http.StatusOK)
	gt.Value(t, submitted.Status).Equal(types.BatchStatusSubmitted)

	code = ts.do(t, http.MethodPost, base+"/acknowledgment", map[string]any{
		"type":   "rejected",
		"errors": []map[string]string{{"code": "E9", "message": "envelope rejected"}},
	}, &submitted)
	gt.Value(t, code).Equal(http.StatusOK)
	gt.Value(t, submitted.Status).Equal(types.BatchStatusRejected)
}

func TestServer_APIToken(t *testing.T) {
	ts := newTestServer(t, server.WithAPIToken("s3cret"))

	req := httptest.NewRequest(http.MethodGet, "/api/cases", nil)
	w := httptest.NewRecorder()
	ts.srv.ServeHTTP(w, req)
	gt.Value(t, w.Code).Equal(http.StatusUnauthorized)

	req = httptest.NewRequest(http.MethodGet, "/api/cases", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	ts.srv.ServeHTTP(w, req)
	gt.Value(t, w.Code).Equal(http.StatusUnauthorized)

	req = httptest.NewRequest(http.MethodGet, "/api/cases", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	w = httptest.NewRecorder()
	ts.srv.ServeHTTP(w, req)
	gt.Value(t, w.Code).Equal(http.StatusOK)

	// health stays public
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	w = httptest.NewRecorder()
	ts.srv.ServeHTTP(w, req)
	gt.Value(t, w.Code).Equal(http.StatusOK)
}

type stubPoller struct{ calls int }

func (p *stubPoller) RunOnce(ctx context.Context) (*worker.CycleResult, error) {
	p.calls++
	return &worker.CycleResult{Checked: 3, Pending: 3}, nil
}

func TestServer_Poll(t *testing.T) {
	p := &stubPoller{}
	ts := newTestServer(t, server.WithPoller(p))

	var result worker.CycleResult
	code := ts.do(t, http.MethodPost, "/api/poll", nil, &result)
	gt.Value(t, code).Equal(http.StatusOK)
	gt.Value(t, result.Checked).Equal(3)
	gt.Value(t, p.calls).Equal(1)
}
