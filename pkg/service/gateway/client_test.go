package gateway_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/icsrlink/pkg/domain/types"
	"github.com/secmon-lab/icsrlink/pkg/service/gateway"
	"golang.org/x/oauth2"
)

type intakeServer struct {
	*httptest.Server
	tokenCalls  atomic.Int32
	accessToken string
	expiresIn   int
	uploaded    []byte
	ackStatus   string
	failStep    string
	failStatus  int
	failBody    string
	retryAfter  string
}

func newIntakeServer(t *testing.T) *intakeServer {
	t.Helper()
	s := &intakeServer{accessToken: "opaque-token", ackStatus: "accepted"}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth/token", func(w http.ResponseWriter, r *http.Request) {
		s.tokenCalls.Add(1)
		id, secret, ok := r.BasicAuth()
		if !ok || id != "client-id" || secret != "client-secret" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
			return
		}
		resp := map[string]any{"access_token": s.accessToken, "token_type": "Bearer"}
		if s.expiresIn > 0 {
			resp["expires_in"] = s.expiresIn
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	authorized := func(step string, next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer "+s.accessToken {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			if s.failStep == step {
				if s.retryAfter != "" {
					w.Header().Set("Retry-After", s.retryAfter)
				}
				w.WriteHeader(s.failStatus)
				_, _ = w.Write([]byte(s.failBody))
				return
			}
			next(w, r)
		}
	}

	mux.HandleFunc("POST /api/submissions", authorized("create", func(w http.ResponseWriter, r *http.Request) {
		var req gateway.SubmissionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reference == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"submission_id":"sub-1","status":"created"}`))
	}))
	mux.HandleFunc("PUT /api/submissions/{id}/content", authorized("upload", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != gateway.ContentTypeXML {
			w.WriteHeader(http.StatusUnsupportedMediaType)
			return
		}
		body, _ := io.ReadAll(r.Body)
		s.uploaded = body
		w.WriteHeader(http.StatusNoContent)
	}))
	mux.HandleFunc("POST /api/submissions/{id}/finalize", authorized("finalize", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"submission_id":"` + r.PathValue("id") + `","tracking_id":"trk-9","status":"finalized"}`))
	}))
	mux.HandleFunc("GET /api/submissions/{id}/acknowledgment", authorized("ack", func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{"status": s.ackStatus}
		switch s.ackStatus {
		case "accepted":
			resp["external_case_id"] = "US-FDA-0001"
			resp["received_at"] = "2024-03-07T10:00:00Z"
		case "rejected":
			resp["message"] = "schema violation"
			resp["errors"] = []map[string]string{{"code": "E100", "field": "drugs[0]", "message": "missing route"}}
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func (s *intakeServer) client(t *testing.T) gateway.Client {
	t.Helper()
	c, err := gateway.New(gateway.Config{
		BaseURL:      s.URL + "/api/",
		TokenURL:     s.URL + "/oauth/token",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		Timeout:      5 * time.Second,
	})
	gt.NoError(t, err).Required()
	return c
}

func TestClient_SubmissionFlow(t *testing.T) {
	srv := newIntakeServer(t)
	c := srv.client(t)
	ctx := context.Background()

	gt.NoError(t, c.Authenticate(ctx))

	sub, err := c.CreateSubmission(ctx, &gateway.SubmissionRequest{
		Reference:   "US-ACME-001",
		Kind:        gateway.SubmissionKindCase,
		Environment: types.EnvironmentTest,
		ContentType: gateway.ContentTypeXML,
	})
	gt.NoError(t, err).Required()
	gt.S(t, sub.ID).Equal("sub-1")

	gt.NoError(t, c.UploadContent(ctx, sub.ID, []byte("<doc/>")))
	gt.S(t, string(srv.uploaded)).Equal("<doc/>")

	fin, err := c.Finalize(ctx, sub.ID)
	gt.NoError(t, err).Required()
	gt.S(t, fin.TrackingID).Equal("trk-9")
	gt.S(t, fin.ID).Equal("sub-1")

	ack, err := c.GetAcknowledgment(ctx, sub.ID)
	gt.NoError(t, err).Required()
	gt.V(t, ack.Type).Equal(types.AckTypeAccepted)
	gt.S(t, ack.ExternalCaseID).Equal("US-FDA-0001")
	gt.V(t, ack.ReceivedAt).Equal(time.Date(2024, 3, 7, 10, 0, 0, 0, time.UTC))
	gt.B(t, ack.IsFinal()).True()

	// opaque token without expires_in is reused for every call
	gt.Number(t, srv.tokenCalls.Load()).Equal(1)
}

func TestClient_Acknowledgment(t *testing.T) {
	t.Run("rejected carries structured reasons", func(t *testing.T) {
		srv := newIntakeServer(t)
		srv.ackStatus = "rejected"
		ack, err := srv.client(t).GetAcknowledgment(context.Background(), "sub-1")
		gt.NoError(t, err).Required()
		gt.V(t, ack.Type).Equal(types.AckTypeRejected)
		gt.S(t, ack.Message).Equal("schema violation")
		gt.A(t, ack.Errors).Length(1)
		gt.S(t, ack.Errors[0].Code).Equal("E100")
	})

	t.Run("pending is not final", func(t *testing.T) {
		srv := newIntakeServer(t)
		srv.ackStatus = "pending"
		ack, err := srv.client(t).GetAcknowledgment(context.Background(), "sub-1")
		gt.NoError(t, err).Required()
		gt.V(t, ack.Type).Equal(types.AckTypePending)
		gt.B(t, ack.IsFinal()).False()
	})

	t.Run("unknown status is an error", func(t *testing.T) {
		srv := newIntakeServer(t)
		srv.ackStatus = "mystery"
		_, err := srv.client(t).GetAcknowledgment(context.Background(), "sub-1")
		gt.Error(t, err)
	})
}

func TestClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		step       string
		status     int
		body       string
		retryAfter string
		category   types.ErrorCategory
		retryable  bool
		message    string
		wait       time.Duration
	}{
		{name: "unauthorized", step: "create", status: 401, category: types.ErrorCategoryAuthentication},
		{name: "forbidden", step: "finalize", status: 403, category: types.ErrorCategoryAuthentication},
		{name: "rate limited", step: "create", status: 429, retryAfter: "7", category: types.ErrorCategoryRateLimit, retryable: true, wait: 7 * time.Second},
		{name: "server error", step: "upload", status: 503, category: types.ErrorCategoryServerError, retryable: true},
		{name: "unprocessable", step: "upload", status: 422, body: `{"message":"bad xml"}`, category: types.ErrorCategoryValidation, message: "bad xml"},
		{name: "bad request", step: "finalize", status: 400, body: "plain text reason", category: types.ErrorCategoryValidation, message: "plain text reason"},
		{name: "teapot", step: "create", status: 418, category: types.ErrorCategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newIntakeServer(t)
			srv.failStep = tt.step
			srv.failStatus = tt.status
			srv.failBody = tt.body
			srv.retryAfter = tt.retryAfter
			c := srv.client(t)
			ctx := context.Background()

			var err error
			switch tt.step {
			case "create":
				_, err = c.CreateSubmission(ctx, &gateway.SubmissionRequest{Reference: "r"})
			case "upload":
				err = c.UploadContent(ctx, "sub-1", []byte("<doc/>"))
			case "finalize":
				_, err = c.Finalize(ctx, "sub-1")
			}
			gt.Error(t, err)

			gt.V(t, gateway.Classify(err)).Equal(tt.category)
			gt.Number(t, gateway.StatusCode(err)).Equal(tt.status)
			gt.V(t, gateway.RetryAfter(err)).Equal(tt.wait)
			gt.Value(t, gateway.Classify(err).IsRetryable()).Equal(tt.retryable)
			if tt.message != "" {
				gt.S(t, err.Error()).Contains(tt.message)
			}
		})
	}
}

func TestClient_AuthenticationFailure(t *testing.T) {
	srv := newIntakeServer(t)
	c, err := gateway.New(gateway.Config{
		BaseURL:      srv.URL,
		TokenURL:     srv.URL + "/oauth/token",
		ClientID:     "client-id",
		ClientSecret: "wrong",
	})
	gt.NoError(t, err).Required()

	err = c.Authenticate(context.Background())
	gt.Error(t, err)
	gt.V(t, gateway.Classify(err)).Equal(types.ErrorCategoryAuthentication)
	gt.B(t, gateway.Classify(err).IsRetryable()).False()
}

func TestClient_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := gateway.New(gateway.Config{BaseURL: url},
		gateway.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "x", TokenType: "Bearer"})))
	gt.NoError(t, err).Required()

	_, err = c.CreateSubmission(context.Background(), &gateway.SubmissionRequest{Reference: "r"})
	gt.Error(t, err)
	gt.V(t, gateway.Classify(err)).Equal(types.ErrorCategoryNetwork)
	gt.B(t, gateway.Classify(err).IsRetryable()).True()
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.New()
	gt.NoError(t, tok.Set(jwt.ExpirationKey, exp))
	gt.NoError(t, tok.Set(jwt.SubjectKey, "client-id"))
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, []byte("test-signing-key")))
	gt.NoError(t, err).Required()
	return string(signed)
}

func TestClient_TokenExpiryFromJWT(t *testing.T) {
	tests := []struct {
		name      string
		exp       time.Duration
		wantCalls int32
	}{
		{name: "far expiry is cached", exp: time.Hour, wantCalls: 1},
		{name: "expiry inside refresh margin is refetched", exp: 30 * time.Second, wantCalls: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newIntakeServer(t)
			srv.accessToken = signedToken(t, time.Now().Add(tt.exp))
			c := srv.client(t)
			ctx := context.Background()

			for range 3 {
				gt.NoError(t, c.Authenticate(ctx))
			}
			gt.Number(t, srv.tokenCalls.Load()).Equal(tt.wantCalls)
		})
	}
}

func TestClient_ExpiresInTakesPrecedence(t *testing.T) {
	srv := newIntakeServer(t)
	// exp claim is near, expires_in is an hour
	srv.accessToken = signedToken(t, time.Now().Add(10*time.Second))
	srv.expiresIn = 3600
	c := srv.client(t)

	for range 3 {
		gt.NoError(t, c.Authenticate(context.Background()))
	}
	gt.Number(t, srv.tokenCalls.Load()).Equal(1)
}

func TestNew_RequiresSettings(t *testing.T) {
	_, err := gateway.New(gateway.Config{})
	gt.Error(t, err)

	_, err = gateway.New(gateway.Config{BaseURL: "https://intake.example"})
	gt.Error(t, err)
	gt.B(t, strings.Contains(err.Error(), "token URL")).True()
}

func TestClient_TokenFetchHonorsContext(t *testing.T) {
	released := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-released:
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(released) })

	c, err := gateway.New(gateway.Config{
		BaseURL:      srv.URL,
		TokenURL:     srv.URL + "/oauth/token",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		Timeout:      10 * time.Second,
	})
	gt.NoError(t, err).Required()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = c.Authenticate(ctx)
	gt.Error(t, err)
	gt.B(t, time.Since(start) < 5*time.Second).True()
}

func TestClient_ErrorMessageKeepsUTF8(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "multibyte rune across the limit", body: strings.Repeat("a", 511) + "\u00e9" + "tail", want: 511},
		{name: "ascii is cut at the limit", body: strings.Repeat("b", 600), want: 512},
		{name: "short body is kept", body: "\u96fb\u5b50\u5831\u544a", want: 12},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newIntakeServer(t)
			srv.failStep = "create"
			srv.failStatus = http.StatusBadRequest
			srv.failBody = tt.body
			c := srv.client(t)

			_, err := c.CreateSubmission(context.Background(), &gateway.SubmissionRequest{Reference: "r"})
			gt.Error(t, err)

			var gwErr *gateway.Error
			gt.B(t, errors.As(err, &gwErr)).True().Required()
			gt.B(t, utf8.ValidString(gwErr.Message)).True()
			gt.Number(t, len(gwErr.Message)).Equal(tt.want)
		})
	}
}
