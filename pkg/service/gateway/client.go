package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/icsrlink/pkg/domain/model"
	"github.com/secmon-lab/icsrlink/pkg/domain/types"
	"github.com/secmon-lab/icsrlink/pkg/utils/logging"
	"github.com/secmon-lab/icsrlink/pkg/utils/safe"
	"golang.org/x/oauth2"
)

// Client is the remote submission protocol of the intake service
type Client interface {
	// Authenticate obtains (or reuses) an access token
	Authenticate(ctx context.Context) error
	// CreateSubmission opens a submission and returns its identifier
	CreateSubmission(ctx context.Context, req *SubmissionRequest) (*Submission, error)
	// UploadContent uploads the XML payload of an open submission
	UploadContent(ctx context.Context, submissionID string, content []byte) error
	// Finalize closes the submission and returns the tracking identifier
	Finalize(ctx context.Context, submissionID string) (*Submission, error)
	// GetAcknowledgment returns the current acknowledgment. A pending ack has Type AckTypePending.
	GetAcknowledgment(ctx context.Context, submissionID string) (*model.Acknowledgment, error)
}

// SubmissionRequest describes the payload that is about to be uploaded
type SubmissionRequest struct {
	Reference   string            `json:"reference"`
	Kind        string            `json:"kind"`
	Environment types.Environment `json:"environment"`
	ReceiverID  string            `json:"receiver_id,omitempty"`
	ContentType string            `json:"content_type"`
	Size        int               `json:"size"`
}

const (
	SubmissionKindCase  = "case"
	SubmissionKindBatch = "batch"

	ContentTypeXML = "application/xml"
)

// Submission is the intake service's view of a submission
type Submission struct {
	ID         string `json:"submission_id"`
	TrackingID string `json:"tracking_id,omitempty"`
	Status     string `json:"status,omitempty"`
}

// Config holds the connection settings of the intake service
type Config struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string `masq:"secret"`
	Scopes       []string
	Timeout      time.Duration
}

type client struct {
	baseURL    *url.URL
	httpClient *http.Client
	tokens     tokenSource
	now        func() time.Time
}

// Option configures the HTTP client
type Option func(*client)

// WithHTTPClient replaces the tuned default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		c.httpClient = hc
	}
}

// WithTokenSource replaces the client-credentials token source
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *client) {
		c.tokens = staticSource{ts: ts}
	}
}

// WithNow sets the clock used to stamp acknowledgments without a timestamp
func WithNow(now func() time.Time) Option {
	return func(c *client) {
		c.now = now
	}
}

// New creates an HTTP implementation of Client
func New(cfg Config, opts ...Option) (Client, error) {
	if cfg.BaseURL == "" {
		return nil, goerr.New("gateway base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, goerr.Wrap(err, "invalid gateway base URL", goerr.V("base_url", cfg.BaseURL))
	}

	c := &client{
		baseURL: base,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = newHTTPClient(cfg.Timeout)
	}
	if c.tokens == nil {
		if cfg.TokenURL == "" || cfg.ClientID == "" {
			return nil, goerr.New("gateway token URL and client ID are required")
		}
		c.tokens = newTokenSource(c.httpClient, cfg)
	}

	return c, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

func (c *client) Authenticate(ctx context.Context) error {
	if _, err := c.token(ctx); err != nil {
		return err
	}
	return nil
}

func (c *client) token(ctx context.Context) (*oauth2.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, &Error{
			Category: Classify(err),
			Step:     types.ProtocolStepAuthenticate,
			Message:  "token exchange failed",
			Err:      err,
		}
	}
	return token, nil
}

func (c *client) CreateSubmission(ctx context.Context, req *SubmissionRequest) (*Submission, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal submission request")
	}

	var resp Submission
	if err := c.do(ctx, types.ProtocolStepCreate, http.MethodPost, "submissions", "application/json", body, &resp); err != nil {
		return nil, goerr.Wrap(err, "failed to create submission", goerr.V("reference", req.Reference))
	}
	if resp.ID == "" {
		return nil, &Error{
			Category: types.ErrorCategoryUnknown,
			Step:     types.ProtocolStepCreate,
			Message:  "response has no submission_id",
		}
	}
	return &resp, nil
}

func (c *client) UploadContent(ctx context.Context, submissionID string, content []byte) error {
	path := "submissions/" + url.PathEscape(submissionID) + "/content"
	if err := c.do(ctx, types.ProtocolStepUpload, http.MethodPut, path, ContentTypeXML, content, nil); err != nil {
		return goerr.Wrap(err, "failed to upload submission content",
			goerr.V("submission_id", submissionID),
			goerr.V("size", len(content)))
	}
	return nil
}

func (c *client) Finalize(ctx context.Context, submissionID string) (*Submission, error) {
	path := "submissions/" + url.PathEscape(submissionID) + "/finalize"
	var resp Submission
	if err := c.do(ctx, types.ProtocolStepFinalize, http.MethodPost, path, "", nil, &resp); err != nil {
		return nil, goerr.Wrap(err, "failed to finalize submission", goerr.V("submission_id", submissionID))
	}
	if resp.ID == "" {
		resp.ID = submissionID
	}
	return &resp, nil
}

type ackResponse struct {
	Status         string           `json:"status"`
	ExternalCaseID string           `json:"external_case_id"`
	Message        string           `json:"message"`
	Errors         []model.AckError `json:"errors"`
	ReceivedAt     *time.Time       `json:"received_at"`
}

func (c *client) GetAcknowledgment(ctx context.Context, submissionID string) (*model.Acknowledgment, error) {
	path := "submissions/" + url.PathEscape(submissionID) + "/acknowledgment"
	var resp ackResponse
	if err := c.do(ctx, types.ProtocolStepAcknowledgment, http.MethodGet, path, "", nil, &resp); err != nil {
		return nil, goerr.Wrap(err, "failed to get acknowledgment", goerr.V("submission_id", submissionID))
	}

	ack := &model.Acknowledgment{
		Type:           types.AckTypePending,
		ExternalCaseID: resp.ExternalCaseID,
		Message:        resp.Message,
		Errors:         resp.Errors,
		ReceivedAt:     c.now().UTC(),
	}
	if resp.ReceivedAt != nil {
		ack.ReceivedAt = resp.ReceivedAt.UTC()
	}

	switch strings.ToLower(resp.Status) {
	case "", "pending", "processing", "received":
		ack.Type = types.AckTypePending
	case "accepted", "ack", "success":
		ack.Type = types.AckTypeAccepted
	case "rejected", "nack", "error", "failed":
		ack.Type = types.AckTypeRejected
	default:
		return nil, goerr.New("unknown acknowledgment status",
			goerr.V("submission_id", submissionID),
			goerr.V("status", resp.Status))
	}

	return ack, nil
}

// do sends one authenticated request. A 204 or empty body leaves out untouched.
func (c *client) do(ctx context.Context, step types.ProtocolStep, method, path, contentType string, body []byte, out any) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	endpoint := c.baseURL.JoinPath(path)
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return goerr.Wrap(err, "failed to build request", goerr.V("url", endpoint.String()))
	}
	token.SetAuthHeader(req)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	logging.From(ctx).Debug("gateway request",
		"method", method,
		"path", endpoint.Path,
		"step", step,
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{
			Category: Classify(err),
			Step:     step,
			Message:  "request failed",
			Err:      err,
		}
	}
	defer safe.Close(ctx, resp.Body)

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &Error{
			Category: types.ErrorCategoryNetwork,
			Step:     step,
			Message:  "failed to read response body",
			Err:      err,
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{
			Category:   ClassifyStatus(resp.StatusCode),
			Step:       step,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(respBody),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), c.now()),
		}
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &Error{
			Category:   types.ErrorCategoryUnknown,
			Step:       step,
			StatusCode: resp.StatusCode,
			Message:    "malformed response body",
			Err:        err,
		}
	}
	return nil
}

// errorMessage extracts a human readable message from an error response body
func errorMessage(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}

	return truncate(strings.TrimSpace(string(body)), maxErrorMessageBytes)
}

const maxErrorMessageBytes = 512

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
