package usecase_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/icsrlink/pkg/domain/model"
	"github.com/secmon-lab/icsrlink/pkg/domain/types"
	"github.com/secmon-lab/icsrlink/pkg/repository/memory"
	"github.com/secmon-lab/icsrlink/pkg/service/export"
	"github.com/secmon-lab/icsrlink/pkg/service/gateway"
	"github.com/secmon-lab/icsrlink/pkg/usecase"
	"github.com/secmon-lab/icsrlink/pkg/utils/testutil"
)

// fakeGateway replays scripted failures and records every protocol call
type fakeGateway struct {
	mu sync.Mutex

	authErrs   []error
	createErrs []error
	uploadErrs []error

	// blockUpload makes UploadContent wait for cancellation after signalling uploading
	blockUpload bool
	uploading   chan struct{}

	ack    *model.Acknowledgment
	ackErr error

	calls    map[string]int
	requests []*gateway.SubmissionRequest
	payloads [][]byte
	nextID   int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		calls:     make(map[string]int),
		uploading: make(chan struct{}, 1),
		ack:       &model.Acknowledgment{Type: types.AckTypePending},
	}
}

func networkError(step types.ProtocolStep) error {
	return &gateway.Error{Category: types.ErrorCategoryNetwork, Step: step, Message: "connection reset"}
}

func statusError(step types.ProtocolStep, code int) error {
	return &gateway.Error{Category: gateway.ClassifyStatus(code), Step: step, StatusCode: code, Message: "rejected by intake"}
}

func pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (g *fakeGateway) Authenticate(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["authenticate"]++
	return pop(&g.authErrs)
}

func (g *fakeGateway) CreateSubmission(ctx context.Context, req *gateway.SubmissionRequest) (*gateway.Submission, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["create"]++
	if err := pop(&g.createErrs); err != nil {
		return nil, err
	}
	g.nextID++
	g.requests = append(g.requests, req)
	return &gateway.Submission{ID: fmt.Sprintf("sub-%d", g.nextID)}, nil
}

func (g *fakeGateway) UploadContent(ctx context.Context, submissionID string, content []byte) error {
	g.mu.Lock()
	g.calls["upload"]++
	block := g.blockUpload
	err := pop(&g.uploadErrs)
	if err == nil && !block {
		g.payloads = append(g.payloads, content)
	}
	g.mu.Unlock()

	if block {
		g.uploading <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (g *fakeGateway) Finalize(ctx context.Context, submissionID string) (*gateway.Submission, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["finalize"]++
	return &gateway.Submission{ID: submissionID, TrackingID: "trk-" + submissionID, Status: "received"}, nil
}

func (g *fakeGateway) GetAcknowledgment(ctx context.Context, submissionID string) (*model.Acknowledgment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["ack"]++
	if g.ackErr != nil {
		return nil, g.ackErr
	}
	copied := *g.ack
	return &copied, nil
}

func (g *fakeGateway) count(name string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[name]
}

// fastBackoff keeps retry tests quick
func fastBackoff(attempts int) gateway.Backoff {
	return gateway.Backoff{Base: time.Millisecond, Cap: 5 * time.Millisecond, MaxAttempts: attempts}
}

type fixture struct {
	repo *memory.Memory
	gw   *fakeGateway
	uc   *usecase.UseCases
}

func setup(t *testing.T, opts ...usecase.Option) *fixture {
	t.Helper()

	store, err := export.NewLocal(t.TempDir())
	gt.NoError(t, err).Required()

	repo := memory.New()
	gw := newFakeGateway()
	base := []usecase.Option{
		usecase.WithGateway(gw),
		usecase.WithExportStore(store),
		usecase.WithBackoff(fastBackoff(5)),
	}
	return &fixture{
		repo: repo,
		gw:   gw,
		uc:   usecase.New(repo, append(base, opts...)...),
	}
}

// createCase stores a valid draft case
func (f *fixture) createCase(t *testing.T, mutators ...func(c *model.Case)) *model.Case {
	t.Helper()
	c, err := f.uc.Case.CreateCase(context.Background(), testutil.NewCase(mutators...))
	gt.NoError(t, err).Required()
	return c
}

// exportedCase stores a valid case and moves it to exported
func (f *fixture) exportedCase(t *testing.T, mutators ...func(c *model.Case)) *model.Case {
	t.Helper()
	ctx := context.Background()

	c := f.createCase(t, mutators...)
	_, _, err := f.uc.Case.MarkReadyForExport(ctx, c.ID)
	gt.NoError(t, err).Required()
	exported, err := f.uc.Case.ExportCase(ctx, c.ID)
	gt.NoError(t, err).Required()
	gt.Value(t, exported.Status).Equal(types.CaseStatusExported)
	return exported
}

// submittedCase stores a valid case and submits it
func (f *fixture) submittedCase(t *testing.T) *model.Case {
	t.Helper()
	c := f.exportedCase(t)
	submitted, err := f.uc.Submission.SubmitCase(context.Background(), c.ID)
	gt.NoError(t, err).Required()
	gt.Value(t, submitted.Status).Equal(types.CaseStatusSubmitted)
	return submitted
}

func countEvents(entries []*model.HistoryEntry, event types.HistoryEvent) int {
	n := 0
	for _, e := range entries {
		if e.Event == event {
			n++
		}
	}
	return n
}
