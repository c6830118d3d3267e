package worker

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/icsrlink/pkg/domain/interfaces"
	"github.com/secmon-lab/icsrlink/pkg/domain/model"
	"github.com/secmon-lab/icsrlink/pkg/usecase"
	"github.com/secmon-lab/icsrlink/pkg/utils/errutil"
	"github.com/secmon-lab/icsrlink/pkg/utils/logging"
	"golang.org/x/sync/errgroup"
)

// AckSource lists submissions awaiting an acknowledgment and polls them one by one.
// *usecase.AcknowledgmentUseCase implements it.
type AckSource interface {
	PendingCases(ctx context.Context) ([]*model.Case, error)
	PendingBatches(ctx context.Context) ([]*model.Batch, error)
	PollCase(ctx context.Context, id model.CaseID) (usecase.PollOutcome, error)
	PollBatch(ctx context.Context, id model.BatchID) (usecase.PollOutcome, error)
}

// Recoverer releases submissions interrupted by a stopped process.
// *usecase.SubmissionUseCase implements it.
type Recoverer interface {
	RecoverStale(ctx context.Context, olderThan time.Duration) (*usecase.RecoveryResult, error)
}

const pollLockKey = "icsrlink:ack-poll"

// AckPollerConfig controls the poll cycle
type AckPollerConfig struct {
	Interval     time.Duration
	Concurrency  int
	QueryTimeout time.Duration
	LockTTL      time.Duration
	// StaleAfter is how long a submission may sit without activity before it is recovered
	StaleAfter   time.Duration
}

func (c AckPollerConfig) withDefaults() AckPollerConfig {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 30 * time.Second
	}
	if c.LockTTL <= 0 {
		c.LockTTL = c.Interval
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 15 * time.Minute
	}
	return c
}

// CycleResult summarizes one poll cycle
type CycleResult struct {
	Skipped        bool
	Checked        int
	Acknowledged   int
	Rejected       int
	NeedsAttention int
	Pending        int
	Failed         int
	Recovered      int
}

func (r *CycleResult) add(outcome usecase.PollOutcome, err error) {
	r.Checked++
	if err != nil {
		r.Failed++
		return
	}
	switch outcome {
	case usecase.PollOutcomeAcknowledged:
		r.Acknowledged++
	case usecase.PollOutcomeRejected:
		r.Rejected++
	case usecase.PollOutcomeNeedsAttention:
		r.NeedsAttention++
	default:
		r.Pending++
	}
}

// AckPoller periodically checks submitted cases and batches for acknowledgments.
// When several replicas run, the locker makes sure only one of them polls per cycle.
type AckPoller struct {
	source    AckSource
	locker    interfaces.Locker
	recoverer Recoverer
	cfg       AckPollerConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// PollerOption is a functional option for AckPoller
type PollerOption func(*AckPoller)

// WithRecoverer makes every cycle release stale submissions before polling
func WithRecoverer(r Recoverer) PollerOption {
	return func(p *AckPoller) {
		p.recoverer = r
	}
}

// NewAckPoller creates a poller. locker may be nil when only one instance polls.
func NewAckPoller(source AckSource, locker interfaces.Locker, cfg AckPollerConfig, opts ...PollerOption) *AckPoller {
	p := &AckPoller{
		source: source,
		locker: locker,
		cfg:    cfg.withDefaults(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start begins the background poll loop. Calling Start on a running poller does nothing.
func (p *AckPoller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})

	logging.From(ctx).Info("acknowledgment poller starting",
		"interval", p.cfg.Interval.String(),
		"concurrency", p.cfg.Concurrency)

	go p.run(ctx, p.stopCh, p.doneCh)
	return nil
}

// Stop signals the loop to stop and waits for the running cycle to finish.
// Calling Stop on a stopped poller does nothing.
func (p *AckPoller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	logging.Default().Info("acknowledgment poller stopping")
	close(stopCh)
	<-doneCh
	logging.Default().Info("acknowledgment poller stopped")
}

// Running reports whether the poll loop is active
func (p *AckPoller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *AckPoller) run(ctx context.Context, stopCh <-chan struct{}, doneCh chan struct{}) {
	defer close(doneCh)
	// a loop ended by its context leaves the poller startable again
	defer func() {
		p.mu.Lock()
		if p.doneCh == doneCh {
			p.running = false
		}
		p.mu.Unlock()
	}()

	p.cycle(ctx)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.cycle(ctx)

		case <-stopCh:
			return

		case <-ctx.Done():
			logging.From(ctx).Info("acknowledgment poller context cancelled")
			return
		}
	}
}

func (p *AckPoller) cycle(ctx context.Context) {
	if _, err := p.RunOnce(ctx); err != nil {
		errutil.Handle(ctx, err, "acknowledgment poll cycle failed (will retry next interval)")
	}
}

// RunOnce performs a single poll cycle. A cycle is skipped when another instance holds the
// poll lock. Failures of individual queries are logged and counted, not returned.
func (p *AckPoller) RunOnce(ctx context.Context) (*CycleResult, error) {
	if p.locker != nil {
		unlock, acquired, err := p.locker.TryLock(ctx, pollLockKey, p.cfg.LockTTL)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to acquire poll lock")
		}
		if !acquired {
			logging.From(ctx).Debug("poll lock is held elsewhere, skipping cycle")
			return &CycleResult{Skipped: true}, nil
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				errutil.Handle(ctx, err, "failed to release poll lock")
			}
		}()
	}

	startTime := time.Now()
	result := &CycleResult{}

	if p.recoverer != nil {
		recovered, err := p.recoverer.RecoverStale(ctx, p.cfg.StaleAfter)
		if err != nil {
			errutil.Handle(ctx, err, "failed to recover interrupted submissions")
		} else {
			result.Recovered = recovered.Cases
		}
	}

	cases, err := p.source.PendingCases(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list cases awaiting acknowledgment")
	}
	batches, err := p.source.PendingBatches(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list batches awaiting acknowledgment")
	}

	var resultMu sync.Mutex
	collect := func(outcome usecase.PollOutcome, err error) {
		resultMu.Lock()
		defer resultMu.Unlock()
		result.add(outcome, err)
	}

	var eg errgroup.Group
	eg.SetLimit(p.cfg.Concurrency)

	for _, c := range cases {
		eg.Go(func() error {
			queryCtx, cancel := context.WithTimeout(ctx, p.cfg.QueryTimeout)
			defer cancel()

			outcome, err := p.source.PollCase(queryCtx, c.ID)
			if err != nil {
				errutil.Handle(ctx, goerr.Wrap(err, "failed to poll case", goerr.V("case_id", c.ID)),
					"acknowledgment query failed")
			}
			collect(outcome, err)
			return nil
		})
	}
	for _, b := range batches {
		eg.Go(func() error {
			queryCtx, cancel := context.WithTimeout(ctx, p.cfg.QueryTimeout)
			defer cancel()

			outcome, err := p.source.PollBatch(queryCtx, b.ID)
			if err != nil {
				errutil.Handle(ctx, goerr.Wrap(err, "failed to poll batch", goerr.V("batch_id", b.ID)),
					"acknowledgment query failed")
			}
			collect(outcome, err)
			return nil
		})
	}
	_ = eg.Wait()

	logging.From(ctx).Info("acknowledgment poll cycle completed",
		"checked", result.Checked,
		"acknowledged", result.Acknowledged,
		"rejected", result.Rejected,
		"needs_attention", result.NeedsAttention,
		"failed", result.Failed,
		"recovered", result.Recovered,
		"duration", time.Since(startTime).String())

	return result, nil
}
