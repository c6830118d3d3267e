package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/icsrlink/pkg/domain/model"
	"github.com/secmon-lab/icsrlink/pkg/service/lock"
	"github.com/secmon-lab/icsrlink/pkg/service/worker"
	"github.com/secmon-lab/icsrlink/pkg/usecase"
)

// mockAckSource returns a fixed outcome per case and batch
type mockAckSource struct {
	mu sync.Mutex

	cases    map[model.CaseID]usecase.PollOutcome
	batches  map[model.BatchID]usecase.PollOutcome
	failing  map[string]bool
	slow     map[string]bool
	listErr  error
	polled   []string
	inFlight int
	peak     int
}

func newMockAckSource() *mockAckSource {
	return &mockAckSource{
		cases:   make(map[model.CaseID]usecase.PollOutcome),
		batches: make(map[model.BatchID]usecase.PollOutcome),
		failing: make(map[string]bool),
		slow:    make(map[string]bool),
	}
}

func (m *mockAckSource) PendingCases(ctx context.Context) ([]*model.Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*model.Case
	for id := range m.cases {
		out = append(out, &model.Case{ID: id})
	}
	return out, nil
}

func (m *mockAckSource) PendingBatches(ctx context.Context) ([]*model.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Batch
	for id := range m.batches {
		out = append(out, &model.Batch{ID: id})
	}
	return out, nil
}

func (m *mockAckSource) enter(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.polled = append(m.polled, key)
	m.inFlight++
	m.peak = max(m.peak, m.inFlight)
}

func (m *mockAckSource) leave() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight--
}

func (m *mockAckSource) poll(ctx context.Context, key string, outcome usecase.PollOutcome) (usecase.PollOutcome, error) {
	m.enter(key)
	defer m.leave()

	m.mu.Lock()
	failing, slow := m.failing[key], m.slow[key]
	m.mu.Unlock()

	if slow {
		<-ctx.Done()
		return "", ctx.Err()
	}
	time.Sleep(5 * time.Millisecond)
	if failing {
		return "", errors.New("intake unavailable")
	}
	return outcome, nil
}

func (m *mockAckSource) PollCase(ctx context.Context, id model.CaseID) (usecase.PollOutcome, error) {
	m.mu.Lock()
	outcome := m.cases[id]
	m.mu.Unlock()
	return m.poll(ctx, "case:"+string(id), outcome)
}

func (m *mockAckSource) PollBatch(ctx context.Context, id model.BatchID) (usecase.PollOutcome, error) {
	m.mu.Lock()
	outcome := m.batches[id]
	m.mu.Unlock()
	return m.poll(ctx, "batch:"+string(id), outcome)
}

func (m *mockAckSource) pollCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.polled)
}

func TestAckPoller_RunOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("outcomes are tallied", func(t *testing.T) {
		src := newMockAckSource()
		src.cases["c1"] = usecase.PollOutcomeAcknowledged
		src.cases["c2"] = usecase.PollOutcomeRejected
		src.cases["c3"] = usecase.PollOutcomePending
		src.batches["b1"] = usecase.PollOutcomeNeedsAttention

		p := worker.NewAckPoller(src, nil, worker.AckPollerConfig{Concurrency: 2})
		result, err := p.RunOnce(ctx)
		gt.NoError(t, err).Required()

		gt.Value(t, result.Checked).Equal(4)
		gt.Value(t, result.Acknowledged).Equal(1)
		gt.Value(t, result.Rejected).Equal(1)
		gt.Value(t, result.Pending).Equal(1)
		gt.Value(t, result.NeedsAttention).Equal(1)
		gt.Value(t, result.Failed).Equal(0)
		gt.Bool(t, src.peak <= 2).True()
	})

	t.Run("failing query does not stop the others", func(t *testing.T) {
		src := newMockAckSource()
		src.cases["ok"] = usecase.PollOutcomeAcknowledged
		src.cases["bad"] = usecase.PollOutcomePending
		src.failing["case:bad"] = true

		p := worker.NewAckPoller(src, nil, worker.AckPollerConfig{})
		result, err := p.RunOnce(ctx)
		gt.NoError(t, err).Required()
		gt.Value(t, result.Acknowledged).Equal(1)
		gt.Value(t, result.Failed).Equal(1)
	})

	t.Run("slow query is cut off by the per-query timeout", func(t *testing.T) {
		src := newMockAckSource()
		src.cases["slow"] = usecase.PollOutcomePending
		src.cases["fast"] = usecase.PollOutcomeAcknowledged
		src.slow["case:slow"] = true

		p := worker.NewAckPoller(src, nil, worker.AckPollerConfig{QueryTimeout: 20 * time.Millisecond})
		result, err := p.RunOnce(ctx)
		gt.NoError(t, err).Required()
		gt.Value(t, result.Failed).Equal(1)
		gt.Value(t, result.Acknowledged).Equal(1)
	})

	t.Run("listing failure fails the cycle", func(t *testing.T) {
		src := newMockAckSource()
		src.listErr = errors.New("database down")

		p := worker.NewAckPoller(src, nil, worker.AckPollerConfig{})
		_, err := p.RunOnce(ctx)
		gt.Value(t, err).NotNil()
	})

	t.Run("cycle is skipped while the lock is held", func(t *testing.T) {
		src := newMockAckSource()
		src.cases["c1"] = usecase.PollOutcomePending

		locker := lock.NewMemory()
		unlock, acquired, err := locker.TryLock(ctx, "icsrlink:ack-poll", time.Minute)
		gt.NoError(t, err).Required()
		gt.Bool(t, acquired).True()

		p := worker.NewAckPoller(src, locker, worker.AckPollerConfig{})
		result, err := p.RunOnce(ctx)
		gt.NoError(t, err).Required()
		gt.Bool(t, result.Skipped).True()
		gt.Value(t, src.pollCount()).Equal(0)

		gt.NoError(t, unlock(ctx)).Required()
		result, err = p.RunOnce(ctx)
		gt.NoError(t, err).Required()
		gt.Bool(t, result.Skipped).False()
		gt.Value(t, result.Checked).Equal(1)

		// the lock is released after the cycle
		_, acquired, err = locker.TryLock(ctx, "icsrlink:ack-poll", time.Minute)
		gt.NoError(t, err).Required()
		gt.Bool(t, acquired).True()
	})
}

func TestAckPoller_StartStop(t *testing.T) {
	t.Run("start runs an initial cycle and stop is idempotent", func(t *testing.T) {
		src := newMockAckSource()
		src.cases["c1"] = usecase.PollOutcomePending

		p := worker.NewAckPoller(src, nil, worker.AckPollerConfig{Interval: 10 * time.Millisecond})
		ctx := context.Background()

		gt.NoError(t, p.Start(ctx)).Required()
		gt.NoError(t, p.Start(ctx)).Required()

		deadline := time.Now().Add(2 * time.Second)
		for src.pollCount() < 2 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		gt.Bool(t, src.pollCount() >= 2).True()

		p.Stop()
		p.Stop()

		stopped := src.pollCount()
		time.Sleep(30 * time.Millisecond)
		gt.Value(t, src.pollCount()).Equal(stopped)
	})

	t.Run("stop before start does nothing", func(t *testing.T) {
		p := worker.NewAckPoller(newMockAckSource(), nil, worker.AckPollerConfig{})
		p.Stop()
	})

	t.Run("poller can be restarted", func(t *testing.T) {
		src := newMockAckSource()
		p := worker.NewAckPoller(src, nil, worker.AckPollerConfig{Interval: time.Hour})
		ctx := context.Background()

		gt.NoError(t, p.Start(ctx)).Required()
		p.Stop()
		gt.NoError(t, p.Start(ctx)).Required()
		p.Stop()
	})

	t.Run("poller stopped by its context can be started again", func(t *testing.T) {
		src := newMockAckSource()
		src.cases["c1"] = usecase.PollOutcomePending
		p := worker.NewAckPoller(src, nil, worker.AckPollerConfig{Interval: time.Hour})

		ctx, cancel := context.WithCancel(context.Background())
		gt.NoError(t, p.Start(ctx)).Required()
		waitFor(t, func() bool { return src.pollCount() == 1 })

		cancel()
		waitFor(t, func() bool { return !p.Running() })

		gt.NoError(t, p.Start(context.Background())).Required()
		gt.Bool(t, p.Running()).True()
		waitFor(t, func() bool { return src.pollCount() == 2 })

		p.Stop()
		gt.Bool(t, p.Running()).False()
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type mockRecoverer struct {
	mu        sync.Mutex
	olderThan []time.Duration
	err       error
}

func (m *mockRecoverer) RecoverStale(ctx context.Context, olderThan time.Duration) (*usecase.RecoveryResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.olderThan = append(m.olderThan, olderThan)
	if m.err != nil {
		return nil, m.err
	}
	return &usecase.RecoveryResult{Cases: 2, Attempts: 3}, nil
}

func TestAckPoller_Recovery(t *testing.T) {
	ctx := context.Background()

	t.Run("each cycle releases stale submissions", func(t *testing.T) {
		src := newMockAckSource()
		src.cases["c1"] = usecase.PollOutcomePending
		rec := &mockRecoverer{}
		p := worker.NewAckPoller(src, nil, worker.AckPollerConfig{StaleAfter: time.Minute}, worker.WithRecoverer(rec))

		result, err := p.RunOnce(ctx)
		gt.NoError(t, err).Required()
		gt.Number(t, result.Recovered).Equal(2)
		gt.Number(t, result.Checked).Equal(1)
		gt.A(t, rec.olderThan).Length(1).Required()
		gt.Value(t, rec.olderThan[0]).Equal(time.Minute)
	})

	t.Run("recovery failure does not stop polling", func(t *testing.T) {
		src := newMockAckSource()
		src.cases["c1"] = usecase.PollOutcomeAcknowledged
		rec := &mockRecoverer{err: errors.New("store unavailable")}
		p := worker.NewAckPoller(src, nil, worker.AckPollerConfig{}, worker.WithRecoverer(rec))

		result, err := p.RunOnce(ctx)
		gt.NoError(t, err).Required()
		gt.Number(t, result.Recovered).Equal(0)
		gt.Number(t, result.Acknowledged).Equal(1)
		gt.Value(t, rec.olderThan[0]).Equal(15 * time.Minute)
	})
}
