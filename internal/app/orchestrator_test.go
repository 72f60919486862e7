package app

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/notibatch/internal/domain"
)

// deliverySpy records every batch handed to its deliver function.
// The first failN calls fail.
type deliverySpy struct {
	mu      sync.Mutex
	batches [][]domain.Message
	failN   atomic.Int32
	calls   atomic.Int32
}

func (s *deliverySpy) deliver(_ context.Context, batch []domain.Message) error {
	s.calls.Add(1)
	if s.failN.Add(-1) >= 0 {
		return errors.New("transport down")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]domain.Message(nil), batch...))
	return nil
}

func (s *deliverySpy) delivered() [][]domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]domain.Message(nil), s.batches...)
}

func kinds(batch []domain.Message) []string {
	out := make([]string, len(batch))
	for i, m := range batch {
		out[i] = m.Kind
	}
	return out
}

type fixedMemory struct {
	bits atomic.Uint64
}

func (f *fixedMemory) set(percent float64) { f.bits.Store(math.Float64bits(percent)) }

func (f *fixedMemory) UsagePercent() float64 { return math.Float64frombits(f.bits.Load()) }

type deadLetterSpy struct {
	mu   sync.Mutex
	msgs []domain.Message
}

func (d *deadLetterSpy) DeadLetter(_ context.Context, _ string, msgs []domain.Message, _ error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.msgs = append(d.msgs, msgs...)
	return nil
}

func (d *deadLetterSpy) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.msgs)
}

func testConfig() domain.Config {
	cfg := domain.DefaultConfig()
	cfg.MaxBatchSize = 3
	cfg.MaxBatchDelay = 50 * time.Millisecond
	cfg.PriorityBypassThreshold = 5
	return cfg
}

func newTestOrchestrator(t *testing.T, cfg domain.Config, deps Dependencies) *Orchestrator {
	t.Helper()
	if deps.Logger == nil {
		deps.Logger = mockLogger{}
	}
	o, err := NewOrchestrator(cfg, deps)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = o.Shutdown(ctx)
	})
	return o
}

func msg(kind string, priority int) domain.Message {
	return domain.Message{Kind: kind, Priority: priority}
}

func TestNewOrchestrator_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBatchSize = 0

	_, err := NewOrchestrator(cfg, Dependencies{})
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestOrchestrator_EndToEnd(t *testing.T) {
	o := newTestOrchestrator(t, testConfig(), Dependencies{})
	spy := &deliverySpy{}

	for _, k := range []string{"A", "B", "C"} {
		require.True(t, o.Enqueue("u1", msg(k, 1), spy.deliver))
	}

	require.Eventually(t, func() bool { return o.Metrics().TotalBatches == 1 }, time.Second, 5*time.Millisecond)
	require.Len(t, spy.delivered(), 1)
	assert.Equal(t, []string{"A", "B", "C"}, kinds(spy.delivered()[0]))

	m := o.Metrics()
	assert.EqualValues(t, 1, m.TotalBatches)
	assert.Equal(t, 3.0, m.AverageBatchSize)

	require.True(t, o.Enqueue("u1", msg("D", 5), spy.deliver))

	// Bypass is synchronous.
	batches := spy.delivered()
	require.Len(t, batches, 2)
	assert.Equal(t, []string{"D"}, kinds(batches[1]))

	m = o.Metrics()
	assert.EqualValues(t, 1, m.TotalBatches)
	assert.EqualValues(t, 1, m.ImmediateDeliveries)
	assert.EqualValues(t, 4, m.TotalMessages)
	assert.Zero(t, m.QueueDepth)
}

func TestOrchestrator_CapacityBound(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBatchSize = 100
	cfg.MaxBatchDelay = time.Hour
	cfg.MaxQueueSizePerRecipient = 5
	o := newTestOrchestrator(t, cfg, Dependencies{})
	spy := &deliverySpy{}

	rejected := 0
	for i := 0; i < cfg.MaxQueueSizePerRecipient+1; i++ {
		if !o.Enqueue("u1", msg("m", 1), spy.deliver) {
			rejected++
		}
	}

	assert.Equal(t, 1, rejected)
	m := o.Metrics()
	assert.EqualValues(t, 1, m.DroppedMessages)
	assert.Equal(t, 5, m.QueueDepth)
}

func TestOrchestrator_BypassSkipsQueue(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBatchDelay = time.Hour
	o := newTestOrchestrator(t, cfg, Dependencies{})
	spy := &deliverySpy{}

	require.True(t, o.Enqueue("u1", msg("urgent", 7), spy.deliver))

	batches := spy.delivered()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 1)
	assert.Equal(t, "urgent", batches[0][0].Kind)
	assert.NotEmpty(t, batches[0][0].ID)

	status := o.Status()
	assert.Zero(t, status.ActiveQueues)
	assert.Zero(t, status.Metrics.QueueDepth)
}

func TestOrchestrator_SizeTriggeredFlush(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBatchDelay = time.Hour
	o := newTestOrchestrator(t, cfg, Dependencies{})
	spy := &deliverySpy{}

	for i := 0; i < cfg.MaxBatchSize; i++ {
		require.True(t, o.Enqueue("u1", msg("m", 1), spy.deliver))
	}

	require.Eventually(t, func() bool { return len(spy.delivered()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Len(t, spy.delivered()[0], cfg.MaxBatchSize)
	assert.Zero(t, o.Status().PendingTimers)
}

func TestOrchestrator_FlushContinuesWhileFullBatchesRemain(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBatchSize = 2
	cfg.MaxBatchDelay = time.Hour
	o := newTestOrchestrator(t, cfg, Dependencies{})

	var once sync.Once
	release := make(chan struct{})
	spy := &deliverySpy{}
	blocking := func(ctx context.Context, batch []domain.Message) error {
		once.Do(func() { <-release })
		return spy.deliver(ctx, batch)
	}

	for i := 0; i < 6; i++ {
		require.True(t, o.Enqueue("u1", msg("m", 1), blocking))
	}
	close(release)

	require.Eventually(t, func() bool { return o.Metrics().TotalBatches == 3 }, time.Second, 5*time.Millisecond)
	for _, b := range spy.delivered() {
		assert.Len(t, b, 2)
	}
}

func TestOrchestrator_RetryOnFailure(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBatchDelay = 20 * time.Millisecond
	o := newTestOrchestrator(t, cfg, Dependencies{})
	spy := &deliverySpy{}
	spy.failN.Store(1)

	var ids []string
	for _, k := range []string{"A", "B", "C"} {
		m := msg(k, 1)
		m.ID = "id-" + k
		ids = append(ids, m.ID)
		require.True(t, o.Enqueue("u1", m, spy.deliver))
	}

	require.Eventually(t, func() bool { return o.Metrics().TotalBatches == 1 }, time.Second, 5*time.Millisecond)

	batch := spy.delivered()[0]
	require.Len(t, batch, 3)
	for i, m := range batch {
		assert.Equal(t, ids[i], m.ID)
		assert.Equal(t, 2, m.Priority)
		assert.Equal(t, 1, m.Attempts)
	}

	m := o.Metrics()
	assert.EqualValues(t, 1, m.FailedBatches)
	assert.EqualValues(t, 3, m.RetriedMessages)
	assert.EqualValues(t, 1, m.TotalBatches)
}

func TestOrchestrator_RetryCapDeadLetters(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBatchDelay = 10 * time.Millisecond
	cfg.MaxRetries = 2
	dead := &deadLetterSpy{}
	o := newTestOrchestrator(t, cfg, Dependencies{DeadLetters: dead})

	var calls atomic.Int32
	failing := func(context.Context, []domain.Message) error {
		calls.Add(1)
		return errors.New("always down")
	}

	require.True(t, o.Enqueue("u1", msg("m", 1), failing))

	require.Eventually(t, func() bool { return dead.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 3, calls.Load())

	m := o.Metrics()
	assert.EqualValues(t, 1, m.DeadLetters)
	assert.EqualValues(t, 3, m.FailedBatches)
	assert.Zero(t, m.QueueDepth)
}

func TestOrchestrator_DeliverPanicIsFailure(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBatchSize = 1
	cfg.MaxBatchDelay = time.Hour
	o := newTestOrchestrator(t, cfg, Dependencies{})

	panicking := func(context.Context, []domain.Message) error { panic("boom") }
	require.True(t, o.Enqueue("u1", msg("m", 1), panicking))

	require.Eventually(t, func() bool {
		m := o.Metrics()
		return m.FailedBatches == 1 && m.RetriedMessages == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, o.Metrics().QueueDepth)
}

func TestOrchestrator_BypassFailureRequeues(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBatchDelay = 10 * time.Millisecond
	o := newTestOrchestrator(t, cfg, Dependencies{})
	spy := &deliverySpy{}
	spy.failN.Store(1)

	require.True(t, o.Enqueue("u1", msg("urgent", 5), spy.deliver))

	require.Eventually(t, func() bool { return len(spy.delivered()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 6, spy.delivered()[0][0].Priority)
}

func TestOrchestrator_StaleEviction(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBatchSize = 100
	cfg.MaxBatchDelay = time.Hour
	cfg.StaleMessageAge = 10 * time.Millisecond
	o := newTestOrchestrator(t, cfg, Dependencies{})
	spy := &deliverySpy{}

	require.True(t, o.Enqueue("u1", msg("old", 1), spy.deliver))
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 1, o.Cleanup())

	m := o.Metrics()
	assert.EqualValues(t, 1, m.EvictedMessages)
	assert.Zero(t, m.QueueDepth)
	assert.Zero(t, o.Status().ActiveQueues)

	flushed := o.FlushAll(context.Background(), func(context.Context, string, []domain.Message) error {
		t.Fatal("evicted message flushed")
		return nil
	})
	assert.Zero(t, flushed)
	assert.Empty(t, spy.delivered())
}

func TestOrchestrator_CleanupReclaimsIdleRecipients(t *testing.T) {
	o := newTestOrchestrator(t, testConfig(), Dependencies{})
	spy := &deliverySpy{}

	for _, key := range []string{"u1", "u2"} {
		for i := 0; i < 3; i++ {
			require.True(t, o.Enqueue(key, msg("m", 1), spy.deliver))
		}
	}
	require.Eventually(t, func() bool { return o.Metrics().TotalBatches == 2 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 2, o.Status().ActiveQueues)

	require.Eventually(t, func() bool {
		o.Cleanup()
		return o.Status().ActiveQueues == 0
	}, time.Second, 5*time.Millisecond)

	// A reclaimed recipient is recreated on demand.
	require.True(t, o.Enqueue("u1", msg("again", 1), spy.deliver))
	assert.Equal(t, 1, o.Status().ActiveQueues)
}

func TestOrchestrator_DuplicateSuppression(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBatchDelay = time.Hour
	cfg.DuplicateWindow = 16
	o := newTestOrchestrator(t, cfg, Dependencies{})
	spy := &deliverySpy{}

	m := msg("m", 1)
	m.ID = "dup"
	require.True(t, o.Enqueue("u1", m, spy.deliver))
	require.True(t, o.Enqueue("u1", m, spy.deliver))

	metrics := o.Metrics()
	assert.EqualValues(t, 1, metrics.DuplicateMessages)
	assert.EqualValues(t, 1, metrics.TotalMessages)
	assert.Equal(t, 1, metrics.QueueDepth)
}

func TestOrchestrator_RejectedDuplicateCanBeResubmitted(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBatchDelay = time.Hour
	cfg.MaxQueueSizePerRecipient = 1
	cfg.DuplicateWindow = 16
	o := newTestOrchestrator(t, cfg, Dependencies{})

	a, b := msg("a", 1), msg("b", 1)
	a.ID, b.ID = "a", "b"
	require.True(t, o.Enqueue("u1", a, nil))
	require.False(t, o.Enqueue("u1", b, nil))

	var got []string
	collect := func(_ context.Context, _ string, batch []domain.Message) error {
		got = append(got, kinds(batch)...)
		return nil
	}
	require.Equal(t, 1, o.FlushAll(context.Background(), collect))

	require.True(t, o.Enqueue("u1", b, nil))
	metrics := o.Metrics()
	assert.Zero(t, metrics.DuplicateMessages)
	assert.Equal(t, 1, metrics.QueueDepth)

	require.Equal(t, 1, o.FlushAll(context.Background(), collect))
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestOrchestrator_FlushAllIgnoresBatchSize(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBatchSize = 100
	cfg.MaxBatchDelay = time.Hour
	o := newTestOrchestrator(t, cfg, Dependencies{})
	spy := &deliverySpy{}

	for i := 0; i < 5; i++ {
		require.True(t, o.Enqueue("u1", msg("m", 1), spy.deliver))
	}
	for i := 0; i < 2; i++ {
		require.True(t, o.Enqueue("u2", msg("m", 1), spy.deliver))
	}
	require.Equal(t, 2, o.Status().PendingTimers)

	var mu sync.Mutex
	sizes := map[string]int{}
	n := o.FlushAll(context.Background(), func(_ context.Context, key string, batch []domain.Message) error {
		mu.Lock()
		defer mu.Unlock()
		sizes[key] = len(batch)
		return nil
	})

	assert.Equal(t, 7, n)
	assert.Equal(t, map[string]int{"u1": 5, "u2": 2}, sizes)
	assert.Zero(t, o.Status().PendingTimers)
	assert.Zero(t, o.Metrics().QueueDepth)
	assert.Empty(t, spy.delivered())
}

func TestOrchestrator_FlushAllFailureNotRetried(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBatchSize = 100
	cfg.MaxBatchDelay = time.Hour
	o := newTestOrchestrator(t, cfg, Dependencies{})
	spy := &deliverySpy{}

	require.True(t, o.Enqueue("u1", msg("m", 1), spy.deliver))

	n := o.FlushAll(context.Background(), func(context.Context, string, []domain.Message) error {
		return errors.New("gone")
	})
	assert.Zero(t, n)

	m := o.Metrics()
	assert.EqualValues(t, 1, m.FailedBatches)
	assert.Zero(t, m.QueueDepth)
}

func TestOrchestrator_ShutdownRejectsEnqueue(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBatchDelay = time.Hour
	o := newTestOrchestrator(t, cfg, Dependencies{})
	spy := &deliverySpy{}

	require.NoError(t, o.Start(context.Background()))
	require.True(t, o.Enqueue("u1", msg("queued", 1), spy.deliver))
	require.Equal(t, 1, o.Status().PendingTimers)

	require.NoError(t, o.Shutdown(context.Background()))
	assert.Equal(t, StateStopped, o.State())
	assert.Zero(t, o.Status().PendingTimers)

	assert.False(t, o.Enqueue("u1", msg("late", 1), spy.deliver))
	assert.False(t, o.Enqueue("u1", msg("late-urgent", 9), spy.deliver))
	assert.ErrorIs(t, o.Shutdown(context.Background()), domain.ErrNotRunning)
	assert.Empty(t, spy.delivered())
}

func TestOrchestrator_FlushAllAfterShutdownDeliversQueue(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBatchDelay = time.Hour
	o := newTestOrchestrator(t, cfg, Dependencies{})

	require.NoError(t, o.Start(context.Background()))
	require.True(t, o.Enqueue("u1", msg("m1", 1), nil))
	require.True(t, o.Enqueue("u2", msg("m2", 1), nil))
	require.NoError(t, o.Shutdown(context.Background()))

	var mu sync.Mutex
	var got []string
	n := o.FlushAll(context.Background(), func(_ context.Context, _ string, batch []domain.Message) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, kinds(batch)...)
		return nil
	})
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []string{"m1", "m2"}, got)
	assert.Zero(t, o.Metrics().QueueDepth)
}

func TestOrchestrator_ShutdownWaitsForInflight(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBatchSize = 1
	o := newTestOrchestrator(t, cfg, Dependencies{})

	started := make(chan struct{})
	release := make(chan struct{})
	var done atomic.Bool
	slow := func(context.Context, []domain.Message) error {
		close(started)
		<-release
		done.Store(true)
		return nil
	}

	require.True(t, o.Enqueue("u1", msg("m", 1), slow))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, o.Shutdown(ctx), domain.ErrShutdownTimeout)

	close(release)
	assert.Eventually(t, done.Load, time.Second, 5*time.Millisecond)
}

func TestOrchestrator_StartTwice(t *testing.T) {
	o := newTestOrchestrator(t, testConfig(), Dependencies{})

	require.NoError(t, o.Start(context.Background()))
	assert.Equal(t, StateRunning, o.State())
	assert.ErrorIs(t, o.Start(context.Background()), domain.ErrAlreadyRunning)
}

func TestOrchestrator_AdjustForLoad(t *testing.T) {
	mem := &fixedMemory{}
	cfg := testConfig()
	cfg.MaxBatchSize = 10
	cfg.MaxBatchDelay = 100 * time.Millisecond
	o := newTestOrchestrator(t, cfg, Dependencies{Memory: mem})

	mem.set(95)
	for i := 0; i < 10; i++ {
		o.AdjustForLoad()
		current := o.Config()
		assert.GreaterOrEqual(t, current.MaxBatchSize, 1)
		assert.GreaterOrEqual(t, current.MaxBatchDelay, 10*time.Millisecond)
	}
	assert.Equal(t, 1, o.Config().MaxBatchSize)
	assert.Equal(t, 95.0, o.Metrics().MemoryUsagePercent)

	mem.set(10)
	for i := 0; i < 50; i++ {
		o.AdjustForLoad()
	}
	assert.Equal(t, cfg.MaxBatchSize, o.Config().MaxBatchSize)
	assert.Equal(t, cfg.MaxBatchDelay, o.Config().MaxBatchDelay)

	history := o.Status().AdaptiveHistory
	require.NotEmpty(t, history)
	assert.Equal(t, "critical_memory_pressure", history[0].Reason)
	assert.Equal(t, "low_load_growth", history[len(history)-1].Reason)
}

func TestOrchestrator_AdjustForLoadDisabled(t *testing.T) {
	mem := &fixedMemory{}
	mem.set(99)
	cfg := testConfig()
	cfg.AdaptiveBatchingEnabled = false
	o := newTestOrchestrator(t, cfg, Dependencies{Memory: mem})

	o.AdjustForLoad()
	assert.Equal(t, cfg, o.Config())
	assert.Empty(t, o.Status().AdaptiveHistory)
}

func TestOrchestrator_UpdateConfig(t *testing.T) {
	mem := &fixedMemory{}
	cfg := testConfig()
	cfg.MaxBatchSize = 10
	cfg.MaxQueueSizePerRecipient = 10
	cfg.MaxBatchDelay = time.Hour
	o := newTestOrchestrator(t, cfg, Dependencies{Memory: mem})
	spy := &deliverySpy{}

	for i := 0; i < 4; i++ {
		require.True(t, o.Enqueue("u1", msg("m", 1), spy.deliver))
	}

	size := 4
	queue := 4
	require.NoError(t, o.UpdateConfig(domain.ConfigPatch{MaxBatchSize: &size, MaxQueueSizePerRecipient: &queue}, false))
	assert.Equal(t, 4, o.Config().MaxBatchSize)
	assert.False(t, o.Enqueue("u1", msg("over", 1), spy.deliver), "shrunk capacity applies to existing queues")

	zero := 0
	err := o.UpdateConfig(domain.ConfigPatch{MaxBatchSize: &zero}, false)
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
	assert.Equal(t, 4, o.Config().MaxBatchSize)

	mem.set(95)
	o.AdjustForLoad()
	require.Equal(t, 2, o.Config().MaxBatchSize)

	require.NoError(t, o.UpdateConfig(domain.ConfigPatch{}, true))
	assert.Equal(t, 4, o.Config().MaxBatchSize, "reset restores the updated ceiling")

	history := o.Status().AdaptiveHistory
	assert.Equal(t, "manual_reset", history[len(history)-1].Reason)
}

func TestOrchestrator_CompressionRatioTracked(t *testing.T) {
	o := newTestOrchestrator(t, testConfig(), Dependencies{})
	spy := &deliverySpy{}

	body := strings.Repeat("the quick brown fox jumps over the lazy dog ", 40)
	for i := 0; i < 3; i++ {
		m := msg("chat", 1)
		m.Payload = map[string]string{"body": body}
		require.True(t, o.Enqueue("u1", m, spy.deliver))
	}

	require.Eventually(t, func() bool { return o.Metrics().TotalBatches == 1 }, time.Second, 5*time.Millisecond)
	ratio := o.Metrics().CompressionRatio
	assert.Greater(t, ratio, 0.0)
	assert.Less(t, ratio, 0.9)
}

func TestOrchestrator_ConcurrentRecipients(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBatchSize = 5
	cfg.MaxBatchDelay = 10 * time.Millisecond
	o := newTestOrchestrator(t, cfg, Dependencies{})

	var delivered atomic.Int64
	deliver := func(_ context.Context, batch []domain.Message) error {
		delivered.Add(int64(len(batch)))
		return nil
	}

	var wg sync.WaitGroup
	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				o.Enqueue(key, msg("m", 1+i%3), deliver)
			}
		}(string(rune('a' + r)))
	}
	wg.Wait()

	require.Eventually(t, func() bool { return delivered.Load() == 400 }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, o.Metrics().QueueDepth)
}
