package outbox_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/applyflow/autofill-service/internal/models"
	"github.com/applyflow/autofill-service/internal/outbox"
)

type handlerStub struct {
	mu      sync.Mutex
	calls   int
	times   []time.Time
	entries []models.OutboxEntry
	err     error
}

func (h *handlerStub) Handle(_ context.Context, entry models.OutboxEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	h.times = append(h.times, time.Now())
	h.entries = append(h.entries, entry)
	return h.err
}

func (h *handlerStub) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

func (h *handlerStub) callTimes() []time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]time.Time(nil), h.times...)
}

func testConfig() outbox.Config {
	return outbox.Config{
		PollInterval:      5 * time.Millisecond,
		HandlerTimeout:    time.Second,
		WorkerConcurrency: 2,
	}
}

func runDispatcher(t *testing.T, store outbox.Store, handlers map[string]outbox.Handler) context.CancelFunc {
	return runDispatcherWith(t, testConfig(), store, handlers)
}

func runDispatcherWith(t *testing.T, cfg outbox.Config, store outbox.Store, handlers map[string]outbox.Handler) context.CancelFunc {
	t.Helper()
	d, err := outbox.NewDispatcher(cfg, outbox.Dependencies{
		Store:    store,
		Handlers: handlers,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("dispatcher did not stop")
		}
	})
	return cancel
}

func TestDispatcherDeliversAndCompletes(t *testing.T) {
	ctx := context.Background()
	store := outbox.NewMemoryStore(3)
	handler := &handlerStub{}
	runDispatcher(t, store, map[string]outbox.Handler{"autofill.completed": handler.Handle})

	logID, err := store.Enqueue(ctx, "autofill.completed", []byte(`{"user_id":7}`))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		entry, ok := store.Get(logID)
		return ok && entry.Status == models.OutboxDone
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, handler.callCount())
	assert.JSONEq(t, `{"user_id":7}`, string(handler.entries[0].Payload))
}

func TestDispatcherRetriesUntilFailed(t *testing.T) {
	ctx := context.Background()
	store := outbox.NewMemoryStore(2)
	handler := &handlerStub{err: errors.New("downstream unavailable")}
	runDispatcher(t, store, map[string]outbox.Handler{"autofill.completed": handler.Handle})

	logID, err := store.Enqueue(ctx, "autofill.completed", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		entry, ok := store.Get(logID)
		return ok && entry.Status == models.OutboxFailed
	}, 2*time.Second, 5*time.Millisecond)

	entry, _ := store.Get(logID)
	assert.Equal(t, 2, entry.Attempts)
	assert.Contains(t, entry.LastError, "downstream unavailable")
	assert.Equal(t, 2, handler.callCount())
}

func TestDispatcherSpacesRetries(t *testing.T) {
	ctx := context.Background()
	store := outbox.NewMemoryStore(3)
	handler := &handlerStub{err: errors.New("downstream unavailable")}

	// Concurrency above the attempt budget: without a delay stamped on the
	// failed entry, all attempts would fire at poll speed.
	cfg := outbox.Config{
		PollInterval:      2 * time.Millisecond,
		HandlerTimeout:    time.Second,
		BaseBackoff:       150 * time.Millisecond,
		MaxBackoff:        150 * time.Millisecond,
		WorkerConcurrency: 8,
	}
	runDispatcherWith(t, cfg, store, map[string]outbox.Handler{"autofill.completed": handler.Handle})

	logID, err := store.Enqueue(ctx, "autofill.completed", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		entry, ok := store.Get(logID)
		return ok && entry.Status == models.OutboxFailed
	}, 5*time.Second, 5*time.Millisecond)

	times := handler.callTimes()
	require.Len(t, times, 3)
	for i := 1; i < len(times); i++ {
		gap := times[i].Sub(times[i-1])
		assert.GreaterOrEqual(t, gap, 75*time.Millisecond,
			"attempt %d fired %v after attempt %d, under half the configured backoff", i+1, gap, i)
	}
}

func TestDispatcherSweepsStaleClaims(t *testing.T) {
	ctx := context.Background()
	store := outbox.NewMemoryStore(3)
	handler := &handlerStub{}

	logID, err := store.Enqueue(ctx, "autofill.completed", nil)
	require.NoError(t, err)
	// A worker claims the entry and crashes: no Complete, no Fail.
	_, err = store.Claim(ctx, logID)
	require.NoError(t, err)

	cfg := testConfig()
	cfg.ReclaimInterval = 5 * time.Millisecond
	cfg.StaleAfter = time.Millisecond
	runDispatcherWith(t, cfg, store, map[string]outbox.Handler{"autofill.completed": handler.Handle})

	require.Eventually(t, func() bool {
		entry, ok := store.Get(logID)
		return ok && entry.Status == models.OutboxDone
	}, 2*time.Second, 5*time.Millisecond, "the sweep must return the abandoned claim to pending for redelivery")

	assert.Equal(t, 1, handler.callCount())
}

func TestDispatcherFailsUnregisteredKind(t *testing.T) {
	ctx := context.Background()
	store := outbox.NewMemoryStore(1)
	handler := &handlerStub{}
	runDispatcher(t, store, map[string]outbox.Handler{"autofill.completed": handler.Handle})

	logID, err := store.Enqueue(ctx, "unknown.kind", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		entry, ok := store.Get(logID)
		return ok && entry.Status == models.OutboxFailed
	}, 2*time.Second, 5*time.Millisecond)

	assert.Zero(t, handler.callCount(), "the registered handler must not see foreign kinds")
}

func TestDispatcherSurvivesPanickingHandler(t *testing.T) {
	ctx := context.Background()
	store := outbox.NewMemoryStore(1)
	panicking := func(context.Context, models.OutboxEntry) error { panic("boom") }
	healthy := &handlerStub{}
	runDispatcher(t, store, map[string]outbox.Handler{
		"panics":             panicking,
		"autofill.completed": healthy.Handle,
	})

	badID, err := store.Enqueue(ctx, "panics", nil)
	require.NoError(t, err)
	goodID, err := store.Enqueue(ctx, "autofill.completed", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		bad, _ := store.Get(badID)
		good, _ := store.Get(goodID)
		return bad.Status == models.OutboxFailed && good.Status == models.OutboxDone
	}, 2*time.Second, 5*time.Millisecond)

	bad, _ := store.Get(badID)
	assert.Contains(t, bad.LastError, "handler panic")
}

func TestDispatcherProcessesBacklogAcrossWorkers(t *testing.T) {
	ctx := context.Background()
	store := outbox.NewMemoryStore(3)
	handler := &handlerStub{}
	runDispatcher(t, store, map[string]outbox.Handler{"autofill.completed": handler.Handle})

	const backlog = 20
	ids := make([]string, backlog)
	for i := range ids {
		id, err := store.Enqueue(ctx, "autofill.completed", nil)
		require.NoError(t, err)
		ids[i] = id
	}

	require.Eventually(t, func() bool {
		for _, id := range ids {
			entry, ok := store.Get(id)
			if !ok || entry.Status != models.OutboxDone {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, backlog, handler.callCount(), "each entry is delivered exactly once")
}
