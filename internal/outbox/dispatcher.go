package outbox

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/applyflow/autofill-service/internal/models"
)

// Handler consumes a claimed entry's payload. Returning an error sends the
// entry back through Fail; it never crashes the dispatch loop.
type Handler func(ctx context.Context, entry models.OutboxEntry) error

// Config contains the runtime settings for the dispatch loop.
type Config struct {
	PollInterval      time.Duration
	HandlerTimeout    time.Duration
	BaseBackoff       time.Duration
	MaxBackoff        time.Duration
	WorkerConcurrency int

	// ReclaimInterval > 0 enables a periodic stale-claim sweep returning
	// entries claimed more than StaleAfter ago to PENDING. The threshold
	// must comfortably exceed the slowest expected handler.
	ReclaimInterval time.Duration
	StaleAfter      time.Duration
}

// Dependencies collects the collaborators required by the dispatcher. The
// handler map is injected here rather than registered globally so multiple
// dispatchers with different handler sets can coexist.
type Dependencies struct {
	Store    Store
	Handlers map[string]Handler
	Logger   zerolog.Logger
	Now      func() time.Time
}

// Dispatcher drains the outbox store. It is safe to run many replicas: each
// entry is protected by the store's atomic claim, so workers never need to
// coordinate with each other.
type Dispatcher struct {
	cfg      Config
	store    Store
	handlers map[string]Handler
	logger   zerolog.Logger
	now      func() time.Time

	sem *semaphore.Weighted

	randMu sync.Mutex
	rnd    *rand.Rand
}

func NewDispatcher(cfg Config, deps Dependencies) (*Dispatcher, error) {
	if cfg.PollInterval <= 0 {
		return nil, errors.New("outbox: poll interval must be positive")
	}
	if cfg.WorkerConcurrency < 1 {
		return nil, errors.New("outbox: worker concurrency must be >= 1")
	}
	if cfg.ReclaimInterval > 0 && cfg.StaleAfter <= 0 {
		return nil, errors.New("outbox: stale-after threshold must be positive when reclaim is enabled")
	}
	if deps.Store == nil {
		return nil, errors.New("outbox: store dependency is required")
	}
	if len(deps.Handlers) == 0 {
		return nil, errors.New("outbox: at least one handler is required")
	}

	nowFunc := deps.Now
	if nowFunc == nil {
		nowFunc = time.Now
	}

	return &Dispatcher{
		cfg:      cfg,
		store:    deps.Store,
		handlers: deps.Handlers,
		logger:   deps.Logger.With().Str("component", "outbox_dispatcher").Logger(),
		now:      nowFunc,
		sem:      semaphore.NewWeighted(int64(cfg.WorkerConcurrency)),
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Run claims and dispatches entries until the context is cancelled. In-flight
// handlers are waited for before returning.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info().
		Int("concurrency", d.cfg.WorkerConcurrency).
		Dur("poll_interval", d.cfg.PollInterval).
		Msg("dispatcher started")

	var wg sync.WaitGroup
	if d.cfg.ReclaimInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.reclaimLoop(ctx)
		}()
	}

	for ctx.Err() == nil {
		entry, err := d.store.ClaimNext(ctx)
		if err != nil {
			d.logger.Error().Err(err).Msg("claim failed")
			d.wait(ctx, d.cfg.PollInterval)
			continue
		}
		if entry == nil {
			d.wait(ctx, d.cfg.PollInterval)
			continue
		}

		if err := d.sem.Acquire(ctx, 1); err != nil {
			// Shutting down with a claim in hand: give the entry back so it
			// is not stuck as CLAIMED until a stale sweep finds it.
			d.release(entry)
			break
		}
		wg.Add(1)
		go func(e models.OutboxEntry) {
			defer wg.Done()
			defer d.sem.Release(1)
			d.process(ctx, e)
		}(*entry)
	}

	wg.Wait()
	d.logger.Info().Msg("dispatcher stopped")
}

func (d *Dispatcher) process(ctx context.Context, entry models.OutboxEntry) {
	logger := d.logger.With().
		Str("log_id", entry.LogID).
		Str("kind", entry.Kind).
		Int("attempt", entry.Attempts).
		Logger()

	handler, ok := d.handlers[entry.Kind]
	if !ok {
		logger.Error().Msg("no handler registered for payload kind")
		d.fail(ctx, entry, fmt.Sprintf("no handler registered for kind %q", entry.Kind), d.backoff(entry.Attempts))
		return
	}

	hctx := ctx
	if d.cfg.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, d.cfg.HandlerTimeout)
		defer cancel()
	}

	start := d.now()
	err := invoke(hctx, handler, entry)
	duration := d.now().Sub(start)

	if err != nil {
		logger.Warn().Err(err).Dur("duration", duration).Msg("handler failed")
		// The retry delay is stamped on the entry itself, so claimers stay
		// away until it elapses. Sleeping here would not space anything:
		// another worker could reclaim the entry immediately.
		d.fail(ctx, entry, err.Error(), d.backoff(entry.Attempts))
		return
	}

	logger.Info().Dur("duration", duration).Msg("entry delivered")
	if err := d.store.Complete(ctx, entry.LogID); err != nil {
		if errors.Is(err, ErrEntryNotClaimed) {
			// A stale sweep reclaimed the entry while the handler ran. The
			// other claimer owns it now; nothing for us to do.
			logger.Debug().Msg("claim lost before completion")
			return
		}
		logger.Error().Err(err).Msg("failed to mark entry done")
	}
}

// invoke shields the loop from panicking handlers by converting the panic
// into an ordinary handler error.
func invoke(ctx context.Context, handler Handler, entry models.OutboxEntry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, entry)
}

func (d *Dispatcher) fail(ctx context.Context, entry models.OutboxEntry, reason string, retryAfter time.Duration) {
	if err := d.store.Fail(ctx, entry.LogID, reason, retryAfter); err != nil {
		if errors.Is(err, ErrEntryNotClaimed) {
			d.logger.Debug().Str("log_id", entry.LogID).Msg("claim lost before fail")
			return
		}
		d.logger.Error().Str("log_id", entry.LogID).Err(err).Msg("failed to record entry failure")
	}
}

// release undoes a claim taken during shutdown by routing it through Fail,
// which returns the entry to PENDING without consuming a delivery attempt
// beyond the one the claim already counted. No retry delay: another replica
// may pick it up right away.
func (d *Dispatcher) release(entry *models.OutboxEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d.fail(ctx, *entry, "dispatcher shutting down", 0)
}

func (d *Dispatcher) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.ReclaimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := d.store.ReclaimStale(ctx, d.cfg.StaleAfter)
			if err != nil {
				d.logger.Error().Err(err).Msg("stale-claim sweep failed")
				continue
			}
			if count > 0 {
				d.logger.Warn().Int64("reclaimed", count).Msg("returned stale claims to pending")
			}
		}
	}
}

func (d *Dispatcher) backoff(attempt int) time.Duration {
	if d.cfg.BaseBackoff <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	raw := time.Duration(float64(d.cfg.BaseBackoff) * math.Pow(2, float64(attempt-1)))
	if d.cfg.MaxBackoff > 0 && raw > d.cfg.MaxBackoff {
		raw = d.cfg.MaxBackoff
	}
	return d.jitter(raw)
}

// jitter spreads a delay over [d/2, d] so that failing entries from one
// burst do not all become eligible at the same instant, while every retry
// still keeps at least half the computed backoff.
func (d *Dispatcher) jitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}
	half := delay / 2
	d.randMu.Lock()
	defer d.randMu.Unlock()
	return half + time.Duration(d.rnd.Int63n(int64(delay-half)+1))
}

func (d *Dispatcher) wait(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return true
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
