package adapter

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/sells-group/leadpipe/internal/monitoring"
	"github.com/sells-group/leadpipe/internal/resilience"
)

// Gate throttles one vendor credential: a token bucket for the vendor's
// rate ceiling, a bounded wait queue (excess calls fail fast with
// Overloaded instead of growing memory), and a circuit breaker that trips
// on consecutive transient failures. One Gate per credential is shared by
// every job in the process.
type Gate struct {
	vendor      string
	limiter     *rate.Limiter
	queue       *semaphore.Weighted
	breaker     *resilience.CircuitBreaker
	concurrency int
}

// GateConfig sizes a vendor gate.
type GateConfig struct {
	// RPS is the sustained request rate the vendor allows. Default: 5.
	RPS float64
	// Burst is the token bucket burst. Default: integer part of RPS, min 1.
	Burst int
	// QueueDepth bounds how many calls may wait on the limiter at once.
	// Default: 64.
	QueueDepth int
	// Concurrency is the safe worker pool size for this vendor. Default: 4.
	Concurrency int
	// Breaker optionally overrides the default circuit breaker config.
	Breaker *resilience.CircuitBreakerConfig
}

// NewGate creates a gate for one vendor credential.
func NewGate(vendor string, cfg GateConfig) *Gate {
	if cfg.RPS <= 0 {
		cfg.RPS = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = max(int(cfg.RPS), 1)
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 64
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	bcfg := resilience.DefaultCircuitBreakerConfig()
	if cfg.Breaker != nil {
		bcfg = *cfg.Breaker
	}
	if bcfg.ShouldTrip == nil {
		// Only service-down signals open the circuit; per-lead outcomes
		// (NotFound, Permanent) and auth failures do not.
		bcfg.ShouldTrip = func(err error) bool {
			return KindOf(err) == KindTransient
		}
	}

	return &Gate{
		vendor:      vendor,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		queue:       semaphore.NewWeighted(int64(cfg.QueueDepth)),
		breaker:     resilience.NewCircuitBreaker(bcfg),
		concurrency: cfg.Concurrency,
	}
}

// Vendor returns the credential name this gate guards.
func (g *Gate) Vendor() string {
	return g.vendor
}

// Concurrency returns the safe worker pool size for this vendor.
func (g *Gate) Concurrency() int {
	return g.concurrency
}

// Do runs fn under the gate: rejects immediately with an Overloaded error
// when the wait queue is full, otherwise waits for a rate token and runs fn
// through the circuit breaker.
func (g *Gate) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if !g.queue.TryAcquire(1) {
		g.observe(op, time.Time{}, KindOverloaded.String())
		return NewError(KindOverloaded, g.vendor, op, eris.New("call queue full"))
	}
	defer g.queue.Release(1)

	if err := g.limiter.Wait(ctx); err != nil {
		return eris.Wrapf(err, "%s: %s: rate limit wait", g.vendor, op)
	}

	start := time.Now()
	err := g.breaker.Execute(ctx, fn)
	g.observe(op, start, outcomeOf(err))
	return err
}

// DoVal is like Do but preserves a return value.
func DoVal[T any](ctx context.Context, g *Gate, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if !g.queue.TryAcquire(1) {
		g.observe(op, time.Time{}, KindOverloaded.String())
		return zero, NewError(KindOverloaded, g.vendor, op, eris.New("call queue full"))
	}
	defer g.queue.Release(1)

	if err := g.limiter.Wait(ctx); err != nil {
		return zero, eris.Wrapf(err, "%s: %s: rate limit wait", g.vendor, op)
	}

	start := time.Now()
	val, err := resilience.ExecuteVal(ctx, g.breaker, fn)
	g.observe(op, start, outcomeOf(err))
	return val, err
}

func (g *Gate) observe(op string, start time.Time, outcome string) {
	monitoring.VendorCalls.WithLabelValues(g.vendor, op, outcome).Inc()
	if !start.IsZero() {
		monitoring.VendorCallDuration.WithLabelValues(g.vendor, op).Observe(time.Since(start).Seconds())
	}
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	return KindOf(err).String()
}
