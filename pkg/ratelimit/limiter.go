// Package ratelimit paces requests to the ItemSense API.
//
// Two gates apply to every request: a client-side token bucket, and a
// server-imposed block recorded from Retry-After headers on 429/503
// responses. Wait blocks until both allow the request or the context ends.
package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var (
	rateLimitWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "itemsense_rate_limit_waits_total",
		Help: "Total number of requests delayed by the client-side limiter",
	})

	rateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "itemsense_rate_limit_blocks_total",
		Help: "Total number of server-imposed blocks recorded from Retry-After",
	})

	rateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "itemsense_rate_limit_wait_seconds",
		Help:    "Time spent waiting for the rate limiter",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	})
)

// MaxRetryAfter caps how long a single Retry-After header can block requests.
const MaxRetryAfter = 5 * time.Minute

// Config holds limiter configuration.
type Config struct {
	// RequestsPerSecond is the sustained request rate (<= 0 disables pacing).
	RequestsPerSecond float64
	// Burst is the bucket size.
	Burst int
}

// DefaultConfig returns the default limiter configuration.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 10,
		Burst:             5,
	}
}

// Limiter gates outgoing requests.
type Limiter struct {
	bucket *rate.Limiter
	logger zerolog.Logger
	now    func() time.Time

	mu           sync.Mutex
	blockedUntil time.Time
}

// New creates a limiter.
func New(cfg Config, logger zerolog.Logger) *Limiter {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		bucket: rate.NewLimiter(limit, burst),
		logger: logger,
		now:    time.Now,
	}
}

// Wait blocks until the request may proceed.
func (l *Limiter) Wait(ctx context.Context) error {
	start := time.Now()

	if wait := l.BlockedUntil().Sub(l.now()); wait > 0 {
		l.logger.Warn().
			Dur("wait_duration", wait).
			Msg("Server requested backoff - delaying request")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if err := l.bucket.Wait(ctx); err != nil {
		return err
	}

	if waited := time.Since(start); waited >= time.Millisecond {
		rateLimitWaitsTotal.Inc()
		rateLimitWaitSeconds.Observe(waited.Seconds())
		l.logger.Debug().Dur("waited", waited).Msg("Request delayed by rate limiter")
	}
	return nil
}

// UpdateFromHeaders records a server-imposed block from a 429 or 503
// response carrying Retry-After (delay-seconds or HTTP-date).
// It returns the recorded block duration, or 0 if none applies.
func (l *Limiter) UpdateFromHeaders(statusCode int, headers http.Header) time.Duration {
	if statusCode != http.StatusTooManyRequests && statusCode != http.StatusServiceUnavailable {
		return 0
	}
	value := strings.TrimSpace(headers.Get("Retry-After"))
	if value == "" {
		return 0
	}

	now := l.now()
	var wait time.Duration
	if secs, err := strconv.Atoi(value); err == nil {
		wait = time.Duration(secs) * time.Second
	} else if at, err := http.ParseTime(value); err == nil {
		wait = at.Sub(now)
	} else {
		l.logger.Debug().Str("retry_after", value).Msg("Ignoring unparseable Retry-After header")
		return 0
	}
	if wait <= 0 {
		return 0
	}
	if wait > MaxRetryAfter {
		wait = MaxRetryAfter
	}

	l.mu.Lock()
	if until := now.Add(wait); until.After(l.blockedUntil) {
		l.blockedUntil = until
	}
	l.mu.Unlock()

	rateLimitBlocksTotal.Inc()
	l.logger.Warn().
		Int("status", statusCode).
		Dur("retry_after", wait).
		Msg("Server rate limit - blocking requests")
	return wait
}

// BlockedUntil returns the end of the current server-imposed block.
func (l *Limiter) BlockedUntil() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.blockedUntil
}
