// Package coordinator runs a time-boxed job and aggregates what it sees.
//
// A run starts a job, takes the job's server-side creation time as the
// watermark, then polls the item listing ceil(duration/interval) times.
// Each poll walks every page, keeps records modified at or after the
// watermark and merges them into a store keyed by EPC (last poll wins).
// When the polls are exhausted the store snapshot becomes the report.
package coordinator

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/itemsense-client/pkg/aggregate"
	"github.com/Sternrassler/itemsense-client/pkg/filter"
	"github.com/Sternrassler/itemsense-client/pkg/logging"
	"github.com/Sternrassler/itemsense-client/pkg/model"
	"github.com/Sternrassler/itemsense-client/pkg/pagination"
	"github.com/Sternrassler/itemsense-client/pkg/report"
	"github.com/Sternrassler/itemsense-client/pkg/watermark"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	pollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "itemsense_polls_total",
		Help: "Total poll cycles by result",
	}, []string{"result"})

	pollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "itemsense_poll_duration_seconds",
		Help:    "Duration of one poll cycle (page walk, filter, merge)",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	})

	storeItems = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "itemsense_store_items",
		Help: "Items held in the aggregation store of the current run",
	})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "itemsense_runs_total",
		Help: "Coordinator runs by final state",
	}, []string{"state"})
)

var (
	// ErrJobStart wraps failures to start the job.
	ErrJobStart = errors.New("job start failed")

	// ErrPoll wraps failures inside a poll cycle.
	ErrPoll = errors.New("poll failed")

	// ErrAlreadyRun is returned when Run is called a second time.
	ErrAlreadyRun = errors.New("coordinator already run")
)

// JobStarter submits jobs.
type JobStarter interface {
	StartJob(ctx context.Context, job model.Job) (*model.JobResponse, error)
}

// API is the remote surface a run needs. *client.Client satisfies it.
type API interface {
	JobStarter
	pagination.PageFetcher
}

// Config holds run configuration.
type Config struct {
	// Job is submitted once at the start of the run. Job.Duration bounds the run.
	Job model.Job

	// PollInterval is the spacing between poll starts.
	PollInterval time.Duration

	// Filter is the base listing filter (nil = defaults). Never mutated.
	Filter *filter.Filter

	// Pagination configures each page walk.
	Pagination pagination.Config

	// Clock drives the schedule (nil = RealClock).
	Clock Clock
}

// DefaultConfig returns the configuration of the reference run: one minute
// of IMPINJ_BasicLocation reporting to the database and message queue,
// polled every 20 seconds.
func DefaultConfig() Config {
	return Config{
		Job: model.Job{
			RecipeName:                  "IMPINJ_BasicLocation",
			Duration:                    60 * time.Second,
			ReportToDatabaseEnabled:     true,
			ReportToMessageQueueEnabled: true,
		},
		PollInterval: 20 * time.Second,
		Pagination:   pagination.DefaultConfig(),
	}
}

// Iterations returns the number of polls a run performs.
func (c Config) Iterations() int {
	if c.PollInterval <= 0 || c.Job.Duration <= 0 {
		return 0
	}
	return int((c.Job.Duration + c.PollInterval - 1) / c.PollInterval)
}

func (c Config) validate() error {
	if c.Job.RecipeName == "" {
		return errors.Wrap(filter.ErrInvalidArgument, "recipe name is required")
	}
	if c.Job.Duration <= 0 {
		return errors.Wrapf(filter.ErrInvalidArgument, "job duration must be positive (got %s)", c.Job.Duration)
	}
	if c.PollInterval <= 0 {
		return errors.Wrapf(filter.ErrInvalidArgument, "poll interval must be positive (got %s)", c.PollInterval)
	}
	return nil
}

// Coordinator performs a single run. Create one per run.
type Coordinator struct {
	starter JobStarter
	walker  *pagination.Walker
	config  Config
	clock   Clock
	runID   string
	logger  zerolog.Logger
	started atomic.Bool
	state   atomic.Int32
}

// New creates a coordinator over api.
func New(api API, config Config) *Coordinator {
	clock := config.Clock
	if clock == nil {
		clock = RealClock{}
	}
	if config.Filter == nil {
		config.Filter = filter.New()
	}
	runID := uuid.NewString()
	return &Coordinator{
		starter: api,
		walker:  pagination.NewWalker(api, config.Pagination),
		config:  config,
		clock:   clock,
		runID:   runID,
		logger:  logging.NewLogger(logging.ComponentCoordinator).With().Str("run_id", runID).Logger(),
	}
}

// RunID identifies this run in logs and stored reports.
func (c *Coordinator) RunID() string { return c.runID }

// State returns the current lifecycle state. Safe for concurrent use.
func (c *Coordinator) State() State { return State(c.state.Load()) }

func (c *Coordinator) setState(s State) {
	c.state.Store(int32(s))
	if s == StateCompleted || s == StateFailed {
		runsTotal.WithLabelValues(s.String()).Inc()
	}
}

// Run executes the run to completion.
//
// On failure Run returns a nil report and an error wrapping ErrJobStart or
// ErrPoll (or filter.ErrInvalidArgument for bad configuration). If ctx is
// cancelled after the job started, Run returns the partial report
// (Partial=true) built from the polls completed so far, together with an
// error wrapping ctx.Err().
func (c *Coordinator) Run(ctx context.Context) (*report.Report, error) {
	if !c.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRun
	}

	startedAt := c.clock.Now()

	if err := c.config.validate(); err != nil {
		c.setState(StateFailed)
		return nil, err
	}

	resp, err := c.starter.StartJob(ctx, c.config.Job)
	if err != nil {
		c.setState(StateFailed)
		c.logger.Error().Err(err).Str("recipe", c.config.Job.RecipeName).Msg("Job start failed")
		return nil, fmt.Errorf("%w: %w", ErrJobStart, err)
	}
	wm, err := resp.CreatedAt()
	if err != nil {
		c.setState(StateFailed)
		return nil, fmt.Errorf("%w: job %s creation time: %w", ErrJobStart, resp.ID, err)
	}

	c.setState(StateRunning)
	iterations := c.config.Iterations()
	logger := c.logger.With().Str("job_id", resp.ID).Logger()
	logger.Info().
		Time("watermark", wm).
		Int("iterations", iterations).
		Dur("interval", c.config.PollInterval).
		Str("filter", c.config.Filter.Render()).
		Msg("Job running")

	store := aggregate.NewStore()
	storeItems.Set(0)

	result := func(polls int, partial bool) *report.Report {
		r := &report.Report{
			RunID:       c.runID,
			JobID:       resp.ID,
			Watermark:   wm,
			StartedAt:   startedAt,
			CompletedAt: c.clock.Now(),
			Polls:       polls,
			Partial:     partial,
			Items:       store.Snapshot(),
		}
		r.SortItems()
		return r
	}
	cancelled := func(polls int, cause error) (*report.Report, error) {
		c.setState(StateFailed)
		logger.Warn().Err(cause).Int("polls", polls).Int("items", store.Len()).Msg("Run cancelled - returning partial report")
		return result(polls, true), fmt.Errorf("run cancelled after %d polls: %w", polls, cause)
	}

	schedule := c.clock.Now()
	for k := 0; k < iterations; k++ {
		if k > 0 {
			next := schedule.Add(time.Duration(k) * c.config.PollInterval)
			wait := max(next.Sub(c.clock.Now()), 0)
			if err := c.clock.Sleep(ctx, wait); err != nil {
				return cancelled(k, err)
			}
		}
		if err := ctx.Err(); err != nil {
			return cancelled(k, err)
		}

		poll := k + 1
		pollStart := time.Now()
		fetched, kept, err := c.poll(ctx, store, wm)
		pollDuration.Observe(time.Since(pollStart).Seconds())
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				pollsTotal.WithLabelValues("cancelled").Inc()
				return cancelled(k, ctxErr)
			}
			pollsTotal.WithLabelValues("error").Inc()
			c.setState(StateFailed)
			logger.Error().Err(err).Int("poll", poll).Msg("Poll failed - aborting run")
			return nil, fmt.Errorf("%w: poll %d of %d: %w", ErrPoll, poll, iterations, err)
		}

		pollsTotal.WithLabelValues("success").Inc()
		storeItems.Set(float64(store.Len()))
		logger.Info().
			Int("poll", poll).
			Int("fetched", fetched).
			Int("kept", kept).
			Int("items", store.Len()).
			Msg("Poll complete")
	}

	r := result(iterations, false)
	c.setState(StateCompleted)
	logger.Info().
		Int("polls", iterations).
		Int("items", len(r.Items)).
		Dur("elapsed", r.CompletedAt.Sub(startedAt)).
		Msg("Run completed")
	return r, nil
}

// poll walks every page, applies the watermark and merges the result.
// Nothing is merged if any step fails.
func (c *Coordinator) poll(ctx context.Context, store *aggregate.Store, wm time.Time) (fetched, kept int, err error) {
	items, err := c.walker.FetchAll(ctx, c.config.Filter)
	if err != nil {
		return 0, 0, err
	}
	fresh, err := watermark.KeepSince(items, wm)
	if err != nil {
		return len(items), 0, err
	}
	store.Merge(fresh)
	return len(items), len(fresh), nil
}
