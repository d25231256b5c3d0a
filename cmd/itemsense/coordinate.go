package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/itemsense-client/internal/config"
	"github.com/Sternrassler/itemsense-client/pkg/coordinator"
	"github.com/Sternrassler/itemsense-client/pkg/filter"
	"github.com/Sternrassler/itemsense-client/pkg/report"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// sinkSaveTimeout bounds persisting a report once the run has ended.
const sinkSaveTimeout = 30 * time.Second

func newCoordinateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coordinate",
		Short: "Start a job, poll items for its duration and print the report",
		Long: `Start a job and poll the items listing every --interval until --duration has
elapsed. Only items modified after the job's creation time are kept; the
latest sighting of each EPC wins. The report is printed to stdout and
optionally stored in Redis and/or SQLite.

Interrupting the run prints and stores the partial report collected so far.`,
		Example: `  itemsense coordinate --base-url http://host/itemsense --duration 60s --interval 20s
  itemsense coordinate --filter "epc=3030:zoneNames=DOCK" --format json --sqlite runs.db`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.coordinate(cmd)
		},
	}

	fs := cmd.Flags()
	fs.String("recipe", "", "Recipe to run (default IMPINJ_BasicLocation)")
	fs.String("facility", "", "Facility to run the job in")
	fs.Duration("duration", 0, "Job duration (default 60s)")
	fs.Duration("interval", 0, "Poll interval (default 20s)")
	fs.Duration("start-delay", 0, "Delay before the job starts on the platform")
	fs.Bool("report-to-database", true, "Have the job write item data to the database")
	fs.Bool("report-to-queue", true, "Have the job publish to the message queue")
	fs.String("filter", "", `Listing filter, e.g. "epc=3030:zoneNames=DOCK:fromTime=2024-01-01T00:00:00Z"`)
	fs.String("format", "", "Report format: csv, json or yaml (default csv)")
	fs.String("redis-addr", "", "Store the report in Redis at host:port")
	fs.String("sqlite", "", "Store the report in a SQLite database file")
	fs.String("metrics-addr", "", "Serve /health, /ready and /metrics on this address")
	bindFlag(fs, "recipe", "job.recipe")
	bindFlag(fs, "facility", "job.facility")
	bindFlag(fs, "duration", "job.duration")
	bindFlag(fs, "interval", "job.interval")
	bindFlag(fs, "start-delay", "job.start_delay")
	bindFlag(fs, "report-to-database", "job.report_to_database")
	bindFlag(fs, "report-to-queue", "job.report_to_message_queue")
	bindFlag(fs, "filter", "filter")
	bindFlag(fs, "format", "output.format")
	bindFlag(fs, "redis-addr", "output.redis_addr")
	bindFlag(fs, "sqlite", "output.sqlite_path")
	bindFlag(fs, "metrics-addr", "metrics.addr")

	return cmd
}

func (a *app) coordinate(cmd *cobra.Command) error {
	cfg := a.cfg
	if err := cfg.ValidateRun(); err != nil {
		return err
	}
	format, err := report.ParseFormat(cfg.Output.Format)
	if err != nil {
		return err
	}
	base, err := filter.Parse(cfg.Filter)
	if err != nil {
		return errors.Wrap(err, "parse --filter")
	}
	api, err := a.newClient()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sinks, err := openSinks(ctx, cfg.Output)
	if err != nil {
		return err
	}
	defer func() {
		if err := sinks.Close(); err != nil {
			log.Warn().Err(err).Msg("Closing report sinks failed")
		}
	}()

	runCfg := coordinator.DefaultConfig()
	runCfg.Job = cfg.JobDescriptor()
	runCfg.PollInterval = cfg.Job.Interval
	runCfg.Filter = base
	coord := coordinator.New(api, runCfg)

	if cfg.Metrics.Addr != "" {
		if _, err := serveMetrics(ctx, cfg.Metrics.Addr, coord.State); err != nil {
			return err
		}
	}

	log.Info().
		Str("run_id", coord.RunID()).
		Str("recipe", runCfg.Job.RecipeName).
		Dur("duration", runCfg.Job.Duration).
		Dur("interval", runCfg.PollInterval).
		Int("iterations", runCfg.Iterations()).
		Msg("Starting coordinator run")

	rep, runErr := coord.Run(ctx)
	if rep == nil {
		return runErr
	}

	if len(sinks) > 0 {
		saveCtx, cancel := context.WithTimeout(context.Background(), sinkSaveTimeout)
		err := sinks.Save(saveCtx, rep)
		cancel()
		if err != nil {
			log.Error().Err(err).Str("run_id", rep.RunID).Msg("Storing report failed")
			if runErr == nil {
				runErr = err
			}
		}
	}

	if err := report.Write(cmd.OutOrStdout(), rep, format); err != nil {
		return err
	}
	return runErr
}

// openSinks connects the configured report sinks. On error every sink
// opened so far is closed.
func openSinks(ctx context.Context, out config.OutputConfig) (report.MultiSink, error) {
	var sinks report.MultiSink

	if out.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: out.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", out.RedisAddr, err)
		}
		log.Info().Str("addr", out.RedisAddr).Msg("Connected to Redis")
		sinks = append(sinks, &redisSink{RedisSink: report.NewRedisSink(rdb, out.RedisTTL), client: rdb})
	}

	if out.SQLitePath != "" {
		s, err := report.NewSQLiteSink(out.SQLitePath)
		if err != nil {
			_ = sinks.Close()
			return nil, err
		}
		log.Info().Str("path", s.Path()).Msg("Opened SQLite report store")
		sinks = append(sinks, s)
	}

	return sinks, nil
}

// redisSink owns the client it was opened with.
type redisSink struct {
	*report.RedisSink
	client *redis.Client
}

func (s *redisSink) Close() error {
	return s.client.Close()
}
