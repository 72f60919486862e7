package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	logAdapter "github.com/bft-labs/notibatch/internal/adapters/log"
	"github.com/bft-labs/notibatch/internal/adapters/memory"
	redisAdapter "github.com/bft-labs/notibatch/internal/adapters/redis"
	"github.com/bft-labs/notibatch/internal/adapters/telemetry"
	"github.com/bft-labs/notibatch/internal/adapters/websocket"
	"github.com/bft-labs/notibatch/internal/app"
	"github.com/bft-labs/notibatch/internal/cliconfig"
	"github.com/bft-labs/notibatch/internal/compression"
	"github.com/bft-labs/notibatch/internal/configwatch"
	"github.com/bft-labs/notibatch/internal/domain"
	"github.com/bft-labs/notibatch/internal/httpapi"
	"github.com/bft-labs/notibatch/internal/ports"
)

const longHelp = `Batch notifications per recipient and push them over websockets.

Highlights:
  - Accumulates messages per recipient and flushes on size or delay.
  - Urgent messages skip the queue; failed batches retry with higher priority.
  - Shrinks batches under memory pressure and grows them back when idle.
  - Configure via file, NOTIBATCH_* environment variables, or flags.`

var exampleUsage = strings.TrimSpace(`
  notibatch --listen :8080 --max-batch-size 20 --max-batch-delay 200ms
  notibatch --config $HOME/.notibatch/config.toml --redis-url redis://localhost:6379/0
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string

	root := &cobra.Command{
		Use:          "notibatch",
		Short:        "Adaptive per-recipient notification batching",
		Long:         longHelp,
		Example:      exampleUsage,
		Version:      fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgFile := cfgPath
			if cfgFile == "" {
				cfgFile = cliconfig.DefaultConfigPath()
			}

			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

			base := cfg
			loaded, err := cliconfig.Load(base, cfgFile, changed)
			if err != nil {
				return err
			}
			if err := loaded.Validate(); err != nil {
				return err
			}

			return serve(cmd.Context(), loaded, func() (domain.Config, error) {
				next, err := cliconfig.Load(base, cfgFile, changed)
				if err != nil {
					return domain.Config{}, err
				}
				return next.Batching(), nil
			}, cfgFile)
		},
	}

	flags := root.Flags()
	flags.StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.notibatch/config.toml)")
	flags.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "HTTP listen address")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	flags.StringVar(&cfg.RedisURL, "redis-url", cfg.RedisURL, "redis URL for the dead-letter stream (disabled when empty)")
	flags.StringVar(&cfg.DeadLetterStream, "dead-letter-stream", cfg.DeadLetterStream, "redis stream receiving dead letters")
	flags.StringVar(&cfg.Codec, "codec", cfg.Codec, "compression codec (zstd, s2, gzip, keys)")
	flags.StringVar(&cfg.MetricsBackend, "metrics", cfg.MetricsBackend, "metrics backend (prometheus, otel, none)")
	flags.IntVar(&cfg.BreakerFailures, "breaker-failures", cfg.BreakerFailures, "consecutive delivery failures that open the circuit breaker")
	flags.DurationVar(&cfg.BreakerTimeout, "breaker-timeout", cfg.BreakerTimeout, "how long the circuit breaker stays open")
	flags.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "websocket write timeout")
	flags.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "time allowed for in-flight deliveries on shutdown")
	flags.BoolVar(&cfg.WatchConfig, "watch-config", cfg.WatchConfig, "reload batching settings when the config file changes")

	flags.IntVar(&cfg.MaxBatchSize, "max-batch-size", cfg.MaxBatchSize, "messages per batch before an immediate flush")
	flags.DurationVar(&cfg.MaxBatchDelay, "max-batch-delay", cfg.MaxBatchDelay, "longest a queued message waits for its batch")
	flags.IntVar(&cfg.PriorityBypassThreshold, "bypass-threshold", cfg.PriorityBypassThreshold, "priority at which messages skip the queue")
	flags.Float64Var(&cfg.MemoryThresholdPercent, "memory-threshold", cfg.MemoryThresholdPercent, "memory usage percent that shrinks batches")
	flags.BoolVar(&cfg.CompressionEnabled, "compression", cfg.CompressionEnabled, "evaluate compression of delivered batches")
	flags.IntVar(&cfg.MaxQueueSize, "max-queue-size", cfg.MaxQueueSize, "queued messages per recipient before rejecting")
	flags.DurationVar(&cfg.StaleMessageAge, "stale-age", cfg.StaleMessageAge, "age at which queued messages are evicted")
	flags.BoolVar(&cfg.AdaptiveBatching, "adaptive", cfg.AdaptiveBatching, "adapt batch size and delay to memory pressure")
	flags.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "delivery attempts before dead-lettering (0 retries forever)")
	flags.DurationVar(&cfg.MemoryCheckInterval, "memory-check-interval", cfg.MemoryCheckInterval, "interval of the adaptive memory check")
	flags.DurationVar(&cfg.CleanupInterval, "cleanup-interval", cfg.CleanupInterval, "interval of the stale-message sweep")
	flags.IntVar(&cfg.DuplicateWindow, "duplicate-window", cfg.DuplicateWindow, "recent message IDs remembered for duplicate suppression (0 disables)")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "notibatch:", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg cliconfig.Config, reload configwatch.LoadFunc, cfgFile string) error {
	logger := logAdapter.NewZerologAdapter(cfg.LogLevel)
	zl := logger.Logger()

	logCfg := cfg
	if logCfg.RedisURL != "" {
		logCfg.RedisURL = "*****"
	}
	zl.Info().Interface("config", logCfg).Msg("configuration")

	codec, err := compression.ByName(cfg.Codec)
	if err != nil {
		return err
	}

	var orch *app.Orchestrator
	snapshot := func() domain.Metrics { return orch.Metrics() }

	recorders := telemetry.Multi{telemetry.Log{Logger: logger}}
	var metricsHandler http.Handler
	switch cfg.MetricsBackend {
	case cliconfig.MetricsPrometheus:
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		p, err := telemetry.NewPrometheus(reg, snapshot)
		if err != nil {
			return fmt.Errorf("prometheus: %w", err)
		}
		recorders = append(recorders, p)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	case cliconfig.MetricsOTel:
		o, err := telemetry.NewOTel(nil)
		if err != nil {
			return fmt.Errorf("otel: %w", err)
		}
		recorders = append(recorders, o)
	}

	var deadLetters ports.DeadLetterSink
	if cfg.RedisURL != "" {
		client, err := redisAdapter.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		deadLetters = redisAdapter.NewDeadLetterStream(client, cfg.DeadLetterStream, redisAdapter.DefaultMaxLen)
	}

	orch, err = app.NewOrchestrator(cfg.Batching(), app.Dependencies{
		Logger:      logger,
		Recorder:    recorders,
		Memory:      memory.Runtime{},
		Codec:       codec,
		DeadLetters: deadLetters,
	})
	if err != nil {
		return err
	}

	hub := websocket.NewHub(websocket.Options{
		WriteTimeout:    cfg.WriteTimeout,
		BreakerFailures: uint32(cfg.BreakerFailures),
		BreakerTimeout:  cfg.BreakerTimeout,
		Codec:           codec,
	}, logger.With(ports.String("component", "websocket")))

	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("start batcher: %w", err)
	}

	if cfg.WatchConfig && cliconfig.FileExists(cfgFile) {
		w := configwatch.New(cfgFile, cfg.Batching(), reload, orch,
			logger.With(ports.String("component", "configwatch")))
		if err := w.Start(ctx); err != nil {
			logger.Warn("config watcher disabled", ports.Err(err))
		} else {
			defer w.Stop()
		}
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httpapi.NewServer(orch, hub, metricsHandler, logger, getVersion()).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", ports.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("received signal, stopping")
	case serveErr = <-errCh:
		logger.Error("http server failed", ports.Err(serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Stop intake, wait out in-flight deliveries, then drain what is left.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", ports.Err(err))
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		logger.Error("batcher shutdown", ports.Err(err))
	}
	orch.FlushAll(shutdownCtx, hub.Send)
	if err := hub.Close(); err != nil {
		logger.Error("websocket hub close", ports.Err(err))
	}

	return serveErr
}
