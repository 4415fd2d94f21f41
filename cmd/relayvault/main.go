package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/bft-labs/relayvault/internal/adapters/metrics"
	"github.com/bft-labs/relayvault/internal/adapters/ws"
	"github.com/bft-labs/relayvault/internal/config"
	"github.com/bft-labs/relayvault/internal/delivery"
	"github.com/bft-labs/relayvault/internal/store"
)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func newLogger() zerolog.Logger {
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(output).With().Timestamp().Logger()
}

func main() {
	cfg := config.DefaultConfig()
	var cfgPath string

	log := newLogger()

	root := &cobra.Command{
		Use:     "relayvault",
		Short:   "Durable JSON state store and delivery reliability daemon",
		Version: fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		Example: `  relayvault serve --data-dir /srv/contest
  relayvault status --data-dir /srv/contest
  relayvault recover --data-dir /srv/contest`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (default $HOME/.relayvault/config.toml)")
	root.PersistentFlags().StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory for the data file, backups, wal and tmp")
	root.PersistentFlags().StringVar(&cfg.DataFile, "data-file", cfg.DataFile, "destination data file (default <data-dir>/data.json)")
	root.PersistentFlags().StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "websocket listen address")
	root.PersistentFlags().StringVar(&cfg.MetricsAddr, "metrics-listen", cfg.MetricsAddr, "prometheus listen address")
	root.PersistentFlags().DurationVar(&cfg.HeartbeatInterval, "heartbeat-interval", cfg.HeartbeatInterval, "liveness probe interval")
	root.PersistentFlags().DurationVar(&cfg.HeartbeatTimeout, "heartbeat-timeout", cfg.HeartbeatTimeout, "heartbeat staleness before degrading a connection")
	root.PersistentFlags().DurationVar(&cfg.MessageTTL, "message-ttl", cfg.MessageTTL, "max age of a queued message")
	root.PersistentFlags().IntVar(&cfg.MaxQueuePerClient, "max-queue-per-client", cfg.MaxQueuePerClient, "per-client outbox capacity")
	root.PersistentFlags().IntVar(&cfg.MaxBackupsRetained, "max-backups-retained", cfg.MaxBackupsRetained, "backup snapshots to retain")

	// resolve applies config file then env, respecting explicitly set flags.
	resolve := func(cmd *cobra.Command) (string, map[string]bool, error) {
		changed := map[string]bool{}
		cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

		cfgFile := cfgPath
		if cfgFile == "" {
			cfgFile = config.DefaultConfigPath()
		}
		if cfgFile != "" && config.FileExists(cfgFile) {
			fc, err := config.LoadFileConfig(cfgFile)
			if err != nil {
				return "", nil, fmt.Errorf("load config: %w", err)
			}
			if err := config.ApplyFileConfig(&cfg, fc, changed); err != nil {
				return "", nil, err
			}
		}
		if err := config.ApplyEnvConfig(&cfg, changed); err != nil {
			return "", nil, err
		}
		if err := cfg.Validate(); err != nil {
			return "", nil, err
		}
		return cfgFile, changed, nil
	}

	openStore := func() (*store.Store, error) {
		return store.Open(store.Options{
			DataFile:           cfg.DataFile,
			MaxWriteRetries:    cfg.MaxWriteRetries,
			RetryBaseDelay:     cfg.RetryBaseDelay,
			MaxBackupsRetained: cfg.MaxBackupsRetained,
			TempMaxAge:         cfg.TempMaxAge,
			Logger:             log,
		})
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the websocket delivery daemon with the durable store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgFile, changed, err := resolve(cmd)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, cfgFile, changed, log)
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Print store metrics as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := resolve(cmd); err != nil {
				return err
			}
			st, err := openStore()
			if err != nil {
				return err
			}
			m, err := st.Metrics()
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(m, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}

	recoverCmd := &cobra.Command{
		Use:   "recover",
		Short: "Replay incomplete transactions and verify the data file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := resolve(cmd); err != nil {
				return err
			}
			st, err := openStore()
			if err != nil {
				return err
			}
			state, err := st.Load(cmd.Context())
			if err != nil {
				return err
			}
			log.Info().Int("bytes", len(state)).Msg("state recovered and verified")
			return nil
		},
	}

	root.AddCommand(serve, status, recoverCmd)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("exiting")
		os.Exit(1)
	}
}

func runServe(ctx context.Context, cfg config.Config, cfgFile string, changed map[string]bool, log zerolog.Logger) error {
	st, err := store.Open(store.Options{
		DataFile:           cfg.DataFile,
		MaxWriteRetries:    cfg.MaxWriteRetries,
		RetryBaseDelay:     cfg.RetryBaseDelay,
		MaxBackupsRetained: cfg.MaxBackupsRetained,
		TempMaxAge:         cfg.TempMaxAge,
		Logger:             log,
	})
	if err != nil {
		return err
	}
	state, err := st.Load(ctx)
	if err != nil {
		return fmt.Errorf("startup recovery: %w", err)
	}
	log.Info().Int("bytes", len(state)).Str("file", cfg.DataFile).Msg("durable state loaded")

	hub := ws.NewHub(log)
	layer, err := delivery.New(hub, delivery.Options{
		HeartbeatInterval:         cfg.HeartbeatInterval,
		HeartbeatTimeout:          cfg.HeartbeatTimeout,
		MaxQueuePerClient:         cfg.MaxQueuePerClient,
		MessageTTL:                cfg.MessageTTL,
		CleanupInterval:           cfg.CleanupInterval,
		InitialBackoff:            cfg.InitialBackoff,
		BackoffMultiplier:         cfg.BackoffMultiplier,
		MaxBackoff:                cfg.MaxBackoff,
		FallbackHeartbeatFailures: cfg.FallbackHeartbeatFailures,
		FallbackQueueDepth:        cfg.FallbackQueueDepth,
		Logger:                    log,
	})
	if err != nil {
		return err
	}
	hub.SetSink(layer)
	layer.Start(ctx)

	// Live retuning of fallback thresholds from the config file.
	if cfgFile != "" && config.FileExists(cfgFile) {
		watcher := config.NewWatcher(cfgFile, cfg, changed, func(next config.Config) {
			layer.SetFallbackThresholds(next.FallbackHeartbeatFailures, next.FallbackQueueDepth)
		}, log)
		go watcher.Run(ctx)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.NewCollector(st, layer, log))

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"health":   layer.Health(),
			"fallback": layer.Fallback(),
		})
	})
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("serving websocket transport")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := layer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("delivery shutdown incomplete")
	}
	hub.Close()
	srv.Shutdown(shutdownCtx)
	metricsSrv.Shutdown(shutdownCtx)
	return nil
}
