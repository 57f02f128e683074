package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/zortexlab/zortexd/internal/config"
	"github.com/zortexlab/zortexd/internal/engine"
	"github.com/zortexlab/zortexd/internal/httpapi"
	"github.com/zortexlab/zortexd/internal/notify"
	"github.com/zortexlab/zortexd/internal/schedule"
	"github.com/zortexlab/zortexd/internal/telemetry"
	"github.com/zortexlab/zortexd/internal/vault"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "zortexd:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", config.DefaultPath(), "path to the zortexd config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if cfg.Vault.Dir == "" {
		return fmt.Errorf("vault.dir is not set; configure it in %s or via ZORTEXD_VAULT_DIR", *configPath)
	}

	logger, logCloser, err := telemetry.NewLogger(cfg.Log.File, cfg.Log.Level, cfg.Log.Quiet)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dsn, err := cfg.StorageDSN()
	if err != nil {
		return err
	}
	backend, err := engine.BuildStateBackendFromDSN(dsn)
	if err != nil {
		return err
	}

	hub := httpapi.NewEventHub()
	sink := buildSink(cfg, logger)

	eng, err := engine.Open(engine.Options{
		Config:  cfg.EngineConfig(),
		Backend: backend,
		Logger:  logger,
		EventHook: func(ev engine.Event) {
			hub.Publish(ev)
			n, ok := notify.FromEvent(ev)
			if !ok {
				return
			}
			go func() {
				pubCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
				defer cancel()
				if err := sink.Publish(pubCtx, n); err != nil {
					logger.Warn("notification failed", "kind", n.Kind, "error", err)
				}
			}()
		},
	})
	if err != nil {
		return err
	}

	syncer, err := vault.NewSyncer(eng, vault.SyncerOptions{
		VaultDir:       cfg.Vault.Dir,
		AreasFile:      cfg.Vault.AreasFile,
		ObjectivesFile: cfg.Vault.ObjectivesFile,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	started := time.Now()
	if err := syncer.SyncOnce(ctx); err != nil {
		return fmt.Errorf("initial vault sync: %w", err)
	}
	logger.Info("initial vault sync complete",
		"vault", syncer.VaultDir(),
		"elapsed", time.Since(started).Round(time.Millisecond).String())

	queue := vault.NewRescanQueue(cfg.Vault.QueueCapacity)
	var workers sync.WaitGroup
	workers.Add(1)
	go func() {
		defer workers.Done()
		syncer.Run(ctx, queue)
	}()

	if cfg.Vault.Watch {
		watcher := vault.NewWatcher(cfg.Vault.Dir, queue, logger)
		watcher.SetDebounce(cfg.DebounceInterval())
		if err := watcher.Start(ctx); err != nil {
			return err
		}
	}

	scheduler := schedule.NewScheduler(schedule.Config{Logger: logger})
	if err := scheduler.Add("daily-digest", cfg.Schedule.DigestCron, func(jobCtx context.Context) error {
		return sink.Publish(jobCtx, notify.BuildDigest(eng.Status()))
	}); err != nil {
		return err
	}
	// Season-end milestones reach the sink through the event hook, so the
	// job only has to trip the rollover.
	if err := scheduler.Add("season-check", cfg.Schedule.SeasonCheckCron, func(context.Context) error {
		summary, ended, err := eng.EndSeasonIfDue()
		if err != nil {
			return err
		}
		if ended {
			logger.Info("season ended on schedule",
				"season", summary.Name,
				"final_level", summary.FinalLevel,
				"final_xp", summary.FinalXP)
		}
		return nil
	}); err != nil {
		return err
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	api := httpapi.NewServer(eng, syncer, hub, httpapi.ServerConfig{
		AuthSecret:      cfg.HTTP.AuthSecret,
		RateLimitMax:    cfg.HTTP.RatePerMinute,
		RateLimitWindow: time.Minute,
		MaxBodyBytes:    cfg.HTTP.MaxBodyBytes,
		Backend: httpapi.BackendInfo{
			Scheme:   backendScheme(dsn),
			DSN:      dsn,
			VaultDir: syncer.VaultDir(),
		},
		Jobs: scheduler.Jobs,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTP.ListenAddr,
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("zortexd listening",
			"addr", cfg.HTTP.ListenAddr,
			"backend", backendScheme(dsn),
			"auth", cfg.HTTP.AuthSecret != "")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	scheduler.Stop()
	workers.Wait()
	if err := eng.Save(); err != nil {
		return fmt.Errorf("final state save: %w", err)
	}
	return nil
}

// buildSink wires ntfy when a topic is configured and swallows
// notifications otherwise.
func buildSink(cfg config.Config, logger *slog.Logger) notify.Sink {
	if strings.TrimSpace(cfg.Ntfy.Topic) == "" {
		return notify.NoopSink{}
	}
	client, err := notify.NewNtfyClient(notify.NtfyClientOptions{
		ServerURL: cfg.Ntfy.ServerURL,
		Topic:     cfg.Ntfy.Topic,
		Token:     cfg.Ntfy.Token,
	})
	if err != nil {
		logger.Warn("ntfy disabled", "error", err)
		return notify.NoopSink{}
	}
	logger.Info("ntfy notifications enabled", "topic", cfg.Ntfy.Topic)
	return client
}

func backendScheme(dsn string) string {
	parsed, err := url.Parse(strings.TrimSpace(dsn))
	if err != nil || parsed.Scheme == "" {
		return "file"
	}
	return parsed.Scheme
}
