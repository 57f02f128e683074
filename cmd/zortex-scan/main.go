package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/zortexlab/zortexd/internal/config"
	"github.com/zortexlab/zortexd/internal/engine"
	"github.com/zortexlab/zortexd/internal/telemetry"
	"github.com/zortexlab/zortexd/internal/vault"
)

func main() {
	configPath := flag.String("config", config.DefaultPath(), "path to the zortexd config file")
	vaultDir := flag.String("vault", strings.TrimSpace(os.Getenv("ZORTEXD_VAULT_DIR")), "vault directory (overrides config)")
	doc := flag.String("doc", "", "rescan one document instead of the full vault")
	interval := flag.Duration("interval", durationEnv("ZORTEX_SCAN_INTERVAL", 5*time.Minute), "rescan interval for loop mode")
	intervalJitter := flag.Float64("interval-jitter", floatEnv("ZORTEX_SCAN_INTERVAL_JITTER", 0.2), "rescan interval jitter ratio (0.0-1.0)")
	timeout := flag.Duration("timeout", durationEnv("ZORTEX_SCAN_TIMEOUT", 2*time.Minute), "per-pass timeout")
	once := flag.Bool("once", false, "run one pass and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if strings.TrimSpace(*vaultDir) != "" {
		cfg.Vault.Dir = strings.TrimSpace(*vaultDir)
	}
	if cfg.Vault.Dir == "" {
		log.Fatalf("vault dir is required (--vault, ZORTEXD_VAULT_DIR, or vault.dir in %s)", *configPath)
	}
	if *interval <= 0 {
		*interval = 5 * time.Minute
	}
	if *timeout <= 0 {
		*timeout = 2 * time.Minute
	}
	*intervalJitter = clampJitterRatio(*intervalJitter)

	logger, logCloser, err := telemetry.NewLogger(cfg.Log.File, cfg.Log.Level, cfg.Log.Quiet)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logCloser.Close()

	dsn, err := cfg.StorageDSN()
	if err != nil {
		log.Fatalf("failed to resolve storage: %v", err)
	}
	backend, err := engine.BuildStateBackendFromDSN(dsn)
	if err != nil {
		log.Fatalf("failed to initialize storage: %v", err)
	}
	eng, err := engine.Open(engine.Options{
		Config:  cfg.EngineConfig(),
		Backend: backend,
		Logger:  logger,
	})
	if err != nil {
		log.Fatalf("failed to open engine: %v", err)
	}
	syncer, err := vault.NewSyncer(eng, vault.SyncerOptions{
		VaultDir:       cfg.Vault.Dir,
		AreasFile:      cfg.Vault.AreasFile,
		ObjectivesFile: cfg.Vault.ObjectivesFile,
		Logger:         logger,
	})
	if err != nil {
		log.Fatalf("failed to initialize vault syncer: %v", err)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	run := func() {
		ctx, cancel := context.WithTimeout(rootCtx, *timeout)
		defer cancel()
		started := time.Now()
		if target := strings.TrimSpace(*doc); target != "" {
			result, err := syncer.SyncDoc(ctx, target)
			if err != nil {
				log.Printf("scan of %s failed: %v", target, err)
				return
			}
			if result == nil {
				log.Printf("scan of %s: unchanged", target)
				return
			}
			log.Printf("scan of %s: xp %+d, %d new ids, %d notes", target, result.XPDelta, len(result.NewIDs), len(result.Notes))
			return
		}
		if err := syncer.SyncOnce(ctx); err != nil {
			log.Printf("vault pass failed: %v", err)
			return
		}
		status := eng.Status()
		log.Printf("vault pass complete in %s: %d tasks (%d done), %d projects, %d areas",
			time.Since(started).Round(time.Millisecond), status.Tasks, status.CompletedTasks, status.Projects, status.Areas)
	}

	run()
	if *once {
		return
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	timer := time.NewTimer(jitteredIntervalWithSample(*interval, *intervalJitter, rng.Float64()))
	defer timer.Stop()
	for {
		select {
		case <-rootCtx.Done():
			log.Printf("scan loop stopping: %v", rootCtx.Err())
			return
		case <-timer.C:
			run()
			timer.Reset(jitteredIntervalWithSample(*interval, *intervalJitter, rng.Float64()))
		}
	}
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}

func floatEnv(name string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %f", name, raw, fallback)
		return fallback
	}
	return value
}

func clampJitterRatio(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

func jitteredIntervalWithSample(base time.Duration, jitterRatio, sample float64) time.Duration {
	if base <= 0 {
		return 0
	}
	jitterRatio = clampJitterRatio(jitterRatio)
	if jitterRatio == 0 {
		return base
	}
	if sample < 0 {
		sample = 0
	} else if sample > 1 {
		sample = 1
	}
	factor := 1 + ((sample*2)-1)*jitterRatio
	if factor < 0 {
		factor = 0
	}
	delay := time.Duration(float64(base) * factor)
	if delay < time.Millisecond {
		return time.Millisecond
	}
	return delay
}
