package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"walkersim.dev/internal/persistence/journal"
	"walkersim.dev/internal/sim/population"
	"walkersim.dev/internal/sim/sandbox"
	"walkersim.dev/internal/sim/scheduler"
	"walkersim.dev/internal/sim/scripting"
	"walkersim.dev/internal/sim/tuning"
	"walkersim.dev/internal/transport/telemetry"
)

func main() {
	var (
		addr         = flag.String("addr", ":8080", "http listen address (admin, health, metrics)")
		tuningPath   = flag.String("tuning", "./configs/tuning.yaml", "tuning file (.yaml or .toml)")
		dataDir      = flag.String("data", "./data", "runtime data directory")
		seed         = flag.Int64("seed", 1337, "sandbox world and simulation seed")
		worldSize    = flag.Float64("world_size", 4096, "sandbox world side length")
		players      = flag.Int("players", 2, "sandbox players")
		logLevel     = flag.String("log_level", "info", "debug|info|warn|error")
		logFormat    = flag.String("log_format", "console", "console|json")
		indexBackend = flag.String("index_backend", "", "sqlite|postgres|none (default: $WALKERSIM_INDEX_BACKEND or sqlite)")
		indexDSN     = flag.String("index_dsn", "", "index database path or postgres dsn")
		adminKeyHash = flag.String("admin_key_hash", "", "bcrypt hash of the admin bearer token (or $WALKERSIM_ADMIN_KEY_HASH); empty means loopback only")
		enablePprof  = flag.Bool("pprof", false, "serve /debug/pprof")

		offsiteEndpoint = flag.String("offsite_endpoint", "", "S3-compatible endpoint for checkpoint mirroring (keys from $WALKERSIM_OFFSITE_ACCESS_KEY_ID / $WALKERSIM_OFFSITE_SECRET_ACCESS_KEY)")
		offsiteBucket   = flag.String("offsite_bucket", "", "offsite bucket")
		offsitePrefix   = flag.String("offsite_prefix", "walkersim", "offsite object key prefix")
	)
	flag.Parse()

	log, err := newLogger(*logLevel, *logFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(log, runConfig{
		Addr:         *addr,
		TuningPath:   *tuningPath,
		DataDir:      *dataDir,
		Seed:         *seed,
		WorldSize:    *worldSize,
		Players:      *players,
		IndexBackend: *indexBackend,
		IndexDSN:     *indexDSN,
		AdminKeyHash: *adminKeyHash,
		Pprof:        *enablePprof,

		OffsiteEndpoint: *offsiteEndpoint,
		OffsiteBucket:   *offsiteBucket,
		OffsitePrefix:   *offsitePrefix,
	}); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

type runConfig struct {
	Addr         string
	TuningPath   string
	DataDir      string
	Seed         int64
	WorldSize    float64
	Players      int
	IndexBackend string
	IndexDSN     string
	AdminKeyHash string
	Pprof        bool

	OffsiteEndpoint string
	OffsiteBucket   string
	OffsitePrefix   string
}

func run(log *zap.Logger, cfg runConfig) error {
	tun, err := tuning.Load(cfg.TuningPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		log.Warn("tuning file not found, using defaults", zap.String("path", cfg.TuningPath))
		tun = tuning.Defaults()
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	idx, err := openIndex(ctx, cfg.IndexBackend, cfg.IndexDSN, cfg.DataDir, log)
	if err != nil {
		return fmt.Errorf("open index backend: %w", err)
	}
	if idx != nil {
		defer idx.Close()
	}
	jr, err := journal.Open(filepath.Join(cfg.DataDir, "journal"), log)
	if err != nil {
		return err
	}
	defer jr.Close()

	recs := recorders{jr}
	if idx != nil {
		recs = append(recs, idx)
	}

	var selector population.TargetSelector
	if tun.TargetScript != "" {
		sel, err := scripting.Load(tun.TargetScript, log)
		if err != nil {
			return err
		}
		defer sel.Close()
		selector = sel
	}

	wcfg := sandbox.DefaultConfig()
	wcfg.Seed = cfg.Seed
	wcfg.HalfSize = cfg.WorldSize / 2
	wcfg.Players = cfg.Players
	world := sandbox.New(wcfg)

	sim := population.New(population.Options{
		Tuning:   tun,
		World:    world,
		Log:      log,
		Seed:     cfg.Seed,
		Selector: selector,
		Recorder: recs,
	})
	snapPath := filepath.Join(cfg.DataDir, "population.snap.zst")
	sim.LoadOrReset(snapPath)
	log.Info("population ready",
		zap.Int("agents", sim.Counts().Total()),
		zap.Int("max_agents", sim.MaxAgents()),
		zap.Int("global_active_cap", tun.GlobalActiveCap()))

	mirror, err := openMirror(cfg.OffsiteEndpoint, cfg.OffsiteBucket, cfg.OffsitePrefix, cfg.DataDir, log)
	if err != nil {
		return fmt.Errorf("offsite mirror: %w", err)
	}
	defer mirror.Close()

	ckpt := &checkpointer{sim: sim, path: snapPath, idx: idx, mirror: mirror, log: log.Named("checkpoint")}

	var tel *telemetry.Server
	if tun.Telemetry.Enabled {
		enc, err := telemetry.ParseEncoding(tun.Telemetry.Encoding)
		if err != nil {
			return err
		}
		tel = telemetry.NewServer(sim, telemetry.Options{Log: log, Encoding: enc})
	}

	sched := scheduler.New(scheduler.Options{
		Tuning: tun,
		Sim:    sim,
		World:  world,
		Log:    log,
		OnIteration: func() {
			if tel != nil {
				tel.Broadcast()
			}
		},
		OnCheckpoint: func() {
			if tun.Persistent {
				_, _, _ = ckpt.Save()
			}
		},
	})

	keyHash := strings.TrimSpace(cfg.AdminKeyHash)
	if keyHash == "" {
		keyHash = strings.TrimSpace(os.Getenv("WALKERSIM_ADMIN_KEY_HASH"))
	}
	admin := &adminAPI{
		sim:       sim,
		ckpt:      ckpt,
		idx:       idx,
		journal:   jr,
		mirror:    mirror,
		telemetry: tel,
		steps:     sched.TotalSteps,
		keyHash:   []byte(keyHash),
		log:       log.Named("admin"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", admin.handleMetrics)
	admin.register(mux)
	if cfg.Pprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	servers := []*http.Server{{Addr: cfg.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}}
	if tel != nil {
		telMux := mux
		if a := tun.Telemetry.Addr; a != "" && a != cfg.Addr {
			telMux = http.NewServeMux()
			servers = append(servers, &http.Server{Addr: a, Handler: telMux, ReadHeaderTimeout: 5 * time.Second})
		}
		telMux.HandleFunc("/v1/telemetry/ws", tel.WSHandler())
		telMux.HandleFunc("/v1/telemetry/bootstrap", tel.BootstrapHandler())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := sched.Run(gctx)
		if errors.Is(err, scheduler.ErrWorldLost) {
			return err
		}
		return nil
	})
	g.Go(func() error { return runHost(gctx, world, sim) })
	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			log.Info("listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen %s: %w", srv.Addr, err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			return srv.Shutdown(sctx)
		})
	}

	err = g.Wait()
	if tun.Persistent {
		_, _, _ = ckpt.Save()
	}
	log.Info("shutdown complete", zap.Uint64("steps", sched.TotalSteps()))
	return err
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
