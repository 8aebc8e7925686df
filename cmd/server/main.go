package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	ledger "jobeconomy.ai/internal/persistence/log"
	"jobeconomy.ai/internal/observability/metrics"
	"jobeconomy.ai/internal/platform/otel"
	"jobeconomy.ai/internal/protocol"
	"jobeconomy.ai/internal/sim/catalogs"
	"jobeconomy.ai/internal/sim/dedup"
	"jobeconomy.ai/internal/sim/economy"
	"jobeconomy.ai/internal/sim/queue"
	"jobeconomy.ai/internal/sim/tuning"
	"jobeconomy.ai/internal/transport/ws"
)

func main() {
	var (
		addr        = flag.String("addr", ":8080", "http listen address")
		configDir   = flag.String("configs", "./configs", "config directory")
		tuningPath  = flag.String("tuning", "", "path to economy.yaml (default: <configs>/economy.yaml)")
		rewardsPath = flag.String("rewards", "", "path to rewards.yaml (default: <configs>/rewards.yaml)")
		dataDir     = flag.String("data", "./data", "runtime data directory")
		actRate     = flag.Float64("act_rate", ws.DefaultActionsPerSecond, "per-connection actions per second")
		actBurst    = flag.Int("act_burst", ws.DefaultBurst, "per-connection action burst")
		disableLog  = flag.Bool("disable_ledger", false, "disable the reward ledger")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	paths := configPaths{
		tuning:  orDefault(*tuningPath, filepath.Join(*configDir, "economy.yaml")),
		rewards: orDefault(*rewardsPath, filepath.Join(*configDir, "rewards.yaml")),
	}
	tune, err := tuning.Load(paths.tuning)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", paths.tuning)
		if tune, err = tuning.Load(""); err != nil {
			logger.Fatalf("load tuning defaults: %v", err)
		}
	}
	cat, err := catalogs.Load(paths.rewards)
	if err != nil {
		logger.Fatalf("load rewards: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	tp, otelShutdown, err := otel.Setup(ctx, "jobeconomy-server")
	if err != nil {
		logger.Printf("otel setup: %v (tracing disabled)", err)
	}

	stores, err := openStores(ctx, *dataDir, logger)
	if err != nil {
		logger.Fatalf("open stores: %v", err)
	}
	defer stores.Close()

	var rewardLedger *ledger.Writer
	if !*disableLog {
		rewardLedger = ledger.NewLedger(*dataDir)
		defer rewardLedger.Close()
	}

	q := queue.New(queue.Config{
		Workers:         tune.Queue.WorkerThreads,
		BatchInterval:   tune.Queue.BatchInterval(),
		MaxBatchSize:    tune.Queue.MaxBatchSize,
		ShutdownTimeout: tune.Queue.ShutdownTimeout(),
		Logger:          log.New(os.Stdout, "[queue] ", log.LstdFlags|log.Lmicroseconds),
		TracerProvider:  tp,
	})
	cache := dedup.New(dedup.Config{
		Expiry:        tune.Dedup.Expiry(),
		SweepInterval: tune.Dedup.SweepInterval(),
		Logger:        log.New(os.Stdout, "[dedup] ", log.LstdFlags|log.Lmicroseconds),
	})

	engCfg := economy.Config{
		TickInterval: tune.TickInterval(),
		InboxSize:    tune.Engine.InboxSize,
		MaxTracks:    tune.Engine.MaxTracks,
		Curve:        tune.Leveling.Curve,
		Gate:         tune.GateConfig(),
		Cooldowns:    tune.Cooldowns(),
		Catalog:      cat,
		Queue:        q,
		Dedup:        cache,
		Progress:     stores.progress,
		Balances:     stores.balances,
		Logger:       logger,
	}
	if rewardLedger != nil {
		engCfg.Ledger = rewardLedger
	}
	eng, err := economy.New(engCfg)
	if err != nil {
		logger.Fatalf("engine: %v", err)
	}

	validator, err := protocol.NewValidator()
	if err != nil {
		logger.Fatalf("protocol schemas: %v", err)
	}
	wsSrv := ws.NewServer(eng, validator, ws.Config{
		ActionsPerSecond: *actRate,
		Burst:            *actBurst,
		Tracks: func() ([]string, string) {
			c := eng.Catalog()
			return c.TrackIDs(), c.Digest
		},
		Logger: log.New(os.Stdout, "[ws] ", log.LstdFlags|log.Lmicroseconds),
	})
	eng.SetNotifier(wsSrv)

	rt := &runtime{engine: eng, queue: q, cache: cache, ws: wsSrv, ledger: rewardLedger}
	reg, err := metrics.NewRegistry(rt.metricSources())
	if err != nil {
		logger.Fatalf("metrics: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metrics.Handler(reg))
	if envBool("JOBECON_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()) {
		rt.registerAdmin(mux)
	} else {
		logger.Printf("admin endpoints disabled (JOBECON_ENABLE_ADMIN_HTTP=false)")
	}
	if envBool("JOBECON_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.HandleFunc("/v1/ws", wsSrv.Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := eng.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		cache.Run(gctx)
		return nil
	})
	g.Go(func() error {
		watchReload(gctx, paths, eng, logger)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		return srv.Shutdown(ctx2)
	})
	g.Go(func() error {
		logger.Printf("listening on %s (tick=%s workers=%d tracks=%d)", *addr, tune.TickInterval(), tune.Queue.WorkerThreads, len(cat.Tracks))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	runErr := g.Wait()

	// The producer has stopped; finish outstanding writes and deliver what
	// they report.
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), tune.Queue.ShutdownTimeout()+5*time.Second)
	defer cancelShutdown()
	if err := q.Shutdown(shutdownCtx); err != nil {
		logger.Printf("queue shutdown: %v", err)
	}
	eng.Finish()
	if err := otelShutdown(shutdownCtx); err != nil {
		logger.Printf("otel shutdown: %v", err)
	}
	if runErr != nil {
		logger.Fatalf("server: %v", runErr)
	}
	logger.Printf("stopped")
}

type configPaths struct {
	tuning  string
	rewards string
}

// watchReload re-reads economy.yaml and rewards.yaml on SIGHUP. A bad file
// keeps the previous configuration.
func watchReload(ctx context.Context, paths configPaths, eng *economy.Engine, logger *log.Logger) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)
	defer signal.Stop(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			if err := reload(paths, eng); err != nil {
				logger.Printf("reload: %v (keeping previous config)", err)
				continue
			}
			logger.Printf("reloaded %s and %s", paths.tuning, paths.rewards)
		}
	}
}

func reload(paths configPaths, eng *economy.Engine) error {
	tune, err := tuning.Load(paths.tuning)
	if err != nil {
		return err
	}
	cat, err := catalogs.Load(paths.rewards)
	if err != nil {
		return err
	}
	eng.Reload(tune.GateConfig(), tune.Cooldowns())
	eng.SetCatalog(cat)
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}
