package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"voxelhistory.ai/internal/observability"
	"voxelhistory.ai/internal/persistence/indexdb"
	persistlog "voxelhistory.ai/internal/persistence/log"
	"voxelhistory.ai/internal/sim/catalogs"
	"voxelhistory.ai/internal/sim/host"
	"voxelhistory.ai/internal/sim/tuning"
	"voxelhistory.ai/internal/transport/observer"
	"voxelhistory.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		dataDir    = flag.String("data", "./data", "runtime data directory (change journal, index)")
		dbPath     = flag.String("db", "", "sqlite index path (default: <data>/index/changes.sqlite)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite change index")
		noJournal  = flag.Bool("disable_journal", false, "disable the change journal")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}
	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	h, err := host.New(host.ConfigFromTuning(tune, &cats.Blocks), &cats.Blocks, log.New(os.Stdout, "[host] ", log.LstdFlags|log.Lmicroseconds))
	if err != nil {
		logger.Fatalf("host: %v", err)
	}

	metrics := observability.NewMetrics()
	h.SetMetrics(metrics)

	if !*noJournal {
		journal := persistlog.NewChangeLogger(*dataDir)
		defer journal.Close()
		h.SetChangeLogger(journal)
	}

	if !*disableDB {
		p := strings.TrimSpace(*dbPath)
		if p == "" {
			p = filepath.Join(*dataDir, "index", "changes.sqlite")
		}
		idx, err := indexdb.OpenSQLite(p)
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		if err := idx.UpsertCatalogs(*configDir, cats, tune); err != nil {
			logger.Printf("index: upsert catalogs: %v", err)
		}
		h.SetIndexer(idx)
	}

	ctx, cancel := signalContext()
	defer cancel()

	hostDone := make(chan struct{})
	go func() {
		defer close(hostDone)
		if err := h.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("host stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metrics.Handler())
	newAPI(h, logger).register(mux)
	mux.HandleFunc("/v1/ws", ws.NewServer(h, logger).Handler())

	obsSrv := observer.NewServer(h, logger)
	obsSrv.AllowRemote = envBool("VH_OBSERVER_ALLOW_REMOTE", false)
	mux.HandleFunc("/v1/observer/bootstrap", obsSrv.BootstrapHandler())
	mux.HandleFunc("/v1/observer/ws", obsSrv.WSHandler())

	if envBool("VH_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (VH_ENABLE_PPROF_HTTP=false)")
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s worlds=%d tick_rate_hz=%d retention_ticks=%d", *addr, len(tune.Worlds), tune.TickRateHz, tune.Tracker.RetentionTicks)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Printf("ListenAndServe: %v", err)
	}
	cancel()
	<-hostDone
	st := h.Stats()
	logger.Printf("stopped at tick=%d applied=%d rejected=%d entries=%d", st.Tick, st.Applied, st.Rejected, st.Tracker.Entries)
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

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
