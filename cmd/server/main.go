package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"scenekeeper.ai/internal/config"
	"scenekeeper.ai/internal/engine"
	"scenekeeper.ai/internal/events"
	"scenekeeper.ai/internal/gamestate"
	"scenekeeper.ai/internal/persistence/indexdb"
	persistlog "scenekeeper.ai/internal/persistence/log"
	"scenekeeper.ai/internal/persistence/snapshot"
	"scenekeeper.ai/internal/scene/loader"
	"scenekeeper.ai/internal/transport/observer"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to scenekeeper.yaml (optional)")
		scenesDir  = flag.String("scenes", "", "scene directory (overrides scenes_dir)")
		firstScene = flag.String("scene", "", "scene attached before start (overrides first_scene)")
		dataDir    = flag.String("data", "", "runtime data directory (overrides data_dir)")
		addr       = flag.String("addr", "", "http listen address (overrides observer.addr)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite index")
		debug      = flag.Bool("debug", false, "verbose coordinator logging")

		snapPath   = flag.String("snapshot", "", "session snapshot to resume from (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", false, "resume from the latest snapshot in the data dir (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "scenes":
			cfg.ScenesDir = *scenesDir
		case "scene":
			cfg.FirstScene = *firstScene
		case "data":
			cfg.DataDir = *dataDir
		case "addr":
			cfg.Observer.Addr = *addr
		case "debug":
			cfg.Debug = *debug
		}
	})
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("config: %v", err)
	}

	resolver := loader.NewDirResolver(cfg.ScenesDir)
	loaderOpts := loader.Options{
		ReadBytesPerStep: cfg.Loader.ReadBytesPerStep,
		NodesPerStep:     cfg.Loader.NodesPerStep,
		MaxBytes:         cfg.Loader.MaxBytes,
		Logger:           log.New(os.Stdout, "[loader] ", log.LstdFlags|log.Lmicroseconds),
	}

	eng := engine.New(engine.Config{
		TickRateHz: cfg.TickRateHz,
		Logger:     log.New(os.Stdout, "[engine] ", log.LstdFlags|log.Lmicroseconds),
	})
	bus := events.NewBus(logger)

	var commands *persistlog.CommandLogger
	if !cfg.EventLog.Disabled {
		eventLog := persistlog.NewEventLogger(cfg.DataDir, logger)
		defer eventLog.Close()
		bus.Subscribe(eventLog)
		commands = persistlog.NewCommandLogger(cfg.DataDir)
		defer commands.Close()
	}

	idx, err := openRuntimeIndex(cfg, *disableDB, logger)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		bus.Subscribe(idx)
	}

	coord, err := gamestate.New(gamestate.Config{
		Host:          eng,
		Bus:           bus,
		Resolver:      resolver,
		LoaderOptions: loaderOpts,
		Logger:        log.New(os.Stdout, "[game] ", log.LstdFlags|log.Lmicroseconds),
		Debug:         cfg.Debug,
	})
	if err != nil {
		logger.Fatalf("coordinator: %v", err)
	}

	snapDir := filepath.Join(cfg.DataDir, "snapshots")
	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest && cfg.DataDir != "" {
		snapshotToLoad = snapshot.Latest(snapDir)
	}

	// Start errors are not fatal: a scene can still be loaded through the observer.
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if err := coord.Resume(snap); err != nil {
			logger.Printf("resume %s: %v", filepath.Base(snapshotToLoad), err)
		}
	} else {
		if cfg.FirstScene != "" {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			root, err := loader.LoadNow(ctx, resolver, cfg.FirstScene, loaderOpts)
			cancel()
			if err != nil {
				logger.Printf("first scene %q: %v", cfg.FirstScene, err)
			} else if err := eng.AddChild(root); err != nil {
				logger.Printf("attach first scene: %v", err)
			}
		}
		if err := coord.Start(); err != nil {
			logger.Printf("start: %v", err)
		}
	}
	eng.AddTask(coord)

	ctx, cancel := signalContext(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := eng.Do(ctx, func() { _ = coord.QuitGame() }); err != nil {
			eng.Quit()
		}
	})
	defer cancel()

	obs := observer.NewServer(observer.Config{
		Loop:        eng,
		Coordinator: coord,
		Bus:         bus,
		Index:       idx,
		Commands:    commands,
		Logger:      log.New(os.Stdout, "[observer] ", log.LstdFlags|log.Lmicroseconds),
		SendQueue:   cfg.Observer.SendQueue,
		AllowRemote: cfg.Observer.AllowRemote,
	})

	mux := http.NewServeMux()
	obs.Register(mux)
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		var (
			st        gamestate.Status
			processed int
		)
		if err := eng.Do(r.Context(), func() {
			st = coord.Status()
			processed = eng.LastProcessed()
		}); err != nil {
			http.Error(rw, err.Error(), http.StatusServiceUnavailable)
			return
		}
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, eng, st, processed, idx, obs)
	})

	srv := &http.Server{
		Addr:              cfg.Observer.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	engineDone := make(chan error, 1)
	go func() {
		engineDone <- eng.Run(ctx)
	}()
	go func() {
		select {
		case <-ctx.Done():
		case <-eng.Done():
		}
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s scenes=%s tick_rate=%dHz", cfg.Observer.Addr, cfg.ScenesDir, cfg.TickRateHz)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("listen: %v", err)
	}
	if err := <-engineDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Printf("engine: %v", err)
	}

	// The loop has stopped; the coordinator can be read directly.
	if cfg.DataDir != "" {
		now := time.Now()
		path := snapshot.PathFor(snapDir, eng.CurrentTick(), now)
		if err := snapshot.WriteSnapshot(path, coord.Capture(now)); err != nil {
			logger.Printf("write snapshot: %v", err)
		} else {
			logger.Printf("snapshot written: %s", path)
		}
	}
	logger.Printf("stopped at tick=%d", eng.CurrentTick())
}

// signalContext calls onSignal on the first SIGINT/SIGTERM and cancels the
// returned context on the second.
func signalContext(onSignal func()) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		onSignal()
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func writeMetrics(rw http.ResponseWriter, eng *engine.Engine, st gamestate.Status, processed int, idx *indexdb.SQLiteIndex, obs *observer.Server) {
	fmt.Fprintf(rw, "# HELP scenekeeper_tick Current engine tick.\n")
	fmt.Fprintf(rw, "# TYPE scenekeeper_tick counter\n")
	fmt.Fprintf(rw, "scenekeeper_tick %d\n", eng.CurrentTick())

	fmt.Fprintf(rw, "# HELP scenekeeper_fps Measured ticks per second.\n")
	fmt.Fprintf(rw, "# TYPE scenekeeper_fps gauge\n")
	fmt.Fprintf(rw, "scenekeeper_fps %.3f\n", eng.FramesPerSecond())

	fmt.Fprintf(rw, "# HELP scenekeeper_paused Whether the tree is globally paused.\n")
	fmt.Fprintf(rw, "# TYPE scenekeeper_paused gauge\n")
	fmt.Fprintf(rw, "scenekeeper_paused %d\n", boolGauge(st.Paused))

	fmt.Fprintf(rw, "# HELP scenekeeper_layer_playing Whether a layer is in PLAY.\n")
	fmt.Fprintf(rw, "# TYPE scenekeeper_layer_playing gauge\n")
	fmt.Fprintf(rw, "scenekeeper_layer_playing{layer=%q} %d\n", "world", boolGauge(st.World == gamestate.Play))
	fmt.Fprintf(rw, "scenekeeper_layer_playing{layer=%q} %d\n", "gui", boolGauge(st.Gui == gamestate.Play))

	fmt.Fprintf(rw, "# HELP scenekeeper_load_in_progress Whether a scene transition is running.\n")
	fmt.Fprintf(rw, "# TYPE scenekeeper_load_in_progress gauge\n")
	fmt.Fprintf(rw, "scenekeeper_load_in_progress %d\n", boolGauge(st.LoadInProgress))

	fmt.Fprintf(rw, "# HELP scenekeeper_processed_nodes Nodes processed in the last tick.\n")
	fmt.Fprintf(rw, "# TYPE scenekeeper_processed_nodes gauge\n")
	fmt.Fprintf(rw, "scenekeeper_processed_nodes %d\n", processed)

	fmt.Fprintf(rw, "# HELP scenekeeper_observer_sessions Connected observers.\n")
	fmt.Fprintf(rw, "# TYPE scenekeeper_observer_sessions gauge\n")
	fmt.Fprintf(rw, "scenekeeper_observer_sessions %d\n", obs.Sessions())

	fmt.Fprintf(rw, "# HELP scenekeeper_observer_dropped_total Events dropped for slow observers.\n")
	fmt.Fprintf(rw, "# TYPE scenekeeper_observer_dropped_total counter\n")
	fmt.Fprintf(rw, "scenekeeper_observer_dropped_total %d\n", obs.Dropped())

	if idx == nil {
		return
	}
	s := idx.Stats()
	fmt.Fprintf(rw, "# HELP scenekeeper_index_queue_depth Index writer backlog.\n")
	fmt.Fprintf(rw, "# TYPE scenekeeper_index_queue_depth gauge\n")
	fmt.Fprintf(rw, "scenekeeper_index_queue_depth %d\n", s.QueueDepth)
	fmt.Fprintf(rw, "# TYPE scenekeeper_index_queue_capacity gauge\n")
	fmt.Fprintf(rw, "scenekeeper_index_queue_capacity %d\n", s.QueueCapacity)
	fmt.Fprintf(rw, "# HELP scenekeeper_index_rows_total Index rows written and dropped.\n")
	fmt.Fprintf(rw, "# TYPE scenekeeper_index_rows_total counter\n")
	fmt.Fprintf(rw, "scenekeeper_index_rows_total{result=%q} %d\n", "written", s.Written)
	fmt.Fprintf(rw, "scenekeeper_index_rows_total{result=%q} %d\n", "dropped", s.DropEvents)
}

func boolGauge(b bool) int {
	if b {
		return 1
	}
	return 0
}
