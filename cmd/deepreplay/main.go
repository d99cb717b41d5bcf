package main

import (
	"DeepReplay/internal/codec"
	"DeepReplay/internal/config"
	"DeepReplay/internal/coordinator"
	"DeepReplay/internal/engine"
	"DeepReplay/internal/loader"
	"DeepReplay/internal/observability"
	"DeepReplay/internal/orderbook"
	"DeepReplay/internal/outbound"
	"DeepReplay/internal/server"
	"DeepReplay/internal/session"
	"DeepReplay/internal/state"
	"DeepReplay/internal/transport"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("INFO: DeepReplay starting...")

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("FATAL: load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("FATAL: invalid config: %v", err)
	}
	catalog, err := config.LoadCatalog(cfg.CatalogFile)
	if err != nil {
		log.Fatalf("FATAL: load catalog: %v", err)
	}
	level := observability.ParseLogLevel(cfg.LogLevel)

	// --- Context with graceful shutdown ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Observability ---
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)
	healthChecker := observability.NewHealthChecker()

	// --- Layouts and codec ---
	oracle := codec.DefaultOracle()
	if cfg.LayoutFile != "" {
		if err := oracle.LoadLayoutFile(cfg.LayoutFile); err != nil {
			log.Fatalf("FATAL: load layouts: %v", err)
		}
	}
	converter := codec.NewConverter(oracle, observability.NewLoggerWithLevel("codec", level),
		codec.WithMetrics(metrics),
		codec.WithSlicePackage(catalog.DeepBookPackage),
	)

	// --- Exports ---
	loaders, err := loadExports(ctx, cfg, catalog, level)
	if err != nil {
		log.Fatalf("FATAL: load exports: %v", err)
	}
	summary := loaders.Summary()
	log.Printf("INFO: loaded exports for %d venues", summary.TotalVenues)

	// --- Engine, reference data, object cache ---
	eng, err := engine.DialGRPC(cfg.EngineAddr, observability.NewLoggerWithLevel("engine", level))
	if err != nil {
		log.Fatalf("FATAL: dial engine: %v", err)
	}
	defer eng.Close()

	var tr transport.Transport
	if cfg.RPCURL != "" {
		rpc, err := transport.DialRPC(ctx, cfg.RPCURL, observability.NewLoggerWithLevel("transport", level))
		if err != nil {
			log.Fatalf("FATAL: dial reference rpc: %v", err)
		}
		defer rpc.Close()
		tr = rpc
	} else {
		log.Println("WARN: REPLAY_RPC_URL not set, reference data will not be fetched")
	}

	store, err := state.Open()
	if err != nil {
		log.Fatalf("FATAL: open object store: %v", err)
	}
	defer store.Close()

	// --- Coordinator ---
	coord := coordinator.New(
		catalog.CoordinatorConfig(cfg.QueueSize),
		eng,
		tr,
		loaders,
		converter,
		store,
		observability.NewLoggerWithLevel("coordinator", level),
		metrics,
	)
	if err := coord.Start(ctx); err != nil {
		log.Fatalf("FATAL: coordinator bootstrap: %v", err)
	}
	defer coord.Shutdown()

	if catalog.DefaultVenue != nil {
		pv, err := coord.EnsureDefaultVenue(ctx, catalog.DefaultVenueConfig())
		if err != nil {
			log.Fatalf("FATAL: provision default venue: %v", err)
		}
		log.Printf("INFO: default venue %s ready", pv.Venue.ID)
	}

	// --- Global books ---
	markets, books, err := materialize(ctx, coord, cfg, level, metrics)
	if err != nil {
		log.Fatalf("FATAL: materialize books: %v", err)
	}
	log.Printf("INFO: materialized %d books", len(books))

	// --- Outbound ---
	var hook session.SwapHook
	errChan := make(chan error, 8)

	if cfg.NATSURL != "" {
		nc, js, err := outbound.ConnectNATS(cfg.NATSURL)
		if err != nil {
			log.Fatalf("FATAL: nats connect: %v", err)
		}
		defer nc.Close()
		if err := outbound.EnsureSwapStream(ctx, js); err != nil {
			log.Fatalf("FATAL: ensure swap stream: %v", err)
		}
		publisher := outbound.NewSwapPublisher(js, cfg.PublishBufferLen, observability.NewLoggerWithLevel("publisher", level), metrics)
		hook = publisher.Enqueue
		go func() {
			errChan <- publisher.Run(ctx)
		}()
		log.Println("INFO: swap publishing enabled")
	}

	if cfg.RedisURL != "" {
		cache, err := outbound.NewBookCache(cfg.RedisURL, cfg.RedisPassword, cfg.BookCacheTTL(), observability.NewLoggerWithLevel("bookcache", level))
		if err != nil {
			log.Fatalf("FATAL: redis: %v", err)
		}
		defer cache.Close()
		if err := cache.PutAll(ctx, books); err != nil {
			log.Printf("WARN: cache books: %v", err)
		}
	}

	// --- Sessions ---
	var opts []session.Option
	if hook != nil {
		opts = append(opts, session.WithSwapHook(hook))
	}
	sessions := session.NewManager(coord, observability.NewLoggerWithLevel("session", level), metrics, opts...)
	sessions.ReplaceGlobalBooks(markets)

	// --- Diagnostics ---
	srv := server.New(cfg.GRPCAddr, cfg.HTTPAddr, &server.Deps{
		Coordinator:   coord,
		Books:         sessions,
		HealthChecker: healthChecker,
	})
	go func() {
		errChan <- srv.Run(ctx)
	}()
	go func() {
		errChan <- server.ServeMetrics(ctx, cfg.MetricsAddr, registry)
	}()

	srv.SetServing(true)
	log.Printf("INFO: DeepReplay ready (venues=%d, grpc=%s, http=%s, metrics=%s)",
		len(markets), cfg.GRPCAddr, cfg.HTTPAddr, cfg.MetricsAddr)

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		log.Printf("INFO: received signal %s, shutting down...", sig)
	case err := <-errChan:
		log.Printf("ERROR: goroutine failed: %v, shutting down...", err)
	case <-coord.Done():
		log.Println("ERROR: coordinator stopped, shutting down...")
	}

	srv.SetServing(false)
	healthChecker.SetNotReady("shutting down")
	cancel()
	coord.Shutdown()
	log.Println("INFO: DeepReplay stopped")
}

// loadExports fills one loader per catalog venue from the warehouse table
// when a DSN is configured, otherwise from per-venue JSONL files.
func loadExports(ctx context.Context, cfg *config.Config, catalog *config.Catalog, level zerolog.Level) (*loader.Registry, error) {
	registry := loader.NewRegistry()

	var src *loader.SQLSource
	if cfg.ExportDSN != "" {
		var err error
		src, err = loader.OpenSQLSource(cfg.ExportDSN, cfg.ExportTable)
		if err != nil {
			return nil, err
		}
		defer src.Close()
	}

	logger := observability.NewLoggerWithLevel("loader", level)
	for _, v := range catalog.Venues {
		l := loader.New(v.ID, logger,
			loader.WithBigVectors(v.Asks, v.Bids),
			loader.WithSlicePackage(catalog.DeepBookPackage),
		)

		var (
			n   int
			err error
		)
		switch {
		case src != nil:
			n, err = src.Load(ctx, l)
		case v.ExportFile != "":
			path := v.ExportFile
			if !filepath.IsAbs(path) {
				path = filepath.Join(cfg.ExportDir, path)
			}
			if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
				logger.Warn().Str("venue", v.ID).Str("path", path).Msg("no export file, venue skipped")
				continue
			}
			n, err = l.LoadFile(path)
		default:
			logger.Warn().Str("venue", v.ID).Msg("no export configured, venue skipped")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("venue %s: %w", v.ID, err)
		}

		log.Printf("INFO: venue %s: %d records, %d objects", v.ID, n, l.Stats().TotalObjects)
		registry.Put(l)
	}
	return registry, nil
}

// materialize builds the global book of every served venue and pairs it
// with the venue description sessions need.
func materialize(ctx context.Context, coord *coordinator.Coordinator, cfg *config.Config, level zerolog.Level, metrics *observability.Metrics) ([]session.Market, map[string]*orderbook.Book, error) {
	sources, err := coord.Sources(ctx)
	if err != nil {
		return nil, nil, err
	}
	mat := orderbook.NewMaterializer(coord, uint64(cfg.PageLimit), observability.NewLoggerWithLevel("materializer", level), metrics)
	books, err := mat.MaterializeAll(ctx, sources)
	if err != nil {
		return nil, nil, err
	}

	venues, err := coord.Venues(ctx)
	if err != nil {
		return nil, nil, err
	}
	markets := make([]session.Market, 0, len(venues))
	for _, v := range venues {
		b, ok := books[v.ID]
		if !ok {
			continue
		}
		markets = append(markets, session.Market{Venue: v.Venue, Book: b})
	}
	return markets, books, nil
}
