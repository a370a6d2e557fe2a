package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/xelth-com/eckposgo/internal/catalog"
	"github.com/xelth-com/eckposgo/internal/config"
	"github.com/xelth-com/eckposgo/internal/connectivity"
	"github.com/xelth-com/eckposgo/internal/database"
	"github.com/xelth-com/eckposgo/internal/handlers"
	"github.com/xelth-com/eckposgo/internal/offers"
	"github.com/xelth-com/eckposgo/internal/posapi"
	"github.com/xelth-com/eckposgo/internal/store"
	possync "github.com/xelth-com/eckposgo/internal/sync"
	"github.com/xelth-com/eckposgo/internal/websocket"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = uuid.NewString()
		log.Println("⚠️ JWT_SECRET not set, shift tokens are valid for this process only")
	}

	// 2. Local store (embedded PostgreSQL unless configured otherwise)
	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	gormStore, err := store.NewGormStore(db)
	if err != nil {
		log.Fatalf("Failed to prepare local store: %v", err)
	}

	var st store.Store = gormStore
	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		cache := store.NewRedisCache(rdb, cfg.Redis.KeyPrefix, 0)
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := cache.Ping(pingCtx); err != nil {
			log.Printf("⚠️ Redis unreachable at %s, reference data stays in PostgreSQL only: %v", cfg.Redis.Addr, err)
		} else {
			st = store.NewLayered(gormStore, cache)
			log.Printf("✅ Redis cache enabled at %s", cfg.Redis.Addr)
		}
		cancel()
	}

	// 3. Remote server and connectivity
	client := posapi.NewClient(cfg.Remote)
	monitor := connectivity.NewMonitor(client, cfg.Connectivity)
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	monitor.Start(ctx)

	// 4. Offline queue, reference data, catalog and offers
	engine := possync.NewEngine(st, client, monitor, cfg.Sync)
	if cfg.Sync.Enabled {
		if err := engine.Start(); err != nil {
			log.Printf("⚠️ Sync Engine: Failed to start: %v", err)
		} else {
			log.Println("✅ Sync Engine: Started successfully")
		}
	}
	preloader := possync.NewPreloader(client, st, monitor)
	items := catalog.NewSynchronizer(client, st, monitor, cfg.Catalog)
	refreshProfile := func(ctx context.Context) {
		if err := items.RefreshProfile(ctx, client, cfg.Profile); err != nil {
			log.Printf("⚠️ Catalog: profile %s not refreshed: %v", cfg.Profile, err)
		}
	}
	if cfg.Profile != "" && len(cfg.Catalog.ItemGroups) > 0 {
		if err := items.SetProfile(ctx, catalog.ProfileInfo{Name: cfg.Profile, ItemGroups: cfg.Catalog.ItemGroups}); err != nil {
			log.Printf("⚠️ Catalog: failed to set profile %s: %v", cfg.Profile, err)
		}
	}
	offerCatalog := offers.NewCatalog(client, st, monitor)

	// 5. Terminal events
	hub := websocket.NewHub()
	go hub.Run(ctx)

	unsubscribe := []func(){
		engine.SubscribePending(func(count int) {
			hub.Publish(websocket.EventSyncPending, map[string]int{"count": count})
		}),
		items.SubscribeProgress(func(p catalog.Progress) {
			hub.Publish(websocket.EventCatalogProgress, p)
		}),
		monitor.Subscribe(func(s connectivity.State) {
			hub.Publish(websocket.EventConnectivity, s)
		}),
	}

	// Refresh the profile and offline reference data, then finish the
	// catalog mirror, whenever the link comes back
	reconnected := func() {
		go func() {
			pctx, cancel := context.WithTimeout(ctx, time.Minute)
			defer cancel()
			if cfg.Profile != "" {
				refreshProfile(pctx)
				if _, err := preloader.PreloadForOffline(pctx, cfg.Profile); err != nil {
					log.Printf("⚠️ Offline preload failed: %v", err)
				}
			}
			items.Resume()
		}()
	}
	unsubscribe = append(unsubscribe, monitor.OnOnline(reconnected))
	// The first probe may have finished before the subscription
	if !monitor.IsOffline() {
		reconnected()
	}

	// 6. HTTP router
	router := handlers.NewRouter(handlers.Deps{
		Config:    cfg,
		Store:     st,
		Sync:      engine,
		Preloader: preloader,
		Catalog:   items,
		Offers:    offerCatalog,
		Pricing:   client,
		Conn:      monitor,
		Hub:       hub,
	})

	unsubscribe = append(unsubscribe, monitor.OnOnline(router.Reconnected))

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router.Handler(),
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		log.Printf("🚀 POS node (%s) starting on port %s, server %s\n", cfg.NodeEnv, cfg.Port, client.BaseURL())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	sig := <-shutdown
	log.Printf("\n⚠️  Received signal: %v. Shutting down gracefully...\n", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	router.Close()
	for _, fn := range unsubscribe {
		fn()
	}
	items.Stop()
	engine.Stop()
	monitor.Stop()
	stop()
	<-hub.Done()

	if rdb != nil {
		_ = rdb.Close()
	}

	log.Println("🛑 Closing database connection...")
	if err := db.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}

	log.Println("✅ Shutdown complete")
}
