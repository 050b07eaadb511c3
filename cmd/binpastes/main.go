package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"binpastes/cfg"
	"binpastes/svc/api"
	"binpastes/svc/cache"
	"binpastes/svc/db"
	"binpastes/svc/lim"
	"binpastes/svc/policy"
	"binpastes/svc/svc"
	"binpastes/svc/util"

	"github.com/joho/godotenv"
)

func openStore(c *cfg.Cfg) (db.Store, *db.SQLite, error) {
	switch c.StoreDriver {
	case cfg.StoreBolt:
		b, err := db.OpenBolt(c.DatabasePath)
		return b, nil, err
	default:
		s, err := db.NewSQLiteWithOptions(c.DatabasePath, db.SQLiteOptions{
			MaxOpenConns:     c.DBMaxOpenConns,
			MaxIdleConns:     c.DBMaxIdleConns,
			QueryTimeout:     c.DBQueryTimeout,
			DeleteMinLatency: c.DeleteMinLatency,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	}
}

// healthcheck backs the container probe: exit 0 when the running server
// reports ready.
func healthcheck() int {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://127.0.0.1:" + port + "/ready")
	if err != nil {
		return 1
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 1
	}
	return 0
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		util.Warn().Err(err).Msg("could not read .env file")
	}
	if len(os.Args) > 1 && os.Args[1] == "-health" {
		os.Exit(healthcheck())
	}

	c, err := cfg.Load()
	if err != nil {
		util.Fatal().Err(err).Msg("failed to load configuration")
		os.Exit(1)
	}
	if err := cfg.Validate(c); err != nil {
		util.Fatal().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}
	defer c.Wipe()
	util.InitLog(c.LogLevel, c.Environment == "development")
	util.Info().
		Str("environment", c.Environment).
		Str("store", c.StoreDriver).
		Msg("starting binpastes API")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, sqlDB, err := openStore(c)
	if err != nil {
		util.Fatal().Err(err).Str("driver", c.StoreDriver).Msg("failed to initialize store")
		os.Exit(1)
	}
	defer store.Close()
	util.Info().Str("path", c.DatabasePath).Msg("store initialized")

	var rdb *db.Redis
	if c.RedisURL != "" {
		rdb, err = db.NewRedis(c)
		if err != nil {
			if c.Environment == "production" {
				util.Fatal().Err(err).Msg("CRITICAL: Redis required in production")
				os.Exit(1)
			}
			util.Warn().Err(err).Msg("redis unavailable, continuing without shared cache")
			rdb = nil
		} else {
			util.Info().Msg("redis connected")
			defer rdb.Close()
		}
	}
	var (
		shared  svc.SharedCache
		counter lim.Counter
		redisUp api.Pinger
	)
	if rdb != nil {
		shared, counter, redisUp = rdb, rdb, rdb
	}

	lruCache, err := cache.NewLRU(c.LRUCacheSize)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to create LRU cache")
		os.Exit(1)
	}
	util.Info().Int("size", c.LRUCacheSize).Msg("LRU cache initialized")

	fp, err := util.NewFingerprinter([]byte(c.FingerprintKey.Value()))
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize fingerprinter")
		os.Exit(1)
	}

	pol := policy.New(nil)
	pasteSvc := svc.NewPaste(store, lruCache, shared, pol, c)

	limiter, err := lim.New(c.RateLimit, counter, c.TrustedProxies)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize rate limiter")
		os.Exit(1)
	}
	defer limiter.Stop()
	util.Info().
		Int("rpm", c.RateLimit.RPM).
		Int("burst", c.RateLimit.Burst).
		Strs("trusted_proxies", c.TrustedProxies).
		Msg("rate limiter initialized")

	server := api.NewServer(c, api.Deps{
		Paste:         pasteSvc,
		Policy:        pol,
		Limiter:       limiter,
		Fingerprinter: fp,
		Store:         store,
		Redis:         redisUp,
	})

	walDone := make(chan struct{})
	if sqlDB != nil {
		go func() {
			defer close(walDone)
			sqlDB.RunWALMaintenance(ctx)
		}()
		util.Info().Msg("WAL maintenance worker started")
	} else {
		close(walDone)
	}

	if err := svc.StartReaper(ctx, store, c.ReaperInterval); err != nil {
		util.Error().Err(err).Msg("failed to start reaper")
	}

	go func() {
		if err := server.Start(); err != nil {
			util.Fatal().Err(err).Msg("server failed")
			os.Exit(1)
		}
	}()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	util.Info().Msg("shutting down gracefully...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		util.Error().Err(err).Msg("server shutdown error")
	}
	pasteSvc.Shutdown()
	cancel()
	select {
	case <-walDone:
		util.Info().Msg("WAL maintenance stopped")
	case <-time.After(6 * time.Second):
		util.Warn().Msg("WAL maintenance did not stop gracefully")
	}
	util.Info().Msg("shutdown complete")
}
