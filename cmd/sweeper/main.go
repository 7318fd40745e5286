package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flushguard/engine/internal/aigate"
	"github.com/flushguard/engine/internal/enforce"
	"github.com/flushguard/engine/internal/ledger"
	"github.com/flushguard/engine/internal/messaging"
	"github.com/flushguard/engine/internal/modecfg"
	"github.com/flushguard/engine/internal/pipeline"
	"github.com/flushguard/engine/internal/policy"
	"github.com/flushguard/engine/internal/quota"
	"github.com/flushguard/engine/internal/ratelimit"
	"github.com/flushguard/engine/internal/store"
	"github.com/flushguard/engine/internal/sweep"
	"github.com/flushguard/engine/internal/transport"
	"github.com/flushguard/engine/internal/vercache"
)

func main() {
	log.Println("Starting FlushGuard backlog sweeper...")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatalf("POSTGRES_DSN is required, the sweeper has no work without a backlog")
	}
	db, err := store.Open(dsn)
	if err != nil {
		log.Fatalf("failed to open postgres: %v", err)
	}
	defer db.Close()
	st := store.New(db)

	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancel()
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	cancel()

	natsConfig := messaging.DefaultNATSConfig()
	if v := os.Getenv("NATS_URL"); v != "" {
		natsConfig.URL = v
	}
	natsConfig.Name = "flushguard-sweeper"
	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	governor := quota.NewGovernor(rdb, quota.DefaultBudgets())

	var primary, fallback aigate.Provider
	if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
		p, err := aigate.NewOpenRouterProvider(aigate.OpenRouterConfig{
			APIKey: key,
			Model:  os.Getenv("OPENROUTER_MODEL"),
		})
		if err != nil {
			log.Fatalf("openrouter provider: %v", err)
		}
		primary = p
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		p, err := aigate.NewGeminiProvider(context.Background(), aigate.GeminiConfig{
			APIKey: key,
			Model:  os.Getenv("GEMINI_MODEL"),
		})
		if err != nil {
			log.Fatalf("gemini provider: %v", err)
		}
		fallback = p
	}
	var gateway pipeline.Classifier
	if primary != nil || fallback != nil {
		gateway = aigate.NewGateway(primary, fallback, governor, aigate.DefaultCallTimeout)
	}

	enforceCfg := enforce.DefaultConfig()
	pipe := &pipeline.Pipeline{
		Engine:  policy.NewEngine(),
		Tracker: policy.NewTracker(),
		Cache:   vercache.New(rdb, vercache.DefaultTTL),
		Gateway: gateway,
		Modes:   modecfg.NewManager(rdb, st),
		Ledger:  ledger.New(st, enforceCfg),
		Sudo:    transport.ParseSudoIDs(os.Getenv("SUDO_USER_IDS")),
		Bots:    transport.ParseBotIDs(os.Getenv("BOT_ALLOWLIST_IDS")),
		Emitter: transport.NewNATSEmitter(natsClient),
		Audit:   st,
		Limiter: ratelimit.NewLimiter(rdb),
		Config:  enforceCfg,
	}

	cfg := sweep.DefaultConfig()
	if v := os.Getenv("SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Interval = d
		}
	}
	if v := os.Getenv("SWEEP_MIN_AGE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.MinAge = d
		}
	}
	if v := os.Getenv("SWEEP_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.BatchSize = n
		}
	}
	if v := os.Getenv("SWEEP_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Workers = n
		}
	}
	sweeper := sweep.New(st, pipe, governor, cfg)

	log.Printf("FlushGuard sweeper running")
	log.Printf("  redis_addr: %s", redisAddr)
	log.Printf("  nats_url:   %s", natsConfig.URL)
	log.Printf("  interval:   %s", cfg.Interval)
	log.Printf("  min_age:    %s", cfg.MinAge)
	log.Printf("  batch_size: %d", cfg.BatchSize)
	log.Printf("  workers:    %d", cfg.Workers)

	ctx, stop := context.WithCancel(context.Background())
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		log.Printf("received signal %v, shutting down...", sig)
		stop()
	}()

	sweeper.Run(ctx)
	natsClient.Close()
	rdb.Close()
}
