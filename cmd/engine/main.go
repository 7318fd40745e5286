package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/flushguard/engine/internal/aigate"
	"github.com/flushguard/engine/internal/enforce"
	"github.com/flushguard/engine/internal/ledger"
	"github.com/flushguard/engine/internal/messaging"
	"github.com/flushguard/engine/internal/metrics"
	"github.com/flushguard/engine/internal/modecfg"
	"github.com/flushguard/engine/internal/pipeline"
	"github.com/flushguard/engine/internal/policy"
	"github.com/flushguard/engine/internal/protocol"
	"github.com/flushguard/engine/internal/quota"
	"github.com/flushguard/engine/internal/ratelimit"
	"github.com/flushguard/engine/internal/store"
	"github.com/flushguard/engine/internal/transport"
	"github.com/flushguard/engine/internal/vercache"
)

func main() {
	log.Println("Starting FlushGuard moderation engine...")

	// --- Redis ---
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

	// --- NATS ---
	natsConfig := messaging.DefaultNATSConfig()
	if v := os.Getenv("NATS_URL"); v != "" {
		natsConfig.URL = v
	}
	natsConfig.Name = "flushguard-engine"
	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// --- PostgreSQL (optional: the engine degrades to in-memory state) ---
	var st *store.Store
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn != "" {
		db, err := store.Open(dsn)
		if err != nil {
			log.Fatalf("failed to open postgres: %v", err)
		}
		defer db.Close()
		st = store.New(db)
	} else {
		log.Printf("POSTGRES_DSN not set, running without durable persistence")
	}

	// --- Enforcement configuration ---
	enforceCfg := enforce.DefaultConfig()
	if v := os.Getenv("MUTE_DURATION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			enforceCfg.MuteDuration = d
		}
	}
	if v := os.Getenv("RESET_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			enforceCfg.ResetWindow = d
		}
	}
	if v := os.Getenv("TEMP_BAN_SCHEDULE"); v != "" {
		var schedule []time.Duration
		for _, part := range strings.Split(v, ",") {
			if d, err := time.ParseDuration(strings.TrimSpace(part)); err == nil && d > 0 {
				schedule = append(schedule, d)
			}
		}
		if len(schedule) > 0 {
			enforceCfg.TempBanSchedule = schedule
		}
	}
	if v := os.Getenv("ADMIN_DELETION_ALLOWED"); v != "" {
		enforceCfg.AdminDeletionAllowed = v == "true" || v == "1"
	}

	// --- Quota governor ---
	budgets := quota.DefaultBudgets()
	for i := range budgets {
		env := "AI_PRIMARY_LIMIT"
		if budgets[i].Provider == "fallback" {
			env = "AI_FALLBACK_LIMIT"
		}
		if v := os.Getenv(env); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				budgets[i].Limit = n
			}
		}
		if v := os.Getenv("AI_QUOTA_WINDOW"); v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				budgets[i].Window = d
			}
		}
	}
	governor := quota.NewGovernor(rdb, budgets)

	// --- AI providers ---
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
	if primary == nil && fallback == nil {
		log.Printf("no AI provider configured, running rule-only")
	}

	aiTimeout := aigate.DefaultCallTimeout
	if v := os.Getenv("AI_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			aiTimeout = d
		}
	}

	var gateway pipeline.Classifier
	if primary != nil || fallback != nil {
		gateway = aigate.NewGateway(primary, fallback, governor, aiTimeout)
	}

	// --- Verdict cache ---
	cacheTTL := vercache.DefaultTTL
	if v := os.Getenv("CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cacheTTL = d
		}
	}
	cache := vercache.New(rdb, cacheTTL)

	// --- Wiring ---
	sudo := transport.ParseSudoIDs(os.Getenv("SUDO_USER_IDS"))
	modes := modecfg.NewManager(rdb, modeStore(st))
	led := ledger.New(ledgerStore(st), enforceCfg)

	pipe := &pipeline.Pipeline{
		Engine:  policy.NewEngine(),
		Tracker: policy.NewTracker(),
		Cache:   cache,
		Gateway: gateway,
		Modes:   modes,
		Ledger:  led,
		Sudo:    sudo,
		Bots:    transport.ParseBotIDs(os.Getenv("BOT_ALLOWLIST_IDS")),
		Emitter: transport.NewNATSEmitter(natsClient),
		Limiter: ratelimit.NewLimiter(rdb),
		Config:  enforceCfg,
	}
	if st != nil {
		pipe.Audit = st
		pipe.Backlog = st
	}

	// --- Inbound messages ---
	workers := 32
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			workers = n
		}
	}
	sem := make(chan struct{}, workers)
	err = natsClient.SubscribeInbound(func(data []byte) {
		m, err := protocol.ParseInbound(data)
		if err != nil {
			log.Printf("[engine] drop inbound: %v", err)
			return
		}
		sem <- struct{}{}
		go func() {
			defer func() { <-sem }()
			pipe.Process(context.Background(), m)
		}()
	})
	if err != nil {
		log.Fatalf("failed to subscribe to inbound messages: %v", err)
	}

	// --- Configuration commands ---
	err = natsClient.SubscribeSetMode(func(data []byte) []byte {
		var req protocol.SetModeRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return protocol.ReplyErr(err)
		}
		if err := modes.SetMode(context.Background(), req.ChatID, req.Mode); err != nil {
			log.Printf("[engine] set_mode chat=%d mode=%q rejected: %v", req.ChatID, req.Mode, err)
			return protocol.ReplyErr(err)
		}
		log.Printf("[engine] set_mode chat=%d mode=%s", req.ChatID, req.Mode)
		return protocol.ReplyOK()
	})
	if err != nil {
		log.Fatalf("failed to subscribe to set_mode: %v", err)
	}

	err = natsClient.SubscribeResetUser(func(data []byte) []byte {
		var req protocol.ResetUserRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return protocol.ReplyErr(err)
		}
		led.Reset(context.Background(), req.ChatID, req.UserID)
		log.Printf("[engine] reset_user chat=%d user=%d", req.ChatID, req.UserID)
		return protocol.ReplyOK()
	})
	if err != nil {
		log.Fatalf("failed to subscribe to reset_user: %v", err)
	}

	err = natsClient.SubscribeBanUser(func(data []byte) []byte {
		var req protocol.BanUserRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return protocol.ReplyErr(err)
		}
		led.Ban(context.Background(), req.ChatID, req.UserID)
		ev := protocol.ActionEvent{
			EventID:   uuid.NewString(),
			ChatID:    req.ChatID,
			UserID:    req.UserID,
			Action:    string(enforce.ActionPermBan),
			Reason:    "manual ban",
			DecidedAt: time.Now().Unix(),
		}
		if data, err := protocol.Encode(ev); err == nil {
			if err := natsClient.PublishAction(strconv.FormatInt(req.ChatID, 10), data); err != nil {
				log.Printf("[engine] publish manual ban chat=%d user=%d: %v", req.ChatID, req.UserID, err)
			}
		}
		log.Printf("[engine] ban_user chat=%d user=%d", req.ChatID, req.UserID)
		return protocol.ReplyOK()
	})
	if err != nil {
		log.Fatalf("failed to subscribe to ban_user: %v", err)
	}

	err = natsClient.SubscribeUnbanUser(func(data []byte) []byte {
		var req protocol.UnbanUserRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return protocol.ReplyErr(err)
		}
		led.Unban(context.Background(), req.ChatID, req.UserID)
		log.Printf("[engine] unban_user chat=%d user=%d", req.ChatID, req.UserID)
		return protocol.ReplyOK()
	})
	if err != nil {
		log.Fatalf("failed to subscribe to unban_user: %v", err)
	}

	err = natsClient.SubscribeStats(func(data []byte) []byte {
		var req protocol.StatsRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return protocol.ReplyErr(err)
		}
		ctx := context.Background()
		reply := protocol.StatsReply{
			ChatID:       req.ChatID,
			Mode:         string(modes.Mode(ctx, req.ChatID)),
			CacheHitRate: pipe.CacheHitRate(),
			QuotaUsage:   make(map[string]int64),
		}
		for _, b := range budgets {
			used, _ := governor.Usage(ctx, b.Provider)
			reply.QuotaUsage[b.Provider] = int64(used)
		}
		if st != nil {
			stats, err := st.Stats(ctx, req.ChatID)
			if err != nil {
				log.Printf("[engine] stats chat=%d: %v", req.ChatID, err)
			} else {
				reply.ViolationCounts = stats.ViolationCounts
				reply.ActionCounts = stats.ActionCounts
			}
		}
		out, err := protocol.Encode(reply)
		if err != nil {
			return protocol.ReplyErr(err)
		}
		return out
	})
	if err != nil {
		log.Fatalf("failed to subscribe to stats: %v", err)
	}

	// --- Background maintenance ---
	bgCtx, bgCancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-bgCtx.Done():
				return
			case <-ticker.C:
				if n := led.FlushPending(bgCtx); n > 0 {
					log.Printf("[engine] %d ledger writes still pending", n)
				}
				for _, b := range budgets {
					used, _ := governor.Usage(bgCtx, b.Provider)
					metrics.QuotaUsed.WithLabelValues(b.Provider).Set(float64(used))
				}
			}
		}
	}()

	// --- Metrics ---
	metricsAddr := ":9090"
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		metricsAddr = v
	}
	go func() {
		http.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(metricsAddr, nil); err != nil {
			log.Printf("[engine] metrics server: %v", err)
		}
	}()

	log.Printf("FlushGuard engine running")
	log.Printf("  redis_addr:    %s", redisAddr)
	log.Printf("  nats_url:      %s", natsConfig.URL)
	log.Printf("  metrics_addr:  %s", metricsAddr)
	log.Printf("  workers:       %d", workers)
	log.Printf("  cache_ttl:     %s", cacheTTL)
	log.Printf("  mute_duration: %s", enforceCfg.MuteDuration)
	log.Printf("  reset_window:  %s", enforceCfg.ResetWindow)
	log.Printf("  sudo_ids:      %d configured", len(sudo))

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	bgCancel()
	natsClient.Close()
	led.FlushPending(context.Background())
	rdb.Close()
}

// modeStore narrows the nil check: a nil *store.Store must become a nil
// interface, not a typed nil.
func modeStore(st *store.Store) modecfg.Store {
	if st == nil {
		return nil
	}
	return st
}

func ledgerStore(st *store.Store) ledger.Store {
	if st == nil {
		return nil
	}
	return st
}
