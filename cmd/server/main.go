package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/technosupport/ts-telematics/internal/api"
	"github.com/technosupport/ts-telematics/internal/audit"
	"github.com/technosupport/ts-telematics/internal/auth"
	"github.com/technosupport/ts-telematics/internal/cache"
	"github.com/technosupport/ts-telematics/internal/config"
	"github.com/technosupport/ts-telematics/internal/data"
	"github.com/technosupport/ts-telematics/internal/events"
	"github.com/technosupport/ts-telematics/internal/middleware"
	"github.com/technosupport/ts-telematics/internal/notify"
	"github.com/technosupport/ts-telematics/internal/pipeline"
	"github.com/technosupport/ts-telematics/internal/ratelimit"
	"github.com/technosupport/ts-telematics/internal/rules"
	"github.com/technosupport/ts-telematics/internal/telemetry"
	"github.com/technosupport/ts-telematics/internal/tokens"
)

func main() {
	// 1. Config
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Config load error: %v", err)
	}

	// Hot-reloadable view of the config for pieces that read it per call.
	var liveCfg atomic.Pointer[config.Config]
	liveCfg.Store(&cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher := config.NewWatcher(cfgPath, func(next config.Config) {
		liveCfg.Store(&next)
	})
	watcher.Start(ctx)

	// 2. DB
	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		log.Fatalf("DB open error: %v", err)
	}
	if err := db.Ping(); err != nil {
		log.Fatalf("DB ping error: %v", err)
	}

	// 3. Redis + NATS
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	store := cache.NewStore(rdb)

	nc, err := nats.Connect(cfg.NATS.URL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		log.Fatalf("NATS connect error: %v", err)
	}
	defer nc.Drain()

	// 4. Pipeline components
	channels := events.Channels{
		Priority:  cfg.Channels.Priority,
		Telemetry: cfg.Channels.Telemetry,
		Events:    cfg.Channels.Events,
	}
	router := events.NewRouter(events.NewNATSPublisher(nc), channels)

	signalRepo := data.SignalModel{DB: db}
	ruleRepo := data.RuleModel{DB: db}
	notificationRepo := data.NotificationModel{DB: db}

	ingestSvc := telemetry.NewService(signalRepo, store, router, cfg.Cache.StateTTL(), cfg.Ingest.ChunkSize)
	ruleSvc := rules.NewService(ruleRepo, store, router, cfg.Cache.RuleTTL(), cfg.Cache.WarmupTTL())

	senders := map[notify.ChannelType]notify.Sender{
		notify.ChannelEmail:   &notify.EmailSender{Addr: cfg.Notify.SMTPAddr, From: cfg.Notify.SMTPFrom},
		notify.ChannelSMS:     &notify.SMSSender{GatewayURL: cfg.Notify.SMSGatewayURL},
		notify.ChannelPush:    &notify.PushSender{GatewayURL: cfg.Notify.PushGatewayURL},
		notify.ChannelWebhook: &notify.WebhookSender{},
	}
	dispatcher := notify.NewDispatcher(notificationRepo, senders,
		cfg.Notify.MaxAttempts, cfg.Notify.RetryDelay(), cfg.Notify.BulkDelay())

	// 5. Bus consumers
	evalConsumer := pipeline.NewEvalConsumer(ruleSvc)
	if err := evalConsumer.Start(nc, channels); err != nil {
		log.Fatalf("Eval consumer error: %v", err)
	}

	notifyConsumer := &pipeline.NotifyConsumer{
		Dispatcher:       dispatcher,
		Dedup:            events.NewDedup(4096, 30*time.Second),
		DefaultRecipient: cfg.Notify.SMTPFrom,
		EmergencyNumber:  cfg.Notify.EmergencyNumber,
		AlarmWebhookURL:  cfg.Notify.AlarmWebhookURL,
	}
	if err := notifyConsumer.Start(nc, channels); err != nil {
		log.Fatalf("Notify consumer error: %v", err)
	}

	retry := &pipeline.RetryScheduler{Dispatcher: dispatcher, Interval: cfg.Notify.RetryInterval()}
	retry.Start(ctx)

	// 6. Audit trail
	audit.ConfigureSpool(cfg.Audit.SpoolDir, cfg.Audit.SpoolMaxMB)
	trail := audit.NewService(db)
	trail.StartReplayer(ctx, cfg.Audit.ReplayInterval())

	// 7. HTTP surface
	tokenMgr := tokens.NewManager(cfg.Auth.JWTSigningKey)
	revoker := auth.NewRedisRevoker(rdb)
	limiter := ratelimit.NewLimiter(rdb, cfg.Limits.Salt)
	handlers := api.Handlers{
		Signals:       api.NewSignalHandler(ingestSvc),
		Rules:         api.NewRuleHandler(ruleSvc),
		Notifications: api.NewNotificationHandler(dispatcher),
		StateFeed:     api.NewStateFeedHandler(ingestSvc),
		Auth:          api.NewAuthHandler(revoker),
		Audit:         api.NewAuditHandler(trail),
		JWT:           middleware.NewJWTAuth(tokenMgr).WithRevoker(revoker),
		APIKey: middleware.NewAPIKeyAuth(func() []string {
			return liveCfg.Load().Auth.APIKeyHashes
		}),
		AuditLog: middleware.NewAuditMiddleware(trail),
		Limiter:  limiter,
		IngestLimit: ratelimit.Limit{
			Rate:   cfg.Limits.IngestRate,
			Window: cfg.Limits.IngestWindow(),
		},
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.NewRouter(handlers),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Printf("ts-telematics listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// 8. Shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Printf("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[ERROR] HTTP shutdown: %v", err)
	}

	// Let in-flight ingest side effects land before the process exits.
	ingestSvc.Flush()
}
