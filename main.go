package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"threadline/global"
	"threadline/logger"
	mid "threadline/middleware"
	"threadline/middleware/security"
	"threadline/module/blob"
	"threadline/module/message"
	"threadline/module/notify"
	"threadline/module/presence"
	"threadline/service/bus"
	"threadline/service/realtime"
	"threadline/service/storage"
	"threadline/tools/ids"
)

func main() {
	cfgPath := flag.String("config", "", "path to config yaml")
	flag.Parse()

	cfg, err := global.Load(*cfgPath)
	if err != nil {
		logger.Error("load config failed", zap.Error(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gen := ids.NewGenerator(cfg.NodeNum)
	authOpts := security.DefaultOptions([]byte(cfg.JWTSecret))

	// Stores. Postgres when configured, in-memory otherwise so a dev
	// checkout runs with zero infrastructure.
	var (
		store    message.Store
		settings notify.SettingsStore
	)
	if cfg.PostgresURL != "" {
		pool, err := storage.OpenPostgres(ctx, cfg.PostgresURL)
		if err != nil {
			logger.Error("postgres unavailable", zap.Error(err))
			os.Exit(1)
		}
		defer pool.Close()
		pg := message.NewPgStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Error("message schema failed", zap.Error(err))
			os.Exit(1)
		}
		ns := notify.NewPgSettingsStore(pool)
		if err := ns.EnsureSchema(ctx); err != nil {
			logger.Error("notify schema failed", zap.Error(err))
			os.Exit(1)
		}
		store, settings = pg, ns
	} else {
		logger.Warn("no postgres_url configured, using in-memory store")
		store, settings = message.NewMemStore(), notify.NewMemSettingsStore()
	}

	// Event bus between store writes and gateway fan-out.
	var eventBus bus.Bus
	switch cfg.Bus.Kind {
	case "nats":
		eventBus, err = bus.NewNatsBus(cfg.Bus.NatsURL)
	case "kafka":
		eventBus, err = bus.NewKafkaBus(cfg.Bus.Brokers, cfg.Bus.GroupID+"-"+cfg.NodeID)
	case "mem", "":
		eventBus = bus.NewMemBus()
	default:
		logger.Error("unknown bus kind", zap.String("kind", cfg.Bus.Kind))
		os.Exit(1)
	}
	if err != nil {
		logger.Error("bus connect failed", zap.String("kind", cfg.Bus.Kind), zap.Error(err))
		os.Exit(1)
	}
	defer func() { _ = eventBus.Close() }()

	// Presence: redis-backed when available, else in-process.
	var backend presence.Backend
	if cfg.Redis.Addr != "" {
		rdb, err := storage.OpenRedis(storage.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			logger.Error("redis unavailable", zap.Error(err))
			os.Exit(1)
		}
		defer func() { _ = rdb.Close() }()
		backend = presence.NewRedisBackend(rdb)
	} else {
		logger.Warn("no redis configured, presence is node-local")
		backend = presence.NewMemBackend()
	}
	tracker := presence.NewTracker(backend, cfg.Presence.TTL, cfg.Presence.TTL/4)
	defer tracker.Close()

	pub := realtime.NewPublisher(eventBus)
	msgSvc := message.NewService(store, gen, pub).WithAnnouncer(pub)
	notifySvc := notify.NewService(settings, store)

	fanout := realtime.NewFanout(8, 4096)
	hub := realtime.NewHub(fanout)
	cancelBus, err := hub.AttachBus(eventBus)
	if err != nil {
		logger.Error("bus subscribe failed", zap.Error(err))
		os.Exit(1)
	}
	defer cancelBus()

	var resolver *blob.Resolver
	if cfg.Blob.SignerURL != "" {
		provider := blob.NewHTTPProvider(cfg.Blob.SignerURL)
		resolver = blob.NewResolver(provider, cfg.Blob.Buckets, cfg.Blob.SignTTL)
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	authed := mid.RouteOpt{IsAuth: true, Auth: authOpts}
	message.NewHandler(msgSvc).Register(r, authed)
	notify.NewHandler(notifySvc).Register(r, authed)
	if resolver != nil {
		blob.NewHandler(resolver).Register(r, authed)
	}
	realtime.NewServer(hub, msgSvc, tracker, pub, authOpts, gen).Register(r)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		logger.Info("listening", zap.String("addr", cfg.HTTPAddr), zap.String("node", cfg.NodeID))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutCtx)
}
