package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"cubechat/internal/app"
	"cubechat/internal/config"
	"cubechat/internal/identity"
	"cubechat/internal/ratelimit"
	"cubechat/internal/server"
	"cubechat/internal/util"
	"cubechat/pkg/activity"
	"cubechat/pkg/github"
	"cubechat/pkg/realtime"
	"cubechat/pkg/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		log.Fatalf("failed to parse session TTL: %v", err)
	}
	sendWindow, err := config.ParseSendLimitWindow(cfg.SendLimitWindow)
	if err != nil {
		log.Fatalf("failed to parse send limit window: %v", err)
	}
	proxies, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	dataStore, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init postgres store: %v", err)
	}
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	feed, err := realtime.NewFeed(redisClient, dataStore, dataStore)
	if err != nil {
		log.Fatalf("failed to init realtime feed: %v", err)
	}
	sessions, err := store.NewSessionStore(redisClient, cfg.SessionSecret, sessionTTL)
	if err != nil {
		log.Fatalf("failed to init session store: %v", err)
	}
	sendLimiter, err := ratelimit.New(redisClient, "cubechat:rate:send", cfg.SendLimit, sendWindow)
	if err != nil {
		log.Fatalf("failed to init rate limiter: %v", err)
	}

	// With an AMQP broker configured, activity updates flow through the queue
	// and a local worker applies them; otherwise they hit the store directly.
	var recorder activity.Recorder
	var worker *activity.Worker
	if cfg.AMQPURL != "" {
		amqpRecorder, err := activity.NewAMQPRecorder(cfg.AMQPURL, "")
		if err != nil {
			log.Fatalf("failed to init amqp recorder: %v", err)
		}
		defer amqpRecorder.Close()
		worker, err = activity.NewWorker(cfg.AMQPURL, "", dataStore)
		if err != nil {
			log.Fatalf("failed to init amqp worker: %v", err)
		}
		defer worker.Close()
		recorder = amqpRecorder
	} else {
		recorder = activity.NewStoreRecorder(dataStore)
	}

	appCore, err := app.New(app.Config{
		Store:              dataStore,
		Feed:               feed,
		Activity:           recorder,
		Sessions:           sessions,
		GitHub:             github.NewClient(""),
		Redis:              redisClient,
		GitHubClientID:     cfg.GitHubClientID,
		GitHubClientSecret: cfg.GitHubClientSecret,
		GitHubRedirectURL:  cfg.GitHubRedirectURL,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer := server.New(server.Config{
		App:         appCore,
		Resolver:    identity.NewResolver(dataStore),
		Feed:        feed,
		SendLimiter: sendLimiter,
		Proxies:     proxies,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No write timeout: the realtime stream holds connections open.
		IdleTimeout: 60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	if worker != nil {
		group.Go(func() error {
			return worker.Run(ctx)
		})
	}
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
}
