package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/chatkeep/internal/ai"
	"github.com/suPer8Hu/chatkeep/internal/auth"
	"github.com/suPer8Hu/chatkeep/internal/chat"
	"github.com/suPer8Hu/chatkeep/internal/completion"
	"github.com/suPer8Hu/chatkeep/internal/config"
	"github.com/suPer8Hu/chatkeep/internal/db"
	"github.com/suPer8Hu/chatkeep/internal/httpapi"
	"github.com/suPer8Hu/chatkeep/internal/httpapi/handlers"
	"github.com/suPer8Hu/chatkeep/internal/logger"
	"github.com/suPer8Hu/chatkeep/internal/store/rabbitmq"
	"github.com/suPer8Hu/chatkeep/internal/store/redisstore"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	gdb, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Fatal("db connect failed", "driver", cfg.DBDriver, "err", err)
	}
	if err := chat.Migrate(gdb); err != nil {
		log.Fatal("migrate failed", "err", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		log.Fatal("db pool failed", "err", err)
	}
	defer sqlDB.Close()

	creds, err := auth.LoadCredentials(cfg.CredentialsFile, os.Getenv)
	if err != nil {
		log.Fatal("load credentials failed", "file", cfg.CredentialsFile, "err", err)
	}
	if creds.Len() == 0 {
		log.Warn("no users configured, every login will fail")
	}

	ctx := context.Background()

	var rds *redisstore.Store
	if cfg.RedisAddr != "" {
		rds, err = redisstore.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Fatal("redis connect failed", "addr", cfg.RedisAddr, "err", err)
		}
		defer rds.Close()
	}

	var pub *rabbitmq.Publisher
	if cfg.RabbitURL != "" {
		pub, err = rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Fatal("rabbit connect failed", "queue", cfg.RabbitQueue, "err", err)
		}
		defer pub.Close()
	}

	repo := chat.NewRepo(gdb)
	retention := chat.NewRetention(repo, cfg.ChatRetentionLimit, log)
	chats := chat.NewService(repo, retention, cfg.DefaultModel, log)

	reg := ai.DefaultRegistry(ai.Endpoints{
		RedPillEndpoint: cfg.RedPillEndpoint,
		RedPillAPIKey:   cfg.RedPillAPIKey,
		OllamaBaseURL:   cfg.OllamaBaseURL,
	})
	// async needs both a job store and a queue
	var jobs completion.JobStore
	var queue completion.Publisher
	if rds != nil && pub != nil {
		jobs, queue = rds, pub
	}
	comp := completion.NewService(reg, cfg.AIProvider, cfg.DefaultModel, jobs, queue, log)

	h := handlers.NewHandler(cfg, log, creds, chats, comp)
	h.Checks["db"] = func(ctx context.Context) error { return sqlDB.PingContext(ctx) }
	if rds != nil {
		h.Revoker = rds
		h.Limiter = rds
		h.Checks["redis"] = rds.Ping
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(h),
		ReadHeaderTimeout: 10 * time.Second,
		// above the 30s provider timeout so /send_message can finish
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server started",
			"addr", cfg.HTTPAddr,
			"env", cfg.Env,
			"db", cfg.DBDriver,
			"provider", cfg.AIProvider,
			"retention", retention.Limit(),
			"async", comp.AsyncEnabled(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen failed", "err", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("forced shutdown", "err", err)
	}
}
