package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/suPer8Hu/chatkeep/internal/ai"
	"github.com/suPer8Hu/chatkeep/internal/completion"
	"github.com/suPer8Hu/chatkeep/internal/config"
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
	log = log.With("component", "worker")

	if cfg.RedisAddr == "" || cfg.RabbitURL == "" {
		log.Fatal("worker needs REDIS_ADDR and RABBIT_URL")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rds, err := redisstore.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatal("redis connect failed", "err", err)
	}
	defer rds.Close()

	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Fatal("rabbit publisher failed", "err", err)
	}
	defer pub.Close()

	// strict concurrency control
	concurrency := cfg.WorkerConcurrency

	consumer, err := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue, concurrency)
	if err != nil {
		log.Fatal("rabbit consumer failed", "err", err)
	}
	defer consumer.Close()

	msgs, err := consumer.Deliveries()
	if err != nil {
		log.Fatal("consume failed", "err", err)
	}

	reg := ai.DefaultRegistry(ai.Endpoints{
		RedPillEndpoint: cfg.RedPillEndpoint,
		RedPillAPIKey:   cfg.RedPillAPIKey,
		OllamaBaseURL:   cfg.OllamaBaseURL,
	})
	svc := completion.NewService(reg, cfg.AIProvider, cfg.DefaultModel, rds, pub, log)

	log.Info("worker started", "queue", cfg.RabbitQueue, "concurrency", concurrency, "provider", cfg.AIProvider)

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			wlog := log.With("worker", workerID)
			for d := range jobs {
				switch process(ctx, svc, pub, wlog, d.Body) {
				case ack:
					if err := d.Ack(false); err != nil {
						wlog.Warn("ack failed", "err", err)
					}
				case reject:
					_ = d.Nack(false, false)
				}
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Warn("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			jobs <- d
		}
	}
}
