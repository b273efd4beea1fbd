package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/velonix/chatlytics/internal/analytics"
	"github.com/velonix/chatlytics/internal/config"
	"github.com/velonix/chatlytics/internal/db"
	"github.com/velonix/chatlytics/internal/store/redisstore"
)

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func main() {
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)
	if err := db.Migrate(gdb); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	repo := analytics.NewRepo(gdb)

	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.StreamName, cfg.ConsumerGroup)
	defer rds.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rds.Ping(ctx); err != nil {
		log.Fatalf("redis ping: %v", err)
	}

	concurrency := workerConcurrency()
	log.Printf("worker started, stream=%s group=%s concurrency=%d", cfg.StreamName, cfg.ConsumerGroup, concurrency)

	// Each instance joins the same group under its own consumer name, so the
	// log spreads entries across them without duplication. Entries pending on
	// a crashed instance are reclaimed by a surviving one.
	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		name := cfg.ConsumerName
		if concurrency > 1 {
			name = fmt.Sprintf("%s-%d", cfg.ConsumerName, i)
		}
		consumer := analytics.NewConsumer(rds, repo, name,
			cfg.BatchSize, cfg.BlockTimeout, cfg.ReclaimIdle, cfg.MaxDeliveries)

		go func() {
			defer wg.Done()
			if err := consumer.Run(ctx); err != nil {
				log.Printf("consumer %s exited: %v", name, err)
			}
		}()
	}

	wg.Wait()
	log.Printf("worker shut down")
}
