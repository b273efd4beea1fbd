package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/velonix/chatlytics/internal/analytics"
	"github.com/velonix/chatlytics/internal/config"
	"github.com/velonix/chatlytics/internal/db"
	"github.com/velonix/chatlytics/internal/store/rabbitmq"
	"github.com/velonix/chatlytics/internal/store/redisstore"
	"github.com/velonix/chatlytics/internal/tenant"
)

func main() {
	runNow := flag.Bool("now", false, "run today's rollup once and exit")
	trigger := flag.Bool("trigger", false, "publish a rollup trigger and exit (for cron)")
	date := flag.String("date", "", "rollup date YYYY-MM-DD (default today, UTC)")
	flag.Parse()

	cfg := config.Load()

	if *trigger {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Fatalf("rabbit dial: %v", err)
		}
		defer pub.Close()
		if err := pub.PublishTrigger(context.Background(), *date); err != nil {
			log.Fatalf("publish trigger: %v", err)
		}
		log.Printf("rollup trigger published queue=%s date=%q", cfg.RabbitQueue, *date)
		return
	}

	gdb := db.Connect(cfg.DBDSN)
	if err := db.Migrate(gdb); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.StreamName, cfg.ConsumerGroup)
	defer rds.Close()

	job := analytics.NewRollup(tenant.NewRepo(gdb), rds, analytics.NewRepo(gdb))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *runNow {
		day, err := parseDate(*date)
		if err != nil {
			log.Fatalf("bad -date: %v", err)
		}
		report, err := job.RunDaily(ctx, day)
		if err != nil {
			log.Fatalf("rollup: %v", err)
		}
		logReport(report)
		if !report.OK() {
			os.Exit(1)
		}
		return
	}

	// Queue mode: consume durable triggers. The rollup is idempotent per
	// (tenant, date), so a redelivered trigger never double counts.
	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("rabbit dial: %v", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatalf("rabbit channel: %v", err)
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		log.Fatalf("queue declare: %v", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		log.Fatalf("qos: %v", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	log.Printf("rollup worker started, queue=%s", cfg.RabbitQueue)

	for {
		select {
		case <-ctx.Done():
			log.Printf("rollup worker shutting down")
			return

		case d, ok := <-msgs:
			if !ok {
				log.Printf("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}

			var m rabbitmq.TriggerMessage
			if err := json.Unmarshal(d.Body, &m); err != nil {
				log.Printf("bad trigger message: %v", err)
				_ = d.Nack(false, false)
				continue
			}

			day, err := parseDate(m.RunDate)
			if err != nil {
				log.Printf("bad trigger date %q: %v", m.RunDate, err)
				_ = d.Nack(false, false)
				continue
			}

			report, err := job.RunDaily(ctx, day)
			if err != nil {
				log.Printf("rollup run failed: %v", err)
				_ = d.Nack(false, false)
				continue
			}

			// Per-tenant failures are reported, not retried via the queue;
			// a manual re-trigger for the same date only touches the
			// tenants that failed.
			logReport(report)
			if err := d.Ack(false); err != nil {
				log.Printf("ack failed: %v", err)
			}
		}
	}
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC(), nil
	}
	return time.Parse("2006-01-02", s)
}

func logReport(r *analytics.RollupReport) {
	log.Printf("rollup report date=%s ok=%d skipped=%d failed=%d",
		r.Date.Format("2006-01-02"), len(r.RolledUp), len(r.Skipped), len(r.Failures))
	for _, f := range r.Failures {
		log.Printf("rollup failure tenant=%s err=%v", f.APIKey, f.Err)
	}
}
