package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"rollcall/internal/activity"
	"rollcall/internal/config"
	"rollcall/internal/notify"
	"rollcall/internal/queue"
	"rollcall/internal/roster"
	"rollcall/internal/session"
	"rollcall/internal/settings"
	"rollcall/internal/store"
)

// Worker drains session events from the queue into the notification feed and
// runs the missed-session sweep on a fixed interval.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "")
	}

	repo := session.NewRepository(db.Client)
	people := roster.NewPG(db.Client)
	engineCfg := session.LoadConfig(ctx, settings.NewPG(db.Client))
	// The sweep loop publishes its own missed-session events back to the queue.
	svc := session.NewService(repo, people, people, engineCfg,
		notify.NewPublisher(q), activity.NewPG(db.Client))

	feed := notify.NewStore(db.Client)

	go sweepLoop(ctx, svc, cfg.SweepInterval)

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for messages...")
	for msg := range messages {
		var env notify.Envelope
		if err := json.Unmarshal(msg.Body, &env); err != nil {
			log.Printf("malformed %s envelope dropped: %v", msg.Type, err)
			continue
		}
		if err := feed.Save(ctx, env); err != nil {
			log.Printf("persist %s for session %s failed: %v", env.Kind, env.SessionID, err)
			continue
		}
		log.Printf("stored %s notification for session %s", env.Kind, env.SessionID)
	}

	log.Println("worker stopped")
}

func sweepLoop(ctx context.Context, svc *session.Service, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := svc.SweepMissed(ctx); n > 0 {
				log.Printf("sweep marked %d session(s) as missed", n)
			}
		}
	}
}
