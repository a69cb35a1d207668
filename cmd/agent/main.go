package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fieldserve.com/fieldserve/client/engine"
	"fieldserve.com/fieldserve/client/pull"
	"fieldserve.com/fieldserve/client/queue"
	"fieldserve.com/fieldserve/client/store"
	v1 "fieldserve.com/fieldserve/syncapi/v1"
)

// Field agent daemon: keeps a local work-order replica on the device and
// syncs it against the server whenever connectivity allows.
func main() {
	dbPath := flag.String("db", "fieldserve.db", "path to the local database")
	pushInterval := flag.Duration("push-interval", 30*time.Second, "how often to drain the sync queue")
	pullInterval := flag.Duration("pull-interval", time.Minute, "how often to pull server changes")
	flag.Parse()

	baseURL := os.Getenv("FIELDSERVE_API_URL")
	token := os.Getenv("FIELDSERVE_API_TOKEN")
	tenantID := os.Getenv("FIELDSERVE_TENANT")
	if baseURL == "" || token == "" || tenantID == "" {
		log.Fatal("FIELDSERVE_API_URL, FIELDSERVE_API_TOKEN and FIELDSERVE_TENANT must be set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.OpenDB(ctx, *dbPath)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	st := store.New(db)
	q := queue.New(db)
	client := v1.NewFieldserveClient(baseURL, token)

	eng := engine.NewEngine(st, q, client.WorkOrders, tenantID)
	fetcher := pull.NewFetcher(st, client.WorkOrders, tenantID)

	go eng.Run(ctx, *pushInterval)
	go fetcher.Run(ctx, *pullInterval)
	go pruneLoop(ctx, q)

	// Push pending edits from the previous session right away.
	eng.Kick()

	log.Printf("agent running for tenant %s against %s", tenantID, baseURL)
	<-ctx.Done()
	log.Println("shutting down")
}

// pruneLoop clears synced queue items once they are a day old.
func pruneLoop(ctx context.Context, q *queue.Queue) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if n, err := q.PruneSynced(ctx, time.Now().Add(-24*time.Hour)); err != nil {
			log.Printf("queue prune failed: %v", err)
		} else if n > 0 {
			log.Printf("pruned %d synced queue items", n)
		}
	}
}
