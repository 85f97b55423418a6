package main

import (
	"context"
	"log"

	"github.com/Nex2i/dripiq-sub001/internal/app/bootstrap"
)

// Worker process entrypoint.
// Data flow:
// 1) Load config.
// 2) Build app wiring.
// 3) Start workers (dispatcher, lease reclaimer, outbox relay, engagement consumer).
func main() {
	log.Println("dripiq outreach worker starting")
	app, err := bootstrap.BuildWorker()
	if err != nil {
		log.Fatalf("bootstrap worker failed: %v", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Printf("worker shutdown close failed: %v", err)
		}
	}()

	if err := app.Run(context.Background()); err != nil {
		log.Fatalf("dripiq outreach worker stopped with error: %v", err)
	}
}
