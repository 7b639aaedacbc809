package main

import (
	"context"
	"log"

	"github.com/sbtg-data/flowmirror/pkg/config"
	"github.com/sbtg-data/flowmirror/pkg/errorbus"
	"github.com/sbtg-data/flowmirror/pkg/flowerrors"
	"github.com/sbtg-data/flowmirror/pkg/lifecycle"
	"github.com/sbtg-data/flowmirror/pkg/mailbox"
	"github.com/sbtg-data/flowmirror/pkg/store"
	"github.com/sbtg-data/flowmirror/pkg/telemetry"
	"github.com/sbtg-data/flowmirror/pkg/webhook"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration from file or environment
	cfg, err := config.LoadFromFile("./cmd/flowmirror")
	if err != nil {
		log.Fatal("Error loading configuration: ", err)
	}

	// Validate the configuration
	err = cfg.Validate()
	if err != nil {
		log.Fatal("Invalid configuration: ", err)
	}

	// Initialize telemetry (tracing)
	shutdownTelemetry, err := telemetry.Init(cfg.Observability)
	if err != nil {
		log.Fatal("Failed to initialize telemetry: ", err)
	}
	defer shutdownTelemetry() // Ensure telemetry is properly shut down on exit

	// Initialize the entity stores
	stores, err := store.NewStores(ctx, cfg.Database)
	if err != nil {
		log.Fatal("Failed to initialize stores: ", err)
	}

	// Initialize the error bus
	bus, err := errorbus.NewBus(ctx, &cfg.Broker)
	if err != nil {
		log.Fatal("Failed to initialize error bus: ", err)
	}
	defer bus.Close()

	// The consumer routes inbound error events into per-user mailboxes
	mailboxStore := mailbox.NewStore()
	consumer := errorbus.NewConsumer(bus, mailboxStore)
	go func() {
		if err := consumer.Run(ctx); err != nil {
			log.Printf("Error consumer stopped: %v", err)
		}
	}()

	// Wire the lifecycle orchestrators
	gateway := webhook.NewGateway(cfg.WebhookTimeout)
	publisher := errorbus.NewPublisher(bus)
	flowService := lifecycle.NewFlowService(stores, gateway, publisher, cfg.Webhooks)
	userService := lifecycle.NewUserService(stores, flowService, gateway, publisher, cfg.Webhooks)
	errorService := flowerrors.NewService(stores, gateway, cfg.Webhooks)

	// Serve the HTTP API (blocks until the listener fails)
	router := newRouter(flowService, userService, errorService, mailboxStore)
	if err := router.Run(cfg.ListenAddr); err != nil {
		log.Fatal("HTTP server stopped: ", err)
	}
}
