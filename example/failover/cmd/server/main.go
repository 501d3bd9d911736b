package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cozyframework/database/example/failover/internal/config"
	"github.com/cozyframework/database/example/failover/internal/database"
	"github.com/cozyframework/database/example/failover/internal/telemetry"

	"go.opentelemetry.io/otel"
)

func main() {
	ctx := context.Background()

	// 1. Setup OpenTelemetry (Tracing + Metrics)
	shutdownTracing, shutdownMetrics, err := telemetry.Setup(ctx)
	if err != nil {
		log.Fatalf("Failed to setup OTel: %v", err)
	}
	defer func() {
		shutdownTracing(ctx)
		shutdownMetrics(ctx)
	}()

	// 2. Start Prometheus Metrics Server
	metricsServer := &http.Server{Addr: config.MetricsPort}
	go func() {
		log.Printf("Starting Prometheus metrics server on %s", config.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Metrics server failed: %v", err)
		}
	}()

	// 3. Seed the failover pool with the primary and replica
	cluster, err := database.New()
	if err != nil {
		log.Fatalf("Failed to build cluster: %v", err)
	}
	defer cluster.Close()

	// 4. Perform Database Operations in a Loop
	// Kill the primary while this runs to watch the pool promote the
	// replica: db_pool_active stays 1 while db_pool_candidates drops.
	tracer := otel.Tracer("example-app")

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Initial setup
	if err := cluster.CreateTable(ctx); err != nil {
		log.Printf("Failed to create table: %v", err)
	}

	ticker := time.NewTicker(time.Duration(config.OperationInterval) * time.Second)
	defer ticker.Stop()

	fmt.Println("✅ Failover example app started!")
	fmt.Println("📊 Prometheus metrics: http://localhost:2112/metrics")
	fmt.Println("🔍 Grafana UI: http://localhost:3000")
	fmt.Println("Press Ctrl+C to stop...")

	for {
		select {
		case <-ticker.C:
			ctx, span := tracer.Start(ctx, "db-operations")

			// Insert some data through a prepared statement
			if err := cluster.InsertUsers(ctx); err != nil {
				log.Printf("Failed to insert users: %v", err)
			}

			// Fetch one org grouped by region
			if _, err := cluster.UsersByRegion(ctx, "acme"); err != nil {
				log.Printf("Failed to group users: %v", err)
			}

			// Get a single user as a struct
			if _, err := cluster.GetUser(ctx, "Alice"); err != nil {
				log.Printf("Failed to get user: %v", err)
			}

			// Aggregate a column keyed by another column
			if _, err := cluster.CountByOrg(ctx); err != nil {
				log.Printf("Failed to count users: %v", err)
			}

			// Demonstrate transaction usage
			if err := cluster.InsertWithTransaction(ctx); err != nil {
				log.Printf("Failed transaction: %v", err)
			}

			span.End()
			log.Println("✓ Database operations completed")

		case <-sigChan:
			fmt.Println("\n🛑 Shutting down gracefully...")
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(ctx); err != nil {
				log.Printf("Metrics server shutdown error: %v", err)
			}
			return
		}
	}
}
