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

	"sambatan-service/config"
	"sambatan-service/internal/api"
	"sambatan-service/internal/broker"
	"sambatan-service/internal/fulfillment"
	"sambatan-service/internal/redisclient"
	"sambatan-service/internal/sambatan"
	"sambatan-service/internal/service"
	"sambatan-service/internal/store"
	"sambatan-service/internal/util"
	"sambatan-service/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting sambatan service")

	tp, err := util.InitTracer("sambatan-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicSambatan)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	rules := fulfillment.Rules{
		SellerSLA:          cfg.Business.SellerSLA,
		ConfirmationGrace:  cfg.Business.ConfirmationGrace,
		AutoCompleteGrace:  cfg.Business.AutoCompleteGrace,
		MissedAcceptPolicy: cfg.Business.MissedAcceptPolicy,
		DisputeAutoResolve: cfg.Business.DisputeAutoResolve,
	}

	registry := sambatan.NewRegistry()
	ledger := fulfillment.NewLedger()
	catalogClient := service.NewCatalogClient(db, redisClient)
	fulfillmentService := service.NewFulfillmentService(ledger, catalogClient, eventPublisher, db, rules)
	poolService := service.NewPoolService(registry, fulfillmentService, catalogClient, db, redisClient, eventPublisher, cfg.Business.DefaultMinViable)
	orderService := service.NewOrderService(ledger, db, eventPublisher, rules)

	// The durable record is the recovery source; everything in memory is
	// rebuilt from it before traffic is accepted.
	ctx := context.Background()
	if err := fulfillmentService.Hydrate(ctx); err != nil {
		log.Fatalf("Failed to hydrate finalization markers: %v", err)
	}
	if err := poolService.Hydrate(ctx); err != nil {
		log.Fatalf("Failed to hydrate pool registry: %v", err)
	}
	if err := orderService.Hydrate(ctx); err != nil {
		log.Fatalf("Failed to hydrate order ledger: %v", err)
	}
	// Catch pools whose finalization was cut short by the previous shutdown
	// before the first sweep tick comes around.
	poolService.ReconcileFinalizations(ctx, time.Now())

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	paymentConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicPayment, cfg.Kafka.ConsumerGroup)
	paymentWorker := worker.NewPaymentWorker(paymentConsumer, orderService)
	go paymentWorker.Start(workerCtx)

	sweeper := worker.NewDeadlineSweeper(poolService, orderService, redisClient,
		cfg.Business.SweepInterval, cfg.Business.SweepLeaseTTL)
	go sweeper.Start(workerCtx)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(poolService, orderService, fulfillmentService, catalogClient)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	if err := paymentWorker.Stop(); err != nil {
		log.Printf("Error closing payment consumer: %v", err)
	}

	log.Println("Server exited")
}
