package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"order-fulfillment/config"
	"order-fulfillment/internal/api"
	"order-fulfillment/internal/broker"
	"order-fulfillment/internal/pricing"
	"order-fulfillment/internal/redisclient"
	"order-fulfillment/internal/service"
	"order-fulfillment/internal/store"
	"order-fulfillment/internal/util"
	"order-fulfillment/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting order fulfillment service")

	tp, err := util.InitTracer(cfg.Observ.ServiceName, cfg.Observ.JaegerEndpoint, cfg.Observ.TraceSampleRatio)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	orderProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrderEvents)
	defer orderProducer.Close()
	notificationProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications)
	defer notificationProducer.Close()
	paymentProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicPaymentEvents)
	defer paymentProducer.Close()
	logger.Info("Kafka producers initialized")

	eventPublisher := broker.NewEventPublisher(orderProducer, paymentProducer)
	notifier := broker.NewNotificationPublisher(notificationProducer)

	inventoryClient := service.NewInventoryClient(db, redisClient)
	paymentGateway := service.NewPaymentGateway(db, cfg.Business.PaymentSuccessRate, cfg.Business.PaymentMaxLatency)

	ruleStore := redisclient.NewCachedRuleStore(redisClient.GetClient(), db, cfg.Business.DiscountCacheTTL)
	pricer := pricing.NewPricer(
		pricing.NewDiscountEngine(ruleStore),
		pricing.NewShippingCalculator(cfg.Business.ShippingStandardFee, cfg.Business.ShippingFreeThreshold),
	)

	fulfillment := service.NewFulfillmentService(db, inventoryClient, paymentGateway, notifier,
		service.WithStatusPublisher(eventPublisher),
		service.WithDependencyTimeout(cfg.Business.DependencyTimeout),
		service.WithCompensationTimeout(cfg.Business.CompensationTimeout),
	)
	orderService := service.NewOrderService(pricer, db, fulfillment, redisClient)

	ctx := context.Background()
	if err := inventoryClient.SyncInventoryToRedis(ctx); err != nil {
		logger.Error("Failed to sync inventory to Redis", zap.Error(err))
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	settlementConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicPaymentEvents, cfg.Kafka.ConsumerGroup)
	settlementWorker := worker.NewSettlementWorker(settlementConsumer, fulfillment, inventoryClient, db)
	go func() {
		if err := settlementWorker.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Settlement worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	handler := api.NewHandler(orderService, fulfillment,
		api.WithOrderLister(db),
		api.WithSettlementPublisher(eventPublisher),
		api.WithRuleAdmin(db, ruleStore),
		api.WithReadinessCheck("postgres", db.Ping),
		api.WithReadinessCheck("redis", redisClient.Ping),
	)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := settlementWorker.Stop(); err != nil {
		logger.Error("Failed to stop settlement worker", zap.Error(err))
	}
	inventoryClient.Wait()

	logger.Info("Server exited")
}
