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

	"checkout-service/config"
	"checkout-service/internal/api"
	"checkout-service/internal/broker"
	"checkout-service/internal/payment"
	"checkout-service/internal/redisclient"
	"checkout-service/internal/service"
	"checkout-service/internal/shipping"
	"checkout-service/internal/store"
	"checkout-service/internal/util"
	"checkout-service/internal/worker"

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
	logger.Info("Starting checkout service")

	tp, err := util.InitTracer("checkout-service", cfg.Observ.JaegerEndpoint)
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

	if cfg.Database.RunMigrations {
		if err := db.RunMigrations(); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}
		logger.Info("Migrations applied")
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	orderProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer orderProducer.Close()
	notificationProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotification)
	defer notificationProducer.Close()
	logger.Info("Kafka producers initialized")

	eventPublisher := broker.NewEventPublisher(orderProducer)
	notifier := broker.NewNotificationDispatcher(notificationProducer)
	defer notifier.Close()

	estimator := shipping.NewEstimator(shipping.Config{
		BaseURL:   cfg.Shipping.OSRMBaseURL,
		Store:     shipping.Coordinate{Lat: cfg.Shipping.StoreLat, Lng: cfg.Shipping.StoreLng},
		RatePerKm: cfg.Shipping.RatePerKm,
		Timeout:   cfg.Shipping.Timeout,
		CacheTTL:  cfg.Shipping.QuoteTTL,
	}, util.NewHTTPClient(cfg.Shipping.Timeout), redisClient)

	gateways := payment.NewRegistry(
		payment.NewCOD(),
		payment.NewVNPay(payment.VNPayConfig{
			TmnCode:    cfg.VNPay.TmnCode,
			HashSecret: cfg.VNPay.HashSecret,
			PayURL:     cfg.VNPay.PayURL,
			ReturnURL:  cfg.VNPay.ReturnURL,
		}),
		payment.NewMoMo(payment.MoMoConfig{
			PartnerCode: cfg.MoMo.PartnerCode,
			AccessKey:   cfg.MoMo.AccessKey,
			SecretKey:   cfg.MoMo.SecretKey,
			Endpoint:    cfg.MoMo.Endpoint,
			RedirectURL: cfg.MoMo.RedirectURL,
			IpnURL:      cfg.MoMo.IpnURL,
		}, util.NewHTTPClient(cfg.MoMo.Timeout)),
	)

	notices := service.OrderNotices{
		AdminChannel: cfg.Business.AdminNotifyChannel,
		LinkFormat:   cfg.Business.OrderDetailsLinkFmt,
	}

	cartService := service.NewCartService(db)
	checkoutService := service.NewCheckoutService(db, redisClient, estimator, eventPublisher, notifier, service.CheckoutConfig{
		PointValue: cfg.Business.PointValue,
		LockTTL:    cfg.Business.CheckoutLockTTL,
		Notices:    notices,
	})
	reconciliationService := service.NewReconciliationService(db, gateways, redisClient, eventPublisher, notifier, service.ReconciliationConfig{
		PaymentExpiry:  cfg.Business.PaymentExpiry,
		PointsEarnUnit: cfg.Business.PointsEarnUnit,
		MarkerTTL:      cfg.Business.CallbackMarkerTTL,
		Notices:        notices,
	})
	paymentService := service.NewPaymentService(db, gateways, reconciliationService, cfg.Business.PaymentExpiry)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	notificationConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotification, cfg.Kafka.ConsumerGroup)
	notificationWorker := worker.NewNotificationWorker(notificationConsumer, db)
	go func() {
		if err := notificationWorker.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Notification worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(cartService, checkoutService, paymentService, reconciliationService, db)
	handler.SetAdminToken(cfg.Server.AdminToken)
	if cfg.Server.AdminToken == "" {
		logger.Warn("ADMIN_API_TOKEN is not set, admin routes are disabled")
	}
	handler.AddReadinessCheck("postgres", db.Ping)
	handler.AddReadinessCheck("redis", func(ctx context.Context) error {
		return redisClient.GetClient().Ping(ctx).Err()
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
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

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := notificationWorker.Stop(); err != nil {
		logger.Warn("Failed to stop notification worker", zap.Error(err))
	}

	logger.Info("Server exited")
}
