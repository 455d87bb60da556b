package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront-orders/internal/config"
	handler "storefront-orders/internal/controllers/http"
	"storefront-orders/internal/infra"
	"storefront-orders/internal/infra/idempotency"
	"storefront-orders/internal/infra/kafka"
	"storefront-orders/internal/infra/mailer"
	"storefront-orders/internal/infra/metrics"
	mmysql "storefront-orders/internal/infra/mysql"
	"storefront-orders/internal/infra/rabbitmq"
	"storefront-orders/internal/infra/telemetry"
	"storefront-orders/internal/receipt"
	mysqlrepo "storefront-orders/internal/repository/mysql"
	"storefront-orders/internal/services"

	"github.com/gin-gonic/gin"
	redisv8 "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	telemetry.InitLogger(slog.LevelInfo)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	db, err := mmysql.NewMySQL(cfg.MySQL)
	if err != nil {
		return err
	}

	publisher, closePublisher, err := newPublisher(cfg)
	if err != nil {
		return err
	}
	defer closePublisher()

	var notifier infra.NotifierInterface
	if cfg.MailEnabled() {
		notifier = mailer.NewSMTPSender(cfg.SMTP)
	} else {
		slog.Warn("SMTP_HOST not set, order receipts are disabled")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	users := mysqlrepo.NewUserRepository(db)
	svc := services.NewOrderService(
		mysqlrepo.NewOrderRepository(db),
		mysqlrepo.NewProductRepository(db),
		users,
		mysqlrepo.NewTransactor(db),
		notifier,
		publisher,
	)
	svc.SetReceiptRenderer(receipt.NewRenderer(cfg.StoreName, cfg.Currency))
	svc.SetMetrics(metrics.NewOrderMetrics(reg))

	cacheClient := redisv8.NewClient(&redisv8.Options{
		Addr:         cfg.RedisAddr,
		PoolSize:     50,
		MinIdleConns: 5,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})
	defer cacheClient.Close()

	idemClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer idemClient.Close()

	h := handler.NewHandler(svc, cacheClient, cfg.OrderCacheTTL, idempotency.NewStore(idemClient, idempotency.DefaultTTL))

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), telemetry.RequestLogger(), metrics.NewServerMetrics(reg, "orders").Middleware())
	r.GET("/healthz", func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler(reg)))
	h.RegisterRoutes(r, handler.RequireAuth([]byte(cfg.JWTSecret), users))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting order service", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)

		drained := make(chan struct{})
		go func() {
			svc.Wait()
			close(drained)
		}()
		select {
		case <-drained:
		case <-shutdownCtx.Done():
			slog.Warn("receipts or events still in flight at shutdown")
		}
		slog.Info("order service stopped")
		return err
	})
	return g.Wait()
}

func newPublisher(cfg *config.Config) (infra.PublisherInterface, func(), error) {
	switch cfg.EventBroker {
	case config.BrokerKafka:
		p, err := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, nil, err
		}
		return p, func() { _ = p.Close() }, nil
	case config.BrokerRabbitMQ:
		p, err := rabbitmq.NewPublisher(cfg.RabbitMQURL, cfg.OrderExchange)
		if err != nil {
			return nil, nil, err
		}
		return p, func() { _ = p.Close() }, nil
	}
	return infra.NopPublisher{}, func() {}, nil
}
