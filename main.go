package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"storefront-service/cart"
	"storefront-service/catalog"
	"storefront-service/checkout"
	"storefront-service/config"
	"storefront-service/consumers"
	"storefront-service/controllers"
	"storefront-service/database"
	"storefront-service/middlewares"
	"storefront-service/orders"
	"storefront-service/profile"
	"storefront-service/rabbitmq"
	"storefront-service/stock"
	"storefront-service/utils"
)

func main() {
	// 加载配置
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Config loading failed: %v", err)
	}

	logger, err := utils.NewLogger(cfg.Development())
	if err != nil {
		log.Fatalf("Logger initialization failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET is empty; every token will be rejected")
	}

	if cfg.TraceStdout {
		shutdownTracing, err := utils.InitTracing(os.Stdout)
		if err != nil {
			logger.Fatal("tracing initialization failed", zap.Error(err))
		}
		defer func() { _ = shutdownTracing(context.Background()) }()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 初始化数据库
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("store initialization failed", zap.Error(err))
	}
	defer closeStore()

	stockManager := stock.NewManager(store, logger)
	defer stockManager.Close()
	watchCatalogue(ctx, store, stockManager, logger)
	// stock changes made here are read back from the store, not the cache
	adjuster := stockManager.Adjusting(store)

	persister, closeRedis := openPersister(ctx, cfg, logger)
	defer closeRedis()

	// 初始化RabbitMQ
	var publisher *rabbitmq.RabbitMQ
	if cfg.RabbitMQURL != "" {
		publisher = startMessaging(cfg, store, adjuster, logger)
		if publisher != nil {
			defer publisher.Close()
		}
	}

	assemblerOpts := []checkout.AssemblerOption{
		checkout.WithParallelism(cfg.MaxParallelGroups),
		checkout.WithGroupObserver(middlewares.RecordGroupOutcome),
	}
	var orderPublisher orders.Publisher
	if publisher != nil {
		assemblerOpts = append(assemblerOpts, checkout.WithPublisher(publisher, cfg.ReconcileDelay))
		orderPublisher = publisher
	}

	carts := cart.NewRegistry(persister, stockManager, logger)
	validator := checkout.NewValidator(store, stockManager, cfg.PerItemCoverage, logger)
	assembler := checkout.NewAssembler(store, adjuster, logger, assemblerOpts...)
	sessionCfg := checkout.SessionConfig{
		CancellationEnabled: cfg.CancellationEnabled,
		ProcessingWindow:    cfg.ProcessingWindow,
		DispatchDelay:       cfg.DispatchDelay,
		RedirectCountdown:   cfg.RedirectCountdown,
	}
	recordTransition := func(t checkout.Transition) {
		middlewares.RecordCheckoutTransition(string(t.From), string(t.To), t.Reason)
	}
	sessions := checkout.NewSessions(func(ctx context.Context, deviceID string, form checkout.FormFactor) (*checkout.Session, error) {
		c, err := carts.Get(ctx, deviceID)
		if err != nil {
			return nil, err
		}
		scfg := sessionCfg
		scfg.FormFactor = form
		return checkout.NewSession(scfg, c, validator, assembler, logger.With(zap.String("device_id", deviceID)), recordTransition), nil
	})
	defer sessions.Close()
	go evictIdleDevices(ctx, sessions, carts, cfg.DeviceIdleTTL, logger)

	orderService := orders.NewService(store, adjuster, orderPublisher, logger)
	profiles := profile.NewService(store, logger)

	if !cfg.Development() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	controllers.RegisterRoutes(r, cfg.JWTSecret, controllers.Handlers{
		Products: controllers.NewProductController(catalog.New(store, stockManager, logger), profiles),
		Profile:  controllers.NewProfileController(profiles),
		Cart:     controllers.NewCartController(carts, store),
		Checkout: controllers.NewCheckoutController(sessions),
		Orders:   controllers.NewOrderController(orderService, logger),
	})

	// 启动服务器
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("storefront service starting", zap.String("addr", cfg.HTTPAddr), zap.String("backend", cfg.Backend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (database.Store, func(), error) {
	if cfg.Backend == "memory" {
		logger.Warn("using in-memory store; data is lost on restart")
		return database.NewMemoryStore(), func() {}, nil
	}
	db, err := database.InitDB(ctx, cfg.DSN())
	if err != nil {
		return nil, nil, err
	}
	s := database.NewMySQLStore(db, cfg.StockPollInterval, logger)
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, nil, err
	}
	return s, func() {
		if err := s.Close(); err != nil {
			logger.Warn("failed to close database", zap.Error(err))
		}
	}, nil
}

// openPersister keeps carts in Redis when it answers and in process memory
// otherwise.
func openPersister(ctx context.Context, cfg *config.Config, logger *zap.Logger) (cart.Persister, func()) {
	if cfg.RedisAddr == "" {
		return cart.NewMemoryPersister(), func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unavailable, carts kept in memory", zap.Error(err))
		_ = client.Close()
		return cart.NewMemoryPersister(), func() {}
	}
	return cart.NewRedisPersister(client, cfg.CartTTL), func() { _ = client.Close() }
}

// startMessaging sets up the order queues and the consumer. The service
// keeps running without events when the broker is down.
func startMessaging(cfg *config.Config, store database.Store, adjuster stock.Adjuster, logger *zap.Logger) *rabbitmq.RabbitMQ {
	rmq, err := rabbitmq.NewRabbitMQ(cfg, logger)
	if err != nil {
		logger.Warn("rabbitmq unavailable, order events disabled", zap.Error(err))
		return nil
	}

	// 设置队列和交换机
	if err := rmq.SetupQueues(); err != nil {
		logger.Warn("failed to setup rabbitmq queues, order events disabled", zap.Error(err))
		rmq.Close()
		return nil
	}

	// 启动消息消费者
	consumer := consumers.NewOrderConsumer(store, adjuster, nil, logger)
	if err := consumer.Start(rmq.Channel, cfg); err != nil {
		logger.Warn("order consumer not started", zap.Error(err))
	}
	return rmq
}

func watchCatalogue(ctx context.Context, products database.ProductRepository, m *stock.Manager, logger *zap.Logger) {
	list, err := products.ListProducts(ctx, "")
	if err != nil {
		logger.Warn("failed to list products for stock watch", zap.Error(err))
		return
	}
	ids := make([]string, 0, len(list))
	for _, p := range list {
		ids = append(ids, p.ID)
	}
	if len(ids) == 0 {
		return
	}
	if err := m.Watch(ctx, ids); err != nil {
		logger.Warn("stock watch not started", zap.Error(err))
	}
}

// evictIdleDevices drops carts and checkout sessions nobody has touched for
// idle. Evicted carts reload from the persister on the next request.
func evictIdleDevices(ctx context.Context, sessions *checkout.Sessions, carts *cart.Registry, idle time.Duration, logger *zap.Logger) {
	if idle <= 0 {
		return
	}
	ticker := time.NewTicker(idle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s, c := sessions.Sweep(idle, carts)
			if s+c > 0 {
				logger.Info("evicted idle devices", zap.Int("sessions", s), zap.Int("carts", c))
			}
		}
	}
}
