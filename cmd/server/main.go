package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"push-relay/internal/config"
	deliveryhttp "push-relay/internal/delivery/http"
	"push-relay/internal/delivery/websocket"
	"push-relay/internal/messaging"
	"push-relay/internal/presenter"
	"push-relay/internal/relay"
	"push-relay/pkg/auth"
	"push-relay/pkg/logger"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации (по умолчанию config.yml)")
	flag.Parse()

	// Загружаем .env файл (если есть) для локальной разработки
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	logCfg := logger.Config{Level: cfg.Log.Level, Encoding: cfg.Log.Encoding}
	zapLogger, err := logger.New(logCfg)
	if err != nil {
		log.Fatalf("Не удалось инициализировать логгер: %v", err)
	}
	defer func() { _ = zapLogger.Sync() }()
	zap.ReplaceGlobals(zapLogger)
	wsLogger := logger.NewZerolog(logCfg, os.Stdout)

	zapLogger.Info("Запуск push-relay...", zap.String("env", cfg.Env), zap.String("port", cfg.Server.Port))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	verifier, err := auth.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.InterServiceSecret, zapLogger)
	if err != nil {
		zapLogger.Fatal("Ошибка инициализации JWT verifier", zap.Error(err))
	}

	// --- RabbitMQ (необязателен) ---
	var rabbitConn *amqp.Connection
	if cfg.RabbitMQ.URI != "" {
		rabbitConn, err = messaging.Connect(ctx, cfg.RabbitMQ.URI, cfg.RabbitMQ.MaxRetries, 5*time.Second, zapLogger)
		if err != nil {
			zapLogger.Fatal("Не удалось подключиться к RabbitMQ", zap.Error(err))
		}
		defer rabbitConn.Close()
	} else {
		zapLogger.Warn("RABBITMQ_URI не задан, push-сообщения принимаются только по HTTP")
	}

	// --- Redis (необязателен) ---
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			zapLogger.Fatal("Не удалось подключиться к Redis", zap.Error(err), zap.String("addr", cfg.Redis.Addr))
		}
		defer redisClient.Close()
		zapLogger.Info("Подключено к Redis", zap.String("addr", cfg.Redis.Addr))
	}

	notificationPresenter := buildPresenter(ctx, cfg, redisClient, rabbitConn, zapLogger)

	// --- Relay ---
	metrics := relay.NewMetrics(prometheus.DefaultRegisterer)
	manager := websocket.NewConnectionManager(wsLogger)
	defer manager.Stop()

	r := relay.New(manager, notificationPresenter, zapLogger, metrics, relay.Options{
		MissingNotification: relay.MissingNotificationPolicy(cfg.Relay.MissingNotification),
	})
	clicks := relay.NewClickHandler(zapLogger, metrics)

	// --- AMQP consumer ---
	var consumer *messaging.Consumer
	consumerDone := make(chan struct{})
	if rabbitConn != nil {
		processor := messaging.NewProcessor(zapLogger, r, cfg.Relay.SummaryField, cfg.Relay.ProcessTimeout)
		consumer, err = messaging.NewConsumer(rabbitConn, zapLogger, cfg.RabbitMQ.PushQueueName, cfg.RabbitMQ.WorkerConcurrency, processor)
		if err != nil {
			zapLogger.Fatal("Не удалось создать консьюмер", zap.Error(err))
		}
		go func() {
			defer close(consumerDone)
			err := consumer.Start()
			if err != nil {
				zapLogger.Error("Консьюмер остановился с ошибкой", zap.Error(err))
			}
			// Без консьюмера сервис не получает push-сообщения из очереди, завершаемся.
			stop()
		}()
	} else {
		close(consumerDone)
	}

	// --- HTTP ---
	wsHandler := websocket.NewHandler(manager, verifier, clicks, cfg.Server.CORSAllowedOrigins, wsLogger)
	httpHandler := deliveryhttp.New(r, clicks, cfg.Relay.SummaryField, cfg.Relay.ProcessTimeout, cfg.Server.PushWaitTimeout, zapLogger)
	routerCfg := deliveryhttp.RouterConfig{
		Development:    cfg.IsDevelopment(),
		AllowedOrigins: cfg.Server.CORSAllowedOrigins,
		EnableMetrics:  cfg.Server.EnableMetrics,
		RateLimit:      cfg.Server.RateLimitPerMinute,
	}
	if redisClient != nil {
		routerCfg.RedisClient = redisClient
	}
	router := deliveryhttp.NewRouter(routerCfg, httpHandler, wsHandler.ServeWS, verifier, zapLogger)

	srv := &http.Server{
		Addr:        ":" + cfg.Server.Port,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	go func() {
		zapLogger.Info("HTTP сервер слушает", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Error("Ошибка HTTP сервера", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	zapLogger.Info("Получен сигнал завершения, начинаем graceful shutdown...")

	if consumer != nil {
		consumer.Stop()
	}
	<-consumerDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("HTTP сервер остановлен принудительно", zap.Error(err))
	}

	zapLogger.Info("push-relay остановлен")
}

// buildPresenter собирает отправителей по платформам. Не настроенные платформы обслуживаются заглушками.
func buildPresenter(ctx context.Context, cfg *config.Config, redisClient *redis.Client, rabbitConn *amqp.Connection, zapLogger *zap.Logger) *presenter.PlatformPresenter {
	var tokenProvider presenter.TokenProvider
	if redisClient != nil {
		tokenProvider = presenter.NewRedisTokenProvider(redisClient, zapLogger)
	} else {
		httpClient := &http.Client{Timeout: cfg.TokenService.Timeout}
		tokenProvider = presenter.NewHTTPTokenProvider(httpClient, cfg.TokenService.URL, cfg.Auth.InterServiceSecret, zapLogger)
	}

	var (
		senders []presenter.PlatformSender
		opts    []presenter.Option
	)

	fcmSender, err := presenter.NewFCMSender(ctx, cfg.FCM, zapLogger)
	if err != nil {
		zapLogger.Fatal("Ошибка инициализации FCM Sender", zap.Error(err))
	}
	if fcmSender != nil {
		senders = append(senders, fcmSender)
		if cfg.FCM.BroadcastTopic != "" {
			opts = append(opts, presenter.WithBroadcast(cfg.FCM.BroadcastTopic, fcmSender))
		}
	} else {
		senders = append(senders, presenter.NewStubSender(zapLogger, presenter.PlatformAndroid, presenter.PlatformWeb))
	}

	apnsSender, err := presenter.NewAPNSSender(cfg.APNS, zapLogger)
	if err != nil {
		zapLogger.Fatal("Ошибка инициализации APNS Sender", zap.Error(err))
	}
	if apnsSender != nil {
		senders = append(senders, apnsSender)
	} else {
		senders = append(senders, presenter.NewStubSender(zapLogger, presenter.PlatformIOS))
	}

	if rabbitConn != nil {
		publisher, err := messaging.NewTokenDeletionPublisher(rabbitConn, cfg.RabbitMQ.TokenDeletionQueueName, zapLogger)
		if err != nil {
			zapLogger.Fatal("Не удалось создать TokenDeletionPublisher", zap.Error(err))
		}
		opts = append(opts, presenter.WithInvalidTokenReporter(publisher))
	}

	return presenter.NewPlatformPresenter(tokenProvider, zapLogger, senders, opts...)
}
