package messaging

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Connect подключается к RabbitMQ, повторяя попытки с задержкой retryDelay.
func Connect(ctx context.Context, uri string, maxRetries int, retryDelay time.Duration, logger *zap.Logger) (*amqp.Connection, error) {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		conn, err := amqp.Dial(uri)
		if err == nil {
			logger.Info("Подключение к RabbitMQ успешно установлено", zap.Int("attempt", attempt))
			go watchClose(conn, logger)
			return conn, nil
		}
		lastErr = err
		logger.Warn("Не удалось подключиться к RabbitMQ, повторная попытка...",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxRetries),
			zap.Duration("delay", retryDelay),
			zap.Error(err),
		)
		if attempt == maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
		}
	}
	return nil, fmt.Errorf("не удалось подключиться к RabbitMQ после %d попыток: %w", maxRetries, lastErr)
}

func watchClose(conn *amqp.Connection, logger *zap.Logger) {
	closeErr := <-conn.NotifyClose(make(chan *amqp.Error, 1))
	if closeErr != nil {
		logger.Error("Соединение с RabbitMQ разорвано", zap.Error(closeErr))
	}
}
