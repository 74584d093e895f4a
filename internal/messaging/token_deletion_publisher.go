package messaging

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// TokenDeletionPublisher отправляет невалидные токены устройств в очередь на удаление.
type TokenDeletionPublisher struct {
	conn      *amqp.Connection
	logger    *zap.Logger
	queueName string
}

// NewTokenDeletionPublisher создает publisher и проверяет, что очередь объявлена.
func NewTokenDeletionPublisher(conn *amqp.Connection, queueName string, logger *zap.Logger) (*TokenDeletionPublisher, error) {
	if conn == nil {
		return nil, fmt.Errorf("RabbitMQ connection is nil")
	}
	p := &TokenDeletionPublisher{
		conn:      conn,
		logger:    logger.Named("TokenDeletionPublisher").With(zap.String("queue", queueName)),
		queueName: queueName,
	}
	if err := p.declareQueue(); err != nil {
		return nil, fmt.Errorf("failed to verify queue %s on init: %w", queueName, err)
	}
	return p, nil
}

func (p *TokenDeletionPublisher) declareQueue() error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	_, err = ch.QueueDeclare(
		p.queueName,
		true,  // durable (должно совпадать с consumer'ом)
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue '%s': %w", p.queueName, err)
	}
	return nil
}

// PublishTokenDeletion публикует токен в очередь для удаления.
func (p *TokenDeletionPublisher) PublishTokenDeletion(ctx context.Context, token string) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	// Имя очереди используется как routing key в default exchange.
	err = ch.PublishWithContext(ctx,
		"",
		p.queueName,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "text/plain",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         []byte(token),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish token deletion message: %w", err)
	}
	p.logger.Debug("Токен отправлен на удаление", zap.String("token_prefix", tokenPrefix(token)))
	return nil
}

func tokenPrefix(token string) string {
	const prefixLen = 10
	if len(token) < prefixLen {
		return token
	}
	return token[:prefixLen] + "..."
}
