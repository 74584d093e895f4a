package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ErrDeliveryChannelClosed - брокер закрыл канал доставки без вызова Stop
// (удаление очереди, закрытие соединения). Консьюмер больше не получает сообщения.
var ErrDeliveryChannelClosed = errors.New("канал доставки RabbitMQ закрыт брокером")

// Consumer читает push-сообщения из очереди пулом воркеров.
type Consumer struct {
	conn        *amqp.Connection
	logger      *zap.Logger
	queueName   string
	consumerTag string
	concurrency int
	processor   *Processor
	stopChannel chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

func NewConsumer(conn *amqp.Connection, logger *zap.Logger, queueName string, concurrency int, processor *Processor) (*Consumer, error) {
	if conn == nil {
		return nil, fmt.Errorf("RabbitMQ connection is nil")
	}
	if concurrency <= 0 {
		return nil, fmt.Errorf("concurrency must be positive, got %d", concurrency)
	}
	return &Consumer{
		conn:        conn,
		logger:      logger.Named("consumer").With(zap.String("queue", queueName)),
		queueName:   queueName,
		consumerTag: "push-relay-consumer",
		concurrency: concurrency,
		processor:   processor,
		stopChannel: make(chan struct{}),
	}, nil
}

// Start объявляет очередь, запускает воркеры и блокируется до вызова Stop
// или закрытия канала доставки. После Stop возвращает nil, после закрытия
// канала брокером - ErrDeliveryChannelClosed.
func (c *Consumer) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("не удалось открыть канал RabbitMQ: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclare(
		c.queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("не удалось объявить очередь '%s': %w", c.queueName, err)
	}

	// Ограничиваем количество сообщений в обработке
	if err := ch.Qos(c.concurrency, 0, false); err != nil {
		return fmt.Errorf("не удалось установить QoS: %w", err)
	}

	msgs, err := ch.Consume(
		q.Name,
		c.consumerTag,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("не удалось зарегистрировать консьюмера: %w", err)
	}

	c.logger.Info("Консьюмер запущен, ожидание сообщений...", zap.Int("concurrency", c.concurrency))

	drained := make(chan struct{})
	var drainOnce sync.Once
	c.wg.Add(c.concurrency)
	for i := 0; i < c.concurrency; i++ {
		go func(workerID int) {
			defer c.wg.Done()
			logger := c.logger.With(zap.Int("worker_id", workerID))
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-msgs:
					if !ok {
						logger.Info("Канал сообщений закрыт, воркер завершает работу")
						drainOnce.Do(func() { close(drained) })
						return
					}
					c.processor.ProcessMessage(ctx, d)
				}
			}
		}(i)
	}

	var result error
	select {
	case <-c.stopChannel:
		c.logger.Info("Получен сигнал остановки")
		// После Cancel канал доставки закрывается, воркеры дорабатывают текущие сообщения.
		if err := ch.Cancel(c.consumerTag, false); err != nil {
			c.logger.Warn("Не удалось отменить консьюмера", zap.Error(err))
			cancel()
		}
	case <-drained:
		c.logger.Error("Канал доставки закрыт брокером")
		result = ErrDeliveryChannelClosed
	}

	c.wg.Wait()
	c.logger.Info("Все воркеры консьюмера остановлены")
	return result
}

// Stop останавливает Start. Повторные вызовы безопасны.
func (c *Consumer) Stop() {
	c.stopOnce.Do(func() {
		c.logger.Info("Инициирована остановка консьюмера...")
		close(c.stopChannel)
	})
}
