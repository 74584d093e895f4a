package messaging

import (
	"context"
	"errors"
	"time"

	"push-relay/internal/relay"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// PayloadHandler пересылает push-сообщение и показывает уведомление.
type PayloadHandler interface {
	Handle(ctx context.Context, payload relay.PushPayload) (relay.Result, error)
}

// Processor обрабатывает одну доставку из очереди.
type Processor struct {
	logger       *zap.Logger
	handler      PayloadHandler
	summaryField string
	timeout      time.Duration
}

func NewProcessor(logger *zap.Logger, handler PayloadHandler, summaryField string, timeout time.Duration) *Processor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Processor{
		logger:       logger.Named("processor"),
		handler:      handler,
		summaryField: summaryField,
		timeout:      timeout,
	}
}

// ProcessMessage подтверждает сообщение после обработки или отклоняет его без повторной постановки в очередь.
func (p *Processor) ProcessMessage(ctx context.Context, d amqp.Delivery) {
	log := p.logger.With(zap.Uint64("delivery_tag", d.DeliveryTag))

	payload, err := relay.ParsePushPayload(d.Body, p.summaryField)
	if err != nil {
		log.Error("Ошибка разбора push-сообщения", zap.Error(err), zap.ByteString("body", d.Body))
		p.nack(log, d)
		return
	}

	processCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	result, err := p.handler.Handle(processCtx, payload)
	if err != nil {
		switch {
		case errors.Is(err, relay.ErrNotificationMissing):
			log.Warn("Push-сообщение без notification отклонено",
				zap.String("user_id", payload.UserID),
				zap.Int("forwarded", result.Forwarded))
		default:
			log.Error("Ошибка обработки push-сообщения", zap.Error(err), zap.String("user_id", payload.UserID))
		}
		p.nack(log, d)
		return
	}

	if ackErr := d.Ack(false); ackErr != nil {
		log.Error("Ошибка Ack сообщения после успешной обработки", zap.Error(ackErr))
		return
	}
	log.Debug("Сообщение обработано и подтверждено (Ack)",
		zap.String("user_id", payload.UserID),
		zap.Int("forwarded", result.Forwarded))
}

func (p *Processor) nack(log *zap.Logger, d amqp.Delivery) {
	if err := d.Nack(false, false); err != nil {
		log.Error("Ошибка Nack сообщения", zap.Error(err))
	}
}
