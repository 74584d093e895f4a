package presenter

import (
	"context"

	"go.uber.org/zap"
)

type stubSender struct {
	platforms []string
	logger    *zap.Logger
}

// NewStubSender возвращает отправитель, который только логирует уведомления.
func NewStubSender(logger *zap.Logger, platforms ...string) PlatformSender {
	return &stubSender{platforms: platforms, logger: logger.Named("stub_sender")}
}

func (s *stubSender) Platforms() []string { return s.platforms }

func (s *stubSender) Send(_ context.Context, tokens []string, msg Message) ([]string, error) {
	s.logger.Info("ЗАГЛУШКА: отправка уведомления",
		zap.Strings("platforms", s.platforms),
		zap.Int("tokens", len(tokens)),
		zap.String("title", msg.Title),
		zap.String("body", msg.Body),
		zap.Any("data", msg.Data),
	)
	return nil, nil
}
