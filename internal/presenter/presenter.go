package presenter

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"push-relay/internal/relay"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Платформы токенов устройств.
const (
	PlatformAndroid = "android"
	PlatformIOS     = "ios"
	PlatformWeb     = "web"
)

var (
	// ErrTokenLookup - не удалось получить токены устройств пользователя.
	ErrTokenLookup = errors.New("device token lookup failed")
	// ErrSend - хотя бы одна платформа не приняла уведомление.
	ErrSend = errors.New("platform send failed")
)

// Message - видимая часть уведомления и данные для клиента.
type Message struct {
	Title string
	Body  string
	Image string
	Data  map[string]string
}

func messageFrom(n relay.DisplayNotification) Message {
	return Message{
		Title: n.Title,
		Body:  n.Options.Body,
		Image: n.Options.Image,
		Data:  n.Options.Data,
	}
}

// PlatformSender отправляет уведомление на устройства одной или нескольких платформ.
// Возвращает токены, которые платформа признала невалидными.
type PlatformSender interface {
	Send(ctx context.Context, tokens []string, msg Message) (invalid []string, err error)
	Platforms() []string
}

// TopicSender отправляет уведомление всем подписчикам топика.
type TopicSender interface {
	SendToTopic(ctx context.Context, topic string, msg Message) error
}

// InvalidTokenReporter получает токены, которые нужно удалить.
type InvalidTokenReporter interface {
	PublishTokenDeletion(ctx context.Context, token string) error
}

// Option настраивает PlatformPresenter.
type Option func(*PlatformPresenter)

// WithBroadcast включает отправку уведомлений без пользователя в топик.
func WithBroadcast(topic string, sender TopicSender) Option {
	return func(p *PlatformPresenter) {
		p.broadcastTopic = topic
		p.topicSender = sender
	}
}

// WithInvalidTokenReporter передает невалидные токены на удаление.
func WithInvalidTokenReporter(r InvalidTokenReporter) Option {
	return func(p *PlatformPresenter) { p.reporter = r }
}

// PlatformPresenter показывает уведомления через push-платформы устройств пользователя.
type PlatformPresenter struct {
	tokens         TokenProvider
	senders        map[string]PlatformSender
	reporter       InvalidTokenReporter
	broadcastTopic string
	topicSender    TopicSender
	logger         *zap.Logger
}

var _ relay.NotificationPresenter = (*PlatformPresenter)(nil)

// NewPlatformPresenter создает презентер. nil-отправители пропускаются.
func NewPlatformPresenter(tokens TokenProvider, logger *zap.Logger, senders []PlatformSender, opts ...Option) *PlatformPresenter {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &PlatformPresenter{
		tokens:  tokens,
		senders: make(map[string]PlatformSender),
		logger:  logger.Named("presenter"),
	}
	for _, s := range senders {
		if s == nil {
			continue
		}
		for _, platform := range s.Platforms() {
			p.senders[platform] = s
		}
	}
	for _, opt := range opts {
		opt(p)
	}
	for _, platform := range []string{PlatformAndroid, PlatformIOS, PlatformWeb} {
		if _, ok := p.senders[platform]; !ok {
			p.logger.Warn("Отправитель для платформы не инициализирован", zap.String("platform", platform))
		}
	}
	return p
}

// ShowNotification находит устройства пользователя и отправляет уведомление на все платформы параллельно.
func (p *PlatformPresenter) ShowNotification(ctx context.Context, n relay.DisplayNotification) error {
	msg := messageFrom(n)

	if n.UserID == "" {
		return p.broadcast(ctx, msg)
	}

	log := p.logger.With(zap.String("user_id", n.UserID))

	deviceTokens, err := p.tokens.GetUserDeviceTokens(ctx, n.UserID)
	if err != nil {
		log.Error("Ошибка получения токенов пользователя", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrTokenLookup, err)
	}
	if len(deviceTokens) == 0 {
		log.Info("Не найдено активных токенов для пользователя")
		return nil
	}

	byPlatform := make(map[string][]string)
	for _, dt := range deviceTokens {
		if _, ok := p.senders[dt.Platform]; !ok {
			log.Warn("Нет отправителя для платформы токена",
				zap.String("platform", dt.Platform),
				zap.String("token", tokenPrefix(dt.Token)))
			continue
		}
		byPlatform[dt.Platform] = append(byPlatform[dt.Platform], dt.Token)
	}

	var (
		mu         sync.Mutex
		sendErrors []error
		invalid    []string
	)
	g, gctx := errgroup.WithContext(ctx)
	for platform, tokens := range byPlatform {
		platform, tokens := platform, tokens
		sender := p.senders[platform]
		g.Go(func() error {
			log.Debug("Отправка на платформу", zap.String("platform", platform), zap.Int("count", len(tokens)))
			bad, err := sender.Send(gctx, tokens, msg)
			mu.Lock()
			defer mu.Unlock()
			invalid = append(invalid, bad...)
			if err != nil {
				log.Error("Ошибка отправки", zap.String("platform", platform), zap.Error(err))
				sendErrors = append(sendErrors, fmt.Errorf("%s: %w", platform, err))
			}
			return nil
		})
	}
	_ = g.Wait()

	p.reportInvalid(ctx, invalid)

	if len(sendErrors) > 0 {
		return fmt.Errorf("%w: %w", ErrSend, errors.Join(sendErrors...))
	}
	log.Info("Уведомление отправлено", zap.Int("platforms", len(byPlatform)))
	return nil
}

func (p *PlatformPresenter) broadcast(ctx context.Context, msg Message) error {
	if p.broadcastTopic == "" || p.topicSender == nil {
		p.logger.Warn("Уведомление без пользователя пропущено: топик рассылки не настроен")
		return nil
	}
	if err := p.topicSender.SendToTopic(ctx, p.broadcastTopic, msg); err != nil {
		p.logger.Error("Ошибка рассылки в топик", zap.String("topic", p.broadcastTopic), zap.Error(err))
		return fmt.Errorf("%w: topic %s: %w", ErrSend, p.broadcastTopic, err)
	}
	p.logger.Info("Уведомление разослано в топик", zap.String("topic", p.broadcastTopic))
	return nil
}

func (p *PlatformPresenter) reportInvalid(ctx context.Context, tokens []string) {
	if len(tokens) == 0 {
		return
	}
	if p.reporter == nil {
		p.logger.Info("Невалидные токены не переданы на удаление: reporter не настроен", zap.Int("count", len(tokens)))
		return
	}
	for _, token := range tokens {
		if err := p.reporter.PublishTokenDeletion(ctx, token); err != nil {
			p.logger.Error("Не удалось передать токен на удаление",
				zap.String("token", tokenPrefix(token)), zap.Error(err))
		}
	}
}

// tokenPrefix возвращает начало токена для логирования.
func tokenPrefix(token string) string {
	const prefixLen = 10
	if len(token) < prefixLen {
		return token
	}
	return token[:prefixLen] + "..."
}
