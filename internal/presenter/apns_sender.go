package presenter

import (
	"context"
	"fmt"
	"sync"

	"push-relay/internal/config"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// apnsMaxInFlight ограничивает число одновременных запросов к APNs.
const apnsMaxInFlight = 32

type apnsClient interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

// APNSSender отправляет уведомления на iOS через APNs (token-based auth).
type APNSSender struct {
	client apnsClient
	topic  string
	logger *zap.Logger
}

// NewAPNSSender создает отправитель APNs.
// Возвращает nil, nil, если конфигурация неполная.
func NewAPNSSender(cfg config.APNSConfig, logger *zap.Logger) (*APNSSender, error) {
	if cfg.KeyPath == "" || cfg.KeyID == "" || cfg.TeamID == "" || cfg.Topic == "" {
		logger.Warn("APNS конфигурация не полная (KeyPath, KeyID, TeamID, Topic), APNS sender не будет создан.")
		return nil, nil
	}

	authKey, err := token.AuthKeyFromFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения ключа APNS из файла %s: %w", cfg.KeyPath, err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	if cfg.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}

	logger.Info("APNS Sender успешно инициализирован",
		zap.String("key_id", cfg.KeyID),
		zap.String("team_id", cfg.TeamID),
		zap.String("topic", cfg.Topic),
		zap.Bool("production", cfg.Production),
	)
	return newAPNSSenderWithClient(client, cfg.Topic, logger), nil
}

func newAPNSSenderWithClient(client apnsClient, topic string, logger *zap.Logger) *APNSSender {
	return &APNSSender{client: client, topic: topic, logger: logger.Named("apns_sender")}
}

func (s *APNSSender) Platforms() []string { return []string{PlatformIOS} }

func (s *APNSSender) Send(ctx context.Context, tokens []string, msg Message) ([]string, error) {
	p := buildAPNSPayload(msg)

	var (
		mu       sync.Mutex
		invalid  []string
		failures int
		firstErr error
	)
	fail := func(err error) {
		failures++
		if firstErr == nil {
			firstErr = err
		}
	}

	g := new(errgroup.Group)
	g.SetLimit(apnsMaxInFlight)
	for _, deviceToken := range tokens {
		deviceToken := deviceToken
		g.Go(func() error {
			res, err := s.client.PushWithContext(ctx, &apns2.Notification{
				DeviceToken: deviceToken,
				Topic:       s.topic,
				Payload:     p,
				Priority:    apns2.PriorityHigh,
				PushType:    apns2.PushTypeAlert,
			})

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				s.logger.Error("Ошибка вызова APNS PushWithContext", zap.String("token", tokenPrefix(deviceToken)), zap.Error(err))
				fail(fmt.Errorf("apns send error: %w", err))
				return nil
			}
			if res.Sent() {
				return nil
			}
			if res.Reason == apns2.ReasonUnregistered || res.Reason == apns2.ReasonBadDeviceToken {
				invalid = append(invalid, deviceToken)
				s.logger.Warn("Обнаружен невалидный APNS токен", zap.String("token", tokenPrefix(deviceToken)), zap.String("reason", res.Reason))
				return nil
			}
			s.logger.Warn("APNS уведомление не отправлено",
				zap.String("token", tokenPrefix(deviceToken)),
				zap.Int("status_code", res.StatusCode),
				zap.String("reason", res.Reason),
			)
			fail(fmt.Errorf("apns delivery failed: %s", res.Reason))
			return nil
		})
	}
	_ = g.Wait()

	if failures > 0 {
		return invalid, fmt.Errorf("ошибка доставки %d из %d APNS сообщений: %w", failures, len(tokens), firstErr)
	}
	return invalid, nil
}

func buildAPNSPayload(msg Message) *payload.Payload {
	p := payload.NewPayload().
		AlertTitle(msg.Title).
		AlertBody(msg.Body).
		Sound("default")
	if msg.Image != "" {
		p = p.MutableContent().Custom("image", msg.Image)
	}
	// Данные кладутся на верхний уровень payload, не в aps.
	for k, v := range msg.Data {
		p = p.Custom(k, v)
	}
	return p
}
