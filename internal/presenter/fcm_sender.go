package presenter

import (
	"context"
	"fmt"

	"push-relay/internal/config"

	firebase "firebase.google.com/go/v4"
	fcm "firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// fcmMaxBatch - лимит токенов в одном multicast запросе FCM.
const fcmMaxBatch = 500

// fcmClient - часть *fcm.Client, которую использует отправитель.
type fcmClient interface {
	SendEachForMulticast(ctx context.Context, message *fcm.MulticastMessage) (*fcm.BatchResponse, error)
	Send(ctx context.Context, message *fcm.Message) (string, error)
}

// FCMSender отправляет уведомления через Firebase Cloud Messaging.
type FCMSender struct {
	client fcmClient
	logger *zap.Logger
}

// NewFCMSender создает отправитель FCM для android и web.
// Возвращает nil, nil, если путь к ключу сервис-аккаунта не указан.
func NewFCMSender(ctx context.Context, cfg config.FCMConfig, logger *zap.Logger) (*FCMSender, error) {
	if cfg.CredentialsPath == "" {
		logger.Warn("Путь к файлу ключа Firebase (FCM_CREDENTIALS_PATH) не указан, FCM sender не будет создан.")
		return nil, nil
	}

	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(cfg.CredentialsPath))
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации Firebase App из файла '%s': %w", cfg.CredentialsPath, err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения FCM Messaging client: %w", err)
	}

	logger.Info("FCM Sender успешно инициализирован", zap.String("credentials_path", cfg.CredentialsPath))
	return newFCMSenderWithClient(client, logger), nil
}

func newFCMSenderWithClient(client fcmClient, logger *zap.Logger) *FCMSender {
	return &FCMSender{client: client, logger: logger.Named("fcm_sender")}
}

func (s *FCMSender) Platforms() []string { return []string{PlatformAndroid, PlatformWeb} }

func (s *FCMSender) Send(ctx context.Context, tokens []string, msg Message) ([]string, error) {
	var (
		invalid  []string
		failures int
	)
	for start := 0; start < len(tokens); start += fcmMaxBatch {
		end := min(start+fcmMaxBatch, len(tokens))
		batch := tokens[start:end]

		message := buildMulticast(batch, msg)
		br, err := s.client.SendEachForMulticast(ctx, message)
		if err != nil {
			s.logger.Error("Ошибка вызова SendEachForMulticast FCM", zap.Error(err))
			return invalid, fmt.Errorf("ошибка отправки FCM: %w", err)
		}

		s.logger.Debug("Результат отправки FCM",
			zap.Int("success_count", br.SuccessCount),
			zap.Int("failure_count", br.FailureCount),
		)

		for idx, resp := range br.Responses {
			if resp == nil || resp.Success {
				continue
			}
			failures++
			token := "unknown"
			if idx < len(batch) {
				token = batch[idx]
			}
			if isInvalidFCMToken(resp.Error) {
				invalid = append(invalid, token)
				s.logger.Warn("Обнаружен невалидный FCM токен", zap.String("token", tokenPrefix(token)), zap.Error(resp.Error))
				continue
			}
			s.logger.Error("Ошибка доставки FCM для токена", zap.String("token", tokenPrefix(token)), zap.Error(resp.Error))
		}
	}

	// Невалидные токены удаляются, а не считаются ошибкой показа.
	if delivered := failures - len(invalid); delivered > 0 {
		return invalid, fmt.Errorf("ошибка доставки %d из %d FCM сообщений", delivered, len(tokens))
	}
	return invalid, nil
}

// SendToTopic рассылает уведомление подписчикам топика.
func (s *FCMSender) SendToTopic(ctx context.Context, topic string, msg Message) error {
	id, err := s.client.Send(ctx, &fcm.Message{
		Topic:        topic,
		Notification: fcmNotification(msg),
		Data:         msg.Data,
		Android:      androidConfig(),
		Webpush:      webpushConfig(msg),
	})
	if err != nil {
		return fmt.Errorf("ошибка отправки FCM в топик %s: %w", topic, err)
	}
	s.logger.Debug("FCM сообщение отправлено в топик", zap.String("topic", topic), zap.String("message_id", id))
	return nil
}

// InvalidArgument относится ко всему сообщению (например, битый image URL), токен по нему не удаляется.
func isInvalidFCMToken(err error) bool {
	return fcm.IsUnregistered(err) || fcm.IsSenderIDMismatch(err)
}

func buildMulticast(tokens []string, msg Message) *fcm.MulticastMessage {
	return &fcm.MulticastMessage{
		Tokens:       tokens,
		Notification: fcmNotification(msg),
		Data:         msg.Data,
		Android:      androidConfig(),
		Webpush:      webpushConfig(msg),
	}
}

func fcmNotification(msg Message) *fcm.Notification {
	return &fcm.Notification{
		Title:    msg.Title,
		Body:     msg.Body,
		ImageURL: msg.Image,
	}
}

func androidConfig() *fcm.AndroidConfig {
	return &fcm.AndroidConfig{Priority: "high"}
}

func webpushConfig(msg Message) *fcm.WebpushConfig {
	return &fcm.WebpushConfig{
		Notification: &fcm.WebpushNotification{
			Title: msg.Title,
			Body:  msg.Body,
			Image: msg.Image,
		},
	}
}
