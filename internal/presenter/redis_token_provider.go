package presenter

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DeviceTokensKey возвращает ключ hash-а токенов пользователя: token -> platform.
func DeviceTokensKey(userID string) string {
	return "device_tokens:" + userID
}

type redisTokenProvider struct {
	client redis.UniversalClient
	logger *zap.Logger
}

// NewRedisTokenProvider читает токены устройств из Redis.
func NewRedisTokenProvider(client redis.UniversalClient, logger *zap.Logger) TokenProvider {
	return &redisTokenProvider{
		client: client,
		logger: logger.Named("redis_token_provider"),
	}
}

func (p *redisTokenProvider) GetUserDeviceTokens(ctx context.Context, userID string) ([]DeviceToken, error) {
	entries, err := p.client.HGetAll(ctx, DeviceTokensKey(userID)).Result()
	if err != nil {
		p.logger.Error("Ошибка чтения токенов из Redis", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("redis HGETALL %s: %w", DeviceTokensKey(userID), err)
	}
	tokens := make([]DeviceToken, 0, len(entries))
	for token, platform := range entries {
		tokens = append(tokens, DeviceToken{Token: token, Platform: platform})
	}
	return tokens, nil
}
