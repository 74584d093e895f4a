package presenter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// DeviceToken - токен устройства и его платформа.
type DeviceToken struct {
	Token    string `json:"token"`
	Platform string `json:"platform"` // android, ios, web
}

// TokenProvider получает токены устройств пользователя.
type TokenProvider interface {
	GetUserDeviceTokens(ctx context.Context, userID string) ([]DeviceToken, error)
}

// HTTPClient интерфейс для *http.Client для мокирования
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// InterServiceTokenHeader - заголовок с секретом для внутренних API.
const InterServiceTokenHeader = "X-Internal-Service-Token"

type httpTokenProvider struct {
	client HTTPClient
	url    string // Базовый URL сервиса токенов, например http://auth-service:8081
	secret string
	logger *zap.Logger
}

// NewHTTPTokenProvider создает провайдер токенов через внутренний API сервиса авторизации.
// При пустом url возвращается заглушка.
func NewHTTPTokenProvider(client HTTPClient, baseURL, interServiceSecret string, logger *zap.Logger) TokenProvider {
	if baseURL == "" {
		logger.Warn("URL для TokenService не указан, используется заглушка TokenProvider")
		return NewStubTokenProvider(logger)
	}
	if interServiceSecret == "" {
		logger.Warn("InterServiceSecret не установлен, запросы к внутренним API могут быть отклонены")
	}
	logger.Info("Инициализация HTTP Token Provider", zap.String("url", baseURL))
	return &httpTokenProvider{
		client: client,
		url:    baseURL,
		secret: interServiceSecret,
		logger: logger.Named("http_token_provider"),
	}
}

func (p *httpTokenProvider) GetUserDeviceTokens(ctx context.Context, userID string) ([]DeviceToken, error) {
	log := p.logger.With(zap.String("user_id", userID))
	targetURL := fmt.Sprintf("%s/internal/auth/users/%s/device-tokens", p.url, url.PathEscape(userID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания запроса к token service: %w", err)
	}
	if p.secret != "" {
		req.Header.Set(InterServiceTokenHeader, p.secret)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := p.client.Do(req)
	duration := time.Since(start)
	if err != nil {
		log.Error("Ошибка выполнения HTTP запроса к token service", zap.Error(err), zap.Duration("duration", duration))
		return nil, fmt.Errorf("ошибка запроса к token service: %w", err)
	}
	defer resp.Body.Close()

	log.Debug("Ответ от token service получен", zap.Int("status_code", resp.StatusCode), zap.Duration("duration", duration))

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		// пользователь без зарегистрированных устройств
		return nil, nil
	default:
		return nil, fmt.Errorf("token service вернул статус %d", resp.StatusCode)
	}

	var tokens []DeviceToken
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return nil, fmt.Errorf("ошибка декодирования ответа token service: %w", err)
	}
	log.Debug("Токены устройства получены", zap.Int("count", len(tokens)))
	return tokens, nil
}

type stubTokenProvider struct {
	logger *zap.Logger
}

// NewStubTokenProvider возвращает провайдер без устройств.
func NewStubTokenProvider(logger *zap.Logger) TokenProvider {
	return &stubTokenProvider{logger: logger.Named("stub_token_provider")}
}

func (p *stubTokenProvider) GetUserDeviceTokens(_ context.Context, userID string) ([]DeviceToken, error) {
	p.logger.Debug("Используется ЗАГЛУШКА для TokenProvider", zap.String("user_id", userID))
	return nil, nil
}
