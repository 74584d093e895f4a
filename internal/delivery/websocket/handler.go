package websocket

import (
	"context"
	"net/http"

	"push-relay/internal/relay"
	"push-relay/pkg/auth"
	"push-relay/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// TokenVerifier проверяет пользовательский JWT.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, tokenString string) (*auth.Claims, error)
}

// Handler обрабатывает запросы на установку WebSocket соединения.
type Handler struct {
	manager  *ConnectionManager
	verifier TokenVerifier
	clicks   ClickHandler
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHandler создает обработчик. allowedOrigins пустой или "*" разрешает любой Origin.
func NewHandler(manager *ConnectionManager, verifier TokenVerifier, clicks ClickHandler, allowedOrigins []string, logger zerolog.Logger) *Handler {
	return &Handler{
		manager:  manager,
		verifier: verifier,
		clicks:   clicks,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger.With().Str("component", "WebSocketHandler").Logger(),
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// ServeWS проверяет токен, обновляет соединение и регистрирует клиента.
// Токен берется из query-параметра token или заголовка Authorization.
// Параметр type принимает window (по умолчанию) или worker.
func (h *Handler) ServeWS(c *gin.Context) {
	tokenString := c.Query("token")
	if tokenString == "" {
		tokenString, _ = middleware.BearerToken(c.GetHeader("Authorization"))
	}
	if tokenString == "" {
		h.logger.Warn().Msg("Missing token")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	claims, err := h.verifier.VerifyToken(c.Request.Context(), tokenString)
	if err != nil {
		h.logger.Warn().Err(err).Str("token", auth.TokenSnippet(tokenString)).Msg("Invalid token")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	userID := claims.Identity()
	if userID == "" {
		h.logger.Error().Msg("UserID not found in token claims")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token claims"})
		return
	}

	clientType := relay.ClientType(c.DefaultQuery("type", string(relay.ClientTypeWindow)))
	if clientType != relay.ClientTypeWindow && clientType != relay.ClientTypeWorker {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unsupported client type"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrader уже записал ответ
		h.logger.Error().Err(err).Str("userID", userID).Msg("Failed to upgrade connection")
		return
	}

	client := NewClient(userID, clientType, conn)
	if err := h.manager.RegisterClient(client); err != nil {
		h.logger.Warn().Err(err).Str("userID", userID).Msg("Manager stopped, closing connection")
		_ = conn.Close()
		return
	}

	clientLogger := h.logger.With().Str("userID", userID).Str("clientID", client.ID()).Logger()
	clientLogger.Info().Str("type", string(clientType)).Msg("WebSocket connection established")

	go client.writePump(clientLogger)
	go client.readPump(h.manager, h.clicks, clientLogger)
}
