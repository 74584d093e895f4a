package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"push-relay/pkg/auth"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// UserIDKey - ключ gin.Context с идентификатором пользователя.
	UserIDKey = "user_id"
	// SourceServiceKey - ключ gin.Context с идентификатором вызывающего сервиса.
	SourceServiceKey = "source_service"
	// InterServiceTokenHeader - заголовок с межсервисным токеном.
	InterServiceTokenHeader = "X-Internal-Service-Token"
)

// TokenVerifier проверяет пользовательские и межсервисные токены.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, tokenString string) (*auth.Claims, error)
	VerifyInterServiceToken(ctx context.Context, tokenString string) (*auth.Claims, error)
}

// JWTAuth проверяет Bearer токен пользователя и сохраняет его ID в контексте Gin.
func JWTAuth(verifier TokenVerifier, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logger.With(zap.String("path", c.Request.URL.Path))

		tokenString, ok := BearerToken(c.GetHeader("Authorization"))
		if !ok {
			log.Warn("Authorization header missing or malformed")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Missing token"})
			return
		}

		claims, err := verifier.VerifyToken(c.Request.Context(), tokenString)
		if err != nil {
			status, msg := tokenErrorResponse(err, log, "Token")
			log.Warn("Token verification failed", zap.Error(err), zap.String("tokenSnippet", auth.TokenSnippet(tokenString)))
			c.AbortWithStatusJSON(status, gin.H{"error": msg})
			return
		}

		c.Set(UserIDKey, claims.Identity())
		log.Debug("User authorized", zap.String("userID", claims.Identity()))
		c.Next()
	}
}

// InterServiceAuth проверяет межсервисный токен из заголовка X-Internal-Service-Token.
func InterServiceAuth(verifier TokenVerifier, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logger.With(zap.String("path", c.Request.URL.Path))

		tokenString := c.GetHeader(InterServiceTokenHeader)
		if tokenString == "" {
			log.Warn("X-Internal-Service-Token header missing")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Missing inter-service token"})
			return
		}

		claims, err := verifier.VerifyInterServiceToken(c.Request.Context(), tokenString)
		if err != nil {
			status, msg := tokenErrorResponse(err, log, "Inter-service token")
			log.Warn("Inter-service token verification failed", zap.Error(err), zap.String("tokenSnippet", auth.TokenSnippet(tokenString)))
			c.AbortWithStatusJSON(status, gin.H{"error": msg})
			return
		}

		c.Set(SourceServiceKey, claims.Subject)
		log.Debug("Inter-service request authorized", zap.String("sourceService", claims.Subject))
		c.Next()
	}
}

// GetUserID возвращает ID пользователя, сохраненный JWTAuth.
func GetUserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

// BearerToken извлекает токен из заголовка Authorization.
func BearerToken(header string) (string, bool) {
	parts := strings.Split(header, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func tokenErrorResponse(err error, log *zap.Logger, subject string) (int, string) {
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		return http.StatusUnauthorized, "Unauthorized: " + subject + " expired"
	case errors.Is(err, auth.ErrTokenMalformed), errors.Is(err, auth.ErrTokenInvalid):
		return http.StatusUnauthorized, "Unauthorized: Invalid " + strings.ToLower(subject)
	}
	log.Error("Unexpected token verification error", zap.Error(err))
	return http.StatusInternalServerError, "Internal server error during token verification"
}
