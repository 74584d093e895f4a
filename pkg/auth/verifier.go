package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Token Errors
var (
	ErrTokenInvalid   = errors.New("token is invalid")
	ErrTokenMalformed = errors.New("token is malformed")
	ErrTokenExpired   = errors.New("token has expired")
)

// Claims представляет поля JWT, которые использует relay.
// Идентификатор пользователя берется из user_id, а если его нет - из sub.
type Claims struct {
	UserID string   `json:"user_id,omitempty"`
	Roles  []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Identity возвращает идентификатор пользователя (или сервиса для межсервисных токенов).
func (c *Claims) Identity() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.Subject
}

// JWTVerifier проверяет пользовательские и межсервисные JWT токены.
type JWTVerifier struct {
	jwtSecret          string
	interServiceSecret string
	logger             *zap.Logger
}

// NewJWTVerifier создает новый экземпляр JWTVerifier.
// interServiceSecret может быть пустым: тогда межсервисные токены отклоняются.
func NewJWTVerifier(jwtSecret, interServiceSecret string, logger *zap.Logger) (*JWTVerifier, error) {
	if jwtSecret == "" {
		return nil, errors.New("JWT secret cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JWTVerifier{
		jwtSecret:          jwtSecret,
		interServiceSecret: interServiceSecret,
		logger:             logger.Named("JWTVerifier"),
	}, nil
}

// VerifyToken проверяет пользовательский токен.
func (v *JWTVerifier) VerifyToken(ctx context.Context, tokenString string) (*Claims, error) {
	return v.verify(tokenString, v.jwtSecret)
}

// VerifyInterServiceToken проверяет токен, выданный другому сервису.
func (v *JWTVerifier) VerifyInterServiceToken(ctx context.Context, tokenString string) (*Claims, error) {
	if v.interServiceSecret == "" {
		v.logger.Warn("Inter-service secret is not configured, rejecting token")
		return nil, ErrTokenInvalid
	}
	return v.verify(tokenString, v.interServiceSecret)
}

func (v *JWTVerifier) verify(tokenString, secret string) (*Claims, error) {
	log := v.logger.With(zap.String("tokenSnippet", TokenSnippet(tokenString)))
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			log.Warn("Unexpected signing method", zap.Any("alg", token.Header["alg"]))
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		log.Warn("Failed to parse or verify token", zap.Error(err))
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, ErrTokenMalformed
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	if !token.Valid {
		log.Warn("Token is invalid despite no parsing error")
		return nil, ErrTokenInvalid
	}

	if claims.Identity() == "" {
		log.Warn("Token missing user_id and sub")
		return nil, fmt.Errorf("%w: identity missing", ErrTokenInvalid)
	}

	log.Debug("Token verified successfully", zap.String("identity", claims.Identity()))
	return claims, nil
}

// SignToken выпускает HS256 токен для identity. Используется в тестах и для межсервисных вызовов.
func SignToken(identity, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// TokenSnippet возвращает безопасную для логгирования часть токена.
func TokenSnippet(tokenString string) string {
	limit := 15
	if len(tokenString) > limit {
		return tokenString[:limit] + "..."
	}
	return tokenString
}
