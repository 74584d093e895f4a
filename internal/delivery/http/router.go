package http

import (
	"net/http"
	"time"

	"push-relay/pkg/middleware"

	ratelimit "github.com/JGLTechnologies/gin-rate-limit"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"
)

// RouterConfig - настройки HTTP сервера.
type RouterConfig struct {
	Development    bool
	AllowedOrigins []string
	EnableMetrics  bool
	// RateLimit - запросов в минуту с одного IP на пользовательские маршруты. 0 отключает ограничение.
	RateLimit int
	// RedisClient, если задан, хранит счетчики rate limit в Redis.
	RedisClient *redis.Client
}

// NewRouter собирает gin engine со всеми маршрутами сервиса.
func NewRouter(cfg RouterConfig, h *Handler, ws gin.HandlerFunc, verifier middleware.TokenVerifier, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	if cfg.Development {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(middleware.ZapLogger(logger))
	router.Use(gin.Recovery())

	if cfg.EnableMetrics {
		// Применяется до регистрации маршрутов, иначе middleware не попадет в их цепочки.
		p := ginprometheus.NewPrometheus("gin")
		p.Use(router)
	}

	router.Use(cors.New(corsConfig(cfg.AllowedOrigins)))

	healthHandler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	router.GET("/health", healthHandler)
	router.HEAD("/health", healthHandler)

	limiter := rateLimiter(cfg, logger)
	if ws != nil {
		if limiter != nil {
			router.GET("/ws", limiter, ws)
		} else {
			router.GET("/ws", ws)
		}
	}
	h.RegisterRoutes(router, verifier, limiter)

	return router
}

func corsConfig(allowedOrigins []string) cors.Config {
	corsConfig := cors.DefaultConfig()
	if len(allowedOrigins) > 0 {
		corsConfig.AllowOrigins = allowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", middleware.InterServiceTokenHeader}
	corsConfig.MaxAge = 12 * time.Hour
	return corsConfig
}

func rateLimiter(cfg RouterConfig, logger *zap.Logger) gin.HandlerFunc {
	if cfg.RateLimit <= 0 {
		return nil
	}
	var store ratelimit.Store
	if cfg.RedisClient != nil {
		store = ratelimit.RedisStore(&ratelimit.RedisOptions{
			RedisClient: cfg.RedisClient,
			Rate:        time.Minute,
			Limit:       uint(cfg.RateLimit),
		})
	} else {
		store = ratelimit.InMemoryStore(&ratelimit.InMemoryOptions{
			Rate:  time.Minute,
			Limit: uint(cfg.RateLimit),
		})
	}
	return ratelimit.RateLimiter(store, &ratelimit.Options{
		ErrorHandler: func(c *gin.Context, info ratelimit.Info) {
			logger.Warn("Rate limit exceeded",
				zap.String("clientIP", c.ClientIP()),
				zap.Time("resetTime", info.ResetTime),
				zap.String("path", c.Request.URL.Path),
			)
			c.String(http.StatusTooManyRequests, "Too many requests. Try again in "+time.Until(info.ResetTime).String())
		},
		KeyFunc: func(c *gin.Context) string {
			return c.ClientIP()
		},
	})
}
