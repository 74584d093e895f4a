package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"push-relay/internal/relay"
	"push-relay/pkg/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Dispatcher запускает обработку push-сообщения.
type Dispatcher interface {
	Dispatch(ctx context.Context, payload relay.PushPayload) *relay.Completion
}

// ClickHandler принимает клики по уведомлениям.
type ClickHandler interface {
	HandleClick(ctx context.Context, event relay.ClickEvent)
}

// Handler - HTTP вход для push-сообщений и кликов по уведомлениям.
type Handler struct {
	dispatcher     Dispatcher
	clicks         ClickHandler
	summaryField   string
	processTimeout time.Duration
	waitTimeout    time.Duration
	logger         *zap.Logger
}

// New создает обработчик. processTimeout ограничивает саму обработку,
// waitTimeout - сколько запрос ждет ее завершения.
func New(dispatcher Dispatcher, clicks ClickHandler, summaryField string, processTimeout, waitTimeout time.Duration, logger *zap.Logger) *Handler {
	return &Handler{
		dispatcher:     dispatcher,
		clicks:         clicks,
		summaryField:   summaryField,
		processTimeout: processTimeout,
		waitTimeout:    waitTimeout,
		logger:         logger.Named("http_handler"),
	}
}

// RegisterRoutes регистрирует маршруты API.
func (h *Handler) RegisterRoutes(router gin.IRouter, verifier middleware.TokenVerifier, limiter gin.HandlerFunc) {
	internal := router.Group("/internal")
	internal.Use(middleware.InterServiceAuth(verifier, h.logger))
	internal.POST("/push", h.Push)

	api := router.Group("/api/v1")
	api.Use(middleware.JWTAuth(verifier, h.logger))
	if limiter != nil {
		api.Use(limiter)
	}
	api.POST("/notifications/click", h.NotificationClick)
}

type pushResponse struct {
	Status    string `json:"status"`
	Matched   int    `json:"matched"`
	Forwarded int    `json:"forwarded"`
	Displayed bool   `json:"displayed"`
}

// Push принимает push-сообщение и ждет, пока оно будет переслано вкладкам и показано.
func (h *Handler) Push(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}
	payload, err := relay.ParsePushPayload(body, h.summaryField)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Обработка не прерывается, если клиент перестал ждать.
	processCtx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), h.processTimeout)
	completion := h.dispatcher.Dispatch(processCtx, payload)
	go func() {
		<-completion.Done()
		cancel()
	}()

	waitCtx, waitCancel := context.WithTimeout(c.Request.Context(), h.waitTimeout)
	defer waitCancel()

	res, err := completion.Wait(waitCtx)
	resp := pushResponse{Matched: res.Matched, Forwarded: res.Forwarded, Displayed: res.Displayed}
	switch {
	case err == nil:
		resp.Status = "relayed"
		c.JSON(http.StatusOK, resp)
	case errors.Is(err, relay.ErrNotificationMissing):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "forwarded": res.Forwarded})
	case errors.Is(err, relay.ErrDisplayFailed), errors.Is(err, relay.ErrEnumerate):
		h.logger.Error("Push-сообщение не обработано", zap.Error(err), zap.String("user_id", payload.UserID))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "forwarded": res.Forwarded})
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		h.logger.Warn("Push-сообщение не обработано за отведенное время", zap.String("user_id", payload.UserID))
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "push processing timed out"})
	default:
		h.logger.Error("Неожиданная ошибка обработки push-сообщения", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

type clickRequest struct {
	ClientID string         `json:"client_id"`
	Action   string         `json:"action"`
	Title    string         `json:"title"`
	Data     map[string]any `json:"data"`
}

// NotificationClick логирует клик пользователя по уведомлению.
func (h *Handler) NotificationClick(c *gin.Context) {
	var req clickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	h.clicks.HandleClick(c.Request.Context(), relay.ClickEvent{
		UserID:   middleware.GetUserID(c),
		ClientID: req.ClientID,
		Action:   req.Action,
		Title:    req.Title,
		Data:     req.Data,
	})
	c.Status(http.StatusNoContent)
}
