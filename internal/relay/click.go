package relay

import (
	"context"

	"go.uber.org/zap"
)

// ClickEvent - клик пользователя по показанному уведомлению.
type ClickEvent struct {
	UserID   string         `json:"user_id,omitempty"`
	ClientID string         `json:"client_id,omitempty"`
	Action   string         `json:"action,omitempty"`
	Title    string         `json:"title,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// ClickHandler только логирует клики по уведомлениям: ни навигации, ни изменения состояния.
type ClickHandler struct {
	logger  *zap.Logger
	metrics *Metrics
}

func NewClickHandler(logger *zap.Logger, metrics *Metrics) *ClickHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClickHandler{
		logger:  logger.Named("notification_click"),
		metrics: metrics,
	}
}

func (h *ClickHandler) HandleClick(_ context.Context, event ClickEvent) {
	h.metrics.click()
	h.logger.Info("notification received",
		zap.String("user_id", event.UserID),
		zap.String("client_id", event.ClientID),
		zap.String("action", event.Action),
		zap.String("title", event.Title),
		zap.Any("data", event.Data),
	)
}
