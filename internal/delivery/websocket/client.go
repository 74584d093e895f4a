package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"push-relay/internal/relay"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// Время, разрешенное для записи сообщения клиенту.
	writeWait = 10 * time.Second
	// Время, разрешенное для чтения следующего pong сообщения от клиента.
	pongWait = 60 * time.Second
	// Отправлять пинги клиенту с этим периодом. Должно быть меньше pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Максимальный размер сообщения от клиента. Клик может нести data уведомления.
	maxMessageSize = 4096
	// Размер очереди исходящих сообщений клиента.
	sendBufferSize = 256
)

const (
	actionClaim             = "claim"
	actionNotificationClick = "notification_click"
)

// ClickHandler принимает клики по уведомлениям от клиентов.
type ClickHandler interface {
	HandleClick(ctx context.Context, event relay.ClickEvent)
}

// clientCommand - сообщение от клиента.
type clientCommand struct {
	Action             string         `json:"action"`
	NotificationAction string         `json:"notification_action,omitempty"`
	Title              string         `json:"title,omitempty"`
	Data               map[string]any `json:"data,omitempty"`
}

// Client - одно WebSocket соединение (вкладка) пользователя.
type Client struct {
	id         uuid.UUID
	userID     string
	clientType relay.ClientType
	controlled atomic.Bool
	conn       *websocket.Conn

	mu     sync.RWMutex
	send   chan []byte
	closed bool
}

var _ relay.ForegroundContext = (*Client)(nil)

// NewClient создает клиента. conn может быть nil, если клиент не обслуживается pump-горутинами.
func NewClient(userID string, clientType relay.ClientType, conn *websocket.Conn) *Client {
	if clientType == "" {
		clientType = relay.ClientTypeWindow
	}
	return &Client{
		id:         uuid.New(),
		userID:     userID,
		clientType: clientType,
		conn:       conn,
		send:       make(chan []byte, sendBufferSize),
	}
}

func (c *Client) ID() string             { return c.id.String() }
func (c *Client) UserID() string         { return c.userID }
func (c *Client) Type() relay.ClientType { return c.clientType }
func (c *Client) Controlled() bool       { return c.controlled.Load() }

// Claim помечает вкладку как контролируемую сервисом.
func (c *Client) Claim() { c.controlled.Store(true) }

// PostMessage ставит сообщение в очередь без блокировки.
func (c *Client) PostMessage(msg []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Messages возвращает очередь исходящих сообщений.
func (c *Client) Messages() <-chan []byte { return c.send }

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) matches(opts relay.MatchOptions) bool {
	if opts.Type != "" && opts.Type != relay.ClientTypeAll && opts.Type != c.clientType {
		return false
	}
	if !opts.IncludeUncontrolled && !c.Controlled() {
		return false
	}
	return true
}

// readPump читает команды клиента до закрытия соединения.
func (c *Client) readPump(manager *ConnectionManager, clicks ClickHandler, logger zerolog.Logger) {
	defer func() {
		manager.UnregisterClient(c)
		_ = c.conn.Close()
		logger.Info().Msg("readPump finished")
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn().Err(err).Msg("WebSocket read error")
			} else {
				logger.Info().Msg("WebSocket connection closed")
			}
			return
		}
		c.handleCommand(message, clicks, logger)
	}
}

func (c *Client) handleCommand(message []byte, clicks ClickHandler, logger zerolog.Logger) {
	var cmd clientCommand
	if err := json.Unmarshal(message, &cmd); err != nil {
		logger.Warn().Err(err).Msg("Received malformed message from client (ignored)")
		return
	}

	switch cmd.Action {
	case actionClaim:
		c.Claim()
		logger.Debug().Msg("Client claimed")
	case actionNotificationClick:
		if clicks == nil {
			return
		}
		clicks.HandleClick(context.Background(), relay.ClickEvent{
			UserID:   c.userID,
			ClientID: c.ID(),
			Action:   cmd.NotificationAction,
			Title:    cmd.Title,
			Data:     cmd.Data,
		})
	default:
		logger.Warn().Str("action", cmd.Action).Msg("Received unexpected message from client (ignored)")
	}
}

// writePump отправляет сообщения из очереди в соединение, по одному на фрейм.
func (c *Client) writePump(logger zerolog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		logger.Info().Msg("writePump finished")
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Error().Err(err).Msg("Failed to write message")
				return
			}
			logger.Debug().Int("messageSize", len(message)).Msg("Message sent")

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Warn().Err(err).Msg("Failed to send ping")
				return
			}
		}
	}
}
