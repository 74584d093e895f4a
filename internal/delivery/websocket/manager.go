package websocket

import (
	"context"
	"errors"
	"sync"

	"push-relay/internal/relay"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrManagerStopped возвращается после остановки менеджера.
var ErrManagerStopped = errors.New("connection manager stopped")

// ConnectionManager управляет активными WebSocket соединениями.
// У одного пользователя может быть несколько открытых вкладок.
type ConnectionManager struct {
	clients    map[string]map[uuid.UUID]*Client // userID -> clientID -> Client
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
	logger     zerolog.Logger
}

var _ relay.ContextEnumerator = (*ConnectionManager)(nil)

// NewConnectionManager создает и запускает новый менеджер соединений.
func NewConnectionManager(logger zerolog.Logger) *ConnectionManager {
	m := &ConnectionManager{
		clients:    make(map[string]map[uuid.UUID]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger.With().Str("component", "ConnectionManager").Logger(),
	}
	go m.run()
	return m
}

// run обрабатывает регистрацию и дерегистрацию клиентов.
func (m *ConnectionManager) run() {
	m.logger.Info().Msg("ConnectionManager started")
	for {
		select {
		case client := <-m.register:
			m.mu.Lock()
			userClients, ok := m.clients[client.userID]
			if !ok {
				userClients = make(map[uuid.UUID]*Client)
				m.clients[client.userID] = userClients
			}
			userClients[client.id] = client
			total := len(userClients)
			m.mu.Unlock()
			m.logger.Info().
				Str("userID", client.userID).
				Str("clientID", client.id.String()).
				Int("userConnections", total).
				Msg("Client registered")

		case client := <-m.unregister:
			m.mu.Lock()
			if userClients, ok := m.clients[client.userID]; ok {
				if _, ok := userClients[client.id]; ok {
					delete(userClients, client.id)
					client.closeSend()
					m.logger.Info().Str("userID", client.userID).Str("clientID", client.id.String()).Msg("Client unregistered")
				}
				if len(userClients) == 0 {
					delete(m.clients, client.userID)
				}
			}
			m.mu.Unlock()

		case <-m.done:
			m.mu.Lock()
			for _, userClients := range m.clients {
				for _, client := range userClients {
					client.closeSend()
				}
			}
			m.clients = make(map[string]map[uuid.UUID]*Client)
			m.mu.Unlock()
			m.logger.Info().Msg("ConnectionManager stopped")
			return
		}
	}
}

// RegisterClient регистрирует нового клиента.
func (m *ConnectionManager) RegisterClient(client *Client) error {
	select {
	case m.register <- client:
		return nil
	case <-m.done:
		client.closeSend()
		return ErrManagerStopped
	}
}

// UnregisterClient удаляет клиента.
func (m *ConnectionManager) UnregisterClient(client *Client) {
	select {
	case m.unregister <- client:
	case <-m.done:
	}
}

// Stop закрывает очереди всех клиентов и останавливает цикл менеджера.
func (m *ConnectionManager) Stop() {
	m.stopOnce.Do(func() { close(m.done) })
}

// Count возвращает количество открытых соединений.
func (m *ConnectionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, userClients := range m.clients {
		n += len(userClients)
	}
	return n
}

// MatchAll возвращает снимок открытых вкладок, подходящих под opts.
func (m *ConnectionManager) MatchAll(ctx context.Context, opts relay.MatchOptions) ([]relay.ForegroundContext, error) {
	select {
	case <-m.done:
		return nil, ErrManagerStopped
	default:
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]relay.ForegroundContext, 0)
	collect := func(userClients map[uuid.UUID]*Client) {
		for _, client := range userClients {
			if client.matches(opts) {
				matched = append(matched, client)
			}
		}
	}

	if opts.UserID != "" {
		collect(m.clients[opts.UserID])
	} else {
		for _, userClients := range m.clients {
			collect(userClients)
		}
	}
	return matched, nil
}
