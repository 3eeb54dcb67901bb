package push

import (
	"sync"

	"github.com/gorilla/websocket"

	"auctionhouse/internal/domain"
	"auctionhouse/pkg/logger"
)

// WSConnection is one attached websocket. Writes are serialized: gorilla
// connections allow at most one concurrent writer.
type WSConnection struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func NewWSConnection(conn *websocket.Conn) *WSConnection {
	return &WSConnection{conn: conn}
}

func (c *WSConnection) Send(message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, []byte(message))
}

func (c *WSConnection) Close() error {
	return c.conn.Close()
}

// WSManager tracks attached websockets per identity. An identity may hold
// several (one per open browser tab); a notice goes to all of them.
type WSManager struct {
	log logger.Logger

	mu    sync.RWMutex
	conns map[string][]*WSConnection
}

func NewWSManager(log logger.Logger) *WSManager {
	return &WSManager{
		log:   log,
		conns: make(map[string][]*WSConnection),
	}
}

func (m *WSManager) Register(user string, conn *WSConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[user] = append(m.conns[user], conn)
	m.log.Info("Websocket attached", "user", user)
}

func (m *WSManager) Unregister(user string, conn *WSConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	remaining := m.conns[user][:0]
	for _, existing := range m.conns[user] {
		if existing != conn {
			remaining = append(remaining, existing)
		}
	}
	if len(remaining) == 0 {
		delete(m.conns, user)
	} else {
		m.conns[user] = remaining
	}
	m.log.Info("Websocket detached", "user", user)
}

func (m *WSManager) connectionsFor(user string) []*WSConnection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*WSConnection(nil), m.conns[user]...)
}

// Push writes the notice to every websocket the identity holds; true when
// at least one write succeeded.
func (m *WSManager) Push(user *domain.User, message string) bool {
	delivered := false
	for _, conn := range m.connectionsFor(user.Name) {
		if err := conn.Send(message); err != nil {
			m.log.Debug("Websocket push failed", "user", user.Name, "error", err)
			continue
		}
		delivered = true
	}
	return delivered
}

// CloseAll drops every attached websocket, during shutdown.
func (m *WSManager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for user, conns := range m.conns {
		for _, conn := range conns {
			if err := conn.Close(); err != nil {
				m.log.Debug("Websocket close failed", "user", user, "error", err)
			}
		}
	}
	m.conns = make(map[string][]*WSConnection)
}
