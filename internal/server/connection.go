package server

import (
	"net"

	"github.com/google/uuid"

	"auctionhouse/internal/wire"
)

// Connection is one accepted client socket wrapped in the channel stack.
// It starts unauthenticated; the handshake installs the session cipher in
// place, and logout clears it again.
type Connection struct {
	id      string
	conn    net.Conn
	channel *wire.CipherChannel
}

func NewConnection(conn net.Conn) *Connection {
	return &Connection{
		id:      uuid.NewString(),
		conn:    conn,
		channel: wire.NewStack(conn),
	}
}

func (c *Connection) ID() string {
	return c.id
}

func (c *Connection) Send(message []byte) error {
	return c.channel.Send(message)
}

func (c *Connection) Read() ([]byte, error) {
	return c.channel.Read()
}

func (c *Connection) Close() error {
	return c.channel.Close()
}

func (c *Connection) Channel() *wire.CipherChannel {
	return c.channel
}

// RemoteHost is the peer's IP without the ephemeral port.
func (c *Connection) RemoteHost() string {
	host, _, err := net.SplitHostPort(c.conn.RemoteAddr().String())
	if err != nil {
		return c.conn.RemoteAddr().String()
	}
	return host
}
