// Package wire implements the layered channel stack a client connection is
// built from: newline framing on TCP, base64 armoring, and an installable
// symmetric cipher layer that is absent until the session handshake
// completes.
package wire

import (
	"bufio"
	"net"
)

// Channel reads and writes framed messages.
type Channel interface {
	// Read returns the next frame. io.EOF (or the transport error) is
	// returned once the peer is gone.
	Read() ([]byte, error)
	Send(message []byte) error
	Close() error
}

// TCPChannel frames messages as newline-terminated lines on a net.Conn.
type TCPChannel struct {
	conn   net.Conn
	reader *bufio.Reader
}

func NewTCPChannel(conn net.Conn) *TCPChannel {
	return &TCPChannel{
		conn:   conn,
		reader: bufio.NewReader(conn),
	}
}

func (c *TCPChannel) Read() ([]byte, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	// strip trailing \n and optional \r
	n := len(line) - 1
	if n > 0 && line[n-1] == '\r' {
		n--
	}
	return []byte(line[:n]), nil
}

func (c *TCPChannel) Send(message []byte) error {
	buf := make([]byte, 0, len(message)+1)
	buf = append(buf, message...)
	buf = append(buf, '\n')
	_, err := c.conn.Write(buf)
	return err
}

func (c *TCPChannel) Close() error {
	return c.conn.Close()
}
