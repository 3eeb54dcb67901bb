package wire

import (
	"encoding/base64"
	"fmt"
)

// Base64Channel armors every frame so cipher output survives the
// line-oriented transport underneath.
type Base64Channel struct {
	inner Channel
}

func NewBase64Channel(inner Channel) *Base64Channel {
	return &Base64Channel{inner: inner}
}

func (c *Base64Channel) Read() ([]byte, error) {
	frame, err := c.inner.Read()
	if err != nil {
		return nil, err
	}
	decoded := make([]byte, base64.StdEncoding.DecodedLen(len(frame)))
	n, err := base64.StdEncoding.Decode(decoded, frame)
	if err != nil {
		return nil, fmt.Errorf("base64 frame: %w", err)
	}
	return decoded[:n], nil
}

func (c *Base64Channel) Send(message []byte) error {
	encoded := make([]byte, base64.StdEncoding.EncodedLen(len(message)))
	base64.StdEncoding.Encode(encoded, message)
	return c.inner.Send(encoded)
}

func (c *Base64Channel) Close() error {
	return c.inner.Close()
}
