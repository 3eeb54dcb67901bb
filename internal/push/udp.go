// Package push delivers asynchronous notices (overbid, auction ended,
// group-bid outcomes) to identities. Delivery runs over UDP datagrams to
// the port a client announced with !udp, and over websockets attached
// through the admin API; the combined sink tries both.
package push

import (
	"fmt"
	"net"

	"auctionhouse/internal/domain"
	"auctionhouse/pkg/logger"
)

// UDPNotifier fires one datagram per notice at the client's announced
// push port. Fire-and-forget: a lost datagram is a lost notice.
type UDPNotifier struct {
	log logger.Logger
}

func NewUDPNotifier(log logger.Logger) *UDPNotifier {
	return &UDPNotifier{log: log}
}

func (n *UDPNotifier) Push(user *domain.User, message string) bool {
	port := user.PushPort()
	if port == 0 {
		return false
	}
	session := user.Session()
	if session == nil {
		return false
	}

	addr := net.JoinHostPort(session.RemoteHost(), fmt.Sprintf("%d", port))
	conn, err := net.Dial("udp", addr)
	if err != nil {
		n.log.Debug("UDP push dial failed", "user", user.Name, "addr", addr, "error", err)
		return false
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(message)); err != nil {
		n.log.Debug("UDP push write failed", "user", user.Name, "addr", addr, "error", err)
		return false
	}
	return true
}
