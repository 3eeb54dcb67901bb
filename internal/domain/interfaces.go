package domain

import "context"

// Session is a live, possibly cipher-upgraded client connection.
type Session interface {
	Send([]byte) error
	Close() error
	RemoteHost() string
	ID() string
}

// AnalyticsSink consumes server events. Best effort: errors are logged by
// the caller and never block the state transition that produced the event.
type AnalyticsSink interface {
	Emit(ctx context.Context, event *Event) error
}

// BillingSink charges an owner once their auction closes. Best effort.
type BillingSink interface {
	ChargeForClosedAuction(ctx context.Context, owner string, auctionID int64, finalPrice float64) error
}

// PushSink delivers one asynchronous notice to an identity over a side
// channel (UDP datagram, attached websocket). A false return means the
// notice could not be handed off and the caller decides whether to queue it.
type PushSink interface {
	Push(user *User, message string) bool
}
