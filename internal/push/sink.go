package push

import "auctionhouse/internal/domain"

// Sink fans a notice out to every transport the identity has attached.
// It reports delivery as soon as one transport took the message; the user
// registry decides what to do when none did.
type Sink struct {
	notifiers []domain.PushSink
}

func NewSink(notifiers ...domain.PushSink) *Sink {
	return &Sink{notifiers: notifiers}
}

func (s *Sink) Push(user *domain.User, message string) bool {
	delivered := false
	for _, n := range s.notifiers {
		if n.Push(user, message) {
			delivered = true
		}
	}
	return delivered
}
