// Package registry holds the server's authoritative in-memory state: the
// identity registry with its per-identity notification queues, and the
// auction registry with its bidding engine and expiry timers.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"auctionhouse/internal/domain"
	"auctionhouse/pkg/logger"
)

var ErrAlreadyLoggedIn = errors.New("identity already has a live session")

// Users maps identity names to their records and enforces one concurrent
// session per identity. Records are created lazily on first login and never
// deleted, so notifications queued while an identity is offline survive
// until it returns.
type Users struct {
	analytics domain.AnalyticsSink
	push      domain.PushSink
	queued    bool
	log       logger.Logger

	mu        sync.Mutex
	users     map[string]*domain.User
	mailboxes map[string]*mailbox
}

// mailbox buffers undelivered notices for one identity. Each mailbox has
// its own lock so flushing one identity's queue never stalls another's.
type mailbox struct {
	mu      sync.Mutex
	notices []string
}

type UsersOptions struct {
	// QueueUndelivered keeps notices for offline identities and flushes
	// them on reconnect. When false delivery is best effort.
	QueueUndelivered bool
}

func NewUsers(push domain.PushSink, analytics domain.AnalyticsSink, opts UsersOptions, log logger.Logger) *Users {
	return &Users{
		analytics: analytics,
		push:      push,
		queued:    opts.QueueUndelivered,
		log:       log,
		users:     make(map[string]*domain.User),
		mailboxes: make(map[string]*mailbox),
	}
}

// Login binds an identity to a live session. Exactly one of two concurrent
// logins under the same name wins; the loser gets ErrAlreadyLoggedIn and
// the existing session is never displaced.
func (r *Users) Login(name string, session domain.Session) (*domain.User, error) {
	r.mu.Lock()
	user, ok := r.users[name]
	if !ok {
		user = domain.NewUser(name)
		r.users[name] = user
		r.mailboxes[name] = &mailbox{}
	}
	if user.Session() != nil {
		r.mu.Unlock()
		return nil, ErrAlreadyLoggedIn
	}
	user.SetSession(session)
	r.mu.Unlock()

	r.emit(domain.UserLogin, name)
	r.flush(user)
	return user, nil
}

// Logout releases the identity's session. The record survives so a later
// login finds any notices queued in between.
func (r *Users) Logout(user *domain.User) {
	if user == nil {
		return
	}
	user.SetSession(nil)
	r.emit(domain.UserLogout, user.Name)
}

// Disconnect is the transport-failure variant of Logout.
func (r *Users) Disconnect(user *domain.User) {
	if user == nil {
		return
	}
	user.SetSession(nil)
	r.emit(domain.UserDisconnected, user.Name)
}

func (r *Users) IsLoggedIn(name string) bool {
	r.mu.Lock()
	user, ok := r.users[name]
	r.mu.Unlock()
	return ok && user.Session() != nil
}

func (r *Users) Get(name string) *domain.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.users[name]
}

// Members returns every known identity. The group-bid admission check
// counts candidates out of this set.
func (r *Users) Members() []*domain.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	members := make([]*domain.User, 0, len(r.users))
	for _, u := range r.users {
		members = append(members, u)
	}
	return members
}

// Active returns "host:port - name" lines for every logged-in identity,
// advertising its witness port.
func (r *Users) Active() []string {
	r.mu.Lock()
	users := make([]*domain.User, 0, len(r.users))
	for _, u := range r.users {
		users = append(users, u)
	}
	r.mu.Unlock()

	var active []string
	for _, u := range users {
		session := u.Session()
		if session == nil {
			continue
		}
		active = append(active, fmt.Sprintf("%s:%d - %s", session.RemoteHost(), u.WitnessPort(), u.Name))
	}
	return active
}

// Post delivers a notice over the push side channel, or queues it for a
// reconnect when delivery is impossible and queued delivery is configured.
func (r *Users) Post(user *domain.User, notice string) {
	if user == nil {
		return
	}
	if r.push != nil && r.push.Push(user, notice) {
		return
	}
	if !r.queued {
		r.log.Debug("Dropped notice", "user", user.Name, "notice", notice)
		return
	}
	box := r.mailboxOf(user.Name)
	box.mu.Lock()
	box.notices = append(box.notices, notice)
	box.mu.Unlock()
	r.log.Debug("Queued notice", "user", user.Name, "notice", notice)
}

// Send writes a synchronous response on the identity's command channel.
// A missing session is not an error, the command loop already handles the
// disconnect on its own path.
func (r *Users) Send(user *domain.User, message string) {
	if user == nil {
		return
	}
	session := user.Session()
	if session == nil {
		return
	}
	if err := session.Send([]byte(message)); err != nil {
		r.log.Warn("Failed to send response", "user", user.Name, "error", err)
	}
}

func (r *Users) flush(user *domain.User) {
	box := r.mailboxOf(user.Name)
	box.mu.Lock()
	notices := box.notices
	box.notices = nil
	box.mu.Unlock()

	for _, notice := range notices {
		r.Post(user, notice)
	}
}

func (r *Users) mailboxOf(name string) *mailbox {
	r.mu.Lock()
	defer r.mu.Unlock()
	box, ok := r.mailboxes[name]
	if !ok {
		box = &mailbox{}
		r.mailboxes[name] = box
	}
	return box
}

func (r *Users) emit(eventType domain.EventType, name string) {
	if r.analytics == nil {
		return
	}
	event := &domain.Event{Type: eventType, User: name, Timestamp: time.Now()}
	if err := r.analytics.Emit(context.Background(), event); err != nil {
		r.log.Warn("Analytics emit failed", "type", eventType, "error", err)
	}
}
