package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auctionhouse/internal/domain"
	"auctionhouse/pkg/logger"
)

// fakeSession records synchronous sends.
type fakeSession struct {
	id   string
	host string

	mu   sync.Mutex
	sent []string
}

func newFakeSession(id string) *fakeSession {
	return &fakeSession{id: id, host: "127.0.0.1"}
}

func (s *fakeSession) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, string(frame))
	return nil
}

func (s *fakeSession) Close() error       { return nil }
func (s *fakeSession) RemoteHost() string { return s.host }
func (s *fakeSession) ID() string         { return s.id }

// fakePush delivers only for users marked reachable.
type fakePush struct {
	mu        sync.Mutex
	reachable map[string]bool
	delivered map[string][]string
}

func newFakePush() *fakePush {
	return &fakePush{
		reachable: make(map[string]bool),
		delivered: make(map[string][]string),
	}
}

func (p *fakePush) setReachable(name string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reachable[name] = ok
}

func (p *fakePush) Push(user *domain.User, message string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.reachable[user.Name] {
		return false
	}
	p.delivered[user.Name] = append(p.delivered[user.Name], message)
	return true
}

func (p *fakePush) deliveredTo(name string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.delivered[name]...)
}

func newTestUsers(push domain.PushSink, queued bool) *Users {
	return NewUsers(push, nil, UsersOptions{QueueUndelivered: queued}, logger.NewNop())
}

func TestLoginSingleSessionPerIdentity(t *testing.T) {
	users := newTestUsers(newFakePush(), true)

	first := newFakeSession("conn-1")
	user, err := users.Login("alice", first)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.True(t, users.IsLoggedIn("alice"))

	// A second login under the same name must be refused, and the existing
	// session must stay bound.
	_, err = users.Login("alice", newFakeSession("conn-2"))
	assert.ErrorIs(t, err, ErrAlreadyLoggedIn)
	assert.Same(t, first, user.Session().(*fakeSession))
}

func TestConcurrentSameNameLoginsHaveOneWinner(t *testing.T) {
	users := newTestUsers(newFakePush(), true)

	const attempts = 16
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = users.Login("bob", newFakeSession("conn"))
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, ErrAlreadyLoggedIn)
		}
	}
	assert.Equal(t, 1, winners)
}

func TestLogoutKeepsRecordAndAllowsRelogin(t *testing.T) {
	users := newTestUsers(newFakePush(), true)

	user, err := users.Login("alice", newFakeSession("conn-1"))
	require.NoError(t, err)

	users.Logout(user)
	assert.False(t, users.IsLoggedIn("alice"))
	assert.NotNil(t, users.Get("alice"))

	_, err = users.Login("alice", newFakeSession("conn-2"))
	assert.NoError(t, err)
}

func TestPostQueuesUndeliverableAndFlushesOnLogin(t *testing.T) {
	push := newFakePush()
	users := newTestUsers(push, true)

	user, err := users.Login("carol", newFakeSession("conn-1"))
	require.NoError(t, err)
	users.Disconnect(user)

	// Unreachable: both notices must land in the mailbox.
	users.Post(user, "!new-bid 120.00 painting")
	users.Post(user, "!auction-ended alice 120.00 painting")
	assert.Empty(t, push.deliveredTo("carol"))

	// Reconnect flushes the queue in order.
	push.setReachable("carol", true)
	_, err = users.Login("carol", newFakeSession("conn-2"))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"!new-bid 120.00 painting",
		"!auction-ended alice 120.00 painting",
	}, push.deliveredTo("carol"))
}

func TestPostBestEffortDropsUndeliverable(t *testing.T) {
	push := newFakePush()
	users := newTestUsers(push, false)

	user, err := users.Login("dave", newFakeSession("conn-1"))
	require.NoError(t, err)
	users.Disconnect(user)

	users.Post(user, "!new-bid 50.00 lamp")

	// Nothing queued: reconnecting delivers nothing.
	push.setReachable("dave", true)
	_, err = users.Login("dave", newFakeSession("conn-2"))
	require.NoError(t, err)
	assert.Empty(t, push.deliveredTo("dave"))
}

func TestActiveListsOnlyLoggedInWithWitnessEndpoint(t *testing.T) {
	users := newTestUsers(newFakePush(), true)

	alice, err := users.Login("alice", newFakeSession("conn-1"))
	require.NoError(t, err)
	alice.SetWitnessPort(8021)

	bob, err := users.Login("bob", newFakeSession("conn-2"))
	require.NoError(t, err)
	users.Logout(bob)

	active := users.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "127.0.0.1:8021 - alice", active[0])
}
