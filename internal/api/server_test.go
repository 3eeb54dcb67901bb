package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auctionhouse/internal/billing"
	"auctionhouse/internal/domain"
	"auctionhouse/internal/push"
	"auctionhouse/pkg/logger"
)

type fakeAuctions struct {
	views []domain.AuctionView
}

func (f *fakeAuctions) List() []domain.AuctionView { return f.views }

type fakeMembership struct {
	loggedIn map[string]bool
}

func (f *fakeMembership) Active() []string {
	var out []string
	for name := range f.loggedIn {
		out = append(out, name)
	}
	return out
}

func (f *fakeMembership) IsLoggedIn(name string) bool { return f.loggedIn[name] }

func newTestServer(t *testing.T) (*Server, *fakeAuctions, *fakeMembership, *push.WSManager) {
	t.Helper()
	log := logger.NewNop()
	auctions := &fakeAuctions{}
	members := &fakeMembership{loggedIn: make(map[string]bool)}
	bills := billing.NewService(billing.NewMemoryStore(), log)
	sockets := push.NewWSManager(log)
	return NewServer(auctions, members, bills, sockets, log), auctions, members, sockets
}

func TestHealth(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	s.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestListAuctions(t *testing.T) {
	s, auctions, _, _ := newTestServer(t)
	end := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	auctions.views = []domain.AuctionView{
		{ID: 1, Description: "painting", Owner: "alice", EndTime: end, HighestBid: 120, HighestBidder: "bob"},
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auctions", nil)
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var got []auctionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].ID)
	assert.Equal(t, "bob", got[0].HighestBidder)
	assert.Equal(t, 120.0, got[0].HighestBid)
}

func TestAttachSocketRequiresLoggedInUser(t *testing.T) {
	s, _, members, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ws/notifications?user=ghost", nil)
	s.echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	members.loggedIn["ghost"] = true
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/ws/notifications", nil)
	s.echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAttachedSocketReceivesPushes(t *testing.T) {
	s, _, members, sockets := newTestServer(t)
	members.loggedIn["alice"] = true

	ts := httptest.NewServer(s.echo)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/notifications?user=alice"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	alice := domain.NewUser("alice")
	require.Eventually(t, func() bool {
		return sockets.Push(alice, "!new-bid 150.00 painting")
	}, 2*time.Second, 20*time.Millisecond)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, message, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "!new-bid 150.00 painting", string(message))
}
