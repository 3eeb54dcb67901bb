package server

import (
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"auctionhouse/internal/crypto"
	"auctionhouse/internal/domain"
	"auctionhouse/internal/groupbid"
	"auctionhouse/internal/protocol"
)

// handler runs the command loop for one connection.
type handler struct {
	srv  *Server
	conn *Connection
	user *domain.User
}

func newHandler(srv *Server, conn *Connection) *handler {
	return &handler{srv: srv, conn: conn}
}

// run reads frames until the peer goes away, then unconditionally releases
// the connection's resources. A transport failure counts as an implicit
// logout: the identity record survives, only the session binding is cut.
func (h *handler) run() {
	defer func() {
		if h.user != nil {
			h.srv.users.Disconnect(h.user)
			h.user = nil
		}
		h.conn.Close()
	}()

	for {
		frame, err := h.conn.Read()
		if err != nil {
			h.srv.log.Debug("Client disconnected", "conn_id", h.conn.ID())
			return
		}
		h.process(frame)
	}
}

func (h *handler) process(frame []byte) {
	tokens := strings.Fields(string(frame))
	if len(tokens) == 0 {
		h.reply(protocol.RespFail)
		return
	}

	switch tokens[0] {
	case protocol.CmdLogout:
		h.logout()
	case protocol.CmdCreate:
		h.createAuction(tokens)
	case protocol.CmdList:
		h.listAuctions()
	case protocol.CmdBid:
		h.bid(tokens)
	case protocol.CmdGroupBid:
		h.groupBid(tokens)
	case protocol.CmdConfirm:
		h.confirm(tokens)
	case protocol.CmdSignedBid:
		h.signedBid(tokens)
	case protocol.CmdPushAddr:
		h.setPushAddr(tokens)
	case protocol.CmdActiveUsers:
		h.listActiveUsers()
	default:
		// Not a known plaintext command: the only remaining legal frame is
		// an RSA-wrapped login request.
		plaintext, err := crypto.DecryptRSA(h.srv.privateKey, frame)
		if err != nil {
			h.reply(protocol.RespFail)
			return
		}
		loginTokens := strings.Fields(string(plaintext))
		if len(loginTokens) == 0 || loginTokens[0] != protocol.CmdLogin {
			h.reply(protocol.RespFail)
			return
		}
		h.login(loginTokens)
	}
}

// requireAuth rejects (never silently drops) a command from a connection
// that has not completed the handshake.
func (h *handler) requireAuth() bool {
	if h.user == nil {
		h.reply(protocol.RespFail)
		return false
	}
	return true
}

func (h *handler) logout() {
	if h.user != nil {
		h.srv.users.Logout(h.user)
		h.user = nil
	}
	h.conn.Channel().Clear()
	h.reply(protocol.RespSuccess)
}

func (h *handler) createAuction(tokens []string) {
	// !create <durationSeconds> <description>
	if !h.requireAuth() {
		return
	}
	if len(tokens) < 3 {
		h.reply(protocol.RespFail)
		return
	}

	duration, err := strconv.Atoi(tokens[1])
	if err != nil || duration < 1 {
		h.reply(protocol.RespFail)
		return
	}
	description := strings.Join(tokens[2:], " ")

	auction, err := h.srv.auctions.Create(h.user, description, time.Duration(duration)*time.Second)
	if err != nil {
		h.reply(protocol.RespFail)
		return
	}

	h.reply(fmt.Sprintf("%s %d %s", protocol.RespSuccess, auction.ID, auction.EndTime.Format(time.RFC3339)))
}

func (h *handler) listAuctions() {
	if !h.requireAuth() {
		return
	}

	hmacKey, err := h.srv.keys.SharedHMACKey(h.user.Name)
	if err != nil {
		h.srv.log.Warn("Shared key could not be read", "user", h.user.Name, "error", err)
		h.reply(protocol.RespFail)
		return
	}

	views := h.srv.auctions.List()
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	pending := h.srv.coordinator.Pending()

	lines := make([]string, 0, len(views)+len(pending))
	for _, v := range views {
		bidder := v.HighestBidder
		if bidder == "" {
			bidder = "none"
		}
		lines = append(lines, fmt.Sprintf("%d. '%s' by %s %s %.2f %s",
			v.ID, v.Description, v.Owner, v.EndTime.Format(time.RFC3339), v.HighestBid, bidder))
	}
	for _, p := range pending {
		lines = append(lines, fmt.Sprintf("Group bid on %d by %s %.2f - %d confirms remaining",
			p.AuctionID, p.Initiator, p.Amount, p.ConfirmsRemaining))
	}

	header := strconv.Itoa(len(lines))
	h.reply(protocol.RespSuccess)
	h.reply(header)
	for _, line := range lines {
		h.reply(line)
	}

	// Whole response body is covered by a keyed integrity tag so the caller
	// can detect tampering in transit.
	var body strings.Builder
	body.WriteString(protocol.RespSuccess)
	body.WriteByte('\n')
	body.WriteString(header)
	body.WriteByte('\n')
	for _, line := range lines {
		body.WriteString(line)
		body.WriteByte('\n')
	}
	tag := crypto.HMAC([]byte(body.String()), hmacKey)
	h.reply(base64.StdEncoding.EncodeToString(tag))
}

func (h *handler) bid(tokens []string) {
	// !bid <auctionId> <amount>
	if !h.requireAuth() {
		return
	}
	id, amount, ok := parseIDAmount(tokens)
	if !ok {
		h.reply(protocol.RespFail)
		return
	}

	auction := h.srv.auctions.Get(id)
	if auction == nil || auction.HasEnded(time.Now()) {
		h.reply(protocol.RespNoAuction)
		return
	}

	accepted, err := h.srv.auctions.Bid(h.user, auction, amount)
	if err != nil {
		h.reply(protocol.RespFail)
		return
	}

	view := auction.Snapshot()
	status := protocol.RespFail
	if accepted {
		status = protocol.RespSuccess
	}
	h.reply(fmt.Sprintf("%s %.2f %s", status, view.HighestBid, view.Description))
}

func (h *handler) groupBid(tokens []string) {
	// !groupBid <auctionId> <amount>
	if !h.requireAuth() {
		return
	}
	id, amount, ok := parseIDAmount(tokens)
	if !ok {
		h.reply(protocol.RespFail)
		return
	}

	auction := h.srv.auctions.Get(id)
	if auction == nil || auction.HasEnded(time.Now()) {
		h.reply(protocol.RespNoAuction)
		return
	}

	// Provisional acknowledgement; Place may block on the permit pool.
	h.reply(protocol.RespBlock)
	h.srv.coordinator.Place(auction, h.user, amount)
	h.reply(fmt.Sprintf("%s %.2f %s", protocol.RespSuccess, amount, auction.Description))
}

func (h *handler) confirm(tokens []string) {
	// !confirm <auctionId> <amount> <initiatorName>
	if !h.requireAuth() {
		return
	}
	if len(tokens) < 4 {
		h.reply(protocol.RespFail)
		return
	}
	id, amount, ok := parseIDAmount(tokens)
	if !ok {
		h.reply(protocol.RespFail)
		return
	}
	initiator := tokens[3]

	result, err := h.srv.coordinator.Confirm(h.user, id, amount, initiator)
	if err != nil {
		var confirmErr *groupbid.ConfirmError
		if errors.As(err, &confirmErr) {
			h.srv.log.Info("Confirm contract violation", "user", h.user.Name, "error", err)
		}
		h.reply(protocol.RespFail)
		return
	}

	switch result {
	case groupbid.ResultConfirmed:
		h.reply(protocol.RespConfirmed)
	case groupbid.ResultNotAllowed:
		h.reply(protocol.RespBlock)
	default:
		h.reply(fmt.Sprintf("%s Bid on auction %d failed.", protocol.RespRejected, id))
	}
}

func (h *handler) signedBid(tokens []string) {
	// !signedBid <auctionId> <amount> <stamp1> <stamp2>
	if !h.requireAuth() {
		return
	}
	if len(tokens) < 5 {
		h.reply(protocol.RespFail)
		return
	}
	id, amount, ok := parseIDAmount(tokens)
	if !ok {
		h.reply(protocol.RespFail)
		return
	}

	// Closed auctions stay resolvable: a signed bid authored before the end
	// time counts even when it arrives after the close.
	auction := h.srv.auctions.Lookup(id)
	if auction == nil {
		h.reply(protocol.RespNoAuction)
		return
	}

	stampTime, err := h.validateStamps(id, amount, tokens[3], tokens[4])
	if err != nil {
		h.srv.log.Info("Rejected signed bid", "auction_id", id, "user", h.user.Name, "error", err)
		h.reply(protocol.RespFail)
		return
	}

	if !stampTime.Before(auction.EndTime) {
		h.reply(protocol.RespFail)
		return
	}

	accepted, err := h.srv.auctions.Bid(h.user, auction, amount)
	if err != nil || !accepted {
		h.reply(protocol.RespFail)
		return
	}
	h.reply(fmt.Sprintf("%s %.2f %s", protocol.RespSuccess, amount, auction.Description))
}

func (h *handler) setPushAddr(tokens []string) {
	// !udp <port>
	if !h.requireAuth() {
		return
	}
	if len(tokens) < 2 {
		h.reply(protocol.RespFail)
		return
	}
	port, err := strconv.Atoi(tokens[1])
	if err != nil || port < 1 || port > 65535 {
		h.reply(protocol.RespFail)
		return
	}
	h.user.SetPushPort(port)
	h.reply(protocol.RespSuccess)
}

func (h *handler) listActiveUsers() {
	if !h.requireAuth() {
		return
	}
	active := h.srv.users.Active()
	sort.Strings(active)

	h.reply(protocol.RespSuccess)
	h.reply(strconv.Itoa(len(active)))
	for _, line := range active {
		h.reply(line)
	}
}

func (h *handler) reply(message string) {
	if err := h.conn.Send([]byte(message)); err != nil {
		h.srv.log.Debug("Failed to write response", "conn_id", h.conn.ID(), "error", err)
	}
}

func parseIDAmount(tokens []string) (int64, float64, bool) {
	if len(tokens) < 3 {
		return 0, 0, false
	}
	id, err := strconv.ParseInt(tokens[1], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	amount, err := strconv.ParseFloat(tokens[2], 64)
	if err != nil || amount < 0.01 {
		return 0, 0, false
	}
	return id, amount, true
}
