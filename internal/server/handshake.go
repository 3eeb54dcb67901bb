package server

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"

	"auctionhouse/internal/crypto"
	"auctionhouse/internal/protocol"
)

// login runs the server side of the session handshake. The inbound frame
// was RSA-decrypted by the command loop:
//
//	C -> S  !login <name> <witnessPort> <clientChallenge>   (RSA, server key)
//	S -> C  !ok <clientChallenge> <serverChallenge> <key> <iv>  (RSA, client key)
//	C -> S  <serverChallenge>                               (session cipher)
//
// Both peers install the session cipher before the final confirmation is
// exchanged; the server only registers the identity once the echoed
// challenge matches.
func (h *handler) login(tokens []string) {
	if len(tokens) < 4 {
		h.reply(protocol.RespFail)
		return
	}

	name := tokens[1]
	witnessPort, err := strconv.Atoi(tokens[2])
	if err != nil {
		h.reply(protocol.RespFail)
		return
	}
	clientChallenge, err := base64.StdEncoding.DecodeString(tokens[3])
	if err != nil || len(clientChallenge) != protocol.ChallengeSize {
		h.reply(protocol.RespFail)
		return
	}

	// Refuse rather than displace: a live session under this name means a
	// replayed login must not hijack it.
	if h.srv.users.IsLoggedIn(name) {
		h.reply(protocol.RespFail)
		return
	}

	// An unresolvable key still completes the round trip with a visible
	// failure instead of leaving the client (and this worker) hanging.
	clientKey, err := h.srv.keys.PublicKey(name)
	if err != nil {
		h.srv.log.Info("Public key could not be resolved", "user", name, "error", err)
		h.reply(protocol.RespFail)
		return
	}

	serverChallenge, err := crypto.GenerateNonce(protocol.ChallengeSize)
	if err != nil {
		h.reply(protocol.RespFail)
		return
	}
	sessionKey, err := crypto.GenerateNonce(protocol.SessionKeySize)
	if err != nil {
		h.reply(protocol.RespFail)
		return
	}
	iv, err := crypto.GenerateNonce(protocol.SessionIVSize)
	if err != nil {
		h.reply(protocol.RespFail)
		return
	}

	challenge := fmt.Sprintf("%s %s %s %s %s",
		protocol.RespSuccess,
		base64.StdEncoding.EncodeToString(clientChallenge),
		base64.StdEncoding.EncodeToString(serverChallenge),
		base64.StdEncoding.EncodeToString(sessionKey),
		base64.StdEncoding.EncodeToString(iv),
	)
	wrapped, err := crypto.EncryptRSA(clientKey, []byte(challenge))
	if err != nil {
		h.reply(protocol.RespFail)
		return
	}
	if err := h.conn.Send(wrapped); err != nil {
		return
	}

	// Switch the transport encoding before reading the confirmation; the
	// client's reply already travels under the session cipher.
	cipher, err := crypto.NewSessionCipher(sessionKey, iv, false)
	if err != nil {
		h.reply(protocol.RespFail)
		return
	}
	h.conn.Channel().Install(cipher)

	reply, err := h.conn.Read()
	if err != nil {
		h.conn.Channel().Clear()
		return
	}
	echoed, err := base64.StdEncoding.DecodeString(string(reply))
	if err != nil || subtle.ConstantTimeCompare(echoed, serverChallenge) != 1 {
		h.srv.log.Info("Handshake challenge mismatch", "user", name)
		// Failure sentinel still travels under the session cipher the
		// client just installed, then the channel drops back to plaintext.
		h.reply(protocol.RespFail)
		h.conn.Channel().Clear()
		return
	}

	user, err := h.srv.users.Login(name, h.conn)
	if err != nil {
		// Lost a concurrent login race for the same name.
		h.reply(protocol.RespFail)
		h.conn.Channel().Clear()
		return
	}
	user.SetWitnessPort(witnessPort)
	h.user = user

	h.srv.log.Info("Handshake complete", "user", name, "conn_id", h.conn.ID())
}
