// Package protocol holds the command tags, response sentinels and push
// notice tags exchanged between auction clients and the server. Frames are
// space-delimited text lines, base64 wrapped on the wire.
package protocol

import "fmt"

const (
	// Nonce length for both handshake challenges.
	ChallengeSize = 32
	// AES key size in bytes for the negotiated session cipher.
	SessionKeySize = 32
	// AES block size, length of the negotiated IV.
	SessionIVSize = 16
)

// Commands.
const (
	CmdLogin       = "!login"
	CmdLogout      = "!logout"
	CmdList        = "!list"
	CmdCreate      = "!create"
	CmdBid         = "!bid"
	CmdGroupBid    = "!groupBid"
	CmdConfirm     = "!confirm"
	CmdSignedBid   = "!signedBid"
	CmdPushAddr    = "!udp"
	CmdActiveUsers = "!getClientList"

	CmdGetTimestamp = "!getTimestamp"
)

// Response sentinels.
const (
	RespSuccess   = "!ok"
	RespFail      = "!fail"
	RespNoAuction = "!no-auction"
	RespBlock     = "!block"
	RespConfirmed = "!confirmed"
	RespRejected  = "!rejected"
	RespTimestamp = "!timestamp"
)

// Push notice tags, sent asynchronously over the side channel.
const (
	NoticeOverbid    = "!new-bid"
	NoticeAuctionEnd = "!auction-ended"
	NoticeConfirmed  = "!confirmed"
	NoticeRejected   = "!rejected"
)

// StampMessage is the exact byte string a witness signs for an offline
// bid. Witnesses and the server must agree on it down to the amount
// formatting.
func StampMessage(auctionID int64, amount float64, timeMilli int64) []byte {
	return []byte(fmt.Sprintf("%s %d %.2f %d", RespTimestamp, auctionID, amount, timeMilli))
}
