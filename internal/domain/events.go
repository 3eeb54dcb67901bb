package domain

import "time"

type EventType string

const (
	AuctionStarted   EventType = "AUCTION_STARTED"
	AuctionEnded     EventType = "AUCTION_ENDED"
	BidPlaced        EventType = "BID_PLACED"
	BidOverbid       EventType = "BID_OVERBID"
	BidWon           EventType = "BID_WON"
	UserLogin        EventType = "USER_LOGIN"
	UserLogout       EventType = "USER_LOGOUT"
	UserDisconnected EventType = "USER_DISCONNECTED"
)

// Event is what the server reports to the analytics collaborator.
type Event struct {
	Type      EventType `json:"type"`
	User      string    `json:"user,omitempty"`
	AuctionID int64     `json:"auction_id,omitempty"`
	Amount    float64   `json:"amount,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
