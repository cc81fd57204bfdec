package models

import "time"

// Side of the book a level or whale sits on.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// RawLevel is a price/size pair exactly as received from the feed.
type RawLevel struct {
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
}

// RawDepthUpdate is the exchange neutral depth message every source produces.
// UpdateID must increase monotonically per symbol.
type RawDepthUpdate struct {
	Symbol     string     `json:"symbol"`
	EventTime  int64      `json:"event_time"`
	UpdateID   int64      `json:"update_id"`
	Bids       []RawLevel `json:"bids"`
	Asks       []RawLevel `json:"asks"`
	ReceivedAt time.Time  `json:"received_at"`
	Bytes      int        `json:"-"`
}

// PriceLevel is a parsed level of the book.
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// Value is the level's notional in quote currency.
func (l PriceLevel) Value() float64 {
	return l.Price * l.Size
}
