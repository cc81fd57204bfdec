package models

import "time"

// Snapshot is a normalised order book frame with derived metrics. Bids and
// Asks are ordered best first. A snapshot is never modified after it is built.
type Snapshot struct {
	Symbol      string       `json:"symbol"`
	ServerTime  time.Time    `json:"server_time"`
	LocalTime   time.Time    `json:"local_time"`
	UpdateID    int64        `json:"update_id"`
	UpdateIDGap int64        `json:"update_id_gap"`
	Bids        []PriceLevel `json:"bids"`
	Asks        []PriceLevel `json:"asks"`

	BestBid     float64 `json:"best_bid"`
	BestBidSize float64 `json:"best_bid_size"`
	BestAsk     float64 `json:"best_ask"`
	BestAskSize float64 `json:"best_ask_size"`
	Spread      float64 `json:"spread"`
	SpreadBps   float64 `json:"spread_bps"`
	MidPrice    float64 `json:"mid_price"`

	BidVolume       float64 `json:"bid_volume"`
	AskVolume       float64 `json:"ask_volume"`
	BidValue        float64 `json:"bid_value"`
	AskValue        float64 `json:"ask_value"`
	VolumeImbalance float64 `json:"volume_imbalance"`
	ValueImbalance  float64 `json:"value_imbalance"`

	BidSlope   float64 `json:"bid_slope"`
	AskSlope   float64 `json:"ask_slope"`
	BookSkew   float64 `json:"book_skew"`
	DepthAtPct float64 `json:"depth_at_pct"`
	DepthAtBps float64 `json:"depth_at_bps"`

	SupportLevel    *float64 `json:"support_level,omitempty"`
	ResistanceLevel *float64 `json:"resistance_level,omitempty"`

	// WhaleImbalance is whale bids minus whale asks at the builder's threshold.
	WhaleImbalance int `json:"whale_imbalance"`
}

// TotalDepthValue is the quote value resting on both sides.
func (s *Snapshot) TotalDepthValue() float64 {
	return s.BidValue + s.AskValue
}

// Side returns the levels of one side.
func (s *Snapshot) Side(side Side) []PriceLevel {
	if side == SideAsk {
		return s.Asks
	}
	return s.Bids
}

// WhaleLevel is a level whose value crossed the whale threshold.
type WhaleLevel struct {
	Side             Side    `json:"side"`
	Price            float64 `json:"price"`
	Size             float64 `json:"size"`
	Value            float64 `json:"value"`
	Level            int     `json:"level"`
	PercentageOfBook float64 `json:"percentage_of_book"`
	Mega             bool    `json:"mega"`
}
