package db

import "time"

// TradeRow is one booked trade in the trades table.
type TradeRow struct {
	ID           string    `json:"id"`
	Symbol       string    `json:"symbol"`
	Side         string    `json:"side"`
	Size         float64   `json:"size"`
	Price        float64   `json:"price"`
	Notional     float64   `json:"notional"`
	RealizedPnL  float64   `json:"realized_pnl"`
	BalanceAfter float64   `json:"balance_after"`
	ExecutedAt   time.Time `json:"executed_at"`
}

// TradeSummary aggregates the journal for one symbol, or all when Symbol is empty.
type TradeSummary struct {
	Symbol      string  `json:"symbol,omitempty"`
	Count       int     `json:"count"`
	Volume      float64 `json:"volume"`
	RealizedPnL float64 `json:"realized_pnl"`
}
