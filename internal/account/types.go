package account

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionSide is the direction of an open position.
type PositionSide string

const (
	Long  PositionSide = "LONG"
	Short PositionSide = "SHORT"
)

// TradeSide is the direction of a fill.
type TradeSide string

const (
	Buy  TradeSide = "BUY"
	Sell TradeSide = "SELL"
)

// PositionSideFor maps a fill direction onto the position it opens.
func PositionSideFor(side TradeSide) PositionSide {
	if side == Sell {
		return Short
	}
	return Long
}

// Position is an open holding in one symbol.
type Position struct {
	Symbol     string       `json:"symbol"`
	Side       PositionSide `json:"side"`
	Size       float64      `json:"size"`
	EntryPrice float64      `json:"entry_price"`
	MarkPrice  float64      `json:"mark_price"`
	PnL        float64      `json:"pnl"`
	OpenedAt   time.Time    `json:"opened_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// Signed returns the size as a signed quantity, negative for shorts.
func (p Position) Signed() float64 {
	if p.Side == Short {
		return -p.Size
	}
	return p.Size
}

// Value is the marked value contributed to equity (negative for shorts).
func (p Position) Value() float64 {
	return p.Signed() * p.MarkPrice
}

func (p *Position) revalue() {
	if p.Side == Short {
		p.PnL = (p.EntryPrice - p.MarkPrice) * p.Size
	} else {
		p.PnL = (p.MarkPrice - p.EntryPrice) * p.Size
	}
}

// Fill is an executed order applied to the ledger.
type Fill struct {
	Symbol string    `json:"symbol"`
	Side   TradeSide `json:"side"`
	Size   float64   `json:"size"`
	Price  float64   `json:"price"`
}

// Trade is one entry of the append-only trade history.
type Trade struct {
	ID           string    `json:"id"`
	Symbol       string    `json:"symbol"`
	Side         TradeSide `json:"side"`
	Size         float64   `json:"size"`
	Price        float64   `json:"price"`
	Notional     float64   `json:"notional"`
	RealizedPnL  float64   `json:"realized_pnl"`
	BalanceAfter float64   `json:"balance_after"`
	Timestamp    time.Time `json:"timestamp"`
}

// Snapshot is an independent copy of the ledger. Nothing in it aliases live state.
type Snapshot struct {
	Balance       decimal.Decimal `json:"balance"`
	Positions     []Position      `json:"positions"`
	EquityHistory []float64       `json:"equity_history"`
	TradeCount    int             `json:"trade_count"`
	TakenAt       time.Time       `json:"taken_at"`
}

// Position returns the open position for symbol, if any.
func (s Snapshot) Position(symbol string) (Position, bool) {
	for _, p := range s.Positions {
		if p.Symbol == symbol {
			return p, true
		}
	}
	return Position{}, false
}

// Equity is balance plus the marked value of open positions.
func (s Snapshot) Equity() float64 {
	eq := s.Balance.InexactFloat64()
	for _, p := range s.Positions {
		eq += p.Value()
	}
	return eq
}
