package risk

import (
	"fmt"
	"strings"
)

// Side is the direction of an order request.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ParseSide accepts buy/sell in any case.
func ParseSide(s string) (Side, bool) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, true
	case SideSell:
		return SideSell, true
	}
	return "", false
}

// OrderType is market or limit.
type OrderType string

const (
	OrderMarket OrderType = "market"
	OrderLimit  OrderType = "limit"
)

// OrderRequest is a proposed order. Price 0 means unknown (market order
// without a quote), which skips notional checks.
type OrderRequest struct {
	Symbol string    `json:"symbol"`
	Side   Side      `json:"side"`
	Amount float64   `json:"amount"`
	Price  float64   `json:"price,omitempty"`
	Type   OrderType `json:"order_type"`
}

// Limits are the configured thresholds. Zero disables a limit.
type Limits struct {
	MaxOrderUSD      float64 `json:"max_order_usd"`
	MaxPositionUSD   float64 `json:"max_position_usd"`
	MaxOrderQty      float64 `json:"max_order_qty"`
	MaxOpenPositions int     `json:"max_open_positions"`
}

// DefaultLimits mirrors the MAX_ORDER_USD / MAX_POSITION_USD defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxOrderUSD:    10000,
		MaxPositionUSD: 50000,
	}
}

// Decision is an accepted order.
type Decision struct {
	ApprovedAmount float64 `json:"approved_amount"`
	Notional       float64 `json:"notional"`
	ResultingSize  float64 `json:"resulting_size"`
	ResultingSide  string  `json:"resulting_side"`
	Clamped        bool    `json:"clamped"`
}

// Stats counts checks since start.
type Stats struct {
	ChecksTotal     uint64 `json:"checks_total"`
	RejectionsTotal uint64 `json:"rejections_total"`
	ClampsTotal     uint64 `json:"clamps_total"`
}

// ValidationError is a malformed order. It is never retried.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid order: %s %s", e.Field, e.Msg)
}

func (e *ValidationError) Retryable() bool { return false }

// RiskLimitError is a business rejection carrying the violated figures.
type RiskLimitError struct {
	Limit  string
	Symbol string
	Value  float64
	Max    float64
}

func (e *RiskLimitError) Error() string {
	return fmt.Sprintf("risk limit %s exceeded for %s: %.2f > %.2f", e.Limit, e.Symbol, e.Value, e.Max)
}

func (e *RiskLimitError) Retryable() bool { return false }
