// Package account keeps the in-memory trading ledger: cash balance, open
// positions, trade history and the equity curve.
package account

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// sizeEpsilon treats float residue after netting as a closed position.
const sizeEpsilon = 1e-12

var ErrInvalidFill = errors.New("invalid fill")

// Account is the ledger. One writer (the execution router) mutates it;
// any number of readers take snapshots.
type Account struct {
	mu        sync.RWMutex
	initial   decimal.Decimal
	balance   decimal.Decimal
	positions map[string]*Position
	order     []string
	trades    []Trade
	equity    []float64
	now       func() time.Time
}

// New creates a ledger holding initial cash and no positions.
func New(initial float64) *Account {
	start := decimal.NewFromFloat(initial)
	return &Account{
		initial:   start,
		balance:   start,
		positions: make(map[string]*Position),
		now:       time.Now,
	}
}

// Snapshot copies balance, positions and equity history.
func (a *Account) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	positions := make([]Position, 0, len(a.order))
	for _, sym := range a.order {
		positions = append(positions, *a.positions[sym])
	}
	equity := make([]float64, len(a.equity))
	copy(equity, a.equity)

	return Snapshot{
		Balance:       a.balance,
		Positions:     positions,
		EquityHistory: equity,
		TradeCount:    len(a.trades),
		TakenAt:       a.now().UTC(),
	}
}

// Balance returns the current cash balance.
func (a *Account) Balance() decimal.Decimal {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.balance
}

// InitialBalance returns the starting cash.
func (a *Account) InitialBalance() decimal.Decimal {
	return a.initial
}

// Trades returns a copy of the trade history.
func (a *Account) Trades() []Trade {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Trade, len(a.trades))
	copy(out, a.trades)
	return out
}

// ApplyFill books an executed order. Buys debit price*size, sells credit it.
// The returned position is the symbol's position after the fill; when the
// fill closes the position it carries Size 0.
func (a *Account) ApplyFill(f Fill) (Position, Trade, error) {
	if f.Symbol == "" {
		return Position{}, Trade{}, fmt.Errorf("%w: symbol is required", ErrInvalidFill)
	}
	if f.Side != Buy && f.Side != Sell {
		return Position{}, Trade{}, fmt.Errorf("%w: unknown side %q", ErrInvalidFill, f.Side)
	}
	if !(f.Size > 0) || math.IsInf(f.Size, 0) {
		return Position{}, Trade{}, fmt.Errorf("%w: size must be positive, got %v", ErrInvalidFill, f.Size)
	}
	if f.Price < 0 || math.IsNaN(f.Price) || math.IsInf(f.Price, 0) {
		return Position{}, Trade{}, fmt.Errorf("%w: bad price %v", ErrInvalidFill, f.Price)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now().UTC()
	notional := decimal.NewFromFloat(f.Price).Mul(decimal.NewFromFloat(f.Size))
	if f.Side == Buy {
		a.balance = a.balance.Sub(notional)
	} else {
		a.balance = a.balance.Add(notional)
	}

	pos, realized := a.net(f, now)
	balanceAfter := a.balance.InexactFloat64()

	trade := Trade{
		ID:           uuid.NewString(),
		Symbol:       f.Symbol,
		Side:         f.Side,
		Size:         f.Size,
		Price:        f.Price,
		Notional:     notional.InexactFloat64(),
		RealizedPnL:  realized,
		BalanceAfter: balanceAfter,
		Timestamp:    now,
	}
	a.trades = append(a.trades, trade)
	a.equity = append(a.equity, balanceAfter)

	return pos, trade, nil
}

// net merges the fill into the symbol's position and returns the result and
// any realized pnl. Caller holds the write lock.
func (a *Account) net(f Fill, now time.Time) (Position, float64) {
	side := PositionSideFor(f.Side)
	cur, ok := a.positions[f.Symbol]
	if !ok {
		p := &Position{
			Symbol:     f.Symbol,
			Side:       side,
			Size:       f.Size,
			EntryPrice: f.Price,
			MarkPrice:  f.Price,
			OpenedAt:   now,
			UpdatedAt:  now,
		}
		a.positions[f.Symbol] = p
		a.order = append(a.order, f.Symbol)
		return *p, 0
	}

	if cur.Side == side {
		total := cur.Size + f.Size
		cur.EntryPrice = (cur.EntryPrice*cur.Size + f.Price*f.Size) / total
		cur.Size = total
		cur.MarkPrice = f.Price
		cur.UpdatedAt = now
		cur.revalue()
		return *cur, 0
	}

	closed := math.Min(cur.Size, f.Size)
	var realized float64
	if cur.Side == Long {
		realized = (f.Price - cur.EntryPrice) * closed
	} else {
		realized = (cur.EntryPrice - f.Price) * closed
	}

	remaining := cur.Size - f.Size
	switch {
	case math.Abs(remaining) <= sizeEpsilon:
		out := *cur
		out.Size = 0
		out.MarkPrice = f.Price
		out.PnL = 0
		out.UpdatedAt = now
		a.remove(f.Symbol)
		return out, realized
	case remaining > 0:
		cur.Size = remaining
		cur.MarkPrice = f.Price
		cur.UpdatedAt = now
		cur.revalue()
		return *cur, realized
	default:
		// Flip: the fill closes the old side and opens the rest on the other side.
		cur.Side = side
		cur.Size = -remaining
		cur.EntryPrice = f.Price
		cur.MarkPrice = f.Price
		cur.PnL = 0
		cur.OpenedAt = now
		cur.UpdatedAt = now
		return *cur, realized
	}
}

func (a *Account) remove(symbol string) {
	delete(a.positions, symbol)
	for i, s := range a.order {
		if s == symbol {
			a.order = append(a.order[:i], a.order[i+1:]...)
			return
		}
	}
}

// Mark revalues the open position in symbol at price. It reports whether a
// position was found.
func (a *Account) Mark(symbol string, price float64) bool {
	if price <= 0 {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.positions[symbol]
	if !ok {
		return false
	}
	p.MarkPrice = price
	p.UpdatedAt = a.now().UTC()
	p.revalue()
	return true
}
