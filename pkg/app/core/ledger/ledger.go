// Package ledger owns the order records and the per-owner open-order index.
// Orders are created on admission, mutated only by the matching engine, and
// leave the open indices when they close; closed records are retained for
// audit.
package ledger

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/acmedex/matchbook/pkg/app/core/orderbook"
)

type Kind int8

const (
	Limit Kind = iota
	Market
)

func (k Kind) String() string {
	switch k {
	case Limit:
		return "limit"
	case Market:
		return "market"
	default:
		return "unknown"
	}
}

type Status int8

const (
	Open Status = iota
	PartiallyFilled
	Filled
	Cancelled
	Expired
)

func (s Status) String() string {
	switch s {
	case Open:
		return "open"
	case PartiallyFilled:
		return "partially_filled"
	case Filled:
		return "filled"
	case Cancelled:
		return "cancelled"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Order is the canonical order record. Amounts and prices are WAD-scaled.
// Escrow is the value still held for the unfilled part: quote for bids,
// base for asks. Refunded on cancel or expiry.
type Order struct {
	ID        uint64          `json:"id"`
	Owner     common.Address  `json:"owner"`
	Side      orderbook.Side  `json:"side"`
	Kind      Kind            `json:"kind"`
	Price     *uint256.Int    `json:"price"`
	Amount    *uint256.Int    `json:"amount"`
	Filled    *uint256.Int    `json:"filled"`
	Escrow    *uint256.Int    `json:"escrow"`
	ExpiresAt int64           `json:"expiresAt"`
	Status    Status          `json:"status"`
	CreatedAt int64           `json:"createdAt"`
	UpdatedAt int64           `json:"updatedAt"`
}

// Clone returns a deep copy safe to hand outside the engine's lock.
func (o *Order) Clone() *Order {
	cp := *o
	if o.Price != nil {
		cp.Price = o.Price.Clone()
	}
	if o.Amount != nil {
		cp.Amount = o.Amount.Clone()
	}
	if o.Filled != nil {
		cp.Filled = o.Filled.Clone()
	}
	if o.Escrow != nil {
		cp.Escrow = o.Escrow.Clone()
	}
	return &cp
}

// Remaining returns the unfilled amount.
func (o *Order) Remaining() *uint256.Int {
	return new(uint256.Int).Sub(o.Amount, o.Filled)
}

// IsClosed reports whether the order has left the active indices.
func (o *Order) IsClosed() bool {
	return o.Status == Filled || o.Status == Cancelled || o.Status == Expired
}

// IsExpired reports whether the order's time limit has passed at now.
// Expired orders are inert for matching even before they are reaped.
func (o *Order) IsExpired(now int64) bool {
	return o.ExpiresAt != 0 && o.ExpiresAt <= now
}

// Live reports whether the order may still match at now.
func (o *Order) Live(now int64) bool {
	return !o.IsClosed() && !o.IsExpired(now)
}

// Ledger indexes open orders by id and by owner.
type Ledger struct {
	orders  map[uint64]*Order
	byOwner map[common.Address]map[uint64]struct{}
}

func New() *Ledger {
	return &Ledger{
		orders:  make(map[uint64]*Order),
		byOwner: make(map[common.Address]map[uint64]struct{}),
	}
}

// Add registers an open order and increments its owner's open count.
func (l *Ledger) Add(o *Order) {
	l.orders[o.ID] = o
	set, ok := l.byOwner[o.Owner]
	if !ok {
		set = make(map[uint64]struct{})
		l.byOwner[o.Owner] = set
	}
	set[o.ID] = struct{}{}
}

// Get returns the open order with the given id.
func (l *Ledger) Get(id uint64) (*Order, bool) {
	o, ok := l.orders[id]
	return o, ok
}

// Close removes the order from the active indices. The caller sets the
// terminal status first; Close is a no-op for unknown ids.
func (l *Ledger) Close(id uint64) {
	o, ok := l.orders[id]
	if !ok {
		return
	}
	delete(l.orders, id)
	if set, ok := l.byOwner[o.Owner]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(l.byOwner, o.Owner)
		}
	}
}

// OpenCount returns the owner's number of currently open orders.
func (l *Ledger) OpenCount(owner common.Address) int {
	return len(l.byOwner[owner])
}

// OpenOrders returns every open order. Iteration order is unspecified.
func (l *Ledger) OpenOrders() []*Order {
	out := make([]*Order, 0, len(l.orders))
	for _, o := range l.orders {
		out = append(out, o)
	}
	return out
}
