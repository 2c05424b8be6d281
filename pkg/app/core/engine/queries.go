package engine

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/acmedex/matchbook/pkg/app/core/ledger"
	"github.com/acmedex/matchbook/pkg/app/core/orderbook"
)

// RateView is the top-of-book order on each side. When a side is empty a
// synthetic order (id 0) at the oracle's reference price stands in, so
// market-impact estimation still has a price to work from. A nil side means
// no liquidity and no usable fallback.
type RateView struct {
	BestBidOrder *ledger.Order
	BestAskOrder *ledger.Order
}

// LevelView is one price level snapshot with its full FIFO order list.
type LevelView struct {
	Price  *uint256.Int
	Orders []*ledger.Order
}

// LatestRate returns the best live order on each side, falling back to the
// oracle reference price for an empty side.
func (e *Engine) LatestRate() RateView {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()

	return RateView{
		BestBidOrder: e.bestLiveOrder(orderbook.Buy, now),
		BestAskOrder: e.bestLiveOrder(orderbook.Sell, now),
	}
}

// bestLiveOrder walks side's levels in priority order and returns a copy of
// the first order that can still match, or a synthetic oracle-priced order
// when there is none.
func (e *Engine) bestLiveOrder(side orderbook.Side, now int64) *ledger.Order {
	var best *ledger.Order
	e.book.Walk(side, func(price *uint256.Int, ids []uint64) bool {
		for _, id := range ids {
			o, ok := e.ledger.Get(id)
			if !ok || !o.Live(now) {
				continue
			}
			best = o.Clone()
			return false
		}
		return true
	})
	if best != nil {
		return best
	}

	if e.feed == nil {
		return nil
	}
	rate, ok := e.feed.Latest()
	if !ok {
		return nil
	}
	return &ledger.Order{
		Side:   side,
		Kind:   ledger.Limit,
		Price:  rate.Price,
		Amount: uint256.NewInt(0),
		Filled: uint256.NewInt(0),
		Escrow: uint256.NewInt(0),
		Status: ledger.Open,
	}
}

// OrderBookSnapshot returns up to depth levels for side in priority order.
func (e *Engine) OrderBookSnapshot(depth int, side orderbook.Side) []LevelView {
	e.mu.Lock()
	defer e.mu.Unlock()

	levels := e.book.Snapshot(side, depth)
	out := make([]LevelView, 0, len(levels))
	for _, lv := range levels {
		view := LevelView{Price: lv.Price}
		for _, id := range lv.Orders {
			if o, ok := e.ledger.Get(id); ok {
				view.Orders = append(view.Orders, o.Clone())
			}
		}
		out = append(out, view)
	}
	return out
}

// OrderCountByUser returns owner's number of currently open orders.
func (e *Engine) OrderCountByUser(owner common.Address) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.OpenCount(owner)
}

// Order returns a copy of an open order, if present.
func (e *Engine) Order(id uint64) (*ledger.Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.ledger.Get(id)
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}
