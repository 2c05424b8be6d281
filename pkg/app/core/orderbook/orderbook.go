// Package orderbook maintains sorted price levels with FIFO queues per level.
// It indexes order ids only; order records live in the ledger. Bids are
// ordered by descending price, asks by ascending price, and a level with an
// empty queue is removed immediately.
package orderbook

import (
	"container/heap"
	"sort"

	"github.com/holiman/uint256"
)

type Side int8

const (
	Buy  Side = 1
	Sell Side = -1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// Opposite returns the side a taker on s matches against.
func (s Side) Opposite() Side { return -s }

// Level is a snapshot of one price level: the price and the resting order
// ids in strict arrival order.
type Level struct {
	Price  *uint256.Int
	Orders []uint64
}

// priceKey is the big-endian form of a price, so map keys stay comparable.
type priceKey [32]byte

func keyOf(p *uint256.Int) priceKey { return p.Bytes32() }

type Book struct {
	// Heap-based best price tracking (O(1) peek)
	bidHeap *MaxPriceHeap
	askHeap *MinPriceHeap

	// Price level queues (FIFO matching at each price)
	bids map[priceKey][]uint64
	asks map[priceKey][]uint64

	// Order index for O(1) cancellation lookup
	index map[uint64]entry
}

type entry struct {
	side  Side
	price *uint256.Int
}

func NewBook() *Book {
	bidHeap := &MaxPriceHeap{}
	askHeap := &MinPriceHeap{}
	heap.Init(bidHeap)
	heap.Init(askHeap)

	return &Book{
		bidHeap: bidHeap,
		askHeap: askHeap,
		bids:    make(map[priceKey][]uint64),
		asks:    make(map[priceKey][]uint64),
		index:   make(map[uint64]entry),
	}
}

func (b *Book) levels(side Side) map[priceKey][]uint64 {
	if side == Buy {
		return b.bids
	}
	return b.asks
}

// Empty reports whether side has no resting orders at all.
func (b *Book) Empty(side Side) bool {
	if side == Buy {
		return b.bidHeap.Len() == 0
	}
	return b.askHeap.Len() == 0
}

// Len returns the number of resting orders on side.
func (b *Book) Len(side Side) int {
	n := 0
	for _, q := range b.levels(side) {
		n += len(q)
	}
	return n
}

// Contains reports whether id is resting in the book.
func (b *Book) Contains(id uint64) bool {
	_, ok := b.index[id]
	return ok
}

// BestPrice returns the top-of-book price for side: the highest bid or the
// lowest ask.
func (b *Book) BestPrice(side Side) (*uint256.Int, bool) {
	if side == Buy {
		if b.bidHeap.Len() == 0 {
			return nil, false
		}
		return b.bidHeap.Peek(), true
	}
	if b.askHeap.Len() == 0 {
		return nil, false
	}
	return b.askHeap.Peek(), true
}

// Best returns the top-of-book level for side, queue included.
func (b *Book) Best(side Side) (Level, bool) {
	p, ok := b.BestPrice(side)
	if !ok {
		return Level{}, false
	}
	q := b.levels(side)[keyOf(p)]
	return Level{Price: p.Clone(), Orders: append([]uint64(nil), q...)}, true
}

// Insert appends id to the FIFO queue at price, creating the level if it is
// the first order there. The price value is not retained by the caller's
// reference.
func (b *Book) Insert(side Side, price *uint256.Int, id uint64) {
	p := price.Clone()
	k := keyOf(p)
	lv := b.levels(side)
	if len(lv[k]) == 0 {
		if side == Buy {
			heap.Push(b.bidHeap, p)
		} else {
			heap.Push(b.askHeap, p)
		}
	}
	lv[k] = append(lv[k], id)
	b.index[id] = entry{side: side, price: p}
}

// PopFront removes and returns the head of the queue at price, deleting the
// level when it empties.
func (b *Book) PopFront(side Side, price *uint256.Int) (uint64, bool) {
	k := keyOf(price)
	lv := b.levels(side)
	q := lv[k]
	if len(q) == 0 {
		return 0, false
	}
	id := q[0]
	if len(q) == 1 {
		delete(lv, k)
		b.dropFromHeap(side, price)
	} else {
		lv[k] = q[1:]
	}
	delete(b.index, id)
	return id, true
}

// Remove deletes id from wherever it rests, for out-of-order cancellation.
// O(queue length) at the order's level.
func (b *Book) Remove(id uint64) bool {
	e, ok := b.index[id]
	if !ok {
		return false
	}
	k := keyOf(e.price)
	lv := b.levels(e.side)
	q := lv[k]
	for i, qid := range q {
		if qid != id {
			continue
		}
		q = append(q[:i], q[i+1:]...)
		if len(q) == 0 {
			delete(lv, k)
			b.dropFromHeap(e.side, e.price)
		} else {
			lv[k] = q
		}
		delete(b.index, id)
		return true
	}
	return false
}

// dropFromHeap removes one price from the side's heap (O(N), rare: only when
// a level empties).
func (b *Book) dropFromHeap(side Side, price *uint256.Int) {
	if side == Buy {
		for i := 0; i < b.bidHeap.Len(); i++ {
			if (*b.bidHeap)[i].Eq(price) {
				heap.Remove(b.bidHeap, i)
				return
			}
		}
		return
	}
	for i := 0; i < b.askHeap.Len(); i++ {
		if (*b.askHeap)[i].Eq(price) {
			heap.Remove(b.askHeap, i)
			return
		}
	}
}

// sortedPrices returns side's level prices in priority order: bids high to
// low, asks low to high.
func (b *Book) sortedPrices(side Side) []*uint256.Int {
	var prices []*uint256.Int
	if side == Buy {
		prices = append(prices, *b.bidHeap...)
	} else {
		prices = append(prices, *b.askHeap...)
	}
	sort.Slice(prices, func(i, j int) bool {
		if side == Buy {
			return prices[i].Gt(prices[j])
		}
		return prices[i].Lt(prices[j])
	})
	return prices
}

// Walk visits side's levels in priority order without mutating the book.
// fn returns false to stop. The engine uses this as its read-only planning
// pass so a failed match leaves no trace.
func (b *Book) Walk(side Side, fn func(price *uint256.Int, orders []uint64) bool) {
	lv := b.levels(side)
	for _, p := range b.sortedPrices(side) {
		q := lv[keyOf(p)]
		if len(q) == 0 {
			continue
		}
		if !fn(p, q) {
			return
		}
	}
}

// Snapshot returns up to depth levels in priority order, each with its full
// FIFO queue.
func (b *Book) Snapshot(side Side, depth int) []Level {
	lv := b.levels(side)
	out := make([]Level, 0, depth)
	for _, p := range b.sortedPrices(side) {
		if len(out) == depth {
			break
		}
		q := lv[keyOf(p)]
		out = append(out, Level{Price: p.Clone(), Orders: append([]uint64(nil), q...)})
	}
	return out
}
