// Package engine is the matching engine and order-book state machine. It
// admits orders, sweeps the book with price-time priority, assesses the
// protocol fee, and reports the transfers the external funds ledger must
// perform. One order-affecting call runs at a time; matching is planned
// against a read-only view of the book and applied only after every
// computation has succeeded, so a failed call leaves no trace.
package engine

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/acmedex/matchbook/pkg/app/core/ledger"
	"github.com/acmedex/matchbook/pkg/app/core/market"
	"github.com/acmedex/matchbook/pkg/app/core/orderbook"
	"github.com/acmedex/matchbook/pkg/app/core/settle"
	"github.com/acmedex/matchbook/pkg/fixedpoint"
	"github.com/acmedex/matchbook/pkg/oracle"
	"github.com/acmedex/matchbook/pkg/util"
)

// Store is the persistence the engine writes through on every mutation.
type Store interface {
	NextOrderID() (uint64, error)
	SaveOrder(*ledger.Order) error
	LoadOrder(id uint64) (*ledger.Order, error)
	LoadOpenOrders() ([]*ledger.Order, error)
}

// MatchResult reports one taker execution.
type MatchResult struct {
	OrderID     uint64
	Fills       []settle.Fill
	FilledBase  *uint256.Int // gross base matched
	QuoteVolume *uint256.Int // gross quote across fills
	Remainder   *uint256.Int // unfilled base (limit/market sell) or unspent quote (market buy)
	Rested      bool
	Status      ledger.Status
	Transfers   []settle.Transfer
}

type Config struct {
	Pair     *market.Pair
	Feed     oracle.Feed
	Store    Store
	Clock    util.Clock
	Log      *zap.Logger
	Escrow   common.Address
	Treasury common.Address
}

type Engine struct {
	mu     sync.Mutex
	log    *zap.SugaredLogger
	pair   *market.Pair
	book   *orderbook.Book
	ledger *ledger.Ledger
	bridge *settle.Bridge
	feed   oracle.Feed
	store  Store
	clock  util.Clock
}

// New builds an engine and rebuilds the book and user index from the open
// orders in the store, re-inserting them in id order to restore FIFO
// priority.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Pair.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pair: %w", err)
	}
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}

	e := &Engine{
		log:    cfg.Log.Sugar(),
		pair:   cfg.Pair,
		book:   orderbook.NewBook(),
		ledger: ledger.New(),
		bridge: settle.NewBridge(cfg.Pair, cfg.Escrow, cfg.Treasury),
		feed:   cfg.Feed,
		store:  cfg.Store,
		clock:  cfg.Clock,
	}

	open, err := cfg.Store.LoadOpenOrders()
	if err != nil {
		return nil, fmt.Errorf("rebuild book: %w", err)
	}
	for _, o := range open {
		e.ledger.Add(o)
		e.book.Insert(o.Side, o.Price, o.ID)
	}
	if len(open) > 0 {
		e.log.Infow("book_rebuilt", "open_orders", len(open))
	}
	return e, nil
}

// Bridge exposes the settlement bridge, mainly for wiring and tests.
func (e *Engine) Bridge() *settle.Bridge { return e.bridge }

func (e *Engine) now() int64 { return e.clock.Now().Unix() }

// ============================================================================
// Planning (read-only)
// ============================================================================

// plannedFill pairs a computed fill with the maker it consumes.
type plannedFill struct {
	maker *ledger.Order
	fill  settle.Fill
}

type plan struct {
	fills      []plannedFill
	reaped     []*ledger.Order // expired makers touched by the walk
	filledBase *uint256.Int
	spentQuote *uint256.Int // gross quote across fills
}

func newPlan() *plan {
	return &plan{filledBase: uint256.NewInt(0), spentQuote: uint256.NewInt(0)}
}

// planQuoteSweep plans a market buy: walk asks in ascending price order,
// spending the quote budget at each maker's price until it is exhausted or
// the book runs out. The remainder of the budget stays unspent.
func (e *Engine) planQuoteSweep(budget *uint256.Int, now int64) (*plan, *uint256.Int, error) {
	pl := newPlan()
	remaining := budget.Clone()
	var walkErr error

	e.book.Walk(orderbook.Sell, func(price *uint256.Int, ids []uint64) bool {
		for _, id := range ids {
			maker, ok := e.ledger.Get(id)
			if !ok {
				continue
			}
			if maker.IsExpired(now) {
				pl.reaped = append(pl.reaped, maker)
				continue
			}

			makerRem := maker.Remaining()
			quoteFull, err := fixedpoint.MulWad(makerRem, price)
			if err != nil {
				walkErr = err
				return false
			}

			var fillBase, spend *uint256.Int
			if remaining.Cmp(quoteFull) >= 0 {
				fillBase, spend = makerRem, quoteFull
			} else {
				fillBase, err = fixedpoint.DivWad(remaining, price)
				if err != nil {
					walkErr = err
					return false
				}
				if fillBase.IsZero() {
					return false // budget is dust at this price
				}
				// Recompute the exact spend so rounding dust is refunded,
				// never silently kept.
				spend, err = fixedpoint.MulWad(fillBase, price)
				if err != nil {
					walkErr = err
					return false
				}
			}

			if err := pl.addFill(maker, price, fillBase, spend, e.pair.TakerFeeBps, orderbook.Buy); err != nil {
				walkErr = err
				return false
			}
			remaining = new(uint256.Int).Sub(remaining, spend)
			if remaining.IsZero() || fillBase.Lt(makerRem) {
				return false
			}
		}
		return true
	})

	if walkErr != nil {
		return nil, nil, walkErr
	}
	return pl, remaining, nil
}

// planBaseSweep plans a base-denominated sweep: a market sell (bids, no
// price bound) or the crossing phase of a limit order (opposing side bounded
// by the limit price).
func (e *Engine) planBaseSweep(takerSide orderbook.Side, want, limitPrice *uint256.Int, now int64) (*plan, *uint256.Int, error) {
	pl := newPlan()
	remaining := want.Clone()
	var walkErr error

	e.book.Walk(takerSide.Opposite(), func(price *uint256.Int, ids []uint64) bool {
		if limitPrice != nil {
			if takerSide == orderbook.Buy && price.Gt(limitPrice) {
				return false
			}
			if takerSide == orderbook.Sell && price.Lt(limitPrice) {
				return false
			}
		}
		for _, id := range ids {
			maker, ok := e.ledger.Get(id)
			if !ok {
				continue
			}
			if maker.IsExpired(now) {
				pl.reaped = append(pl.reaped, maker)
				continue
			}

			fillBase := fixedpoint.Min(remaining, maker.Remaining()).Clone()
			quote, err := fixedpoint.MulWad(fillBase, price)
			if err != nil {
				walkErr = err
				return false
			}
			if err := pl.addFill(maker, price, fillBase, quote, e.pair.TakerFeeBps, takerSide); err != nil {
				walkErr = err
				return false
			}
			remaining = new(uint256.Int).Sub(remaining, fillBase)
			if remaining.IsZero() {
				return false
			}
		}
		return true
	})

	if walkErr != nil {
		return nil, nil, walkErr
	}
	return pl, remaining, nil
}

// addFill computes the fee leg and appends one fill. The fee comes off the
// taker's proceeds: base when the taker buys, quote when the taker sells.
func (pl *plan) addFill(maker *ledger.Order, price, fillBase, quote *uint256.Int, feeBps uint64, takerSide orderbook.Side) error {
	var fee *uint256.Int
	var err error
	if takerSide == orderbook.Buy {
		_, fee, err = fixedpoint.ApplyFeeBps(fillBase, feeBps)
	} else {
		_, fee, err = fixedpoint.ApplyFeeBps(quote, feeBps)
	}
	if err != nil {
		return err
	}

	pl.fills = append(pl.fills, plannedFill{
		maker: maker,
		fill: settle.Fill{
			MakerOrderID: maker.ID,
			Maker:        maker.Owner,
			Price:        price.Clone(),
			BaseAmount:   fillBase.Clone(),
			QuoteAmount:  quote.Clone(),
			FeeAmount:    fee,
		},
	})
	pl.filledBase = new(uint256.Int).Add(pl.filledBase, fillBase)
	pl.spentQuote = new(uint256.Int).Add(pl.spentQuote, quote)
	return nil
}

// ============================================================================
// Apply (mutating)
// ============================================================================

// apply commits a plan: reaps expired makers, advances maker fills, pops
// exhausted makers, and persists every touched record. Returns the refund
// transfers produced by reaping and by maker escrow residue.
func (e *Engine) apply(pl *plan, now int64) ([]settle.Transfer, error) {
	var transfers []settle.Transfer

	for _, maker := range pl.reaped {
		transfers = append(transfers, e.closeOrder(maker, ledger.Expired, now)...)
	}

	for _, pf := range pl.fills {
		maker := pf.maker
		maker.Filled = new(uint256.Int).Add(maker.Filled, pf.fill.BaseAmount)

		// The maker's escrow shrinks by the leg it pays out: base for
		// asks, quote for bids.
		paid := pf.fill.BaseAmount
		if maker.Side == orderbook.Buy {
			paid = pf.fill.QuoteAmount
		}
		if maker.Escrow.Lt(paid) {
			maker.Escrow = uint256.NewInt(0)
		} else {
			maker.Escrow = new(uint256.Int).Sub(maker.Escrow, paid)
		}
		maker.UpdatedAt = now

		if maker.Remaining().IsZero() {
			transfers = append(transfers, e.closeOrder(maker, ledger.Filled, now)...)
		} else {
			maker.Status = ledger.PartiallyFilled
			if err := e.store.SaveOrder(maker); err != nil {
				return nil, err
			}
		}
	}
	return transfers, nil
}

// closeOrder removes an order from the active indices, refunds any residual
// escrow, and persists the terminal record.
func (e *Engine) closeOrder(o *ledger.Order, status ledger.Status, now int64) []settle.Transfer {
	e.book.Remove(o.ID)
	e.ledger.Close(o.ID)
	o.Status = status
	o.UpdatedAt = now

	var transfers []settle.Transfer
	if o.Escrow != nil && !o.Escrow.IsZero() {
		transfers = append(transfers, e.bridge.CancelRefund(o.Owner, o.Side, o.Escrow))
		o.Escrow = uint256.NewInt(0)
	}
	if err := e.store.SaveOrder(o); err != nil {
		e.log.Errorw("persist_close_failed", "order", o.ID, "err", err)
	}
	return transfers
}

// ============================================================================
// Market orders
// ============================================================================

// CreateBuyMarketOrder spends the attached quote value against the ask side.
// Partial execution is accepted; the unspent remainder is refunded, never
// rested.
func (e *Engine) CreateBuyMarketOrder(owner common.Address, attached *uint256.Int) (*MatchResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()

	if attached == nil || attached.IsZero() {
		return nil, rejectValidation(ReasonInsufficientMatic)
	}
	if e.book.Empty(orderbook.Sell) {
		return nil, rejectLiquidity(ReasonInsufficientSellOrders)
	}

	pl, unspent, err := e.planQuoteSweep(attached, now)
	if err != nil {
		return nil, rejectArithmetic(err)
	}

	id, err := e.store.NextOrderID()
	if err != nil {
		return nil, fmt.Errorf("allocate order id: %w", err)
	}

	transfers := []settle.Transfer{e.bridge.DepositQuote(owner, attached)}
	applied, err := e.apply(pl, now)
	if err != nil {
		return nil, fmt.Errorf("apply match: %w", err)
	}
	transfers = append(transfers, applied...)
	transfers = append(transfers, e.bridge.MatchTransfers(owner, orderbook.Buy, planFills(pl))...)
	if !unspent.IsZero() {
		transfers = append(transfers, e.bridge.RefundQuote(owner, unspent))
	}

	taker := &ledger.Order{
		ID:        id,
		Owner:     owner,
		Side:      orderbook.Buy,
		Kind:      ledger.Market,
		Price:     uint256.NewInt(0),
		Amount:    pl.filledBase.Clone(),
		Filled:    pl.filledBase.Clone(),
		Escrow:    uint256.NewInt(0),
		Status:    ledger.Filled,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.SaveOrder(taker); err != nil {
		return nil, fmt.Errorf("persist taker: %w", err)
	}

	e.log.Infow("market_buy",
		"order", id, "owner", owner.Hex(),
		"attached", attached.Dec(), "filled_base", pl.filledBase.Dec(),
		"fills", len(pl.fills), "refund", unspent.Dec())

	return &MatchResult{
		OrderID:     id,
		Fills:       planFills(pl),
		FilledBase:  pl.filledBase,
		QuoteVolume: pl.spentQuote,
		Remainder:   unspent,
		Status:      ledger.Filled,
		Transfers:   transfers,
	}, nil
}

// CreateSellMarketOrder sells the given base amount into the bid side.
// Unsold base is refunded, never rested.
func (e *Engine) CreateSellMarketOrder(owner common.Address, amount *uint256.Int) (*MatchResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()

	if amount == nil || amount.IsZero() {
		return nil, rejectValidation(ReasonInvalidTokenAmount)
	}
	if e.book.Empty(orderbook.Buy) {
		return nil, rejectLiquidity(ReasonInsufficientBuyOrders)
	}

	pl, unsold, err := e.planBaseSweep(orderbook.Sell, amount, nil, now)
	if err != nil {
		return nil, rejectArithmetic(err)
	}

	id, err := e.store.NextOrderID()
	if err != nil {
		return nil, fmt.Errorf("allocate order id: %w", err)
	}

	transfers := []settle.Transfer{e.bridge.DepositBase(owner, amount)}
	applied, err := e.apply(pl, now)
	if err != nil {
		return nil, fmt.Errorf("apply match: %w", err)
	}
	transfers = append(transfers, applied...)
	transfers = append(transfers, e.bridge.MatchTransfers(owner, orderbook.Sell, planFills(pl))...)
	if !unsold.IsZero() {
		transfers = append(transfers, e.bridge.RefundBase(owner, unsold))
	}

	taker := &ledger.Order{
		ID:        id,
		Owner:     owner,
		Side:      orderbook.Sell,
		Kind:      ledger.Market,
		Price:     uint256.NewInt(0),
		Amount:    amount.Clone(),
		Filled:    pl.filledBase.Clone(),
		Escrow:    uint256.NewInt(0),
		Status:    ledger.Filled,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.SaveOrder(taker); err != nil {
		return nil, fmt.Errorf("persist taker: %w", err)
	}

	e.log.Infow("market_sell",
		"order", id, "owner", owner.Hex(),
		"amount", amount.Dec(), "filled_base", pl.filledBase.Dec(),
		"fills", len(pl.fills), "refund", unsold.Dec())

	return &MatchResult{
		OrderID:     id,
		Fills:       planFills(pl),
		FilledBase:  pl.filledBase,
		QuoteVolume: pl.spentQuote,
		Remainder:   unsold,
		Status:      ledger.Filled,
		Transfers:   transfers,
	}, nil
}

// ============================================================================
// Limit orders
// ============================================================================

// CreateLimitOrder admits a limit order, crosses it against the opposing
// side as far as its price allows, and rests any remainder at the limit
// price. A buy must attach quote value matching price*amount within the
// pair's tolerance; a sell must attach none.
func (e *Engine) CreateLimitOrder(owner common.Address, price, amount *uint256.Int, expiresAt int64, side orderbook.Side, attached *uint256.Int) (*MatchResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()

	if price == nil || price.IsZero() {
		return nil, rejectValidation(ReasonInvalidPrice)
	}
	if amount == nil || amount.IsZero() || amount.Lt(e.pair.MinAmount) {
		return nil, rejectValidation(ReasonInvalidTokenAmount)
	}
	if attached == nil {
		attached = uint256.NewInt(0)
	}

	if side == orderbook.Buy {
		if err := e.checkAttachedQuote(price, amount, attached); err != nil {
			return nil, err
		}
	} else if !attached.IsZero() {
		return nil, rejectValidation(ReasonSellWithMatic)
	}
	if expiresAt <= now {
		return nil, rejectValidation(ReasonInvalidTimeLimit)
	}

	pl, remainder, err := e.planBaseSweep(side, amount, price, now)
	if err != nil {
		return nil, rejectArithmetic(err)
	}

	id, err := e.store.NextOrderID()
	if err != nil {
		return nil, fmt.Errorf("allocate order id: %w", err)
	}

	var transfers []settle.Transfer
	if side == orderbook.Buy {
		transfers = append(transfers, e.bridge.DepositQuote(owner, attached))
	} else {
		transfers = append(transfers, e.bridge.DepositBase(owner, amount))
	}

	applied, err := e.apply(pl, now)
	if err != nil {
		return nil, fmt.Errorf("apply match: %w", err)
	}
	transfers = append(transfers, applied...)
	transfers = append(transfers, e.bridge.MatchTransfers(owner, side, planFills(pl))...)

	// Escrow backing the unfilled remainder: leftover quote for a bid,
	// unsold base for an ask.
	// Admission guarantees attached >= price*amount >= spent quote, since
	// crossing only happens at or below the limit price.
	var escrow *uint256.Int
	if side == orderbook.Buy {
		escrow = new(uint256.Int).Sub(attached, pl.spentQuote)
	} else {
		escrow = remainder.Clone()
	}

	o := &ledger.Order{
		ID:        id,
		Owner:     owner,
		Side:      side,
		Kind:      ledger.Limit,
		Price:     price.Clone(),
		Amount:    amount.Clone(),
		Filled:    pl.filledBase.Clone(),
		Escrow:    escrow,
		ExpiresAt: expiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}

	rested := !remainder.IsZero()
	if rested {
		if pl.filledBase.IsZero() {
			o.Status = ledger.Open
		} else {
			o.Status = ledger.PartiallyFilled
		}
		e.ledger.Add(o)
		e.book.Insert(side, price, id)
	} else {
		o.Status = ledger.Filled
		// A fully crossed buy may hold residual quote from price
		// improvement and tolerance; give it back.
		if !o.Escrow.IsZero() {
			transfers = append(transfers, e.bridge.CancelRefund(owner, side, o.Escrow))
			o.Escrow = uint256.NewInt(0)
		}
	}
	if err := e.store.SaveOrder(o); err != nil {
		return nil, fmt.Errorf("persist order: %w", err)
	}

	e.log.Infow("limit_order",
		"order", id, "owner", owner.Hex(), "side", side.String(),
		"price", price.Dec(), "amount", amount.Dec(),
		"filled_base", pl.filledBase.Dec(), "rested", rested)

	return &MatchResult{
		OrderID:     id,
		Fills:       planFills(pl),
		FilledBase:  pl.filledBase,
		QuoteVolume: pl.spentQuote,
		Remainder:   remainder,
		Rested:      rested,
		Status:      o.Status,
		Transfers:   transfers,
	}, nil
}

// checkAttachedQuote verifies the attached value of a limit buy against
// price*amount within the pair's tolerance band.
func (e *Engine) checkAttachedQuote(price, amount, attached *uint256.Int) error {
	required, err := fixedpoint.MulWad(amount, price)
	if err != nil {
		return rejectArithmetic(err)
	}
	if required.IsZero() || attached.Lt(required) {
		return rejectValidation(ReasonInvalidMaticAmount)
	}

	diff := new(uint256.Int).Sub(attached, required)
	tol, err := fixedpoint.MulDiv(required, uint256.NewInt(e.pair.ToleranceBps), uint256.NewInt(fixedpoint.BpsDenominator))
	if err != nil {
		return rejectArithmetic(err)
	}
	if diff.Gt(tol) {
		return rejectValidation(ReasonInvalidMaticAmount)
	}
	return nil
}

// ============================================================================
// Cancellation & expiry
// ============================================================================

// CancelOrder removes the owner's resting order and refunds its remaining
// escrow. Cancelling a closed or unknown order fails without state change.
func (e *Engine) CancelOrder(owner common.Address, id uint64) ([]settle.Transfer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()

	o, ok := e.ledger.Get(id)
	if !ok {
		// Distinguish "never existed" from "already closed" for callers.
		stored, err := e.store.LoadOrder(id)
		if err != nil {
			return nil, fmt.Errorf("lookup order %d: %w", id, err)
		}
		if stored == nil {
			return nil, rejectValidation(ReasonOrderNotFound)
		}
		if stored.Owner != owner {
			return nil, rejectAuthorization(ReasonNotOrderOwner)
		}
		return nil, rejectValidation(ReasonOrderNotOpen)
	}
	if o.Owner != owner {
		return nil, rejectAuthorization(ReasonNotOrderOwner)
	}

	transfers := e.closeOrder(o, ledger.Cancelled, now)
	e.log.Infow("order_cancelled", "order", id, "owner", owner.Hex())
	return transfers, nil
}

// SweepExpired removes every resting order whose time limit has passed and
// refunds its escrow. Expired orders are already inert for matching; the
// sweep just reclaims them eagerly.
func (e *Engine) SweepExpired() ([]settle.Transfer, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()

	var transfers []settle.Transfer
	var n int
	for _, o := range e.ledger.OpenOrders() {
		if !o.IsExpired(now) {
			continue
		}
		transfers = append(transfers, e.closeOrder(o, ledger.Expired, now)...)
		n++
	}
	if n > 0 {
		e.log.Infow("expired_swept", "orders", n)
	}
	return transfers, n
}

func planFills(pl *plan) []settle.Fill {
	out := make([]settle.Fill, len(pl.fills))
	for i, pf := range pl.fills {
		out[i] = pf.fill
	}
	return out
}
