package engine

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/acmedex/matchbook/pkg/app/core/ledger"
	"github.com/acmedex/matchbook/pkg/app/core/market"
	"github.com/acmedex/matchbook/pkg/app/core/orderbook"
	"github.com/acmedex/matchbook/pkg/app/core/settle"
	"github.com/acmedex/matchbook/pkg/oracle"
	"github.com/acmedex/matchbook/pkg/storage"
	"github.com/acmedex/matchbook/pkg/util"
)

var (
	escrowAddr   = common.HexToAddress("0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee")
	treasuryAddr = common.HexToAddress("0xffffffffffffffffffffffffffffffffffffffff")
	alice        = common.HexToAddress("0x1111111111111111111111111111111111111111")
	bob          = common.HexToAddress("0x2222222222222222222222222222222222222222")
	carol        = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

const baseTime = int64(1_700_000_000)

func wad(dec string) *uint256.Int { return uint256.MustFromDecimal(dec) }

type testEnv struct {
	eng   *Engine
	store *storage.Store
	clock *util.FixedClock
	feed  *oracle.MemoryFeed
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := storage.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	clock := util.NewFixedClock(time.Unix(baseTime, 0))
	feed := oracle.NewMemoryFeed(time.Hour, clock)

	eng, err := New(Config{
		Pair:     market.Default(),
		Feed:     feed,
		Store:    st,
		Clock:    clock,
		Escrow:   escrowAddr,
		Treasury: treasuryAddr,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &testEnv{eng: eng, store: st, clock: clock, feed: feed}
}

func (env *testEnv) expiry() int64 { return env.clock.Now().Unix() + 3600 }

// restingAsk posts a limit sell that does not cross.
func (env *testEnv) restingAsk(t *testing.T, owner common.Address, price, amount string) uint64 {
	t.Helper()
	res, err := env.eng.CreateLimitOrder(owner, wad(price), wad(amount), env.expiry(), orderbook.Sell, nil)
	if err != nil {
		t.Fatalf("resting ask: %v", err)
	}
	if !res.Rested {
		t.Fatalf("ask at %s should rest", price)
	}
	return res.OrderID
}

// restingBid posts a limit buy with the exact required attached value.
func (env *testEnv) restingBid(t *testing.T, owner common.Address, price, amount, attach string) uint64 {
	t.Helper()
	res, err := env.eng.CreateLimitOrder(owner, wad(price), wad(amount), env.expiry(), orderbook.Buy, wad(attach))
	if err != nil {
		t.Fatalf("resting bid: %v", err)
	}
	if !res.Rested {
		t.Fatalf("bid at %s should rest", price)
	}
	return res.OrderID
}

func findTransfer(transfers []settle.Transfer, to common.Address, asset string) (settle.Transfer, bool) {
	for _, tr := range transfers {
		if tr.To == to && tr.Asset == asset {
			return tr, true
		}
	}
	return settle.Transfer{}, false
}

// ============================================================================
// Admission
// ============================================================================

func TestMarketOrderValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		call   func() error
		reason string
		kind   RejectKind
	}{
		{
			name:   "buy without attached value",
			call:   func() error { _, err := env.eng.CreateBuyMarketOrder(alice, uint256.NewInt(0)); return err },
			reason: ReasonInsufficientMatic,
			kind:   KindValidation,
		},
		{
			name:   "buy against empty ask book",
			call:   func() error { _, err := env.eng.CreateBuyMarketOrder(alice, wad("1000000000000000000")); return err },
			reason: ReasonInsufficientSellOrders,
			kind:   KindLiquidity,
		},
		{
			name:   "sell zero token amount",
			call:   func() error { _, err := env.eng.CreateSellMarketOrder(alice, uint256.NewInt(0)); return err },
			reason: ReasonInvalidTokenAmount,
			kind:   KindValidation,
		},
		{
			name:   "sell against empty bid book",
			call:   func() error { _, err := env.eng.CreateSellMarketOrder(alice, wad("100000000000000000000")); return err },
			reason: ReasonInsufficientBuyOrders,
			kind:   KindLiquidity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if err == nil {
				t.Fatal("expected rejection")
			}
			if err.Error() != tt.reason {
				t.Errorf("reason = %q, want %q", err.Error(), tt.reason)
			}
			if !IsKind(err, tt.kind) {
				t.Errorf("kind = %v, want %v", err, tt.kind)
			}
		})
	}

	// Nothing was admitted.
	if n := env.eng.OrderCountByUser(alice); n != 0 {
		t.Errorf("open orders after rejections = %d, want 0", n)
	}
}

func TestLimitOrderValidation(t *testing.T) {
	env := newTestEnv(t)
	price := wad("100000000000000000")    // 0.1
	amount := wad("100000000000000000000") // 100

	tests := []struct {
		name     string
		side     orderbook.Side
		price    *uint256.Int
		attached *uint256.Int
		expires  int64
		reason   string
	}{
		{
			name:    "buy with missing attached value",
			side:    orderbook.Buy,
			price:   price,
			expires: env.expiry(),
			reason:  ReasonInvalidMaticAmount,
		},
		{
			name:     "buy with short attached value",
			side:     orderbook.Buy,
			price:    price,
			attached: wad("9000000000000000000"), // 9, required 10
			expires:  env.expiry(),
			reason:   ReasonInvalidMaticAmount,
		},
		{
			name:     "buy attached value over tolerance",
			side:     orderbook.Buy,
			price:    price,
			attached: wad("10100000000000000000"), // 10.1, tolerance 50bps = 0.05
			expires:  env.expiry(),
			reason:   ReasonInvalidMaticAmount,
		},
		{
			name:     "sell with attached value",
			side:     orderbook.Sell,
			price:    price,
			attached: wad("100000000000000000"),
			expires:  env.expiry(),
			reason:   ReasonSellWithMatic,
		},
		{
			name:     "expiry in the past",
			side:     orderbook.Buy,
			price:    price,
			attached: wad("10000000000000000000"),
			expires:  env.clock.Now().Unix() - 3600,
			reason:   ReasonInvalidTimeLimit,
		},
		{
			name:     "zero price",
			side:     orderbook.Buy,
			price:    uint256.NewInt(0),
			attached: wad("10000000000000000000"),
			expires:  env.expiry(),
			reason:   ReasonInvalidPrice,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.eng.CreateLimitOrder(alice, tt.price, amount, tt.expires, tt.side, tt.attached)
			if err == nil {
				t.Fatal("expected rejection")
			}
			if err.Error() != tt.reason {
				t.Errorf("reason = %q, want %q", err.Error(), tt.reason)
			}
			if !IsKind(err, KindValidation) {
				t.Errorf("want validation kind, got %v", err)
			}
		})
	}

	if n := env.eng.OrderCountByUser(alice); n != 0 {
		t.Errorf("open orders after rejections = %d, want 0", n)
	}
}

// ============================================================================
// Resting and querying
// ============================================================================

func TestLimitBuyRests(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.eng.CreateLimitOrder(alice, wad("100000000000000000"), wad("100000000000000000000"),
		env.expiry(), orderbook.Buy, wad("10000000000000000000"))
	if err != nil {
		t.Fatalf("CreateLimitOrder: %v", err)
	}
	if !res.Rested || res.Status != ledger.Open {
		t.Errorf("order should rest open, got rested=%v status=%v", res.Rested, res.Status)
	}
	if len(res.Fills) != 0 {
		t.Errorf("empty book produced %d fills", len(res.Fills))
	}

	if n := env.eng.OrderCountByUser(alice); n != 1 {
		t.Errorf("OrderCountByUser = %d, want 1", n)
	}

	book := env.eng.OrderBookSnapshot(3, orderbook.Buy)
	if len(book) != 1 || len(book[0].Orders) != 1 {
		t.Fatalf("snapshot = %+v, want one level with one order", book)
	}
	o := book[0].Orders[0]
	if o.Escrow.Cmp(wad("10000000000000000000")) != 0 {
		t.Errorf("escrow = %s, want 10e18", o.Escrow.Dec())
	}

	// The attached value was escrowed.
	dep, ok := findTransfer(res.Transfers, escrowAddr, "MATIC")
	if !ok || dep.From != alice || dep.Amount.Cmp(wad("10000000000000000000")) != 0 {
		t.Errorf("missing quote deposit, transfers = %+v", res.Transfers)
	}
}

func TestLatestRateFallback(t *testing.T) {
	env := newTestEnv(t)

	// Empty book, no oracle write: nothing to report.
	rate := env.eng.LatestRate()
	if rate.BestBidOrder != nil || rate.BestAskOrder != nil {
		t.Errorf("empty book without oracle should yield nil sides: %+v", rate)
	}

	// Oracle price stands in for both empty sides.
	env.feed.Write(wad("540000000000000000"))
	rate = env.eng.LatestRate()
	if rate.BestAskOrder == nil || rate.BestAskOrder.Price.Cmp(wad("540000000000000000")) != 0 {
		t.Errorf("ask fallback = %+v", rate.BestAskOrder)
	}
	if rate.BestBidOrder == nil || rate.BestBidOrder.ID != 0 {
		t.Errorf("bid fallback should be synthetic: %+v", rate.BestBidOrder)
	}

	// A real ask wins over the oracle.
	id := env.restingAsk(t, alice, "200000000000000000", "100000000000000000000")
	rate = env.eng.LatestRate()
	if rate.BestAskOrder == nil || rate.BestAskOrder.ID != id {
		t.Errorf("best ask should be the resting order, got %+v", rate.BestAskOrder)
	}
	if rate.BestAskOrder.Price.Cmp(wad("200000000000000000")) != 0 {
		t.Errorf("best ask price = %s", rate.BestAskOrder.Price.Dec())
	}
}

// ============================================================================
// Market order execution
// ============================================================================

func TestMarketBuyFeeScenario(t *testing.T) {
	env := newTestEnv(t)

	// Resting ask: 100 base at 0.2, fee 500 bps.
	askID := env.restingAsk(t, alice, "200000000000000000", "100000000000000000000")

	res, err := env.eng.CreateBuyMarketOrder(bob, wad("5000000000000000000")) // 5 quote
	if err != nil {
		t.Fatalf("CreateBuyMarketOrder: %v", err)
	}

	// 5 / 0.2 = 25 gross base; taker receives 25 * 0.95 = 23.75.
	if res.FilledBase.Cmp(wad("25000000000000000000")) != 0 {
		t.Errorf("gross filled = %s, want 25e18", res.FilledBase.Dec())
	}
	if len(res.Fills) != 1 {
		t.Fatalf("fills = %d, want 1", len(res.Fills))
	}
	f := res.Fills[0]
	if f.MakerOrderID != askID || f.Price.Cmp(wad("200000000000000000")) != 0 {
		t.Errorf("fill = %+v", f)
	}
	if f.FeeAmount.Cmp(wad("1250000000000000000")) != 0 {
		t.Errorf("fee = %s, want 1.25e18", f.FeeAmount.Dec())
	}

	got, ok := findTransfer(res.Transfers, bob, "ACME")
	if !ok || got.Amount.Cmp(wad("23750000000000000000")) != 0 {
		t.Errorf("taker receipt = %+v, want 23.75e18 ACME", got)
	}
	feeTr, ok := findTransfer(res.Transfers, treasuryAddr, "ACME")
	if !ok || feeTr.Amount.Cmp(wad("1250000000000000000")) != 0 {
		t.Errorf("treasury fee = %+v", feeTr)
	}
	makerTr, ok := findTransfer(res.Transfers, alice, "MATIC")
	if !ok || makerTr.Amount.Cmp(wad("5000000000000000000")) != 0 {
		t.Errorf("maker proceeds = %+v, want 5e18 MATIC", makerTr)
	}

	// The maker keeps its place at the head of the level with 75 remaining.
	maker, ok := env.eng.Order(askID)
	if !ok {
		t.Fatal("partially filled maker should stay open")
	}
	if maker.Filled.Cmp(wad("25000000000000000000")) != 0 || maker.Status != ledger.PartiallyFilled {
		t.Errorf("maker filled = %s status = %v", maker.Filled.Dec(), maker.Status)
	}
	book := env.eng.OrderBookSnapshot(3, orderbook.Sell)
	if len(book) != 1 || len(book[0].Orders) != 1 || book[0].Orders[0].ID != askID {
		t.Errorf("ask book = %+v", book)
	}
}

func TestMarketBuyPartialAgainstThinBook(t *testing.T) {
	env := newTestEnv(t)

	// Only 10 base offered at 0.2 (worth 2 quote); buyer attaches 5.
	askID := env.restingAsk(t, alice, "200000000000000000", "10000000000000000000")

	res, err := env.eng.CreateBuyMarketOrder(bob, wad("5000000000000000000"))
	if err != nil {
		t.Fatalf("CreateBuyMarketOrder: %v", err)
	}
	if res.FilledBase.Cmp(wad("10000000000000000000")) != 0 {
		t.Errorf("filled = %s, want 10e18", res.FilledBase.Dec())
	}
	// Unspent 3 quote is refunded, not rested.
	if res.Remainder.Cmp(wad("3000000000000000000")) != 0 {
		t.Errorf("remainder = %s, want 3e18", res.Remainder.Dec())
	}
	refund, ok := findTransfer(res.Transfers, bob, "MATIC")
	if !ok || refund.Amount.Cmp(wad("3000000000000000000")) != 0 {
		t.Errorf("refund = %+v, want 3e18 MATIC", refund)
	}

	// The ask is fully consumed and leaves the book.
	if _, ok := env.eng.Order(askID); ok {
		t.Error("exhausted maker should be closed")
	}
	if len(env.eng.OrderBookSnapshot(3, orderbook.Sell)) != 0 {
		t.Error("ask book should be empty")
	}
	if env.eng.OrderCountByUser(alice) != 0 {
		t.Error("maker's open count should drop to 0")
	}
}

func TestMarketSellFeeOnProceeds(t *testing.T) {
	env := newTestEnv(t)

	env.restingBid(t, alice, "150000000000000000", "100000000000000000000", "15000000000000000000")

	// Sell 10 base at 0.15: proceeds 1.5, taker nets 1.425.
	res, err := env.eng.CreateSellMarketOrder(bob, wad("10000000000000000000"))
	if err != nil {
		t.Fatalf("CreateSellMarketOrder: %v", err)
	}
	if res.FilledBase.Cmp(wad("10000000000000000000")) != 0 {
		t.Errorf("filled = %s", res.FilledBase.Dec())
	}
	proceeds, ok := findTransfer(res.Transfers, bob, "MATIC")
	if !ok || proceeds.Amount.Cmp(wad("1425000000000000000")) != 0 {
		t.Errorf("proceeds = %+v, want 1.425e18 MATIC", proceeds)
	}
	feeTr, ok := findTransfer(res.Transfers, treasuryAddr, "MATIC")
	if !ok || feeTr.Amount.Cmp(wad("75000000000000000")) != 0 {
		t.Errorf("fee = %+v, want 0.075e18 MATIC", feeTr)
	}
	makerTr, ok := findTransfer(res.Transfers, alice, "ACME")
	if !ok || makerTr.Amount.Cmp(wad("10000000000000000000")) != 0 {
		t.Errorf("maker base = %+v", makerTr)
	}
}

// ============================================================================
// Limit order crossing
// ============================================================================

func TestCrossingLimitSellFullyFills(t *testing.T) {
	env := newTestEnv(t)

	bidID := env.restingBid(t, alice, "150000000000000000", "100000000000000000000", "15000000000000000000")

	// Crossing sell of 40 at the bid price: fills entirely, never rests.
	res, err := env.eng.CreateLimitOrder(bob, wad("150000000000000000"), wad("40000000000000000000"),
		env.expiry(), orderbook.Sell, nil)
	if err != nil {
		t.Fatalf("crossing sell: %v", err)
	}
	if res.Rested || res.Status != ledger.Filled {
		t.Errorf("crossing sell should fill without resting: %+v", res)
	}
	if env.eng.OrderCountByUser(bob) != 0 {
		t.Error("fully filled taker must not increment open count")
	}

	// Proceeds 40*0.15 = 6 gross, 5.7 net.
	proceeds, ok := findTransfer(res.Transfers, bob, "MATIC")
	if !ok || proceeds.Amount.Cmp(wad("5700000000000000000")) != 0 {
		t.Errorf("proceeds = %+v, want 5.7e18", proceeds)
	}

	// The buy order's remainder (60) stays at the head of its queue.
	maker, ok := env.eng.Order(bidID)
	if !ok || maker.Remaining().Cmp(wad("60000000000000000000")) != 0 {
		t.Fatalf("maker remaining = %+v", maker)
	}
	book := env.eng.OrderBookSnapshot(3, orderbook.Buy)
	if len(book) != 1 || book[0].Orders[0].ID != bidID {
		t.Errorf("bid book = %+v", book)
	}

	// Maker's quote escrow shrank by exactly the gross quote paid.
	if maker.Escrow.Cmp(wad("9000000000000000000")) != 0 {
		t.Errorf("maker escrow = %s, want 9e18", maker.Escrow.Dec())
	}
}

func TestLimitBuyCrossesCheaperAskThenRests(t *testing.T) {
	env := newTestEnv(t)

	askID := env.restingAsk(t, alice, "100000000000000000", "50000000000000000000") // 50 @ 0.1

	// Buy 100 at up to 0.2 with exactly 20 attached.
	res, err := env.eng.CreateLimitOrder(bob, wad("200000000000000000"), wad("100000000000000000000"),
		env.expiry(), orderbook.Buy, wad("20000000000000000000"))
	if err != nil {
		t.Fatalf("limit buy: %v", err)
	}

	// Crossed 50 at the maker's better price (0.1), spending 5.
	if res.FilledBase.Cmp(wad("50000000000000000000")) != 0 {
		t.Errorf("filled = %s, want 50e18", res.FilledBase.Dec())
	}
	if res.QuoteVolume.Cmp(wad("5000000000000000000")) != 0 {
		t.Errorf("quote spent = %s, want 5e18", res.QuoteVolume.Dec())
	}
	if !res.Rested || res.Status != ledger.PartiallyFilled {
		t.Errorf("remainder should rest partially filled: %+v", res)
	}

	// Taker receives 50*0.95 = 47.5 base.
	receipt, ok := findTransfer(res.Transfers, bob, "ACME")
	if !ok || receipt.Amount.Cmp(wad("47500000000000000000")) != 0 {
		t.Errorf("receipt = %+v, want 47.5e18 ACME", receipt)
	}

	// The resting remainder holds the unspent 15 quote as escrow.
	rest, ok := env.eng.Order(res.OrderID)
	if !ok || rest.Escrow.Cmp(wad("15000000000000000000")) != 0 {
		t.Fatalf("resting escrow = %+v", rest)
	}

	// The cheap ask is gone; the book is not crossed.
	if _, ok := env.eng.Order(askID); ok {
		t.Error("crossed ask should be closed")
	}
	assertNotCrossed(t, env.eng)
}

func assertNotCrossed(t *testing.T, e *Engine) {
	t.Helper()
	bids := e.OrderBookSnapshot(1, orderbook.Buy)
	asks := e.OrderBookSnapshot(1, orderbook.Sell)
	if len(bids) == 0 || len(asks) == 0 {
		return
	}
	if bids[0].Price.Cmp(asks[0].Price) >= 0 {
		t.Errorf("book crossed: best bid %s >= best ask %s", bids[0].Price.Dec(), asks[0].Price.Dec())
	}
}

func TestPriceTimePriorityAcrossLevels(t *testing.T) {
	env := newTestEnv(t)

	// Two asks at the same price (FIFO) and one worse.
	first := env.restingAsk(t, alice, "200000000000000000", "10000000000000000000")
	second := env.restingAsk(t, bob, "200000000000000000", "10000000000000000000")
	worse := env.restingAsk(t, carol, "210000000000000000", "10000000000000000000")

	// Buy 15 base worth: consumes all of first, half of second, none of worse.
	res, err := env.eng.CreateBuyMarketOrder(carol, wad("3000000000000000000"))
	if err != nil {
		t.Fatalf("market buy: %v", err)
	}
	if len(res.Fills) != 2 {
		t.Fatalf("fills = %d, want 2", len(res.Fills))
	}
	if res.Fills[0].MakerOrderID != first || res.Fills[1].MakerOrderID != second {
		t.Errorf("fill order = %d,%d; want %d,%d", res.Fills[0].MakerOrderID, res.Fills[1].MakerOrderID, first, second)
	}
	if _, ok := env.eng.Order(worse); !ok {
		t.Error("worse-priced ask must be untouched")
	}
	if res.Fills[1].BaseAmount.Cmp(wad("5000000000000000000")) != 0 {
		t.Errorf("second fill = %s, want 5e18", res.Fills[1].BaseAmount.Dec())
	}
}

// ============================================================================
// Cancellation, expiry, idempotence
// ============================================================================

func TestCancelOrder(t *testing.T) {
	env := newTestEnv(t)

	id := env.restingBid(t, alice, "100000000000000000", "100000000000000000000", "10000000000000000000")

	// Only the owner may cancel.
	if _, err := env.eng.CancelOrder(bob, id); !IsKind(err, KindAuthorization) {
		t.Errorf("foreign cancel: err = %v, want authorization reject", err)
	}

	transfers, err := env.eng.CancelOrder(alice, id)
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	refund, ok := findTransfer(transfers, alice, "MATIC")
	if !ok || refund.Amount.Cmp(wad("10000000000000000000")) != 0 {
		t.Errorf("refund = %+v, want 10e18 MATIC", refund)
	}
	if env.eng.OrderCountByUser(alice) != 0 {
		t.Error("cancelled order must leave the user index")
	}
	if len(env.eng.OrderBookSnapshot(3, orderbook.Buy)) != 0 {
		t.Error("cancelled order must leave the book")
	}

	// Cancelling again fails with a defined error and no state change.
	if _, err := env.eng.CancelOrder(alice, id); err == nil || err.Error() != ReasonOrderNotOpen {
		t.Errorf("double cancel: err = %v, want %q", err, ReasonOrderNotOpen)
	}

	// Unknown ids are reported as such.
	if _, err := env.eng.CancelOrder(alice, 9999); err == nil || err.Error() != ReasonOrderNotFound {
		t.Errorf("unknown cancel: err = %v, want %q", err, ReasonOrderNotFound)
	}
}

func TestExpiredOrdersAreInertAndReaped(t *testing.T) {
	env := newTestEnv(t)

	bidID := env.restingBid(t, alice, "150000000000000000", "100000000000000000000", "15000000000000000000")
	env.clock.Advance(2 * time.Hour) // past the 1h expiry

	// The stale bid still occupies the book, so admission passes, but the
	// sweep skips it: nothing fills, the whole input comes back, and the
	// expired maker is reaped with its escrow refunded.
	res, err := env.eng.CreateSellMarketOrder(bob, wad("10000000000000000000"))
	if err != nil {
		t.Fatalf("market sell over expired book: %v", err)
	}
	if len(res.Fills) != 0 {
		t.Errorf("expired maker matched: %+v", res.Fills)
	}
	if res.Remainder.Cmp(wad("10000000000000000000")) != 0 {
		t.Errorf("remainder = %s, want full amount back", res.Remainder.Dec())
	}
	makerRefund, ok := findTransfer(res.Transfers, alice, "MATIC")
	if !ok || makerRefund.Amount.Cmp(wad("15000000000000000000")) != 0 {
		t.Errorf("expired maker refund = %+v", makerRefund)
	}
	if _, ok := env.eng.Order(bidID); ok {
		t.Error("expired maker should be closed after being touched")
	}
}

func TestSweepExpired(t *testing.T) {
	env := newTestEnv(t)

	env.restingBid(t, alice, "100000000000000000", "100000000000000000000", "10000000000000000000")
	env.restingAsk(t, bob, "300000000000000000", "50000000000000000000")
	env.clock.Advance(2 * time.Hour)

	transfers, n := env.eng.SweepExpired()
	if n != 2 {
		t.Fatalf("swept %d, want 2", n)
	}
	if _, ok := findTransfer(transfers, alice, "MATIC"); !ok {
		t.Error("bid escrow not refunded")
	}
	if _, ok := findTransfer(transfers, bob, "ACME"); !ok {
		t.Error("ask escrow not refunded")
	}
	if env.eng.OrderCountByUser(alice)+env.eng.OrderCountByUser(bob) != 0 {
		t.Error("swept orders must leave the user index")
	}

	// Second sweep is a no-op.
	if _, n := env.eng.SweepExpired(); n != 0 {
		t.Errorf("second sweep removed %d orders", n)
	}
}

// ============================================================================
// Persistence
// ============================================================================

func TestRestartRebuildsBook(t *testing.T) {
	env := newTestEnv(t)

	first := env.restingAsk(t, alice, "200000000000000000", "10000000000000000000")
	second := env.restingAsk(t, bob, "200000000000000000", "10000000000000000000")
	env.restingBid(t, alice, "100000000000000000", "100000000000000000000", "10000000000000000000")

	// A second engine over the same store sees the same book.
	rebuilt, err := New(Config{
		Pair:     market.Default(),
		Feed:     env.feed,
		Store:    env.store,
		Clock:    env.clock,
		Escrow:   escrowAddr,
		Treasury: treasuryAddr,
	})
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	if rebuilt.OrderCountByUser(alice) != 2 || rebuilt.OrderCountByUser(bob) != 1 {
		t.Error("user index lost on rebuild")
	}

	// FIFO priority survives: the earlier ask still fills first.
	res, err := rebuilt.CreateBuyMarketOrder(carol, wad("2000000000000000000"))
	if err != nil {
		t.Fatalf("market buy on rebuilt engine: %v", err)
	}
	if len(res.Fills) == 0 || res.Fills[0].MakerOrderID != first {
		t.Errorf("first fill = %+v, want maker %d before %d", res.Fills, first, second)
	}
}
