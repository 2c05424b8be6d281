// Package settle translates match results into transfer instructions for the
// external funds ledger. It is pure calculation: the engine decides how much
// moves and between which logical accounts, never how.
//
// Escrow model: attached quote value and deposited base tokens sit in the
// book's escrow account while an order is open. Fills pay out of escrow;
// cancellation and expiry refund the remainder. The fee leg of every fill
// goes to the treasury.
package settle

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/acmedex/matchbook/pkg/app/core/market"
	"github.com/acmedex/matchbook/pkg/app/core/orderbook"
)

// Transfer is one instruction for the external ledger.
type Transfer struct {
	From   common.Address `json:"from"`
	To     common.Address `json:"to"`
	Asset  string         `json:"asset"`
	Amount *uint256.Int   `json:"amount"`
}

// Fill is one matched trade leg. Base and quote amounts are gross; Fee is
// denominated in the asset the taker receives (base when the taker buys,
// quote when the taker sells).
type Fill struct {
	MakerOrderID uint64         `json:"makerOrderId"`
	Maker        common.Address `json:"maker"`
	Price        *uint256.Int   `json:"price"`
	BaseAmount   *uint256.Int   `json:"baseAmount"`
	QuoteAmount  *uint256.Int   `json:"quoteAmount"`
	FeeAmount    *uint256.Int   `json:"feeAmount"`
}

// Bridge composes transfer instructions against a fixed escrow and treasury.
type Bridge struct {
	pair     *market.Pair
	escrow   common.Address
	treasury common.Address
}

func NewBridge(pair *market.Pair, escrow, treasury common.Address) *Bridge {
	return &Bridge{pair: pair, escrow: escrow, treasury: treasury}
}

func (b *Bridge) Escrow() common.Address   { return b.escrow }
func (b *Bridge) Treasury() common.Address { return b.treasury }

// DepositQuote instructs the ledger to move attached quote value from the
// caller into escrow.
func (b *Bridge) DepositQuote(owner common.Address, amount *uint256.Int) Transfer {
	return Transfer{From: owner, To: b.escrow, Asset: b.pair.QuoteAsset, Amount: amount.Clone()}
}

// DepositBase instructs the ledger to move base tokens from the caller into
// escrow, backing a sell order.
func (b *Bridge) DepositBase(owner common.Address, amount *uint256.Int) Transfer {
	return Transfer{From: owner, To: b.escrow, Asset: b.pair.BaseAsset, Amount: amount.Clone()}
}

// MatchTransfers expands the fills of one taker execution into payout
// instructions. For a buy taker each fill pays base (net of fee) to the
// taker, the base fee to the treasury, and the gross quote to the maker; a
// sell taker mirrors that with the fee taken from the quote proceeds.
func (b *Bridge) MatchTransfers(taker common.Address, takerSide orderbook.Side, fills []Fill) []Transfer {
	out := make([]Transfer, 0, len(fills)*3)
	for _, f := range fills {
		if takerSide == orderbook.Buy {
			net := new(uint256.Int).Sub(f.BaseAmount, f.FeeAmount)
			out = append(out,
				Transfer{From: b.escrow, To: taker, Asset: b.pair.BaseAsset, Amount: net},
				Transfer{From: b.escrow, To: b.treasury, Asset: b.pair.BaseAsset, Amount: f.FeeAmount.Clone()},
				Transfer{From: b.escrow, To: f.Maker, Asset: b.pair.QuoteAsset, Amount: f.QuoteAmount.Clone()},
			)
		} else {
			net := new(uint256.Int).Sub(f.QuoteAmount, f.FeeAmount)
			out = append(out,
				Transfer{From: b.escrow, To: taker, Asset: b.pair.QuoteAsset, Amount: net},
				Transfer{From: b.escrow, To: b.treasury, Asset: b.pair.QuoteAsset, Amount: f.FeeAmount.Clone()},
				Transfer{From: b.escrow, To: f.Maker, Asset: b.pair.BaseAsset, Amount: f.BaseAmount.Clone()},
			)
		}
	}
	return out
}

// RefundQuote returns unspent quote escrow to its owner.
func (b *Bridge) RefundQuote(owner common.Address, amount *uint256.Int) Transfer {
	return Transfer{From: b.escrow, To: owner, Asset: b.pair.QuoteAsset, Amount: amount.Clone()}
}

// RefundBase returns undeposited base escrow to its owner.
func (b *Bridge) RefundBase(owner common.Address, amount *uint256.Int) Transfer {
	return Transfer{From: b.escrow, To: owner, Asset: b.pair.BaseAsset, Amount: amount.Clone()}
}

// CancelRefund refunds whatever escrow backs the unfilled part of a resting
// order: quote for bids, base for asks.
func (b *Bridge) CancelRefund(owner common.Address, side orderbook.Side, escrow *uint256.Int) Transfer {
	if side == orderbook.Buy {
		return b.RefundQuote(owner, escrow)
	}
	return b.RefundBase(owner, escrow)
}
