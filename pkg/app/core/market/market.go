// Package market defines the parameters of the traded pair. The engine
// consults a Pair for fee and admission rules; it carries no book state.
package market

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Pair describes one base/quote trading pair.
type Pair struct {
	// Identity
	Symbol     string // "ACME-MATIC"
	BaseAsset  string // "ACME"
	QuoteAsset string // "MATIC"

	// TakerFeeBps is deducted from the leg the taker receives on every
	// fill and paid to the treasury. 500 bps = 5%.
	TakerFeeBps uint64

	// ToleranceBps bounds how far the attached quote value of a limit buy
	// may deviate from price*amount before admission rejects it.
	ToleranceBps uint64

	// MinAmount is the dust floor for base amounts. Zero disables it.
	MinAmount *uint256.Int
}

// Default returns the ACME/MATIC pair with the protocol's standard 5% taker
// fee.
func Default() *Pair {
	return &Pair{
		Symbol:       "ACME-MATIC",
		BaseAsset:    "ACME",
		QuoteAsset:   "MATIC",
		TakerFeeBps:  500,
		ToleranceBps: 50,
		MinAmount:    uint256.NewInt(0),
	}
}

// Validate checks parameter sanity.
func (p *Pair) Validate() error {
	if p.Symbol == "" {
		return fmt.Errorf("symbol cannot be empty")
	}
	if p.BaseAsset == "" || p.QuoteAsset == "" {
		return fmt.Errorf("base and quote assets must be specified")
	}
	if p.TakerFeeBps > 10000 {
		return fmt.Errorf("taker fee %d bps exceeds 100%%", p.TakerFeeBps)
	}
	if p.ToleranceBps > 10000 {
		return fmt.Errorf("tolerance %d bps exceeds 100%%", p.ToleranceBps)
	}
	if p.MinAmount == nil {
		return fmt.Errorf("min amount must be set (use zero to disable)")
	}
	return nil
}
