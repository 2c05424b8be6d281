package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Pebble key schema. Orders are keyed by zero-padded id so a prefix scan
// yields arrival order, which is exactly the FIFO priority needed to rebuild
// the book after restart. A per-owner marker key supports owner scans.
const (
	prefixOrder = "ord:"
	prefixOwner = "own:"
	keySequence = "seq"
)

// orderKey returns "ord:{id:020d}".
func orderKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixOrder, id))
}

// ownerKey returns "own:{address}:{id:020d}".
func ownerKey(addr common.Address, id uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", prefixOwner, addr.Hex(), id))
}

// ownerPrefix returns the range prefix for one owner's orders.
func ownerPrefix(addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixOwner, addr.Hex()))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
