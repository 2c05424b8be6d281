package engine

import "errors"

// RejectKind classifies why a call was refused. Every rejection happens
// before any state mutation; callers may retry validation failures with
// corrected input, liquidity failures later.
type RejectKind int8

const (
	KindValidation RejectKind = iota
	KindLiquidity
	KindArithmetic
	KindAuthorization
)

func (k RejectKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindLiquidity:
		return "liquidity"
	case KindArithmetic:
		return "arithmetic"
	case KindAuthorization:
		return "authorization"
	default:
		return "unknown"
	}
}

// Rejection reasons surfaced to callers. The admission strings match the
// contract's historical revert reasons and are load-bearing for clients.
const (
	ReasonInsufficientMatic      = "Insufficient matic amount"
	ReasonInsufficientSellOrders = "Insufficient SellOrders"
	ReasonInvalidTokenAmount     = "Invalid Token Amount"
	ReasonInsufficientBuyOrders  = "Insufficient BuyOrders"
	ReasonInvalidMaticAmount     = "Invalid matic amount"
	ReasonSellWithMatic          = "Invalid matic amount for createLimitSellOrder"
	ReasonInvalidTimeLimit       = "Invalid time limit"
	ReasonInvalidPrice           = "Invalid price"
	ReasonOrderNotFound          = "Order not found"
	ReasonNotOrderOwner          = "Not order owner"
	ReasonOrderNotOpen           = "Order is not open"
)

// Reject is the error returned for every refused call.
type Reject struct {
	Kind   RejectKind
	Reason string
	cause  error
}

func (e *Reject) Error() string { return e.Reason }
func (e *Reject) Unwrap() error { return e.cause }

func rejectValidation(reason string) *Reject {
	return &Reject{Kind: KindValidation, Reason: reason}
}

func rejectLiquidity(reason string) *Reject {
	return &Reject{Kind: KindLiquidity, Reason: reason}
}

func rejectAuthorization(reason string) *Reject {
	return &Reject{Kind: KindAuthorization, Reason: reason}
}

// rejectArithmetic wraps a fixedpoint failure; the whole call aborts with no
// state change.
func rejectArithmetic(err error) *Reject {
	return &Reject{Kind: KindArithmetic, Reason: err.Error(), cause: err}
}

// IsKind reports whether err is a Reject of kind k.
func IsKind(err error, k RejectKind) bool {
	var rej *Reject
	return errors.As(err, &rej) && rej.Kind == k
}
