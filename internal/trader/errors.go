package trader

import "errors"

var (
	// ErrNoPositionToReduce means a reduce/close/protective action targeted
	// a symbol with no open position.
	ErrNoPositionToReduce = errors.New("no position to reduce")

	// ErrOrderNotFilled means a LIMIT entry hit the wait deadline or a
	// terminal non-filled state. There is no market fallback: the decision
	// was priced at the limit, not at whatever the market does next.
	ErrOrderNotFilled = errors.New("order not filled within wait window")

	// ErrSafetyRejected means the pre-trade gate refused the order.
	ErrSafetyRejected = errors.New("order rejected by pre-trade checks")
)
