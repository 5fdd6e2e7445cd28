package engine

import "errors"

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrTradeNotFound     = errors.New("trade not found")
	ErrOrderTerminal     = errors.New("order already completed or cancelled")
	ErrSelfTrade         = errors.New("orders belong to the same user")
	ErrPairMismatch      = errors.New("orders are not on the same trading pair")
	ErrSideMismatch      = errors.New("orders are not on opposite sides")
	ErrIncompatiblePrice = errors.New("limit prices do not cross")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrExcessiveQuantity = errors.New("quantity exceeds remaining order quantity")
)
