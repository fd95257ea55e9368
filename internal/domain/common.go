package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// PositionSide represents the direction of an open position.
type PositionSide string

const (
	Long  PositionSide = "LONG"
	Short PositionSide = "SHORT"
)

// SideForPosition maps an order side to the position direction it opens.
func SideForPosition(side OrderSide) PositionSide {
	if side == Buy {
		return Long
	}
	return Short
}

// OrderForPosition maps a position direction to the order side that opened it.
func OrderForPosition(side PositionSide) OrderSide {
	if side == Long {
		return Buy
	}
	return Sell
}

// OrderType represents the execution type of an order.
type OrderType string

const (
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeStopMarket OrderType = "STOP_MARKET"
)

// OrderStatus represents the lifecycle state of a tracked order.
type OrderStatus string

const (
	OrderStatusNew       OrderStatus = "NEW"
	OrderStatusAcked     OrderStatus = "ACKED"
	OrderStatusRequeued  OrderStatus = "REQUEUED"
	OrderStatusSettled   OrderStatus = "SETTLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// IsTerminal reports whether no further events can move the order.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusSettled || s == OrderStatusCancelled
}

// TradeStatus represents the state of a ledger trade record.
type TradeStatus string

const (
	TradeStatusOpen   TradeStatus = "open"
	TradeStatusClosed TradeStatus = "closed"
)
