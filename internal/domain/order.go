package domain

import "time"

// Order is an in-flight exchange order tracked by the lifecycle tracker.
// It is owned exclusively by the tracker's per-symbol worker; events for the
// same hash are applied strictly in arrival order.
type Order struct {
	Hash           string      // Client order hash, assigned on submission
	Symbol         string      // Venue symbol (e.g., "SUI-PERP")
	Side           OrderSide   // BUY or SELL
	Quantity       float64     // Requested quantity
	Price          float64     // Limit/trigger price; 0 means market
	Type           OrderType   // MARKET, LIMIT, STOP_MARKET
	ReduceOnly     bool        // Protective legs may only shrink a position
	Status         OrderStatus // NEW, ACKED, REQUEUED, SETTLED, CANCELLED
	RequeueCount   int         // Only ever increases
	PriceAdjusted  bool        // Set after the one requeue price adjustment
	FilledQuantity float64     // Cumulative settled quantity
	AvgFillPrice   float64     // Volume-weighted settlement price
	CreatedAt      time.Time
}

// RemainingQuantity returns the unfilled portion of the order.
func (o *Order) RemainingQuantity() float64 {
	rem := o.Quantity - o.FilledQuantity
	if rem < 0 {
		return 0
	}
	return rem
}

// OrderEventType tags an event on the exchange order stream.
type OrderEventType string

const (
	EventOrderAck                  OrderEventType = "ORDER_ACK"
	EventOrderSettlement           OrderEventType = "ORDER_SETTLEMENT"
	EventOrderRequeue              OrderEventType = "ORDER_REQUEUE"
	EventOrderCancelledOnReversion OrderEventType = "ORDER_CANCELLED_ON_REVERSION"
)

// OrderEvent is a single notification from the exchange event stream.
// Events for one order hash arrive in order; no guarantee holds across
// different hashes.
type OrderEvent struct {
	Type         OrderEventType
	OrderHash    string
	Symbol       string
	FillPrice    float64 // Settlement events only
	FillQuantity float64 // Settlement events only
	Maker        bool    // Settlement events only
	Timestamp    time.Time
}
