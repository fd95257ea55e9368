// Package lifecycle drives orders through their exchange lifecycle and keeps
// the per-symbol position book consistent with settled fills. A single worker
// goroutine per symbol applies events in arrival order, so no order or
// position is ever touched by two goroutines at once.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"bluefinAgent/internal/domain"
	"bluefinAgent/internal/ports"
)

const fillEpsilon = 1e-9

// TradeRecorder receives position openings and closings for performance
// accounting. The performance ledger implements it.
type TradeRecorder interface {
	RecordEntry(ctx context.Context, trade *domain.Trade) error
	RecordExit(ctx context.Context, tradeID string, exitPrice float64, exitTime time.Time) error
	RecordPartialExit(ctx context.Context, tradeID string, quantity, exitPrice float64, exitTime time.Time) error
}

// Config holds lifecycle tracking parameters.
type Config struct {
	RequeueAdjustThreshold int     // Requeues tolerated before the one price adjustment
	RequeueAdjustPct       float64 // Adjustment size, e.g. 0.01 for 1%
	BreakEvenPct           float64 // Favorable move that drags the stop to entry; 0 disables
	QueueSize              int     // Per-symbol event queue capacity
}

// trackedOrder pairs an order with the state the tracker needs around it:
// protective legs still to be submitted, and which position leg it protects.
type trackedOrder struct {
	order       *domain.Order
	legs        []ports.OrderRequest // Pending until the entry acks
	siblingHash string               // Other protective leg, cancelled when this one settles
	protective  bool
}

// symbolBook is everything the worker for one symbol owns.
type symbolBook struct {
	queue    chan *domain.OrderEvent
	position *domain.Position
	stopHash string // Active protective stop, for trailing adjustment
}

// Tracker owns the order and position maps and applies exchange events to
// them. Construct with New, then Start before feeding events.
type Tracker struct {
	cfg      Config
	exchange ports.ExchangeClient
	recorder TradeRecorder
	logger   ports.Logger

	mu      sync.RWMutex
	orders  map[string]*trackedOrder
	books   map[string]*symbolBook
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Tracker.
func New(cfg Config, exchange ports.ExchangeClient, recorder TradeRecorder, log ports.Logger) (*Tracker, error) {
	if exchange == nil || recorder == nil || log == nil {
		return nil, fmt.Errorf("exchange, recorder and logger are required for lifecycle tracker")
	}
	if cfg.RequeueAdjustThreshold <= 0 {
		cfg.RequeueAdjustThreshold = 2
	}
	if cfg.RequeueAdjustPct <= 0 {
		cfg.RequeueAdjustPct = 0.01
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	return &Tracker{
		cfg:      cfg,
		exchange: exchange,
		recorder: recorder,
		logger:   log,
		orders:   make(map[string]*trackedOrder),
		books:    make(map[string]*symbolBook),
	}, nil
}

// Start makes the tracker ready to accept events. Workers are spawned lazily
// per symbol on the first event or tracked order.
func (t *Tracker) Start(ctx context.Context) {
	t.ctx, t.cancel = context.WithCancel(ctx)
}

// Stop halts event intake, drains already queued events and waits for the
// symbol workers to exit. Safe to call more than once; events arriving
// during or after Stop are dropped.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()
}

// TrackEntry registers a freshly placed entry order together with its
// protective legs. The legs are submitted when the entry acknowledges.
func (t *Tracker) TrackEntry(order *domain.Order, legs ...ports.OrderRequest) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.orders[order.Hash] = &trackedOrder{order: order, legs: legs}
	t.bookLocked(order.Symbol)
}

// TrackOrder registers an order with no pending legs, e.g. a manual close.
func (t *Tracker) TrackOrder(order *domain.Order) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.orders[order.Hash] = &trackedOrder{order: order}
	t.bookLocked(order.Symbol)
}

// Position returns a copy of the open position for symbol, if any.
func (t *Tracker) Position(symbol string) (domain.Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	book, ok := t.books[symbol]
	if !ok || book.position == nil {
		return domain.Position{}, false
	}
	return *book.position, true
}

// Positions returns copies of all open positions.
func (t *Tracker) Positions() []*domain.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*domain.Position
	for _, book := range t.books {
		if book.position != nil {
			p := *book.position
			out = append(out, &p)
		}
	}
	return out
}

// RestorePosition seeds a position at startup, e.g. from the venue's account
// snapshot. It must be called before Start.
func (t *Tracker) RestorePosition(pos *domain.Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	book := t.bookLocked(pos.Symbol)
	book.position = pos
}

// HandleEvent routes an exchange event to its symbol worker. Events for one
// order hash are applied strictly in arrival order; different symbols proceed
// in parallel.
func (t *Tracker) HandleEvent(event *domain.OrderEvent) {
	if event == nil || event.Symbol == "" {
		return
	}
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	book := t.bookLocked(event.Symbol)
	t.mu.Unlock()

	select {
	case book.queue <- event:
	case <-t.ctx.Done():
	}
}

// bookLocked returns the book for symbol, creating it and its worker if
// needed. Caller holds t.mu.
func (t *Tracker) bookLocked(symbol string) *symbolBook {
	if book, ok := t.books[symbol]; ok {
		return book
	}
	book := &symbolBook{queue: make(chan *domain.OrderEvent, t.cfg.QueueSize)}
	t.books[symbol] = book
	if !t.stopped {
		t.wg.Add(1)
		go t.run(book)
	}
	return book
}

func (t *Tracker) run(book *symbolBook) {
	defer t.wg.Done()
	for {
		select {
		case event := <-book.queue:
			t.apply(t.ctx, book, event)
		case <-t.ctx.Done():
			// Apply what is already queued, then exit.
			for {
				select {
				case event := <-book.queue:
					t.apply(t.ctx, book, event)
				default:
					return
				}
			}
		}
	}
}

func (t *Tracker) apply(ctx context.Context, book *symbolBook, event *domain.OrderEvent) {
	t.mu.Lock()
	tracked, ok := t.orders[event.OrderHash]
	t.mu.Unlock()
	if !ok {
		t.logger.Warn(ctx, "applyEvent: event for unknown order hash, dropping", map[string]interface{}{
			"hash":   event.OrderHash,
			"type":   string(event.Type),
			"symbol": event.Symbol,
		})
		return
	}

	order := tracked.order
	if order.Status.IsTerminal() {
		t.logger.Debug(ctx, "applyEvent: event for terminal order, ignoring", map[string]interface{}{
			"hash":   order.Hash,
			"status": string(order.Status),
			"type":   string(event.Type),
		})
		return
	}

	switch event.Type {
	case domain.EventOrderAck:
		t.applyAck(ctx, book, tracked)
	case domain.EventOrderSettlement:
		t.applySettlement(ctx, book, tracked, event)
	case domain.EventOrderRequeue:
		t.applyRequeue(ctx, book, tracked)
	case domain.EventOrderCancelledOnReversion:
		t.applyCancellation(ctx, tracked)
	default:
		t.logger.Warn(ctx, "applyEvent: unknown event type", map[string]interface{}{
			"hash": order.Hash,
			"type": string(event.Type),
		})
	}
}

func (t *Tracker) applyAck(ctx context.Context, book *symbolBook, tracked *trackedOrder) {
	order := tracked.order
	order.Status = domain.OrderStatusAcked
	t.logger.Info(ctx, "applyAck: order acknowledged", map[string]interface{}{
		"hash":   order.Hash,
		"symbol": order.Symbol,
	})

	if len(tracked.legs) == 0 {
		return
	}
	legs := tracked.legs
	tracked.legs = nil
	t.submitLegs(ctx, book, tracked, legs)
}

// submitLegs places the protective stop and target after the entry acks.
// If any leg fails, the entry is cancelled so the position is never left
// unprotected.
func (t *Tracker) submitLegs(ctx context.Context, book *symbolBook, entry *trackedOrder, legs []ports.OrderRequest) {
	placed := make([]*domain.Order, 0, len(legs))
	for _, req := range legs {
		leg, err := t.exchange.PlaceOrder(ctx, req)
		if err != nil {
			t.logger.Error(ctx, err, "submitLegs: protective leg rejected, cancelling entry", map[string]interface{}{
				"symbol":  req.Symbol,
				"legType": string(req.Type),
				"entry":   entry.order.Hash,
			})
			for _, p := range placed {
				if cerr := t.exchange.CancelOrder(ctx, p.Hash); cerr != nil {
					t.logger.Error(ctx, cerr, "submitLegs: failed to cancel placed leg", map[string]interface{}{
						"hash": p.Hash,
					})
				}
			}
			if cerr := t.exchange.CancelOrder(ctx, entry.order.Hash); cerr != nil {
				t.logger.Error(ctx, cerr, "submitLegs: failed to cancel entry order", map[string]interface{}{
					"hash": entry.order.Hash,
				})
			}
			entry.order.Status = domain.OrderStatusCancelled
			return
		}
		placed = append(placed, leg)
	}

	t.mu.Lock()
	for i, leg := range placed {
		to := &trackedOrder{order: leg, protective: true}
		if len(placed) == 2 {
			to.siblingHash = placed[1-i].Hash
		}
		t.orders[leg.Hash] = to
		if leg.Type == domain.OrderTypeStopMarket {
			book.stopHash = leg.Hash
		}
	}
	t.mu.Unlock()

	t.logger.Info(ctx, "submitLegs: protective legs placed", map[string]interface{}{
		"symbol": entry.order.Symbol,
		"count":  len(placed),
	})
}

func (t *Tracker) applySettlement(ctx context.Context, book *symbolBook, tracked *trackedOrder, event *domain.OrderEvent) {
	order := tracked.order
	if event.FillQuantity <= 0 {
		t.logger.Warn(ctx, "applySettlement: non-positive fill quantity, ignoring", map[string]interface{}{
			"hash": order.Hash,
			"qty":  event.FillQuantity,
		})
		return
	}

	// Volume-weighted average across partial fills.
	total := order.FilledQuantity + event.FillQuantity
	order.AvgFillPrice = (order.AvgFillPrice*order.FilledQuantity + event.FillPrice*event.FillQuantity) / total
	order.FilledQuantity = total

	t.applyFill(ctx, book, tracked, event.FillQuantity, event.FillPrice, event.Timestamp)

	if order.RemainingQuantity() <= fillEpsilon {
		order.Status = domain.OrderStatusSettled
		t.logger.Info(ctx, "applySettlement: order fully settled", map[string]interface{}{
			"hash":     order.Hash,
			"symbol":   order.Symbol,
			"avgPrice": order.AvgFillPrice,
		})
		if tracked.protective && tracked.siblingHash != "" {
			t.cancelSibling(ctx, book, tracked.siblingHash)
		}
	}
}

// cancelSibling cancels the other protective leg once one of them settles,
// so a filled stop does not leave a live target order behind.
func (t *Tracker) cancelSibling(ctx context.Context, book *symbolBook, hash string) {
	t.mu.Lock()
	sibling, ok := t.orders[hash]
	t.mu.Unlock()
	if !ok || sibling.order.Status.IsTerminal() {
		return
	}
	if err := t.exchange.CancelOrder(ctx, hash); err != nil {
		t.logger.Error(ctx, err, "cancelSibling: cancel failed", map[string]interface{}{
			"hash": hash,
		})
		return
	}
	sibling.order.Status = domain.OrderStatusCancelled
	if book.stopHash == hash {
		book.stopHash = ""
	}
}

// applyFill transitions the position for a settled quantity: create, merge,
// reduce, close, or flip. Closed portions are handed to the recorder.
func (t *Tracker) applyFill(ctx context.Context, book *symbolBook, tracked *trackedOrder, qty, price float64, ts time.Time) {
	order := tracked.order
	fillSide := domain.SideForPosition(order.Side)
	pos := book.position

	switch {
	case pos == nil:
		if order.ReduceOnly {
			t.logger.Warn(ctx, "applyFill: reduce-only fill with no position", map[string]interface{}{
				"hash": order.Hash,
			})
			return
		}
		t.openPosition(ctx, book, order, fillSide, qty, price, ts)

	case pos.Side == fillSide:
		// Merge: volume-weighted average entry.
		total := pos.Quantity + qty
		pos.EntryPrice = (pos.EntryPrice*pos.Quantity + price*qty) / total
		pos.Quantity = total
		t.logger.Info(ctx, "applyFill: merged into position", map[string]interface{}{
			"symbol":   pos.Symbol,
			"quantity": pos.Quantity,
			"avgEntry": pos.EntryPrice,
		})

	case qty < pos.Quantity-fillEpsilon:
		// Reduce: part of the position closes.
		pos.Quantity -= qty
		if err := t.recorder.RecordPartialExit(ctx, pos.TradeID, qty, price, ts); err != nil {
			t.logger.Error(ctx, err, "applyFill: partial exit recording failed", map[string]interface{}{
				"tradeID": pos.TradeID,
			})
		}
		t.logger.Info(ctx, "applyFill: position reduced", map[string]interface{}{
			"symbol":    pos.Symbol,
			"remaining": pos.Quantity,
		})

	case qty <= pos.Quantity+fillEpsilon:
		t.closePosition(ctx, book, price, ts)

	default:
		// Flip: close the old position, the remainder opens a new one.
		remainder := qty - pos.Quantity
		t.closePosition(ctx, book, price, ts)
		t.openPosition(ctx, book, order, fillSide, remainder, price, ts)
	}
}

func (t *Tracker) openPosition(ctx context.Context, book *symbolBook, order *domain.Order, side domain.PositionSide, qty, price float64, ts time.Time) {
	trade := &domain.Trade{
		ID:         uuid.New().String(),
		Symbol:     order.Symbol,
		Side:       side,
		EntryPrice: price,
		Quantity:   qty,
		EntryTime:  ts,
		Status:     domain.TradeStatusOpen,
	}
	book.position = &domain.Position{
		Symbol:     order.Symbol,
		Side:       side,
		Quantity:   qty,
		EntryPrice: price,
		EntryTime:  ts,
		TradeID:    trade.ID,
	}
	t.mu.Lock()
	if stop, ok := t.orders[book.stopHash]; ok && !stop.order.Status.IsTerminal() {
		book.position.StopLoss = stop.order.Price
		trade.StopLoss = stop.order.Price
	}
	t.mu.Unlock()
	if err := t.recorder.RecordEntry(ctx, trade); err != nil {
		t.logger.Error(ctx, err, "openPosition: entry recording failed", map[string]interface{}{
			"tradeID": trade.ID,
		})
	}
	t.logger.Info(ctx, "openPosition: position opened", map[string]interface{}{
		"symbol":   order.Symbol,
		"side":     string(side),
		"quantity": qty,
		"entry":    price,
	})
}

func (t *Tracker) closePosition(ctx context.Context, book *symbolBook, price float64, ts time.Time) {
	pos := book.position
	if pos == nil {
		return
	}
	if err := t.recorder.RecordExit(ctx, pos.TradeID, price, ts); err != nil {
		t.logger.Error(ctx, err, "closePosition: exit recording failed", map[string]interface{}{
			"tradeID": pos.TradeID,
		})
	}
	t.logger.Info(ctx, "closePosition: position closed", map[string]interface{}{
		"symbol": pos.Symbol,
		"exit":   price,
		"pnl":    pos.UnrealizedPnL(price),
	})
	book.position = nil
}

func (t *Tracker) applyRequeue(ctx context.Context, book *symbolBook, tracked *trackedOrder) {
	order := tracked.order
	order.RequeueCount++
	order.Status = domain.OrderStatusRequeued
	t.logger.Info(ctx, "applyRequeue: order requeued", map[string]interface{}{
		"hash":  order.Hash,
		"count": order.RequeueCount,
	})

	if order.RequeueCount <= t.cfg.RequeueAdjustThreshold || order.PriceAdjusted {
		return
	}
	order.PriceAdjusted = true
	t.repriceOrder(ctx, book, tracked)
}

// repriceOrder cancels a repeatedly requeued order and resubmits it with the
// price moved against the trader so it crosses the book: buys up, sells down.
func (t *Tracker) repriceOrder(ctx context.Context, book *symbolBook, tracked *trackedOrder) {
	order := tracked.order
	newPrice := order.Price * (1 + t.cfg.RequeueAdjustPct)
	if order.Side == domain.Sell {
		newPrice = order.Price * (1 - t.cfg.RequeueAdjustPct)
	}

	if err := t.exchange.CancelOrder(ctx, order.Hash); err != nil {
		t.logger.Error(ctx, err, "repriceOrder: cancel failed, keeping original order", map[string]interface{}{
			"hash": order.Hash,
		})
		return
	}

	req := ports.OrderRequest{
		Symbol:        order.Symbol,
		Side:          order.Side,
		Quantity:      order.RemainingQuantity(),
		Price:         newPrice,
		Type:          order.Type,
		ReduceOnly:    order.ReduceOnly,
		TimeInForce:   "GTC",
		ClientOrderID: uuid.New().String(),
	}
	replacement, err := t.exchange.PlaceOrder(ctx, req)
	if err != nil {
		t.logger.Error(ctx, err, "repriceOrder: resubmit failed", map[string]interface{}{
			"hash": order.Hash,
		})
		order.Status = domain.OrderStatusCancelled
		return
	}

	// State carries over: the replacement is the same logical order.
	replacement.RequeueCount = order.RequeueCount
	replacement.PriceAdjusted = true
	replacement.FilledQuantity = order.FilledQuantity
	replacement.AvgFillPrice = order.AvgFillPrice

	t.mu.Lock()
	delete(t.orders, order.Hash)
	t.orders[replacement.Hash] = &trackedOrder{
		order:       replacement,
		legs:        tracked.legs,
		siblingHash: tracked.siblingHash,
		protective:  tracked.protective,
	}
	if book.stopHash == order.Hash {
		book.stopHash = replacement.Hash
	}
	t.mu.Unlock()

	t.logger.Info(ctx, "repriceOrder: order repriced and resubmitted", map[string]interface{}{
		"oldHash":  order.Hash,
		"newHash":  replacement.Hash,
		"oldPrice": order.Price,
		"newPrice": newPrice,
	})
}

func (t *Tracker) applyCancellation(ctx context.Context, tracked *trackedOrder) {
	tracked.order.Status = domain.OrderStatusCancelled
	t.logger.Info(ctx, "applyCancellation: order cancelled on reversion", map[string]interface{}{
		"hash":   tracked.order.Hash,
		"symbol": tracked.order.Symbol,
	})
}

// AdjustStops moves the protective stop to break-even once price has moved
// the configured fraction in the position's favor. The engine calls this
// periodically with a fresh market price.
func (t *Tracker) AdjustStops(ctx context.Context, symbol string, marketPrice float64) {
	if t.cfg.BreakEvenPct <= 0 || marketPrice <= 0 {
		return
	}

	t.mu.Lock()
	book, ok := t.books[symbol]
	if !ok || book.position == nil {
		t.mu.Unlock()
		return
	}
	pos := *book.position
	stopHash := book.stopHash
	stop := t.orders[stopHash]
	t.mu.Unlock()

	// Without a live stop there is nothing to trail unless a previous
	// replacement failed and left the position bare; in that case a fresh
	// break-even stop is placed below.
	hasLiveStop := stop != nil && !stop.order.Status.IsTerminal()
	if !hasLiveStop && stopHash != "" {
		return
	}

	move := (marketPrice - pos.EntryPrice) / pos.EntryPrice
	if pos.Side == domain.Short {
		move = -move
	}
	if move < t.cfg.BreakEvenPct {
		return
	}

	if hasLiveStop {
		// Already at or past break-even.
		if (pos.Side == domain.Long && stop.order.Price >= pos.EntryPrice) ||
			(pos.Side == domain.Short && stop.order.Price <= pos.EntryPrice && stop.order.Price > 0) {
			return
		}

		if err := t.exchange.CancelOrder(ctx, stopHash); err != nil {
			t.logger.Error(ctx, err, "adjustStops: cancel of old stop failed", map[string]interface{}{
				"hash": stopHash,
			})
			return
		}
		// The old stop is gone on the venue; forget it immediately so a
		// failed replacement does not trigger a second cancel next tick.
		t.mu.Lock()
		stop.order.Status = domain.OrderStatusCancelled
		if book.stopHash == stopHash {
			book.stopHash = ""
		}
		t.mu.Unlock()
	}

	req := ports.OrderRequest{
		Symbol:        symbol,
		Side:          domain.OrderForPosition(pos.Side).Opposite(),
		Quantity:      pos.Quantity,
		Price:         pos.EntryPrice,
		Type:          domain.OrderTypeStopMarket,
		ReduceOnly:    true,
		TimeInForce:   "GTC",
		ClientOrderID: uuid.New().String(),
	}
	replacement, err := t.exchange.PlaceOrder(ctx, req)
	if err != nil {
		t.logger.Error(ctx, err, "adjustStops: break-even stop placement failed, retrying next tick", map[string]interface{}{
			"symbol": symbol,
		})
		return
	}

	siblingHash := ""
	if stop != nil {
		siblingHash = stop.siblingHash
	}
	t.mu.Lock()
	t.orders[replacement.Hash] = &trackedOrder{
		order:       replacement,
		siblingHash: siblingHash,
		protective:  true,
	}
	if sib, ok := t.orders[siblingHash]; ok {
		sib.siblingHash = replacement.Hash
	}
	book.stopHash = replacement.Hash
	if book.position != nil {
		book.position.StopLoss = pos.EntryPrice
	}
	t.mu.Unlock()

	t.logger.Info(ctx, "adjustStops: stop moved to break-even", map[string]interface{}{
		"symbol":   symbol,
		"newStop":  pos.EntryPrice,
		"moveFrac": move,
	})
}

// Pending returns the number of non-terminal tracked orders, used by tests
// and shutdown logging.
func (t *Tracker) Pending() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, to := range t.orders {
		if !to.order.Status.IsTerminal() {
			n++
		}
	}
	return n
}
