package bluefin

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"bluefinAgent/internal/domain"
	"bluefinAgent/internal/ports"
)

// wsEnvelope is the outer frame of every message on the user data stream.
type wsEnvelope struct {
	EventName string          `json:"eventName"`
	Data      json.RawMessage `json:"data"`
}

// wsOrderUpdate carries one order lifecycle notification.
type wsOrderUpdate struct {
	OrderHash       string `json:"orderHash"`
	Symbol          string `json:"symbol"`
	EventType       string `json:"eventType"`
	FillPrice       string `json:"fillPrice"`
	FillQuantity    string `json:"fillQty"`
	Maker           bool   `json:"isMaker"`
	TimestampMillis int64  `json:"timestamp"`
}

type wsSubscribe struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	APIKey string   `json:"apiKey"`
}

// StreamOrderEvents connects to the user data stream and delivers order
// lifecycle events to the handler. The connection is re-established with
// exponential backoff; events for one order hash keep their venue ordering
// because a single reader goroutine feeds the handler.
func (c *Client) StreamOrderEvents(ctx context.Context, handler func(ev *domain.OrderEvent), errHandler func(err error)) (doneCh chan struct{}, stopCh chan struct{}, err error) {
	op := "StreamOrderEvents"
	wsCtx, cancelWs := context.WithCancel(ctx)

	doneCh = make(chan struct{})
	stopCh = make(chan struct{})

	go func() {
		select {
		case <-stopCh:
			c.logger.Info(ctx, op+": received external stop signal", nil)
			cancelWs()
		case <-wsCtx.Done():
		}
	}()

	go func() {
		defer close(doneCh)
		defer cancelWs()

		b := &backoff.Backoff{
			Min:    time.Second,
			Max:    time.Minute,
			Factor: 2,
			Jitter: true,
		}
		for {
			select {
			case <-wsCtx.Done():
				return
			default:
			}

			conn, connErr := c.dialStream(wsCtx)
			if connErr != nil {
				delay := b.Duration()
				c.logger.Warn(wsCtx, op+": connection failed, retrying", map[string]interface{}{
					"error": connErr.Error(),
					"delay": delay.String(),
				})
				errHandler(fmt.Errorf("%w: %v", ports.ErrConnectionFailed, connErr))
				select {
				case <-time.After(delay):
					continue
				case <-wsCtx.Done():
					return
				}
			}

			b.Reset()
			c.logger.Info(wsCtx, op+": user data stream connected", nil)
			c.readLoop(wsCtx, conn, handler, errHandler)
			conn.Close()

			select {
			case <-wsCtx.Done():
				return
			default:
				c.logger.Warn(wsCtx, op+": connection closed, reconnecting", nil)
			}
		}
	}()

	return doneCh, stopCh, nil
}

func (c *Client) dialStream(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.Timeout}
	conn, _, err := dialer.DialContext(ctx, c.cfg.WSURL, nil)
	if err != nil {
		return nil, err
	}
	sub := wsSubscribe{
		Method: "SUBSCRIBE",
		Params: []string{"orderUpdates", "userTrades"},
		APIKey: c.cfg.APIKey,
	}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	return conn, nil
}

// readLoop pumps messages from one connection until it breaks or the context
// is cancelled.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, handler func(ev *domain.OrderEvent), errHandler func(err error)) {
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				errHandler(fmt.Errorf("%w: read: %v", ports.ErrConnectionFailed, err))
			}
			return
		}

		var env wsEnvelope
		if err := json.Unmarshal(msg, &env); err != nil {
			c.logger.Warn(ctx, "readLoop: unparseable stream message, skipping", map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}
		if env.EventName != "OrderUpdate" {
			continue
		}

		var upd wsOrderUpdate
		if err := json.Unmarshal(env.Data, &upd); err != nil {
			c.logger.Warn(ctx, "readLoop: bad order update payload, skipping", map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}
		ev, err := translateOrderUpdate(&upd)
		if err != nil {
			c.logger.Warn(ctx, "readLoop: unknown order event type, skipping", map[string]interface{}{
				"eventType": upd.EventType,
				"hash":      upd.OrderHash,
			})
			continue
		}
		handler(ev)
	}
}

func translateOrderUpdate(upd *wsOrderUpdate) (*domain.OrderEvent, error) {
	var typ domain.OrderEventType
	switch upd.EventType {
	case string(domain.EventOrderAck):
		typ = domain.EventOrderAck
	case string(domain.EventOrderSettlement):
		typ = domain.EventOrderSettlement
	case string(domain.EventOrderRequeue):
		typ = domain.EventOrderRequeue
	case string(domain.EventOrderCancelledOnReversion):
		typ = domain.EventOrderCancelledOnReversion
	default:
		return nil, fmt.Errorf("%w: %s", ports.ErrUnknownOrderEvent, upd.EventType)
	}

	fillPrice, _ := strconv.ParseFloat(upd.FillPrice, 64)
	fillQty, _ := strconv.ParseFloat(upd.FillQuantity, 64)
	return &domain.OrderEvent{
		Type:         typ,
		OrderHash:    upd.OrderHash,
		Symbol:       upd.Symbol,
		FillPrice:    fillPrice,
		FillQuantity: fillQty,
		Maker:        upd.Maker,
		Timestamp:    time.UnixMilli(upd.TimestampMillis),
	}, nil
}
