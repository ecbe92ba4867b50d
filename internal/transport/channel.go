// Package transport is the request/response adapter over the battle server's
// websocket. Sends are fire-and-forget: correlation with a response is the
// caller's job (see the guard package). A send while disconnected reports
// false rather than erroring, so callers can fall back without
// exception-style control flow.
package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/dsalaz04/pkmn-battle-client/internal/metrics"
	"github.com/dsalaz04/pkmn-battle-client/internal/protocol"
)

const writeTimeout = 3 * time.Second

// Handler receives one decoded inbound event. requestID is the correlation
// id echoed by the server, empty for pushes.
type Handler func(ev protocol.ServerEvent, requestID string)

type Options struct {
	URL string
	Log *zap.Logger

	// DialTimeout bounds the whole dial-with-backoff attempt.
	DialTimeout time.Duration

	// OnDisconnect fires once when the read pump exits for good (after
	// reconnect attempts are exhausted or the channel is closed). err is nil
	// on a clean local close.
	OnDisconnect func(err error)

	// MaxReconnects bounds automatic reconnect attempts after a dropped
	// connection. 0 disables reconnecting.
	MaxReconnects int
}

type Channel struct {
	opts Options
	log  *zap.Logger

	mu     sync.RWMutex
	conn   *websocket.Conn
	ready  bool
	subs   map[protocol.EventType]map[int]Handler
	nextID int
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

// Dial connects to the battle server, retrying with exponential backoff
// until the dial timeout elapses, and starts the read pump.
func Dial(parent context.Context, opts Options) (*Channel, error) {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(parent)
	c := &Channel{
		opts:   opts,
		log:    opts.Log,
		subs:   make(map[protocol.EventType]map[int]Handler),
		ctx:    ctx,
		cancel: cancel,
	}

	conn, err := c.dial()
	if err != nil {
		cancel()
		return nil, err
	}
	c.setConn(conn)

	go c.readPump(conn)
	return c, nil
}

func (c *Channel) dial() (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(c.ctx, c.opts.DialTimeout)
	defer cancel()

	var conn *websocket.Conn
	operation := func() error {
		var err error
		conn, _, err = websocket.Dial(dialCtx, c.opts.URL, nil)
		if err != nil {
			c.log.Warn("dial failed, retrying", zap.String("url", c.opts.URL), zap.Error(err))
		}
		return err
	}
	if err := backoff.Retry(operation, backoff.WithContext(backoff.NewExponentialBackOff(), dialCtx)); err != nil {
		return nil, err
	}
	c.log.Info("connected", zap.String("url", c.opts.URL))
	return conn, nil
}

func (c *Channel) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.ready = conn != nil
	c.mu.Unlock()
}

// Ready reports whether the underlying connection is usable right now.
func (c *Channel) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// Send writes one outbound message. Returns false when the transport is not
// connected or the write fails; the message is never queued.
func (c *Channel) Send(msg protocol.ClientMessage, requestID string) bool {
	c.mu.RLock()
	conn, ready := c.conn, c.ready
	c.mu.RUnlock()
	if !ready || conn == nil {
		return false
	}

	raw, err := protocol.EncodeClientMessage(msg, requestID)
	if err != nil {
		c.log.Error("encode outbound message", zap.Error(err))
		return false
	}

	ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, raw); err != nil {
		c.log.Warn("write failed",
			zap.String("type", string(msg.MessageType())),
			zap.Error(err))
		return false
	}
	metrics.ActionsSent.WithLabelValues(string(msg.MessageType())).Inc()
	return true
}

// On subscribes h to inbound events of type et and returns its unsubscribe
// func. Handlers run on the read pump goroutine.
func (c *Channel) On(et protocol.EventType, h Handler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subs[et] == nil {
		c.subs[et] = make(map[int]Handler)
	}
	id := c.nextID
	c.nextID++
	c.subs[et][id] = h
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs[et], id)
	}
}

func (c *Channel) readPump(conn *websocket.Conn) {
	for {
		err := c.readAll(conn)
		if err == nil {
			// Clean local close.
			c.finish(nil)
			return
		}
		c.setConn(nil)

		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			c.finish(nil)
			return
		}
		if c.ctx.Err() != nil {
			c.finish(nil)
			return
		}

		next, reconnErr := c.reconnect()
		if reconnErr != nil {
			c.finish(err)
			return
		}
		conn = next
	}
}

// readAll reads frames until the connection breaks or the channel closes.
func (c *Channel) readAll(conn *websocket.Conn) error {
	for {
		_, raw, err := conn.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return nil
			}
			return err
		}

		ev, requestID, err := protocol.DecodeServerEvent(raw)
		if err != nil {
			// A misspelled or unknown event name is a hard protocol error;
			// count it and keep the connection alive.
			metrics.DecodeErrors.Inc()
			c.log.Error("drop undecodable frame", zap.Error(err), zap.ByteString("raw", raw))
			continue
		}
		metrics.EventsReceived.WithLabelValues(string(ev.EventType())).Inc()
		c.dispatch(ev, requestID)
	}
}

func (c *Channel) dispatch(ev protocol.ServerEvent, requestID string) {
	c.mu.RLock()
	handlers := make([]Handler, 0, len(c.subs[ev.EventType()]))
	for _, h := range c.subs[ev.EventType()] {
		handlers = append(handlers, h)
	}
	c.mu.RUnlock()

	for _, h := range handlers {
		h(ev, requestID)
	}
}

func (c *Channel) reconnect() (*websocket.Conn, error) {
	if c.opts.MaxReconnects <= 0 {
		return nil, errors.New("reconnect disabled")
	}
	for attempt := 1; attempt <= c.opts.MaxReconnects; attempt++ {
		if c.ctx.Err() != nil {
			return nil, c.ctx.Err()
		}
		metrics.Reconnects.Inc()
		c.log.Info("reconnecting", zap.Int("attempt", attempt))
		conn, err := c.dial()
		if err == nil {
			c.setConn(conn)
			return conn, nil
		}
	}
	return nil, errors.New("reconnect attempts exhausted")
}

func (c *Channel) finish(err error) {
	c.setConn(nil)
	c.mu.Lock()
	alreadyClosed := c.closed
	c.closed = true
	c.mu.Unlock()
	if alreadyClosed {
		return
	}
	if c.opts.OnDisconnect != nil {
		c.opts.OnDisconnect(err)
	}
}

// Close tears the connection down. Safe to call more than once.
func (c *Channel) Close() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.ready = false
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}
}
