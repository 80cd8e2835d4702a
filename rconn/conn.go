// Package rconn implements the Connection component of the core: one
// transport (TCP/TLS/unix), its RESP codec, the startup sequence that must
// run before any user command, and the single read goroutine that matches
// replies to requests in FIFO order.
package rconn

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/duskfin/redicore/rcerr"
	"github.com/duskfin/redicore/resp"
)

// ReconnectCallback is invoked, in registration order, at the end of the
// startup sequence, once AUTH/SETNAME/SELECT/READONLY have completed. A
// callback returning an error aborts that startup. Dial runs the startup
// sequence once, before it returns the Conn, and a Conn never re-dials its
// transport, so a callback registered on a Conn that Dial has returned is
// not invoked.
type ReconnectCallback func(ctx context.Context, c *Conn) error

// pendingRequest is one outstanding request awaiting its reply. The read
// goroutine pops these off the FIFO queue in the order writes were
// flushed, which is the invariant that makes out-of-order delivery
// impossible: nothing moves a request to the back of the queue.
type pendingRequest struct {
	reply chan Reply
}

// Reply is one asynchronously-delivered response to a SendAsync call.
type Reply struct {
	Value resp.Value
	Err   error
}

// Conn is one physical connection to a Redis server. A Conn is safe for
// concurrent Send/SendAsync calls; writes are serialized behind writeMu and
// replies are matched to callers in send order by the single readLoop
// goroutine, which is the sole reader of the underlying transport for as
// long as the Conn is alive.
type Conn struct {
	opts Options
	log  *slog.Logger

	netConn net.Conn
	r       *resp.Reader
	w       *resp.Writer

	writeMu sync.Mutex // serializes WriteCommand calls

	pendingMu sync.Mutex
	pending   []*pendingRequest

	state atomic.Int32

	reconnectMu  sync.Mutex
	reconnectCBs []ReconnectCallback

	pushMu      sync.Mutex
	pushHandler func(resp.Value)

	closeOnce sync.Once
	closed    chan struct{}
}

// SetPushHandler switches the Conn into push-routing mode: every value
// read from now on is delivered to h instead of being matched against the
// pending-request queue. rpubsub uses this once a connection enters the
// Subscribed state (spec.md §4.3.6), since RESP2 pub/sub mode has no
// request/reply correspondence — SUBSCRIBE acks and message deliveries
// both arrive unsolicited from the server's point of view. h must not
// block; it runs on the single readLoop goroutine.
func (c *Conn) SetPushHandler(h func(resp.Value)) {
	c.pushMu.Lock()
	c.pushHandler = h
	c.pushMu.Unlock()
	c.state.Store(int32(StateSubscribed))
}

// WriteRaw writes name/args without registering a pending request. Used
// by rpubsub for (P)SUBSCRIBE/(P)UNSUBSCRIBE/PING once in push-routing
// mode, where the reply (if any) arrives through the push handler instead
// of the normal Send/SendAsync path.
func (c *Conn) WriteRaw(ctx context.Context, name string, args ...resp.Arg) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if dl, ok := ctx.Deadline(); ok {
		c.netConn.SetWriteDeadline(dl)
	} else {
		c.netConn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	}
	if err := c.w.WriteCommand(name, args...); err != nil {
		return classifyIOError(err)
	}
	return nil
}

// Dial establishes the transport, runs the startup sequence, and starts
// the read loop. On any failure the partially-established transport is
// closed and a *rcerr.ConnectError is returned.
func Dial(ctx context.Context, opts Options) (*Conn, error) {
	opts = opts.withDefaults()
	c := &Conn{
		opts:   opts,
		log:    opts.Logger,
		closed: make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))

	if err := c.dial(ctx); err != nil {
		return nil, &rcerr.ConnectError{Cause: err}
	}
	if err := c.runStartupSequence(ctx); err != nil {
		c.netConn.Close()
		return nil, &rcerr.ConnectError{Cause: err}
	}

	c.state.Store(int32(StateReady))
	go c.readLoop()
	return c, nil
}

func (c *Conn) dial(ctx context.Context) error {
	dialer := &net.Dialer{Timeout: c.opts.DialTimeout}
	var conn net.Conn
	var err error
	if c.opts.TLSConfig != nil {
		conn, err = tls.DialWithDialer(dialer, c.opts.Network, c.opts.Addr, c.opts.TLSConfig)
	} else {
		conn, err = dialer.DialContext(ctx, c.opts.Network, c.opts.Addr)
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.opts.Addr, err)
	}
	c.netConn = conn
	c.r = resp.NewReader(conn)
	c.w = resp.NewWriter(conn)
	return nil
}

// runStartupSequence implements spec.md §4.3.2: AUTH, CLIENT SETNAME,
// SELECT, the READONLY flag replay, then every registered reconnect
// callback, strictly in that order, aborting on the first error.
func (c *Conn) runStartupSequence(ctx context.Context) error {
	if c.opts.Password != "" {
		var v resp.Value
		var err error
		if c.opts.Username != "" {
			v, err = c.doRaw(ctx, "AUTH", c.opts.Username, c.opts.Password)
		} else {
			v, err = c.doRaw(ctx, "AUTH", c.opts.Password)
		}
		if err != nil {
			return fmt.Errorf("AUTH: %w", err)
		}
		if v.IsError() {
			return fmt.Errorf("AUTH: %w", rcerr.ClassifyReply(v))
		}
	}

	if c.opts.ClientName != "" {
		v, err := c.doRaw(ctx, "CLIENT", "SETNAME", c.opts.ClientName)
		if err != nil {
			return fmt.Errorf("CLIENT SETNAME: %w", err)
		}
		if v.IsError() {
			return fmt.Errorf("CLIENT SETNAME: %w", rcerr.ClassifyReply(v))
		}
	}

	if c.opts.DB != 0 {
		v, err := c.doRaw(ctx, "SELECT", c.opts.DB)
		if err != nil {
			return fmt.Errorf("SELECT: %w", err)
		}
		if v.IsError() {
			return fmt.Errorf("SELECT: %w", rcerr.ClassifyReply(v))
		}
	}

	if c.opts.ReadOnly {
		v, err := c.doRaw(ctx, "READONLY")
		if err != nil {
			return fmt.Errorf("READONLY: %w", err)
		}
		if v.IsError() {
			return fmt.Errorf("READONLY: %w", rcerr.ClassifyReply(v))
		}
	}

	c.reconnectMu.Lock()
	cbs := append([]ReconnectCallback{}, c.reconnectCBs...)
	c.reconnectMu.Unlock()
	for _, cb := range cbs {
		if err := cb(ctx, c); err != nil {
			return fmt.Errorf("reconnect callback: %w", err)
		}
	}
	return nil
}

// doRaw sends a command during the startup sequence itself, before
// readLoop has started, so it reads its own reply synchronously rather
// than going through the pending queue.
func (c *Conn) doRaw(ctx context.Context, name string, args ...resp.Arg) (resp.Value, error) {
	if dl, ok := ctx.Deadline(); ok {
		c.netConn.SetDeadline(dl)
	} else if c.opts.ReadTimeout > 0 {
		c.netConn.SetDeadline(time.Now().Add(c.opts.ReadTimeout))
	}
	defer c.netConn.SetDeadline(time.Time{})
	if err := c.w.WriteCommand(name, args...); err != nil {
		return resp.Value{}, classifyIOError(err)
	}
	v, err := c.r.ReadValue()
	if err != nil {
		return v, classifyIOError(err)
	}
	return v, nil
}

// RegisterReconnectCallback adds cb to the set the startup sequence runs.
// Registration order is preserved and is the order callbacks run in. The
// startup sequence does not run again on a Conn that Dial has returned
// (see ReconnectCallback).
func (c *Conn) RegisterReconnectCallback(cb ReconnectCallback) {
	c.reconnectMu.Lock()
	defer c.reconnectMu.Unlock()
	c.reconnectCBs = append(c.reconnectCBs, cb)
}

// State returns the current lifecycle state.
func (c *Conn) State() State { return State(c.state.Load()) }

// Send writes name/args and blocks for the matching reply, honoring ctx
// cancellation. If Options.RetryOnTimeout is set, a single automatic retry
// is attempted when the failure is a genuine I/O deadline timeout
// (rcerr.TimeoutError); a caller-cancelled context is never retried,
// matching spec.md §5's rule that cancellation must not poison the
// connection state. RetryOnTimeout defaults to false (spec.md §4.3.5).
func (c *Conn) Send(ctx context.Context, name string, args ...resp.Arg) (resp.Value, error) {
	v, err := c.sendOnce(ctx, name, args...)
	if err == nil {
		return v, nil
	}
	var te *rcerr.TimeoutError
	if c.opts.RetryOnTimeout && errors.As(err, &te) && ctx.Err() == nil {
		return c.sendOnce(ctx, name, args...)
	}
	return v, err
}

// SendAsync queues name/args and returns a channel that will receive
// exactly one reply, without blocking the caller on the wait — the
// pipelining building block rpipe uses to issue N commands before reading
// any reply back.
func (c *Conn) SendAsync(ctx context.Context, name string, args ...resp.Arg) (<-chan Reply, error) {
	pr := &pendingRequest{reply: make(chan Reply, 1)}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.State() == StateDisconnected {
		return nil, rcerr.ErrConnectionClosed
	}

	if dl, ok := ctx.Deadline(); ok {
		c.netConn.SetWriteDeadline(dl)
	} else {
		c.netConn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	}

	// Enqueue before writing: readLoop may decode the reply as soon as the
	// bytes reach the wire, and it pairs every reply with the queue head.
	c.pendingMu.Lock()
	c.pending = append(c.pending, pr)
	c.pendingMu.Unlock()

	if err := c.w.WriteCommand(name, args...); err != nil {
		c.pendingMu.Lock()
		if n := len(c.pending); n > 0 && c.pending[n-1] == pr {
			c.pending = c.pending[:n-1]
		}
		c.pendingMu.Unlock()
		return nil, classifyIOError(err)
	}

	// readLoop is the sole reader and has no per-request context of its
	// own, so the read deadline for the reply it is about to wait for is
	// set here, at enqueue time, from either the caller's ctx deadline or
	// the configured ReadTimeout. popPending clears it once the queue
	// drains, so an otherwise-idle connection is never killed by it.
	if dl, ok := ctx.Deadline(); ok {
		c.netConn.SetReadDeadline(dl)
	} else if c.opts.ReadTimeout > 0 {
		c.netConn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	}

	return pr.reply, nil
}

func (c *Conn) sendOnce(ctx context.Context, name string, args ...resp.Arg) (resp.Value, error) {
	ch, err := c.SendAsync(ctx, name, args...)
	if err != nil {
		return resp.Value{}, err
	}
	select {
	case r := <-ch:
		return r.Value, r.Err
	case <-ctx.Done():
		return resp.Value{}, ctx.Err()
	case <-c.closed:
		// readLoop hands a failed request its error before closing c.closed;
		// prefer that error (e.g. a TimeoutError) over the generic one.
		select {
		case r := <-ch:
			return r.Value, r.Err
		default:
		}
		return resp.Value{}, rcerr.ErrConnectionClosed
	}
}

// readLoop is the sole reader of the transport. It pops the oldest pending
// request and delivers the next decoded Value to it, which is what keeps
// replies matched to requests without any request ID on the wire (RESP2
// has none) — the FIFO order requests were written in is the only ordering
// guarantee, and this loop is what upholds it.
func (c *Conn) readLoop() {
	for {
		v, err := c.r.ReadValue()
		if err != nil {
			c.failAllPending(classifyIOError(err))
			c.transitionToDisconnected()
			return
		}

		c.pushMu.Lock()
		h := c.pushHandler
		c.pushMu.Unlock()
		if h != nil {
			h(v)
			continue
		}

		pr := c.popPending()
		if pr == nil {
			c.log.Warn("redicore: reply with no pending request, dropping", "value", v.String())
			continue
		}
		pr.reply <- Reply{Value: v}
	}
}

func (c *Conn) popPending() *pendingRequest {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if len(c.pending) == 0 {
		return nil
	}
	pr := c.pending[0]
	c.pending = c.pending[1:]
	if len(c.pending) == 0 {
		c.netConn.SetReadDeadline(time.Time{})
	}
	return pr
}

func (c *Conn) failAllPending(err error) {
	c.pendingMu.Lock()
	pending := c.pending
	c.pending = nil
	c.pendingMu.Unlock()
	for _, pr := range pending {
		pr.reply <- Reply{Err: err}
	}
}

func (c *Conn) transitionToDisconnected() {
	c.state.Store(int32(StateDisconnected))
	c.closeOnce.Do(func() { close(c.closed) })
}

func classifyIOError(err error) error {
	var ee *resp.EncodeError
	if errors.As(err, &ee) {
		return &rcerr.EncodeError{Cause: err}
	}
	var pe *resp.ProtocolErr
	if errors.As(err, &pe) {
		return &rcerr.ProtocolError{Cause: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &rcerr.TimeoutError{Cause: err}
	}
	return err
}

// Ping implements the health-check probe of spec.md §4.3.4: a plain PING
// is sent and any non-error reply within ctx's deadline counts as healthy;
// no payload is sent or compared. In the Subscribed state the reply is
// routed to the push handler instead of to this call, so Ping then waits
// until ctx is done; rpubsub.PubSub.Ping is the probe for that state.
func (c *Conn) Ping(ctx context.Context) error {
	v, err := c.Send(ctx, "PING")
	if err != nil {
		return err
	}
	if v.IsError() {
		return rcerr.ClassifyReply(v)
	}
	return nil
}

// Close closes the transport and fails every outstanding request.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	c.state.Store(int32(StateDisconnected))
	c.failAllPending(rcerr.ErrConnectionClosed)
	if c.netConn != nil {
		return c.netConn.Close()
	}
	return nil
}

// Closed reports whether the connection has been torn down (deliberately
// or by a transport error observed by readLoop).
func (c *Conn) Closed() <-chan struct{} { return c.closed }
