// Package rpubsub implements the Pub/Sub multiplexer: subscribe/
// unsubscribe bookkeeping, the message dispatch table, and a resubscribe
// routine registered as the Conn's reconnect callback.
//
// RESP2 pub/sub has no request/reply correspondence once a connection has
// issued its first SUBSCRIBE: every subsequent frame — subscribe acks,
// message/pmessage deliveries, pong — arrives as an unsolicited push. This
// is why PubSub installs a push handler on its Conn (rconn.SetPushHandler)
// instead of using Send/SendAsync.
package rpubsub

import (
	"context"
	"sync"

	"github.com/duskfin/redicore/rcerr"
	"github.com/duskfin/redicore/rconn"
	"github.com/duskfin/redicore/resp"
)

// Message is a delivered "message" or "pmessage" push.
type Message struct {
	Channel string
	Pattern string // set only for pattern-matched deliveries
	Payload []byte
}

// Handler is invoked for a channel or pattern's deliveries instead of
// them going through the generic Messages()/Run() stream. It runs
// synchronously on the sole readLoop goroutine dispatch does, so it must
// not block — the same constraint dispatch itself is under.
type Handler func(Message)

// PubSub owns one *rconn.Conn exclusively for the lifetime of a
// subscription set. It never holds a pointer back from Conn to itself —
// only a plain func() reconnect callback and a plain func(resp.Value)
// push handler — which is what avoids the cyclic-reference problem a
// naive bidirectional wiring would create.
type PubSub struct {
	conn *rconn.Conn

	mu sync.Mutex
	// channels/patterns map each subscribed target to an optional
	// Handler. A nil Handler means "yield to the message stream" —
	// deliveries go through Messages()/Run() instead of a callback.
	channels map[string]Handler
	patterns map[string]Handler

	// ackQueue holds one error channel per in-flight (P)SUBSCRIBE/
	// (P)UNSUBSCRIBE target, FIFO, mirroring rconn's own pending-request
	// queue but scoped to subscription acks instead of command replies.
	ackQueue  []chan error
	pingQueue []chan error

	messages chan Message
	errs     chan error
}

// New creates a PubSub bound to conn, installs the push handler, and
// registers resubscribeAll, which re-subscribes to every live
// channel/pattern, as a reconnect callback. rconn runs reconnect callbacks
// only in Dial's startup sequence, which has already completed for conn,
// so the callback is not invoked and a PubSub does not resubscribe on its
// own.
func New(conn *rconn.Conn) *PubSub {
	ps := &PubSub{
		conn:     conn,
		channels: make(map[string]Handler),
		patterns: make(map[string]Handler),
		messages: make(chan Message, 64),
		errs:     make(chan error, 1),
	}
	conn.SetPushHandler(ps.dispatch)
	conn.RegisterReconnectCallback(ps.resubscribeAll)
	return ps
}

// Messages returns the channel message/pmessage deliveries arrive on.
func (ps *PubSub) Messages() <-chan Message { return ps.messages }

// Errs returns the channel unsolicited push errors (not tied to any
// pending ack) arrive on.
func (ps *PubSub) Errs() <-chan error { return ps.errs }

func (ps *PubSub) resubscribeAll(ctx context.Context, conn *rconn.Conn) error {
	ps.mu.Lock()
	chans := keys(ps.channels)
	pats := keys(ps.patterns)
	ps.mu.Unlock()

	conn.SetPushHandler(ps.dispatch)

	if len(chans) > 0 {
		if err := ps.sendAndAck(ctx, "SUBSCRIBE", chans); err != nil {
			return err
		}
	}
	if len(pats) > 0 {
		if err := ps.sendAndAck(ctx, "PSUBSCRIBE", pats); err != nil {
			return err
		}
	}
	return nil
}

func keys(m map[string]Handler) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// Subscribe adds channel names and updates local state before the ack
// arrives, matching spec.md §4.6.2: the caller's view of "subscribed"
// reflects the send, and sendAndAck blocks until the server confirms it.
// handler may be nil, in which case deliveries for these channels go
// through Messages()/Run() instead of being invoked directly (spec.md
// §3 PubSubState, §4.6.1: "if channels[channel] has a handler, invoke
// it; else yield to the message stream").
func (ps *PubSub) Subscribe(ctx context.Context, handler Handler, channels ...string) error {
	ps.mu.Lock()
	for _, c := range channels {
		ps.channels[c] = handler
	}
	ps.mu.Unlock()
	return ps.sendAndAck(ctx, "SUBSCRIBE", channels)
}

// PSubscribe adds glob patterns. handler may be nil; see Subscribe.
func (ps *PubSub) PSubscribe(ctx context.Context, handler Handler, patterns ...string) error {
	ps.mu.Lock()
	for _, p := range patterns {
		ps.patterns[p] = handler
	}
	ps.mu.Unlock()
	return ps.sendAndAck(ctx, "PSUBSCRIBE", patterns)
}

// Unsubscribe sends UNSUBSCRIBE; dispatch removes the channels from local
// state once each "unsubscribe" ack arrives.
func (ps *PubSub) Unsubscribe(ctx context.Context, channels ...string) error {
	return ps.sendAndAck(ctx, "UNSUBSCRIBE", channels)
}

// PUnsubscribe sends PUNSUBSCRIBE.
func (ps *PubSub) PUnsubscribe(ctx context.Context, patterns ...string) error {
	return ps.sendAndAck(ctx, "PUNSUBSCRIBE", patterns)
}

// sendAndAck writes cmd once for all targets (Redis sends one ack per
// target in response) and waits for every ack to arrive via dispatch.
// With zero targets (bare UNSUBSCRIBE/PUNSUBSCRIBE, meaning "all"), it
// waits for exactly one ack instead.
func (ps *PubSub) sendAndAck(ctx context.Context, cmd string, targets []string) error {
	n := len(targets)
	if n == 0 {
		n = 1
	}
	acks := make([]chan error, n)
	for i := range acks {
		acks[i] = make(chan error, 1)
	}

	ps.mu.Lock()
	ps.ackQueue = append(ps.ackQueue, acks...)
	ps.mu.Unlock()

	args := make([]resp.Arg, len(targets))
	for i, t := range targets {
		args[i] = t
	}
	if err := ps.conn.WriteRaw(ctx, cmd, args...); err != nil {
		return err
	}

	for _, ack := range acks {
		select {
		case err := <-ack:
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Ping implements the health-check-in-subscribed-mode probe of spec.md
// §4.6.4: PING is valid while subscribed and its "pong" push is consumed
// by dispatch rather than delivered as a Message.
func (ps *PubSub) Ping(ctx context.Context) error {
	ack := make(chan error, 1)
	ps.mu.Lock()
	ps.pingQueue = append(ps.pingQueue, ack)
	ps.mu.Unlock()

	if err := ps.conn.WriteRaw(ctx, "PING"); err != nil {
		return err
	}
	select {
	case err := <-ack:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dispatch is the push handler installed on the underlying Conn. It runs
// on the sole readLoop goroutine, so it must never block: a message is
// dropped when the Messages channel's buffer is full, and a PubSubError is
// sent on Errs if that channel has room, rather than stalling the read loop.
func (ps *PubSub) dispatch(v resp.Value) {
	if v.IsError() {
		ps.failOneAck(rcerr.ClassifyReply(v))
		return
	}
	if v.Kind != resp.KindArray || len(v.Array) < 2 {
		ps.reportErr(errUnexpectedPush)
		return
	}

	kind := v.Array[0].Text()
	switch kind {
	case "subscribe", "psubscribe", "unsubscribe", "punsubscribe":
		if kind == "unsubscribe" {
			ps.remove(ps.channels, v.Array[1].Text())
		} else if kind == "punsubscribe" {
			ps.remove(ps.patterns, v.Array[1].Text())
		}
		ps.failOneAck(nil)
	case "message":
		if len(v.Array) < 3 {
			ps.reportErr(errUnexpectedPush)
			return
		}
		channel := v.Array[1].Text()
		m := Message{Channel: channel, Payload: v.Array[2].Str}
		if h := ps.handlerFor(ps.channels, channel); h != nil {
			h(m)
			return
		}
		ps.deliver(m)
	case "pmessage":
		if len(v.Array) < 4 {
			ps.reportErr(errUnexpectedPush)
			return
		}
		pattern := v.Array[1].Text()
		m := Message{Pattern: pattern, Channel: v.Array[2].Text(), Payload: v.Array[3].Str}
		if h := ps.handlerFor(ps.patterns, pattern); h != nil {
			h(m)
			return
		}
		ps.deliver(m)
	case "pong":
		ps.failOnePing(nil)
	default:
		ps.reportErr(errUnexpectedPush)
	}
}

func (ps *PubSub) remove(set map[string]Handler, key string) {
	ps.mu.Lock()
	delete(set, key)
	ps.mu.Unlock()
}

func (ps *PubSub) handlerFor(set map[string]Handler, key string) Handler {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return set[key]
}

func (ps *PubSub) failOneAck(err error) {
	ps.mu.Lock()
	if len(ps.ackQueue) == 0 {
		ps.mu.Unlock()
		return
	}
	ack := ps.ackQueue[0]
	ps.ackQueue = ps.ackQueue[1:]
	ps.mu.Unlock()
	ack <- err
}

func (ps *PubSub) failOnePing(err error) {
	ps.mu.Lock()
	if len(ps.pingQueue) == 0 {
		ps.mu.Unlock()
		return
	}
	ack := ps.pingQueue[0]
	ps.pingQueue = ps.pingQueue[1:]
	ps.mu.Unlock()
	ack <- err
}

func (ps *PubSub) deliver(m Message) {
	select {
	case ps.messages <- m:
	default:
		ps.reportErr(&rcerr.PubSubError{Cause: errDroppedMessage})
	}
}

func (ps *PubSub) reportErr(err error) {
	select {
	case ps.errs <- err:
	default:
	}
}
