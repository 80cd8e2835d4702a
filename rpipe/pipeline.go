// Package rpipe implements the Pipeline/Transaction engine: buffered
// command batching, MULTI/EXEC transactional framing, WATCH semantics, and
// EVALSHA-with-preload. The state machine is the explicit enum this
// codebase's lineage prefers over tracking a command's progress in a pile
// of booleans.
package rpipe

import (
	"context"
	"fmt"

	"github.com/duskfin/redicore/rcerr"
	"github.com/duskfin/redicore/rconn"
	"github.com/duskfin/redicore/resp"
)

// State is the Pipeline lifecycle state.
type State int

const (
	StateOpen State = iota
	StateQueuing
	StateFlushed
	StateReplying
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateQueuing:
		return "queuing"
	case StateFlushed:
		return "flushed"
	case StateReplying:
		return "replying"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

type queuedCmd struct {
	name string
	args []resp.Arg
}

// Pipeline batches commands against one rconn.Conn. It is not safe for
// concurrent use by multiple goroutines — one logical caller owns a
// Pipeline for the duration of a batch, same as the Conn it wraps.
type Pipeline struct {
	conn *rconn.Conn

	state State
	queue []queuedCmd

	// transactional selects MULTI/EXEC framing on Execute. It starts
	// false (buffering mode, spec.md §4.5.1); Multi() sets it true.
	transactional bool
	watching      bool
	explicitMulti bool

	watchedKeys []string
}

// New creates a Pipeline bound to conn, starting in buffering mode.
func New(conn *rconn.Conn) *Pipeline {
	return &Pipeline{conn: conn, state: StateOpen}
}

// Queue adds a command to the batch without sending it. In watching mode
// (after Watch, before the next Multi call) this is invalid — callers
// must use the immediate-execution path via Do instead, matching spec.md
// §4.5.3's "commands after WATCH execute immediately until multi() is
// called" rule.
func (p *Pipeline) Queue(name string, args ...resp.Arg) error {
	if p.watching && !p.explicitMulti {
		return fmt.Errorf("redicore: pipeline is watching; call Multi() before queuing, or use Do for immediate execution")
	}
	p.queue = append(p.queue, queuedCmd{name: name, args: args})
	p.state = StateQueuing
	return nil
}

// Do executes name immediately against the underlying connection, bypassing
// the queue. This is the only valid way to issue commands while watching
// and not yet inside an explicit MULTI, per spec.md §4.5.3.
func (p *Pipeline) Do(ctx context.Context, name string, args ...resp.Arg) (resp.Value, error) {
	v, err := p.conn.Send(ctx, name, args...)
	if err != nil {
		if p.watching {
			p.watching = false
			return v, &rcerr.WatchError{Message: "connection lost while watching: " + err.Error()}
		}
		return v, err
	}
	return v, nil
}

// Watch promotes the Pipeline into watching mode: WATCH is sent
// immediately for keys, and subsequent commands execute immediately
// (via Do) rather than being buffered, until Multi() is called.
func (p *Pipeline) Watch(ctx context.Context, keys ...string) error {
	args := make([]resp.Arg, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	v, err := p.conn.Send(ctx, "WATCH", args...)
	if err != nil {
		return err
	}
	if v.IsError() {
		return rcerr.ClassifyReply(v)
	}
	p.watching = true
	p.watchedKeys = append(p.watchedKeys, keys...)
	return nil
}

// Multi resumes buffering mode while watching, and marks the batch as
// transactional so Execute wraps it in MULTI/EXEC.
func (p *Pipeline) Multi() {
	p.explicitMulti = true
	p.transactional = true
}

// Unwatch clears watched-key tracking and sends UNWATCH.
func (p *Pipeline) Unwatch(ctx context.Context) error {
	v, err := p.conn.Send(ctx, "UNWATCH")
	if err != nil {
		return err
	}
	p.watching = false
	p.watchedKeys = nil
	if v.IsError() {
		return rcerr.ClassifyReply(v)
	}
	return nil
}

// Execute flushes the queue. In buffering mode (spec.md §4.5.1) it simply
// writes every queued command and reads back one reply per command, in
// order, via SendAsync. In transactional mode (spec.md §4.5.2) it wraps
// the batch in MULTI ... EXEC: each queued command must get back exactly
// "+QUEUED", and the final EXEC reply must be an array of exactly
// len(queue) elements — protocolErr otherwise — or a nil array
// (WatchError, a watched key changed) or an EXECABORT error (ExecAbortError,
// a queued command was rejected before EXEC ran).
//
// If raiseOnError is set, the first server error reply found among the
// results is returned as an error instead of being left in the slice
// (spec.md §4.5.1, §7); otherwise error replies are returned as ordinary
// elements of the result slice for the caller to inspect.
func (p *Pipeline) Execute(ctx context.Context, raiseOnError bool) ([]resp.Value, error) {
	if p.state == StateDone || p.state == StateAborted {
		return nil, fmt.Errorf("redicore: pipeline already executed")
	}
	p.state = StateFlushed

	if p.transactional {
		return p.executeTransactional(ctx, raiseOnError)
	}
	return p.executeBuffered(ctx, raiseOnError)
}

func (p *Pipeline) executeBuffered(ctx context.Context, raiseOnError bool) ([]resp.Value, error) {
	chans := make([]<-chan rconn.Reply, len(p.queue))
	for i, cmd := range p.queue {
		ch, err := p.conn.SendAsync(ctx, cmd.name, cmd.args...)
		if err != nil {
			p.state = StateAborted
			return nil, err
		}
		chans[i] = ch
	}

	p.state = StateReplying
	results := make([]resp.Value, len(chans))
	for i, ch := range chans {
		select {
		case r := <-ch:
			if r.Err != nil {
				p.state = StateAborted
				return results, r.Err
			}
			results[i] = r.Value
		case <-ctx.Done():
			p.state = StateAborted
			return results, ctx.Err()
		}
	}

	if raiseOnError {
		for _, v := range results {
			if v.IsError() {
				p.state = StateAborted
				return results, rcerr.ClassifyReply(v)
			}
		}
	}

	p.state = StateDone
	return results, nil
}

func (p *Pipeline) executeTransactional(ctx context.Context, raiseOnError bool) ([]resp.Value, error) {
	if _, err := p.conn.Send(ctx, "MULTI"); err != nil {
		p.state = StateAborted
		return nil, err
	}

	for _, cmd := range p.queue {
		v, err := p.conn.Send(ctx, cmd.name, cmd.args...)
		if err != nil {
			p.state = StateAborted
			return nil, err
		}
		if v.IsError() {
			// A queued command was rejected; EXEC will fail with
			// EXECABORT, but report this as soon as we see it.
			p.conn.Send(ctx, "DISCARD")
			p.state = StateAborted
			return nil, rcerr.ClassifyReply(v)
		}
		if v.Kind != resp.KindSimpleString || v.Text() != "QUEUED" {
			p.state = StateAborted
			return nil, &rcerr.ProtocolError{Cause: fmt.Errorf("expected +QUEUED, got %v", v)}
		}
	}

	p.state = StateReplying
	exec, err := p.conn.Send(ctx, "EXEC")
	if err != nil {
		p.state = StateAborted
		return nil, err
	}

	if exec.IsError() {
		p.state = StateAborted
		return nil, rcerr.ClassifyReply(exec)
	}
	if exec.Null {
		p.state = StateAborted
		return nil, &rcerr.WatchError{Message: "a watched key was modified before EXEC"}
	}
	if len(exec.Array) != len(p.queue) {
		p.state = StateAborted
		return nil, &rcerr.ProtocolError{
			Cause: fmt.Errorf("EXEC returned %d replies, expected %d", len(exec.Array), len(p.queue)),
		}
	}

	if raiseOnError {
		for _, v := range exec.Array {
			if v.IsError() {
				p.state = StateAborted
				return exec.Array, rcerr.ClassifyReply(v)
			}
		}
	}

	p.state = StateDone
	p.watching = false
	return exec.Array, nil
}
