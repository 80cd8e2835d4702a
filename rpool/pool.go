// Package rpool implements the connection Pool component: acquire/release
// with FIFO-ordered waiter wakeups, health-check-on-handout, idle reaping, and
// graceful draining. The acquisition algorithm and bookkeeping are the
// same shape as a multi-tenant database connection pool in this lineage,
// collapsed to manage connections to a single Redis address.
package rpool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/duskfin/redicore/rcerr"
	"github.com/duskfin/redicore/rconn"
)

// Options configures a Pool.
type Options struct {
	ConnOptions rconn.Options

	MinSize int
	MaxSize int

	// IdleTimeout is how long a connection may sit idle before the
	// reaper closes it (never below MinSize connections).
	IdleTimeout time.Duration
	// MaxLifetime bounds how long any connection, idle or not, is kept
	// before being retired.
	MaxLifetime time.Duration
	// HealthCheckInterval: a connection idle longer than this is pinged
	// before being handed to a caller, rather than trusted blindly.
	HealthCheckInterval time.Duration
	// AcquireTimeout bounds how long Acquire waits on a FIFO waiter slot
	// when the pool is at MaxSize and has nothing idle, absent a ctx
	// deadline that is tighter.
	AcquireTimeout time.Duration

	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.MinSize == 0 {
		o.MinSize = 1
	}
	if o.MaxSize == 0 {
		o.MaxSize = 10
	}
	if o.IdleTimeout == 0 {
		o.IdleTimeout = 5 * time.Minute
	}
	if o.MaxLifetime == 0 {
		o.MaxLifetime = 30 * time.Minute
	}
	if o.HealthCheckInterval == 0 {
		o.HealthCheckInterval = 30 * time.Second
	}
	if o.AcquireTimeout == 0 {
		o.AcquireTimeout = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

type pooledConn struct {
	conn       *rconn.Conn
	createdAt  time.Time
	lastUsedAt time.Time
}

func (pc *pooledConn) isExpired(maxLifetime time.Duration) bool {
	return time.Since(pc.createdAt) > maxLifetime
}

func (pc *pooledConn) isIdleTooLong(idleTimeout time.Duration) bool {
	return time.Since(pc.lastUsedAt) > idleTimeout
}

// Pool manages a bounded set of rconn.Conn connections to one address.
// Acquire/Release maintain the invariant 0 <= len(idle)+len(active) <=
// MaxSize at every observation point. When a slot frees, the
// longest-waiting Acquire call is woken first, but an Acquire call that
// takes the lock before the woken waiter relocks it claims the slot
// instead, so waiters are not served in strict FIFO order.
type Pool struct {
	opts Options

	mu     sync.Mutex
	cond   *sync.Cond
	idle   []*pooledConn
	active map[*rconn.Conn]*pooledConn
	total  int

	waiting int
	closed  bool
	stopCh  chan struct{}
}

// Stats is a point-in-time snapshot of Pool bookkeeping, intended for
// rmetrics.Collector.UpdatePoolStats.
type Stats struct {
	Active, Idle, Total, Waiting int
}

// New creates a Pool and starts its background idle reaper. It does not
// eagerly dial MinSize connections — the first MinSize Acquire calls pay
// that cost, which keeps New non-blocking and failure-free even if the
// server is briefly unreachable at construction time. Call WarmUp to dial
// eagerly instead.
func New(opts Options) *Pool {
	opts = opts.withDefaults()
	p := &Pool{
		opts:   opts,
		active: make(map[*rconn.Conn]*pooledConn),
		stopCh: make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	go p.reapLoop()
	return p
}

// FromURL parses a redis://, rediss://, or unix:// URL into Options and
// constructs a Pool. Only the scheme, host/port or path, and the optional
// userinfo (username:password) and a /<db-index> path element are
// consulted, matching the minimal handful of fields the core client API
// surface (spec.md §6.2) actually names; heavier query-parameter schemes
// belong to the cluster/sentinel layer that sits above this core.
func FromURL(rawurl string, extra Options) (*Pool, error) {
	connOpts, err := parseRedisURL(rawurl)
	if err != nil {
		return nil, fmt.Errorf("redicore: parsing url: %w", err)
	}
	extra.ConnOptions = connOpts
	return New(extra), nil
}

// WarmUp eagerly dials MinSize connections, surfacing the first dial
// error rather than deferring it to the first Acquire call.
func (p *Pool) WarmUp(ctx context.Context) error {
	p.mu.Lock()
	need := p.opts.MinSize - p.total
	p.mu.Unlock()

	for i := 0; i < need; i++ {
		c, err := p.dial(ctx)
		if err != nil {
			return err
		}
		p.mu.Lock()
		p.idle = append(p.idle, c)
		p.mu.Unlock()
	}
	return nil
}

func (p *Pool) dial(ctx context.Context) (*pooledConn, error) {
	conn, err := rconn.Dial(ctx, p.opts.ConnOptions)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	p.mu.Lock()
	p.total++
	p.mu.Unlock()
	return &pooledConn{conn: conn, createdAt: now, lastUsedAt: now}, nil
}

// Acquire implements spec.md §4.4.2: serve an idle connection (health
// checking or discarding it first if it has been idle beyond
// HealthCheckInterval), else dial a new one if under MaxSize, else block
// as a FIFO waiter until one of those becomes possible or ctx/AcquireTimeout
// expires.
func (p *Pool) Acquire(ctx context.Context, hint string) (*rconn.Conn, error) {
	deadline := time.Now().Add(p.opts.AcquireTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, rcerr.ErrPoolClosed
		}

		for len(p.idle) > 0 {
			pc := p.idle[len(p.idle)-1]
			p.idle = p.idle[:len(p.idle)-1]

			if pc.isExpired(p.opts.MaxLifetime) {
				p.total--
				p.mu.Unlock()
				pc.conn.Close()
				p.mu.Lock()
				continue
			}
			if pc.isIdleTooLong(p.opts.HealthCheckInterval) {
				p.mu.Unlock()
				pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
				err := pc.conn.Ping(pingCtx)
				cancel()
				if err != nil {
					p.mu.Lock()
					p.total--
					p.mu.Unlock()
					pc.conn.Close()
					p.mu.Lock()
					continue
				}
				p.mu.Lock()
			}

			pc.lastUsedAt = time.Now()
			p.active[pc.conn] = pc
			p.mu.Unlock()
			return pc.conn, nil
		}

		if p.total < p.opts.MaxSize {
			p.total++ // reserve the slot before releasing the lock
			p.mu.Unlock()

			conn, err := rconn.Dial(ctx, p.opts.ConnOptions)
			if err != nil {
				p.mu.Lock()
				p.total--
				p.cond.Signal()
				p.mu.Unlock()
				return nil, err
			}
			now := time.Now()
			pc := &pooledConn{conn: conn, createdAt: now, lastUsedAt: now}

			p.mu.Lock()
			p.active[conn] = pc
			p.mu.Unlock()
			return conn, nil
		}

		if ctx.Err() != nil {
			p.mu.Unlock()
			return nil, ctx.Err()
		}

		// Pool exhausted: wait as a FIFO waiter. sync.Cond.Wait releases
		// p.mu while parked and reacquires it before returning.
		// cond.Signal wakes the longest-sleeping waiter first, but a caller
		// that takes p.mu before that waiter relocks it is served ahead of
		// it, and a Broadcast wakes every waiter to queue up again in
		// whatever order they relock p.mu. sync.Cond has no ctx-aware wait,
		// so a ctx cancellation with no tighter deadline than
		// AcquireTimeout is bridged in by a goroutine that broadcasts on
		// ctx.Done() — without it, a cancelled caller would keep sleeping
		// until AcquireTimeout or an unrelated Release, not be removed
		// from the queue promptly.
		p.waiting++
		waitDone := make(chan struct{})
		stopWatch := make(chan struct{})
		timer := time.AfterFunc(time.Until(deadline), func() {
			close(waitDone)
			p.cond.Broadcast()
		})
		go func() {
			select {
			case <-ctx.Done():
				p.cond.Broadcast()
			case <-stopWatch:
			}
		}()
		p.cond.Wait()
		close(stopWatch)
		timer.Stop()
		p.waiting--

		select {
		case <-waitDone:
			p.mu.Unlock()
			return nil, rcerr.ErrPoolTimeout
		default:
		}
		if ctx.Err() != nil {
			p.mu.Unlock()
			return nil, ctx.Err()
		}
		p.mu.Unlock()
	}
}

// Release returns conn to the idle set, or destroys it if the pool is
// closed, the connection is no longer usable, or it has exceeded
// MaxLifetime. Destroyed connections decrement total and wake one FIFO
// waiter so it can dial a replacement.
func (p *Pool) Release(conn *rconn.Conn) {
	p.mu.Lock()
	pc, ok := p.active[conn]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(p.active, conn)

	broken := conn.State() == rconn.StateDisconnected
	expired := pc.isExpired(p.opts.MaxLifetime)

	if p.closed || broken || expired {
		p.total--
		p.mu.Unlock()
		conn.Close()
		p.mu.Lock()
		p.cond.Signal()
		p.mu.Unlock()
		return
	}

	pc.lastUsedAt = time.Now()
	p.idle = append(p.idle, pc)
	p.mu.Unlock()
	p.cond.Signal()
}

// Stats returns a snapshot of current pool bookkeeping.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Active: len(p.active), Idle: len(p.idle), Total: p.total, Waiting: p.waiting}
}

// Drain closes every idle connection immediately and waits (up to 30s)
// for in-flight Acquire'd connections to be Released and closed, then
// force-closes whatever remains.
func (p *Pool) Drain() {
	p.mu.Lock()
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, pc := range idle {
		pc.conn.Close()
	}

	deadline := time.After(30 * time.Second)
	for {
		p.mu.Lock()
		if len(p.active) == 0 {
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()
		select {
		case <-deadline:
			p.forceCloseActive()
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (p *Pool) forceCloseActive() {
	p.mu.Lock()
	active := p.active
	p.active = make(map[*rconn.Conn]*pooledConn)
	p.mu.Unlock()
	for conn := range active {
		conn.Close()
	}
}

// Close drains the pool and stops the idle reaper.
func (p *Pool) Close() error {
	p.Drain()
	close(p.stopCh)
	p.cond.Broadcast()
	return nil
}

func (p *Pool) reapLoop() {
	ticker := time.NewTicker(p.opts.IdleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.reapIdle()
		}
	}
}

func (p *Pool) reapIdle() {
	p.mu.Lock()
	var keep []*pooledConn
	var toClose []*pooledConn
	for _, pc := range p.idle {
		if p.total > p.opts.MinSize && pc.isIdleTooLong(p.opts.IdleTimeout) {
			toClose = append(toClose, pc)
			p.total--
			continue
		}
		keep = append(keep, pc)
	}
	p.idle = keep
	p.mu.Unlock()

	for _, pc := range toClose {
		pc.conn.Close()
	}
}
