package rconn

import (
	"log/slog"
	"net"
	"time"

	"github.com/duskfin/redicore/resp"
)

// NewForTest builds a Conn around an already-established net.Conn,
// skipping Dial's transport setup and startup sequence. It exists so
// rconn, rpipe and rpubsub's tests can drive a Conn over a net.Pipe fake server
// without a real Redis instance; production callers always go through
// Dial.
func NewForTest(conn net.Conn) *Conn {
	return NewForTestWithOptions(conn, Options{ReadTimeout: time.Second, WriteTimeout: time.Second})
}

// NewForTestWithOptions is NewForTest with caller-supplied Options, for
// tests that need to control RetryOnTimeout or the read/write timeouts
// directly.
func NewForTestWithOptions(conn net.Conn, opts Options) *Conn {
	c := &Conn{
		opts:   opts.withDefaults(),
		log:    slog.Default(),
		closed: make(chan struct{}),
	}
	c.netConn = conn
	c.r = resp.NewReader(conn)
	c.w = resp.NewWriter(conn)
	c.state.Store(int32(StateReady))
	go c.readLoop()
	return c
}
