package rconn

import (
	"crypto/tls"
	"log/slog"
	"time"
)

// Options configures a single Conn. The field shape follows the
// Opts-struct idiom of connection-pool clients in this lineage: every
// tunable has an explicit zero-value default applied by withDefaults,
// rather than requiring callers to build a fully-populated struct.
type Options struct {
	// Network is "tcp" or "unix". Defaults to "tcp".
	Network string
	// Addr is "host:port" for Network == "tcp", or a socket path for
	// Network == "unix".
	Addr string

	// TLSConfig, if non-nil, is used to wrap the dial in TLS (rediss://).
	TLSConfig *tls.Config

	Username string
	Password string

	// ClientName is sent via CLIENT SETNAME during the startup sequence.
	ClientName string

	// DB is the logical database selected via SELECT during startup.
	DB int

	// ReadOnly, if true, sends READONLY during the startup sequence that
	// Dial runs (cluster replica reads).
	ReadOnly bool

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// RetryOnTimeout gates the single automatic retry Send performs when a
	// command fails with a genuine I/O deadline timeout. Defaults to false,
	// matching aioredis's Connection (a timeout is surfaced to the caller,
	// not silently retried, unless the caller opts in).
	RetryOnTimeout bool

	// ReconnectPause is given a default by withDefaults but is not read by
	// Conn: a Conn does not reconnect, and once its transport fails it
	// stays in StateDisconnected.
	ReconnectPause time.Duration

	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Network == "" {
		o.Network = "tcp"
	}
	if o.DialTimeout == 0 {
		o.DialTimeout = 5 * time.Second
	}
	if o.ReadTimeout == 0 {
		o.ReadTimeout = 3 * time.Second
	}
	if o.WriteTimeout == 0 {
		o.WriteTimeout = 3 * time.Second
	}
	if o.ReconnectPause == 0 {
		o.ReconnectPause = 100 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}
