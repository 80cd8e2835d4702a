package cliapp

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duskfin/redicore/rconn"
	"github.com/duskfin/redicore/resp"
	"github.com/duskfin/redicore/rpool"
)

func startEchoServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				r := resp.NewReader(bufio.NewReader(c))
				w := bufio.NewWriter(c)
				for {
					if _, err := r.ReadValue(); err != nil {
						return
					}
					w.WriteString("+PONG\r\n")
					w.Flush()
				}
			}(conn)
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String()
}

func testPool(t *testing.T) *rpool.Pool {
	addr := startEchoServer(t)
	p := rpool.New(rpool.Options{
		ConnOptions: rconn.Options{
			Network:      "tcp",
			Addr:         addr,
			DialTimeout:  time.Second,
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
		},
		MinSize: 1,
		MaxSize: 2,
	})
	t.Cleanup(func() { p.Close() })
	return p
}

func TestParseArgs(t *testing.T) {
	name, args := parseArgs("SET foo bar")
	assert.Equal(t, "SET", name)
	assert.Equal(t, []resp.Arg{"foo", "bar"}, args)
}

func TestParseArgs_Empty(t *testing.T) {
	name, args := parseArgs("   ")
	assert.Equal(t, "", name)
	assert.Nil(t, args)
}

func TestFormatValue_SimpleString(t *testing.T) {
	v := resp.SimpleString("OK")
	assert.Equal(t, "OK", formatValue(v, false))
}

func TestFormatValue_NilBulk(t *testing.T) {
	v := resp.NullBulkString()
	assert.Equal(t, "(nil)", formatValue(v, false))
}

func TestHistory_PreviousNext(t *testing.T) {
	h := NewHistory(10)
	h.Add("GET a")
	h.Add("GET b")

	assert.Equal(t, "GET b", h.Previous())
	assert.Equal(t, "GET a", h.Previous())
	assert.Equal(t, "GET b", h.Next())
}

func TestRunCLI_EvalMode(t *testing.T) {
	pool := testPool(t)
	code := RunCLI(pool, &Config{Eval: "PING", Timeout: time.Second}, nil)
	assert.Equal(t, 0, code)
}

func TestExecutor_Run(t *testing.T) {
	pool := testPool(t)
	ex := &executor{pool: pool, timeout: time.Second}

	v, err := ex.run("PING")
	require.NoError(t, err)
	assert.Equal(t, "PONG", v.Text())
}
