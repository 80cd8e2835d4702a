package rpipe

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/duskfin/redicore/rconn"
	"github.com/duskfin/redicore/resp"
)

func scriptedConn(t *testing.T, replies []string) *rconn.Conn {
	t.Helper()
	client, server := net.Pipe()
	go func() {
		br := bufio.NewReader(server)
		r := resp.NewReader(br)
		for _, reply := range replies {
			if _, err := r.ReadValue(); err != nil {
				return
			}
			if _, err := server.Write([]byte(reply)); err != nil {
				return
			}
		}
	}()
	return rconn.NewForTest(client)
}

func TestPipeline_BufferedExecute(t *testing.T) {
	conn := scriptedConn(t, []string{"+OK\r\n", "+OK\r\n", ":1\r\n"})
	p := New(conn)
	p.Queue("SET", "a", "1")
	p.Queue("SET", "b", "2")
	p.Queue("INCR", "c")

	results, err := p.Execute(context.Background(), false)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(results) != 3 || results[2].Int != 1 {
		t.Fatalf("got %+v", results)
	}
}

func TestPipeline_BufferedExecute_ErrorReplyReturnedAsElement(t *testing.T) {
	conn := scriptedConn(t, []string{"+OK\r\n", "-WRONGTYPE bad op\r\n"})
	p := New(conn)
	p.Queue("SET", "a", "1")
	p.Queue("INCR", "a")

	results, err := p.Execute(context.Background(), false)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(results) != 2 || !results[1].IsError() {
		t.Fatalf("got %+v", results)
	}
}

func TestPipeline_BufferedExecute_RaiseOnErrorRaisesFirstError(t *testing.T) {
	conn := scriptedConn(t, []string{"+OK\r\n", "-WRONGTYPE bad op\r\n"})
	p := New(conn)
	p.Queue("SET", "a", "1")
	p.Queue("INCR", "a")

	_, err := p.Execute(context.Background(), true)
	if err == nil {
		t.Fatal("expected raiseOnError to surface the WRONGTYPE reply as an error")
	}
}

func TestPipeline_TransactionalExecute(t *testing.T) {
	conn := scriptedConn(t, []string{
		"+OK\r\n",             // MULTI
		"+QUEUED\r\n",         // SET
		"+QUEUED\r\n",         // INCR
		"*2\r\n+OK\r\n:5\r\n", // EXEC
	})
	p := New(conn)
	p.Multi()
	p.Queue("SET", "a", "1")
	p.Queue("INCR", "b")

	results, err := p.Execute(context.Background(), false)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(results) != 2 || results[1].Int != 5 {
		t.Fatalf("got %+v", results)
	}
}

func TestPipeline_WatchErrorOnNilExec(t *testing.T) {
	conn := scriptedConn(t, []string{
		"+OK\r\n",     // WATCH
		"+OK\r\n",     // MULTI
		"+QUEUED\r\n", // GET
		"*-1\r\n",     // EXEC -> nil (watched key changed)
	})
	p := New(conn)
	if err := p.Watch(context.Background(), "k"); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	p.Multi()
	p.Queue("GET", "k")

	_, err := p.Execute(context.Background(), false)
	if err == nil {
		t.Fatal("expected WatchError on nil EXEC reply")
	}
}

func TestPipeline_ExecAbortOnQueuedError(t *testing.T) {
	conn := scriptedConn(t, []string{
		"+OK\r\n", // MULTI
		"-ERR bad command\r\n",
		"+OK\r\n", // DISCARD
	})
	p := New(conn)
	p.Multi()
	p.Queue("BOGUS")

	_, err := p.Execute(context.Background(), false)
	if err == nil {
		t.Fatal("expected error for rejected queued command")
	}
}

func TestPipeline_QueueRejectedWhileWatching(t *testing.T) {
	conn := scriptedConn(t, []string{"+OK\r\n"})
	p := New(conn)
	if err := p.Watch(context.Background(), "k"); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if err := p.Queue("GET", "k"); err == nil {
		t.Fatal("expected Queue to be rejected while watching without Multi()")
	}
}

func TestScriptCache_EvalShaPreloadsOnce(t *testing.T) {
	script := "return 1"
	conn := scriptedConn(t, []string{
		"*1\r\n:0\r\n", // SCRIPT EXISTS -> not loaded
		"+abc\r\n",     // SCRIPT LOAD
		":1\r\n",       // EVALSHA
	})
	sc := NewScriptCache()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := sc.EvalSha(ctx, conn, script, 0)
	if err != nil {
		t.Fatalf("EvalSha: %v", err)
	}
	if v.Int != 1 {
		t.Fatalf("got %+v", v)
	}
}
