package rpubsub

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/duskfin/redicore/rconn"
	"github.com/duskfin/redicore/resp"
)

func scriptedConn(t *testing.T, script func(w *bufio.Writer, r *resp.Reader)) *rconn.Conn {
	t.Helper()
	client, server := net.Pipe()
	go func() {
		br := bufio.NewReader(server)
		r := resp.NewReader(br)
		w := bufio.NewWriter(server)
		script(w, r)
	}()
	return rconn.NewForTest(client)
}

func TestPubSub_SubscribeAckAndMessage(t *testing.T) {
	conn := scriptedConn(t, func(w *bufio.Writer, r *resp.Reader) {
		if _, err := r.ReadValue(); err != nil { // SUBSCRIBE chan
			return
		}
		w.WriteString("*3\r\n$9\r\nsubscribe\r\n$4\r\nchan\r\n:1\r\n")
		w.Flush()
		w.WriteString("*3\r\n$7\r\nmessage\r\n$4\r\nchan\r\n$5\r\nhello\r\n")
		w.Flush()
	})
	ps := New(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ps.Subscribe(ctx, nil, "chan"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	m, err := ps.NextMessage(ctx)
	if err != nil {
		t.Fatalf("NextMessage: %v", err)
	}
	if m.Channel != "chan" || string(m.Payload) != "hello" {
		t.Fatalf("got %+v", m)
	}
}

func TestPubSub_SubscribeWithHandler_InvokedExactlyOnce(t *testing.T) {
	conn := scriptedConn(t, func(w *bufio.Writer, r *resp.Reader) {
		if _, err := r.ReadValue(); err != nil { // SUBSCRIBE channel:1
			return
		}
		w.WriteString("*3\r\n$9\r\nsubscribe\r\n$9\r\nchannel:1\r\n:1\r\n")
		w.Flush()
		w.WriteString("*3\r\n$7\r\nmessage\r\n$9\r\nchannel:1\r\n$5\r\nhello\r\n")
		w.Flush()
	})
	ps := New(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var calls int
	var got Message
	handlerDone := make(chan struct{})
	h := func(m Message) {
		calls++
		got = m
		close(handlerDone)
	}

	if err := ps.Subscribe(ctx, h, "channel:1"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	select {
	case <-handlerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was never invoked")
	}

	if calls != 1 {
		t.Fatalf("handler invoked %d times, want exactly 1", calls)
	}
	if got.Channel != "channel:1" || string(got.Payload) != "hello" {
		t.Fatalf("got %+v", got)
	}

	// A handled message must not also land on the generic stream.
	select {
	case m := <-ps.Messages():
		t.Fatalf("expected no message on the generic stream, got %+v", m)
	default:
	}
}

func TestPubSub_Unsubscribe_RemovesChannel(t *testing.T) {
	conn := scriptedConn(t, func(w *bufio.Writer, r *resp.Reader) {
		r.ReadValue() // SUBSCRIBE
		w.WriteString("*3\r\n$9\r\nsubscribe\r\n$4\r\nchan\r\n:1\r\n")
		w.Flush()
		r.ReadValue() // UNSUBSCRIBE
		w.WriteString("*3\r\n$11\r\nunsubscribe\r\n$4\r\nchan\r\n:0\r\n")
		w.Flush()
	})
	ps := New(conn)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := ps.Subscribe(ctx, nil, "chan"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := ps.Unsubscribe(ctx, "chan"); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}

	ps.mu.Lock()
	_, stillThere := ps.channels["chan"]
	ps.mu.Unlock()
	if stillThere {
		t.Fatal("expected channel to be removed after unsubscribe ack")
	}
}
