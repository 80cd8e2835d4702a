package admin

import (
	"bufio"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/duskfin/redicore/rconn"
	"github.com/duskfin/redicore/resp"
	"github.com/duskfin/redicore/rmetrics"
	"github.com/duskfin/redicore/rpool"
)

func startEchoServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
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

func newTestServer(t *testing.T) (*Server, *mux.Router) {
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

	m := rmetrics.New()
	s := NewServer("test-pool", p, m)

	mr := mux.NewRouter()
	mr.HandleFunc("/status", s.statusHandler).Methods("GET")
	mr.HandleFunc("/healthz", s.healthHandler).Methods("GET")
	mr.HandleFunc("/ready", s.readyHandler).Methods("GET")
	return s, mr
}

func TestHealthHandler_ReportsHealthy(t *testing.T) {
	_, mr := newTestServer(t)

	req := httptest.NewRequest("GET", "/healthz", nil)
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var body map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "healthy" {
		t.Fatalf("expected healthy status, got %v", body["status"])
	}
}

func TestStatusHandler_ReportsPoolStats(t *testing.T) {
	_, mr := newTestServer(t)

	req := httptest.NewRequest("GET", "/status", nil)
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var body map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	pool, ok := body["pool"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected pool object in response, got %v", body)
	}
	if pool["name"] != "test-pool" {
		t.Fatalf("expected pool name test-pool, got %v", pool["name"])
	}
}

func TestReadyHandler(t *testing.T) {
	_, mr := newTestServer(t)

	req := httptest.NewRequest("GET", "/ready", nil)
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}
