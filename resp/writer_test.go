package resp

import (
	"bytes"
	"testing"
)

func TestWriteCommand_Basic(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteCommand("SET", "key", "value"); err != nil {
		t.Fatalf("WriteCommand: %v", err)
	}
	want := "*3\r\n$3\r\nSET\r\n$3\r\nkey\r\n$5\r\nvalue\r\n"
	if buf.String() != want {
		t.Fatalf("got %q, want %q", buf.String(), want)
	}
}

func TestWriteCommand_IntegerArg(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteCommand("EXPIRE", "key", 30); err != nil {
		t.Fatalf("WriteCommand: %v", err)
	}
	want := "*3\r\n$6\r\nEXPIRE\r\n$3\r\nkey\r\n$2\r\n30\r\n"
	if buf.String() != want {
		t.Fatalf("got %q, want %q", buf.String(), want)
	}
}

func TestWriteCommand_RejectsUnencodable(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	err := w.WriteCommand("SET", "key", true)
	if err == nil {
		t.Fatal("expected EncodeError for bool argument")
	}
	if buf.Len() != 0 {
		t.Fatalf("expected nothing written on encode failure, got %q", buf.String())
	}
}

func TestWriteCommand_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteCommand("HSET", "h", "f1", "v1", "f2", "v2"); err != nil {
		t.Fatalf("WriteCommand: %v", err)
	}
	r := NewReader(&buf)
	v, err := r.ReadValue()
	if err != nil {
		t.Fatalf("ReadValue: %v", err)
	}
	if v.Kind != KindArray || len(v.Array) != 6 {
		t.Fatalf("got %+v", v)
	}
	if v.Array[0].Text() != "HSET" || v.Array[3].Text() != "v1" {
		t.Fatalf("got %+v", v.Array)
	}
}
