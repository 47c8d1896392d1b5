package event

import (
	"strings"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	line, err := Encode("abc123", OpReads, "/tmp/x")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	d := NewDecoder(strings.NewReader(line + "\n"))
	ev, err := d.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ev.UUID != "abc123" || ev.Op != OpReads {
		t.Fatalf("unexpected event: %+v", ev)
	}
	s, err := DecodeString(ev.Payload)
	if err != nil || s != "/tmp/x" {
		t.Fatalf("payload mismatch: %q err=%v", s, err)
	}
}

func TestMultiLinePayloadReassembly(t *testing.T) {
	// A JSON array split across two lines, neither of which parses alone.
	raw := "u1 ENVIRONMENT [\"A=1\",\nu1 ENVIRONMENT \"B=2\"]\n"
	d := NewDecoder(strings.NewReader(raw))
	ev, err := d.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	arr, err := DecodeStringArray(ev.Payload)
	if err != nil {
		t.Fatalf("DecodeStringArray: %v", err)
	}
	if len(arr) != 2 || arr[0] != "A=1" || arr[1] != "B=2" {
		t.Fatalf("unexpected reassembled array: %v", arr)
	}
}

func TestMalformedLineReported(t *testing.T) {
	d := NewDecoder(strings.NewReader("not-a-valid-line\n"))
	_, err := d.Next()
	if _, ok := err.(ErrMalformed); !ok {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestInterleavedDifferentUUIDsDoNotCollide(t *testing.T) {
	raw := "u1 COMMAND [\"cc\"]\nu2 COMMAND [\"ld\"]\n"
	d := NewDecoder(strings.NewReader(raw))
	ev1, err := d.Next()
	if err != nil {
		t.Fatalf("Next 1: %v", err)
	}
	ev2, err := d.Next()
	if err != nil {
		t.Fatalf("Next 2: %v", err)
	}
	if ev1.UUID != "u1" || ev2.UUID != "u2" {
		t.Fatalf("events crossed streams: %+v %+v", ev1, ev2)
	}
}
