package host

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestCall_Reply(t *testing.T) {
	c := NewCall("greet", []byte("world"))

	if c.ID() == "" {
		t.Fatal("expected call id")
	}
	if c.Committed() {
		t.Fatal("new call must not be committed")
	}
	if err := c.ReplyDataAppend([]byte("Hello, ")); err != nil {
		t.Fatalf("ReplyDataAppend failed: %v", err)
	}
	if err := c.ReplyDataAppend([]byte("world")); err != nil {
		t.Fatalf("ReplyDataAppend failed: %v", err)
	}
	if err := c.Reply(); err != nil {
		t.Fatalf("Reply failed: %v", err)
	}

	want := Response{Status: StatusReplied, Payload: []byte("Hello, world")}
	if diff := cmp.Diff(want, c.Response()); diff != "" {
		t.Fatalf("response mismatch (-want +got):\n%s", diff)
	}
}

func TestCall_ExactlyOneCommit(t *testing.T) {
	tests := []struct {
		name  string
		first func(*Call) error
	}{
		{"reply", (*Call).Reply},
		{"reject", func(c *Call) error { return c.Reject("nope") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCall("m", nil)
			if err := tt.first(c); err != nil {
				t.Fatalf("first commit failed: %v", err)
			}
			before := c.Response()

			for _, err := range []error{
				c.Reply(),
				c.Reject("again"),
				c.ReplyDataAppend([]byte("late")),
			} {
				if !errors.Is(err, ErrAlreadyCommitted) {
					t.Fatalf("expected ErrAlreadyCommitted, got %v", err)
				}
			}
			if diff := cmp.Diff(before, c.Response()); diff != "" {
				t.Fatalf("response changed after commit (-before +after):\n%s", diff)
			}
		})
	}
}

func TestCall_RejectDropsPayload(t *testing.T) {
	c := NewCall("m", nil)
	c.ReplyDataAppend([]byte("partial"))
	if err := c.Reject("failed"); err != nil {
		t.Fatalf("Reject failed: %v", err)
	}
	resp := c.Response()
	if resp.Status != StatusRejected || resp.Message != "failed" || len(resp.Payload) != 0 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestCall_ArgDataCopy(t *testing.T) {
	c := NewCall("m", []byte("abcdef"))

	tests := []struct {
		name   string
		offset int
		n      int
		want   string
		err    bool
	}{
		{"whole", 0, 6, "abcdef", false},
		{"middle", 2, 3, "cde", false},
		{"empty at end", 6, 0, "", false},
		{"past end", 4, 3, "", true},
		{"negative", -1, 1, "", true},
		{"offset beyond", 7, 0, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, tt.n)
			err := c.ArgDataCopy(buf, tt.offset)
			if tt.err {
				if !errors.Is(err, ErrOutOfBounds) {
					t.Fatalf("expected ErrOutOfBounds, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ArgDataCopy failed: %v", err)
			}
			if string(buf) != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, buf)
			}
		})
	}
}

func TestReadArg(t *testing.T) {
	c := NewCall("m", []byte("payload"))

	arg, err := ReadArg(c, 0)
	if err != nil || string(arg) != "payload" {
		t.Fatalf("ReadArg = %q, %v", arg, err)
	}

	_, err = ReadArg(c, 3)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}

	empty, err := ReadArg(NewCall("m", nil), DefaultMaxArgSize)
	if err != nil || len(empty) != 0 {
		t.Fatalf("ReadArg on empty = %q, %v", empty, err)
	}
}

func TestCall_DebugLogging(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	prev := Logger()
	SetLogger(zap.New(core))
	defer SetLogger(prev)

	c := NewCall("test_stat", nil)
	Printf(c, "stat returns %d", 0)
	c.DebugPrint([]byte("directory"))

	if diff := cmp.Diff([]string{"stat returns 0", "directory"}, c.DebugLines()); diff != "" {
		t.Fatalf("debug lines mismatch (-want +got):\n%s", diff)
	}

	entries := logs.FilterMessage("debug_print").All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["call_id"]; got != c.ID() {
		t.Fatalf("expected call_id %q, got %v", c.ID(), got)
	}
}

func TestCallContext(t *testing.T) {
	if _, ok := CallFrom(context.Background()); ok {
		t.Fatal("expected no call on bare context")
	}
	c := NewCall("m", nil)
	got, ok := CallFrom(WithCall(context.Background(), c))
	if !ok || got != c {
		t.Fatal("expected call from context")
	}
}

func TestCall_Abort(t *testing.T) {
	c := NewCall("m", nil)
	c.ReplyDataAppend([]byte("ok"))
	c.Reply()
	c.Abort("trapped")

	want := Response{Status: StatusRejected, Message: "trapped"}
	if diff := cmp.Diff(want, c.Response()); diff != "" {
		t.Fatalf("response mismatch (-want +got):\n%s", diff)
	}
}
