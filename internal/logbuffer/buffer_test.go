package logbuffer

import (
	"fmt"
	"testing"
)

func TestBufferWrapsAtCapacity(t *testing.T) {
	b := New(3)
	for i := 0; i < 5; i++ {
		line := fmt.Sprintf(`{"level":"info","message":"msg-%d","time":1700000000}`, i)
		if _, err := b.Write([]byte(line)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	got := b.Recent(0, "")
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Message != "msg-2" || got[2].Message != "msg-4" {
		t.Fatalf("unexpected order: first=%q last=%q", got[0].Message, got[2].Message)
	}
}

func TestBufferLevelFilterAndLimit(t *testing.T) {
	b := New(10)
	b.Write([]byte(`{"level":"info","message":"a"}`))
	b.Write([]byte(`{"level":"error","message":"b"}`))
	b.Write([]byte(`{"level":"error","message":"c"}`))

	errs := b.Recent(0, "error")
	if len(errs) != 2 {
		t.Fatalf("error entries = %d, want 2", len(errs))
	}

	last := b.Recent(1, "")
	if len(last) != 1 || last[0].Message != "c" {
		t.Fatalf("limited query returned %+v", last)
	}
}

func TestBufferKeepsUnparseableLines(t *testing.T) {
	b := New(4)
	b.Write([]byte("plain text line\n"))

	got := b.Recent(0, "")
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].Message != "plain text line" {
		t.Fatalf("message = %q", got[0].Message)
	}
}
