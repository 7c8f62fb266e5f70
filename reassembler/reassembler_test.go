package reassembler

import (
	"testing"

	"tcpipstack/bytestream"
)

func newTestReassembler(cap uint64) (*Reassembler, *bytestream.ByteStream) {
	bs := bytestream.New(cap)
	return New(bs), bs
}

func TestGapFill(t *testing.T) {
	r, out := newTestReassembler(8)

	r.Insert(0, []byte("ab"), false)
	if got := string(out.Peek()); got != "ab" {
		t.Fatalf("after first insert, peek = %q", got)
	}
	if r.BytesPending() != 0 {
		t.Fatalf("pending = %d, want 0", r.BytesPending())
	}

	r.Insert(4, []byte("ef"), false)
	if r.BytesPending() != 2 {
		t.Fatalf("pending = %d, want 2", r.BytesPending())
	}

	r.Insert(2, []byte("cd"), false)
	if r.BytesPending() != 0 {
		t.Fatalf("pending after fill = %d, want 0", r.BytesPending())
	}

	r.Insert(6, []byte("gh"), true)
	if !out.IsClosed() {
		t.Fatalf("expected output closed after final insert")
	}
}

func TestOverlapTrimForcesNotLast(t *testing.T) {
	r, out := newTestReassembler(4)

	r.Insert(2, []byte("cdef"), true)
	if r.BytesPending() != 2 {
		t.Fatalf("pending = %d, want 2", r.BytesPending())
	}

	r.Insert(0, []byte("ab"), false)
	all := append([]byte{}, out.Peek()...)
	out.Pop(uint64(len(all)))
	for out.BytesBuffered() > 0 {
		chunk := out.Peek()
		all = append(all, chunk...)
		out.Pop(uint64(len(chunk)))
	}
	if string(all) != "abcd" {
		t.Fatalf("reassembled = %q, want %q", all, "abcd")
	}
	if out.IsClosed() {
		t.Fatalf("stream should not be closed: trimmed suffix forced is_last=false")
	}
}

func TestDuplicateInsertIsIdempotent(t *testing.T) {
	r, _ := newTestReassembler(8)
	r.Insert(0, []byte("abcd"), false)
	before := r.BytesPending()
	r.Insert(0, []byte("abcd"), false)
	if r.BytesPending() != before {
		t.Fatalf("duplicate insert changed pending bytes: %d vs %d", r.BytesPending(), before)
	}
}

func TestBeyondCapacityDiscarded(t *testing.T) {
	r, _ := newTestReassembler(4)
	r.Insert(100, []byte("xyz"), false)
	if r.BytesPending() != 0 {
		t.Fatalf("pending = %d, want 0 for out-of-window insert", r.BytesPending())
	}
}

func TestIsLastArrivesBeforeGapsFill(t *testing.T) {
	r, out := newTestReassembler(8)
	r.Insert(2, []byte("cd"), true)
	if out.IsClosed() {
		t.Fatalf("should not close before gap at [0,2) fills")
	}
	r.Insert(0, []byte("ab"), false)
	if !out.IsClosed() {
		t.Fatalf("expected close once is_last extent reaches the front")
	}
}
