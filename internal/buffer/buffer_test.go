package buffer

import (
	"testing"
)

func TestAppendRetrieve(t *testing.T) {
	cases := []struct {
		name   string
		writes []string
		want   string
	}{
		{"single", []string{"hello"}, "hello"},
		{"multiple", []string{"foo", "bar", "baz"}, "foobarbaz"},
		{"empty write", []string{"", "x"}, "x"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := New()
			for _, w := range tc.writes {
				b.Append([]byte(w))
			}
			if got := string(b.Peek()); got != tc.want {
				t.Fatalf("Peek() = %q, want %q", got, tc.want)
			}
			if got := b.ReadableBytes(); got != len(tc.want) {
				t.Fatalf("ReadableBytes() = %d, want %d", got, len(tc.want))
			}
		})
	}
}

func TestRetrievePartial(t *testing.T) {
	b := New()
	b.Append([]byte("abcdef"))
	b.Retrieve(2)
	if got := string(b.Peek()); got != "cdef" {
		t.Fatalf("Peek() = %q, want %q", got, "cdef")
	}
	b.Retrieve(100) // beyond readable: clamps to RetrieveAll
	if b.ReadableBytes() != 0 {
		t.Fatalf("ReadableBytes() = %d, want 0", b.ReadableBytes())
	}
}

func TestEnsureWritableSlidesBeforeGrowing(t *testing.T) {
	b := New()
	b.Append(append(make([]byte, 995), "world"...))
	b.Retrieve(995)

	capBefore := cap(b.data)
	b.EnsureWritable(100) // exceeds writable space but fits once prependable space is reclaimed
	if cap(b.data) != capBefore {
		t.Fatalf("EnsureWritable reallocated when slide should have sufficed")
	}
	if string(b.Peek()) != "world" {
		t.Fatalf("Peek() = %q, want %q", b.Peek(), "world")
	}
}

func TestEnsureWritableGrows(t *testing.T) {
	b := New()
	big := make([]byte, 4096)
	for i := range big {
		big[i] = 'x'
	}
	b.Append(big)
	if b.WritableBytes() < 0 {
		t.Fatalf("WritableBytes() negative after growth")
	}
	if string(b.Peek()) != string(big) {
		t.Fatalf("content corrupted across growth")
	}
}

func TestIndexCRLF(t *testing.T) {
	b := New()
	b.Append([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
	idx := b.IndexCRLF()
	if idx != 14 {
		t.Fatalf("IndexCRLF() = %d, want 14", idx)
	}
	b.Retrieve(idx + 2)
	idx = b.IndexCRLF()
	if idx != 7 {
		t.Fatalf("IndexCRLF() after retrieve = %d, want 7", idx)
	}
}

func TestOffsetInvariant(t *testing.T) {
	b := New()
	ops := []func(){
		func() { b.Append([]byte("1234567890")) },
		func() { b.Retrieve(3) },
		func() { b.Append([]byte("abcde")) },
		func() { b.Retrieve(20) },
	}
	for _, op := range ops {
		op()
		if b.readerIndex < 0 || b.readerIndex > b.writerIndex || b.writerIndex > len(b.data) {
			t.Fatalf("invariant violated: reader=%d writer=%d cap=%d", b.readerIndex, b.writerIndex, len(b.data))
		}
	}
}

func TestRetrieveAllString(t *testing.T) {
	b := New()
	b.Append([]byte("payload"))
	got := b.RetrieveAllString()
	if got != "payload" {
		t.Fatalf("RetrieveAllString() = %q, want %q", got, "payload")
	}
	if b.ReadableBytes() != 0 {
		t.Fatalf("buffer not empty after RetrieveAllString")
	}
}
