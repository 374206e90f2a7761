// Package buffer implements the growable byte window shared by every
// connection's read and write paths: independent read/write cursors,
// prependable-space recycling before growth, and scatter/gather I/O.
package buffer

import (
	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/httpreactor/internal/constants"
)

// Buffer is a contiguous byte region with a readable window
// [readerIndex, writerIndex) and a writable window [writerIndex, len(data)).
// Bytes before readerIndex are prependable and are reclaimed by EnsureWritable
// instead of triggering a reallocation.
type Buffer struct {
	data        []byte
	readerIndex int
	writerIndex int
}

// New returns an empty buffer with the standard cheap-prepend reserve.
func New() *Buffer {
	b := &Buffer{data: make([]byte, constants.CheapPrepend+constants.InitialBufferSize)}
	b.readerIndex = constants.CheapPrepend
	b.writerIndex = constants.CheapPrepend
	return b
}

// ReadableBytes returns the number of bytes available to Peek/Retrieve.
func (b *Buffer) ReadableBytes() int { return b.writerIndex - b.readerIndex }

// WritableBytes returns the number of bytes available to append in place.
func (b *Buffer) WritableBytes() int { return len(b.data) - b.writerIndex }

// PrependableBytes returns the number of bytes before the readable window.
func (b *Buffer) PrependableBytes() int { return b.readerIndex }

// Peek returns the current readable window without consuming it.
func (b *Buffer) Peek() []byte { return b.data[b.readerIndex:b.writerIndex] }

// IndexCRLF returns the offset of the first "\r\n" within the readable
// window, or -1 if none is present yet.
func (b *Buffer) IndexCRLF() int {
	data := b.Peek()
	for i := 0; i+1 < len(data); i++ {
		if data[i] == '\r' && data[i+1] == '\n' {
			return i
		}
	}
	return -1
}

// HasWritten advances the write cursor after the caller filled n bytes
// starting at BeginWrite.
func (b *Buffer) HasWritten(n int) { b.writerIndex += n }

// BeginWrite returns the writable window for direct filling; call
// HasWritten afterward to commit the bytes actually written.
func (b *Buffer) BeginWrite() []byte { return b.data[b.writerIndex:] }

// Retrieve consumes n bytes from the front of the readable window.
func (b *Buffer) Retrieve(n int) {
	if n >= b.ReadableBytes() {
		b.RetrieveAll()
		return
	}
	b.readerIndex += n
}

// RetrieveAll resets the buffer to empty, reclaiming the whole region as
// prependable space.
func (b *Buffer) RetrieveAll() {
	b.readerIndex = constants.CheapPrepend
	b.writerIndex = constants.CheapPrepend
}

// RetrieveAllString consumes the entire readable window and returns it.
func (b *Buffer) RetrieveAllString() string {
	s := string(b.Peek())
	b.RetrieveAll()
	return s
}

// EnsureWritable guarantees at least n bytes are writable in place,
// sliding the readable region to reclaim prependable space before
// growing the backing array.
func (b *Buffer) EnsureWritable(n int) {
	if b.WritableBytes() >= n {
		return
	}
	b.makeSpace(n)
}

func (b *Buffer) makeSpace(n int) {
	if b.WritableBytes()+b.PrependableBytes() < n {
		newData := make([]byte, b.writerIndex+n+1)
		copy(newData, b.data[:b.writerIndex])
		b.data = newData
		return
	}
	readable := b.ReadableBytes()
	copy(b.data, b.data[b.readerIndex:b.writerIndex])
	b.readerIndex = 0
	b.writerIndex = readable
}

// Append copies data into the writable region, growing as needed.
func (b *Buffer) Append(data []byte) {
	b.EnsureWritable(len(data))
	n := copy(b.BeginWrite(), data)
	b.HasWritten(n)
}

// AppendBuffer drains other's entire readable window into b.
func (b *Buffer) AppendBuffer(other *Buffer) {
	b.Append(other.Peek())
	other.RetrieveAll()
}

// ReadFromFD performs a single vectored read: the in-place writable region
// plus a stack scratch segment, so one syscall pulls as much as the kernel
// has without a speculative grow. Overflow beyond the writable region is
// appended (growing the buffer as needed).
func (b *Buffer) ReadFromFD(fd int) (int64, error) {
	b.EnsureWritable(1)
	writable := b.WritableBytes()
	var scratch [constants.ScratchReadSize]byte

	n, err := unix.Readv(fd, [][]byte{b.data[b.writerIndex:], scratch[:]})
	if n <= 0 {
		return int64(n), err
	}
	if n <= writable {
		b.writerIndex += n
	} else {
		b.writerIndex += writable
		b.Append(scratch[:n-writable])
	}
	return int64(n), err
}

// WriteToFD writes the readable window in a single write(2) call,
// advancing the read cursor by whatever was actually written.
func (b *Buffer) WriteToFD(fd int) (int64, error) {
	n, err := unix.Write(fd, b.Peek())
	if n > 0 {
		b.Retrieve(n)
	}
	return int64(n), err
}
