// growable byte window for per-connection socket IO
// read/write cursors, scatter read from fd, drain to fd
package buffer

import (
	"golang.org/x/sys/unix"
)

const defaultSize = 1024

// Buffer keeps bytes between two cursors: [readPos, writePos) is readable,
// [writePos, cap) is writable. Owned by exactly one connection, no locking.
type Buffer struct {
	buf      []byte
	readPos  int
	writePos int
}

func New(size int) *Buffer {
	if size <= 0 {
		size = defaultSize
	}
	return &Buffer{buf: make([]byte, size)}
}

// ReadableBytes is the number of bytes written but not yet consumed.
func (b *Buffer) ReadableBytes() int { return b.writePos - b.readPos }

// WritableBytes is the free space at the tail.
func (b *Buffer) WritableBytes() int { return len(b.buf) - b.writePos }

// PrependableBytes is the space already consumed at the head,
// reclaimable by compaction.
func (b *Buffer) PrependableBytes() int { return b.readPos }

// Peek returns the readable window without advancing the read cursor.
// The slice is invalidated by the next Append/EnsureWritable.
func (b *Buffer) Peek() []byte { return b.buf[b.readPos:b.writePos] }

// BeginWrite returns the writable window. Call HasWritten after filling it.
func (b *Buffer) BeginWrite() []byte { return b.buf[b.writePos:] }

// HasWritten advances the write cursor after a direct write into BeginWrite.
func (b *Buffer) HasWritten(n int) { b.writePos += n }

// Retrieve consumes n readable bytes. When the buffer empties both
// cursors reset to 0 so space is reused without compaction.
func (b *Buffer) Retrieve(n int) {
	if n >= b.ReadableBytes() {
		b.RetrieveAll()
		return
	}
	b.readPos += n
}

// RetrieveAll drops everything readable and resets both cursors.
func (b *Buffer) RetrieveAll() {
	b.readPos = 0
	b.writePos = 0
}

// RetrieveAllToString copies the readable window out and empties the buffer.
func (b *Buffer) RetrieveAllToString() string {
	s := string(b.Peek())
	b.RetrieveAll()
	return s
}

// EnsureWritable guarantees at least n bytes of tail space,
// compacting or growing as needed.
func (b *Buffer) EnsureWritable(n int) {
	if b.WritableBytes() < n {
		b.makeSpace(n)
	}
}

func (b *Buffer) Append(p []byte) {
	b.EnsureWritable(len(p))
	copy(b.buf[b.writePos:], p)
	b.writePos += len(p)
}

func (b *Buffer) AppendString(s string) {
	b.EnsureWritable(len(s))
	copy(b.buf[b.writePos:], s)
	b.writePos += len(s)
}

// makeSpace reuses the consumed head when the combined free space fits n,
// otherwise reallocates to writePos+n+1.
func (b *Buffer) makeSpace(n int) {
	if b.WritableBytes()+b.PrependableBytes() < n {
		grown := make([]byte, b.writePos+n+1)
		copy(grown, b.buf[:b.writePos])
		b.buf = grown
		return
	}
	readable := b.ReadableBytes()
	copy(b.buf, b.buf[b.readPos:b.writePos])
	b.readPos = 0
	b.writePos = readable
}

// ReadFd scatter-reads from fd into the writable tail plus a 64 KiB stack
// scratch, so one syscall accepts bursts larger than the tail without
// pre-growing. Overflow lands in the scratch and is appended afterwards.
// Returns the errno unchanged so callers can treat EAGAIN as drained.
func (b *Buffer) ReadFd(fd int) (int, error) {
	var scratch [65536]byte

	writable := b.WritableBytes()
	n, err := unix.Readv(fd, [][]byte{b.buf[b.writePos:], scratch[:]})
	if err != nil {
		return -1, err
	}
	if n <= writable {
		b.writePos += n
	} else {
		b.writePos = len(b.buf)
		b.Append(scratch[:n-writable])
	}
	return n, nil
}

// WriteFd drains readable bytes into fd. Short writes advance the read
// cursor by whatever the kernel took.
func (b *Buffer) WriteFd(fd int) (int, error) {
	n, err := unix.Write(fd, b.Peek())
	if err != nil {
		return -1, err
	}
	b.Retrieve(n)
	return n, nil
}
