// Package membuf provides a two-phase byte builder for laying out binary
// segments whose internal cross-references require stable offsets.
//
// A Builder is used in two strict phases. During the layout phase the caller
// declares every sub-allocation it will need via Reserve. A single Commit
// call then performs exactly one backing allocation sized to the sum of all
// declarations. During the commit phase, Alloc and Copy hand out Span
// handles into the backing storage in the exact order the space was
// reserved. Because the backing array never grows after Commit, a Span's
// offset is final the moment it is allocated and can be recorded in another
// segment that is being built concurrently.
//
// Spans are offsets, never raw pointers. Phase misuse (allocating before
// Commit, reserving after Commit, allocating more than was reserved) is a
// programmer error and panics.
package membuf

import (
	"encoding/binary"
	"fmt"
)

// Builder accumulates reservations and then serves allocations out of a
// single backing buffer. The zero value is ready to use.
type Builder struct {
	reserved  int
	committed bool
	buf       []byte
	off       int
}

// Span is a handle to a region allocated from a Builder. It stays valid for
// the lifetime of the Builder.
type Span struct {
	b    *Builder
	off  int
	size int
}

// Offset returns the span's byte offset from the start of the builder.
func (s Span) Offset() int { return s.off }

// Size returns the span's length in bytes.
func (s Span) Size() int { return s.size }

// Bytes returns the span's backing slice.
func (s Span) Bytes() []byte { return s.b.buf[s.off : s.off+s.size] }

// PutUint32 writes v at byte offset off within the span, little-endian.
// Used for fixing up offset tables after the full layout is known.
func (s Span) PutUint32(off int, v uint32) {
	if off < 0 || off+4 > s.size {
		panic(fmt.Sprintf("membuf: PutUint32 at %d out of span of size %d", off, s.size))
	}
	binary.LittleEndian.PutUint32(s.b.buf[s.off+off:], v)
}

// Uint32 reads the little-endian uint32 at byte offset off within the span.
func (s Span) Uint32(off int) uint32 {
	if off < 0 || off+4 > s.size {
		panic(fmt.Sprintf("membuf: Uint32 at %d out of span of size %d", off, s.size))
	}
	return binary.LittleEndian.Uint32(s.b.buf[s.off+off:])
}

func align(n, a int) int {
	if a <= 1 {
		return n
	}
	return (n + a - 1) &^ (a - 1)
}

// Reserve declares a future allocation of size bytes with the given
// alignment. Must be called before Commit. Alignment must be a power of two
// (or 0/1 for none).
func (b *Builder) Reserve(size, alignment int) {
	if b.committed {
		panic("membuf: Reserve after Commit")
	}
	if size < 0 {
		panic("membuf: negative reservation")
	}
	b.reserved = align(b.reserved, alignment) + size
}

// Commit performs the single backing allocation. Calling Commit twice
// panics. A Builder with no reservations commits to an empty buffer.
func (b *Builder) Commit() {
	if b.committed {
		panic("membuf: Commit called twice")
	}
	b.committed = true
	b.buf = make([]byte, b.reserved)
}

// Alloc returns a zeroed span of size bytes with the given alignment.
// Allocations must replay the Reserve sequence: same sizes, same alignments,
// same order.
func (b *Builder) Alloc(size, alignment int) Span {
	if !b.committed {
		panic("membuf: Alloc before Commit")
	}
	off := align(b.off, alignment)
	if off+size > len(b.buf) {
		panic(fmt.Sprintf("membuf: Alloc(%d) overruns reservation (%d of %d used)", size, b.off, len(b.buf)))
	}
	b.off = off + size
	return Span{b: b, off: off, size: size}
}

// Copy allocates an unaligned span and fills it with p.
func (b *Builder) Copy(p []byte) Span {
	s := b.Alloc(len(p), 1)
	copy(s.Bytes(), p)
	return s
}

// CopyString allocates len(str)+1 bytes and stores str with a trailing NUL.
func (b *Builder) CopyString(str string) Span {
	s := b.Alloc(len(str)+1, 1)
	copy(s.Bytes(), str)
	return s
}

// ReserveString is the layout-phase counterpart of CopyString.
func (b *Builder) ReserveString(str string) {
	b.Reserve(len(str)+1, 1)
}

// Len reports the builder's total size: the reservation sum before Commit,
// the backing buffer length after.
func (b *Builder) Len() int {
	if b.committed {
		return len(b.buf)
	}
	return b.reserved
}

// IsEmpty reports whether nothing was ever reserved.
func (b *Builder) IsEmpty() bool { return b.Len() == 0 }

// Bytes returns the full backing buffer. Valid only after Commit.
func (b *Builder) Bytes() []byte {
	if !b.committed {
		panic("membuf: Bytes before Commit")
	}
	return b.buf
}
