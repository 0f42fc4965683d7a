// Package serde implements the three-mode value serializer used for every
// structured record in a pipeline archive.
//
// The same traversal function runs in three modes: Measure accumulates the
// required byte size without touching memory and never fails; Write encodes
// each field into a preallocated buffer in the exact order the Measure pass
// visited it; Read decodes fields in the same order. Keeping the three mode
// orders identical is what makes a measured size byte-exact with what Read
// expects; every serializer function in this module is written once and
// instantiated by mode.
//
// All primitives are fixed-width little-endian. Strings and byte slices are
// length-prefixed with a uint32.
package serde

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Mode selects the serializer behavior.
type Mode uint8

const (
	// Measure computes the encoded size without writing.
	Measure Mode = iota
	// Write encodes into a preallocated buffer.
	Write
	// Read decodes from a buffer.
	Read
)

// ErrShortBuffer is returned when a Read runs past the end of its input or
// a Write runs past the end of its preallocated buffer.
var ErrShortBuffer = errors.New("serde: short buffer")

// Serializer carries the mode, the cursor and the backing buffer.
type Serializer struct {
	mode Mode
	buf  []byte
	off  int
	size int // accumulated size in Measure mode
}

// NewMeasurer returns a serializer in Measure mode.
func NewMeasurer() *Serializer { return &Serializer{mode: Measure} }

// NewWriter returns a serializer writing into buf.
func NewWriter(buf []byte) *Serializer { return &Serializer{mode: Write, buf: buf} }

// NewReader returns a serializer reading from buf.
func NewReader(buf []byte) *Serializer { return &Serializer{mode: Read, buf: buf} }

// Mode returns the serializer's mode.
func (s *Serializer) Mode() Mode { return s.mode }

// Size returns the accumulated size in Measure mode and the cursor position
// otherwise.
func (s *Serializer) Size() int {
	if s.mode == Measure {
		return s.size
	}
	return s.off
}

// IsEnd reports whether the cursor consumed the buffer exactly. Always true
// in Measure mode.
func (s *Serializer) IsEnd() bool {
	if s.mode == Measure {
		return true
	}
	return s.off == len(s.buf)
}

// Remaining returns the bytes left between the cursor and the end of the
// buffer. Zero in Measure mode, which has no buffer.
func (s *Serializer) Remaining() int {
	if s.mode == Measure {
		return 0
	}
	return len(s.buf) - s.off
}

func (s *Serializer) span(n int) ([]byte, error) {
	if s.mode == Measure {
		s.size += n
		return nil, nil
	}
	if s.off+n > len(s.buf) {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d of %d", ErrShortBuffer, n, s.off, len(s.buf))
	}
	p := s.buf[s.off : s.off+n]
	s.off += n
	return p, nil
}

// Uint8 serializes one byte.
func (s *Serializer) Uint8(v *uint8) error {
	p, err := s.span(1)
	if p == nil {
		return err
	}
	if s.mode == Write {
		p[0] = *v
	} else {
		*v = p[0]
	}
	return nil
}

// Bool serializes a bool as one byte (0 or 1).
func (s *Serializer) Bool(v *bool) error {
	var b uint8
	if *v {
		b = 1
	}
	if err := s.Uint8(&b); err != nil {
		return err
	}
	*v = b != 0
	return nil
}

// Uint16 serializes a little-endian uint16.
func (s *Serializer) Uint16(v *uint16) error {
	p, err := s.span(2)
	if p == nil {
		return err
	}
	if s.mode == Write {
		binary.LittleEndian.PutUint16(p, *v)
	} else {
		*v = binary.LittleEndian.Uint16(p)
	}
	return nil
}

// Uint32 serializes a little-endian uint32.
func (s *Serializer) Uint32(v *uint32) error {
	p, err := s.span(4)
	if p == nil {
		return err
	}
	if s.mode == Write {
		binary.LittleEndian.PutUint32(p, *v)
	} else {
		*v = binary.LittleEndian.Uint32(p)
	}
	return nil
}

// Uint64 serializes a little-endian uint64.
func (s *Serializer) Uint64(v *uint64) error {
	p, err := s.span(8)
	if p == nil {
		return err
	}
	if s.mode == Write {
		binary.LittleEndian.PutUint64(p, *v)
	} else {
		*v = binary.LittleEndian.Uint64(p)
	}
	return nil
}

// Int32 serializes a little-endian int32.
func (s *Serializer) Int32(v *int32) error {
	u := uint32(*v)
	if err := s.Uint32(&u); err != nil {
		return err
	}
	*v = int32(u)
	return nil
}

// Float32 serializes an IEEE-754 float32.
func (s *Serializer) Float32(v *float32) error {
	u := math.Float32bits(*v)
	if err := s.Uint32(&u); err != nil {
		return err
	}
	*v = math.Float32frombits(u)
	return nil
}

// Str serializes a uint32-length-prefixed string.
func (s *Serializer) Str(v *string) error {
	n := uint32(len(*v))
	if err := s.Uint32(&n); err != nil {
		return err
	}
	p, err := s.span(int(n))
	if p == nil {
		return err
	}
	if s.mode == Write {
		copy(p, *v)
	} else {
		*v = string(p)
	}
	return nil
}

// Bytes serializes a uint32-length-prefixed byte slice.
func (s *Serializer) Bytes(v *[]byte) error {
	n := uint32(len(*v))
	if err := s.Uint32(&n); err != nil {
		return err
	}
	p, err := s.span(int(n))
	if p == nil {
		return err
	}
	if s.mode == Write {
		copy(p, *v)
	} else {
		*v = append([]byte(nil), p...)
	}
	return nil
}

// Raw serializes a byte run with no length prefix. In Read mode it consumes
// everything that remains in the buffer; a record using Raw must place it
// last.
func (s *Serializer) Raw(v *[]byte) error {
	switch s.mode {
	case Measure:
		s.size += len(*v)
		return nil
	case Write:
		p, err := s.span(len(*v))
		if p == nil {
			return err
		}
		copy(p, *v)
		return nil
	default:
		*v = append([]byte(nil), s.buf[s.off:]...)
		s.off = len(s.buf)
		return nil
	}
}

// Integer constrains the enum and index types that travel as 32-bit words.
type Integer interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uint |
		~int8 | ~int16 | ~int32 | ~int64 | ~int
}

// Enum serializes any integer-backed enum as a uint32.
func Enum[T Integer](s *Serializer, v *T) error {
	u := uint32(*v)
	if err := s.Uint32(&u); err != nil {
		return err
	}
	*v = T(u)
	return nil
}
