// Copyright 2024 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

// Package scan implements the sliding window that the batch stream scans for
// line terminators and multipart boundaries.
package scan

import (
	"io"

	"gitlab.com/accumulatenetwork/odatabatch/pkg/errors"
)

// DefaultCapacity is the default size of a scan buffer. A boundary line,
// including its delimiters and trailing whitespace, must fit within it.
const DefaultCapacity = 8000

// maxConsecutiveEmptyReads matches bufio's tolerance for readers that return
// (0, nil).
const maxConsecutiveEmptyReads = 100

// Buffer is a fixed-capacity window over a byte source. The valid region is
// Bytes()[Pos():Pos()+Len()].
type Buffer struct {
	block     []byte
	pos       int
	n         int
	exhausted bool
}

// New returns an empty buffer with the given capacity. A capacity less than
// one selects DefaultCapacity.
func New(capacity int) *Buffer {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Buffer{block: make([]byte, capacity)}
}

// Bytes returns the underlying block. Only the valid region is meaningful.
func (b *Buffer) Bytes() []byte { return b.block }

// Valid returns the unconsumed bytes.
func (b *Buffer) Valid() []byte { return b.block[b.pos : b.pos+b.n] }

// Pos returns the offset of the next unconsumed byte.
func (b *Buffer) Pos() int { return b.pos }

// Len returns the number of unconsumed bytes.
func (b *Buffer) Len() int { return b.n }

// End returns the offset just past the last valid byte.
func (b *Buffer) End() int { return b.pos + b.n }

// Cap returns the capacity of the buffer.
func (b *Buffer) Cap() int { return len(b.block) }

// Exhausted returns true once a read from the source has reported the end of
// the data. It never reverts.
func (b *Buffer) Exhausted() bool { return b.exhausted }

// SkipTo consumes every byte before pos.
func (b *Buffer) SkipTo(pos int) {
	if pos < b.pos || pos > b.End() {
		panic(errors.InternalError.WithFormat("skip to %d is outside the valid region [%d, %d]", pos, b.pos, b.End()))
	}
	b.n -= pos - b.pos
	b.pos = pos
}

// Refill moves the bytes from preserveFrom to the end of the valid region to
// the front of the block, then reads from src into the remaining space. It
// returns true if the source is exhausted.
//
// preserveFrom must lie within [Pos(), End()]; pass End() to discard every
// buffered byte.
func (b *Buffer) Refill(src io.Reader, preserveFrom int) (bool, error) {
	if preserveFrom < b.pos || preserveFrom > b.End() {
		return b.exhausted, errors.InternalError.WithFormat("refill: preserve offset %d is outside the valid region [%d, %d]", preserveFrom, b.pos, b.End())
	}

	kept := copy(b.block, b.block[preserveFrom:b.End()])
	b.pos, b.n = 0, kept
	if b.exhausted {
		return true, nil
	}

	if kept == len(b.block) {
		return false, errors.MalformedFraming.WithFormat("boundary line exceeds the %d byte scan buffer", len(b.block))
	}

	for i := 0; i < maxConsecutiveEmptyReads; i++ {
		n, err := src.Read(b.block[kept:])
		b.n += n
		switch {
		case err == io.EOF:
			b.exhausted = true
			return true, nil
		case err != nil:
			return false, errors.UnknownError.WithCauseAndFormat(err, "read batch payload")
		case n > 0:
			return false, nil
		}
	}
	return false, errors.UnknownError.WithCauseAndFormat(io.ErrNoProgress, "read batch payload")
}
