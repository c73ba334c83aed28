// Copyright 2024 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package batch

import (
	"io"
	"log/slog"
)

const (
	DefaultMaxPartsPerBatch          = 100
	DefaultMaxOperationsPerChangeset = 1000
)

// Options configures a Reader or a Stream. The zero value is usable.
type Options struct {
	// BufferSize is the capacity of the scan buffer. Every boundary line must
	// fit in it. Zero selects scan.DefaultCapacity.
	BufferSize int

	// Responses selects response mode: operation parts are parsed as HTTP
	// responses instead of requests.
	Responses bool

	// MaxPartsPerBatch limits the number of top-level parts (operations and
	// changesets). Zero selects DefaultMaxPartsPerBatch; negative disables the
	// limit.
	MaxPartsPerBatch int

	// MaxOperationsPerChangeset limits the number of operations in a
	// changeset. Zero selects DefaultMaxOperationsPerChangeset; negative
	// disables the limit.
	MaxOperationsPerChangeset int

	// Logger receives debug records. The reader logs with the module "reader"
	// and the stream with the module "scan".
	Logger *slog.Logger

	Observer Observer
}

// Observer is notified as a payload is read.
type Observer interface {
	// Refilled is called after each refill of the scan buffer with the number
	// of bytes read from the source.
	Refilled(n int)

	// PartRead is called for every part the reader returns.
	PartRead(kind PartKind)
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func limit(v, def int) int {
	switch {
	case v == 0:
		return def
	case v < 0:
		return -1
	default:
		return v
	}
}
