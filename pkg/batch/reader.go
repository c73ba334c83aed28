// Copyright 2024 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package batch

import (
	"io"
	"log/slog"

	"gitlab.com/accumulatenetwork/odatabatch/pkg/batch/charset"
	"gitlab.com/accumulatenetwork/odatabatch/pkg/batch/mediatype"
	"gitlab.com/accumulatenetwork/odatabatch/pkg/errors"
)

// PartKind is the kind of a Part.
type PartKind int

const (
	PartOperation PartKind = iota + 1
	PartChangesetStart
	PartChangesetEnd
)

func (k PartKind) String() string {
	switch k {
	case PartOperation:
		return "operation"
	case PartChangesetStart:
		return "changeset start"
	case PartChangesetEnd:
		return "changeset end"
	default:
		return "unknown"
	}
}

// Part is one step through a batch payload.
type Part struct {
	Kind PartKind

	// Header is the part's MIME header block. It is nil for the end of a
	// changeset.
	Header *Headers

	// Boundary is the changeset boundary of a changeset start or end.
	Boundary string

	// Request is set for operations in request mode, Response in response
	// mode.
	Request  *Request
	Response *Response
}

// Reader iterates over the parts of a batch payload.
type Reader struct {
	stream *Stream
	opts   Options
	logger *slog.Logger

	maxParts int
	maxOps   int

	parts      int
	ops        int
	contentIDs map[string]struct{}

	// gen invalidates the body of the previous part
	gen       uint64
	body      *body
	completed bool
	err       error
}

// NewReader returns a reader for a payload with the given batch Content-Type,
// which must be multipart/mixed with a boundary.
func NewReader(src io.Reader, contentType string, opts Options) (*Reader, error) {
	ct, err := mediatype.Parse(contentType, mediatype.KindBatch)
	if err != nil {
		return nil, err
	}
	return NewReaderWithBoundary(src, ct.Boundary, ct.Encoding, opts), nil
}

// NewReaderWithBoundary returns a reader for a payload with a known boundary.
// If enc is nil the encoding is detected.
func NewReaderWithBoundary(src io.Reader, boundary string, enc *charset.Encoding, opts Options) *Reader {
	r := new(Reader)
	r.opts = opts
	r.logger = opts.logger().With("module", "reader")
	r.stream = NewStream(src, boundary, enc, opts)
	r.maxParts = limit(opts.MaxPartsPerBatch, DefaultMaxPartsPerBatch)
	r.maxOps = limit(opts.MaxOperationsPerChangeset, DefaultMaxOperationsPerChangeset)
	return r
}

// Stream returns the underlying stream.
func (r *Reader) Stream() *Stream { return r.stream }

// Next advances to the next part. Any unread body of the previous part is
// skipped and can no longer be read. Next returns io.EOF once the end boundary
// of the batch has been read. Any other error is fatal and is returned by
// every subsequent call.
func (r *Reader) Next() (*Part, error) {
	if r.err != nil {
		return nil, r.err
	}

	r.gen++
	part, err := r.next()
	if err != nil {
		r.err = err
		return nil, err
	}

	if r.opts.Observer != nil {
		r.opts.Observer.PartRead(part.Kind)
	}
	return part, nil
}

func (r *Reader) next() (*Part, error) {
	if r.completed {
		return nil, io.EOF
	}

	if r.body != nil {
		err := r.body.discard()
		r.body = nil
		if err != nil {
			return nil, err
		}
	}

	found, isEnd, isParent, err := r.stream.SkipToBoundary()
	if err != nil {
		return nil, err
	}
	if !found {
		if boundary, ok := r.stream.ChangesetBoundary(); ok {
			return nil, errors.MalformedFraming.WithFormat("unexpected end of input: no boundary found in changeset %q", boundary)
		}
		return nil, errors.MalformedFraming.WithFormat("unexpected end of input: no boundary found in batch %q", r.stream.BatchBoundary())
	}

	if boundary, ok := r.stream.ChangesetBoundary(); ok && (isEnd || isParent) {
		err = r.stream.ResetChangesetBoundary()
		if err != nil {
			return nil, err
		}
		r.contentIDs = nil
		if isParent {
			r.logger.Debug("Changeset closed by the batch boundary", "changeset", boundary)
		}
		return &Part{Kind: PartChangesetEnd, Boundary: boundary}, nil
	}

	if isEnd {
		r.completed = true
		r.logger.Debug("Batch complete", "parts", r.parts, "refills", r.stream.Refills())
		return nil, io.EOF
	}

	isChangeset, header, err := r.stream.ProcessPartHeader()
	if err != nil {
		return nil, err
	}

	if isChangeset {
		err = r.countPart()
		if err != nil {
			return nil, err
		}
		r.ops = 0
		r.contentIDs = map[string]struct{}{}
		boundary, _ := r.stream.ChangesetBoundary()
		return &Part{Kind: PartChangesetStart, Header: header, Boundary: boundary}, nil
	}

	if _, ok := r.stream.ChangesetBoundary(); ok {
		r.ops++
		if r.maxOps >= 0 && r.ops > r.maxOps {
			return nil, errors.LimitExceeded.WithFormat("changeset has more than %d operations", r.maxOps)
		}
	} else {
		err = r.countPart()
		if err != nil {
			return nil, err
		}
	}

	return r.readOperation(header)
}

func (r *Reader) countPart() error {
	r.parts++
	if r.maxParts >= 0 && r.parts > r.maxParts {
		return errors.LimitExceeded.WithFormat("batch has more than %d parts", r.maxParts)
	}
	return nil
}

func (r *Reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}
