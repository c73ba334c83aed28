// Copyright 2024 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package batch

import (
	"io"
	"log/slog"
	"math"

	"gitlab.com/accumulatenetwork/odatabatch/pkg/batch/charset"
	"gitlab.com/accumulatenetwork/odatabatch/pkg/batch/mediatype"
	"gitlab.com/accumulatenetwork/odatabatch/pkg/batch/scan"
	"gitlab.com/accumulatenetwork/odatabatch/pkg/errors"
)

const minBufferSize = 4

const minLineBufferSize = 64

// Stream is the boundary-aware reading surface over a batch payload. It is not
// safe for concurrent use and its reads are not reentrant: a part's body must
// be read or abandoned before the next boundary is located.
type Stream struct {
	src      io.Reader
	buf      *scan.Buffer
	line     []byte
	logger   *slog.Logger
	observer Observer

	batchBoundary string
	batchEncoding *charset.Encoding

	// changeset is nil outside of a changeset
	changeset *changeset
	markers   [2]string
	refills   int
}

type changeset struct {
	boundary string
	encoding *charset.Encoding
}

// NewStream returns a stream over src delimited by boundary. If enc is nil the
// encoding is detected from the first bytes of the payload.
func NewStream(src io.Reader, boundary string, enc *charset.Encoding, opts Options) *Stream {
	size := opts.BufferSize
	switch {
	case size <= 0:
		size = scan.DefaultCapacity
	case size < minBufferSize:
		size = minBufferSize
	}

	s := new(Stream)
	s.src = src
	s.buf = scan.New(size)
	s.logger = opts.logger().With("module", "scan")
	s.observer = opts.Observer
	s.batchBoundary = boundary
	s.batchEncoding = enc
	return s
}

// BatchBoundary returns the boundary of the batch.
func (s *Stream) BatchBoundary() string { return s.batchBoundary }

// ChangesetBoundary returns the boundary of the current changeset, if any.
func (s *Stream) ChangesetBoundary() (string, bool) {
	if s.changeset == nil {
		return "", false
	}
	return s.changeset.boundary, true
}

// Encoding returns the encoding lines are currently decoded with, which may be
// nil before the batch encoding has been detected.
func (s *Stream) Encoding() *charset.Encoding {
	if s.changeset != nil {
		return s.changeset.encoding
	}
	return s.batchEncoding
}

// Refills returns the number of times the scan buffer has been refilled.
func (s *Stream) Refills() int { return s.refills }

func (s *Stream) boundaries() []string {
	if s.changeset == nil {
		s.markers[0] = s.batchBoundary
		return s.markers[:1]
	}
	s.markers[0], s.markers[1] = s.changeset.boundary, s.batchBoundary
	return s.markers[:2]
}

func (s *Stream) refill(preserveFrom int) error {
	kept := s.buf.End() - preserveFrom
	_, err := s.buf.Refill(s.src, preserveFrom)
	s.refills++
	if s.observer != nil {
		s.observer.Refilled(s.buf.Len() - kept)
	}
	return err
}

// EnsureEncoding detects the batch encoding on first use, unless one was
// declared, and validates it.
func (s *Stream) EnsureEncoding() error {
	if s.batchEncoding == nil {
		enc, err := s.detectEncoding()
		if err != nil {
			return err
		}
		s.logger.Debug("Detected batch encoding", "encoding", enc)
		s.batchEncoding = enc
	}
	return charset.ValidateForBatch(s.batchEncoding)
}

func (s *Stream) detectEncoding() (*charset.Encoding, error) {
	for !s.buf.Exhausted() && s.buf.Len() < 4 {
		err := s.refill(s.buf.Pos())
		if err != nil {
			return nil, err
		}
	}
	return charset.Detect(s.buf.Valid()), nil
}

// SkipToBoundary discards bytes up to and including the next boundary line.
// If the boundary belongs to the batch while a changeset is active, the
// changeset has ended implicitly and the stream is left at the start of the
// boundary so that it is found again once the changeset is reset. found is
// false if the source ran out first.
func (s *Stream) SkipToBoundary() (found, isEnd, isParent bool, err error) {
	err = s.EnsureEncoding()
	if err != nil {
		return false, false, false, err
	}

	for {
		result, b := s.buf.ScanBoundary(s.boundaries(), math.MaxInt)
		switch result {
		case scan.NoMatch:
			if s.buf.Exhausted() {
				s.buf.SkipTo(s.buf.End())
				return false, false, false, nil
			}
			err = s.refill(s.buf.End())

		case scan.PartialMatch:
			if s.buf.Exhausted() {
				s.buf.SkipTo(s.buf.End())
				return false, false, false, nil
			}
			err = s.refill(b.Start)

		case scan.Match:
			if b.IsParent {
				s.buf.SkipTo(b.Start)
			} else {
				s.buf.SkipTo(b.End)
			}
			s.logger.Debug("Found boundary", "end", b.IsEnd, "parent", b.IsParent)
			return true, b.IsEnd, b.IsParent, nil

		default:
			return false, false, false, errors.Unreachable("skip to boundary")
		}
		if err != nil {
			return false, false, false, err
		}
	}
}

// ReadWithDelimiter reads into p, stopping early at the next boundary. It
// returns fewer than len(p) bytes if a boundary was found or the source ran
// out; zero means the body has ended.
func (s *Stream) ReadWithDelimiter(p []byte) (int, error) {
	var n int
	for n < len(p) {
		remaining := len(p) - n
		result, b := s.buf.ScanBoundary(s.boundaries(), remaining)

		var err error
		switch result {
		case scan.NoMatch:
			if s.buf.Len() >= remaining {
				n += s.consume(p[n:], s.buf.Pos()+remaining)
				return n, nil
			}
			n += s.consume(p[n:], s.buf.End())
			if s.buf.Exhausted() {
				return n, nil
			}
			err = s.refill(s.buf.End())

		case scan.PartialMatch:
			if s.buf.Exhausted() {
				n += s.consume(p[n:], s.buf.Pos()+min(remaining, s.buf.Len()))
				return n, nil
			}
			n += s.consume(p[n:], b.Start)
			err = s.refill(b.Start)

		case scan.Match:
			n += s.consume(p[n:], b.Start)
			return n, nil

		default:
			return n, errors.Unreachable("read with delimiter")
		}
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// ReadWithLength reads exactly len(p) bytes without looking for boundaries.
// Running out of data is fatal since it means the declared length was wrong.
func (s *Stream) ReadWithLength(p []byte) (int, error) {
	var n int
	for n < len(p) {
		if s.buf.Len() > 0 {
			n += s.consume(p[n:], s.buf.Pos()+min(len(p)-n, s.buf.Len()))
			continue
		}
		if s.buf.Exhausted() {
			return n, errors.MalformedFraming.WithFormat("unexpected end of input: the declared length requires %d more bytes", len(p)-n)
		}
		err := s.refill(s.buf.End())
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// consume copies the valid bytes before end into p and skips past them.
func (s *Stream) consume(p []byte, end int) int {
	n := copy(p, s.buf.Bytes()[s.buf.Pos():end])
	s.buf.SkipTo(s.buf.Pos() + n)
	return n
}

// ReadLine reads up to the next CR, LF or CRLF and decodes the line with the
// current encoding. ok is false if the source is exhausted and nothing was
// read.
func (s *Stream) ReadLine() (line string, ok bool, err error) {
	if s.batchEncoding == nil {
		err = s.EnsureEncoding()
		if err != nil {
			return "", false, err
		}
	}

	s.line = s.line[:0]
	for {
		result, span := s.buf.ScanLineEnd()
		switch result {
		case scan.NoMatch:
			s.appendLine(s.buf.Valid())
			s.buf.SkipTo(s.buf.End())
			if s.buf.Exhausted() {
				if len(s.line) == 0 {
					return "", false, nil
				}
				return s.decodeLine()
			}
			err = s.refill(s.buf.End())

		case scan.PartialMatch:
			s.appendLine(s.buf.Bytes()[s.buf.Pos():span.Start])
			s.buf.SkipTo(span.Start)
			err = s.refill(span.Start)

		case scan.Match:
			s.appendLine(s.buf.Bytes()[s.buf.Pos():span.Start])
			s.buf.SkipTo(span.End)
			return s.decodeLine()

		default:
			return "", false, errors.Unreachable("read line")
		}
		if err != nil {
			return "", false, err
		}
	}
}

// appendLine appends to the line buffer, growing it geometrically.
func (s *Stream) appendLine(b []byte) {
	need := len(s.line) + len(b)
	if need > cap(s.line) {
		size := max(need, 2*cap(s.line), minLineBufferSize)
		line := make([]byte, len(s.line), size)
		copy(line, s.line)
		s.line = line
	}
	s.line = append(s.line, b...)
}

func (s *Stream) decodeLine() (string, bool, error) {
	str, err := s.Encoding().Decode(s.line)
	if err != nil {
		return "", false, err
	}
	return str, true, nil
}

// ReadFirstNonEmptyLine skips empty lines and returns the first non-empty one.
func (s *Stream) ReadFirstNonEmptyLine() (string, error) {
	for {
		line, ok, err := s.ReadLine()
		switch {
		case err != nil:
			return "", err
		case !ok:
			return "", errors.MalformedFraming.With("unexpected end of input")
		case line != "":
			return line, nil
		}
	}
}

// ReadHeaders reads name: value lines up to the first empty line or the end of
// the input.
func (s *Stream) ReadHeaders() (*Headers, error) {
	h := NewHeaders()
	for {
		line, ok, err := s.ReadLine()
		if err != nil {
			return nil, err
		}
		if !ok || line == "" {
			return h, nil
		}

		name, value, err := parseHeaderLine(line)
		if err != nil {
			return nil, err
		}
		err = h.Add(name, value)
		if err != nil {
			return nil, err
		}
	}
}

// ProcessPartHeader reads and validates a part's header block. If the part is
// a changeset, the changeset boundary and encoding become active.
func (s *Stream) ProcessPartHeader() (isChangeset bool, headers *Headers, err error) {
	headers, err = s.ReadHeaders()
	if err != nil {
		return false, nil, err
	}

	isChangeset, err = validatePartHeaders(headers, s.changeset != nil)
	if err != nil || !isChangeset {
		return false, headers, err
	}

	r, err := mediatype.Parse(headers.Get(HeaderContentType), mediatype.KindBatch)
	if err != nil {
		return false, nil, err
	}

	enc := r.Encoding
	if enc == nil {
		enc, err = s.detectEncoding()
		if err != nil {
			return false, nil, err
		}
	}
	err = charset.ValidateForBatch(enc)
	if err != nil {
		return false, nil, err
	}

	s.changeset = &changeset{r.Boundary, enc}
	s.logger.Debug("Entered changeset", "boundary", r.Boundary, "encoding", enc)
	return true, headers, nil
}

// ResetChangesetBoundary leaves the current changeset, so that only the batch
// boundary is scanned for.
func (s *Stream) ResetChangesetBoundary() error {
	if s.changeset == nil {
		return errors.InternalError.With("no changeset is active")
	}
	s.logger.Debug("Left changeset", "boundary", s.changeset.boundary)
	s.changeset = nil
	return nil
}
