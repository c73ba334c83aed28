// Copyright 2024 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package errors

import "strconv"

// Status is a batch read status code. The numbering follows HTTP status code
// classes so that a failure can be surfaced directly in a response.
type Status uint64

const (
	// OK means the operation succeeded.
	OK Status = 200

	// BadRequest means the caller supplied invalid arguments.
	BadRequest Status = 400

	// NotFound means a requested value does not exist.
	NotFound Status = 404

	// MalformedFraming means the payload is truncated or its boundaries are
	// corrupt.
	MalformedFraming Status = 410

	// MalformedHeader means a header block or a request/response line is
	// invalid.
	MalformedHeader Status = 411

	// NestedChangeset means a changeset was found inside a changeset.
	NestedChangeset Status = 412

	// UnsupportedEncoding means the payload charset is not single-byte or
	// UTF-8.
	UnsupportedEncoding Status = 413

	// InvalidContentType means a Content-Type header could not be resolved.
	InvalidContentType Status = 414

	// LimitExceeded means a part or operation quota was exceeded.
	LimitExceeded Status = 415

	// EncodingError means a value could not be decoded.
	EncodingError Status = 416

	// InternalError means an implementation invariant was violated.
	InternalError Status = 500

	// UnknownError means the cause is not known.
	UnknownError Status = 520
)

var statusNames = map[Status]string{
	OK:                  "ok",
	BadRequest:          "bad request",
	NotFound:            "not found",
	MalformedFraming:    "malformed framing",
	MalformedHeader:     "malformed header",
	NestedChangeset:     "nested changeset",
	UnsupportedEncoding: "unsupported encoding",
	InvalidContentType:  "invalid content type",
	LimitExceeded:       "limit exceeded",
	EncodingError:       "encoding error",
	InternalError:       "internal error",
	UnknownError:        "unknown error",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "status " + strconv.FormatUint(uint64(s), 10)
}

type statusType interface {
	~uint64
	error
	String() string
	IsKnownError() bool
}

// ErrorBase is a status-coded error with an optional cause and call stack.
type ErrorBase[Status statusType] struct {
	Message   string
	Code      Status
	Cause     *ErrorBase[Status]
	CallStack []*CallSite
}

// Error is the error type returned by this module.
type Error = ErrorBase[Status]

// CallSite records where an error was created or wrapped.
type CallSite struct {
	FuncName string
	File     string
	Line     int64
}
