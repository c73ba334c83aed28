// Copyright 2024 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package batch

import (
	"io"
	"strconv"
	"strings"

	"gitlab.com/accumulatenetwork/odatabatch/pkg/errors"
)

const httpVersion = "HTTP/1.1"

var validMethods = map[string]bool{
	"GET":    true,
	"POST":   true,
	"PUT":    true,
	"PATCH":  true,
	"MERGE":  true,
	"DELETE": true,
}

// Request is an HTTP request embedded in an operation part.
type Request struct {
	Method    string
	URL       string
	Proto     string
	Header    *Headers
	ContentID string
	Body      io.Reader
}

// Response is an HTTP response embedded in an operation part.
type Response struct {
	Proto      string
	StatusCode int
	Status     string
	Header     *Headers
	ContentID  string
	Body       io.Reader
}

func (r *Reader) readOperation(partHeader *Headers) (*Part, error) {
	line, err := r.stream.ReadFirstNonEmptyLine()
	if err != nil {
		return nil, err
	}

	part := &Part{Kind: PartOperation, Header: partHeader}
	if r.opts.Responses {
		part.Response, err = parseResponseLine(line)
	} else {
		part.Request, err = parseRequestLine(line)
	}
	if err != nil {
		return nil, err
	}

	header, err := r.stream.ReadHeaders()
	if err != nil {
		return nil, err
	}

	contentID, _, err := header.Lookup(HeaderContentID)
	if err != nil {
		return nil, err
	}
	if contentID == "" {
		contentID = partHeader.Get(HeaderContentID)
	}

	body, err := r.newBody(header)
	if err != nil {
		return nil, err
	}
	r.body = body

	if req := part.Request; req != nil {
		_, inChangeset := r.stream.ChangesetBoundary()
		if inChangeset && req.Method == "GET" {
			return nil, errors.MalformedHeader.WithFormat("%s requests are not allowed in a changeset", req.Method)
		}
		if inChangeset && contentID != "" {
			if _, ok := r.contentIDs[contentID]; ok {
				return nil, errors.MalformedHeader.WithFormat("duplicate %s %q in changeset", HeaderContentID, contentID)
			}
			r.contentIDs[contentID] = struct{}{}
		}
		req.Header, req.ContentID, req.Body = header, contentID, body
	} else {
		res := part.Response
		res.Header, res.ContentID, res.Body = header, contentID, body
	}
	return part, nil
}

func parseRequestLine(line string) (*Request, error) {
	fields := strings.Split(line, " ")
	if len(fields) != 3 || fields[1] == "" {
		return nil, errors.MalformedHeader.WithFormat("invalid request line %q", line)
	}

	req := &Request{Method: fields[0], URL: fields[1], Proto: fields[2]}
	if !validMethods[req.Method] {
		return nil, errors.MalformedHeader.WithFormat("invalid HTTP method %q", req.Method)
	}
	if req.Proto != httpVersion {
		return nil, errors.MalformedHeader.WithFormat("invalid HTTP version %q, expected %s", req.Proto, httpVersion)
	}
	return req, nil
}

func parseResponseLine(line string) (*Response, error) {
	fields := strings.SplitN(line, " ", 3)
	if len(fields) != 3 {
		return nil, errors.MalformedHeader.WithFormat("invalid response line %q", line)
	}

	res := &Response{Proto: fields[0], Status: fields[2]}
	if res.Proto != httpVersion {
		return nil, errors.MalformedHeader.WithFormat("invalid HTTP version %q, expected %s", res.Proto, httpVersion)
	}

	code, err := strconv.Atoi(fields[1])
	if err != nil || code < 100 || code > 999 {
		return nil, errors.MalformedHeader.WithFormat("invalid status code %q", fields[1])
	}
	res.StatusCode = code
	return res, nil
}

// body reads an operation body, bounded by the declared Content-Length if
// there is one and by the next boundary otherwise.
type body struct {
	r         *Reader
	gen       uint64
	remaining int64
	done      bool
}

func (r *Reader) newBody(header *Headers) (*body, error) {
	b := &body{r: r, gen: r.gen, remaining: -1}

	v, ok, err := header.Lookup(HeaderContentLength)
	if err != nil || !ok {
		return b, err
	}

	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return nil, errors.MalformedHeader.WithFormat("invalid %s %q", HeaderContentLength, v)
	}
	b.remaining = n
	return b, nil
}

func (b *body) Read(p []byte) (int, error) {
	if b.gen != b.r.gen {
		return 0, errors.BadRequest.With("the reader has moved past this part")
	}
	if b.r.err != nil {
		return 0, b.r.err
	}
	if b.done {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}

	if b.remaining < 0 {
		n, err := b.r.stream.ReadWithDelimiter(p)
		if err != nil {
			b.r.fail(err)
			return n, err
		}
		if n == 0 {
			b.done = true
			return 0, io.EOF
		}
		return n, nil
	}

	if b.remaining == 0 {
		b.done = true
		return 0, io.EOF
	}
	if int64(len(p)) > b.remaining {
		p = p[:b.remaining]
	}
	n, err := b.r.stream.ReadWithLength(p)
	b.remaining -= int64(n)
	if err != nil {
		b.r.fail(err)
		return n, err
	}
	return n, nil
}

// discard skips the unread remainder of a length-bounded body. The remainder
// may contain bytes that look like a boundary, so it cannot be scanned.
func (b *body) discard() error {
	if b.done || b.remaining <= 0 {
		return nil
	}

	buf := copyBuffers.Get()
	defer copyBuffers.Put(buf)
	for b.remaining > 0 {
		n, err := b.r.stream.ReadWithLength(buf[:min(int64(len(buf)), b.remaining)])
		b.remaining -= int64(n)
		if err != nil {
			return err
		}
	}
	b.done = true
	return nil
}
