// Copyright 2024 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package batch

import (
	"bytes"
	"context"
	"io"

	"gitlab.com/accumulatenetwork/odatabatch/internal/util/pool"
	"gitlab.com/accumulatenetwork/odatabatch/pkg/batch/mediatype"
	"gitlab.com/accumulatenetwork/odatabatch/pkg/errors"
)

var copyBuffers = pool.NewBytes(4096)

// NewReaderContext reads all of src into memory and then returns a reader over
// the buffered payload. Parsing itself is synchronous. If ctx is done before
// src has been read, NewReaderContext returns ctx.Err(); the pending read is
// abandoned and src should be closed by the caller to release it.
func NewReaderContext(ctx context.Context, src io.Reader, contentType string, opts Options) (*Reader, error) {
	ct, err := mediatype.Parse(contentType, mediatype.KindBatch)
	if err != nil {
		return nil, err
	}

	type result struct {
		b   []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		b, err := io.ReadAll(src)
		done <- result{b, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		if res.err != nil {
			return nil, errors.UnknownError.WithCauseAndFormat(res.err, "buffer batch payload")
		}
		return NewReaderWithBoundary(bytes.NewReader(res.b), ct.Boundary, ct.Encoding, opts), nil
	}
}

// ReadAll reads every remaining part. Operation bodies are read into memory
// and replaced by readers over the buffered bytes.
func ReadAll(r *Reader) ([]*Part, error) {
	buf := copyBuffers.Get()
	defer copyBuffers.Put(buf)

	var parts []*Part
	for {
		part, err := r.Next()
		switch {
		case err == io.EOF:
			return parts, nil
		case err != nil:
			return parts, err
		}

		var body *io.Reader
		switch {
		case part.Request != nil:
			body = &part.Request.Body
		case part.Response != nil:
			body = &part.Response.Body
		}
		if body != nil {
			b := new(bytes.Buffer)
			_, err = io.CopyBuffer(struct{ io.Writer }{b}, *body, buf)
			if err != nil {
				return parts, err
			}
			*body = bytes.NewReader(b.Bytes())
		}
		parts = append(parts, part)
	}
}
