// Copyright 2024 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package batch

import (
	"context"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/require"
	"gitlab.com/accumulatenetwork/odatabatch/pkg/errors"
)

func TestNewReaderContext(t *testing.T) {
	r, err := NewReaderContext(context.Background(), iotest.HalfReader(strings.NewReader(changesetPayload)), batchContentType, Options{})
	require.NoError(t, err)

	parts, err := ReadAll(r)
	require.NoError(t, err)
	require.Len(t, parts, 5)

	// Buffered bodies can be read after the reader has moved on
	b, err := io.ReadAll(parts[2].Request.Body)
	require.NoError(t, err)
	require.Equal(t, `{"Name": "a--b"}`, string(b))
}

func TestNewReaderContextCanceled(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewReaderContext(ctx, pr, batchContentType, Options{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewReaderContextErrors(t *testing.T) {
	_, err := NewReaderContext(context.Background(), strings.NewReader(""), "text/plain", Options{})
	require.ErrorIs(t, err, errors.InvalidContentType)

	_, err = NewReaderContext(context.Background(), iotest.ErrReader(iotest.ErrTimeout), batchContentType, Options{})
	require.Error(t, err)
	require.Equal(t, errors.UnknownError, errors.Code(err))
}

func TestReadAllStopsOnError(t *testing.T) {
	payload := strings.Replace(changesetPayload, "PATCH $1 HTTP/1.1", "GET $1 HTTP/1.1", 1)
	r := newTestReader(t, strings.NewReader(payload), Options{})
	parts, err := ReadAll(r)
	require.ErrorIs(t, err, errors.MalformedHeader)

	// The parts before the failure are returned
	require.Len(t, parts, 3)
}
