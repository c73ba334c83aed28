// Copyright 2024 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package metrics

import (
	"bytes"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"gitlab.com/accumulatenetwork/odatabatch/pkg/batch"
	"gitlab.com/accumulatenetwork/odatabatch/pkg/errors"
)

const payload = "--batch_1\r\n" +
	"Content-Type: application/http\r\n" +
	"Content-Transfer-Encoding: binary\r\n" +
	"\r\n" +
	"GET Customers HTTP/1.1\r\n" +
	"\r\n" +
	"\r\n" +
	"--batch_1--\r\n"

func TestRecorder(t *testing.T) {
	rec := New()
	r, err := batch.NewReader(strings.NewReader(payload), "multipart/mixed; boundary=batch_1", batch.Options{
		BufferSize: 16,
		Observer:   rec,
	})
	require.NoError(t, err)

	_, err = batch.ReadAll(r)
	rec.Finished(err)
	require.NoError(t, err)

	require.Equal(t, 1.0, testutil.ToFloat64(rec.parts.WithLabelValues("operation")))
	require.Equal(t, float64(len(payload)), testutil.ToFloat64(rec.bytesRead))
	require.Less(t, 1.0, testutil.ToFloat64(rec.refills))
	require.Equal(t, 1.0, testutil.ToFloat64(rec.batches))

	rec.Finished(errors.NestedChangeset.With("nested"))
	require.Equal(t, 1.0, testutil.ToFloat64(rec.failures.WithLabelValues("nested changeset")))

	buf := new(bytes.Buffer)
	require.NoError(t, rec.WriteText(buf))
	require.Contains(t, buf.String(), `odatabatch_reader_parts_total{kind="operation"} 1`)
	require.Contains(t, buf.String(), `odatabatch_reader_batches_total 1`)
}
