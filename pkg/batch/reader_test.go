// Copyright 2024 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package batch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/require"
	"gitlab.com/accumulatenetwork/odatabatch/internal/logging"
	"gitlab.com/accumulatenetwork/odatabatch/pkg/errors"
)

const batchContentType = "multipart/mixed; boundary=batch_36522ad7"

func newTestReader(t testing.TB, src io.Reader, opts Options) *Reader {
	t.Helper()
	opts.Logger = logging.NewTestLogger(t)
	r, err := NewReader(src, batchContentType, opts)
	require.NoError(t, err)
	return r
}

// summarize describes the parts read by ReadAll.
func summarize(t testing.TB, parts []*Part) []string {
	var out []string
	for _, part := range parts {
		switch part.Kind {
		case PartChangesetStart, PartChangesetEnd:
			out = append(out, fmt.Sprintf("%v %s", part.Kind, part.Boundary))
		case PartOperation:
			if req := part.Request; req != nil {
				b, err := io.ReadAll(req.Body)
				require.NoError(t, err)
				out = append(out, fmt.Sprintf("%s %s id=%q %q", req.Method, req.URL, req.ContentID, b))
			} else {
				res := part.Response
				b, err := io.ReadAll(res.Body)
				require.NoError(t, err)
				out = append(out, fmt.Sprintf("%d %s id=%q %q", res.StatusCode, res.Status, res.ContentID, b))
			}
		}
	}
	return out
}

func TestReaderRequests(t *testing.T) {
	r := newTestReader(t, strings.NewReader(changesetPayload), Options{})

	part, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, PartOperation, part.Kind)
	require.Equal(t, "GET", part.Request.Method)
	require.Equal(t, "Customers('ALFKI')", part.Request.URL)
	require.Equal(t, "HTTP/1.1", part.Request.Proto)
	require.Equal(t, "binary", part.Header.Get(HeaderContentTransferEncoding))
	b, err := io.ReadAll(part.Request.Body)
	require.NoError(t, err)
	require.Empty(t, b)

	part, err = r.Next()
	require.NoError(t, err)
	require.Equal(t, PartChangesetStart, part.Kind)
	require.Equal(t, "changeset_77162fcd", part.Boundary)

	part, err = r.Next()
	require.NoError(t, err)
	require.Equal(t, "POST", part.Request.Method)
	require.Equal(t, "1", part.Request.ContentID)
	require.Equal(t, "application/json", part.Request.Header.Get(HeaderContentType))

	// Read the body in small pieces
	body := iotest.OneByteReader(part.Request.Body)
	b, err = io.ReadAll(body)
	require.NoError(t, err)
	require.Equal(t, `{"Name": "a--b"}`, string(b))

	part, err = r.Next()
	require.NoError(t, err)
	require.Equal(t, "PATCH", part.Request.Method)
	b, err = io.ReadAll(part.Request.Body)
	require.NoError(t, err)
	require.Equal(t, "a\r\n--changeset_77162fcd\r\nb", string(b))

	part, err = r.Next()
	require.NoError(t, err)
	require.Equal(t, PartChangesetEnd, part.Kind)
	require.Equal(t, "changeset_77162fcd", part.Boundary)
	require.Nil(t, part.Header)

	_, err = r.Next()
	require.Equal(t, io.EOF, err)
	_, err = r.Next()
	require.Equal(t, io.EOF, err)
}

func TestReaderSkipsUnreadBodies(t *testing.T) {
	r := newTestReader(t, strings.NewReader(changesetPayload), Options{})

	var kinds []PartKind
	for {
		part, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		kinds = append(kinds, part.Kind)
	}

	// The length-bounded body contains a changeset delimiter that must not be
	// mistaken for a boundary
	require.Equal(t, []PartKind{
		PartOperation,
		PartChangesetStart,
		PartOperation,
		PartOperation,
		PartChangesetEnd,
	}, kinds)
}

func TestReaderChunking(t *testing.T) {
	r := newTestReader(t, strings.NewReader(changesetPayload), Options{})
	parts, err := ReadAll(r)
	require.NoError(t, err)
	want := summarize(t, parts)
	require.Equal(t, []string{
		`GET Customers('ALFKI') id="" ""`,
		"changeset start changeset_77162fcd",
		`POST Customers id="1" "{\"Name\": \"a--b\"}"`,
		`PATCH $1 id="" "a\r\n--changeset_77162fcd\r\nb"`,
		"changeset end changeset_77162fcd",
	}, want)

	for _, size := range []int{28, 29, 47} {
		t.Run(fmt.Sprint(size), func(t *testing.T) {
			src := iotest.OneByteReader(strings.NewReader(changesetPayload))
			r := newTestReader(t, src, Options{BufferSize: size})
			parts, err := ReadAll(r)
			require.NoError(t, err)
			require.Equal(t, want, summarize(t, parts))
		})
	}
}

func TestReaderResponses(t *testing.T) {
	payload := crlf(
		"--batch_36522ad7",
		"Content-Type: application/http",
		"Content-Transfer-Encoding: binary",
		"",
		"HTTP/1.1 200 OK",
		"Content-Type: application/json",
		"",
		`{"value": []}`,
		"--batch_36522ad7",
		"Content-Type: multipart/mixed; boundary=changesetresponse_1",
		"",
		"--changesetresponse_1",
		"Content-Type: application/http",
		"Content-Transfer-Encoding: binary",
		"",
		"HTTP/1.1 204 No Content",
		"Content-ID: 1",
		"",
		"",
		"--changesetresponse_1--",
		"--batch_36522ad7--",
		"",
	)

	r := newTestReader(t, strings.NewReader(payload), Options{Responses: true})
	parts, err := ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, []string{
		`200 OK id="" "{\"value\": []}"`,
		"changeset start changesetresponse_1",
		`204 No Content id="1" ""`,
		"changeset end changesetresponse_1",
	}, summarize(t, parts))
}

func TestReaderImplicitChangesetEnd(t *testing.T) {
	payload := crlf(
		"--batch_36522ad7",
		"Content-Type: multipart/mixed; boundary=cs",
		"",
		"--cs",
		"Content-Type: application/http",
		"Content-Transfer-Encoding: binary",
		"",
		"DELETE Customers(1) HTTP/1.1",
		"",
		"",
		"--batch_36522ad7",
		"Content-Type: application/http",
		"Content-Transfer-Encoding: binary",
		"",
		"GET Customers HTTP/1.1",
		"",
		"",
		"--batch_36522ad7--",
	)

	r := newTestReader(t, strings.NewReader(payload), Options{})
	parts, err := ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, []string{
		"changeset start cs",
		`DELETE Customers(1) id="" ""`,
		"changeset end cs",
		`GET Customers id="" ""`,
	}, summarize(t, parts))
}

func TestReaderPartLimit(t *testing.T) {
	r := newTestReader(t, strings.NewReader(changesetPayload), Options{MaxPartsPerBatch: 1})
	_, err := r.Next()
	require.NoError(t, err)

	_, err = r.Next()
	require.ErrorIs(t, err, errors.LimitExceeded)

	// Errors are sticky
	_, err2 := r.Next()
	require.Same(t, err, err2)
}

func TestReaderOperationLimit(t *testing.T) {
	r := newTestReader(t, strings.NewReader(changesetPayload), Options{MaxOperationsPerChangeset: 1})
	_, err := ReadAll(r)
	require.ErrorIs(t, err, errors.LimitExceeded)

	r = newTestReader(t, strings.NewReader(changesetPayload), Options{MaxPartsPerBatch: -1, MaxOperationsPerChangeset: -1})
	parts, err := ReadAll(r)
	require.NoError(t, err)
	require.Len(t, parts, 5)
}

func TestReaderChangesetRules(t *testing.T) {
	op := func(requestLine string, headers ...string) string {
		return crlf(append([]string{
			"--cs",
			"Content-Type: application/http",
			"Content-Transfer-Encoding: binary",
			"",
			requestLine,
		}, append(headers, "", "")...)...)
	}
	changeset := func(ops ...string) string {
		return crlf(
			"--batch_36522ad7",
			"Content-Type: multipart/mixed; boundary=cs",
			"",
			strings.Join(ops, "\r\n"),
			"--cs--",
			"--batch_36522ad7--",
		)
	}

	cases := []struct {
		Name    string
		Payload string
		Status  errors.Status
	}{
		{"Duplicate Content-ID", changeset(
			op("POST Customers HTTP/1.1", "Content-ID: 1"),
			op("POST Orders HTTP/1.1", "Content-ID: 1"),
		), errors.MalformedHeader},
		{"GET in changeset", changeset(
			op("GET Customers HTTP/1.1"),
		), errors.MalformedHeader},
		{"Invalid method", changeset(
			op("FETCH Customers HTTP/1.1"),
		), errors.MalformedHeader},
		{"Nested changeset", crlf(
			"--batch_36522ad7",
			"Content-Type: multipart/mixed; boundary=cs",
			"",
			"--cs",
			"Content-Type: multipart/mixed; boundary=cs2",
			"",
			"--cs2--",
			"--cs--",
			"--batch_36522ad7--",
		), errors.NestedChangeset},
	}
	for _, c := range cases {
		t.Run(c.Name, func(t *testing.T) {
			r := newTestReader(t, strings.NewReader(c.Payload), Options{})
			_, err := ReadAll(r)
			require.ErrorIs(t, err, c.Status)
		})
	}

	// Content-IDs are scoped to their changeset
	first := changeset(op("POST Customers HTTP/1.1", "Content-ID: 1"))
	second := changeset(op("POST Orders HTTP/1.1", "Content-ID: 1"))
	r := newTestReader(t, strings.NewReader(strings.Replace(first, "--batch_36522ad7--", second, 1)), Options{})
	_, err := ReadAll(r)
	require.NoError(t, err)
}

func TestReaderTruncated(t *testing.T) {
	payload := crlf(
		"--batch_36522ad7",
		"Content-Type: application/http",
		"Content-Transfer-Encoding: binary",
		"",
		"GET Customers HTTP/1.1",
		"",
		"",
	)
	r := newTestReader(t, strings.NewReader(payload), Options{})
	_, err := ReadAll(r)
	require.ErrorIs(t, err, errors.MalformedFraming)
	require.Contains(t, err.Error(), "batch_36522ad7")

	// Inside a changeset the changeset boundary is reported
	payload = crlf(
		"--batch_36522ad7",
		"Content-Type: multipart/mixed; boundary=cs",
		"",
		"--cs",
		"Content-Type: application/http",
		"Content-Transfer-Encoding: binary",
		"",
		"POST Customers HTTP/1.1",
		"",
		"{}",
	)
	r = newTestReader(t, strings.NewReader(payload), Options{})
	_, err = ReadAll(r)
	require.ErrorIs(t, err, errors.MalformedFraming)
	require.Contains(t, err.Error(), `changeset "cs"`)
}

func TestReaderSourceTruncated(t *testing.T) {
	// A source that ends early with io.ErrUnexpectedEOF, such as a
	// decompressor, is reported as a framing error
	for _, n := range []int{40, 200, len(changesetPayload) - 20} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			src := io.MultiReader(strings.NewReader(changesetPayload[:n]), iotest.ErrReader(io.ErrUnexpectedEOF))
			r := newTestReader(t, src, Options{BufferSize: 64})
			_, err := ReadAll(r)
			require.Error(t, err)
			require.Equal(t, errors.MalformedFraming, errors.Code(err))

			_, again := r.Next()
			require.Same(t, err, again)
		})
	}
}

func TestReaderModuleLevels(t *testing.T) {
	cases := []struct {
		Levels  string
		Modules []string
	}{
		{"error;scan=debug", []string{"scan"}},
		{"error;reader=debug", []string{"reader"}},
		{"debug", []string{"reader", "scan"}},
		{"error", nil},
	}

	for _, c := range cases {
		t.Run(c.Levels, func(t *testing.T) {
			buf := new(bytes.Buffer)
			logger, err := logging.NewLogger(c.Levels, "json", buf)
			require.NoError(t, err)

			r, err := NewReader(strings.NewReader(changesetPayload), batchContentType, Options{Logger: logger})
			require.NoError(t, err)
			_, err = ReadAll(r)
			require.NoError(t, err)

			seen := map[string]bool{}
			for _, line := range strings.Split(buf.String(), "\n") {
				if line == "" {
					continue
				}
				var record struct {
					Module string `json:"module"`
				}
				require.NoError(t, json.Unmarshal([]byte(line), &record), line)
				seen[record.Module] = true
			}

			var modules []string
			for m := range seen {
				modules = append(modules, m)
			}
			sort.Strings(modules)
			require.Equal(t, c.Modules, modules)
		})
	}
}

func TestReaderLengthLied(t *testing.T) {
	payload := crlf(
		"--batch_36522ad7",
		"Content-Type: application/http",
		"Content-Transfer-Encoding: binary",
		"",
		"POST Customers HTTP/1.1",
		"Content-Length: 100",
		"",
		"{}",
		"--batch_36522ad7--",
	)
	r := newTestReader(t, strings.NewReader(payload), Options{})
	part, err := r.Next()
	require.NoError(t, err)

	_, err = io.ReadAll(part.Request.Body)
	require.ErrorIs(t, err, errors.MalformedFraming)

	// The failure ends the read
	_, err2 := r.Next()
	require.Same(t, err, err2)
}

func TestReaderInvalidContentLength(t *testing.T) {
	payload := crlf(
		"--batch_36522ad7",
		"Content-Type: application/http",
		"Content-Transfer-Encoding: binary",
		"",
		"POST Customers HTTP/1.1",
		"Content-Length: -1",
		"",
		"",
		"--batch_36522ad7--",
	)
	r := newTestReader(t, strings.NewReader(payload), Options{})
	_, err := r.Next()
	require.ErrorIs(t, err, errors.MalformedHeader)
}

func TestReaderStaleBody(t *testing.T) {
	r := newTestReader(t, strings.NewReader(changesetPayload), Options{})
	part, err := r.Next()
	require.NoError(t, err)

	_, err = r.Next()
	require.NoError(t, err)

	_, err = part.Request.Body.Read(make([]byte, 1))
	require.ErrorIs(t, err, errors.BadRequest)

	// A stale read does not break the reader
	_, err = r.Next()
	require.NoError(t, err)
}

func TestNewReaderContentType(t *testing.T) {
	_, err := NewReader(strings.NewReader(""), "application/json", Options{})
	require.ErrorIs(t, err, errors.InvalidContentType)

	_, err = NewReader(strings.NewReader(""), "multipart/mixed", Options{})
	require.ErrorIs(t, err, errors.InvalidContentType)

	_, err = NewReader(strings.NewReader(""), "multipart/mixed; charset=utf-16; boundary=b", Options{})
	require.NoError(t, err, "the encoding is validated when reading starts")
}

func TestParseRequestLine(t *testing.T) {
	req, err := parseRequestLine("MERGE Customers(1) HTTP/1.1")
	require.NoError(t, err)
	require.Equal(t, "MERGE", req.Method)
	require.Equal(t, "Customers(1)", req.URL)

	for _, line := range []string{
		"GET Customers",
		"GET  Customers HTTP/1.1",
		"GET Customers HTTP/1.0",
		"get Customers HTTP/1.1",
		"GET Customers HTTP/1.1 extra",
	} {
		_, err := parseRequestLine(line)
		require.ErrorIs(t, err, errors.MalformedHeader, line)
	}
}

func TestParseResponseLine(t *testing.T) {
	res, err := parseResponseLine("HTTP/1.1 404 Not Found")
	require.NoError(t, err)
	require.Equal(t, 404, res.StatusCode)
	require.Equal(t, "Not Found", res.Status)

	for _, line := range []string{
		"HTTP/1.1 200",
		"HTTP/1.0 200 OK",
		"HTTP/1.1 abc OK",
		"HTTP/1.1 42 Odd",
	} {
		_, err := parseResponseLine(line)
		require.ErrorIs(t, err, errors.MalformedHeader, line)
	}
}

type countingObserver struct {
	bytes   int
	refills int
	parts   map[PartKind]int
}

func (o *countingObserver) Refilled(n int) {
	o.refills++
	o.bytes += n
}

func (o *countingObserver) PartRead(kind PartKind) {
	if o.parts == nil {
		o.parts = map[PartKind]int{}
	}
	o.parts[kind]++
}

func TestReaderObserver(t *testing.T) {
	obs := new(countingObserver)
	r := newTestReader(t, iotest.OneByteReader(strings.NewReader(changesetPayload)), Options{Observer: obs})
	_, err := ReadAll(r)
	require.NoError(t, err)

	require.Equal(t, map[PartKind]int{
		PartOperation:      3,
		PartChangesetStart: 1,
		PartChangesetEnd:   1,
	}, obs.parts)
	require.Equal(t, r.Stream().Refills(), obs.refills)

	// Reading stops at the end boundary, before the epilogue
	require.Equal(t, len(changesetPayload)-len("epilogue"), obs.bytes)
}
