// Copyright 2024 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package batch

import (
	"iter"
	"strings"

	"github.com/elliotchance/orderedmap/v3"
	"gitlab.com/accumulatenetwork/odatabatch/pkg/batch/mediatype"
	"gitlab.com/accumulatenetwork/odatabatch/pkg/errors"
)

const (
	HeaderContentType             = "Content-Type"
	HeaderContentTransferEncoding = "Content-Transfer-Encoding"
	HeaderContentLength           = "Content-Length"
	HeaderContentID               = "Content-ID"

	transferEncodingBinary = "binary"
)

// Headers is a header block in the order it was read. Names are unique under
// ordinal comparison; lookups fall back to a case-insensitive match.
type Headers struct {
	m *orderedmap.OrderedMap[string, string]
}

func NewHeaders() *Headers {
	return &Headers{orderedmap.NewOrderedMap[string, string]()}
}

// Add adds a header. Adding a name that is already present fails.
func (h *Headers) Add(name, value string) error {
	if h.m.Has(name) {
		return errors.MalformedHeader.WithFormat("duplicate header %q", name)
	}
	h.m.Set(name, value)
	return nil
}

// Lookup returns the value of the named header. An exact match wins; otherwise
// exactly one case-insensitive match is required.
func (h *Headers) Lookup(name string) (string, bool, error) {
	if v, ok := h.m.Get(name); ok {
		return v, true, nil
	}

	var value string
	var found bool
	for el := h.m.Front(); el != nil; el = el.Next() {
		if !strings.EqualFold(el.Key, name) {
			continue
		}
		if found {
			return "", false, errors.MalformedHeader.WithFormat("header %q is present more than once with different case", name)
		}
		value, found = el.Value, true
	}
	return value, found, nil
}

// Get returns the value of the named header, or the empty string.
func (h *Headers) Get(name string) string {
	v, _, _ := h.Lookup(name)
	return v
}

// Len returns the number of headers.
func (h *Headers) Len() int { return h.m.Len() }

// All iterates over the headers in the order they were read.
func (h *Headers) All() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		for el := h.m.Front(); el != nil; el = el.Next() {
			if !yield(el.Key, el.Value) {
				return
			}
		}
	}
}

func (h *Headers) String() string {
	var sb strings.Builder
	for name, value := range h.All() {
		sb.WriteString(name)
		sb.WriteString(": ")
		sb.WriteString(value)
		sb.WriteString("\r\n")
	}
	return sb.String()
}

func parseHeaderLine(line string) (name, value string, err error) {
	i := strings.IndexByte(line, ':')
	if i <= 0 {
		return "", "", errors.MalformedHeader.WithFormat("invalid header line %q", line)
	}
	name = strings.TrimSpace(line[:i])
	if name == "" {
		return "", "", errors.MalformedHeader.WithFormat("invalid header line %q", line)
	}
	return name, strings.TrimSpace(line[i+1:]), nil
}

// validatePartHeaders checks the header block of a batch or changeset part and
// reports whether the part is a changeset.
func validatePartHeaders(h *Headers, inChangeset bool) (bool, error) {
	ct, ok, err := h.Lookup(HeaderContentType)
	switch {
	case err != nil:
		return false, err
	case !ok:
		return false, errors.MalformedHeader.WithFormat("part has no %s header", HeaderContentType)
	}

	mt, err := mediatype.ParseMediaType(ct)
	if err != nil {
		return false, errors.MalformedHeader.WithCauseAndFormat(err, "invalid part %s", HeaderContentType)
	}

	switch {
	case mt.Is(mediatype.ApplicationHTTP):
		te, ok, err := h.Lookup(HeaderContentTransferEncoding)
		if err != nil {
			return false, err
		}
		if !ok || !strings.EqualFold(te, transferEncodingBinary) {
			return false, errors.MalformedHeader.WithFormat("operation part must have %s: %s", HeaderContentTransferEncoding, transferEncodingBinary)
		}
		return false, nil

	case mt.Is(mediatype.MultipartMixed):
		if inChangeset {
			return false, errors.NestedChangeset.With("changesets cannot be nested")
		}
		return true, nil

	default:
		return false, errors.MalformedHeader.WithFormat("invalid part %s %q, expected %s or %s", HeaderContentType, ct, mediatype.ApplicationHTTP, mediatype.MultipartMixed)
	}
}
