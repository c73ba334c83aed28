// Copyright 2024 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

// Package mediatype resolves Content-Type headers against the payload kinds a
// reader is prepared to accept.
package mediatype

import (
	"mime"
	"strings"

	"gitlab.com/accumulatenetwork/odatabatch/pkg/batch/charset"
	"gitlab.com/accumulatenetwork/odatabatch/pkg/errors"
)

const (
	ApplicationHTTP   = "application/http"
	MultipartMixed    = "multipart/mixed"
	ApplicationJSON   = "application/json"
	ApplicationAtom   = "application/atom+xml"
	ApplicationXML    = "application/xml"
	TextPlain         = "text/plain"
	ApplicationBinary = "application/octet-stream"
)

// PayloadKind identifies what a payload carries.
type PayloadKind int

const (
	KindBatch PayloadKind = iota + 1
	KindFeed
	KindEntry
	KindProperty
	KindValue
	KindBinaryValue
)

func (k PayloadKind) String() string {
	switch k {
	case KindBatch:
		return "batch"
	case KindFeed:
		return "feed"
	case KindEntry:
		return "entry"
	case KindProperty:
		return "property"
	case KindValue:
		return "value"
	case KindBinaryValue:
		return "binary value"
	default:
		return "unknown"
	}
}

// supported lists the media types each payload kind accepts.
var supported = map[PayloadKind][]string{
	KindBatch:       {MultipartMixed},
	KindFeed:        {ApplicationAtom, ApplicationJSON},
	KindEntry:       {ApplicationAtom, ApplicationJSON},
	KindProperty:    {ApplicationXML, ApplicationJSON},
	KindValue:       {TextPlain},
	KindBinaryValue: {ApplicationBinary},
}

// MediaType is a parsed media type.
type MediaType struct {
	Type       string
	Subtype    string
	Parameters map[string]string
}

func (m MediaType) String() string {
	return mime.FormatMediaType(m.FullType(), m.Parameters)
}

// FullType returns type/subtype.
func (m MediaType) FullType() string { return m.Type + "/" + m.Subtype }

// Is returns true if the type and subtype equal fullType, ignoring case.
func (m MediaType) Is(fullType string) bool {
	return strings.EqualFold(m.FullType(), fullType)
}

// Result is the outcome of resolving a Content-Type header.
type Result struct {
	MediaType MediaType
	Kind      PayloadKind

	// Encoding is the declared charset, or nil if none was declared.
	Encoding *charset.Encoding

	// Boundary is the multipart boundary; it is only set for batch payloads.
	Boundary string
}

// ParseMediaType parses a media type without resolving it to a payload kind.
func ParseMediaType(s string) (MediaType, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return MediaType{}, errors.InvalidContentType.With("content type is empty")
	}

	full, params, err := mime.ParseMediaType(s)
	if err != nil {
		return MediaType{}, errors.InvalidContentType.WithCauseAndFormat(err, "parse content type %q", s)
	}

	typ, sub, ok := strings.Cut(full, "/")
	if !ok || typ == "" || sub == "" {
		return MediaType{}, errors.InvalidContentType.WithFormat("content type %q has no subtype", s)
	}
	return MediaType{typ, sub, params}, nil
}

// Parse resolves contentType against the given payload kinds. Exactly one kind
// must accept the media type. A batch media type must carry a boundary.
func Parse(contentType string, kinds ...PayloadKind) (*Result, error) {
	mt, err := ParseMediaType(contentType)
	if err != nil {
		return nil, err
	}

	var matched []PayloadKind
	for _, kind := range kinds {
		for _, s := range supported[kind] {
			if mt.Is(s) {
				matched = append(matched, kind)
				break
			}
		}
	}

	switch len(matched) {
	case 0:
		return nil, errors.InvalidContentType.WithFormat("content type %q does not match any of %v", mt.FullType(), kinds)
	case 1:
	default:
		return nil, errors.InvalidContentType.WithFormat("content type %q is ambiguous between %v", mt.FullType(), matched)
	}

	r := &Result{MediaType: mt, Kind: matched[0]}
	if name, ok := mt.Parameters["charset"]; ok {
		r.Encoding, err = charset.Lookup(name)
		if err != nil {
			return nil, err
		}
	}

	if r.Kind == KindBatch {
		r.Boundary = mt.Parameters["boundary"]
		if r.Boundary == "" {
			return nil, errors.InvalidContentType.WithFormat("batch content type %q has no boundary parameter", contentType)
		}
		if len(r.Boundary) > 70 {
			return nil, errors.InvalidContentType.WithFormat("boundary %q is longer than 70 characters", r.Boundary)
		}
	}
	return r, nil
}
