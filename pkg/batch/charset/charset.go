// Copyright 2024 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

// Package charset detects, looks up and validates the text encodings a batch
// payload may use.
package charset

import (
	"strings"
	"unicode/utf8"

	"gitlab.com/accumulatenetwork/odatabatch/pkg/errors"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/encoding/unicode/utf32"
)

// Family is the broad class of an encoding.
type Family int

const (
	FamilySingleByte Family = iota
	FamilyUTF8
	FamilyUTF16BE
	FamilyUTF16LE
	FamilyUTF32BE
	FamilyUTF32LE
	FamilyMultiByte
)

var familyNames = [...]string{
	FamilySingleByte: "single-byte",
	FamilyUTF8:       "UTF-8",
	FamilyUTF16BE:    "UTF-16BE",
	FamilyUTF16LE:    "UTF-16LE",
	FamilyUTF32BE:    "UTF-32BE",
	FamilyUTF32LE:    "UTF-32LE",
	FamilyMultiByte:  "multi-byte",
}

func (f Family) String() string {
	if f < 0 || int(f) >= len(familyNames) {
		return "unknown"
	}
	return familyNames[f]
}

// Encoding is a named text encoding.
type Encoding struct {
	Name   string
	Family Family
	enc    encoding.Encoding

	// sevenBit rejects bytes above 0x7F
	sevenBit bool
}

var (
	// Latin1 is used when a payload has no byte order mark and declares no
	// charset.
	Latin1 = &Encoding{Name: "ISO-8859-1", Family: FamilySingleByte, enc: charmap.ISO8859_1}

	// ASCII is seven-bit US-ASCII. Decoding a byte above 0x7F fails.
	ASCII = &Encoding{Name: "US-ASCII", Family: FamilySingleByte, enc: encoding.Nop, sevenBit: true}

	UTF8    = &Encoding{Name: "UTF-8", Family: FamilyUTF8, enc: unicode.UTF8}
	UTF16BE = &Encoding{Name: "UTF-16BE", Family: FamilyUTF16BE, enc: unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)}
	UTF16LE = &Encoding{Name: "UTF-16LE", Family: FamilyUTF16LE, enc: unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)}
	UTF32BE = &Encoding{Name: "UTF-32BE", Family: FamilyUTF32BE, enc: utf32.UTF32(utf32.BigEndian, utf32.IgnoreBOM)}
	UTF32LE = &Encoding{Name: "UTF-32LE", Family: FamilyUTF32LE, enc: utf32.UTF32(utf32.LittleEndian, utf32.IgnoreBOM)}
)

func (e *Encoding) String() string { return e.Name }

// IsSingleByte returns true if every character is one byte.
func (e *Encoding) IsSingleByte() bool { return e.Family == FamilySingleByte }

// Decode converts bytes in this encoding to a string.
func (e *Encoding) Decode(b []byte) (string, error) {
	if e.Family == FamilyUTF8 && utf8.Valid(b) {
		return string(b), nil
	}
	if e.sevenBit {
		for i, c := range b {
			if c >= utf8.RuneSelf {
				return "", errors.EncodingError.WithFormat("decode %s text: byte 0x%02X at offset %d is not seven-bit", e.Name, c, i)
			}
		}
		return string(b), nil
	}
	s, err := e.enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", errors.EncodingError.WithCauseAndFormat(err, "decode %s text", e.Name)
	}
	return string(s), nil
}

// Detect sniffs the encoding from a byte order mark at the start of prefix,
// which should hold at least four bytes unless the payload is shorter. A
// prefix without a byte order mark is ISO-8859-1.
func Detect(prefix []byte) *Encoding {
	if len(prefix) < 2 {
		return Latin1
	}

	switch {
	case prefix[0] == 0xFE && prefix[1] == 0xFF:
		return UTF16BE

	case prefix[0] == 0xFF && prefix[1] == 0xFE:
		if len(prefix) >= 4 && prefix[2] == 0 && prefix[3] == 0 {
			return UTF32LE
		}
		return UTF16LE

	case len(prefix) >= 3 && prefix[0] == 0xEF && prefix[1] == 0xBB && prefix[2] == 0xBF:
		return UTF8

	case len(prefix) >= 4 && prefix[0] == 0 && prefix[1] == 0 && prefix[2] == 0xFE && prefix[3] == 0xFF:
		return UTF32BE
	}
	return Latin1
}

// Lookup resolves a charset name, as declared by a Content-Type parameter.
func Lookup(name string) (*Encoding, error) {
	name = strings.TrimSpace(name)
	switch strings.ToLower(name) {
	case "":
		return nil, errors.UnsupportedEncoding.With("empty charset")
	case "us-ascii", "ascii":
		return ASCII, nil
	case "utf-8", "utf8":
		return UTF8, nil
	case "utf-16be":
		return UTF16BE, nil
	case "utf-16le", "utf-16":
		return UTF16LE, nil
	case "utf-32be":
		return UTF32BE, nil
	case "utf-32le", "utf-32":
		return UTF32LE, nil
	}

	enc, err := ianaindex.MIME.Encoding(name)
	if err != nil || enc == nil {
		return nil, errors.UnsupportedEncoding.WithFormat("unknown charset %q", name)
	}

	canonical, err := ianaindex.MIME.Name(enc)
	if err != nil {
		canonical = name
	}

	family := FamilyMultiByte
	if _, ok := enc.(*charmap.Charmap); ok {
		family = FamilySingleByte
	}
	return &Encoding{Name: canonical, Family: family, enc: enc}, nil
}

// ValidateForBatch fails unless enc is a single-byte encoding or UTF-8.
func ValidateForBatch(enc *Encoding) error {
	if enc == nil {
		return errors.InternalError.With("no encoding to validate")
	}
	switch enc.Family {
	case FamilySingleByte, FamilyUTF8:
		return nil
	}
	return errors.UnsupportedEncoding.WithFormat("multi-byte encoding %s is not supported in batch payloads", enc.Name)
}
