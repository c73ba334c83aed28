// Copyright 2024 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package scan

// Result is the outcome of a scan.
type Result int

const (
	// NoMatch means nothing was found in the scanned region.
	NoMatch Result = iota

	// PartialMatch means a candidate runs into the end of the valid region and
	// cannot be confirmed or refuted until more bytes arrive.
	PartialMatch

	// Match means a complete line end or boundary was found.
	Match
)

func (r Result) String() string {
	switch r {
	case NoMatch:
		return "no match"
	case PartialMatch:
		return "partial match"
	case Match:
		return "match"
	default:
		return "invalid scan result"
	}
}

// Span is a half-open range of block offsets.
type Span struct {
	Start int
	End   int
}

// Boundary describes a boundary line. Start includes the line end that
// precedes the delimiter, if any; End is past the trailing line end. For a
// partial match only Start is meaningful.
type Boundary struct {
	Span

	// IsEnd is set if the delimiter is followed by "--".
	IsEnd bool

	// IsParent is set if the marker that matched is not the first, innermost
	// marker, i.e. an enclosing scope's boundary was found.
	IsParent bool
}

// ScanLineEnd looks for CR, LF or CRLF starting at the read position. A CR
// that is the last valid byte is a partial match unless the source is
// exhausted, in which case it is a bare CR line end.
func (b *Buffer) ScanLineEnd() (Result, Span) {
	end := b.End()
	for i := b.pos; i < end; i++ {
		switch b.block[i] {
		case '\n':
			return Match, Span{i, i + 1}

		case '\r':
			if i+1 == end {
				if b.exhausted {
					return Match, Span{i, i + 1}
				}
				return PartialMatch, Span{i, i + 1}
			}
			if b.block[i+1] == '\n' {
				return Match, Span{i, i + 2}
			}
			return Match, Span{i, i + 1}
		}
	}
	return NoMatch, Span{-1, -1}
}

// ScanBoundary looks for a line of the form
//
//	[line-end] "--" marker ["--"] [whitespace] line-end
//
// trying each marker in order at every candidate position. Only candidates that
// start within limit bytes of the read position are considered, although a
// candidate may extend past the limit. Once the source is exhausted the end of
// the data also terminates a boundary line.
func (b *Buffer) ScanBoundary(markers []string, limit int) (Result, Boundary) {
	end := b.End()
	last := b.pos + min(limit, b.n)
	for i := b.pos; i < last; {
		var delim int
		switch b.block[i] {
		case '\r':
			delim = i + 1
			switch {
			case delim < end && b.block[delim] == '\n':
				delim++
			case delim == end && !b.exhausted:
				// CR or CRLF
				return PartialMatch, Boundary{Span: Span{i, -1}}
			}

		case '\n':
			delim = i + 1

		case '-':
			delim = i

		default:
			i++
			continue
		}

		result, boundary := b.matchMarkers(markers, i, delim)
		if result != NoMatch {
			return result, boundary
		}

		if delim > i {
			i = delim
		} else {
			i++
		}
	}
	return NoMatch, Boundary{Span: Span{-1, -1}}
}

func (b *Buffer) matchMarkers(markers []string, start, delim int) (Result, Boundary) {
	for i, marker := range markers {
		result, end, isEnd := b.matchMarker(marker, delim)
		switch result {
		case Match:
			return Match, Boundary{Span: Span{start, end}, IsEnd: isEnd, IsParent: i > 0}
		case PartialMatch:
			return PartialMatch, Boundary{Span: Span{start, -1}}
		}
	}
	return NoMatch, Boundary{}
}

// matchMarker matches "--" marker ["--"] [whitespace] line-end at pos.
func (b *Buffer) matchMarker(marker string, pos int) (Result, int, bool) {
	end := b.End()

	// Returned when the data runs out before the line is decided
	short := PartialMatch
	if b.exhausted {
		short = NoMatch
	}

	for _, s := range [2]string{"--", marker} {
		for j := 0; j < len(s); j++ {
			if pos == end {
				return short, -1, false
			}
			if b.block[pos] != s[j] {
				return NoMatch, -1, false
			}
			pos++
		}
	}

	var isEnd bool
	if pos < end && b.block[pos] == '-' {
		switch {
		case pos+1 < end && b.block[pos+1] == '-':
			isEnd = true
			pos += 2
		case pos+1 == end && !b.exhausted:
			return PartialMatch, -1, false
		}
	}

	for pos < end && (b.block[pos] == ' ' || b.block[pos] == '\t') {
		pos++
	}

	if pos == end {
		if b.exhausted {
			return Match, pos, isEnd
		}
		return PartialMatch, -1, false
	}

	switch b.block[pos] {
	case '\n':
		return Match, pos + 1, isEnd

	case '\r':
		switch {
		case pos+1 < end && b.block[pos+1] == '\n':
			return Match, pos + 2, isEnd
		case pos+1 < end || b.exhausted:
			return Match, pos + 1, isEnd
		default:
			return PartialMatch, -1, false
		}
	}

	// Anything after an end boundary is epilogue
	if isEnd {
		return Match, pos, true
	}
	return NoMatch, -1, false
}
