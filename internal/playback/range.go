package playback

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidRange  = errors.New("invalid range format")
	ErrUnsatisfiable = errors.New("range not satisfiable")
)

// Range is an inclusive byte interval of a single-part range request.
type Range struct {
	Start int64
	End   int64
}

func (r Range) Length() int64 {
	return r.End - r.Start + 1
}

func (r Range) ContentRange(total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, total)
}

// Slice returns the bytes of data the range covers.
func (r Range) Slice(data []byte) []byte {
	return data[r.Start : r.End+1]
}

// ParseRange reads a Range header against a body of the given size. An
// empty header yields nil. Only the first part of a multi-part request is
// honoured.
func ParseRange(header string, size int64) (*Range, error) {
	if header == "" {
		return nil, nil
	}
	rangeSpec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return nil, ErrInvalidRange
	}
	if first, _, multi := strings.Cut(rangeSpec, ","); multi {
		rangeSpec = first
	}
	from, to, ok := strings.Cut(strings.TrimSpace(rangeSpec), "-")
	if !ok {
		return nil, ErrInvalidRange
	}

	var r Range
	switch {
	case from == "":
		n, err := parseBound(to)
		if err != nil || n == 0 {
			return nil, ErrInvalidRange
		}
		r = Range{Start: max(size-n, 0), End: size - 1}
	default:
		start, err := parseBound(from)
		if err != nil {
			return nil, ErrInvalidRange
		}
		r = Range{Start: start, End: size - 1}
		if to != "" {
			if r.End, err = parseBound(to); err != nil {
				return nil, ErrInvalidRange
			}
		}
	}

	if r.Start > r.End || r.Start >= size {
		return nil, ErrUnsatisfiable
	}
	r.End = min(r.End, size-1)
	return &r, nil
}

func parseBound(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, ErrInvalidRange
	}
	return n, nil
}
