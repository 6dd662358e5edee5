// Package frame implements the line protocol spoken between notifiers and
// the daemon:
//
//	REFRESH <block>\r\n
//	BUTTON <n> <block>\r\n
//
// Keywords are case-insensitive and tokens may be separated by any run of
// whitespace.
package frame

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/loykin/asyncblocks/internal/block"
	"github.com/loykin/asyncblocks/internal/refresh"
)

const (
	keywordRefresh = "REFRESH"
	keywordButton  = "BUTTON"
)

// Delimiter terminates every record.
var Delimiter = []byte("\r\n")

var ErrMalformed = errors.New("malformed frame")

// Frame is one decoded record, or the error that made it undecodable.
type Frame struct {
	Request refresh.Request
	Err     error
}

// Encode returns the wire form, or nothing for an error frame.
func (f Frame) Encode() []byte {
	if f.Err != nil {
		return nil
	}
	return Encode(f.Request)
}

// Decode parses a single record without its delimiter.
func Decode(line []byte) (refresh.Request, error) {
	if !utf8.Valid(line) {
		return refresh.Request{}, fmt.Errorf("%w: invalid utf-8", ErrMalformed)
	}
	fields := strings.Fields(string(line))
	if len(fields) == 0 {
		return refresh.Request{}, fmt.Errorf("%w: empty record", ErrMalformed)
	}
	switch {
	case strings.EqualFold(fields[0], keywordRefresh) && len(fields) == 2:
		return refresh.Request{Name: fields[1], Mode: block.Normal()}, nil
	case strings.EqualFold(fields[0], keywordButton) && len(fields) == 3:
		n, err := strconv.ParseUint(fields[1], 10, 8)
		if err != nil {
			return refresh.Request{}, fmt.Errorf("%w: button %q", ErrMalformed, fields[1])
		}
		return refresh.Request{Name: fields[2], Mode: block.Button(uint8(n))}, nil
	default:
		return refresh.Request{}, fmt.Errorf("%w: %q", ErrMalformed, line)
	}
}

// Encode renders r terminated by CR LF.
func Encode(r refresh.Request) []byte {
	return AppendEncode(nil, r)
}

// AppendEncode appends the wire form of r to dst.
func AppendEncode(dst []byte, r refresh.Request) []byte {
	if n, ok := r.Mode.Clicked(); ok {
		dst = append(dst, keywordButton...)
		dst = append(dst, ' ')
		dst = strconv.AppendUint(dst, uint64(n), 10)
	} else {
		dst = append(dst, keywordRefresh...)
	}
	dst = append(dst, ' ')
	dst = append(dst, r.Name...)
	return append(dst, Delimiter...)
}

// EncodeAll concatenates the wire form of every request.
func EncodeAll(reqs []refresh.Request) []byte {
	var out []byte
	for _, r := range reqs {
		out = AppendEncode(out, r)
	}
	return out
}

// Split returns the records of data terminated by CR LF. Bytes after the
// last delimiter are not returned.
func Split(data []byte) [][]byte {
	var out [][]byte
	for {
		i := bytes.Index(data, Delimiter)
		if i < 0 {
			return out
		}
		out = append(out, data[:i])
		data = data[i+len(Delimiter):]
	}
}

// DecodeAll decodes every complete record of a self-contained buffer.
func DecodeAll(data []byte) []Frame {
	lines := Split(data)
	frames := make([]Frame, 0, len(lines))
	for _, l := range lines {
		frames = append(frames, decodeFrame(l))
	}
	return frames
}

func decodeFrame(line []byte) Frame {
	r, err := Decode(line)
	return Frame{Request: r, Err: err}
}
