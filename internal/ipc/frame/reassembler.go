package frame

import (
	"bytes"
	"fmt"
)

// DefaultMaxRecord caps a single pending record.
const DefaultMaxRecord = 4096

// Reassembler turns a stream of reads into frames, carrying a partial record
// over to the next Feed. A pending record growing past the cap is discarded
// up to its next delimiter and reported once as an error frame.
type Reassembler struct {
	max      int
	pending  []byte
	skipping bool
}

func NewReassembler(maxRecord int) *Reassembler {
	if maxRecord <= 0 {
		maxRecord = DefaultMaxRecord
	}
	return &Reassembler{max: maxRecord}
}

// Feed consumes p and returns the frames it completed.
func (r *Reassembler) Feed(p []byte) []Frame {
	var frames []Frame
	r.pending = append(r.pending, p...)
	for {
		i := bytes.Index(r.pending, Delimiter)
		if i < 0 {
			break
		}
		line := r.pending[:i]
		if r.skipping {
			r.skipping = false
		} else {
			frames = append(frames, decodeFrame(line))
		}
		r.pending = r.pending[i+len(Delimiter):]
	}
	// keep a trailing CR: it may be the first half of the next delimiter
	if len(r.pending) > r.max {
		if !r.skipping {
			frames = append(frames, Frame{Err: fmt.Errorf("%w: record exceeds %d bytes", ErrMalformed, r.max)})
			r.skipping = true
		}
		tail := r.pending[len(r.pending)-1:]
		if tail[0] == '\r' {
			r.pending = append(r.pending[:0], '\r')
		} else {
			r.pending = r.pending[:0]
		}
	}
	if len(r.pending) == 0 {
		r.pending = nil
	} else {
		r.pending = append([]byte(nil), r.pending...)
	}
	return frames
}

// Pending returns the number of buffered bytes without a delimiter yet.
// They are dropped when the stream ends.
func (r *Reassembler) Pending() int { return len(r.pending) }
