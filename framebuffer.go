package serial

import "strings"

// FrameBuffer accumulates raw bytes for one channel and splits them into
// terminator-delimited lines. The trailing fragment after the last terminator
// is kept for the next Feed. It is not safe for concurrent use.
type FrameBuffer struct {
	buf   []byte
	limit int
}

// NewFrameBuffer returns a buffer that never retains more than limit bytes.
// A non-positive limit selects DefaultBufferLimit.
func NewFrameBuffer(limit int) *FrameBuffer {
	if limit <= 0 {
		limit = DefaultBufferLimit
	}
	return &FrameBuffer{buf: make([]byte, 0, limit), limit: limit}
}

// Feed appends chunk and returns every line completed by it, trimmed of
// surrounding whitespace. Runs of '\r' and '\n' count as one terminator and
// blank lines are skipped.
//
// When the retained fragment grows past the limit only its most recent bytes
// are kept. A frame that long is already malformed; the bound only exists so a
// device that never terminates cannot grow the buffer without end.
func (f *FrameBuffer) Feed(chunk []byte) []string {
	f.buf = append(f.buf, chunk...)

	var lines []string
	start := 0
	for i := 0; i < len(f.buf); i++ {
		if !isTerminator(f.buf[i]) {
			continue
		}
		if line := strings.TrimSpace(string(f.buf[start:i])); line != "" {
			lines = append(lines, line)
		}
		for i+1 < len(f.buf) && isTerminator(f.buf[i+1]) {
			i++
		}
		start = i + 1
	}

	rest := f.buf[start:]
	if len(rest) > f.limit {
		rest = rest[len(rest)-f.limit:]
	}
	// copy down so the backing array does not keep flushed lines alive
	f.buf = append(f.buf[:0], rest...)
	return lines
}

// Buffered returns the retained, not yet terminated fragment.
func (f *FrameBuffer) Buffered() string {
	return string(f.buf)
}

// Len reports the number of retained bytes.
func (f *FrameBuffer) Len() int {
	return len(f.buf)
}

// Reset discards the retained fragment.
func (f *FrameBuffer) Reset() {
	f.buf = f.buf[:0]
}

func isTerminator(b byte) bool {
	return b == '\r' || b == '\n'
}
