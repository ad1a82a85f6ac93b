package wire

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Framing constants.
const (
	// DefaultMaxLineSize is the default maximum line size (1 MiB).
	DefaultMaxLineSize = 1 << 20

	// readChunkSize is the size of a single read from the underlying stream.
	readChunkSize = 2048
)

// Framing errors.
var (
	// ErrLineTooLong indicates a line exceeded the maximum size and was dropped.
	ErrLineTooLong = errors.New("line too long")
)

// Heartbeat and handshake tokens.
const (
	// TokenPing is the heartbeat sent by servers.
	TokenPing = "ping"

	// TokenHeartbeat is the short heartbeat, used in both directions.
	TokenHeartbeat = "."

	// TokenError prefixes a handshake rejection.
	TokenError = "error"
)

// LineKind classifies a received line.
type LineKind uint8

const (
	// LineOther is any line the client does not act on.
	LineOther LineKind = iota

	// LineHeartbeat is a server heartbeat that must be answered.
	LineHeartbeat

	// LineError is a server error line (handshake rejection).
	LineError

	// LineJSON is a JSON object: a handshake ack or a channel event.
	LineJSON
)

// String returns the line kind name.
func (k LineKind) String() string {
	switch k {
	case LineOther:
		return "OTHER"
	case LineHeartbeat:
		return "HEARTBEAT"
	case LineError:
		return "ERROR"
	case LineJSON:
		return "JSON"
	default:
		return "UNKNOWN"
	}
}

// Classify returns the kind of a received line without decoding it.
func Classify(line string) LineKind {
	switch {
	case strings.HasPrefix(line, "{"):
		return LineJSON
	case strings.HasPrefix(line, TokenPing), strings.HasPrefix(line, TokenHeartbeat):
		return LineHeartbeat
	case strings.HasPrefix(line, TokenError):
		return LineError
	default:
		return LineOther
	}
}

// Splitter turns a stream of byte chunks into complete lines.
// A line is complete only once its terminating newline has been seen; the
// incomplete tail of a chunk is kept until the next Feed.
// A line longer than the maximum size is dropped up to and including its
// newline and reported once as ErrLineTooLong; the lines around it are kept.
// Splitter is not safe for concurrent use.
type Splitter struct {
	buf         []byte
	maxLineSize int

	// discarding is set while the remainder of an oversized line is skipped.
	discarding bool
}

// NewSplitter creates a splitter with the default maximum line size.
func NewSplitter() *Splitter {
	return NewSplitterWithMaxSize(DefaultMaxLineSize)
}

// NewSplitterWithMaxSize creates a splitter with a custom maximum line size.
func NewSplitterWithMaxSize(maxSize int) *Splitter {
	if maxSize <= 0 {
		maxSize = DefaultMaxLineSize
	}
	return &Splitter{maxLineSize: maxSize}
}

// Feed appends a chunk and returns all lines completed by it.
// Line terminators and a trailing '\r' are removed; empty lines are dropped.
// The returned lines are valid even when ErrLineTooLong is returned.
func (s *Splitter) Feed(chunk []byte) ([]string, error) {
	s.buf = append(s.buf, chunk...)

	var lines []string
	var tooLong error
	for {
		idx := bytes.IndexByte(s.buf, '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimSuffix(s.buf[:idx], []byte{'\r'})
		s.buf = s.buf[idx+1:]

		switch {
		case s.discarding:
			s.discarding = false
		case len(line) > s.maxLineSize:
			tooLong = fmt.Errorf("%w: %d > %d", ErrLineTooLong, len(line), s.maxLineSize)
		case len(line) > 0:
			lines = append(lines, string(line))
		}
	}

	switch {
	case s.discarding:
		s.buf = nil
	case len(s.buf) > s.maxLineSize:
		tooLong = fmt.Errorf("%w: %d > %d", ErrLineTooLong, len(s.buf), s.maxLineSize)
		s.buf = nil
		s.discarding = true
	case len(s.buf) == 0:
		// Release the backing array once everything has been consumed.
		s.buf = nil
	}
	return lines, tooLong
}

// Pending returns the number of buffered bytes not yet forming a line.
func (s *Splitter) Pending() int {
	return len(s.buf)
}

// Reset discards any buffered partial line.
func (s *Splitter) Reset() {
	s.buf = nil
	s.discarding = false
}

// LineReader reads complete lines from an underlying reader.
type LineReader struct {
	r        io.Reader
	splitter *Splitter
	chunk    []byte
	queue    []string
}

// NewLineReader creates a line reader with the default maximum line size.
func NewLineReader(r io.Reader) *LineReader {
	return NewLineReaderWithMaxSize(r, DefaultMaxLineSize)
}

// NewLineReaderWithMaxSize creates a line reader with a custom maximum line size.
func NewLineReaderWithMaxSize(r io.Reader, maxSize int) *LineReader {
	return &LineReader{
		r:        r,
		splitter: NewSplitterWithMaxSize(maxSize),
		chunk:    make([]byte, readChunkSize),
	}
}

// ReadLine returns the next complete line.
// A partial line left at end of stream is discarded and io.EOF returned.
// ErrLineTooLong is not fatal: the oversized line has been dropped and the
// next call continues with the line after it.
func (lr *LineReader) ReadLine() (string, error) {
	for len(lr.queue) == 0 {
		n, err := lr.r.Read(lr.chunk)
		if n > 0 {
			lines, ferr := lr.splitter.Feed(lr.chunk[:n])
			lr.queue = append(lr.queue, lines...)
			if ferr != nil {
				return "", ferr
			}
		}
		if err != nil {
			if len(lr.queue) > 0 {
				break
			}
			return "", err
		}
	}

	line := lr.queue[0]
	lr.queue = lr.queue[1:]
	return line, nil
}
