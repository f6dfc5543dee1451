package frame

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
)

// ErrConnectionClosed is returned when the connection is closed
// before a complete frame arrived. Bytes buffered after the last
// delimiter never became a frame and are discarded.
type ErrConnectionClosed struct{}

func (e *ErrConnectionClosed) Error() string {
	return "connection closed"
}

func IsConnectionClosed(err error) bool {
	_, ok := err.(*ErrConnectionClosed)
	return ok
}

// ErrReadTimeout is returned when a read deadline expires before a
// complete frame arrived. Partial bytes stay buffered and a later
// read can complete the frame.
type ErrReadTimeout struct{}

func (e *ErrReadTimeout) Error() string {
	return "read timed out"
}

func IsReadTimeout(err error) bool {
	_, ok := err.(*ErrReadTimeout)
	return ok
}

// Reader reads newline-delimited frames from a stream.
type Reader struct {
	r       *bufio.Reader
	pending string
}

// NewReader creates a new frame reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{
		r: bufio.NewReader(r),
	}
}

// ReadFrame reads the next frame, blocking until the delimiter arrives.
// The trailing newline and a carriage return directly before it are
// stripped; everything else is returned byte for byte.
func (r *Reader) ReadFrame() (string, error) {
	line, err := r.r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
			return "", &ErrConnectionClosed{}
		}
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			r.pending += line
			return "", &ErrReadTimeout{}
		}
		return "", fmt.Errorf("failed to read frame: %v", err)
	}

	if r.pending != "" {
		line = r.pending + line
		r.pending = ""
	}

	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")

	return line, nil
}

// Writer writes newline-delimited frames to a stream.
type Writer struct {
	w *bufio.Writer
}

// NewWriter creates a new frame writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		w: bufio.NewWriter(w),
	}
}

// WriteFrame writes text followed by exactly one newline and flushes,
// so the frame is on the wire when the call returns.
func (w *Writer) WriteFrame(text string) error {
	if _, err := w.w.WriteString(text); err != nil {
		return fmt.Errorf("failed to write frame: %v", err)
	}

	if err := w.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write frame delimiter: %v", err)
	}

	if err := w.w.Flush(); err != nil {
		if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
			return &ErrConnectionClosed{}
		}
		return fmt.Errorf("failed to flush frame: %v", err)
	}

	return nil
}
