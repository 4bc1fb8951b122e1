package scpi

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"
)

// frameReader assembles one terminator-delimited SCPI response from a net.Conn.
//
// Framing works on the tail of each read:
//  1. Set the read deadline to now + timeout
//  2. Read up to chunkSize bytes and append them to the frame
//  3. Stop once the bytes just read leave the frame ending with the terminator
//
// For a single-byte terminator step 3 is exactly "the last byte of this read is the terminator".
// A multi-byte terminator may straddle two reads and still completes the frame.
//
// A terminator inside a chunk that isn't its tail does not end the frame. The instrument is
// assumed never to emit a terminator inside a response field; if it does, the response is split
// at whichever read happens to end on it.
//
// frameReader is NOT goroutine-safe.
type frameReader struct {
	terminator []byte
	chunkSize  int
	maxSize    int
	timeout    time.Duration
}

func newFrameReader(cfg *ClientConfig) *frameReader {
	return &frameReader{
		terminator: []byte(cfg.terminator),
		chunkSize:  cfg.readChunkSize,
		maxSize:    cfg.maxFrameSize,
		timeout:    cfg.timeout,
	}
}

// ReadFrame reads from conn until a complete frame has arrived and returns the raw frame,
// terminator included.
//
// A zero-length read (the peer closed the connection) fails with ErrConnClosed, a read exceeding
// the timeout with ErrTimeout and any other transport failure with ErrRead. A frame growing past
// maxSize bytes also fails with ErrRead. Bytes of a partial frame are discarded on error.
func (fr *frameReader) ReadFrame(conn net.Conn) ([]byte, error) {
	chunk := make([]byte, fr.chunkSize)
	var frame []byte

	for {
		if err := conn.SetReadDeadline(time.Now().Add(fr.timeout)); err != nil {
			return nil, fmt.Errorf("%w: set read deadline: %w", ErrRead, err)
		}

		n, err := conn.Read(chunk)
		if n > 0 {
			frame = append(frame, chunk[:n]...)
			if fr.maxSize > 0 && len(frame) > fr.maxSize {
				return nil, fmt.Errorf("%w: frame exceeds %d bytes", ErrRead, fr.maxSize)
			}
			if bytes.HasSuffix(frame, fr.terminator) {
				return frame, nil
			}
		}

		if err != nil {
			return nil, classifyReadErr(err, len(frame))
		}

		if n == 0 {
			return nil, fmt.Errorf("%w: zero-length read after %d bytes", ErrConnClosed, len(frame))
		}
	}
}

func classifyReadErr(err error, buffered int) error {
	switch {
	case isTimeout(err):
		return fmt.Errorf("%w: no terminator within read timeout (%d bytes buffered): %w", ErrTimeout, buffered, err)
	case errors.Is(err, io.EOF):
		return fmt.Errorf("%w: after %d bytes: %w", ErrConnClosed, buffered, err)
	default:
		return fmt.Errorf("%w: %w", ErrRead, err)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}
