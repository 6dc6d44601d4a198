package storage

import (
	"errors"
	"io"
)

// Stream is a lazy, finite, non-restartable sequence of byte chunks read
// from an open remote handle.
//
// Chunks are produced by pull-based iteration with Next and are never larger
// than the buffer size the stream was created with. The underlying handle is
// released when iteration reaches the end or when Close is called; callers
// that abandon a stream early must call Close. There is no partial-failure
// replay: on any error the whole transfer must be restarted.
type Stream struct {
	r      io.ReadCloser
	buf    []byte
	err    error
	closed bool
}

// NewStream wraps r in a Stream yielding chunks of at most bufferSize bytes.
func NewStream(r io.ReadCloser, bufferSize int) *Stream {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Stream{r: r, buf: make([]byte, bufferSize)}
}

// DefaultBufferSize is the chunk size used when the caller does not supply one.
const DefaultBufferSize = 1024

// Next returns the next chunk of the stream.
//
// The returned slice is only valid until the following call to Next. At the
// end of the stream Next closes the underlying handle and returns io.EOF.
func (s *Stream) Next() ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}

	n, err := io.ReadFull(s.r, s.buf)
	if n > 0 {
		if err != nil {
			// Short final chunk: remember termination for the next call.
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				s.err = io.EOF
			} else {
				s.err = err
			}
			s.closeOnce()
		}
		return s.buf[:n], nil
	}

	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	s.err = err
	s.closeOnce()
	return nil, s.err
}

// Close releases the underlying handle. It is safe to call multiple times
// and after iteration has completed.
func (s *Stream) Close() error {
	return s.closeOnce()
}

func (s *Stream) closeOnce() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.err == nil {
		s.err = errors.New("stream closed")
	}
	return s.r.Close()
}
