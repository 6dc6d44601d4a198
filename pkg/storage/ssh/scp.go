package ssh

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// The download path speaks the classic scp source protocol: the remote
// side runs "scp -f <path>" and emits control lines followed by raw file
// bytes, with single-byte acknowledgements flowing the other way.
//
// Control lines are newline terminated:
//
//	Cmmmm <size> <name>   file header, followed by <size> raw bytes
//	T<mtime> 0 <atime> 0  timestamps for the next entry
//	\x01<message>         warning
//	\x02<message>         fatal error
//
// After the file bytes the source sends one status byte; zero means the
// transfer completed.

// scpChannel is the bidirectional pipe to the remote scp process. It is
// an interface so protocol tests can drive the receiver with a scripted
// peer instead of a live session.
type scpChannel interface {
	io.Reader
	io.Writer
}

type scpState int

const (
	stateAwaitControl scpState = iota
	stateReceivingData
	stateAwaitStatus
	stateClosed
)

// fileHeader holds the parsed fields of a C control line.
type fileHeader struct {
	Mode string
	Size int64
	Name string
}

// scpReceiver drives the receiving side of a single-file download. After
// Start returns the header, the receiver acts as an io.Reader over the
// file bytes; the trailing status byte is consumed and verified before
// Read reports io.EOF.
type scpReceiver struct {
	ch        scpChannel
	state     scpState
	header    fileHeader
	remaining int64
}

func newSCPReceiver(ch scpChannel) *scpReceiver {
	return &scpReceiver{ch: ch, state: stateAwaitControl}
}

// Start kicks off the exchange and reads control lines until a file
// header arrives. Timestamp lines are acknowledged and skipped.
func (r *scpReceiver) Start() (fileHeader, error) {
	if r.state != stateAwaitControl {
		return fileHeader{}, fmt.Errorf("scp: receiver already started")
	}

	if err := r.ack(); err != nil {
		return fileHeader{}, err
	}

	for {
		line, err := r.readControlLine()
		if err != nil {
			r.state = stateClosed
			return fileHeader{}, err
		}

		switch line[0] {
		case 'T':
			if err := r.ack(); err != nil {
				r.state = stateClosed
				return fileHeader{}, err
			}
		case 'C':
			header, err := parseFileHeader(line)
			if err != nil {
				r.state = stateClosed
				return fileHeader{}, err
			}
			if err := r.ack(); err != nil {
				r.state = stateClosed
				return fileHeader{}, err
			}
			r.header = header
			r.remaining = header.Size
			r.state = stateReceivingData
			if r.remaining == 0 {
				r.state = stateAwaitStatus
			}
			return header, nil
		case 'D', 'E':
			r.state = stateClosed
			return fileHeader{}, fmt.Errorf("scp: remote path is a directory")
		default:
			r.state = stateClosed
			return fileHeader{}, fmt.Errorf("scp: unexpected control byte %q", line[0])
		}
	}
}

// Read returns file bytes, never crossing the end of the declared size.
// Once the payload is exhausted the status byte is consumed; a non-zero
// status surfaces as an error instead of io.EOF.
func (r *scpReceiver) Read(p []byte) (int, error) {
	switch r.state {
	case stateReceivingData:
	case stateAwaitStatus:
		if err := r.finish(); err != nil {
			return 0, err
		}
		return 0, io.EOF
	case stateClosed:
		return 0, io.EOF
	default:
		return 0, fmt.Errorf("scp: read before header")
	}

	if int64(len(p)) > r.remaining {
		p = p[:r.remaining]
	}

	n, err := r.ch.Read(p)
	r.remaining -= int64(n)
	if r.remaining == 0 {
		r.state = stateAwaitStatus
	}
	if err != nil {
		r.state = stateClosed
		if err == io.EOF {
			return n, fmt.Errorf("scp: connection closed with %d bytes remaining: %w", r.remaining, io.ErrUnexpectedEOF)
		}
		return n, err
	}
	return n, nil
}

// finish consumes and verifies the trailing status byte.
func (r *scpReceiver) finish() error {
	status := make([]byte, 1)
	if _, err := io.ReadFull(r.ch, status); err != nil {
		r.state = stateClosed
		return fmt.Errorf("scp: read transfer status: %w", err)
	}
	r.state = stateClosed

	switch status[0] {
	case 0:
		// Best effort final acknowledgement; the remote may already
		// have gone away.
		_, _ = r.ch.Write([]byte{0})
		return nil
	case 1, 2:
		msg, _ := r.readLine()
		return fmt.Errorf("scp: remote error: %s", strings.TrimSpace(msg))
	default:
		return fmt.Errorf("scp: unexpected status byte %d", status[0])
	}
}

func (r *scpReceiver) ack() error {
	if _, err := r.ch.Write([]byte{0}); err != nil {
		return fmt.Errorf("scp: send acknowledgement: %w", err)
	}
	return nil
}

// readControlLine reads one newline-terminated line, mapping warning and
// error frames to Go errors. Reads are byte at a time so no file data is
// consumed past the newline.
func (r *scpReceiver) readControlLine() (string, error) {
	buf := make([]byte, 1)
	if _, err := io.ReadFull(r.ch, buf); err != nil {
		return "", fmt.Errorf("scp: read control byte: %w", err)
	}

	switch buf[0] {
	case 1, 2:
		msg, err := r.readLine()
		if err != nil {
			return "", err
		}
		return "", fmt.Errorf("scp: remote error: %s", strings.TrimSpace(msg))
	}

	line, err := r.readLine()
	if err != nil {
		return "", err
	}
	return string(buf[0]) + line, nil
}

func (r *scpReceiver) readLine() (string, error) {
	var sb strings.Builder
	buf := make([]byte, 1)
	for {
		if _, err := io.ReadFull(r.ch, buf); err != nil {
			return "", fmt.Errorf("scp: read control line: %w", err)
		}
		if buf[0] == '\n' {
			return sb.String(), nil
		}
		sb.WriteByte(buf[0])
		if sb.Len() > 4096 {
			return "", fmt.Errorf("scp: control line too long")
		}
	}
}

// parseFileHeader parses "Cmmmm <size> <name>".
func parseFileHeader(line string) (fileHeader, error) {
	fields := strings.SplitN(line[1:], " ", 3)
	if len(fields) != 3 {
		return fileHeader{}, fmt.Errorf("scp: malformed file header %q", line)
	}
	size, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil || size < 0 {
		return fileHeader{}, fmt.Errorf("scp: bad size in file header %q", line)
	}
	return fileHeader{Mode: fields[0], Size: size, Name: fields[2]}, nil
}
