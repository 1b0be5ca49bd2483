package native

import (
	"io"
	"net"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Message is the result of one read event on a native connection.
type Message struct {
	// Payload aliases the Reader's buffer and is only valid until the next
	// call to Read.
	Payload []byte

	// Files are the descriptors received alongside Payload, in receipt order.
	// The caller owns them.
	Files []*os.File

	// Truncated is set when the sender passed more descriptors than fit in
	// the ancillary buffer. The kernel discards the ones that did not fit.
	Truncated bool

	// Dropped counts descriptors that were received but closed because they
	// exceeded the per-read maximum.
	Dropped int
}

// Reader performs reads on a native connection that also collect any
// descriptors passed with SCM_RIGHTS.
type Reader struct {
	conn   *net.UnixConn
	maxFds int
	buf    []byte
	oob    []byte
}

// NewReader returns a Reader for conn. At most maxFds descriptors are
// accepted per read and payloads are read in chunks of up to bufSize bytes.
func NewReader(conn *net.UnixConn, bufSize, maxFds int) *Reader {
	return &Reader{
		conn:   conn,
		maxFds: maxFds,
		buf:    make([]byte, bufSize),
		oob:    make([]byte, unix.CmsgSpace(maxFds*4)),
	}
}

// Read performs a single receive. It returns a bare io.EOF when the peer has
// closed its end, however the connection reports it. Files are only returned when err is nil; on error every received
// descriptor has already been closed.
func (r *Reader) Read() (*Message, error) {
	n, oobn, flags, _, err := r.conn.ReadMsgUnix(r.buf, r.oob)

	var fds []int
	var parseErr error
	if oobn > 0 {
		fds, parseErr = parseRights(r.oob[:oobn])
	}
	if errors.Is(err, io.EOF) {
		closeAll(fds)
		return nil, io.EOF
	}
	if err != nil || parseErr != nil {
		closeAll(fds)
		if err == nil {
			err = parseErr
		}
		return nil, err
	}
	if n == 0 {
		closeAll(fds)
		return nil, io.EOF
	}

	m := &Message{
		Payload:   r.buf[:n],
		Truncated: flags&unix.MSG_CTRUNC != 0,
	}
	if len(fds) > r.maxFds {
		m.Dropped = len(fds) - r.maxFds
		closeAll(fds[r.maxFds:])
		fds = fds[:r.maxFds]
	}
	for _, fd := range fds {
		m.Files = append(m.Files, os.NewFile(uintptr(fd), "ancillary"))
	}
	return m, nil
}

// parseRights extracts every descriptor from the SCM_RIGHTS messages in oob.
// Descriptors parsed before an error are still returned so that the caller
// can close them.
func parseRights(oob []byte) ([]int, error) {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, errors.Wrap(err, "native: malformed control message")
	}
	var out []int
	for i := range msgs {
		if msgs[i].Header.Level != unix.SOL_SOCKET || msgs[i].Header.Type != unix.SCM_RIGHTS {
			continue
		}
		fds, err := unix.ParseUnixRights(&msgs[i])
		if err != nil {
			return out, errors.Wrap(err, "native: malformed rights message")
		}
		out = append(out, fds...)
	}
	return out, nil
}

func closeAll(fds []int) {
	for _, fd := range fds {
		unix.Close(fd)
	}
}
