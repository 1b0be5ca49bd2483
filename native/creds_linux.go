package native

import (
	"net"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Credentials identify the process on the other end of a native connection.
type Credentials struct {
	Pid int32
	Uid uint32
	Gid uint32
}

// PeerCredentials reads SO_PEERCRED for c.
func PeerCredentials(c *net.UnixConn) (*Credentials, error) {
	var cred *unix.Ucred

	raw, err := c.SyscallConn()
	if err != nil {
		return nil, errors.Wrap(err, "error opening raw connection")
	}

	// The raw.Control() callback does not return an error directly, so the
	// outer err captures the getsockopt result and err2 the Control result.
	err2 := raw.Control(func(fd uintptr) {
		cred, err = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return nil, errors.Wrap(err, "GetsockoptUcred() error")
	}
	if err2 != nil {
		return nil, errors.Wrap(err2, "Control() error")
	}
	return &Credentials{Pid: cred.Pid, Uid: cred.Uid, Gid: cred.Gid}, nil
}
