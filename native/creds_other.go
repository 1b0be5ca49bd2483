//go:build !linux

package native

import (
	"net"

	"github.com/pkg/errors"
)

// Credentials identify the process on the other end of a native connection.
type Credentials struct {
	Pid int32
	Uid uint32
	Gid uint32
}

// PeerCredentials is unimplemented on this platform.
func PeerCredentials(c *net.UnixConn) (*Credentials, error) {
	return nil, errors.New("PeerCredentials is unimplemented on this platform")
}
