package native

import (
	"net"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// SocketPath returns the display socket path inside runtimeDir.
func SocketPath(runtimeDir, name string) string {
	return filepath.Join(runtimeDir, name)
}

// Listen removes any stale socket at path and listens on it. The socket file
// is removed again when the listener is closed.
func Listen(path string) (*net.UnixListener, error) {
	fileInfo, err := os.Lstat(path)
	if err == nil {
		if fileInfo.IsDir() {
			return nil, errors.Errorf("native: unable to listen at %s: is a directory", path)
		}
		if err := os.Remove(path); err != nil {
			return nil, errors.Wrapf(err, "native: error removing %s", path)
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "native: error checking %s", path)
	}

	addr := &net.UnixAddr{Name: path, Net: "unix"}
	l, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "native: unix socket listen error at %s", path)
	}
	l.SetUnlinkOnClose(true)
	return l, nil
}
