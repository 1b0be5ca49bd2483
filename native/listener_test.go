package native

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/assert"
)

func TestListenRemovesStaleSocket(t *testing.T) {
	path := SocketPath(t.TempDir(), "wayland-0")
	assert.NilError(t, os.WriteFile(path, []byte("stale"), 0o600))

	l, err := Listen(path)
	assert.NilError(t, err)

	c, err := net.Dial("unix", path)
	assert.NilError(t, err)
	server, err := l.AcceptUnix()
	assert.NilError(t, err)

	creds, err := PeerCredentials(server)
	if err == nil {
		assert.Equal(t, creds.Pid, int32(os.Getpid()))
		assert.Equal(t, creds.Uid, uint32(os.Getuid()))
	}

	c.Close()
	server.Close()
	assert.NilError(t, l.Close())

	_, err = os.Stat(path)
	assert.Assert(t, os.IsNotExist(err))
}

func TestListenRefusesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wayland-0")
	assert.NilError(t, os.Mkdir(path, 0o700))
	_, err := Listen(path)
	assert.ErrorContains(t, err, "is a directory")
}
