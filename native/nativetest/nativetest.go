// Package nativetest provides connected Unix socket pairs and descriptor
// passing helpers for tests.
package nativetest

import (
	"net"
	"os"
	"testing"

	"golang.org/x/sys/unix"
	"gotest.tools/assert"
)

// Pair returns two connected Unix stream sockets. Both are closed when the
// test finishes.
func Pair(t testing.TB) (*net.UnixConn, *net.UnixConn) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	assert.NilError(t, err)
	a := fileConn(t, fds[0], "pair-a")
	b := fileConn(t, fds[1], "pair-b")
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

func fileConn(t testing.TB, fd int, name string) *net.UnixConn {
	t.Helper()
	f := os.NewFile(uintptr(fd), name)
	defer f.Close()
	c, err := net.FileConn(f)
	assert.NilError(t, err)
	uc, ok := c.(*net.UnixConn)
	assert.Assert(t, ok, "expected *net.UnixConn, got %T", c)
	return uc
}

// Send writes payload on c with files attached as SCM_RIGHTS.
func Send(t testing.TB, c *net.UnixConn, payload []byte, files ...*os.File) {
	t.Helper()
	var oob []byte
	if len(files) > 0 {
		fds := make([]int, 0, len(files))
		for _, f := range files {
			fds = append(fds, int(f.Fd()))
		}
		oob = unix.UnixRights(fds...)
	}
	n, oobn, err := c.WriteMsgUnix(payload, oob, nil)
	assert.NilError(t, err)
	assert.Equal(t, n, len(payload))
	assert.Equal(t, oobn, len(oob))
}

// TempFile returns an open file holding contents. It is closed and removed
// when the test finishes.
func TempFile(t testing.TB, contents []byte) *os.File {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "shm")
	assert.NilError(t, err)
	_, err = f.Write(contents)
	assert.NilError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}
