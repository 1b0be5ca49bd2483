package native

import (
	"io"
	"os"
	"testing"

	"gotest.tools/assert"

	"peabody.computer/peabody/native/nativetest"
)

func readFile(t *testing.T, f *os.File) string {
	t.Helper()
	b := make([]byte, 64)
	n, err := f.ReadAt(b, 0)
	if err != io.EOF {
		assert.NilError(t, err)
	}
	return string(b[:n])
}

func TestReadPayload(t *testing.T) {
	server, client := nativetest.Pair(t)
	r := NewReader(server, 1024, 4)

	nativetest.Send(t, client, []byte("hello"))
	m, err := r.Read()
	assert.NilError(t, err)
	assert.Equal(t, string(m.Payload), "hello")
	assert.Equal(t, len(m.Files), 0)
	assert.Assert(t, !m.Truncated)
}

func TestReadFiles(t *testing.T) {
	server, client := nativetest.Pair(t)
	r := NewReader(server, 1024, 4)

	a := nativetest.TempFile(t, []byte("first"))
	b := nativetest.TempFile(t, []byte("second"))
	nativetest.Send(t, client, []byte("P"), a, b)

	m, err := r.Read()
	assert.NilError(t, err)
	assert.Equal(t, string(m.Payload), "P")
	assert.Equal(t, len(m.Files), 2)
	defer func() {
		for _, f := range m.Files {
			f.Close()
		}
	}()
	assert.Equal(t, readFile(t, m.Files[0]), "first")
	assert.Equal(t, readFile(t, m.Files[1]), "second")
	// Received descriptors are new descriptors, not the sender's.
	assert.Assert(t, m.Files[0].Fd() != a.Fd())
}

func TestReadTruncatesExcessFiles(t *testing.T) {
	server, client := nativetest.Pair(t)
	r := NewReader(server, 1024, 2)

	files := []*os.File{
		nativetest.TempFile(t, []byte("0")),
		nativetest.TempFile(t, []byte("1")),
		nativetest.TempFile(t, []byte("2")),
	}
	nativetest.Send(t, client, []byte("x"), files...)

	m, err := r.Read()
	assert.NilError(t, err)
	assert.Assert(t, len(m.Files) <= 2)
	assert.Assert(t, m.Truncated)
	for _, f := range m.Files {
		f.Close()
	}
}

func TestReadDropsFilesPastMaximum(t *testing.T) {
	server, client := nativetest.Pair(t)
	// The ancillary buffer for one descriptor is padded to hold two.
	r := NewReader(server, 1024, 1)

	nativetest.Send(t, client, []byte("x"),
		nativetest.TempFile(t, []byte("0")),
		nativetest.TempFile(t, []byte("1")),
		nativetest.TempFile(t, []byte("2")))

	m, err := r.Read()
	assert.NilError(t, err)
	assert.Equal(t, string(m.Payload), "x")
	assert.Equal(t, len(m.Files), 1)
	assert.Equal(t, m.Dropped, 1)
	assert.Assert(t, m.Truncated)
	assert.Equal(t, readFile(t, m.Files[0]), "0")
	m.Files[0].Close()
}

func TestReadEOF(t *testing.T) {
	server, client := nativetest.Pair(t)
	r := NewReader(server, 1024, 2)

	assert.NilError(t, client.Close())
	_, err := r.Read()
	assert.Equal(t, err, io.EOF)
}
