package bridge

import (
	"encoding/binary"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"go.uber.org/goleak"
	"gotest.tools/assert"

	"peabody.computer/peabody/channel"
	"peabody.computer/peabody/channel/channeltest"
	"peabody.computer/peabody/native/nativetest"
	"peabody.computer/peabody/region"
	"peabody.computer/peabody/registry"
)

const waitTimeout = 5 * time.Second

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newBridge(t *testing.T) (*Bridge, *region.Handles) {
	t.Helper()
	handles := region.NewHandles()
	b := New(handles, Config{})
	t.Cleanup(func() {
		b.Close()
		handles.Close()
	})
	return b, handles
}

func newSession(t *testing.T, b *Bridge) (*Session, *net.UnixConn) {
	t.Helper()
	server, client := nativetest.Pair(t)
	sess, err := b.Create(server)
	assert.NilError(t, err)
	return sess, client
}

// captureLogs records every entry logged through the standard logger for the
// rest of the test.
func captureLogs(t *testing.T) *test.Hook {
	t.Helper()
	hook := test.NewGlobal()
	t.Cleanup(func() {
		logrus.StandardLogger().ReplaceHooks(make(logrus.LevelHooks))
	})
	return hook
}

// indexOf returns the position of the first entry whose message contains
// msg, or -1.
func indexOf(entries []*logrus.Entry, msg string) int {
	for i, e := range entries {
		if strings.Contains(e.Message, msg) {
			return i
		}
	}
	return -1
}

func errorEntries(entries []*logrus.Entry) []string {
	var out []string
	for _, e := range entries {
		if e.Level <= logrus.ErrorLevel {
			out = append(out, e.Message)
		}
	}
	return out
}

func waitDone(t *testing.T, sess *Session) {
	t.Helper()
	select {
	case <-sess.Done():
	case <-time.After(waitTimeout):
		t.Fatalf("session %d was not torn down", sess.ID)
	}
}

func TestCreateAssignsSequentialIDs(t *testing.T) {
	b, _ := newBridge(t)
	for want := registry.ID(1); want <= 5; want++ {
		sess, _ := newSession(t, b)
		assert.Equal(t, sess.ID, want)
		assert.Equal(t, sess.State(), Unpaired)
		assert.Assert(t, !sess.Relaying())
		if want == 2 {
			sess.Close()
		}
	}
	assert.Equal(t, b.Len(), 4)
	sess, _ := newSession(t, b)
	assert.Equal(t, sess.ID, registry.ID(6))
}

func TestPairUnknownSession(t *testing.T) {
	b, _ := newBridge(t)
	ch := channeltest.NewRecorder()
	_, err := b.Pair(42, ch)
	assert.Assert(t, errors.Is(err, ErrUnknownSession))
	assert.Equal(t, b.Len(), 0)
	assert.Equal(t, ch.CloseCalls(), 0)
}

func TestPairTwice(t *testing.T) {
	b, _ := newBridge(t)
	sess, client := newSession(t, b)

	first := channeltest.NewRecorder()
	paired, err := b.Pair(sess.ID, first)
	assert.NilError(t, err)
	assert.Equal(t, paired, sess)
	assert.Equal(t, sess.State(), Paired)
	assert.Assert(t, sess.Relaying())

	second := channeltest.NewRecorder()
	_, err = b.Pair(sess.ID, second)
	assert.Assert(t, errors.Is(err, ErrAlreadyPaired))

	// The first pairing still relays.
	nativetest.Send(t, client, []byte("still here"))
	sent := first.WaitSent(2, waitTimeout)
	assert.Equal(t, len(sent), 2)
	assert.Equal(t, string(sent[1].Data), "still here")
	assert.Equal(t, first.CloseCalls(), 0)
}

func TestRelayPayloads(t *testing.T) {
	b, _ := newBridge(t)
	sess, client := newSession(t, b)
	ch := channeltest.NewRecorder()
	_, err := b.Pair(sess.ID, ch)
	assert.NilError(t, err)

	nativetest.Send(t, client, []byte("B1"))
	assert.Equal(t, len(ch.WaitSent(2, waitTimeout)), 2)
	nativetest.Send(t, client, []byte("B2"))
	sent := ch.WaitSent(4, waitTimeout)

	assert.DeepEqual(t, sent, []channeltest.Message{
		{Type: channel.TextMessage, Data: []byte("wl")},
		{Type: channel.BinaryMessage, Data: []byte("B1")},
		{Type: channel.TextMessage, Data: []byte("wl")},
		{Type: channel.BinaryMessage, Data: []byte("B2")},
	})
}

func TestRelayDescriptors(t *testing.T) {
	b, handles := newBridge(t)
	sess, client := newSession(t, b)
	ch := channeltest.NewRecorder()
	_, err := b.Pair(sess.ID, ch)
	assert.NilError(t, err)

	contents := []string{"zero", "one", "two"}
	nativetest.Send(t, client, []byte("P"),
		nativetest.TempFile(t, []byte(contents[0])),
		nativetest.TempFile(t, []byte(contents[1])),
		nativetest.TempFile(t, []byte(contents[2])))

	sent := ch.WaitSent(4, waitTimeout)
	assert.Equal(t, len(sent), 4)
	assert.DeepEqual(t, sent[0], channeltest.Message{Type: channel.TextMessage, Data: []byte("fd")})
	assert.Equal(t, sent[1].Type, channel.BinaryMessage)
	assert.Equal(t, len(sent[1].Data), 12)
	assert.DeepEqual(t, sent[2], channeltest.Message{Type: channel.TextMessage, Data: []byte("wl")})
	assert.DeepEqual(t, sent[3], channeltest.Message{Type: channel.BinaryMessage, Data: []byte("P")})

	assert.Equal(t, handles.Len(), 3)
	for i, want := range contents {
		id := registry.ID(binary.LittleEndian.Uint32(sent[1].Data[4*i:]))
		h, ok := handles.Lookup(id)
		assert.Assert(t, ok, "handle %d", id)
		assert.Equal(t, h.Owner, sess.ID)
		buf := make([]byte, len(want))
		_, err := h.ReadAt(buf, 0)
		assert.NilError(t, err)
		assert.Equal(t, string(buf), want)
	}
}

func TestNativeEOFTearsDown(t *testing.T) {
	b, _ := newBridge(t)
	sess, client := newSession(t, b)
	ch := channeltest.NewRecorder()
	_, err := b.Pair(sess.ID, ch)
	assert.NilError(t, err)

	hook := captureLogs(t)
	client.Close()
	waitDone(t, sess)

	entries := hook.AllEntries()
	assert.Assert(t, indexOf(entries, "session closed: "+EventNativeEOF.String()) >= 0)
	assert.DeepEqual(t, errorEntries(entries), []string(nil))

	_, ok := b.Lookup(sess.ID)
	assert.Assert(t, !ok)
	assert.Equal(t, sess.State(), Closed)
	assert.Assert(t, !sess.Relaying())
	assert.Equal(t, ch.CloseCode(), channel.CloseGoingAway)

	sess.Close()
	assert.Equal(t, ch.CloseCalls(), 1)
	_, err = b.Pair(sess.ID, channeltest.NewRecorder())
	assert.Assert(t, errors.Is(err, ErrUnknownSession))
}

func TestRemoteToNative(t *testing.T) {
	b, _ := newBridge(t)
	sess, client := newSession(t, b)
	ch := channeltest.NewRecorder()
	_, err := b.Pair(sess.ID, ch)
	assert.NilError(t, err)

	ch.Deliver(channel.BinaryMessage, []byte("abc"))
	ch.Deliver(channel.TextMessage, []byte("def"))

	buf := make([]byte, 6)
	assert.NilError(t, client.SetReadDeadline(time.Now().Add(waitTimeout)))
	_, err = io.ReadFull(client, buf)
	assert.NilError(t, err)
	assert.Equal(t, string(buf), "abcdef")
}

func TestRemoteCloseTearsDown(t *testing.T) {
	b, _ := newBridge(t)
	sess, client := newSession(t, b)
	ch := channeltest.NewRecorder()
	_, err := b.Pair(sess.ID, ch)
	assert.NilError(t, err)

	ch.Close(channel.CloseGoingAway, "browser left")
	waitDone(t, sess)
	assert.Equal(t, b.Len(), 0)

	assert.NilError(t, client.SetReadDeadline(time.Now().Add(waitTimeout)))
	_, err = client.Read(make([]byte, 1))
	assert.Equal(t, err, io.EOF)
}

func TestCloseShutsDownEverySession(t *testing.T) {
	handles := region.NewHandles()
	defer handles.Close()
	b := New(handles, Config{})

	unpaired, unpairedClient := newSession(t, b)
	paired, _ := newSession(t, b)
	ch := channeltest.NewRecorder()
	_, err := b.Pair(paired.ID, ch)
	assert.NilError(t, err)

	b.Close()
	waitDone(t, unpaired)
	waitDone(t, paired)
	assert.Equal(t, b.Len(), 0)
	assert.Equal(t, ch.CloseCode(), channel.CloseGoingAway)

	_, err = unpairedClient.Read(make([]byte, 1))
	assert.Equal(t, err, io.EOF)

	server, _ := nativetest.Pair(t)
	_, err = b.Create(server)
	assert.Assert(t, errors.Is(err, ErrClosed))
}

func TestRemoteWriteFailureTearsDown(t *testing.T) {
	b, _ := newBridge(t)
	sess, client := newSession(t, b)
	ch := channeltest.NewRecorder()
	_, err := b.Pair(sess.ID, ch)
	assert.NilError(t, err)

	hook := captureLogs(t)
	ch.FailWrites(errors.New("connection reset"))
	nativetest.Send(t, client, []byte("lost"))
	waitDone(t, sess)

	assert.Equal(t, len(ch.Sent()), 0)
	assert.Equal(t, ch.CloseCode(), channel.CloseGoingAway)
	assert.Equal(t, sess.State(), Closed)
	assert.Equal(t, b.Len(), 0)

	// The cause is logged before the teardown.
	entries := hook.AllEntries()
	cause := indexOf(entries, "connection reset")
	closed := indexOf(entries, "session closed: "+EventWriteError.String())
	assert.Assert(t, cause >= 0)
	assert.Assert(t, closed > cause, "cause at %d, teardown at %d", cause, closed)
}

func TestNativeWriteFailureTearsDown(t *testing.T) {
	b, _ := newBridge(t)
	sess, _ := newSession(t, b)
	ch := channeltest.NewRecorder()
	_, err := b.Pair(sess.ID, ch)
	assert.NilError(t, err)

	hook := captureLogs(t)
	// Writes to the native client now fail while its reads stay open.
	assert.NilError(t, sess.native.CloseWrite())
	ch.Deliver(channel.BinaryMessage, []byte("unwritable"))
	waitDone(t, sess)

	assert.Equal(t, ch.CloseCode(), channel.CloseGoingAway)
	assert.Equal(t, b.Len(), 0)
	assert.Assert(t, indexOf(hook.AllEntries(), "session closed: "+EventWriteError.String()) >= 0)
}

func TestFailedAnnouncementReleasesHandles(t *testing.T) {
	b, handles := newBridge(t)
	sess, client := newSession(t, b)
	ch := channeltest.NewRecorder()
	_, err := b.Pair(sess.ID, ch)
	assert.NilError(t, err)

	ch.FailWrites(errors.New("connection reset"))
	nativetest.Send(t, client, []byte("P"),
		nativetest.TempFile(t, []byte("a")),
		nativetest.TempFile(t, []byte("b")))
	waitDone(t, sess)

	assert.Equal(t, handles.Len(), 0)
	assert.Equal(t, len(ch.Sent()), 0)
}

func TestAttachClosedSessionIsUnknown(t *testing.T) {
	b, _ := newBridge(t)
	sess, _ := newSession(t, b)
	sess.Close()

	// A pairing that looked the session up just before it closed.
	ch := channeltest.NewRecorder()
	err := sess.attach(ch)
	assert.Assert(t, errors.Is(err, ErrUnknownSession))
	assert.Equal(t, sess.State(), Closed)
	assert.Equal(t, ch.CloseCalls(), 0)
}
