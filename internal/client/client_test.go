package client

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"parlor/internal/config"
	"parlor/internal/protocol"
	"parlor/internal/server"
)

type statusEvent struct {
	connected bool
	status    string
}

// recorder captures listener callbacks on channels for assertion.
type recorder struct {
	msgs   chan protocol.Message
	status chan statusEvent
	lists  chan []string
}

func newRecorder() *recorder {
	return &recorder{
		msgs:   make(chan protocol.Message, 32),
		status: make(chan statusEvent, 32),
		lists:  make(chan []string, 32),
	}
}

func (r *recorder) OnMessageReceived(msg protocol.Message) { r.msgs <- msg }

func (r *recorder) OnConnectionStatusChanged(connected bool, status string) {
	r.status <- statusEvent{connected, status}
}

func (r *recorder) OnUserListUpdated(users []string) { r.lists <- users }

func (r *recorder) nextMessage(t *testing.T) protocol.Message {
	t.Helper()
	select {
	case msg := <-r.msgs:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message callback")
		return protocol.Message{}
	}
}

func (r *recorder) nextStatus(t *testing.T) statusEvent {
	t.Helper()
	select {
	case ev := <-r.status:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for status callback")
		return statusEvent{}
	}
}

func (r *recorder) nextList(t *testing.T) []string {
	t.Helper()
	select {
	case users := <-r.lists:
		return users
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for user list callback")
		return nil
	}
}

func startRelay(t *testing.T) (string, int) {
	t.Helper()

	cfg := &config.Config{
		Port:         0,
		SinkBuffer:   32,
		MaxLineBytes: 1 << 20,
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	l := server.NewListener(cfg, server.NewRegistry(ctx, time.Hour, nil), nil)
	go func() {
		if err := l.Start(ctx); err != nil {
			t.Errorf("listener start: %v", err)
		}
	}()
	t.Cleanup(l.Stop)

	deadline := time.Now().Add(2 * time.Second)
	for l.Addr() == nil {
		require.True(t, time.Now().Before(deadline), "listener never bound")
		time.Sleep(5 * time.Millisecond)
	}

	host, portStr, err := net.SplitHostPort(l.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func TestClient_ConnectAndCallbacks(t *testing.T) {
	host, port := startRelay(t)
	if host == "" || host == "::" {
		host = "127.0.0.1"
	}

	alice := newRecorder()
	ca := New(alice)
	require.NoError(t, ca.Connect(host, port, "alice"))
	defer ca.Disconnect()

	ev := alice.nextStatus(t)
	require.True(t, ev.connected)
	require.Contains(t, ev.status, "alice")

	require.ElementsMatch(t, []string{"alice"}, alice.nextList(t))
	require.Equal(t, protocol.KindSystem, alice.nextMessage(t).Kind) // own join announcement

	bob := newRecorder()
	cb := New(bob)
	require.NoError(t, cb.Connect(host, port, "bob"))
	defer cb.Disconnect()

	require.True(t, bob.nextStatus(t).connected)
	require.ElementsMatch(t, []string{"alice", "bob"}, bob.nextList(t))
	bob.nextMessage(t) // join announcement

	// alice observes bob's join.
	require.ElementsMatch(t, []string{"alice", "bob"}, alice.nextList(t))
	require.Equal(t, "bob has joined the chat", alice.nextMessage(t).Content)

	// Broadcast text with an embedded delimiter.
	ca.SendNormal("pipe | inside")
	got := bob.nextMessage(t)
	require.Equal(t, protocol.KindNormal, got.Kind)
	require.Equal(t, "pipe | inside", got.Content)
	require.Equal(t, "alice", got.Sender)

	// The /msg command becomes a private route plus a local confirmation.
	cb.SendNormal("/msg alice secret words")
	pm := alice.nextMessage(t)
	require.Equal(t, protocol.KindPrivate, pm.Kind)
	require.Equal(t, "secret words", pm.Content)
	confirm := bob.nextMessage(t)
	require.Equal(t, protocol.KindSystem, confirm.Kind)
	require.Equal(t, "Private message sent to alice", confirm.Content)

	// Malformed /msg never reaches the wire.
	cb.SendNormal("/msg")
	local := bob.nextMessage(t)
	require.Contains(t, local.Content, "Invalid private message format")

	// File with recipient routes directly and carries its name.
	ca.SendFile("ZmlsZQ==", "notes.txt", "bob")
	file := bob.nextMessage(t)
	require.Equal(t, protocol.KindFile, file.Kind)
	require.Equal(t, "notes.txt", file.AttachmentName)
	require.Equal(t, "File sent to bob", alice.nextMessage(t).Content)

	// Disconnect announces the departure to the remaining member.
	cb.Disconnect()
	require.False(t, bob.nextStatus(t).connected)
	require.Equal(t, "bob has left the chat", alice.nextMessage(t).Content)
	require.ElementsMatch(t, []string{"alice"}, alice.nextList(t))
}

func TestClient_DuplicateNameRejected(t *testing.T) {
	host, port := startRelay(t)
	if host == "" || host == "::" {
		host = "127.0.0.1"
	}

	alice := newRecorder()
	ca := New(alice)
	require.NoError(t, ca.Connect(host, port, "carol"))
	defer ca.Disconnect()
	alice.nextStatus(t)

	dup := newRecorder()
	cd := New(dup)
	err := cd.Connect(host, port, "carol")
	require.Error(t, err)
	require.False(t, cd.Connected())

	ev := dup.nextStatus(t)
	require.False(t, ev.connected)
	require.Contains(t, ev.status, "already taken")
}

func TestClient_InvalidUsernameLocallyRejected(t *testing.T) {
	rec := newRecorder()
	c := New(rec)

	err := c.Connect("127.0.0.1", 1, "!")
	require.Error(t, err)

	ev := rec.nextStatus(t)
	require.False(t, ev.connected)
	require.Contains(t, ev.status, "Invalid username format")
}
