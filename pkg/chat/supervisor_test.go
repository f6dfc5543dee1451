package chat

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cbodonnell/minechat/pkg/auth"
	"github.com/cbodonnell/minechat/pkg/chattest"
	"github.com/cbodonnell/minechat/pkg/history"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chanObserver delivers callbacks over buffered channels so tests can
// wait for states without blocking the connection goroutines.
type chanObserver struct {
	messages chan history.Message
	statuses chan Status
}

func newChanObserver() *chanObserver {
	return &chanObserver{
		messages: make(chan history.Message, 64),
		statuses: make(chan Status, 64),
	}
}

func (o *chanObserver) OnMessage(msg history.Message) {
	select {
	case o.messages <- msg:
	default:
	}
}

func (o *chanObserver) OnStatus(status Status) {
	select {
	case o.statuses <- status:
	default:
	}
}

func waitForState(t *testing.T, statuses <-chan Status, role Role, state State) Status {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case status := <-statuses:
			if status.Role == role && status.State == state {
				return status
			}
		case <-deadline:
			t.Fatalf("timed out waiting for the %s connection to be %s", role, state)
			return Status{}
		}
	}
}

func waitForMessage(t *testing.T, messages <-chan history.Message, text string) history.Message {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case msg := <-messages:
			if msg.Text == text {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for message %q", text)
			return history.Message{}
		}
	}
}

func waitForReceived(t *testing.T, server *chattest.Server, text string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-server.ReceivedCh():
			if got == text {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for the server to receive %q", text)
		}
	}
}

func startTestServer(t *testing.T) *chattest.Server {
	t.Helper()
	server, err := chattest.NewServer()
	require.NoError(t, err)
	server.Start()
	t.Cleanup(server.Stop)
	return server
}

func newTestStore(t *testing.T) (*history.FileStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.txt")
	store, err := history.NewFileStore(path)
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close(context.Background())
	})
	return store, path
}

func TestSupervisor_SendAndReceive(t *testing.T) {
	server := startTestServer(t)
	server.AddAccount("abc123", "alice")

	store, path := newTestStore(t)
	observer := newChanObserver()

	s := NewSupervisor(NewSupervisorOptions{
		ListenAddr:        server.ListenAddr(),
		SendAddr:          server.SendAddr(),
		Token:             "abc123",
		Store:             store,
		BackoffBase:       10 * time.Millisecond,
		BackoffMax:        50 * time.Millisecond,
		KeepaliveInterval: -1,
	})
	s.RegisterObserver(observer)

	require.NoError(t, s.Start())
	t.Cleanup(func() {
		s.Stop()
	})

	ready := waitForState(t, observer.statuses, RoleSend, StateReady)
	assert.Equal(t, "alice", ready.Account)
	assert.Equal(t, "alice", s.Account())

	waitForState(t, observer.statuses, RoleListen, StateStreaming)

	err := s.Send("   ")
	require.Error(t, err)
	assert.True(t, IsInvalidMessage(err))

	require.NoError(t, s.Send("hello"))
	waitForReceived(t, server, "hello")

	require.Eventually(t, func() bool {
		return server.BroadcastConns() > 0
	}, 5*time.Second, 10*time.Millisecond)

	server.Broadcast("hi there")
	msg := waitForMessage(t, observer.messages, "hi there")
	assert.False(t, msg.ReceivedAt.IsZero())

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(path)
		return err == nil && strings.Contains(string(data), "hi there")
	}, 5*time.Second, 10*time.Millisecond)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, 1)
	parsed := history.ParseLine(lines[0])
	assert.Equal(t, "hi there", parsed.Text)
	assert.False(t, parsed.ReceivedAt.IsZero())

	assert.Equal(t, []string{"hello"}, server.Received())
}

func TestSupervisor_ReconnectResumesHistory(t *testing.T) {
	server := startTestServer(t)
	server.AddAccount("abc123", "alice")

	store, path := newTestStore(t)
	observer := newChanObserver()

	s := NewSupervisor(NewSupervisorOptions{
		ListenAddr:        server.ListenAddr(),
		SendAddr:          server.SendAddr(),
		Token:             "abc123",
		Store:             store,
		BackoffBase:       10 * time.Millisecond,
		BackoffMax:        50 * time.Millisecond,
		KeepaliveInterval: 50 * time.Millisecond,
		KeepaliveTimeout:  500 * time.Millisecond,
	})
	s.RegisterObserver(observer)

	require.NoError(t, s.Start())
	t.Cleanup(func() {
		s.Stop()
	})

	waitForState(t, observer.statuses, RoleSend, StateReady)
	require.Eventually(t, func() bool {
		return server.BroadcastConns() > 0
	}, 5*time.Second, 10*time.Millisecond)

	server.Broadcast("first")
	waitForMessage(t, observer.messages, "first")

	server.DropConnections()

	// The keepalive probe notices the dead send connection and the
	// role reconnects and authenticates again.
	waitForState(t, observer.statuses, RoleSend, StateReady)
	require.Eventually(t, func() bool {
		return server.BroadcastConns() > 0
	}, 5*time.Second, 10*time.Millisecond)

	server.Broadcast("second")
	waitForMessage(t, observer.messages, "second")

	require.NoError(t, s.Send("after reconnect"))
	waitForReceived(t, server, "after reconnect")

	// The send role authenticated once per connection.
	assert.Equal(t, 2, server.AuthAttempts())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "first", history.ParseLine(lines[0]).Text)
	assert.Equal(t, "second", history.ParseLine(lines[1]).Text)
}

func TestSupervisor_InvalidTokenStopsSendRole(t *testing.T) {
	server := startTestServer(t)

	store, _ := newTestStore(t)
	observer := newChanObserver()

	s := NewSupervisor(NewSupervisorOptions{
		ListenAddr:        server.ListenAddr(),
		SendAddr:          server.SendAddr(),
		Token:             "bogus",
		Store:             store,
		BackoffBase:       10 * time.Millisecond,
		BackoffMax:        50 * time.Millisecond,
		KeepaliveInterval: -1,
	})
	s.RegisterObserver(observer)

	require.NoError(t, s.Start())
	t.Cleanup(func() {
		s.Stop()
	})

	select {
	case err := <-s.ErrChan():
		assert.True(t, auth.IsInvalidToken(err))
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the invalid token error")
	}

	// Several backoff periods pass without another attempt.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, server.AuthAttempts())

	err := s.Send("hello")
	require.Error(t, err)
	assert.True(t, IsNotConnected(err))

	// The listen connection keeps streaming.
	require.Eventually(t, func() bool {
		return server.BroadcastConns() > 0
	}, 5*time.Second, 10*time.Millisecond)
	server.Broadcast("still streaming")
	waitForMessage(t, observer.messages, "still streaming")
}

func TestSupervisor_KeepaliveKeepsConnectionReady(t *testing.T) {
	server := startTestServer(t)
	server.AddAccount("abc123", "alice")

	store, _ := newTestStore(t)
	observer := newChanObserver()

	s := NewSupervisor(NewSupervisorOptions{
		ListenAddr:        server.ListenAddr(),
		SendAddr:          server.SendAddr(),
		Token:             "abc123",
		Store:             store,
		BackoffBase:       10 * time.Millisecond,
		BackoffMax:        50 * time.Millisecond,
		KeepaliveInterval: 100 * time.Millisecond,
		KeepaliveTimeout:  time.Second,
	})
	s.RegisterObserver(observer)

	require.NoError(t, s.Start())
	t.Cleanup(func() {
		s.Stop()
	})

	waitForState(t, observer.statuses, RoleSend, StateReady)

	// Let a few keepalive rounds pass and confirm the connection
	// stayed up without a reconnect.
	time.Sleep(400 * time.Millisecond)

	require.NoError(t, s.Send("still here"))
	waitForReceived(t, server, "still here")
	assert.Equal(t, 1, server.AuthAttempts())
}

func TestSupervisor_StopIdempotent(t *testing.T) {
	server := startTestServer(t)
	server.AddAccount("abc123", "alice")

	store, _ := newTestStore(t)

	s := NewSupervisor(NewSupervisorOptions{
		ListenAddr:        server.ListenAddr(),
		SendAddr:          server.SendAddr(),
		Token:             "abc123",
		Store:             store,
		BackoffBase:       10 * time.Millisecond,
		BackoffMax:        50 * time.Millisecond,
		KeepaliveInterval: -1,
	})

	require.NoError(t, s.Start())
	require.Error(t, s.Start())

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
}
