package chat

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cbodonnell/minechat/pkg/frame"
	"github.com/cbodonnell/minechat/pkg/log"
)

// drainTimeout bounds how long a keepalive spends slurping pending
// confirmation frames after the reply arrived.
const drainTimeout = 100 * time.Millisecond

// Sender sends user messages over the authenticated connection. It is
// safe for concurrent use. Messages are not queued while the
// connection is down; a failed send is reported to the caller and can
// be retried once the connection is ready again.
type Sender struct {
	alive *liveness

	lock     sync.Mutex
	conn     net.Conn
	reader   *frame.Reader
	writer   *frame.Writer
	ready    bool
	failed   bool
	failedCh chan struct{}
}

func newSender(alive *liveness) *Sender {
	return &Sender{
		alive: alive,
	}
}

// attach installs a freshly authenticated connection and returns a
// channel that closes when a send or keepalive fails on it.
func (s *Sender) attach(conn net.Conn, r *frame.Reader, w *frame.Writer) <-chan struct{} {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.conn = conn
	s.reader = r
	s.writer = w
	s.ready = true
	s.failed = false
	s.failedCh = make(chan struct{})

	return s.failedCh
}

// detach tears down the current connection.
func (s *Sender) detach() {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.conn = nil
	s.reader = nil
	s.writer = nil
	s.ready = false
}

// Send writes one message as a single frame. Empty or whitespace-only
// text is rejected with ErrInvalidMessage before any bytes go out, and
// embedded newlines are escaped so the message cannot span frames.
func (s *Sender) Send(text string) error {
	if strings.TrimSpace(text) == "" {
		return &ErrInvalidMessage{}
	}
	text = escapeNewlines(text)

	s.lock.Lock()
	defer s.lock.Unlock()

	if !s.ready {
		return &ErrNotConnected{}
	}

	if err := s.writer.WriteFrame(text); err != nil {
		s.failLocked(err)
		return fmt.Errorf("failed to send message: %v", err)
	}

	s.alive.exchange("message sent")

	return nil
}

// keepalive writes an empty frame and waits for the server's reply,
// then drains any pending confirmation frames so they never pile up.
func (s *Sender) keepalive(timeout time.Duration) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if !s.ready {
		return &ErrNotConnected{}
	}

	if err := s.writer.WriteFrame(""); err != nil {
		s.failLocked(err)
		return fmt.Errorf("failed to send keepalive: %v", err)
	}

	if err := s.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		s.failLocked(err)
		return fmt.Errorf("failed to set read deadline: %v", err)
	}

	if _, err := s.reader.ReadFrame(); err != nil {
		s.failLocked(err)
		if frame.IsReadTimeout(err) {
			return fmt.Errorf("no keepalive reply within %s", timeout)
		}
		return fmt.Errorf("failed to read keepalive reply: %v", err)
	}

	s.alive.exchange("keepalive reply")

	if err := s.conn.SetReadDeadline(time.Now().Add(drainTimeout)); err != nil {
		s.failLocked(err)
		return fmt.Errorf("failed to set read deadline: %v", err)
	}

	for {
		if _, err := s.reader.ReadFrame(); err != nil {
			if frame.IsReadTimeout(err) {
				break
			}
			s.failLocked(err)
			return fmt.Errorf("failed to drain replies: %v", err)
		}
	}

	if err := s.conn.SetReadDeadline(time.Time{}); err != nil {
		s.failLocked(err)
		return fmt.Errorf("failed to clear read deadline: %v", err)
	}

	return nil
}

// failLocked marks the connection dead and closes it so the role loop
// reconnects. The caller must hold s.lock.
func (s *Sender) failLocked(err error) {
	log.Warn("Send connection failed: %v", err)

	s.ready = false
	if s.conn != nil {
		s.conn.Close()
	}
	if !s.failed {
		s.failed = true
		close(s.failedCh)
	}
}

// escapeNewlines rewrites line breaks as the visible two-character
// sequence \n so a message is always exactly one frame. Texts without
// line breaks pass through unchanged.
func escapeNewlines(text string) string {
	text = strings.ReplaceAll(text, "\r\n", `\n`)
	return strings.ReplaceAll(text, "\n", `\n`)
}
