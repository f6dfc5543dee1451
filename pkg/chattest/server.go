// Package chattest provides an in-process chat server for tests. It
// speaks the same line protocol as the real server on two listeners,
// a broadcast stream and an authenticated send channel, and exposes
// controls for minting accounts, broadcasting messages, and dropping
// connections to exercise reconnect paths.
package chattest

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/cbodonnell/minechat/pkg/frame"
	"github.com/google/uuid"
)

const (
	greeting         = "Hello! Enter your personal hash."
	nicknamePrompt   = "Enter preferred nickname below:"
	sendConfirmation = "Message send. Write more, if you want."
)

// Server is an in-process chat server.
type Server struct {
	listenListener net.Listener
	sendListener   net.Listener

	accountsMutex sync.Mutex
	accounts      map[string]string

	connsMutex     sync.Mutex
	conns          map[net.Conn]struct{}
	broadcastConns map[net.Conn]*frame.Writer

	receivedMutex sync.Mutex
	received      []string
	receivedCh    chan string

	authMutex    sync.Mutex
	authAttempts int

	wg *sync.WaitGroup
}

// NewServer creates a new Server listening on two ephemeral loopback
// ports.
func NewServer() (*Server, error) {
	listenListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %v", err)
	}

	sendListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		listenListener.Close()
		return nil, fmt.Errorf("failed to listen: %v", err)
	}

	return &Server{
		listenListener: listenListener,
		sendListener:   sendListener,
		accounts:       make(map[string]string),
		conns:          make(map[net.Conn]struct{}),
		broadcastConns: make(map[net.Conn]*frame.Writer),
		receivedCh:     make(chan string, 64),
		wg:             &sync.WaitGroup{},
	}, nil
}

// Start starts the accept loops for both listeners.
func (s *Server) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop(s.listenListener, s.handleListen)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop(s.sendListener, s.handleSend)
	}()
}

// Stop closes both listeners and every open connection and waits for
// the handlers to finish.
func (s *Server) Stop() {
	s.listenListener.Close()
	s.sendListener.Close()
	s.DropConnections()
	s.wg.Wait()
}

// ListenAddr returns the address of the broadcast stream.
func (s *Server) ListenAddr() string {
	return s.listenListener.Addr().String()
}

// SendAddr returns the address of the send channel.
func (s *Server) SendAddr() string {
	return s.sendListener.Addr().String()
}

// AddAccount mints an account so the token authenticates as the given
// nickname.
func (s *Server) AddAccount(token, nickname string) {
	s.accountsMutex.Lock()
	defer s.accountsMutex.Unlock()
	s.accounts[token] = nickname
}

// Broadcast writes one message frame to every broadcast connection.
func (s *Server) Broadcast(text string) {
	s.connsMutex.Lock()
	defer s.connsMutex.Unlock()
	for conn, w := range s.broadcastConns {
		if err := w.WriteFrame(text); err != nil {
			conn.Close()
			delete(s.broadcastConns, conn)
		}
	}
}

// DropConnections closes every open connection while leaving the
// listeners up, so clients can reconnect.
func (s *Server) DropConnections() {
	s.connsMutex.Lock()
	defer s.connsMutex.Unlock()
	for conn := range s.conns {
		conn.Close()
		delete(s.conns, conn)
	}
	for conn := range s.broadcastConns {
		delete(s.broadcastConns, conn)
	}
}

// BroadcastConns returns the number of open broadcast connections.
func (s *Server) BroadcastConns() int {
	s.connsMutex.Lock()
	defer s.connsMutex.Unlock()
	return len(s.broadcastConns)
}

// Received returns the messages received on send connections so far.
func (s *Server) Received() []string {
	s.receivedMutex.Lock()
	defer s.receivedMutex.Unlock()
	return append([]string{}, s.received...)
}

// ReceivedCh delivers each message received on a send connection.
func (s *Server) ReceivedCh() <-chan string {
	return s.receivedCh
}

// AuthAttempts returns how many tokens have been presented.
func (s *Server) AuthAttempts() int {
	s.authMutex.Lock()
	defer s.authMutex.Unlock()
	return s.authAttempts
}

func (s *Server) acceptLoop(listener net.Listener, handle func(conn net.Conn)) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			return
		}

		s.addConn(conn)

		s.wg.Add(1)
		go func(conn net.Conn) {
			defer s.wg.Done()
			defer s.removeConn(conn)
			defer conn.Close()
			handle(conn)
		}(conn)
	}
}

func (s *Server) handleListen(conn net.Conn) {
	s.connsMutex.Lock()
	s.broadcastConns[conn] = frame.NewWriter(conn)
	s.connsMutex.Unlock()

	// The client never writes on this connection, so a read only
	// returns once the connection is closed.
	buf := make([]byte, 1)
	for {
		if _, err := conn.Read(buf); err != nil {
			return
		}
	}
}

func (s *Server) handleSend(conn net.Conn) {
	r := frame.NewReader(conn)
	w := frame.NewWriter(conn)

	if err := w.WriteFrame(greeting); err != nil {
		return
	}

	first, err := r.ReadFrame()
	if err != nil {
		return
	}

	if first == "" {
		if !s.register(r, w) {
			return
		}
	} else {
		s.countAuthAttempt()
		nickname, ok := s.lookupAccount(first)
		if !ok {
			w.WriteFrame("null")
			return
		}
		if !s.sendAccountInfo(w, nickname, first) {
			return
		}
	}

	for {
		text, err := r.ReadFrame()
		if err != nil {
			return
		}
		if text != "" {
			s.recordMessage(text)
		}
		if err := w.WriteFrame(sendConfirmation); err != nil {
			return
		}
	}
}

func (s *Server) register(r *frame.Reader, w *frame.Writer) bool {
	if err := w.WriteFrame(nicknamePrompt); err != nil {
		return false
	}

	nickname, err := r.ReadFrame()
	if err != nil {
		return false
	}

	token := uuid.New().String()
	s.AddAccount(token, nickname)

	return s.sendAccountInfo(w, nickname, token)
}

func (s *Server) sendAccountInfo(w *frame.Writer, nickname, token string) bool {
	reply, err := json.Marshal(map[string]string{
		"nickname":     nickname,
		"account_hash": token,
	})
	if err != nil {
		return false
	}
	return w.WriteFrame(string(reply)) == nil
}

func (s *Server) lookupAccount(token string) (string, bool) {
	s.accountsMutex.Lock()
	defer s.accountsMutex.Unlock()
	nickname, ok := s.accounts[token]
	return nickname, ok
}

func (s *Server) countAuthAttempt() {
	s.authMutex.Lock()
	defer s.authMutex.Unlock()
	s.authAttempts++
}

func (s *Server) recordMessage(text string) {
	s.receivedMutex.Lock()
	s.received = append(s.received, text)
	s.receivedMutex.Unlock()

	select {
	case s.receivedCh <- text:
	default:
	}
}

func (s *Server) addConn(conn net.Conn) {
	s.connsMutex.Lock()
	defer s.connsMutex.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Server) removeConn(conn net.Conn) {
	s.connsMutex.Lock()
	defer s.connsMutex.Unlock()
	delete(s.conns, conn)
	delete(s.broadcastConns, conn)
}
