package chat

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cbodonnell/minechat/pkg/auth"
	"github.com/cbodonnell/minechat/pkg/frame"
	"github.com/cbodonnell/minechat/pkg/history"
	"github.com/cbodonnell/minechat/pkg/log"
	"github.com/cbodonnell/minechat/pkg/queue"
)

const (
	DefaultDialTimeout       = 10 * time.Second
	DefaultBackoffBase       = 1 * time.Second
	DefaultBackoffMax        = 30 * time.Second
	DefaultKeepaliveInterval = 30 * time.Second
	DefaultKeepaliveTimeout  = 5 * time.Second

	eventQueueCapacity = 64
)

// Supervisor runs the two chat connections and keeps them alive. The
// listen connection streams broadcast messages into the history store;
// the send connection authenticates with the token and carries
// outbound messages. Each role reconnects on its own with exponential
// backoff, and the backoff only resets after a successful exchange
// with the server, so a half-working link cannot defeat it.
type Supervisor struct {
	listenAddr        string
	sendAddr          string
	token             string
	store             history.Store
	dialTimeout       time.Duration
	keepaliveInterval time.Duration
	keepaliveTimeout  time.Duration
	watchdogThreshold time.Duration

	observers *Observers
	backoffs  map[Role]*Backoff
	events    queue.Queue
	listener  *listener
	sender    *Sender

	connsMutex sync.Mutex
	conns      map[Role]net.Conn

	accountMutex sync.Mutex
	account      string

	cancelCtx context.CancelFunc
	wg        *sync.WaitGroup
	errCh     chan error
}

// NewSupervisorOptions are the options for creating a new Supervisor.
type NewSupervisorOptions struct {
	// ListenAddr is the address of the broadcast stream.
	ListenAddr string
	// SendAddr is the address of the authenticated send channel.
	SendAddr string
	// Token authenticates the send connection.
	Token string
	// Store receives every message from the broadcast stream.
	Store history.Store
	// DialTimeout bounds each connection attempt.
	DialTimeout time.Duration
	// BackoffBase is the first reconnect delay.
	BackoffBase time.Duration
	// BackoffMax caps the reconnect delay.
	BackoffMax time.Duration
	// KeepaliveInterval is the idle time between keepalive probes on
	// the send connection. A negative interval disables keepalives.
	KeepaliveInterval time.Duration
	// KeepaliveTimeout bounds the wait for a keepalive reply.
	KeepaliveTimeout time.Duration
	// WatchdogThreshold is how long a connection may stay silent
	// before it is force-closed and redialed. Zero disables the
	// watchdog.
	WatchdogThreshold time.Duration
}

// NewSupervisor creates a new Supervisor. Zero durations in the
// options fall back to the package defaults.
func NewSupervisor(opts NewSupervisorOptions) *Supervisor {
	if opts.DialTimeout == 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.BackoffBase == 0 {
		opts.BackoffBase = DefaultBackoffBase
	}
	if opts.BackoffMax == 0 {
		opts.BackoffMax = DefaultBackoffMax
	}
	if opts.KeepaliveInterval == 0 {
		opts.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if opts.KeepaliveTimeout == 0 {
		opts.KeepaliveTimeout = DefaultKeepaliveTimeout
	}

	observers := NewObservers()

	var events queue.Queue
	if opts.WatchdogThreshold > 0 {
		events = queue.NewInMemoryQueue(eventQueueCapacity)
	}

	backoffs := map[Role]*Backoff{
		RoleListen: NewBackoff(opts.BackoffBase, opts.BackoffMax),
		RoleSend:   NewBackoff(opts.BackoffBase, opts.BackoffMax),
	}

	return &Supervisor{
		listenAddr:        opts.ListenAddr,
		sendAddr:          opts.SendAddr,
		token:             opts.Token,
		store:             opts.Store,
		dialTimeout:       opts.DialTimeout,
		keepaliveInterval: opts.KeepaliveInterval,
		keepaliveTimeout:  opts.KeepaliveTimeout,
		watchdogThreshold: opts.WatchdogThreshold,
		observers:         observers,
		backoffs:          backoffs,
		events:            events,
		listener: &listener{
			store:     opts.Store,
			observers: observers,
			alive: &liveness{
				role:    RoleListen,
				backoff: backoffs[RoleListen],
				events:  events,
			},
		},
		sender: newSender(&liveness{
			role:    RoleSend,
			backoff: backoffs[RoleSend],
			events:  events,
		}),
		conns: make(map[Role]net.Conn),
		wg:    &sync.WaitGroup{},
		errCh: make(chan error, 2),
	}
}

// RegisterObserver registers an observer for messages and status
// updates. Observers must be registered before Start.
func (s *Supervisor) RegisterObserver(observer Observer) {
	s.observers.RegisterObserver(observer)
}

// Start starts both connection loops and the watchdog. It returns
// immediately; connection failures are retried internally and fatal
// errors are delivered on ErrChan.
func (s *Supervisor) Start() error {
	if s.cancelCtx != nil {
		return fmt.Errorf("supervisor is already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelCtx = cancel

	s.wg.Add(1)
	go func(ctx context.Context) {
		defer s.wg.Done()
		s.runRole(ctx, RoleListen, s.listenAddr, s.listener.stream)
	}(ctx)

	s.wg.Add(1)
	go func(ctx context.Context) {
		defer s.wg.Done()
		s.runRole(ctx, RoleSend, s.sendAddr, s.runSend)
	}(ctx)

	if s.watchdogThreshold > 0 {
		w := newWatchdog(s.events, s.watchdogThreshold, s.closeConnection)
		s.wg.Add(1)
		go func(ctx context.Context) {
			defer s.wg.Done()
			w.run(ctx)
		}(ctx)
	}

	return nil
}

// runRole dials the role's address and hands the connection to the
// handler, reconnecting with backoff whenever the handler returns. A
// rejected token stops the role for good and surfaces on ErrChan.
func (s *Supervisor) runRole(ctx context.Context, role Role, addr string, handle func(ctx context.Context, conn net.Conn) error) {
	for {
		if ctx.Err() != nil {
			return
		}

		attempt := s.backoffs[role].Attempts() + 1
		s.observers.NotifyStatus(Status{Role: role, State: StateConnecting, Attempt: attempt})
		log.Debug("Connecting %s to %s (attempt %d)", role, addr, attempt)

		conn, err := net.DialTimeout("tcp", addr, s.dialTimeout)
		if err != nil {
			log.Warn("Failed to connect %s to %s: %v", role, addr, err)
			s.observers.NotifyStatus(Status{Role: role, State: StateDisconnected, Attempt: attempt, Err: err})
			if !s.waitBackoff(ctx, role) {
				return
			}
			continue
		}

		s.setConnection(role, conn)
		// Stop may have closed the registered connections before this
		// one was registered.
		if ctx.Err() != nil {
			s.clearConnection(role)
			conn.Close()
			return
		}

		err = handle(ctx, conn)
		s.clearConnection(role)
		conn.Close()

		if ctx.Err() != nil {
			return
		}

		if auth.IsInvalidToken(err) {
			log.Error("Server rejected the token on the %s connection", role)
			s.observers.NotifyStatus(Status{Role: role, State: StateDisconnected, Err: err})
			s.surfaceError(err)
			return
		}

		if err != nil {
			log.Warn("The %s connection failed: %v", role, err)
		}
		s.observers.NotifyStatus(Status{Role: role, State: StateDisconnected, Err: err})

		if !s.waitBackoff(ctx, role) {
			return
		}
	}
}

// runSend authenticates the connection and parks it for Send, probing
// with keepalives while it is idle.
func (s *Supervisor) runSend(ctx context.Context, conn net.Conn) error {
	r := frame.NewReader(conn)
	w := frame.NewWriter(conn)

	s.observers.NotifyStatus(Status{Role: RoleSend, State: StateAuthenticating})

	result, err := auth.Authenticate(r, w, s.token)
	if err != nil {
		return err
	}

	failedCh := s.sender.attach(conn, r, w)
	defer s.sender.detach()

	s.setAccount(result.Account)
	s.sender.alive.exchange("authorization done")
	s.observers.NotifyStatus(Status{Role: RoleSend, State: StateReady, Account: result.Account})

	if s.keepaliveInterval < 0 {
		select {
		case <-ctx.Done():
			return nil
		case <-failedCh:
			return fmt.Errorf("send connection failed")
		}
	}

	ticker := time.NewTicker(s.keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-failedCh:
			return fmt.Errorf("send connection failed")
		case <-ticker.C:
			if err := s.sender.keepalive(s.keepaliveTimeout); err != nil {
				if IsNotConnected(err) {
					continue
				}
				return err
			}
		}
	}
}

// waitBackoff waits out the role's next backoff delay. It returns
// false when the supervisor was stopped while waiting.
func (s *Supervisor) waitBackoff(ctx context.Context, role Role) bool {
	delay := s.backoffs[role].Next()
	log.Info("Reconnecting %s in %s", role, delay.Round(time.Millisecond))
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

func (s *Supervisor) setConnection(role Role, conn net.Conn) {
	s.connsMutex.Lock()
	defer s.connsMutex.Unlock()
	s.conns[role] = conn
}

func (s *Supervisor) clearConnection(role Role) {
	s.connsMutex.Lock()
	defer s.connsMutex.Unlock()
	delete(s.conns, role)
}

// closeConnection force-closes a role's live connection, if any. The
// role's loop sees the read fail and goes through its normal
// reconnect path.
func (s *Supervisor) closeConnection(role Role) {
	s.connsMutex.Lock()
	defer s.connsMutex.Unlock()
	if conn, ok := s.conns[role]; ok {
		conn.Close()
	}
}

func (s *Supervisor) closeAllConnections() {
	s.connsMutex.Lock()
	defer s.connsMutex.Unlock()
	for role, conn := range s.conns {
		conn.Close()
		delete(s.conns, role)
	}
}

// Stop stops both connection loops and waits for them to finish. It is
// safe to call Stop more than once.
func (s *Supervisor) Stop() error {
	if s.cancelCtx == nil {
		log.Warn("Supervisor already stopped")
		return nil
	}
	s.cancelCtx()

	s.closeAllConnections()

	log.Debug("Waiting for connections to stop")
	s.wg.Wait()

	s.cancelCtx = nil

	log.Info("Supervisor stopped")

	return nil
}

// Send sends one chat message over the authenticated connection.
func (s *Supervisor) Send(text string) error {
	return s.sender.Send(text)
}

// Account returns the account name confirmed by the most recent
// authentication, or an empty string before the first one.
func (s *Supervisor) Account() string {
	s.accountMutex.Lock()
	defer s.accountMutex.Unlock()
	return s.account
}

func (s *Supervisor) setAccount(account string) {
	s.accountMutex.Lock()
	defer s.accountMutex.Unlock()
	s.account = account
}

// ErrChan delivers fatal errors, such as a rejected token. The
// affected role is stopped; the other role keeps running.
func (s *Supervisor) ErrChan() <-chan error {
	return s.errCh
}

// surfaceError delivers a fatal error without blocking the connection
// goroutine.
func (s *Supervisor) surfaceError(err error) {
	select {
	case s.errCh <- err:
	default:
		log.Warn("Dropping error: %v", err)
	}
}
