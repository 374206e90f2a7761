// Package reactor implements the readiness-notification event loop: it
// owns the listen socket, the multiplexer, the idle-timeout timer, the
// worker pool, and the fd-to-connection map, and dispatches ready events
// to the workers.
package reactor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/httpreactor/internal/conn"
	"github.com/ehrlich-b/httpreactor/internal/constants"
	"github.com/ehrlich-b/httpreactor/internal/httpproto"
	"github.com/ehrlich-b/httpreactor/internal/interfaces"
	"github.com/ehrlich-b/httpreactor/internal/logging"
	"github.com/ehrlich-b/httpreactor/internal/poller"
	"github.com/ehrlich-b/httpreactor/internal/timer"
	"github.com/ehrlich-b/httpreactor/internal/workerpool"
)

// TriggerMode selects which of the listen and connection fds are
// registered edge-triggered rather than level-triggered.
type TriggerMode int

const (
	LevelTriggered TriggerMode = iota
	ConnEdgeTriggered
	ListenEdgeTriggered
	BothEdgeTriggered
)

func (m TriggerMode) connEdge() bool {
	return m == ConnEdgeTriggered || m == BothEdgeTriggered
}

func (m TriggerMode) listenEdge() bool {
	return m == ListenEdgeTriggered || m == BothEdgeTriggered
}

// Config configures a Reactor. Port, Trigger, IdleTimeout, Linger, Workers
// and MaxEvents correspond directly to the server's process arguments.
type Config struct {
	Port        int
	Trigger     TriggerMode
	IdleTimeout time.Duration // 0 disables idle-timeout closure
	Linger      bool
	RootDir     string
	Workers     int
	MaxEvents   int

	Logger   interfaces.Logger
	Observer interfaces.Observer
	Auth     interfaces.Authenticator
}

// Reactor owns every piece of reactor-local state: the listen fd, the
// poller, the timer, the worker pool, and the fd→connection map. Only the
// goroutine running Run ever mutates the map, the poller registrations, or
// the timer; workers touch only the *conn.Conn they were handed and send
// the reactor a closure (via post) to apply any state change back on the
// reactor goroutine.
type Reactor struct {
	cfg Config

	listenFd int
	wakeFd   int

	poller *poller.Poller
	timer  *timer.Heap
	pool   *workerpool.Pool
	conns  map[int]*conn.Conn
	users  *conn.UserCount

	cmdCh chan func(*Reactor)
	done  chan struct{}
	once  sync.Once

	logger   interfaces.Logger
	observer interfaces.Observer
}

// New validates cfg, binds and registers the listen socket, and returns a
// Reactor ready for Run. An out-of-range port aborts startup.
func New(cfg Config) (*Reactor, error) {
	if cfg.Port < constants.MinPort || cfg.Port > constants.MaxPort {
		return nil, fmt.Errorf("reactor: port %d out of range [%d,%d]", cfg.Port, constants.MinPort, constants.MaxPort)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = constants.DefaultPollerMaxEvents
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Observer == nil {
		cfg.Observer = noopObserver{}
	}

	p, err := poller.New(poller.Config{MaxEvents: cfg.MaxEvents})
	if err != nil {
		return nil, fmt.Errorf("reactor: create poller: %w", err)
	}

	wakeFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("reactor: create eventfd: %w", err)
	}

	r := &Reactor{
		cfg:      cfg,
		wakeFd:   wakeFd,
		poller:   p,
		timer:    timer.New(),
		pool:     workerpool.New(cfg.Workers),
		conns:    make(map[int]*conn.Conn),
		users:    &conn.UserCount{},
		cmdCh:    make(chan func(*Reactor), 4096),
		done:     make(chan struct{}),
		logger:   cfg.Logger,
		observer: cfg.Observer,
	}

	if err := r.listen(); err != nil {
		_ = p.Close()
		_ = unix.Close(wakeFd)
		return nil, err
	}

	listenMask := poller.Readable
	if cfg.Trigger.listenEdge() {
		listenMask |= poller.EdgeTriggered
	}
	if err := r.poller.Add(r.listenFd, listenMask); err != nil {
		_ = unix.Close(r.listenFd)
		_ = p.Close()
		_ = unix.Close(wakeFd)
		return nil, fmt.Errorf("reactor: register listen fd: %w", err)
	}
	if err := r.poller.Add(r.wakeFd, poller.Readable); err != nil {
		_ = unix.Close(r.listenFd)
		_ = p.Close()
		_ = unix.Close(wakeFd)
		return nil, fmt.Errorf("reactor: register wake fd: %w", err)
	}

	return r, nil
}

// listen creates, configures, binds, and listens the TCP socket.
func (r *Reactor) listen() error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return fmt.Errorf("reactor: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("reactor: setsockopt SO_REUSEADDR: %w", err)
	}
	if r.cfg.Linger {
		ling := &unix.Linger{Onoff: 1, Linger: int32(constants.LingerTimeout / time.Second)}
		if err := unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, ling); err != nil {
			_ = unix.Close(fd)
			return fmt.Errorf("reactor: setsockopt SO_LINGER: %w", err)
		}
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: r.cfg.Port}); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("reactor: bind: %w", err)
	}
	if err := unix.Listen(fd, constants.ListenBacklog); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("reactor: listen: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("reactor: set nonblocking: %w", err)
	}
	r.listenFd = fd
	return nil
}

// Run blocks, driving the event loop until ctx is cancelled or Close is
// called, then tears down every owned resource.
func (r *Reactor) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, r.Close)
	defer stop()
	defer r.teardown()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.done:
			return nil
		default:
		}

		events, err := r.poller.Wait(r.waitTimeout())
		if err != nil {
			r.logger.Errorf("poller wait: %v", err)
			continue
		}

		r.drainCommands()
		r.drainWake()

		for _, ev := range events {
			switch ev.Fd {
			case r.wakeFd:
				continue
			case r.listenFd:
				r.acceptLoop()
			default:
				r.handleConnEvent(ev)
			}
		}
	}
}

// Close requests the event loop stop at its next iteration, waking the
// multiplexer wait so a fully idle reactor notices promptly. Idempotent.
func (r *Reactor) Close() {
	r.once.Do(func() {
		close(r.done)
		var b [8]byte
		b[0] = 1
		_, _ = unix.Write(r.wakeFd, b[:])
	})
}

// ActiveConnections reports the live, process-wide connection count.
func (r *Reactor) ActiveConnections() int64 { return r.users.Load() }

func (r *Reactor) teardown() {
	r.pool.Close()
	r.drainCommands()

	for fd, c := range r.conns {
		_ = r.poller.Remove(fd)
		c.Close()
		r.observer.ObserveClose()
		delete(r.conns, fd)
	}

	r.timer.Clear()
	_ = r.poller.Close()
	_ = unix.Close(r.listenFd)
	_ = unix.Close(r.wakeFd)
}

// waitTimeout computes the multiplexer wait budget: the timer's
// next-deadline delta when idle timeouts are enabled (firing any already
// expired timers as a side effect of NextTickMS), or -1 (block
// indefinitely) otherwise.
func (r *Reactor) waitTimeout() time.Duration {
	if r.cfg.IdleTimeout <= 0 {
		return -1
	}
	ms := r.timer.NextTickMS()
	if ms < 0 {
		return -1
	}
	return time.Duration(ms) * time.Millisecond
}

func (r *Reactor) acceptLoop() {
	for {
		nfd, sa, err := unix.Accept(r.listenFd)
		if err != nil {
			if !errors.Is(err, unix.EAGAIN) {
				r.logger.Warnf("accept: %v", err)
			}
			return
		}
		r.addClient(nfd, sa)
		if !r.cfg.Trigger.listenEdge() {
			return
		}
	}
}

func (r *Reactor) addClient(nfd int, sa unix.Sockaddr) {
	if r.users.Load() >= constants.MaxConnections {
		r.logger.Warnf("rejecting connection: at capacity (%d)", constants.MaxConnections)
		_, _ = unix.Write(nfd, []byte("HTTP/1.1 503 Service Unavailable\r\nConnection: close\r\n\r\n"))
		_ = unix.Close(nfd)
		return
	}
	if err := unix.SetNonblock(nfd, true); err != nil {
		_ = unix.Close(nfd)
		return
	}

	c := conn.New(r.cfg.RootDir, r.cfg.Trigger.connEdge(), r.users)
	c.Init(nfd, formatSockaddr(sa))
	r.conns[nfd] = c

	if r.cfg.IdleTimeout > 0 {
		r.timer.Add(nfd, r.cfg.IdleTimeout, r.onIdleExpire)
	}

	mask := poller.Readable | poller.OneShot | poller.HangUp
	if r.cfg.Trigger.connEdge() {
		mask |= poller.EdgeTriggered
	}
	if err := r.poller.Add(nfd, mask); err != nil {
		r.closeConn(nfd)
		return
	}
	r.observer.ObserveAccept()
	r.logger.Debugf("accepted fd=%d addr=%s users=%d", nfd, c.Addr, r.users.Load())
}

// onIdleExpire is the timer callback bound to a connection's fd at
// add-client time; it runs synchronously on the reactor goroutine as part
// of waitTimeout's NextTickMS call.
func (r *Reactor) onIdleExpire(fd int) {
	r.observer.ObserveTimerExpiry()
	r.closeConn(fd)
}

// closeConn removes fd from every reactor-owned structure and releases
// the connection. Must only run on the reactor goroutine.
func (r *Reactor) closeConn(fd int) {
	c, ok := r.conns[fd]
	if !ok {
		return
	}
	delete(r.conns, fd)
	r.timer.Remove(fd)
	_ = r.poller.Remove(fd)
	c.Close()
	r.observer.ObserveClose()
	r.logger.Debugf("closed fd=%d users=%d", fd, r.users.Load())
}

func (r *Reactor) handleConnEvent(ev poller.Event) {
	c, ok := r.conns[ev.Fd]
	if !ok {
		return
	}
	if ev.Events&poller.HangUp != 0 {
		r.closeConn(ev.Fd)
		return
	}
	if ev.Events&poller.Readable != 0 {
		if r.cfg.IdleTimeout > 0 {
			r.timer.Adjust(ev.Fd, r.cfg.IdleTimeout)
		}
		r.submitRead(c, ev.Fd)
	}
	if ev.Events&poller.Writable != 0 {
		if r.cfg.IdleTimeout > 0 {
			r.timer.Adjust(ev.Fd, r.cfg.IdleTimeout)
		}
		r.submitWrite(c, ev.Fd)
	}
	r.observer.ObserveQueueDepth(r.pool.QueueDepth())
}

// submitRead posts connection.Read + on_process to the worker pool. A
// failed read (EOF or a non-transient error) closes the connection;
// otherwise runProcess decides whether to rearm for more bytes or for a
// write.
func (r *Reactor) submitRead(c *conn.Conn, fd int) {
	r.pool.Submit(func() {
		n, err := c.Read()
		if n <= 0 && !isTransient(err) {
			r.post(func(rr *Reactor) { rr.closeConn(fd) })
			return
		}
		r.runProcess(c, fd)
	})
}

// runProcess drives the parser/responder and rearms per the
// Incomplete/Malformed/Complete result: Incomplete needs more bytes
// (rearm readable); Malformed and Complete both have a response queued in
// the write buffer (rearm writable).
func (r *Reactor) runProcess(c *conn.Conn, fd int) {
	result := c.Process(context.Background(), r.cfg.Auth)
	switch result {
	case httpproto.Incomplete:
		r.post(func(rr *Reactor) { rr.rearm(fd, poller.Readable) })
	case httpproto.Malformed:
		r.observer.ObserveRequest(c.StatusCode(), true)
		r.post(func(rr *Reactor) { rr.rearm(fd, poller.Writable) })
	default: // Complete
		r.observer.ObserveRequest(c.StatusCode(), false)
		r.logger.Debugf("request fd=%d %s %s HTTP/%s -> %d", fd,
			c.Request.Method, c.Request.Path, c.Request.Version, c.StatusCode())
		r.post(func(rr *Reactor) { rr.rearm(fd, poller.Writable) })
	}
}

// submitWrite posts connection.Write to the worker pool. A fully drained
// write re-enters on_process (handling both "more pipelined bytes already
// buffered" and "wait for the next read" through the same Incomplete
// path) when keep-alive holds, or closes otherwise; a non-transient write
// error closes unconditionally.
func (r *Reactor) submitWrite(c *conn.Conn, fd int) {
	r.pool.Submit(func() {
		_, err := c.Write()
		if c.ToWriteBytes() == 0 {
			if c.KeepAlive() {
				r.runProcess(c, fd)
			} else {
				r.post(func(rr *Reactor) { rr.closeConn(fd) })
			}
			return
		}
		if err != nil && !isTransient(err) {
			r.post(func(rr *Reactor) { rr.closeConn(fd) })
			return
		}
		r.post(func(rr *Reactor) { rr.rearm(fd, poller.Writable) })
	})
}

// rearm re-registers fd for direction, preserving one-shot and hang-up
// delivery so a fd is never dispatched to two workers concurrently.
func (r *Reactor) rearm(fd int, direction poller.EventMask) {
	if _, ok := r.conns[fd]; !ok {
		return
	}
	mask := direction | poller.OneShot | poller.HangUp
	if r.cfg.Trigger.connEdge() {
		mask |= poller.EdgeTriggered
	}
	if err := r.poller.Modify(fd, mask); err != nil {
		r.closeConn(fd)
	}
}

// post schedules fn to run on the reactor goroutine and wakes the
// multiplexer wait so it runs promptly instead of waiting for the next
// natural event. Workers never touch the connection map, poller, or
// timer directly.
func (r *Reactor) post(fn func(*Reactor)) {
	r.cmdCh <- fn
	var b [8]byte
	b[0] = 1
	_, _ = unix.Write(r.wakeFd, b[:])
}

func (r *Reactor) drainCommands() {
	for {
		select {
		case fn := <-r.cmdCh:
			fn(r)
		default:
			return
		}
	}
}

func (r *Reactor) drainWake() {
	var buf [8]byte
	for {
		if _, err := unix.Read(r.wakeFd, buf[:]); err != nil {
			return
		}
	}
}

func isTransient(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

func formatSockaddr(sa unix.Sockaddr) string {
	switch s := sa.(type) {
	case *unix.SockaddrInet4:
		return fmt.Sprintf("%d.%d.%d.%d:%d", s.Addr[0], s.Addr[1], s.Addr[2], s.Addr[3], s.Port)
	case *unix.SockaddrInet6:
		return fmt.Sprintf("[%x]:%d", s.Addr, s.Port)
	default:
		return "unknown"
	}
}

// noopObserver is the package-private fallback used when Config.Observer
// is nil, so this package doesn't need to import the composition root's
// Observer implementations.
type noopObserver struct{}

func (noopObserver) ObserveAccept()                          {}
func (noopObserver) ObserveClose()                           {}
func (noopObserver) ObserveRequest(statusCode int, bad bool) {}
func (noopObserver) ObserveTimerExpiry()                     {}
func (noopObserver) ObserveQueueDepth(depth int)             {}

var _ interfaces.Observer = noopObserver{}
