// Package poller is a thin wrapper over the OS readiness-notification
// interface: register/modify/remove a file descriptor, wait with a
// timeout, and enumerate ready events. On Linux this is epoll.
package poller

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/httpreactor/internal/constants"
)

// EventMask is a bitset of readiness conditions, mirroring the raw epoll
// event bits so callers can compose e.g. Readable|EdgeTriggered|OneShot.
type EventMask uint32

const (
	Readable      EventMask = unix.EPOLLIN
	Writable      EventMask = unix.EPOLLOUT
	EdgeTriggered EventMask = unix.EPOLLET
	OneShot       EventMask = unix.EPOLLONESHOT
	HangUp        EventMask = unix.EPOLLHUP | unix.EPOLLRDHUP | unix.EPOLLERR
)

// Event describes one ready file descriptor.
type Event struct {
	Fd     int
	Events EventMask
}

// Config configures a Poller.
type Config struct {
	// MaxEvents bounds how many ready events a single Wait call returns.
	MaxEvents int
}

// Poller wraps a single epoll instance.
type Poller struct {
	epfd   int
	events []unix.EpollEvent
}

// New creates a Poller backed by a fresh epoll instance.
func New(cfg Config) (*Poller, error) {
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = constants.DefaultPollerMaxEvents
	}
	fd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, err
	}
	return &Poller{epfd: fd, events: make([]unix.EpollEvent, cfg.MaxEvents)}, nil
}

// Add registers fd for the given event mask.
func (p *Poller) Add(fd int, mask EventMask) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Fd: int32(fd), Events: uint32(mask)})
}

// Modify rearms fd with a new event mask; used for one-shot re-dispatch.
func (p *Poller) Modify(fd int, mask EventMask) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Fd: int32(fd), Events: uint32(mask)})
}

// Remove deregisters fd.
func (p *Poller) Remove(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Wait blocks until at least one registered fd is ready or the timeout
// elapses. A negative timeout blocks indefinitely.
func (p *Poller) Wait(timeout time.Duration) ([]Event, error) {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout.Milliseconds())
	}
	n, err := unix.EpollWait(p.epfd, p.events, ms)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Event{Fd: int(p.events[i].Fd), Events: EventMask(p.events[i].Events)})
	}
	return out, nil
}

// Close releases the underlying epoll instance.
func (p *Poller) Close() error {
	return unix.Close(p.epfd)
}
