// thin epoll wrapper
// only fd registration and the wait call, no dispatch logic
package engine

import (
	"golang.org/x/sys/unix"
)

const maxEvents = 1024

// Poller owns one epoll instance. Wait is called from the reactor only;
// Mod is also called from workers to re-arm oneshot interest, which is a
// plain syscall and needs no locking.
type Poller struct {
	epfd   int
	events []unix.EpollEvent
}

func NewPoller() (*Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Poller{
		epfd:   epfd,
		events: make([]unix.EpollEvent, maxEvents),
	}, nil
}

func (p *Poller) ctl(op, fd int, events uint32) error {
	if events == 0 {
		return unix.EpollCtl(p.epfd, op, fd, nil)
	}
	return unix.EpollCtl(p.epfd, op, fd, &unix.EpollEvent{
		Events: events,
		Fd:     int32(fd),
	})
}

// Add registers fd with the given interest mask.
func (p *Poller) Add(fd int, events uint32) error {
	return p.ctl(unix.EPOLL_CTL_ADD, fd, events)
}

// Mod replaces the interest mask, re-arming a oneshot registration.
func (p *Poller) Mod(fd int, events uint32) error {
	return p.ctl(unix.EPOLL_CTL_MOD, fd, events)
}

// Del removes fd from the interest set.
func (p *Poller) Del(fd int) error {
	return p.ctl(unix.EPOLL_CTL_DEL, fd, 0)
}

// Wait blocks for up to timeoutMs (-1 blocks forever) and returns the
// number of ready events. EINTR is passed through for the caller to retry.
func (p *Poller) Wait(timeoutMs int) (int, error) {
	return unix.EpollWait(p.epfd, p.events, timeoutMs)
}

// Event returns the i-th ready event from the last Wait.
func (p *Poller) Event(i int) (fd int, events uint32) {
	return int(p.events[i].Fd), p.events[i].Events
}

func (p *Poller) Close() error {
	return unix.Close(p.epfd)
}
