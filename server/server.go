// Package server is the reactor: one goroutine owns the listen socket,
// the epoll instance, the connection table and the timer heap, and hands
// per-connection read/write work to the worker pool. Oneshot interest
// keeps at most one worker on a connection; closes are funneled back to
// the reactor so table mutation stays single-threaded.
package server

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/s00inx/webserv/config"
	"github.com/s00inx/webserv/server/engine"
	"github.com/s00inx/webserv/server/router"
)

const (
	// maxFd caps the connection table; accepts beyond it are rejected
	// with a busy response.
	maxFd   = 65536
	backlog = 16
)

// UserStore answers the login/register forms. The SQL pool implements it;
// tests substitute an in-memory fake.
type UserStore interface {
	VerifyUser(ctx context.Context, name, pwd string) bool
	RegisterUser(ctx context.Context, name, pwd string) bool
}

type WebServer struct {
	port      int
	timeout   time.Duration
	optLinger bool
	srcDir    string

	listenFd    int
	wakeFd      int
	listenEvent uint32
	connEvent   uint32

	poller  *engine.Poller
	timer   *engine.TimerHeap
	workers *engine.WorkerPool
	conns   map[int]*engine.Conn

	routes *router.Router
	users  UserStore

	userCount atomic.Int64
	isClose   atomic.Bool
	closeCh   chan int
	done      chan struct{}

	log *zap.Logger
}

// New builds the listen socket, the poller and the worker pool. users may
// be nil, in which case every form submission fails to /error.html.
func New(cfg config.Config, log *zap.Logger, users UserStore) (*WebServer, error) {
	if log == nil {
		log = zap.NewNop()
	}
	srcDir, err := filepath.Abs(cfg.SrcDir)
	if err != nil {
		return nil, fmt.Errorf("src dir: %w", err)
	}

	s := &WebServer{
		port:      cfg.ListenPort,
		timeout:   time.Duration(cfg.IdleTimeoutMs) * time.Millisecond,
		optLinger: cfg.SoLinger,
		srcDir:    srcDir,
		listenFd:  -1,
		wakeFd:    -1,
		timer:     engine.NewTimerHeap(),
		conns:     make(map[int]*engine.Conn),
		users:     users,
		closeCh:   make(chan int, maxFd),
		done:      make(chan struct{}),
		log:       log,
	}
	s.initEventMode(cfg.TriggerMode)
	s.routes = s.defaultRoutes()

	s.poller, err = engine.NewPoller()
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	if err := s.initSocket(); err != nil {
		_ = s.poller.Close()
		return nil, err
	}
	if err := s.initWakeFd(); err != nil {
		_ = unix.Close(s.listenFd)
		_ = s.poller.Close()
		return nil, err
	}
	s.workers = engine.NewWorkerPool(cfg.WorkerThreads)

	log.Info("server configured",
		zap.Int("port", s.port),
		zap.Bool("listen_et", s.listenEvent&unix.EPOLLET != 0),
		zap.Bool("conn_et", s.connEvent&unix.EPOLLET != 0),
		zap.Duration("idle_timeout", s.timeout),
		zap.String("src_dir", s.srcDir),
		zap.Int("workers", cfg.WorkerThreads))
	return s, nil
}

// Port is the bound listen port, useful when configured with port 0.
func (s *WebServer) Port() int { return s.port }

// UserCount is the number of open client connections.
func (s *WebServer) UserCount() int64 { return s.userCount.Load() }

// initEventMode derives the epoll masks from the trigger mode bits:
// bit0 puts connections in edge trigger, bit1 the listener.
func (s *WebServer) initEventMode(trigMode int) {
	s.listenEvent = unix.EPOLLRDHUP
	s.connEvent = unix.EPOLLONESHOT | unix.EPOLLRDHUP
	if trigMode&1 != 0 {
		s.connEvent |= unix.EPOLLET
	}
	if trigMode&2 != 0 {
		s.listenEvent |= unix.EPOLLET
	}
}

func (s *WebServer) initSocket() error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("socket: %w", err)
	}
	if s.optLinger {
		// give a closing socket up to a second to flush
		if err := unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER,
			&unix.Linger{Onoff: 1, Linger: 1}); err != nil {
			_ = unix.Close(fd)
			return fmt.Errorf("so_linger: %w", err)
		}
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("so_reuseaddr: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: s.port}); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("bind port %d: %w", s.port, err)
	}
	if s.port == 0 {
		sa, err := unix.Getsockname(fd)
		if err != nil {
			_ = unix.Close(fd)
			return fmt.Errorf("getsockname: %w", err)
		}
		s.port = sa.(*unix.SockaddrInet4).Port
	}
	if err := unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("listen: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("nonblock: %w", err)
	}
	if err := s.poller.Add(fd, s.listenEvent|unix.EPOLLIN); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("register listener: %w", err)
	}
	s.listenFd = fd
	return nil
}

// initWakeFd sets up the eventfd workers poke to hand closes back to the
// reactor without waiting for the poll timeout.
func (s *WebServer) initWakeFd() error {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return fmt.Errorf("eventfd: %w", err)
	}
	if err := s.poller.Add(fd, unix.EPOLLIN); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("register eventfd: %w", err)
	}
	s.wakeFd = fd
	return nil
}

// Start runs the event loop until Stop or a fatal multiplexer error. The
// poll timeout follows the timer heap so idle expiry is timely without
// spurious wakeups.
func (s *WebServer) Start() error {
	defer close(s.done)
	s.log.Info("server start", zap.Int("port", s.port))

	var fatal error
	for !s.isClose.Load() {
		timeout := -1
		if s.timeout > 0 {
			timeout = s.timer.NextTickMs()
		}
		n, err := s.poller.Wait(timeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			s.log.Error("epoll wait", zap.Error(err))
			fatal = fmt.Errorf("epoll wait: %w", err)
			break
		}
		for i := range n {
			fd, ev := s.poller.Event(i)
			switch fd {
			case s.listenFd:
				s.dealListen()
			case s.wakeFd:
				s.drainWake()
			default:
				c, ok := s.conns[fd]
				if !ok {
					continue
				}
				switch {
				case ev&(unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0:
					s.closeConn(c)
				case ev&unix.EPOLLIN != 0:
					s.dealRead(c)
				case ev&unix.EPOLLOUT != 0:
					s.dealWrite(c)
				default:
					s.log.Error("unexpected epoll event",
						zap.Int("fd", fd), zap.Uint32("events", ev))
					s.closeConn(c)
				}
			}
		}
		s.drainCloses()
	}
	return multierr.Append(fatal, s.shutdown())
}

// Stop ends the loop and blocks until shutdown finished.
func (s *WebServer) Stop() {
	if s.isClose.CompareAndSwap(false, true) {
		s.wake()
	}
	<-s.done
}

// dealListen accepts until EAGAIN (or once, under level trigger). A full
// connection table answers with a plain busy response and closes.
func (s *WebServer) dealListen() {
	for {
		nfd, sa, err := unix.Accept(s.listenFd)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			if err == unix.EINTR {
				continue
			}
			s.log.Warn("accept", zap.Error(err))
			return
		}
		if len(s.conns) >= maxFd {
			s.sendBusy(nfd)
			s.log.Warn("connection table full, client rejected")
		} else {
			s.addClient(nfd, sa)
		}
		if s.listenEvent&unix.EPOLLET == 0 {
			return
		}
	}
}

func (s *WebServer) addClient(fd int, sa unix.Sockaddr) {
	peer := peerString(sa)
	if err := unix.SetNonblock(fd, true); err != nil {
		s.log.Warn("client nonblock", zap.Int("fd", fd), zap.Error(err))
		_ = unix.Close(fd)
		return
	}
	c := engine.NewConn(fd, peer, s.srcDir, s.connEvent&unix.EPOLLET != 0)
	s.conns[fd] = c
	if s.timeout > 0 {
		s.timer.Add(fd, s.timeout, func() { s.closeConn(c) })
	}
	if err := s.poller.Add(fd, s.connEvent|unix.EPOLLIN); err != nil {
		s.log.Warn("register client", zap.Int("fd", fd), zap.Error(err))
		s.timer.Remove(fd)
		delete(s.conns, fd)
		c.Close()
		return
	}
	s.userCount.Add(1)
	s.log.Info("client in",
		zap.Int("fd", fd), zap.String("peer", peer),
		zap.Int64("users", s.userCount.Load()))
}

// sendBusy is the accept back-pressure path: a one-shot 503 and close.
func (s *WebServer) sendBusy(fd int) {
	const msg = "HTTP/1.1 503 Service Unavailable\r\n" +
		"Connection: close\r\n" +
		"Content-Type: text/plain\r\n" +
		"Content-Length: 12\r\n\r\n" +
		"server busy!"
	if _, err := unix.Write(fd, []byte(msg)); err != nil {
		s.log.Warn("send busy", zap.Int("fd", fd), zap.Error(err))
	}
	_ = unix.Close(fd)
}

func (s *WebServer) dealRead(c *engine.Conn) {
	s.extendTime(c)
	s.workers.Submit(func() { s.onRead(c) })
}

func (s *WebServer) dealWrite(c *engine.Conn) {
	s.extendTime(c)
	s.workers.Submit(func() { s.onWrite(c) })
}

// extendTime pushes the idle deadline forward on any activity.
func (s *WebServer) extendTime(c *engine.Conn) {
	if s.timeout > 0 {
		s.timer.Adjust(c.Fd(), s.timeout)
	}
}

// onRead runs on a worker: drain the socket, then try to serve.
func (s *WebServer) onRead(c *engine.Conn) {
	if _, err := c.Read(); err != nil {
		// peer closed or a hard errno; EAGAIN never reaches here
		s.requestClose(c)
		return
	}
	s.onProcess(c)
}

// onProcess parses whatever is buffered and flips interest to write once
// a response is ready.
func (s *WebServer) onProcess(c *engine.Conn) {
	if c.Process(s.routes.Serve) {
		s.rearm(c, unix.EPOLLOUT)
	} else {
		s.rearm(c, unix.EPOLLIN)
	}
}

// onWrite runs on a worker: push the response out. A drained response
// either resets for the next keep-alive request or closes.
func (s *WebServer) onWrite(c *engine.Conn) {
	remaining, err := c.Write()
	if err != nil {
		s.requestClose(c)
		return
	}
	if remaining > 0 {
		// kernel buffer full, wait for the next write edge
		s.rearm(c, unix.EPOLLOUT)
		return
	}
	if c.KeepAlive() {
		c.ResetForNext()
		// pipelined bytes may already be buffered
		s.onProcess(c)
		return
	}
	s.requestClose(c)
}

// rearm re-enables oneshot interest. Failure normally means the reactor
// closed the fd underneath us (idle expiry), which is fine.
func (s *WebServer) rearm(c *engine.Conn, mask uint32) {
	if err := s.poller.Mod(c.Fd(), s.connEvent|mask); err != nil && !c.Closed() {
		s.log.Debug("rearm", zap.Int("fd", c.Fd()), zap.Error(err))
	}
}

// requestClose hands a connection back to the reactor for closing.
// Workers never mutate the connection table themselves.
func (s *WebServer) requestClose(c *engine.Conn) {
	select {
	case s.closeCh <- c.Fd():
		s.wake()
	default:
		s.log.Error("close queue full", zap.Int("fd", c.Fd()))
	}
}

func (s *WebServer) wake() {
	var one = [8]byte{1}
	_, _ = unix.Write(s.wakeFd, one[:])
}

func (s *WebServer) drainWake() {
	var buf [8]byte
	for {
		if _, err := unix.Read(s.wakeFd, buf[:]); err != nil {
			return
		}
	}
}

func (s *WebServer) drainCloses() {
	for {
		select {
		case fd := <-s.closeCh:
			if c, ok := s.conns[fd]; ok {
				s.closeConn(c)
			}
		default:
			return
		}
	}
}

// closeConn is reactor-only: drop the timer, unregister, remove from the
// table, and close, in that order.
func (s *WebServer) closeConn(c *engine.Conn) {
	if c.Closed() {
		return
	}
	fd := c.Fd()
	s.timer.Remove(fd)
	_ = s.poller.Del(fd)
	delete(s.conns, fd)
	c.Close()
	s.userCount.Add(-1)
	s.log.Info("client out",
		zap.Int("fd", fd), zap.String("peer", c.Peer()),
		zap.Int64("users", s.userCount.Load()))
}

// shutdown tears everything down: stop accepting, let workers drain,
// close every connection (releasing response mmaps), then the fds.
func (s *WebServer) shutdown() error {
	s.log.Info("server shutting down")
	var err error
	err = multierr.Append(err, s.poller.Del(s.listenFd))
	err = multierr.Append(err, unix.Close(s.listenFd))

	s.workers.Close()
	s.drainCloses()
	for _, c := range s.conns {
		s.closeConn(c)
	}

	err = multierr.Append(err, unix.Close(s.wakeFd))
	err = multierr.Append(err, s.poller.Close())
	s.log.Info("server stopped")
	return err
}

func peerString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.IP(a.Addr[:]).String() + ":" + strconv.Itoa(a.Port)
	case *unix.SockaddrInet6:
		return "[" + net.IP(a.Addr[:]).String() + "]:" + strconv.Itoa(a.Port)
	}
	return "unknown"
}
