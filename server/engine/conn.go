// per-fd connection state: read side, parser, response, gathered write
// side. Exactly one worker touches a Conn at a time (oneshot interest
// guarantees it); the reactor only creates and closes them.
package engine

import (
	"io"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/s00inx/webserv/server/buffer"
	"github.com/s00inx/webserv/server/protocol"
)

// RouteFunc inspects a finished request, may rewrite its path (form
// handlers do), and returns the status code to build with, -1 for
// "decide from the filesystem".
type RouteFunc func(req *protocol.Request) int

type Conn struct {
	fd   int
	peer string

	isET   bool
	srcDir string

	readBuf  *buffer.Buffer
	writeBuf *buffer.Buffer

	req  *protocol.Request
	resp *protocol.Response

	// iov[0] is the rendered head in writeBuf, iov[1] the mmap body.
	// Both advance independently as the kernel takes bytes.
	iov [2][]byte

	keepAlive bool
	closed    atomic.Bool
}

func NewConn(fd int, peer, srcDir string, isET bool) *Conn {
	return &Conn{
		fd:       fd,
		peer:     peer,
		isET:     isET,
		srcDir:   srcDir,
		readBuf:  buffer.New(2048),
		writeBuf: buffer.New(1024),
		req:      protocol.NewRequest(),
		resp:     &protocol.Response{},
	}
}

func (c *Conn) Fd() int      { return c.fd }
func (c *Conn) Peer() string { return c.peer }

// KeepAlive is the decision made for the current response; false after a
// protocol error regardless of what the peer asked for.
func (c *Conn) KeepAlive() bool { return c.keepAlive }

// ToWriteBytes is how much of the current response is still unsent.
func (c *Conn) ToWriteBytes() int { return len(c.iov[0]) + len(c.iov[1]) }

// Read drains the socket into the read buffer. Under edge trigger it
// loops until EAGAIN, which is the loop invariant that keeps events from
// being lost; level trigger reads once. io.EOF means the peer closed.
func (c *Conn) Read() (int, error) {
	total := 0
	for {
		n, err := c.readBuf.ReadFd(c.fd)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return total, nil
			}
			return total, err
		}
		if n == 0 {
			return total, io.EOF
		}
		total += n
		if !c.isET {
			return total, nil
		}
	}
}

// Process feeds the parser. If a full request arrived it routes, builds
// the response, and points the iovecs at head and body; true tells the
// caller to flip interest to write. NeedMore returns false and the caller
// re-arms read.
func (c *Conn) Process(route RouteFunc) bool {
	res, err := c.req.Parse(c.readBuf)
	switch {
	case err != nil:
		c.keepAlive = false
		// the request path may be unset or unrelated after a parse error;
		// point the builder at the 400 page so the status does not depend
		// on whether that path exists
		c.resp.Init(c.srcDir, "/400.html", false, 400)
	case res == protocol.NeedMore:
		return false
	default:
		code := -1
		if route != nil {
			code = route(c.req)
		}
		c.keepAlive = c.req.IsKeepAlive()
		c.resp.Init(c.srcDir, c.req.Path(), c.keepAlive, code)
	}

	c.writeBuf.RetrieveAll()
	c.resp.MakeResponse(c.writeBuf)
	c.iov[0] = c.writeBuf.Peek()
	c.iov[1] = nil
	if c.resp.FileLen() > 0 {
		c.iov[1] = c.resp.File()
	}
	return true
}

// Write pushes both iovec regions with gathered writes until the response
// is fully sent or the socket refuses more. Returns the bytes still
// pending; when it is non-zero with a nil error the caller re-arms write
// interest and retries on the next readiness edge.
func (c *Conn) Write() (int, error) {
	for {
		var vecs [][]byte
		if len(c.iov[0]) > 0 {
			vecs = append(vecs, c.iov[0])
		}
		if len(c.iov[1]) > 0 {
			vecs = append(vecs, c.iov[1])
		}
		if len(vecs) == 0 {
			return 0, nil
		}

		n, err := unix.Writev(c.fd, vecs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return c.ToWriteBytes(), nil
			}
			return c.ToWriteBytes(), err
		}
		c.advance(n)
		if c.ToWriteBytes() == 0 {
			return 0, nil
		}
	}
}

// advance moves each iovec past the n bytes the kernel accepted, head
// first, then body.
func (c *Conn) advance(n int) {
	if n >= len(c.iov[0]) {
		rest := n - len(c.iov[0])
		if len(c.iov[0]) > 0 {
			c.iov[0] = nil
			c.writeBuf.RetrieveAll()
		}
		c.iov[1] = c.iov[1][rest:]
		return
	}
	c.iov[0] = c.iov[0][n:]
	c.writeBuf.Retrieve(n)
}

// ResetForNext restores the connection to its pre-request state for the
// next keep-alive request. Unconsumed pipelined bytes in the read buffer
// survive.
func (c *Conn) ResetForNext() {
	c.req.Init()
	c.resp.UnmapFile()
	c.writeBuf.RetrieveAll()
	c.iov[0], c.iov[1] = nil, nil
	c.keepAlive = false
}

// Close releases the mmap and the fd once. The reactor is the only caller
// during normal operation, so table removal stays single-threaded.
func (c *Conn) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.resp.UnmapFile()
	_ = unix.Close(c.fd)
}

// Closed reports whether Close already ran.
func (c *Conn) Closed() bool { return c.closed.Load() }
