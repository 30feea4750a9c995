package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s00inx/webserv/server/buffer"
	"github.com/s00inx/webserv/server/protocol"
)

func parsed(t *testing.T, raw string) *protocol.Request {
	t.Helper()
	buf := buffer.New(64)
	buf.AppendString(raw)
	req := protocol.NewRequest()
	res, err := req.Parse(buf)
	require.NoError(t, err)
	require.Equal(t, protocol.Done, res)
	return req
}

func TestDispatch(t *testing.T) {
	rt := New()
	rt.POST("/login.html", func(req *protocol.Request) int {
		req.SetPath("/welcome.html")
		return -1
	})
	rt.GET("/status", func(req *protocol.Request) int {
		return 200
	})

	req := parsed(t, "POST /login HTTP/1.1\r\nContent-Length: 0\r\n\r\n")
	// the parser already aliased /login to /login.html
	assert.Equal(t, -1, rt.Serve(req))
	assert.Equal(t, "/welcome.html", req.Path())

	req = parsed(t, "GET /status HTTP/1.1\r\n\r\n")
	assert.Equal(t, 200, rt.Serve(req))
}

func TestNoMatchFallsThrough(t *testing.T) {
	rt := New()
	rt.POST("/login.html", func(req *protocol.Request) int { return 200 })

	// same path, different method
	req := parsed(t, "GET /login HTTP/1.1\r\n\r\n")
	assert.Equal(t, -1, rt.Serve(req))
	assert.Equal(t, "/login.html", req.Path())

	req = parsed(t, "GET /index.html HTTP/1.1\r\n\r\n")
	assert.Equal(t, -1, rt.Serve(req))
}
