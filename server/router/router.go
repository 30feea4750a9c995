// method+path dispatch for the handful of form actions layered over the
// static file fallback
package router

import (
	"github.com/s00inx/webserv/server/protocol"
)

// HandlerFunc runs against a finished request. It may rewrite the request
// path to pick the page served next, and returns the status code to build
// with, -1 to let the builder decide from the filesystem.
type HandlerFunc func(req *protocol.Request) int

type Router struct {
	routes map[string]map[string]HandlerFunc
}

func New() *Router {
	return &Router{routes: make(map[string]map[string]HandlerFunc)}
}

// Handle registers h for an exact method+path pair. The served route set
// is closed, so there is no prefix or parameter matching.
func (r *Router) Handle(method, path string, h HandlerFunc) {
	byPath := r.routes[method]
	if byPath == nil {
		byPath = make(map[string]HandlerFunc)
		r.routes[method] = byPath
	}
	byPath[path] = h
}

func (r *Router) GET(path string, h HandlerFunc)  { r.Handle("GET", path, h) }
func (r *Router) POST(path string, h HandlerFunc) { r.Handle("POST", path, h) }

// Serve dispatches req to its handler, or returns -1 so the caller falls
// through to static file serving.
func (r *Router) Serve(req *protocol.Request) int {
	if h, ok := r.routes[req.Method()][req.Path()]; ok {
		return h(req)
	}
	return -1
}
