// form handlers: login and register POSTs rewrite the request path to the
// page the outcome deserves, the static fallback serves everything else
package server

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/s00inx/webserv/server/protocol"
	"github.com/s00inx/webserv/server/router"
)

// sqlTimeout bounds one form lookup so a wedged database cannot pin a
// worker forever.
const sqlTimeout = 3 * time.Second

func (s *WebServer) defaultRoutes() *router.Router {
	rt := router.New()
	rt.POST("/login.html", s.handleLogin)
	rt.POST("/register.html", s.handleRegister)
	return rt
}

func (s *WebServer) handleLogin(req *protocol.Request) int {
	name, pwd := req.Form("username"), req.Form("password")
	ok := false
	if s.users != nil {
		ctx, cancel := context.WithTimeout(context.Background(), sqlTimeout)
		ok = s.users.VerifyUser(ctx, name, pwd)
		cancel()
	}
	s.log.Debug("login", zap.String("user", name), zap.Bool("ok", ok))
	if ok {
		req.SetPath("/welcome.html")
	} else {
		req.SetPath("/error.html")
	}
	return -1
}

func (s *WebServer) handleRegister(req *protocol.Request) int {
	name, pwd := req.Form("username"), req.Form("password")
	ok := false
	if s.users != nil {
		ctx, cancel := context.WithTimeout(context.Background(), sqlTimeout)
		ok = s.users.RegisterUser(ctx, name, pwd)
		cancel()
	}
	s.log.Debug("register", zap.String("user", name), zap.Bool("ok", ok))
	if ok {
		req.SetPath("/welcome.html")
	} else {
		req.SetPath("/error.html")
	}
	return -1
}
