// resumable HTTP/1.1 request parser
// consumes CRLF-framed lines from a connection buffer, one state step per
// line, and survives input split at any byte boundary
package protocol

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"

	"github.com/s00inx/webserv/server/buffer"
)

// ParseState is the position of the request state machine.
type ParseState int

const (
	StateRequestLine ParseState = iota
	StateHeaders
	StateBody
	StateFinish
)

// ParseResult tells the caller whether to keep reading or serve.
type ParseResult int

const (
	// NeedMore means the buffered bytes do not hold a full request yet.
	NeedMore ParseResult = iota
	// Done means the request is complete and its fields are valid.
	Done
)

var (
	crlf = []byte("\r\n")

	requestLineRe = regexp.MustCompile(`^([^ ]+) ([^ ]+) HTTP/([^ ]+)$`)
	headerLineRe  = regexp.MustCompile(`^([^:]+): ?(.*)$`)
)

// pages served by a bare name, e.g. GET /login is really /login.html
var defaultHTML = map[string]struct{}{
	"/index":    {},
	"/register": {},
	"/login":    {},
	"/welcome":  {},
	"/video":    {},
	"/picture":  {},
}

// Request is the parse target for one HTTP request. Fields other than the
// state are only meaningful once the state reaches StateFinish.
type Request struct {
	state ParseState

	method  string
	path    string
	version string
	body    []byte

	contentLen int
	header     map[string]string
	form       map[string]string
}

func NewRequest() *Request {
	r := &Request{}
	r.Init()
	return r
}

// Init resets the request so a keep-alive connection can reuse it.
func (r *Request) Init() {
	r.state = StateRequestLine
	r.method = ""
	r.path = ""
	r.version = ""
	r.body = nil
	r.contentLen = 0
	r.header = make(map[string]string)
	r.form = make(map[string]string)
}

func (r *Request) State() ParseState { return r.state }
func (r *Request) Method() string    { return r.method }
func (r *Request) Path() string      { return r.path }
func (r *Request) Version() string   { return r.version }

// SetPath rewrites the target, used by form handlers to pick the page
// served after login/register.
func (r *Request) SetPath(p string) { r.path = p }

// Header returns a header value by its as-received key.
func (r *Request) Header(key string) string { return r.header[key] }

// Form returns a decoded urlencoded body field.
func (r *Request) Form(key string) string { return r.form[key] }

// IsKeepAlive reports whether the peer asked to keep the connection open.
func (r *Request) IsKeepAlive() bool {
	return r.header["Connection"] == "keep-alive" && r.version == "1.1"
}

// Parse consumes as much of buf as the current state allows. It never
// consumes a partial line: without a CRLF in the buffer it reports
// NeedMore and leaves the read cursor where it was. A non-nil error is a
// protocol error and the connection should answer 400.
func (r *Request) Parse(buf *buffer.Buffer) (ParseResult, error) {
	for buf.ReadableBytes() > 0 && r.state != StateFinish {
		if r.state == StateBody {
			if !r.consumeBody(buf) {
				return NeedMore, nil
			}
			continue
		}

		readable := buf.Peek()
		idx := bytes.Index(readable, crlf)
		if idx < 0 {
			return NeedMore, nil
		}
		line := string(readable[:idx])
		buf.Retrieve(idx + 2)

		switch r.state {
		case StateRequestLine:
			if err := r.parseRequestLine(line); err != nil {
				return NeedMore, err
			}
			r.state = StateHeaders
		case StateHeaders:
			if line == "" {
				if err := r.endOfHeaders(); err != nil {
					return NeedMore, err
				}
			} else if err := r.parseHeaderLine(line); err != nil {
				return NeedMore, err
			}
		}
	}

	if r.state == StateFinish {
		return Done, nil
	}
	return NeedMore, nil
}

func (r *Request) parseRequestLine(line string) error {
	m := requestLineRe.FindStringSubmatch(line)
	if m == nil {
		return ErrBadRequest
	}
	if m[1] != "GET" && m[1] != "POST" {
		return ErrBadRequest
	}
	if hasDotDot(m[2]) {
		return ErrBadRequest
	}
	r.method = m[1]
	r.path = m[2]
	r.version = m[3]
	r.normalizePath()
	return nil
}

func (r *Request) parseHeaderLine(line string) error {
	m := headerLineRe.FindStringSubmatch(line)
	if m == nil {
		return ErrBadRequest
	}
	r.header[m[1]] = m[2]
	return nil
}

// endOfHeaders decides between BODY and FINISH based on Content-Length.
func (r *Request) endOfHeaders() error {
	cl, ok := r.header["Content-Length"]
	if !ok {
		r.finish()
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(cl))
	if err != nil || n < 0 {
		return ErrBadRequest
	}
	r.contentLen = n
	if n == 0 {
		r.finish()
		return nil
	}
	r.state = StateBody
	return nil
}

// consumeBody takes exactly Content-Length bytes, across as many reads as
// it takes. Reports true once the body is complete.
func (r *Request) consumeBody(buf *buffer.Buffer) bool {
	need := r.contentLen - len(r.body)
	readable := buf.Peek()
	take := min(need, len(readable))
	r.body = append(r.body, readable[:take]...)
	buf.Retrieve(take)
	if len(r.body) < r.contentLen {
		return false
	}
	r.finish()
	return true
}

func (r *Request) finish() {
	r.state = StateFinish
	r.parsePost()
}

// normalizePath maps "/" to the index page and bare well-known names to
// their .html files.
func (r *Request) normalizePath() {
	if r.path == "/" {
		r.path = "/index.html"
		return
	}
	last := strings.LastIndexByte(r.path, '/')
	if _, ok := defaultHTML[r.path[last:]]; ok {
		r.path += ".html"
	}
}

func (r *Request) parsePost() {
	if r.method != "POST" || r.header["Content-Type"] != "application/x-www-form-urlencoded" {
		return
	}
	if len(r.body) == 0 {
		return
	}
	for _, pair := range bytes.Split(r.body, []byte{'&'}) {
		if len(pair) == 0 {
			continue
		}
		eq := bytes.IndexByte(pair, '=')
		if eq < 0 {
			r.form[decodeComponent(pair)] = ""
			continue
		}
		r.form[decodeComponent(pair[:eq])] = decodeComponent(pair[eq+1:])
	}
}

// decodeComponent undoes urlencoding: '+' is space, %HH is a byte.
// Broken escapes pass through literally.
func decodeComponent(p []byte) string {
	out := make([]byte, 0, len(p))
	for i := 0; i < len(p); i++ {
		switch c := p[i]; c {
		case '+':
			out = append(out, ' ')
		case '%':
			if i+2 < len(p) {
				hi, lo := hexVal(p[i+1]), hexVal(p[i+2])
				if hi >= 0 && lo >= 0 {
					out = append(out, byte(hi<<4|lo))
					i += 2
					continue
				}
			}
			out = append(out, c)
		default:
			out = append(out, c)
		}
	}
	return string(out)
}

func hexVal(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	}
	return -1
}

func hasDotDot(path string) bool {
	for seg := range strings.SplitSeq(path, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}
