// response builder: status line + headers into the write buffer, body as a
// read-only private mmap of the target file served through the second
// iovec entry
package protocol

import (
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/s00inx/webserv/server/buffer"
)

// codeStatus is the reason phrase per surfaced status code.
var codeStatus = map[int]string{
	200: "OK",
	400: "Bad Request",
	403: "Forbidden",
	404: "Not Found",
	500: "Internal Server Error",
}

// codePath remaps error codes to their canonical page under the static root.
var codePath = map[int]string{
	400: "/400.html",
	403: "/403.html",
	404: "/404.html",
	500: "/500.html",
}

// suffixType maps a file suffix to its Content-Type, default text/plain.
var suffixType = map[string]string{
	".html":  "text/html",
	".xml":   "text/xml",
	".xhtml": "application/xhtml+xml",
	".txt":   "text/plain",
	".rtf":   "application/rtf",
	".pdf":   "application/pdf",
	".word":  "application/msword",
	".png":   "image/png",
	".gif":   "image/gif",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".au":    "audio/basic",
	".mpeg":  "video/mpeg",
	".mpg":   "video/mpeg",
	".avi":   "video/x-msvideo",
	".gz":    "application/x-gzip",
	".tar":   "application/x-tar",
	".css":   "text/css",
	".js":    "text/javascript",
}

// Response renders one reply. The mapped file, when set, belongs to the
// response and must be released with UnmapFile before reuse or close.
type Response struct {
	code      int
	keepAlive bool

	path   string
	srcDir string

	file     []byte
	fileStat unix.Stat_t
}

// Init primes the response for one request. code -1 means "not decided
// yet": MakeResponse picks 200/403/404 from the filesystem.
func (r *Response) Init(srcDir, path string, keepAlive bool, code int) {
	if r.file != nil {
		r.UnmapFile()
	}
	r.code = code
	r.keepAlive = keepAlive
	r.srcDir = srcDir
	r.path = path
	r.fileStat = unix.Stat_t{}
}

func (r *Response) Code() int { return r.code }

// File is the mapped body, nil when the body is inline in the buffer.
func (r *Response) File() []byte { return r.file }

// FileLen is the size of the mapped body.
func (r *Response) FileLen() int64 {
	if r.file == nil {
		return 0
	}
	return r.fileStat.Size
}

// MakeResponse stats the target, resolves the final status code, and
// appends status line plus headers to buf. The body stays out of the
// buffer: it is either the mmap in File() or, on map failure, an inline
// error page appended here.
func (r *Response) MakeResponse(buf *buffer.Buffer) {
	if err := unix.Stat(r.srcDir+r.path, &r.fileStat); err != nil || r.fileStat.Mode&unix.S_IFMT == unix.S_IFDIR {
		r.code = 404
	} else if r.fileStat.Mode&unix.S_IROTH == 0 {
		r.code = 403
	} else if r.code == -1 {
		r.code = 200
	}
	r.errorHTML()
	r.addStateLine(buf)
	r.addHeader(buf)
	r.addContent(buf)
}

// UnmapFile releases the body mapping. Safe to call twice.
func (r *Response) UnmapFile() {
	if r.file != nil {
		_ = unix.Munmap(r.file)
		r.file = nil
	}
}

// ErrorContent appends an inline HTML error body, used when the target
// cannot be opened or mapped.
func (r *Response) ErrorContent(buf *buffer.Buffer, message string) {
	status, ok := codeStatus[r.code]
	if !ok {
		status = "Bad Request"
	}
	var body strings.Builder
	body.WriteString("<html><title>Error</title>")
	body.WriteString("<body bgcolor=\"ffffff\">")
	body.WriteString(strconv.Itoa(r.code) + " : " + status + "\n")
	body.WriteString("<p>" + message + "</p>")
	body.WriteString("<hr><em>webserv</em></body></html>")

	buf.AppendString("Content-Length: " + strconv.Itoa(body.Len()) + "\r\n")
	buf.AppendString("Content-Type: text/html\r\n")
	buf.AppendString("\r\n")
	buf.AppendString(body.String())
}

// errorHTML swaps the target for the canonical error page. A missing
// error page degrades to 404.
func (r *Response) errorHTML() {
	p, ok := codePath[r.code]
	if !ok {
		return
	}
	r.path = p
	if err := unix.Stat(r.srcDir+r.path, &r.fileStat); err != nil {
		r.code = 404
		r.path = codePath[r.code]
		if err := unix.Stat(r.srcDir+r.path, &r.fileStat); err != nil {
			r.fileStat = unix.Stat_t{}
		}
	}
}

func (r *Response) addStateLine(buf *buffer.Buffer) {
	status, ok := codeStatus[r.code]
	if !ok {
		r.code = 400
		status = codeStatus[400]
	}
	buf.AppendString("HTTP/1.1 " + strconv.Itoa(r.code) + " " + status + "\r\n")
}

func (r *Response) addHeader(buf *buffer.Buffer) {
	buf.AppendString("Connection: ")
	if r.keepAlive {
		buf.AppendString("keep-alive\r\n")
		buf.AppendString("Keep-Alive: max=6, timeout=120\r\n")
	} else {
		buf.AppendString("close\r\n")
	}
	buf.AppendString("Content-Type: " + r.fileType() + "\r\n")
}

// addContent maps the target read-only and emits Content-Length. On any
// open/map failure the body downgrades to the inline error page.
func (r *Response) addContent(buf *buffer.Buffer) {
	fd, err := unix.Open(r.srcDir+r.path, unix.O_RDONLY, 0)
	if err != nil {
		r.ErrorContent(buf, "File Not Found!")
		return
	}
	defer unix.Close(fd)

	size := int(r.fileStat.Size)
	if size > 0 {
		data, err := unix.Mmap(fd, 0, size, unix.PROT_READ, unix.MAP_PRIVATE)
		if err != nil {
			r.ErrorContent(buf, "File Not Found!")
			return
		}
		r.file = data
	}
	buf.AppendString("Content-Length: " + strconv.FormatInt(r.fileStat.Size, 10) + "\r\n")
	buf.AppendString("\r\n")
}

func (r *Response) fileType() string {
	idx := strings.LastIndexByte(r.path, '.')
	if idx < 0 {
		return "text/plain"
	}
	if t, ok := suffixType[r.path[idx:]]; ok {
		return t
	}
	return "text/plain"
}
