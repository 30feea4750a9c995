package protocol

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s00inx/webserv/server/buffer"
)

func writeFile(t *testing.T, dir, name, content string, mode os.FileMode) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), mode))
}

func makeResponse(t *testing.T, srcDir, path string, keepAlive bool, code int) (*Response, string) {
	t.Helper()
	r := &Response{}
	r.Init(srcDir, path, keepAlive, code)
	buf := buffer.New(256)
	r.MakeResponse(buf)
	t.Cleanup(r.UnmapFile)
	return r, buf.RetrieveAllToString()
}

func TestServeStaticFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "index.html", "hi", 0o644)

	r, head := makeResponse(t, dir, "/index.html", true, -1)

	assert.Equal(t, 200, r.Code())
	assert.True(t, strings.HasPrefix(head, "HTTP/1.1 200 OK\r\n"), head)
	assert.Contains(t, head, "Connection: keep-alive\r\n")
	assert.Contains(t, head, "Keep-Alive: max=6, timeout=120\r\n")
	assert.Contains(t, head, "Content-Type: text/html\r\n")
	assert.Contains(t, head, "Content-Length: 2\r\n")
	assert.True(t, strings.HasSuffix(head, "\r\n\r\n"))

	require.EqualValues(t, 2, r.FileLen())
	assert.Equal(t, "hi", string(r.File()))
}

func TestMissingFileInlineBody(t *testing.T) {
	dir := t.TempDir()

	r, out := makeResponse(t, dir, "/missing.html", false, -1)

	assert.Equal(t, 404, r.Code())
	assert.True(t, strings.HasPrefix(out, "HTTP/1.1 404 Not Found\r\n"))
	assert.Contains(t, out, "Connection: close\r\n")
	// no 404.html on disk: the body is the inline error page
	assert.Contains(t, out, "404 : Not Found")
	assert.Nil(t, r.File())
}

func TestMissingFileWithErrorPage(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "404.html", "<html>gone</html>", 0o644)

	r, head := makeResponse(t, dir, "/missing.html", false, -1)

	assert.Equal(t, 404, r.Code())
	assert.Contains(t, head, "Content-Length: 17\r\n")
	assert.Equal(t, "<html>gone</html>", string(r.File()))
}

func TestDirectoryIs404(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	r, _ := makeResponse(t, dir, "/sub", false, -1)
	assert.Equal(t, 404, r.Code())
}

func TestUnreadableIs403(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "secret.html", "s", 0o600)
	writeFile(t, dir, "403.html", "<html>forbidden</html>", 0o644)

	r, head := makeResponse(t, dir, "/secret.html", false, -1)

	assert.Equal(t, 403, r.Code())
	assert.True(t, strings.HasPrefix(head, "HTTP/1.1 403 Forbidden\r\n"))
	assert.Equal(t, "<html>forbidden</html>", string(r.File()))
}

func TestExplicitCodeRemap(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "400.html", "<html>bad</html>", 0o644)

	r, _ := makeResponse(t, dir, "/400.html", false, 400)

	assert.Equal(t, 400, r.Code())
	assert.Equal(t, "<html>bad</html>", string(r.File()))
}

func TestEmptyFileHasNoBodyVec(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "empty.html", "", 0o644)

	r, head := makeResponse(t, dir, "/empty.html", false, -1)

	assert.Equal(t, 200, r.Code())
	assert.Contains(t, head, "Content-Length: 0\r\n")
	assert.Nil(t, r.File())
}

func TestMimeLookup(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/index.html", "text/html"},
		{"/style.css", "text/css"},
		{"/app.js", "text/javascript"},
		{"/logo.png", "image/png"},
		{"/photo.jpeg", "image/jpeg"},
		{"/doc.pdf", "application/pdf"},
		{"/archive.tar", "application/x-tar"},
		{"/clip.mpg", "video/mpeg"},
		{"/noext", "text/plain"},
		{"/weird.zzz", "text/plain"},
	}
	for _, tt := range tests {
		r := &Response{path: tt.path}
		assert.Equal(t, tt.want, r.fileType(), tt.path)
	}
}

func TestUnknownCodeDefaultsTo400(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "odd.html", "x", 0o644)

	r, head := makeResponse(t, dir, "/odd.html", false, 299)

	assert.Equal(t, 400, r.Code())
	assert.True(t, strings.HasPrefix(head, "HTTP/1.1 400 Bad Request\r\n"))
}

func TestUnmapIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "index.html", "hi", 0o644)

	r, _ := makeResponse(t, dir, "/index.html", false, -1)
	r.UnmapFile()
	r.UnmapFile()
	assert.Nil(t, r.File())
}
