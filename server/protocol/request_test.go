package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s00inx/webserv/server/buffer"
)

func feed(t *testing.T, r *Request, raw string) (ParseResult, error) {
	t.Helper()
	buf := buffer.New(64)
	buf.AppendString(raw)
	return r.Parse(buf)
}

func TestParseAllCases(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantErr  bool
		wantDone bool
		check    func(t *testing.T, r *Request)
	}{
		{
			name:     "simple get",
			raw:      "GET /index.html HTTP/1.1\r\nHost: localhost\r\nUser-Agent: test\r\n\r\n",
			wantDone: true,
			check: func(t *testing.T, r *Request) {
				assert.Equal(t, "GET", r.Method())
				assert.Equal(t, "/index.html", r.Path())
				assert.Equal(t, "1.1", r.Version())
				assert.Equal(t, "localhost", r.Header("Host"))
				assert.Equal(t, "test", r.Header("User-Agent"))
			},
		},
		{
			name:     "root aliases to index",
			raw:      "GET / HTTP/1.1\r\n\r\n",
			wantDone: true,
			check: func(t *testing.T, r *Request) {
				assert.Equal(t, "/index.html", r.Path())
			},
		},
		{
			name:     "bare login gains suffix",
			raw:      "GET /login HTTP/1.1\r\n\r\n",
			wantDone: true,
			check: func(t *testing.T, r *Request) {
				assert.Equal(t, "/login.html", r.Path())
			},
		},
		{
			name:     "unlisted name stays bare",
			raw:      "GET /about HTTP/1.1\r\n\r\n",
			wantDone: true,
			check: func(t *testing.T, r *Request) {
				assert.Equal(t, "/about", r.Path())
			},
		},
		{
			name:     "form decoding",
			raw:      "POST /login.html HTTP/1.1\r\nContent-Type: application/x-www-form-urlencoded\r\nContent-Length: 29\r\n\r\nusername=a+b&password=s%40crt",
			wantDone: true,
			check: func(t *testing.T, r *Request) {
				assert.Equal(t, "a b", r.Form("username"))
				assert.Equal(t, "s@crt", r.Form("password"))
			},
		},
		{
			name:     "broken escape passes through",
			raw:      "POST /x HTTP/1.1\r\nContent-Type: application/x-www-form-urlencoded\r\nContent-Length: 7\r\n\r\nk=%zzab",
			wantDone: true,
			check: func(t *testing.T, r *Request) {
				assert.Equal(t, "%zzab", r.Form("k"))
			},
		},
		{
			name:     "body may contain crlf",
			raw:      "POST /x HTTP/1.1\r\nContent-Length: 4\r\n\r\na\r\nb",
			wantDone: true,
		},
		{
			name:    "unsupported method",
			raw:     "PUT /x HTTP/1.1\r\n\r\n",
			wantErr: true,
		},
		{
			name:    "garbage request line",
			raw:     "not-http\r\n\r\n",
			wantErr: true,
		},
		{
			name:    "malformed header",
			raw:     "GET / HTTP/1.1\r\nNoColonHere\r\n\r\n",
			wantErr: true,
		},
		{
			name:    "dotdot rejected",
			raw:     "GET /../etc/passwd HTTP/1.1\r\n\r\n",
			wantErr: true,
		},
		{
			name:    "negative content length",
			raw:     "POST /x HTTP/1.1\r\nContent-Length: -5\r\n\r\n",
			wantErr: true,
		},
		{
			name:     "incomplete stays need-more",
			raw:      "GET /partial HTTP/1.1\r\nHost: local",
			wantDone: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRequest()
			res, err := feed(t, r, tt.raw)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrBadRequest)
				return
			}
			require.NoError(t, err)
			if tt.wantDone {
				require.Equal(t, Done, res)
				require.Equal(t, StateFinish, r.State())
			} else {
				require.Equal(t, NeedMore, res)
			}
			if tt.check != nil {
				tt.check(t, r)
			}
		})
	}
}

// feeding one byte at a time must end in the same state as one shot, and
// a partial line must never be consumed
func TestParseIncremental(t *testing.T) {
	raw := "POST /login.html HTTP/1.1\r\n" +
		"Host: localhost\r\n" +
		"Connection: keep-alive\r\n" +
		"Content-Type: application/x-www-form-urlencoded\r\n" +
		"Content-Length: 30\r\n" +
		"\r\n" +
		"username=alice&password=secret"

	whole := NewRequest()
	res, err := feed(t, whole, raw)
	require.NoError(t, err)
	require.Equal(t, Done, res)

	split := NewRequest()
	buf := buffer.New(8)
	for i := 0; i < len(raw); i++ {
		buf.AppendString(raw[i : i+1])
		res, err = split.Parse(buf)
		require.NoError(t, err)
		if i < len(raw)-1 {
			require.Equal(t, NeedMore, res, "finished early at byte %d", i)
		}
	}
	require.Equal(t, Done, res)

	assert.Equal(t, whole.Method(), split.Method())
	assert.Equal(t, whole.Path(), split.Path())
	assert.Equal(t, whole.Version(), split.Version())
	assert.Equal(t, whole.Header("Host"), split.Header("Host"))
	assert.Equal(t, whole.Form("username"), split.Form("username"))
	assert.Equal(t, whole.Form("password"), split.Form("password"))
	assert.True(t, split.IsKeepAlive())
}

func TestKeepAlive(t *testing.T) {
	tests := []struct {
		raw  string
		want bool
	}{
		{"GET / HTTP/1.1\r\nConnection: keep-alive\r\n\r\n", true},
		{"GET / HTTP/1.1\r\nConnection: close\r\n\r\n", false},
		{"GET / HTTP/1.0\r\nConnection: keep-alive\r\n\r\n", false},
		{"GET / HTTP/1.1\r\n\r\n", false},
	}
	for _, tt := range tests {
		r := NewRequest()
		_, err := feed(t, r, tt.raw)
		require.NoError(t, err)
		assert.Equal(t, tt.want, r.IsKeepAlive(), tt.raw)
	}
}

func TestInitResets(t *testing.T) {
	r := NewRequest()
	_, err := feed(t, r, "POST /x HTTP/1.1\r\nContent-Type: application/x-www-form-urlencoded\r\nContent-Length: 3\r\n\r\na=b")
	require.NoError(t, err)
	require.Equal(t, StateFinish, r.State())

	r.Init()
	assert.Equal(t, StateRequestLine, r.State())
	assert.Empty(t, r.Method())
	assert.Empty(t, r.Path())
	assert.Empty(t, r.Form("a"))
	assert.Empty(t, r.Header("Content-Type"))
}

// leftover bytes after one request stay in the buffer for the next one
func TestPipelinedLeftover(t *testing.T) {
	buf := buffer.New(64)
	buf.AppendString("GET /a HTTP/1.1\r\n\r\nGET /b HTTP/1.1\r\n\r\n")

	first := NewRequest()
	res, err := first.Parse(buf)
	require.NoError(t, err)
	require.Equal(t, Done, res)
	require.Equal(t, "/a", first.Path())

	second := NewRequest()
	res, err = second.Parse(buf)
	require.NoError(t, err)
	require.Equal(t, Done, res)
	require.Equal(t, "/b", second.Path())
	require.Equal(t, 0, buf.ReadableBytes())
}
