// Package conn implements the per-socket connection object: its read and
// write buffers, current request/response, and the iovec pair describing
// outstanding bytes for a vectored write.
package conn

import (
	"context"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/httpreactor/internal/buffer"
	"github.com/ehrlich-b/httpreactor/internal/constants"
	"github.com/ehrlich-b/httpreactor/internal/httpproto"
	"github.com/ehrlich-b/httpreactor/internal/interfaces"
)

// UserCount is the process-wide live-connection counter. It is the one
// piece of state genuinely shared between the reactor goroutine and every
// worker goroutine, so it is a plain atomic integer.
type UserCount struct{ n int64 }

func (u *UserCount) Inc() int64  { return atomic.AddInt64(&u.n, 1) }
func (u *UserCount) Dec() int64  { return atomic.AddInt64(&u.n, -1) }
func (u *UserCount) Load() int64 { return atomic.LoadInt64(&u.n) }

// Conn owns one accepted socket and everything needed to read, parse,
// respond to, and write one HTTP/1.1 request at a time on it.
type Conn struct {
	Fd     int
	Addr   string
	ETMode bool

	rootDir string

	readBuf  *buffer.Buffer
	writeBuf *buffer.Buffer

	Request  *httpproto.Request
	Response *httpproto.Response

	iov      [2][]byte
	iovCount int

	closed bool
	users  *UserCount
}

// New allocates a connection bound to rootDir for static file resolution.
// It is not yet usable until Init assigns it a live fd.
func New(rootDir string, etMode bool, users *UserCount) *Conn {
	return &Conn{
		rootDir:  rootDir,
		ETMode:   etMode,
		readBuf:  buffer.New(),
		writeBuf: buffer.New(),
		Request:  httpproto.NewRequest(),
		Response: httpproto.NewResponse(),
		users:    users,
	}
}

// Init (re)binds the connection object to a freshly accepted fd.
func (c *Conn) Init(fd int, addr string) {
	c.Fd = fd
	c.Addr = addr
	c.closed = false
	c.readBuf.RetrieveAll()
	c.writeBuf.RetrieveAll()
	c.iov[0], c.iov[1] = nil, nil
	c.iovCount = 0
	c.users.Inc()
}

// Read drains the socket into the read buffer. In edge-triggered mode this
// loops until the kernel has nothing left to give, since no further
// readable event will fire until new data arrives.
func (c *Conn) Read() (int64, error) {
	var total int64
	for {
		n, err := c.readBuf.ReadFromFD(c.Fd)
		if n > 0 {
			total += n
		}
		if err != nil {
			return total, err
		}
		if n <= 0 {
			return total, nil
		}
		if !c.ETMode {
			return total, nil
		}
	}
}

// ToWriteBytes reports how many response bytes are still unwritten.
func (c *Conn) ToWriteBytes() int {
	n := 0
	for i := 0; i < c.iovCount; i++ {
		n += len(c.iov[i])
	}
	return n
}

// Write performs vectored writes until either everything queued has been
// sent, the loop's exit condition for the trigger mode is met, or the
// socket errors.
func (c *Conn) Write() (int64, error) {
	var total int64
	for {
		if c.ToWriteBytes() <= 0 {
			return total, nil
		}
		vecs := make([][]byte, 0, 2)
		for i := 0; i < c.iovCount; i++ {
			if len(c.iov[i]) > 0 {
				vecs = append(vecs, c.iov[i])
			}
		}
		if len(vecs) == 0 {
			return total, nil
		}
		n, err := unix.Writev(c.Fd, vecs)
		if n > 0 {
			total += int64(n)
			c.advanceIOV(n)
		}
		if err != nil {
			return total, err
		}
		if n <= 0 {
			return total, nil
		}
		if !c.ETMode && c.ToWriteBytes() <= constants.MaxWriteChunk {
			return total, nil
		}
	}
}

func (c *Conn) advanceIOV(n int) {
	if n >= len(c.iov[0]) {
		n -= len(c.iov[0])
		c.writeBuf.RetrieveAll()
		c.iov[0] = nil
		if c.iovCount == 2 && n > 0 {
			c.iov[1] = c.iov[1][n:]
		}
		return
	}
	c.writeBuf.Retrieve(n)
	c.iov[0] = c.iov[0][n:]
}

// Process parses one request out of the read buffer and, unless the parse
// is still Incomplete, builds a response (running the register/login side
// effect first when the path names one of those endpoints, and using a
// 400 initial code for a Malformed request). It returns the parser's
// result verbatim so the reactor can distinguish "need more bytes" from
// "a response is queued, write it".
func (c *Conn) Process(ctx context.Context, auth interfaces.Authenticator) httpproto.ParseResult {
	if c.Request.State == httpproto.StateFinish {
		c.Request.Reset()
	}
	result := httpproto.Parse(c.readBuf, c.Request)

	switch result {
	case httpproto.Incomplete:
		return result

	case httpproto.Malformed:
		c.writeBuf.RetrieveAll()
		c.Response.Init(c.rootDir, c.Request.Path, false, 400)
		c.Response.MakeResponse(c.writeBuf)
		c.rebuildIOV()
		return result

	default: // Complete
		if auth != nil && needsAuth(c.Request.Path) {
			c.authenticate(ctx, auth)
		}
		c.writeBuf.RetrieveAll()
		c.Response.Init(c.rootDir, c.Request.Path, c.Request.KeepAlive(), httpproto.CodeUnset)
		c.Response.MakeResponse(c.writeBuf)
		c.rebuildIOV()
		return result
	}
}

// StatusCode reports the response's resolved status code, valid only
// after Process has returned Complete or Malformed.
func (c *Conn) StatusCode() int { return c.Response.Code }

// KeepAlive reports whether the just-built response should keep the
// connection open after the pending write drains.
func (c *Conn) KeepAlive() bool { return c.Response.KeepAlive }

func needsAuth(path string) bool {
	return path == "/register.html" || path == "/login.html"
}

func (c *Conn) authenticate(ctx context.Context, auth interfaces.Authenticator) {
	isLogin := c.Request.Path == "/login.html"
	username := c.Request.Form["username"]
	password := c.Request.Form["password"]

	ok, err := auth.Verify(ctx, username, password, isLogin)
	if err != nil || !ok {
		c.Request.Path = "/error.html"
		return
	}
	c.Request.Path = "/welcome.html"
}

func (c *Conn) rebuildIOV() {
	c.iov[0] = c.writeBuf.Peek()
	if body := c.Response.FileBody(); body != nil {
		c.iov[1] = body
		c.iovCount = 2
	} else {
		c.iov[1] = nil
		c.iovCount = 1
	}
}

// Close releases the file mapping, decrements the global user count, and
// closes the fd. Idempotent.
func (c *Conn) Close() {
	if c.closed {
		return
	}
	c.Response.UnmapFile()
	c.users.Dec()
	_ = unix.Close(c.Fd)
	c.closed = true
}

// Closed reports whether Close has already run.
func (c *Conn) Closed() bool { return c.closed }
