package httpproto

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/httpreactor/internal/buffer"
)

// CodeUnset is the sentinel status code meaning "let MakeResponse decide".
const CodeUnset = -1

var reasonPhrases = map[int]string{
	200: "OK",
	400: "Bad Request",
	403: "Forbidden",
	404: "Not Found",
}

var errorPages = map[int]string{
	400: "/400.html",
	403: "/403.html",
	404: "/404.html",
}

var mimeTypes = map[string]string{
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

// Response builds the status line, headers, and body for one request.
// The body of a successfully resolved static file is never copied into
// the header buffer: it is memory-mapped and delivered as a second iovec
// segment by the connection's vectored write.
type Response struct {
	Code      int
	KeepAlive bool
	Path      string
	RootDir   string

	mapped   []byte
	mappedOK bool
}

// NewResponse returns a response with the status sentinel unset.
func NewResponse() *Response {
	return &Response{Code: CodeUnset}
}

// Init resets the response for a new request, releasing any previous file
// mapping first.
func (resp *Response) Init(rootDir, path string, keepAlive bool, code int) {
	resp.UnmapFile()
	resp.RootDir = rootDir
	resp.Path = path
	resp.KeepAlive = keepAlive
	resp.Code = code
}

// UnmapFile releases the current file mapping, if any. Idempotent.
func (resp *Response) UnmapFile() {
	if resp.mappedOK {
		_ = unix.Munmap(resp.mapped)
		resp.mapped = nil
		resp.mappedOK = false
	}
}

// FileBody returns the mapped file region to deliver as the response body,
// or nil if none is mapped (an inline error body is already in the header
// buffer, and an empty file has no body).
func (resp *Response) FileBody() []byte {
	if resp.mappedOK {
		return resp.mapped
	}
	return nil
}

// MakeResponse resolves Path against RootDir, decides the final status
// code, and appends the status line, headers, and (for inline bodies)
// content into buf.
func (resp *Response) MakeResponse(buf *buffer.Buffer) {
	full := filepath.Join(resp.RootDir, resp.Path)
	info, err := os.Stat(full)
	// A preset code (e.g. 400 for a malformed request) wins over whatever
	// the path resolves to.
	if resp.Code == CodeUnset {
		switch {
		case err != nil || info.IsDir():
			resp.Code = 404
		case !worldReadable(info):
			resp.Code = 403
		default:
			resp.Code = 200
		}
	}

	if errPath, ok := errorPages[resp.Code]; ok {
		resp.Path = errPath
		full = filepath.Join(resp.RootDir, resp.Path)
		info, err = os.Stat(full)
	}

	resp.addStateLine(buf)
	resp.addHeader(buf)
	resp.addContent(buf, full, info, err)
}

func worldReadable(info os.FileInfo) bool {
	return info.Mode().Perm()&0o004 != 0
}

func (resp *Response) addStateLine(buf *buffer.Buffer) {
	code := resp.Code
	reason, ok := reasonPhrases[code]
	if !ok {
		code = 400
		reason = reasonPhrases[400]
	}
	buf.Append([]byte(fmt.Sprintf("HTTP/1.1 %d %s\r\n", code, reason)))
}

func (resp *Response) addHeader(buf *buffer.Buffer) {
	if resp.KeepAlive {
		buf.Append([]byte("Connection: keep-alive\r\n"))
		buf.Append([]byte("keep-alive: max=6,timeout=120\r\n"))
	} else {
		buf.Append([]byte("Connection: close\r\n"))
	}
	buf.Append([]byte(fmt.Sprintf("Content-type: %s\r\n", mimeType(resp.Path))))
}

func mimeType(path string) string {
	if t, ok := mimeTypes[filepath.Ext(path)]; ok {
		return t
	}
	return "text/plain"
}

func (resp *Response) addContent(buf *buffer.Buffer, full string, info os.FileInfo, statErr error) {
	if statErr != nil {
		resp.errorBody(buf, "resource not found")
		return
	}
	f, err := os.OpenFile(full, os.O_RDONLY, 0)
	if err != nil {
		resp.errorBody(buf, "file open error")
		return
	}
	defer f.Close()

	size := info.Size()
	if size == 0 {
		buf.Append([]byte("Content-length: 0\r\n\r\n"))
		return
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		resp.errorBody(buf, "file mmap error")
		return
	}
	resp.mapped = data
	resp.mappedOK = true
	buf.Append([]byte(fmt.Sprintf("Content-length: %d\r\n\r\n", size)))
}

// errorBody emits an inline HTML fallback body for resource faults:
// status line, fault message, and a server signature.
func (resp *Response) errorBody(buf *buffer.Buffer, msg string) {
	reason, ok := reasonPhrases[resp.Code]
	if !ok {
		reason = reasonPhrases[400]
	}
	body := fmt.Sprintf("<html><title>Error</title><body bgcolor=\"ffffff\">%d : %s\n<p>%s</p><hr><em>httpreactor</em></body></html>",
		resp.Code, reason, msg)
	buf.Append([]byte(fmt.Sprintf("Content-length: %d\r\n\r\n", len(body))))
	buf.Append([]byte(body))
}
