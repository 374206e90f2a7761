package integration

import (
	"bufio"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/httpreactor"
	"github.com/ehrlich-b/httpreactor/internal/auth"
)

// startServer brings up a Server on a free loopback port, serving rootDir,
// optionally backed by auth (nil disables register/login), and returns the
// port plus a teardown func.
func startServer(t *testing.T, rootDir string, authenticator *auth.MockPool) (int, func()) {
	t.Helper()

	cfg, err := httpreactor.NewTestConfig(rootDir)
	require.NoError(t, err)

	var srv *httpreactor.Server
	if authenticator != nil {
		srv, err = httpreactor.NewWithAuthenticator(cfg, nil, auth.NewVerifier(authenticator))
	} else {
		srv, err = httpreactor.New(cfg, nil)
	}
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Run(ctx)
	}()
	time.Sleep(20 * time.Millisecond)

	return cfg.Port, func() {
		cancel()
		srv.Close()
		<-done
	}
}

// rawRequest sends req verbatim over a fresh connection and returns the
// status line plus the open connection and its reader, positioned at the
// first header line, for the caller to keep reading if needed.
func rawRequest(t *testing.T, port int, req string) (string, net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), 2*time.Second)
	require.NoError(t, err)
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))

	_, err = conn.Write([]byte(req))
	require.NoError(t, err)

	r := bufio.NewReader(conn)
	status, err := r.ReadString('\n')
	require.NoError(t, err)
	return strings.TrimRight(status, "\r\n"), conn, r
}

func TestGetRootServesFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("hello"), 0o644))

	port, stop := startServer(t, dir, nil)
	defer stop()

	status, conn, _ := rawRequest(t, port, "GET /index.html HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")
	defer conn.Close()
	require.Equal(t, "HTTP/1.1 200 OK", status)
}

// readResponse reads one full response off r (status line, headers, and a
// Content-length-sized body), leaving bytes belonging to a later keep-alive
// response on the connection untouched.
func readResponse(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	status, err := r.ReadString('\n')
	require.NoError(t, err)
	status = strings.TrimRight(status, "\r\n")

	contentLength := 0
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if strings.HasPrefix(strings.ToLower(line), "content-length:") {
			n, convErr := strconv.Atoi(strings.TrimSpace(line[len("content-length:"):]))
			require.NoError(t, convErr)
			contentLength = n
		}
	}
	if contentLength > 0 {
		body := make([]byte, contentLength)
		_, err := io.ReadFull(r, body)
		require.NoError(t, err)
	}
	return status
}

func TestKeepAliveServesTwoRequestsOnOneConnection(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "second.html"), []byte("world"), 0o644))

	port, stop := startServer(t, dir, nil)
	defer stop()

	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))
	reader := bufio.NewReader(conn)

	_, err = conn.Write([]byte("GET /index.html HTTP/1.1\r\nHost: x\r\nConnection: keep-alive\r\n\r\n"))
	require.NoError(t, err)
	require.Equal(t, "HTTP/1.1 200 OK", readResponse(t, reader))

	_, err = conn.Write([]byte("GET /second.html HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)
	require.Equal(t, "HTTP/1.1 200 OK", readResponse(t, reader))

	buf := make([]byte, 1)
	n, readErr := conn.Read(buf)
	require.Equal(t, 0, n)
	require.Error(t, readErr)
}

func TestMissingFileReturns404(t *testing.T) {
	dir := t.TempDir()
	port, stop := startServer(t, dir, nil)
	defer stop()

	status, conn, _ := rawRequest(t, port, "GET /ghost.html HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")
	defer conn.Close()
	require.Equal(t, "HTTP/1.1 404 Not Found", status)
}

func TestUnreadableFileReturns403(t *testing.T) {
	dir := t.TempDir()
	secret := filepath.Join(dir, "secret.html")
	require.NoError(t, os.WriteFile(secret, []byte("nope"), 0o600))

	port, stop := startServer(t, dir, nil)
	defer stop()

	status, conn, _ := rawRequest(t, port, "GET /secret.html HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")
	defer conn.Close()
	require.Equal(t, "HTTP/1.1 403 Forbidden", status)
}

func TestMalformedRequestLineReturns400(t *testing.T) {
	dir := t.TempDir()
	port, stop := startServer(t, dir, nil)
	defer stop()

	status, conn, _ := rawRequest(t, port, "GARBAGE\r\n\r\n")
	defer conn.Close()
	require.Equal(t, "HTTP/1.1 400 Bad Request", status)
}

func TestRegisterThenLoginSucceeds(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"register.html", "welcome.html", "error.html", "login.html"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644))
	}

	pool := auth.NewMockPool()
	port, stop := startServer(t, dir, pool)
	defer stop()

	body := "username=alice&password=secret"
	req := "POST /register.html HTTP/1.1\r\nHost: x\r\n" +
		"Content-Type: application/x-www-form-urlencoded\r\nConnection: close\r\n\r\n" + body + "\r\n"
	status, conn, r := rawRequest(t, port, req)
	rest, _ := io.ReadAll(r)
	conn.Close()
	require.Equal(t, "HTTP/1.1 200 OK", status)
	require.Contains(t, string(rest), "welcome.html")

	req = "POST /login.html HTTP/1.1\r\nHost: x\r\n" +
		"Content-Type: application/x-www-form-urlencoded\r\nConnection: close\r\n\r\n" + body + "\r\n"
	status, conn2, r2 := rawRequest(t, port, req)
	defer conn2.Close()
	require.Equal(t, "HTTP/1.1 200 OK", status)
	rest, _ = io.ReadAll(r2)
	require.Contains(t, string(rest), "welcome.html")
}

func TestLoginWrongPasswordServesErrorPage(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"login.html", "welcome.html", "error.html"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644))
	}

	pool := auth.NewMockPool()
	pool.Seed("alice", "secret")
	port, stop := startServer(t, dir, pool)
	defer stop()

	body := "username=alice&password=wrong"
	req := "POST /login.html HTTP/1.1\r\nHost: x\r\n" +
		"Content-Type: application/x-www-form-urlencoded\r\nConnection: close\r\n\r\n" + body + "\r\n"
	status, conn, r := rawRequest(t, port, req)
	defer conn.Close()
	require.Equal(t, "HTTP/1.1 200 OK", status, "the error page itself resolves to 200, it is the path that changes")
	rest, _ := io.ReadAll(r)
	require.Contains(t, string(rest), "error.html")
}

func TestIdleConnectionIsClosed(t *testing.T) {
	dir := t.TempDir()
	cfg, err := httpreactor.NewTestConfig(dir)
	require.NoError(t, err)
	cfg.IdleTimeout = 50 * time.Millisecond

	srv, err := httpreactor.New(cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Run(ctx)
	}()
	defer func() {
		cancel()
		srv.Close()
		<-done
	}()
	time.Sleep(20 * time.Millisecond)

	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.Port)), 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 1)
	n, err := conn.Read(buf)
	require.Equal(t, 0, n)
	require.Error(t, err)
}
