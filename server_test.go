package gemini

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/require"

	"github.com/gemwire/gemini/certificate"
)

func startServer(t *testing.T, h Handler) (*Server, string) {
	t.Helper()
	cert, err := certificate.Create(certificate.ForHosts(time.Hour, "127.0.0.1", "localhost"))
	require.NoError(t, err)

	s := &Server{
		Addr:         "127.0.0.1:0",
		Handler:      h,
		Workers:      2,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		Logger:       testr.New(t),
	}
	s.SetCertificate(cert)
	addr, err := s.Start()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, addr.String()
}

// rawRequest sends line as is and returns everything the server wrote.
func rawRequest(t *testing.T, addr, line string) string {
	t.Helper()
	conn, err := tls.Dial("tcp", addr, &tls.Config{InsecureSkipVerify: true})
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	_, err = io.WriteString(conn, line)
	require.NoError(t, err)
	b, err := io.ReadAll(conn)
	require.NoError(t, err)
	return string(b)
}

func TestServerRejectsLongLineWithoutCRLF(t *testing.T) {
	// The answer must come well before the server's read timeout.
	_, addr := startServer(t, &nopHandler{})

	conn, err := tls.Dial("tcp", addr, &tls.Config{InsecureSkipVerify: true})
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(500*time.Millisecond)))

	_, err = io.WriteString(conn, strings.Repeat("x", MaxURLLength+1))
	require.NoError(t, err)
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "59 Bad request\r\n", line)
}

func TestServerRoundTrip(t *testing.T) {
	var mux ServeMux
	mux.HandleFunc("/hello", func(ctx context.Context, r *Request) *Response {
		if r.RemoteAddr == nil || r.TLS == nil {
			return StatusResponse(StatusTemporaryFailure, "connection details missing")
		}
		return Success("text/plain", []byte("Hello "+r.Query()))
	})
	_, addr := startServer(t, &mux)

	o := send(t, newTestClient(t), "gemini://"+addr+"/hello?world")
	require.Equal(t, Ok, o.result)
	require.Equal(t, GenericOK, o.resp.Status)
	require.Equal(t, "text/plain", o.resp.ContentType)
	require.Equal(t, "Hello world", string(o.resp.Body))

	o = send(t, newTestClient(t), "gemini://"+addr+"/missing")
	require.Equal(t, Ok, o.result)
	require.Equal(t, GenericNotFound, o.resp.Status)
}

func TestServerWireFormat(t *testing.T) {
	_, addr := startServer(t, HandlerFunc(func(ctx context.Context, r *Request) *Response {
		switch r.Path() {
		case "/ok":
			return Success("text/gemini", []byte("# Title\n"))
		case "/input":
			return NewResponse(100)
		case "/redirect":
			return Redirect(StatusRedirect, "/ok")
		case "/generic":
			resp := NewResponse(GenericServiceUnavailable)
			resp.Body = []byte("never sent")
			return resp
		}
		return nil
	}))

	tests := []struct {
		Path string
		Raw  string
	}{
		{"/ok", "20 text/gemini\r\n# Title\n"},
		{"/input", "10 Input\r\n"},
		{"/redirect", "30 /ok\r\n"},
		{"/generic", "44 Temporary Failure\r\n"},
		{"/nil", "51 Not found\r\n"},
	}
	for _, test := range tests {
		got := rawRequest(t, addr, "gemini://"+addr+test.Path+"\r\n")
		require.Equal(t, test.Raw, got, test.Path)
	}
}

func TestServerMalformedRequest(t *testing.T) {
	var called atomic.Int32
	_, addr := startServer(t, HandlerFunc(func(context.Context, *Request) *Response {
		called.Add(1)
		return Success("text/plain", nil)
	}))

	for _, line := range []string{
		"gemini://" + addr + "/" + strings.Repeat("x", 1100) + "\r\n",
		"http://" + addr + "/\r\n",
		"gemini://" + addr + "/\n",
		"\r\n",
	} {
		got := rawRequest(t, addr, line)
		require.True(t, strings.HasPrefix(got, "59 "), "%.40q got %q", line, got)
	}
	require.Zero(t, called.Load())
}

func TestServerPanic(t *testing.T) {
	_, addr := startServer(t, HandlerFunc(func(context.Context, *Request) *Response {
		panic("boom")
	}))

	got := rawRequest(t, addr, "gemini://"+addr+"/\r\n")
	require.True(t, strings.HasPrefix(got, "40 "), got)

	// The server keeps serving.
	got = rawRequest(t, addr, "gemini://"+addr+"/\r\n")
	require.True(t, strings.HasPrefix(got, "40 "), got)
}

func TestServerFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.gmi"), []byte("# Index\n"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "a.txt"), []byte("plain"), 0o644))

	_, addr := startServer(t, FileServer(root))

	tests := []struct {
		Path string
		Raw  string
	}{
		{"/", "20 text/gemini; charset=utf-8\r\n# Index\n"},
		{"/docs/a.txt", "20 text/plain; charset=utf-8\r\nplain"},
		{"/docs", "31 gemini://" + addr + "/docs/\r\n"},
		{"/docs/", "51 Not found\r\n"},
		{"/nope.gmi", "51 Not found\r\n"},
		{"/../etc/passwd", "51 Not found\r\n"},
	}
	for _, test := range tests {
		got := rawRequest(t, addr, "gemini://"+addr+test.Path+"\r\n")
		require.Equal(t, test.Raw, got, test.Path)
	}
}

func TestServerClose(t *testing.T) {
	cert, err := certificate.Create(certificate.ForHosts(time.Hour, "127.0.0.1"))
	require.NoError(t, err)

	s := &Server{Logger: testr.New(t)}
	s.SetCertificate(cert)
	ln, err := tls.Listen("tcp", "127.0.0.1:0", s.TLSConfig())
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() { errc <- s.Serve(ln) }()

	// Give Serve a moment to start accepting.
	require.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", ln.Addr().String())
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Close())
	select {
	case err := <-errc:
		require.True(t, errors.Is(err, ErrServerClosed), "%v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}

	require.ErrorIs(t, s.Serve(ln), ErrServerClosed)
	require.NoError(t, s.Close())
}

func TestServerHandlerContextCanceledOnClose(t *testing.T) {
	started := make(chan struct{})
	canceled := make(chan struct{})
	s, addr := startServer(t, HandlerFunc(func(ctx context.Context, r *Request) *Response {
		close(started)
		<-ctx.Done()
		close(canceled)
		return nil
	}))

	conn, err := tls.Dial("tcp", addr, &tls.Config{InsecureSkipVerify: true})
	require.NoError(t, err)
	defer conn.Close()
	_, err = io.WriteString(conn, "gemini://"+addr+"/\r\n")
	require.NoError(t, err)

	<-started
	require.NoError(t, s.Close())
	<-canceled

	// The connection is closed without a response.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	line, _ := bufio.NewReader(conn).ReadString('\n')
	require.Empty(t, line)
}

func TestServerCloseWaitsForHandlers(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	s, addr := startServer(t, HandlerFunc(func(ctx context.Context, r *Request) *Response {
		close(started)
		<-release
		return nil
	}))

	conn, err := tls.Dial("tcp", addr, &tls.Config{InsecureSkipVerify: true})
	require.NoError(t, err)
	defer conn.Close()
	_, err = io.WriteString(conn, "gemini://"+addr+"/\r\n")
	require.NoError(t, err)
	<-started

	closed := make(chan error, 1)
	go func() { closed <- s.Close() }()
	select {
	case <-closed:
		t.Fatal("Close returned while a handler was running")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return after the handler did")
	}
}

func TestServerCertificateStore(t *testing.T) {
	var store certificate.Store
	store.Register("*")

	s := &Server{
		Addr:         "127.0.0.1:0",
		Handler:      StatusHandler(StatusSuccess, "text/plain"),
		Certificates: &store,
		Logger:       testr.New(t),
	}
	addr, err := s.Start()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	conn, err := tls.Dial("tcp", addr.String(), &tls.Config{InsecureSkipVerify: true, ServerName: "localhost"})
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.Handshake())
	state := conn.ConnectionState()
	require.Equal(t, "localhost", state.PeerCertificates[0].Subject.CommonName)
}
