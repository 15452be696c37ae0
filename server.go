package gemini

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"runtime"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/gemwire/gemini/certificate"
)

// Server is a Gemini server.
//
// Every accepted connection is served on its own goroutine, which reads
// the request line and hands the request to a fixed pool of workers that
// run the Handler.
type Server struct {
	// Addr specifies the address that the server should listen on.
	// If Addr is empty, the server will listen on the address ":1965".
	Addr string

	// Handler answers requests. If nil, every request is answered with
	// "51 Not found".
	Handler Handler

	// Workers is the number of goroutines running handlers.
	// If zero, runtime.NumCPU() is used.
	Workers int

	// ReadTimeout is the maximum duration for reading a request.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out
	// writes of the response.
	WriteTimeout time.Duration

	// Certificates, if not nil, provides certificates selected by the
	// server name the client asks for. The key pair given to NewServer
	// is used when it has none.
	Certificates *certificate.Store

	// Logger receives accept errors and per-request diagnostics.
	// If it is the zero value, output goes to the standard logger.
	Logger logr.Logger

	// Tracer records a span per request. If nil, the global
	// OpenTelemetry tracer provider is used.
	Tracer trace.Tracer

	certificate *tls.Certificate

	initOnce sync.Once
	ctx      context.Context
	cancel   context.CancelFunc
	pool     *pool

	mu        sync.Mutex
	listeners map[*net.Listener]struct{}
	conns     map[*conn]struct{}
	closed    bool
	done      sync.WaitGroup
}

// NewServer returns a server listening on addr that presents the key pair
// stored in keyFile and certFile.
func NewServer(addr, keyFile, certFile string, handler Handler) (*Server, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to load certificates: %w", err)
	}
	return &Server{
		Addr:        addr,
		Handler:     handler,
		certificate: &cert,
	}, nil
}

// SetCertificate sets the certificate used when Certificates has none for
// the requested name.
func (s *Server) SetCertificate(cert tls.Certificate) {
	s.certificate = &cert
}

func (s *Server) init() {
	s.initOnce.Do(func() {
		s.ctx, s.cancel = context.WithCancel(context.Background())
		workers := s.Workers
		if workers <= 0 {
			workers = runtime.NumCPU()
		}
		s.pool = newPool(workers, s.logger())
	})
}

// TLSConfig returns the TLS configuration the server listens with.
// Client certificates are requested but not verified.
func (s *Server) TLSConfig() *tls.Config {
	return &tls.Config{
		ClientAuth:     tls.RequestClientCert,
		MinVersion:     tls.VersionTLS12,
		GetCertificate: s.getCertificate,
	}
}

// Listen opens the server's TLS listener without serving it.
func (s *Server) Listen() (net.Listener, error) {
	addr := s.Addr
	if addr == "" {
		addr = ":1965"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to listen: %w", err)
	}
	return tls.NewListener(ln, s.TLSConfig()), nil
}

// ListenAndServe listens for requests at the server's configured address
// and serves them until the server is closed.
func (s *Server) ListenAndServe() error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Start listens at the server's configured address and serves requests in
// the background. It returns the listener's address once the server is
// accepting connections.
func (s *Server) Start() (net.Addr, error) {
	ln, err := s.Listen()
	if err != nil {
		return nil, err
	}
	go func() {
		if err := s.Serve(ln); err != nil && !errors.Is(err, ErrServerClosed) {
			s.logger().Error(err, "server stopped", "addr", ln.Addr().String())
		}
	}()
	return ln.Addr(), nil
}

// Serve accepts connections on l, which should yield TLS connections
// (see TLSConfig), and serves them. Serve always closes l and returns a
// non-nil error; after Close it returns ErrServerClosed.
func (s *Server) Serve(l net.Listener) error {
	s.init()
	if !s.trackListener(&l, true) {
		l.Close()
		return ErrServerClosed
	}
	defer s.trackListener(&l, false)
	defer l.Close()

	logger := s.logger()
	logger.V(1).Info("serving", "addr", l.Addr().String())

	var tempDelay time.Duration // how long to sleep on accept failure
	for {
		rw, err := l.Accept()
		if err != nil {
			if s.shuttingDown() {
				return ErrServerClosed
			}
			// If this is a temporary error, sleep
			if ne, ok := err.(net.Error); ok && ne.Temporary() { //nolint:staticcheck
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if limit := 1 * time.Second; tempDelay > limit {
					tempDelay = limit
				}
				logger.Error(err, "accept failed", "retry", tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			return err
		}
		tempDelay = 0

		c := s.newConn(rw)
		if !s.trackConn(c) {
			rw.Close()
			return ErrServerClosed
		}
		go c.serve(s.ctx)
	}
}

// Close closes all listeners and connections, cancels the handlers'
// context and stops the workers. It waits for running handlers to
// return, so a handler that ignores its context delays Close.
func (s *Server) Close() error {
	s.init()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cancel()
	var err error
	for ln := range s.listeners {
		if cerr := (*ln).Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	for c := range s.conns {
		c.rwc.Close()
	}
	s.mu.Unlock()

	s.done.Wait()
	s.pool.close()
	return err
}

func (s *Server) shuttingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) trackListener(ln *net.Listener, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listeners == nil {
		s.listeners = map[*net.Listener]struct{}{}
	}
	if add {
		if s.closed {
			return false
		}
		s.listeners[ln] = struct{}{}
	} else {
		delete(s.listeners, ln)
	}
	return true
}

func (s *Server) trackConn(c *conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if s.conns == nil {
		s.conns = map[*conn]struct{}{}
	}
	s.conns[c] = struct{}{}
	s.done.Add(1)
	return true
}

func (s *Server) untrackConn(c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[c]; ok {
		delete(s.conns, c)
		s.done.Done()
	}
}

// getCertificate retrieves a certificate for the given client hello.
func (s *Server) getCertificate(h *tls.ClientHelloInfo) (*tls.Certificate, error) {
	if s.Certificates != nil {
		cert, err := s.Certificates.Get(h.ServerName)
		if err == nil {
			return cert, nil
		}
		if s.certificate == nil {
			return nil, err
		}
	}
	if s.certificate != nil {
		return s.certificate, nil
	}
	return nil, errors.New("gemini: no certificate")
}

func (s *Server) handler() Handler {
	if s.Handler != nil {
		return s.Handler
	}
	return NotFoundHandler()
}

func (s *Server) logger() logr.Logger {
	if s.Logger.GetSink() == nil {
		return defaultLogger()
	}
	return s.Logger
}

func (s *Server) tracer() trace.Tracer {
	if s.Tracer != nil {
		return s.Tracer
	}
	return otel.Tracer(instrumentationName)
}
