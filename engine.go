package gemini

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// A header line is a two digit status, a space, at most 1024 bytes of
// meta and CRLF.
const maxHeaderLength = 2 + 1 + 1024 + 2

const readBufferSize = 32 << 10

type engineState int

const (
	stateInit engineState = iota
	stateResolving
	stateConnecting
	stateHandshaking
	stateAwaitingHeader
	stateAwaitingBody
	stateDone
)

func (s engineState) String() string {
	switch s {
	case stateInit:
		return "init"
	case stateResolving:
		return "resolving"
	case stateConnecting:
		return "connecting"
	case stateHandshaking:
		return "handshaking"
	case stateAwaitingHeader:
		return "awaiting-header"
	case stateAwaitingBody:
		return "awaiting-body"
	case stateDone:
		return "done"
	}
	return "unknown"
}

type eventKind int

const (
	eventResolved eventKind = iota
	eventDialed
	eventHandshaken
	eventData
	eventClosed
)

// An event is the completion of an asynchronous operation started by the
// engine. Helpers post events; only the engine goroutine consumes them.
type event struct {
	kind eventKind
	addr netip.Addr
	conn net.Conn
	data []byte
	err  error
}

// CertificateError reports a server certificate rejected by
// Client.TrustCertificate.
type CertificateError struct {
	Err error
}

func (e *CertificateError) Error() string {
	return "gemini: untrusted certificate: " + e.Err.Error()
}

func (e *CertificateError) Unwrap() error {
	return e.Err
}

type writeError struct {
	err error
}

func (e *writeError) Error() string {
	return "gemini: failed to write request: " + e.err.Error()
}

func (e *writeError) Unwrap() error {
	return e.err
}

// engine is the state of one client request. All fields are owned by the
// goroutine running run; helpers only communicate through events.
type engine struct {
	client   *Client
	id       uuid.UUID
	url      *URL
	host     string
	line     string
	cfg      RequestConfig
	callback func(Result, *Response)
	logger   logr.Logger
	span     trace.Span

	ctx    context.Context
	cancel context.CancelFunc
	events chan event

	state          engineState
	peer           netip.AddrPort
	conn           net.Conn
	headerReceived bool
	delivered      bool
	status         Status
	meta           string
	buf            []byte
	idle           *time.Timer
	transfer       *time.Timer
}

func newEngine(ctx context.Context, c *Client, u *URL, host, line string, cfg RequestConfig, callback func(Result, *Response)) *engine {
	ctx, cancel := context.WithCancel(ctx)
	return &engine{
		client:   c,
		url:      u,
		host:     host,
		line:     line,
		cfg:      cfg,
		callback: callback,
		logger:   logr.Discard(),
		span:     trace.SpanFromContext(ctx),
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan event),
	}
}

func (e *engine) run() {
	defer e.client.requests.release(e.id)

	e.start()
	for !e.delivered {
		select {
		case ev := <-e.events:
			e.handle(ev)
		case <-timerC(e.idle):
			e.logger.V(1).Info("no progress within timeout", "state", e.state.String(), "timeout", e.cfg.Timeout)
			e.deliver(Timeout, nil)
		case <-timerC(e.transfer):
			e.logger.V(1).Info("transfer took too long", "limit", e.cfg.MaxTransferDuration)
			e.deliver(Timeout, nil)
		}
	}
}

func (e *engine) start() {
	e.resetIdle()
	if addr, err := netip.ParseAddr(e.url.Hostname()); err == nil {
		e.peer = netip.AddrPortFrom(addr.Unmap(), e.url.Port)
		e.connect()
		return
	}

	e.state = stateResolving
	resolver := e.client.resolver()
	go func() {
		addr, err := resolver.Resolve(e.ctx, e.host)
		e.post(event{kind: eventResolved, addr: addr, err: err})
	}()
}

func (e *engine) connect() {
	e.state = stateConnecting
	dialer := e.client.dialer()
	go func() {
		conn, err := dialer.DialContext(e.ctx, "tcp", e.peer.String())
		e.post(event{kind: eventDialed, conn: conn, err: err})
	}()
}

func (e *engine) handshake(raw net.Conn) {
	e.state = stateHandshaking
	config := e.tlsConfig()
	line := e.line
	go func() {
		conn := tls.Client(raw, config)
		err := conn.HandshakeContext(e.ctx)
		if err == nil {
			if _, werr := io.WriteString(conn, line+"\r\n"); werr != nil {
				err = &writeError{werr}
			}
		}
		e.post(event{kind: eventHandshaken, conn: conn, err: err})
	}()
}

func (e *engine) readLoop(conn net.Conn) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if !e.post(event{kind: eventData, data: data}) {
				return
			}
		}
		if err != nil {
			e.post(event{kind: eventClosed, err: err})
			return
		}
	}
}

// post hands an event to the engine goroutine. If the engine has already
// delivered its result, post closes any connection carried by the event
// and reports false.
func (e *engine) post(ev event) bool {
	select {
	case e.events <- ev:
		return true
	case <-e.ctx.Done():
		if ev.conn != nil {
			ev.conn.Close()
		}
		return false
	}
}

func (e *engine) handle(ev event) {
	switch ev.kind {
	case eventResolved:
		if ev.err != nil || !ev.addr.IsValid() || ev.addr.IsUnspecified() {
			e.logger.V(1).Info("name resolution failed", "host", e.host, "error", ev.err)
			e.deliver(BadServerAddress, nil)
			return
		}
		e.span.AddEvent("resolved", trace.WithAttributes(attribute.String("network.peer.address", ev.addr.String())))
		e.peer = netip.AddrPortFrom(ev.addr, e.url.Port)
		e.connect()

	case eventDialed:
		if ev.err != nil {
			e.logger.V(1).Info("connect failed", "peer", e.peer.String(), "error", ev.err)
			e.deliver(NetworkFailure, nil)
			return
		}
		e.span.AddEvent("connected")
		e.conn = ev.conn
		e.handshake(ev.conn)

	case eventHandshaken:
		e.conn = ev.conn
		if ev.err != nil {
			result := classifyHandshakeError(ev.err)
			e.logger.V(1).Info("handshake failed", "result", result.String(), "error", ev.err)
			e.deliver(result, nil)
			return
		}
		e.span.AddEvent("request sent")
		e.state = stateAwaitingHeader
		if d := e.cfg.MaxTransferDuration; d > 0 {
			e.transfer = time.NewTimer(d)
		}
		e.resetIdle()
		go e.readLoop(ev.conn)

	case eventData:
		e.onData(ev.data)

	case eventClosed:
		if ev.err != nil && !errors.Is(ev.err, io.EOF) {
			e.logger.V(1).Info("connection error", "state", e.state.String(), "error", ev.err)
			e.deliver(NetworkFailure, nil)
			return
		}
		e.onClose()
	}
}

func (e *engine) onData(data []byte) {
	e.buf = append(e.buf, data...)

	if !e.headerReceived {
		i := bytes.Index(e.buf, crlf)
		if i < 0 {
			if len(e.buf) > maxHeaderLength {
				e.logger.V(1).Info("response header too long")
				e.deliver(BadResponse, nil)
				return
			}
			e.resetIdle()
			return
		}

		status, meta, err := parseHeader(e.buf[:i])
		if err != nil {
			e.logger.V(1).Info("malformed response header", "header", string(e.buf[:i]))
			e.deliver(BadResponse, nil)
			return
		}
		e.headerReceived = true
		e.status, e.meta = status, meta
		e.state = stateAwaitingBody
		e.buf = append(e.buf[:0], e.buf[i+2:]...)
		e.span.AddEvent("header", trace.WithAttributes(attribute.Int("gemini.status", int(status))))

		if status.Class() == ClassSuccess && !e.allowed(mediaType(meta)) {
			// Behave as if the body were empty: drop what arrived and
			// hang up, then finish through the normal close path.
			e.logger.V(1).Info("media type not allowed, skipping body", "meta", meta)
			e.buf = nil
			e.conn.Close()
			e.onClose()
			return
		}
	}

	if limit := e.cfg.MaxBodySize; limit > 0 && int64(len(e.buf)) > limit {
		e.logger.V(1).Info("response body too large", "limit", limit)
		e.deliver(BadResponse, nil)
		return
	}
	e.resetIdle()
}

func (e *engine) onClose() {
	if !e.headerReceived {
		e.deliver(BadResponse, nil)
		return
	}
	e.deliver(Ok, newClientResponse(e.status, e.meta, e.buf))
}

func (e *engine) allowed(mediatype string) bool {
	if len(e.cfg.AllowedMediaTypes) == 0 {
		return true
	}
	for _, t := range e.cfg.AllowedMediaTypes {
		if strings.EqualFold(t, mediatype) {
			return true
		}
	}
	return false
}

// deliver is the only way a result leaves the engine. The first call wins;
// it stops the timers, closes the connection and calls the callback.
func (e *engine) deliver(result Result, resp *Response) {
	if e.delivered {
		return
	}
	e.delivered = true
	e.state = stateDone

	if e.idle != nil {
		e.idle.Stop()
	}
	if e.transfer != nil {
		e.transfer.Stop()
	}
	e.cancel()
	if e.conn != nil {
		e.conn.Close()
	}

	e.span.SetAttributes(attribute.String("gemini.result", result.String()))
	if resp != nil {
		e.span.SetAttributes(
			attribute.Int("gemini.status", int(e.status)),
			attribute.Int("gemini.body_size", len(resp.Body)),
		)
	}
	if result != Ok {
		e.span.SetStatus(codes.Error, result.String())
	}
	e.span.End()

	e.logger.V(1).Info("request finished", "result", result.String())
	e.callback(result, resp)
}

func (e *engine) resetIdle() {
	d := e.cfg.Timeout
	if d <= 0 {
		return
	}
	if e.idle == nil {
		e.idle = time.NewTimer(d)
		return
	}
	e.idle.Reset(d)
}

func (e *engine) tlsConfig() *tls.Config {
	c := e.client
	hostname := e.url.Hostname()
	config := &tls.Config{
		// Certificates are checked by TrustCertificate, not by a CA pool.
		InsecureSkipVerify: true,
		MinVersion:         tls.VersionTLS12,
		GetClientCertificate: func(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
			if c.Certificate != nil {
				return c.Certificate, nil
			}
			return &tls.Certificate{}, nil
		},
		VerifyConnection: func(cs tls.ConnectionState) error {
			if c.TrustCertificate == nil {
				return nil
			}
			if len(cs.PeerCertificates) == 0 {
				return &CertificateError{Err: errors.New("no certificate presented")}
			}
			if err := c.TrustCertificate(hostname, cs.PeerCertificates[0]); err != nil {
				return &CertificateError{Err: err}
			}
			return nil
		},
	}
	if _, err := netip.ParseAddr(e.host); err != nil {
		config.ServerName = e.host
	}
	return config
}

func classifyHandshakeError(err error) Result {
	var (
		werr *writeError
		cerr *CertificateError
		verr *tls.CertificateVerificationError
		uerr x509.UnknownAuthorityError
		herr x509.HostnameError
		ierr x509.CertificateInvalidError
	)
	switch {
	case errors.As(err, &werr):
		return NetworkFailure
	case errors.As(err, &cerr), errors.As(err, &verr), errors.As(err, &uerr),
		errors.As(err, &herr), errors.As(err, &ierr):
		return InvalidCertificate
	}
	return HandshakeError
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}
