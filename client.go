package gemini

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxBodySize is the default bound on a response body.
const DefaultMaxBodySize = 32 << 20

const instrumentationName = "github.com/gemwire/gemini"

// A Dialer opens network connections.
// *net.Dialer satisfies this interface.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Client is a Gemini client.
//
// Each request runs on its own goroutine and reports its outcome through a
// callback exactly once. A Client must not be copied after first use.
type Client struct {
	// TrustCertificate is called to determine whether the client
	// should trust the certificate provided by the server.
	// If TrustCertificate is nil, the client accepts any certificate:
	// verification is left to the caller.
	// If the returned error is not nil, the request finishes with
	// InvalidCertificate.
	//
	// See the tofu package for an implementation of trust on first use.
	TrustCertificate func(hostname string, cert *x509.Certificate) error

	// Certificate optionally specifies the TLS certificate to present
	// to servers that request one.
	Certificate *tls.Certificate

	// Resolver resolves hostnames. If nil, NetResolver is used.
	Resolver Resolver

	// Dialer opens TCP connections. If nil, a net.Dialer is used.
	Dialer Dialer

	// StrictPort makes an invalid port in a request URL fatal.
	// By default the request falls back to port 1965 and logs a warning.
	StrictPort bool

	// Options are applied to every request before the options passed
	// to SendRequest.
	Options []RequestOption

	// Logger receives diagnostic output. If it is the zero value,
	// output goes to the standard logger.
	Logger logr.Logger

	// Tracer records a span per request. If nil, the global
	// OpenTelemetry tracer provider is used.
	Tracer trace.Tracer

	requests Registry
}

// RequestConfig holds the per-request limits.
type RequestConfig struct {
	// Timeout aborts a request that makes no progress for this long.
	// Zero means no timeout.
	Timeout time.Duration

	// MaxBodySize bounds the response body. Zero means unbounded.
	MaxBodySize int64

	// AllowedMediaTypes, if not empty, lists the media types whose
	// bodies are downloaded. A successful response with any other media
	// type is cut short and delivered with an empty body.
	AllowedMediaTypes []string

	// MaxTransferDuration bounds the whole exchange from the moment the
	// request is sent, regardless of progress. Zero means unbounded.
	MaxTransferDuration time.Duration
}

// DefaultRequestConfig returns the limits used when no option overrides them.
func DefaultRequestConfig() RequestConfig {
	return RequestConfig{MaxBodySize: DefaultMaxBodySize}
}

// A RequestOption changes the limits of a request.
type RequestOption func(*RequestConfig)

// WithTimeout sets the idle timeout.
func WithTimeout(d time.Duration) RequestOption {
	return func(c *RequestConfig) { c.Timeout = d }
}

// WithMaxBodySize sets the body size bound. Zero means unbounded.
func WithMaxBodySize(n int64) RequestOption {
	return func(c *RequestConfig) { c.MaxBodySize = n }
}

// WithAllowedMediaTypes sets the media type allow-list.
func WithAllowedMediaTypes(types ...string) RequestOption {
	return func(c *RequestConfig) { c.AllowedMediaTypes = types }
}

// WithMaxTransferDuration sets the bound on the total exchange.
func WithMaxTransferDuration(d time.Duration) RequestOption {
	return func(c *RequestConfig) { c.MaxTransferDuration = d }
}

// SendRequest issues a Gemini request for rawurl. The callback is called
// exactly once, on the request's goroutine, with the outcome; the Response
// is nil unless the Result is Ok.
//
// SendRequest returns an error, without calling callback, only when
// rawurl is not a usable Gemini URL. The returned id identifies the
// request while it is in flight.
func (c *Client) SendRequest(rawurl string, callback func(Result, *Response), opts ...RequestOption) (uuid.UUID, error) {
	logger := c.logger()

	u, err := ParseURL(rawurl)
	var perr *PortError
	if errors.As(err, &perr) {
		if c.StrictPort {
			return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
		}
		logger.Info("invalid port, using default", "url", rawurl, "port", perr.Port, "default", DefaultPort)
	} else if err != nil {
		return uuid.Nil, err
	}

	line := u.RequestLine()
	if len(line) > MaxURLLength {
		return uuid.Nil, fmt.Errorf("%w: longer than %d bytes", ErrInvalidURL, MaxURLLength)
	}
	host, err := punycodeHostname(u.Hostname())
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	cfg := DefaultRequestConfig()
	for _, opt := range c.Options {
		opt(&cfg)
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, span := c.tracer().Start(context.Background(), "gemini.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("gemini.url", line),
			attribute.String("server.address", host),
			attribute.Int("server.port", int(u.Port)),
		))

	e := newEngine(ctx, c, u, host, line, cfg, callback)
	e.span = span
	e.id = c.requests.insert(e)
	e.logger = logger.WithValues("url", line, "request", e.id.String())
	go e.run()
	return e.id, nil
}

// Get performs a Gemini request and waits for its outcome. A Result other
// than Ok is returned as a *ResultError.
//
// Without a timeout option, Get waits as long as the server keeps the
// connection open.
func (c *Client) Get(rawurl string, opts ...RequestOption) (*Response, error) {
	type outcome struct {
		result Result
		resp   *Response
	}
	done := make(chan outcome, 1)
	_, err := c.SendRequest(rawurl, func(result Result, resp *Response) {
		done <- outcome{result, resp}
	}, opts...)
	if err != nil {
		return nil, err
	}
	o := <-done
	if o.result != Ok {
		return nil, &ResultError{Result: o.result, URL: rawurl}
	}
	return o.resp, nil
}

// InFlight reports whether the request with the given id has not yet
// delivered its result.
func (c *Client) InFlight(id uuid.UUID) bool {
	return c.requests.Has(id)
}

// Pending returns the number of requests in flight.
func (c *Client) Pending() int {
	return c.requests.Len()
}

func (c *Client) logger() logr.Logger {
	if c.Logger.GetSink() == nil {
		return defaultLogger()
	}
	return c.Logger
}

func (c *Client) tracer() trace.Tracer {
	if c.Tracer != nil {
		return c.Tracer
	}
	return otel.Tracer(instrumentationName)
}

func (c *Client) resolver() Resolver {
	if c.Resolver != nil {
		return c.Resolver
	}
	return NetResolver{}
}

func (c *Client) dialer() Dialer {
	if c.Dialer != nil {
		return c.Dialer
	}
	return &net.Dialer{}
}
