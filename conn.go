package gemini

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// conn is the server side of a single connection. It reads one request,
// hands it to the worker pool and writes the response before closing.
type conn struct {
	server *Server
	rwc    net.Conn
	logger logr.Logger

	requestReceived bool
}

func (s *Server) newConn(rwc net.Conn) *conn {
	return &conn{
		server: s,
		rwc:    rwc,
		logger: s.logger().WithValues("remote", rwc.RemoteAddr().String()),
	}
}

func (c *conn) serve(ctx context.Context) {
	s := c.server
	defer func() {
		if !c.requestReceived {
			c.logger.V(2).Info("connection closed without a request")
		}
		c.rwc.Close()
		s.untrackConn(c)
	}()

	if d := s.ReadTimeout; d != 0 {
		_ = c.rwc.SetReadDeadline(time.Now().Add(d))
	}

	req, err := ReadRequest(c.rwc)
	var perr *PortError
	switch {
	case errors.As(err, &perr):
		c.logger.Info("invalid port in request, using default", "port", perr.Port)
	case errors.Is(err, ErrInvalidRequest):
		c.logger.V(1).Info("malformed request", "error", err)
		c.write(StatusResponse(StatusBadRequest, "Bad request"))
		return
	case err != nil:
		c.logger.V(1).Info("failed to read request", "error", err)
		return
	}
	c.requestReceived = true

	req.RemoteAddr = c.rwc.RemoteAddr()
	if tlsConn, ok := c.rwc.(*tls.Conn); ok {
		state := tlsConn.ConnectionState()
		req.TLS = &state
		if len(state.PeerCertificates) > 0 {
			req.Certificate = state.PeerCertificates[0]
		}
	}

	ctx, span := s.tracer().Start(ctx, "gemini.serve",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("gemini.url", req.URL.String()),
			attribute.String("url.path", req.Path()),
			attribute.String("client.address", req.RemoteAddr.String()),
		))
	defer span.End()

	resp, ok := s.pool.dispatch(ctx, s.handler(), req)
	if !ok || resp == nil {
		span.SetStatus(codes.Error, "not handled")
		c.logger.V(1).Info("request dropped", "url", req.URL.String())
		return
	}

	status, n, err := c.write(resp)
	span.SetAttributes(
		attribute.Int("gemini.status", int(status)),
		attribute.Int64("gemini.body_size", n),
	)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	c.logger.V(1).Info("request served", "url", req.URL.String(), "status", int(status), "bytes", n)
}

func (c *conn) write(resp *Response) (Status, int64, error) {
	if d := c.server.WriteTimeout; d != 0 {
		_ = c.rwc.SetWriteDeadline(time.Now().Add(d))
	}
	status, n, err := writeResponse(c.rwc, resp)
	if err != nil {
		c.logger.V(1).Info("failed to write response", "status", int(status), "error", err)
	}
	return status, n, err
}
