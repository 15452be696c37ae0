package gemini

import (
	"context"
	"strings"
	"time"
)

// A Handler responds to a Gemini request.
//
// ServeGemini returns the response to send. The server translates it into
// a status line and, for successful responses, a body. A nil response is
// answered with "51 Not found".
//
// The provided context is canceled when the server is closed.
//
// Handlers should not modify the provided Request.
type Handler interface {
	ServeGemini(context.Context, *Request) *Response
}

// The HandlerFunc type is an adapter to allow the use of ordinary functions
// as Gemini handlers. If f is a function with the appropriate signature,
// HandlerFunc(f) is a Handler that calls f.
type HandlerFunc func(context.Context, *Request) *Response

// ServeGemini calls f(ctx, r).
func (f HandlerFunc) ServeGemini(ctx context.Context, r *Request) *Response {
	return f(ctx, r)
}

// StatusHandler returns a request handler that responds to each request
// with the provided status code and meta.
func StatusHandler(status Status, meta string) Handler {
	return HandlerFunc(func(context.Context, *Request) *Response {
		return StatusResponse(status, meta)
	})
}

// NotFoundHandler returns a simple request handler that replies to each
// request with a “51 Not found” reply.
func NotFoundHandler() Handler {
	return StatusHandler(StatusNotFound, "Not found")
}

// StripPrefix returns a handler that serves Gemini requests by removing the
// given prefix from the request URL's Path and invoking the handler h.
// StripPrefix handles a request for a path that doesn't begin with prefix
// by replying with a Gemini 51 not found error.
func StripPrefix(prefix string, h Handler) Handler {
	if prefix == "" {
		return h
	}
	return HandlerFunc(func(ctx context.Context, r *Request) *Response {
		p := strings.TrimPrefix(r.Path(), prefix)
		if len(p) == len(r.Path()) {
			return StatusResponse(StatusNotFound, "Not found")
		}
		r2 := new(Request)
		*r2 = *r
		r2.URL = new(URL)
		*r2.URL = *r.URL
		r2.URL.Path = p
		return h.ServeGemini(ctx, r2)
	})
}

// TimeoutHandler returns a Handler that runs h with the given time limit.
//
// The new Handler calls h.ServeGemini to handle each request, but
// if a call runs for longer than its time limit, the handler responds with a
// 40 Temporary Failure error. The context passed to h is canceled at the
// limit; whatever h returns afterwards is discarded.
func TimeoutHandler(h Handler, dt time.Duration) Handler {
	return &timeoutHandler{
		h:  h,
		dt: dt,
	}
}

type timeoutHandler struct {
	h  Handler
	dt time.Duration
}

func (t *timeoutHandler) ServeGemini(ctx context.Context, r *Request) *Response {
	ctx, cancel := context.WithTimeout(ctx, t.dt)
	defer cancel()

	done := make(chan *Response, 1)
	panicChan := make(chan any, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				panicChan <- p
			}
		}()
		done <- t.h.ServeGemini(ctx, r)
	}()

	select {
	case p := <-panicChan:
		panic(p)
	case resp := <-done:
		return resp
	case <-ctx.Done():
		return StatusResponse(StatusTemporaryFailure, "Timeout")
	}
}
