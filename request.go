package gemini

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
)

// A Request represents a Gemini request received by a server.
type Request struct {
	// URL is the requested URL.
	URL *URL

	// RemoteAddr records the network address that sent the request,
	// usually for logging. It is not filled in by ReadRequest.
	RemoteAddr net.Addr

	// TLS records information about the TLS connection on which the
	// request was received. It is not filled in by ReadRequest.
	TLS *tls.ConnectionState

	// Certificate is the client certificate presented during the
	// handshake, if any.
	Certificate *x509.Certificate
}

// Path returns the requested path. A request without a path is a request
// for "/".
func (r *Request) Path() string {
	if r.URL.Path == "" {
		return "/"
	}
	return r.URL.Path
}

// Query returns the decoded query string, or "" if there is none.
func (r *Request) Query() string {
	return r.URL.Query()
}

// ReadRequest reads and parses an incoming request line from r.
//
// A line whose URL is longer than MaxURLLength, one not terminated by
// CRLF, or one that is not a valid Gemini URL yields an error wrapping
// ErrInvalidRequest. If r ends before a full line was read, the read
// error is returned as is. If only the port is invalid, ReadRequest
// returns the request, whose URL carries DefaultPort, together with a
// *PortError.
//
// ReadRequest is a low-level function; most code should use the Server
// to read requests and handle them via the Handler interface.
func ReadRequest(r io.Reader) (*Request, error) {
	// Read no further than a maximal line, and stop as soon as the byte
	// after a maximal URL is not the CR that must end it.
	buf := make([]byte, 0, MaxURLLength+2)
	for {
		n, err := r.Read(buf[len(buf):cap(buf)])
		start := len(buf)
		buf = buf[:start+n]
		if i := bytes.IndexByte(buf[start:], '\n'); i >= 0 {
			buf = buf[:start+i+1]
			break
		}
		if len(buf) > MaxURLLength && (buf[MaxURLLength] != '\r' || len(buf) == cap(buf)) {
			return nil, fmt.Errorf("%w: request line exceeds %d bytes", ErrInvalidRequest, MaxURLLength)
		}
		if err != nil {
			return nil, err
		}
	}
	if len(buf) < 2 || buf[len(buf)-2] != '\r' {
		return nil, fmt.Errorf("%w: request line not terminated by CRLF", ErrInvalidRequest)
	}
	return parseRequestLine(string(buf[:len(buf)-2]))
}

func parseRequestLine(line string) (*Request, error) {
	u, err := ParseURL(line)
	var perr *PortError
	if err != nil && !errors.As(err, &perr) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return &Request{URL: u}, err
}
