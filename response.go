package gemini

import (
	"strconv"
	"strings"
)

// The default media type for successful responses without a meta.
const defaultMediaType = "text/gemini; charset=utf-8"

// Header names used by the generic response model.
const (
	HeaderGeminiStatus = "gemini-status"
	HeaderMeta         = "meta"
	HeaderContentType  = "content-type"
	HeaderLocation     = "location"
)

// Header is an ordered set of response header fields.
// Names are case-insensitive and stored in lower case.
// The zero value is an empty header ready to use.
type Header struct {
	names  []string
	values map[string]string
}

// Set sets the value of the named field, keeping the position of an
// existing field.
func (h *Header) Set(name, value string) {
	name = strings.ToLower(name)
	if h.values == nil {
		h.values = map[string]string{}
	}
	if _, ok := h.values[name]; !ok {
		h.names = append(h.names, name)
	}
	h.values[name] = value
}

// Get returns the value of the named field, or "" if it is not set.
func (h Header) Get(name string) string {
	return h.values[strings.ToLower(name)]
}

// Has reports whether the named field is set.
func (h Header) Has(name string) bool {
	_, ok := h.values[strings.ToLower(name)]
	return ok
}

// Names returns the field names in insertion order.
func (h Header) Names() []string {
	return append([]string(nil), h.names...)
}

// Len returns the number of fields.
func (h Header) Len() int {
	return len(h.names)
}

// Response is the protocol-neutral response exchanged with callers and
// handlers. Status uses the generic status model (see ToGeneric and
// FromGeneric); a Status below 100 is a raw Gemini status.
//
// A client hands a Response to its callback once the exchange is complete.
// A handler returns a Response to the server, which translates it into
// Gemini wire format. A Response must not be modified after it has been
// handed over.
type Response struct {
	Status      int
	Header      Header
	Body        []byte
	ContentType string

	// File, if not nil, is sent instead of Body by the server.
	File *FileBody
}

// FileBody is a response body served from a file. A Length of zero means
// the rest of the file from Offset.
type FileBody struct {
	Name   string
	Offset int64
	Length int64
}

// NewResponse returns a response with the given generic status.
func NewResponse(status int) *Response {
	return &Response{Status: status}
}

// Meta returns the Gemini meta carried by the response.
func (r *Response) Meta() string {
	return r.Header.Get(HeaderMeta)
}

// GeminiStatus returns the raw Gemini status a client received, or zero
// if the response did not come from the wire.
func (r *Response) GeminiStatus() Status {
	n, _ := strconv.Atoi(r.Header.Get(HeaderGeminiStatus))
	return Status(n)
}

// newClientResponse builds the generic response for a completed exchange.
func newClientResponse(status Status, meta string, body []byte) *Response {
	resp := &Response{
		Status: ToGeneric(status),
		Body:   body,
	}
	resp.Header.Set(HeaderGeminiStatus, strconv.Itoa(int(status)))
	resp.Header.Set(HeaderMeta, meta)
	if status.Class() == ClassSuccess {
		resp.ContentType = meta
		resp.Header.Set(HeaderContentType, meta)
	}
	return resp
}

// parseHeader parses a response header line without its CRLF.
//
// Lenient servers are tolerated: a bare two digit status is accepted with
// an empty meta, and whitespace before the meta is stripped.
func parseHeader(line []byte) (Status, string, error) {
	if len(line) < 2 {
		return 0, "", ErrInvalidResponse
	}
	if len(line) >= 3 && line[2] != ' ' {
		return 0, "", ErrInvalidResponse
	}
	n, err := strconv.Atoi(string(line[:2]))
	if err != nil {
		return 0, "", ErrInvalidResponse
	}
	status := Status(n)
	if !status.Valid() {
		return 0, "", ErrInvalidResponse
	}
	var meta string
	if len(line) > 3 {
		meta = strings.TrimLeft(string(line[3:]), " \t")
	}
	if status.Class() == ClassSuccess && meta == "" {
		meta = defaultMediaType
	}
	return status, meta, nil
}

// mediaType returns meta up to the first ';', ' ' or ','.
func mediaType(meta string) string {
	if i := strings.IndexAny(meta, "; ,"); i >= 0 {
		return meta[:i]
	}
	return meta
}

// statusLine translates a handler response into the Gemini status and meta
// written by the server.
func statusLine(resp *Response) (Status, string) {
	status := FromGeneric(resp.Status)
	meta := resp.Header.Get(HeaderMeta)
	switch status.Class() {
	case ClassInput:
		if meta == "" {
			meta = "Input"
		}
	case ClassSuccess:
		meta = resp.ContentType
		if meta == "" {
			meta = resp.Header.Get(HeaderContentType)
		}
		if meta == "" {
			meta = "application/octet-stream"
		}
	case ClassRedirect:
		if loc := resp.Header.Get(HeaderLocation); loc != "" {
			meta = loc
		}
	case ClassTemporaryFailure:
		if meta == "" {
			meta = "Temporary Failure"
		}
	case ClassPermanentFailure:
		if meta == "" {
			meta = "Permanent Failure"
		}
	}
	// Meta is a single line.
	if i := strings.IndexAny(meta, "\r\n"); i >= 0 {
		meta = meta[:i]
	}
	return status, meta
}

// StatusResponse returns a response carrying a raw Gemini status and meta.
func StatusResponse(status Status, meta string) *Response {
	resp := &Response{Status: int(status)}
	resp.Header.Set(HeaderMeta, meta)
	return resp
}

// Success returns a 20 response with the given body.
// An empty contentType is sent as "application/octet-stream".
func Success(contentType string, body []byte) *Response {
	return &Response{
		Status:      GenericOK,
		Body:        body,
		ContentType: contentType,
	}
}

// Redirect returns a redirect response pointing at target.
func Redirect(status Status, target string) *Response {
	resp := &Response{Status: int(status)}
	resp.Header.Set(HeaderLocation, target)
	return resp
}
