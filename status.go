package gemini

import "fmt"

// Status represents a Gemini status code.
type Status int

// Status codes.
const (
	StatusInput                    Status = 10
	StatusSensitiveInput           Status = 11
	StatusSuccess                  Status = 20
	StatusRedirect                 Status = 30
	StatusPermanentRedirect        Status = 31
	StatusTemporaryFailure         Status = 40
	StatusServerUnavailable        Status = 41
	StatusCGIError                 Status = 42
	StatusProxyError               Status = 43
	StatusSlowDown                 Status = 44
	StatusPermanentFailure         Status = 50
	StatusNotFound                 Status = 51
	StatusGone                     Status = 52
	StatusProxyRequestRefused      Status = 53
	StatusBadRequest               Status = 59
	StatusCertificateRequired      Status = 60
	StatusCertificateNotAuthorized Status = 61
	StatusCertificateNotValid      Status = 62
)

// Status classes.
const (
	ClassInput                     Status = 10
	ClassSuccess                   Status = 20
	ClassRedirect                  Status = 30
	ClassTemporaryFailure          Status = 40
	ClassPermanentFailure          Status = 50
	ClassClientCertificateRequired Status = 60
)

// Class returns the status class for this status code.
// 1x becomes 10, 2x becomes 20, and so on.
func (s Status) Class() Status {
	return (s / 10) * 10
}

// Valid reports whether s lies in the range of Gemini status codes.
func (s Status) Valid() bool {
	return s >= 10 && s <= 69
}

// Meta returns a description of the status code appropriate for use in a response.
//
// Meta returns an empty string for input, success, and redirect status codes.
func (s Status) Meta() string {
	switch s {
	case StatusTemporaryFailure:
		return "Temporary failure"
	case StatusServerUnavailable:
		return "Server unavailable"
	case StatusCGIError:
		return "CGI error"
	case StatusProxyError:
		return "Proxy error"
	case StatusSlowDown:
		return "Slow down"
	case StatusPermanentFailure:
		return "Permanent failure"
	case StatusNotFound:
		return "Not found"
	case StatusGone:
		return "Gone"
	case StatusProxyRequestRefused:
		return "Proxy request refused"
	case StatusBadRequest:
		return "Bad request"
	case StatusCertificateRequired:
		return "Certificate required"
	case StatusCertificateNotAuthorized:
		return "Certificate not authorized"
	case StatusCertificateNotValid:
		return "Certificate not valid"
	}
	return ""
}

// Generic status codes. The generic model follows the numbering of web
// status codes so that one handler can serve both protocols.
const (
	GenericOK                 = 200
	GenericBadRequest         = 400
	GenericNotFound           = 404
	GenericInternalError      = 500
	GenericBadGateway         = 502
	GenericServiceUnavailable = 503
	GenericGatewayTimeout     = 504
)

// ToGeneric maps a Gemini status received by a client onto the generic
// status model.
func ToGeneric(s Status) int {
	switch {
	case s == StatusSuccess:
		return GenericOK
	case s == StatusBadRequest:
		return GenericBadRequest
	case s == StatusNotFound:
		return GenericNotFound
	case s == StatusProxyError:
		return GenericGatewayTimeout
	case s == StatusSlowDown:
		return GenericServiceUnavailable
	case s.Class() == ClassTemporaryFailure:
		return GenericInternalError
	case s.Class() == ClassPermanentFailure:
		return GenericBadRequest
	}
	return int(s/10)*100 + int(s%10)
}

// FromGeneric maps a generic status produced by a handler onto the Gemini
// status sent by the server. Values below 100 are taken to be Gemini codes
// already and pass through unchanged. A zero status is treated as success.
//
// FromGeneric panics if the result is not a valid Gemini status: handlers
// must only produce codes that translate into [10, 69].
func FromGeneric(code int) Status {
	var s Status
	switch {
	case code == 0:
		s = StatusSuccess
	case code < 100:
		s = Status(code)
	case code == GenericBadRequest:
		s = StatusBadRequest
	case code == GenericNotFound:
		s = StatusNotFound
	case code == GenericBadGateway || code == GenericGatewayTimeout:
		s = StatusProxyError
	case code == GenericServiceUnavailable:
		s = StatusSlowDown
	case code/100 == 2:
		s = StatusSuccess
	case code/100 == 4:
		s = StatusPermanentFailure
	case code/100 == 5:
		s = StatusTemporaryFailure
	default:
		s = Status(code/100) * 10
	}
	if !s.Valid() {
		panic(fmt.Sprintf("gemini: generic status %d translates to invalid status %d", code, s))
	}
	return s
}
