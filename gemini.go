package gemini

import (
	"errors"
	"log"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/google/uuid"
)

var crlf = []byte("\r\n")

// Errors.
var (
	ErrInvalidURL      = errors.New("gemini: invalid URL")
	ErrInvalidRequest  = errors.New("gemini: invalid request")
	ErrInvalidResponse = errors.New("gemini: invalid response")
	ErrServerClosed    = errors.New("gemini: server closed")
	ErrNotAFile        = errors.New("gemini: not a file")
)

// DefaultClient is the default client. It is used by SendRequest and Get.
var DefaultClient = &Client{}

// SendRequest issues a Gemini request for the given URL and calls callback
// exactly once with the outcome.
//
// SendRequest is a wrapper around DefaultClient.SendRequest.
func SendRequest(rawurl string, callback func(Result, *Response), opts ...RequestOption) (uuid.UUID, error) {
	return DefaultClient.SendRequest(rawurl, callback, opts...)
}

// Get performs a Gemini request and waits for its response.
//
// Get is a wrapper around DefaultClient.Get.
func Get(rawurl string, opts ...RequestOption) (*Response, error) {
	return DefaultClient.Get(rawurl, opts...)
}

// defaultLogger sends log output to the standard logger.
func defaultLogger() logr.Logger {
	return stdr.New(log.Default())
}
