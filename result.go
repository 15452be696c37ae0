package gemini

// Result is the terminal outcome of a client request. Exactly one Result
// is delivered per request.
type Result int

// Results.
const (
	Ok Result = iota
	BadServerAddress
	NetworkFailure
	HandshakeError
	InvalidCertificate
	BadResponse
	Timeout
)

func (r Result) String() string {
	switch r {
	case Ok:
		return "Ok"
	case BadServerAddress:
		return "BadServerAddress"
	case NetworkFailure:
		return "NetworkFailure"
	case HandshakeError:
		return "HandshakeError"
	case InvalidCertificate:
		return "InvalidCertificate"
	case BadResponse:
		return "BadResponse"
	case Timeout:
		return "Timeout"
	}
	return "Unknown"
}

// ResultError reports a request that finished with a Result other than Ok.
type ResultError struct {
	Result Result
	URL    string
}

func (e *ResultError) Error() string {
	return "gemini: request for " + e.URL + " failed: " + e.Result.String()
}
