package gemini

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// DefaultPort is the port Gemini servers listen on unless told otherwise.
const DefaultPort = 1965

// MaxURLLength is the longest URL a request line may carry.
const MaxURLLength = 1024

var urlPattern = regexp.MustCompile(`^([a-z]+)://(\[[0-9A-Fa-f:.]+\]|[^/:?\[\]]+)(?::([^/?]*))?(/[^?]*)?(?:\?(.*))?$`)

// URL is a parsed Gemini URL.
//
// A URL is built once from a raw string and is not modified afterwards.
type URL struct {
	Scheme   string // always "gemini"
	Host     string // hostname or IP literal, IPv6 without brackets
	Port     uint16
	Path     string // empty when the raw URL named no path
	RawQuery string // encoded query, without '?'

	raw      string
	hasQuery bool
}

// PortError is returned by ParseURL alongside a usable URL when the port
// could not be parsed or lies outside (0, 65536). The URL then carries
// DefaultPort.
type PortError struct {
	Port string
}

func (e *PortError) Error() string {
	return "gemini: invalid port " + strconv.Quote(e.Port)
}

// ParseURL parses a URL of the form gemini://host[:port][/path][?query].
//
// If the string does not match that grammar or names another scheme,
// ParseURL returns an error wrapping ErrInvalidURL and a nil URL.
// An invalid port is reported leniently: ParseURL returns the URL with
// DefaultPort together with a *PortError, and the caller decides whether
// that is fatal.
func ParseURL(rawurl string) (*URL, error) {
	idx := urlPattern.FindStringSubmatchIndex(rawurl)
	if idx == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, rawurl)
	}
	group := func(n int) string {
		if idx[2*n] < 0 {
			return ""
		}
		return rawurl[idx[2*n]:idx[2*n+1]]
	}
	if scheme := group(1); scheme != "gemini" {
		return nil, fmt.Errorf("%w: scheme %q is not gemini", ErrInvalidURL, scheme)
	}

	u := &URL{
		Scheme:   "gemini",
		Host:     strings.TrimSuffix(strings.TrimPrefix(group(2), "["), "]"),
		Port:     DefaultPort,
		Path:     group(4),
		RawQuery: group(5),
		raw:      rawurl,
		hasQuery: idx[10] >= 0,
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	// Port group matched, possibly empty.
	if idx[6] >= 0 {
		p := group(3)
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port >= 65536 {
			return u, &PortError{Port: p}
		}
		u.Port = uint16(port)
	}
	return u, nil
}

// Hostname returns the host without brackets.
func (u *URL) Hostname() string {
	return u.Host
}

// Address returns the host and port in a form suitable for net.Dial.
func (u *URL) Address() string {
	return net.JoinHostPort(u.Host, strconv.Itoa(int(u.Port)))
}

// RequestLine returns the URL as it is sent on the wire, without the
// terminating CRLF. Gemini servers always receive a path, so a URL
// without one gets "/" appended.
func (u *URL) RequestLine() string {
	if u.Path != "" || strings.HasSuffix(u.raw, "/") {
		return u.raw
	}
	if u.hasQuery {
		i := strings.Index(u.raw, "?")
		return u.raw[:i] + "/" + u.raw[i:]
	}
	return u.raw + "/"
}

// Query returns the decoded query. If the query is not valid
// percent-encoding, the raw query is returned.
func (u *URL) Query() string {
	q, err := url.PathUnescape(u.RawQuery)
	if err != nil {
		return u.RawQuery
	}
	return q
}

// WithPath returns the URL as a string with its path replaced by p.
// The query is kept; the port is written only when it is not DefaultPort.
func (u *URL) WithPath(p string) string {
	var b strings.Builder
	b.WriteString(u.Scheme)
	b.WriteString("://")
	host := u.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	b.WriteString(host)
	if u.Port != DefaultPort {
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(int(u.Port)))
	}
	b.WriteString(p)
	if u.hasQuery {
		b.WriteByte('?')
		b.WriteString(u.RawQuery)
	}
	return b.String()
}

// String returns the original URL.
func (u *URL) String() string {
	return u.raw
}
