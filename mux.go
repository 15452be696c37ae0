package gemini

import (
	"context"
	"net"
	"path"
	"sort"
	"strings"
	"sync"
)

// ServeMux is a Gemini request multiplexer.
// It matches the URL of each incoming request against a list of registered
// patterns and calls the handler for the pattern that
// most closely matches the URL.
//
// Patterns name fixed, rooted paths, like "/favicon.ico",
// or rooted subtrees, like "/images/" (note the trailing slash).
// Longer patterns take precedence over shorter ones, so that
// if there are handlers registered for both "/images/"
// and "/images/thumbnails/", the latter handler will be
// called for paths beginning "/images/thumbnails/" and the
// former will receive requests for any other paths in the
// "/images/" subtree.
//
// Note that since a pattern ending in a slash names a rooted subtree,
// the pattern "/" matches all paths not matched by other registered
// patterns, not just the URL with Path == "/".
//
// Patterns may also start with a hostname, like "example.com/docs/".
// Wildcard hostnames match every subdomain (e.g. "*.example.com").
// A pattern without a hostname matches any hostname; the port is
// ignored when matching.
//
//	Pattern                 │ Hostname      │ Path
//	────────────────────────┼───────────────┼──────────────
//	/file                   │ *             │ /file
//	/directory/             │ *             │ /directory/*
//	hostname/file           │ hostname      │ /file
//	hostname/directory/     │ hostname      │ /directory/*
//	*.hostname/directory/   │ sub.hostname  │ /directory/*
//
// If a subtree has been registered and a request is received naming the
// subtree root without its trailing slash, ServeMux redirects that
// request to the subtree root (adding the trailing slash). This behavior can
// be overridden with a separate registration for the path without
// the trailing slash. For example, registering "/images/" causes ServeMux
// to redirect a request for "/images" to "/images/", unless "/images" has
// been registered separately.
//
// ServeMux also takes care of sanitizing the URL request path and
// redirecting any request containing . or .. elements or repeated slashes
// to an equivalent, cleaner URL.
type ServeMux struct {
	mu sync.RWMutex
	m  map[muxKey]Handler
	es []muxEntry // slice of entries sorted from longest to shortest
}

type muxKey struct {
	host string
	path string
}

type muxEntry struct {
	handler Handler
	key     muxKey
}

// cleanPath returns the canonical path for p, eliminating . and .. elements.
func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if p[0] != '/' {
		p = "/" + p
	}
	np := path.Clean(p)
	// path.Clean removes trailing slash except for root;
	// put the trailing slash back if necessary.
	if p[len(p)-1] == '/' && np != "/" {
		// Fast path for common case of p being the string we want:
		if len(p) == len(np)+1 && strings.HasPrefix(p, np) {
			np = p
		} else {
			np += "/"
		}
	}
	return np
}

// Find a handler on a handler map given a path string.
// Most-specific (longest) pattern wins.
func (mux *ServeMux) match(key muxKey) Handler {
	// Check for exact match first.
	if h, ok := mux.m[key]; ok {
		return h
	} else if h, ok := mux.m[muxKey{"", key.path}]; ok {
		return h
	}

	// Check for longest valid match. mux.es contains all patterns
	// that end in / sorted from longest to shortest.
	for _, e := range mux.es {
		if (e.key.host == "" || key.host == e.key.host) &&
			strings.HasPrefix(key.path, e.key.path) {
			return e.handler
		}
	}
	return nil
}

// shouldRedirectRLocked reports whether the given path and host should be
// redirected to path+"/". This should happen if a handler is registered
// for path+"/" but not path; see the comments at ServeMux.
func (mux *ServeMux) shouldRedirectRLocked(key muxKey) bool {
	for _, host := range []string{key.host, ""} {
		if _, exist := mux.m[muxKey{host, key.path}]; exist {
			return false
		}
		if _, exist := mux.m[muxKey{host, key.path + "/"}]; exist {
			return !strings.HasSuffix(key.path, "/")
		}
	}
	return false
}

func getWildcard(hostname string) (string, bool) {
	if net.ParseIP(hostname) == nil {
		if _, rest, found := strings.Cut(hostname, "."); found {
			return "*." + rest, true
		}
	}
	return "", false
}

// Handler returns the handler to use for the given request, consulting
// the request's hostname and path. It always returns a non-nil handler.
// If the path is not in its canonical form, the handler will be an
// internally-generated handler that redirects to the canonical path.
func (mux *ServeMux) Handler(r *Request) Handler {
	host := r.URL.Hostname()
	p := cleanPath(r.URL.Path)

	if p != r.Path() {
		return StatusHandler(StatusPermanentRedirect, r.URL.WithPath(p))
	}

	mux.mu.RLock()
	defer mux.mu.RUnlock()

	// If the given path is /tree and its handler is not registered,
	// redirect for /tree/.
	if mux.shouldRedirectRLocked(muxKey{host, p}) {
		return StatusHandler(StatusPermanentRedirect, r.URL.WithPath(p+"/"))
	}

	h := mux.match(muxKey{host, p})
	if h == nil {
		if wildcard, ok := getWildcard(host); ok {
			h = mux.match(muxKey{wildcard, p})
		}
	}
	if h == nil {
		h = NotFoundHandler()
	}
	return h
}

// ServeGemini dispatches the request to the handler whose
// pattern most closely matches the request URL.
func (mux *ServeMux) ServeGemini(ctx context.Context, r *Request) *Response {
	return mux.Handler(r).ServeGemini(ctx, r)
}

// Handle registers the handler for the given pattern.
// If a handler already exists for pattern, Handle panics.
func (mux *ServeMux) Handle(pattern string, handler Handler) {
	if pattern == "" {
		panic("gemini: invalid pattern")
	}
	if handler == nil {
		panic("gemini: nil handler")
	}

	mux.mu.Lock()
	defer mux.mu.Unlock()

	pattern = strings.TrimPrefix(pattern, "gemini://")

	var key muxKey
	host, p, found := strings.Cut(pattern, "/")
	if found {
		key.host, key.path = host, "/"+p
	} else {
		key.host, key.path = pattern, "/"
	}

	// strip port from hostname
	if hostname, _, err := net.SplitHostPort(key.host); err == nil {
		key.host = hostname
	}

	if _, exist := mux.m[key]; exist {
		panic("gemini: multiple registrations for " + pattern)
	}

	if mux.m == nil {
		mux.m = make(map[muxKey]Handler)
	}
	mux.m[key] = handler
	if strings.HasSuffix(key.path, "/") {
		mux.es = appendSorted(mux.es, muxEntry{handler, key})
	}
}

// appendSorted keeps es ordered by path length, longest first, with
// host-specific entries ahead of host-less ones of the same length.
func appendSorted(es []muxEntry, e muxEntry) []muxEntry {
	n := len(es)
	i := sort.Search(n, func(i int) bool {
		if len(es[i].key.path) != len(e.key.path) {
			return len(es[i].key.path) < len(e.key.path)
		}
		return len(es[i].key.host) < len(e.key.host)
	})
	if i == n {
		return append(es, e)
	}
	// we now know that i points at where we want to insert
	es = append(es, muxEntry{}) // try to grow the slice in place, any entry works.
	copy(es[i+1:], es[i:])      // move shorter entries down
	es[i] = e
	return es
}

// HandleFunc registers the handler function for the given pattern.
func (mux *ServeMux) HandleFunc(pattern string, handler func(context.Context, *Request) *Response) {
	mux.Handle(pattern, HandlerFunc(handler))
}
