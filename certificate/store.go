package certificate

import (
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrUnknownScope is returned by Get for a hostname that matches no
// registered scope.
var ErrUnknownScope = errors.New("certificate: unrecognized scope")

// A Store maps certificate scopes to server certificates.
// It generates certificates as needed and rotates expired certificates.
// The zero value for Store is an empty store ready to use.
//
// Certificate scopes must be registered with Register or Add before
// retrieval; otherwise Get fails. This keeps the Store from minting
// certificates for arbitrary names sent by clients.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	// CreateCertificate, if not nil, is called to create a new certificate
	// to replace a missing or expired certificate. If CreateCertificate
	// is nil, a certificate with a duration of 1 year will be created.
	// The provided scope is suitable for use in a certificate's DNSNames.
	CreateCertificate func(scope string) (tls.Certificate, error)

	certs map[string]tls.Certificate
	path  string
	mu    sync.RWMutex
}

// Register registers the provided scope with the store without a
// certificate. The scope can either be a hostname or a wildcard pattern
// (e.g. "*.example.com"). To accept all hostnames, use the pattern "*".
func (s *Store) Register(scope string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.certs == nil {
		s.certs = map[string]tls.Certificate{}
	}
	if _, ok := s.certs[scope]; !ok {
		s.certs[scope] = tls.Certificate{}
	}
}

// Add adds a certificate for the given scope. If the store has a path the
// certificate and its key are also written there.
func (s *Store) Add(scope string, cert tls.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(scope, cert, true)
}

func (s *Store) addLocked(scope string, cert tls.Certificate, write bool) error {
	if len(cert.Certificate) == 0 {
		return fmt.Errorf("certificate: empty certificate for %s", scope)
	}
	if cert.Leaf == nil {
		parsed, err := x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return err
		}
		cert.Leaf = parsed
	}

	if write && s.path != "" {
		certPath, keyPath := s.files(scope)
		if err := Write(cert, certPath, keyPath); err != nil {
			return err
		}
	}

	if s.certs == nil {
		s.certs = map[string]tls.Certificate{}
	}
	s.certs[scope] = cert
	return nil
}

// Lookup returns the certificate stored for exactly this scope.
func (s *Store) Lookup(scope string) (tls.Certificate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cert, ok := s.certs[scope]
	if !ok || cert.Leaf == nil {
		return tls.Certificate{}, false
	}
	return cert, true
}

// Get retrieves a certificate for the given hostname. The hostname itself
// is tried first, then its wildcard pattern, then "*".
// Registered scopes without a certificate, and expired certificates, get a
// fresh certificate.
func (s *Store) Get(hostname string) (*tls.Certificate, error) {
	s.mu.RLock()
	scope, cert, ok := s.match(hostname)
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScope, hostname)
	}
	if cert.Leaf != nil && cert.Leaf.NotAfter.After(time.Now()) {
		return &cert, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Another caller may have renewed it meanwhile.
	if cert, ok := s.certs[scope]; ok && cert.Leaf != nil && cert.Leaf.NotAfter.After(time.Now()) {
		return &cert, nil
	}
	cert, err := s.createCertificate(scope)
	if err != nil {
		return nil, err
	}
	if err := s.addLocked(scope, cert, true); err != nil {
		return nil, fmt.Errorf("certificate: failed to add certificate for %s: %w", scope, err)
	}
	cert = s.certs[scope]
	return &cert, nil
}

func (s *Store) match(hostname string) (string, tls.Certificate, bool) {
	if cert, ok := s.certs[hostname]; ok && hostname != "" {
		return hostname, cert, true
	}
	if _, rest, found := strings.Cut(hostname, "."); found {
		wildcard := "*." + rest
		if cert, ok := s.certs[wildcard]; ok {
			return wildcard, cert, true
		}
	}
	if cert, ok := s.certs["*"]; ok {
		return "*", cert, true
	}
	return "", tls.Certificate{}, false
}

func (s *Store) createCertificate(scope string) (tls.Certificate, error) {
	if s.CreateCertificate != nil {
		return s.CreateCertificate(scope)
	}
	name := scope
	if name == "*" {
		name = "localhost"
	}
	return Create(CreateOptions{
		DNSNames: []string{name},
		Subject: pkix.Name{
			CommonName: name,
		},
		Duration: 365 * 24 * time.Hour,
	})
}

// Load loads certificates from the provided path.
// New certificates will be written to this path.
//
// The path should lead to a directory containing certificates and private
// keys named "scope.crt" and "scope.key" respectively. Every pair found
// registers its scope; pairs that fail to load are skipped.
func (s *Store) Load(path string) error {
	matches, err := filepath.Glob(filepath.Join(path, "*.crt"))
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, crtPath := range matches {
		keyPath := strings.TrimSuffix(crtPath, ".crt") + ".key"
		cert, err := tls.LoadX509KeyPair(crtPath, keyPath)
		if err != nil {
			continue
		}
		scope := strings.TrimSuffix(filepath.Base(crtPath), ".crt")
		// Unescape slash character
		scope = strings.ReplaceAll(scope, ":", "/")
		if err := s.addLocked(scope, cert, false); err != nil {
			continue
		}
	}
	s.path = path
	return nil
}

// Entries returns a map of scopes to certificates.
func (s *Store) Entries() map[string]tls.Certificate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	certs := make(map[string]tls.Certificate, len(s.certs))
	for scope, cert := range s.certs {
		certs[scope] = cert
	}
	return certs
}

// SetPath sets the directory that new certificates will be written to.
func (s *Store) SetPath(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.path = path
}

// Path returns the directory certificates are written to.
func (s *Store) Path() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.path
}

func (s *Store) files(scope string) (certPath, keyPath string) {
	// Escape slash character
	scope = strings.ReplaceAll(scope, "/", ":")
	return filepath.Join(s.path, scope+".crt"), filepath.Join(s.path, scope+".key")
}
