// Package tofu implements trust on first use for Gemini clients.
//
// The first certificate a host presents is remembered by fingerprint; later
// connections must present the same certificate until it expires. A
// *KnownHosts can be plugged into a client directly:
//
//	var hosts tofu.KnownHosts
//	if err := hosts.Open(path); err != nil {
//		// handle error
//	}
//	client := &gemini.Client{TrustCertificate: hosts.TOFU}
package tofu

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Fingerprint algorithms understood in known hosts files.
const (
	SHA256 = "SHA-256"
	SHA512 = "SHA-512"
)

var (
	// ErrFingerprintMismatch is returned by TOFU when a host presents a
	// certificate other than the one it was first seen with.
	ErrFingerprintMismatch = errors.New("tofu: fingerprint does not match")

	// ErrInvalidEntry is wrapped by errors from parsing a known host line.
	ErrInvalidEntry = errors.New("tofu: invalid known host entry")
)

// KnownHosts is a list of known hosts, optionally backed by a file.
// The zero value is an empty list ready to use.
//
// KnownHosts is safe for concurrent use by multiple goroutines.
type KnownHosts struct {
	// Algorithm is used for new entries. Empty means SHA-256.
	Algorithm string

	// Now returns the current time. If nil, time.Now is used.
	Now func() time.Time

	hosts map[string]KnownHost
	out   *bufio.Writer
	file  io.Closer
	mu    sync.RWMutex
}

// Open loads the known hosts stored at path, creating the file if it
// does not exist. New hosts are appended to it.
func (k *KnownHosts) Open(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if err := k.Parse(f); err != nil {
		f.Close()
		return err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.file != nil {
		k.file.Close()
	}
	k.out = bufio.NewWriter(f)
	k.file = f
	return nil
}

// Close closes the backing file, if any.
func (k *KnownHosts) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.file == nil {
		return nil
	}
	err := k.file.Close()
	k.out, k.file = nil, nil
	return err
}

// Parse adds the entries read from r. Blank lines and lines starting with
// '#' are skipped. A later entry for a host replaces an earlier one.
func (k *KnownHosts) Parse(r io.Reader) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.hosts == nil {
		k.hosts = map[string]KnownHost{}
	}

	scanner := bufio.NewScanner(r)
	var line int
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 || text[0] == '#' {
			continue
		}
		var h KnownHost
		if err := h.UnmarshalText(text); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		k.hosts[h.Hostname] = h
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("tofu: failed to read known hosts: %w", err)
	}
	return nil
}

// Add records h, replacing any entry for the same host, and appends it to
// the backing file.
func (k *KnownHosts) Add(h KnownHost) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.hosts == nil {
		k.hosts = map[string]KnownHost{}
	}
	k.hosts[h.Hostname] = h

	if k.out != nil {
		text, _ := h.MarshalText()
		k.out.Write(text)
		k.out.WriteByte('\n')
		if err := k.out.Flush(); err != nil {
			return fmt.Errorf("tofu: failed to write known host: %w", err)
		}
	}
	return nil
}

// Lookup returns the entry for hostname.
func (k *KnownHosts) Lookup(hostname string) (KnownHost, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	h, ok := k.hosts[hostname]
	return h, ok
}

// Len returns the number of known hosts.
func (k *KnownHosts) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.hosts)
}

// WriteTo writes every entry to w, one per line.
func (k *KnownHosts) WriteTo(w io.Writer) (int64, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	bw := bufio.NewWriter(w)
	var written int64
	for _, h := range k.hosts {
		text, _ := h.MarshalText()
		n, err := bw.Write(append(text, '\n'))
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	return written, bw.Flush()
}

// TOFU trusts cert for hostname on first use. A host seen before must
// present a certificate with the same fingerprint, unless the remembered
// one has expired, in which case the new certificate replaces it.
//
// TOFU has the signature of gemini.Client.TrustCertificate.
func (k *KnownHosts) TOFU(hostname string, cert *x509.Certificate) error {
	now := time.Now
	if k.Now != nil {
		now = k.Now
	}

	known, ok := k.Lookup(hostname)
	if ok && now().Before(known.Expires) {
		fp, err := Sum(known.Algorithm, cert.Raw)
		if err != nil {
			return err
		}
		if !bytes.Equal(fp, known.Fingerprint) {
			return fmt.Errorf("%w for %q", ErrFingerprintMismatch, hostname)
		}
		return nil
	}

	h, err := NewKnownHost(k.Algorithm, hostname, cert)
	if err != nil {
		return err
	}
	return k.Add(h)
}

// Fingerprint is a certificate hash.
type Fingerprint []byte

// String formats f as colon separated upper case hex.
func (f Fingerprint) String() string {
	s := strings.ToUpper(hex.EncodeToString(f))
	var sb strings.Builder
	for i := 0; i < len(s); i += 2 {
		if i > 0 {
			sb.WriteByte(':')
		}
		sb.WriteString(s[i : i+2])
	}
	return sb.String()
}

// ParseFingerprint parses colon separated hex.
func ParseFingerprint(s string) (Fingerprint, error) {
	b, err := hex.DecodeString(strings.ReplaceAll(s, ":", ""))
	if err != nil {
		return nil, fmt.Errorf("%w: fingerprint: %v", ErrInvalidEntry, err)
	}
	return b, nil
}

// Sum returns the fingerprint of raw with the named algorithm.
func Sum(algorithm string, raw []byte) (Fingerprint, error) {
	switch algorithm {
	case SHA256, "":
		sum := sha256.Sum256(raw)
		return sum[:], nil
	case SHA512:
		sum := sha512.Sum512(raw)
		return sum[:], nil
	}
	return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidEntry, algorithm)
}

// KnownHost is a known hosts entry.
type KnownHost struct {
	Hostname    string
	Algorithm   string // SHA256 or SHA512
	Fingerprint Fingerprint
	Expires     time.Time
}

// NewKnownHost returns the entry for cert, valid until the certificate
// expires.
func NewKnownHost(algorithm, hostname string, cert *x509.Certificate) (KnownHost, error) {
	if algorithm == "" {
		algorithm = SHA256
	}
	fp, err := Sum(algorithm, cert.Raw)
	if err != nil {
		return KnownHost{}, err
	}
	return KnownHost{
		Hostname:    hostname,
		Algorithm:   algorithm,
		Fingerprint: fp,
		Expires:     cert.NotAfter,
	}, nil
}

// MarshalText formats the entry as
// "hostname algorithm fingerprint expiry-unix-ts".
func (h KnownHost) MarshalText() ([]byte, error) {
	return []byte(strings.Join([]string{
		h.Hostname,
		h.Algorithm,
		h.Fingerprint.String(),
		strconv.FormatInt(h.Expires.Unix(), 10),
	}, " ")), nil
}

// UnmarshalText parses an entry written by MarshalText.
func (h *KnownHost) UnmarshalText(text []byte) error {
	fields := strings.Fields(string(text))
	if len(fields) != 4 {
		return fmt.Errorf("%w: expected \"hostname algorithm fingerprint expiry\"", ErrInvalidEntry)
	}
	fp, err := ParseFingerprint(fields[2])
	if err != nil {
		return err
	}
	want, err := Sum(fields[1], nil)
	if err != nil {
		return err
	}
	if len(fp) != len(want) {
		return fmt.Errorf("%w: fingerprint is %d bytes, expected %d", ErrInvalidEntry, len(fp), len(want))
	}
	unix, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return fmt.Errorf("%w: expiry: %v", ErrInvalidEntry, err)
	}

	h.Hostname = fields[0]
	h.Algorithm = fields[1]
	h.Fingerprint = fp
	h.Expires = time.Unix(unix, 0)
	return nil
}
