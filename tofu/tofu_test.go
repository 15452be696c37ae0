package tofu

import (
	"bytes"
	"crypto/x509"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gemwire/gemini/certificate"
)

func newCert(t *testing.T, host string, d time.Duration) *x509.Certificate {
	t.Helper()
	cert, err := certificate.Create(certificate.ForHosts(d, host))
	require.NoError(t, err)
	return cert.Leaf
}

func TestTOFU(t *testing.T) {
	var hosts KnownHosts
	first := newCert(t, "example.com", time.Hour)
	other := newCert(t, "example.com", time.Hour)

	require.NoError(t, hosts.TOFU("example.com", first))
	require.Equal(t, 1, hosts.Len())
	require.NoError(t, hosts.TOFU("example.com", first))

	err := hosts.TOFU("example.com", other)
	require.ErrorIs(t, err, ErrFingerprintMismatch)

	// Hosts are tracked independently.
	require.NoError(t, hosts.TOFU("example.org", other))
	require.Equal(t, 2, hosts.Len())
}

func TestTOFUExpired(t *testing.T) {
	now := time.Now()
	hosts := KnownHosts{Now: func() time.Time { return now }}
	first := newCert(t, "example.com", time.Hour)
	second := newCert(t, "example.com", 2*time.Hour)

	require.NoError(t, hosts.TOFU("example.com", first))

	now = now.Add(3 * time.Hour)
	require.NoError(t, hosts.TOFU("example.com", second))
	known, ok := hosts.Lookup("example.com")
	require.True(t, ok)
	fp, err := Sum(SHA256, second.Raw)
	require.NoError(t, err)
	require.Equal(t, fp, known.Fingerprint)
}

func TestTOFUSHA512(t *testing.T) {
	hosts := KnownHosts{Algorithm: SHA512}
	cert := newCert(t, "example.com", time.Hour)
	require.NoError(t, hosts.TOFU("example.com", cert))
	known, _ := hosts.Lookup("example.com")
	require.Equal(t, SHA512, known.Algorithm)
	require.Len(t, known.Fingerprint, 64)
	require.NoError(t, hosts.TOFU("example.com", cert))
}

func TestKnownHostText(t *testing.T) {
	cert := newCert(t, "example.com", time.Hour)
	h, err := NewKnownHost("", "example.com", cert)
	require.NoError(t, err)
	require.Equal(t, SHA256, h.Algorithm)

	text, err := h.MarshalText()
	require.NoError(t, err)
	fields := strings.Fields(string(text))
	require.Len(t, fields, 4)
	require.Equal(t, "example.com", fields[0])
	require.Equal(t, "SHA-256", fields[1])
	require.Len(t, strings.Split(fields[2], ":"), 32)

	var back KnownHost
	require.NoError(t, back.UnmarshalText(text))
	require.Equal(t, h.Hostname, back.Hostname)
	require.Equal(t, h.Fingerprint, back.Fingerprint)
	require.Equal(t, h.Expires.Unix(), back.Expires.Unix())
}

func TestKnownHostInvalid(t *testing.T) {
	for _, line := range []string{
		"example.com SHA-256 AB:CD",
		"example.com SHA-256 AB:CD 100 extra",
		"example.com MD5 " + strings.Repeat("AB:", 15) + "AB 100",
		"example.com SHA-256 ZZ 100",
		"example.com SHA-256 " + strings.Repeat("AB:", 31) + "AB soon",
	} {
		var h KnownHost
		require.ErrorIs(t, h.UnmarshalText([]byte(line)), ErrInvalidEntry, line)
	}
}

func TestFingerprint(t *testing.T) {
	fp := Fingerprint{0x0a, 0xbc, 0xff}
	require.Equal(t, "0A:BC:FF", fp.String())
	back, err := ParseFingerprint("0a:bc:ff")
	require.NoError(t, err)
	require.Equal(t, fp, back)

	_, err = Sum("SHA-1", nil)
	require.ErrorIs(t, err, ErrInvalidEntry)
}

func TestParse(t *testing.T) {
	cert := newCert(t, "example.com", time.Hour)
	h, err := NewKnownHost(SHA256, "example.com", cert)
	require.NoError(t, err)
	text, _ := h.MarshalText()

	input := "# known hosts\n\n" + string(text) + "\n"
	var hosts KnownHosts
	require.NoError(t, hosts.Parse(strings.NewReader(input)))
	require.Equal(t, 1, hosts.Len())

	err = hosts.Parse(strings.NewReader("garbage\n"))
	require.ErrorIs(t, err, ErrInvalidEntry)
	require.Contains(t, err.Error(), "line 1")

	var buf bytes.Buffer
	_, err = hosts.WriteTo(&buf)
	require.NoError(t, err)
	require.Equal(t, string(text)+"\n", buf.String())
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "known_hosts")
	cert := newCert(t, "example.com", time.Hour)

	var hosts KnownHosts
	require.NoError(t, hosts.Open(path))
	require.NoError(t, hosts.TOFU("example.com", cert))
	require.NoError(t, hosts.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(data), "example.com SHA-256 "))

	var reopened KnownHosts
	require.NoError(t, reopened.Open(path))
	defer reopened.Close()
	require.NoError(t, reopened.TOFU("example.com", cert))
	require.ErrorIs(t, reopened.TOFU("example.com", newCert(t, "example.com", time.Hour)), ErrFingerprintMismatch)
}
