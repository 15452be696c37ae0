package certificate

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"time"
)

// DefaultDuration is the validity of a certificate created without an
// explicit Duration.
const DefaultDuration = 365 * 24 * time.Hour

// CreateOptions configures the creation of a TLS certificate.
type CreateOptions struct {
	// Subject Alternate Name values.
	// Should contain the DNS names that this certificate is valid for.
	// E.g. example.com, *.example.com
	DNSNames []string

	// Subject Alternate Name values.
	// Should contain the IP addresses that the certificate is valid for.
	IPAddresses []net.IP

	// Subject specifies the certificate Subject.
	//
	// Subject.CommonName can contain the DNS name that this certificate
	// is valid for. Server certificates should specify both a Subject
	// and a Subject Alternate Name.
	Subject pkix.Name

	// Duration specifies the amount of time that the certificate is valid
	// for. Zero means DefaultDuration.
	Duration time.Duration

	// Ed25519 specifies whether to generate an Ed25519 key pair.
	// If false, an ECDSA P-256 key is generated instead; Ed25519 is not
	// as widely supported by Gemini clients.
	Ed25519 bool
}

// ForHosts returns options for a server certificate valid for the given
// hostnames and IP literals. The first name is used as the common name.
func ForHosts(duration time.Duration, hosts ...string) CreateOptions {
	var opts CreateOptions
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			opts.IPAddresses = append(opts.IPAddresses, ip)
		} else {
			opts.DNSNames = append(opts.DNSNames, h)
		}
	}
	if len(hosts) > 0 {
		opts.Subject.CommonName = hosts[0]
	}
	opts.Duration = duration
	return opts
}

// Create creates a new self-signed TLS certificate.
func Create(options CreateOptions) (tls.Certificate, error) {
	leaf, priv, err := newX509KeyPair(options)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{
		Certificate: [][]byte{leaf.Raw},
		PrivateKey:  priv,
		Leaf:        leaf,
	}, nil
}

func newKey(ed bool) (crypto.PublicKey, crypto.PrivateKey, error) {
	if ed {
		return ed25519.GenerateKey(rand.Reader)
	}
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return &priv.PublicKey, priv, nil
}

// newX509KeyPair creates and returns a new certificate and private key.
func newX509KeyPair(options CreateOptions) (*x509.Certificate, crypto.PrivateKey, error) {
	pub, priv, err := newKey(options.Ed25519)
	if err != nil {
		return nil, nil, err
	}

	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	if err != nil {
		return nil, nil, err
	}

	duration := options.Duration
	if duration <= 0 {
		duration = DefaultDuration
	}
	notBefore := time.Now().Add(-time.Minute)

	template := x509.Certificate{
		SerialNumber: serialNumber,
		NotBefore:    notBefore,
		NotAfter:     notBefore.Add(duration),
		// ECDSA and Ed25519 keys only need DigitalSignature.
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IPAddresses:           options.IPAddresses,
		DNSNames:              options.DNSNames,
		Subject:               options.Subject,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, pub, priv)
	if err != nil {
		return nil, nil, err
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, err
	}
	return leaf, priv, nil
}

// Write writes the provided certificate and its private key to certPath
// and keyPath respectively, both PEM encoded. The key file is only
// readable by its owner.
func Write(cert tls.Certificate, certPath, keyPath string) error {
	if len(cert.Certificate) == 0 {
		return errors.New("certificate: nothing to write")
	}
	var certPEM []byte
	for _, der := range cert.Certificate {
		certPEM = append(certPEM, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})...)
	}
	privBytes, err := x509.MarshalPKCS8PrivateKey(cert.PrivateKey)
	if err != nil {
		return fmt.Errorf("certificate: marshal private key: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privBytes})

	// Key first, so a watcher never sees a new certificate next to a
	// stale key for long.
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		return err
	}
	return os.WriteFile(certPath, certPEM, 0o644)
}
