// Package cert creates and inspects the certificates yuha agents present on
// direct socket listeners: self-signed agent identities, a small CA for
// mutual TLS, and PEM files on disk.
package cert

import (
	"crypto/ecdsa"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"time"
)

// Certificate validity periods.
const (
	// CAValidity is the validity period of a CA created by NewCA.
	CAValidity = 10 * 365 * 24 * time.Hour

	// IdentityValidity is the default validity period of agent and client
	// certificates.
	IdentityValidity = 365 * 24 * time.Hour

	// RenewalWindow is how long before expiry NeedsRenewal reports true.
	RenewalWindow = 30 * 24 * time.Hour
)

// ErrInvalidCert is returned for a nil or unusable certificate.
var ErrInvalidCert = errors.New("invalid certificate")

// Usage selects the extended key usages of an issued certificate.
type Usage uint8

// Certificate usages.
const (
	UsageServer Usage = 1 << iota
	UsageClient
)

// Options describe a certificate to create.
type Options struct {
	// CommonName is the subject common name.
	CommonName string

	// Hosts are DNS names or IP addresses the certificate is valid for.
	Hosts []string

	// Validity overrides IdentityValidity (or CAValidity for NewCA).
	Validity time.Duration

	// Usage defaults to UsageServer.
	Usage Usage
}

// Identity is a certificate with its private key.
type Identity struct {
	Certificate *x509.Certificate
	PrivateKey  *ecdsa.PrivateKey
}

// TLSCertificate returns the identity in the form crypto/tls expects.
func (id *Identity) TLSCertificate() tls.Certificate {
	return tls.Certificate{
		Certificate: [][]byte{id.Certificate.Raw},
		PrivateKey:  id.PrivateKey,
		Leaf:        id.Certificate,
	}
}

// CertPool returns a pool containing only this certificate. Use it to trust
// a self-signed agent or a CA.
func (id *Identity) CertPool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(id.Certificate)
	return pool
}

// ExpiresAt returns when the certificate expires.
func (id *Identity) ExpiresAt() time.Time {
	if id.Certificate == nil {
		return time.Time{}
	}
	return id.Certificate.NotAfter
}

// NeedsRenewal reports whether the certificate expires within RenewalWindow.
func (id *Identity) NeedsRenewal() bool {
	if id.Certificate == nil {
		return true
	}
	return time.Now().Add(RenewalWindow).After(id.Certificate.NotAfter)
}

// IsExpired reports whether the certificate has expired.
func (id *Identity) IsExpired() bool {
	if id.Certificate == nil {
		return true
	}
	return time.Now().After(id.Certificate.NotAfter)
}
