package cert

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"net"
	"time"
)

// ErrKeyMismatch is returned when a private key does not belong to the
// certificate it was loaded with.
var ErrKeyMismatch = errors.New("private key does not match certificate")

// clockSkew backdates NotBefore so peers with slightly wrong clocks accept
// fresh certificates.
const clockSkew = 5 * time.Minute

// GenerateKeyPair creates an ECDSA P-256 key.
func GenerateKeyPair() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
}

// ComputeSKI returns the subject key identifier for pub: the SHA-1 of the
// uncompressed public point.
func ComputeSKI(pub *ecdsa.PublicKey) ([]byte, error) {
	k, err := pub.ECDH()
	if err != nil {
		return nil, err
	}
	sum := sha1.Sum(k.Bytes())
	return sum[:], nil
}

// NewSelfSigned creates a self-signed identity for an agent listener.
func NewSelfSigned(opts Options) (*Identity, error) {
	key, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	template, err := leafTemplate(opts, &key.PublicKey)
	if err != nil {
		return nil, err
	}
	return sign(template, template, &key.PublicKey, key, key)
}

// NewCA creates a CA that issues agent and client certificates.
func NewCA(commonName string, validity time.Duration) (*Identity, error) {
	if commonName == "" {
		return nil, fmt.Errorf("%w: common name is required", ErrInvalidCert)
	}
	if validity <= 0 {
		validity = CAValidity
	}
	key, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	ski, err := ComputeSKI(&key.PublicKey)
	if err != nil {
		return nil, err
	}
	serial, err := serialNumber()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             now.Add(-clockSkew),
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLenZero:        true,
		SubjectKeyId:          ski,
	}
	return sign(template, template, &key.PublicKey, key, key)
}

// Issue signs a new leaf identity with the CA.
func (id *Identity) Issue(opts Options) (*Identity, error) {
	if id.Certificate == nil || !id.Certificate.IsCA {
		return nil, fmt.Errorf("%w: issuer is not a CA", ErrInvalidCert)
	}
	key, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	template, err := leafTemplate(opts, &key.PublicKey)
	if err != nil {
		return nil, err
	}
	template.AuthorityKeyId = id.Certificate.SubjectKeyId
	return sign(template, id.Certificate, &key.PublicKey, id.PrivateKey, key)
}

func leafTemplate(opts Options, pub *ecdsa.PublicKey) (*x509.Certificate, error) {
	if opts.CommonName == "" {
		return nil, fmt.Errorf("%w: common name is required", ErrInvalidCert)
	}
	validity := opts.Validity
	if validity <= 0 {
		validity = IdentityValidity
	}
	usage := opts.Usage
	if usage == 0 {
		usage = UsageServer
	}

	ski, err := ComputeSKI(pub)
	if err != nil {
		return nil, err
	}
	serial, err := serialNumber()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: opts.CommonName},
		NotBefore:             now.Add(-clockSkew),
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		SubjectKeyId:          ski,
	}
	if usage&UsageServer != 0 {
		template.ExtKeyUsage = append(template.ExtKeyUsage, x509.ExtKeyUsageServerAuth)
	}
	if usage&UsageClient != 0 {
		template.ExtKeyUsage = append(template.ExtKeyUsage, x509.ExtKeyUsageClientAuth)
	}
	for _, h := range opts.Hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else if h != "" {
			template.DNSNames = append(template.DNSNames, h)
		}
	}
	return template, nil
}

func sign(template, parent *x509.Certificate, pub *ecdsa.PublicKey, signer, key *ecdsa.PrivateKey) (*Identity, error) {
	der, err := x509.CreateCertificate(rand.Reader, template, parent, pub, signer)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	c, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	return &Identity{Certificate: c, PrivateKey: key}, nil
}

func serialNumber() (*big.Int, error) {
	return rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
}
