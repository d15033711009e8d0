package cert

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// PEM errors.
var (
	ErrInvalidPEM = errors.New("invalid PEM data")
	ErrInvalidKey = errors.New("invalid private key")
)

const (
	blockCertificate = "CERTIFICATE"
	blockECKey       = "EC PRIVATE KEY"
	blockPKCS8Key    = "PRIVATE KEY"
)

// MarshalPEM returns the certificate and its key in PEM form. The key uses
// the SEC 1 "EC PRIVATE KEY" block that crypto/tls and openssl both read.
func (id *Identity) MarshalPEM() (certPEM, keyPEM []byte, err error) {
	if id.Certificate == nil || id.PrivateKey == nil {
		return nil, nil, ErrInvalidCert
	}
	der, err := x509.MarshalECPrivateKey(id.PrivateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	certPEM = pem.EncodeToMemory(&pem.Block{Type: blockCertificate, Bytes: id.Certificate.Raw})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: blockECKey, Bytes: der})
	return certPEM, keyPEM, nil
}

// ParsePEM builds an identity from PEM data. The first certificate in
// certPEM is the leaf; any chain after it is ignored. The key may be SEC 1
// or PKCS #8 and must belong to the leaf.
func ParsePEM(certPEM, keyPEM []byte) (*Identity, error) {
	leaf, err := ParseCertificatePEM(certPEM)
	if err != nil {
		return nil, err
	}
	key, err := parseKeyPEM(keyPEM)
	if err != nil {
		return nil, err
	}
	pub, ok := leaf.PublicKey.(*ecdsa.PublicKey)
	if !ok || !pub.Equal(&key.PublicKey) {
		return nil, ErrKeyMismatch
	}
	return &Identity{Certificate: leaf, PrivateKey: key}, nil
}

// ParseCertificatePEM returns the first certificate in data, skipping
// blocks of other types such as a key bundled in the same file.
func ParseCertificatePEM(data []byte) (*x509.Certificate, error) {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, fmt.Errorf("%w: no certificate block", ErrInvalidPEM)
		}
		if block.Type != blockCertificate {
			continue
		}
		c, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCert, err)
		}
		return c, nil
	}
}

func parseKeyPEM(data []byte) (*ecdsa.PrivateKey, error) {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, fmt.Errorf("%w: no private key block", ErrInvalidPEM)
		}
		switch block.Type {
		case blockECKey:
			key, err := x509.ParseECPrivateKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
			}
			return key, nil
		case blockPKCS8Key:
			parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
			}
			key, ok := parsed.(*ecdsa.PrivateKey)
			if !ok {
				return nil, fmt.Errorf("%w: %T is not an ECDSA key", ErrInvalidKey, parsed)
			}
			return key, nil
		}
	}
}

// Save writes the certificate (0644) and the key (0600) as PEM files.
func (id *Identity) Save(certPath, keyPath string) error {
	certPEM, keyPEM, err := id.MarshalPEM()
	if err != nil {
		return err
	}
	if err := os.WriteFile(certPath, certPEM, 0644); err != nil {
		return fmt.Errorf("write certificate: %w", err)
	}
	if err := os.WriteFile(keyPath, keyPEM, 0600); err != nil {
		return fmt.Errorf("write key: %w", err)
	}
	return nil
}

// Load reads an identity from PEM files. certPath and keyPath may name the
// same file.
func Load(certPath, keyPath string) (*Identity, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, err
	}
	keyPEM := certPEM
	if keyPath != certPath {
		if keyPEM, err = os.ReadFile(keyPath); err != nil {
			return nil, err
		}
	}
	return ParsePEM(certPEM, keyPEM)
}

// ReadCertificate reads the first certificate from a PEM file.
func ReadCertificate(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseCertificatePEM(data)
}
