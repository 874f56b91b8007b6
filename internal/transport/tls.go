package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
)

// TLSFiles are PEM file paths. The same certificate serves as server certificate on a
// slave and as client certificate on the master.
type TLSFiles struct {
	CertFile string
	KeyFile  string
	CAFile   string
}

// TLSMaterial is validated key material ready to build tls.Configs from.
type TLSMaterial struct {
	Certificate tls.Certificate
	CAPool      *x509.CertPool
}

// LoadTLSMaterial loads and checks the files: presence, PEM parsing, key match, validity
// window, and that the certificate chains to the CA bundle.
func LoadTLSMaterial(files TLSFiles) (*TLSMaterial, error) {
	if _, err := os.Stat(files.CertFile); err != nil {
		return nil, errors.Wrapf(err, "certificate file not found: %s", files.CertFile)
	}
	if _, err := os.Stat(files.KeyFile); err != nil {
		return nil, errors.Wrapf(err, "key file not found: %s", files.KeyFile)
	}
	caBytes, err := os.ReadFile(files.CAFile)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read CA certificate: %s", files.CAFile)
	}

	cert, err := tls.LoadX509KeyPair(files.CertFile, files.KeyFile)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load certificate key pair")
	}
	return NewTLSMaterial(cert, caBytes)
}

// NewTLSMaterial validates an already loaded key pair against a PEM CA bundle.
func NewTLSMaterial(cert tls.Certificate, caPEM []byte) (*TLSMaterial, error) {
	if len(cert.Certificate) == 0 {
		return nil, errors.New("no certificate found")
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse certificate")
	}
	now := time.Now()
	if now.After(leaf.NotAfter) {
		return nil, fmt.Errorf("certificate expired at %s", leaf.NotAfter)
	}
	if now.Before(leaf.NotBefore) {
		return nil, fmt.Errorf("certificate not valid until %s", leaf.NotBefore)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, errors.New("failed to parse CA certificate")
	}
	intermediates := x509.NewCertPool()
	for _, der := range cert.Certificate[1:] {
		if c, err := x509.ParseCertificate(der); err == nil {
			intermediates.AddCert(c)
		}
	}
	opts := x509.VerifyOptions{
		Roots:         pool,
		Intermediates: intermediates,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}
	if _, err := leaf.Verify(opts); err != nil {
		return nil, errors.Wrap(err, "certificate verification against CA failed")
	}
	cert.Leaf = leaf
	return &TLSMaterial{Certificate: cert, CAPool: pool}, nil
}

func (m *TLSMaterial) ServerConfig() *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{m.Certificate},
		ClientCAs:    m.CAPool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	}
}

func (m *TLSMaterial) ClientConfig(serverName string) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{m.Certificate},
		RootCAs:      m.CAPool,
		ServerName:   serverName,
		MinVersion:   tls.VersionTLS12,
	}
}
