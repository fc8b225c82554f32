package security

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
)

// ServerTLSConfig builds the replication listener's TLS config. When
// m.CAFile is set, clients must present a certificate signed by that CA.
func ServerTLSConfig(m types.TLSMaterial) (*tls.Config, error) {
	if m.CertFile == "" || m.KeyFile == "" {
		return nil, fmt.Errorf("TLS requires both a certificate and a key")
	}

	cert, err := LoadCertFromFile(m.CertFile, m.KeyFile)
	if err != nil {
		return nil, err
	}

	logger := log.WithComponent("security")
	if CertNeedsRotation(cert.Leaf) {
		logger.Warn().
			Time("not_after", cert.Leaf.NotAfter).
			Str("cert_file", m.CertFile).
			Msg("Server certificate expires within 30 days")
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{*cert},
		MinVersion:   tls.VersionTLS12,
	}

	if m.CAFile != "" {
		ca, err := LoadCACertFromFile(m.CAFile)
		if err != nil {
			return nil, err
		}
		if err := ValidateCertChain(cert.Leaf, ca); err != nil {
			logger.Warn().Err(err).Msg("Server certificate is not signed by the client CA")
		}

		pool := x509.NewCertPool()
		pool.AddCert(ca)
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return cfg, nil
}

// ClientTLSConfig builds a replica's TLS config. m.CAFile verifies the
// server; CertFile/KeyFile, when set, are presented as the client identity.
func ClientTLSConfig(m types.TLSMaterial, serverName string) (*tls.Config, error) {
	cfg := &tls.Config{
		ServerName: serverName,
		MinVersion: tls.VersionTLS12,
	}

	if m.CAFile != "" {
		ca, err := LoadCACertFromFile(m.CAFile)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		pool.AddCert(ca)
		cfg.RootCAs = pool
	}

	if m.CertFile != "" || m.KeyFile != "" {
		cert, err := LoadCertFromFile(m.CertFile, m.KeyFile)
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{*cert}
	}

	return cfg, nil
}
