package security

import (
	"crypto/tls"
	"crypto/x509"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCA(t *testing.T) *CertAuthority {
	t.Helper()
	ca := NewCertAuthority()
	require.NoError(t, ca.initialize(2048))
	return ca
}

// writeMaterial issues a server cert and writes it with the CA to dir
func writeMaterial(t *testing.T, ca *CertAuthority, dir string) types.TLSMaterial {
	t.Helper()

	cert, err := ca.IssueServerCertificate("test", []string{"localhost"}, []net.IP{net.ParseIP("127.0.0.1")})
	require.NoError(t, err)

	certPath, keyPath, err := SaveCertToFile(cert, dir, "server")
	require.NoError(t, err)
	caPath, err := SaveCACertToFile(ca.GetRootCACert(), dir)
	require.NoError(t, err)

	return types.TLSMaterial{CertFile: certPath, KeyFile: keyPath, CAFile: caPath}
}

func TestInitializeCA(t *testing.T) {
	ca := NewCertAuthority()
	assert.False(t, ca.IsInitialized())
	assert.Nil(t, ca.GetRootCACert())

	require.NoError(t, ca.initialize(2048))
	assert.True(t, ca.IsInitialized())
	assert.True(t, ca.rootCert.IsCA)

	expectedExpiry := time.Now().Add(rootCAValidity)
	assert.WithinDuration(t, expectedExpiry, ca.rootCert.NotAfter, time.Hour)
}

func TestIssueRequiresInitializedCA(t *testing.T) {
	_, err := NewCertAuthority().IssueClientCertificate("replica")
	assert.Error(t, err)
}

func TestIssueCertificates(t *testing.T) {
	ca := newTestCA(t)

	server, err := ca.IssueServerCertificate("node-1", []string{"localhost"}, []net.IP{net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	assert.Equal(t, "server-node-1", server.Leaf.Subject.CommonName)
	assert.Equal(t, []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}, server.Leaf.ExtKeyUsage)
	assert.Contains(t, server.Leaf.DNSNames, "localhost")
	assert.NoError(t, ValidateCertChain(server.Leaf, ca.rootCert))

	client, err := ca.IssueClientCertificate("replica-1")
	require.NoError(t, err)
	assert.Equal(t, "client-replica-1", client.Leaf.Subject.CommonName)
	assert.Equal(t, []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}, client.Leaf.ExtKeyUsage)
	assert.NoError(t, ValidateCertChain(client.Leaf, ca.rootCert))

	assert.False(t, CertNeedsRotation(client.Leaf))
}

func TestValidateCertChainRejectsForeignCA(t *testing.T) {
	ca := newTestCA(t)
	other := newTestCA(t)

	cert, err := ca.IssueClientCertificate("replica")
	require.NoError(t, err)

	assert.Error(t, ValidateCertChain(cert.Leaf, other.rootCert))
	assert.Error(t, ValidateCertChain(nil, ca.rootCert))
	assert.Error(t, ValidateCertChain(cert.Leaf, nil))
}

func TestCertNeedsRotation(t *testing.T) {
	assert.True(t, CertNeedsRotation(nil))
	assert.True(t, CertNeedsRotation(&x509.Certificate{NotAfter: time.Now().Add(24 * time.Hour)}))
	assert.False(t, CertNeedsRotation(&x509.Certificate{NotAfter: time.Now().Add(60 * 24 * time.Hour)}))
}

func TestSaveLoadCertFiles(t *testing.T) {
	ca := newTestCA(t)
	dir := filepath.Join(t.TempDir(), "certs")

	m := writeMaterial(t, ca, dir)

	info, err := os.Stat(m.KeyFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := LoadCertFromFile(m.CertFile, m.KeyFile)
	require.NoError(t, err)
	require.NotNil(t, loaded.Leaf)
	assert.Equal(t, "server-test", loaded.Leaf.Subject.CommonName)

	caCert, err := LoadCACertFromFile(m.CAFile)
	require.NoError(t, err)
	assert.True(t, caCert.Equal(ca.rootCert))
}

func TestLoadCACertFromFileRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ca.crt")
	require.NoError(t, os.WriteFile(path, []byte("not pem"), 0644))

	_, err := LoadCACertFromFile(path)
	assert.Error(t, err)

	_, err = LoadCACertFromFile(filepath.Join(t.TempDir(), "missing.crt"))
	assert.Error(t, err)
}

func TestServerTLSConfig(t *testing.T) {
	ca := newTestCA(t)
	m := writeMaterial(t, ca, t.TempDir())

	cfg, err := ServerTLSConfig(m)
	require.NoError(t, err)
	assert.Len(t, cfg.Certificates, 1)
	assert.Equal(t, tls.RequireAndVerifyClientCert, cfg.ClientAuth)
	assert.NotNil(t, cfg.ClientCAs)

	m.CAFile = ""
	cfg, err = ServerTLSConfig(m)
	require.NoError(t, err)
	assert.Equal(t, tls.NoClientCert, cfg.ClientAuth)

	_, err = ServerTLSConfig(types.TLSMaterial{CertFile: m.CertFile})
	assert.Error(t, err)
}

func TestClientTLSConfig(t *testing.T) {
	ca := newTestCA(t)
	dir := t.TempDir()
	m := writeMaterial(t, ca, dir)

	client, err := ca.IssueClientCertificate("replica")
	require.NoError(t, err)
	certPath, keyPath, err := SaveCertToFile(client, dir, "client")
	require.NoError(t, err)

	cfg, err := ClientTLSConfig(types.TLSMaterial{CertFile: certPath, KeyFile: keyPath, CAFile: m.CAFile}, "localhost")
	require.NoError(t, err)
	assert.Equal(t, "localhost", cfg.ServerName)
	assert.NotNil(t, cfg.RootCAs)
	assert.Len(t, cfg.Certificates, 1)

	cfg, err = ClientTLSConfig(types.TLSMaterial{CAFile: m.CAFile}, "localhost")
	require.NoError(t, err)
	assert.Empty(t, cfg.Certificates)
}
