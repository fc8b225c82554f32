/*
Package security provides the TLS material for the replication endpoint.

ServerTLSConfig and ClientTLSConfig turn configured PEM files into a
crypto/tls config. A server with a CA file requires and verifies client
certificates (mutual TLS); without one it serves plain server-side TLS.

CertAuthority is a small in-process CA used by `burrow certs generate` to
bootstrap a self-signed root, a server certificate and client certificates:

	ca := security.NewCertAuthority()
	if err := ca.Initialize(); err != nil {
		return err
	}
	serverCert, err := ca.IssueServerCertificate("node-1", []string{"localhost"}, nil)

Issued leaf certificates are valid for 90 days. CertNeedsRotation reports
certificates with less than 30 days remaining; the server logs a warning
at startup when its own certificate is in that window.
*/
package security
