package notify

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// LoadTLSConfig builds the client TLS configuration for the mail server. An
// empty caPath uses the system roots.
func LoadTLSConfig(caPath, serverName string) (*tls.Config, error) {
	if serverName == "" {
		return nil, fmt.Errorf("server name must be provided")
	}

	var roots *x509.CertPool
	if caPath != "" {
		data, err := os.ReadFile(caPath)
		if err != nil {
			return nil, fmt.Errorf("read CA bundle: %w", err)
		}
		roots = x509.NewCertPool()
		if !roots.AppendCertsFromPEM(data) {
			return nil, fmt.Errorf("invalid CA bundle")
		}
	}

	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		RootCAs:    roots,
		ServerName: serverName,
	}, nil
}
