package ldap

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// buildTLSConfig returns the TLS configuration for ldaps and StartTLS.
// serverName is applied when the base configuration does not set one.
func buildTLSConfig(cfg *ConnectionConfig, serverName string) (*tls.Config, error) {
	var tlsConfig *tls.Config
	if cfg.TLSConfig != nil {
		tlsConfig = cfg.TLSConfig.Clone()
	} else {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	if cfg.TLSInsecureSkipVerify {
		tlsConfig.InsecureSkipVerify = true
	}

	if cfg.TLSCACertFile != "" {
		pool, err := buildCertPool(cfg.TLSCACertFile)
		if err != nil {
			return nil, err
		}
		tlsConfig.RootCAs = pool
	}

	if tlsConfig.ServerName == "" {
		tlsConfig.ServerName = serverName
	}

	return tlsConfig, nil
}

// buildCertPool loads the system pool and appends the PEM certificates in caFile.
func buildCertPool(caFile string) (*x509.CertPool, error) {
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}

	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate file %s: %w", caFile, err)
	}

	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no valid PEM certificates found in %s", caFile)
	}

	return pool, nil
}
