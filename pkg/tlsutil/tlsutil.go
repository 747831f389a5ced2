// Package tlsutil builds tls.Config values from the platform security
// settings.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/irfanghat/databricks-industrial-automation-suite/errors"
	"github.com/irfanghat/databricks-industrial-automation-suite/pkg/security"
)

// LoadServerTLSConfig builds the gateway's server-side TLS config.
// Returns nil when TLS is disabled.
func LoadServerTLSConfig(cfg security.ServerTLSConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "LoadServerTLSConfig", "load certificate")
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   minVersion(cfg.MinVersion),
	}, nil
}

// LoadClientTLSConfig builds the TLS config for outbound clients. The
// system CA pool is the base, CAFiles add site-local CAs on top of it.
func LoadClientTLSConfig(cfg security.ClientTLSConfig) (*tls.Config, error) {
	rootCAs, err := x509.SystemCertPool()
	if err != nil {
		rootCAs = x509.NewCertPool()
	}
	if err := appendCAs(rootCAs, cfg.CAFiles); err != nil {
		return nil, err
	}

	return &tls.Config{
		MinVersion: minVersion(cfg.MinVersion),
		RootCAs:    rootCAs,
		// Intentional via config - operators know the security implications
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}, nil
}

func appendCAs(pool *x509.CertPool, files []string) error {
	for _, caFile := range files {
		caPEM, err := os.ReadFile(caFile)
		if err != nil {
			return errors.WrapFatal(err, "tlsutil", "appendCAs",
				fmt.Sprintf("read CA file %s", caFile))
		}
		if !pool.AppendCertsFromPEM(caPEM) {
			return errors.WrapFatal(
				fmt.Errorf("invalid PEM data"),
				"tlsutil", "appendCAs",
				fmt.Sprintf("parse CA certificate from %s", caFile))
		}
	}
	return nil
}

// minVersion maps the config string to a crypto/tls constant. Anything
// but "1.3" means TLS 1.2.
func minVersion(v string) uint16 {
	if v == "1.3" {
		return tls.VersionTLS13
	}
	return tls.VersionTLS12
}
