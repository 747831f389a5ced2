// Package certmanager creates OPC UA-compliant self-signed client
// certificates. Generated certificates carry the key usages and subject
// alternative names (DNS, IP and application URI) that OPC UA servers
// validate during secure channel establishment.
package certmanager

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/irfanghat/databricks-industrial-automation-suite/errors"
)

// Default file and subject parameters
const (
	DefaultCertsDir       = "/tmp/certs"
	DefaultCertFilename   = "client_cert.pem"
	DefaultKeyFilename    = "client_key.pem"
	DefaultCommonName     = "OPCUA Client"
	DefaultApplicationURI = "urn:freeopcua:client"

	keyBits      = 2048
	validityDays = 1825
)

// Options parameterizes certificate generation
type Options struct {
	CertsDir     string
	CertFilename string
	KeyFilename  string
	CommonName   string
	DNSNames     []string
	IPAddresses  []string
	URIs         []string
}

// Result describes a generation outcome
type Result struct {
	Message         string `json:"message"`
	CertificatePath string `json:"certificate"`
	KeyPath         string `json:"key,omitempty"`
	Generated       bool   `json:"generated"`
}

// Manager creates and locates client certificates
type Manager struct {
	certsDir   string
	certPath   string
	keyPath    string
	commonName string
	dnsNames   []string
	ips        []string
	uris       []string
}

// New creates a Manager, applying defaults for unset options
func New(opts Options) *Manager {
	if opts.CertsDir == "" {
		opts.CertsDir = DefaultCertsDir
	}
	if opts.CertFilename == "" {
		opts.CertFilename = DefaultCertFilename
	}
	if opts.KeyFilename == "" {
		opts.KeyFilename = DefaultKeyFilename
	}
	if opts.CommonName == "" {
		opts.CommonName = DefaultCommonName
	}
	if len(opts.DNSNames) == 0 {
		opts.DNSNames = []string{"localhost"}
	}
	if len(opts.IPAddresses) == 0 {
		opts.IPAddresses = []string{"127.0.0.1"}
	}
	if len(opts.URIs) == 0 {
		opts.URIs = []string{DefaultApplicationURI}
	}

	return &Manager{
		certsDir:   opts.CertsDir,
		certPath:   filepath.Join(opts.CertsDir, opts.CertFilename),
		keyPath:    filepath.Join(opts.CertsDir, opts.KeyFilename),
		commonName: opts.CommonName,
		dnsNames:   opts.DNSNames,
		ips:        opts.IPAddresses,
		uris:       opts.URIs,
	}
}

// CertificatePath returns the managed certificate path
func (m *Manager) CertificatePath() string {
	return m.certPath
}

// KeyPath returns the managed private key path
func (m *Manager) KeyPath() string {
	return m.keyPath
}

// Exists reports whether both certificate and key files are present
func (m *Manager) Exists() bool {
	if _, err := os.Stat(m.certPath); err != nil {
		return false
	}
	if _, err := os.Stat(m.keyPath); err != nil {
		return false
	}
	return true
}

// Generate creates a self-signed client certificate and private key.
// Existing files are left untouched unless overwrite is set.
func (m *Manager) Generate(overwrite bool) (Result, error) {
	if m.Exists() && !overwrite {
		return Result{
			Message:         "Certificate and key already exist, skipping generation.",
			CertificatePath: m.certPath,
			KeyPath:         m.keyPath,
		}, nil
	}

	if err := os.MkdirAll(m.certsDir, 0o755); err != nil {
		return Result{}, errors.WrapFatal(err, "certmanager", "Generate", "create certs dir")
	}

	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return Result{}, errors.WrapFatal(err, "certmanager", "Generate", "generate RSA key")
	}

	template, err := m.template()
	if err != nil {
		return Result{}, err
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return Result{}, errors.WrapFatal(err, "certmanager", "Generate", "create certificate")
	}

	if err := writePEM(m.keyPath, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(key), 0o600); err != nil {
		return Result{}, errors.WrapFatal(err, "certmanager", "Generate", "write private key")
	}
	if err := writePEM(m.certPath, "CERTIFICATE", der, 0o644); err != nil {
		return Result{}, errors.WrapFatal(err, "certmanager", "Generate", "write certificate")
	}

	return Result{
		Message:         "Client certificate generated successfully.",
		CertificatePath: m.certPath,
		KeyPath:         m.keyPath,
		Generated:       true,
	}, nil
}

// template builds the x509 template with OPC UA key usages and SANs
func (m *Manager) template() (*x509.Certificate, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, errors.WrapFatal(err, "certmanager", "template", "generate serial number")
	}

	var ips []net.IP
	for _, s := range m.ips {
		ip := net.ParseIP(s)
		if ip == nil {
			return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "certmanager", "template",
				"parse IP SAN "+s)
		}
		ips = append(ips, ip)
	}

	var uris []*url.URL
	for _, s := range m.uris {
		u, err := url.Parse(s)
		if err != nil {
			return nil, errors.WrapInvalid(err, "certmanager", "template", "parse URI SAN "+s)
		}
		uris = append(uris, u)
	}

	now := time.Now()
	return &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: m.commonName},
		NotBefore:    now,
		NotAfter:     now.AddDate(0, 0, validityDays),

		KeyUsage: x509.KeyUsageDigitalSignature |
			x509.KeyUsageKeyEncipherment |
			x509.KeyUsageDataEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{
			x509.ExtKeyUsageServerAuth,
			x509.ExtKeyUsageClientAuth,
		},
		BasicConstraintsValid: true,

		DNSNames:    m.dnsNames,
		IPAddresses: ips,
		URIs:        uris,
	}, nil
}

func writePEM(path, blockType string, der []byte, mode os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer f.Close()

	return pem.Encode(f, &pem.Block{Type: blockType, Bytes: der})
}
