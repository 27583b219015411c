package testutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

// TLSFixture is a self-signed root CA plus a server certificate for
// 127.0.0.1 and localhost signed by that CA.
type TLSFixture struct {
	RootCAs     *x509.CertPool
	Certificate tls.Certificate

	rootPEM []byte
	certPEM []byte
	keyPEM  []byte
}

func NewTLSFixture() (*TLSFixture, error) {
	rootKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("root key: %w", err)
	}
	rootTemplate, err := template("tether test ca")
	if err != nil {
		return nil, err
	}
	rootTemplate.IsCA = true
	rootTemplate.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature
	rootDER, err := x509.CreateCertificate(
		rand.Reader, rootTemplate, rootTemplate, &rootKey.PublicKey, rootKey,
	)
	if err != nil {
		return nil, fmt.Errorf("root cert: %w", err)
	}
	root, err := x509.ParseCertificate(rootDER)
	if err != nil {
		return nil, fmt.Errorf("root cert: %w", err)
	}

	serverKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("server key: %w", err)
	}
	serverTemplate, err := template("tether test server")
	if err != nil {
		return nil, err
	}
	serverTemplate.KeyUsage = x509.KeyUsageDigitalSignature
	serverTemplate.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}
	serverTemplate.IPAddresses = []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback}
	serverTemplate.DNSNames = []string{"localhost"}
	serverDER, err := x509.CreateCertificate(
		rand.Reader, serverTemplate, root, &serverKey.PublicKey, rootKey,
	)
	if err != nil {
		return nil, fmt.Errorf("server cert: %w", err)
	}
	serverKeyDER, err := x509.MarshalECPrivateKey(serverKey)
	if err != nil {
		return nil, fmt.Errorf("server key: %w", err)
	}

	f := &TLSFixture{
		RootCAs: x509.NewCertPool(),
		rootPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: rootDER}),
		certPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: serverDER}),
		keyPEM:  pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: serverKeyDER}),
	}
	f.RootCAs.AddCert(root)
	f.Certificate, err = tls.X509KeyPair(f.certPEM, f.keyPEM)
	if err != nil {
		return nil, fmt.Errorf("key pair: %w", err)
	}
	return f, nil
}

// ServerConfig returns a server TLS config advertising the given ALPN
// protocols.
func (f *TLSFixture) ServerConfig(nextProtos ...string) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{f.Certificate},
		NextProtos:   nextProtos,
	}
}

// ClientConfig returns a client TLS config trusting the fixture root CA.
func (f *TLSFixture) ClientConfig(nextProtos ...string) *tls.Config {
	return &tls.Config{
		RootCAs:    f.RootCAs,
		NextProtos: nextProtos,
	}
}

// WriteFiles writes the server certificate, server key and root CA as PEM
// files to dir.
func (f *TLSFixture) WriteFiles(dir string) (certPath, keyPath, rootPath string, err error) {
	certPath = filepath.Join(dir, "cert.pem")
	keyPath = filepath.Join(dir, "key.pem")
	rootPath = filepath.Join(dir, "ca.pem")
	for path, b := range map[string][]byte{
		certPath: f.certPEM,
		keyPath:  f.keyPEM,
		rootPath: f.rootPEM,
	} {
		if err := os.WriteFile(path, b, 0o600); err != nil {
			return "", "", "", fmt.Errorf("write %s: %w", path, err)
		}
	}
	return certPath, keyPath, rootPath, nil
}

func template(commonName string) (*x509.Certificate, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("serial: %w", err)
	}
	now := time.Now()
	return &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(24 * time.Hour),
		BasicConstraintsValid: true,
	}, nil
}
