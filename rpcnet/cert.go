package rpcnet

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"time"

	"rsc.io/letsencrypt"

	"s5.dev/s5/errors"
)

// certValidity is deliberately long: the certificate exists only to
// carry priv's public key over the wire, not to bound a session —
// there is no renewal path tied to it and a short lifetime would just
// force every long-lived node to restart periodically.
const certValidity = 100 * 365 * 24 * time.Hour

// selfSignedCert wraps priv's public key in a self-signed X.509
// certificate so it can be presented over TLS. The certificate is
// never chain-validated by a peer (Transport.tlsConfig always sets
// InsecureSkipVerify); its only job is to carry the Ed25519 key that
// peerIDFromConn extracts after the handshake.
func selfSignedCert(priv ed25519.PrivateKey) (tls.Certificate, error) {
	const op = "rpcnet.selfSignedCert"
	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return tls.Certificate{}, errors.E(op, errors.IO, err)
	}
	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "s5 node"},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(certValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, priv.Public(), priv)
	if err != nil {
		return tls.Certificate{}, errors.E(op, errors.IO, err)
	}
	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  priv,
	}, nil
}

// LetsEncryptCertSource returns a tls.Config.GetCertificate function
// backed by a letsencrypt.Manager cache file, for a node that wants
// its rpcnet listener to present a publicly trusted certificate
// instead of its self-signed Ed25519 one — grounded directly on
// cloud/https/https.go's own `m.CacheFile` + `m.GetCertificate` usage.
func LetsEncryptCertSource(cacheFile string) (func(*tls.ClientHelloInfo) (*tls.Certificate, error), error) {
	const op = "rpcnet.LetsEncryptCertSource"
	var m letsencrypt.Manager
	if err := m.CacheFile(cacheFile); err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	return m.GetCertificate, nil
}
