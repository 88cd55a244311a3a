// Package rpcnet is the shared peer transport underneath Blob RPC and
// Registry RPC (spec §4.6-4.7, §6 "Wire protocols"): a TLS connection
// per peer, selected by ALPN, carrying length-delimited CBOR frames.
//
// Unlike the teacher's grpcauth, which authenticates a browser-facing
// user by an HMAC-signed header over an otherwise anonymous TLS
// connection, S5 peers authenticate each other directly: there is no
// shared CA, so a peer's identity is its TLS certificate's own
// Ed25519 public key, verified out of band by the caller (an ACL
// entry, a known bootstrap list, or a prior introduction) rather than
// by chain-of-trust validation.
package rpcnet

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"encoding/binary"
	"io"
	"net"

	"s5.dev/s5/cbor5"
	"s5.dev/s5/errors"
)

// ALPN protocol identifiers (spec §6).
const (
	ProtoBlobs    = "s5/blobs/0"
	ProtoRegistry = "s5/registry/0"
)

// maxFrameSize bounds a single frame's body, the same 16 MiB ceiling
// cbor5 already enforces on decode.
const maxFrameSize = 16 * 1024 * 1024

// PeerID identifies a peer by its Ed25519 public key — the same
// identity space pin.ContextPeerPin and PeerConfigBlobs ACLs key on.
type PeerID [32]byte

func (p PeerID) String() string {
	const hextable = "0123456789abcdef"
	out := make([]byte, 64)
	for i, b := range p {
		out[i*2] = hextable[b>>4]
		out[i*2+1] = hextable[b&0xf]
	}
	return string(out)
}

// WriteFrame writes body prefixed by its 4-byte big-endian length,
// matching the length-delimited streaming encoding rpc/doc.go
// documents for the teacher's own streaming RPC responses.
func WriteFrame(w io.Writer, body []byte) error {
	const op = "rpcnet.WriteFrame"
	if len(body) > maxFrameSize {
		return errors.E(op, errors.Invalid, errors.Str("frame body too large"))
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return errors.E(op, errors.IO, err)
	}
	if _, err := w.Write(body); err != nil {
		return errors.E(op, errors.IO, err)
	}
	return nil
}

// ReadFrame reads one length-delimited frame written by WriteFrame.
func ReadFrame(r io.Reader) ([]byte, error) {
	const op = "rpcnet.ReadFrame"
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err // EOF/UnexpectedEOF surfaced as-is for stream-end detection
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return nil, errors.E(op, errors.Invalid, errors.Str("frame body too large"))
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	return body, nil
}

// Conn is one authenticated peer connection: a length-delimited CBOR
// message channel layered over a TLS connection whose ALPN selection
// fixed which protocol (Blob RPC or Registry RPC) it carries.
type Conn struct {
	tlsConn *tls.Conn
	peer    PeerID
	alpn    string
}

// Peer returns the identity the connection authenticated.
func (c *Conn) Peer() PeerID { return c.peer }

// ALPN returns the negotiated protocol string.
func (c *Conn) ALPN() string { return c.alpn }

// Close closes the underlying TLS connection.
func (c *Conn) Close() error { return c.tlsConn.Close() }

// SendMessage CBOR-encodes v and writes it as one frame.
func (c *Conn) SendMessage(v interface{}) error {
	const op = "rpcnet.Conn.SendMessage"
	body, err := cbor5.Marshal(v)
	if err != nil {
		return errors.E(op, errors.CborError, err)
	}
	return WriteFrame(c.tlsConn, body)
}

// ReceiveMessage reads one frame and CBOR-decodes it into v.
func (c *Conn) ReceiveMessage(v interface{}) error {
	const op = "rpcnet.Conn.ReceiveMessage"
	body, err := ReadFrame(c.tlsConn)
	if err != nil {
		return err
	}
	if err := cbor5.Unmarshal(body, v); err != nil {
		return errors.E(op, errors.CborError, err)
	}
	return nil
}

// Transport dials and accepts peer connections authenticated by
// Ed25519 certificates rather than a CA chain.
type Transport struct {
	cert   tls.Certificate
	selfID PeerID

	// getCertificate, when set, overrides cert for inbound
	// connections — used to serve a publicly trusted certificate
	// (e.g. from LetsEncryptCertSource) instead of the node's
	// self-signed one.
	getCertificate func(*tls.ClientHelloInfo) (*tls.Certificate, error)
}

// NewTransport returns a Transport whose identity is priv's public
// key, wrapped in a freshly generated self-signed certificate.
func NewTransport(priv ed25519.PrivateKey) (*Transport, error) {
	const op = "rpcnet.NewTransport"
	cert, err := selfSignedCert(priv)
	if err != nil {
		return nil, errors.E(op, err)
	}
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return nil, errors.E(op, errors.Invalid, errors.Str("not an Ed25519 key"))
	}
	var id PeerID
	copy(id[:], pub)
	return &Transport{cert: cert, selfID: id}, nil
}

// SelfID returns this transport's own peer identity.
func (t *Transport) SelfID() PeerID { return t.selfID }

// UseLetsEncrypt switches inbound connections to present certificates
// from a letsencrypt.Manager cache file instead of the self-signed
// Ed25519 certificate, for nodes that want a publicly trusted listener
// (grounded on cloud/https/https.go's own m.CacheFile/m.GetCertificate
// usage). Outbound dials and peer-identity verification are unaffected:
// those still rely on the remote's certificate carrying an Ed25519 key.
func (t *Transport) UseLetsEncrypt(cacheFile string) error {
	getCert, err := LetsEncryptCertSource(cacheFile)
	if err != nil {
		return err
	}
	t.getCertificate = getCert
	return nil
}

func (t *Transport) tlsConfig(alpn string) *tls.Config {
	cfg := &tls.Config{
		NextProtos:         []string{alpn},
		ClientAuth:         tls.RequireAnyClientCert,
		InsecureSkipVerify: true,
		MinVersion:         tls.VersionTLS13,
	}
	if t.getCertificate != nil {
		cfg.GetCertificate = t.getCertificate
	} else {
		cfg.Certificates = []tls.Certificate{t.cert}
	}
	return cfg
}

// Dial opens an authenticated connection to addr, negotiating alpn.
func (t *Transport) Dial(ctx context.Context, addr, alpn string) (*Conn, error) {
	const op = "rpcnet.Transport.Dial"
	cfg := t.tlsConfig(alpn)
	cfg.Certificates = []tls.Certificate{t.cert} // client leg always proves our own identity
	d := &tls.Dialer{Config: cfg}
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	tlsConn := c.(*tls.Conn)
	peer, err := peerIDFromConn(tlsConn)
	if err != nil {
		tlsConn.Close()
		return nil, errors.E(op, err)
	}
	return &Conn{tlsConn: tlsConn, peer: peer, alpn: alpn}, nil
}

// Listener accepts authenticated connections for a single ALPN
// protocol.
type Listener struct {
	ln   net.Listener
	alpn string
}

// Listen starts accepting connections for alpn on addr.
func (t *Transport) Listen(addr, alpn string) (*Listener, error) {
	const op = "rpcnet.Transport.Listen"
	ln, err := tls.Listen("tcp", addr, t.tlsConfig(alpn))
	if err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	return &Listener{ln: ln, alpn: alpn}, nil
}

// Accept blocks for the next inbound connection, completing its TLS
// handshake and resolving its peer identity before returning it.
func (l *Listener) Accept() (*Conn, error) {
	const op = "rpcnet.Listener.Accept"
	c, err := l.ln.Accept()
	if err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	tlsConn := c.(*tls.Conn)
	if err := tlsConn.Handshake(); err != nil {
		tlsConn.Close()
		return nil, errors.E(op, errors.Permission, err)
	}
	peer, err := peerIDFromConn(tlsConn)
	if err != nil {
		tlsConn.Close()
		return nil, errors.E(op, err)
	}
	return &Conn{tlsConn: tlsConn, peer: peer, alpn: l.alpn}, nil
}

// Close stops accepting new connections.
func (l *Listener) Close() error { return l.ln.Close() }

// Addr returns the listener's bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// peerIDFromConn resolves the other side's identity from the
// Ed25519 public key embedded in its leaf certificate, after the TLS
// handshake has completed.
func peerIDFromConn(tlsConn *tls.Conn) (PeerID, error) {
	const op = "rpcnet.peerIDFromConn"
	state := tlsConn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return PeerID{}, errors.E(op, errors.Permission, errors.Str("no peer certificate presented"))
	}
	pub, ok := state.PeerCertificates[0].PublicKey.(ed25519.PublicKey)
	if !ok {
		return PeerID{}, errors.E(op, errors.Permission, errors.Str("peer certificate is not Ed25519"))
	}
	var id PeerID
	copy(id[:], pub)
	return id, nil
}
