package rpcnet

import (
	"context"
	"crypto/ed25519"
	"testing"
)

func mustTransport(t *testing.T) (*Transport, ed25519.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	tr, err := NewTransport(priv)
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	return tr, pub
}

// TestDialAcceptRoundTrip checks that a client dialing a listener
// negotiates the requested ALPN protocol and each side resolves the
// other's identity as the expected Ed25519 public key.
func TestDialAcceptRoundTrip(t *testing.T) {
	ctx := context.Background()
	serverTr, serverPub := mustTransport(t)
	clientTr, clientPub := mustTransport(t)

	ln, err := serverTr.Listen("127.0.0.1:0", ProtoBlobs)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	type acceptResult struct {
		conn *Conn
		err  error
	}
	accepted := make(chan acceptResult, 1)
	go func() {
		c, err := ln.Accept()
		accepted <- acceptResult{c, err}
	}()

	clientConn, err := clientTr.Dial(ctx, ln.Addr().String(), ProtoBlobs)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer clientConn.Close()

	res := <-accepted
	if res.err != nil {
		t.Fatalf("Accept: %v", res.err)
	}
	defer res.conn.Close()

	if PeerID(serverPubArray(serverPub)) != serverTr.SelfID() {
		t.Fatalf("server self id mismatch")
	}
	if clientConn.Peer() != serverTr.SelfID() {
		t.Fatalf("client did not resolve server's identity correctly")
	}
	if res.conn.Peer() != clientTr.SelfID() {
		t.Fatalf("server did not resolve client's identity correctly")
	}
	if res.conn.Peer() != PeerID(serverPubArray(clientPub)) {
		t.Fatalf("resolved peer id does not match client's own public key")
	}
	if clientConn.ALPN() != ProtoBlobs {
		t.Fatalf("unexpected ALPN on client conn: %q", clientConn.ALPN())
	}
}

// TestSendReceiveMessage checks a CBOR value round-trips over the
// length-delimited frame encoding.
func TestSendReceiveMessage(t *testing.T) {
	ctx := context.Background()
	serverTr, _ := mustTransport(t)
	clientTr, _ := mustTransport(t)

	ln, err := serverTr.Listen("127.0.0.1:0", ProtoRegistry)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	type msg struct {
		A int
		B string
	}

	accepted := make(chan *Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			t.Errorf("Accept: %v", err)
			accepted <- nil
			return
		}
		var got msg
		if err := c.ReceiveMessage(&got); err != nil {
			t.Errorf("ReceiveMessage: %v", err)
		}
		if got.A != 7 || got.B != "hello" {
			t.Errorf("unexpected message: %+v", got)
		}
		accepted <- c
	}()

	clientConn, err := clientTr.Dial(ctx, ln.Addr().String(), ProtoRegistry)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer clientConn.Close()

	if err := clientConn.SendMessage(msg{A: 7, B: "hello"}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	serverConn := <-accepted
	if serverConn != nil {
		serverConn.Close()
	}
}

func serverPubArray(pub ed25519.PublicKey) [32]byte {
	var out [32]byte
	copy(out[:], pub)
	return out
}
