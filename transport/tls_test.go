package transport

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"

	"splinterd.io/server/splinterid"
)

// generateSelfSigned builds a throwaway self-signed cert/key pair for
// handshake tests, signed directly (no intermediate CA) so it also
// serves as its own trust root.
func generateSelfSigned(t *testing.T, cn string) (NodeCertificate, *x509.Certificate) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		IsCA:         true,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	root, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	return NodeCertificate{Certificate: der, PrivateKey: priv, Root: root}, root
}

type staticTrustDirectory map[[sha256.Size]byte]splinterid.NodeId

func (d staticTrustDirectory) NodeIdForFingerprint(fp [sha256.Size]byte) (splinterid.NodeId, bool) {
	id, ok := d[fp]
	return id, ok
}

func TestHandshakeTrustTokenResolvesViaDirectory(t *testing.T) {
	serverCert, serverRoot := generateSelfSigned(t, "server-node")
	clientCert, clientRoot := generateSelfSigned(t, "client-node")

	serverFingerprint := sha256.Sum256(clientRoot.Raw)
	clientFingerprint := sha256.Sum256(serverRoot.Raw)

	serverDirectory := staticTrustDirectory{serverFingerprint: splinterid.NodeId("client-node")}
	clientDirectory := staticTrustDirectory{clientFingerprint: splinterid.NodeId("server-node")}

	serverCert.Root = clientRoot
	clientCert.Root = serverRoot

	serverHandshaker := NewHandshaker(serverCert, serverDirectory, true)
	clientHandshaker := NewHandshaker(clientCert, clientDirectory, false)

	clientConn, serverConn := net.Pipe()

	type result struct {
		transport *Transport
		err       error
	}
	serverCh := make(chan result, 1)
	clientCh := make(chan result, 1)

	go func() {
		tr, err := serverHandshaker.Handshake(serverConn, splinterid.TrustToken("server-node"))
		serverCh <- result{tr, err}
	}()
	go func() {
		tr, err := clientHandshaker.Handshake(clientConn, splinterid.TrustToken("client-node"))
		clientCh <- result{tr, err}
	}()

	serverRes := <-serverCh
	clientRes := <-clientCh

	if serverRes.err != nil {
		t.Fatalf("server handshake: %v", serverRes.err)
	}
	if clientRes.err != nil {
		t.Fatalf("client handshake: %v", clientRes.err)
	}

	if serverRes.transport.RemoteToken.Kind != splinterid.AuthTrust {
		t.Fatalf("expected server to resolve a Trust token, got %+v", serverRes.transport.RemoteToken)
	}
	if serverRes.transport.RemoteToken.NodeId != "client-node" {
		t.Fatalf("expected remote node id client-node, got %s", serverRes.transport.RemoteToken.NodeId)
	}
	if clientRes.transport.RemoteToken.NodeId != "server-node" {
		t.Fatalf("expected remote node id server-node, got %s", clientRes.transport.RemoteToken.NodeId)
	}
}

func TestHandshakeFallsBackToChallengeToken(t *testing.T) {
	serverCert, serverRoot := generateSelfSigned(t, "server-node")
	clientCert, clientRoot := generateSelfSigned(t, "client-node")
	serverCert.Root = clientRoot
	clientCert.Root = serverRoot

	serverHandshaker := NewHandshaker(serverCert, nil, true)
	clientHandshaker := NewHandshaker(clientCert, nil, false)

	clientConn, serverConn := net.Pipe()

	type result struct {
		transport *Transport
		err       error
	}
	serverCh := make(chan result, 1)
	clientCh := make(chan result, 1)

	go func() {
		tr, err := serverHandshaker.Handshake(serverConn, splinterid.TrustToken("server-node"))
		serverCh <- result{tr, err}
	}()
	go func() {
		tr, err := clientHandshaker.Handshake(clientConn, splinterid.TrustToken("client-node"))
		clientCh <- result{tr, err}
	}()

	serverRes := <-serverCh
	clientRes := <-clientCh
	if serverRes.err != nil {
		t.Fatalf("server handshake: %v", serverRes.err)
	}
	if clientRes.err != nil {
		t.Fatalf("client handshake: %v", clientRes.err)
	}
	if serverRes.transport.RemoteToken.Kind != splinterid.AuthChallenge {
		t.Fatalf("expected Challenge token fallback, got %+v", serverRes.transport.RemoteToken)
	}
	if serverRes.transport.RemoteToken.PublicKey == "" {
		t.Fatal("expected non-empty public key in challenge token")
	}
}

func TestTransportSendReadOneRoundTrip(t *testing.T) {
	a, b := net.Pipe()
	ta := &Transport{Conn: a}
	tb := &Transport{Conn: b}

	go func() {
		if err := ta.Send([]byte("ping")); err != nil {
			t.Error(err)
		}
	}()

	got, err := tb.ReadOne()
	if err != nil {
		t.Fatalf("read one: %v", err)
	}
	if string(got) != "ping" {
		t.Fatalf("expected ping, got %q", got)
	}
}
