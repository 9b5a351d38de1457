// Package transport implements Splinter's mutual-TLS authenticated
// byte-stream transport (spec.md §2 "TLS transport is a leaf").
// Grounded on network/protocols.go's TLSCapnpHandshaker /
// TLSCapnpServer / TLSCapnpClient, adapted from goshawkdb's
// cluster-certificate model to Splinter's Trust/Challenge
// PeerAuthToken model: a Trust link authenticates by node-certificate
// fingerprint mapping to a NodeId; a Challenge link authenticates by
// the certificate's embedded public key.
package transport

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"

	"splinterd.io/server/splinterid"
	"splinterd.io/server/wire"
)

// NodeCertificate pairs a node's TLS certificate/key with the
// fingerprint-to-identity mapping the handshake authenticates against.
// Mirrors the shape of the teacher's certs.NodeCertificatePrivateKeyPair.
type NodeCertificate struct {
	Certificate []byte
	PrivateKey  interface{}
	Root        *x509.Certificate
}

// TrustDirectory maps a peer certificate's SHA-256 fingerprint to the
// NodeId it authenticates, for Trust-authorization circuits.
type TrustDirectory interface {
	NodeIdForFingerprint(fingerprint [sha256.Size]byte) (splinterid.NodeId, bool)
}

// Handshaker performs the authenticated handshake and returns a ready
// Transport (spec.md §4.1: connections are "authenticated byte-stream
// connections").
type Handshaker struct {
	cert      NodeCertificate
	directory TrustDirectory
	isServer  bool
}

func NewHandshaker(cert NodeCertificate, directory TrustDirectory, isServer bool) *Handshaker {
	return &Handshaker{cert: cert, directory: directory, isServer: isServer}
}

// Transport is an authenticated, framed byte-stream connection; its
// Conn is what the mesh reactor's Add() call registers.
type Transport struct {
	Conn        net.Conn
	RemoteToken splinterid.PeerAuthToken
	LocalToken  splinterid.PeerAuthToken
}

func (h *Handshaker) baseTLSConfig() *tls.Config {
	roots := x509.NewCertPool()
	if h.cert.Root != nil {
		roots.AddCert(h.cert.Root)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{
			{
				Certificate: [][]byte{h.cert.Certificate},
				PrivateKey:  h.cert.PrivateKey,
			},
		},
		MinVersion: tls.VersionTLS12,
		ClientCAs:  roots,
		RootCAs:    roots,
	}
}

// Handshake performs the mutual-TLS handshake over conn, verifies the
// peer's certificate fingerprint against the trust directory, and
// returns an authenticated Transport bound to localToken.
func (h *Handshaker) Handshake(conn net.Conn, localToken splinterid.PeerAuthToken) (*Transport, error) {
	config := h.baseTLSConfig()
	var tconn *tls.Conn
	if h.isServer {
		config.ClientAuth = tls.RequireAndVerifyClientCert
		tconn = tls.Server(conn, config)
	} else {
		config.InsecureSkipVerify = true
		tconn = tls.Client(conn, config)
	}
	if err := tconn.Handshake(); err != nil {
		return nil, fmt.Errorf("transport: TLS handshake failed: %w", err)
	}

	state := tconn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return nil, fmt.Errorf("transport: peer presented no certificate")
	}
	fingerprint := sha256.Sum256(state.PeerCertificates[0].Raw)

	remoteToken, err := h.resolveRemoteToken(fingerprint, state.PeerCertificates[0])
	if err != nil {
		return nil, err
	}

	return &Transport{Conn: tconn, RemoteToken: remoteToken, LocalToken: localToken}, nil
}

func (h *Handshaker) resolveRemoteToken(fingerprint [sha256.Size]byte, cert *x509.Certificate) (splinterid.PeerAuthToken, error) {
	if h.directory != nil {
		if nodeId, ok := h.directory.NodeIdForFingerprint(fingerprint); ok {
			return splinterid.TrustToken(nodeId), nil
		}
	}
	// Fall back to Challenge auth: the certificate's public key itself
	// is the credential (spec.md §3 PeerAuthToken{Challenge(public_key)}).
	pub, err := x509.MarshalPKIXPublicKey(cert.PublicKey)
	if err != nil {
		return splinterid.PeerAuthToken{}, fmt.Errorf("transport: cannot derive challenge token: %w", err)
	}
	return splinterid.ChallengeToken(fmt.Sprintf("%x", pub)), nil
}

// Send writes one framed message to the transport.
func (t *Transport) Send(payload []byte) error {
	return wire.WriteFrame(t.Conn, payload)
}

// ReadOne blocks for exactly one framed message.
func (t *Transport) ReadOne() ([]byte, error) {
	return wire.ReadFrame(t.Conn)
}

func (t *Transport) Close() error { return t.Conn.Close() }
