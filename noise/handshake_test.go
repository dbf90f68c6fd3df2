package noise

import (
	"bytes"
	"net"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
)

// TestHandshakeEstablishesMatchingTransportKeys runs both sides of the
// Noise_XK handshake over an in-memory pipe and checks that the initiator's
// send key equals the responder's receive key (and vice versa), and that
// the responder recovers the initiator's static public key from act three.
func TestHandshakeEstablishesMatchingTransportKeys(t *testing.T) {
	initiatorStatic, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey: %v", err)
	}
	responderStatic, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey: %v", err)
	}

	clientConn, serverConn := net.Pipe()

	type initResult struct {
		send, recv *CipherState
		err        error
	}
	type respResult struct {
		send, recv *CipherState
		remote     *btcec.PublicKey
		err        error
	}
	initCh := make(chan initResult, 1)
	respCh := make(chan respResult, 1)

	go func() {
		send, recv, err := InitiatorHandshake(clientConn, initiatorStatic, responderStatic.PubKey())
		initCh <- initResult{send, recv, err}
	}()
	go func() {
		send, recv, remote, err := ResponderHandshake(serverConn, responderStatic)
		respCh <- respResult{send, recv, remote, err}
	}()

	initRes := <-initCh
	respRes := <-respCh

	if initRes.err != nil {
		t.Fatalf("InitiatorHandshake: %v", initRes.err)
	}
	if respRes.err != nil {
		t.Fatalf("ResponderHandshake: %v", respRes.err)
	}
	if !respRes.remote.IsEqual(initiatorStatic.PubKey()) {
		t.Fatal("responder recovered the wrong initiator static key")
	}
	if initRes.send.key != respRes.recv.key {
		t.Fatal("initiator's send key does not match responder's receive key")
	}
	if initRes.recv.key != respRes.send.key {
		t.Fatal("initiator's receive key does not match responder's send key")
	}
}

// TestConnRoundTripsMessages drives a full Conn over each side of the pipe
// and checks that a message written on one end is read back intact on the
// other.
func TestConnRoundTripsMessages(t *testing.T) {
	initiatorStatic, _ := btcec.NewPrivateKey()
	responderStatic, _ := btcec.NewPrivateKey()

	clientConn, serverConn := net.Pipe()

	type dialResult struct {
		conn *Conn
		err  error
	}
	type acceptResult struct {
		conn *Conn
		err  error
	}
	dialCh := make(chan dialResult, 1)
	acceptCh := make(chan acceptResult, 1)

	go func() {
		sendCS, recvCS, err := InitiatorHandshake(clientConn, initiatorStatic, responderStatic.PubKey())
		if err != nil {
			dialCh <- dialResult{nil, err}
			return
		}
		dialCh <- dialResult{&Conn{Conn: clientConn, noiseSend: sendCS, noiseRecv: recvCS}, nil}
	}()
	go func() {
		sendCS, recvCS, remote, err := ResponderHandshake(serverConn, responderStatic)
		if err != nil {
			acceptCh <- acceptResult{nil, err}
			return
		}
		acceptCh <- acceptResult{&Conn{Conn: serverConn, noiseSend: sendCS, noiseRecv: recvCS, remoteStatic: remote}, nil}
	}()

	dial := <-dialCh
	accept := <-acceptCh
	if dial.err != nil {
		t.Fatalf("dial side handshake: %v", dial.err)
	}
	if accept.err != nil {
		t.Fatalf("accept side handshake: %v", accept.err)
	}

	want := []byte("funding_locked payload placeholder")
	writeErrCh := make(chan error, 1)
	go func() { writeErrCh <- dial.conn.WriteMessage(want) }()

	got, err := accept.conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if err := <-writeErrCh; err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("ReadMessage = %q, want %q", got, want)
	}
}
