package noise

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
)

// maxMessageLength is the largest plaintext lnwire message this transport
// will read or write in one frame, matching BOLT 8's 65535-byte ceiling
// (2-byte length prefix, so nothing larger can be expressed).
const maxMessageLength = 65535

// Conn wraps a net.Conn with the BOLT 8 encrypted transport: every message
// is sent as two AEAD frames, one for its 2-byte length and one for the
// message body itself, each under its own nonce from the send CipherState.
type Conn struct {
	net.Conn

	noiseSend *CipherState
	noiseRecv *CipherState

	remoteStatic *btcec.PublicKey
}

// Dial connects to addr and performs the initiator side of the handshake,
// authenticating the remote node against its known static public key.
func Dial(localStatic *btcec.PrivateKey, addr string, remoteStatic *btcec.PublicKey, timeout time.Duration) (*Conn, error) {
	dialer := net.Dialer{Timeout: timeout}
	netConn, err := dialer.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("noise: dial %s: %w", addr, err)
	}
	sendCS, recvCS, err := InitiatorHandshake(netConn, localStatic, remoteStatic)
	if err != nil {
		netConn.Close()
		return nil, err
	}
	return &Conn{Conn: netConn, noiseSend: sendCS, noiseRecv: recvCS, remoteStatic: remoteStatic}, nil
}

// Accept performs the responder side of the handshake over an already
// accepted net.Conn, as returned by a net.Listener.
func Accept(netConn net.Conn, localStatic *btcec.PrivateKey) (*Conn, error) {
	sendCS, recvCS, remoteStatic, err := ResponderHandshake(netConn, localStatic)
	if err != nil {
		netConn.Close()
		return nil, err
	}
	return &Conn{Conn: netConn, noiseSend: sendCS, noiseRecv: recvCS, remoteStatic: remoteStatic}, nil
}

// RemotePub returns the remote party's static public key, learned during
// the handshake (act two's implicit authentication for the initiator, the
// decrypted act three payload for the responder).
func (c *Conn) RemotePub() *btcec.PublicKey { return c.remoteStatic }

// WriteMessage sends msg as two AEAD frames: its encrypted 2-byte length,
// then its encrypted body.
func (c *Conn) WriteMessage(msg []byte) error {
	if len(msg) > maxMessageLength {
		return fmt.Errorf("noise: message of %d bytes exceeds the %d-byte maximum", len(msg), maxMessageLength)
	}
	var lengthBytes [2]byte
	binary.BigEndian.PutUint16(lengthBytes[:], uint16(len(msg)))

	lengthCipher, err := c.noiseSend.Encrypt(lengthBytes[:])
	if err != nil {
		return fmt.Errorf("noise: encrypting length prefix: %w", err)
	}
	bodyCipher, err := c.noiseSend.Encrypt(msg)
	if err != nil {
		return fmt.Errorf("noise: encrypting message body: %w", err)
	}
	if _, err := c.Conn.Write(append(lengthCipher, bodyCipher...)); err != nil {
		return fmt.Errorf("noise: writing to connection: %w", err)
	}
	return nil
}

// ReadMessage reads and decrypts the next message from the connection,
// blocking until both AEAD frames have arrived.
func (c *Conn) ReadMessage() ([]byte, error) {
	lengthCipher := make([]byte, 2+16)
	if _, err := io.ReadFull(c.Conn, lengthCipher); err != nil {
		return nil, fmt.Errorf("noise: reading length prefix: %w", err)
	}
	lengthBytes, err := c.noiseRecv.Decrypt(lengthCipher)
	if err != nil {
		return nil, fmt.Errorf("noise: decrypting length prefix: %w", err)
	}
	length := binary.BigEndian.Uint16(lengthBytes)

	bodyCipher := make([]byte, int(length)+16)
	if _, err := io.ReadFull(c.Conn, bodyCipher); err != nil {
		return nil, fmt.Errorf("noise: reading message body: %w", err)
	}
	body, err := c.noiseRecv.Decrypt(bodyCipher)
	if err != nil {
		return nil, fmt.Errorf("noise: decrypting message body: %w", err)
	}
	return body, nil
}
