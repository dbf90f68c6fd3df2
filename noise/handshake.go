// Package noise implements the BOLT 8 Noise_XK handshake and the encrypted
// transport it establishes. It is named noise rather than brontide to avoid
// implying this is a vendored copy of the real
// github.com/lightningnetwork/lnd/brontide package; the peer engine built on
// top of it still uses the ecosystem's Brontide name for its connection
// type, per the chantools usage reference in the retrieval pack.
package noise

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
)

const (
	protocolName = "Noise_XK_secp256k1_ChaChaPoly_SHA256"
	prologue     = "lightning"

	// keyRotationInterval is the number of messages a CipherState may
	// encrypt or decrypt under one symmetric key before it must be
	// rotated via the chaining key, per BOLT 8.
	keyRotationInterval = 1000
)

// HandshakeState carries the running hash h and chaining key ck across the
// three acts of the Noise_XK handshake.
type HandshakeState struct {
	h  [32]byte
	ck [32]byte

	localStatic    *btcec.PrivateKey
	localEphemeral *btcec.PrivateKey

	remoteStatic    *btcec.PublicKey
	remoteEphemeral *btcec.PublicKey
}

func newHandshakeState(localStatic *btcec.PrivateKey, remoteStatic *btcec.PublicKey) *HandshakeState {
	h := sha256.Sum256([]byte(protocolName))
	h = sha256.Sum256(append(h[:], []byte(prologue)...))
	return &HandshakeState{
		h:            h,
		ck:           h,
		localStatic:  localStatic,
		remoteStatic: remoteStatic,
	}
}

func (hs *HandshakeState) mixHash(data []byte) {
	h := sha256.Sum256(append(hs.h[:], data...))
	hs.h = h
}

// ecdh computes the brontide-style shared secret: SHA256 of the compressed
// serialization of priv*pub.
func ecdh(priv *btcec.PrivateKey, pub *btcec.PublicKey) [32]byte {
	var point btcec.JacobianPoint
	pub.AsJacobian(&point)

	var result btcec.JacobianPoint
	btcec.ScalarMultNonConst(&priv.Key, &point, &result)
	result.ToAffine()

	sharedPubKey := btcec.NewPublicKey(&result.X, &result.Y)
	return sha256.Sum256(sharedPubKey.SerializeCompressed())
}

// hkdf2 implements get_bolt8_hkdf: extract a pseudorandom key from salt and
// ikm via HMAC-SHA256, then expand it (with an empty info string) into two
// 32-byte outputs. ikm is a byte slice rather than a fixed-size array
// because split's final extract uses an empty ikm, not 32 zero bytes.
func hkdf2(salt [32]byte, ikm []byte) (t1, t2 [32]byte) {
	prk := hmacSHA256(salt[:], ikm)
	out1 := hmacSHA256(prk, []byte{0x01})
	out2 := hmacSHA256(prk, append(append([]byte{}, out1...), 0x02))
	copy(t1[:], out1)
	copy(t2[:], out2)
	return t1, t2
}

// InitiatorHandshake performs the three acts of the Noise_XK handshake as
// the connection's initiator, writing act messages to rw and reading the
// responder's replies from it. remoteStatic is the responder's known
// static public key (the XK pattern requires the initiator to already know
// it out of band, e.g. from the node ID it dialed).
func InitiatorHandshake(rw io.ReadWriter, localStatic *btcec.PrivateKey, remoteStatic *btcec.PublicKey) (*CipherState, *CipherState, error) {
	hs := newHandshakeState(localStatic, remoteStatic)
	hs.mixHash(remoteStatic.SerializeCompressed())

	ephemeral, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, nil, fmt.Errorf("noise: generating act one ephemeral key: %w", err)
	}
	hs.localEphemeral = ephemeral

	// Act One: e, es.
	hs.mixHash(ephemeral.PubKey().SerializeCompressed())
	es := ecdh(ephemeral, remoteStatic)
	tempK1 := hs.mixKey(es)
	c1, err := encryptWithAD(tempK1, 0, hs.h[:], nil)
	if err != nil {
		return nil, nil, err
	}
	hs.mixHash(c1)

	actOne := make([]byte, 0, 1+33+16)
	actOne = append(actOne, 0x00)
	actOne = append(actOne, ephemeral.PubKey().SerializeCompressed()...)
	actOne = append(actOne, c1...)
	if _, err := rw.Write(actOne); err != nil {
		return nil, nil, fmt.Errorf("noise: writing act one: %w", err)
	}

	// Act Two: ee.
	actTwo := make([]byte, 1+33+16)
	if _, err := io.ReadFull(rw, actTwo); err != nil {
		return nil, nil, fmt.Errorf("noise: reading act two: %w", err)
	}
	if actTwo[0] != 0x00 {
		return nil, nil, fmt.Errorf("noise: act two: unsupported handshake version %d", actTwo[0])
	}
	re, err := btcec.ParsePubKey(actTwo[1:34])
	if err != nil {
		return nil, nil, fmt.Errorf("noise: act two: invalid ephemeral key: %w", err)
	}
	hs.remoteEphemeral = re
	hs.mixHash(re.SerializeCompressed())
	ee := ecdh(ephemeral, re)
	tempK2 := hs.mixKey(ee)
	if _, err := decryptWithAD(tempK2, 0, hs.h[:], actTwo[34:]); err != nil {
		return nil, nil, fmt.Errorf("noise: act two: %w", err)
	}
	hs.mixHash(actTwo[34:])

	// Act Three: s, se.
	c3, err := encryptWithAD(tempK2, 1, hs.h[:], localStatic.PubKey().SerializeCompressed())
	if err != nil {
		return nil, nil, err
	}
	hs.mixHash(c3)
	se := ecdh(localStatic, re)
	tempK3 := hs.mixKey(se)
	t3, err := encryptWithAD(tempK3, 0, hs.h[:], nil)
	if err != nil {
		return nil, nil, err
	}

	actThree := make([]byte, 0, 1+len(c3)+len(t3))
	actThree = append(actThree, 0x00)
	actThree = append(actThree, c3...)
	actThree = append(actThree, t3...)
	if _, err := rw.Write(actThree); err != nil {
		return nil, nil, fmt.Errorf("noise: writing act three: %w", err)
	}

	sendKey, recvKey := hs.split()
	return newCipherState(sendKey), newCipherState(recvKey), nil
}

// ResponderHandshake performs the three acts of the Noise_XK handshake as
// the connection's responder.
func ResponderHandshake(rw io.ReadWriter, localStatic *btcec.PrivateKey) (*CipherState, *CipherState, *btcec.PublicKey, error) {
	hs := newHandshakeState(localStatic, nil)
	hs.mixHash(localStatic.PubKey().SerializeCompressed())

	actOne := make([]byte, 1+33+16)
	if _, err := io.ReadFull(rw, actOne); err != nil {
		return nil, nil, nil, fmt.Errorf("noise: reading act one: %w", err)
	}
	if actOne[0] != 0x00 {
		return nil, nil, nil, fmt.Errorf("noise: act one: unsupported handshake version %d", actOne[0])
	}
	re, err := btcec.ParsePubKey(actOne[1:34])
	if err != nil {
		return nil, nil, nil, fmt.Errorf("noise: act one: invalid ephemeral key: %w", err)
	}
	hs.remoteEphemeral = re
	hs.mixHash(re.SerializeCompressed())
	es := ecdh(localStatic, re)
	tempK1 := hs.mixKey(es)
	if _, err := decryptWithAD(tempK1, 0, hs.h[:], actOne[34:]); err != nil {
		return nil, nil, nil, fmt.Errorf("noise: act one: %w", err)
	}
	hs.mixHash(actOne[34:])

	ephemeral, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("noise: generating act two ephemeral key: %w", err)
	}
	hs.localEphemeral = ephemeral
	hs.mixHash(ephemeral.PubKey().SerializeCompressed())
	ee := ecdh(ephemeral, re)
	tempK2 := hs.mixKey(ee)
	c2, err := encryptWithAD(tempK2, 0, hs.h[:], nil)
	if err != nil {
		return nil, nil, nil, err
	}
	hs.mixHash(c2)

	actTwo := make([]byte, 0, 1+33+16)
	actTwo = append(actTwo, 0x00)
	actTwo = append(actTwo, ephemeral.PubKey().SerializeCompressed()...)
	actTwo = append(actTwo, c2...)
	if _, err := rw.Write(actTwo); err != nil {
		return nil, nil, nil, fmt.Errorf("noise: writing act two: %w", err)
	}

	actThree := make([]byte, 1+49+16)
	if _, err := io.ReadFull(rw, actThree); err != nil {
		return nil, nil, nil, fmt.Errorf("noise: reading act three: %w", err)
	}
	if actThree[0] != 0x00 {
		return nil, nil, nil, fmt.Errorf("noise: act three: unsupported handshake version %d", actThree[0])
	}
	c3 := actThree[1:50]
	t3 := actThree[50:]
	rsBytes, err := decryptWithAD(tempK2, 1, hs.h[:], c3)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("noise: act three: %w", err)
	}
	rs, err := btcec.ParsePubKey(rsBytes)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("noise: act three: invalid static key: %w", err)
	}
	hs.remoteStatic = rs
	hs.mixHash(c3)
	se := ecdh(ephemeral, rs)
	tempK3 := hs.mixKey(se)
	if _, err := decryptWithAD(tempK3, 0, hs.h[:], t3); err != nil {
		return nil, nil, nil, fmt.Errorf("noise: act three: %w", err)
	}

	sendKey, recvKey := hs.split()
	// The responder's sending key is the initiator's receiving key and
	// vice versa.
	return newCipherState(recvKey), newCipherState(sendKey), rs, nil
}

// mixKey runs HKDF(ck, ikm), replaces ck with the first output, and returns
// the second output as a temporary encryption key for the current act.
func (hs *HandshakeState) mixKey(ikm [32]byte) [32]byte {
	ck, k := hkdf2(hs.ck, ikm[:])
	hs.ck = ck
	return k
}

// split derives the final pair of transport keys from the chaining key
// once all three acts have completed. Per BOLT 8, (sk, rk) = HKDF(ck,
// empty) — the extract step's ikm is the empty string, not 32 zero bytes.
func (hs *HandshakeState) split() (sendKey, recvKey [32]byte) {
	return hkdf2(hs.ck, nil)
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}
