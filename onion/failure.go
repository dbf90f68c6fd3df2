package onion

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"golang.org/x/crypto/chacha20"
)

// Failure category bits, per BOLT 4's onion_error failure_code field: the
// high bits classify a failure so a sender can react (retry, give up,
// blacklist a hop) without needing to understand every individual code.
const (
	FailureBadOnion uint16 = 0x8000
	FailurePerm     uint16 = 0x4000
	FailureNode     uint16 = 0x2000
	FailureUpdate   uint16 = 0x1000
)

// FailureCategories returns the names of the category bits set in code, in
// BADONION/PERM/NODE/UPDATE order.
func FailureCategories(code uint16) []string {
	var cats []string
	if code&FailureBadOnion != 0 {
		cats = append(cats, "BADONION")
	}
	if code&FailurePerm != 0 {
		cats = append(cats, "PERM")
	}
	if code&FailureNode != 0 {
		cats = append(cats, "NODE")
	}
	if code&FailureUpdate != 0 {
		cats = append(cats, "UPDATE")
	}
	return cats
}

// FormatFailure renders a human-readable summary of a decoded failure code,
// the string the pay flow hands back to its caller.
func FormatFailure(code uint16) string {
	return fmt.Sprintf("HTLC failure with code %d (categories %v)", code, FailureCategories(code))
}

// GenerateSharedSecrets derives the per-hop ECDH shared secret used to
// build and unwrap the onion, one per node in path, following Sphinx's
// blinding-factor chain: each hop's secret is computed against a blinded
// copy of the session's ephemeral public key so that no two hops' secrets
// are linkable to each other from the wire data alone.
func GenerateSharedSecrets(sessionKey *btcec.PrivateKey, path []*btcec.PublicKey) ([][32]byte, error) {
	secrets := make([][32]byte, len(path))

	ephemeral := sessionKey
	for i, hopPub := range path {
		ss := ecdhHash(ephemeral, hopPub)
		secrets[i] = ss

		blind := blindingFactor(ephemeral.PubKey(), ss)
		next, err := blindPrivateKey(ephemeral, blind)
		if err != nil {
			return nil, fmt.Errorf("onion: blinding ephemeral key for hop %d: %w", i, err)
		}
		ephemeral = next
	}
	return secrets, nil
}

func ecdhHash(priv *btcec.PrivateKey, pub *btcec.PublicKey) [32]byte {
	var point btcec.JacobianPoint
	pub.AsJacobian(&point)

	var result btcec.JacobianPoint
	btcec.ScalarMultNonConst(&priv.Key, &point, &result)
	result.ToAffine()

	shared := btcec.NewPublicKey(&result.X, &result.Y)
	return sha256.Sum256(shared.SerializeCompressed())
}

func blindingFactor(ephemeralPub *btcec.PublicKey, sharedSecret [32]byte) [32]byte {
	h := sha256.New()
	h.Write(ephemeralPub.SerializeCompressed())
	h.Write(sharedSecret[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// blindPrivateKey scales priv's scalar by blind mod the curve order,
// mirroring Sphinx's blinding of the ephemeral key carried hop to hop.
func blindPrivateKey(priv *btcec.PrivateKey, blind [32]byte) (*btcec.PrivateKey, error) {
	var blindScalar btcec.ModNScalar
	blindScalar.SetBytes(&blind)

	scalar := priv.Key
	scalar.Mul(&blindScalar)

	blinded := scalar.Bytes()
	newPriv, pub := btcec.PrivKeyFromBytes(blinded[:])
	if pub == nil {
		return nil, fmt.Errorf("onion: blinded scalar is not a valid private key")
	}
	return newPriv, nil
}

// generateKey derives a purpose-specific key from a hop's shared secret,
// mirroring Sphinx's generate_key(keyType, sharedSecret) = HMAC-SHA256
// with keyType as the HMAC key.
func generateKey(keyType string, sharedSecret [32]byte) [32]byte {
	mac := hmac.New(sha256.New, []byte(keyType))
	mac.Write(sharedSecret[:])
	var out [32]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// obfuscate XORs data with the keystream of a zero-nonce ChaCha20 cipher
// under key, the stream BOLT 4 calls "generate_cipher_stream" when used
// with an "ammag"-derived key. It is its own inverse.
func obfuscate(key [32]byte, data []byte) []byte {
	var nonce [12]byte
	cipher, err := chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
	if err != nil {
		// key is always exactly 32 bytes and nonce exactly 12, so
		// construction cannot fail.
		panic(err)
	}
	out := make([]byte, len(data))
	cipher.XORKeyStream(out, data)
	return out
}

// DecodeFailure unwraps an onion_error packet, trying each hop's shared
// secret in order (the order the payment traveled outward) until the
// HMAC over the unwrapped packet verifies against that hop's "um" key. It
// returns the index into sharedSecrets/path of the hop that reported the
// failure, the failure_code it carried, and a human-readable summary.
func DecodeFailure(sharedSecrets [][32]byte, reason []byte) (hopIndex int, code uint16, message string, err error) {
	packet := append([]byte(nil), reason...)

	for i, ss := range sharedSecrets {
		ammagKey := generateKey("ammag", ss)
		packet = obfuscate(ammagKey, packet)

		if len(packet) < 34 {
			continue
		}
		umKey := generateKey("um", ss)
		mac := hmac.New(sha256.New, umKey[:])
		mac.Write(packet[32:])
		if !hmac.Equal(mac.Sum(nil), packet[:32]) {
			continue
		}

		failureLen := binary.BigEndian.Uint16(packet[32:34])
		if int(failureLen) < 2 || 34+int(failureLen) > len(packet) {
			return 0, 0, "", fmt.Errorf("onion: hop %d: failure_len %d out of range", i, failureLen)
		}
		failureMsg := packet[34 : 34+int(failureLen)]
		code := binary.BigEndian.Uint16(failureMsg[:2])
		return i, code, FormatFailure(code), nil
	}
	return 0, 0, "", fmt.Errorf("onion: no hop's shared secret produced a valid failure HMAC")
}
