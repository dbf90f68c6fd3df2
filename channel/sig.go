package channel

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lnpeer/corepeer/lnwire"
)

// SignDigest produces a canonical ECDSA signature over the double-SHA256 of
// digest, BOLT 7/8's signing convention, and packs it into the wire's fixed
// 64-byte r||s encoding, the format every signature field in lnwire.messages
// carries.
func SignDigest(priv *btcec.PrivateKey, digest []byte) (lnwire.Sig, error) {
	hash := chainhash.DoubleHashB(digest)
	sig := ecdsa.Sign(priv, hash)
	return sigToWire(sig)
}

// VerifyDigest checks sig against digest under pub, hashing digest the same
// way SignDigest does before verifying.
func VerifyDigest(pub *btcec.PublicKey, digest []byte, sig lnwire.Sig) (bool, error) {
	hash := chainhash.DoubleHashB(digest)
	parsed, err := sigFromWire(sig)
	if err != nil {
		return false, err
	}
	return parsed.Verify(hash, pub), nil
}

// sigToWire packs an *ecdsa.Signature's DER encoding into the fixed 64-byte
// r||s format, following the same DER-to-fixed conversion the ecosystem's
// own lnwire.NewSigFromSignature does: each of R and S is left-padded with
// zeros to 32 bytes after stripping DER's leading zero-padding byte.
func sigToWire(sig *ecdsa.Signature) (lnwire.Sig, error) {
	der := sig.Serialize()
	if len(der) < 8 || der[0] != 0x30 {
		return lnwire.Sig{}, fmt.Errorf("channel: malformed DER signature")
	}

	body := der[2:]
	if len(body) < 2 || body[0] != 0x02 {
		return lnwire.Sig{}, fmt.Errorf("channel: malformed DER signature: missing R marker")
	}
	rLen := int(body[1])
	if len(body) < 2+rLen {
		return lnwire.Sig{}, fmt.Errorf("channel: malformed DER signature: truncated R")
	}
	r := body[2 : 2+rLen]
	body = body[2+rLen:]

	if len(body) < 2 || body[0] != 0x02 {
		return lnwire.Sig{}, fmt.Errorf("channel: malformed DER signature: missing S marker")
	}
	sLen := int(body[1])
	if len(body) < 2+sLen {
		return lnwire.Sig{}, fmt.Errorf("channel: malformed DER signature: truncated S")
	}
	s := body[2 : 2+sLen]

	var out lnwire.Sig
	copyRightAligned(out[0:32], r)
	copyRightAligned(out[32:64], s)
	return out, nil
}

// sigFromWire reconstructs an *ecdsa.Signature from the wire's 64-byte
// r||s encoding.
func sigFromWire(sig lnwire.Sig) (*ecdsa.Signature, error) {
	var r, s btcec.ModNScalar
	r.SetByteSlice(sig[0:32])
	s.SetByteSlice(sig[32:64])
	return ecdsa.NewSignature(&r, &s), nil
}

// copyRightAligned strips DER's leading zero-padding byte (if any) from src
// and copies what remains into the low-order end of dst, leaving any
// untouched leading bytes of dst zero.
func copyRightAligned(dst, src []byte) {
	for len(src) > 0 && src[0] == 0x00 {
		src = src[1:]
	}
	if len(src) > len(dst) {
		src = src[len(src)-len(dst):]
	}
	copy(dst[len(dst)-len(src):], src)
}
