package noise

import (
	"encoding/binary"
	"fmt"

	"github.com/lnpeer/corepeer/errs"
	"golang.org/x/crypto/chacha20poly1305"
)

// CipherState is one direction (send or receive) of the post-handshake
// transport: a rotating ChaCha20-Poly1305 key plus the message counter that
// selects its nonce, per BOLT 8's key-rotation rule.
type CipherState struct {
	chainingKey [32]byte
	key         [32]byte
	nonce       uint64
}

func newCipherState(key [32]byte) *CipherState {
	return &CipherState{chainingKey: key, key: key}
}

// nonceBytes builds the 12-byte ChaCha20-Poly1305 nonce BOLT 8 specifies:
// 4 zero bytes followed by the 8-byte little-endian message counter.
func nonceBytes(n uint64) []byte {
	b := make([]byte, 12)
	binary.LittleEndian.PutUint64(b[4:], n)
	return b
}

func encryptWithAD(key [32]byte, nonce uint64, ad, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("noise: constructing AEAD: %w", err)
	}
	return aead.Seal(nil, nonceBytes(nonce), plaintext, ad), nil
}

func decryptWithAD(key [32]byte, nonce uint64, ad, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("noise: constructing AEAD: %w", err)
	}
	pt, err := aead.Open(nil, nonceBytes(nonce), ciphertext, ad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrAuthenticationFailure, err)
	}
	return pt, nil
}

// Encrypt seals plaintext under the current key and nonce, then advances
// the nonce, rotating the key every keyRotationInterval messages.
func (c *CipherState) Encrypt(plaintext []byte) ([]byte, error) {
	ct, err := encryptWithAD(c.key, c.nonce, nil, plaintext)
	if err != nil {
		return nil, err
	}
	c.advance()
	return ct, nil
}

// Decrypt opens ciphertext under the current key and nonce, then advances
// the nonce and rotates the key on the same schedule as Encrypt.
func (c *CipherState) Decrypt(ciphertext []byte) ([]byte, error) {
	pt, err := decryptWithAD(c.key, c.nonce, nil, ciphertext)
	if err != nil {
		return nil, err
	}
	c.advance()
	return pt, nil
}

func (c *CipherState) advance() {
	c.nonce++
	if c.nonce == keyRotationInterval {
		ck, k := hkdf2(c.chainingKey, c.key[:])
		c.chainingKey = ck
		c.key = k
		c.nonce = 0
	}
}
