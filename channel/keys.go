package channel

import (
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lnpeer/corepeer/lnwire"
)

// KeyFamily names one of the six basepoint/key roles a channel needs from
// the wallet's keystore (multisig=0, revocation-base=1, htlc-base=2,
// payment-base=3, delay-base=4, revocation-root=5). Grounded on the
// ecosystem's own keychain.KeyFamily idiom: a small integer enum handed to
// a derivation routine rather than a path string, so the wallet never has
// to parse BIP32 paths built by this package.
type KeyFamily uint32

const (
	KeyFamilyMultiSig KeyFamily = iota
	KeyFamilyRevocationBase
	KeyFamilyHtlcBase
	KeyFamilyPaymentBase
	KeyFamilyDelayBase
	KeyFamilyRevocationRoot
)

// maxCommitmentNumber is 2^48 - 1, the highest index the per-commitment
// secret seed can be asked to derive; ctn counts up from 0 while the index
// handed to the seed counts down from this value, so revealing a secret
// never lets the counterparty predict a future one.
const maxCommitmentNumber = (1 << 48) - 1

// PerCommitmentSecretIndex returns the seed index for commitment number
// ctn: BOLT 3's "2^48 - 1 - ctn".
func PerCommitmentSecretIndex(ctn uint64) uint64 {
	return maxCommitmentNumber - ctn
}

// PerCommitmentSecret derives the commitment secret at index from seed,
// following BOLT 3's generate_from_seed: starting from the seed, for each
// bit of index from 47 down to 0 that is set, flip that bit of the running
// value and re-hash with SHA-256.
func PerCommitmentSecret(seed [32]byte, index uint64) [32]byte {
	secret := seed
	for b := 47; b >= 0; b-- {
		if index&(1<<uint(b)) == 0 {
			continue
		}
		byteIdx := b / 8
		bitIdx := uint(b % 8)
		secret[byteIdx] ^= 1 << bitIdx
		secret = sha256.Sum256(secret[:])
	}
	return secret
}

// PerCommitmentPoint derives the public per-commitment point for a secret,
// the form sent on the wire in open_channel/accept_channel/funding_locked.
func PerCommitmentPoint(secret [32]byte) (*btcec.PublicKey, error) {
	priv, err := perCommitmentPrivKey(secret)
	if err != nil {
		return nil, err
	}
	return priv.PubKey(), nil
}

func perCommitmentPrivKey(secret [32]byte) (*btcec.PrivateKey, error) {
	priv, pub := btcec.PrivKeyFromBytes(secret[:])
	if pub == nil {
		return nil, fmt.Errorf("channel: per-commitment secret is not a valid scalar")
	}
	return priv, nil
}

// KeyRing is the wallet-side collaborator that derives basepoints and the
// per-commitment-secret seed for one channel. The peer engine's open flow
// calls it once per new channel; everything it returns is public except
// the seed, which never leaves the wallet boundary in a production
// implementation but is modeled as a plain return here since the signing
// side (CommitmentEngine) is itself an external collaborator in this
// module.
type KeyRing interface {
	// DeriveBasepoint returns the public basepoint for the given family,
	// derived deterministically from the wallet's master key.
	DeriveBasepoint(family KeyFamily) (*btcec.PublicKey, error)

	// PerCommitmentSeed returns the 32-byte seed this channel's
	// per-commitment secrets are generated from.
	PerCommitmentSeed() ([32]byte, error)

	// SignWithBasepoint signs digest with the private key backing the
	// given family's basepoint. The only caller today is the announce
	// flow's bitcoin_signature half of announcement_signatures: that key
	// never otherwise needs to leave the wallet boundary, since
	// commitment and HTLC transaction signing is the external
	// CommitmentEngine's job, not this package's.
	SignWithBasepoint(family KeyFamily, digest []byte) (lnwire.Sig, error)
}

// DeriveConfig builds a ChannelConfig's basepoints from ring, applying the
// constraints the open flow negotiated. The multisig funding key is
// derived along with the basepoints and returned as the config's
// MultiSigKey.
func DeriveConfig(ring KeyRing, constraints ChannelConstraints) (ChannelConfig, error) {
	multisig, err := ring.DeriveBasepoint(KeyFamilyMultiSig)
	if err != nil {
		return ChannelConfig{}, fmt.Errorf("channel: deriving multisig key: %w", err)
	}
	revocation, err := ring.DeriveBasepoint(KeyFamilyRevocationBase)
	if err != nil {
		return ChannelConfig{}, fmt.Errorf("channel: deriving revocation basepoint: %w", err)
	}
	payment, err := ring.DeriveBasepoint(KeyFamilyPaymentBase)
	if err != nil {
		return ChannelConfig{}, fmt.Errorf("channel: deriving payment basepoint: %w", err)
	}
	delay, err := ring.DeriveBasepoint(KeyFamilyDelayBase)
	if err != nil {
		return ChannelConfig{}, fmt.Errorf("channel: deriving delay basepoint: %w", err)
	}
	htlc, err := ring.DeriveBasepoint(KeyFamilyHtlcBase)
	if err != nil {
		return ChannelConfig{}, fmt.Errorf("channel: deriving htlc basepoint: %w", err)
	}
	return ChannelConfig{
		MultiSigKey:         multisig,
		RevocationBasePoint: revocation,
		PaymentBasePoint:    payment,
		DelayBasePoint:      delay,
		HtlcBasePoint:       htlc,
		ChannelConstraints:  constraints,
	}, nil
}

// FirstPerCommitmentPoint derives the per-commitment point a channel sends
// in open_channel/accept_channel: index 2^48-1, the point for commitment
// number 0.
func FirstPerCommitmentPoint(ring KeyRing) (*btcec.PublicKey, error) {
	return NthPerCommitmentPoint(ring, 0)
}

// NthPerCommitmentPoint derives the per-commitment point for commitment
// number ctn, used by funding_locked (ctn=1, "the second point") and by
// revoke_and_ack's next_per_commitment_point field (ctn+1 relative to the
// commitment being revoked).
func NthPerCommitmentPoint(ring KeyRing, ctn uint64) (*btcec.PublicKey, error) {
	seed, err := ring.PerCommitmentSeed()
	if err != nil {
		return nil, fmt.Errorf("channel: fetching per-commitment seed: %w", err)
	}
	secret := PerCommitmentSecret(seed, PerCommitmentSecretIndex(ctn))
	return PerCommitmentPoint(secret)
}
