// Package channel defines the local representation of channel state:
// configuration, per-side basepoints, and the funding-outpoint-derived
// channel_id. The commitment transaction machinery itself (building,
// signing, and broadcasting commitment and HTLC transactions) is an
// external collaborator reached through peer.CommitmentEngine; this
// package only holds the data both the peer engine and that collaborator
// need to agree on.
package channel

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lnpeer/corepeer/lnwire"
)

// ChannelConfig holds one side's basepoints and the constraints it imposes
// on the other side, mirroring the field groupings of
// lnwallet.ChannelConfig in the retrieval pack's reservation/channel code.
type ChannelConfig struct {
	MultiSigKey         *btcec.PublicKey
	RevocationBasePoint *btcec.PublicKey
	PaymentBasePoint    *btcec.PublicKey
	DelayBasePoint      *btcec.PublicKey
	HtlcBasePoint       *btcec.PublicKey

	ChannelConstraints
}

// ChannelConstraints are the sanity bounds each side imposes on the other
// during open_channel/accept_channel negotiation; see open.go for where
// they are checked against the peer's proposal.
type ChannelConstraints struct {
	DustLimit            int64
	ChanReserve          int64
	MaxPendingAmount     lnwire.MilliSatoshi
	MinHTLC              lnwire.MilliSatoshi
	MaxAcceptedHtlcs     uint16
	CsvDelay             uint16
}

// UnsetCtn is the sentinel commitment transaction number a side carries
// before its first commitment_signed/funding_signed has been exchanged,
// per §3's "ctn, initialized to -1".
const UnsetCtn int64 = -1

// State is the local, persistence-backed view of one channel's lifecycle.
// The channel database that durably stores this is an external
// collaborator (peer.ChannelDB); this struct is what flows between the
// peer engine and that collaborator in memory.
type State struct {
	ChannelID      lnwire.ChannelID
	ShortChannelID lnwire.ShortChannelID

	FundingOutpoint wire.OutPoint

	IsInitiator bool

	LocalConfig  ChannelConfig
	RemoteConfig ChannelConfig

	// LocalCtn/RemoteCtn are the current commitment transaction number
	// for each side's next commitment, advanced to 0 once funding_signed
	// is validated (open.go) and by ReceiveNewCommitment/
	// RevokeCurrentCommitment in the external CommitmentEngine after
	// that. UnsetCtn (-1) until then.
	LocalCtn  int64
	RemoteCtn int64

	// CurrentCommitmentSig is the counterparty's signature over this
	// side's current commitment transaction, stored once funding_signed
	// is validated.
	CurrentCommitmentSig lnwire.Sig

	LocalAmountMsat  lnwire.MilliSatoshi
	RemoteAmountMsat lnwire.MilliSatoshi
	NextHtlcID       uint64

	// RemoteCurrentPerCommitPoint/RemoteNextPerCommitPoint are this
	// side's recorded view of the remote's per-commitment points for its
	// current and next commitment numbers: the former is set from
	// accept_channel's first_per_commitment_point, the latter from
	// funding_locked's next_per_commitment_point, and both rotate
	// forward on each revoke_and_ack thereafter. reestablish.go
	// validates an incoming channel_reestablish's
	// my_current_per_commitment_point against these, preferring current
	// and falling back to next, per §4.6.
	RemoteCurrentPerCommitPoint *btcec.PublicKey
	RemoteNextPerCommitPoint    *btcec.PublicKey

	IsPending     bool
	FundingLocked bool
	IsAnnounced   bool
}

// DeriveChannelID computes the BOLT 2 channel_id: the funding outpoint's
// txid, in the byte order it appears on the wire (not the reversed,
// human-readable display order), XORed against the 2-byte big-endian
// funding output index. Because the index never exceeds 16 bits, this
// only ever touches the last two bytes of the txid.
func DeriveChannelID(fundingTxid chainhash.Hash, fundingOutputIndex uint16) lnwire.ChannelID {
	var id lnwire.ChannelID
	copy(id[:], fundingTxid[:])
	id[30] ^= byte(fundingOutputIndex >> 8)
	id[31] ^= byte(fundingOutputIndex)
	return id
}
