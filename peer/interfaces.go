// Package peer implements the protocol engine that drives one connection
// to a remote Lightning node: channel opening, reestablishment after a
// reconnect, funding-depth announcement, and HTLC payment forwarding. It
// calls out to a small set of external collaborators — a wallet, a
// commitment-transaction engine, a path-finder, a channel/gossip database
// — that are explicitly out of scope for this module; Brontide is built
// against the interfaces below rather than any concrete implementation of
// them.
package peer

import (
	"context"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
	"github.com/lnpeer/corepeer/channel"
	"github.com/lnpeer/corepeer/lnwire"
)

// Wallet is the external collaborator responsible for UTXO selection,
// constructing and signing the funding transaction, and publishing it to
// the chain. Brontide calls it during the channel-open flow and otherwise
// treats it as opaque.
type Wallet interface {
	// NewFundingAddress returns a fresh public key Brontide can offer as
	// its half of the 2-of-2 funding multisig output.
	NewFundingAddress(ctx context.Context) (*btcec.PublicKey, error)

	// FundPSBT selects inputs covering amount and returns the funding
	// transaction's outpoint once it has assembled (but not yet
	// broadcast) the funding transaction paying localAmt+remoteAmt to
	// the 2-of-2 script built from localKey and remoteKey.
	FundPSBT(ctx context.Context, localKey, remoteKey *btcec.PublicKey, localAmt, remoteAmt int64) (wire.OutPoint, error)

	// SignFundingTx produces our signature over the funding transaction
	// input spending our selected UTXOs.
	SignFundingTx(ctx context.Context, outpoint wire.OutPoint) ([]byte, error)

	// PublishFundingTx broadcasts the finished funding transaction.
	PublishFundingTx(ctx context.Context, outpoint wire.OutPoint) error
}

// CommitmentEngine is the external collaborator that owns commitment and
// HTLC transaction construction, signing, and revocation bookkeeping for
// one channel. Its method shapes are adapted from the LightningChannel
// type in the retrieval pack's lnwallet/channel.go, trimmed to the subset
// the peer engine drives directly and simplified to this module's
// msat-balance model; force-close and cooperative-close paths are an
// explicit non-goal and are not part of this interface.
type CommitmentEngine interface {
	// ChanSyncMsg returns the channel_reestablish this side should send
	// on reconnect, reflecting its locally persisted commitment state.
	ChanSyncMsg() (*lnwire.ChannelReestablish, error)

	// ProcessChanSyncMsg validates the remote's channel_reestablish
	// against local state and returns any messages that must be
	// retransmitted as a result (a missed revoke_and_ack or
	// commitment_signed).
	ProcessChanSyncMsg(*lnwire.ChannelReestablish) ([]lnwire.Message, error)

	// AddHTLC records a new outgoing HTLC in the local update log.
	AddHTLC(htlc *lnwire.UpdateAddHTLC) (uint64, error)

	// ReceiveHTLC records a newly offered incoming HTLC in the remote
	// update log.
	ReceiveHTLC(htlc *lnwire.UpdateAddHTLC) (uint64, error)

	// SettleHTLC marks the local log entry at index as settled with
	// preimage.
	SettleHTLC(preimage [32]byte, index uint64) error

	// ReceiveHTLCSettle applies a remote fulfill to the log entry we
	// offered at index.
	ReceiveHTLCSettle(preimage [32]byte, index uint64) error

	// FailHTLC marks the local log entry at index as failed.
	FailHTLC(index uint64, reason []byte) error

	// ReceiveFailHTLC applies a remote fail to the log entry we offered
	// at index.
	ReceiveFailHTLC(index uint64, reason []byte) error

	// SignNextCommitment signs the next remote commitment transaction
	// and any new HTLC transactions it requires.
	SignNextCommitment() (commitSig []byte, htlcSigs [][]byte, err error)

	// ReceiveNewCommitment validates and stores a freshly signed local
	// commitment transaction.
	ReceiveNewCommitment(commitSig []byte, htlcSigs [][]byte) error

	// RevokeCurrentCommitment revokes this side's current commitment,
	// advancing the local revocation window by one.
	RevokeCurrentCommitment() (*lnwire.RevokeAndAck, error)

	// ReceiveRevocation processes a revoke_and_ack, invalidating the
	// commitment it revokes.
	ReceiveRevocation(*lnwire.RevokeAndAck) error

	// ChannelPoint returns the channel's funding outpoint.
	ChannelPoint() wire.OutPoint

	// ShortChanID returns the channel's locator once it has one, or the
	// zero value before funding_locked.
	ShortChanID() lnwire.ShortChannelID

	// NextRemoteHTLCID returns the id the next incoming update_add_htlc
	// must carry, so receive.go can reject an out-of-order offer before
	// touching any state.
	NextRemoteHTLCID() uint64

	// UpdateFee applies a new feerate learned from an update_fee message.
	UpdateFee(feeratePerKw uint32) error
}

// PathFinder is the external collaborator that computes payment routes.
// Brontide's pay flow asks it for a route and otherwise has no visibility
// into the wider channel graph. BlacklistEdge is called when an
// update_fail_htlc blames a hop's forwarding policy, so later route
// requests steer around it.
type PathFinder interface {
	FindRoute(ctx context.Context, destination *btcec.PublicKey, amount lnwire.MilliSatoshi) ([]RouteHop, error)
	BlacklistEdge(short lnwire.ShortChannelID)
}

// RouteHop is one hop of a path returned by PathFinder. FeeBaseMsat,
// FeeProportionalMillionths, and CltvExpiryDelta come straight from that
// hop's advertised channel_update policy; AmountToFwd and OutgoingCltv
// start zero and are filled in by pay.go's backward fee/cltv accumulation
// once the full route and final amount are known, per §4.6's "Pay" flow —
// computing them is this package's job, not the path finder's.
type RouteHop struct {
	NodeID                    *btcec.PublicKey
	ChannelID                 lnwire.ShortChannelID
	FeeBaseMsat               uint32
	FeeProportionalMillionths uint32
	CltvExpiryDelta           uint16

	AmountToFwd  lnwire.MilliSatoshi
	OutgoingCltv uint32
}

// ChannelDB is the external collaborator that durably persists channel and
// gossip state across restarts. Brontide treats it purely as a KV store
// keyed by channel ID or short channel ID.
type ChannelDB interface {
	PutChannel(*channel.State) error
	GetChannel(lnwire.ChannelID) (*channel.State, error)
	PutChannelAnnouncement(*lnwire.ChannelAnnouncement) error
	PutNodeAnnouncement(*lnwire.NodeAnnouncement) error
	PutChannelUpdate(*lnwire.ChannelUpdate) error
}

// ChainNotifier is the external collaborator that tells Brontide when the
// funding transaction has reached the confirmation depth it needs before
// sending funding_locked, and again once it has reached the deeper
// threshold BOLT 7 requires before announcing the channel.
type ChainNotifier interface {
	RegisterConfirmationsNtfn(ctx context.Context, txid *wire.OutPoint, numConfs uint32) (<-chan int32, error)

	// LocalHeight returns this node's current view of the chain tip,
	// used by the pay flow to compute a route's final CLTV expiry.
	LocalHeight(ctx context.Context) (int32, error)
}

// ChannelFactory is the external collaborator that instantiates a
// CommitmentEngine for a freshly negotiated channel. Construction needs
// both sides' ChannelConfig and the funding outpoint, all of which the open
// flow only has once accept_channel/funding_created have been exchanged;
// this interface is the single seam between the peer engine's
// channel.State bookkeeping and whatever commitment-transaction
// implementation a deployment plugs in, keeping CommitmentEngine itself
// free of construction concerns per §9's cyclic-reference note.
type ChannelFactory interface {
	NewChannel(state *channel.State) (CommitmentEngine, error)
}

// EventCallback is how Brontide reports user-visible lifecycle and payment
// outcomes to its owner. name is a short event tag ("channel_opened",
// "payment_succeeded", "payment_failed", ...); arg carries whatever payload
// is relevant to that event.
type EventCallback func(name string, arg interface{})

// InvoiceRegistry is the external collaborator holding this node's own
// outstanding invoices, consulted when an update_add_htlc arrives for a
// payment hash we don't recognize as someone else's forwarded HTLC.
// Path-finding and invoice *decoding* for payments this node originates are
// out of scope for this package; this is the narrower receiving-side
// counterpart needed to look up a matching invoice by preimage hash.
type InvoiceRegistry interface {
	// LookupInvoice returns the amount an outstanding invoice for hash
	// expects and the preimage that resolves it, and whether one exists
	// at all. The preimage is returned here rather than only learned
	// once settled, since the receive flow needs it to build
	// update_fulfill_htlc, and invoice decoding/creation is this
	// collaborator's concern, not this package's.
	LookupInvoice(paymentHash [32]byte) (amtMsat lnwire.MilliSatoshi, preimage [32]byte, ok bool)

	// SettleInvoice marks the invoice for hash paid once its HTLC has
	// been irrevocably committed on both commitment transactions.
	SettleInvoice(paymentHash [32]byte, preimage [32]byte) error
}
