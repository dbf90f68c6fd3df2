package peer

import (
	"bytes"
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lnpeer/corepeer/channel"
	"github.com/lnpeer/corepeer/errs"
	"github.com/lnpeer/corepeer/lnwire"
)

// announceDepth is the confirmation depth BOLT 7 requires before a channel
// may be announced to the network, deeper than the minFundingDepth that
// merely unlocks funding_locked.
const announceDepth = 6

// AnnounceChannel drives the announcement exchange for a channel whose
// funding transaction has reached announceDepth: build the unsigned
// channel_announcement body, sign it with both the node identity key and
// the channel's multisig key, trade announcement_signatures with the
// counterparty, and broadcast the completed channel_announcement once both
// halves verify.
//
// Unlike the other lifecycle flows this one only ever runs once per
// channel; IsAnnounced guards against a caller driving it twice across a
// reconnect. The original source's on_announcement_signatures handler
// branched on this same flag but with its sense inverted relative to BOLT
// 7 — see the design note this corrects: the fix here is simply to never
// branch on it at the message-handling layer at all. The queue registered
// by b.pending.await below is the only rendezvous point for the
// counterparty's half, so there is nothing left to get inverted.
func (b *Brontide) AnnounceChannel(ctx context.Context, id lnwire.ChannelID, chainHash [32]byte) error {
	state := b.channelState(id)
	if state == nil {
		return fmt.Errorf("%w: announce for unknown channel %v", errs.ErrProtocolViolation, id)
	}
	if state.IsAnnounced {
		return nil
	}
	if state.ShortChannelID == 0 {
		return fmt.Errorf("%w: announce for %v before short_channel_id is known", errs.ErrProtocolViolation, id)
	}

	confChan, err := b.chainNotifier.RegisterConfirmationsNtfn(ctx, &state.FundingOutpoint, announceDepth)
	if err != nil {
		return fmt.Errorf("peer: registering announce-depth confirmation for %v: %w", id, err)
	}
	select {
	case <-confChan:
	case <-ctx.Done():
		return fmt.Errorf("%w: waiting for announce depth on %v", errs.ErrProtocolViolation, id)
	case <-b.quit:
		return errs.ErrTransportClosed
	}

	localNodeID := b.localStatic.PubKey()
	remoteNodeID := b.remoteStatic
	nodeID1, nodeID2, swapped := sortNodeIDs(localNodeID, remoteNodeID)
	localBitcoinKey := state.LocalConfig.MultiSigKey
	remoteBitcoinKey := state.RemoteConfig.MultiSigKey
	bitcoinKey1, bitcoinKey2 := localBitcoinKey, remoteBitcoinKey
	if swapped {
		bitcoinKey1, bitcoinKey2 = remoteBitcoinKey, localBitcoinKey
	}

	msg := &lnwire.ChannelAnnouncement{
		ChainHash:      chainHash,
		ShortChannelID: state.ShortChannelID,
		NodeID1:        nodeID1,
		NodeID2:        nodeID2,
		BitcoinKey1:    bitcoinKey1,
		BitcoinKey2:    bitcoinKey2,
	}
	digest := msg.UnsignedDigest()

	localNodeSig, err := channel.SignDigest(b.localStatic, digest)
	if err != nil {
		return fmt.Errorf("peer: signing channel_announcement with node key for %v: %w", id, err)
	}
	localBitcoinSig, err := b.keyRing.SignWithBasepoint(channel.KeyFamilyMultiSig, digest)
	if err != nil {
		return fmt.Errorf("peer: signing channel_announcement with multisig key for %v: %w", id, err)
	}

	waitCh := b.pending.await(exchangeAnnouncementSignatures, id)
	b.queueMsg(&lnwire.AnnouncementSignatures{
		ChannelID:        id,
		ShortChannelID:   state.ShortChannelID,
		NodeSignature:    localNodeSig,
		BitcoinSignature: localBitcoinSig,
	}, nil)

	reply, err := awaitReply(ctx.Done(), b.quit, waitCh)
	if err != nil {
		b.pending.done(exchangeAnnouncementSignatures, id)
		return err
	}
	remoteAnn, ok := reply.(*lnwire.AnnouncementSignatures)
	if !ok {
		return fmt.Errorf("%w: expected announcement_signatures for %v, got %T", errs.ErrProtocolViolation, id, reply)
	}

	ok, err = channel.VerifyDigest(remoteNodeID, digest, remoteAnn.NodeSignature)
	if err != nil {
		return fmt.Errorf("peer: verifying remote node_signature for %v: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("%w: remote node_signature for %v does not verify", errs.ErrSignatureInvalid, id)
	}
	ok, err = channel.VerifyDigest(remoteBitcoinKey, digest, remoteAnn.BitcoinSignature)
	if err != nil {
		return fmt.Errorf("peer: verifying remote bitcoin_signature for %v: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("%w: remote bitcoin_signature for %v does not verify", errs.ErrSignatureInvalid, id)
	}

	nodeSig1, nodeSig2 := localNodeSig, remoteAnn.NodeSignature
	btcSig1, btcSig2 := localBitcoinSig, remoteAnn.BitcoinSignature
	if swapped {
		nodeSig1, nodeSig2 = nodeSig2, nodeSig1
		btcSig1, btcSig2 = btcSig2, btcSig1
	}
	msg.NodeSignature1 = nodeSig1
	msg.NodeSignature2 = nodeSig2
	msg.BitcoinSignature1 = btcSig1
	msg.BitcoinSignature2 = btcSig2

	state.IsAnnounced = true
	if err := b.chanDB.PutChannel(state); err != nil {
		log.Errorf("peer %v: persisting announced channel %v: %v", b, id, err)
	}
	if err := b.chanDB.PutChannelAnnouncement(msg); err != nil {
		log.Errorf("peer %v: storing own channel_announcement for %v: %v", b, id, err)
	}

	b.queueMsg(msg, nil)
	b.notify("channel_announced", id)
	return nil
}

// sortNodeIDs returns a and b in ascending lexicographic order of their
// compressed serialization, per BOLT 7, plus whether the inputs were
// swapped to get there — the caller needs that bit to swap the
// corresponding bitcoin keys in lockstep.
func sortNodeIDs(a, b *btcec.PublicKey) (first, second *btcec.PublicKey, swapped bool) {
	if bytes.Compare(a.SerializeCompressed(), b.SerializeCompressed()) <= 0 {
		return a, b, false
	}
	return b, a, true
}
