package peer

import (
	"bytes"
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lnpeer/corepeer/errs"
	"github.com/lnpeer/corepeer/lnwire"
	"github.com/lnpeer/corepeer/onion"
)

// PayResult is what Pay returns on success: the preimage the destination
// revealed, proving the payment was received.
type PayResult struct {
	Preimage [32]byte
}

// Pay drives one outgoing HTLC payment end to end over id, the local
// channel to the route's first hop. It computes every intermediate hop's
// forwarded amount and CLTV expiry by accumulating fees and deltas
// backward from the destination, builds the onion packet for the route,
// adds the HTLC locally, exchanges commitment_signed/revoke_and_ack, and
// then waits for either update_fulfill_htlc or update_fail_htlc. Both
// outcomes resolve the same single-buffered, single-consumer channel
// (awaitHTLCResult/deliverHTLCResult in brontide.go), which is what
// implements the "race" §5 describes: whichever arrives first is the only
// one ever read, and the loser — having never been delivered — leaves no
// channel-visible state behind to clean up.
func (b *Brontide) Pay(
	ctx context.Context,
	id lnwire.ChannelID,
	paymentHash [32]byte,
	finalAmt lnwire.MilliSatoshi,
	minFinalCltvExpiry uint32,
	hops []RouteHop,
) (PayResult, error) {

	engine := b.channel(id)
	if engine == nil {
		return PayResult{}, fmt.Errorf("%w: pay on unknown channel %v", errs.ErrProtocolViolation, id)
	}
	if len(hops) == 0 {
		return PayResult{}, fmt.Errorf("%w: pay with an empty route", errs.ErrProtocolViolation)
	}

	localHeight, err := b.chainNotifier.LocalHeight(ctx)
	if err != nil {
		return PayResult{}, fmt.Errorf("peer: fetching local height for pay on %v: %w", id, err)
	}
	finalCltv := uint32(localHeight) + minFinalCltvExpiry

	htlcAmt, htlcCltv, payloads := computeHopPayloads(hops, finalAmt, finalCltv)

	sessionKey, err := btcec.NewPrivateKey()
	if err != nil {
		return PayResult{}, fmt.Errorf("peer: sampling onion session key: %w", err)
	}
	path := make([]*btcec.PublicKey, len(hops))
	for i, h := range hops {
		path[i] = h.NodeID
	}
	packet, err := onion.BuildPacket(sessionKey, path, payloads, paymentHash[:])
	if err != nil {
		return PayResult{}, fmt.Errorf("peer: building onion packet for %v: %w", id, err)
	}
	var onionBuf bytes.Buffer
	if err := packet.Encode(&onionBuf); err != nil {
		return PayResult{}, fmt.Errorf("peer: encoding onion packet for %v: %w", id, err)
	}
	var onionBlob [1366]byte
	copy(onionBlob[:], onionBuf.Bytes())

	htlcID, err := engine.AddHTLC(&lnwire.UpdateAddHTLC{
		ChannelID:   id,
		Amount:      htlcAmt,
		PaymentHash: paymentHash,
		CltvExpiry:  htlcCltv,
		OnionBlob:   onionBlob,
	})
	if err != nil {
		return PayResult{}, fmt.Errorf("peer: adding local htlc on %v: %w", id, err)
	}
	b.recordRouteAttempt(id, htlcID, hops, sessionKey)

	resultCh := b.awaitHTLCResult(id, htlcID)
	b.queueMsg(&lnwire.UpdateAddHTLC{
		ChannelID:   id,
		ID:          htlcID,
		Amount:      htlcAmt,
		PaymentHash: paymentHash,
		CltvExpiry:  htlcCltv,
		OnionBlob:   onionBlob,
	}, nil)

	if err := b.signAndRevoke(ctx, id, engine); err != nil {
		b.cancelHTLCWait(id, htlcID)
		return PayResult{}, err
	}

	result, err := awaitHTLCOutcome(ctx.Done(), b.quit, resultCh)
	if err != nil {
		b.cancelHTLCWait(id, htlcID)
		return PayResult{}, err
	}

	switch m := result.msg.(type) {
	case *lnwire.UpdateFulfillHTLC:
		if err := engine.ReceiveHTLCSettle(m.PaymentPreimage, htlcID); err != nil {
			return PayResult{}, fmt.Errorf("peer: applying remote settle on %v/%d: %w", id, htlcID, err)
		}
		if err := b.finalizeCommitment(ctx, id, engine); err != nil {
			return PayResult{}, err
		}
		if state := b.channelState(id); state != nil {
			if err := b.chanDB.PutChannel(state); err != nil {
				log.Errorf("peer %v: persisting %v after payment settle: %v", b, id, err)
			}
		}
		b.notify("payment_succeeded", m.PaymentPreimage)
		return PayResult{Preimage: m.PaymentPreimage}, nil

	case *lnwire.UpdateFailHTLC:
		return PayResult{}, b.failLocalHTLC(ctx, id, htlcID, engine, m.Reason, result.failureText)

	case *lnwire.UpdateFailMalformedHTLC:
		return PayResult{}, b.failLocalHTLC(ctx, id, htlcID, engine, nil, "")

	default:
		return PayResult{}, fmt.Errorf("%w: unexpected htlc outcome %T for %v/%d", errs.ErrProtocolViolation, result.msg, id, htlcID)
	}
}

// failLocalHTLC applies a remote failure to the HTLC we offered, re-signs,
// and reports the outcome through the pay flow's error return and the
// event callback.
func (b *Brontide) failLocalHTLC(ctx context.Context, id lnwire.ChannelID, htlcID uint64, engine CommitmentEngine, reason []byte, failureText string) error {
	if err := engine.ReceiveFailHTLC(htlcID, reason); err != nil {
		return fmt.Errorf("peer: applying remote fail on %v/%d: %w", id, htlcID, err)
	}
	if err := b.finalizeCommitment(ctx, id, engine); err != nil {
		return err
	}
	if state := b.channelState(id); state != nil {
		if err := b.chanDB.PutChannel(state); err != nil {
			log.Errorf("peer %v: persisting %v after payment fail: %v", b, id, err)
		}
	}
	if failureText == "" {
		failureText = "htlc failed"
	}
	b.notify("payment_failed", failureText)
	return fmt.Errorf("%w: %s", errs.ErrHtlcFailure, failureText)
}

// signAndRevoke is the two-message commit cycle every lifecycle flow that
// mutates a channel's update log runs afterward: sign and send the next
// commitment, wait for the counterparty's matching revoke_and_ack, apply
// it, then reveal this side's own revocation.
func (b *Brontide) signAndRevoke(ctx context.Context, id lnwire.ChannelID, engine CommitmentEngine) error {
	commitSig, htlcSigs, err := engine.SignNextCommitment()
	if err != nil {
		return fmt.Errorf("peer: signing next commitment for %v: %w", id, err)
	}
	sig, wireHtlcSigs, err := toWireCommitSigs(commitSig, htlcSigs)
	if err != nil {
		return fmt.Errorf("peer: encoding commitment signatures for %v: %w", id, err)
	}

	waitCh := b.pending.await(exchangeRevokeAndAck, id)
	b.queueMsg(&lnwire.CommitmentSigned{ChannelID: id, Signature: sig, HtlcSignatures: wireHtlcSigs}, nil)

	reply, err := awaitReply(ctx.Done(), b.quit, waitCh)
	if err != nil {
		b.pending.done(exchangeRevokeAndAck, id)
		return err
	}
	revoke, ok := reply.(*lnwire.RevokeAndAck)
	if !ok {
		return fmt.Errorf("%w: expected revoke_and_ack for %v, got %T", errs.ErrProtocolViolation, id, reply)
	}
	if err := engine.ReceiveRevocation(revoke); err != nil {
		return fmt.Errorf("peer: applying remote revocation for %v: %w", id, err)
	}

	ourRevoke, err := engine.RevokeCurrentCommitment()
	if err != nil {
		return fmt.Errorf("peer: revoking current commitment for %v: %w", id, err)
	}
	b.queueMsg(ourRevoke, nil)
	return nil
}

// finalizeCommitment drains any commitment_signed the counterparty sends
// that still carries HTLC signatures — a collision where both sides
// happened to re-sign around the same settle/fail — revoking each in turn,
// then performs this side's own htlc-less re-sign reflecting the new
// balances once the remote has done the same.
func (b *Brontide) finalizeCommitment(ctx context.Context, id lnwire.ChannelID, engine CommitmentEngine) error {
	for {
		waitCh := b.pending.await(exchangeCommitmentSigned, id)
		reply, err := awaitReply(ctx.Done(), b.quit, waitCh)
		if err != nil {
			b.pending.done(exchangeCommitmentSigned, id)
			return err
		}
		commitSigned, ok := reply.(*lnwire.CommitmentSigned)
		if !ok {
			return fmt.Errorf("%w: expected commitment_signed for %v, got %T", errs.ErrProtocolViolation, id, reply)
		}
		sig, htlcSigs := fromWireCommitSigs(commitSigned)
		if err := engine.ReceiveNewCommitment(sig, htlcSigs); err != nil {
			return fmt.Errorf("peer: applying remote commitment for %v: %w", id, err)
		}
		revoke, err := engine.RevokeCurrentCommitment()
		if err != nil {
			return fmt.Errorf("peer: revoking current commitment for %v: %w", id, err)
		}
		b.queueMsg(revoke, nil)

		if len(commitSigned.HtlcSignatures) == 0 {
			break
		}
	}
	return b.signAndRevoke(ctx, id, engine)
}

// toWireCommitSigs packs the raw 64-byte signatures a CommitmentEngine
// returns into the wire's lnwire.Sig type.
func toWireCommitSigs(commitSig []byte, htlcSigs [][]byte) (lnwire.Sig, []lnwire.Sig, error) {
	var sig lnwire.Sig
	if len(commitSig) != 64 {
		return sig, nil, fmt.Errorf("peer: commitment signature is %d bytes, want 64", len(commitSig))
	}
	copy(sig[:], commitSig)

	wireSigs := make([]lnwire.Sig, len(htlcSigs))
	for i, s := range htlcSigs {
		if len(s) != 64 {
			return sig, nil, fmt.Errorf("peer: htlc signature %d is %d bytes, want 64", i, len(s))
		}
		copy(wireSigs[i][:], s)
	}
	return sig, wireSigs, nil
}

// fromWireCommitSigs is toWireCommitSigs' inverse, unpacking a decoded
// commitment_signed back into the raw byte slices CommitmentEngine expects.
func fromWireCommitSigs(m *lnwire.CommitmentSigned) ([]byte, [][]byte) {
	sig := append([]byte(nil), m.Signature[:]...)
	htlcSigs := make([][]byte, len(m.HtlcSignatures))
	for i, s := range m.HtlcSignatures {
		htlcSigs[i] = append([]byte(nil), s[:]...)
	}
	return sig, htlcSigs
}

// computeHopPayloads accumulates, backward from the destination, the
// amount and CLTV expiry each hop must see: hop i charges its own fee
// (FeeBaseMsat + amount·FeeProportionalMillionths/1e6) on what it forwards
// onward, and requires its own CltvExpiryDelta of headroom between what it
// receives and what it forwards. htlcAmt/htlcCltv are what this node's own
// outgoing update_add_htlc must carry — the amount and expiry the first
// hop is owed, inclusive of every fee charged further down the route.
func computeHopPayloads(hops []RouteHop, finalAmt lnwire.MilliSatoshi, finalCltv uint32) (htlcAmt lnwire.MilliSatoshi, htlcCltv uint32, payloads []onion.HopPayload) {
	n := len(hops)
	hopAmt := make([]lnwire.MilliSatoshi, n)
	hopCltv := make([]uint32, n)
	hopAmt[n-1] = finalAmt
	hopCltv[n-1] = finalCltv

	for i := n - 2; i >= 0; i-- {
		fee := lnwire.MilliSatoshi(hops[i].FeeBaseMsat) +
			hopAmt[i+1]*lnwire.MilliSatoshi(hops[i].FeeProportionalMillionths)/1_000_000
		hopAmt[i] = hopAmt[i+1] + fee
		hopCltv[i] = hopCltv[i+1] + uint32(hops[i].CltvExpiryDelta)
	}

	payloads = make([]onion.HopPayload, n)
	for i := 0; i < n; i++ {
		fwdAmt, fwdCltv, nextChan := finalAmt, finalCltv, uint64(0)
		if i < n-1 {
			fwdAmt, fwdCltv = hopAmt[i+1], hopCltv[i+1]
			nextChan = uint64(hops[i+1].ChannelID)
		}
		hops[i].AmountToFwd = fwdAmt
		hops[i].OutgoingCltv = fwdCltv

		payloads[i] = onion.HopPayload{
			NextChannelID: nextChan,
			AmountToFwd:   uint64(fwdAmt),
			OutgoingCltv:  fwdCltv,
		}
	}

	return hopAmt[0], hopCltv[0], payloads
}

// awaitHTLCOutcome blocks on ch until the settle/fail reply for one
// outstanding HTLC arrives, the connection closes, or ctx is canceled.
func awaitHTLCOutcome(ctxDone <-chan struct{}, quit <-chan struct{}, ch <-chan htlcResult) (htlcResult, error) {
	select {
	case res := <-ch:
		return res, nil
	case <-ctxDone:
		return htlcResult{}, fmt.Errorf("%w: timed out waiting for htlc outcome", errs.ErrProtocolViolation)
	case <-quit:
		return htlcResult{}, errs.ErrTransportClosed
	}
}
