package peer

import (
	"context"
	"crypto/rand"
	"fmt"

	"github.com/lnpeer/corepeer/channel"
	"github.com/lnpeer/corepeer/errs"
	"github.com/lnpeer/corepeer/lnwire"
)

// Fixed values this node proposes as the channel initiator and the bounds
// an incoming accept_channel is checked against, per §4.6 step 4/5 (and
// the original's channel_establishment_flow, lnbase.py:511-568): unlike a
// policy-configurable implementation, this module treats these as
// protocol constants rather than caller parameters.
const (
	initiatorFeeratePerKw = 20000
	initiatorToSelfDelay  = 143
	initiatorDustLimit    = 10
	initiatorMaxInFlight  = ^lnwire.MilliSatoshi(0)
	initiatorMaxHtlcs     = 5
	initiatorChanReserve  = 10
	initiatorChanFlags    = 0x01

	maxRemoteDustLimit       = 600
	maxRemoteHtlcMinimumMsat = 600000
	minRemoteMaxInFlightMsat = 198_000_000
)

// OpenChannel drives the initiator side of channel establishment: propose
// open_channel, validate the reply, fund the channel, construct the
// commitment engine, have it sign the remote's first commitment, and
// exchange funding_created/funding_signed. It returns the new channel's id
// once the funding transaction has been broadcast and the channel is
// registered as pending awaiting confirmation.
func (b *Brontide) OpenChannel(
	ctx context.Context,
	chainHash [32]byte,
	fundingAmt int64,
	pushAmt lnwire.MilliSatoshi,
) (lnwire.ChannelID, error) {

	var tempID lnwire.ChannelID
	if _, err := rand.Read(tempID[:]); err != nil {
		return lnwire.ChannelID{}, fmt.Errorf("peer: generating temporary_channel_id: %w", err)
	}

	constraints := channel.ChannelConstraints{
		DustLimit:        initiatorDustLimit,
		ChanReserve:      initiatorChanReserve,
		MaxPendingAmount: initiatorMaxInFlight,
		MinHTLC:          1,
		MaxAcceptedHtlcs: initiatorMaxHtlcs,
		CsvDelay:         initiatorToSelfDelay,
	}
	localConfig, err := channel.DeriveConfig(b.keyRing, constraints)
	if err != nil {
		return lnwire.ChannelID{}, err
	}
	firstPoint, err := channel.FirstPerCommitmentPoint(b.keyRing)
	if err != nil {
		return lnwire.ChannelID{}, err
	}

	openMsg := &lnwire.OpenChannel{
		ChainHash:            chainHash,
		TemporaryChannelID:   tempID,
		FundingAmount:        fundingAmt,
		PushAmount:           pushAmt,
		DustLimit:            constraints.DustLimit,
		MaxValueInFlight:     constraints.MaxPendingAmount,
		ChannelReserve:       constraints.ChanReserve,
		HtlcMinimum:          constraints.MinHTLC,
		FeePerKw:             initiatorFeeratePerKw,
		CsvDelay:             constraints.CsvDelay,
		MaxAcceptedHTLCs:     constraints.MaxAcceptedHtlcs,
		ChannelFlags:         initiatorChanFlags,
		FundingKey:           localConfig.MultiSigKey,
		RevocationPoint:      localConfig.RevocationBasePoint,
		PaymentPoint:         localConfig.PaymentBasePoint,
		DelayedPaymentPoint:  localConfig.DelayBasePoint,
		HtlcPoint:            localConfig.HtlcBasePoint,
		FirstCommitmentPoint: firstPoint,
	}

	acceptCh := b.pending.await(exchangeAcceptChannel, tempID)
	b.queueMsg(openMsg, nil)

	reply, err := awaitReply(ctx.Done(), b.quit, acceptCh)
	if err != nil {
		b.pending.done(exchangeAcceptChannel, tempID)
		return lnwire.ChannelID{}, err
	}
	accept, ok := reply.(*lnwire.AcceptChannel)
	if !ok {
		return lnwire.ChannelID{}, fmt.Errorf("%w: expected accept_channel, got %T", errs.ErrProtocolViolation, reply)
	}
	if err := validateAcceptChannel(accept); err != nil {
		return lnwire.ChannelID{}, err
	}

	remoteConfig := channel.ChannelConfig{
		MultiSigKey:         accept.FundingKey,
		RevocationBasePoint: accept.RevocationPoint,
		PaymentBasePoint:    accept.PaymentPoint,
		DelayBasePoint:      accept.DelayedPaymentPoint,
		HtlcBasePoint:       accept.HtlcPoint,
		ChannelConstraints: channel.ChannelConstraints{
			DustLimit:        accept.DustLimit,
			ChanReserve:      accept.ChannelReserve,
			MaxPendingAmount: accept.MaxValueInFlight,
			MinHTLC:          accept.HtlcMinimum,
			MaxAcceptedHtlcs: accept.MaxAcceptedHTLCs,
			CsvDelay:         accept.CsvDelay,
		},
	}

	outpoint, err := b.wallet.FundPSBT(ctx, localConfig.MultiSigKey, remoteConfig.MultiSigKey, fundingAmt, 0)
	if err != nil {
		return lnwire.ChannelID{}, fmt.Errorf("peer: funding transaction: %w", err)
	}

	var fundingTxid [32]byte
	copy(fundingTxid[:], outpoint.Hash[:])

	// BOLT 2: funding_signed is keyed by the channel_id derived from the
	// funding outpoint, not the temporary_channel_id funding_created still
	// carries — unlike accept_channel, which stays keyed by temporary id.
	chanID := channel.DeriveChannelID(outpoint.Hash, uint16(outpoint.Index))

	state := &channel.State{
		ChannelID:                   chanID,
		FundingOutpoint:             outpoint,
		IsInitiator:                 true,
		LocalConfig:                 localConfig,
		RemoteConfig:                remoteConfig,
		LocalCtn:                    channel.UnsetCtn,
		RemoteCtn:                   channel.UnsetCtn,
		LocalAmountMsat:             lnwire.MilliSatoshi(fundingAmt)*1000 - pushAmt,
		RemoteAmountMsat:            pushAmt,
		RemoteCurrentPerCommitPoint: accept.FirstCommitmentPoint,
		IsPending:                   true,
	}

	// Construct the commitment engine before funding_created is sent:
	// funding_created's signature is this engine signing the remote's
	// first commitment, not a signature over the funding transaction's
	// own input, so the engine must exist first, per §4.6 step 7.
	engine, err := b.chanFactory.NewChannel(state)
	if err != nil {
		return lnwire.ChannelID{}, fmt.Errorf("peer: constructing commitment engine: %w", err)
	}
	b.registerChannel(chanID, engine, state)

	commitSig, _, err := engine.SignNextCommitment()
	if err != nil {
		return lnwire.ChannelID{}, fmt.Errorf("peer: signing remote's first commitment for %v: %w", chanID, err)
	}
	var fcSig lnwire.Sig
	if len(commitSig) != 64 {
		return lnwire.ChannelID{}, fmt.Errorf("peer: first commitment signature is %d bytes, want 64", len(commitSig))
	}
	copy(fcSig[:], commitSig)

	fundingCreated := &lnwire.FundingCreated{
		TemporaryChannelID: tempID,
		FundingTxid:        fundingTxid,
		FundingOutputIndex: uint16(outpoint.Index),
		Signature:          fcSig,
	}

	signedCh := b.pending.await(exchangeFundingSigned, chanID)
	b.queueMsg(fundingCreated, nil)

	reply, err = awaitReply(ctx.Done(), b.quit, signedCh)
	if err != nil {
		b.pending.done(exchangeFundingSigned, chanID)
		return lnwire.ChannelID{}, err
	}
	fundingSigned, ok := reply.(*lnwire.FundingSigned)
	if !ok {
		return lnwire.ChannelID{}, fmt.Errorf("%w: expected funding_signed, got %T", errs.ErrProtocolViolation, reply)
	}

	// The counterparty's funding_signed carries their signature over our
	// own first commitment transaction; the commitment engine validates
	// and stores it before we broadcast, satisfying §8's "both ctn equal
	// 0 and both states store the counterparty's first commitment
	// signature" invariant.
	if err := engine.ReceiveNewCommitment(fundingSigned.Signature[:], nil); err != nil {
		return lnwire.ChannelID{}, fmt.Errorf("%w: validating funding_signed for %v: %v", errs.ErrSignatureInvalid, chanID, err)
	}

	if err := b.wallet.PublishFundingTx(ctx, outpoint); err != nil {
		return lnwire.ChannelID{}, fmt.Errorf("peer: publishing funding transaction: %w", err)
	}

	state.LocalCtn = 0
	state.RemoteCtn = 0
	state.CurrentCommitmentSig = fundingSigned.Signature

	if err := b.chanDB.PutChannel(state); err != nil {
		log.Errorf("peer %v: persisting new channel %v: %v", b, chanID, err)
	}

	b.notify("channel_opened", chanID)
	return chanID, nil
}

// validateAcceptChannel checks an incoming accept_channel against the sane
// upper/lower bounds §4.6 step 5 requires (lnbase.py:566-568): the remote's
// dust limit and htlc minimum must stay below the thresholds that would let
// it claim HTLC-sized amounts as uneconomical dust, and its advertised
// in-flight ceiling must be generous enough to be usable.
func validateAcceptChannel(accept *lnwire.AcceptChannel) error {
	if accept.DustLimit >= maxRemoteDustLimit {
		return fmt.Errorf("%w: accept_channel dust_limit_satoshis %d too high (want < %d)",
			errs.ErrProtocolViolation, accept.DustLimit, maxRemoteDustLimit)
	}
	if accept.HtlcMinimum >= maxRemoteHtlcMinimumMsat {
		return fmt.Errorf("%w: accept_channel htlc_minimum_msat %d too high (want < %d)",
			errs.ErrProtocolViolation, accept.HtlcMinimum, maxRemoteHtlcMinimumMsat)
	}
	if accept.MaxValueInFlight < minRemoteMaxInFlightMsat {
		return fmt.Errorf("%w: accept_channel max_htlc_value_in_flight_msat %d too low (want >= %d)",
			errs.ErrProtocolViolation, accept.MaxValueInFlight, minRemoteMaxInFlightMsat)
	}
	return nil
}
