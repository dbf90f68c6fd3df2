package peer

import (
	"context"
	"fmt"

	"github.com/lnpeer/corepeer/channel"
	"github.com/lnpeer/corepeer/errs"
	"github.com/lnpeer/corepeer/lnwire"
)

// minFundingDepth is the confirmation depth BOLT 2 requires before either
// side may send funding_locked.
const minFundingDepth = 3

// AwaitFundingLocked blocks until the funding transaction backing id has
// reached minFundingDepth confirmations, then exchanges funding_locked with
// the counterparty and marks the channel usable. The second per-commitment
// point (commitment number 1, BOLT 2's "the next per-commitment point") is
// sent here, and the counterparty's is recorded as
// state.RemoteNextPerCommitPoint.
func (b *Brontide) AwaitFundingLocked(ctx context.Context, id lnwire.ChannelID) error {
	state := b.channelState(id)
	if state == nil {
		return fmt.Errorf("%w: funding-lock for unknown channel %v", errs.ErrProtocolViolation, id)
	}

	confChan, err := b.chainNotifier.RegisterConfirmationsNtfn(ctx, &state.FundingOutpoint, minFundingDepth)
	if err != nil {
		return fmt.Errorf("peer: registering confirmation notification for %v: %w", id, err)
	}

	select {
	case <-confChan:
	case <-ctx.Done():
		return fmt.Errorf("%w: waiting for funding confirmation on %v", errs.ErrProtocolViolation, id)
	case <-b.quit:
		return errs.ErrTransportClosed
	}

	nextPoint, err := channel.NthPerCommitmentPoint(b.keyRing, 1)
	if err != nil {
		return fmt.Errorf("peer: deriving second per-commitment point for %v: %w", id, err)
	}

	lockedCh := b.pending.await(exchangeFundingLocked, id)
	b.queueMsg(&lnwire.FundingLocked{ChannelID: id, NextPerCommitmentPoint: nextPoint}, nil)

	reply, err := awaitReply(ctx.Done(), b.quit, lockedCh)
	if err != nil {
		b.pending.done(exchangeFundingLocked, id)
		return err
	}
	remoteLocked, ok := reply.(*lnwire.FundingLocked)
	if !ok {
		return fmt.Errorf("%w: expected funding_locked for %v, got %T", errs.ErrProtocolViolation, id, reply)
	}

	// Rotate the remote per-commitment points in our view of its state:
	// the point carried by open_channel/accept_channel was for
	// commitment number 0 ("current"); funding_locked's is for number 1
	// ("next"). reestablish.go checks an incoming channel_reestablish's
	// my_current_per_commitment_point against whichever of these is
	// still valid.
	state.RemoteNextPerCommitPoint = remoteLocked.NextPerCommitmentPoint

	state.FundingLocked = true
	if err := b.chanDB.PutChannel(state); err != nil {
		log.Errorf("peer %v: persisting funding-locked channel %v: %v", b, id, err)
	}

	b.notify("channel_locked", id)
	return nil
}
