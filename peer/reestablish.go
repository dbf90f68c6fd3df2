package peer

import (
	"context"
	"fmt"

	"github.com/lnpeer/corepeer/channel"
	"github.com/lnpeer/corepeer/errs"
	"github.com/lnpeer/corepeer/lnwire"
)

// Reestablish drives the channel_reestablish flow for an already-known
// channel on a freshly (re)connected transport: send this side's sync
// message, wait for the counterparty's, validate its counters and
// per-commitment point against our own channel.State, and retransmit
// whatever the commitment engine reports was missed across the disconnect.
func (b *Brontide) Reestablish(ctx context.Context, id lnwire.ChannelID) error {
	engine := b.channel(id)
	state := b.channelState(id)
	if engine == nil || state == nil {
		return fmt.Errorf("%w: reestablish for unknown channel %v", errs.ErrProtocolViolation, id)
	}

	syncMsg, err := engine.ChanSyncMsg()
	if err != nil {
		return fmt.Errorf("peer: building channel_reestablish for %v: %w", id, err)
	}

	waitCh := b.pending.await(exchangeChannelReestablish, id)
	b.queueMsg(syncMsg, nil)

	reply, err := awaitReply(ctx.Done(), b.quit, waitCh)
	if err != nil {
		b.pending.done(exchangeChannelReestablish, id)
		return err
	}
	remoteSync, ok := reply.(*lnwire.ChannelReestablish)
	if !ok {
		return fmt.Errorf("%w: expected channel_reestablish for %v, got %T", errs.ErrProtocolViolation, id, reply)
	}

	if err := validateReestablish(state, remoteSync); err != nil {
		return err
	}

	retransmit, err := engine.ProcessChanSyncMsg(remoteSync)
	if err != nil {
		return fmt.Errorf("peer: processing remote channel_reestablish for %v: %w", id, err)
	}
	for _, msg := range retransmit {
		b.queueMsg(msg, nil)
	}

	if state.FundingLocked && state.ShortChannelID != 0 {
		log.Infof("peer %v: channel %v reestablished and open", b, id)
	}
	return nil
}

// validateReestablish checks an incoming channel_reestablish against this
// side's own channel.State, per §4.6/§8: the remote's
// next_local_commitment_number must equal our remote ctn plus one, its
// next_remote_revocation_number must equal our local ctn, and — when
// present — its my_current_per_commitment_point must match our recorded
// view of the remote's current per-commitment point, falling back to the
// next one if the current one no longer applies (the remote may have
// already rotated past it).
func validateReestablish(state *channel.State, remote *lnwire.ChannelReestablish) error {
	wantNextLocal := uint64(state.RemoteCtn + 1)
	if remote.NextLocalCommitmentNumber != wantNextLocal {
		return fmt.Errorf("%w: channel_reestablish for %v: next_local_commitment_number %d, want %d",
			errs.ErrProtocolViolation, state.ChannelID, remote.NextLocalCommitmentNumber, wantNextLocal)
	}

	wantNextRemoteRevocation := uint64(state.LocalCtn)
	if remote.NextRemoteRevocationNumber != wantNextRemoteRevocation {
		return fmt.Errorf("%w: channel_reestablish for %v: next_remote_revocation_number %d, want %d",
			errs.ErrProtocolViolation, state.ChannelID, remote.NextRemoteRevocationNumber, wantNextRemoteRevocation)
	}

	if remote.MyCurrentPerCommitmentPoint != nil {
		current := state.RemoteCurrentPerCommitPoint
		next := state.RemoteNextPerCommitPoint
		matchesCurrent := current != nil && remote.MyCurrentPerCommitmentPoint.IsEqual(current)
		matchesNext := next != nil && remote.MyCurrentPerCommitmentPoint.IsEqual(next)
		if !matchesCurrent && !matchesNext {
			return fmt.Errorf("%w: channel_reestablish for %v: my_current_per_commitment_point matches neither our recorded current nor next point",
				errs.ErrProtocolViolation, state.ChannelID)
		}
	}

	return nil
}
