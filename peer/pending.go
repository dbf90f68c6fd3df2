package peer

import (
	"fmt"
	"sync"

	"github.com/lnpeer/corepeer/errs"
	"github.com/lnpeer/corepeer/lnwire"
)

// exchangeKind names one of the message types a lifecycle flow blocks on
// waiting for a specific reply (accept_channel, funding_signed,
// revoke_and_ack, commitment_signed, announcement_signatures,
// channel_reestablish, and the rest enumerated below).
type exchangeKind string

const (
	exchangeAcceptChannel          exchangeKind = "accept_channel"
	exchangeFundingSigned          exchangeKind = "funding_signed"
	exchangeFundingLocked          exchangeKind = "funding_locked"
	exchangeRevokeAndAck           exchangeKind = "revoke_and_ack"
	exchangeCommitmentSigned       exchangeKind = "commitment_signed"
	exchangeChannelReestablish     exchangeKind = "channel_reestablish"
	exchangeAnnouncementSignatures exchangeKind = "announcement_signatures"
)

// pendingExchanges tracks, per (kind, channel id), a channel that the flow
// awaiting that reply is blocked reading from. readHandler delivers an
// incoming message to the matching waiter instead of routing it through
// the general dispatch table, the same role a per-channel future or
// promise would play in a single-threaded event loop.
type pendingExchanges struct {
	mu      sync.Mutex
	waiters map[exchangeKind]map[lnwire.ChannelID]chan lnwire.Message
}

func newPendingExchanges() *pendingExchanges {
	return &pendingExchanges{
		waiters: make(map[exchangeKind]map[lnwire.ChannelID]chan lnwire.Message),
	}
}

// await registers a waiter for kind/id and returns the channel the flow
// should block on. The flow must call done(kind, id) if it stops waiting without
// a message arriving (context cancellation, disconnect).
func (p *pendingExchanges) await(kind exchangeKind, id lnwire.ChannelID) chan lnwire.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	byID, ok := p.waiters[kind]
	if !ok {
		byID = make(map[lnwire.ChannelID]chan lnwire.Message)
		p.waiters[kind] = byID
	}
	ch := make(chan lnwire.Message, 1)
	byID[id] = ch
	return ch
}

// done removes the waiter for kind/id without delivering anything to it,
// used when a flow gives up waiting (e.g. its context was canceled).
func (p *pendingExchanges) done(kind exchangeKind, id lnwire.ChannelID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.waiters[kind], id)
}

// deliver hands msg to the waiter registered for kind/id, if any, and
// reports whether a waiter was found. readHandler ignores a false result,
// so a reply that arrives while no flow is waiting for it is dropped.
func (p *pendingExchanges) deliver(kind exchangeKind, id lnwire.ChannelID, msg lnwire.Message) bool {
	p.mu.Lock()
	ch, ok := p.waiters[kind][id]
	if ok {
		delete(p.waiters[kind], id)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	ch <- msg
	close(ch)
	return true
}

// awaitReply blocks on ch until a message arrives, the connection reports
// it is done, or ctx is canceled, translating the latter two into
// errs.ErrProtocolViolation/errs.ErrTransportClosed so callers have a
// uniform error to propagate.
func awaitReply(ctxDone <-chan struct{}, quit <-chan struct{}, ch <-chan lnwire.Message) (lnwire.Message, error) {
	select {
	case msg := <-ch:
		return msg, nil
	case <-ctxDone:
		return nil, fmt.Errorf("%w: timed out waiting for reply", errs.ErrProtocolViolation)
	case <-quit:
		return nil, errs.ErrTransportClosed
	}
}
