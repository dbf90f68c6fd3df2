package peer

import (
	"container/list"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/davecgh/go-spew/spew"
	"github.com/go-errors/errors"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/lnpeer/corepeer/channel"
	"github.com/lnpeer/corepeer/errs"
	"github.com/lnpeer/corepeer/lnwire"
	"github.com/lnpeer/corepeer/onion"
)

// pingInterval is the keep-alive cadence: a ping is sent once this long has
// elapsed since this side last sent anything at all.
const pingInterval = 120 * time.Second

// pingPongBytes is the num_pong_bytes this node requests in every ping it
// sends, and therefore the byteslen of the pong it expects in reply.
const pingPongBytes = 4

// outgoingQueueLen bounds how many messages a caller can hand to queueMsg
// before it starts blocking.
const outgoingQueueLen = 50

// outgoingMsg pairs a message with an optional channel the caller can use
// to learn when it has actually gone out on the wire.
type outgoingMsg struct {
	msg      lnwire.Message
	sentChan chan struct{}
}

// newChannelReq is how the open-channel flow hands a freshly negotiated
// channel back to Brontide once it moves from pending to active.
type newChannelReq struct {
	id     lnwire.ChannelID
	engine CommitmentEngine
}

// Brontide drives one Noise_XK connection to a remote Lightning node: it
// owns the read/write/ping goroutines, the per-channel commitment engines,
// and the lifecycle flows (open, reestablish, funding-lock, announce, pay,
// receive) built on top of them. Its dispatch table and pending-exchange
// waiters replace what would otherwise be a single-threaded cooperative
// event loop with goroutines and channels, one reader and one writer per
// connection plus a pending-exchange rendezvous for each in-flight
// request/reply pair.
type Brontide struct {
	bytesReceived uint64
	bytesSent     uint64

	pingTime     int64
	pingLastSend int64

	// lastSend is the unix-nano timestamp of the last message this side
	// wrote to the wire, of any kind; pingHandler only emits a ping once
	// pingInterval has elapsed since this without an intervening send.
	lastSend int64

	started    int32
	disconnect int32

	conn noiseConn

	localStatic  *btcec.PrivateKey
	remoteStatic *btcec.PublicKey
	inbound      bool

	wallet        Wallet
	keyRing       channel.KeyRing
	chanFactory   ChannelFactory
	pathFinder    PathFinder
	chanDB        ChannelDB
	chainNotifier ChainNotifier
	invoices      InvoiceRegistry
	notify        EventCallback

	pending *pendingExchanges

	activeChanMtx  sync.RWMutex
	activeChannels map[lnwire.ChannelID]CommitmentEngine
	channelStates  map[lnwire.ChannelID]*channel.State

	htlcWaitMtx sync.Mutex
	htlcWaiters map[lnwire.ChannelID]map[uint64]chan htlcResult

	routeMtx      sync.Mutex
	routeAttempts map[lnwire.ChannelID]map[uint64]routeAttempt

	// incomingAdds carries update_add_htlc messages the remote peer sent
	// us that don't resolve a wait of our own; receive.go's forwarding
	// loop consumes this channel.
	incomingAdds chan *lnwire.UpdateAddHTLC

	newChannels chan *newChannelReq

	sendQueue     chan outgoingMsg
	outgoingQueue chan outgoingMsg

	pingTicker ticker.Ticker

	queueQuit chan struct{}
	quit      chan struct{}
	wg        sync.WaitGroup
}

// Config bundles Brontide's external collaborators, following a
// config-struct constructor idiom instead of a long positional parameter
// list.
type Config struct {
	// LocalStatic is this node's own static key, needed later to derive
	// per-channel basepoints and to sign the node_announcement half of
	// the announcement exchange.
	LocalStatic *btcec.PrivateKey

	// Inbound records which side originated the TCP connection, which
	// decides how pending channel IDs are numbered.
	Inbound bool

	Wallet        Wallet
	KeyRing       channel.KeyRing
	ChanFactory   ChannelFactory
	PathFinder    PathFinder
	ChanDB        ChannelDB
	ChainNotifier ChainNotifier
	Invoices      InvoiceRegistry

	// Notify reports lifecycle and payment events to the caller. A nil
	// value is replaced with a no-op.
	Notify EventCallback
}

// Option customizes a Brontide after construction, the functional-options
// idiom applied to the one piece of Brontide a test commonly needs to
// override: the ping ticker, so tests can force ticks
// instead of waiting on a real 120-second timer.
type Option func(*Brontide)

// WithPingTicker overrides the default ping ticker, for tests that need to
// force a tick deterministically.
func WithPingTicker(t ticker.Ticker) Option {
	return func(b *Brontide) { b.pingTicker = t }
}

// noiseConn is the subset of *noise.Conn Brontide depends on, so tests can
// substitute a fake transport without a real Noise_XK handshake.
type noiseConn interface {
	WriteMessage(msg []byte) error
	ReadMessage() ([]byte, error)
	RemotePub() *btcec.PublicKey
	Close() error
	String() string
}

// NewBrontide wraps an already-handshaken transport with cfg's
// collaborators, applying any opts before the connection is started.
func NewBrontide(conn noiseConn, cfg Config, opts ...Option) *Brontide {
	notify := cfg.Notify
	if notify == nil {
		notify = func(string, interface{}) {}
	}

	b := &Brontide{
		conn:           conn,
		localStatic:    cfg.LocalStatic,
		remoteStatic:   conn.RemotePub(),
		inbound:        cfg.Inbound,
		wallet:         cfg.Wallet,
		keyRing:        cfg.KeyRing,
		chanFactory:    cfg.ChanFactory,
		pathFinder:     cfg.PathFinder,
		chanDB:         cfg.ChanDB,
		chainNotifier:  cfg.ChainNotifier,
		invoices:       cfg.Invoices,
		notify:         notify,
		pending:        newPendingExchanges(),
		activeChannels: make(map[lnwire.ChannelID]CommitmentEngine),
		channelStates:  make(map[lnwire.ChannelID]*channel.State),
		htlcWaiters:    make(map[lnwire.ChannelID]map[uint64]chan htlcResult),
		routeAttempts:  make(map[lnwire.ChannelID]map[uint64]routeAttempt),
		incomingAdds:   make(chan *lnwire.UpdateAddHTLC, outgoingQueueLen),
		newChannels:    make(chan *newChannelReq, 1),
		sendQueue:      make(chan outgoingMsg, 1),
		outgoingQueue:  make(chan outgoingMsg, outgoingQueueLen),
		pingTicker:     ticker.New(pingInterval),
		queueQuit:      make(chan struct{}),
		quit:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start performs the init handshake and then launches the engine's steady
// state goroutines: the queue and write handlers come up first, init is
// written directly on the connection and the remote's init read back
// synchronously, and only then do the read loop, ping handler and receive
// handler start.
func (b *Brontide) Start() error {
	if !atomic.CompareAndSwapInt32(&b.started, 0, 1) {
		return nil
	}

	log.Tracef("peer %v starting", b)

	b.wg.Add(2)
	go b.queueHandler()
	go b.writeHandler()

	if err := b.sendInitMsg(); err != nil {
		return err
	}

	msg, err := b.readNextMessage()
	if err != nil {
		return err
	}
	initMsg, ok := msg.(*lnwire.Init)
	if !ok {
		return errors.New("first message between peers must be init")
	}
	if err := b.handleInitMsg(initMsg); err != nil {
		return err
	}

	b.wg.Add(3)
	go b.readHandler()
	go b.pingHandler()
	go b.receiveHandler()

	return nil
}

// Stop signals every worker goroutine to exit and blocks until they have.
func (b *Brontide) Stop() error {
	if atomic.CompareAndSwapInt32(&b.disconnect, 0, 1) {
		b.conn.Close()
		close(b.quit)
	}
	b.wg.Wait()
	return nil
}

// Disconnect tears down the connection without waiting for the worker
// goroutines to notice on their own; Stop still must be called to reap them.
func (b *Brontide) Disconnect(reason error) {
	if !atomic.CompareAndSwapInt32(&b.disconnect, 0, 1) {
		return
	}
	log.Infof("disconnecting %v: %v", b, reason)
	b.conn.Close()
	close(b.quit)
}

func (b *Brontide) String() string {
	return b.conn.String()
}

// readNextMessage reads one ciphertext frame off the wire and decodes it.
func (b *Brontide) readNextMessage() (lnwire.Message, error) {
	rawMsg, err := b.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("peer: reading message: %w", err)
	}
	atomic.AddUint64(&b.bytesReceived, uint64(len(rawMsg)))

	msg, err := lnwire.DecodeMessage(rawMsg)
	if err != nil {
		return nil, err
	}
	b.logWireMessage(msg, true)
	return msg, nil
}

// readHandler is the connection's single reader: it decodes each incoming
// message, resolves it against any lifecycle flow blocked waiting for that
// exact reply, and otherwise routes it to the handlers below. BOLT 1
// requires unrecognized odd-numbered message types to be ignored rather
// than treated as fatal, so an *lnwire.UnknownMessageError for an odd type
// simply loops; anything else is a fatal transport error.
func (b *Brontide) readHandler() {
	defer b.wg.Done()

	for atomic.LoadInt32(&b.disconnect) == 0 {
		msg, err := b.readNextMessage()
		if err != nil {
			var unknown *lnwire.UnknownMessageError
			if errorsAs(err, &unknown) && unknown.TypeCode%2 == 1 {
				continue
			}
			b.Disconnect(err)
			return
		}

		if b.dispatch(msg) {
			continue
		}
	}
}

// dispatch routes one decoded message. It returns true once the message has
// been handled, whether that meant resolving a pending exchange, forwarding
// an HTLC-carrying message to the flow waiting on it, or handing it to a
// standalone handler.
func (b *Brontide) dispatch(msg lnwire.Message) bool {
	switch m := msg.(type) {
	case *lnwire.Ping:
		b.queueMsg(&lnwire.Pong{Ignored: make([]byte, m.NumPongBytes)}, nil)
		return true

	case *lnwire.Pong:
		sendTime := atomic.LoadInt64(&b.pingLastSend)
		atomic.StoreInt64(&b.pingTime, (time.Now().UnixNano()-sendTime)/1000)
		return true

	case *lnwire.Error:
		log.Errorf("peer %v sent error for channel %v: %x", b, m.ChannelID, m.Data)
		return true

	case *lnwire.AcceptChannel:
		return b.pending.deliver(exchangeAcceptChannel, m.TemporaryChannelID, m)
	case *lnwire.FundingSigned:
		return b.pending.deliver(exchangeFundingSigned, m.ChannelID, m)
	case *lnwire.FundingLocked:
		return b.pending.deliver(exchangeFundingLocked, m.ChannelID, m)
	case *lnwire.RevokeAndAck:
		return b.pending.deliver(exchangeRevokeAndAck, m.ChannelID, m)
	case *lnwire.CommitmentSigned:
		return b.pending.deliver(exchangeCommitmentSigned, m.ChannelID, m)
	case *lnwire.ChannelReestablish:
		return b.pending.deliver(exchangeChannelReestablish, m.ChannelID, m)
	case *lnwire.AnnouncementSignatures:
		return b.pending.deliver(exchangeAnnouncementSignatures, m.ChannelID, m)

	case *lnwire.UpdateFulfillHTLC:
		return b.deliverHTLCResult(m.ChannelID, m.ID, htlcResult{msg: m})
	case *lnwire.UpdateFailHTLC:
		return b.dispatchUpdateFailHTLC(m)
	case *lnwire.UpdateFailMalformedHTLC:
		return b.deliverHTLCResult(m.ChannelID, m.ID, htlcResult{msg: m})

	case *lnwire.UpdateAddHTLC:
		b.dispatchUpdateAddHTLC(m)
		return true

	case *lnwire.UpdateFee:
		engine := b.channel(m.ChannelID)
		if engine == nil {
			log.Errorf("update_fee for unknown channel %v", m.ChannelID)
			return true
		}
		if err := engine.UpdateFee(m.FeePerKw); err != nil {
			log.Errorf("peer %v: applying update_fee for %v: %v", b, m.ChannelID, err)
			return true
		}
		log.Debugf("peer %v updated fee for %v to %d sat/kw", b, m.ChannelID, m.FeePerKw)
		return true

	case *lnwire.NodeAnnouncement, *lnwire.ChannelAnnouncement, *lnwire.ChannelUpdate:
		return b.handleAnnouncement(msg)
	}

	log.Warnf("peer %v: no handler for message %T", b, msg)
	return true
}

// errorsAs is a tiny indirection so readHandler's unknown-message check
// reads the same whether the stdlib errors package or go-errors/errors
// produced the wrapped error.
func errorsAs(err error, target interface{}) bool {
	type asTarget = *lnwire.UnknownMessageError
	t, ok := target.(*asTarget)
	if !ok {
		return false
	}
	for err != nil {
		if u, ok := err.(*lnwire.UnknownMessageError); ok {
			*t = u
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

// channel returns the active channel's commitment engine, or nil if id
// names no channel this peer currently has open.
func (b *Brontide) channel(id lnwire.ChannelID) CommitmentEngine {
	b.activeChanMtx.RLock()
	defer b.activeChanMtx.RUnlock()
	return b.activeChannels[id]
}

// registerChannel adds a newly opened channel's engine and state to the
// active set, called by the open and reestablish flows once a channel
// stops being pending.
func (b *Brontide) registerChannel(id lnwire.ChannelID, engine CommitmentEngine, state *channel.State) {
	b.activeChanMtx.Lock()
	b.activeChannels[id] = engine
	b.channelStates[id] = state
	b.activeChanMtx.Unlock()
}

// channelState returns the persisted record for id, or nil if this peer
// has no such channel.
func (b *Brontide) channelState(id lnwire.ChannelID) *channel.State {
	b.activeChanMtx.RLock()
	defer b.activeChanMtx.RUnlock()
	return b.channelStates[id]
}

// persistChannel flushes id's current state to the ChannelDB collaborator,
// the one mutation sink every lifecycle flow step is supposed to go
// through per §3's ownership note.
func (b *Brontide) persistChannel(id lnwire.ChannelID) error {
	state := b.channelState(id)
	if state == nil {
		return fmt.Errorf("peer: persisting unknown channel %v", id)
	}
	return b.chanDB.PutChannel(state)
}

// routeAttempt records the path and session key an outgoing HTLC traveled,
// kept only long enough to decode a failure response for it.
type routeAttempt struct {
	hops       []RouteHop
	sessionKey *btcec.PrivateKey
}

// recordRouteAttempt remembers which route an outgoing HTLC traveled, so a
// later update_fail_htlc for the same (channel, htlc id) can be decoded
// and its failing hop blacklisted.
func (b *Brontide) recordRouteAttempt(id lnwire.ChannelID, htlcID uint64, hops []RouteHop, sessionKey *btcec.PrivateKey) {
	b.routeMtx.Lock()
	defer b.routeMtx.Unlock()
	byHtlc, ok := b.routeAttempts[id]
	if !ok {
		byHtlc = make(map[uint64]routeAttempt)
		b.routeAttempts[id] = byHtlc
	}
	byHtlc[htlcID] = routeAttempt{hops: hops, sessionKey: sessionKey}
}

// takeRouteAttempt returns and forgets the route recorded for (id, htlcID).
func (b *Brontide) takeRouteAttempt(id lnwire.ChannelID, htlcID uint64) (routeAttempt, bool) {
	b.routeMtx.Lock()
	defer b.routeMtx.Unlock()
	byHtlc, ok := b.routeAttempts[id]
	if !ok {
		return routeAttempt{}, false
	}
	attempt, ok := byHtlc[htlcID]
	if ok {
		delete(byHtlc, htlcID)
	}
	return attempt, ok
}

// logWireMessage dumps every message crossing the wire at trace level,
// used instead of a one-line summary so message contents are visible when
// debugging at that verbosity.
func (b *Brontide) logWireMessage(msg lnwire.Message, read bool) {
	prefix := "readMessage from"
	if !read {
		prefix = "writeMessage to"
	}
	log.Tracef(prefix+" %v: %v", b, spew.Sdump(msg))
}

// writeMessage encodes and writes msg, updating the byte counter the same
// way readNextMessage does for received bytes.
func (b *Brontide) writeMessage(msg lnwire.Message) error {
	if atomic.LoadInt32(&b.disconnect) != 0 {
		return nil
	}
	b.logWireMessage(msg, false)

	raw, err := lnwire.EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("peer: encoding message: %w", err)
	}
	if err := b.conn.WriteMessage(raw); err != nil {
		return err
	}
	atomic.AddUint64(&b.bytesSent, uint64(len(raw)))
	return nil
}

// writeHandler drains sendQueue, the channel queueHandler feeds from its
// internal pending list, and writes each message out in turn.
func (b *Brontide) writeHandler() {
	defer b.wg.Done()

	for {
		select {
		case out := <-b.sendQueue:
			now := time.Now().UnixNano()
			atomic.StoreInt64(&b.lastSend, now)
			if _, ok := out.msg.(*lnwire.Ping); ok {
				atomic.StoreInt64(&b.pingLastSend, now)
			}
			err := b.writeMessage(out.msg)
			if out.sentChan != nil {
				close(out.sentChan)
			}
			if err != nil {
				log.Errorf("peer %v: write failed: %v", b, err)
				b.Disconnect(err)
				return
			}
		case <-b.quit:
			return
		}
	}
}

// queueHandler accepts messages from any goroutine via outgoingQueue and
// aggressively drains them into sendQueue, buffering whatever writeHandler
// hasn't caught up with yet in a plain list rather than a fixed-size
// channel.
func (b *Brontide) queueHandler() {
	defer b.wg.Done()

	pendingMsgs := list.New()
	for {
		for {
			elem := pendingMsgs.Front()
			if elem == nil {
				break
			}
			select {
			case b.sendQueue <- elem.Value.(outgoingMsg):
				pendingMsgs.Remove(elem)
			case <-b.quit:
				return
			default:
				goto wait
			}
		}
	wait:
		select {
		case <-b.quit:
			return
		case msg := <-b.outgoingQueue:
			pendingMsgs.PushBack(msg)
		}
	}
}

// queueMsg hands msg off to the queueHandler for eventual writing. A nil
// sentChan means the caller doesn't need write confirmation.
func (b *Brontide) queueMsg(msg lnwire.Message, sentChan chan struct{}) {
	select {
	case b.outgoingQueue <- outgoingMsg{msg, sentChan}:
	case <-b.quit:
	}
}

// pingHandler queues a ping, requesting a pingPongBytes-length pong in
// reply, whenever pingInterval has elapsed since this side last sent
// anything — not unconditionally every tick — so a channel busy with other
// traffic doesn't also accumulate needless pings. It is driven by an
// lnd/ticker.Ticker so tests can force ticks instead of waiting on a real
// timer.
func (b *Brontide) pingHandler() {
	defer b.wg.Done()

	b.pingTicker.Resume()
	defer b.pingTicker.Stop()

	for {
		select {
		case <-b.pingTicker.Ticks():
			last := atomic.LoadInt64(&b.lastSend)
			if last != 0 && time.Since(time.Unix(0, last)) < pingInterval {
				continue
			}
			b.queueMsg(&lnwire.Ping{NumPongBytes: pingPongBytes}, nil)
		case <-b.quit:
			return
		}
	}
}

// PingTime returns the most recent round-trip estimate in microseconds.
func (b *Brontide) PingTime() int64 {
	return atomic.LoadInt64(&b.pingTime)
}

// sendInitMsg sends this node's feature vectors as the very first message
// on a freshly handshaken connection, per BOLT 1.
func (b *Brontide) sendInitMsg() error {
	return b.writeMessage(&lnwire.Init{})
}

// handleInitMsg validates the remote's init message. Feature negotiation
// beyond "did they send one at all" is left to the collaborators that care
// about specific feature bits.
func (b *Brontide) handleInitMsg(msg *lnwire.Init) error {
	log.Debugf("peer %v sent init: global=%x local=%x", b, msg.GlobalFeatures, msg.LocalFeatures)
	return nil
}

// handleAnnouncement persists a gossip message received from the remote via
// the ChannelDB collaborator, without verifying its signatures. The
// channel_announcement this node originates does not pass through here:
// announce.go signs and verifies it and stores it directly.
func (b *Brontide) handleAnnouncement(msg lnwire.Message) bool {
	var err error
	switch m := msg.(type) {
	case *lnwire.ChannelAnnouncement:
		err = b.chanDB.PutChannelAnnouncement(m)
	case *lnwire.NodeAnnouncement:
		err = b.chanDB.PutNodeAnnouncement(m)
	case *lnwire.ChannelUpdate:
		err = b.chanDB.PutChannelUpdate(m)
	}
	if err != nil {
		log.Errorf("peer %v: storing announcement: %v", b, err)
	}
	return true
}

// htlcResult is what a pay flow's wait on the outcome of an HTLC it
// offered resolves to: either the raw settle/fail message, or — for
// update_fail_htlc — the decoded failure the dispatch loop already
// unwrapped using the recorded route.
type htlcResult struct {
	msg         lnwire.Message
	failureText string
}

// awaitHTLCResult registers a waiter for the settle/fail reply to the HTLC
// we offered at index on channel id, mirroring pendingExchanges but keyed
// by HTLC index rather than channel id alone since many HTLCs can be
// in flight on one channel at once.
func (b *Brontide) awaitHTLCResult(id lnwire.ChannelID, index uint64) chan htlcResult {
	b.htlcWaitMtx.Lock()
	defer b.htlcWaitMtx.Unlock()
	byIndex, ok := b.htlcWaiters[id]
	if !ok {
		byIndex = make(map[uint64]chan htlcResult)
		b.htlcWaiters[id] = byIndex
	}
	ch := make(chan htlcResult, 1)
	byIndex[index] = ch
	return ch
}

func (b *Brontide) cancelHTLCWait(id lnwire.ChannelID, index uint64) {
	b.htlcWaitMtx.Lock()
	defer b.htlcWaitMtx.Unlock()
	delete(b.htlcWaiters[id], index)
}

func (b *Brontide) deliverHTLCResult(id lnwire.ChannelID, index uint64, result htlcResult) bool {
	b.htlcWaitMtx.Lock()
	ch, ok := b.htlcWaiters[id][index]
	if ok {
		delete(b.htlcWaiters[id], index)
	}
	b.htlcWaitMtx.Unlock()
	if !ok {
		log.Warnf("peer %v: htlc result for %v/%d has no waiter", b, id, index)
		return true
	}
	ch <- result
	close(ch)
	return true
}

// dispatchUpdateFailHTLC handles an incoming update_fail_htlc: decode the
// onion failure along the route recorded for this HTLC, derive its
// category bits, blacklist the short channel id of the hop after the one
// that reported the failure, and hand the pay flow a human-readable summary. The blacklist call is guarded behind a
// successful route lookup and a successful decode instead of running
// unconditionally, since a route we have no record of, or a failure
// message we can't decode, gives no reliable hop to blame.
func (b *Brontide) dispatchUpdateFailHTLC(m *lnwire.UpdateFailHTLC) bool {
	attempt, ok := b.takeRouteAttempt(m.ChannelID, m.ID)
	if !ok {
		log.Warnf("peer %v: update_fail_htlc for %v/%d has no recorded route", b, m.ChannelID, m.ID)
		return b.deliverHTLCResult(m.ChannelID, m.ID, htlcResult{msg: m})
	}

	path := make([]*btcec.PublicKey, len(attempt.hops))
	for i, hop := range attempt.hops {
		path[i] = hop.NodeID
	}
	secrets, err := onion.GenerateSharedSecrets(attempt.sessionKey, path)
	if err != nil {
		log.Errorf("peer %v: deriving shared secrets for %v/%d: %v", b, m.ChannelID, m.ID, err)
		return b.deliverHTLCResult(m.ChannelID, m.ID, htlcResult{msg: m})
	}

	hopIdx, _, text, err := onion.DecodeFailure(secrets, m.Reason)
	if err != nil {
		log.Errorf("peer %v: decoding onion failure for %v/%d: %v", b, m.ChannelID, m.ID, err)
		return b.deliverHTLCResult(m.ChannelID, m.ID, htlcResult{msg: m})
	}

	if hopIdx+1 < len(attempt.hops) {
		b.pathFinder.BlacklistEdge(attempt.hops[hopIdx+1].ChannelID)
	}

	return b.deliverHTLCResult(m.ChannelID, m.ID, htlcResult{msg: m, failureText: text})
}

// dispatchUpdateAddHTLC handles an incoming update_add_htlc: an HTLC this
// peer offers us must match one of our own outstanding invoices by payment
// hash, or it is a protocol error. Matching HTLCs are handed to the receive
// flow; receive.go is the goroutine that actually reads incomingAdds and
// drives the commitment/revoke exchange.
func (b *Brontide) dispatchUpdateAddHTLC(m *lnwire.UpdateAddHTLC) {
	if _, _, ok := b.invoices.LookupInvoice(m.PaymentHash); !ok {
		log.Errorf("peer %v: update_add_htlc for unknown payment hash %x", b, m.PaymentHash)
		b.Disconnect(fmt.Errorf("%w: update_add_htlc for unknown invoice", errs.ErrProtocolViolation))
		return
	}
	select {
	case b.incomingAdds <- m:
	case <-b.quit:
	}
}
