package peer

import (
	"context"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
	"github.com/lnpeer/corepeer/channel"
	"github.com/lnpeer/corepeer/lnwire"
)

// fakeConn is a noiseConn double driven entirely by Go channels, letting a
// test script exactly what bytes arrive on the wire and inspect exactly what
// gets written, without a real Noise_XK handshake or net.Conn.
type fakeConn struct {
	remote *btcec.PublicKey
	toRead chan []byte
	sent   chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn(remote *btcec.PublicKey) *fakeConn {
	return &fakeConn{
		remote: remote,
		toRead: make(chan []byte, 64),
		sent:   make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) WriteMessage(msg []byte) error {
	select {
	case c.sent <- append([]byte(nil), msg...):
	case <-c.closed:
	}
	return nil
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case b := <-c.toRead:
		return b, nil
	case <-c.closed:
		return nil, errTestConnClosed
	}
}

func (c *fakeConn) RemotePub() *btcec.PublicKey { return c.remote }
func (c *fakeConn) String() string              { return "fakeconn" }
func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// pushIncoming encodes msg and hands it to the Brontide under test as
// though it had just arrived over the wire.
func (c *fakeConn) pushIncoming(t testingT, msg lnwire.Message) {
	raw, err := lnwire.EncodeMessage(msg)
	if err != nil {
		t.Fatalf("encoding %T: %v", msg, err)
	}
	select {
	case c.toRead <- raw:
	case <-c.closed:
		t.Fatalf("pushIncoming on closed conn")
	}
}

// popSent blocks until the Brontide under test writes a message, decodes it,
// and returns it.
func (c *fakeConn) popSent(t testingT) lnwire.Message {
	select {
	case raw := <-c.sent:
		msg, err := lnwire.DecodeMessage(raw)
		if err != nil {
			t.Fatalf("decoding sent message: %v", err)
		}
		return msg
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for a sent message")
		return nil
	}
}

// testingT is the subset of *testing.T these helpers need, so they can live
// outside the file that imports "testing" directly without pulling it in
// here too.
type testingT interface {
	Fatalf(format string, args ...interface{})
}

var errTestConnClosed = &testConnClosedError{}

type testConnClosedError struct{}

func (*testConnClosedError) Error() string { return "fakeconn: closed" }

// waitFor polls cond every millisecond until it returns true or timeout
// elapses, failing the test otherwise. It exists because several flows in
// this package hand off work across goroutines (receiveHandler spawning a
// per-HTLC goroutine, Pay's caller versus the read loop) with no exported
// hook to synchronize on directly; polling the fake collaborators' recorded
// state is the least invasive way to wait for "the flow has reached this
// point" without races against the next scripted wire message.
func waitFor(t testingT, timeout time.Duration, cond func() bool) {
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition never became true within %v", timeout)
			return
		}
		time.Sleep(time.Millisecond)
	}
}

// fakeKeyRing gives each KeyFamily a random keypair sampled on first use and
// reused after that, so SignWithBasepoint and DeriveBasepoint agree with
// each other across a test.
type fakeKeyRing struct {
	mu   sync.Mutex
	keys map[channel.KeyFamily]*btcec.PrivateKey
	seed [32]byte
}

func newFakeKeyRing() *fakeKeyRing {
	r := &fakeKeyRing{keys: make(map[channel.KeyFamily]*btcec.PrivateKey)}
	for i := byte(0); i < 32; i++ {
		r.seed[i] = i + 1
	}
	return r
}

func (r *fakeKeyRing) privFor(family channel.KeyFamily) *btcec.PrivateKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	if priv, ok := r.keys[family]; ok {
		return priv
	}
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		panic(err)
	}
	r.keys[family] = priv
	return priv
}

func (r *fakeKeyRing) DeriveBasepoint(family channel.KeyFamily) (*btcec.PublicKey, error) {
	return r.privFor(family).PubKey(), nil
}

func (r *fakeKeyRing) PerCommitmentSeed() ([32]byte, error) {
	return r.seed, nil
}

func (r *fakeKeyRing) SignWithBasepoint(family channel.KeyFamily, digest []byte) (lnwire.Sig, error) {
	return channel.SignDigest(r.privFor(family), digest)
}

// fakeCommitmentEngine is a CommitmentEngine double that tracks just enough
// state for the lifecycle flow tests: htlc ids, which calls have landed, and
// fixed-shape signature returns: a zero-filled commitment signature plus one
// zero-filled HTLC signature per locally added HTLC not yet settled or
// failed (their actual validity doesn't matter to these tests, only that
// the peer engine plumbs them through unchanged).
type fakeCommitmentEngine struct {
	mu sync.Mutex

	chanPoint   wire.OutPoint
	shortChanID lnwire.ShortChannelID

	nextLocalID  uint64
	nextRemoteID uint64

	settledLocal  map[uint64][32]byte
	settledRemote map[uint64][32]byte
	failed        map[uint64]bool

	signCount int
}

func newFakeCommitmentEngine() *fakeCommitmentEngine {
	return &fakeCommitmentEngine{
		settledLocal:  make(map[uint64][32]byte),
		settledRemote: make(map[uint64][32]byte),
		failed:        make(map[uint64]bool),
	}
}

func (e *fakeCommitmentEngine) ChanSyncMsg() (*lnwire.ChannelReestablish, error) {
	return &lnwire.ChannelReestablish{}, nil
}

func (e *fakeCommitmentEngine) ProcessChanSyncMsg(*lnwire.ChannelReestablish) ([]lnwire.Message, error) {
	return nil, nil
}

func (e *fakeCommitmentEngine) AddHTLC(htlc *lnwire.UpdateAddHTLC) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextLocalID
	e.nextLocalID++
	return id, nil
}

func (e *fakeCommitmentEngine) ReceiveHTLC(htlc *lnwire.UpdateAddHTLC) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextRemoteID
	e.nextRemoteID++
	return id, nil
}

func (e *fakeCommitmentEngine) SettleHTLC(preimage [32]byte, index uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settledLocal[index] = preimage
	return nil
}

func (e *fakeCommitmentEngine) ReceiveHTLCSettle(preimage [32]byte, index uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settledRemote[index] = preimage
	return nil
}

func (e *fakeCommitmentEngine) FailHTLC(index uint64, reason []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failed[index] = true
	return nil
}

func (e *fakeCommitmentEngine) ReceiveFailHTLC(index uint64, reason []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failed[index] = true
	return nil
}

func (e *fakeCommitmentEngine) SignNextCommitment() ([]byte, [][]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.signCount++
	live := int(e.nextLocalID) - len(e.settledRemote) - len(e.failed)
	htlcSigs := make([][]byte, 0)
	for i := 0; i < live; i++ {
		htlcSigs = append(htlcSigs, make([]byte, 64))
	}
	return make([]byte, 64), htlcSigs, nil
}

func (e *fakeCommitmentEngine) ReceiveNewCommitment(commitSig []byte, htlcSigs [][]byte) error {
	return nil
}

func (e *fakeCommitmentEngine) RevokeCurrentCommitment() (*lnwire.RevokeAndAck, error) {
	point, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	return &lnwire.RevokeAndAck{NextPerCommitmentPoint: point.PubKey()}, nil
}

func (e *fakeCommitmentEngine) ReceiveRevocation(*lnwire.RevokeAndAck) error { return nil }

func (e *fakeCommitmentEngine) ChannelPoint() wire.OutPoint { return e.chanPoint }

func (e *fakeCommitmentEngine) ShortChanID() lnwire.ShortChannelID { return e.shortChanID }

func (e *fakeCommitmentEngine) NextRemoteHTLCID() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nextRemoteID
}

func (e *fakeCommitmentEngine) UpdateFee(feeratePerKw uint32) error { return nil }

func (e *fakeCommitmentEngine) settledLocalCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.settledLocal)
}

func (e *fakeCommitmentEngine) receivedHTLCCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return int(e.nextRemoteID)
}

func (e *fakeCommitmentEngine) settledRemoteCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.settledRemote)
}

// fakeChannelDB records every write it sees; tests assert against its
// fields directly rather than through a query API.
type fakeChannelDB struct {
	mu             sync.Mutex
	channels       map[lnwire.ChannelID]*channel.State
	announcements  []*lnwire.ChannelAnnouncement
	nodeAnns       []*lnwire.NodeAnnouncement
	channelUpdates []*lnwire.ChannelUpdate
}

func newFakeChannelDB() *fakeChannelDB {
	return &fakeChannelDB{channels: make(map[lnwire.ChannelID]*channel.State)}
}

func (d *fakeChannelDB) PutChannel(s *channel.State) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels[s.ChannelID] = s
	return nil
}

func (d *fakeChannelDB) GetChannel(id lnwire.ChannelID) (*channel.State, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.channels[id], nil
}

func (d *fakeChannelDB) PutChannelAnnouncement(m *lnwire.ChannelAnnouncement) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.announcements = append(d.announcements, m)
	return nil
}

func (d *fakeChannelDB) PutNodeAnnouncement(m *lnwire.NodeAnnouncement) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nodeAnns = append(d.nodeAnns, m)
	return nil
}

func (d *fakeChannelDB) PutChannelUpdate(m *lnwire.ChannelUpdate) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channelUpdates = append(d.channelUpdates, m)
	return nil
}

func (d *fakeChannelDB) announcementCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.announcements)
}

// fakeChainNotifier hands back a channel the test controls directly, and a
// fixed local height.
type fakeChainNotifier struct {
	mu     sync.Mutex
	confCh map[wire.OutPoint]chan int32
	height int32
}

func newFakeChainNotifier(height int32) *fakeChainNotifier {
	return &fakeChainNotifier{confCh: make(map[wire.OutPoint]chan int32), height: height}
}

func (n *fakeChainNotifier) RegisterConfirmationsNtfn(ctx context.Context, txid *wire.OutPoint, numConfs uint32) (<-chan int32, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch := make(chan int32, 1)
	n.confCh[*txid] = ch
	return ch, nil
}

func (n *fakeChainNotifier) LocalHeight(ctx context.Context) (int32, error) {
	return n.height, nil
}

func (n *fakeChainNotifier) confirm(outpoint wire.OutPoint, height int32) {
	n.mu.Lock()
	ch := n.confCh[outpoint]
	n.mu.Unlock()
	ch <- height
}

// fakeInvoiceRegistry holds a fixed set of invoices keyed by payment hash.
type fakeInvoiceRegistry struct {
	mu       sync.Mutex
	invoices map[[32]byte]struct {
		amt      lnwire.MilliSatoshi
		preimage [32]byte
	}
	settled map[[32]byte][32]byte
}

func newFakeInvoiceRegistry() *fakeInvoiceRegistry {
	return &fakeInvoiceRegistry{
		invoices: make(map[[32]byte]struct {
			amt      lnwire.MilliSatoshi
			preimage [32]byte
		}),
		settled: make(map[[32]byte][32]byte),
	}
}

func (r *fakeInvoiceRegistry) addInvoice(hash [32]byte, amt lnwire.MilliSatoshi, preimage [32]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invoices[hash] = struct {
		amt      lnwire.MilliSatoshi
		preimage [32]byte
	}{amt, preimage}
}

func (r *fakeInvoiceRegistry) LookupInvoice(hash [32]byte) (lnwire.MilliSatoshi, [32]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[hash]
	return inv.amt, inv.preimage, ok
}

func (r *fakeInvoiceRegistry) SettleInvoice(hash [32]byte, preimage [32]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settled[hash] = preimage
	return nil
}

// fakePathFinder just records blacklist calls; none of these tests drive
// FindRoute since Pay takes its route as an argument.
type fakePathFinder struct {
	mu         sync.Mutex
	blacklisted []lnwire.ShortChannelID
}

func (p *fakePathFinder) FindRoute(ctx context.Context, destination *btcec.PublicKey, amount lnwire.MilliSatoshi) ([]RouteHop, error) {
	return nil, nil
}

func (p *fakePathFinder) BlacklistEdge(short lnwire.ShortChannelID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.blacklisted = append(p.blacklisted, short)
}

// fakeWallet and fakeChannelFactory satisfy Config; open_test.go drives
// OpenChannel through them, and the other tests only need them present.
type fakeWallet struct{}

func (fakeWallet) NewFundingAddress(ctx context.Context) (*btcec.PublicKey, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	return priv.PubKey(), nil
}

func (fakeWallet) FundPSBT(ctx context.Context, localKey, remoteKey *btcec.PublicKey, localAmt, remoteAmt int64) (wire.OutPoint, error) {
	return wire.OutPoint{}, nil
}

func (fakeWallet) SignFundingTx(ctx context.Context, outpoint wire.OutPoint) ([]byte, error) {
	return make([]byte, 64), nil
}

func (fakeWallet) PublishFundingTx(ctx context.Context, outpoint wire.OutPoint) error { return nil }

type fakeChannelFactory struct{}

func (fakeChannelFactory) NewChannel(state *channel.State) (CommitmentEngine, error) {
	return newFakeCommitmentEngine(), nil
}

// newTestBrontide builds a Brontide wired to fake collaborators over a
// fakeConn, and starts the subset of its goroutines each test needs without
// going through Start()'s init handshake, which these tests have no use for.
func newTestBrontide(conn *fakeConn, localStatic *btcec.PrivateKey, keyRing channel.KeyRing, chanDB *fakeChannelDB, notifier *fakeChainNotifier, invoices InvoiceRegistry, pathFinder PathFinder, notify EventCallback) *Brontide {
	b := NewBrontide(conn, Config{
		LocalStatic:   localStatic,
		Wallet:        fakeWallet{},
		KeyRing:       keyRing,
		ChanFactory:   fakeChannelFactory{},
		PathFinder:    pathFinder,
		ChanDB:        chanDB,
		ChainNotifier: notifier,
		Invoices:      invoices,
		Notify:        notify,
	})
	b.wg.Add(3)
	go b.queueHandler()
	go b.writeHandler()
	go b.readHandler()
	b.wg.Add(1)
	go b.receiveHandler()
	return b
}
