package peer

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lnpeer/corepeer/lnwire"
)

// fakeTicker is a ticker.Ticker double driven entirely by the test, so a
// tick can be forced without waiting on a real 120s timer.
type fakeTicker struct {
	ch chan time.Time
}

func newFakeTicker() *fakeTicker               { return &fakeTicker{ch: make(chan time.Time, 1)} }
func (f *fakeTicker) Resume()                  {}
func (f *fakeTicker) Pause()                   {}
func (f *fakeTicker) Stop()                    {}
func (f *fakeTicker) Ticks() <-chan time.Time  { return f.ch }
func (f *fakeTicker) tick()                    { f.ch <- time.Time{} }

// TestPingHandlerSkipsTickWithRecentOutboundTraffic checks that a tick
// arriving less than pingInterval after the last outbound send produces no
// ping: §4.5/scenario 5's keep-alive is measured against total outbound
// silence, not an unconditional per-tick cadence.
func TestPingHandlerSkipsTickWithRecentOutboundTraffic(t *testing.T) {
	b, conn := newPingTestBrontide(t)
	defer close(b.quit)

	b.queueMsg(&lnwire.Ping{NumPongBytes: 0}, nil)
	conn.popSent(t)

	ft := b.pingTicker.(*fakeTicker)
	ft.tick()

	select {
	case <-conn.sent:
		t.Fatal("pingHandler sent a ping despite recent outbound traffic")
	case <-time.After(100 * time.Millisecond):
	}
}

// TestPingHandlerSendsAfterOutboundSilence checks that once pingInterval
// has elapsed since the last outbound send, a tick produces a ping
// requesting a pingPongBytes-length pong, per §4.5/scenario 5.
func TestPingHandlerSendsAfterOutboundSilence(t *testing.T) {
	b, conn := newPingTestBrontide(t)
	defer close(b.quit)

	atomic.StoreInt64(&b.lastSend, time.Now().Add(-pingInterval-time.Second).UnixNano())

	ft := b.pingTicker.(*fakeTicker)
	ft.tick()

	ping := conn.popSent(t).(*lnwire.Ping)
	if ping.NumPongBytes != pingPongBytes {
		t.Fatalf("ping num_pong_bytes = %d, want %d", ping.NumPongBytes, pingPongBytes)
	}
}

// newPingTestBrontide builds a Brontide with only the queue/write/ping
// goroutines running, driven by a fakeTicker instead of a real timer.
func newPingTestBrontide(t *testing.T) (*Brontide, *fakeConn) {
	localStatic, _ := btcec.NewPrivateKey()
	remoteStatic, _ := btcec.NewPrivateKey()
	conn := newFakeConn(remoteStatic.PubKey())

	b := NewBrontide(conn, Config{
		LocalStatic:   localStatic,
		Wallet:        fakeWallet{},
		KeyRing:       newFakeKeyRing(),
		ChanFactory:   fakeChannelFactory{},
		PathFinder:    &fakePathFinder{},
		ChanDB:        newFakeChannelDB(),
		ChainNotifier: newFakeChainNotifier(600),
		Invoices:      newFakeInvoiceRegistry(),
	}, WithPingTicker(newFakeTicker()))

	b.wg.Add(3)
	go b.queueHandler()
	go b.writeHandler()
	go b.pingHandler()

	return b, conn
}
