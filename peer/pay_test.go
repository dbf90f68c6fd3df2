package peer

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lnpeer/corepeer/channel"
	"github.com/lnpeer/corepeer/lnwire"
)

// TestComputeHopPayloadsAccumulatesFeesAndCltvBackward checks the backward
// fee/CLTV accumulation §4.6's Pay flow depends on: each hop's own fee and
// CltvExpiryDelta apply to what it forwards onward, and the final
// htlcAmt/htlcCltv are what the first hop must be offered to deliver
// exactly finalAmt/finalCltv to the destination.
func TestComputeHopPayloadsAccumulatesFeesAndCltvBackward(t *testing.T) {
	hops := []RouteHop{
		{FeeBaseMsat: 1000, FeeProportionalMillionths: 1000, CltvExpiryDelta: 40},
		{FeeBaseMsat: 500, FeeProportionalMillionths: 2000, CltvExpiryDelta: 20},
	}
	finalAmt := lnwire.MilliSatoshi(100_000_000)
	finalCltv := uint32(500)

	htlcAmt, htlcCltv, payloads := computeHopPayloads(hops, finalAmt, finalCltv)

	// Hop 1 (index 1, the last hop before the destination) forwards
	// finalAmt and charges its own fee on top for hop 0 to pay.
	hop1Fee := lnwire.MilliSatoshi(500) + finalAmt*2000/1_000_000
	hop1Amt := finalAmt + hop1Fee
	hop1Cltv := finalCltv + 20

	// Hop 0 forwards hop1Amt onward and charges its own fee on top.
	hop0Fee := lnwire.MilliSatoshi(1000) + hop1Amt*1000/1_000_000
	wantHtlcAmt := hop1Amt + hop0Fee
	wantHtlcCltv := hop1Cltv + 40

	if htlcAmt != wantHtlcAmt {
		t.Fatalf("htlcAmt = %d, want %d", htlcAmt, wantHtlcAmt)
	}
	if htlcCltv != wantHtlcCltv {
		t.Fatalf("htlcCltv = %d, want %d", htlcCltv, wantHtlcCltv)
	}
	if len(payloads) != 2 {
		t.Fatalf("got %d payloads, want 2", len(payloads))
	}
	if payloads[0].AmountToFwd != uint64(hop1Amt) {
		t.Fatalf("payloads[0].AmountToFwd = %d, want %d", payloads[0].AmountToFwd, hop1Amt)
	}
	if payloads[0].OutgoingCltv != hop1Cltv {
		t.Fatalf("payloads[0].OutgoingCltv = %d, want %d", payloads[0].OutgoingCltv, hop1Cltv)
	}
	if payloads[1].AmountToFwd != uint64(finalAmt) {
		t.Fatalf("payloads[1] (final hop) AmountToFwd = %d, want %d", payloads[1].AmountToFwd, finalAmt)
	}
	if hops[0].AmountToFwd != hop1Amt {
		t.Fatalf("hops[0].AmountToFwd = %d, want %d (not filled in with the hop's own forwarded amount)", hops[0].AmountToFwd, hop1Amt)
	}
}

// TestPaySingleHopSucceeds drives Pay over a one-hop route against a
// scripted remote that accepts the HTLC, settles it, and completes the
// matching commitment/revoke exchanges, checking that Pay returns the
// revealed preimage and that the channel engine observed exactly the calls
// the flow promises (one local HTLC added, settled via the remote's
// fulfill).
func TestPaySingleHopSucceeds(t *testing.T) {
	localStatic, _ := btcec.NewPrivateKey()
	remoteStatic, _ := btcec.NewPrivateKey()
	hopNode, _ := btcec.NewPrivateKey()

	conn := newFakeConn(remoteStatic.PubKey())
	keyRing := newFakeKeyRing()
	chanDB := newFakeChannelDB()
	notifier := newFakeChainNotifier(600)

	var notified []string
	notify := func(name string, arg interface{}) { notified = append(notified, name) }

	b := newTestBrontide(conn, localStatic, keyRing, chanDB, notifier, newFakeInvoiceRegistry(), &fakePathFinder{}, notify)
	defer b.Stop()

	id := lnwire.ChannelID{7, 7, 7}
	engine := newFakeCommitmentEngine()
	b.registerChannel(id, engine, &channel.State{ChannelID: id})

	var paymentHash [32]byte
	paymentHash[0] = 0x42
	var preimage [32]byte
	preimage[0] = 0x99

	hops := []RouteHop{
		{NodeID: hopNode.PubKey(), ChannelID: lnwire.ShortChannelID(1), FeeBaseMsat: 0, FeeProportionalMillionths: 0, CltvExpiryDelta: 40},
	}

	resultCh := make(chan PayResult, 1)
	errCh := make(chan error, 1)
	go func() {
		res, err := b.Pay(context.Background(), id, paymentHash, lnwire.MilliSatoshi(50_000_000), 18, hops)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- res
	}()

	add := conn.popSent(t).(*lnwire.UpdateAddHTLC)
	if add.ChannelID != id || add.PaymentHash != paymentHash {
		t.Fatalf("unexpected update_add_htlc: %+v", add)
	}

	commitSigned := conn.popSent(t).(*lnwire.CommitmentSigned)
	if len(commitSigned.HtlcSignatures) != 1 {
		t.Fatalf("commitment_signed adding htlc carries %d htlc signatures, want 1", len(commitSigned.HtlcSignatures))
	}

	revokePoint, _ := btcec.NewPrivateKey()
	conn.pushIncoming(t, &lnwire.RevokeAndAck{ChannelID: id, NextPerCommitmentPoint: revokePoint.PubKey()})

	conn.popSent(t) // local's own revoke_and_ack closing out the add

	conn.pushIncoming(t, &lnwire.UpdateFulfillHTLC{ChannelID: id, ID: add.ID, PaymentPreimage: preimage})

	waitFor(t, 2*time.Second, func() bool { return engine.settledRemoteCount() == 1 })
	time.Sleep(5 * time.Millisecond)

	conn.pushIncoming(t, &lnwire.CommitmentSigned{ChannelID: id})

	conn.popSent(t) // local's revoke after applying the remote's settle commitment

	finalCommit := conn.popSent(t).(*lnwire.CommitmentSigned)
	if len(finalCommit.HtlcSignatures) != 0 {
		t.Fatalf("final commitment_signed carries %d htlc signatures, want 0", len(finalCommit.HtlcSignatures))
	}

	revokePoint2, _ := btcec.NewPrivateKey()
	conn.pushIncoming(t, &lnwire.RevokeAndAck{ChannelID: id, NextPerCommitmentPoint: revokePoint2.PubKey()})

	conn.popSent(t) // local's final revoke_and_ack

	select {
	case err := <-errCh:
		t.Fatalf("Pay returned an error: %v", err)
	case res := <-resultCh:
		if res.Preimage != preimage {
			t.Fatalf("Pay returned preimage %x, want %x", res.Preimage, preimage)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Pay never returned")
	}

	var sawSuccess bool
	for _, n := range notified {
		if n == "payment_succeeded" {
			sawSuccess = true
		}
	}
	if !sawSuccess {
		t.Fatal("expected a payment_succeeded notification")
	}
}
