package peer

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
	"github.com/lnpeer/corepeer/channel"
	"github.com/lnpeer/corepeer/lnwire"
)

// TestAnnounceChannelExchangesValidSignatures drives AnnounceChannel end to
// end against a scripted remote: it waits for the local half of
// announcement_signatures, replies with a remote half signed over the same
// digest, and checks that the broadcast channel_announcement verifies under
// all four signatures and that announced state is persisted.
func TestAnnounceChannelExchangesValidSignatures(t *testing.T) {
	localStatic, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey: %v", err)
	}
	remoteStatic, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey: %v", err)
	}
	remoteBitcoinKey, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey: %v", err)
	}

	conn := newFakeConn(remoteStatic.PubKey())
	keyRing := newFakeKeyRing()
	chanDB := newFakeChannelDB()
	notifier := newFakeChainNotifier(200)

	var notified []string
	notify := func(name string, arg interface{}) { notified = append(notified, name) }

	b := newTestBrontide(conn, localStatic, keyRing, chanDB, notifier, newFakeInvoiceRegistry(), &fakePathFinder{}, notify)
	defer b.Stop()

	localMultisig, err := keyRing.DeriveBasepoint(channel.KeyFamilyMultiSig)
	if err != nil {
		t.Fatalf("deriving local multisig key: %v", err)
	}

	id := lnwire.ChannelID{1, 2, 3}
	outpoint := wire.OutPoint{Index: 0}
	state := &channel.State{
		ChannelID:       id,
		ShortChannelID:  lnwire.ShortChannelID(12345),
		FundingOutpoint: outpoint,
		LocalConfig:     channel.ChannelConfig{MultiSigKey: localMultisig},
		RemoteConfig:    channel.ChannelConfig{MultiSigKey: remoteBitcoinKey.PubKey()},
	}
	b.registerChannel(id, newFakeCommitmentEngine(), state)

	var chainHash [32]byte
	chainHash[0] = 0xaa

	errCh := make(chan error, 1)
	go func() {
		errCh <- b.AnnounceChannel(context.Background(), id, chainHash)
	}()

	notifier.confirm(outpoint, 200)

	localAnnSig := conn.popSent(t).(*lnwire.AnnouncementSignatures)
	if localAnnSig.ChannelID != id {
		t.Fatalf("announcement_signatures channel_id = %v, want %v", localAnnSig.ChannelID, id)
	}

	nodeID1, nodeID2, swapped := sortNodeIDs(localStatic.PubKey(), remoteStatic.PubKey())
	bitcoinKey1, bitcoinKey2 := localMultisig, remoteBitcoinKey.PubKey()
	if swapped {
		bitcoinKey1, bitcoinKey2 = bitcoinKey2, bitcoinKey1
	}
	unsigned := &lnwire.ChannelAnnouncement{
		ChainHash:      chainHash,
		ShortChannelID: state.ShortChannelID,
		NodeID1:        nodeID1,
		NodeID2:        nodeID2,
		BitcoinKey1:    bitcoinKey1,
		BitcoinKey2:    bitcoinKey2,
	}
	digest := unsigned.UnsignedDigest()

	remoteNodeSig, err := channel.SignDigest(remoteStatic, digest)
	if err != nil {
		t.Fatalf("signing remote node_signature: %v", err)
	}
	remoteBtcSig, err := channel.SignDigest(remoteBitcoinKey, digest)
	if err != nil {
		t.Fatalf("signing remote bitcoin_signature: %v", err)
	}
	conn.pushIncoming(t, &lnwire.AnnouncementSignatures{
		ChannelID:        id,
		ShortChannelID:   state.ShortChannelID,
		NodeSignature:    remoteNodeSig,
		BitcoinSignature: remoteBtcSig,
	})

	broadcast := conn.popSent(t).(*lnwire.ChannelAnnouncement)

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("AnnounceChannel: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("AnnounceChannel never returned")
	}

	if !bytes.Equal(broadcast.ChainHash[:], chainHash[:]) {
		t.Fatalf("broadcast chain_hash = %x, want %x", broadcast.ChainHash, chainHash)
	}

	check := func(pub *btcec.PublicKey, sig lnwire.Sig, label string) {
		ok, err := channel.VerifyDigest(pub, digest, sig)
		if err != nil {
			t.Fatalf("verifying %s: %v", label, err)
		}
		if !ok {
			t.Fatalf("%s does not verify", label)
		}
	}
	check(broadcast.NodeID1, broadcast.NodeSignature1, "node_signature_1")
	check(broadcast.NodeID2, broadcast.NodeSignature2, "node_signature_2")
	check(broadcast.BitcoinKey1, broadcast.BitcoinSignature1, "bitcoin_signature_1")
	check(broadcast.BitcoinKey2, broadcast.BitcoinSignature2, "bitcoin_signature_2")

	if !state.IsAnnounced {
		t.Fatal("state.IsAnnounced was not set")
	}
	if chanDB.announcementCount() != 1 {
		t.Fatalf("chanDB stored %d announcements, want 1", chanDB.announcementCount())
	}

	var sawAnnounced bool
	for _, n := range notified {
		if n == "channel_announced" {
			sawAnnounced = true
		}
	}
	if !sawAnnounced {
		t.Fatal("expected a channel_announced notification")
	}
}

// TestAnnounceChannelRejectsBadRemoteSignature checks that a remote
// bitcoin_signature over the wrong digest is detected rather than silently
// accepted into the broadcast channel_announcement.
func TestAnnounceChannelRejectsBadRemoteSignature(t *testing.T) {
	localStatic, _ := btcec.NewPrivateKey()
	remoteStatic, _ := btcec.NewPrivateKey()
	remoteBitcoinKey, _ := btcec.NewPrivateKey()
	wrongKey, _ := btcec.NewPrivateKey()

	conn := newFakeConn(remoteStatic.PubKey())
	keyRing := newFakeKeyRing()
	chanDB := newFakeChannelDB()
	notifier := newFakeChainNotifier(200)

	b := newTestBrontide(conn, localStatic, keyRing, chanDB, notifier, newFakeInvoiceRegistry(), &fakePathFinder{}, nil)
	defer b.Stop()

	localMultisig, _ := keyRing.DeriveBasepoint(channel.KeyFamilyMultiSig)
	id := lnwire.ChannelID{9, 9, 9}
	outpoint := wire.OutPoint{Index: 1}
	state := &channel.State{
		ChannelID:       id,
		ShortChannelID:  lnwire.ShortChannelID(777),
		FundingOutpoint: outpoint,
		LocalConfig:     channel.ChannelConfig{MultiSigKey: localMultisig},
		RemoteConfig:    channel.ChannelConfig{MultiSigKey: remoteBitcoinKey.PubKey()},
	}
	b.registerChannel(id, newFakeCommitmentEngine(), state)

	var chainHash [32]byte
	errCh := make(chan error, 1)
	go func() { errCh <- b.AnnounceChannel(context.Background(), id, chainHash) }()

	notifier.confirm(outpoint, 200)
	conn.popSent(t) // local's own announcement_signatures

	nodeID1, nodeID2, swapped := sortNodeIDs(localStatic.PubKey(), remoteStatic.PubKey())
	bitcoinKey1, bitcoinKey2 := localMultisig, remoteBitcoinKey.PubKey()
	if swapped {
		bitcoinKey1, bitcoinKey2 = bitcoinKey2, bitcoinKey1
	}
	digest := (&lnwire.ChannelAnnouncement{
		ChainHash:      chainHash,
		ShortChannelID: state.ShortChannelID,
		NodeID1:        nodeID1,
		NodeID2:        nodeID2,
		BitcoinKey1:    bitcoinKey1,
		BitcoinKey2:    bitcoinKey2,
	}).UnsignedDigest()

	remoteNodeSig, _ := channel.SignDigest(remoteStatic, digest)
	badBtcSig, _ := channel.SignDigest(wrongKey, digest)
	conn.pushIncoming(t, &lnwire.AnnouncementSignatures{
		ChannelID:        id,
		ShortChannelID:   state.ShortChannelID,
		NodeSignature:    remoteNodeSig,
		BitcoinSignature: badBtcSig,
	})

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("AnnounceChannel succeeded with a bad remote bitcoin_signature")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("AnnounceChannel never returned")
	}
	if state.IsAnnounced {
		t.Fatal("state.IsAnnounced set despite a bad remote signature")
	}
}
