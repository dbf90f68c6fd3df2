package channel

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

func TestDeriveChannelIDOnlyTouchesLastTwoBytes(t *testing.T) {
	var txid chainhash.Hash
	for i := range txid {
		txid[i] = byte(i)
	}

	id := DeriveChannelID(txid, 0x1234)

	for i := 0; i < 30; i++ {
		if id[i] != txid[i] {
			t.Fatalf("byte %d = %x, want untouched %x", i, id[i], txid[i])
		}
	}
	if id[30] != txid[30]^0x12 || id[31] != txid[31]^0x34 {
		t.Fatalf("last two bytes = %x %x, want XOR with output index 0x1234", id[30], id[31])
	}
}

func TestDeriveChannelIDZeroIndexIsIdentity(t *testing.T) {
	var txid chainhash.Hash
	for i := range txid {
		txid[i] = byte(255 - i)
	}
	id := DeriveChannelID(txid, 0)
	if string(id[:]) != string(txid[:]) {
		t.Fatal("zero output index should leave the txid bytes unchanged")
	}
}
