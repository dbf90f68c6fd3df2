package onion

import "testing"

func TestEncodeHopPayloadFinalHopZeroesNextChannel(t *testing.T) {
	hd := encodeHopPayload(HopPayload{NextChannelID: 0x1122334455667788, AmountToFwd: 1000, OutgoingCltv: 500}, true)
	for i, b := range hd.NextAddress {
		if b != 0 {
			t.Fatalf("NextAddress[%d] = %x, want 0 for the final hop", i, b)
		}
	}
	if hd.ForwardAmount != 1000 || hd.OutgoingCltv != 500 {
		t.Fatalf("got amount=%d cltv=%d, want 1000/500", hd.ForwardAmount, hd.OutgoingCltv)
	}
}

func TestEncodeHopPayloadIntermediateHopKeepsNextChannel(t *testing.T) {
	hd := encodeHopPayload(HopPayload{NextChannelID: 0x0102030405060708, AmountToFwd: 2000, OutgoingCltv: 600}, false)
	want := [8]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	if hd.NextAddress != want {
		t.Fatalf("NextAddress = %x, want %x", hd.NextAddress, want)
	}
}
