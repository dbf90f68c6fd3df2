package lnwire

import (
	"bytes"
	"errors"
	"testing"
)

// TestInitRoundTrip covers the scenario from BOLT 1: an init with no global
// features and a 1-byte localfeatures field encodes to the exact bytes
// 0x0010 0000 0001 08, and decodes back to the same field values.
func TestInitRoundTrip(t *testing.T) {
	want := []byte{0x00, 0x10, 0x00, 0x00, 0x00, 0x01, 0x08}

	encoded, err := Encode("init", FieldMap{
		"gflen":          PutUint(0, 2),
		"globalfeatures": nil,
		"lflen":          PutUint(1, 2),
		"localfeatures":  []byte{0x08},
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Equal(encoded, want) {
		t.Fatalf("Encode(init) = %x, want %x", encoded, want)
	}

	name, fields, err := Decode(want)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if name != "init" {
		t.Fatalf("Decode name = %q, want init", name)
	}
	if len(fields["globalfeatures"]) != 0 {
		t.Fatalf("globalfeatures = %x, want empty", fields["globalfeatures"])
	}
	if got := fields["localfeatures"]; !bytes.Equal(got, []byte{0x08}) {
		t.Fatalf("localfeatures = %x, want 08", got)
	}
}

func TestDecodeRejectsTruncatedMessage(t *testing.T) {
	// A ping claims 4 bytes of ignored padding but only carries 2.
	data := []byte{0x00, 0x12, 0x00, 0x00, 0x00, 0x04, 0xaa, 0xbb}
	if _, _, err := Decode(data); err == nil {
		t.Fatal("Decode: expected an error for a length that overruns the message")
	}
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	// A pong with byteslen=0 but one extra trailing byte.
	data := []byte{0x00, 0x13, 0x00, 0x00, 0xff}
	if _, _, err := Decode(data); err == nil {
		t.Fatal("Decode: expected an error for unconsumed trailing bytes")
	}
}

func TestDecodeUnknownType(t *testing.T) {
	data := []byte{0xff, 0xff, 0x01, 0x02}
	_, _, err := Decode(data)
	if err == nil {
		t.Fatal("Decode: expected an error for an unregistered type code")
	}
	var unknown *UnknownMessageError
	if !errors.As(err, &unknown) {
		t.Fatalf("Decode error = %v, want *UnknownMessageError", err)
	}
	if unknown.TypeCode != 0xffff {
		t.Fatalf("TypeCode = %d, want 65535", unknown.TypeCode)
	}
}

func TestChannelReestablishOmitsTrailerFields(t *testing.T) {
	// A pre-funding-locked channel reestablish has neither trailer field.
	encoded, err := Encode("channel_reestablish", FieldMap{
		"channel_id":                    make([]byte, 32),
		"next_local_commitment_number":  PutUint(1, 8),
		"next_remote_revocation_number": PutUint(0, 8),
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	name, fields, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if name != "channel_reestablish" {
		t.Fatalf("name = %q", name)
	}
	if _, ok := fields["your_last_per_commitment_secret"]; ok {
		t.Fatal("unexpected your_last_per_commitment_secret field")
	}
	if _, ok := fields["my_current_per_commitment_point"]; ok {
		t.Fatal("unexpected my_current_per_commitment_point field")
	}
}

func TestCommitmentSignedVariableHtlcSignatures(t *testing.T) {
	sigs := bytes.Repeat([]byte{0x01}, 64*3)
	encoded, err := Encode("commitment_signed", FieldMap{
		"channel_id":     make([]byte, 32),
		"signature":      make([]byte, 64),
		"num_htlcs":      PutUint(3, 2),
		"htlc_signature": sigs,
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	_, fields, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got := fields.Uint16("num_htlcs"); got != 3 {
		t.Fatalf("num_htlcs = %d, want 3", got)
	}
	if len(fields["htlc_signature"]) != 64*3 {
		t.Fatalf("htlc_signature length = %d, want %d", len(fields["htlc_signature"]), 64*3)
	}
}
