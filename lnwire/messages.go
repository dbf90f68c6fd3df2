package lnwire

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
)

// Sig is a fixed 64-byte compact signature (r || s, each 32 bytes
// big-endian), the format BOLT 2/7 uses on the wire. Converting to and from
// a parsed *ecdsa.Signature is the concern of the packages that actually
// sign and verify (channel, peer), keeping this package free of crypto
// dependencies beyond public-key parsing.
type Sig [64]byte

func sigFromField(b []byte) (Sig, error) {
	var s Sig
	if len(b) != 64 {
		return s, fmt.Errorf("lnwire: signature field is %d bytes, want 64", len(b))
	}
	copy(s[:], b)
	return s, nil
}

func parsePubKey(b []byte) (*btcec.PublicKey, error) {
	return btcec.ParsePubKey(b)
}

func pubKeyBytes(pk *btcec.PublicKey) []byte {
	return pk.SerializeCompressed()
}

// Message is implemented by every typed wrapper in this file. MsgName
// identifies the schema entry in schema.go; MarshalFields produces the
// FieldMap Encode expects.
type Message interface {
	MsgName() string
	MarshalFields() FieldMap
}

// EncodeMessage serializes m to its wire form.
func EncodeMessage(m Message) ([]byte, error) {
	return Encode(m.MsgName(), m.MarshalFields())
}

// DecodeMessage decodes raw wire bytes into the concrete typed message. An
// odd, unrecognized type code is returned as *UnknownMessageError so callers
// can apply BOLT 1's "ignore it" rule to odd types while still failing hard
// on an unrecognized even type.
func DecodeMessage(data []byte) (Message, error) {
	name, f, err := Decode(data)
	if err != nil {
		return nil, err
	}
	switch name {
	case "init":
		return &Init{GlobalFeatures: f["globalfeatures"], LocalFeatures: f["localfeatures"]}, nil
	case "error":
		return &Error{ChannelID: channelIDFrom(f["channel_id"]), Data: f["data"]}, nil
	case "ping":
		return &Ping{NumPongBytes: f.Uint16("num_pong_bytes"), Ignored: f["ignored"]}, nil
	case "pong":
		return &Pong{Ignored: f["ignored"]}, nil
	case "open_channel":
		return decodeOpenChannel(f)
	case "accept_channel":
		return decodeAcceptChannel(f)
	case "funding_created":
		return decodeFundingCreated(f)
	case "funding_signed":
		return decodeFundingSigned(f)
	case "funding_locked":
		return decodeFundingLocked(f)
	case "shutdown":
		return &Shutdown{ChannelID: channelIDFrom(f["channel_id"]), ScriptPubkey: f["scriptpubkey"]}, nil
	case "closing_signed":
		return decodeClosingSigned(f)
	case "update_add_htlc":
		return decodeUpdateAddHTLC(f)
	case "update_fulfill_htlc":
		return &UpdateFulfillHTLC{
			ChannelID:       channelIDFrom(f["channel_id"]),
			ID:              f.Uint64("id"),
			PaymentPreimage: array32(f["payment_preimage"]),
		}, nil
	case "update_fail_htlc":
		return &UpdateFailHTLC{ChannelID: channelIDFrom(f["channel_id"]), ID: f.Uint64("id"), Reason: f["reason"]}, nil
	case "update_fail_malformed_htlc":
		return &UpdateFailMalformedHTLC{
			ChannelID:     channelIDFrom(f["channel_id"]),
			ID:            f.Uint64("id"),
			ShaOnionHash:  array32(f["sha256_of_onion"]),
			FailureCode:   f.Uint16("failure_code"),
		}, nil
	case "commitment_signed":
		return decodeCommitmentSigned(f)
	case "revoke_and_ack":
		return decodeRevokeAndAck(f)
	case "update_fee":
		return &UpdateFee{ChannelID: channelIDFrom(f["channel_id"]), FeePerKw: f.Uint32("feerate_per_kw")}, nil
	case "channel_reestablish":
		return decodeChannelReestablish(f)
	case "announcement_signatures":
		return decodeAnnouncementSignatures(f)
	case "channel_announcement":
		return decodeChannelAnnouncement(f, data)
	case "node_announcement":
		return decodeNodeAnnouncement(f, data)
	case "channel_update":
		return decodeChannelUpdate(f, data)
	default:
		return nil, fmt.Errorf("lnwire: no typed wrapper registered for %q", name)
	}
}

func channelIDFrom(b []byte) ChannelID {
	var c ChannelID
	copy(c[:], b)
	return c
}

func array32(b []byte) [32]byte {
	var a [32]byte
	copy(a[:], b)
	return a
}

// Init is the first message exchanged on a connection, advertising the
// sender's feature bitmaps.
type Init struct {
	GlobalFeatures []byte
	LocalFeatures  []byte
}

func (m *Init) MsgName() string { return "init" }
func (m *Init) MarshalFields() FieldMap {
	return FieldMap{
		"gflen":          PutUint(uint64(len(m.GlobalFeatures)), 2),
		"globalfeatures": m.GlobalFeatures,
		"lflen":          PutUint(uint64(len(m.LocalFeatures)), 2),
		"localfeatures":  m.LocalFeatures,
	}
}

// Error aborts the channel identified by ChannelID, or the entire
// connection if ChannelID is all-zero.
type Error struct {
	ChannelID ChannelID
	Data      []byte
}

func (m *Error) MsgName() string { return "error" }
func (m *Error) MarshalFields() FieldMap {
	return FieldMap{
		"channel_id": m.ChannelID[:],
		"len":        PutUint(uint64(len(m.Data)), 2),
		"data":       m.Data,
	}
}

// Ping solicits a Pong carrying NumPongBytes of padding, used as a
// keep-alive and to detect a dead connection.
type Ping struct {
	NumPongBytes uint16
	Ignored      []byte
}

func (m *Ping) MsgName() string { return "ping" }
func (m *Ping) MarshalFields() FieldMap {
	return FieldMap{
		"num_pong_bytes": PutUint(uint64(m.NumPongBytes), 2),
		"byteslen":       PutUint(uint64(len(m.Ignored)), 2),
		"ignored":        m.Ignored,
	}
}

type Pong struct {
	Ignored []byte
}

func (m *Pong) MsgName() string { return "pong" }
func (m *Pong) MarshalFields() FieldMap {
	return FieldMap{
		"byteslen": PutUint(uint64(len(m.Ignored)), 2),
		"ignored":  m.Ignored,
	}
}

// OpenChannel is sent by the funder to propose a new channel.
type OpenChannel struct {
	ChainHash                  [32]byte
	TemporaryChannelID         ChannelID
	FundingAmount              int64
	PushAmount                 MilliSatoshi
	DustLimit                  int64
	MaxValueInFlight           MilliSatoshi
	ChannelReserve             int64
	HtlcMinimum                MilliSatoshi
	FeePerKw                   uint32
	CsvDelay                   uint16
	MaxAcceptedHTLCs           uint16
	FundingKey                 *btcec.PublicKey
	RevocationPoint            *btcec.PublicKey
	PaymentPoint               *btcec.PublicKey
	DelayedPaymentPoint        *btcec.PublicKey
	HtlcPoint                  *btcec.PublicKey
	FirstCommitmentPoint       *btcec.PublicKey
	ChannelFlags               byte
}

func (m *OpenChannel) MsgName() string { return "open_channel" }
func (m *OpenChannel) MarshalFields() FieldMap {
	return FieldMap{
		"chain_hash":                     m.ChainHash[:],
		"temporary_channel_id":           m.TemporaryChannelID[:],
		"funding_satoshis":               PutUint(uint64(m.FundingAmount), 8),
		"push_msat":                      PutUint(uint64(m.PushAmount), 8),
		"dust_limit_satoshis":            PutUint(uint64(m.DustLimit), 8),
		"max_htlc_value_in_flight_msat":  PutUint(uint64(m.MaxValueInFlight), 8),
		"channel_reserve_satoshis":       PutUint(uint64(m.ChannelReserve), 8),
		"htlc_minimum_msat":              PutUint(uint64(m.HtlcMinimum), 8),
		"feerate_per_kw":                 PutUint(uint64(m.FeePerKw), 4),
		"to_self_delay":                  PutUint(uint64(m.CsvDelay), 2),
		"max_accepted_htlcs":             PutUint(uint64(m.MaxAcceptedHTLCs), 2),
		"funding_pubkey":                 pubKeyBytes(m.FundingKey),
		"revocation_basepoint":           pubKeyBytes(m.RevocationPoint),
		"payment_basepoint":              pubKeyBytes(m.PaymentPoint),
		"delayed_payment_basepoint":      pubKeyBytes(m.DelayedPaymentPoint),
		"htlc_basepoint":                 pubKeyBytes(m.HtlcPoint),
		"first_per_commitment_point":     pubKeyBytes(m.FirstCommitmentPoint),
		"channel_flags":                  []byte{m.ChannelFlags},
	}
}

func decodeOpenChannel(f FieldMap) (*OpenChannel, error) {
	keys, err := parseOpenChannelKeys(f)
	if err != nil {
		return nil, err
	}
	m := &OpenChannel{
		TemporaryChannelID:   channelIDFrom(f["temporary_channel_id"]),
		FundingAmount:        int64(f.Uint64("funding_satoshis")),
		PushAmount:           MilliSatoshi(f.Uint64("push_msat")),
		DustLimit:            int64(f.Uint64("dust_limit_satoshis")),
		MaxValueInFlight:     MilliSatoshi(f.Uint64("max_htlc_value_in_flight_msat")),
		ChannelReserve:       int64(f.Uint64("channel_reserve_satoshis")),
		HtlcMinimum:          MilliSatoshi(f.Uint64("htlc_minimum_msat")),
		FeePerKw:             f.Uint32("feerate_per_kw"),
		CsvDelay:             f.Uint16("to_self_delay"),
		MaxAcceptedHTLCs:     f.Uint16("max_accepted_htlcs"),
		ChannelFlags:         f["channel_flags"][0],
	}
	copy(m.ChainHash[:], f["chain_hash"])
	m.FundingKey, m.RevocationPoint, m.PaymentPoint = keys[0], keys[1], keys[2]
	m.DelayedPaymentPoint, m.HtlcPoint, m.FirstCommitmentPoint = keys[3], keys[4], keys[5]
	return m, nil
}

func parseOpenChannelKeys(f FieldMap) ([6]*btcec.PublicKey, error) {
	return parsePubKeys(f, "funding_pubkey", "revocation_basepoint", "payment_basepoint",
		"delayed_payment_basepoint", "htlc_basepoint", "first_per_commitment_point")
}

func parsePubKeys(f FieldMap, names ...string) ([6]*btcec.PublicKey, error) {
	var out [6]*btcec.PublicKey
	for i, name := range names {
		pk, err := parsePubKey(f[name])
		if err != nil {
			return out, fmt.Errorf("lnwire: field %q: %w", name, err)
		}
		out[i] = pk
	}
	return out, nil
}

func parsePubKeySlice(f FieldMap, names ...string) ([]*btcec.PublicKey, error) {
	out := make([]*btcec.PublicKey, len(names))
	for i, name := range names {
		pk, err := parsePubKey(f[name])
		if err != nil {
			return nil, fmt.Errorf("lnwire: field %q: %w", name, err)
		}
		out[i] = pk
	}
	return out, nil
}

// AcceptChannel is Bob's response to OpenChannel.
type AcceptChannel struct {
	TemporaryChannelID     ChannelID
	DustLimit              int64
	MaxValueInFlight       MilliSatoshi
	ChannelReserve         int64
	HtlcMinimum            MilliSatoshi
	MinAcceptDepth         uint32
	CsvDelay               uint16
	MaxAcceptedHTLCs       uint16
	FundingKey             *btcec.PublicKey
	RevocationPoint        *btcec.PublicKey
	PaymentPoint           *btcec.PublicKey
	DelayedPaymentPoint    *btcec.PublicKey
	HtlcPoint              *btcec.PublicKey
	FirstCommitmentPoint   *btcec.PublicKey
}

func (m *AcceptChannel) MsgName() string { return "accept_channel" }
func (m *AcceptChannel) MarshalFields() FieldMap {
	return FieldMap{
		"temporary_channel_id":          m.TemporaryChannelID[:],
		"dust_limit_satoshis":           PutUint(uint64(m.DustLimit), 8),
		"max_htlc_value_in_flight_msat": PutUint(uint64(m.MaxValueInFlight), 8),
		"channel_reserve_satoshis":      PutUint(uint64(m.ChannelReserve), 8),
		"htlc_minimum_msat":             PutUint(uint64(m.HtlcMinimum), 8),
		"minimum_depth":                 PutUint(uint64(m.MinAcceptDepth), 4),
		"to_self_delay":                 PutUint(uint64(m.CsvDelay), 2),
		"max_accepted_htlcs":            PutUint(uint64(m.MaxAcceptedHTLCs), 2),
		"funding_pubkey":                pubKeyBytes(m.FundingKey),
		"revocation_basepoint":          pubKeyBytes(m.RevocationPoint),
		"payment_basepoint":             pubKeyBytes(m.PaymentPoint),
		"delayed_payment_basepoint":     pubKeyBytes(m.DelayedPaymentPoint),
		"htlc_basepoint":                pubKeyBytes(m.HtlcPoint),
		"first_per_commitment_point":    pubKeyBytes(m.FirstCommitmentPoint),
	}
}

func decodeAcceptChannel(f FieldMap) (*AcceptChannel, error) {
	keys, err := parsePubKeys(f, "funding_pubkey", "revocation_basepoint", "payment_basepoint",
		"delayed_payment_basepoint", "htlc_basepoint", "first_per_commitment_point")
	if err != nil {
		return nil, err
	}
	return &AcceptChannel{
		TemporaryChannelID:   channelIDFrom(f["temporary_channel_id"]),
		DustLimit:            int64(f.Uint64("dust_limit_satoshis")),
		MaxValueInFlight:     MilliSatoshi(f.Uint64("max_htlc_value_in_flight_msat")),
		ChannelReserve:       int64(f.Uint64("channel_reserve_satoshis")),
		HtlcMinimum:          MilliSatoshi(f.Uint64("htlc_minimum_msat")),
		MinAcceptDepth:       f.Uint32("minimum_depth"),
		CsvDelay:             f.Uint16("to_self_delay"),
		MaxAcceptedHTLCs:     f.Uint16("max_accepted_htlcs"),
		FundingKey:           keys[0],
		RevocationPoint:      keys[1],
		PaymentPoint:         keys[2],
		DelayedPaymentPoint:  keys[3],
		HtlcPoint:            keys[4],
		FirstCommitmentPoint: keys[5],
	}, nil
}

type FundingCreated struct {
	TemporaryChannelID ChannelID
	FundingTxid        [32]byte
	FundingOutputIndex uint16
	Signature          Sig
}

func (m *FundingCreated) MsgName() string { return "funding_created" }
func (m *FundingCreated) MarshalFields() FieldMap {
	return FieldMap{
		"temporary_channel_id": m.TemporaryChannelID[:],
		"funding_txid":         m.FundingTxid[:],
		"funding_output_index": PutUint(uint64(m.FundingOutputIndex), 2),
		"signature":            m.Signature[:],
	}
}

func decodeFundingCreated(f FieldMap) (*FundingCreated, error) {
	sig, err := sigFromField(f["signature"])
	if err != nil {
		return nil, err
	}
	m := &FundingCreated{
		TemporaryChannelID: channelIDFrom(f["temporary_channel_id"]),
		FundingOutputIndex: f.Uint16("funding_output_index"),
		Signature:          sig,
	}
	copy(m.FundingTxid[:], f["funding_txid"])
	return m, nil
}

type FundingSigned struct {
	ChannelID ChannelID
	Signature Sig
}

func (m *FundingSigned) MsgName() string { return "funding_signed" }
func (m *FundingSigned) MarshalFields() FieldMap {
	return FieldMap{"channel_id": m.ChannelID[:], "signature": m.Signature[:]}
}

func decodeFundingSigned(f FieldMap) (*FundingSigned, error) {
	sig, err := sigFromField(f["signature"])
	if err != nil {
		return nil, err
	}
	return &FundingSigned{ChannelID: channelIDFrom(f["channel_id"]), Signature: sig}, nil
}

type FundingLocked struct {
	ChannelID               ChannelID
	NextPerCommitmentPoint  *btcec.PublicKey
}

func (m *FundingLocked) MsgName() string { return "funding_locked" }
func (m *FundingLocked) MarshalFields() FieldMap {
	return FieldMap{
		"channel_id":                 m.ChannelID[:],
		"next_per_commitment_point": pubKeyBytes(m.NextPerCommitmentPoint),
	}
}

func decodeFundingLocked(f FieldMap) (*FundingLocked, error) {
	pk, err := parsePubKey(f["next_per_commitment_point"])
	if err != nil {
		return nil, err
	}
	return &FundingLocked{ChannelID: channelIDFrom(f["channel_id"]), NextPerCommitmentPoint: pk}, nil
}

type Shutdown struct {
	ChannelID    ChannelID
	ScriptPubkey []byte
}

func (m *Shutdown) MsgName() string { return "shutdown" }
func (m *Shutdown) MarshalFields() FieldMap {
	return FieldMap{
		"channel_id":   m.ChannelID[:],
		"len":          PutUint(uint64(len(m.ScriptPubkey)), 2),
		"scriptpubkey": m.ScriptPubkey,
	}
}

type ClosingSigned struct {
	ChannelID   ChannelID
	FeeSatoshis int64
	Signature   Sig
}

func (m *ClosingSigned) MsgName() string { return "closing_signed" }
func (m *ClosingSigned) MarshalFields() FieldMap {
	return FieldMap{
		"channel_id":   m.ChannelID[:],
		"fee_satoshis": PutUint(uint64(m.FeeSatoshis), 8),
		"signature":    m.Signature[:],
	}
}

func decodeClosingSigned(f FieldMap) (*ClosingSigned, error) {
	sig, err := sigFromField(f["signature"])
	if err != nil {
		return nil, err
	}
	return &ClosingSigned{
		ChannelID:   channelIDFrom(f["channel_id"]),
		FeeSatoshis: int64(f.Uint64("fee_satoshis")),
		Signature:   sig,
	}, nil
}

// UpdateAddHTLC offers a new HTLC on the channel.
type UpdateAddHTLC struct {
	ChannelID   ChannelID
	ID          uint64
	Amount      MilliSatoshi
	PaymentHash [32]byte
	CltvExpiry  uint32
	OnionBlob   [1366]byte
}

func (m *UpdateAddHTLC) MsgName() string { return "update_add_htlc" }
func (m *UpdateAddHTLC) MarshalFields() FieldMap {
	return FieldMap{
		"channel_id":            m.ChannelID[:],
		"id":                    PutUint(m.ID, 8),
		"amount_msat":           PutUint(uint64(m.Amount), 8),
		"payment_hash":          m.PaymentHash[:],
		"cltv_expiry":           PutUint(uint64(m.CltvExpiry), 4),
		"onion_routing_packet":  m.OnionBlob[:],
	}
}

func decodeUpdateAddHTLC(f FieldMap) (*UpdateAddHTLC, error) {
	m := &UpdateAddHTLC{
		ChannelID:  channelIDFrom(f["channel_id"]),
		ID:         f.Uint64("id"),
		Amount:     MilliSatoshi(f.Uint64("amount_msat")),
		CltvExpiry: f.Uint32("cltv_expiry"),
	}
	copy(m.PaymentHash[:], f["payment_hash"])
	copy(m.OnionBlob[:], f["onion_routing_packet"])
	return m, nil
}

type UpdateFulfillHTLC struct {
	ChannelID       ChannelID
	ID              uint64
	PaymentPreimage [32]byte
}

func (m *UpdateFulfillHTLC) MsgName() string { return "update_fulfill_htlc" }
func (m *UpdateFulfillHTLC) MarshalFields() FieldMap {
	return FieldMap{
		"channel_id":       m.ChannelID[:],
		"id":               PutUint(m.ID, 8),
		"payment_preimage": m.PaymentPreimage[:],
	}
}

type UpdateFailHTLC struct {
	ChannelID ChannelID
	ID        uint64
	Reason    []byte
}

func (m *UpdateFailHTLC) MsgName() string { return "update_fail_htlc" }
func (m *UpdateFailHTLC) MarshalFields() FieldMap {
	return FieldMap{
		"channel_id": m.ChannelID[:],
		"id":         PutUint(m.ID, 8),
		"len":        PutUint(uint64(len(m.Reason)), 2),
		"reason":     m.Reason,
	}
}

type UpdateFailMalformedHTLC struct {
	ChannelID    ChannelID
	ID           uint64
	ShaOnionHash [32]byte
	FailureCode  uint16
}

func (m *UpdateFailMalformedHTLC) MsgName() string { return "update_fail_malformed_htlc" }
func (m *UpdateFailMalformedHTLC) MarshalFields() FieldMap {
	return FieldMap{
		"channel_id":      m.ChannelID[:],
		"id":              PutUint(m.ID, 8),
		"sha256_of_onion": m.ShaOnionHash[:],
		"failure_code":    PutUint(uint64(m.FailureCode), 2),
	}
}

type CommitmentSigned struct {
	ChannelID     ChannelID
	Signature     Sig
	HtlcSignatures []Sig
}

func (m *CommitmentSigned) MsgName() string { return "commitment_signed" }
func (m *CommitmentSigned) MarshalFields() FieldMap {
	htlcSigs := make([]byte, 0, len(m.HtlcSignatures)*64)
	for _, s := range m.HtlcSignatures {
		htlcSigs = append(htlcSigs, s[:]...)
	}
	return FieldMap{
		"channel_id":     m.ChannelID[:],
		"signature":      m.Signature[:],
		"num_htlcs":      PutUint(uint64(len(m.HtlcSignatures)), 2),
		"htlc_signature": htlcSigs,
	}
}

func decodeCommitmentSigned(f FieldMap) (*CommitmentSigned, error) {
	sig, err := sigFromField(f["signature"])
	if err != nil {
		return nil, err
	}
	n := f.Uint16("num_htlcs")
	raw := f["htlc_signature"]
	sigs := make([]Sig, n)
	for i := 0; i < int(n); i++ {
		s, err := sigFromField(raw[i*64 : (i+1)*64])
		if err != nil {
			return nil, err
		}
		sigs[i] = s
	}
	return &CommitmentSigned{ChannelID: channelIDFrom(f["channel_id"]), Signature: sig, HtlcSignatures: sigs}, nil
}

type RevokeAndAck struct {
	ChannelID                ChannelID
	Revocation               [32]byte
	NextPerCommitmentPoint   *btcec.PublicKey
}

func (m *RevokeAndAck) MsgName() string { return "revoke_and_ack" }
func (m *RevokeAndAck) MarshalFields() FieldMap {
	return FieldMap{
		"channel_id":                m.ChannelID[:],
		"per_commitment_secret":    m.Revocation[:],
		"next_per_commitment_point": pubKeyBytes(m.NextPerCommitmentPoint),
	}
}

func decodeRevokeAndAck(f FieldMap) (*RevokeAndAck, error) {
	pk, err := parsePubKey(f["next_per_commitment_point"])
	if err != nil {
		return nil, err
	}
	m := &RevokeAndAck{ChannelID: channelIDFrom(f["channel_id"]), NextPerCommitmentPoint: pk}
	copy(m.Revocation[:], f["per_commitment_secret"])
	return m, nil
}

type UpdateFee struct {
	ChannelID ChannelID
	FeePerKw  uint32
}

func (m *UpdateFee) MsgName() string { return "update_fee" }
func (m *UpdateFee) MarshalFields() FieldMap {
	return FieldMap{"channel_id": m.ChannelID[:], "feerate_per_kw": PutUint(uint64(m.FeePerKw), 4)}
}

// ChannelReestablish resynchronizes channel state after a reconnect. The
// two trailer fields are absent on a pre-funding-locked channel, per BOLT 2.
type ChannelReestablish struct {
	ChannelID                  ChannelID
	NextLocalCommitmentNumber  uint64
	NextRemoteRevocationNumber uint64
	YourLastPerCommitmentSecret *[32]byte
	MyCurrentPerCommitmentPoint *btcec.PublicKey
}

func (m *ChannelReestablish) MsgName() string { return "channel_reestablish" }
func (m *ChannelReestablish) MarshalFields() FieldMap {
	f := FieldMap{
		"channel_id":                     m.ChannelID[:],
		"next_local_commitment_number":   PutUint(m.NextLocalCommitmentNumber, 8),
		"next_remote_revocation_number":  PutUint(m.NextRemoteRevocationNumber, 8),
	}
	if m.YourLastPerCommitmentSecret != nil {
		f["your_last_per_commitment_secret"] = m.YourLastPerCommitmentSecret[:]
	}
	if m.MyCurrentPerCommitmentPoint != nil {
		f["my_current_per_commitment_point"] = pubKeyBytes(m.MyCurrentPerCommitmentPoint)
	}
	return f
}

func decodeChannelReestablish(f FieldMap) (*ChannelReestablish, error) {
	m := &ChannelReestablish{
		ChannelID:                  channelIDFrom(f["channel_id"]),
		NextLocalCommitmentNumber:  f.Uint64("next_local_commitment_number"),
		NextRemoteRevocationNumber: f.Uint64("next_remote_revocation_number"),
	}
	if secret, ok := f["your_last_per_commitment_secret"]; ok {
		var s [32]byte
		copy(s[:], secret)
		m.YourLastPerCommitmentSecret = &s
	}
	if point, ok := f["my_current_per_commitment_point"]; ok {
		pk, err := parsePubKey(point)
		if err != nil {
			return nil, err
		}
		m.MyCurrentPerCommitmentPoint = pk
	}
	return m, nil
}

type AnnouncementSignatures struct {
	ChannelID       ChannelID
	ShortChannelID  ShortChannelID
	NodeSignature   Sig
	BitcoinSignature Sig
}

func (m *AnnouncementSignatures) MsgName() string { return "announcement_signatures" }
func (m *AnnouncementSignatures) MarshalFields() FieldMap {
	return FieldMap{
		"channel_id":        m.ChannelID[:],
		"short_channel_id":  m.ShortChannelID.ToBytes(),
		"node_signature":    m.NodeSignature[:],
		"bitcoin_signature": m.BitcoinSignature[:],
	}
}

func decodeAnnouncementSignatures(f FieldMap) (*AnnouncementSignatures, error) {
	nodeSig, err := sigFromField(f["node_signature"])
	if err != nil {
		return nil, err
	}
	btcSig, err := sigFromField(f["bitcoin_signature"])
	if err != nil {
		return nil, err
	}
	return &AnnouncementSignatures{
		ChannelID:        channelIDFrom(f["channel_id"]),
		ShortChannelID:   NewShortChannelIDFromBytes(f["short_channel_id"]),
		NodeSignature:    nodeSig,
		BitcoinSignature: btcSig,
	}, nil
}

// ChannelAnnouncement binds a channel's short_channel_id to the identities
// and funding keys of its two endpoints. Raw is the exact bytes decoded, so
// callers can slice it at byte 258 to recover the digest the four
// signatures commit to, per BOLT 7.
type ChannelAnnouncement struct {
	NodeSignature1    Sig
	NodeSignature2    Sig
	BitcoinSignature1 Sig
	BitcoinSignature2 Sig
	Features          []byte
	ChainHash         [32]byte
	ShortChannelID    ShortChannelID
	NodeID1           *btcec.PublicKey
	NodeID2           *btcec.PublicKey
	BitcoinKey1       *btcec.PublicKey
	BitcoinKey2       *btcec.PublicKey
	Raw               []byte
}

func (m *ChannelAnnouncement) MsgName() string { return "channel_announcement" }
func (m *ChannelAnnouncement) MarshalFields() FieldMap {
	return FieldMap{
		"node_signature_1":    m.NodeSignature1[:],
		"node_signature_2":    m.NodeSignature2[:],
		"bitcoin_signature_1": m.BitcoinSignature1[:],
		"bitcoin_signature_2": m.BitcoinSignature2[:],
		"len":                 PutUint(uint64(len(m.Features)), 2),
		"features":            m.Features,
		"chain_hash":          m.ChainHash[:],
		"short_channel_id":    m.ShortChannelID.ToBytes(),
		"node_id_1":           pubKeyBytes(m.NodeID1),
		"node_id_2":           pubKeyBytes(m.NodeID2),
		"bitcoin_key_1":       pubKeyBytes(m.BitcoinKey1),
		"bitcoin_key_2":       pubKeyBytes(m.BitcoinKey2),
	}
}

// SignedDigest returns the 258-byte-offset suffix of the raw message that
// all four signatures commit to (2-byte type + 4*64-byte signatures = 258).
func (m *ChannelAnnouncement) SignedDigest() []byte {
	if len(m.Raw) <= 258 {
		return nil
	}
	return m.Raw[258:]
}

// UnsignedDigest serializes the same suffix SignedDigest recovers from an
// already-decoded message, but directly from the struct's fields — used
// when building a fresh channel_announcement that has no Raw bytes yet
// because it hasn't been signed or encoded.
func (m *ChannelAnnouncement) UnsignedDigest() []byte {
	out := make([]byte, 0, 2+len(m.Features)+32+8+33*4)
	out = append(out, PutUint(uint64(len(m.Features)), 2)...)
	out = append(out, m.Features...)
	out = append(out, m.ChainHash[:]...)
	out = append(out, m.ShortChannelID.ToBytes()...)
	out = append(out, pubKeyBytes(m.NodeID1)...)
	out = append(out, pubKeyBytes(m.NodeID2)...)
	out = append(out, pubKeyBytes(m.BitcoinKey1)...)
	out = append(out, pubKeyBytes(m.BitcoinKey2)...)
	return out
}

func decodeChannelAnnouncement(f FieldMap, raw []byte) (*ChannelAnnouncement, error) {
	sig1, err := sigFromField(f["node_signature_1"])
	if err != nil {
		return nil, err
	}
	sig2, err := sigFromField(f["node_signature_2"])
	if err != nil {
		return nil, err
	}
	bsig1, err := sigFromField(f["bitcoin_signature_1"])
	if err != nil {
		return nil, err
	}
	bsig2, err := sigFromField(f["bitcoin_signature_2"])
	if err != nil {
		return nil, err
	}
	keys, err := parsePubKeySlice(f, "node_id_1", "node_id_2", "bitcoin_key_1", "bitcoin_key_2")
	if err != nil {
		return nil, err
	}
	m := &ChannelAnnouncement{
		NodeSignature1:    sig1,
		NodeSignature2:    sig2,
		BitcoinSignature1: bsig1,
		BitcoinSignature2: bsig2,
		Features:          f["features"],
		ShortChannelID:    NewShortChannelIDFromBytes(f["short_channel_id"]),
		NodeID1:           keys[0],
		NodeID2:           keys[1],
		BitcoinKey1:       keys[2],
		Raw:               raw,
		BitcoinKey2:       keys[3],
	}
	copy(m.ChainHash[:], f["chain_hash"])
	return m, nil
}

// NodeAnnouncement advertises a node's identity, color, alias, and network
// addresses. Address parsing lives in addresses.go.
type NodeAnnouncement struct {
	Signature Sig
	Features  []byte
	Timestamp uint32
	NodeID    *btcec.PublicKey
	RGBColor  [3]byte
	Alias     [32]byte
	Addresses []NetAddress
	Raw       []byte
}

func (m *NodeAnnouncement) MsgName() string { return "node_announcement" }
func (m *NodeAnnouncement) MarshalFields() FieldMap {
	addrBytes := encodeAddresses(m.Addresses)
	return FieldMap{
		"signature":  m.Signature[:],
		"flen":       PutUint(uint64(len(m.Features)), 2),
		"features":   m.Features,
		"timestamp":  PutUint(uint64(m.Timestamp), 4),
		"node_id":    pubKeyBytes(m.NodeID),
		"rgb_color":  m.RGBColor[:],
		"alias":      m.Alias[:],
		"addrlen":    PutUint(uint64(len(addrBytes)), 2),
		"addresses":  addrBytes,
	}
}

// SignedDigest returns the portion of the raw message the node signature
// commits to: Hash(payload[66:]), i.e. everything after the 2-byte type
// and the 64-byte signature, starting at the feature-length field.
func (m *NodeAnnouncement) SignedDigest() []byte {
	if len(m.Raw) <= 66 {
		return nil
	}
	return m.Raw[66:]
}

func decodeNodeAnnouncement(f FieldMap, raw []byte) (*NodeAnnouncement, error) {
	sig, err := sigFromField(f["signature"])
	if err != nil {
		return nil, err
	}
	pk, err := parsePubKey(f["node_id"])
	if err != nil {
		return nil, err
	}
	addrs, err := decodeAddresses(f["addresses"])
	if err != nil {
		return nil, err
	}
	m := &NodeAnnouncement{
		Signature: sig,
		Features:  f["features"],
		Timestamp: f.Uint32("timestamp"),
		NodeID:    pk,
		Addresses: addrs,
		Raw:       raw,
	}
	copy(m.RGBColor[:], f["rgb_color"])
	copy(m.Alias[:], f["alias"])
	return m, nil
}

type ChannelUpdate struct {
	Signature                 Sig
	ChainHash                 [32]byte
	ShortChannelID            ShortChannelID
	Timestamp                 uint32
	MessageFlags              byte
	ChannelFlags              byte
	CltvExpiryDelta           uint16
	HtlcMinimumMsat           MilliSatoshi
	FeeBaseMsat               uint32
	FeeProportionalMillionths uint32
	Raw                       []byte
}

func (m *ChannelUpdate) MsgName() string { return "channel_update" }
func (m *ChannelUpdate) MarshalFields() FieldMap {
	return FieldMap{
		"signature":                    m.Signature[:],
		"chain_hash":                   m.ChainHash[:],
		"short_channel_id":             m.ShortChannelID.ToBytes(),
		"timestamp":                    PutUint(uint64(m.Timestamp), 4),
		"message_flags":                []byte{m.MessageFlags},
		"channel_flags":                []byte{m.ChannelFlags},
		"cltv_expiry_delta":            PutUint(uint64(m.CltvExpiryDelta), 2),
		"htlc_minimum_msat":            PutUint(uint64(m.HtlcMinimumMsat), 8),
		"fee_base_msat":                PutUint(uint64(m.FeeBaseMsat), 4),
		"fee_proportional_millionths":  PutUint(uint64(m.FeeProportionalMillionths), 4),
	}
}

// SignedDigest is the double-SHA256'd portion of the update that
// Signature commits to: everything after the 64-byte signature.
func (m *ChannelUpdate) SignedDigest() []byte {
	if len(m.Raw) <= 66 {
		return nil
	}
	return m.Raw[66:]
}

func decodeChannelUpdate(f FieldMap, raw []byte) (*ChannelUpdate, error) {
	sig, err := sigFromField(f["signature"])
	if err != nil {
		return nil, err
	}
	m := &ChannelUpdate{
		Signature:                 sig,
		ShortChannelID:            NewShortChannelIDFromBytes(f["short_channel_id"]),
		Timestamp:                 f.Uint32("timestamp"),
		MessageFlags:              f["message_flags"][0],
		ChannelFlags:              f["channel_flags"][0],
		CltvExpiryDelta:           f.Uint16("cltv_expiry_delta"),
		HtlcMinimumMsat:           MilliSatoshi(f.Uint64("htlc_minimum_msat")),
		FeeBaseMsat:               f.Uint32("fee_base_msat"),
		FeeProportionalMillionths: f.Uint32("fee_proportional_millionths"),
		Raw:                       raw,
	}
	copy(m.ChainHash[:], f["chain_hash"])
	return m, nil
}
