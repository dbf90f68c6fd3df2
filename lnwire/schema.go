// Package lnwire implements the declarative, schema-driven wire message
// codec described by BOLT 1, 2, and 7. Rather than one hand-written
// Decode/Encode pair per message type, a single table of field positions
// and lengths is walked generically, each field's position and length
// expressed as a small expression over literals and earlier field values.
package lnwire

import "fmt"

// atom is one term of a position or length expression: either an integer
// literal or a reference to an earlier field's value, interpreted as a
// big-endian unsigned integer.
type atom struct {
	lit int
	ref string
}

func lit(n int) atom { return atom{lit: n} }
func ref(name string) atom { return atom{ref: name} }

type exprKind int

const (
	exprSum exprKind = iota
	exprProduct
)

// expr is a position or length expression: a sum or a product of atoms.
// The grammar deliberately does not allow mixing the two operators in one
// expression, matching calcexp's "+" .split vs "*".split dispatch.
type expr struct {
	kind  exprKind
	atoms []atom
}

func sumOf(atoms ...atom) expr     { return expr{kind: exprSum, atoms: atoms} }
func productOf(atoms ...atom) expr { return expr{kind: exprProduct, atoms: atoms} }

// eval resolves an expression against the fields already bound during a
// decode or encode pass.
func eval(e expr, bound FieldMap) (int, error) {
	switch e.kind {
	case exprSum:
		total := 0
		for _, a := range e.atoms {
			v, err := evalAtom(a, bound)
			if err != nil {
				return 0, err
			}
			total += v
		}
		return total, nil
	case exprProduct:
		total := 1
		for _, a := range e.atoms {
			v, err := evalAtom(a, bound)
			if err != nil {
				return 0, err
			}
			total *= v
		}
		return total, nil
	default:
		return 0, fmt.Errorf("lnwire: unknown expression kind %d", e.kind)
	}
}

func evalAtom(a atom, bound FieldMap) (int, error) {
	if a.ref == "" {
		return a.lit, nil
	}
	v, ok := bound[a.ref]
	if !ok {
		return 0, fmt.Errorf("lnwire: field %q referenced before it was bound", a.ref)
	}
	return beUint(v), nil
}

func beUint(b []byte) int {
	n := 0
	for _, c := range b {
		n = n<<8 | int(c)
	}
	return n
}

// fieldSpec describes one field of a message: its name, the expression its
// byte offset must equal, the expression giving its length, and whether it
// is an optional trailer field (BOLT 1's "it is also ok for the sender to
// omit fields at the end of the message").
type fieldSpec struct {
	name     string
	position expr
	length   expr
	feature  bool
}

type messageSpec struct {
	name     string
	typeCode uint16
	fields   []fieldSpec
}

// schemaBuilder assembles a messageSpec field by field, computing each
// field's position as the running sum of the lengths of every field that
// precedes it. This keeps the schema table below declarative (callers only
// ever state a field's length) while still producing the redundant,
// independently-checkable position expression decode relies on.
//
// A product-length field (htlc_signature's num_htlcs*64) cannot itself be
// folded into a later sum expression without mixing operators, so the
// builder requires it to be the final field of its message: it marks the
// builder sealed, and addField panics at package-init time if another field
// follows, which is the earliest this kind of schema bug could be caught.
type schemaBuilder struct {
	name     string
	typeCode uint16
	fields   []fieldSpec
	posAtoms []atom
	sealed   bool
}

func newSchema(name string, typeCode uint16) *schemaBuilder {
	return &schemaBuilder{name: name, typeCode: typeCode}
}

func (b *schemaBuilder) field(name string, length expr) *schemaBuilder {
	return b.addField(name, length, false)
}

func (b *schemaBuilder) trailer(name string, length expr) *schemaBuilder {
	return b.addField(name, length, true)
}

func (b *schemaBuilder) addField(name string, length expr, feature bool) *schemaBuilder {
	if b.sealed {
		panic(fmt.Sprintf("lnwire: schema %q: field %q follows a product-length field", b.name, name))
	}
	pos := sumOf(append([]atom(nil), b.posAtoms...)...)
	b.fields = append(b.fields, fieldSpec{name: name, position: pos, length: length, feature: feature})
	if length.kind == exprProduct {
		b.sealed = true
		return b
	}
	b.posAtoms = append(b.posAtoms, length.atoms...)
	return b
}

func (b *schemaBuilder) build() messageSpec {
	return messageSpec{name: b.name, typeCode: b.typeCode, fields: b.fields}
}

var byType = make(map[uint16]messageSpec)
var byName = make(map[string]messageSpec)

func register(b *schemaBuilder) {
	spec := b.build()
	if _, ok := byType[spec.typeCode]; ok {
		panic(fmt.Sprintf("lnwire: duplicate type code %d", spec.typeCode))
	}
	byType[spec.typeCode] = spec
	byName[spec.name] = spec
}

// Message type codes, per BOLT 1/2/7.
const (
	TypeInit                     uint16 = 16
	TypeError                    uint16 = 17
	TypePing                     uint16 = 18
	TypePong                     uint16 = 19
	TypeOpenChannel              uint16 = 32
	TypeAcceptChannel            uint16 = 33
	TypeFundingCreated           uint16 = 34
	TypeFundingSigned            uint16 = 35
	TypeFundingLocked            uint16 = 36
	TypeShutdown                 uint16 = 38
	TypeClosingSigned            uint16 = 39
	TypeUpdateAddHTLC            uint16 = 128
	TypeUpdateFulfillHTLC        uint16 = 130
	TypeUpdateFailHTLC           uint16 = 131
	TypeCommitmentSigned         uint16 = 132
	TypeRevokeAndAck             uint16 = 133
	TypeUpdateFee                uint16 = 134
	TypeUpdateFailMalformedHTLC  uint16 = 135
	TypeChannelReestablish       uint16 = 136
	TypeChannelAnnouncement      uint16 = 256
	TypeNodeAnnouncement         uint16 = 257
	TypeChannelUpdate            uint16 = 258
	TypeAnnouncementSignatures   uint16 = 259
)

func init() {
	register(newSchema("init", TypeInit).
		field("gflen", sumOf(lit(2))).
		field("globalfeatures", sumOf(ref("gflen"))).
		field("lflen", sumOf(lit(2))).
		field("localfeatures", sumOf(ref("lflen"))))

	register(newSchema("error", TypeError).
		field("channel_id", sumOf(lit(32))).
		field("len", sumOf(lit(2))).
		field("data", sumOf(ref("len"))))

	register(newSchema("ping", TypePing).
		field("num_pong_bytes", sumOf(lit(2))).
		field("byteslen", sumOf(lit(2))).
		field("ignored", sumOf(ref("byteslen"))))

	register(newSchema("pong", TypePong).
		field("byteslen", sumOf(lit(2))).
		field("ignored", sumOf(ref("byteslen"))))

	register(newSchema("open_channel", TypeOpenChannel).
		field("chain_hash", sumOf(lit(32))).
		field("temporary_channel_id", sumOf(lit(32))).
		field("funding_satoshis", sumOf(lit(8))).
		field("push_msat", sumOf(lit(8))).
		field("dust_limit_satoshis", sumOf(lit(8))).
		field("max_htlc_value_in_flight_msat", sumOf(lit(8))).
		field("channel_reserve_satoshis", sumOf(lit(8))).
		field("htlc_minimum_msat", sumOf(lit(8))).
		field("feerate_per_kw", sumOf(lit(4))).
		field("to_self_delay", sumOf(lit(2))).
		field("max_accepted_htlcs", sumOf(lit(2))).
		field("funding_pubkey", sumOf(lit(33))).
		field("revocation_basepoint", sumOf(lit(33))).
		field("payment_basepoint", sumOf(lit(33))).
		field("delayed_payment_basepoint", sumOf(lit(33))).
		field("htlc_basepoint", sumOf(lit(33))).
		field("first_per_commitment_point", sumOf(lit(33))).
		field("channel_flags", sumOf(lit(1))))

	register(newSchema("accept_channel", TypeAcceptChannel).
		field("temporary_channel_id", sumOf(lit(32))).
		field("dust_limit_satoshis", sumOf(lit(8))).
		field("max_htlc_value_in_flight_msat", sumOf(lit(8))).
		field("channel_reserve_satoshis", sumOf(lit(8))).
		field("htlc_minimum_msat", sumOf(lit(8))).
		field("minimum_depth", sumOf(lit(4))).
		field("to_self_delay", sumOf(lit(2))).
		field("max_accepted_htlcs", sumOf(lit(2))).
		field("funding_pubkey", sumOf(lit(33))).
		field("revocation_basepoint", sumOf(lit(33))).
		field("payment_basepoint", sumOf(lit(33))).
		field("delayed_payment_basepoint", sumOf(lit(33))).
		field("htlc_basepoint", sumOf(lit(33))).
		field("first_per_commitment_point", sumOf(lit(33))))

	register(newSchema("funding_created", TypeFundingCreated).
		field("temporary_channel_id", sumOf(lit(32))).
		field("funding_txid", sumOf(lit(32))).
		field("funding_output_index", sumOf(lit(2))).
		field("signature", sumOf(lit(64))))

	register(newSchema("funding_signed", TypeFundingSigned).
		field("channel_id", sumOf(lit(32))).
		field("signature", sumOf(lit(64))))

	register(newSchema("funding_locked", TypeFundingLocked).
		field("channel_id", sumOf(lit(32))).
		field("next_per_commitment_point", sumOf(lit(33))))

	register(newSchema("shutdown", TypeShutdown).
		field("channel_id", sumOf(lit(32))).
		field("len", sumOf(lit(2))).
		field("scriptpubkey", sumOf(ref("len"))))

	register(newSchema("closing_signed", TypeClosingSigned).
		field("channel_id", sumOf(lit(32))).
		field("fee_satoshis", sumOf(lit(8))).
		field("signature", sumOf(lit(64))))

	register(newSchema("update_add_htlc", TypeUpdateAddHTLC).
		field("channel_id", sumOf(lit(32))).
		field("id", sumOf(lit(8))).
		field("amount_msat", sumOf(lit(8))).
		field("payment_hash", sumOf(lit(32))).
		field("cltv_expiry", sumOf(lit(4))).
		field("onion_routing_packet", sumOf(lit(1366))))

	register(newSchema("update_fulfill_htlc", TypeUpdateFulfillHTLC).
		field("channel_id", sumOf(lit(32))).
		field("id", sumOf(lit(8))).
		field("payment_preimage", sumOf(lit(32))))

	register(newSchema("update_fail_htlc", TypeUpdateFailHTLC).
		field("channel_id", sumOf(lit(32))).
		field("id", sumOf(lit(8))).
		field("len", sumOf(lit(2))).
		field("reason", sumOf(ref("len"))))

	register(newSchema("update_fail_malformed_htlc", TypeUpdateFailMalformedHTLC).
		field("channel_id", sumOf(lit(32))).
		field("id", sumOf(lit(8))).
		field("sha256_of_onion", sumOf(lit(32))).
		field("failure_code", sumOf(lit(2))))

	register(newSchema("commitment_signed", TypeCommitmentSigned).
		field("channel_id", sumOf(lit(32))).
		field("signature", sumOf(lit(64))).
		field("num_htlcs", sumOf(lit(2))).
		field("htlc_signature", productOf(ref("num_htlcs"), lit(64))))

	register(newSchema("revoke_and_ack", TypeRevokeAndAck).
		field("channel_id", sumOf(lit(32))).
		field("per_commitment_secret", sumOf(lit(32))).
		field("next_per_commitment_point", sumOf(lit(33))))

	register(newSchema("update_fee", TypeUpdateFee).
		field("channel_id", sumOf(lit(32))).
		field("feerate_per_kw", sumOf(lit(4))))

	register(newSchema("channel_reestablish", TypeChannelReestablish).
		field("channel_id", sumOf(lit(32))).
		field("next_local_commitment_number", sumOf(lit(8))).
		field("next_remote_revocation_number", sumOf(lit(8))).
		trailer("your_last_per_commitment_secret", sumOf(lit(32))).
		trailer("my_current_per_commitment_point", sumOf(lit(33))))

	register(newSchema("announcement_signatures", TypeAnnouncementSignatures).
		field("channel_id", sumOf(lit(32))).
		field("short_channel_id", sumOf(lit(8))).
		field("node_signature", sumOf(lit(64))).
		field("bitcoin_signature", sumOf(lit(64))))

	register(newSchema("channel_announcement", TypeChannelAnnouncement).
		field("node_signature_1", sumOf(lit(64))).
		field("node_signature_2", sumOf(lit(64))).
		field("bitcoin_signature_1", sumOf(lit(64))).
		field("bitcoin_signature_2", sumOf(lit(64))).
		field("len", sumOf(lit(2))).
		field("features", sumOf(ref("len"))).
		field("chain_hash", sumOf(lit(32))).
		field("short_channel_id", sumOf(lit(8))).
		field("node_id_1", sumOf(lit(33))).
		field("node_id_2", sumOf(lit(33))).
		field("bitcoin_key_1", sumOf(lit(33))).
		field("bitcoin_key_2", sumOf(lit(33))))

	register(newSchema("node_announcement", TypeNodeAnnouncement).
		field("signature", sumOf(lit(64))).
		field("flen", sumOf(lit(2))).
		field("features", sumOf(ref("flen"))).
		field("timestamp", sumOf(lit(4))).
		field("node_id", sumOf(lit(33))).
		field("rgb_color", sumOf(lit(3))).
		field("alias", sumOf(lit(32))).
		field("addrlen", sumOf(lit(2))).
		field("addresses", sumOf(ref("addrlen"))))

	register(newSchema("channel_update", TypeChannelUpdate).
		field("signature", sumOf(lit(64))).
		field("chain_hash", sumOf(lit(32))).
		field("short_channel_id", sumOf(lit(8))).
		field("timestamp", sumOf(lit(4))).
		field("message_flags", sumOf(lit(1))).
		field("channel_flags", sumOf(lit(1))).
		field("cltv_expiry_delta", sumOf(lit(2))).
		field("htlc_minimum_msat", sumOf(lit(8))).
		field("fee_base_msat", sumOf(lit(4))).
		field("fee_proportional_millionths", sumOf(lit(4))))
}
