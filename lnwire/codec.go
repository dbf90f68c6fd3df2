package lnwire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// FieldMap holds a message's fields as raw big-endian bytes, keyed by the
// name used in schema.go. It is what Decode returns and what Encode
// consumes; the typed wrappers in messages.go convert to and from it.
type FieldMap map[string][]byte

// Uint64 interprets a field as a big-endian unsigned integer, zero-extending
// shorter fields (a field shorter than 8 bytes, such as the 4-byte
// feerate_per_kw, still has a well-defined Uint64 value).
func (f FieldMap) Uint64(name string) uint64 {
	return uint64(beUint64(f[name]))
}

func (f FieldMap) Uint32(name string) uint32 { return uint32(f.Uint64(name)) }
func (f FieldMap) Uint16(name string) uint16 { return uint16(f.Uint64(name)) }
func (f FieldMap) Uint8(name string) uint8   { return uint8(f.Uint64(name)) }

func beUint64(b []byte) uint64 {
	var n uint64
	for _, c := range b {
		n = n<<8 | uint64(c)
	}
	return n
}

// PutUint puts the low width bytes of v into a freshly allocated field
// value, for callers building a FieldMap to pass to Encode.
func PutUint(v uint64, width int) []byte {
	b := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

// MalformedMessageError is returned by Decode when the wire bytes do not
// match the declared schema: a short read, an offset mismatch, or a length
// that runs past the end of the message.
type MalformedMessageError struct {
	Msg string
}

func (e *MalformedMessageError) Error() string { return "lnwire: malformed message: " + e.Msg }

func malformedf(format string, args ...interface{}) error {
	return &MalformedMessageError{Msg: fmt.Sprintf(format, args...)}
}

// UnknownMessageError is returned by Decode when the type code does not
// match any registered schema. BOLT 1 requires odd-numbered unknown types to
// be ignored rather than treated as an error; callers should check
// TypeCode%2 before propagating this as a failure.
type UnknownMessageError struct {
	TypeCode uint16
}

func (e *UnknownMessageError) Error() string {
	return fmt.Sprintf("lnwire: unknown message type %d", e.TypeCode)
}

// EncodingError is returned by Encode when a caller-supplied field value's
// length does not match the schema's computed length for that field.
type EncodingError struct {
	Msg string
}

func (e *EncodingError) Error() string { return "lnwire: encoding error: " + e.Msg }

func encodingf(format string, args ...interface{}) error {
	return &EncodingError{Msg: fmt.Sprintf(format, args...)}
}

// Decode walks data's fields according to the schema selected by its
// leading 2-byte type code, asserting that the running byte offset equals
// each field's declared position expression, and returns the message name
// together with its decoded fields. A trailer field (marked feature in the
// schema) is permitted to be missing from the tail of the message, per
// BOLT 1's upgrade path for optional fields.
func Decode(data []byte) (string, FieldMap, error) {
	if len(data) < 2 {
		return "", nil, malformedf("message too short to contain a type code")
	}
	typeCode := binary.BigEndian.Uint16(data[:2])
	spec, ok := byType[typeCode]
	if !ok {
		return "", nil, &UnknownMessageError{TypeCode: typeCode}
	}
	body := data[2:]
	bound := make(FieldMap, len(spec.fields))
	pos := 0
	for _, f := range spec.fields {
		if f.feature && pos >= len(body) {
			continue
		}
		wantPos, err := eval(f.position, bound)
		if err != nil {
			return "", nil, err
		}
		if pos != wantPos {
			return "", nil, malformedf("%s: field %q expected at offset %d, decoder is at %d", spec.name, f.name, wantPos, pos)
		}
		length, err := eval(f.length, bound)
		if err != nil {
			return "", nil, err
		}
		if length < 0 || pos+length > len(body) {
			return "", nil, malformedf("%s: field %q of length %d overruns %d-byte message", spec.name, f.name, length, len(body))
		}
		bound[f.name] = body[pos : pos+length]
		pos += length
	}
	if pos != len(body) {
		return "", nil, malformedf("%s: %d trailing bytes after last field", spec.name, len(body)-pos)
	}
	return spec.name, bound, nil
}

// Encode serializes values into the wire format for the named message,
// filling any omitted non-trailer field with zero bytes of the schema's
// computed length. It returns an error if a supplied field's length
// disagrees with the schema.
func Encode(name string, values FieldMap) ([]byte, error) {
	spec, ok := byName[name]
	if !ok {
		return nil, fmt.Errorf("lnwire: unknown message name %q", name)
	}
	var buf bytes.Buffer
	var typeBytes [2]byte
	binary.BigEndian.PutUint16(typeBytes[:], spec.typeCode)
	buf.Write(typeBytes[:])

	bound := make(FieldMap, len(spec.fields))
	for _, f := range spec.fields {
		if f.feature {
			v, ok := values[f.name]
			if !ok {
				continue
			}
			length, err := eval(f.length, bound)
			if err != nil {
				return nil, err
			}
			if len(v) != length {
				return nil, encodingf("%s: field %q is %d bytes, schema requires %d", spec.name, f.name, len(v), length)
			}
			bound[f.name] = v
			buf.Write(v)
			continue
		}
		length, err := eval(f.length, bound)
		if err != nil {
			return nil, err
		}
		v, ok := values[f.name]
		if !ok {
			v = make([]byte, length)
		}
		if len(v) != length {
			return nil, encodingf("%s: field %q is %d bytes, schema requires %d", spec.name, f.name, len(v), length)
		}
		bound[f.name] = v
		buf.Write(v)
	}
	return buf.Bytes(), nil
}
