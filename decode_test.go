package kdb

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"reflect"
	"testing"
)

// Every frame in the encoding table decodes back to its input.
func TestDecodeEncodingTable(t *testing.T) {
	for _, tt := range encodingTests {
		data, msgtype, err := Decode(bufio.NewReader(bytes.NewReader(tt.expected)))
		if err != nil {
			t.Errorf("Decoding '%s' failed: %s", tt.desc, err)
			continue
		}
		if msgtype != ASYNC {
			t.Errorf("Decoding '%s': wrong message type %d", tt.desc, msgtype)
		}
		if !reflect.DeepEqual(data, tt.input) {
			t.Errorf("Decoded '%s' incorrectly. Expected '%v', got '%v'\n", tt.desc, tt.input, data)
		}
	}
}

// Payloads re-encode byte-identically after a decode round trip.
func TestReencodeByteIdentical(t *testing.T) {
	for _, tt := range encodingTests {
		payload := tt.expected[8:]
		data, err := DecodePayload(payload, binary.LittleEndian, DefaultLimits())
		if err != nil {
			t.Errorf("'%s': decode failed: %s", tt.desc, err)
			continue
		}
		out, err := EncodePayload(data)
		if err != nil {
			t.Errorf("'%s': re-encode failed: %s", tt.desc, err)
			continue
		}
		if !bytes.Equal(out, payload) {
			t.Errorf("'%s': re-encode differs.\nwant %v\ngot  %v", tt.desc, payload, out)
		}
	}
}

func TestDecodeBigEndian(t *testing.T) {
	payload := []byte{0xfa, 0x00, 0x00, 0x00, 0x01}
	data, err := DecodePayload(payload, binary.BigEndian, DefaultLimits())
	if err != nil {
		t.Fatalf("decode failed: %s", err)
	}
	if !reflect.DeepEqual(data, Int(1)) {
		t.Errorf("expected 1i, got %v", data)
	}

	vec := []byte{0x07, 0x00, 0x00, 0x00, 0x00, 0x02,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x02}
	data, err = DecodePayload(vec, binary.BigEndian, DefaultLimits())
	if err != nil {
		t.Fatalf("decode failed: %s", err)
	}
	if !reflect.DeepEqual(data, LongV([]int64{1, 2})) {
		t.Errorf("expected 1 2j, got %v", data)
	}
}

func TestDecodeEnum(t *testing.T) {
	// enum atom: type -20, domain symbol, i32 index
	atom := append([]byte{0xec}, []byte("sym\x00")...)
	atom = append(atom, 0x2a, 0x00, 0x00, 0x00)
	data, err := DecodePayload(atom, binary.LittleEndian, DefaultLimits())
	if err != nil {
		t.Fatalf("enum atom decode failed: %s", err)
	}
	if data.Type != -KENUM {
		t.Fatalf("expected enum atom, got type %d", data.Type)
	}
	if x, err := data.Int(); err != nil || x != 42 {
		t.Errorf("expected index 42, got %v (%v)", x, err)
	}

	// enum list: type 20, attribute, length, domain, i32 values
	list := []byte{0x14, 0x00, 0x03, 0x00, 0x00, 0x00}
	list = append(list, []byte("sym\x00")...)
	list = append(list,
		0x01, 0x00, 0x00, 0x00,
		0x02, 0x00, 0x00, 0x00,
		0x03, 0x00, 0x00, 0x00)
	data, err = DecodePayload(list, binary.LittleEndian, DefaultLimits())
	if err != nil {
		t.Fatalf("enum list decode failed: %s", err)
	}
	if data.Type != KENUM || !reflect.DeepEqual(data.Data, []int32{1, 2, 3}) {
		t.Errorf("expected indices 1 2 3, got %v", data)
	}

	// truncated enum atom
	if _, err = DecodePayload(atom[:len(atom)-2], binary.LittleEndian, DefaultLimits()); !errors.Is(err, ErrShortRead) {
		t.Errorf("truncated enum: expected ErrShortRead, got %v", err)
	}
}

func TestDecodeForeign(t *testing.T) {
	payload := []byte{0x70, 0x00, 0x05, 0x00, 0x00, 0x00, 0x01, 0x02, 0x03, 0x04, 0x05}
	data, err := DecodePayload(payload, binary.LittleEndian, DefaultLimits())
	if err != nil {
		t.Fatalf("foreign decode failed: %s", err)
	}
	if data.Type != KDYNLOAD {
		t.Fatalf("expected foreign, got type %d", data.Type)
	}
	if b, err := data.Bytes(); err != nil || !bytes.Equal(b, []byte{1, 2, 3, 4, 5}) {
		t.Errorf("payload mismatch: %v (%v)", b, err)
	}
	// foreign objects do not re-encode
	if _, err = EncodePayload(data); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("expected ErrUnsupportedType, got %v", err)
	}
	// truncated payload
	if _, err = DecodePayload(payload[:8], binary.LittleEndian, DefaultLimits()); !errors.Is(err, ErrShortRead) {
		t.Errorf("expected ErrShortRead, got %v", err)
	}
}

// Projections carry a count and nested values; the byte span is kept and
// re-emitted verbatim.
func TestDecodeOpaqueProjection(t *testing.T) {
	inner := []byte{
		0x02, 0x00, 0x00, 0x00, // two inner values
		0x65, 0x00, // unary primitive 0
		0xf9, 0x2a, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // 42j
	}
	payload := append([]byte{0x68}, inner...)
	data, err := DecodePayload(payload, binary.LittleEndian, DefaultLimits())
	if err != nil {
		t.Fatalf("projection decode failed: %s", err)
	}
	if data.Type != KPROJ || !bytes.Equal(data.Data.([]byte), inner) {
		t.Fatalf("span not preserved: %v", data)
	}
	out, err := EncodePayload(data)
	if err != nil {
		t.Fatalf("re-encode failed: %s", err)
	}
	if !bytes.Equal(out, payload) {
		t.Errorf("re-encode differs.\nwant %v\ngot  %v", payload, out)
	}
}

// Adverbs wrap a single value.
func TestDecodeOpaqueAdverb(t *testing.T) {
	inner := []byte{0x66, 0x01} // binary primitive 1
	payload := append([]byte{0x6b}, inner...)
	data, err := DecodePayload(payload, binary.LittleEndian, DefaultLimits())
	if err != nil {
		t.Fatalf("adverb decode failed: %s", err)
	}
	if data.Type != KOVER || !bytes.Equal(data.Data.([]byte), inner) {
		t.Fatalf("span not preserved: %v", data)
	}
	out, _ := EncodePayload(data)
	if !bytes.Equal(out, payload) {
		t.Errorf("re-encode differs")
	}
}

func TestDecodeNull(t *testing.T) {
	data, err := DecodePayload([]byte{0x65, 0x00}, binary.LittleEndian, DefaultLimits())
	if err != nil {
		t.Fatalf("null decode failed: %s", err)
	}
	if !data.IsNull() {
		t.Errorf("expected generic null, got %v", data)
	}
	// non-zero tag stays an opaque unary primitive
	data, err = DecodePayload([]byte{0x65, 0x07}, binary.LittleEndian, DefaultLimits())
	if err != nil {
		t.Fatalf("unary primitive decode failed: %s", err)
	}
	if data.IsNull() || data.Data.(byte) != 7 {
		t.Errorf("expected primitive 7, got %v", data)
	}
	out, _ := EncodePayload(data)
	if !bytes.Equal(out, []byte{0x65, 0x07}) {
		t.Errorf("re-encode differs")
	}
}

func TestDecodeErrors(t *testing.T) {
	lim := DefaultLimits()
	cases := []struct {
		desc    string
		payload []byte
		want    error
	}{
		{"empty input", nil, ErrShortRead},
		{"truncated atom", []byte{0xf9, 0x01}, ErrShortRead},
		{"truncated vector header", []byte{0x07, 0x00, 0x02}, ErrShortRead},
		{"truncated vector body", []byte{0x07, 0x00, 0x02, 0x00, 0x00, 0x00, 0x01}, ErrShortRead},
		{"unknown type", []byte{0x30, 0x00}, ErrInvalidType},
		{"missing symbol terminator", []byte{0xf5, 0x61, 0x62}, ErrInvalidSymbol},
		{"bad symbol utf-8", []byte{0xf5, 0xff, 0xfe, 0x00}, ErrInvalidUTF8},
		{"oversized list", []byte{0x07, 0x00, 0xff, 0xff, 0xff, 0x7f, 0x00}, ErrListTooLarge},
		{"bad attribute", []byte{0x0b, 0x05, 0x01, 0x00, 0x00, 0x00, 0x61, 0x00}, ErrAttributeInvalid},
		{"dict length mismatch", append([]byte{0x63},
			append([]byte{0x0b, 0x00, 0x01, 0x00, 0x00, 0x00, 0x61, 0x00},
				0x06, 0x00, 0x02, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x02, 0x00, 0x00, 0x00)...), ErrInvalidValue},
		{"table with non-symbol columns", []byte{0x62, 0x00, 0x63,
			0x06, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00,
			0x00, 0x00, 0x01, 0x00, 0x00, 0x00,
			0x06, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00}, ErrInvalidValue},
	}
	for _, tt := range cases {
		_, err := DecodePayload(tt.payload, binary.LittleEndian, lim)
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: expected %v, got %v", tt.desc, tt.want, err)
		}
	}
}

func TestDecodeNestingTooDeep(t *testing.T) {
	lim := DefaultLimits()
	// 70 nested one-element compound lists around an int atom
	payload := bytes.Repeat([]byte{0x00, 0x00, 0x01, 0x00, 0x00, 0x00}, 70)
	payload = append(payload, 0xfa, 0x01, 0x00, 0x00, 0x00)
	if _, err := DecodePayload(payload, binary.LittleEndian, lim); !errors.Is(err, ErrNestingTooDeep) {
		t.Errorf("expected ErrNestingTooDeep, got %v", err)
	}
	// a custom limit admits it
	lim.MaxDepth = 128
	if _, err := DecodePayload(payload, binary.LittleEndian, lim); err != nil {
		t.Errorf("depth 70 under limit 128 should decode, got %v", err)
	}
}

// Any byte input yields a value or a typed error, never a panic.
func TestDecodeFuzzNoPanic(t *testing.T) {
	lim := DefaultLimits()
	lim.MaxListSize = 1 << 16
	for _, tt := range encodingTests {
		payload := tt.expected[8:]
		for n := 0; n <= len(payload); n++ {
			DecodePayload(payload[:n], binary.LittleEndian, lim)
		}
	}
	rng := uint64(0x9e3779b97f4a7c15)
	buf := make([]byte, 512)
	for round := 0; round < 2000; round++ {
		for i := range buf {
			rng ^= rng << 13
			rng ^= rng >> 7
			rng ^= rng << 17
			buf[i] = byte(rng)
		}
		DecodePayload(buf, binary.LittleEndian, lim)
		DecodePayload(buf, binary.BigEndian, lim)
	}
}
