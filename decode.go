package kdb

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
	"unicode/utf8"

	"github.com/nu7hatch/gouuid"
)

// payloadDecoder walks a payload byte slice with a cursor. Every read is
// bounds-checked and every length validated before allocation, so any
// byte input yields a value or a typed error, never a panic.
type payloadDecoder struct {
	b     []byte
	pos   int
	order binary.ByteOrder
	lim   Limits
}

// DecodePayload decodes one value from a payload produced by a frame
// with the given byte order.
func DecodePayload(b []byte, order binary.ByteOrder, lim Limits) (*K, error) {
	d := &payloadDecoder{b: b, order: order, lim: lim}
	return d.readData(0)
}

func (d *payloadDecoder) need(n int) error {
	if n < 0 || d.pos+n > len(d.b) {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrShortRead, n, len(d.b)-d.pos)
	}
	return nil
}

func (d *payloadDecoder) byte() (byte, error) {
	if err := d.need(1); err != nil {
		return 0, err
	}
	c := d.b[d.pos]
	d.pos++
	return c, nil
}

func (d *payloadDecoder) i16() (int16, error) {
	if err := d.need(2); err != nil {
		return 0, err
	}
	x := d.order.Uint16(d.b[d.pos:])
	d.pos += 2
	return int16(x), nil
}

func (d *payloadDecoder) i32() (int32, error) {
	if err := d.need(4); err != nil {
		return 0, err
	}
	x := d.order.Uint32(d.b[d.pos:])
	d.pos += 4
	return int32(x), nil
}

func (d *payloadDecoder) i64() (int64, error) {
	if err := d.need(8); err != nil {
		return 0, err
	}
	x := d.order.Uint64(d.b[d.pos:])
	d.pos += 8
	return int64(x), nil
}

func (d *payloadDecoder) f32() (float32, error) {
	x, err := d.i32()
	return math.Float32frombits(uint32(x)), err
}

func (d *payloadDecoder) f64() (float64, error) {
	x, err := d.i64()
	return math.Float64frombits(uint64(x)), err
}

// sym reads a NUL-terminated UTF-8 string.
func (d *payloadDecoder) sym() (string, error) {
	idx := bytes.IndexByte(d.b[d.pos:], 0)
	if idx == -1 {
		return "", fmt.Errorf("%w: missing NUL terminator", ErrInvalidSymbol)
	}
	s := d.b[d.pos : d.pos+idx]
	if !utf8.Valid(s) {
		return "", ErrInvalidUTF8
	}
	d.pos += idx + 1
	return string(s), nil
}

// vecHeader reads the attribute byte and element count of a vector,
// validating both before the caller allocates.
func (d *payloadDecoder) vecHeader() (Attr, int, error) {
	if err := d.need(5); err != nil {
		return NONE, 0, err
	}
	attr := Attr(int8(d.b[d.pos]))
	if attr < NONE || attr > GROUPED {
		return NONE, 0, fmt.Errorf("%w: %d", ErrAttributeInvalid, attr)
	}
	n := int(d.order.Uint32(d.b[d.pos+1:]))
	if n > d.lim.MaxListSize {
		return NONE, 0, fmt.Errorf("%w: %d elements", ErrListTooLarge, n)
	}
	d.pos += 5
	return attr, n, nil
}

func (d *payloadDecoder) readData(depth int) (*K, error) {
	if depth > d.lim.MaxDepth {
		return nil, fmt.Errorf("%w: depth %d", ErrNestingTooDeep, depth)
	}
	tb, err := d.byte()
	if err != nil {
		return nil, err
	}
	msgtype := int8(tb)
	switch msgtype {
	case -KB:
		c, err := d.byte()
		return &K{msgtype, NONE, c != 0}, err
	case -UU:
		if err := d.need(16); err != nil {
			return nil, err
		}
		var u uuid.UUID
		copy(u[:], d.b[d.pos:d.pos+16])
		d.pos += 16
		return &K{msgtype, NONE, u}, nil
	case -KG, -KC:
		c, err := d.byte()
		return &K{msgtype, NONE, c}, err
	case -KH:
		x, err := d.i16()
		return &K{msgtype, NONE, x}, err
	case -KI:
		x, err := d.i32()
		return &K{msgtype, NONE, x}, err
	case -KJ:
		x, err := d.i64()
		return &K{msgtype, NONE, x}, err
	case -KE:
		x, err := d.f32()
		return &K{msgtype, NONE, x}, err
	case -KF, -KZ:
		x, err := d.f64()
		return &K{msgtype, NONE, x}, err
	case -KS:
		s, err := d.sym()
		return &K{msgtype, NONE, s}, err
	case -KP:
		x, err := d.i64()
		return &K{msgtype, NONE, qEpoch.Add(time.Duration(x))}, err
	case -KM:
		x, err := d.i32()
		return &K{msgtype, NONE, Month(x)}, err
	case -KD:
		x, err := d.i32()
		return &K{msgtype, NONE, qEpoch.Add(time.Duration(x) * 24 * time.Hour)}, err
	case -KN:
		x, err := d.i64()
		return &K{msgtype, NONE, time.Duration(x)}, err
	case -KU:
		x, err := d.i32()
		return &K{msgtype, NONE, Minute(x)}, err
	case -KV:
		x, err := d.i32()
		return &K{msgtype, NONE, Second(x)}, err
	case -KT:
		x, err := d.i32()
		return &K{msgtype, NONE, Time(x)}, err
	case -KENUM:
		if _, err := d.sym(); err != nil {
			return nil, err
		}
		x, err := d.i32()
		return &K{msgtype, NONE, x}, err
	case KB:
		attr, n, err := d.vecHeader()
		if err != nil {
			return nil, err
		}
		if err = d.need(n); err != nil {
			return nil, err
		}
		arr := make([]bool, n)
		for i := range arr {
			arr[i] = d.b[d.pos+i] != 0
		}
		d.pos += n
		return &K{msgtype, attr, arr}, nil
	case UU:
		attr, n, err := d.vecHeader()
		if err != nil {
			return nil, err
		}
		if err = d.need(16 * n); err != nil {
			return nil, err
		}
		arr := make([]uuid.UUID, n)
		for i := range arr {
			copy(arr[i][:], d.b[d.pos:d.pos+16])
			d.pos += 16
		}
		return &K{msgtype, attr, arr}, nil
	case KG:
		attr, n, err := d.vecHeader()
		if err != nil {
			return nil, err
		}
		if err = d.need(n); err != nil {
			return nil, err
		}
		arr := make([]byte, n)
		copy(arr, d.b[d.pos:d.pos+n])
		d.pos += n
		return &K{msgtype, attr, arr}, nil
	case KH:
		attr, n, err := d.vecHeader()
		if err != nil {
			return nil, err
		}
		if err = d.need(2 * n); err != nil {
			return nil, err
		}
		arr := make([]int16, n)
		for i := range arr {
			arr[i] = int16(d.order.Uint16(d.b[d.pos:]))
			d.pos += 2
		}
		return &K{msgtype, attr, arr}, nil
	case KI:
		attr, arr, err := readI32s(d)
		return &K{msgtype, attr, arr}, err
	case KJ:
		attr, arr, err := readI64s(d)
		return &K{msgtype, attr, arr}, err
	case KE:
		attr, n, err := d.vecHeader()
		if err != nil {
			return nil, err
		}
		if err = d.need(4 * n); err != nil {
			return nil, err
		}
		arr := make([]float32, n)
		for i := range arr {
			arr[i] = math.Float32frombits(d.order.Uint32(d.b[d.pos:]))
			d.pos += 4
		}
		return &K{msgtype, attr, arr}, nil
	case KF, KZ:
		attr, n, err := d.vecHeader()
		if err != nil {
			return nil, err
		}
		if err = d.need(8 * n); err != nil {
			return nil, err
		}
		arr := make([]float64, n)
		for i := range arr {
			arr[i] = math.Float64frombits(d.order.Uint64(d.b[d.pos:]))
			d.pos += 8
		}
		return &K{msgtype, attr, arr}, nil
	case KC:
		attr, n, err := d.vecHeader()
		if err != nil {
			return nil, err
		}
		if err = d.need(n); err != nil {
			return nil, err
		}
		s := string(d.b[d.pos : d.pos+n])
		d.pos += n
		return &K{msgtype, attr, s}, nil
	case KS:
		attr, n, err := d.vecHeader()
		if err != nil {
			return nil, err
		}
		// a symbol is at least its terminator on the wire
		if err = d.need(n); err != nil {
			return nil, err
		}
		arr := make([]string, n)
		for i := range arr {
			if arr[i], err = d.sym(); err != nil {
				return nil, err
			}
		}
		return &K{msgtype, attr, arr}, nil
	case KP:
		attr, arr, err := readI64s(d)
		if err != nil {
			return nil, err
		}
		times := make([]time.Time, len(arr))
		for i, ns := range arr {
			times[i] = qEpoch.Add(time.Duration(ns))
		}
		return &K{msgtype, attr, times}, nil
	case KM:
		attr, arr, err := readI32s(d)
		if err != nil {
			return nil, err
		}
		months := make([]Month, len(arr))
		for i, x := range arr {
			months[i] = Month(x)
		}
		return &K{msgtype, attr, months}, nil
	case KD:
		attr, arr, err := readI32s(d)
		if err != nil {
			return nil, err
		}
		dates := make([]time.Time, len(arr))
		for i, days := range arr {
			dates[i] = qEpoch.Add(time.Duration(days) * 24 * time.Hour)
		}
		return &K{msgtype, attr, dates}, nil
	case KN:
		attr, arr, err := readI64s(d)
		if err != nil {
			return nil, err
		}
		spans := make([]time.Duration, len(arr))
		for i, ns := range arr {
			spans[i] = time.Duration(ns)
		}
		return &K{msgtype, attr, spans}, nil
	case KU:
		attr, arr, err := readI32s(d)
		if err != nil {
			return nil, err
		}
		mins := make([]Minute, len(arr))
		for i, x := range arr {
			mins[i] = Minute(x)
		}
		return &K{msgtype, attr, mins}, nil
	case KV:
		attr, arr, err := readI32s(d)
		if err != nil {
			return nil, err
		}
		secs := make([]Second, len(arr))
		for i, x := range arr {
			secs[i] = Second(x)
		}
		return &K{msgtype, attr, secs}, nil
	case KT:
		attr, arr, err := readI32s(d)
		if err != nil {
			return nil, err
		}
		times := make([]Time, len(arr))
		for i, x := range arr {
			times[i] = Time(x)
		}
		return &K{msgtype, attr, times}, nil
	case KENUM:
		attr, n, err := d.vecHeader()
		if err != nil {
			return nil, err
		}
		if _, err = d.sym(); err != nil {
			return nil, err
		}
		if err = d.need(4 * n); err != nil {
			return nil, err
		}
		arr := make([]int32, n)
		for i := range arr {
			arr[i] = int32(d.order.Uint32(d.b[d.pos:]))
			d.pos += 4
		}
		return &K{msgtype, attr, arr}, nil
	case K0:
		attr, n, err := d.vecHeader()
		if err != nil {
			return nil, err
		}
		// each child is at least a type byte
		if err = d.need(n); err != nil {
			return nil, err
		}
		arr := make([]*K, n)
		for i := range arr {
			if arr[i], err = d.readData(depth + 1); err != nil {
				return nil, err
			}
		}
		return &K{msgtype, attr, arr}, nil
	case XD, SD:
		dk, err := d.readData(depth + 1)
		if err != nil {
			return nil, err
		}
		dv, err := d.readData(depth + 1)
		if err != nil {
			return nil, err
		}
		if dk.Type == XT {
			// keyed table
			if dv.Type != XT || dk.Len() != dv.Len() {
				return nil, fmt.Errorf("%w: mismatched keyed table sides", ErrInvalidValue)
			}
		} else {
			if !dk.vectorShaped() || !dv.vectorShaped() {
				return nil, fmt.Errorf("%w: dict sides must be vector shaped", ErrInvalidValue)
			}
			if dk.Len() != dv.Len() {
				return nil, fmt.Errorf("%w: dict sides differ in length", ErrInvalidValue)
			}
		}
		return &K{msgtype, NONE, Dict{dk, dv}}, nil
	case XT:
		attrByte, err := d.byte()
		if err != nil {
			return nil, err
		}
		attr := Attr(int8(attrByte))
		if attr < NONE || attr > GROUPED {
			return nil, fmt.Errorf("%w: %d", ErrAttributeInvalid, attr)
		}
		dictType, err := d.byte()
		if err != nil {
			return nil, err
		}
		if int8(dictType) != XD && int8(dictType) != SD {
			return nil, fmt.Errorf("%w: table body %d", ErrInvalidType, int8(dictType))
		}
		dk, err := d.readData(depth + 1)
		if err != nil {
			return nil, err
		}
		dv, err := d.readData(depth + 1)
		if err != nil {
			return nil, err
		}
		cols, ok := dk.Data.([]string)
		if !ok || dk.Type != KS {
			return nil, fmt.Errorf("%w: table columns must be symbols", ErrInvalidValue)
		}
		vals, ok := dv.Data.([]*K)
		if !ok || dv.Type != K0 || len(cols) != len(vals) {
			return nil, fmt.Errorf("%w: table body shape", ErrInvalidValue)
		}
		for _, c := range vals {
			if !c.vectorShaped() || c.Len() != vals[0].Len() {
				return nil, fmt.Errorf("%w: ragged table columns", ErrInvalidValue)
			}
		}
		return &K{msgtype, attr, Table{cols, vals}}, nil
	case KFUNC:
		ns, err := d.sym()
		if err != nil {
			return nil, err
		}
		body, err := d.readData(depth + 1)
		if err != nil {
			return nil, err
		}
		s, ok := body.Data.(string)
		if !ok || body.Type != KC {
			return nil, fmt.Errorf("%w: lambda body must be a char vector", ErrInvalidValue)
		}
		return &K{msgtype, NONE, Function{ns, s}}, nil
	case KFUNCUP, KFUNCBP, KFUNCTR:
		tag, err := d.byte()
		return &K{msgtype, NONE, tag}, err
	case KPROJ, KCOMP:
		start := d.pos
		n, err := d.i32()
		if err != nil {
			return nil, err
		}
		if int(n) < 0 || int(n) > d.lim.MaxListSize {
			return nil, fmt.Errorf("%w: %d inner values", ErrListTooLarge, n)
		}
		for i := 0; i < int(n); i++ {
			if _, err = d.readData(depth + 1); err != nil {
				return nil, err
			}
		}
		raw := make([]byte, d.pos-start)
		copy(raw, d.b[start:d.pos])
		return &K{msgtype, NONE, raw}, nil
	case KEACH, KOVER, KSCAN, KPRIOR, KEACHRIGHT, KEACHLEFT:
		start := d.pos
		if _, err := d.readData(depth + 1); err != nil {
			return nil, err
		}
		raw := make([]byte, d.pos-start)
		copy(raw, d.b[start:d.pos])
		return &K{msgtype, NONE, raw}, nil
	case KDYNLOAD:
		attr, n, err := d.vecHeader()
		if err != nil {
			return nil, err
		}
		if err = d.need(n); err != nil {
			return nil, err
		}
		raw := make([]byte, n)
		copy(raw, d.b[d.pos:d.pos+n])
		d.pos += n
		return &K{msgtype, attr, raw}, nil
	case KERR:
		msg, err := d.sym()
		if err != nil {
			return nil, err
		}
		return &K{msgtype, NONE, errors.New(msg)}, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrInvalidType, msgtype)
}

func readI32s(d *payloadDecoder) (Attr, []int32, error) {
	attr, n, err := d.vecHeader()
	if err != nil {
		return NONE, nil, err
	}
	if err = d.need(4 * n); err != nil {
		return NONE, nil, err
	}
	arr := make([]int32, n)
	for i := range arr {
		arr[i] = int32(d.order.Uint32(d.b[d.pos:]))
		d.pos += 4
	}
	return attr, arr, nil
}

func readI64s(d *payloadDecoder) (Attr, []int64, error) {
	attr, n, err := d.vecHeader()
	if err != nil {
		return NONE, nil, err
	}
	if err = d.need(8 * n); err != nil {
		return NONE, nil, err
	}
	arr := make([]int64, n)
	for i := range arr {
		arr[i] = int64(d.order.Uint64(d.b[d.pos:]))
		d.pos += 8
	}
	return attr, arr, nil
}
