package kdb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

// Values are serialized in the host byte order; the receiver honors
// header byte 0. Everything supported runs little endian.
const encodingByte byte = 1

var hostOrder binary.ByteOrder = binary.LittleEndian

// EncodePayload serializes the value to its payload encoding: type byte,
// attribute and length for vector-shaped values, then elements. No
// message header is produced.
func EncodePayload(data *K) ([]byte, error) {
	dbuf := new(bytes.Buffer)
	if err := writeData(dbuf, data); err != nil {
		return nil, err
	}
	return dbuf.Bytes(), nil
}

func writeVecHeader(dbuf *bytes.Buffer, t int8, attr Attr, n int) {
	dbuf.WriteByte(byte(t))
	dbuf.WriteByte(byte(attr))
	binary.Write(dbuf, hostOrder, int32(n))
}

func writeSym(dbuf *bytes.Buffer, s string) error {
	if strings.IndexByte(s, 0) != -1 {
		return fmt.Errorf("%w: symbol contains NUL", ErrInvalidValue)
	}
	dbuf.WriteString(s)
	dbuf.WriteByte(0)
	return nil
}

func writeData(dbuf *bytes.Buffer, k *K) (err error) {
	order := hostOrder
	switch k.Type {
	case -KB:
		dbuf.WriteByte(byte(k.Type))
		return binary.Write(dbuf, order, k.Data.(bool))
	case -UU, -KG, -KH, -KI, -KJ, -KE, -KF, -KC, -KM, -KZ, -KN, -KU, -KV, -KT:
		dbuf.WriteByte(byte(k.Type))
		return binary.Write(dbuf, order, k.Data)
	case -KS:
		dbuf.WriteByte(byte(k.Type))
		return writeSym(dbuf, k.Data.(string))
	case -KP:
		dbuf.WriteByte(byte(k.Type))
		ns := k.Data.(time.Time).Sub(qEpoch).Nanoseconds()
		return binary.Write(dbuf, order, ns)
	case -KD:
		dbuf.WriteByte(byte(k.Type))
		days := int32(k.Data.(time.Time).Sub(qEpoch) / (24 * time.Hour))
		return binary.Write(dbuf, order, days)
	case KB, UU, KG, KH, KI, KJ, KE, KF, KM, KZ, KN, KU, KV, KT:
		writeVecHeader(dbuf, k.Type, k.Attr, k.Len())
		return binary.Write(dbuf, order, k.Data)
	case KC:
		s := k.Data.(string)
		writeVecHeader(dbuf, k.Type, k.Attr, len(s))
		dbuf.WriteString(s)
		return nil
	case KS:
		data := k.Data.([]string)
		writeVecHeader(dbuf, k.Type, k.Attr, len(data))
		for _, s := range data {
			if err = writeSym(dbuf, s); err != nil {
				return err
			}
		}
		return nil
	case KP:
		data := k.Data.([]time.Time)
		writeVecHeader(dbuf, k.Type, k.Attr, len(data))
		for _, t := range data {
			if err = binary.Write(dbuf, order, t.Sub(qEpoch).Nanoseconds()); err != nil {
				return err
			}
		}
		return nil
	case KD:
		data := k.Data.([]time.Time)
		writeVecHeader(dbuf, k.Type, k.Attr, len(data))
		for _, t := range data {
			if err = binary.Write(dbuf, order, int32(t.Sub(qEpoch)/(24*time.Hour))); err != nil {
				return err
			}
		}
		return nil
	case K0:
		data := k.Data.([]*K)
		writeVecHeader(dbuf, k.Type, k.Attr, len(data))
		for _, c := range data {
			if err = writeData(dbuf, c); err != nil {
				return err
			}
		}
		return nil
	case XD, SD:
		d := k.Data.(Dict)
		if d.Key.Len() != d.Value.Len() {
			return fmt.Errorf("%w: dict sides differ in length", ErrInvalidValue)
		}
		dbuf.WriteByte(byte(k.Type))
		if err = writeData(dbuf, d.Key); err != nil {
			return err
		}
		return writeData(dbuf, d.Value)
	case XT:
		t := k.Data.(Table)
		if len(t.Columns) != len(t.Data) {
			return fmt.Errorf("%w: column name/data mismatch", ErrInvalidValue)
		}
		for _, c := range t.Data {
			if c.Len() != t.Rows() {
				return fmt.Errorf("%w: ragged table columns", ErrInvalidValue)
			}
		}
		dbuf.WriteByte(byte(k.Type))
		dbuf.WriteByte(byte(k.Attr))
		dbuf.WriteByte(byte(XD))
		if err = writeData(dbuf, &K{KS, NONE, t.Columns}); err != nil {
			return err
		}
		return writeData(dbuf, &K{K0, NONE, t.Data})
	case KFUNC:
		f := k.Data.(Function)
		dbuf.WriteByte(byte(k.Type))
		if err = writeSym(dbuf, f.Namespace); err != nil {
			return err
		}
		return writeData(dbuf, &K{KC, NONE, f.Body})
	case KFUNCUP, KFUNCBP, KFUNCTR:
		dbuf.WriteByte(byte(k.Type))
		dbuf.WriteByte(k.Data.(byte))
		return nil
	case KPROJ, KCOMP, KEACH, KOVER, KSCAN, KPRIOR, KEACHRIGHT, KEACHLEFT:
		// opaque payload preserved from decode, re-emitted verbatim
		dbuf.WriteByte(byte(k.Type))
		dbuf.Write(k.Data.([]byte))
		return nil
	case KERR:
		dbuf.WriteByte(byte(k.Type))
		return writeSym(dbuf, k.Data.(error).Error())
	case KENUM, -KENUM, KDYNLOAD:
		return fmt.Errorf("%w: type %d", ErrUnsupportedType, k.Type)
	}
	return fmt.Errorf("%w: type %d", ErrUnsupportedType, k.Type)
}
