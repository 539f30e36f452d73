package kdb

import (
	"reflect"
	"time"

	"github.com/nu7hatch/gouuid"
)

// Atom constructors. Vectors of the basic types are built with the *V
// counterparts or with K literals such as &K{KI, NONE, []int32{1, 2}}.

func Bool(x bool) *K              { return &K{-KB, NONE, x} }
func Guid(x uuid.UUID) *K         { return &K{-UU, NONE, x} }
func Byte(x byte) *K              { return &K{-KG, NONE, x} }
func Short(x int16) *K            { return &K{-KH, NONE, x} }
func Int(x int32) *K              { return &K{-KI, NONE, x} }
func Long(x int64) *K             { return &K{-KJ, NONE, x} }
func Real(x float32) *K           { return &K{-KE, NONE, x} }
func Float(x float64) *K          { return &K{-KF, NONE, x} }
func Char(x byte) *K              { return &K{-KC, NONE, x} }
func Symbol(x string) *K          { return &K{-KS, NONE, x} }
func Timestamp(x time.Time) *K    { return &K{-KP, NONE, x} }
func Date(x time.Time) *K         { return &K{-KD, NONE, x} }
func Timespan(x time.Duration) *K { return &K{-KN, NONE, x} }

func BoolV(x []bool) *K      { return &K{KB, NONE, x} }
func GuidV(x []uuid.UUID) *K { return &K{UU, NONE, x} }
func ByteV(x []byte) *K      { return &K{KG, NONE, x} }
func ShortV(x []int16) *K    { return &K{KH, NONE, x} }
func IntV(x []int32) *K      { return &K{KI, NONE, x} }
func LongV(x []int64) *K     { return &K{KJ, NONE, x} }
func RealV(x []float32) *K   { return &K{KE, NONE, x} }
func FloatV(x []float64) *K  { return &K{KF, NONE, x} }
func CharV(x string) *K      { return &K{KC, NONE, x} }
func SymbolV(x []string) *K  { return &K{KS, NONE, x} }

// Null returns the generic null (::).
func Null() *K { return &K{KFUNCUP, NONE, byte(0)} }

// Error wraps a Go error as a q error value.
func Error(e error) *K { return &K{KERR, NONE, e} }

// NewList makes a compound list from the given values.
func NewList(vals ...*K) *K { return &K{K0, NONE, vals} }

// NewDict makes a dictionary from a key vector and a value vector.
func NewDict(k, v *K) *K { return &K{XD, NONE, Dict{k, v}} }

// NewTable makes a table from column names and column vectors.
func NewTable(cols []string, data []*K) *K {
	return &K{XT, NONE, Table{cols, data}}
}

// NewFunc makes a q lambda with a context namespace ("" for root).
func NewFunc(namespace, body string) *K {
	return &K{KFUNC, NONE, Function{namespace, body}}
}

// IsNull reports whether k is the generic null.
func (k *K) IsNull() bool {
	b, ok := k.Data.(byte)
	return k.Type == KFUNCUP && ok && b == 0
}

// Typed accessors. Each returns the payload or ErrWrongType.

func (k *K) Bool() (bool, error) {
	if x, ok := k.Data.(bool); k.Type == -KB && ok {
		return x, nil
	}
	return false, ErrWrongType
}

func (k *K) Int() (int32, error) {
	if x, ok := k.Data.(int32); ok && (k.Type == -KI || k.Type == -KENUM) {
		return x, nil
	}
	return 0, ErrWrongType
}

func (k *K) Long() (int64, error) {
	if x, ok := k.Data.(int64); k.Type == -KJ && ok {
		return x, nil
	}
	return 0, ErrWrongType
}

func (k *K) Real() (float32, error) {
	if x, ok := k.Data.(float32); k.Type == -KE && ok {
		return x, nil
	}
	return 0, ErrWrongType
}

func (k *K) Float() (float64, error) {
	if x, ok := k.Data.(float64); ok && (k.Type == -KF || k.Type == -KZ) {
		return x, nil
	}
	return 0, ErrWrongType
}

func (k *K) Sym() (string, error) {
	if x, ok := k.Data.(string); k.Type == -KS && ok {
		return x, nil
	}
	return "", ErrWrongType
}

// Str returns the payload of a char vector.
func (k *K) Str() (string, error) {
	if x, ok := k.Data.(string); k.Type == KC && ok {
		return x, nil
	}
	return "", ErrWrongType
}

// Bytes returns the payload of a byte vector or of a foreign object.
func (k *K) Bytes() ([]byte, error) {
	if x, ok := k.Data.([]byte); ok && (k.Type == KG || k.Type == KDYNLOAD) {
		return x, nil
	}
	return nil, ErrWrongType
}

func (k *K) Dict() (Dict, error) {
	if x, ok := k.Data.(Dict); ok && (k.Type == XD || k.Type == SD) {
		return x, nil
	}
	return Dict{}, ErrWrongType
}

func (k *K) Table() (Table, error) {
	if x, ok := k.Data.(Table); k.Type == XT && ok {
		return x, nil
	}
	return Table{}, ErrWrongType
}

func (k *K) Func() (Function, error) {
	if x, ok := k.Data.(Function); k.Type == KFUNC && ok {
		return x, nil
	}
	return Function{}, ErrWrongType
}

// Len returns the number of elements: 1 for atoms, the element count for
// vectors, the key count for dictionaries and the row count for tables.
func (k *K) Len() int {
	switch {
	case k.Type >= K0 && k.Type <= KENUM:
		if s, ok := k.Data.(string); ok {
			return len(s)
		}
		return reflect.ValueOf(k.Data).Len()
	case k.Type == XD || k.Type == SD:
		return k.Data.(Dict).Key.Len()
	case k.Type == XT:
		return k.Data.(Table).Rows()
	default:
		return 1
	}
}

// vectorShaped reports whether k holds an ordered sequence.
func (k *K) vectorShaped() bool {
	return k.Type >= K0 && k.Type <= KENUM
}

// Elem returns the i-th element of a vector-shaped value wrapped as an
// atom (or the child itself for a compound list).
func (k *K) Elem(i int) (*K, error) {
	if !k.vectorShaped() {
		return nil, ErrWrongType
	}
	if i < 0 || i >= k.Len() {
		return nil, ErrIndexOutOfBounds
	}
	switch data := k.Data.(type) {
	case []*K:
		return data[i], nil
	case string:
		return &K{-KC, NONE, data[i]}, nil
	default:
		e := reflect.ValueOf(k.Data).Index(i).Interface()
		return &K{-k.Type, NONE, e}, nil
	}
}

// SetElem replaces the i-th element. For typed vectors v must hold the
// matching scalar payload; for compound lists v must be a *K.
func (k *K) SetElem(i int, v interface{}) error {
	if !k.vectorShaped() {
		return ErrWrongType
	}
	if i < 0 || i >= k.Len() {
		return ErrIndexOutOfBounds
	}
	if s, ok := k.Data.(string); ok {
		c, ok := v.(byte)
		if !ok {
			return ErrWrongType
		}
		b := []byte(s)
		b[i] = c
		k.Data = string(b)
		return nil
	}
	rv := reflect.ValueOf(k.Data)
	ev := reflect.ValueOf(v)
	if !ev.Type().AssignableTo(rv.Type().Elem()) {
		return ErrWrongType
	}
	rv.Index(i).Set(ev)
	return nil
}

// Push appends an element to a vector-shaped value.
func (k *K) Push(v interface{}) error {
	if !k.vectorShaped() {
		return ErrWrongType
	}
	if s, ok := k.Data.(string); ok {
		c, ok := v.(byte)
		if !ok {
			return ErrWrongType
		}
		k.Data = s + string(c)
		return nil
	}
	rv := reflect.ValueOf(k.Data)
	ev := reflect.ValueOf(v)
	if !ev.Type().AssignableTo(rv.Type().Elem()) {
		return ErrWrongType
	}
	k.Data = reflect.Append(rv, ev).Interface()
	return nil
}

// Pop removes and returns the last element wrapped as an atom.
func (k *K) Pop() (*K, error) {
	n := 0
	if k.vectorShaped() {
		n = k.Len()
	}
	if n == 0 {
		return nil, ErrIndexOutOfBounds
	}
	last, err := k.Elem(n - 1)
	if err != nil {
		return nil, err
	}
	if s, ok := k.Data.(string); ok {
		k.Data = s[:n-1]
		return last, nil
	}
	rv := reflect.ValueOf(k.Data)
	k.Data = rv.Slice(0, n-1).Interface()
	return last, nil
}

// Keys returns the key side of a dictionary.
func (k *K) Keys() (*K, error) {
	d, err := k.Dict()
	if err != nil {
		return nil, err
	}
	return d.Key, nil
}

// Values returns the value side of a dictionary.
func (k *K) Values() (*K, error) {
	d, err := k.Dict()
	if err != nil {
		return nil, err
	}
	return d.Value, nil
}

// Rows returns the table row count (the length of the first column).
func (t Table) Rows() int {
	if len(t.Data) == 0 {
		return 0
	}
	return t.Data[0].Len()
}

// Flip turns a symbols!compound-of-columns dictionary into a table.
func Flip(d *K) (*K, error) {
	dict, err := d.Dict()
	if err != nil {
		return nil, err
	}
	cols, ok := dict.Key.Data.([]string)
	if !ok || dict.Key.Type != KS {
		return nil, ErrInvalidValue
	}
	vals, ok := dict.Value.Data.([]*K)
	if !ok || dict.Value.Type != K0 {
		return nil, ErrInvalidValue
	}
	if len(cols) != len(vals) {
		return nil, ErrInvalidValue
	}
	for _, c := range vals {
		if !c.vectorShaped() && c.Type != XT {
			return nil, ErrInvalidValue
		}
		if len(vals) > 0 && c.Len() != vals[0].Len() {
			return nil, ErrInvalidValue
		}
	}
	return &K{XT, d.Attr, Table{cols, vals}}, nil
}
