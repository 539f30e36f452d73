package kdb

import (
	"math"
	"time"
)

// ReqType is the message type carried in header byte 1.
type ReqType byte

// Request type
const (
	ASYNC    ReqType = 0
	SYNC     ReqType = 1
	RESPONSE ReqType = 2
)

// Attr is a vector attribute flag
type Attr int8

const (
	NONE Attr = iota
	SORTED
	UNIQUE
	PARTED
	GROUPED
)

const (
	K0 int8 = 0 // generic type
	//      type bytes qtype     ctype  accessor
	KB int8 = 1  // 1 boolean   char   kG
	UU int8 = 2  // 16 guid     U      kU
	KG int8 = 4  // 1 byte      char   kG
	KH int8 = 5  // 2 short     short  kH
	KI int8 = 6  // 4 int       int    kI
	KJ int8 = 7  // 8 long      long   kJ
	KE int8 = 8  // 4 real      float  kE
	KF int8 = 9  // 8 float     double kF
	KC int8 = 10 // 1 char      char   kC
	KS int8 = 11 // * symbol    char*  kS

	KP int8 = 12 // 8 timestamp long   kJ (nanoseconds from 2000.01.01)
	KM int8 = 13 // 4 month     int    kI (months from 2000.01.01)
	KD int8 = 14 // 4 date      int    kI (days from 2000.01.01)
	KZ int8 = 15 // 8 datetime  double kF (days from 2000.01.01, DO NOT USE)
	KN int8 = 16 // 8 timespan  long   kJ (nanoseconds)
	KU int8 = 17 // 4 minute    int    kI
	KV int8 = 18 // 4 second    int    kI
	KT int8 = 19 // 4 time      int    kI (millisecond)

	// enumeration. decoded to the int indices only; encoding is refused
	KENUM int8 = 20

	// table,dict
	XT int8 = 98  //   x->k is XD
	XD int8 = 99  //   kK(x)[0] is keys. kK(x)[1] is values.
	SD int8 = 127 //   sorted dict (keys carry the sorted attribute)

	// function types
	KFUNC      int8 = 100 // lambda: context + body
	KFUNCUP    int8 = 101 // unary primitive (tag 0 is generic null)
	KFUNCBP    int8 = 102 // binary primitive
	KFUNCTR    int8 = 103 // ternary (operator)
	KPROJ      int8 = 104 // projection
	KCOMP      int8 = 105 // composition
	KEACH      int8 = 106 // f'
	KOVER      int8 = 107 // f/
	KSCAN      int8 = 108 // f\
	KPRIOR     int8 = 109 // f':
	KEACHRIGHT int8 = 110 // f/:
	KEACHLEFT  int8 = 111 // f\:
	KDYNLOAD   int8 = 112 // dynamic load / foreign. decode-only

	// error type
	KERR int8 = -128
)

// Null and infinity payloads of the fixed-width integer types.
const (
	Nh int16 = -0x8000
	Wh int16 = 0x7FFF
	Ni int32 = -0x80000000
	Wi int32 = 0x7FFFFFFF
	Nj int64 = -0x8000000000000000
	Wj int64 = 0x7FFFFFFFFFFFFFFF
)

// Null, infinity and negative infinity payloads of the floating-point
// types (0Ne, 0We, -0We, 0n, 0w, -0w).
var (
	Ne    = float32(math.NaN())
	We    = float32(math.Inf(1))
	NegWe = float32(math.Inf(-1))
	Nf    = math.NaN()
	Wf    = math.Inf(1)
	NegWf = math.Inf(-1)
)

type ipcHeader struct {
	ByteOrder   byte
	RequestType byte
	Compressed  byte
	Reserved    byte
	MsgSize     uint32
}

// K is the tagged representation of a q value. Type matches the on-wire
// type byte (negative for atoms), Attr is the vector attribute and Data
// holds the typed payload.
type K struct {
	Type int8
	Attr Attr
	Data interface{}
}

var qEpoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// Month counts months from 2000.01.01
type Month int32

// Minute counts minutes from midnight
type Minute int32

// Second counts seconds from midnight
type Second int32

// Time counts milliseconds from midnight
type Time int32

// Table of columns with equal lengths
type Table struct {
	Columns []string
	Data    []*K
}

// Dict is an ordered key->value mapping of two equal-length vectors
type Dict struct {
	Key   *K
	Value *K
}

// Function is a q lambda with its context namespace
type Function struct {
	Namespace string
	Body      string
}
