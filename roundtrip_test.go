package kdb

import (
	"bytes"
	"encoding/binary"
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/nu7hatch/gouuid"
)

func genBoolV() gopter.Gen {
	return gen.SliceOf(gen.Bool()).Map(func(xs []bool) *K { return BoolV(xs) })
}

func genByteV() gopter.Gen {
	return gen.SliceOf(gen.UInt8()).Map(func(xs []byte) *K { return ByteV(xs) })
}

func genShortV() gopter.Gen {
	return gen.SliceOf(gen.Int16()).Map(func(xs []int16) *K { return ShortV(xs) })
}

func genRealV() gopter.Gen {
	return gen.SliceOf(gen.Float32()).Map(func(xs []float32) *K { return RealV(xs) })
}

func genIntV() gopter.Gen {
	return gen.SliceOf(gen.Int32()).Map(func(xs []int32) *K { return IntV(xs) })
}

func genLongV() gopter.Gen {
	return gen.SliceOf(gen.Int64()).Map(func(xs []int64) *K { return LongV(xs) })
}

func genFloatV() gopter.Gen {
	return gen.SliceOf(gen.Float64()).Map(func(xs []float64) *K { return FloatV(xs) })
}

func genCharV() gopter.Gen {
	return gen.AlphaString().Map(func(s string) *K { return CharV(s) })
}

func genSymbolV() gopter.Gen {
	return gen.SliceOf(gen.AlphaString()).Map(func(xs []string) *K { return SymbolV(xs) })
}

func genGuidV() gopter.Gen {
	return gen.SliceOf(gen.SliceOfN(16, gen.UInt8())).Map(func(xs [][]byte) *K {
		us := make([]uuid.UUID, len(xs))
		for i, b := range xs {
			copy(us[i][:], b)
		}
		return GuidV(us)
	})
}

func genTimestampV() gopter.Gen {
	return gen.SliceOf(gen.Int64Range(-1e15, 1e15)).Map(func(xs []int64) *K {
		ts := make([]time.Time, len(xs))
		for i, ns := range xs {
			ts[i] = qEpoch.Add(time.Duration(ns))
		}
		return &K{KP, NONE, ts}
	})
}

func genDateV() gopter.Gen {
	return gen.SliceOf(gen.Int32Range(-20000, 20000)).Map(func(xs []int32) *K {
		ds := make([]time.Time, len(xs))
		for i, days := range xs {
			ds[i] = qEpoch.Add(time.Duration(days) * 24 * time.Hour)
		}
		return &K{KD, NONE, ds}
	})
}

func genTimespanV() gopter.Gen {
	return gen.SliceOf(gen.Int64()).Map(func(xs []int64) *K {
		ds := make([]time.Duration, len(xs))
		for i, ns := range xs {
			ds[i] = time.Duration(ns)
		}
		return &K{KN, NONE, ds}
	})
}

func genAtom() gopter.Gen {
	return gen.OneGenOf(
		gen.Bool().Map(Bool),
		gen.UInt8().Map(Byte),
		gen.Int16().Map(Short),
		gen.Int32().Map(Int),
		gen.Int64().Map(Long),
		gen.Float64().Map(Float),
		gen.AlphaString().Map(Symbol),
		gen.Int64Range(-1e15, 1e15).Map(func(ns int64) *K {
			return Timestamp(qEpoch.Add(time.Duration(ns)))
		}),
		gen.Int32Range(-100000, 100000).Map(func(m int32) *K { return &K{-KM, NONE, Month(m)} }),
		gen.Int32Range(0, 1439).Map(func(m int32) *K { return &K{-KU, NONE, Minute(m)} }),
	)
}

func genVector() gopter.Gen {
	return gen.OneGenOf(
		genBoolV(), genByteV(), genShortV(), genIntV(), genLongV(),
		genRealV(), genFloatV(), genCharV(), genSymbolV(), genGuidV(),
		genTimestampV(), genDateV(), genTimespanV(),
	)
}

func genValue() gopter.Gen {
	return gen.OneGenOf(
		genAtom(),
		genVector(),
		// one level of nesting: compound, dict, table
		gen.SliceOfN(3, genAtom()).Map(func(vals []*K) *K { return NewList(vals...) }),
		gen.SliceOfN(4, gen.Int64()).Map(func(xs []int64) *K {
			return NewDict(SymbolV([]string{"a", "b", "c", "d"}), LongV(xs))
		}),
		gen.SliceOfN(5, gen.Float64()).Map(func(xs []float64) *K {
			syms := make([]string, len(xs))
			for i := range syms {
				syms[i] = "s"
			}
			return NewTable([]string{"f", "s"}, []*K{FloatV(xs), SymbolV(syms)})
		}),
	)
}

func TestRoundTripProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("decode(encode(v)) equals v", prop.ForAll(
		func(v *K) bool {
			payload, err := EncodePayload(v)
			if err != nil {
				return false
			}
			got, err := DecodePayload(payload, binary.LittleEndian, DefaultLimits())
			return err == nil && reflect.DeepEqual(got, v)
		},
		genValue(),
	))

	properties.Property("encode(decode(encode(v))) is byte-identical", prop.ForAll(
		func(v *K) bool {
			payload, err := EncodePayload(v)
			if err != nil {
				return false
			}
			mid, err := DecodePayload(payload, binary.LittleEndian, DefaultLimits())
			if err != nil {
				return false
			}
			again, err := EncodePayload(mid)
			return err == nil && bytes.Equal(payload, again)
		},
		genValue(),
	))

	properties.Property("frames survive the codec with compression", prop.ForAll(
		func(v *K) bool {
			c := NewCodec(WithCompressionMode(CompressAlways))
			dec, enc := c.Split()
			if err := enc.Feed(SYNC, v); err != nil {
				return false
			}
			var wire bytes.Buffer
			if err := enc.Flush(&wire); err != nil {
				return false
			}
			dec.Write(wire.Bytes())
			msg, ok, err := dec.Decode()
			return err == nil && ok && reflect.DeepEqual(msg.Data, v)
		},
		genValue(),
	))

	properties.TestingRun(t)
}

// Chunk boundaries never change the decoded frame sequence.
func TestChunkingProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("split streams decode like whole streams", prop.ForAll(
		func(v *K, chunk int) bool {
			var wire bytes.Buffer
			if err := Encode(&wire, ASYNC, v); err != nil {
				return false
			}
			whole := NewCodec().dec
			whole.Write(wire.Bytes())
			want, ok, err := whole.Decode()
			if err != nil || !ok {
				return false
			}

			split := NewCodec().dec
			data := wire.Bytes()
			var got *Message
			for off := 0; off < len(data); off += chunk {
				end := off + chunk
				if end > len(data) {
					end = len(data)
				}
				split.Write(data[off:end])
				if msg, ok, err := split.Decode(); err != nil {
					return false
				} else if ok {
					got = msg
				}
			}
			return got != nil && reflect.DeepEqual(got.Data, want.Data)
		},
		genValue(),
		gen.IntRange(1, 16),
	))

	properties.TestingRun(t)
}
