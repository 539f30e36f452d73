package kdb

import (
	"encoding/binary"
	"fmt"
)

// Block-LZ compression as produced by q's -18! and consumed by -19!.
// compressFrame takes a whole raw frame (8-byte header + payload) and
// returns the compressed frame: the copied header with the compressed
// flag set, total compressed size at bytes 4..8 and the uncompressed
// size at bytes 8..12, followed by the token stream. ok is false when
// compression would not reach less than half the raw size.
func compressFrame(raw []byte) (dst []byte, ok bool) {
	b := raw
	if len(b) <= 17 {
		return nil, false
	}
	i := byte(0)
	f, h0, h := int32(0), int32(0), int32(0)
	g := false
	dst = make([]byte, len(b)/2)
	c := 12
	d := c
	e := len(dst)
	p := 0
	q, r, s0 := int32(0), int32(0), int32(0)
	s := int32(8)
	t := int32(len(b))
	a := make([]int32, 256)
	copy(dst[:4], b[:4])
	dst[2] = 1
	binary.LittleEndian.PutUint32(dst[8:], uint32(len(b)))
	for ; s < t; i *= 2 {
		if 0 == i {
			if d > e-17 {
				return nil, false
			}
			i = 1
			dst[c] = byte(f)
			c = d
			d++
			f = 0
		}

		g = (s > t-3)
		if !g {
			h = int32(0xff & (b[s] ^ b[s+1]))
			p = int(a[h])
			g = (0 == p) || (0 != (b[s] ^ b[p]))
		}

		if 0 < s0 {
			a[h0] = s0
			s0 = 0
		}
		if g {
			h0 = h
			s0 = s
			dst[d] = b[s]
			d++
			s++
		} else {
			a[h] = s
			f |= int32(i)
			p += 2
			s += 2
			r = s
			q = min32(s+255, t)
			for b[p] == b[s] {
				s++
				if s >= q {
					break
				}
				p++
			}
			dst[d] = byte(h)
			d++
			dst[d] = byte(s - r)
			d++
		}
	}
	dst[c] = byte(f)
	binary.LittleEndian.PutUint32(dst[4:], uint32(d))
	return dst[:d:d], true
}

func min32(a, b int32) int32 {
	if a > b {
		return b
	}
	return a
}

// uncompressPayload expands the post-header bytes of a compressed frame
// (4-byte uncompressed size, then the token stream) and returns exactly
// size-8 payload bytes. Sizes and back-references are validated before
// any write; adversarial input yields a typed error, never a panic.
func uncompressPayload(b []byte, order binary.ByteOrder, maxSize int) ([]byte, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("%w: missing size field", ErrCorruptCompressed)
	}
	usize := int64(order.Uint32(b[0:4]))
	if usize < 8 {
		return nil, fmt.Errorf("%w: size %d below header", ErrCorruptCompressed, usize)
	}
	if usize > int64(maxSize) {
		return nil, fmt.Errorf("%w: claims %d bytes", ErrDecompressionBomb, usize)
	}
	// dst[0:8] stands in for the frame header and is never written;
	// hash positions are absolute against this layout
	dst := make([]byte, usize)
	n, r, f, s := int32(0), int32(0), int32(0), int32(8)
	p := s
	i := int16(0)
	d := int32(4)
	aa := make([]int32, 256)
	for int64(s) < usize {
		if i == 0 {
			if int(d) >= len(b) {
				return nil, fmt.Errorf("%w: truncated command mask", ErrCorruptCompressed)
			}
			f = 0xff & int32(b[d])
			d++
			i = 1
		}
		if (f & int32(i)) != 0 {
			if int(d)+2 > len(b) {
				return nil, fmt.Errorf("%w: truncated back reference", ErrCorruptCompressed)
			}
			r = aa[0xff&int32(b[d])]
			d++
			if r < 8 || r >= s {
				return nil, fmt.Errorf("%w: offset %d at output %d", ErrInvalidBackReference, r, s)
			}
			if int64(s)+2 > usize {
				return nil, fmt.Errorf("%w: write past claimed size", ErrCorruptCompressed)
			}
			dst[s] = dst[r]
			s++
			r++
			dst[s] = dst[r]
			s++
			r++
			n = 0xff & int32(b[d])
			d++
			if int64(s)+int64(n) > usize {
				return nil, fmt.Errorf("%w: write past claimed size", ErrCorruptCompressed)
			}
			for m := int32(0); m < n; m++ {
				dst[s+m] = dst[r+m]
			}
		} else {
			if int(d) >= len(b) {
				return nil, fmt.Errorf("%w: truncated literal", ErrCorruptCompressed)
			}
			dst[s] = b[d]
			s++
			d++
		}
		for p < s-1 {
			aa[(0xff&int32(dst[p]))^(0xff&int32(dst[p+1]))] = p
			p++
		}
		if (f & int32(i)) != 0 {
			s += n
			p = s
		}
		i *= 2
		if i == 256 {
			i = 0
		}
	}
	return dst[8:], nil
}
