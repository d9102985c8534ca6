//go:build amd64 && goexperiment.simd

package j2kview

import "simd/archsimd"

type avx512Range struct {
	lo, hi, bias archsimd.Int32x16
	shift        uint64
}

func newAVX512Range(r pixelRange) avx512Range {
	return avx512Range{
		lo:    archsimd.BroadcastInt32x16(r.lo),
		hi:    archsimd.BroadcastInt32x16(r.hi),
		bias:  archsimd.BroadcastInt32x16(r.bias),
		shift: uint64(r.shift),
	}
}

func (r *avx512Range) channel(src []int32) archsimd.Int32x16 {
	return archsimd.LoadInt32x16Slice(src).Max(r.lo).Min(r.hi).Add(r.bias).ShiftAllRight(r.shift)
}

// packAVX512 is packAVX2 with 16 pixels per step.
func packAVX512(dst []int32, lines [][]int32, width int, pr pixelRange) int {
	r := newAVX512Range(pr)
	alpha := archsimd.BroadcastInt32x16(alphaWord)
	x := 0
	if len(lines) == 1 {
		src := lines[0][:width]
		for ; x+16 <= width; x += 16 {
			v := r.channel(src[x : x+16])
			v.Or(v.ShiftAllLeft(8)).Or(v.ShiftAllLeft(16)).Or(alpha).StoreSlice(dst[x : x+16])
		}
	} else {
		rs, gs, bs := lines[0][:width], lines[1][:width], lines[2][:width]
		for ; x+16 <= width; x += 16 {
			px := r.channel(rs[x : x+16]).
				Or(r.channel(gs[x : x+16]).ShiftAllLeft(8)).
				Or(r.channel(bs[x : x+16]).ShiftAllLeft(16)).
				Or(alpha)
			px.StoreSlice(dst[x : x+16])
		}
	}
	return x
}
