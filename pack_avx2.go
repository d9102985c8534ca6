//go:build amd64 && goexperiment.simd

package j2kview

import (
	"simd/archsimd"

	"github.com/ajroetker/go-highway/hwy"
)

func init() {
	if hwy.NoSimdEnv() {
		return
	}
	switch {
	case archsimd.X86.AVX512():
		vectorKernel = packAVX512
	case archsimd.X86.AVX2():
		vectorKernel = packAVX2
	}
}

type avx2Range struct {
	lo, hi, bias archsimd.Int32x8
	shift        uint64
}

func newAVX2Range(r pixelRange) avx2Range {
	return avx2Range{
		lo:    archsimd.BroadcastInt32x8(r.lo),
		hi:    archsimd.BroadcastInt32x8(r.hi),
		bias:  archsimd.BroadcastInt32x8(r.bias),
		shift: uint64(r.shift),
	}
}

// channel normalizes 8 samples into the low byte of each lane.
func (r *avx2Range) channel(src []int32) archsimd.Int32x8 {
	return archsimd.LoadInt32x8Slice(src).Max(r.lo).Min(r.hi).Add(r.bias).ShiftAllRight(r.shift)
}

func packAVX2(dst []int32, lines [][]int32, width int, pr pixelRange) int {
	r := newAVX2Range(pr)
	alpha := archsimd.BroadcastInt32x8(alphaWord)
	x := 0
	if len(lines) == 1 {
		src := lines[0][:width]
		for ; x+8 <= width; x += 8 {
			v := r.channel(src[x : x+8])
			v.Or(v.ShiftAllLeft(8)).Or(v.ShiftAllLeft(16)).Or(alpha).StoreSlice(dst[x : x+8])
		}
		return x
	}

	rs, gs, bs := lines[0][:width], lines[1][:width], lines[2][:width]
	for ; x+8 <= width; x += 8 {
		px := r.channel(rs[x : x+8]).
			Or(r.channel(gs[x : x+8]).ShiftAllLeft(8)).
			Or(r.channel(bs[x : x+8]).ShiftAllLeft(16)).
			Or(alpha)
		px.StoreSlice(dst[x : x+8])
	}
	return x
}
