// Copyright 2025 go-jpeg2000 Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package j2kview

import "unsafe"

// pixelRange is a normalizer folded into int32 lanes. Samples are clamped
// to [lo, hi] before the bias is added, so (sample+bias)>>shift lands in
// [0, 255] and never overflows.
type pixelRange struct {
	lo, hi, bias int32
	shift        uint
}

// alphaWord is an opaque alpha byte in the top of a little-endian RGBA word.
const alphaWord = -1 << 24

// maxLaneShift is the largest shift whose biased range fits in int32,
// reached at bit depth 31.
const maxLaneShift = 23

// lanes32 returns n as a pixelRange, or false when the bit depth is too
// deep for int32 lanes.
func (n normalizer) lanes32() (pixelRange, bool) {
	if n.shift > maxLaneShift {
		return pixelRange{}, false
	}
	hi := int64(256)<<n.shift - 1 - n.bias
	return pixelRange{
		lo:    int32(-n.bias),
		hi:    int32(hi),
		bias:  int32(n.bias),
		shift: n.shift,
	}, true
}

// apply is the single-lane form of the vector kernels.
func (r pixelRange) apply(sample int32) int32 {
	return (min(max(sample, r.lo), r.hi) + r.bias) >> r.shift
}

// vectorKernel packs the leading pixels of a row as little-endian RGBA
// words, one per pixel, and returns how many it packed. It is nil when no
// kernel is built in for the running CPU.
var vectorKernel func(dst []int32, lines [][]int32, width int, r pixelRange) int

// packVector is the vector form of packScalar and produces identical
// bytes. Pixels the kernel leaves over, and rows too deep for int32 lanes,
// are packed by the scalar loop.
func packVector(dst []byte, lines [][]int32, width int, n normalizer) {
	if width <= 0 {
		return
	}
	x := 0
	if vectorKernel != nil {
		if r, ok := n.lanes32(); ok {
			x = vectorKernel(pixelWords(dst, width), lines, width, r)
		}
	}
	if x < width {
		packScalarRange(dst, lines, x, width, n)
	}
}

// pixelWords views the first width RGBA pixels of dst as int32 words.
func pixelWords(dst []byte, width int) []int32 {
	dst = dst[:width*4]
	return unsafe.Slice((*int32)(unsafe.Pointer(unsafe.SliceData(dst))), width)
}
