package j2kview

import "fmt"

// Packer selects the implementation that converts decoded lines into
// interleaved 8-bit RGBA.
type Packer int

const (
	// PackerAuto picks PackerVector when the CPU probe reports vector
	// support and PackerScalar otherwise.
	PackerAuto Packer = iota
	PackerScalar
	PackerVector
)

func (p Packer) String() string {
	switch p {
	case PackerAuto:
		return "auto"
	case PackerScalar:
		return "scalar"
	case PackerVector:
		return "vector"
	default:
		return fmt.Sprintf("Packer(%d)", int(p))
	}
}

// selectPacker resolves PackerAuto against the CPU probe. The vector
// packer is only chosen when a vector kernel is built in for this CPU.
func selectPacker(p Packer) Packer {
	if p != PackerAuto {
		return p
	}
	if CPUExtLevel() >= 1 && vectorKernel != nil {
		return PackerVector
	}
	return PackerScalar
}

// packRow writes width RGBA pixels into dst from one gray line or three
// R, G, B lines. dst must hold at least width*4 bytes and every line at
// least width samples.
func packRow(p Packer, dst []byte, lines [][]int32, width int, n normalizer) {
	if p == PackerVector {
		packVector(dst, lines, width, n)
		return
	}
	packScalar(dst, lines, width, n)
}

func packScalar(dst []byte, lines [][]int32, width int, n normalizer) {
	packScalarRange(dst, lines, 0, width, n)
}

// packScalarRange packs pixels [from, to) of the row.
func packScalarRange(dst []byte, lines [][]int32, from, to int, n normalizer) {
	dst = dst[:to*4]
	if len(lines) == 1 {
		src := lines[0][:to]
		for x := from; x < to; x++ {
			v := n.apply(src[x])
			i := x * 4
			dst[i+0] = v
			dst[i+1] = v
			dst[i+2] = v
			dst[i+3] = 255
		}
		return
	}

	r, g, b := lines[0][:to], lines[1][:to], lines[2][:to]
	for x := from; x < to; x++ {
		i := x * 4
		dst[i+0] = n.apply(r[x])
		dst[i+1] = n.apply(g[x])
		dst[i+2] = n.apply(b[x])
		dst[i+3] = 255
	}
}
