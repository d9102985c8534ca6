package j2kview

// Bit depth limits from the SIZ marker (Ssiz & 0x7F) + 1.
const (
	minBitDepth = 1
	maxBitDepth = 38
)

// normalizer holds the precomputed shift and bias for one component.
type normalizer struct {
	shift uint
	bias  int64
}

func newNormalizer(bitDepth int, signed bool) normalizer {
	bitDepth = min(max(bitDepth, minBitDepth), maxBitDepth)
	var n normalizer
	if bitDepth > 8 {
		n.shift = uint(bitDepth - 8)
		n.bias = 1 << (n.shift - 1)
	}
	if signed {
		n.bias += 1 << (bitDepth - 1)
	}
	return n
}

func (n normalizer) apply(sample int32) uint8 {
	v := (int64(sample) + n.bias) >> n.shift
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// NormalizeSample maps one decoded sample to an 8-bit channel value.
//
// Samples deeper than 8 bits are rounded to the nearest 8-bit value and
// signed samples are re-centred onto the unsigned range first:
//
//	shift = max(bitDepth-8, 0)
//	bias  = 1<<(shift-1) if shift > 0, plus 1<<(bitDepth-1) if signed
//	out   = clamp((sample+bias)>>shift, 0, 255)
//
// bitDepth is clamped to [1, 38].
func NormalizeSample(sample int32, bitDepth int, signed bool) uint8 {
	return newNormalizer(bitDepth, signed).apply(sample)
}
