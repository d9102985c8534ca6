package j2kview

import (
	"github.com/ajroetker/go-highway/hwy/contrib/wavelet"
)

// waveletKind is the wavelet filter signalled in COD/COC.
type waveletKind int

const (
	wavelet53 waveletKind = iota // 5/3 reversible
	wavelet97                    // 9/7 irreversible
)

// Lifting coefficients for the 9/7 filter (ITU-T T.800 Table F.4).
const (
	lift97Alpha float64 = -1.586134342059924
	lift97Beta  float64 = -0.052980118572961
	lift97Gamma float64 = 0.882911075530934
	lift97Delta float64 = 0.443506852043971
	lift97K     float64 = 1.230174104914001
	// High-pass samples are scaled by 2/K rather than 1/K, as OpenJPEG does.
	// Dequantization uses a unit gain for every 9/7 subband to compensate.
	lift97TwoInvK float64 = 2.0 / 1.230174104914001
)

// resBounds is the size and origin of one resolution level. The origin
// parity selects the lifting phase.
type resBounds struct {
	Width, Height int
	X0, Y0        int
}

// synthesize53 runs the inverse 5/3 DWT in place. dims[0] is the coarsest
// resolution; synthesis stops at the last entry, so passing a prefix of the
// resolutions yields a reduced image in the top-left corner.
func synthesize53(coeffs [][]int32, dims []resBounds) {
	half := (maxDim(dims) + 1) / 2
	low := make([]int32, half)
	high := make([]int32, half)
	synthesize2D(coeffs, dims, func(line []int32, cas int) {
		synthesize53Line(line, low, high, cas)
	})
}

// synthesize97 runs the inverse 9/7 DWT in place. See synthesize53.
func synthesize97(coeffs [][]float64, dims []resBounds) {
	half := (maxDim(dims) + 1) / 2
	low := make([]float64, half)
	high := make([]float64, half)
	synthesize2D(coeffs, dims, func(line []float64, cas int) {
		synthesize97Line(line, low, high, cas)
	})
}

// synthesize2D applies a 1D synthesis to the rows and then the columns of
// each resolution level, coarsest first.
func synthesize2D[T int32 | float64](coeffs [][]T, dims []resBounds, line func([]T, int)) {
	if len(dims) < 2 {
		return
	}
	col := make([]T, maxDim(dims))
	for _, d := range dims[1:] {
		casH, casV := d.X0%2, d.Y0%2
		for y := range d.Height {
			line(coeffs[y][:d.Width], casH)
		}
		for x := range d.Width {
			for y := range d.Height {
				col[y] = coeffs[y][x]
			}
			line(col[:d.Height], casV)
			for y := range d.Height {
				coeffs[y][x] = col[y]
			}
		}
	}
}

// synthesize53Line inverts one 5/3 decomposition of data. low and high are
// scratch space of at least (len(data)+1)/2 samples.
func synthesize53Line(data, low, high []int32, cas int) {
	wavelet.Synthesize53Bufs(data, cas, low, high)
}

// synthesize97Line inverts one 9/7 decomposition of data, which holds the
// low-pass half followed by the high-pass half. low and high are scratch
// space of at least (len(data)+1)/2 samples.
func synthesize97Line(data, low, high []float64, cas int) {
	n := len(data)
	if n <= 1 {
		return
	}
	sn, dn := (n+1)/2, n/2
	if cas != 0 {
		sn, dn = dn, sn
	}
	low, high = low[:sn], high[:dn]
	copy(low, data[:sn])
	copy(high, data[sn:])

	wavelet.ScaleSlice(low, sn, lift97K)
	wavelet.ScaleSlice(high, dn, lift97TwoInvK)

	// Update steps lift the low band (phase 1-cas), predict steps the high
	// band (phase cas).
	wavelet.LiftStep97(low, sn, high, dn, lift97Delta, 1-cas)
	wavelet.LiftStep97(high, dn, low, sn, lift97Gamma, cas)
	wavelet.LiftStep97(low, sn, high, dn, lift97Beta, 1-cas)
	wavelet.LiftStep97(high, dn, low, sn, lift97Alpha, cas)

	wavelet.Interleave(data, low, sn, high, dn, cas)
}

func maxDim(dims []resBounds) int {
	m := 0
	for _, d := range dims {
		m = max(m, d.Width, d.Height)
	}
	return m
}
