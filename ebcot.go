package j2kview

import "fmt"

// Code-block style flags (SPcod/SPcoc, T.800 Table A.19).
const (
	cbstyBypass     = 0x01 // selective arithmetic coding bypass
	cbstyReset      = 0x02 // reset contexts after each pass
	cbstyTerminate  = 0x04 // terminate each pass
	cbstyVertCausal = 0x08 // vertically stripe-causal contexts
	cbstyPredTerm   = 0x10 // predictable termination
	cbstySegSymbols = 0x20 // segmentation symbols after cleanup
)

// Magnitude refinement contexts (Table D.4). The run and uniform contexts
// are mqCtxRun and mqCtxUniform.
const (
	ctxMagFirst    = 14
	ctxMagNeighbor = 15
	ctxMagLater    = 16
)

const (
	passSignificance = iota
	passRefinement
	passCleanup
)

// Per-sample state.
const (
	flagSig      uint8 = 1 << iota
	flagNeg            // sign, set together with negating the sample
	flagRefined        // refined at least once
	flagVisited        // coded in the current bit plane
	flagNeighbor       // at least one of the 8 neighbors is significant
)

// Sign context index bits, as laid out for lutSignCtx and lutSignPred.
const (
	scSgnW = 1 << iota
	scSigN
	scSgnE
	scSigW
	scSgnN
	scSigE
	scSgnS
	scSigS
)

// lutSignCtx maps the neighbor sign pattern to a sign context (9..13),
// Table D.3 expanded over all neighbor states.
var lutSignCtx = [256]byte{
	0x9, 0x9, 0xa, 0xa, 0x9, 0x9, 0xa, 0xa, 0xc, 0xc, 0xd, 0xb, 0xc, 0xc, 0xd, 0xb,
	0x9, 0x9, 0xa, 0xa, 0x9, 0x9, 0xa, 0xa, 0xc, 0xc, 0xb, 0xd, 0xc, 0xc, 0xb, 0xd,
	0xc, 0xc, 0xd, 0xd, 0xc, 0xc, 0xb, 0xb, 0xc, 0x9, 0xd, 0xa, 0x9, 0xc, 0xa, 0xb,
	0xc, 0xc, 0xb, 0xb, 0xc, 0xc, 0xd, 0xd, 0xc, 0x9, 0xb, 0xa, 0x9, 0xc, 0xa, 0xd,
	0x9, 0x9, 0xa, 0xa, 0x9, 0x9, 0xa, 0xa, 0xc, 0xc, 0xd, 0xb, 0xc, 0xc, 0xd, 0xb,
	0x9, 0x9, 0xa, 0xa, 0x9, 0x9, 0xa, 0xa, 0xc, 0xc, 0xb, 0xd, 0xc, 0xc, 0xb, 0xd,
	0xc, 0xc, 0xd, 0xd, 0xc, 0xc, 0xb, 0xb, 0xc, 0x9, 0xd, 0xa, 0x9, 0xc, 0xa, 0xb,
	0xc, 0xc, 0xb, 0xb, 0xc, 0xc, 0xd, 0xd, 0xc, 0x9, 0xb, 0xa, 0x9, 0xc, 0xa, 0xd,
	0xa, 0xa, 0xa, 0xa, 0xa, 0xa, 0xa, 0xa, 0xd, 0xb, 0xd, 0xb, 0xd, 0xb, 0xd, 0xb,
	0xa, 0xa, 0x9, 0x9, 0xa, 0xa, 0x9, 0x9, 0xd, 0xb, 0xc, 0xc, 0xd, 0xb, 0xc, 0xc,
	0xd, 0xd, 0xd, 0xd, 0xb, 0xb, 0xb, 0xb, 0xd, 0xa, 0xd, 0xa, 0xa, 0xb, 0xa, 0xb,
	0xd, 0xd, 0xc, 0xc, 0xb, 0xb, 0xc, 0xc, 0xd, 0xa, 0xc, 0x9, 0xa, 0xb, 0x9, 0xc,
	0xa, 0xa, 0x9, 0x9, 0xa, 0xa, 0x9, 0x9, 0xb, 0xd, 0xc, 0xc, 0xb, 0xd, 0xc, 0xc,
	0xa, 0xa, 0xa, 0xa, 0xa, 0xa, 0xa, 0xa, 0xb, 0xd, 0xb, 0xd, 0xb, 0xd, 0xb, 0xd,
	0xb, 0xb, 0xc, 0xc, 0xd, 0xd, 0xc, 0xc, 0xb, 0xa, 0xc, 0x9, 0xa, 0xd, 0x9, 0xc,
	0xb, 0xb, 0xb, 0xb, 0xd, 0xd, 0xd, 0xd, 0xb, 0xa, 0xb, 0xa, 0xa, 0xd, 0xa, 0xd,
}

// lutSignPred is the predicted sign for the same patterns. The decoded
// sign bit is XORed with it.
var lutSignPred = [256]byte{
	0, 0, 0, 0, 0, 0, 0, 0, 0, 1, 0, 1, 0, 1, 0, 1, 0, 0, 1, 1, 0, 0, 1, 1, 0, 1, 0, 1, 0, 1, 0, 1,
	0, 0, 0, 0, 1, 1, 1, 1, 0, 0, 0, 0, 0, 1, 0, 1, 0, 0, 0, 0, 1, 1, 1, 1, 0, 0, 0, 1, 0, 1, 1, 1,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 1, 0, 1, 0, 1, 0, 1, 0, 0, 1, 1, 0, 0, 1, 1, 0, 1, 0, 1, 0, 1, 0, 1,
	0, 0, 0, 0, 1, 1, 1, 1, 0, 0, 0, 0, 0, 1, 0, 1, 0, 0, 0, 0, 1, 1, 1, 1, 0, 0, 0, 1, 0, 1, 1, 1,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 1, 0, 1, 0, 1, 0, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1, 0, 1, 0, 1, 0, 1,
	0, 0, 0, 0, 1, 1, 1, 1, 0, 0, 0, 0, 0, 1, 0, 1, 0, 0, 0, 0, 1, 1, 1, 1, 0, 0, 0, 0, 0, 1, 0, 1,
	1, 1, 0, 0, 1, 1, 0, 0, 0, 1, 0, 1, 0, 1, 0, 1, 1, 1, 1, 1, 1, 1, 1, 1, 0, 1, 0, 1, 0, 1, 0, 1,
	0, 0, 0, 0, 1, 1, 1, 1, 0, 1, 0, 0, 1, 1, 0, 1, 0, 0, 0, 0, 1, 1, 1, 1, 0, 1, 0, 1, 1, 1, 1, 1,
}

// ebcotDecoder is the Tier-1 decoder (Annex D). It is reused across
// code-blocks; state grows to the largest block seen.
//
// flags and coef hold the block with a one-sample border so neighbor
// lookups need no bounds checks. Index (x, y) is (y+1)*stride + x+1.
type ebcotDecoder struct {
	mq *mqDecoder

	w, h, stride int
	flags        []uint8
	coef         []int32

	style  byte
	data   []byte
	segOff []int
	segLen []int

	pass    int // passes decoded in this block
	planes  int // coded bit planes, Mb - zero bit planes
	rawMode bool

	// Bypass segments terminated separately without per-pass
	// termination. nil otherwise.
	bypass    []bypassSegment
	bypassSeg int
	bypassIn  int
}

func newEBCOTDecoder(width, height int) *ebcotDecoder {
	n := (width + 2) * (height + 2)
	return &ebcotDecoder{
		flags: make([]uint8, 0, n),
		coef:  make([]int32, 0, n),
	}
}

// decodeCodeBlock runs the coding passes of cb and returns its samples.
// Magnitudes carry one fractional bit below the last decoded plane.
func (e *ebcotDecoder) decodeCodeBlock(cb *codedBlock, band bandType) ([][]int32, error) {
	if cb.Width <= 0 || cb.Height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d code-block", ErrDecodeFailed, cb.Width, cb.Height)
	}
	e.reset(cb)

	mb := cb.MagnitudeBitPlanes
	if mb < 1 {
		mb = 8
	}
	e.planes = mb - cb.ZeroBitPlanes
	bp := max(e.planes-1, 0)

	// The first plane has only a cleanup pass; each later plane has all
	// three.
	kind := passCleanup
	for range cb.NumPasses {
		e.decodePass(bp, kind, band)
		if kind++; kind > passCleanup {
			kind = passSignificance
			if bp > 0 {
				bp--
			}
		}
	}

	out := make([][]int32, e.h)
	for y := range out {
		i := e.at(0, y)
		out[y] = append([]int32(nil), e.coef[i:i+e.w]...)
	}
	return out, nil
}

func (e *ebcotDecoder) reset(cb *codedBlock) {
	e.w, e.h, e.stride = cb.Width, cb.Height, cb.Width+2
	n := e.stride * (e.h + 2)
	if cap(e.flags) < n {
		e.flags = make([]uint8, n)
		e.coef = make([]int32, n)
	} else {
		e.flags, e.coef = e.flags[:n], e.coef[:n]
		clear(e.flags)
		clear(e.coef)
	}

	e.style = cb.CodeBlockStyle
	e.data = cb.Data
	e.segLen = cb.SegmentLengths
	e.segOff = e.segOff[:0]
	off := 0
	for _, l := range e.segLen {
		e.segOff = append(e.segOff, off)
		off += l
	}
	e.pass = 0
	e.rawMode = false

	e.bypass, e.bypassSeg, e.bypassIn = nil, 0, 0
	if e.style&cbstyBypass != 0 && !e.terminated() && len(e.segLen) > 1 {
		if segs := computeBypassSegments(cb.NumPasses); len(segs) > 1 {
			e.bypass = segs
		}
	}

	first := cb.Data
	if (e.terminated() && len(e.segLen) > 0 && len(cb.Data) > 0) || e.bypass != nil {
		first = e.segment(0)
	}
	if e.mq == nil {
		e.mq = newMQDecoder(first)
	} else {
		e.mq.reset(first)
	}
}

func (e *ebcotDecoder) terminated() bool { return e.style&cbstyTerminate != 0 }

// segment returns the bytes of terminated segment k, or nil.
func (e *ebcotDecoder) segment(k int) []byte {
	if k < 0 || k >= len(e.segOff) || k >= len(e.segLen) {
		return nil
	}
	off, l := e.segOff[k], e.segLen[k]
	if off+l > len(e.data) {
		return nil
	}
	return e.data[off : off+l]
}

// startSegment points the coder at a new terminated segment. Context
// states carry over.
func (e *ebcotDecoder) startSegment(data []byte, raw bool) {
	if raw {
		e.mq.setRawData(data)
	} else {
		e.mq.initSegment(data)
	}
	e.rawMode = raw
}

// decodePass runs one coding pass on bit plane bp.
func (e *ebcotDecoder) decodePass(bp, kind int, band bandType) {
	if kind == passSignificance || (kind == passCleanup && e.pass == 0) {
		e.clearVisited()
	}

	// Bypass codes the significance and refinement passes of all but the
	// four most significant planes as raw bits (D.6).
	raw := e.style&cbstyBypass != 0 && kind != passCleanup && bp <= e.planes-5
	if e.bypass != nil && e.bypassSeg < len(e.bypass) {
		raw = e.bypass[e.bypassSeg].isRaw
	}

	switch {
	case e.terminated():
		if e.pass > 0 && len(e.segLen) > 0 {
			e.startSegment(e.segment(e.pass), raw)
		}
	case e.bypass != nil:
		if e.bypassSeg > 0 && e.bypassSeg < len(e.bypass) && e.bypassIn == 0 {
			e.startSegment(e.segment(e.bypassSeg), raw)
		}
	}

	if !e.terminated() || len(e.segment(e.pass)) > 0 {
		// Without termination raw passes read from the MQ segment itself.
		shared := !e.terminated() && e.bypass == nil
		switch kind {
		case passSignificance, passRefinement:
			if raw && shared && !e.rawMode {
				e.mq.startRaw()
				e.rawMode = true
			}
			if kind == passSignificance {
				e.significancePass(bp, band, raw)
			} else {
				e.refinementPass(bp, raw)
			}
		case passCleanup:
			if shared && e.rawMode {
				e.mq.syncFromRaw()
				e.rawMode = false
			}
			e.cleanupPass(bp, band)
			if e.style&cbstySegSymbols != 0 {
				// 0xA on the uniform context; a mismatch is not fatal.
				for range 4 {
					e.mq.decode(mqCtxUniform)
				}
			}
		}
	}

	if e.terminated() {
		e.mq.finishSegment()
	}
	if e.style&cbstyReset != 0 && !raw {
		e.mq.resetContexts()
	}
	if e.bypass != nil && e.bypassSeg < len(e.bypass) {
		if e.bypassIn++; e.bypassIn >= e.bypass[e.bypassSeg].passCount {
			e.bypassSeg++
			e.bypassIn = 0
		}
	}
	e.pass++
}

func (e *ebcotDecoder) at(x, y int) int { return (y+1)*e.stride + x + 1 }

// stripes visits the block in stripe order: four rows at a time, column
// by column.
func (e *ebcotDecoder) stripes(fn func(i, y int)) {
	for y0 := 0; y0 < e.h; y0 += 4 {
		y1 := min(y0+4, e.h)
		for x := range e.w {
			for y := y0; y < y1; y++ {
				fn(e.at(x, y), y)
			}
		}
	}
}

// vscFirst and vscLast report the stripe rows whose north or south
// neighbors are hidden by vertically causal contexts.
func (e *ebcotDecoder) vscFirst(y int) bool { return e.style&cbstyVertCausal != 0 && y%4 == 0 }
func (e *ebcotDecoder) vscLast(y int) bool  { return e.style&cbstyVertCausal != 0 && y%4 == 3 }

func (e *ebcotDecoder) clearVisited() {
	for y := range e.h {
		row := e.flags[e.at(0, y):][:e.w]
		for x := range row {
			row[x] &^= flagVisited
		}
	}
}

func (e *ebcotDecoder) significancePass(bp int, band bandType, raw bool) {
	e.stripes(func(i, y int) {
		if e.flags[i]&flagSig != 0 {
			return
		}
		last := e.vscLast(y)
		if !e.hasSigNeighbor(i, last) {
			return
		}
		e.flags[i] |= flagVisited
		if raw {
			if e.mq.rawBit() != 0 {
				e.setSignificant(i, bp, e.vscFirst(y))
				if e.mq.rawBit() != 0 {
					e.negate(i)
				}
			}
			return
		}
		if e.mq.decode(e.zcContext(i, band, last)) != 0 {
			e.setSignificant(i, bp, e.vscFirst(y))
			e.decodeSign(i, last)
		}
	})
}

func (e *ebcotDecoder) refinementPass(bp int, raw bool) {
	half := int32(1) << bp
	e.stripes(func(i, y int) {
		f := e.flags[i]
		if f&flagSig == 0 || f&flagVisited != 0 {
			return
		}
		var bit int
		if raw {
			bit = e.mq.rawBit()
		} else {
			ctx := ctxMagLater
			if f&flagRefined == 0 {
				ctx = ctxMagFirst
				if e.hasSigNeighbor(i, e.vscLast(y)) {
					ctx = ctxMagNeighbor
				}
			}
			bit = e.mq.decode(ctx)
		}
		e.flags[i] |= flagRefined
		if (bit != 0) != (e.coef[i] < 0) {
			e.coef[i] += half
		} else {
			e.coef[i] -= half
		}
	})
}

// cleanupPass codes every sample not visited yet. A stripe column of four
// samples with no state at all is run-length coded first.
func (e *ebcotDecoder) cleanupPass(bp int, band bandType) {
	for y0 := 0; y0 < e.h; y0 += 4 {
		n := min(4, e.h-y0)
		for x := range e.w {
			top := e.at(x, y0)
			run := n == 4
			for k := range n {
				if e.flags[top+k*e.stride] != 0 {
					run = false
				}
			}

			first := 0
			if run {
				if e.mq.decode(mqCtxRun) == 0 {
					for k := range 4 {
						e.flags[top+k*e.stride] |= flagVisited
					}
					continue
				}
				first = e.mq.decode(mqCtxUniform)<<1 | e.mq.decode(mqCtxUniform)
			}

			for k := range n {
				i, y := top+k*e.stride, y0+k
				if e.flags[i]&flagVisited != 0 {
					continue
				}
				switch {
				case run && k < first:
					e.flags[i] |= flagVisited
				case run && k == first:
					// Known significant; only the sign is coded.
					e.flags[i] |= flagVisited
					if e.flags[i]&flagSig == 0 {
						e.setSignificant(i, bp, e.vscFirst(y))
						e.decodeSign(i, e.vscLast(y))
					}
				default:
					e.flags[i] |= flagVisited
					if e.flags[i]&flagSig != 0 {
						continue
					}
					last := e.vscLast(y)
					if e.mq.decode(e.zcContext(i, band, last)) != 0 {
						e.setSignificant(i, bp, e.vscFirst(y))
						e.decodeSign(i, last)
					}
				}
			}
		}
	}
}

func (e *ebcotDecoder) decodeSign(i int, vscLast bool) {
	ctx, pred := e.scContext(i, vscLast)
	if e.mq.decode(ctx)^pred != 0 {
		e.negate(i)
	}
}

func (e *ebcotDecoder) negate(i int) {
	e.flags[i] |= flagNeg
	e.coef[i] = -e.coef[i]
}

// setSignificant starts sample i at the middle of its interval,
// 1.5 * 2^bp, and marks its neighbors.
func (e *ebcotDecoder) setSignificant(i, bp int, vscFirst bool) {
	if e.flags[i]&flagSig != 0 {
		return
	}
	e.flags[i] |= flagSig
	e.coef[i] = 1<<(bp+1) | 1<<bp

	s := e.stride
	for _, j := range [...]int{i - 1, i + 1, i + s - 1, i + s, i + s + 1} {
		e.flags[j] |= flagNeighbor
	}
	// Under vertically causal contexts the stripe above never sees this row.
	if !vscFirst {
		for _, j := range [...]int{i - s - 1, i - s, i - s + 1} {
			e.flags[j] |= flagNeighbor
		}
	}
}

func (e *ebcotDecoder) sig(j int) int { return int(e.flags[j] & flagSig) }

// hasSigNeighbor reports whether any neighbor of i is significant,
// ignoring the row below when vscLast is set.
func (e *ebcotDecoder) hasSigNeighbor(i int, vscLast bool) bool {
	if !vscLast {
		return e.flags[i]&flagNeighbor != 0
	}
	s := e.stride
	return e.sig(i-1)|e.sig(i+1)|e.sig(i-s-1)|e.sig(i-s)|e.sig(i-s+1) != 0
}

// zcContext is the significance context of sample i (Table D.1).
func (e *ebcotDecoder) zcContext(i int, band bandType, vscLast bool) int {
	s := e.stride
	h := e.sig(i-1) + e.sig(i+1)
	v := e.sig(i - s)
	d := e.sig(i-s-1) + e.sig(i-s+1)
	if !vscLast {
		v += e.sig(i + s)
		d += e.sig(i+s-1) + e.sig(i+s+1)
	}
	return zeroCodingContext(h, v, d, band)
}

// zeroCodingContext maps significant neighbor counts (horizontal, vertical,
// diagonal) to contexts 0..8.
func zeroCodingContext(h, v, d int, band bandType) int {
	switch band {
	case bandHH:
		hv := h + v
		switch d {
		case 0:
			return min(hv, 2)
		case 1:
			return 3 + min(hv, 2)
		case 2:
			return 6 + min(hv, 1)
		}
		return 8
	case bandHL:
		h, v = v, h
	}
	switch {
	case h == 0 && v == 0:
		return min(d, 2)
	case h == 0:
		return 2 + min(v, 2)
	case h == 1 && v == 0:
		return 5 + min(d, 1)
	case h == 1:
		return 7
	}
	return 8
}

// scContext returns the sign context of sample i and the sign prediction.
func (e *ebcotDecoder) scContext(i int, vscLast bool) (int, int) {
	lu := 0
	add := func(j, sig, sgn int) {
		if f := e.flags[j]; f&flagSig != 0 {
			lu |= sig
			if f&flagNeg != 0 {
				lu |= sgn
			}
		}
	}
	add(i-1, scSigW, scSgnW)
	add(i+1, scSigE, scSgnE)
	add(i-e.stride, scSigN, scSgnN)
	if !vscLast {
		add(i+e.stride, scSigS, scSgnS)
	}
	return int(lutSignCtx[lu]), int(lutSignPred[lu])
}
