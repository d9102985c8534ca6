package j2kview

// Context indices with a non-zero initial state (T.800 Table D.7).
const (
	mqCtxZCFirst = 0
	mqCtxRun     = 17
	mqCtxUniform = 18
	mqNumCtx     = 19
)

// mqDecoder is the MQ arithmetic decoder of T.800 Annex C. It also reads
// the raw bits of bypass passes from the same segment.
type mqDecoder struct {
	a  uint32 // interval
	c  uint32 // code register
	ct int    // bits left before the next byte in

	data []byte
	pos  int

	rawC   uint32
	rawCT  int
	rawPos int

	contexts [mqNumCtx]mqContext
}

type mqContext struct {
	index int // into mqProbTable
	mps   int
}

type mqProbEntry struct {
	qe        uint16
	nmps      int
	nlps      int
	switchMPS bool
}

// mqProbTable is Table C.2: Qe, next index after MPS and after LPS, and
// whether an LPS flips the MPS.
var mqProbTable = [47]mqProbEntry{
	{0x5601, 1, 1, true},
	{0x3401, 2, 6, false},
	{0x1801, 3, 9, false},
	{0x0AC1, 4, 12, false},
	{0x0521, 5, 29, false},
	{0x0221, 38, 33, false},
	{0x5601, 7, 6, true},
	{0x5401, 8, 14, false},
	{0x4801, 9, 14, false},
	{0x3801, 10, 14, false},
	{0x3001, 11, 17, false},
	{0x2401, 12, 18, false},
	{0x1C01, 13, 20, false},
	{0x1601, 29, 21, false},
	{0x5601, 15, 14, true},
	{0x5401, 16, 14, false},
	{0x5101, 17, 15, false},
	{0x4801, 18, 16, false},
	{0x3801, 19, 17, false},
	{0x3401, 20, 18, false},
	{0x3001, 21, 19, false},
	{0x2801, 22, 19, false},
	{0x2401, 23, 20, false},
	{0x2201, 24, 21, false},
	{0x1C01, 25, 22, false},
	{0x1801, 26, 23, false},
	{0x1601, 27, 24, false},
	{0x1401, 28, 25, false},
	{0x1201, 29, 26, false},
	{0x1101, 30, 27, false},
	{0x0AC1, 31, 28, false},
	{0x09C1, 32, 29, false},
	{0x08A1, 33, 30, false},
	{0x0521, 34, 31, false},
	{0x0441, 35, 32, false},
	{0x02A1, 36, 33, false},
	{0x0221, 37, 34, false},
	{0x0141, 38, 35, false},
	{0x0111, 39, 36, false},
	{0x0085, 40, 37, false},
	{0x0049, 41, 38, false},
	{0x0025, 42, 39, false},
	{0x0015, 43, 40, false},
	{0x0009, 44, 41, false},
	{0x0005, 45, 42, false},
	{0x0001, 45, 43, false},
	{0x5601, 46, 46, false},
}

func newMQDecoder(data []byte) *mqDecoder {
	mq := &mqDecoder{data: data}
	mq.resetContexts()
	mq.initDec()
	return mq
}

// initDec is INITDEC (C.3.5). The first byte goes to bits 16..23 and
// bytein appends the second.
func (mq *mqDecoder) initDec() {
	mq.a = 0x8000
	mq.c = 0xFF << 16
	if mq.pos < len(mq.data) {
		mq.c = uint32(mq.data[mq.pos]) << 16
	}
	mq.ct = 0
	mq.bytein()
	mq.c <<= 7
	mq.ct -= 7
}

// decode returns the next decision in context ctx (C.3.2). Out of range
// contexts decode as 0.
func (mq *mqDecoder) decode(ctx int) int {
	if ctx < 0 || ctx >= mqNumCtx {
		return 0
	}
	cx := &mq.contexts[ctx]
	e := &mqProbTable[cx.index]
	qe := uint32(e.qe)
	mq.a -= qe

	if mq.c>>16 < qe {
		// LPS interval, possibly exchanged.
		if mq.a < qe {
			mq.a = qe
			return mq.mps(cx, e)
		}
		mq.a = qe
		return mq.lps(cx, e)
	}

	mq.c -= qe << 16
	if mq.a >= 0x8000 {
		return cx.mps
	}
	if mq.a < qe {
		return mq.lps(cx, e)
	}
	return mq.mps(cx, e)
}

func (mq *mqDecoder) mps(cx *mqContext, e *mqProbEntry) int {
	d := cx.mps
	cx.index = e.nmps
	mq.renormalize()
	return d
}

func (mq *mqDecoder) lps(cx *mqContext, e *mqProbEntry) int {
	d := 1 - cx.mps
	if e.switchMPS {
		cx.mps = d
	}
	cx.index = e.nlps
	mq.renormalize()
	return d
}

// renormalize is RENORMD (C.3.3).
func (mq *mqDecoder) renormalize() {
	for mq.a < 0x8000 {
		if mq.ct == 0 {
			mq.bytein()
		}
		mq.a <<= 1
		mq.c <<= 1
		mq.ct--
	}
}

// bytein is BYTEIN (C.3.4). It looks at the byte under pos and appends the
// one after it. A 0xFF followed by a byte above 0x8F is a marker: pos stays
// put and 1 bits are fed from then on.
func (mq *mqDecoder) bytein() {
	if mq.pos >= len(mq.data) {
		mq.c += 0xFF << 8
		mq.ct = 8
		return
	}
	next := byte(0xFF)
	if mq.pos+1 < len(mq.data) {
		next = mq.data[mq.pos+1]
	}
	if mq.data[mq.pos] != 0xFF {
		mq.pos++
		mq.c += uint32(next) << 8
		mq.ct = 8
		return
	}
	if next > 0x8F {
		mq.c += 0xFF << 8
		mq.ct = 8
		return
	}
	mq.pos++
	mq.c += uint32(next) << 9
	mq.ct = 7
}

// rawBit returns the next bypass bit, MSB first. After a 0xFF only seven
// bits of the following byte are used; past the end or at a marker the
// stream reads as 1 bits.
func (mq *mqDecoder) rawBit() int {
	if mq.rawCT == 0 {
		switch {
		case mq.rawPos >= len(mq.data):
			mq.rawC, mq.rawCT = 0xFF, 8
		case mq.rawC == 0xFF && mq.data[mq.rawPos] > 0x8F:
			mq.rawCT = 8
		case mq.rawC == 0xFF:
			mq.rawC = uint32(mq.data[mq.rawPos])
			mq.rawPos++
			mq.rawCT = 7
		default:
			mq.rawC = uint32(mq.data[mq.rawPos])
			mq.rawPos++
			mq.rawCT = 8
		}
	}
	mq.rawCT--
	return int(mq.rawC>>mq.rawCT) & 1
}

// startRaw begins bypass decoding at the current MQ position.
func (mq *mqDecoder) startRaw() {
	mq.rawPos = mq.pos
	mq.rawC = 0
	mq.rawCT = 0
}

// setRawData starts bypass decoding of a separate segment.
func (mq *mqDecoder) setRawData(data []byte) {
	mq.data = data
	mq.rawPos = 0
	mq.rawC = 0
	mq.rawCT = 0
}

// syncFromRaw moves the MQ position to where bypass decoding stopped.
func (mq *mqDecoder) syncFromRaw() {
	mq.pos = mq.rawPos
}

// reset starts a new code-block.
func (mq *mqDecoder) reset(data []byte) {
	mq.data = data
	mq.pos = 0
	mq.rawC, mq.rawCT, mq.rawPos = 0, 0, 0
	mq.resetContexts()
	mq.initDec()
}

// initSegment starts a new terminated segment. Context states carry over.
func (mq *mqDecoder) initSegment(data []byte) {
	mq.data = data
	mq.pos = 0
	mq.initDec()
}

// finishSegment drops the bits left in the code register.
func (mq *mqDecoder) finishSegment() {
	mq.ct = 0
}

func (mq *mqDecoder) resetContexts() {
	clear(mq.contexts[:])
	mq.contexts[mqCtxZCFirst].index = 4
	mq.contexts[mqCtxRun].index = 3
	mq.contexts[mqCtxUniform].index = 46
}
