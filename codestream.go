package j2kview

import (
	"encoding/binary"
	"fmt"
	"maps"
	"slices"
)

// Marker codes (Table A.2).
const (
	markerSOC uint16 = 0xFF4F
	markerSIZ uint16 = 0xFF51
	markerCOD uint16 = 0xFF52
	markerCOC uint16 = 0xFF53
	markerTLM uint16 = 0xFF55
	markerQCD uint16 = 0xFF5C
	markerQCC uint16 = 0xFF5D
	markerRGN uint16 = 0xFF5E
	markerPOC uint16 = 0xFF5F
	markerPPM uint16 = 0xFF60
	markerPPT uint16 = 0xFF61
	markerSOT uint16 = 0xFF90
	markerSOP uint16 = 0xFF91
	markerEPH uint16 = 0xFF92
	markerSOD uint16 = 0xFF93
	markerEOC uint16 = 0xFFD9
)

// Progression orders (Table A.16).
const (
	progLRCP byte = iota
	progRLCP
	progRPCL
	progPCRL
	progCPRL
)

// codingStyle is the SPcod / SPcoc part of a COD or COC segment.
type codingStyle struct {
	NumDecompLevels int
	CodeBlockWidth  int
	CodeBlockHeight int
	CodeBlockStyle  byte
	WaveletFilter   waveletKind
	// PrecinctSizes holds (PPx, PPy) per resolution. Nil means 2^15 precincts.
	PrecinctSizes [][2]int
}

// precinctSize returns the precinct exponents at resolution res.
func (cs *codingStyle) precinctSize(res int) (int, int) {
	if res >= 0 && res < len(cs.PrecinctSizes) {
		return cs.PrecinctSizes[res][0], cs.PrecinctSizes[res][1]
	}
	return 15, 15
}

// codOptions is a whole COD segment.
type codOptions struct {
	ProgressionOrder byte
	NumLayers        int
	MCT              bool
	codingStyle
}

// quantization is the body of a QCD or QCC segment.
type quantization struct {
	QuantStyle byte // 0 none, 1 scalar derived, 2 scalar expounded
	GuardBits  int
	Exponents  []int
	Mantissas  []int
}

// band returns the exponent and mantissa of a subband. Scalar derived
// quantization signals the LL band only; the others lose one exponent per
// level (E-5).
func (q *quantization) band(res int, t bandType) (exp, mant int, ok bool) {
	i := bandIndex(res, t)
	if i < len(q.Exponents) {
		if i < len(q.Mantissas) {
			mant = q.Mantissas[i]
		}
		return q.Exponents[i], mant, true
	}
	if len(q.Exponents) != 1 {
		return 0, 0, false
	}
	if len(q.Mantissas) > 0 {
		mant = q.Mantissas[0]
	}
	exp = q.Exponents[0]
	if res > 0 {
		exp -= res - 1
	}
	return exp, mant, true
}

// codestreamHeader is the main header: the SIZ geometry, the COD and QCD
// defaults and their per-component COC and QCC overrides.
type codestreamHeader struct {
	Width, Height         int // Xsiz, Ysiz
	XOsiz, YOsiz          int
	TileWidth, TileHeight int
	XTOsiz, YTOsiz        int
	NumComps              int
	BitDepth              []int
	Signed                []bool
	XRsiz, YRsiz          []int

	NumXTiles, NumYTiles int
	NumTiles             int

	codOptions
	quantization
	CompCoding []*codingStyle  // COC by component, nil follows COD
	CompQuant  []*quantization // QCC by component, nil follows QCD

	POCEntries []pocEntry
	TLMEntries []tlmEntry

	// PPMHeaders is the Ippm data of every PPM segment in Zppm order.
	PPMHeaders []byte
	ppm        map[int][]byte

	// TilePartOrder lists the tile index of each tile-part as it appears in
	// the codestream. PPM data is laid out in this order.
	TilePartOrder []int
}

// pocEntry is one progression of a POC segment (Table A.32).
type pocEntry struct {
	RSpoc  int // first resolution
	CSpoc  int // first component
	LYEpoc int // layer end, exclusive
	REpoc  int // resolution end, exclusive
	CEpoc  int // component end, exclusive
	Ppoc   byte
}

type tlmEntry struct {
	TileIndex   int
	TilePartLen int
}

func (h *codestreamHeader) coding(comp int) *codingStyle {
	if comp >= 0 && comp < len(h.CompCoding) && h.CompCoding[comp] != nil {
		return h.CompCoding[comp]
	}
	return &h.codingStyle
}

func (h *codestreamHeader) quant(comp int) *quantization {
	if comp >= 0 && comp < len(h.CompQuant) && h.CompQuant[comp] != nil {
		return h.CompQuant[comp]
	}
	return &h.quantization
}

// ComponentDecompLevels returns the decomposition levels of a component in
// the main header.
func (h *codestreamHeader) ComponentDecompLevels(comp int) int {
	return h.coding(comp).NumDecompLevels
}

// codestreamTile collects the tile-parts of one tile and the overrides of
// its tile-part headers.
type codestreamTile struct {
	Index          int
	X0, Y0, X1, Y1 int // reference grid bounds
	TileParts      []*tilePart

	COD        *codOptions   // tile-part COD, nil follows the main header
	QCD        *quantization // tile-part QCD
	ROIShift   []int         // RGN max-shift by component
	POCEntries []pocEntry

	// PPTHeaders is the packed packet header data of the tile, from PPT
	// segments or from the main header PPM.
	PPTHeaders []byte
	ppt        map[int][]byte
}

// tilePart is the body of one tile-part, from SOD to its end.
type tilePart struct {
	Part int // TPsot
	Data []byte
}

// bandType is a subband orientation.
type bandType int

const (
	bandLL bandType = iota
	bandHL
	bandLH
	bandHH
)

func (s bandType) String() string {
	switch s {
	case bandLL:
		return "LL"
	case bandHL:
		return "HL"
	case bandLH:
		return "LH"
	case bandHH:
		return "HH"
	}
	return "UNKNOWN"
}

// codedBlock is the input to the EBCOT decoder for one code-block.
type codedBlock struct {
	X, Y               int // position in the subband, in code-blocks
	Width, Height      int
	Data               []byte
	NumPasses          int
	ZeroBitPlanes      int
	Lblock             int
	MagnitudeBitPlanes int // Mb = guard bits + exponent - 1
	CodeBlockStyle     byte
	SegmentLengths     []int // one per terminated segment
}

// segment reads the body of a marker segment. Reads past the end return
// zero and leave ErrTruncatedData in err.
type segment struct {
	b   []byte
	off int
	err error
}

// nextSegment returns the segment whose length field starts at pos, and
// the offset just past it.
func nextSegment(data []byte, pos int) (*segment, int, error) {
	if pos+2 > len(data) {
		return nil, pos, ErrTruncatedData
	}
	n := int(binary.BigEndian.Uint16(data[pos:]))
	if n < 2 {
		return nil, pos, fmt.Errorf("%w: marker segment length %d", ErrInvalidHeader, n)
	}
	if pos+n > len(data) {
		return nil, pos, fmt.Errorf("%w: marker segment of %d bytes at %d", ErrTruncatedData, n, pos)
	}
	return &segment{b: data[pos+2 : pos+n]}, pos + n, nil
}

func (s *segment) left() int { return len(s.b) - s.off }

func (s *segment) take(n int) []byte {
	if s.err != nil || s.left() < n {
		s.err = ErrTruncatedData
		return nil
	}
	p := s.b[s.off : s.off+n]
	s.off += n
	return p
}

func (s *segment) u8() int {
	if p := s.take(1); p != nil {
		return int(p[0])
	}
	return 0
}

func (s *segment) u16() int {
	if p := s.take(2); p != nil {
		return int(binary.BigEndian.Uint16(p))
	}
	return 0
}

func (s *segment) u32() int {
	if p := s.take(4); p != nil {
		return int(binary.BigEndian.Uint32(p))
	}
	return 0
}

// comp reads a component index, two bytes wide above 256 components.
func (s *segment) comp(numComps int) int {
	if numComps > 256 {
		return s.u16()
	}
	return s.u8()
}

func (s *segment) rest() []byte { return s.take(s.left()) }

// readMainHeader parses the marker segments between SOC and the first SOT.
// It returns the offset of that SOT marker, or of EOC / end of data when the
// codestream carries no tile-parts.
func readMainHeader(data []byte) (*codestreamHeader, int, error) {
	if len(data) < 2 {
		return nil, 0, ErrTruncatedData
	}
	if binary.BigEndian.Uint16(data) != markerSOC {
		return nil, 0, ErrInvalidMarker
	}

	h := &codestreamHeader{}
	pos := 2
	for pos+2 <= len(data) {
		marker := binary.BigEndian.Uint16(data[pos:])
		if marker == markerSOT || marker == markerEOC {
			break
		}

		var err error
		switch marker {
		case markerSIZ, markerCOD, markerCOC, markerQCD, markerQCC, markerPOC, markerTLM, markerPPM:
			var s *segment
			if s, pos, err = nextSegment(data, pos+2); err == nil {
				err = h.apply(marker, s)
			}
		default:
			pos, err = skipMarkerSegment(data, pos+2, marker)
		}
		if err != nil {
			return nil, pos, err
		}
	}

	if h.NumComps == 0 {
		return nil, pos, fmt.Errorf("%w: missing SIZ marker", ErrInvalidHeader)
	}
	if h.NumLayers == 0 {
		return nil, pos, fmt.Errorf("%w: missing COD marker", ErrInvalidHeader)
	}
	if len(h.ppm) > 0 {
		h.PPMHeaders = joinByIndex(h.ppm)
		h.ppm = nil
	}
	return h, pos, nil
}

// apply parses one main header segment into h.
func (h *codestreamHeader) apply(marker uint16, s *segment) error {
	switch marker {
	case markerSIZ:
		return h.parseSIZ(s)

	case markerCOD:
		cod, err := parseCOD(s)
		if err != nil {
			return err
		}
		h.codOptions = *cod
		return nil

	case markerCOC:
		c := s.comp(h.NumComps)
		cs, err := parseCodingStyle(s, s.u8()&1 != 0)
		if err != nil || c >= h.NumComps {
			return err
		}
		if h.CompCoding == nil {
			h.CompCoding = make([]*codingStyle, h.NumComps)
		}
		h.CompCoding[c] = cs
		return nil

	case markerQCD:
		q, err := parseQuantization(s)
		if err != nil {
			return err
		}
		h.quantization = *q
		return nil

	case markerQCC:
		c := s.comp(h.NumComps)
		q, err := parseQuantization(s)
		if err != nil || c >= h.NumComps {
			return err
		}
		if h.CompQuant == nil {
			h.CompQuant = make([]*quantization, h.NumComps)
		}
		h.CompQuant[c] = q
		return nil

	case markerPOC:
		entries, err := parsePOC(s, h.NumComps)
		h.POCEntries = append(h.POCEntries, entries...)
		return err

	case markerTLM:
		return h.parseTLM(s)

	case markerPPM:
		z := s.u8()
		ippm := s.rest()
		if s.err != nil {
			return s.err
		}
		if h.ppm == nil {
			h.ppm = make(map[int][]byte)
		}
		h.ppm[z] = append(h.ppm[z], ippm...)
	}
	return nil
}

// skipMarkerSegment steps over a segment the decoder does not interpret.
// pos points just past the marker code.
func skipMarkerSegment(data []byte, pos int, marker uint16) (int, error) {
	// 0xFF30-0xFF3F carry no length field.
	if marker >= 0xFF30 && marker <= 0xFF3F {
		return pos, nil
	}
	if pos+2 > len(data) {
		return pos, ErrTruncatedData
	}
	n := int(binary.BigEndian.Uint16(data[pos:]))
	if n >= 2 && pos+n <= len(data) {
		return pos + n, nil
	}
	// An implausible length that reads as a marker means the previous code
	// was a delimiter.
	if n >= 0xFF00 && n != 0xFFFF {
		return pos, nil
	}
	return pos, fmt.Errorf("%w: marker 0x%04X segment length %d", ErrInvalidHeader, marker, n)
}

func (h *codestreamHeader) parseSIZ(s *segment) error {
	s.u16() // Rsiz
	h.Width, h.Height = s.u32(), s.u32()
	h.XOsiz, h.YOsiz = s.u32(), s.u32()
	h.TileWidth, h.TileHeight = s.u32(), s.u32()
	h.XTOsiz, h.YTOsiz = s.u32(), s.u32()
	n := s.u16()
	if s.err != nil {
		return s.err
	}

	switch {
	case h.Width <= h.XOsiz || h.Height <= h.YOsiz:
		return fmt.Errorf("%w: empty image area %dx%d at (%d,%d)", ErrInvalidHeader, h.Width, h.Height, h.XOsiz, h.YOsiz)
	case h.TileWidth == 0 || h.TileHeight == 0 || h.XTOsiz > h.XOsiz || h.YTOsiz > h.YOsiz:
		return fmt.Errorf("%w: invalid tile grid", ErrInvalidHeader)
	case n < 1 || n > 16384:
		return fmt.Errorf("%w: %d components", ErrInvalidHeader, n)
	}

	h.BitDepth = make([]int, n)
	h.Signed = make([]bool, n)
	h.XRsiz = make([]int, n)
	h.YRsiz = make([]int, n)
	for c := range n {
		ssiz := s.u8()
		h.Signed[c] = ssiz&0x80 != 0
		h.BitDepth[c] = ssiz&0x7F + 1
		h.XRsiz[c], h.YRsiz[c] = s.u8(), s.u8()
		if s.err != nil {
			return s.err
		}
		if h.XRsiz[c] == 0 || h.YRsiz[c] == 0 {
			return fmt.Errorf("%w: component %d has zero sample separation", ErrInvalidHeader, c)
		}
	}
	h.NumComps = n

	h.NumXTiles = ceilDiv(h.Width-h.XTOsiz, h.TileWidth)
	h.NumYTiles = ceilDiv(h.Height-h.YTOsiz, h.TileHeight)
	h.NumTiles = h.NumXTiles * h.NumYTiles
	if h.NumTiles < 1 || h.NumTiles > 65535 {
		return fmt.Errorf("%w: tile count %d", ErrTooManyTiles, h.NumTiles)
	}
	return nil
}

// parseCOD reads a COD segment of the main or a tile-part header.
func parseCOD(s *segment) (*codOptions, error) {
	scod := s.u8()
	cod := &codOptions{
		ProgressionOrder: byte(s.u8()),
		NumLayers:        s.u16(),
		MCT:              s.u8() != 0,
	}
	if cod.ProgressionOrder > progCPRL {
		return nil, fmt.Errorf("%w: progression order %d", ErrInvalidHeader, cod.ProgressionOrder)
	}
	cs, err := parseCodingStyle(s, scod&1 != 0)
	if err != nil {
		return nil, err
	}
	cod.codingStyle = *cs
	return cod, nil
}

// parseCodingStyle reads SPcod or SPcoc. Precinct sizes follow when the
// Scod / Scoc flag says so.
func parseCodingStyle(s *segment, precincts bool) (*codingStyle, error) {
	cs := &codingStyle{NumDecompLevels: s.u8()}
	xcb, ycb := s.u8(), s.u8()
	cs.CodeBlockStyle = byte(s.u8())
	wavelet := s.u8()
	if s.err != nil {
		return nil, s.err
	}
	if cs.NumDecompLevels > 32 {
		return nil, fmt.Errorf("%w: %d decomposition levels", ErrInvalidHeader, cs.NumDecompLevels)
	}
	// A.6.1: each exponent at most 10 and their sum at most 12.
	if xcb > 8 || ycb > 8 || xcb+ycb > 8 {
		return nil, fmt.Errorf("%w: code-block exponents %d, %d", ErrInvalidHeader, xcb+2, ycb+2)
	}
	cs.CodeBlockWidth, cs.CodeBlockHeight = 1<<(xcb+2), 1<<(ycb+2)

	switch wavelet {
	case 0:
		cs.WaveletFilter = wavelet97
	case 1:
		cs.WaveletFilter = wavelet53
	default:
		return nil, fmt.Errorf("%w: wavelet type %d", ErrUnsupportedWavelet, wavelet)
	}

	if precincts {
		cs.PrecinctSizes = make([][2]int, cs.NumDecompLevels+1)
		for r := range cs.PrecinctSizes {
			pp := s.u8()
			cs.PrecinctSizes[r] = [2]int{pp & 0x0F, pp >> 4}
		}
		if s.err != nil {
			return nil, fmt.Errorf("%w: precinct sizes", s.err)
		}
	}
	return cs, nil
}

// parseQuantization reads Sqcd and SPqcd, which QCC shares after its
// component index.
func parseQuantization(s *segment) (*quantization, error) {
	sq := s.u8()
	q := &quantization{QuantStyle: byte(sq & 0x1F), GuardBits: sq >> 5}
	switch q.QuantStyle {
	case 0:
		for s.left() > 0 {
			q.Exponents = append(q.Exponents, s.u8()>>3)
		}
	case 1, 2:
		for s.left() >= 2 {
			v := s.u16()
			q.Exponents = append(q.Exponents, v>>11)
			q.Mantissas = append(q.Mantissas, v&0x7FF)
		}
		if len(q.Exponents) == 0 {
			return nil, fmt.Errorf("%w: quantization without step sizes", ErrInvalidHeader)
		}
		if q.QuantStyle == 1 {
			q.Exponents, q.Mantissas = q.Exponents[:1], q.Mantissas[:1]
		}
	default:
		return nil, fmt.Errorf("%w: quantization style %d", ErrUnsupportedQuant, q.QuantStyle)
	}
	return q, s.err
}

// parsePOC reads the progressions of a POC segment. Component fields are
// two bytes wide above 256 components.
func parsePOC(s *segment, numComps int) ([]pocEntry, error) {
	size := 7
	if numComps > 256 {
		size = 9
	}
	var entries []pocEntry
	for s.left() >= size {
		entries = append(entries, pocEntry{
			RSpoc:  s.u8(),
			CSpoc:  s.comp(numComps),
			LYEpoc: s.u16(),
			REpoc:  s.u8(),
			CEpoc:  s.comp(numComps),
			Ppoc:   byte(s.u8()),
		})
	}
	return entries, s.err
}

// parseTLM reads the tile-part lengths of a TLM segment (Table A.34).
func (h *codestreamHeader) parseTLM(s *segment) error {
	s.u8() // Ztlm
	stlm := s.u8()
	st := (stlm >> 4) & 3
	sp := (stlm >> 6) & 1
	if s.err != nil {
		return s.err
	}
	if st == 3 {
		return nil
	}

	size := st + 2 + 2*sp
	next := len(h.TLMEntries)
	for s.left() >= size {
		e := tlmEntry{TileIndex: next}
		switch st {
		case 1:
			e.TileIndex = s.u8()
		case 2:
			e.TileIndex = s.u16()
		}
		if sp == 0 {
			e.TilePartLen = s.u16()
		} else {
			e.TilePartLen = s.u32()
		}
		h.TLMEntries = append(h.TLMEntries, e)
		next++
	}
	return nil
}

// readTileParts parses tile-parts starting at pos. On error the tiles read
// so far are returned together with the error, so a caller tolerating
// damaged streams can still decode them.
func readTileParts(data []byte, pos int, h *codestreamHeader) ([]*codestreamTile, error) {
	var tiles []*codestreamTile
	byIndex := make(map[int]*codestreamTile)

	err := func() error {
		for pos+2 <= len(data) {
			marker := binary.BigEndian.Uint16(data[pos:])
			if marker == markerEOC {
				return nil
			}
			if marker != markerSOT {
				var err error
				if pos, err = skipMarkerSegment(data, pos+2, marker); err != nil {
					return err
				}
				continue
			}

			index, part, psot, body, err := parseSOT(data, pos+2)
			if err != nil {
				return err
			}
			if index >= h.NumTiles {
				return fmt.Errorf("%w: tile index %d of %d", ErrInvalidTile, index, h.NumTiles)
			}

			// Psot = 0 runs the tile-part to the end of the codestream.
			end, truncated := len(data), false
			switch {
			case psot > 0:
				end = pos + psot
				if end > len(data) {
					end, truncated = len(data), true
				}
			case binary.BigEndian.Uint16(data[end-2:]) == markerEOC:
				end -= 2
			}

			tile := byIndex[index]
			if tile == nil {
				tile = newTile(h, index)
				byIndex[index] = tile
				tiles = append(tiles, tile)
			}
			h.TilePartOrder = append(h.TilePartOrder, index)

			pos = readTilePartHeader(data, body, end, part, h, tile)
			if truncated {
				return fmt.Errorf("%w: tile-part of tile %d", ErrTruncatedData, index)
			}
		}
		return nil
	}()

	for _, t := range tiles {
		if len(t.ppt) > 0 {
			t.PPTHeaders = joinByIndex(t.ppt)
			t.ppt = nil
		}
	}
	return tiles, err
}

// parseSOT parses an SOT segment. pos points just past the marker code.
func parseSOT(data []byte, pos int) (tileIndex, tilePartIndex, length, newPos int, err error) {
	s, next, err := nextSegment(data, pos)
	if err != nil {
		return 0, 0, 0, pos, err
	}
	if len(s.b) != 8 {
		return 0, 0, 0, pos, fmt.Errorf("%w: SOT length %d", ErrInvalidHeader, len(s.b)+2)
	}
	tileIndex = s.u16()
	length = s.u32()
	tilePartIndex = s.u8()
	return tileIndex, tilePartIndex, length, next, nil
}

// newTile computes the reference grid bounds of tile index (B-7).
func newTile(h *codestreamHeader, index int) *codestreamTile {
	p, q := index%h.NumXTiles, index/h.NumXTiles
	return &codestreamTile{
		Index: index,
		X0:    max(h.XTOsiz+p*h.TileWidth, h.XOsiz),
		Y0:    max(h.YTOsiz+q*h.TileHeight, h.YOsiz),
		X1:    min(h.XTOsiz+(p+1)*h.TileWidth, h.Width),
		Y1:    min(h.YTOsiz+(q+1)*h.TileHeight, h.Height),
	}
}

// readTilePartHeader applies the tile-part header segments between SOT and
// SOD to tile and attaches the body up to end. It returns where parsing
// stopped.
func readTilePartHeader(data []byte, pos, end, part int, h *codestreamHeader, tile *codestreamTile) int {
	for pos+2 <= end {
		marker := binary.BigEndian.Uint16(data[pos:])
		if marker == markerSOD {
			tile.TileParts = append(tile.TileParts, &tilePart{Part: part, Data: data[pos+2 : end]})
			return end
		}
		s, next, err := nextSegment(data, pos+2)
		if err != nil {
			return end
		}
		// A malformed override leaves the main header values in force.
		_ = tile.apply(marker, s, h)
		pos = next
	}
	return pos
}

// apply parses one tile-part header segment into t.
func (t *codestreamTile) apply(marker uint16, s *segment, h *codestreamHeader) error {
	switch marker {
	case markerCOD:
		cod, err := parseCOD(s)
		if err != nil {
			return err
		}
		t.COD = cod

	case markerQCD:
		q, err := parseQuantization(s)
		if err != nil {
			return err
		}
		t.QCD = q

	case markerRGN:
		c := s.comp(h.NumComps)
		s.u8() // Srgn, max-shift is the only style
		shift := s.u8()
		if s.err != nil || c >= h.NumComps {
			return s.err
		}
		if t.ROIShift == nil {
			t.ROIShift = make([]int, h.NumComps)
		}
		t.ROIShift[c] = shift

	case markerPOC:
		entries, err := parsePOC(s, h.NumComps)
		t.POCEntries = append(t.POCEntries, entries...)
		return err

	case markerPPT:
		z := s.u8()
		ippt := s.rest()
		if s.err != nil {
			return s.err
		}
		if t.ppt == nil {
			t.ppt = make(map[int][]byte)
		}
		t.ppt[z] = append(t.ppt[z], ippt...)
	}
	return nil
}

// joinByIndex concatenates PPM or PPT segment bodies in index order.
func joinByIndex(parts map[int][]byte) []byte {
	var out []byte
	for _, z := range slices.Sorted(maps.Keys(parts)) {
		out = append(out, parts[z]...)
	}
	return out
}

// distributePPMHeaders hands each tile the packet headers PPM carries for
// it. The Ippm data is a run of (Nppm, headers) pairs, one per tile-part in
// codestream order (A.7.4).
func distributePPMHeaders(h *codestreamHeader, tiles []*codestreamTile) {
	byIndex := make(map[int]*codestreamTile, len(tiles))
	for _, t := range tiles {
		byIndex[t.Index] = t
	}
	ppm := h.PPMHeaders
	for _, index := range h.TilePartOrder {
		if len(ppm) < 4 {
			return
		}
		n := min(int(binary.BigEndian.Uint32(ppm)), len(ppm)-4)
		ppm = ppm[4:]
		if t := byIndex[index]; t != nil {
			t.PPTHeaders = append(t.PPTHeaders, ppm[:n]...)
		}
		ppm = ppm[n:]
	}
}
