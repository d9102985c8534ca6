package j2kview

import (
	"fmt"
	"math"
	"math/bits"
)

// resolutionLevel is one resolution of a tile-component.
type resolutionLevel struct {
	Level    int // 0 = LL band only, 1+ = HL, LH, HH subbands
	Width    int
	Height   int
	X0, Y0   int // Image-space origin (trX0, trY0) for DWT parity calculation
	Subbands []*subbandInfo
}

// subbandInfo is a subband of a resolution with its code-block and
// precinct grids.
type subbandInfo struct {
	Type          bandType
	Width, Height int
	// X0, Y0 are the subband origin in image-space coordinates (tbX0, tbY0).
	// Per ITU-T T.800 equation B-16, these are derived from resolution bounds (trX0, trY0).
	X0, Y0      int
	CodeBlocksX int // Number of code blocks horizontally
	CodeBlocksY int // Number of code blocks vertically
	CodeBlocks  [][]*codeBlockInfo

	// Precinct grid parameters.
	// PrcGridX0/Y0: absolute index of the first precinct overlapping the resolution.
	// Computed as floor(trX0 / 2^PPx). This is the RESOLUTION-level grid origin,
	// shared by all subbands within the resolution. Using the subband origin instead
	// would give incorrect results when sbX0/prcW != trX0/(2*prcW).
	PrcGridX0, PrcGridY0 int
	// PrecinctWidth/Height: precinct size in subband coordinates.
	// For detail subbands: 2^(PPx-1) × 2^(PPy-1). For LL: 2^PPx × 2^PPy.
	PrecinctWidth  int
	PrecinctHeight int

	// Per-precinct tag trees (B.10.2: one pair per precinct)
	// Indexed by [precinctY * numPrecinctsX + precinctX]
	PrecinctInclusionTrees []*tagTree
	PrecinctZBPTrees       []*tagTree
	NumPrecinctsX          int
	NumPrecinctsY          int
}

// codeBlockInfo accumulates the packet contributions of one code-block.
type codeBlockInfo struct {
	X, Y          int    // Position in subband's code block grid
	Width, Height int    // Actual dimensions
	ZeroBitPlanes int    // Number of leading zero bit planes
	TotalPasses   int    // Total coding passes received so far
	Data          []byte // Accumulated compressed data
	Lblock        int    // Length indicator exponent (starts at 3)
	IncludedLayer int    // First layer where included (-1 if not included)

	// Per-segment lengths when ERTERM or BYPASS mode is enabled.
	// For ERTERM: one entry per pass.
	// For BYPASS: one entry per segment (segments group passes by coding mode).
	SegmentLengths []int

	// bypass tracks the open segment across layers.
	bypass bypassState

	// Per-packet temporary state
	newPasses         int
	newLength         int
	newSegmentLengths []int // Per-segment lengths for current packet
}

// cbEntry tracks a code block pending data read
type cbEntry struct {
	cb     *codeBlockInfo
	length int
}

// packetTrace records how one packet header was parsed.
type packetTrace struct {
	layer, res, comp     int
	precinctX, precinctY int
	headerBits           int // header length including stuffing
	empty                bool
	codeBlocks           int
	dataBytes            int
}

// tileDecoder parses the packets of one tile and decodes its code-blocks
// into wavelet coefficients.
type tileDecoder struct {
	header *codestreamHeader
	tile   *codestreamTile

	// Per-component resolution levels
	compResolutions [][]*resolutionLevel // [component][resolution]

	// Progressive decoding options. Every packet is parsed so the stream
	// stays in sync; packets past maxLayers or in the skipRead finest
	// resolutions have their data discarded.
	layers    int // layers signalled by COD
	maxLayers int // layers whose data is kept
	skipRead  int
	maxRes    int // finest resolution level of any component

	// PPT (Packed Packet Headers) reader
	// When non-nil, packet headers are read from pptReader instead of tile data
	pptReader *bitReader

	// traces collects one entry per packet when non-nil.
	traces []packetTrace
}

// newTileDecoder prepares a tile for decoding. maxLayers <= 0 decodes every
// layer; skipRead discards the data of that many of the finest resolutions.
func newTileDecoder(header *codestreamHeader, tile *codestreamTile, maxLayers, skipRead int) *tileDecoder {
	layers := header.NumLayers
	if tile.COD != nil && tile.COD.NumLayers > 0 {
		layers = tile.COD.NumLayers
	}
	if maxLayers <= 0 || maxLayers > layers {
		maxLayers = layers
	}

	td := &tileDecoder{
		header:          header,
		tile:            tile,
		layers:          layers,
		maxLayers:       maxLayers,
		skipRead:        max(skipRead, 0),
		compResolutions: make([][]*resolutionLevel, header.NumComps),
	}
	// Small tiles can have fewer levels than COD signals.
	for c := range header.NumComps {
		td.compResolutions[c] = td.buildResolutions(c)
		td.maxRes = max(td.maxRes, len(td.compResolutions[c])-1)
	}
	return td
}

// discarded reports whether the data of a packet is dropped.
func (td *tileDecoder) discarded(layer, res, comp int) bool {
	if layer >= td.maxLayers {
		return true
	}
	return comp < len(td.compResolutions) && res > len(td.compResolutions[comp])-1-td.skipRead
}

// enableTracing records a packetTrace for every packet parsed.
func (td *tileDecoder) enableTracing() {
	td.traces = make([]packetTrace, 0, 64)
}

// coding returns the coding style of a component in this tile. A
// tile-part COD overrides both COD and COC of the main header.
func (td *tileDecoder) coding(comp int) *codingStyle {
	if td.tile.COD != nil {
		return &td.tile.COD.codingStyle
	}
	return td.header.coding(comp)
}

// quant returns the quantization of a component in this tile.
func (td *tileDecoder) quant(comp int) *quantization {
	if td.tile.QCD != nil {
		return td.tile.QCD
	}
	return td.header.quant(comp)
}

// wavelet is the tile's filter. Components share one synthesis path, so
// component 0 decides.
func (td *tileDecoder) wavelet() waveletKind {
	return td.coding(0).WaveletFilter
}

// decompLevels returns the decomposition levels of a component in this
// tile. Levels whose subbands are empty still carry packets.
func (td *tileDecoder) decompLevels(comp int) int {
	return td.coding(comp).NumDecompLevels
}

// buildResolutions lays out the resolutions of one tile-component, coarsest
// first.
func (td *tileDecoder) buildResolutions(comp int) []*resolutionLevel {
	levels := td.decompLevels(comp)
	resolutions := make([]*resolutionLevel, levels+1)
	for r := range resolutions {
		x0, y0, x1, y1 := td.resolutionBounds(comp, r)
		res := &resolutionLevel{
			Level:  r,
			Width:  max(x1-x0, 0),
			Height: max(y1-y0, 0),
			X0:     x0,
			Y0:     y0,
		}
		bounds := [4]int{x0, y0, x1, y1}
		if r == 0 {
			res.Subbands = []*subbandInfo{
				td.createSubband(bandLL, res.Width, res.Height, r, bounds, comp),
			}
			resolutions[r] = res
			continue
		}

		// The origin parity decides which half of an odd extent is low-pass.
		lowW, highW := (res.Width+1)/2, res.Width/2
		if x0%2 != 0 {
			lowW, highW = highW, lowW
		}
		lowH, highH := (res.Height+1)/2, res.Height/2
		if y0%2 != 0 {
			lowH, highH = highH, lowH
		}
		// Bands of a 1 pixel wide resolution are empty but still own packets.
		res.Subbands = []*subbandInfo{
			td.createSubband(bandHL, highW, lowH, r, bounds, comp),
			td.createSubband(bandLH, lowW, highH, r, bounds, comp),
			td.createSubband(bandHH, highW, highH, r, bounds, comp),
		}
		resolutions[r] = res
	}
	return resolutions
}

// codeBlockSize is the nominal code-block size in a subband. A.6.1 caps it
// at the precinct, which detail bands see at half size.
func (td *tileDecoder) codeBlockSize(comp, res int, t bandType) (int, int) {
	cs := td.coding(comp)
	w, h := cs.CodeBlockWidth, cs.CodeBlockHeight
	ppx, ppy := cs.precinctSize(res)
	if t == bandLL {
		return min(w, 1<<ppx), min(h, 1<<ppy)
	}
	if ppx > 0 {
		w = min(w, 1<<(ppx-1))
	}
	if ppy > 0 {
		h = min(h, 1<<(ppy-1))
	}
	return w, h
}

// precinctCodeBlockRange returns the code-blocks [cbX0,cbX1)×[cbY0,cbY1)
// of a subband that fall in precinct (px, py) (B.7). Precinct and
// code-block grids are anchored at the origin; (gridX0, gridY0) is the
// first precinct of the resolution, prcW×prcH the precinct size in subband
// samples and sb the subband bounds.
func precinctCodeBlockRange(px, py, gridX0, gridY0, prcW, prcH int, sb [4]int, cbW, cbH, cbsX, cbsY int) (cbX0, cbX1, cbY0, cbY1 int) {
	x0 := max((gridX0+px)*prcW, sb[0])
	x1 := min((gridX0+px+1)*prcW, sb[2])
	y0 := max((gridY0+py)*prcH, sb[1])
	y1 := min((gridY0+py+1)*prcH, sb[3])
	if x0 >= x1 || y0 >= y1 {
		return 0, 0, 0, 0
	}
	first, top := sb[0]/cbW, sb[1]/cbH
	cbX0 = max(x0/cbW-first, 0)
	cbX1 = min(ceilDiv(x1, cbW)-first, cbsX)
	cbY0 = max(y0/cbH-top, 0)
	cbY1 = min(ceilDiv(y1, cbH)-top, cbsY)
	return cbX0, cbX1, cbY0, cbY1
}

// createSubband builds a subband of resolution res with its code-blocks and
// per-precinct tag trees. rb holds the resolution bounds x0, y0, x1, y1.
func (td *tileDecoder) createSubband(t bandType, width, height, res int, rb [4]int, comp int) *subbandInfo {
	cbW, cbH := td.codeBlockSize(comp, res, t)

	// B-16: low-pass origins round up, high-pass origins round down.
	x0, y0 := rb[0], rb[1]
	switch t {
	case bandHL:
		x0, y0 = rb[0]/2, (rb[1]+1)/2
	case bandLH:
		x0, y0 = (rb[0]+1)/2, rb[1]/2
	case bandHH:
		x0, y0 = rb[0]/2, rb[1]/2
	}
	x1, y1 := x0+width, y0+height

	cbsX, cbsY := 0, 0
	if width > 0 && height > 0 {
		cbsX = ceilDiv(x1, cbW) - x0/cbW
		cbsY = ceilDiv(y1, cbH) - y0/cbH
	}

	// Precincts are counted on the resolution, so an empty band of a
	// non-empty resolution still has them.
	ppx, ppy := td.coding(comp).precinctSize(res)
	prcW, prcH := 1<<ppx, 1<<ppy
	npx, npy := 0, 0
	if rb[2] > rb[0] && rb[3] > rb[1] {
		npx = max(ceilDiv(rb[2], prcW)-rb[0]/prcW, 1)
		npy = max(ceilDiv(rb[3], prcH)-rb[1]/prcH, 1)
	}
	sbPrcW, sbPrcH := prcW, prcH
	if res > 0 && t != bandLL {
		sbPrcW, sbPrcH = (prcW+1)/2, (prcH+1)/2
	}

	sb := &subbandInfo{
		Type:                   t,
		Width:                  width,
		Height:                 height,
		X0:                     x0,
		Y0:                     y0,
		CodeBlocksX:            cbsX,
		CodeBlocksY:            cbsY,
		CodeBlocks:             make([][]*codeBlockInfo, cbsY),
		PrcGridX0:              rb[0] / prcW,
		PrcGridY0:              rb[1] / prcH,
		PrecinctWidth:          sbPrcW,
		PrecinctHeight:         sbPrcH,
		NumPrecinctsX:          npx,
		NumPrecinctsY:          npy,
		PrecinctInclusionTrees: make([]*tagTree, npx*npy),
		PrecinctZBPTrees:       make([]*tagTree, npx*npy),
	}

	bounds := [4]int{x0, y0, x1, y1}
	for py := range npy {
		for px := range npx {
			bx0, bx1, by0, by1 := precinctCodeBlockRange(px, py, sb.PrcGridX0, sb.PrcGridY0,
				sbPrcW, sbPrcH, bounds, cbW, cbH, cbsX, cbsY)
			tw, th := max(bx1-bx0, 1), max(by1-by0, 1)
			sb.PrecinctInclusionTrees[py*npx+px] = newTagTree(tw, th)
			sb.PrecinctZBPTrees[py*npx+px] = newTagTree(tw, th)
		}
	}

	// Each code-block is its grid cell clipped to the subband.
	gx, gy := x0/cbW, y0/cbH
	for y := range cbsY {
		sb.CodeBlocks[y] = make([]*codeBlockInfo, cbsX)
		top := (gy + y) * cbH
		for x := range cbsX {
			left := (gx + x) * cbW
			sb.CodeBlocks[y][x] = &codeBlockInfo{
				X:             x,
				Y:             y,
				Width:         max(min(left+cbW, x1)-max(left, x0), 1),
				Height:        max(min(top+cbH, y1)-max(top, y0), 1),
				Lblock:        3,
				IncludedLayer: -1,
			}
		}
	}
	return sb
}

// numPrecincts returns the precinct grid of one resolution of a component.
// Subsampled components can have fewer precincts than component 0.
func (td *tileDecoder) numPrecincts(res, comp int) (int, int) {
	if comp >= len(td.compResolutions) {
		comp = 0
	}
	if len(td.compResolutions) == 0 || res >= len(td.compResolutions[comp]) {
		return 1, 1
	}
	bands := td.compResolutions[comp][res].Subbands
	if len(bands) == 0 {
		return 1, 1
	}
	return bands[0].NumPrecinctsX, bands[0].NumPrecinctsY
}

// parsePackets reads every packet of the tile. The tile-parts form one
// packet stream, walked in the progression order or POC sequence.
func (td *tileDecoder) parsePackets() error {
	h := td.header

	var data []byte
	for _, tp := range td.tile.TileParts {
		data = append(data, tp.Data...)
	}
	if len(data) == 0 {
		return nil
	}
	br := newBitReader(data)
	if len(td.tile.PPTHeaders) > 0 {
		td.pptReader = newBitReader(td.tile.PPTHeaders)
	}

	read := 0
	seen := make(map[packetID]bool)
	visit := func(p packetID) {
		read += td.parseAndReadPacket(br, p.layer, p.res, p.comp, p.px, p.py)
	}

	pocs := td.tile.POCEntries
	if len(pocs) == 0 {
		pocs = h.POCEntries
	}
	if len(pocs) > 0 {
		// B.12: POC entries run in sequence and skip packets already read.
		for _, poc := range pocs {
			td.walkPackets(progression{
				order:     poc.Ppoc,
				resStart:  poc.RSpoc,
				resEnd:    min(poc.REpoc, td.maxRes+1),
				compStart: poc.CSpoc,
				compEnd:   min(poc.CEpoc, h.NumComps),
				layerEnd:  min(poc.LYEpoc, td.layers),
			}, seen, visit)
		}
	} else {
		order := h.ProgressionOrder
		if td.tile.COD != nil {
			order = td.tile.COD.ProgressionOrder
		}
		td.walkPackets(progression{
			order:    order,
			resEnd:   td.maxRes + 1,
			compEnd:  h.NumComps,
			layerEnd: td.layers,
		}, seen, visit)
	}

	// Code-blocks included with no data are zero, so only a stream in which
	// no code-block was ever included is a parse failure.
	if read == 0 {
		if blocks, included := td.codeBlockInclusion(); blocks && !included {
			return fmt.Errorf("no packet data read from %d bytes", len(data))
		}
	}
	return nil
}

// codeBlockInclusion reports whether the tile has code-blocks and whether
// any of them was included by a packet header.
func (td *tileDecoder) codeBlockInclusion() (blocks, included bool) {
	for _, compRes := range td.compResolutions {
		for _, res := range compRes {
			for _, sb := range res.Subbands {
				for _, row := range sb.CodeBlocks {
					for _, cb := range row {
						blocks = true
						if cb.IncludedLayer >= 0 {
							return true, true
						}
					}
				}
			}
		}
	}
	return blocks, false
}

// packetID names one packet.
type packetID struct {
	layer, res, comp, px, py int
}

// progression is one progression order applied to a range of resolutions,
// components and layers. End bounds are exclusive.
type progression struct {
	order              byte
	resStart, resEnd   int
	compStart, compEnd int
	layerEnd           int
}

// walkPackets calls visit for each packet of p in order (B.12.1), skipping
// packets already in seen.
func (td *tileDecoder) walkPackets(p progression, seen map[packetID]bool, visit func(packetID)) {
	emit := func(id packetID) {
		if seen[id] {
			return
		}
		seen[id] = true
		visit(id)
	}
	precincts := func(l, r, c int) {
		nx, ny := td.numPrecincts(r, c)
		for py := range ny {
			for px := range nx {
				emit(packetID{l, r, c, px, py})
			}
		}
	}
	layers := func(r, c, px, py int) {
		for l := range p.layerEnd {
			emit(packetID{l, r, c, px, py})
		}
	}

	switch p.order {
	case progLRCP:
		for l := range p.layerEnd {
			for r := p.resStart; r < p.resEnd; r++ {
				for c := p.compStart; c < p.compEnd; c++ {
					precincts(l, r, c)
				}
			}
		}
	case progRLCP:
		for r := p.resStart; r < p.resEnd; r++ {
			for l := range p.layerEnd {
				for c := p.compStart; c < p.compEnd; c++ {
					precincts(l, r, c)
				}
			}
		}
	case progRPCL:
		x0, y0, x1, y1 := td.tile.X0, td.tile.Y0, td.tile.X1, td.tile.Y1
		for r := p.resStart; r < p.resEnd; r++ {
			dx, dy := td.minPrecinctStep(p.compStart, p.compEnd, r, r+1, 1, 1)
			for y := y0; y < y1; y += posStep(y, dy) {
				for x := x0; x < x1; x += posStep(x, dx) {
					for c := p.compStart; c < p.compEnd; c++ {
						if px, py, ok := td.precinctAt(c, r, x, y, x0, y0, false); ok {
							layers(r, c, px, py)
						}
					}
				}
			}
		}
	case progPCRL:
		x0, y0, x1, y1 := td.tile.X0, td.tile.Y0, td.tile.X1, td.tile.Y1
		dx, dy := td.minPrecinctStep(p.compStart, p.compEnd, p.resStart, p.resEnd, 1, 1)
		for y := y0; y < y1; y += posStep(y, dy) {
			for x := x0; x < x1; x += posStep(x, dx) {
				for c := p.compStart; c < p.compEnd; c++ {
					for r := p.resStart; r < p.resEnd; r++ {
						if px, py, ok := td.precinctAt(c, r, x, y, x0, y0, false); ok {
							layers(r, c, px, py)
						}
					}
				}
			}
		}
	case progCPRL:
		// Positions are in component coordinates here.
		for c := p.compStart; c < p.compEnd; c++ {
			if c >= len(td.compResolutions) {
				continue
			}
			resEnd := min(len(td.compResolutions[c]), p.resEnd)
			if resEnd <= p.resStart {
				continue
			}
			xr, yr := td.subsampling(c)
			x0, y0 := ceilDiv(td.tile.X0, xr), ceilDiv(td.tile.Y0, yr)
			x1, y1 := ceilDiv(td.tile.X1, xr), ceilDiv(td.tile.Y1, yr)
			dx, dy := td.minPrecinctStep(c, c+1, p.resStart, resEnd, xr, yr)
			for y := y0; y < y1; y += posStep(y, dy) {
				for x := x0; x < x1; x += posStep(x, dx) {
					for r := p.resStart; r < resEnd; r++ {
						if px, py, ok := td.precinctAt(c, r, x, y, x0, y0, true); ok {
							layers(r, c, px, py)
						}
					}
				}
			}
		}
	}
}

// minPrecinctStep is the smallest reference grid precinct step over the
// given components and resolutions, divided by (divX, divY).
func (td *tileDecoder) minPrecinctStep(compStart, compEnd, resStart, resEnd, divX, divY int) (int, int) {
	sx, sy := 1<<30, 1<<30
	for c := compStart; c < compEnd; c++ {
		for r := resStart; r < resEnd; r++ {
			x, y := td.precinctStepRef(r, c)
			sx = min(sx, x/divX)
			sy = min(sy, y/divY)
		}
	}
	return max(sx, 1), max(sy, 1)
}

// precinctAt returns the precinct of (comp, res) that starts at position
// (x, y), if any. Positions are on the reference grid, or in component
// coordinates when compGrid is set; (x0, y0) is the tile origin in the same
// coordinates. A tile origin that is off the precinct grid still starts a
// precinct when the resolution origin is off the grid too.
func (td *tileDecoder) precinctAt(comp, res, x, y, x0, y0 int, compGrid bool) (px, py int, ok bool) {
	if comp >= len(td.compResolutions) || res >= len(td.compResolutions[comp]) {
		return 0, 0, false
	}
	rx0, ry0, rx1, ry1 := td.resolutionBounds(comp, res)
	if rx1 <= rx0 || ry1 <= ry0 {
		return 0, 0, false
	}

	xr, yr := td.subsampling(comp)
	stepX, stepY := td.precinctStepRef(res, comp)
	cx, cy := x/xr, y/yr
	if compGrid {
		stepX, stepY = stepX/xr, stepY/yr
		cx, cy = x, y
	}
	pw, ph := td.precinctSize(res, comp)
	if x%stepX != 0 && (x != x0 || rx0%pw == 0) {
		return 0, 0, false
	}
	if y%stepY != 0 && (y != y0 || ry0%ph == 0) {
		return 0, 0, false
	}

	scale := 1 << max(td.decompLevels(comp)-res, 0)
	px = ceilDiv(cx, scale)/pw - rx0/pw
	py = ceilDiv(cy, scale)/ph - ry0/ph
	nx, ny := td.numPrecincts(res, comp)
	return px, py, px >= 0 && px < nx && py >= 0 && py < ny
}

// precinctSize is the precinct size at resolution res, in resolution
// coordinates.
func (td *tileDecoder) precinctSize(res, comp int) (int, int) {
	ppx, ppy := td.coding(comp).precinctSize(res)
	return 1 << ppx, 1 << ppy
}

// precinctStepRef is the precinct size at resolution res projected onto
// the reference grid: XRsiz * 2^(PPx + NL - r).
func (td *tileDecoder) precinctStepRef(res, comp int) (int, int) {
	ppx, ppy := td.coding(comp).precinctSize(res)
	s := max(td.decompLevels(comp)-res, 0)
	xr, yr := td.subsampling(comp)
	return xr << (ppx + s), yr << (ppy + s)
}

func (td *tileDecoder) subsampling(comp int) (int, int) {
	h := td.header
	xr, yr := 1, 1
	if comp < len(h.XRsiz) && h.XRsiz[comp] > 0 {
		xr = h.XRsiz[comp]
	}
	if comp < len(h.YRsiz) && h.YRsiz[comp] > 0 {
		yr = h.YRsiz[comp]
	}
	return xr, yr
}

// posStep is the distance from p to the next multiple of step.
func posStep(p, step int) int {
	if rem := p % step; rem != 0 {
		return step - rem
	}
	return step
}

// resolutionBounds returns the bounds of resolution res of a tile
// component (B-15), or zeros when the component has fewer levels.
func (td *tileDecoder) resolutionBounds(comp, res int) (x0, y0, x1, y1 int) {
	levels := td.decompLevels(comp)
	if res > levels {
		return 0, 0, 0, 0
	}
	xr, yr := td.subsampling(comp)
	sx, sy := xr<<(levels-res), yr<<(levels-res)
	return ceilDiv(td.tile.X0, sx), ceilDiv(td.tile.Y0, sy),
		ceilDiv(td.tile.X1, sx), ceilDiv(td.tile.Y1, sy)
}

// parseAndReadPacket reads the packet (layer, res, comp, precinct): an
// optional SOP segment, the header (from the PPT stream when present), an
// optional EPH marker and then the code-block data. It returns the number
// of data bytes read.
func (td *tileDecoder) parseAndReadPacket(br *bitReader, layer, res, comp, precinctX, precinctY int) int {
	br.ByteAlign()
	if comp < len(td.compResolutions) && res >= len(td.compResolutions[comp]) {
		return 0
	}

	// SOP and its 4 byte body live in the tile data even with PPT.
	if br.Remaining() >= 6 && peekMarker(br, markerSOP) {
		for range 6 {
			br.ReadByte()
		}
	}

	hr := br
	if td.pptReader != nil {
		hr = td.pptReader
	}
	headerStart := hr.BitPosition()
	hr.SetBitStuffing(true)
	entries, emptyBit := td.parsePacketHeader(hr, layer, res, comp, precinctX, precinctY)
	// Empty packets end in EPH too, so always align and look for it.
	hr.ByteAlign()
	hr.SetBitStuffing(false)
	if td.pptReader != nil {
		br.ByteAlign()
	}
	if hr.Remaining() >= 2 && peekMarker(hr, markerEPH) {
		hr.ReadByte()
		hr.ReadByte()
	}

	style := td.coding(comp).CodeBlockStyle
	bypass := style&cbstyBypass != 0 && style&cbstyTerminate == 0
	discard := td.discarded(layer, res, comp)
	read := 0
	for _, e := range entries {
		cb := e.cb
		if e.length > 0 {
			// A contribution that is cut short is dropped whole.
			if br.Remaining() < e.length {
				cb.newLength, cb.newPasses, cb.newSegmentLengths = 0, 0, nil
				continue
			}
			data, err := br.ReadBytes(e.length)
			if err != nil {
				continue
			}
			if !discard {
				cb.Data = append(cb.Data, data...)
				read += len(data)
			}
		}
		if discard {
			// The segment state still drives later length fields.
			if bypass {
				advanceBypassSegState(cb, cb.newPasses)
			}
			cb.newLength, cb.newPasses, cb.newSegmentLengths = 0, 0, nil
			continue
		}
		// Passes count even without new bytes.
		cb.TotalPasses += cb.newPasses
		if cb.newSegmentLengths != nil {
			if bypass && cb.bypass.passesInSeg > 0 && len(cb.SegmentLengths) > 0 && len(cb.newSegmentLengths) > 0 {
				// The first new length continues the open segment.
				cb.SegmentLengths[len(cb.SegmentLengths)-1] += cb.newSegmentLengths[0]
				cb.SegmentLengths = append(cb.SegmentLengths, cb.newSegmentLengths[1:]...)
			} else {
				cb.SegmentLengths = append(cb.SegmentLengths, cb.newSegmentLengths...)
			}
		}
		if bypass {
			advanceBypassSegState(cb, cb.newPasses)
		}
		cb.newLength, cb.newPasses, cb.newSegmentLengths = 0, 0, nil
	}

	if td.traces != nil {
		td.traces = append(td.traces, packetTrace{
			layer:      layer,
			res:        res,
			comp:       comp,
			precinctX:  precinctX,
			precinctY:  precinctY,
			headerBits: hr.BitPosition() - headerStart,
			empty:      emptyBit != 1,
			codeBlocks: len(entries),
			dataBytes:  read,
		})
	}
	return read
}

func peekMarker(br *bitReader, marker uint16) bool {
	b0, err0 := br.PeekByte(0)
	b1, err1 := br.PeekByte(1)
	return err0 == nil && err1 == nil && uint16(b0)<<8|uint16(b1) == marker
}

// parsePacketHeader reads one packet header (B.10) and returns the
// code-blocks it contributes to, with the empty packet bit or -1 when even
// that could not be read.
func (td *tileDecoder) parsePacketHeader(br *bitReader, layer, res, comp, precinctX, precinctY int) ([]cbEntry, int) {
	if br.Remaining() < 1 {
		return nil, -1
	}
	bit, err := br.ReadBit()
	if err != nil {
		return nil, -1
	}
	if bit == 0 {
		return nil, 0
	}
	if comp >= len(td.compResolutions) || res >= len(td.compResolutions[comp]) {
		return nil, 1
	}
	var entries []cbEntry
	for _, sb := range td.compResolutions[comp][res].Subbands {
		entries = append(entries, td.parseSubbandHeader(br, layer, sb, comp, precinctX, precinctY)...)
	}
	return entries, 1
}

// Bounds for header fields. Values past them mean the header is out of sync.
const (
	maxPassesPerPacket = 50
	maxContribution    = 100000
)

// parseSubbandHeader reads the contributions of the code-blocks of sb that
// lie in the precinct. A read error stops the subband with what was read.
func (td *tileDecoder) parseSubbandHeader(br *bitReader, layer int, sb *subbandInfo, comp, precinctX, precinctY int) []cbEntry {
	idx := precinctY*sb.NumPrecinctsX + precinctX
	if idx >= len(sb.PrecinctInclusionTrees) || idx >= len(sb.PrecinctZBPTrees) {
		return nil
	}
	incl, zbp := sb.PrecinctInclusionTrees[idx], sb.PrecinctZBPTrees[idx]
	if incl == nil || zbp == nil {
		return nil
	}

	cs := td.coding(comp)
	cbW, cbH := min(cs.CodeBlockWidth, sb.PrecinctWidth), min(cs.CodeBlockHeight, sb.PrecinctHeight)
	bounds := [4]int{sb.X0, sb.Y0, sb.X0 + sb.Width, sb.Y0 + sb.Height}
	cbX0, cbX1, cbY0, cbY1 := precinctCodeBlockRange(precinctX, precinctY, sb.PrcGridX0, sb.PrcGridY0,
		sb.PrecinctWidth, sb.PrecinctHeight, bounds, cbW, cbH, sb.CodeBlocksX, sb.CodeBlocksY)
	style := cs.CodeBlockStyle

	var entries []cbEntry
	for y := cbY0; y < cbY1; y++ {
		for x := cbX0; x < cbX1; x++ {
			cb := sb.CodeBlocks[y][x]
			lx, ly := x-cbX0, y-cbY0

			var included bool
			if cb.IncludedLayer < 0 {
				ok, err := incl.decodeInclusion(lx, ly, int32(layer), br)
				if err != nil {
					return entries
				}
				if ok {
					z, err := zbp.decodeZBP(lx, ly, br)
					if err != nil {
						return entries
					}
					cb.IncludedLayer = layer
					cb.ZeroBitPlanes = int(z)
					included = true
				}
			} else {
				bit, err := br.ReadBit()
				if err != nil {
					return entries
				}
				included = bit == 1
			}
			if !included {
				continue
			}

			passes := readNumPasses(br)
			if passes < 1 || passes > maxPassesPerPacket {
				return entries
			}
			cb.Lblock += readCommaCode(br)

			var (
				length int
				segs   []int
				err    error
			)
			switch {
			case style&cbstyTerminate != 0:
				length, segs, err = td.readDataLengthsERTERM(br, cb, passes)
			case style&cbstyBypass != 0:
				// Segments can span layers, so the split depends on state kept
				// on the code-block.
				if n := computeBypassNewSegments(cb, passes); n > 1 {
					length, segs, err = td.readDataLengthsBypass(br, cb, passes)
				} else {
					length, err = td.readDataLength(br, cb, passes)
					if n == 1 {
						segs = []int{length}
					}
				}
			default:
				length, err = td.readDataLength(br, cb, passes)
			}
			if err != nil || length > maxContribution {
				return entries
			}

			cb.newPasses = passes
			cb.newLength = length
			cb.newSegmentLengths = segs
			entries = append(entries, cbEntry{cb: cb, length: length})
		}
	}
	return entries
}

// readCommaCode reads the Lblock increment: a run of 1 bits ended by a 0.
func readCommaCode(br *bitReader) int {
	n := 0
	for n <= 16 {
		bit, err := br.ReadBit()
		if err != nil || bit == 0 {
			break
		}
		n++
	}
	return n
}

// readNumPasses reads the coding pass count (Table B.4): 0, 10, 11xx,
// 1111 xxxxx and 1111 11111 xxxxxxx. A truncated code yields the smallest
// count of the prefix read so far.
func readNumPasses(br *bitReader) int {
	if bit, err := br.ReadBit(); err != nil || bit == 0 {
		return 1
	}
	bit, err := br.ReadBit()
	if err != nil {
		return 1
	}
	if bit == 0 {
		return 2
	}
	n, err := br.ReadBits(2)
	if err != nil {
		return 3
	}
	if n != 3 {
		return 3 + int(n)
	}
	n, err = br.ReadBits(5)
	if err != nil {
		return 6
	}
	if n != 31 {
		return 6 + int(n)
	}
	n, err = br.ReadBits(7)
	if err != nil {
		return 37
	}
	return 37 + int(n)
}

// readDataLength reads one length field of Lblock + floor(log2(passes))
// bits (B.10.7.1).
func (td *tileDecoder) readDataLength(br *bitReader, cb *codeBlockInfo, passes int) (int, error) {
	n, err := br.ReadBits(cb.Lblock + ilog2(passes))
	return int(n), err
}

// readDataLengthsERTERM reads one Lblock bit length per pass: with
// termination on each pass every pass is its own segment.
func (td *tileDecoder) readDataLengthsERTERM(br *bitReader, cb *codeBlockInfo, passes int) (int, []int, error) {
	lengths := make([]int, passes)
	total := 0
	for i := range lengths {
		n, err := br.ReadBits(cb.Lblock)
		if err != nil {
			return total, lengths, err
		}
		lengths[i] = int(n)
		total += int(n)
	}
	return total, lengths, nil
}

// readDataLengthsBypass reads one length per bypass segment that receives
// passes in this packet.
func (td *tileDecoder) readDataLengthsBypass(br *bitReader, cb *codeBlockInfo, passes int) (int, []int, error) {
	var (
		lengths []int
		total   int
		err     error
	)
	cb.bypass.split(passes, func(n int, _ bool) {
		if err != nil {
			return
		}
		var v uint32
		if v, err = br.ReadBits(cb.Lblock + ilog2(n)); err == nil {
			lengths = append(lengths, int(v))
			total += int(v)
		}
	})
	return total, lengths, err
}

// bypassSegment is a run of passes coded the same way in bypass mode.
type bypassSegment struct {
	passCount int
	isRaw     bool
}

// bypassState is the position in the bypass segment sequence: a first
// segment of up to 10 MQ passes, then raw segments of 2 passes alternating
// with MQ segments of 1.
type bypassState struct {
	segIdx      int
	passesInSeg int
	prevMax     int
}

func (s bypassState) maxPasses() int {
	switch {
	case s.segIdx == 0:
		return 10
	case s.prevMax == 1 || s.prevMax == 10:
		return 2
	default:
		return 1
	}
}

// split assigns n further passes to segments, calling fn with the passes
// each segment receives, and returns the state afterwards. A segment left
// open continues in the next packet.
func (s bypassState) split(n int, fn func(passes int, raw bool)) bypassState {
	for n > 0 {
		limit := s.maxPasses()
		if avail := limit - s.passesInSeg; avail > 0 {
			k := min(avail, n)
			if fn != nil {
				fn(k, s.segIdx > 0 && limit == 2)
			}
			s.passesInSeg += k
			n -= k
		}
		if s.passesInSeg >= limit {
			s.prevMax = limit
			s.segIdx++
			s.passesInSeg = 0
		}
	}
	return s
}

// computeBypassSegments lays out numPasses passes from the start of a
// code-block.
func computeBypassSegments(numPasses int) []bypassSegment {
	var segs []bypassSegment
	bypassState{}.split(numPasses, func(n int, raw bool) {
		segs = append(segs, bypassSegment{passCount: n, isRaw: raw})
	})
	return segs
}

// computeBypassNewSegments returns how many segment lengths the packet
// header carries for n new passes.
func computeBypassNewSegments(cb *codeBlockInfo, n int) int {
	count := 0
	cb.bypass.split(n, func(int, bool) { count++ })
	return count
}

// advanceBypassSegState records n new passes on the code-block.
func advanceBypassSegState(cb *codeBlockInfo, n int) {
	cb.bypass = cb.bypass.split(n, nil)
}

// ilog2 is floor(log2(n)) for n >= 1 and 0 otherwise.
func ilog2(n int) int {
	if n <= 1 {
		return 0
	}
	return bits.Len(uint(n)) - 1
}

// decode runs Tier-1 decoding and dequantization on every included
// code-block and returns the coefficients of each tile-component in the
// quadrant layout expected by the inverse DWT. For the 9/7 wavelet the
// float64 coefficients carry full precision and are returned as well.
func (td *tileDecoder) decode() ([][][]int32, [][][]float64, error) {
	h := td.header
	irreversible := td.wavelet() == wavelet97

	coeffs := make([][][]int32, h.NumComps)
	var floatCoeffs [][][]float64
	if irreversible {
		floatCoeffs = make([][][]float64, h.NumComps)
	}
	cbW, cbH := 0, 0
	for c := range h.NumComps {
		// B.6: tile-component bounds floor the origin and ceil the end.
		xr, yr := td.subsampling(c)
		w := max(ceilDiv(td.tile.X1, xr)-td.tile.X0/xr, 0)
		ht := max(ceilDiv(td.tile.Y1, yr)-td.tile.Y0/yr, 0)
		coeffs[c] = make2D[int32](w, ht)
		if irreversible {
			floatCoeffs[c] = make2D[float64](w, ht)
		}
		cs := td.coding(c)
		cbW, cbH = max(cbW, cs.CodeBlockWidth), max(cbH, cs.CodeBlockHeight)
	}

	ebcot := newEBCOTDecoder(cbW, cbH)
	for c := range h.NumComps {
		var fc [][]float64
		if irreversible {
			fc = floatCoeffs[c]
		}
		for r, res := range td.compResolutions[c] {
			for _, sb := range res.Subbands {
				td.decodeSubband(ebcot, sb, r, c, coeffs[c], fc)
			}
		}
	}
	return coeffs, floatCoeffs, nil
}

func make2D[T int32 | float64](w, h int) [][]T {
	rows := make([][]T, h)
	for y := range rows {
		rows[y] = make([]T, w)
	}
	return rows
}

// bandIndex is the position of a subband in the QCD/QCC step size list.
func bandIndex(res int, t bandType) int {
	if res == 0 {
		return 0
	}
	off := 0
	switch t {
	case bandLH:
		off = 1
	case bandHH:
		off = 2
	}
	return 1 + 3*(res-1) + off
}

// magnitudeBits is Mb for a subband (E-2), before the ROI shift.
func (td *tileDecoder) magnitudeBits(comp, res int, t bandType) int {
	q := td.quant(comp)
	if exp, _, ok := q.band(res, t); ok {
		return q.GuardBits + exp - 1
	}
	return 8
}

// stepSize is the dequantization step of a subband (E-3):
// (1 + mant/2^11) * 2^(Rb - exp). The 9/7 path uses a unit gain for every
// band because synthesis scales high-pass samples by 2/K.
func (td *tileDecoder) stepSize(comp, res int, t bandType) float64 {
	rb := 8
	if comp < len(td.header.BitDepth) {
		rb = td.header.BitDepth[comp]
	}
	if td.wavelet() == wavelet53 {
		switch t {
		case bandHL, bandLH:
			rb++
		case bandHH:
			rb += 2
		}
	}
	exp, mant, ok := td.quant(comp).band(res, t)
	if !ok {
		return 1
	}
	return (1 + float64(mant)/2048) * math.Pow(2, float64(rb-exp))
}

// decodeSubband decodes the code-blocks of one subband into coeffs, and
// into fc when it is non-nil. Code-blocks that fail to decode stay zero.
func (td *tileDecoder) decodeSubband(ebcot *ebcotDecoder, sb *subbandInfo, res, comp int, coeffs [][]int32, fc [][]float64) {
	cbW, cbH := td.codeBlockSize(comp, res, sb.Type)
	gridX0, gridY0 := sb.X0/cbW, sb.Y0/cbH

	roiShift := 0
	if comp < len(td.tile.ROIShift) {
		roiShift = td.tile.ROIShift[comp]
	}
	baseMb := td.magnitudeBits(comp, res, sb.Type) + roiShift

	reversible := td.wavelet() == wavelet53 && td.quant(comp).QuantStyle == 0
	step := td.stepSize(comp, res, sb.Type)

	compH := len(coeffs)
	compW := 0
	if compH > 0 {
		compW = len(coeffs[0])
	}
	offX, offY := td.bandOffset(comp, res, sb.Type)

	for y, row := range sb.CodeBlocks {
		for x, cb := range row {
			if cb.IncludedLayer < 0 || len(cb.Data) == 0 {
				continue
			}
			mb := baseMb
			if cb.TotalPasses > 0 {
				// Enough planes to hold every pass received.
				mb = max(mb, (cb.TotalPasses+1)/3+1+cb.ZeroBitPlanes)
			}
			block, err := ebcot.decodeCodeBlock(&codedBlock{
				X:                  x,
				Y:                  y,
				Width:              cb.Width,
				Height:             cb.Height,
				Data:               cb.Data,
				NumPasses:          cb.TotalPasses,
				ZeroBitPlanes:      cb.ZeroBitPlanes,
				MagnitudeBitPlanes: mb,
				CodeBlockStyle:     td.coding(comp).CodeBlockStyle,
				SegmentLengths:     cb.SegmentLengths,
			}, sb.Type)
			if err != nil {
				continue
			}
			if roiShift > 0 {
				deshiftROI(block, roiShift)
			}

			// B.7: the code-block grid is anchored at the origin, so the first
			// block of a band can start inside a grid cell.
			x0 := max((gridX0+x)*cbW-sb.X0, 0) + offX
			y0 := max((gridY0+y)*cbH-sb.Y0, 0) + offY
			for by := range cb.Height {
				iy := y0 + by
				if iy < 0 || iy >= compH {
					continue
				}
				for bx := range cb.Width {
					ix := x0 + bx
					if ix < 0 || ix >= compW {
						continue
					}
					// Tier-1 output carries one extra fractional bit.
					if reversible {
						coeffs[iy][ix] = block[by][bx] / 2
						continue
					}
					v := float64(block[by][bx]) * step / 2
					if fc != nil {
						fc[iy][ix] = v
					}
					coeffs[iy][ix] = int32(math.RoundToEven(v))
				}
			}
		}
	}
}

// deshiftROI undoes the max-shift ROI scaling (Annex H). Samples below
// 2^shift in magnitude belong to the background and are left alone.
func deshiftROI(block [][]int32, shift int) {
	limit := int32(1) << shift
	for _, row := range block {
		for i, v := range row {
			switch {
			case v >= limit:
				row[i] = v >> shift
			case v <= -limit:
				row[i] = -((-v) >> shift)
			}
		}
	}
}

// bandOffset is where a subband starts in the quadrant layout: detail bands
// sit right of and below the previous resolution, whose odd sizes make the
// quadrants uneven.
func (td *tileDecoder) bandOffset(comp, res int, t bandType) (int, int) {
	if res == 0 || comp >= len(td.compResolutions) || res-1 >= len(td.compResolutions[comp]) {
		return 0, 0
	}
	prev := td.compResolutions[comp][res-1]
	switch t {
	case bandHL:
		return prev.Width, 0
	case bandLH:
		return 0, prev.Height
	case bandHH:
		return prev.Width, prev.Height
	}
	return 0, 0
}
