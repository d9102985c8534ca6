package j2kview

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/ajroetker/go-highway/hwy/contrib/workerpool"
)

// maxPlaneSamples bounds the size of one decoded component.
const maxPlaneSamples = 1 << 30

// planeFits reports whether a width x height plane stays within
// maxPlaneSamples. The product is never formed, so 32-bit SIZ extents
// cannot wrap it.
func planeFits(width, height int) bool {
	if width <= 0 || height <= 0 {
		return true
	}
	return width <= maxPlaneSamples/height
}

// LevelTrace enables per-packet logging from the codec. It sits below
// slog.LevelDebug so Debug handlers stay quiet.
const LevelTrace = slog.LevelDebug - 4

// jp2Signature starts a JP2 file; only raw codestreams are decoded.
var jp2Signature = []byte{0x00, 0x00, 0x00, 0x0C, 0x6A, 0x50, 0x20, 0x20}

// codestreamEngine decodes a raw JPEG2000 codestream held in memory and
// delivers reconstructed component lines.
//
// Headers are read by readHeaders, tile-parts by create, and the pixel
// decode runs on the first pull. Decoded planes are kept so that rewind
// can deliver the image again without decoding twice.
type codestreamEngine struct {
	data    []byte
	header  *codestreamHeader
	tilePos int // offset of the first SOT marker
	tiles   []*codestreamTile

	reduce    int // resolutions dropped from reconstruction
	skipRead  int // resolutions whose packet data is discarded
	maxLayers int
	resilient bool
	workers   int
	log       *slog.Logger

	created bool
	geoms   []componentGeometry
	pool    *workerpool.Pool
	planes  []*plane
	cursor  lineCursor
}

func newCodestreamEngine(opts Options, log *slog.Logger) *codestreamEngine {
	return &codestreamEngine{
		maxLayers: max(opts.MaxLayers, 0),
		resilient: opts.Resilient,
		workers:   opts.Workers,
		log:       log,
	}
}

func (e *codestreamEngine) open(data []byte) error {
	if len(data) < 2 {
		return newError("open", KindDecode, ErrTruncatedData)
	}
	if bytes.HasPrefix(data, jp2Signature) {
		return newError("open", KindUnsupported, fmt.Errorf("%w: JP2 container", ErrUnsupportedFormat))
	}
	e.data = data
	return nil
}

func (e *codestreamEngine) readHeaders() (err error) {
	defer recoverPanic("read headers", &err)
	if e.data == nil {
		return newError("read headers", KindState, ErrNotReady)
	}
	header, pos, err := readMainHeader(e.data)
	if err != nil {
		return decodeError("read headers", err)
	}
	e.header = header
	e.tilePos = pos
	return nil
}

// restrictResolution skips the finest resolution levels. skipRecon sets
// the reconstructed size; the skipRead finest levels are not read and
// their detail bands synthesize as zero. skipRead must be at least
// skipRecon. Both are clamped to the smallest number of decomposition
// levels among the components.
func (e *codestreamEngine) restrictResolution(skipRead, skipRecon int) error {
	if e.header == nil {
		return newError("restrict resolution", KindState, ErrNotReady)
	}
	if e.created {
		return newError("restrict resolution", KindState,
			fmt.Errorf("%w: resolution is fixed once decode structures exist", ErrNotReady))
	}
	skipRead, skipRecon = max(skipRead, 0), max(skipRecon, 0)
	if skipRead < skipRecon {
		return newError("restrict resolution", KindInvalidArgument,
			fmt.Errorf("%w: %d levels skipped for read, %d for reconstruction", ErrInvalidResolution, skipRead, skipRecon))
	}
	for c := range e.header.NumComps {
		levels := e.header.ComponentDecompLevels(c)
		skipRead, skipRecon = min(skipRead, levels), min(skipRecon, levels)
	}
	e.skipRead = skipRead
	e.reduce = skipRecon
	return nil
}

func (e *codestreamEngine) enableResilience() {
	e.resilient = true
}

func (e *codestreamEngine) create() (err error) {
	defer recoverPanic("create", &err)
	if e.header == nil {
		return newError("create", KindState, ErrNotReady)
	}
	if e.created {
		return nil
	}

	tiles, err := readTileParts(e.data, e.tilePos, e.header)
	if err != nil {
		if !e.resilient {
			return decodeError("create", err)
		}
		e.log.Debug("continuing after damaged tile-part", "op", "create", "tiles", len(tiles), "err", err)
	}
	if len(e.header.PPMHeaders) > 0 {
		distributePPMHeaders(e.header, tiles)
	}

	geoms := make([]componentGeometry, e.header.NumComps)
	for c := range geoms {
		g, err := e.componentGeometry(c)
		if err != nil {
			return err
		}
		if !planeFits(g.Width, g.Height) {
			return newError("create", KindDecode,
				fmt.Errorf("%w: component %d is %dx%d", ErrImageTooLarge, c, g.Width, g.Height))
		}
		geoms[c] = g
	}

	e.tiles = tiles
	e.geoms = geoms
	e.cursor = newLineCursor(geoms)
	e.pool = workerpool.New(e.workers)
	e.created = true
	return nil
}

func (e *codestreamEngine) numComponents() int {
	if e.header == nil {
		return 0
	}
	return e.header.NumComps
}

func (e *codestreamEngine) geometry(comp int) (componentGeometry, error) {
	if e.header == nil {
		return componentGeometry{}, newError("geometry", KindState, ErrNotReady)
	}
	if e.geoms != nil && comp >= 0 && comp < len(e.geoms) {
		return e.geoms[comp], nil
	}
	return e.componentGeometry(comp)
}

// componentGeometry computes the reconstructed size of a component at the
// current reduce factor per ITU-T T.800 B-2 and B-15:
//
//	x0 = ceil(XOsiz / (XRsiz * 2^r)), x1 = ceil(Xsiz / (XRsiz * 2^r))
func (e *codestreamEngine) componentGeometry(comp int) (componentGeometry, error) {
	h := e.header
	if comp < 0 || comp >= h.NumComps {
		return componentGeometry{}, newError("geometry", KindInvalidArgument,
			fmt.Errorf("%w: %d of %d", ErrInvalidComponent, comp, h.NumComps))
	}
	dx, dy := h.XRsiz[comp], h.YRsiz[comp]
	sx, sy := dx<<e.reduce, dy<<e.reduce
	return componentGeometry{
		Width:    ceilDiv(h.Width, sx) - ceilDiv(h.XOsiz, sx),
		Height:   ceilDiv(h.Height, sy) - ceilDiv(h.YOsiz, sy),
		BitDepth: h.BitDepth[comp],
		Signed:   h.Signed[comp],
		DX:       dx,
		DY:       dy,
	}, nil
}

func (e *codestreamEngine) pull() (int, []int32, error) {
	if !e.created {
		return 0, nil, newError("pull", KindState, ErrNotReady)
	}
	if e.planes == nil {
		if err := e.decode(); err != nil {
			return 0, nil, err
		}
	}
	comp, line, ok := e.cursor.next()
	if !ok {
		return 0, nil, newError("pull", KindEndOfStream, ErrEndOfImage)
	}
	row := e.planes[comp].RowSlice(line)
	if row == nil {
		// A zero-width component still has lines to deliver.
		row = []int32{}
	}
	return comp, row, nil
}

func (e *codestreamEngine) rewind() error {
	if !e.created {
		return newError("rewind", KindState, ErrNotReady)
	}
	e.cursor.reset()
	return nil
}

func (e *codestreamEngine) close() {
	if e.pool != nil {
		e.pool.Close()
		e.pool = nil
	}
	e.planes = nil
	e.tiles = nil
	e.data = nil
	e.created = false
}

// decode reconstructs every tile into the component planes. Tiles are
// independent and decoded on the worker pool.
func (e *codestreamEngine) decode() error {
	planes := make([]*plane, len(e.geoms))
	for c, g := range e.geoms {
		planes[c] = newPlane(g.Width, g.Height)
	}

	errs := make([]error, len(e.tiles))
	e.pool.ParallelForAtomic(len(e.tiles), func(i int) {
		errs[i] = e.decodeTile(e.tiles[i], planes)
	})

	for i, err := range errs {
		if err == nil {
			continue
		}
		if !e.resilient {
			return decodeError("decode", fmt.Errorf("tile %d: %w", e.tiles[i].Index, err))
		}
		e.log.Debug("skipping damaged tile", "op", "decode", "tile", e.tiles[i].Index, "err", err)
	}

	e.planes = planes
	return nil
}

// decodeTile decodes one tile and writes its reconstructed samples into
// planes. Unsigned components are level shifted back to [0, 2^B-1].
func (e *codestreamEngine) decodeTile(tile *codestreamTile, planes []*plane) (err error) {
	defer recoverPanic("decode tile", &err)
	h := e.header

	td := newTileDecoder(h, tile, e.maxLayers, e.skipRead)
	tracing := e.log.Enabled(context.Background(), LevelTrace)
	if tracing {
		td.enableTracing()
	}
	if err := td.parsePackets(); err != nil {
		return fmt.Errorf("parse packets: %w", err)
	}
	if tracing {
		e.tracePackets(tile.Index, td.traces)
	}

	// floatCoeffs is non-nil for the 9/7 wavelet and keeps full dequantized
	// precision for synthesis.
	coeffs, floatCoeffs, err := td.decode()
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	// Inverse DWT down to the requested resolution. The coefficient arrays
	// use the quadrant layout, so synthesizing only the coarsest levels
	// leaves the reduced image in the top-left corner.
	regions := make([]*resolutionLevel, h.NumComps)
	irreversible := td.wavelet() == wavelet97
	for c := 0; c < h.NumComps && c < len(coeffs); c++ {
		compRes := td.compResolutions[c]
		keep := len(compRes) - min(e.reduce, len(compRes)-1)
		resDims := make([]resBounds, keep)
		for r := range keep {
			resDims[r] = resBounds{
				Width:  compRes[r].Width,
				Height: compRes[r].Height,
				X0:     compRes[r].X0,
				Y0:     compRes[r].Y0,
			}
		}
		regions[c] = compRes[keep-1]

		if irreversible {
			synthesize97(floatCoeffs[c], resDims)
		} else {
			synthesize53(coeffs[c], resDims)
		}
	}

	if h.MCT && h.NumComps >= 3 && sameRegion(regions[:3]) {
		w, ht := clippedRegion(regions[0], coeffs[0])
		if irreversible {
			inverseICT(floatCoeffs[0], floatCoeffs[1], floatCoeffs[2], w, ht)
		} else {
			inverseRCT(coeffs[0], coeffs[1], coeffs[2], w, ht)
		}
	}

	for c := 0; c < h.NumComps && c < len(coeffs); c++ {
		var shift int32
		if !h.Signed[c] && h.BitDepth[c] <= 31 {
			shift = 1 << (h.BitDepth[c] - 1)
		}
		var fc [][]float64
		if irreversible {
			fc = floatCoeffs[c]
		}
		e.place(planes[c], c, regions[c], coeffs[c], fc, shift)
	}
	return nil
}

func (e *codestreamEngine) tracePackets(tile int, traces []packetTrace) {
	ctx := context.Background()
	for _, t := range traces {
		e.log.Log(ctx, LevelTrace, "packet",
			"tile", tile, "layer", t.layer, "res", t.res, "comp", t.comp,
			"precinct", [2]int{t.precinctX, t.precinctY},
			"empty", t.empty, "headerBits", t.headerBits,
			"codeBlocks", t.codeBlocks, "dataBytes", t.dataBytes)
	}
}

// place copies a tile-component region into its plane. Region coordinates
// are absolute at the reduced resolution; the plane starts at the reduced
// image origin.
func (e *codestreamEngine) place(p *plane, comp int, res *resolutionLevel, coeffs [][]int32, fc [][]float64, shift int32) {
	h := e.header
	sx, sy := h.XRsiz[comp]<<e.reduce, h.YRsiz[comp]<<e.reduce
	originX := ceilDiv(h.XOsiz, sx)
	originY := ceilDiv(h.YOsiz, sy)

	w, ht := clippedRegion(res, coeffs)
	for y := range ht {
		row := p.RowSlice(res.Y0 + y - originY)
		if row == nil {
			continue
		}
		for x := range w {
			px := res.X0 + x - originX
			if px < 0 || px >= len(row) {
				continue
			}
			if fc != nil {
				// Banker's rounding matches OpenJPEG's lrintf()
				row[px] = int32(math.RoundToEven(fc[y][x])) + shift
			} else {
				row[px] = coeffs[y][x] + shift
			}
		}
	}
}

// clippedRegion bounds a resolution's size by the allocated coefficients.
func clippedRegion(res *resolutionLevel, coeffs [][]int32) (w, h int) {
	h = min(res.Height, len(coeffs))
	w = res.Width
	if h > 0 {
		w = min(w, len(coeffs[0]))
	} else {
		w = 0
	}
	return w, h
}

func sameRegion(regions []*resolutionLevel) bool {
	for _, r := range regions[1:] {
		if r == nil || regions[0] == nil ||
			r.Width != regions[0].Width || r.Height != regions[0].Height {
			return false
		}
	}
	return true
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// recoverPanic turns a panic in the codec core into a KindInternal error.
func recoverPanic(op string, errp *error) {
	if r := recover(); r != nil {
		*errp = newError(op, KindInternal, fmt.Errorf("%w: panic: %v", ErrDecodeFailed, r))
	}
}
