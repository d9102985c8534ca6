package j2kview

import (
	"encoding/binary"
	"errors"
	"testing"
)

// testComponent describes one component of a generated codestream.
type testComponent struct {
	depth  int
	signed bool
	dx, dy int
}

// testCodestream builds small raw codestreams whose code-blocks are all
// included with zero coded data, so every wavelet coefficient decodes to
// zero. Reconstructed samples are therefore 0 for signed components and
// 2^(depth-1) for unsigned ones.
//
// xsiz and ysiz are the reference grid extents, x0 and y0 the image offset.
// Tile sizes must be multiples of 2^levels times the component separation
// so every subband of every tile holds exactly one 64x64 code-block.
type testCodestream struct {
	xsiz, ysiz   int
	x0, y0       int
	tileW, tileH int
	comps        []testComponent
	levels       int
	mct          bool
	irreversible bool
	zeroPsot     bool // Psot = 0 on the last tile-part
	noEOC        bool
}

func grayCodestream(w, h int) testCodestream {
	return testCodestream{
		xsiz: w, ysiz: h,
		comps:  []testComponent{{depth: 8, dx: 1, dy: 1}},
		levels: 2,
	}
}

func rgbCodestream(w, h int) testCodestream {
	c := testComponent{depth: 8, dx: 1, dy: 1}
	return testCodestream{
		xsiz: w, ysiz: h,
		comps:  []testComponent{c, c, c},
		levels: 2,
		mct:    true,
	}
}

func (tc testCodestream) tileSize() (int, int) {
	tw, th := tc.tileW, tc.tileH
	if tw == 0 {
		tw = tc.xsiz
	}
	if th == 0 {
		th = tc.ysiz
	}
	return tw, th
}

func (tc testCodestream) numBands() int {
	return 1 + 3*tc.levels
}

func (tc testCodestream) mainHeader() []byte {
	tw, th := tc.tileSize()
	buf := appendUint16(nil, markerSOC)

	buf = appendUint16(buf, markerSIZ)
	buf = appendUint16(buf, uint16(38+3*len(tc.comps)))
	buf = appendUint16(buf, 0) // Rsiz
	buf = appendUint32(buf, uint32(tc.xsiz))
	buf = appendUint32(buf, uint32(tc.ysiz))
	buf = appendUint32(buf, uint32(tc.x0))
	buf = appendUint32(buf, uint32(tc.y0))
	buf = appendUint32(buf, uint32(tw))
	buf = appendUint32(buf, uint32(th))
	buf = appendUint32(buf, 0) // XTOsiz
	buf = appendUint32(buf, 0) // YTOsiz
	buf = appendUint16(buf, uint16(len(tc.comps)))
	for _, c := range tc.comps {
		ssiz := byte(c.depth - 1)
		if c.signed {
			ssiz |= 0x80
		}
		buf = append(buf, ssiz, byte(max(c.dx, 1)), byte(max(c.dy, 1)))
	}

	var mct, wavelet byte = 0, 1
	if tc.mct {
		mct = 1
	}
	if tc.irreversible {
		wavelet = 0
	}
	buf = appendUint16(buf, markerCOD)
	buf = appendUint16(buf, 12)
	buf = append(buf, 0, 0)    // Scod, LRCP
	buf = appendUint16(buf, 1) // layers
	buf = append(buf, mct, byte(tc.levels), 4, 4, 0, wavelet)

	buf = appendUint16(buf, markerQCD)
	if tc.irreversible {
		buf = appendUint16(buf, uint16(3+2*tc.numBands()))
		buf = append(buf, 2<<5|2) // two guard bits, scalar expounded
		for range tc.numBands() {
			buf = appendUint16(buf, 10<<11)
		}
	} else {
		buf = appendUint16(buf, uint16(3+tc.numBands()))
		buf = append(buf, 2<<5) // two guard bits, no quantization
		for range tc.numBands() {
			buf = append(buf, 9<<3)
		}
	}
	return buf
}

// tileBody returns the packets of one tile in LRCP order. Each code-block
// is included in layer 0 with no missing bit-planes, one coding pass and
// zero bytes of data.
func (tc testCodestream) tileBody() []byte {
	var body []byte
	for r := 0; r <= tc.levels; r++ {
		for range tc.comps {
			if r == 0 {
				body = append(body, 0xE0)
			} else {
				body = append(body, 0xE0, 0xC1, 0x80)
			}
		}
	}
	return body
}

func (tc testCodestream) numTiles() int {
	tw, th := tc.tileSize()
	return ((tc.xsiz + tw - 1) / tw) * ((tc.ysiz + th - 1) / th)
}

func (tc testCodestream) build() []byte {
	buf := tc.mainHeader()
	n := tc.numTiles()
	for i := range n {
		body := tc.tileBody()
		psot := uint32(14 + len(body))
		if tc.zeroPsot && i == n-1 {
			psot = 0
		}
		buf = appendUint16(buf, markerSOT)
		buf = appendUint16(buf, 10)
		buf = appendUint16(buf, uint16(i))
		buf = appendUint32(buf, psot)
		buf = append(buf, 0, 1) // TPsot, TNsot
		buf = appendUint16(buf, markerSOD)
		buf = append(buf, body...)
	}
	if !tc.noEOC {
		buf = appendUint16(buf, markerEOC)
	}
	return buf
}

func appendUint16(buf []byte, val uint16) []byte {
	return binary.BigEndian.AppendUint16(buf, val)
}

func appendUint32(buf []byte, val uint32) []byte {
	return binary.BigEndian.AppendUint32(buf, val)
}

// minimalHeader returns SOC, SIZ and COD for a 256x256 8-bit image,
// followed by extra marker segments.
func minimalHeader(comps int, extra ...[]byte) []byte {
	tc := testCodestream{xsiz: 256, ysiz: 256, levels: 5}
	for range comps {
		tc.comps = append(tc.comps, testComponent{depth: 8, dx: 1, dy: 1})
	}
	buf := tc.mainHeader()
	// Drop the generated QCD so callers can supply their own.
	buf = buf[:len(buf)-(2+2+1+tc.numBands())]
	for _, e := range extra {
		buf = append(buf, e...)
	}
	return appendUint16(buf, markerEOC)
}

func TestReadMainHeaderMarkers(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{"valid", grayCodestream(16, 16).build(), nil},
		{"invalid SOC", []byte{0xFF, 0x00, 0xFF, 0x51}, ErrInvalidMarker},
		{"truncated", []byte{0xFF}, ErrTruncatedData},
		{"empty", nil, ErrTruncatedData},
		{"missing SIZ", append(appendUint16(nil, markerSOC), 0xFF, 0xD9), ErrInvalidHeader},
		{"missing COD", grayCodestream(16, 16).build()[:2+2+41], ErrInvalidHeader},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := readMainHeader(tt.data)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("readMainHeader() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("readMainHeader() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseSIZ(t *testing.T) {
	tc := testCodestream{
		xsiz: 300, ysiz: 200, x0: 10, y0: 20,
		tileW: 128, tileH: 128,
		comps: []testComponent{
			{depth: 8, dx: 1, dy: 1},
			{depth: 12, signed: true, dx: 2, dy: 1},
		},
		levels: 3,
	}
	header, pos, err := readMainHeader(tc.build())
	if err != nil {
		t.Fatalf("readMainHeader() failed: %v", err)
	}
	if got := tc.build()[pos:]; binary.BigEndian.Uint16(got) != markerSOT {
		t.Errorf("position %d does not point at SOT", pos)
	}

	if header.Width != 300 || header.Height != 200 {
		t.Errorf("size = %dx%d, want 300x200", header.Width, header.Height)
	}
	if header.XOsiz != 10 || header.YOsiz != 20 {
		t.Errorf("offset = (%d,%d), want (10,20)", header.XOsiz, header.YOsiz)
	}
	if header.NumComps != 2 {
		t.Fatalf("NumComps = %d, want 2", header.NumComps)
	}
	if header.BitDepth[0] != 8 || header.BitDepth[1] != 12 {
		t.Errorf("BitDepth = %v, want [8 12]", header.BitDepth)
	}
	if header.Signed[0] || !header.Signed[1] {
		t.Errorf("Signed = %v, want [false true]", header.Signed)
	}
	if header.XRsiz[1] != 2 || header.YRsiz[1] != 1 {
		t.Errorf("component 1 separation = (%d,%d), want (2,1)", header.XRsiz[1], header.YRsiz[1])
	}
	if header.NumXTiles != 3 || header.NumYTiles != 2 || header.NumTiles != 6 {
		t.Errorf("tile grid = %dx%d (%d), want 3x2 (6)", header.NumXTiles, header.NumYTiles, header.NumTiles)
	}
}

func TestParseSIZRejects(t *testing.T) {
	gray := []testComponent{{depth: 8, dx: 1, dy: 1}}
	emptyArea := testCodestream{xsiz: 16, ysiz: 16, x0: 16, comps: gray}.mainHeader()
	// XRsiz of component 0 follows SOC, the SIZ marker, 38 fixed bytes and Ssiz.
	zeroSep := testCodestream{xsiz: 16, ysiz: 16, comps: gray}.mainHeader()
	zeroSep[2+2+38+1] = 0
	zeroTiles := testCodestream{xsiz: 16, ysiz: 16, comps: gray}.mainHeader()
	binary.BigEndian.PutUint32(zeroTiles[2+2+20:], 0) // XTsiz

	tests := []struct {
		name string
		data []byte
	}{
		{"empty area", emptyArea},
		{"zero separation", zeroSep},
		{"zero tile width", zeroTiles},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := readMainHeader(tt.data); !errors.Is(err, ErrInvalidHeader) {
				t.Errorf("readMainHeader() error = %v, want ErrInvalidHeader", err)
			}
		})
	}
}

func TestParseCOD(t *testing.T) {
	tc := rgbCodestream(64, 64)
	tc.levels = 5
	header, _, err := readMainHeader(tc.build())
	if err != nil {
		t.Fatalf("readMainHeader() failed: %v", err)
	}

	if header.ProgressionOrder != 0 {
		t.Errorf("ProgressionOrder = %d, want 0 (LRCP)", header.ProgressionOrder)
	}
	if header.NumLayers != 1 {
		t.Errorf("NumLayers = %d, want 1", header.NumLayers)
	}
	if !header.MCT {
		t.Error("MCT = false, want true")
	}
	if header.NumDecompLevels != 5 {
		t.Errorf("NumDecompLevels = %d, want 5", header.NumDecompLevels)
	}
	if header.CodeBlockWidth != 64 || header.CodeBlockHeight != 64 {
		t.Errorf("code-block = %dx%d, want 64x64", header.CodeBlockWidth, header.CodeBlockHeight)
	}
	if header.WaveletFilter != wavelet53 {
		t.Errorf("WaveletFilter = %v, want wavelet53", header.WaveletFilter)
	}
	for c := range 3 {
		if got := header.ComponentDecompLevels(c); got != 5 {
			t.Errorf("ComponentDecompLevels(%d) = %d, want 5", c, got)
		}
	}
}

func TestParseInvalidProgression(t *testing.T) {
	data := grayCodestream(16, 16).build()
	// SOC(2) + SIZ(2+41) + COD marker(2) + Lcod(2) + Scod(1)
	data[2+2+41+2+2+1] = 99
	if _, _, err := readMainHeader(data); !errors.Is(err, ErrInvalidHeader) {
		t.Errorf("readMainHeader() error = %v, want ErrInvalidHeader", err)
	}
}

func TestParseQCD(t *testing.T) {
	header, _, err := readMainHeader(grayCodestream(16, 16).build())
	if err != nil {
		t.Fatalf("readMainHeader() failed: %v", err)
	}
	if header.QuantStyle != 0 {
		t.Errorf("QuantStyle = %d, want 0 (no quantization)", header.QuantStyle)
	}
	if header.GuardBits != 2 {
		t.Errorf("GuardBits = %d, want 2", header.GuardBits)
	}
	if len(header.Exponents) != 7 {
		t.Fatalf("len(Exponents) = %d, want 7", len(header.Exponents))
	}
	for i, exp := range header.Exponents {
		if exp != 9 {
			t.Errorf("Exponents[%d] = %d, want 9", i, exp)
		}
	}
}

func TestParseQCDScalarDerived(t *testing.T) {
	qcd := appendUint16(nil, markerQCD)
	qcd = appendUint16(qcd, 5)
	qcd = append(qcd, 1)                   // scalar derived, no guard bits
	qcd = appendUint16(qcd, (10<<11)|1024) // exp 10, mantissa 1024

	header, _, err := readMainHeader(minimalHeader(1, qcd))
	if err != nil {
		t.Fatalf("readMainHeader() failed: %v", err)
	}
	if header.QuantStyle != 1 {
		t.Errorf("QuantStyle = %d, want 1", header.QuantStyle)
	}
	if len(header.Exponents) != 1 || header.Exponents[0] != 10 {
		t.Errorf("Exponents = %v, want [10]", header.Exponents)
	}
	if len(header.Mantissas) != 1 || header.Mantissas[0] != 1024 {
		t.Errorf("Mantissas = %v, want [1024]", header.Mantissas)
	}
	// Detail bands lose one exponent per level below the first.
	for _, tt := range []struct {
		res  int
		band bandType
		exp  int
	}{{0, bandLL, 10}, {1, bandHL, 10}, {2, bandHH, 9}, {5, bandLH, 6}} {
		exp, mant, ok := header.band(tt.res, tt.band)
		if !ok || exp != tt.exp || mant != 1024 {
			t.Errorf("band(%d, %v) = (%d,%d,%v), want (%d,1024,true)", tt.res, tt.band, exp, mant, ok, tt.exp)
		}
	}
}

func TestParseQCDScalarExpounded(t *testing.T) {
	qcd := appendUint16(nil, markerQCD)
	qcd = appendUint16(qcd, 3+4)
	qcd = append(qcd, 2)
	qcd = appendUint16(qcd, (11<<11)|512)
	qcd = appendUint16(qcd, (10<<11)|256)

	header, _, err := readMainHeader(minimalHeader(1, qcd))
	if err != nil {
		t.Fatalf("readMainHeader() failed: %v", err)
	}
	if header.QuantStyle != 2 {
		t.Errorf("QuantStyle = %d, want 2", header.QuantStyle)
	}
	wantExp := []int{11, 10}
	wantMant := []int{512, 256}
	if len(header.Exponents) != 2 || len(header.Mantissas) != 2 {
		t.Fatalf("Exponents = %v, Mantissas = %v, want 2 values each", header.Exponents, header.Mantissas)
	}
	for i := range 2 {
		if header.Exponents[i] != wantExp[i] || header.Mantissas[i] != wantMant[i] {
			t.Errorf("band %d = (%d,%d), want (%d,%d)", i,
				header.Exponents[i], header.Mantissas[i], wantExp[i], wantMant[i])
		}
	}
}

func TestParseSOT(t *testing.T) {
	tests := []struct {
		name    string
		seg     []byte
		wantErr bool
		tile    int
		part    int
		length  int
	}{
		{
			name:   "basic",
			seg:    []byte{0x00, 0x0A, 0x00, 0x03, 0x00, 0x00, 0x00, 0x64, 0x01, 0x02},
			tile:   3,
			part:   1,
			length: 100,
		},
		{
			name:    "bad length",
			seg:     []byte{0x00, 0x0B, 0x00, 0x00, 0x00, 0x00, 0x00, 0x64, 0x00, 0x01},
			wantErr: true,
		},
		{
			name:    "truncated",
			seg:     []byte{0x00, 0x0A, 0x00, 0x00},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tile, part, length, next, err := parseSOT(tt.seg, 0)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseSOT() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if tile != tt.tile || part != tt.part || length != tt.length {
				t.Errorf("parseSOT() = (%d,%d,%d), want (%d,%d,%d)", tile, part, length, tt.tile, tt.part, tt.length)
			}
			if next != 10 {
				t.Errorf("next = %d, want 10", next)
			}
		})
	}
}

func TestReadTileParts(t *testing.T) {
	tc := grayCodestream(32, 32)
	tc.tileW, tc.tileH = 16, 16
	data := tc.build()

	header, pos, err := readMainHeader(data)
	if err != nil {
		t.Fatalf("readMainHeader() failed: %v", err)
	}
	tiles, err := readTileParts(data, pos, header)
	if err != nil {
		t.Fatalf("readTileParts() failed: %v", err)
	}
	if len(tiles) != 4 {
		t.Fatalf("got %d tiles, want 4", len(tiles))
	}
	body := tc.tileBody()
	for i, tile := range tiles {
		if tile.Index != i {
			t.Errorf("tiles[%d].Index = %d", i, tile.Index)
		}
		wantX0, wantY0 := (i%2)*16, (i/2)*16
		if tile.X0 != wantX0 || tile.Y0 != wantY0 || tile.X1 != wantX0+16 || tile.Y1 != wantY0+16 {
			t.Errorf("tile %d bounds = (%d,%d)-(%d,%d)", i, tile.X0, tile.Y0, tile.X1, tile.Y1)
		}
		if len(tile.TileParts) != 1 || len(tile.TileParts[0].Data) != len(body) {
			t.Errorf("tile %d has %d parts", i, len(tile.TileParts))
		}
	}
	if len(header.TilePartOrder) != 4 {
		t.Errorf("TilePartOrder = %v, want 4 entries", header.TilePartOrder)
	}
}

func TestReadTilePartsZeroPsot(t *testing.T) {
	tc := grayCodestream(16, 16)
	tc.zeroPsot = true
	data := tc.build()

	header, pos, err := readMainHeader(data)
	if err != nil {
		t.Fatalf("readMainHeader() failed: %v", err)
	}
	tiles, err := readTileParts(data, pos, header)
	if err != nil {
		t.Fatalf("readTileParts() failed: %v", err)
	}
	if len(tiles) != 1 || len(tiles[0].TileParts) != 1 {
		t.Fatalf("got %d tiles", len(tiles))
	}
	// The trailing EOC is not part of the tile data.
	if got, want := len(tiles[0].TileParts[0].Data), len(tc.tileBody()); got != want {
		t.Errorf("tile-part data = %d bytes, want %d", got, want)
	}
}

func TestReadTilePartsTruncated(t *testing.T) {
	tc := grayCodestream(32, 16)
	tc.tileW = 16
	data := tc.build()
	data = data[:len(data)-2-3] // drop EOC and part of the last tile

	header, pos, err := readMainHeader(data)
	if err != nil {
		t.Fatalf("readMainHeader() failed: %v", err)
	}
	tiles, err := readTileParts(data, pos, header)
	if !errors.Is(err, ErrTruncatedData) {
		t.Fatalf("readTileParts() error = %v, want ErrTruncatedData", err)
	}
	if len(tiles) != 2 {
		t.Fatalf("got %d tiles, want both tiles back", len(tiles))
	}
	if got, want := len(tiles[1].TileParts[0].Data), len(tc.tileBody())-3; got != want {
		t.Errorf("partial tile-part = %d bytes, want %d", got, want)
	}
}

func TestReadTilePartsInvalidTile(t *testing.T) {
	data := grayCodestream(16, 16).build()
	header, pos, err := readMainHeader(data)
	if err != nil {
		t.Fatalf("readMainHeader() failed: %v", err)
	}
	// Isot follows SOT marker and Lsot.
	binary.BigEndian.PutUint16(data[pos+4:], 7)
	if _, err := readTileParts(data, pos, header); !errors.Is(err, ErrInvalidTile) {
		t.Errorf("readTileParts() error = %v, want ErrInvalidTile", err)
	}
}

func TestParseTLM(t *testing.T) {
	tests := []struct {
		name    string
		stlm    byte // bits 5-4 = ST, bit 6 = SP
		entries []tlmEntry
	}{
		{
			name: "16-bit tile index, 32-bit length",
			stlm: 0x60,
			entries: []tlmEntry{
				{TileIndex: 0, TilePartLen: 1000},
				{TileIndex: 1, TilePartLen: 2000},
			},
		},
		{
			name: "8-bit tile index, 16-bit length",
			stlm: 0x10,
			entries: []tlmEntry{
				{TileIndex: 0, TilePartLen: 500},
				{TileIndex: 1, TilePartLen: 600},
				{TileIndex: 2, TilePartLen: 700},
			},
		},
		{
			name: "implied tile index, 16-bit length",
			stlm: 0x00,
			entries: []tlmEntry{
				{TileIndex: 0, TilePartLen: 100},
				{TileIndex: 1, TilePartLen: 200},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := (tt.stlm >> 4) & 0x03
			sp := (tt.stlm >> 6) & 0x01
			entrySize := int(st) + 2
			if sp == 1 {
				entrySize += 2
			}

			buf := appendUint16(nil, uint16(4+len(tt.entries)*entrySize))
			buf = append(buf, 0, tt.stlm)
			for _, e := range tt.entries {
				switch st {
				case 1:
					buf = append(buf, byte(e.TileIndex))
				case 2:
					buf = appendUint16(buf, uint16(e.TileIndex))
				}
				if sp == 0 {
					buf = appendUint16(buf, uint16(e.TilePartLen))
				} else {
					buf = appendUint32(buf, uint32(e.TilePartLen))
				}
			}

			seg, next, err := nextSegment(buf, 0)
			if err != nil || next != len(buf) {
				t.Fatalf("nextSegment() = %d, %v", next, err)
			}
			header := &codestreamHeader{}
			if err := header.apply(markerTLM, seg); err != nil {
				t.Fatalf("apply(TLM) error: %v", err)
			}
			if len(header.TLMEntries) != len(tt.entries) {
				t.Fatalf("got %d entries, want %d", len(header.TLMEntries), len(tt.entries))
			}
			for i, got := range header.TLMEntries {
				if got != tt.entries[i] {
					t.Errorf("entry[%d] = %+v, want %+v", i, got, tt.entries[i])
				}
			}
		})
	}
}

func TestMainHeaderComponentOverrides(t *testing.T) {
	qcd := appendUint16(nil, markerQCD)
	qcd = appendUint16(qcd, 4)
	qcd = append(qcd, 2<<5, 9<<3)

	// Component 1: two levels, 16x32 code-blocks, 9/7, custom precincts.
	coc := appendUint16(nil, markerCOC)
	coc = appendUint16(coc, 12)
	coc = append(coc, 1, 1, 2, 2, 3, 0, 0, 0x77, 0x88, 0x99)

	// Component 2: one guard bit.
	qcc := appendUint16(nil, markerQCC)
	qcc = appendUint16(qcc, 7)
	qcc = append(qcc, 2, 1<<5, 8<<3, 8<<3, 8<<3)

	header, _, err := readMainHeader(minimalHeader(3, qcd, coc, qcc))
	if err != nil {
		t.Fatalf("readMainHeader() failed: %v", err)
	}

	if got := header.ComponentDecompLevels(0); got != 5 {
		t.Errorf("ComponentDecompLevels(0) = %d, want 5", got)
	}
	if got := header.ComponentDecompLevels(1); got != 2 {
		t.Errorf("ComponentDecompLevels(1) = %d, want 2", got)
	}
	cs := header.coding(1)
	if cs.CodeBlockWidth != 16 || cs.CodeBlockHeight != 32 || cs.WaveletFilter != wavelet97 {
		t.Errorf("component 1 style = %+v", cs)
	}
	if px, py := cs.precinctSize(2); px != 9 || py != 9 {
		t.Errorf("precinctSize(2) = (%d,%d), want (9,9)", px, py)
	}
	if px, py := cs.precinctSize(3); px != 15 || py != 15 {
		t.Errorf("precinctSize beyond the signalled levels = (%d,%d), want (15,15)", px, py)
	}
	if header.coding(2) != &header.codingStyle {
		t.Error("component 2 does not follow COD")
	}

	if q := header.quant(2); q.GuardBits != 1 || len(q.Exponents) != 3 {
		t.Errorf("component 2 quantization = %+v", q)
	}
	if q := header.quant(0); q.GuardBits != 2 || len(q.Exponents) != 1 {
		t.Errorf("component 0 quantization = %+v", q)
	}
}

func TestParseCodingStyleRejects(t *testing.T) {
	tests := []struct {
		name      string
		body      []byte
		precincts bool
		wantErr   error
	}{
		{"oversized code-block", []byte{5, 9, 0, 0, 1}, false, ErrInvalidHeader},
		{"code-block area", []byte{5, 5, 5, 0, 1}, false, ErrInvalidHeader},
		{"too many levels", []byte{33, 4, 4, 0, 1}, false, ErrInvalidHeader},
		{"unknown wavelet", []byte{5, 4, 4, 0, 2}, false, ErrUnsupportedWavelet},
		{"short", []byte{5, 4, 4}, false, ErrTruncatedData},
		{"missing precincts", []byte{2, 4, 4, 0, 1, 0x77}, true, ErrTruncatedData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseCodingStyle(&segment{b: tt.body}, tt.precincts); !errors.Is(err, tt.wantErr) {
				t.Errorf("parseCodingStyle() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseQuantizationRejects(t *testing.T) {
	tests := []struct {
		name    string
		body    []byte
		wantErr error
	}{
		{"reserved style", []byte{3, 0, 0}, ErrUnsupportedQuant},
		{"derived without step", []byte{1}, ErrInvalidHeader},
		{"empty", nil, ErrTruncatedData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseQuantization(&segment{b: tt.body}); !errors.Is(err, tt.wantErr) {
				t.Errorf("parseQuantization() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParsePOC(t *testing.T) {
	narrow := []byte{0, 0, 0, 1, 2, 3, 0, 1, 1, 0, 2, 6, 3, 4}
	wide := []byte{0, 0, 0, 0, 1, 2, 1, 0x2C, 2}

	entries, err := parsePOC(&segment{b: narrow}, 3)
	if err != nil {
		t.Fatalf("parsePOC() error = %v", err)
	}
	want := []pocEntry{
		{RSpoc: 0, CSpoc: 0, LYEpoc: 1, REpoc: 2, CEpoc: 3, Ppoc: 0},
		{RSpoc: 1, CSpoc: 1, LYEpoc: 2, REpoc: 6, CEpoc: 3, Ppoc: 4},
	}
	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d", len(entries), len(want))
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Errorf("entry %d = %+v, want %+v", i, entries[i], want[i])
		}
	}

	entries, err = parsePOC(&segment{b: wide}, 300)
	if err != nil || len(entries) != 1 {
		t.Fatalf("parsePOC(300 components) = %v, %v", entries, err)
	}
	if e := entries[0]; e.CSpoc != 0 || e.LYEpoc != 1 || e.REpoc != 2 || e.CEpoc != 300 || e.Ppoc != 2 {
		t.Errorf("wide entry = %+v", e)
	}
}

// spliceTileHeader inserts segments between the SOT and SOD of the first
// tile-part and fixes its Psot.
func spliceTileHeader(t *testing.T, data []byte, segments ...[]byte) ([]byte, *codestreamHeader, int) {
	t.Helper()
	header, pos, err := readMainHeader(data)
	if err != nil {
		t.Fatalf("readMainHeader() failed: %v", err)
	}
	var extra []byte
	for _, s := range segments {
		extra = append(extra, s...)
	}
	out := append([]byte(nil), data[:pos+12]...)
	out = append(out, extra...)
	out = append(out, data[pos+12:]...)
	psot := binary.BigEndian.Uint32(out[pos+6:])
	binary.BigEndian.PutUint32(out[pos+6:], psot+uint32(len(extra)))
	return out, header, pos
}

func TestTilePartOverrides(t *testing.T) {
	cod := appendUint16(nil, markerCOD)
	cod = appendUint16(cod, 12)
	cod = append(cod, 0, progRLCP)
	cod = appendUint16(cod, 3)
	cod = append(cod, 0, 1, 4, 4, 0x08, 1)

	qcd := appendUint16(nil, markerQCD)
	qcd = appendUint16(qcd, 4)
	qcd = append(qcd, 3<<5, 7<<3)

	rgn := appendUint16(nil, markerRGN)
	rgn = appendUint16(rgn, 5)
	rgn = append(rgn, 0, 0, 4)

	poc := appendUint16(nil, markerPOC)
	poc = appendUint16(poc, 9)
	poc = append(poc, 0, 0, 0, 1, 2, 1, progLRCP)

	// PPT segments out of Zppt order.
	ppt1 := append(appendUint16(appendUint16(nil, markerPPT), 5), 1, 0xBB, 0xCC)
	ppt0 := append(appendUint16(appendUint16(nil, markerPPT), 4), 0, 0xAA)

	tc := grayCodestream(16, 16)
	data, header, pos := spliceTileHeader(t, tc.build(), cod, qcd, rgn, poc, ppt1, ppt0)
	tiles, err := readTileParts(data, pos, header)
	if err != nil {
		t.Fatalf("readTileParts() failed: %v", err)
	}
	if len(tiles) != 1 {
		t.Fatalf("got %d tiles, want 1", len(tiles))
	}
	tile := tiles[0]

	if tile.COD == nil || tile.COD.ProgressionOrder != progRLCP || tile.COD.NumLayers != 3 ||
		tile.COD.NumDecompLevels != 1 || tile.COD.CodeBlockStyle != 0x08 {
		t.Errorf("tile COD = %+v", tile.COD)
	}
	if tile.QCD == nil || tile.QCD.GuardBits != 3 {
		t.Errorf("tile QCD = %+v", tile.QCD)
	}
	if len(tile.ROIShift) != 1 || tile.ROIShift[0] != 4 {
		t.Errorf("ROIShift = %v, want [4]", tile.ROIShift)
	}
	if len(tile.POCEntries) != 1 || tile.POCEntries[0].REpoc != 2 {
		t.Errorf("POCEntries = %+v", tile.POCEntries)
	}
	if got := tile.PPTHeaders; string(got) != "\xAA\xBB\xCC" {
		t.Errorf("PPTHeaders = % X, want AA BB CC", got)
	}
	if len(tile.TileParts) != 1 || len(tile.TileParts[0].Data) != len(tc.tileBody()) {
		t.Errorf("tile-part body not found after the overrides")
	}

	td := newTileDecoder(header, tile, 0, 0)
	if td.maxLayers != 3 {
		t.Errorf("maxLayers = %d, want the tile's 3", td.maxLayers)
	}
	if got := td.decompLevels(0); got != 1 {
		t.Errorf("decompLevels(0) = %d, want 1", got)
	}
	if got := td.magnitudeBits(0, 0, bandLL); got != 3+7-1 {
		t.Errorf("magnitudeBits = %d, want 9", got)
	}
}

// A malformed tile-part override is dropped and the tile keeps the main
// header values.
func TestTilePartBadOverride(t *testing.T) {
	cod := appendUint16(nil, markerCOD)
	cod = appendUint16(cod, 12)
	cod = append(cod, 0, 9) // progression order 9
	cod = appendUint16(cod, 1)
	cod = append(cod, 0, 2, 4, 4, 0, 1)

	data, header, pos := spliceTileHeader(t, grayCodestream(16, 16).build(), cod)
	tiles, err := readTileParts(data, pos, header)
	if err != nil {
		t.Fatalf("readTileParts() failed: %v", err)
	}
	if tiles[0].COD != nil {
		t.Errorf("invalid tile COD applied: %+v", tiles[0].COD)
	}
	if len(tiles[0].TileParts) != 1 {
		t.Error("tile-part body lost")
	}
}

func TestDistributePPMHeaders(t *testing.T) {
	header := &codestreamHeader{
		PPMHeaders: []byte{
			0, 0, 0, 2, 0xA0, 0xA1,
			0, 0, 0, 1, 0xB0,
			0, 0, 0, 5, 0xA2, // Nppm overruns the data
		},
		TilePartOrder: []int{1, 0, 1},
	}
	tiles := []*codestreamTile{{Index: 0}, {Index: 1}}
	distributePPMHeaders(header, tiles)

	if got := string(tiles[0].PPTHeaders); got != "\xB0" {
		t.Errorf("tile 0 headers = % X, want B0", got)
	}
	if got := string(tiles[1].PPTHeaders); got != "\xA0\xA1\xA2" {
		t.Errorf("tile 1 headers = % X, want A0 A1 A2", got)
	}
}

func TestMainHeaderPPM(t *testing.T) {
	ppm1 := append(appendUint16(appendUint16(nil, markerPPM), 5), 1, 0, 2)
	ppm0 := append(appendUint16(appendUint16(nil, markerPPM), 5), 0, 0, 0)
	qcd := append(appendUint16(appendUint16(nil, markerQCD), 4), 2<<5, 9<<3)

	header, _, err := readMainHeader(minimalHeader(1, qcd, ppm1, ppm0))
	if err != nil {
		t.Fatalf("readMainHeader() failed: %v", err)
	}
	if got := header.PPMHeaders; string(got) != "\x00\x00\x00\x02" {
		t.Errorf("PPMHeaders = % X, want 00 00 00 02", got)
	}
}

func TestNextSegment(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantErr error
		next    int
	}{
		{"ok", []byte{0, 4, 1, 2, 9}, nil, 4},
		{"length only", []byte{0, 2}, nil, 2},
		{"short length", []byte{0, 1, 0}, ErrInvalidHeader, 0},
		{"overrun", []byte{0, 8, 1}, ErrTruncatedData, 0},
		{"no length", []byte{0}, ErrTruncatedData, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, next, err := nextSegment(tt.data, 0)
			if !errors.Is(err, tt.wantErr) || (tt.wantErr == nil && err != nil) {
				t.Fatalf("nextSegment() error = %v, want %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if next != tt.next || len(s.b) != tt.next-2 {
				t.Errorf("nextSegment() = %d bytes, next %d", len(s.b), next)
			}
		})
	}
}

func TestSegmentReads(t *testing.T) {
	s := &segment{b: []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07}}
	if got := s.u8(); got != 1 {
		t.Errorf("u8 = %d", got)
	}
	if got := s.u16(); got != 0x0203 {
		t.Errorf("u16 = %#x", got)
	}
	if got := s.u32(); got != 0x04050607 {
		t.Errorf("u32 = %#x", got)
	}
	if s.err != nil || s.left() != 0 {
		t.Fatalf("err = %v, left = %d", s.err, s.left())
	}
	if got := s.u8(); got != 0 || !errors.Is(s.err, ErrTruncatedData) {
		t.Errorf("read past the end = %d, err %v", got, s.err)
	}
}
