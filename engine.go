package j2kview

// componentGeometry describes one reconstructed component.
type componentGeometry struct {
	Width, Height int
	BitDepth      int
	Signed        bool
	DX, DY        int // sample separation on the reference grid
}

// engine is the codestream decoder driven by a Session. Lines returned by
// pull are owned by the engine and stay valid until the next pull, rewind
// or close.
type engine interface {
	open(data []byte) error
	readHeaders() error
	restrictResolution(skipRead, skipRecon int) error
	enableResilience()
	create() error

	numComponents() int
	geometry(comp int) (componentGeometry, error)

	pull() (comp int, line []int32, err error)
	rewind() error
	close()
}

// lineCursor walks decoded lines in component-interleaved order. Rows are
// counted on a virtual grid where line k of component c sits at row k*DY,
// so vertically subsampled components contribute only on their rows.
type lineCursor struct {
	heights []int
	dys     []int
	row     int
	comp    int
}

func newLineCursor(geoms []componentGeometry) lineCursor {
	c := lineCursor{
		heights: make([]int, len(geoms)),
		dys:     make([]int, len(geoms)),
	}
	for i, g := range geoms {
		c.heights[i] = g.Height
		c.dys[i] = max(g.DY, 1)
	}
	return c
}

// next returns the component and line index of the next line to deliver.
func (c *lineCursor) next() (comp, line int, ok bool) {
	for {
		if c.comp == len(c.heights) {
			c.comp = 0
			c.row++
		}
		if c.exhausted() {
			return 0, 0, false
		}
		comp = c.comp
		c.comp++
		dy := c.dys[comp]
		if c.row%dy != 0 {
			continue
		}
		line = c.row / dy
		if line < c.heights[comp] {
			return comp, line, true
		}
	}
}

func (c *lineCursor) exhausted() bool {
	for i, h := range c.heights {
		if c.row < h*c.dys[i] {
			return false
		}
	}
	return true
}

func (c *lineCursor) reset() {
	c.row = 0
	c.comp = 0
}
