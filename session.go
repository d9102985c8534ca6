package j2kview

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
)

// State is the lifecycle state of a Session.
type State int

const (
	// StateCreated is a new session with no input bound.
	StateCreated State = iota
	// StateHeadersParsed has input bound and the main header read.
	// Geometry can be queried.
	StateHeadersParsed
	// StateReady has decode structures built. Lines can be pulled.
	StateReady
	// StatePulling is held while a pull is in progress.
	StatePulling
	// StateReleased is terminal.
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateHeadersParsed:
		return "headers parsed"
	case StateReady:
		return "ready"
	case StatePulling:
		return "pulling"
	case StateReleased:
		return "released"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session decodes one JPEG2000 codestream for display.
//
// The exported methods never return errors: failures are logged to the
// configured slog.Logger and reported as a sentinel (-1 for geometry, nil
// for pulls). A Session is not safe for concurrent use; independent
// sessions may be used from different goroutines.
//
//	s := j2kview.NewSession(j2kview.Options{})
//	defer s.Release()
//	s.Init(codestream)
//	s.Parse()
//	rgba := s.PullPackedBuffer8() // Width(0)*Height(0)*4 bytes
type Session struct {
	opts  Options
	log   *slog.Logger
	eng   engine
	data  []byte
	buf   []byte
	state State
}

// NewSession returns a session in StateCreated.
func NewSession(opts Options) *Session {
	log := opts.logger()
	return newSession(opts, log, newCodestreamEngine(opts, log))
}

// Create returns a session with default options.
func Create() *Session {
	return NewSession(Options{})
}

func newSession(opts Options, log *slog.Logger, eng engine) *Session {
	return &Session{
		opts:  opts,
		log:   log,
		eng:   eng,
		state: StateCreated,
	}
}

// State returns the lifecycle state. A nil session reports StateReleased.
func (s *Session) State() State {
	if s == nil {
		return StateReleased
	}
	return s.state
}

// Init binds data and reads the codestream main header. data is borrowed
// and must not be modified while the session is in use.
func (s *Session) Init(data []byte) {
	s.report("init", s.init(data))
}

// Parse builds the decode structures. Resolution restrictions must be
// applied before Parse.
func (s *Session) Parse() {
	s.report("parse", s.parse())
}

// Width returns the reconstructed width of component comp, or -1.
func (s *Session) Width(comp int) int {
	return s.geometryInt("width", comp, func(g componentGeometry) int { return g.Width })
}

// Height returns the reconstructed height of component comp, or -1.
func (s *Session) Height(comp int) int {
	return s.geometryInt("height", comp, func(g componentGeometry) int { return g.Height })
}

// BitDepth returns the bit depth of component comp, or -1.
func (s *Session) BitDepth(comp int) int {
	return s.geometryInt("bit depth", comp, func(g componentGeometry) int { return g.BitDepth })
}

// IsSigned returns 1 if component comp is signed, 0 if unsigned, or -1.
func (s *Session) IsSigned(comp int) int {
	return s.geometryInt("is signed", comp, func(g componentGeometry) int {
		if g.Signed {
			return 1
		}
		return 0
	})
}

// DownsamplingX returns the horizontal sample separation of component comp, or -1.
func (s *Session) DownsamplingX(comp int) int {
	return s.geometryInt("downsampling x", comp, func(g componentGeometry) int { return g.DX })
}

// DownsamplingY returns the vertical sample separation of component comp, or -1.
func (s *Session) DownsamplingY(comp int) int {
	return s.geometryInt("downsampling y", comp, func(g componentGeometry) int { return g.DY })
}

// NumComponents returns the number of image components, or -1.
func (s *Session) NumComponents() int {
	n, err := s.numComponents()
	if err != nil {
		s.report("num components", err)
		return -1
	}
	return n
}

// RestrictInputResolution decodes a coarser image. skipRecon finest
// resolution levels are left out of the reconstruction and set the reported
// geometry. skipRead finest levels are not read at all, so their detail is
// lost even where they are still reconstructed; skipRead must be at least
// skipRecon. It must be called before Parse.
func (s *Session) RestrictInputResolution(skipRead, skipRecon int) {
	s.report("restrict input resolution", s.restrictInputResolution(skipRead, skipRecon))
}

// EnableResilience tolerates truncated or damaged tile data. Damaged tiles
// decode as zero samples instead of failing the pull.
func (s *Session) EnableResilience() {
	s.report("enable resilience", s.enableResilience())
}

// PullLine returns the next decoded line, or nil when every line has been
// delivered or on failure. Lines arrive component-interleaved per row. The
// returned slice is owned by the session and valid until the next pull.
func (s *Session) PullLine() []int32 {
	line, err := s.pullLine()
	if err != nil {
		s.report("pull line", err)
		return nil
	}
	return line
}

// PullPackedBuffer8 decodes the whole image into interleaved 8-bit RGBA
// and returns it, or nil on failure. The buffer is owned by the session and
// reused by later calls; it is valid until the next call or Release.
func (s *Session) PullPackedBuffer8() []byte {
	buf, err := s.pullPackedBuffer8()
	if err != nil {
		s.report("pull packed buffer", err)
		return nil
	}
	return buf
}

// Release frees the decoder and the output buffer. It is safe to call
// more than once and on a nil session.
func (s *Session) Release() {
	if s == nil || s.state == StateReleased {
		return
	}
	if s.eng != nil {
		s.eng.close()
	}
	s.eng = nil
	s.data = nil
	s.buf = nil
	s.state = StateReleased
}

func (s *Session) init(data []byte) error {
	if err := s.require("init", StateCreated); err != nil {
		return err
	}
	if err := s.eng.open(data); err != nil {
		return err
	}
	if err := s.eng.readHeaders(); err != nil {
		return err
	}
	if s.opts.Resilient {
		s.eng.enableResilience()
	}
	s.data = data
	s.state = StateHeadersParsed
	return nil
}

func (s *Session) parse() error {
	if err := s.require("parse", StateHeadersParsed); err != nil {
		return err
	}
	if err := s.eng.create(); err != nil {
		return err
	}
	s.state = StateReady
	return nil
}

func (s *Session) geometry(op string, comp int) (componentGeometry, error) {
	if err := s.require(op, StateHeadersParsed, StateReady); err != nil {
		return componentGeometry{}, err
	}
	return s.eng.geometry(comp)
}

func (s *Session) geometryInt(op string, comp int, field func(componentGeometry) int) int {
	g, err := s.geometry(op, comp)
	if err != nil {
		s.report(op, err)
		return -1
	}
	return field(g)
}

func (s *Session) numComponents() (int, error) {
	if err := s.require("num components", StateHeadersParsed, StateReady); err != nil {
		return 0, err
	}
	return s.eng.numComponents(), nil
}

func (s *Session) restrictInputResolution(skipRead, skipRecon int) error {
	if err := s.require("restrict input resolution", StateHeadersParsed, StateReady); err != nil {
		return err
	}
	return s.eng.restrictResolution(skipRead, skipRecon)
}

func (s *Session) enableResilience() error {
	if err := s.require("enable resilience", StateHeadersParsed, StateReady); err != nil {
		return err
	}
	s.eng.enableResilience()
	return nil
}

func (s *Session) pullLine() ([]int32, error) {
	if err := s.require("pull line", StateReady); err != nil {
		return nil, err
	}
	s.state = StatePulling
	defer func() { s.state = StateReady }()

	_, line, err := s.eng.pull()
	if err != nil {
		return nil, err
	}
	return line, nil
}

func (s *Session) pullPackedBuffer8() ([]byte, error) {
	const op = "pull packed buffer"
	if err := s.require(op, StateReady); err != nil {
		return nil, err
	}

	n := s.eng.numComponents()
	if n != 1 && n != 3 {
		return nil, newError(op, KindUnsupported,
			fmt.Errorf("%w: %d components", ErrUnsupportedComponents, n))
	}
	g0, err := s.eng.geometry(0)
	if err != nil {
		return nil, err
	}
	for c := 1; c < n; c++ {
		g, err := s.eng.geometry(c)
		if err != nil {
			return nil, err
		}
		if g.Width != g0.Width || g.Height != g0.Height {
			return nil, newError(op, KindUnsupported,
				fmt.Errorf("%w: component %d is %dx%d, component 0 is %dx%d",
					ErrUnsupportedComponents, c, g.Width, g.Height, g0.Width, g0.Height))
		}
	}

	w, h := g0.Width, g0.Height
	if !planeFits(w, h) || (h > 0 && w > math.MaxInt/4/h) {
		return nil, newError(op, KindDecode,
			fmt.Errorf("%w: %dx%d RGBA", ErrImageTooLarge, w, h))
	}
	if s.buf == nil {
		s.buf = make([]byte, w*h*4)
	} else if len(s.buf) != w*h*4 {
		return nil, newError(op, KindInternal,
			fmt.Errorf("output buffer holds %d bytes, image needs %d", len(s.buf), w*h*4))
	}

	packer := selectPacker(s.opts.Packer)
	s.log.Debug("packing image", "op", op, "packer", packer, "level", CPUExtLevel(),
		"width", w, "height", h, "components", n, "bitDepth", g0.BitDepth)
	norm := newNormalizer(g0.BitDepth, g0.Signed)

	s.state = StatePulling
	defer func() { s.state = StateReady }()

	if err := s.eng.rewind(); err != nil {
		return nil, err
	}
	lines := make([][]int32, n)
	for y := range h {
		for i := range n {
			comp, line, err := s.eng.pull()
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", y, err)
			}
			if comp != i || len(line) < w {
				return nil, newError(op, KindInternal,
					fmt.Errorf("row %d: got component %d with %d samples, want component %d with %d",
						y, comp, len(line), i, w))
			}
			lines[i] = line
		}
		packRow(packer, s.buf[y*w*4:], lines, w, norm)
	}
	return s.buf, nil
}

// require checks that the session is in one of the allowed states.
func (s *Session) require(op string, allowed ...State) error {
	if s == nil || s.state == StateReleased || s.eng == nil {
		return newError(op, KindState, ErrReleased)
	}
	if !slices.Contains(allowed, s.state) {
		return newError(op, KindState, fmt.Errorf("%w: session is %s", ErrNotReady, s.state))
	}
	return nil
}

// report logs err at a level chosen by its Kind.
func (s *Session) report(op string, err error) {
	if err == nil {
		return
	}
	log := slog.Default()
	state := StateReleased
	if s != nil {
		log = s.log
		state = s.state
	}

	kind := KindOf(err)
	level := slog.LevelError
	switch kind {
	case KindDecode, KindEndOfStream:
		level = slog.LevelDebug
	case KindState, KindInvalidArgument:
		level = slog.LevelWarn
	}
	log.Log(context.Background(), level, "j2kview: "+op+" failed",
		"op", op, "kind", kind, "state", state, "err", err)
}
