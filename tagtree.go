package j2kview

// tagTree decodes the inclusion and zero bit-plane tag trees of packet
// headers (T.800 B.10.2). Each node value is the minimum of its children;
// decoding walks from the root to a leaf and resumes across layers from
// the lower bounds already established.
type tagTree struct {
	w, h   int
	levels []tagLevel // leaves first, 1x1 root last
}

type tagLevel struct {
	w     int
	value []int32 // -1 until decoded
	low   []int32 // lower bound known so far
}

// maxZeroBitPlanes bounds a zero bit-plane value against corrupt headers.
const maxZeroBitPlanes int32 = 32

func newTagTree(width, height int) *tagTree {
	t := &tagTree{}
	if width <= 0 || height <= 0 {
		return t
	}
	t.w, t.h = width, height
	for w, h := width, height; ; w, h = (w+1)>>1, (h+1)>>1 {
		lv := tagLevel{w: w, value: make([]int32, w*h), low: make([]int32, w*h)}
		for i := range lv.value {
			lv.value[i] = -1
		}
		t.levels = append(t.levels, lv)
		if w == 1 && h == 1 {
			break
		}
	}
	return t
}

// decode refines the path to leaf (x, y) until each node is known or its
// lower bound reaches threshold. With settle set an undecided node takes
// its bound as value. It returns the leaf value, or -1 if still unknown.
func (t *tagTree) decode(x, y int, threshold int32, settle bool, br *bitReader) (int32, error) {
	if len(t.levels) == 0 || x >= t.w || y >= t.h {
		return -1, nil
	}
	var low int32
	for l := len(t.levels) - 1; l >= 0; l-- {
		lv := &t.levels[l]
		i := (y>>l)*lv.w + x>>l
		low = max(low, lv.low[i])
		if v := lv.value[i]; v >= 0 {
			lv.low[i] = max(lv.low[i], min(low, v))
			low = v
			continue
		}
		lv.low[i] = low
		for low < threshold {
			bit, err := br.ReadBit()
			if err != nil {
				return -1, err
			}
			if bit == 1 {
				lv.value[i] = low
				break
			}
			low++
			lv.low[i] = low
		}
		if lv.value[i] < 0 && settle {
			lv.value[i] = low
		}
		if lv.value[i] >= 0 {
			low = lv.value[i]
		}
	}
	return t.levels[0].value[y*t.w+x], nil
}

// decodeInclusion reports whether leaf (x, y) is first included in a layer
// no later than layer.
func (t *tagTree) decodeInclusion(x, y int, layer int32, br *bitReader) (bool, error) {
	v, err := t.decode(x, y, layer+1, false, br)
	if err != nil {
		return false, err
	}
	return v >= 0 && v <= layer, nil
}

// decodeZBP decodes the zero bit-plane count of leaf (x, y).
func (t *tagTree) decodeZBP(x, y int, br *bitReader) (int32, error) {
	v, err := t.decode(x, y, maxZeroBitPlanes, true, br)
	if err != nil {
		return 0, err
	}
	return max(v, 0), nil
}
