package j2kview

import (
	"slices"
	"testing"
)

func drainCursor(c *lineCursor) [][2]int {
	var got [][2]int
	for {
		comp, line, ok := c.next()
		if !ok {
			return got
		}
		got = append(got, [2]int{comp, line})
	}
}

func TestLineCursor(t *testing.T) {
	tests := []struct {
		name  string
		geoms []componentGeometry
		want  [][2]int
	}{
		{
			name:  "single",
			geoms: []componentGeometry{{Height: 3, DY: 1}},
			want:  [][2]int{{0, 0}, {0, 1}, {0, 2}},
		},
		{
			name:  "interleaved",
			geoms: []componentGeometry{{Height: 2, DY: 1}, {Height: 2, DY: 1}, {Height: 2, DY: 1}},
			want:  [][2]int{{0, 0}, {1, 0}, {2, 0}, {0, 1}, {1, 1}, {2, 1}},
		},
		{
			// 4:2:0 chroma appears on even rows only.
			name:  "subsampled",
			geoms: []componentGeometry{{Height: 4, DY: 1}, {Height: 2, DY: 2}, {Height: 2, DY: 2}},
			want: [][2]int{
				{0, 0}, {1, 0}, {2, 0},
				{0, 1},
				{0, 2}, {1, 1}, {2, 1},
				{0, 3},
			},
		},
		{
			name:  "zero separation treated as one",
			geoms: []componentGeometry{{Height: 2, DY: 0}},
			want:  [][2]int{{0, 0}, {0, 1}},
		},
		{
			name:  "uneven heights",
			geoms: []componentGeometry{{Height: 1, DY: 1}, {Height: 3, DY: 1}},
			want:  [][2]int{{0, 0}, {1, 0}, {1, 1}, {1, 2}},
		},
		{
			name:  "empty",
			geoms: []componentGeometry{{Height: 0, DY: 1}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newLineCursor(tt.geoms)
			if got := drainCursor(&c); !slices.Equal(got, tt.want) {
				t.Errorf("lines = %v, want %v", got, tt.want)
			}
			if _, _, ok := c.next(); ok {
				t.Error("next after exhaustion returned a line")
			}
		})
	}
}

func TestLineCursorReset(t *testing.T) {
	c := newLineCursor([]componentGeometry{{Height: 2, DY: 1}, {Height: 1, DY: 2}})
	first := drainCursor(&c)
	c.reset()
	if again := drainCursor(&c); !slices.Equal(again, first) {
		t.Errorf("after reset = %v, want %v", again, first)
	}

	c.reset()
	c.next()
	c.reset()
	if again := drainCursor(&c); !slices.Equal(again, first) {
		t.Errorf("reset mid-way = %v, want %v", again, first)
	}
}
