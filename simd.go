// Copyright 2025 go-jpeg2000 Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package j2kview

import (
	"sync"

	"github.com/ajroetker/go-highway/hwy"
	"github.com/ajroetker/go-highway/hwy/contrib/image"
)

// plane is one decoded component held in a SIMD-aligned image. Rows are
// handed out to callers as decoded lines.
type plane = image.Image[int32]

func newPlane(w, h int) *plane {
	return image.NewImage[int32](w, h)
}

// loadRegion copies the w×h top-left region of src into img.
func loadRegion[T hwy.Lanes](img *image.Image[T], src [][]T, w, h int) {
	for y := range h {
		copy(img.Row(y)[:w], src[y][:w])
	}
}

// storeRegion copies the w×h top-left region of img back into dst.
func storeRegion[T hwy.Lanes](dst [][]T, img *image.Image[T], w, h int) {
	for y := range h {
		copy(dst[y][:w], img.Row(y)[:w])
	}
}

// imageSet holds 6 pooled SIMD-aligned images for colour transforms
// (3 input + 3 output).
type imageSet[T hwy.Lanes] struct {
	imgs [6]*image.Image[T]
	w, h int
}

type imagePool[T hwy.Lanes] struct {
	pool sync.Pool
}

func (p *imagePool[T]) get(w, h int) *imageSet[T] {
	set, _ := p.pool.Get().(*imageSet[T])
	if set == nil {
		set = new(imageSet[T])
	}
	if set.w != w || set.h != h {
		for i := range set.imgs {
			set.imgs[i] = image.NewImage[T](w, h)
		}
		set.w = w
		set.h = h
	}
	return set
}

func (p *imagePool[T]) put(set *imageSet[T]) {
	p.pool.Put(set)
}

var (
	int32Images   imagePool[int32]
	float64Images imagePool[float64]
)
