package j2kview

import (
	hwyimage "github.com/ajroetker/go-highway/hwy/contrib/image"
)

// inverseRCT applies the inverse Reversible Color Transform in place to the
// w×h top-left region of three component arrays. On return the arrays hold
// R, G and B.
//
//	G = Y - floor((Cb + Cr) / 4)
//	R = Cr + G
//	B = Cb + G
func inverseRCT(y, cb, cr [][]int32, w, h int) {
	if w <= 0 || h <= 0 {
		return
	}
	set := int32Images.get(w, h)
	defer int32Images.put(set)

	loadRegion(set.imgs[0], y, w, h)
	loadRegion(set.imgs[1], cb, w, h)
	loadRegion(set.imgs[2], cr, w, h)

	hwyimage.InverseRCT(set.imgs[0], set.imgs[1], set.imgs[2], set.imgs[3], set.imgs[4], set.imgs[5])

	storeRegion(y, set.imgs[3], w, h)
	storeRegion(cb, set.imgs[4], w, h)
	storeRegion(cr, set.imgs[5], w, h)
}

// inverseICT applies the inverse Irreversible Color Transform in place to
// the w×h top-left region of three component arrays.
//
//	R = Y + 1.402 * Cr
//	G = Y - 0.344136 * Cb - 0.714136 * Cr
//	B = Y + 1.772 * Cb
func inverseICT(y, cb, cr [][]float64, w, h int) {
	if w <= 0 || h <= 0 {
		return
	}
	set := float64Images.get(w, h)
	defer float64Images.put(set)

	loadRegion(set.imgs[0], y, w, h)
	loadRegion(set.imgs[1], cb, w, h)
	loadRegion(set.imgs[2], cr, w, h)

	hwyimage.InverseICT(set.imgs[0], set.imgs[1], set.imgs[2], set.imgs[3], set.imgs[4], set.imgs[5])

	storeRegion(y, set.imgs[3], w, h)
	storeRegion(cb, set.imgs[4], w, h)
	storeRegion(cr, set.imgs[5], w, h)
}
