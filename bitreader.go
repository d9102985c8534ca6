package j2kview

import "fmt"

// bitReader reads packet headers MSB first.
//
// With stuffing enabled, a 0xFF byte is followed by a byte whose MSB is a
// stuffed zero and is skipped (ITU-T T.800 B.10.1). A 0xFF followed by a
// byte with the MSB set is a marker: the reader stops in front of it and
// further bit reads fail until stuffing is switched off.
type bitReader struct {
	data      []byte
	pos       int  // byte offset
	bitPos    uint // next bit within data[pos], 0 is the MSB
	bitStuff  bool
	hitMarker bool
}

func newBitReader(data []byte) *bitReader {
	return &bitReader{data: data}
}

// SetBitStuffing switches 0xFF stuffing on or off. Switching it off clears
// a pending marker stop.
func (r *bitReader) SetBitStuffing(enabled bool) {
	r.bitStuff = enabled
	if !enabled {
		r.hitMarker = false
	}
}

// ReadBit returns the next bit as 0 or 1.
func (r *bitReader) ReadBit() (int, error) {
	if r.pos >= len(r.data) || r.hitMarker {
		return 0, ErrTruncatedData
	}
	cur := r.data[r.pos]
	bit := int(cur>>(7-r.bitPos)) & 1

	r.bitPos++
	if r.bitPos < 8 {
		return bit, nil
	}
	r.bitPos = 0
	r.pos++
	if r.bitStuff && cur == 0xFF && r.pos < len(r.data) {
		if r.data[r.pos]&0x80 == 0 {
			r.bitPos = 1
		} else {
			// Leave pos on the 0xFF so SOP/EPH detection sees the marker.
			r.pos--
			r.hitMarker = true
		}
	}
	return bit, nil
}

// ReadBits returns the next n bits (n <= 32) as an unsigned value.
func (r *bitReader) ReadBits(n int) (uint32, error) {
	if n < 0 || n > 32 {
		return 0, fmt.Errorf("j2kview: invalid bit count: %d", n)
	}
	var v uint32
	for range n {
		bit, err := r.ReadBit()
		if err != nil {
			return 0, err
		}
		v = v<<1 | uint32(bit)
	}
	return v, nil
}

// ReadByte returns the next 8 bits.
func (r *bitReader) ReadByte() (byte, error) {
	if r.bitPos == 0 {
		if r.pos >= len(r.data) {
			return 0, ErrTruncatedData
		}
		b := r.data[r.pos]
		r.pos++
		return b, nil
	}
	v, err := r.ReadBits(8)
	return byte(v), err
}

// ReadBytes returns the next n bytes without copying. The reader must be
// byte aligned.
func (r *bitReader) ReadBytes(n int) ([]byte, error) {
	if r.bitPos != 0 {
		return nil, fmt.Errorf("j2kview: unaligned byte read at bit %d", r.BitPosition())
	}
	if n < 0 || n > r.Remaining() {
		return nil, ErrTruncatedData
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// ByteAlign moves to the start of the next byte unless already aligned.
func (r *bitReader) ByteAlign() {
	if r.bitPos != 0 {
		r.bitPos = 0
		r.pos++
	}
}

// Position returns the current byte offset.
func (r *bitReader) Position() int {
	return r.pos
}

// BitPosition returns the current offset in bits.
func (r *bitReader) BitPosition() int {
	return r.pos*8 + int(r.bitPos)
}

// Remaining returns the number of bytes from the current offset to the end.
func (r *bitReader) Remaining() int {
	return max(len(r.data)-r.pos, 0)
}

// PeekByte returns the byte offset bytes past the next byte boundary
// without consuming anything.
func (r *bitReader) PeekByte(offset int) (byte, error) {
	p := r.pos + offset
	if r.bitPos != 0 {
		p++
	}
	if p < 0 || p >= len(r.data) {
		return 0, ErrTruncatedData
	}
	return r.data[p], nil
}
