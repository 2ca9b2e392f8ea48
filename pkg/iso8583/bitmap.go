package iso8583

import (
	"encoding/hex"
	"strings"
)

// BitmapSize is the size of one bitmap in binary form.
const BitmapSize = 8

// Bitmap records field presence for fields 1-128. Bit i (MSB first within
// each byte) stands for field i+1.
type Bitmap [2 * BitmapSize]byte

// Has reports whether field n is marked present.
func (b *Bitmap) Has(n int) bool {
	if n < 1 || n > MaxField {
		return false
	}
	i := n - 1
	return b[i/8]&(0x80>>(i%8)) != 0
}

// Set marks field n present.
func (b *Bitmap) Set(n int) {
	if n < 1 || n > MaxField {
		return
	}
	i := n - 1
	b[i/8] |= 0x80 >> (i % 8)
}

// Clear marks field n absent.
func (b *Bitmap) Clear(n int) {
	if n < 1 || n > MaxField {
		return
	}
	i := n - 1
	b[i/8] &^= 0x80 >> (i % 8)
}

// HasSecondary reports whether any field in 65-128 is marked present.
func (b *Bitmap) HasSecondary() bool {
	for _, v := range b[BitmapSize:] {
		if v != 0 {
			return true
		}
	}
	return false
}

// Fields returns the present field numbers in ascending order, excluding
// field 1.
func (b *Bitmap) Fields() []int {
	var out []int
	for n := 2; n <= MaxField; n++ {
		if b.Has(n) {
			out = append(out, n)
		}
	}
	return out
}

// Encode returns the primary bitmap followed by the secondary bitmap when any
// field in 65-128 is present. Bit 1 is derived from that condition and the
// stored bit is ignored.
func (b Bitmap) Encode(ascii bool) []byte {
	if b.HasSecondary() {
		b.Set(1)
	} else {
		b.Clear(1)
	}
	raw := b[:BitmapSize]
	if b.Has(1) {
		raw = b[:]
	}
	if !ascii {
		out := make([]byte, len(raw))
		copy(out, raw)
		return out
	}
	return []byte(strings.ToUpper(hex.EncodeToString(raw)))
}

// DecodeBitmap reads a primary bitmap, and the secondary bitmap when bit 1
// is set, from the front of data. It returns the bitmap and the number of
// bytes consumed.
func DecodeBitmap(data []byte, ascii bool) (Bitmap, int, error) {
	var b Bitmap
	unit := BitmapSize
	if ascii {
		unit = 2 * BitmapSize
	}

	read := func(dst []byte, src []byte) error {
		if !ascii {
			copy(dst, src)
			return nil
		}
		if _, err := hex.Decode(dst, src); err != nil {
			return ErrInvalidBitmap
		}
		return nil
	}

	if len(data) < unit {
		return b, 0, ErrInsufficientData
	}
	if err := read(b[:BitmapSize], data[:unit]); err != nil {
		return b, 0, err
	}
	if !b.Has(1) {
		return b, unit, nil
	}

	if len(data) < 2*unit {
		return b, 0, ErrInsufficientData
	}
	if err := read(b[BitmapSize:], data[unit:2*unit]); err != nil {
		return b, 0, err
	}
	return b, 2 * unit, nil
}
