package convert

import (
	"errors"
	"fmt"

	"inkpanel/internal/model"
)

// ErrFormat is returned when a pixel grid cannot be expressed in the
// requested packing.
var ErrFormat = errors.New("convert: unsupported pixel layout")

// PackNibbles packs two 4-bit colour codes per byte, row by row.
//
// Packing rules:
//
//   - the first pixel of each pair goes into the high nibble:
//     out[k] = code(row[2k])<<4 | code(row[2k+1])
//   - every row must have even length; an odd row fails with ErrFormat
//     before anything is returned.
//   - code is applied to every pixel and only its low 4 bits are kept.
func PackNibbles(pixels [][]model.Color, code func(model.Color) byte) ([]byte, error) {
	size := 0
	for y, row := range pixels {
		if len(row)%2 != 0 {
			return nil, fmt.Errorf("%w: row %d has odd length %d", ErrFormat, y, len(row))
		}
		size += len(row) / 2
	}

	out := make([]byte, 0, size)
	for _, row := range pixels {
		for x := 0; x < len(row); x += 2 {
			hi := code(row[x]) & 0x0F
			lo := code(row[x+1]) & 0x0F
			out = append(out, hi<<4|lo)
		}
	}
	return out, nil
}

// PackBits packs one bit per pixel over the whole grid in row-major order,
// least significant bit first. A pixel's bit is 1 when set(pixel) is true.
//
// Rows are not padded individually: pixel i of the flattened grid lands in
// byte i/8, bit i%8. When the pixel count is not a multiple of 8, the high
// bits of the final byte stay zero.
func PackBits(pixels [][]model.Color, set func(model.Color) bool) []byte {
	total := 0
	for _, row := range pixels {
		total += len(row)
	}

	out := make([]byte, (total+7)/8)
	i := 0
	for _, row := range pixels {
		for _, c := range row {
			if set(c) {
				out[i>>3] |= 1 << (i & 7)
			}
			i++
		}
	}
	return out
}
