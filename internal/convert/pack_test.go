package convert

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"inkpanel/internal/model"
)

func identity(c model.Color) byte { return byte(c) }

func notBlack(c model.Color) bool { return c != model.Black }

func grid(rows ...[]model.Color) [][]model.Color { return rows }

func TestPackNibbles(t *testing.T) {
	pixels := grid(
		[]model.Color{model.Black, model.White, model.Yellow, model.Red},
		[]model.Color{model.Blue, model.Green, model.White, model.White},
	)
	got, err := PackNibbles(pixels, identity)
	if err != nil {
		t.Fatalf("PackNibbles() error: %v", err)
	}
	want := []byte{0x01, 0x23, 0x45, 0x11}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("PackNibbles() mismatch (-want +got):\n%s", diff)
	}
}

func TestPackNibblesRecoversPairs(t *testing.T) {
	colors := []model.Color{model.Black, model.White, model.Yellow, model.Red, model.Blue, model.Green}
	const rows, cols = 3, 10
	pixels := make([][]model.Color, rows)
	for y := range pixels {
		pixels[y] = make([]model.Color, cols)
		for x := range pixels[y] {
			pixels[y][x] = colors[(x*7+y*3)%len(colors)]
		}
	}

	got, err := PackNibbles(pixels, identity)
	if err != nil {
		t.Fatalf("PackNibbles() error: %v", err)
	}
	if want := (cols + 1) / 2 * rows; len(got) != want {
		t.Fatalf("len = %d, want %d", len(got), want)
	}
	for k, b := range got {
		y, x := k/(cols/2), (k%(cols/2))*2
		if hi := model.Color(b >> 4); hi != pixels[y][x] {
			t.Errorf("byte %d high nibble = %v, want %v", k, hi, pixels[y][x])
		}
		if lo := model.Color(b & 0x0F); lo != pixels[y][x+1] {
			t.Errorf("byte %d low nibble = %v, want %v", k, lo, pixels[y][x+1])
		}
	}
}

func TestPackNibblesOddRow(t *testing.T) {
	pixels := grid(
		[]model.Color{model.White, model.White},
		[]model.Color{model.White, model.White, model.Black},
	)
	got, err := PackNibbles(pixels, identity)
	if !errors.Is(err, ErrFormat) {
		t.Fatalf("PackNibbles() error = %v, want ErrFormat", err)
	}
	if got != nil {
		t.Errorf("PackNibbles() returned %d bytes on error, want none", len(got))
	}
}

func TestPackBits(t *testing.T) {
	tests := []struct {
		desc   string
		pixels [][]model.Color
		want   []byte
	}{
		{
			desc: "lsb first",
			pixels: grid(
				[]model.Color{model.White, model.Black, model.Black, model.Black},
				[]model.Color{model.Black, model.Black, model.Black, model.Red},
			),
			want: []byte{0b1000_0001},
		},
		{
			desc: "spans rows without padding",
			pixels: grid(
				[]model.Color{model.White, model.White, model.White},
				[]model.Color{model.White, model.White, model.White},
				[]model.Color{model.White, model.White, model.White},
			),
			want: []byte{0xFF, 0b0000_0001},
		},
		{
			desc: "final byte zero padded",
			pixels: grid(
				[]model.Color{model.Yellow, model.Black, model.Green, model.Black, model.Blue},
			),
			want: []byte{0b0001_0101},
		},
		{
			desc:   "empty",
			pixels: nil,
			want:   []byte{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			got := PackBits(tt.pixels, notBlack)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("PackBits() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPackBitsRecoversClass(t *testing.T) {
	colors := []model.Color{model.Black, model.White, model.Red, model.Black, model.Black}
	pixels := make([][]model.Color, 4)
	for y := range pixels {
		pixels[y] = make([]model.Color, 5)
		for x := range pixels[y] {
			pixels[y][x] = colors[(x+y*2)%len(colors)]
		}
	}
	got := PackBits(pixels, notBlack)

	i := 0
	for _, row := range pixels {
		for _, c := range row {
			bit := got[i/8]>>(i%8)&1 == 1
			if bit != notBlack(c) {
				t.Errorf("bit %d = %v, want %v (%v)", i, bit, notBlack(c), c)
			}
			i++
		}
	}
	if last := got[len(got)-1]; last>>(i%8) != 0 {
		t.Errorf("final byte %08b has bits above pixel %d", last, i)
	}
}
