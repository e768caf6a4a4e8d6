package model

import (
	"fmt"
	"image/color"
	"strings"
)

// Color is a logical ink colour. Which colours a panel can actually show
// depends on its family; drivers map anything they lack onto what they have.
type Color uint8

const (
	Black Color = iota
	White
	Yellow
	Red
	Blue
	Green
)

var colorNames = [...]string{
	Black:  "black",
	White:  "white",
	Yellow: "yellow",
	Red:    "red",
	Blue:   "blue",
	Green:  "green",
}

var colorRGBA = [...]color.RGBA{
	Black:  {0x00, 0x00, 0x00, 0xff},
	White:  {0xff, 0xff, 0xff, 0xff},
	Yellow: {0xff, 0xff, 0x00, 0xff},
	Red:    {0xff, 0x00, 0x00, 0xff},
	Blue:   {0x00, 0x00, 0xff, 0xff},
	Green:  {0x00, 0xff, 0x00, 0xff},
}

// Valid reports whether c is one of the defined colours.
func (c Color) Valid() bool {
	return int(c) < len(colorNames)
}

func (c Color) String() string {
	if !c.Valid() {
		return fmt.Sprintf("Color(%d)", uint8(c))
	}
	return colorNames[c]
}

// RGBA implements color.Color so canvases can be previewed as images.
func (c Color) RGBA() (r, g, b, a uint32) {
	if !c.Valid() {
		return 0, 0, 0, 0
	}
	return colorRGBA[c].RGBA()
}

// ParseColor accepts the lower-case names returned by String.
func ParseColor(s string) (Color, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range colorNames {
		if n == name {
			return Color(i), nil
		}
	}
	return 0, fmt.Errorf("model: unknown color %q", s)
}

// Palette holds every colour in declaration order.
var Palette = color.Palette{Black, White, Yellow, Red, Blue, Green}

// ColorModel converts arbitrary colours to the nearest palette entry.
var ColorModel = color.ModelFunc(func(c color.Color) color.Color {
	if mc, ok := c.(Color); ok {
		return mc
	}
	return Palette.Convert(c)
})
