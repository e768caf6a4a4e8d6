// Package canvas holds the logical pixel grid a panel is rendered from and
// rasterises simple shapes onto it.
package canvas

import (
	"image"
	"image/color"

	"inkpanel/internal/model"
)

// Canvas is a width x height grid of colours, row-major. Every row is
// exactly Width long and every cell holds a valid colour.
type Canvas struct {
	w, h int
	pix  [][]model.Color
}

// New returns a canvas filled with White. Negative sizes are treated as 0.
func New(w, h int) *Canvas {
	w, h = max(w, 0), max(h, 0)
	c := &Canvas{w: w, h: h, pix: make([][]model.Color, h)}
	for y := range c.pix {
		c.pix[y] = make([]model.Color, w)
	}
	c.Fill(model.White)
	return c
}

func (c *Canvas) Width() int  { return c.w }
func (c *Canvas) Height() int { return c.h }

func (c *Canvas) in(x, y int) bool {
	return x >= 0 && x < c.w && y >= 0 && y < c.h
}

// Get returns the colour at (x, y), or White outside the canvas.
func (c *Canvas) Get(x, y int) model.Color {
	if !c.in(x, y) {
		return model.White
	}
	return c.pix[y][x]
}

// Set paints (x, y). Coordinates outside the canvas and invalid colours are
// ignored.
func (c *Canvas) Set(x, y int, col model.Color) {
	if !c.in(x, y) || !col.Valid() {
		return
	}
	c.pix[y][x] = col
}

// Fill paints every cell.
func (c *Canvas) Fill(col model.Color) {
	if !col.Valid() {
		return
	}
	for _, row := range c.pix {
		for x := range row {
			row[x] = col
		}
	}
}

// Pixels returns the grid itself, not a copy. Drivers only read it.
func (c *Canvas) Pixels() [][]model.Color {
	return c.pix
}

// Draw paints every point s produces that lies inside the canvas. Points
// are painted in order, so where shapes overlap the last write wins.
func (c *Canvas) Draw(s Shape, col model.Color) {
	for _, p := range s.Points() {
		c.Set(p.X, p.Y, col)
	}
}

// ColorModel, Bounds and At make the canvas an image.Image.

func (c *Canvas) ColorModel() color.Model {
	return model.ColorModel
}

func (c *Canvas) Bounds() image.Rectangle {
	return image.Rect(0, 0, c.w, c.h)
}

func (c *Canvas) At(x, y int) color.Color {
	return c.Get(x, y)
}
