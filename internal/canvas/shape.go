package canvas

import "image"

// Shape produces the grid cells it covers.
type Shape interface {
	Points() []image.Point
}

// Line is the segment from From to To, both endpoints included.
type Line struct {
	From, To image.Point
}

// Points walks the segment with integer Bresenham steps, in order from From
// to To. A degenerate line is the single point From.
func (l Line) Points() []image.Point {
	x0, y0 := l.From.X, l.From.Y
	x1, y1 := l.To.X, l.To.Y

	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := sign(x1-x0), sign(y1-y0)
	e := dx + dy

	pts := make([]image.Point, 0, max(dx, -dy)+1)
	for {
		pts = append(pts, image.Pt(x0, y0))
		if x0 == x1 && y0 == y1 {
			return pts
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

// Rect is the inclusive box spanned by two opposite corners, given in any
// order.
type Rect struct {
	Min, Max image.Point
}

// Points lists every cell of the box row by row.
func (r Rect) Points() []image.Point {
	x0, x1 := min(r.Min.X, r.Max.X), max(r.Min.X, r.Max.X)
	y0, y1 := min(r.Min.Y, r.Max.Y), max(r.Min.Y, r.Max.Y)

	pts := make([]image.Point, 0, (x1-x0+1)*(y1-y0+1))
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			pts = append(pts, image.Pt(x, y))
		}
	}
	return pts
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
