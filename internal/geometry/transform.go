// Package geometry maps face rectangles between an image's natural pixel
// space and a client's rendered display space. It is the only place in the
// codebase where this conversion happens; stored and transmitted boxes are
// always natural-space integers.
package geometry

import "math"

// Rect is an axis-aligned rectangle in natural pixel space.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DisplayRect is a rectangle in display space. Display coordinates keep
// fractional precision because rendered sizes are rarely integer multiples
// of the natural size.
type DisplayRect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Size is a width/height pair in either space.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ToDisplay projects a natural-space rect onto a display surface of the
// given size. Scale factors are independent per axis.
func ToDisplay(r Rect, natural, display Size) DisplayRect {
	sx := scale(display.Width, natural.Width)
	sy := scale(display.Height, natural.Height)
	return DisplayRect{
		X:      float64(r.X) * sx,
		Y:      float64(r.Y) * sy,
		Width:  float64(r.Width) * sx,
		Height: float64(r.Height) * sy,
	}
}

// ToNatural projects a display-space rect back to natural pixel space,
// rounding to the nearest integer since storage is integer pixels.
// ToNatural is the inverse of ToDisplay up to that rounding.
func ToNatural(r DisplayRect, natural, display Size) Rect {
	sx := scale(natural.Width, display.Width)
	sy := scale(natural.Height, display.Height)
	return Rect{
		X:      roundToInt(r.X * sx),
		Y:      roundToInt(r.Y * sy),
		Width:  roundToInt(r.Width * sx),
		Height: roundToInt(r.Height * sy),
	}
}

// Clamp constrains a natural-space rect to lie within the given bounds,
// shrinking it if necessary. A degenerate input yields a zero rect.
func Clamp(r Rect, bounds Size) Rect {
	if r.X < 0 {
		r.Width += r.X
		r.X = 0
	}
	if r.Y < 0 {
		r.Height += r.Y
		r.Y = 0
	}
	if r.X+r.Width > bounds.Width {
		r.Width = bounds.Width - r.X
	}
	if r.Y+r.Height > bounds.Height {
		r.Height = bounds.Height - r.Y
	}
	if r.Width < 0 {
		r.Width = 0
	}
	if r.Height < 0 {
		r.Height = 0
	}
	return r
}

func scale(target, source int) float64 {
	if source <= 0 {
		return 0
	}
	return float64(target) / float64(source)
}

func roundToInt(v float64) int {
	return int(math.Round(v))
}
