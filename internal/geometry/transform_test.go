package geometry

import (
	"math"
	"testing"
)

func TestToDisplayScalesIndependentlyPerAxis(t *testing.T) {
	natural := Size{Width: 4000, Height: 3000}
	display := Size{Width: 800, Height: 450} // different aspect ratio

	r := Rect{X: 400, Y: 300, Width: 1000, Height: 600}
	d := ToDisplay(r, natural, display)

	if d.X != 80 || d.Width != 200 {
		t.Errorf("x axis: got x=%v w=%v, want x=80 w=200", d.X, d.Width)
	}
	if d.Y != 45 || d.Height != 90 {
		t.Errorf("y axis: got y=%v h=%v, want y=45 h=90", d.Y, d.Height)
	}
}

func TestRoundTripWithinOnePixel(t *testing.T) {
	cases := []struct {
		name    string
		natural Size
		display Size
		rect    Rect
	}{
		{"downscale", Size{4032, 3024}, Size{1170, 878}, Rect{X: 812, Y: 401, Width: 233, Height: 307}},
		{"upscale", Size{640, 480}, Size{1920, 1440}, Rect{X: 12, Y: 7, Width: 101, Height: 99}},
		{"non-uniform", Size{3000, 2000}, Size{733, 311}, Rect{X: 1499, Y: 777, Width: 421, Height: 353}},
		{"identity", Size{1024, 768}, Size{1024, 768}, Rect{X: 1, Y: 2, Width: 3, Height: 4}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := ToDisplay(tc.rect, tc.natural, tc.display)
			back := ToNatural(d, tc.natural, tc.display)

			checkWithin(t, "x", tc.rect.X, back.X)
			checkWithin(t, "y", tc.rect.Y, back.Y)
			checkWithin(t, "width", tc.rect.Width, back.Width)
			checkWithin(t, "height", tc.rect.Height, back.Height)
		})
	}
}

func checkWithin(t *testing.T, field string, want, got int) {
	t.Helper()
	if math.Abs(float64(want-got)) > 1 {
		t.Errorf("%s: round trip drifted beyond 1px: want %d, got %d", field, want, got)
	}
}

func TestToNaturalRoundsToNearestInteger(t *testing.T) {
	natural := Size{Width: 3000, Height: 3000}
	display := Size{Width: 1000, Height: 1000}

	// 33.4 display px * 3 = 100.2 -> 100; 33.5 * 3 = 100.5 -> 101
	r := ToNatural(DisplayRect{X: 33.4, Y: 33.5, Width: 10, Height: 10}, natural, display)
	if r.X != 100 {
		t.Errorf("expected 100.2 to round to 100, got %d", r.X)
	}
	if r.Y != 101 {
		t.Errorf("expected 100.5 to round to 101, got %d", r.Y)
	}
}

func TestClamp(t *testing.T) {
	bounds := Size{Width: 100, Height: 100}

	tests := []struct {
		name string
		in   Rect
		want Rect
	}{
		{"inside", Rect{10, 10, 20, 20}, Rect{10, 10, 20, 20}},
		{"negative origin", Rect{-5, -5, 20, 20}, Rect{0, 0, 15, 15}},
		{"overflow", Rect{90, 90, 20, 20}, Rect{90, 90, 10, 10}},
		{"fully outside", Rect{200, 200, 20, 20}, Rect{200, 200, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Clamp(tt.in, bounds); got != tt.want {
				t.Errorf("Clamp(%+v) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}
