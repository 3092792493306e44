// Package coords converts signature-field placements between the
// resolution-independent percentage space used by the signing UI, the pixel
// space of a concrete page, and PDF user space (bottom-left origin).
//
// Everything in this package is pure and safe for concurrent use.
package coords

import (
	"fmt"
	"math"
)

// boundaryEpsilon absorbs float noise such as 33.3+66.7 at the 100% edge.
const boundaryEpsilon = 1e-9

// Rect is a field rectangle in percent of the page, origin top-left. Each
// component is in [0,100].
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Area returns the rectangle area in percent units squared. Degenerate
// rectangles have zero area.
func (r Rect) Area() float64 {
	if r.Width <= 0 || r.Height <= 0 {
		return 0
	}
	return r.Width * r.Height
}

// PageSize is the width and height of a page in pixels or PDF points.
type PageSize struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Valid reports whether both dimensions are positive and finite.
func (p PageSize) Valid() bool {
	return p.Width > 0 && p.Height > 0 && !math.IsInf(p.Width, 0) && !math.IsInf(p.Height, 0)
}

// PixelRect is a field rectangle in the absolute pixel space of a page,
// origin top-left.
type PixelRect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// PDFRect is a rectangle in PDF user space: origin bottom-left, unrounded.
type PDFRect struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// PercentToPixel converts one percentage value along a page dimension.
func PercentToPixel(percent, dimension float64) int {
	return int(math.Round(percent / 100 * dimension))
}

// PixelToPercent converts one pixel value along a page dimension.
func PixelToPercent(pixel int, dimension float64) float64 {
	if dimension <= 0 {
		return 0
	}
	return float64(pixel) / dimension * 100
}

// ToPixels maps a percentage rect onto a page of the given size.
func ToPixels(r Rect, page PageSize) PixelRect {
	return PixelRect{
		X:      PercentToPixel(r.X, page.Width),
		Y:      PercentToPixel(r.Y, page.Height),
		Width:  PercentToPixel(r.Width, page.Width),
		Height: PercentToPixel(r.Height, page.Height),
	}
}

// ToPercent is the inverse of ToPixels. Because ToPixels rounds, a round
// trip is exact only to within 50/dimension percent per component.
func ToPercent(p PixelRect, page PageSize) Rect {
	return Rect{
		X:      PixelToPercent(p.X, page.Width),
		Y:      PixelToPercent(p.Y, page.Height),
		Width:  PixelToPercent(p.Width, page.Width),
		Height: PixelToPercent(p.Height, page.Height),
	}
}

// ToPDF maps a percentage rect onto a page in PDF user space. The y axis is
// flipped so that the result's Y is the distance from the bottom edge to the
// bottom of the field.
func ToPDF(r Rect, page PageSize) PDFRect {
	return PDFRect{
		X:      r.X / 100 * page.Width,
		Y:      page.Height - (r.Y+r.Height)/100*page.Height,
		Width:  r.Width / 100 * page.Width,
		Height: r.Height / 100 * page.Height,
	}
}

// Validation is the outcome of Validate.
type Validation struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// Validate checks a percentage rect placed on the given 1-based page. Every
// violated rule contributes exactly one message.
func Validate(r Rect, page int) Validation {
	var errs []string
	finite := true
	for _, c := range []struct {
		name string
		v    float64
	}{{"x", r.X}, {"y", r.Y}, {"width", r.Width}, {"height", r.Height}} {
		if math.IsNaN(c.v) || math.IsInf(c.v, 0) {
			errs = append(errs, fmt.Sprintf("%s must be a finite number", c.name))
			finite = false
		}
	}
	if finite {
		if r.X < 0 {
			errs = append(errs, fmt.Sprintf("x must not be negative (got %g)", r.X))
		}
		if r.Y < 0 {
			errs = append(errs, fmt.Sprintf("y must not be negative (got %g)", r.Y))
		}
		if r.Width <= 0 {
			errs = append(errs, fmt.Sprintf("width must be greater than 0 (got %g)", r.Width))
		}
		if r.Height <= 0 {
			errs = append(errs, fmt.Sprintf("height must be greater than 0 (got %g)", r.Height))
		}
		if right := r.X + r.Width; right > 100+boundaryEpsilon {
			errs = append(errs, fmt.Sprintf("field exceeds the right page boundary: x + width = %g > 100", right))
		}
		if bottom := r.Y + r.Height; bottom > 100+boundaryEpsilon {
			errs = append(errs, fmt.Sprintf("field exceeds the bottom page boundary: y + height = %g > 100", bottom))
		}
	}
	if page < 1 {
		errs = append(errs, fmt.Sprintf("page number must be at least 1 (got %d)", page))
	}
	return Validation{Valid: len(errs) == 0, Errors: errs}
}

// OverlapArea returns the intersection area of two rects; zero when they do
// not intersect.
func OverlapArea(a, b Rect) float64 {
	w := math.Min(a.X+a.Width, b.X+b.Width) - math.Max(a.X, b.X)
	h := math.Min(a.Y+a.Height, b.Y+b.Height) - math.Max(a.Y, b.Y)
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// OverlapRatio is the overlap area relative to the smaller of the two rects.
// It is zero whenever either rect is degenerate.
func OverlapRatio(a, b Rect) float64 {
	smaller := math.Min(a.Area(), b.Area())
	if smaller <= 0 {
		return 0
	}
	return OverlapArea(a, b) / smaller
}
