package coords

import (
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPages = []PageSize{
	{Width: 612, Height: 792},
	{Width: 595, Height: 842},
	{Width: 800, Height: 1035},
	{Width: 1240, Height: 1754},
}

func randomRect(rng *rand.Rand) Rect {
	w := 0.5 + rng.Float64()*49.5
	h := 0.5 + rng.Float64()*49.5
	return Rect{
		X:      rng.Float64() * (100 - w),
		Y:      rng.Float64() * (100 - h),
		Width:  w,
		Height: h,
	}
}

func TestToPixels(t *testing.T) {
	got := ToPixels(Rect{X: 10, Y: 50, Width: 25, Height: 5}, PageSize{Width: 612, Height: 792})
	assert.Equal(t, PixelRect{X: 61, Y: 396, Width: 153, Height: 40}, got)
}

func TestRoundTripWithinOneUnit(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for _, page := range testPages {
		for i := 0; i < 500; i++ {
			r := randomRect(rng)
			back := ToPercent(ToPixels(r, page), page)
			assert.InDelta(t, r.X, back.X, 1, "x on %v", page)
			assert.InDelta(t, r.Y, back.Y, 1, "y on %v", page)
			assert.InDelta(t, r.Width, back.Width, 1, "width on %v", page)
			assert.InDelta(t, r.Height, back.Height, 1, "height on %v", page)
		}
	}
}

func TestToPDFFlipsYAxis(t *testing.T) {
	page := PageSize{Width: 600, Height: 800}
	got := ToPDF(Rect{X: 10, Y: 20, Width: 30, Height: 10}, page)
	assert.InDelta(t, 60, got.X, 1e-9)
	assert.InDelta(t, 180, got.Width, 1e-9)
	assert.InDelta(t, 80, got.Height, 1e-9)
	// top edge sits 20% below the top, bottom edge 30% below the top.
	assert.InDelta(t, 800-0.30*800, got.Y, 1e-9)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		rect     Rect
		page     int
		contains []string
	}{
		{name: "valid", rect: Rect{X: 10, Y: 10, Width: 20, Height: 5}, page: 1},
		{name: "touches edges", rect: Rect{X: 0, Y: 0, Width: 100, Height: 100}, page: 3},
		{name: "float noise at edge", rect: Rect{X: 33.3, Y: 0.1, Width: 66.7, Height: 99.9}, page: 1},
		{name: "right boundary", rect: Rect{X: 95, Y: 10, Width: 10, Height: 5}, page: 1, contains: []string{"right page boundary", "105"}},
		{name: "bottom boundary", rect: Rect{X: 0, Y: 98, Width: 10, Height: 5}, page: 1, contains: []string{"bottom page boundary"}},
		{name: "negative x", rect: Rect{X: -1, Y: 0, Width: 10, Height: 5}, page: 1, contains: []string{"x must not be negative"}},
		{name: "negative y", rect: Rect{X: 0, Y: -0.5, Width: 10, Height: 5}, page: 1, contains: []string{"y must not be negative"}},
		{name: "zero width", rect: Rect{X: 0, Y: 0, Width: 0, Height: 5}, page: 1, contains: []string{"width must be greater than 0"}},
		{name: "negative height", rect: Rect{X: 0, Y: 0, Width: 5, Height: -2}, page: 1, contains: []string{"height must be greater than 0"}},
		{name: "page zero", rect: Rect{X: 0, Y: 0, Width: 5, Height: 5}, page: 0, contains: []string{"page number must be at least 1"}},
		{name: "nan", rect: Rect{X: math.NaN(), Y: 0, Width: 5, Height: 5}, page: 1, contains: []string{"x must be a finite number"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := Validate(tc.rect, tc.page)
			if len(tc.contains) == 0 {
				assert.True(t, v.Valid, "errors: %v", v.Errors)
				assert.Empty(t, v.Errors)
				return
			}
			require.False(t, v.Valid)
			joined := strings.Join(v.Errors, "\n")
			for _, want := range tc.contains {
				assert.Contains(t, joined, want)
			}
		})
	}
}

func TestValidateReportsEachViolationOnce(t *testing.T) {
	v := Validate(Rect{X: -5, Y: -5, Width: 0, Height: 0}, 0)
	require.False(t, v.Valid)
	assert.Len(t, v.Errors, 5)
	seen := map[string]bool{}
	for _, e := range v.Errors {
		assert.False(t, seen[e], "duplicate error %q", e)
		seen[e] = true
	}
}

func TestValidateTotality(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 1000; i++ {
		r := Rect{
			X:      rng.Float64()*140 - 20,
			Y:      rng.Float64()*140 - 20,
			Width:  rng.Float64()*80 - 10,
			Height: rng.Float64()*80 - 10,
		}
		page := rng.Intn(4) - 1
		outOfBounds := r.X < 0 || r.Y < 0 || r.Width <= 0 || r.Height <= 0 ||
			r.X+r.Width > 100 || r.Y+r.Height > 100 || page < 1
		v := Validate(r, page)
		if outOfBounds {
			assert.False(t, v.Valid, "%+v page %d", r, page)
			assert.NotEmpty(t, v.Errors)
		} else {
			assert.True(t, v.Valid, "%+v page %d: %v", r, page, v.Errors)
		}
	}
}

func TestOverlapArea(t *testing.T) {
	a := Rect{X: 10, Y: 10, Width: 20, Height: 10}
	b := Rect{X: 20, Y: 15, Width: 20, Height: 10}
	assert.InDelta(t, 50, OverlapArea(a, b), 1e-9)
	assert.Zero(t, OverlapArea(a, Rect{X: 50, Y: 50, Width: 5, Height: 5}))
	// touching edges do not overlap
	assert.Zero(t, OverlapArea(a, Rect{X: 30, Y: 10, Width: 5, Height: 5}))
}

func TestOverlapSymmetryAndIdentity(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	for i := 0; i < 500; i++ {
		a, b := randomRect(rng), randomRect(rng)
		assert.Equal(t, OverlapArea(a, b), OverlapArea(b, a))
		assert.GreaterOrEqual(t, OverlapArea(a, b), 0.0)
		assert.InDelta(t, a.Area(), OverlapArea(a, a), 1e-9)
	}
}

func TestOverlapRatioMonotonicWhileGrowingIntoContainment(t *testing.T) {
	fixed := Rect{X: 10, Y: 10, Width: 20, Height: 10}
	prev := -1.0
	for w := 5.0; w <= 25; w += 0.5 {
		grow := Rect{X: 5, Y: 12, Width: w, Height: 2}
		ratio := OverlapRatio(fixed, grow)
		assert.GreaterOrEqual(t, ratio, prev, "width %g", w)
		prev = ratio
	}
}

func TestDetectConflict(t *testing.T) {
	existing := []Placed{
		{ID: "a", Page: 1, Rect: Rect{X: 10, Y: 10, Width: 20, Height: 5}},
		{ID: "b", Page: 2, Rect: Rect{X: 10, Y: 10, Width: 20, Height: 5}},
		{ID: "c", Page: 1, Rect: Rect{X: 60, Y: 60, Width: 10, Height: 5}},
	}
	c := DetectConflict(Placed{Page: 1, Rect: Rect{X: 12, Y: 11, Width: 20, Height: 5}}, existing, 0)
	assert.True(t, c.HasConflict)
	assert.Equal(t, []string{"a"}, c.ConflictingWith)

	// 10% overlap of the smaller rect stays under the default threshold.
	c = DetectConflict(Placed{Page: 1, Rect: Rect{X: 28, Y: 10, Width: 20, Height: 5}}, existing, DefaultConflictThreshold)
	assert.False(t, c.HasConflict)

	// the same rect is reported again when the caller lowers the threshold.
	c = DetectConflict(Placed{Page: 1, Rect: Rect{X: 28, Y: 10, Width: 20, Height: 5}}, existing, 0.05)
	assert.True(t, c.HasConflict)
}

func TestDetectConflictIgnoresDegenerateAndSelf(t *testing.T) {
	existing := []Placed{{ID: "a", Page: 1, Rect: Rect{X: 10, Y: 10, Width: 20, Height: 5}}}
	c := DetectConflict(Placed{Page: 1, Rect: Rect{X: 15, Y: 11, Width: 0, Height: 3}}, existing, 0)
	assert.False(t, c.HasConflict)

	c = DetectConflict(Placed{ID: "a", Page: 1, Rect: existing[0].Rect}, existing, 0)
	assert.False(t, c.HasConflict)
}
