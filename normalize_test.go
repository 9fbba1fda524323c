package tsdconv

import (
	"math"
	"math/rand"
	"testing"
)

const epsilon = 1e-9

func near(a, b float64) bool {
	return math.Abs(a-b) < epsilon
}

func TestPixelCornersToCenter(t *testing.T) {
	tests := []struct {
		left, bottom, right, top float64
		width, height            int
		x, y, w, h               float64
	}{
		{100, 200, 300, 400, 1000, 1000, 0.2, 0.3, 0.2, 0.2},
		{0, 0, 1360, 800, 1360, 800, 0.5, 0.5, 1, 1},
		{774, 411, 815, 446, 1360, 800, 0.584191176, 0.535625, 0.030147059, 0.04375},
		// Inverted boxes are not rejected.
		{300, 400, 100, 200, 1000, 1000, 0.2, 0.3, -0.2, -0.2},
	}

	for _, tc := range tests {
		x, y, w, h := PixelCornersToCenter(tc.left, tc.bottom, tc.right, tc.top, tc.width, tc.height)
		if math.Abs(x-tc.x) > 1e-6 || math.Abs(y-tc.y) > 1e-6 ||
				math.Abs(w-tc.w) > 1e-6 || math.Abs(h-tc.h) > 1e-6 {
			t.Errorf("PixelCornersToCenter(%v, %v, %v, %v, %d, %d) = (%f, %f, %f, %f), expected"+
				" (%f, %f, %f, %f)", tc.left, tc.bottom, tc.right, tc.top, tc.width, tc.height,
				x, y, w, h, tc.x, tc.y, tc.w, tc.h)
		}
	}
}

func TestPixelCornersToCenterRange(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 1000; i++ {
		width := 1 + rng.Intn(4000)
		height := 1 + rng.Intn(4000)
		left := rng.Float64() * float64(width)
		right := left + rng.Float64()*(float64(width)-left)
		bottom := rng.Float64() * float64(height)
		top := bottom + rng.Float64()*(float64(height)-bottom)

		x, y, w, h := PixelCornersToCenter(left, bottom, right, top, width, height)
		for _, v := range []float64{x, y, w, h} {
			if v < 0 || v > 1 {
				t.Fatalf("box (%f, %f, %f, %f) in %dx%d: value %f out of [0, 1]", left, bottom,
					right, top, width, height, v)
			}
		}
	}
}

func TestCenterToPixelCornersRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(2))

	for i := 0; i < 1000; i++ {
		width := 1 + rng.Intn(4000)
		height := 1 + rng.Intn(4000)
		left := float64(rng.Intn(width))
		right := left + float64(rng.Intn(width-int(left)+1))
		bottom := float64(rng.Intn(height))
		top := bottom + float64(rng.Intn(height-int(bottom)+1))

		x, y, w, h := PixelCornersToCenter(left, bottom, right, top, width, height)
		l2, b2, r2, t2 := CenterToPixelCorners(x, y, w, h, width, height)
		if math.Abs(l2-left) > 1e-6 || math.Abs(b2-bottom) > 1e-6 ||
				math.Abs(r2-right) > 1e-6 || math.Abs(t2-top) > 1e-6 {
			t.Fatalf("round trip of (%v, %v, %v, %v) in %dx%d gave (%v, %v, %v, %v)", left,
				bottom, right, top, width, height, l2, b2, r2, t2)
		}
	}
}

func TestSymmetricToPixel(t *testing.T) {
	tests := []struct {
		v        float64
		dim      int
		expected float64
	}{
		{0, 1000, 500},
		{0, 1361, 680.5},
		{-1, 800, 0},
		{1, 800, 800},
		{-0.5, 1000, 250},
		{0.5, 1000, 750},
	}

	for _, tc := range tests {
		if got := SymmetricToPixel(tc.v, tc.dim); !near(got, tc.expected) {
			t.Errorf("SymmetricToPixel(%v, %d) = %v, expected %v", tc.v, tc.dim, got, tc.expected)
		}
	}
}

func TestFlipVertical(t *testing.T) {
	tests := []struct {
		bottom, top float64
		height      int
	}{
		{250, 750, 1000},
		{0, 100, 800},
		{10.5, 20.25, 600},
	}

	for _, tc := range tests {
		newBottom, newTop := FlipVertical(tc.bottom, tc.top, tc.height)
		if !near(newTop, float64(tc.height)-tc.bottom) || !near(newBottom, float64(tc.height)-tc.top) {
			t.Errorf("FlipVertical(%v, %v, %d) = (%v, %v)", tc.bottom, tc.top, tc.height,
				newBottom, newTop)
		}

		// Flipping twice restores the box.
		b, top := FlipVertical(newBottom, newTop, tc.height)
		if !near(b, tc.bottom) || !near(top, tc.top) {
			t.Errorf("double flip of (%v, %v) gave (%v, %v)", tc.bottom, tc.top, b, top)
		}
	}
}
