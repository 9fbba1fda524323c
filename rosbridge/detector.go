package rosbridge

import (
	"context"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
)

// Detection is a detected object with its box in pixel coordinates of the frame. X and Y are the
// top-left corner.
type Detection struct {
	Label string  `json:"label"`
	X     int     `json:"x"`
	Y     int     `json:"y"`
	W     int     `json:"w"`
	H     int     `json:"h"`
	Score float64 `json:"score,omitempty"`
}

// Detector finds objects in a frame.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]Detection, error)
}

// StubDetector reports the same single car for every frame. It stands in for a real model while
// the topic wiring is tested.
type StubDetector struct{}

// Detect implements Detector.
func (StubDetector) Detect(context.Context, image.Image) ([]Detection, error) {
	return []Detection{{Label: "car", X: 100, Y: 200, W: 50, H: 50}}, nil
}

// LetterboxDetector scales frames to the fixed input size of a model, keeping the aspect ratio and
// padding the remainder, and maps the detections back to frame coordinates.
type LetterboxDetector struct {
	Detector
	Width  int
	Height int
	Pad    color.Color // Defaults to black.
}

// letterbox returns the scale factor and the horizontal and vertical padding for a frame of the
// given size.
func (d LetterboxDetector) letterbox(width, height int) (scale float64, xPad, yPad int) {
	scale = math.Min(float64(d.Width)/float64(width), float64(d.Height)/float64(height))
	xPad = (d.Width - int(math.Round(float64(width)*scale))) / 2
	yPad = (d.Height - int(math.Round(float64(height)*scale))) / 2
	return scale, xPad, yPad
}

// Detect implements Detector.
func (d LetterboxDetector) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	b := img.Bounds()
	if b.Dx() == d.Width && b.Dy() == d.Height {
		return d.Detector.Detect(ctx, img)
	}

	scale, xPad, yPad := d.letterbox(b.Dx(), b.Dy())
	pad := d.Pad
	if pad == nil {
		pad = color.Black
	}

	dst := image.NewRGBA(image.Rect(0, 0, d.Width, d.Height))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(pad), image.Point{}, draw.Src)
	target := image.Rect(xPad, yPad, d.Width-xPad, d.Height-yPad)
	draw.ApproxBiLinear.Scale(dst, target, img, b, draw.Src, nil)

	detections, err := d.Detector.Detect(ctx, dst)
	if err != nil {
		return nil, err
	}

	for i := range detections {
		det := &detections[i]
		det.X = int(math.Round(float64(det.X-xPad)/scale)) + b.Min.X
		det.Y = int(math.Round(float64(det.Y-yPad)/scale)) + b.Min.Y
		det.W = int(math.Round(float64(det.W) / scale))
		det.H = int(math.Round(float64(det.H) / scale))
	}
	return detections, nil
}
