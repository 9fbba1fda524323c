package tsdconv

import (
	"fmt"
	"image"
	_ "image/jpeg" // Decoding of JPEG source images.
	_ "image/png"  // Decoding of PNG source images.
	"math"
	"os"

	"github.com/disintegration/imaging"
	_ "github.com/spakin/netpbm" // GTSDB images are PPM files.
)

// targetSize returns the output dimensions for an image of width x height pixels, so that its
// longer side becomes longerSide and its shorter side shorterSide. If one of them is 0, it is
// derived from the other to keep the aspect ratio.
func targetSize(width, height, longerSide, shorterSide int) (int, int) {
	longer, shorter := width, height
	portrait := height > width
	if portrait {
		longer, shorter = height, width
	}

	switch {
	case longerSide <= 0:
		longerSide = int(math.Round(float64(shorterSide) * float64(longer) / float64(shorter)))
	case shorterSide <= 0:
		shorterSide = int(math.Round(float64(longerSide) * float64(shorter) / float64(longer)))
	}

	if portrait {
		return shorterSide, longerSide
	}
	return longerSide, shorterSide
}

// resizeImage resamples img to the size given by targetSize. The downsampling filter applies when
// the pixel count shrinks, the upsampling filter otherwise.
//
// Returns the resized image along with the width and height scale factors.
func resizeImage(img image.Image, longerSide, shorterSide int,
		downsamplingFilter, upsamplingFilter imaging.ResampleFilter) (
		resized image.Image, scaleWidth, scaleHeight float64, err error) {

	size := img.Bounds().Size()
	if size.X == 0 || size.Y == 0 {
		return nil, 0, 0, fmt.Errorf("cannot resize an empty image")
	}

	width, height := targetSize(size.X, size.Y, longerSide, shorterSide)
	if width <= 0 || height <= 0 {
		return nil, 0, 0, fmt.Errorf("cannot resize %dx%d to %dx%d", size.X, size.Y, width, height)
	}

	filter := upsamplingFilter
	if width*height < size.X*size.Y {
		filter = downsamplingFilter
	}
	resized = imaging.Resize(img, width, height, filter)

	return resized, float64(width) / float64(size.X), float64(height) / float64(size.Y), nil
}

// openImage opens the image file at path, reporting a missing file as ErrMissingFile.
func openImage(path string) (*os.File, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: image %s", ErrMissingFile, path)
	}
	return f, err
}

// decodeImageConfig returns the dimensions and the format name of the image at path, reading the
// file header only.
func decodeImageConfig(path string) (image.Config, string, error) {
	f, err := openImage(path)
	if err != nil {
		return image.Config{}, "", err
	}
	defer f.Close()

	config, format, err := image.DecodeConfig(f)
	if err != nil {
		return image.Config{}, "", fmt.Errorf("cannot decode %s: %w", path, err)
	}
	return config, format, nil
}

// loadImage decodes the JPEG, PNG or PPM image at path.
func loadImage(path string) (image.Image, string, error) {
	f, err := openImage(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, "", fmt.Errorf("cannot decode %s: %w", path, err)
	}
	return img, format, nil
}

// saveImage encodes img as PNG or JPEG, depending on the file extension of path. The quality only
// applies to JPEG.
func saveImage(path string, img image.Image, jpegQuality int) error {
	if err := imaging.Save(img, path, imaging.JPEGQuality(jpegQuality)); err != nil {
		return fmt.Errorf("cannot save %s: %w", path, err)
	}
	return nil
}
