package tsdconv

// Conversions between corner based pixel boxes and normalised, center based boxes.

// PixelCornersToCenter converts a box given by its pixel corners to the normalised center format
// (x, y, w, h), where all values are fractions of the image width or height.
//
// Following the GTSDB naming, bottom and top are the smaller and larger vertical pixel offsets
// from the top of the image. Inverted boxes are not detected: a right < left or top < bottom
// yields a negative width or height.
func PixelCornersToCenter(left, bottom, right, top float64, imgWidth, imgHeight int) (
		x, y, w, h float64) {

	width := float64(imgWidth)
	height := float64(imgHeight)

	x = (right + left) / 2 / width
	y = (top + bottom) / 2 / height
	w = (right - left) / width
	h = (top - bottom) / height

	return x, y, w, h
}

// CenterToPixelCorners is the inverse of PixelCornersToCenter.
func CenterToPixelCorners(x, y, w, h float64, imgWidth, imgHeight int) (
		left, bottom, right, top float64) {

	width := float64(imgWidth)
	height := float64(imgHeight)

	left = (x - w/2) * width
	right = (x + w/2) * width
	bottom = (y - h/2) * height
	top = (y + h/2) * height

	return left, bottom, right, top
}

// SymmetricToPixel rescales v from the symmetric range [-1, 1] to [0, dim].
func SymmetricToPixel(v float64, dim int) float64 {
	return (v + 1) * (float64(dim) / 2)
}

// FlipVertical moves the vertical box edges between a bottom-left and a top-left origin. The
// operation is its own inverse.
func FlipVertical(bottom, top float64, imgHeight int) (newBottom, newTop float64) {
	height := float64(imgHeight)
	return height - top, height - bottom
}
