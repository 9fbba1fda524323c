package tsdconv

// Prescan simulator ground truth specific functionality.
//
// Prescan boxes are given as (object_id, left, right, bottom, top) with all coordinates in
// [-1, 1] and the origin at the bottom-left corner of the image.

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// DefaultPrescanClasses maps the Prescan object ids of the traffic sign models to class ids.
var DefaultPrescanClasses = map[int]int{
	95:  0,
	96:  1,
	98:  2,
	99:  3,
	100: 4,
	101: 5,
	102: 6,
	103: 7,
	104: 8,
	105: 9,
	106: 10,
	107: 11,
}

// PrescanAnnotation is a single Prescan ground truth record.
type PrescanAnnotation struct {
	ObjectID int
	Left     float64
	Right    float64
	Bottom   float64
	Top      float64
}

// ParsePrescanLine parses an "object_id left right bottom top" record, with the values separated
// by whitespace or commas.
func ParsePrescanLine(line string) (PrescanAnnotation, error) {
	tokens := strings.FieldsFunc(line, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	if len(tokens) != 5 {
		return PrescanAnnotation{}, fmt.Errorf("%w: expected 5 fields in %q", ErrMalformedRecord,
			line)
	}

	var values [5]float64
	for i, t := range tokens {
		v, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return PrescanAnnotation{}, fmt.Errorf("%w: %q: %v", ErrMalformedRecord, line, err)
		}
		values[i] = v
	}

	if values[0] != math.Trunc(values[0]) {
		return PrescanAnnotation{}, fmt.Errorf("%w: object id %v is not a whole number",
			ErrMalformedRecord, values[0])
	}

	return PrescanAnnotation{
		ObjectID: int(values[0]),
		Left:     values[1],
		Right:    values[2],
		Bottom:   values[3],
		Top:      values[4],
	}, nil
}

// PixelCorners rescales a to pixel coordinates and flips it to a top-left origin. The returned
// bottom and top are the smaller and larger pixel rows.
func (a PrescanAnnotation) PixelCorners(imgWidth, imgHeight int) (left, bottom, right, top float64) {
	left = SymmetricToPixel(a.Left, imgWidth)
	right = SymmetricToPixel(a.Right, imgWidth)
	bottom, top = FlipVertical(SymmetricToPixel(a.Bottom, imgHeight),
		SymmetricToPixel(a.Top, imgHeight), imgHeight)

	return left, bottom, right, top
}

// ClassID looks up the class of a in classes.
func (a PrescanAnnotation) ClassID(classes map[int]int) (int, error) {
	id, ok := classes[a.ObjectID]
	if !ok {
		return 0, fmt.Errorf("%w: prescan object id %d", ErrUnknownClass, a.ObjectID)
	}
	return id, nil
}

// Annotation converts a to the intermediate representation.
func (a PrescanAnnotation) Annotation(imgWidth, imgHeight int, classes map[int]int) (
		Annotation, error) {

	id, err := a.ClassID(classes)
	if err != nil {
		return Annotation{}, err
	}
	left, bottom, right, top := a.PixelCorners(imgWidth, imgHeight)

	return Annotation{
		Coords: [4]float64{left, bottom, right, top},
		Label:  strconv.Itoa(id),
	}, nil
}

// YOLOLine converts a directly into a YOLO label line for an image of the given size.
func (a PrescanAnnotation) YOLOLine(imgWidth, imgHeight int, classes map[int]int) (string, error) {
	id, err := a.ClassID(classes)
	if err != nil {
		return "", err
	}
	left, bottom, right, top := a.PixelCorners(imgWidth, imgHeight)
	x, y, w, h := PixelCornersToCenter(left, bottom, right, top, imgWidth, imgHeight)

	return formatYOLOLine(strconv.Itoa(id), x, y, w, h), nil
}

// FromPrescan reads Prescan ground truth files (<image name>.txt) from labelDir and matches them
// to the images in imageDir. Object ids are mapped to class ids with classes, or
// DefaultPrescanClasses if classes is nil.
//
// An unknown object id or a malformed record aborts the conversion.
func FromPrescan(labelDir, imageDir string, classes map[int]int) ([]AnnotatedFile, error) {
	if classes == nil {
		classes = DefaultPrescanClasses
	}

	parse := func(labelPath, imagePath string) (AnnotatedFile, error) {
		lines, err := readLines(labelPath)
		if err != nil {
			return AnnotatedFile{}, err
		}

		fileData := AnnotatedFile{FilePath: imagePath}
		width, height, err := fileData.imageSize()
		if err != nil {
			return AnnotatedFile{}, err
		}

		fileData.Annotations = make([]Annotation, 0, len(lines))
		for _, line := range lines {
			if strings.TrimSpace(line) == "" {
				continue
			}
			record, err := ParsePrescanLine(line)
			if err != nil {
				return AnnotatedFile{}, err
			}
			a, err := record.Annotation(width, height, classes)
			if err != nil {
				return AnnotatedFile{}, err
			}
			fileData.Annotations = append(fileData.Annotations, a)
		}

		return fileData, nil
	}

	return parseLabelsWithOneToOneImages(labelDir, ".txt", imageDir, true, parse)
}

// ParseIDMap parses a comma-separated list of "from=to" integer pairs, e.g. "95=0,96=1".
func ParseIDMap(s string) (map[int]int, error) {
	m := make(map[int]int)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		a := strings.Split(pair, "=")
		if len(a) != 2 {
			return nil, fmt.Errorf("invalid id mapping: %v", pair)
		}
		from, err1 := strconv.Atoi(strings.TrimSpace(a[0]))
		to, err2 := strconv.Atoi(strings.TrimSpace(a[1]))
		if err1 != nil || err2 != nil {
			return nil, fmt.Errorf("invalid id mapping: %v", pair)
		}
		m[from] = to
	}
	return m, nil
}

// FormatIDMap is the inverse of ParseIDMap, with the pairs sorted by key.
func FormatIDMap(m map[int]int) string {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = fmt.Sprintf("%d=%d", k, m[k])
	}
	return strings.Join(pairs, ",")
}
