package tsdconv

// German Traffic Sign Detection Benchmark (GTSDB) specific functionality.

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// GTSDBReferenceImage is the image whose dimensions are used for the whole dataset. All GTSDB
// images share the same size.
const GTSDBReferenceImage = "00000.ppm"

// GTSDBTrainRange is the default image id threshold between the train and val partitions.
const GTSDBTrainRange = 600

// GTSDBAnnotation is a single line of the GTSDB ground truth file.
//
// The vertical coordinates follow the naming of the conversion scripts the dataset is commonly
// used with: Bottom is the smaller and Top the larger pixel row, counted from the top edge.
type GTSDBAnnotation struct {
	FileName string
	Left     int
	Bottom   int
	Right    int
	Top      int
	ClassID  string
}

// ParseGTSDBLine parses a "filename;left;bottom;right;top;class_id" record.
func ParseGTSDBLine(line string) (GTSDBAnnotation, error) {
	tokens := strings.Split(strings.TrimSpace(line), ";")
	if len(tokens) != 6 {
		return GTSDBAnnotation{}, fmt.Errorf("%w: expected 6 fields in %q", ErrMalformedRecord, line)
	}

	var coords [4]int
	for i := range coords {
		v, err := strconv.Atoi(strings.TrimSpace(tokens[i+1]))
		if err != nil {
			return GTSDBAnnotation{}, fmt.Errorf("%w: %q: %v", ErrMalformedRecord, line, err)
		}
		coords[i] = v
	}

	a := GTSDBAnnotation{
		FileName: strings.TrimSpace(tokens[0]),
		Left:     coords[0],
		Bottom:   coords[1],
		Right:    coords[2],
		Top:      coords[3],
		ClassID:  strings.TrimSpace(tokens[5]),
	}
	if a.FileName == "" || a.ClassID == "" {
		return GTSDBAnnotation{}, fmt.Errorf("%w: empty file name or class in %q",
			ErrMalformedRecord, line)
	}

	return a, nil
}

// Annotation converts a to the intermediate representation.
func (a GTSDBAnnotation) Annotation() Annotation {
	return Annotation{
		Coords: [4]float64{float64(a.Left), float64(a.Bottom), float64(a.Right), float64(a.Top)},
		Label:  a.ClassID,
	}
}

// YOLOLine formats a in the normalised center format for an image of the given size.
func (a GTSDBAnnotation) YOLOLine(imgWidth, imgHeight int) string {
	x, y, w, h := PixelCornersToCenter(float64(a.Left), float64(a.Bottom), float64(a.Right),
		float64(a.Top), imgWidth, imgHeight)
	return formatYOLOLine(a.ClassID, x, y, w, h)
}

// FromGTSDB reads the GTSDB ground truth file at gtPath. The images are expected in imageDir.
//
// The image dimensions are read once from referenceImage (relative to imageDir, default
// GTSDBReferenceImage) and applied to all files. Annotations of the same image are grouped into
// one AnnotatedFile, in order of first appearance. Any malformed line aborts the conversion.
func FromGTSDB(gtPath, imageDir, referenceImage string) ([]AnnotatedFile, error) {
	if referenceImage == "" {
		referenceImage = GTSDBReferenceImage
	}
	config, _, err := decodeImageConfig(filepath.Join(imageDir, referenceImage))
	if err != nil {
		return nil, fmt.Errorf("failed to read the reference image size: %w", err)
	}

	lines, err := readLines(gtPath)
	if err != nil {
		return nil, err
	}
	log.Printf("Parsing %d GTSDB records, image size %dx%d", len(lines), config.Width,
		config.Height)

	data := make([]AnnotatedFile, 0, len(lines))
	index := make(map[string]int)
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		a, err := ParseGTSDBLine(line)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", gtPath, i+1, err)
		}

		idx, ok := index[a.FileName]
		if !ok {
			idx = len(data)
			index[a.FileName] = idx
			data = append(data, AnnotatedFile{
				FilePath:    filepath.Join(imageDir, a.FileName),
				ImageWidth:  config.Width,
				ImageHeight: config.Height,
			})
		}
		data[idx].Annotations = append(data[idx].Annotations, a.Annotation())
	}

	return data, nil
}

// ImageIDPartitioner partitions files by the numeric id in their file name (e.g. 00123.ppm): ids
// below threshold go to "train", all others to "val".
func ImageIDPartitioner(threshold int) Partitioner {
	return func(f AnnotatedFile) (string, error) {
		_, stem, _, err := splitPath(f.FilePath)
		if err != nil {
			return "", err
		}
		id, err := strconv.Atoi(stem)
		if err != nil {
			return "", fmt.Errorf("%w: no numeric image id in %q", ErrMalformedRecord, f.FilePath)
		}
		if id < threshold {
			return TrainPartition, nil
		}
		return ValPartition, nil
	}
}
