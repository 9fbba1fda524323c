package tsdconv

// YOLO (Ultralytics) label format specific functionality.
//
// Dataset layout:
//
//	<root>/train/images/  <root>/train/labels/
//	<root>/val/images/    <root>/val/labels/
//
// One label file per image, named after the image with a .txt extension, with one
// "class_id x_center y_center width height" line per object. The box values are normalised to the
// image size.

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// The default dataset partitions.
const (
	TrainPartition = "train"
	ValPartition   = "val"
)

// LabelDir returns the label directory of a partition under root.
func LabelDir(root, partition string) string {
	return filepath.Join(root, partition, "labels")
}

// ImageDir returns the image directory of a partition under root.
func ImageDir(root, partition string) string {
	return filepath.Join(root, partition, "images")
}

// YOLOAnnotation is a single annotation within a YOLO label file.
type YOLOAnnotation struct {
	ClassID int
	X       float64 // Box center, normalised.
	Y       float64
	Width   float64 // Normalised.
	Height  float64
}

// String formats a as a label file line, including the trailing newline.
func (a YOLOAnnotation) String() string {
	return formatYOLOLine(strconv.Itoa(a.ClassID), a.X, a.Y, a.Width, a.Height)
}

// YOLOAnnotatedFile defines the YOLO annotation structure for a single file.
type YOLOAnnotatedFile struct {
	Annotations []YOLOAnnotation
	FilePath    string
}

func formatYOLOLine(classID string, x, y, w, h float64) string {
	return fmt.Sprintf("%s %.6f %.6f %.6f %.6f\n", classID, x, y, w, h)
}

// yoloClassID resolves a label to a numeric class id, either via classes or by parsing the label.
func yoloClassID(label string, classes map[string]int) (int, error) {
	if id, ok := classes[label]; ok {
		return id, nil
	}
	id, err := strconv.Atoi(label)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("%w: %q", ErrUnknownClass, label)
	}
	return id, nil
}

// ToYOLO converts the intermediate representation to YOLO format. Labels are mapped to class ids
// with classes, if they are listed there, or parsed as integers otherwise.
//
// Boxes with a negative width or height are converted as they are, but logged.
func ToYOLO(data []AnnotatedFile, classes map[string]int) ([]YOLOAnnotatedFile, error) {
	yoloData := make([]YOLOAnnotatedFile, 0, len(data))
	numInverted := 0

	for i := range data {
		fileData := &data[i]
		width, height, err := fileData.imageSize()
		if err != nil {
			return nil, fmt.Errorf("failed to get the size of %q: %w", fileData.FilePath, err)
		}

		yoloFileData := YOLOAnnotatedFile{
			Annotations: make([]YOLOAnnotation, len(fileData.Annotations)),
			FilePath:    fileData.FilePath,
		}
		for j, a := range fileData.Annotations {
			id, err := yoloClassID(a.Label, classes)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", fileData.FilePath, err)
			}
			if a.Inverted() {
				numInverted++
				log.Warnf("Inverted bounding box %v for class %q in %s", a.Coords, a.Label,
					fileData.FilePath)
			}

			x, y, w, h := PixelCornersToCenter(a.Coords[0], a.Coords[1], a.Coords[2], a.Coords[3],
				width, height)
			yoloFileData.Annotations[j] = YOLOAnnotation{ClassID: id, X: x, Y: y, Width: w, Height: h}
		}
		yoloData = append(yoloData, yoloFileData)
	}

	if numInverted > 0 {
		log.Warnf("%d bounding boxes have a negative width or height", numInverted)
	}

	return yoloData, nil
}

// WriteYOLOLabels appends the annotations of data to label files in dirPath, one file per image.
// Each line is appended with a separate open and close of the label file, so existing label files
// are extended rather than replaced.
func WriteYOLOLabels(dirPath string, data []YOLOAnnotatedFile) error {
	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return err
	}

	for _, fileData := range data {
		_, baseNoExt, _, err := splitPath(fileData.FilePath)
		if err != nil {
			return err
		}
		path := filepath.Join(dirPath, baseNoExt+".txt")

		for _, a := range fileData.Annotations {
			if err := appendLine(path, a.String()); err != nil {
				return fmt.Errorf("cannot write label file %q: %v", path, err)
			}
		}
	}

	return nil
}

// WriteYOLO converts the partitioned data (see AnnotatedFiles.Partition) and writes it into the
// YOLO dataset layout under root. The train and val label directories are always created.
//
// Returns the number of files written per partition.
func WriteYOLO(root string, parts map[string]AnnotatedFiles, classes map[string]int) (
		map[string]int, error) {

	for _, p := range []string{TrainPartition, ValPartition} {
		if err := os.MkdirAll(LabelDir(root, p), 0755); err != nil {
			return nil, err
		}
	}

	counts := make(map[string]int, len(parts))
	for name, files := range parts {
		yoloData, err := ToYOLO(files, classes)
		if err != nil {
			return nil, err
		}
		if err := WriteYOLOLabels(LabelDir(root, name), yoloData); err != nil {
			return nil, err
		}
		counts[name] = len(files)
	}

	return counts, nil
}

// ParseYOLOLine parses a single "class_id x y w h" line.
func ParseYOLOLine(line string) (YOLOAnnotation, error) {
	tokens := strings.Fields(line)
	if len(tokens) != 5 {
		return YOLOAnnotation{}, fmt.Errorf("%w: expected 5 fields in %q", ErrMalformedRecord, line)
	}

	var a YOLOAnnotation
	var err error
	if a.ClassID, err = strconv.Atoi(tokens[0]); err != nil {
		return a, fmt.Errorf("%w: class id in %q", ErrMalformedRecord, line)
	}
	values := []*float64{&a.X, &a.Y, &a.Width, &a.Height}
	for i, v := range values {
		if *v, err = strconv.ParseFloat(tokens[i+1], 64); err != nil {
			return a, fmt.Errorf("%w: %q: %v", ErrMalformedRecord, line, err)
		}
	}

	return a, nil
}

// FromYOLO reads YOLO label files from labelDir and matches them to the images in imageDir,
// whose sizes are used to restore the pixel coordinates.
func FromYOLO(labelDir, imageDir string) ([]AnnotatedFile, error) {
	return parseLabelsWithOneToOneImages(labelDir, ".txt", imageDir, false, parseYOLOFile)
}

func parseYOLOFile(labelPath, imagePath string) (AnnotatedFile, error) {
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
		a, err := ParseYOLOLine(line)
		if err != nil {
			return AnnotatedFile{}, err
		}
		left, bottom, right, top := CenterToPixelCorners(a.X, a.Y, a.Width, a.Height, width, height)
		fileData.Annotations = append(fileData.Annotations, Annotation{
			Coords: [4]float64{left, bottom, right, top},
			Label:  strconv.Itoa(a.ClassID),
		})
	}

	return fileData, nil
}
