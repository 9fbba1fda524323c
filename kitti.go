package tsdconv

// KITTI specific functionality.

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// KITTIAnnotation is a single annotation within a KITTI file.
type KITTIAnnotation struct {
	Coords [4]float64 // x1, y1, x2, y2
	Label  string
	Score  float64 // Optional, linear confidence value. No fixed range.
}

// KITTIAnnotatedFile defines the KITTI annotation structure for a single file.
type KITTIAnnotatedFile struct {
	Annotations []KITTIAnnotation
	FilePath    string
}

// FromKitti reads and parses KITTI annotations from labelDir and matches them to the images in
// imageDir. Unparseable lines and files are logged and skipped.
func FromKitti(labelDir, imageDir string) ([]AnnotatedFile, error) {
	return parseLabelsWithOneToOneImages(labelDir, ".txt", imageDir, false, parseKittiFile)
}

func parseKittiFile(labelPath, imagePath string) (AnnotatedFile, error) {
	lines, err := readLines(labelPath)
	if err != nil {
		return AnnotatedFile{}, err
	}

	fileData := AnnotatedFile{
		Annotations: make([]Annotation, 0, len(lines)),
		FilePath:    imagePath,
	}
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		a, err := parseKittiAnnotation(line)
		if err != nil {
			log.Printf("Skipping a line in %q: %v", labelPath, err)
			continue
		}

		annotation := Annotation{Coords: a.Coords, Label: a.Label}
		if a.Score != 0 {
			annotation.Attributes = map[string]interface{}{Confidence: a.Score}
		}
		fileData.Annotations = append(fileData.Annotations, annotation)
	}

	return fileData, nil
}

// parseKittiAnnotation parses the line of values for a single annotation.
func parseKittiAnnotation(line string) (KITTIAnnotation, error) {
	a := KITTIAnnotation{}

	tokens := strings.Fields(line)
	if len(tokens) < 8 {
		return a, fmt.Errorf("%w: insufficient tokens in %q", ErrMalformedRecord, line)
	}

	a.Label = tokens[0]
	var err error
	for i := 4; i < 8 && err == nil; i++ {
		a.Coords[i-4], err = strconv.ParseFloat(tokens[i], 64)
	}
	if err != nil {
		return a, fmt.Errorf("%w: unexpected values in %q: %v", ErrMalformedRecord, line, err)
	}

	// The optional confidence score.
	if len(tokens) >= 16 {
		if a.Score, err = strconv.ParseFloat(tokens[15], 64); err != nil {
			return a, fmt.Errorf("%w: unexpected score format in %q: %v", ErrMalformedRecord, line,
				err)
		}
	}

	return a, nil
}

// ToKitti converts the intermediate representation to KITTI format.
func ToKitti(data []AnnotatedFile) []KITTIAnnotatedFile {
	kittiData := make([]KITTIAnnotatedFile, 0, len(data))
	for _, fileData := range data {
		kittiFileData := KITTIAnnotatedFile{
			Annotations: make([]KITTIAnnotation, len(fileData.Annotations)),
			FilePath:    fileData.FilePath,
		}
		for i, a := range fileData.Annotations {
			kittiLabel := KITTIAnnotation{Coords: a.Coords, Label: a.Label}
			if score, ok := a.Attributes[Confidence].(float64); ok {
				kittiLabel.Score = score
			}
			kittiFileData.Annotations[i] = kittiLabel
		}
		kittiData = append(kittiData, kittiFileData)
	}

	return kittiData
}

// WriteKitti writes data to dirPath, one file per element, creating the directory if needed.
// Existing label files are replaced.
func WriteKitti(dirPath string, data []KITTIAnnotatedFile) error {
	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return fmt.Errorf("cannot create directory %q: %v", dirPath, err)
	}

	for _, fileData := range data {
		// Use the image file name with .txt extension as label file name.
		_, baseNoExt, _, err := splitPath(fileData.FilePath)
		if err != nil {
			return err
		}
		if err := writeKittiFile(filepath.Join(dirPath, baseNoExt+".txt"), fileData); err != nil {
			return err
		}
	}

	return nil
}

func writeKittiFile(path string, fileData KITTIAnnotatedFile) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer closeWithErrCheck(file, &err)

	for _, a := range fileData.Annotations {
		_, err = fmt.Fprintf(file,
			"%s 0.0 0 0.0 %.2f %.2f %.2f %.2f 0.0 0.0 0.0 0.0 0.0 0.0 0.0 %f\n",
			a.Label, a.Coords[0], a.Coords[1], a.Coords[2], a.Coords[3], a.Score)
		if err != nil {
			return err
		}
	}

	return nil
}
