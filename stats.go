package tsdconv

import (
	"fmt"
	"io"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Stats summarises a dataset.
type Stats struct {
	Files       int
	Annotations int
	Inverted    int            // Boxes with a negative width or height.
	PerLabel    map[string]int // Annotation count per label.

	// Box sizes as fractions of the image size.
	MeanWidth  float64
	StdWidth   float64
	MeanHeight float64
	StdHeight  float64
}

// ComputeStats computes the dataset statistics. Image sizes are read from the image files where
// they are not known yet; files whose size cannot be determined only contribute to the counts.
func ComputeStats(data []AnnotatedFile) Stats {
	s := Stats{Files: len(data), PerLabel: make(map[string]int)}

	var widths, heights []float64
	for i := range data {
		f := &data[i]
		s.Annotations += len(f.Annotations)

		imgWidth, imgHeight, err := f.imageSize()
		if err != nil {
			log.Debugf("No image size for %s: %v", f.FilePath, err)
		}
		for _, a := range f.Annotations {
			s.PerLabel[a.Label]++
			if a.Inverted() {
				s.Inverted++
			}
			if err == nil {
				widths = append(widths, a.Width()/float64(imgWidth))
				heights = append(heights, a.Height()/float64(imgHeight))
			}
		}
	}

	if len(widths) > 0 {
		s.MeanWidth, s.StdWidth = stat.MeanStdDev(widths, nil)
		s.MeanHeight, s.StdHeight = stat.MeanStdDev(heights, nil)
	}

	return s
}

// Print writes a human readable summary to w.
func (s Stats) Print(w io.Writer) error {
	_, err := fmt.Fprintf(w, "files: %d, annotations: %d, inverted boxes: %d\n"+
		"box width: %.4f ± %.4f, box height: %.4f ± %.4f\n",
		s.Files, s.Annotations, s.Inverted, s.MeanWidth, s.StdWidth, s.MeanHeight, s.StdHeight)
	if err != nil {
		return err
	}

	labels := make([]string, 0, len(s.PerLabel))
	for l := range s.PerLabel {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	for _, l := range labels {
		if _, err := fmt.Fprintf(w, "  %s: %d\n", l, s.PerLabel[l]); err != nil {
			return err
		}
	}
	return nil
}
