package tsdconv

import (
	"image"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func box(label string, x1, y1, x2, y2 float64) Annotation {
	return Annotation{Coords: [4]float64{x1, y1, x2, y2}, Label: label}
}

func TestMapLabels(t *testing.T) {
	data := AnnotatedFiles{
		{Annotations: []Annotation{box("12", 0, 0, 1, 1), box("13", 0, 0, 1, 1)}},
		{Annotations: []Annotation{box("1", 0, 0, 1, 1)}},
	}

	if err := data.MapLabels([]string{"12=priority", "1=one"}); err != nil {
		t.Fatal(err)
	}
	labels := []string{data[0].Annotations[0].Label, data[0].Annotations[1].Label,
		data[1].Annotations[0].Label}
	// Replacements work on substrings and apply in order.
	if !reflect.DeepEqual(labels, []string{"priority", "one3", "one"}) {
		t.Errorf("unexpected labels %v", labels)
	}

	if err := data.MapLabels([]string{"invalid"}); err == nil {
		t.Error("expected an error for an invalid mapping")
	}
}

func TestTransformBboxes(t *testing.T) {
	tests := []struct {
		scaleX, scaleY, aspectRatio float64
		expected                    [4]float64
	}{
		{2, 1, 0, [4]float64{0, 10, 40, 30}},
		{1, 0.5, 0, [4]float64{10, 15, 30, 25}},
		{1, 1, 2, [4]float64{0, 10, 40, 30}},
		{1, 1, 0.5, [4]float64{10, 0, 30, 40}},
		{1, 1, 1, [4]float64{10, 10, 30, 30}},
	}

	for _, tc := range tests {
		data := AnnotatedFiles{{Annotations: []Annotation{box("1", 10, 10, 30, 30)}}}
		data.TransformBboxes(tc.scaleX, tc.scaleY, tc.aspectRatio)
		if got := data[0].Annotations[0].Coords; got != tc.expected {
			t.Errorf("TransformBboxes(%v, %v, %v) = %v, expected %v", tc.scaleX, tc.scaleY,
				tc.aspectRatio, got, tc.expected)
		}
	}
}

func TestFilter(t *testing.T) {
	newData := func() AnnotatedFiles {
		return AnnotatedFiles{
			{FilePath: "a", Annotations: []Annotation{
				box("1", 0, 0, 10, 10),
				box("2", 0, 0, 40, 10),
				box("1", 10, 10, 0, 0),
			}},
			{FilePath: "b", Annotations: []Annotation{box("3", 0, 0, 2, 2)}},
			{FilePath: "c"},
		}
	}
	count := func(data AnnotatedFiles) (files, labels int) {
		for _, f := range data {
			labels += len(f.Annotations)
		}
		return len(data), labels
	}

	tests := []struct {
		opts          FilterOptions
		files, labels int
	}{
		{FilterOptions{}, 3, 4},
		{FilterOptions{Labels: []string{"1"}}, 3, 2},
		{FilterOptions{Labels: []string{"1"}, RequireLabel: true}, 1, 2},
		{FilterOptions{DropInverted: true}, 3, 3},
		{FilterOptions{MinBboxWidth: 5, MinBboxHeight: 5}, 3, 2},
		{FilterOptions{MinAspectRatio: 2}, 3, 1},
		{FilterOptions{MaxAspectRatio: 1.5, RequireLabel: true}, 2, 3},
	}

	for _, tc := range tests {
		data := newData()
		data.Filter(tc.opts)
		if files, labels := count(data); files != tc.files || labels != tc.labels {
			t.Errorf("Filter(%+v): got %d files and %d labels, expected %d and %d", tc.opts,
				files, labels, tc.files, tc.labels)
		}
	}
}

func TestFilterConfidence(t *testing.T) {
	data := AnnotatedFiles{{Annotations: []Annotation{
		{Attributes: map[string]interface{}{Confidence: 0.3}, Label: "a"},
		{Attributes: map[string]interface{}{Confidence: 0.8}, Label: "b"},
		{Label: "c"},
	}}}

	data.Filter(FilterOptions{MinConfidence: 0.5})
	if len(data[0].Annotations) != 2 || data[0].Annotations[0].Label != "b" ||
			data[0].Annotations[1].Label != "c" {
		t.Errorf("unexpected annotations %+v", data[0].Annotations)
	}
}

func TestSplit(t *testing.T) {
	data := make(AnnotatedFiles, 1000)

	datasets, err := data.Split([]int{80, 100})
	if err != nil {
		t.Fatal(err)
	}
	if len(datasets) != 2 || len(datasets[0])+len(datasets[1]) != 1000 {
		t.Fatalf("unexpected datasets %d", len(datasets))
	}
	if n := len(datasets[0]); n < 700 || n > 900 {
		t.Errorf("expected about 800 files in the first dataset, got %d", n)
	}

	if _, err := data.Split([]int{50, 90}); err == nil {
		t.Error("expected an error for splits not adding up to 100")
	}
}

func TestPartition(t *testing.T) {
	data := AnnotatedFiles{{FilePath: "1.png"}, {FilePath: "2.png"}, {FilePath: "3.png"}}
	byName := func(f AnnotatedFile) (string, error) {
		if f.FilePath == "2.png" {
			return "even", nil
		}
		return "odd", nil
	}

	parts, err := data.Partition(byName)
	if err != nil {
		t.Fatal(err)
	}
	if len(parts["odd"]) != 2 || parts["odd"][1].FilePath != "3.png" || len(parts["even"]) != 1 {
		t.Errorf("unexpected partitions %v", parts)
	}
}

func TestProcessImages(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	data := AnnotatedFiles{
		{FilePath: writePNG(t, in, "a.png", 200, 100), Annotations: []Annotation{box("1", 20, 10, 60, 50)}},
		{FilePath: writePPM(t, in, "b.ppm", 100, 200), Annotations: []Annotation{box("2", 0, 0, 100, 200)}},
	}

	err := data.ProcessImages(ImageOptions{OutDir: out, LongerSide: 100, Encoding: "png"})
	if err != nil {
		t.Fatal(err)
	}

	a := data[0]
	if a.FilePath != filepath.Join(out, "a.png") || a.ImageWidth != 100 || a.ImageHeight != 50 {
		t.Errorf("unexpected file data %+v", a)
	}
	if a.Annotations[0].Coords != [4]float64{10, 5, 30, 25} {
		t.Errorf("coordinates not rescaled: %v", a.Annotations[0].Coords)
	}

	b := data[1]
	if b.FilePath != filepath.Join(out, "b.png") || b.ImageWidth != 50 || b.ImageHeight != 100 {
		t.Errorf("unexpected file data %+v", b)
	}
	config, _, err := decodeImageConfig(b.FilePath)
	if err != nil {
		t.Fatal(err)
	}
	if config.Width != 50 || config.Height != 100 {
		t.Errorf("written image has size %dx%d", config.Width, config.Height)
	}
}

func TestProcessImagesCrop(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	data := AnnotatedFiles{{
		FilePath: writePNG(t, in, "a.png", 200, 100),
		Annotations: []Annotation{
			box("1", 20, 10, 60, 50),
			box("2", 500, 500, 600, 600), // Outside of the image.
			box("3", 150, 50, 250, 150),  // Clipped.
		},
	}}

	if err := data.ProcessImages(ImageOptions{OutDir: out, CropObjects: true}); err != nil {
		t.Fatal(err)
	}
	if len(data) != 2 {
		t.Fatalf("expected 2 crops, got %d", len(data))
	}

	byPath := map[string]AnnotatedFile{}
	for _, f := range data {
		byPath[f.FilePath] = f
	}
	crop, ok := byPath[filepath.Join(out, "a_02.jpg")]
	if !ok {
		t.Fatalf("missing crop, got %v", data)
	}
	if crop.ImageWidth != 50 || crop.ImageHeight != 50 || crop.Annotations[0].Label != "3" ||
			crop.Annotations[0].Attributes[CropCoords] != "(150,50)(200,100)" {
		t.Errorf("unexpected crop %+v", crop)
	}
	if _, err := os.Stat(filepath.Join(out, "a_00.jpg")); err != nil {
		t.Error(err)
	}
}

func TestProcessImagesDisabled(t *testing.T) {
	data := AnnotatedFiles{{FilePath: "missing.png"}}
	if err := data.ProcessImages(ImageOptions{}); err != nil {
		t.Errorf("expected no processing without an output directory, got %v", err)
	}
	if err := data.ProcessImages(ImageOptions{OutDir: t.TempDir()}); err == nil {
		t.Error("expected an error for a missing image")
	}
}

func TestCropObjectsFromImage(t *testing.T) {
	f := AnnotatedFile{FilePath: "x/img.png", Annotations: []Annotation{box("1", 1, 2, 3, 4)}}
	img := image.NewGray(image.Rect(0, 0, 10, 10))

	crops, files, err := f.cropObjectsFromImage(img)
	if err != nil {
		t.Fatal(err)
	}
	if len(crops) != 1 || crops[0].Bounds() != image.Rect(1, 2, 3, 4) {
		t.Errorf("unexpected crops %v", crops)
	}
	if files[0].FilePath != "x/img_00.png" ||
			files[0].Annotations[0].Coords != [4]float64{0, 0, 2, 2} {
		t.Errorf("unexpected crop metadata %+v", files[0])
	}
}
