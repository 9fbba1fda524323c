package tsdconv

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"
)

func TestParsePrescanLine(t *testing.T) {
	tests := []struct {
		line     string
		expected PrescanAnnotation
	}{
		{"95 -0.5 0.5 -0.5 0.5", PrescanAnnotation{95, -0.5, 0.5, -0.5, 0.5}},
		{"101,-0.1,0.2,0.3,0.4", PrescanAnnotation{101, -0.1, 0.2, 0.3, 0.4}},
		{"96.0\t0 1 -1 0", PrescanAnnotation{96, 0, 1, -1, 0}},
	}
	for _, tc := range tests {
		a, err := ParsePrescanLine(tc.line)
		if err != nil || a != tc.expected {
			t.Errorf("ParsePrescanLine(%q) = %+v, %v, expected %+v", tc.line, a, err, tc.expected)
		}
	}

	for _, line := range []string{"", "95 0 0 0", "95 0 0 0 0 0", "95 a 0 0 0", "95.7 0 0 0 0"} {
		if _, err := ParsePrescanLine(line); !errors.Is(err, ErrMalformedRecord) {
			t.Errorf("ParsePrescanLine(%q): expected ErrMalformedRecord, got %v", line, err)
		}
	}
}

func TestPrescanYOLOLine(t *testing.T) {
	tests := []struct {
		a             PrescanAnnotation
		width, height int
		expected      string
	}{
		// A centered box spanning half the image, symmetric so the flip has no effect.
		{PrescanAnnotation{95, -0.5, 0.5, -0.5, 0.5}, 1000, 1000,
			"0 0.500000 0.500000 0.500000 0.500000\n"},
		// The upper left quarter: the Prescan origin is at the bottom.
		{PrescanAnnotation{107, -1, 0, 0, 1}, 1000, 500,
			"11 0.250000 0.250000 0.500000 0.500000\n"},
		// The lower right quarter.
		{PrescanAnnotation{98, 0, 1, -1, 0}, 1360, 800,
			"2 0.750000 0.750000 0.500000 0.500000\n"},
	}

	for _, tc := range tests {
		got, err := tc.a.YOLOLine(tc.width, tc.height, DefaultPrescanClasses)
		if err != nil {
			t.Fatal(err)
		}
		if got != tc.expected {
			t.Errorf("%+v in %dx%d: got %q, expected %q", tc.a, tc.width, tc.height, got,
				tc.expected)
		}
	}
}

func TestPrescanPixelCornersFlip(t *testing.T) {
	a := PrescanAnnotation{ObjectID: 95, Left: -1, Right: -0.5, Bottom: 0.5, Top: 1}

	left, bottom, right, top := a.PixelCorners(800, 600)
	if !near(left, 0) || !near(right, 200) {
		t.Errorf("horizontal edges (%v, %v), expected (0, 200)", left, right)
	}
	// Prescan rows 450 to 600 from the bottom are rows 0 to 150 from the top.
	if !near(bottom, 0) || !near(top, 150) {
		t.Errorf("vertical edges (%v, %v), expected (0, 150)", bottom, top)
	}
}

func TestPrescanUnknownClass(t *testing.T) {
	a := PrescanAnnotation{ObjectID: 97, Left: -0.5, Right: 0.5, Bottom: -0.5, Top: 0.5}

	if _, err := a.YOLOLine(1000, 1000, DefaultPrescanClasses); !errors.Is(err, ErrUnknownClass) {
		t.Errorf("expected ErrUnknownClass, got %v", err)
	}
	if _, err := a.YOLOLine(1000, 1000, map[int]int{97: 3}); err != nil {
		t.Errorf("custom class lookup: %v", err)
	}
}

func TestFromPrescan(t *testing.T) {
	labels, images := t.TempDir(), t.TempDir()
	writePNG(t, images, "frame_0001.png", 100, 50)
	writePNG(t, images, "frame_0002.png", 100, 50)
	writeLines(t, labels, "frame_0001.txt", "95 -0.5 0.5 -0.5 0.5", "", "107 -1 0 0 1")
	writeLines(t, labels, "frame_0002.txt", "96 0 1 -1 0")
	writeLines(t, labels, "frame_0003.txt", "96 0 1 -1 0") // No image.

	data, err := FromPrescan(labels, images, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 2 {
		t.Fatalf("expected 2 files, got %d", len(data))
	}

	f := data[0]
	if f.FilePath != filepath.Join(images, "frame_0001.png") || f.ImageWidth != 100 ||
			f.ImageHeight != 50 {
		t.Errorf("unexpected file data %+v", f)
	}
	expected := []Annotation{
		{Coords: [4]float64{25, 12.5, 75, 37.5}, Label: "0"},
		{Coords: [4]float64{0, 0, 50, 25}, Label: "11"},
	}
	if !reflect.DeepEqual(f.Annotations, expected) {
		t.Errorf("got annotations %+v, expected %+v", f.Annotations, expected)
	}

	yoloData, err := ToYOLO(data, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := yoloData[1].Annotations[0].String(); got != "1 0.750000 0.750000 0.500000 0.500000\n" {
		t.Errorf("unexpected YOLO line %q", got)
	}
}

func TestFromPrescanUnknownObject(t *testing.T) {
	labels, images := t.TempDir(), t.TempDir()
	writePNG(t, images, "a.png", 10, 10)
	writeLines(t, labels, "a.txt", "95 -0.5 0.5 -0.5 0.5", "42 -0.5 0.5 -0.5 0.5")

	if _, err := FromPrescan(labels, images, nil); !errors.Is(err, ErrUnknownClass) {
		t.Errorf("expected ErrUnknownClass, got %v", err)
	}
}

func TestParseIDMap(t *testing.T) {
	m, err := ParseIDMap("95=0, 96=1,,107=11")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(m, map[int]int{95: 0, 96: 1, 107: 11}) {
		t.Errorf("unexpected map %v", m)
	}
	if got := FormatIDMap(m); got != "95=0,96=1,107=11" {
		t.Errorf("FormatIDMap = %q", got)
	}

	for _, s := range []string{"95", "95=a", "x=1", "1=2=3"} {
		if _, err := ParseIDMap(s); err == nil {
			t.Errorf("ParseIDMap(%q): expected an error", s)
		}
	}
}
