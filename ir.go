package tsdconv

// The intermediate annotation metadata representation.

import (
	"fmt"
	"image"
	"math"
	"math/rand"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
)

// Keys for known annotation attributes.
const (
	Confidence = "Confidence" // Type float64 in [0.0, 1.0].
	CropCoords = "CropCoords" // Absolute coords (x1,y1)(x2,y2) in the source image. Type string.
)

// Annotation is the intermediate representation of an object label.
//
// For the traffic sign datasets the label is the numeric class id of the sign.
type Annotation struct {
	Attributes map[string]interface{} // Additional attributes of this annotation.
	Coords     [4]float64             // Absolute x1, y1, x2, y2 offsets from the top-left corner.
	Label      string
}

// Width is the object width from a.Coords.
func (a Annotation) Width() float64 {
	return a.Coords[2] - a.Coords[0]
}

// Height is the object height from a.Coords.
func (a Annotation) Height() float64 {
	return a.Coords[3] - a.Coords[1]
}

// Inverted reports whether the box has a negative width or height.
func (a Annotation) Inverted() bool {
	return a.Width() < 0 || a.Height() < 0
}

// AnnotatedFile is the intermediate representation of file metadata.
type AnnotatedFile struct {
	Annotations []Annotation // The annotations.
	FilePath    string       // The annotated image.
	ImageWidth  int          // The image width in pixels, zero if not known yet.
	ImageHeight int          // The image height in pixels, zero if not known yet.
}

// imageSize returns the image dimensions, decoding the image header if they are not known yet.
func (f *AnnotatedFile) imageSize() (width, height int, err error) {
	if f.ImageWidth > 0 && f.ImageHeight > 0 {
		return f.ImageWidth, f.ImageHeight, nil
	}

	config, _, err := decodeImageConfig(f.FilePath)
	if err != nil {
		return 0, 0, err
	}
	f.ImageWidth, f.ImageHeight = config.Width, config.Height

	return f.ImageWidth, f.ImageHeight, nil
}

// scaleCoords scales all Annotations.Coords by the given scale factors.
func (f *AnnotatedFile) scaleCoords(width, height float64) {
	for i := range f.Annotations {
		c := &f.Annotations[i].Coords
		c[0] *= width
		c[1] *= height
		c[2] *= width
		c[3] *= height
	}
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// cropObjectsFromImage returns a crop of img for each annotation with a bounding box that is at
// least partially contained in img, along with one AnnotatedFile per crop. The crop file paths
// carry a "_xx" suffix before the extension, where xx is the index in f.Annotations.
func (f *AnnotatedFile) cropObjectsFromImage(img image.Image) (
		[]image.Image, []AnnotatedFile, error) {

	img2, ok := img.(subImager)
	if !ok {
		return nil, nil,
				fmt.Errorf("the image type of %q does not provide a SubImage method", f.FilePath)
	}

	crops := make([]image.Image, 0, len(f.Annotations))
	files := make([]AnnotatedFile, 0, len(f.Annotations))
	ext := filepath.Ext(f.FilePath)
	stem := strings.TrimSuffix(f.FilePath, ext)

	for i, a := range f.Annotations {
		r := image.Rect(int(math.Round(a.Coords[0])), int(math.Round(a.Coords[1])),
			int(math.Round(a.Coords[2])), int(math.Round(a.Coords[3]))).Intersect(img.Bounds())
		if r.Empty() {
			continue
		}

		attrs := make(map[string]interface{}, 1+len(a.Attributes))
		for k, v := range a.Attributes {
			attrs[k] = v
		}
		attrs[CropCoords] = fmt.Sprintf("(%d,%d)(%d,%d)", r.Min.X, r.Min.Y, r.Max.X, r.Max.Y)

		crops = append(crops, img2.SubImage(r))
		files = append(files, AnnotatedFile{
			Annotations: []Annotation{{
				Attributes: attrs,
				Coords:     [4]float64{0, 0, float64(r.Dx()), float64(r.Dy())},
				Label:      a.Label,
			}},
			FilePath:    fmt.Sprintf("%s_%02d%s", stem, i, ext),
			ImageWidth:  r.Dx(),
			ImageHeight: r.Dy(),
		})
	}

	return crops, files, nil
}

// AnnotatedFiles is the annotation metadata for a list of files.
type AnnotatedFiles []AnnotatedFile

// MapLabels replaces label (sub-)strings with substitution values, as specified in mappings.
//
// The format of mappings is old=new.
func (data *AnnotatedFiles) MapLabels(mappings []string) error {
	if len(mappings) == 0 {
		return nil
	}

	pairs := make([]string, 0, 2*len(mappings))
	for _, m := range mappings {
		a := strings.Split(m, "=")
		if len(a) != 2 {
			return fmt.Errorf("invalid mapping: %v", m)
		}
		pairs = append(pairs, a[0], a[1])
	}

	count := 0
	for _, f := range *data {
		for i := range f.Annotations {
			a := &f.Annotations[i]
			old := a.Label
			// Replacements apply in order, so a later mapping sees the result of an earlier one.
			for j := 0; j < len(pairs); j += 2 {
				a.Label = strings.ReplaceAll(a.Label, pairs[j], pairs[j+1])
			}
			if a.Label != old {
				count++
			}
		}
	}

	log.Printf("The label mappings changed %d labels", count)
	return nil
}

// TransformBboxes transforms bounding boxes.
//
// First bboxes are scaled about their center by scaleX and scaleY. Next, the bounding box is
// grown (never shrunk) to match the desired aspect ratio. An aspectRatio of zero disables this
// transformation.
func (data *AnnotatedFiles) TransformBboxes(scaleX, scaleY, aspectRatio float64) {
	for _, f := range *data {
		for i := range f.Annotations {
			a := &f.Annotations[i]

			if scaleX != 1 || scaleY != 1 {
				dx := (a.Width()*scaleX - a.Width()) * 0.5
				dy := (a.Height()*scaleY - a.Height()) * 0.5
				a.Coords[0] -= dx
				a.Coords[1] -= dy
				a.Coords[2] += dx
				a.Coords[3] += dy
			}

			if aspectRatio <= 0 {
				continue
			}

			w, h := a.Width(), a.Height()
			ratio := math.MaxFloat64
			if h != 0 {
				ratio = w / h
			}
			if ratio < aspectRatio {
				dx := (h*aspectRatio - w) * 0.5
				a.Coords[0] -= dx
				a.Coords[2] += dx
			} else if ratio > aspectRatio {
				dy := (w/aspectRatio - h) * 0.5
				a.Coords[1] -= dy
				a.Coords[3] += dy
			}
		}
	}
}

// FilterOptions selects the annotations kept by Filter. Zero values disable the respective
// filter.
type FilterOptions struct {
	Labels         []string // Labels to keep (after MapLabels); empty keeps all.
	MinConfidence  float64  // Annotations without a confidence value always pass.
	MinBboxWidth   float64  // In pixels.
	MinBboxHeight  float64  // In pixels.
	MinAspectRatio float64  // Width/height.
	MaxAspectRatio float64  // Width/height.
	DropInverted   bool     // Drop boxes with a negative width or height.
	RequireLabel   bool     // Drop files left without annotations.
}

// keep reports whether a passes all annotation filters in o.
func (o FilterOptions) keep(a Annotation) bool {
	if c, ok := a.Attributes[Confidence].(float64); ok && c < o.MinConfidence {
		return false
	}
	if o.DropInverted && a.Inverted() {
		return false
	}

	width, height := a.Width(), a.Height()
	if (o.MinBboxWidth > 0 && width < o.MinBboxWidth) ||
			(o.MinBboxHeight > 0 && height < o.MinBboxHeight) {
		return false
	}
	if o.MinAspectRatio != 0 || o.MaxAspectRatio != 0 {
		if height == 0 {
			return false
		}
		ratio := width / height
		if (o.MinAspectRatio != 0 && ratio < o.MinAspectRatio) ||
				(o.MaxAspectRatio != 0 && ratio > o.MaxAspectRatio) {
			return false
		}
	}

	if len(o.Labels) == 0 {
		return true
	}
	for _, l := range o.Labels {
		if l == a.Label {
			return true
		}
	}
	return false
}

// Filter removes the annotations, and optionally the files, that do not pass the filters in opts.
// The order of the remaining data is preserved.
func (data *AnnotatedFiles) Filter(opts FilterOptions) {
	numFiles := len(*data)
	numLabelsBefore, numLabelsAfter := 0, 0

	files := (*data)[:0]
	for _, f := range *data {
		numLabelsBefore += len(f.Annotations)

		kept := f.Annotations[:0]
		for _, a := range f.Annotations {
			if opts.keep(a) {
				kept = append(kept, a)
			}
		}
		f.Annotations = kept
		numLabelsAfter += len(kept)

		if opts.RequireLabel && len(kept) == 0 {
			continue
		}
		files = append(files, f)
	}
	*data = files

	log.Printf("Filtered out %d labels and %d files",
		numLabelsBefore-numLabelsAfter, numFiles-len(*data))
}

// ImageOptions configures ProcessImages.
type ImageOptions struct {
	OutDir             string // The output directory; image processing is skipped if empty.
	LongerSide         int    // Target length of the longer side, zero keeps the aspect ratio.
	ShorterSide        int    // Target length of the shorter side, zero keeps the aspect ratio.
	DownsamplingFilter string // {nearest, box, linear, gaussian, lanczos}
	UpsamplingFilter   string // {nearest, box, linear, gaussian, lanczos}
	Encoding           string // {jpg, png}
	JPEGQuality        int
	CropObjects        bool // Replace each image by crops of its objects.
}

func resampleFilter(name string) (imaging.ResampleFilter, error) {
	switch name {
	case "nearest":
		return imaging.NearestNeighbor, nil
	case "box":
		return imaging.Box, nil
	case "", "linear":
		return imaging.Linear, nil
	case "gaussian":
		return imaging.Gaussian, nil
	case "lanczos":
		return imaging.Lanczos, nil
	}
	return imaging.ResampleFilter{}, fmt.Errorf("unknown resampling filter %q", name)
}

// imageJob carries the settings shared by all images in one ProcessImages call.
type imageJob struct {
	outDir     string
	fileExt    string
	longer     int
	shorter    int
	downsample imaging.ResampleFilter
	upsample   imaging.ResampleFilter
	quality    int
	crop       bool
	resize     bool
}

// ProcessImages re-encodes all referenced images into opts.OutDir, resizing them if requested.
// This is also how PPM images are converted into a format that training pipelines can read.
//
// If opts.CropObjects is true, individual objects are cropped from the images and the crops are
// processed instead. The data changes accordingly, with 0 or more cropped images replacing each
// original AnnotatedFile.
func (data *AnnotatedFiles) ProcessImages(opts ImageOptions) error {
	if opts.OutDir == "" || len(*data) == 0 {
		return nil
	}
	log.Printf("Processing %d images into %s", len(*data), opts.OutDir)

	job := imageJob{
		outDir:  opts.OutDir,
		longer:  opts.LongerSide,
		shorter: opts.ShorterSide,
		quality: opts.JPEGQuality,
		crop:    opts.CropObjects,
		resize:  opts.LongerSide > 0 || opts.ShorterSide > 0,
	}
	var err error
	if job.downsample, err = resampleFilter(opts.DownsamplingFilter); err != nil {
		return err
	}
	if job.upsample, err = resampleFilter(opts.UpsamplingFilter); err != nil {
		return err
	}
	switch strings.ToLower(opts.Encoding) {
	case "", "jpg", "jpeg":
		job.fileExt = ".jpg"
	case "png":
		job.fileExt = ".png"
	default:
		return fmt.Errorf("unsupported output encoding %q", opts.Encoding)
	}

	// Limit the number of goroutines in flight, as they load potentially large images into memory.
	numTasks := 2 * runtime.NumCPU()
	if len(*data) < numTasks {
		numTasks = len(*data)
	}
	workQueue := make(chan *AnnotatedFile, 2*numTasks)
	errs := make(chan error, 1)

	var mu sync.Mutex
	var cropped AnnotatedFiles

	var wg sync.WaitGroup
	wg.Add(numTasks)
	for i := 0; i < numTasks; i++ {
		go func() {
			defer wg.Done()
			for f := range workQueue {
				crops, err := job.process(f)
				if err != nil {
					select {
					case errs <- fmt.Errorf("%s: %w", f.FilePath, err):
					default:
					}
					continue
				}
				if job.crop {
					mu.Lock()
					cropped = append(cropped, crops...)
					mu.Unlock()
				}
			}
		}()
	}

	for i := range *data {
		workQueue <- &(*data)[i]
	}
	close(workQueue)
	wg.Wait()

	if job.crop {
		*data = cropped
	}

	close(errs)
	return <-errs
}

// process handles a single image. When cropping it returns the metadata of the crops, otherwise
// f is updated in place.
func (job imageJob) process(f *AnnotatedFile) ([]AnnotatedFile, error) {
	img, _, err := loadImage(f.FilePath)
	if err != nil {
		return nil, err
	}

	images := []image.Image{img}
	files := []*AnnotatedFile{f}
	var crops []AnnotatedFile
	if job.crop {
		if images, crops, err = f.cropObjectsFromImage(img); err != nil {
			return nil, err
		}
		files = make([]*AnnotatedFile, len(crops))
		for i := range crops {
			files[i] = &crops[i]
		}
	}

	for i, img := range images {
		out := files[i]

		if job.resize {
			var scaleWidth, scaleHeight float64
			img, scaleWidth, scaleHeight, err =
					resizeImage(img, job.longer, job.shorter, job.downsample, job.upsample)
			if err != nil {
				return nil, err
			}
			out.scaleCoords(scaleWidth, scaleHeight)
		}

		_, stem, _, err := splitPath(out.FilePath)
		if err != nil {
			return nil, err
		}
		outPath := filepath.Join(job.outDir, stem+job.fileExt)
		if err := saveImage(outPath, img, job.quality); err != nil {
			return nil, err
		}

		out.FilePath = outPath
		out.ImageWidth = img.Bounds().Dx()
		out.ImageHeight = img.Bounds().Dy()
	}

	return crops, nil
}

// Split randomly splits the data into multiple datasets.
//
// The cumulativeSplits specify the cumulative distribution according to which the data is split
// into the returned datasets. Its values must add up to 100!
func (data *AnnotatedFiles) Split(cumulativeSplits []int) ([]AnnotatedFiles, error) {
	if len(cumulativeSplits) == 0 || cumulativeSplits[len(cumulativeSplits)-1] != 100 {
		return nil, fmt.Errorf("the split percentages do not add up to 100")
	}

	datasets := make([]AnnotatedFiles, len(cumulativeSplits))
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

outer:
	for _, d := range *data {
		r := rng.Intn(100)
		for i, s := range cumulativeSplits {
			if r < s {
				datasets[i] = append(datasets[i], d)
				continue outer
			}
		}
	}

	return datasets, nil
}

// Partitioner names the dataset partition (e.g. "train" or "val") a file belongs to.
type Partitioner func(f AnnotatedFile) (string, error)

// Partition groups the data by partition name, preserving the order within each partition.
func (data AnnotatedFiles) Partition(partition Partitioner) (map[string]AnnotatedFiles, error) {
	parts := make(map[string]AnnotatedFiles)
	for _, f := range data {
		name, err := partition(f)
		if err != nil {
			return nil, err
		}
		parts[name] = append(parts[name], f)
	}
	return parts, nil
}
