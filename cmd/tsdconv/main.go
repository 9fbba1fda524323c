// Converts traffic sign detection datasets (GTSDB, Prescan) and generic KITTI and YOLO labels into
// YOLO, KITTI and TFRecord training datasets.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/sensorable/tsdconv"
	"github.com/sensorable/tsdconv/internal/logging"
)

var log = logrus.StandardLogger()

var (
	convertFrom format // The source format.
	convertTo   format // The target format.

	imageDirPath           string   // The input directory with the labeled images.
	imageOutDirPath        string   // The output directory for images after processing.
	labelFileOrDirPath     string   // The input label directory or file, depending on the format.
	labelOutFileOrDirPaths []string // The output label dir or file path(s), depending on the format.
	labelOutSplits         []int    // The cumulative split percentages for the output datasets.
	referenceImage         string   // The GTSDB image that defines the dataset image size.
	prescanClasses         map[int]int
	trainRange             int  // Image ids below go into the train partition (YOLO output).
	copyImages             bool // Write images into the YOLO dataset.
	tfRecordLabelMapPath   string
	numShardFiles          int

	labelMappings   string  // A comma-separated string of label mappings.
	bboxScaleWidth  float64 // A scale factor for the bounding box width.
	bboxScaleHeight float64 // A scale factor for the bounding box height.
	bboxAspectRatio float64 // The desired output aspect ratio for bounding boxes.

	filterOpts   tsdconv.FilterOptions
	filterLabels string // A comma-separated string of labels to keep (empty keeps all).

	imageOpts tsdconv.ImageOptions

	printStats bool
	logOpts    logging.Options
)

type format int

// The known label formats.
const (
	Unknown format = iota // If an unknown format is specified.
	GTSDB
	Kitti
	Prescan
	TFRecord
	YOLO
)

func formatFrom(s string) format {
	switch s {
	case "gtsdb":
		return GTSDB
	case "kitti":
		return Kitti
	case "prescan":
		return Prescan
	case "tfrecord":
		return TFRecord
	case "yolo":
		return YOLO
	}
	return Unknown
}

func init() {
	flag.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "Usage of %s:\n", filepath.Base(os.Args[0]))
		_, _ = fmt.Fprintln(os.Stderr, "  gtsdb input options:\t\t-labels <gt.txt> -images <dir>"+
				" [-reference-image]")
		_, _ = fmt.Fprintln(os.Stderr, "  prescan input options:\t-labels <dir> -images <dir>"+
				" [-prescan-classes]")
		_, _ = fmt.Fprintln(os.Stderr, "  kitti input options:\t\t-labels <dir> -images <dir>")
		_, _ = fmt.Fprintln(os.Stderr, "  yolo input options:\t\t-labels <dir> -images <dir>")
		_, _ = fmt.Fprintln(os.Stderr, "  yolo output options:\t\t-labels-out <dataset dir>"+
				" [-train-range | -split train,val] [-copy-images]")
		_, _ = fmt.Fprintln(os.Stderr, "  kitti output options:\t\t-labels-out <dir>")
		_, _ = fmt.Fprintln(os.Stderr, "  tfrecord output options:\t-labels-out <file>"+
				" -tfrecord-label-map-file [-num-shards]")
		_, _ = fmt.Fprintln(os.Stderr)
		flag.PrintDefaults()
	}

	printUsageAndExit := func(msg ...interface{}) {
		log.Error(msg...)
		flag.Usage()
		os.Exit(1)
	}

	// Format arguments.
	from := flag.String("from", "", "The source `format` {gtsdb, prescan, kitti, yolo}")
	to := flag.String("to", "yolo", "The target `format` {yolo, kitti, tfrecord}")

	// Path arguments.
	flag.StringVar(&imageDirPath, "images", imageDirPath,
		"The `path` to the image input directory")
	flag.StringVar(&imageOutDirPath, "images-out", imageOutDirPath,
		"The `path` to the image output directory (kitti and tfrecord output, only required when"+
				" image processing functionality is used)")
	flag.StringVar(&labelFileOrDirPath, "labels", labelFileOrDirPath,
		"The `path` to the label input file (gtsdb) or directory (prescan, kitti, yolo)")
	outPaths := flag.String("labels-out", "",
		"The comma-separated paths (`path[,...]`) to the label output directories (kitti), files"+
				" (tfrecord), or the dataset root (yolo); one path per value in flag -split, except"+
				" for yolo")
	outSplits := flag.String("split", "100",
		"The comma-separated output split percentages (`percent[,...]`); must add up to 100%."+
				" For yolo output at most two values, for the train and val partitions")
	flag.StringVar(&referenceImage, "reference-image", tsdconv.GTSDBReferenceImage,
		"The GTSDB image `file` in -images whose size applies to all images")
	classes := flag.String("prescan-classes", tsdconv.FormatIDMap(tsdconv.DefaultPrescanClasses),
		"Comma-separated list of prescan_object_id=class_id `mappings`")
	flag.IntVar(&trainRange, "train-range", 0,
		"Image `id`s below this value go into the train partition, all others into val (yolo"+
				" output; defaults to 600 for gtsdb input, zero uses -split instead)")
	flag.BoolVar(&copyImages, "copy-images", copyImages,
		"Write the (processed) images into the images directories of the yolo dataset")
	flag.StringVar(&tfRecordLabelMapPath, "tfrecord-label-map-file", tfRecordLabelMapPath,
		"The TFRecord label map file `path`")
	flag.IntVar(&numShardFiles, "num-shards", 1,
		"The number of shard files to create (tfrecord only)")

	// Conversion and transformation arguments.
	flag.StringVar(&labelMappings, "map-labels", labelMappings,
		"Comma-separated list of old=new label (sub-)string replacements")
	flag.Float64Var(&bboxScaleWidth, "bbox-scale-x", 1,
		"A scale factor for the width of all bounding boxes")
	flag.Float64Var(&bboxScaleHeight, "bbox-scale-y", 1,
		"A scale factor for the height of all bounding boxes")
	flag.Float64Var(&bboxAspectRatio, "bbox-aspect-ratio", 0,
		"The output aspect `ratio` for object bounding boxes; bounding boxes are grown (not shrunk)"+
				" to match this ratio when it is > 0")

	// Filter arguments.
	flag.StringVar(&filterLabels, "filter-labels", filterLabels,
		"Comma-separated list of labels to keep (after map-labels; empty string keeps all)")
	flag.Float64Var(&filterOpts.MinConfidence, "min-confidence", 0,
		"The minimum confidence value to keep a label; range [0.0, 1.0)")
	flag.BoolVar(&filterOpts.RequireLabel, "require-label", false,
		"Require at least one label (after filters) to keep the file")
	flag.BoolVar(&filterOpts.DropInverted, "drop-inverted", false,
		"Drop bounding boxes with a negative width or height instead of converting them")
	flag.Float64Var(&filterOpts.MinBboxWidth, "min-bbox-width", 0,
		"The min. required width in `pixels` for object bounding boxes (before resizing)")
	flag.Float64Var(&filterOpts.MinBboxHeight, "min-bbox-height", 0,
		"The min. required height in `pixels` for object bounding boxes (before resizing)")
	flag.Float64Var(&filterOpts.MinAspectRatio, "min-bbox-aspect-ratio", 0,
		"The min. required aspect `ratio` (width/height) for object bounding boxes (zero disables"+
				" the filter)")
	flag.Float64Var(&filterOpts.MaxAspectRatio, "max-bbox-aspect-ratio", 0,
		"The max. required aspect `ratio` (width/height) for object bounding boxes (zero disables"+
				" the filter)")

	// Image processing arguments.
	flag.StringVar(&imageOpts.Encoding, "image-enc", "jpg",
		"The `encoding` for output images {jpg, png}")
	flag.IntVar(&imageOpts.LongerSide, "resize-longer", 0,
		"The target `length` for the longer side of the image (zero to keep aspect ratio)")
	flag.IntVar(&imageOpts.ShorterSide, "resize-shorter", 0,
		"The target `length` for the shorter side of the image (zero to keep aspect ratio)")
	flag.StringVar(&imageOpts.DownsamplingFilter, "downsample-filter", "box",
		"The filter to use when downsampling an image {nearest, box, linear, gaussian, lanczos}")
	flag.StringVar(&imageOpts.UpsamplingFilter, "upsample-filter", "linear",
		"The filter to use when upsampling an image {nearest, box, linear, gaussian, lanczos}")
	flag.IntVar(&imageOpts.JPEGQuality, "jpeg-quality", 90,
		"The quality to use when encoding JPEGs [1, 100]")
	flag.BoolVar(&imageOpts.CropObjects, "crop-objects", false,
		"Crop and output objects from images (image processing flags apply to the individual crops)")

	// Other arguments.
	flag.BoolVar(&printStats, "stats", false, "Print dataset statistics after filtering")
	flag.StringVar(&logOpts.Level, "log-level", "info", "The log `level`")
	flag.StringVar(&logOpts.File, "log-file", "", "Also log to the rotated log `file`")

	// Parse and validate flags.
	flag.Parse()

	if logger, err := logging.New(logOpts); err != nil {
		printUsageAndExit(err)
	} else {
		log = logger
		tsdconv.SetLogger(logger)
	}

	convertFrom = formatFrom(*from)
	convertTo = formatFrom(*to)

	switch convertFrom {
	case GTSDB, Kitti, Prescan, YOLO:
	default:
		printUsageAndExit("Unsupported input format")
	}
	switch convertTo {
	case Kitti, TFRecord, YOLO:
	default:
		printUsageAndExit("Unsupported output format")
	}

	// Validate input arguments.
	if labelFileOrDirPath == "" || imageDirPath == "" {
		printUsageAndExit("Missing label or image input path argument")
	}
	if convertFrom == Prescan {
		var err error
		if prescanClasses, err = tsdconv.ParseIDMap(*classes); err != nil {
			printUsageAndExit("Invalid -prescan-classes: ", err)
		}
	}

	// Validate output split arguments.
	labelOutFileOrDirPaths = strings.Split(*outPaths, ",")
	splits := strings.Split(*outSplits, ",")
	if *outPaths == "" {
		printUsageAndExit("Missing label output path argument")
	}
	if convertTo == YOLO {
		if len(labelOutFileOrDirPaths) != 1 {
			printUsageAndExit("Output format \"yolo\" takes a single dataset root in -labels-out")
		}
		if len(splits) > 2 {
			printUsageAndExit("Output format \"yolo\" supports at most two -split values")
		}
	} else if len(splits) != len(labelOutFileOrDirPaths) {
		printUsageAndExit("The number of output datasets defined by -split and the number of" +
				" paths in -labels-out must match")
	}

	// Parse splits as cumulative int percentages.
	var splitSum int
	for _, v := range splits {
		if i, err := strconv.Atoi(v); err != nil || i < 0 || i > 100 {
			printUsageAndExit("Invalid value in -split: ", v)
		} else {
			splitSum += i
			labelOutSplits = append(labelOutSplits, splitSum)
		}
	}
	if splitSum != 100 {
		printUsageAndExit("The values in -split must add up to 100%")
	}

	if convertTo == YOLO && trainRange == 0 && convertFrom == GTSDB {
		trainRange = tsdconv.GTSDBTrainRange
	}
	if convertTo == TFRecord && tfRecordLabelMapPath == "" {
		printUsageAndExit("Missing -tfrecord-label-map-file argument")
	}

	// Transformation arguments.
	if bboxScaleWidth <= 0 || bboxScaleHeight <= 0 {
		printUsageAndExit("Invalid bounding box scale factor")
	} else if bboxAspectRatio < 0 {
		printUsageAndExit("Invalid value for -bbox-aspect-ratio")
	}

	// Image processing arguments.
	imageProcessing := imageOpts.LongerSide > 0 || imageOpts.ShorterSide > 0 ||
			imageOpts.CropObjects
	if convertTo != YOLO && imageProcessing && imageOutDirPath == "" {
		printUsageAndExit("Missing image output directory path")
	}
	if convertTo == YOLO && imageProcessing && !copyImages {
		printUsageAndExit("Image processing with yolo output requires -copy-images")
	}
	if imageOpts.JPEGQuality < 1 || imageOpts.JPEGQuality > 100 {
		imageOpts.JPEGQuality = 92
		log.Print("Invalid JPEG quality, setting it to ", imageOpts.JPEGQuality)
	}

	// Validate filter arguments.
	if filterOpts.MinConfidence < 0 || filterOpts.MinConfidence >= 1 {
		printUsageAndExit("Invalid -min-confidence, must be in [0.0, 1.0): ",
			filterOpts.MinConfidence)
	}
	if filterLabels != "" {
		filterOpts.Labels = strings.Split(filterLabels, ",")
	}

	// Clean path arguments.
	imageDirPath = filepath.Clean(imageDirPath)
	if imageOutDirPath != "" {
		imageOutDirPath = filepath.Clean(imageOutDirPath)
		if imageDirPath == imageOutDirPath {
			printUsageAndExit("The image input and output paths cannot be identical")
		}
	}

	labelFileOrDirPath = filepath.Clean(labelFileOrDirPath)
	for i, v := range labelOutFileOrDirPaths {
		labelOutFileOrDirPaths[i] = filepath.Clean(v)
		if labelFileOrDirPath == labelOutFileOrDirPaths[i] {
			printUsageAndExit("The label input and output paths cannot be identical")
		}
	}
}

func main() {
	// Parse input.
	var data []tsdconv.AnnotatedFile
	var err error
	switch convertFrom {
	case GTSDB:
		data, err = tsdconv.FromGTSDB(labelFileOrDirPath, imageDirPath, referenceImage)
	case Prescan:
		data, err = tsdconv.FromPrescan(labelFileOrDirPath, imageDirPath, prescanClasses)
	case Kitti:
		data, err = tsdconv.FromKitti(labelFileOrDirPath, imageDirPath)
	case YOLO:
		data, err = tsdconv.FromYOLO(labelFileOrDirPath, imageDirPath)
	default:
		err = fmt.Errorf("unsupported input format")
	}
	if err != nil {
		log.Fatal("Failed to parse the input: ", err)
	}

	af := tsdconv.AnnotatedFiles(data)

	// Map labels.
	if len(labelMappings) > 0 {
		if err := af.MapLabels(strings.Split(labelMappings, ",")); err != nil {
			log.Fatal("Failed to map labels: ", err)
		}
	}

	// Perform transformations.
	if bboxScaleWidth != 1 || bboxScaleHeight != 1 || bboxAspectRatio > 0 {
		af.TransformBboxes(bboxScaleWidth, bboxScaleHeight, bboxAspectRatio)
	}

	// Apply filters.
	af.Filter(filterOpts)

	if printStats {
		if err := tsdconv.ComputeStats(af).Print(os.Stdout); err != nil {
			log.Fatal("Failed to print the statistics: ", err)
		}
	}

	if convertTo == YOLO {
		writeYOLODataset(af)
	} else {
		writeDatasets(af)
	}

	log.Print("Total number of labelled files: ", len(af))
}

// writeYOLODataset partitions the data, optionally processes the images of each partition, and
// writes the label files.
func writeYOLODataset(af tsdconv.AnnotatedFiles) {
	root := labelOutFileOrDirPaths[0]

	var parts map[string]tsdconv.AnnotatedFiles
	var err error
	if trainRange > 0 {
		parts, err = af.Partition(tsdconv.ImageIDPartitioner(trainRange))
	} else {
		var datasets []tsdconv.AnnotatedFiles
		datasets, err = af.Split(labelOutSplits)
		parts = make(map[string]tsdconv.AnnotatedFiles, len(datasets))
		for i, name := range []string{tsdconv.TrainPartition, tsdconv.ValPartition} {
			if i < len(datasets) {
				parts[name] = datasets[i]
			}
		}
	}
	if err != nil {
		log.Fatal("Failed to partition the dataset: ", err)
	}

	if copyImages {
		names := make([]string, 0, len(parts))
		for name := range parts {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			part := parts[name]
			opts := imageOpts
			opts.OutDir = tsdconv.ImageDir(root, name)
			if err := os.MkdirAll(opts.OutDir, 0755); err != nil {
				log.Fatal("Failed to create the image directory: ", err)
			}
			if err := part.ProcessImages(opts); err != nil {
				log.Fatal("Image processing failed: ", err)
			}
			parts[name] = part
		}
	}

	counts, err := tsdconv.WriteYOLO(root, parts, nil)
	if err != nil {
		log.Fatal("Conversion failed: ", err)
	}
	for name, n := range counts {
		log.Printf("Successfully wrote labels for %d files to %s", n, tsdconv.LabelDir(root, name))
	}
}

// writeDatasets processes the images, splits the data and writes the KITTI or TFRecord datasets.
func writeDatasets(af tsdconv.AnnotatedFiles) {
	if imageOutDirPath != "" {
		opts := imageOpts
		opts.OutDir = imageOutDirPath
		if err := os.MkdirAll(opts.OutDir, 0755); err != nil {
			log.Fatal("Failed to create the image directory: ", err)
		}
		if err := af.ProcessImages(opts); err != nil {
			log.Fatal("Image processing failed: ", err)
		}
	}

	var labelMap *tsdconv.TFLabelMap
	if convertTo == TFRecord {
		labelMap = tsdconv.NewTFLabelMap(af)
	}

	datasets := []tsdconv.AnnotatedFiles{af}
	if len(labelOutSplits) > 1 {
		var err error
		if datasets, err = af.Split(labelOutSplits); err != nil {
			log.Fatal("Failed to split the dataset: ", err)
		}
	}

	for i, data := range datasets {
		outPath := labelOutFileOrDirPaths[i]
		var err error
		switch convertTo {
		case Kitti:
			err = tsdconv.WriteKitti(outPath, tsdconv.ToKitti(data))
		case TFRecord:
			err = tsdconv.WriteTFRecord(outPath, tfRecordLabelMapPath, data, labelMap,
				numShardFiles)
		default:
			err = fmt.Errorf("unsupported output format")
		}
		if err != nil {
			log.Fatal("Conversion failed: ", err)
		}

		log.Printf("Successfully wrote labels for %d files to %s", len(data), outPath)
	}
}
