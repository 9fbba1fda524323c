package tsdconv

// TFRecord object detection specific functionality.

import (
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"

	"github.com/golang/protobuf/proto"
	"github.com/ryszard/tfutils/go/example"
	"github.com/ryszard/tfutils/go/tfrecord"
	"github.com/ryszard/tfutils/proto/tensorflow/core/example" // package tensorflow
)

// TFFeatureMap maps feature names to their values. Values must be convertible to
// tensorflow.Feature.
type TFFeatureMap map[string]interface{}

// TFLabelMap assigns the TensorFlow class ids, which start at 1, to labels.
//
// Numeric labels (the traffic sign class ids) keep their value shifted by one, so that class 0
// becomes id 1. Other labels get ids above all numeric ones, in sorted order. Build the map over
// the whole dataset before splitting it, so that all splits share the same ids.
type TFLabelMap struct {
	ids    map[string]int32
	nextID int32
}

// NewTFLabelMap creates a label map for the labels found in data.
func NewTFLabelMap(data []AnnotatedFile) *TFLabelMap {
	m := &TFLabelMap{ids: make(map[string]int32), nextID: 1}

	var named []string
	for _, f := range data {
		for _, a := range f.Annotations {
			if _, ok := m.ids[a.Label]; ok {
				continue
			}
			n, err := strconv.Atoi(a.Label)
			if err != nil || n < 0 {
				m.ids[a.Label] = 0 // Assigned below.
				named = append(named, a.Label)
				continue
			}
			m.ids[a.Label] = int32(n) + 1
			if int32(n)+2 > m.nextID {
				m.nextID = int32(n) + 2
			}
		}
	}

	sort.Strings(named)
	for _, l := range named {
		m.ids[l] = m.nextID
		m.nextID++
	}
	return m
}

// ID returns the id for label, assigning a new one if necessary.
func (m *TFLabelMap) ID(label string) int32 {
	id, ok := m.ids[label]
	if !ok {
		id = m.nextID
		m.ids[label] = id
		m.nextID++
	}
	return id
}

// WriteTo writes the label map in the prototxt format of the object detection API.
func (m *TFLabelMap) WriteTo(w io.Writer) (int64, error) {
	labels := make([]string, 0, len(m.ids))
	for k := range m.ids {
		labels = append(labels, k)
	}
	sort.Slice(labels, func(i, j int) bool { return m.ids[labels[i]] < m.ids[labels[j]] })

	var total int64
	for _, l := range labels {
		n, err := fmt.Fprintf(w, "item {\n  name: %q\n  id: %d\n}\n", l, m.ids[l])
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// toTFFeatures converts the intermediate representation for a single file to TFRecord features.
func toTFFeatures(fileData *AnnotatedFile, labelMap *TFLabelMap) (TFFeatureMap, error) {
	config, format, err := decodeImageConfig(fileData.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to decode the image metadata: %w", err)
	}
	if format != "jpeg" && format != "png" {
		log.Warnf("%s is encoded as %s, which TensorFlow cannot decode", fileData.FilePath, format)
	}

	imgData, err := os.ReadFile(fileData.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read the image: %v", err)
	}

	numLabels := len(fileData.Annotations)
	xmins := make([]float32, numLabels)
	ymins := make([]float32, numLabels)
	xmaxs := make([]float32, numLabels)
	ymaxs := make([]float32, numLabels)
	classes := make([]string, numLabels)
	classIDs := make([]int64, numLabels)
	width, height := float64(config.Width), float64(config.Height)
	for i, a := range fileData.Annotations {
		xmins[i] = float32(a.Coords[0] / width)
		ymins[i] = float32(a.Coords[1] / height)
		xmaxs[i] = float32(a.Coords[2] / width)
		ymaxs[i] = float32(a.Coords[3] / height)
		classes[i] = a.Label
		classIDs[i] = int64(labelMap.ID(a.Label))
	}

	return TFFeatureMap{
		"image/height":             config.Height,
		"image/width":              config.Width,
		"image/filename":           fileData.FilePath,
		"image/source_id":          fileData.FilePath,
		"image/encoded":            imgData,
		"image/format":             format,
		"image/object/bbox/xmin":   xmins,
		"image/object/bbox/ymin":   ymins,
		"image/object/bbox/xmax":   xmaxs,
		"image/object/bbox/ymax":   ymaxs,
		"image/object/class/text":  classes,
		"image/object/class/label": classIDs,
	}, nil
}

// WriteTFRecord does a streaming conversion, serialisation and file write for the annotation data
// to one or more TFRecord files stored under recordFilePath (with "-xxxxx-of-xxxxx" suffixes
// added when numShards > 1). The label map is written to labelMapPath.
//
// When writing several splits of one dataset, pass the same labelMap, created from the whole
// dataset, to every call. A nil labelMap is created from data.
//
// Files that cannot be converted are logged and skipped.
func WriteTFRecord(recordFilePath, labelMapPath string, data []AnnotatedFile, labelMap *TFLabelMap,
		numShards int) (err error) {
	defer func() {
		if e := recover(); e != nil {
			err = fmt.Errorf("conversion to TensorFlow Example failed: %v", e)
		}
	}()

	if numShards <= 0 {
		numShards = 1
	}
	if labelMap == nil {
		labelMap = NewTFLabelMap(data)
	}

	var shardFile *os.File
	defer func() {
		if shardFile != nil {
			closeWithErrCheck(shardFile, &err)
		}
	}()

	shardSize := int(math.Ceil(float64(len(data)) / float64(numShards)))
	shardIdx := -1
	for i := range data {
		if i%shardSize == 0 {
			shardIdx++
			if shardFile != nil {
				if err := shardFile.Close(); err != nil {
					return err
				}
				shardFile = nil
			}

			shardPath := recordFilePath
			if numShards > 1 {
				shardPath += fmt.Sprintf("-%05d-of-%05d", shardIdx, numShards)
			}
			if shardFile, err = os.Create(shardPath); err != nil {
				return fmt.Errorf("failed to create shard at %q: %v", shardPath, err)
			}
		}

		features, err := toTFFeatures(&data[i], labelMap)
		if err != nil {
			log.Printf("Failed to convert %q: %v", data[i].FilePath, err)
			continue
		}
		if err := writeTFRecordExample(shardFile, example.New(features)); err != nil {
			return fmt.Errorf("failed to write example: %v", err)
		}
	}

	return saveTFLabelMap(labelMapPath, labelMap)
}

// writeTFRecordExample serialises the example and writes it as a TFRecord to w.
func writeTFRecordExample(w io.Writer, e *tensorflow.Example) error {
	enc, err := proto.Marshal(e)
	if err != nil {
		return err
	}

	return tfrecord.Write(w, enc)
}

func saveTFLabelMap(path string, labelMap *TFLabelMap) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create the label map file %q: %v", path, err)
	}
	defer closeWithErrCheck(file, &err)

	if _, err := labelMap.WriteTo(file); err != nil {
		return fmt.Errorf("failed to write the label map %q: %v", path, err)
	}
	return nil
}
