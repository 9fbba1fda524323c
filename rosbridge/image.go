package rosbridge

import (
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
)

// Time is builtin_interfaces/Time (ROS 2) or the ROS 1 time primitive.
type Time struct {
	Sec     int64  `json:"sec"`
	Nanosec uint32 `json:"nanosec,omitempty"`
	Nsec    uint32 `json:"nsec,omitempty"`
}

// Header is std_msgs/Header.
type Header struct {
	Seq     uint32 `json:"seq,omitempty"`
	Stamp   Time   `json:"stamp"`
	FrameID string `json:"frame_id"`
}

// Bytes is a uint8[] message field. rosbridge encodes these as base64 strings, but plain number
// arrays are accepted as well.
type Bytes []byte

// UnmarshalJSON implements json.Unmarshaler.
func (b *Bytes) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		dec, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("invalid base64 data: %v", err)
		}
		*b = dec
		return nil
	}

	var values []uint8
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	*b = values
	return nil
}

// MaxImageSide is the largest accepted frame width or height.
const MaxImageSide = 1 << 15

// ImageMessage is sensor_msgs/Image.
type ImageMessage struct {
	Header      Header `json:"header"`
	Height      int    `json:"height"`
	Width       int    `json:"width"`
	Encoding    string `json:"encoding"`
	IsBigEndian uint8  `json:"is_bigendian"`
	Step        int    `json:"step"` // Row length in bytes.
	Data        Bytes  `json:"data"`
}

// channels returns the number of 8 bit channels of the encoding. An empty encoding is treated as
// rgb8.
func channels(encoding string) (int, error) {
	switch encoding {
	case "", "rgb8", "bgr8":
		return 3, nil
	case "rgba8", "bgra8":
		return 4, nil
	case "mono8", "8UC1":
		return 1, nil
	}
	return 0, fmt.Errorf("unsupported image encoding %q", encoding)
}

// Image decodes the pixel data. Bytes beyond the expected height*step are ignored; too little
// data is an error.
func (m *ImageMessage) Image() (image.Image, error) {
	if m.Width <= 0 || m.Height <= 0 {
		return nil, fmt.Errorf("invalid image size %dx%d", m.Width, m.Height)
	}
	ch, err := channels(m.Encoding)
	if err != nil {
		return nil, err
	}

	if m.Width > MaxImageSide || m.Height > MaxImageSide {
		return nil, fmt.Errorf("image size %dx%d exceeds %d pixels per side", m.Width, m.Height,
			MaxImageSide)
	}

	rowBytes := m.Width * ch
	step := m.Step
	if step < rowBytes {
		step = rowBytes
	}
	// The last row needs rowBytes only, all others a full step.
	if len(m.Data) < rowBytes || m.Height-1 > (len(m.Data)-rowBytes)/step {
		return nil, fmt.Errorf("image data too short: got %d bytes for %dx%d %s",
			len(m.Data), m.Width, m.Height, m.Encoding)
	}

	if ch == 1 {
		img := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
		for y := 0; y < m.Height; y++ {
			copy(img.Pix[y*img.Stride:y*img.Stride+m.Width], m.Data[y*step:])
		}
		return img, nil
	}

	img := image.NewRGBA(image.Rect(0, 0, m.Width, m.Height))
	bgr := m.Encoding == "bgr8" || m.Encoding == "bgra8"
	for y := 0; y < m.Height; y++ {
		row := m.Data[y*step:]
		for x := 0; x < m.Width; x++ {
			p := row[x*ch:]
			c := color.RGBA{R: p[0], G: p[1], B: p[2], A: 255}
			if bgr {
				c.R, c.B = c.B, c.R
			}
			if ch == 4 {
				c.A = p[3]
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img, nil
}
