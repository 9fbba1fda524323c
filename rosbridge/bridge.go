package rosbridge

import (
	"context"
	"fmt"
)

// Message types used by the bridge.
const (
	ImageType  = "sensor_msgs/Image"
	StringType = "std_msgs/String"
)

// PubSub is the part of Client used by Bridge.
type PubSub interface {
	Subscribe(topic, msgType string) (*Subscription, error)
	Unsubscribe(sub *Subscription) error
	Advertise(topic, msgType string) error
	Publish(topic string, msg interface{}) error
}

// StringMessage is std_msgs/String.
type StringMessage struct {
	Data string `json:"data"`
}

// DetectionResult is the payload published for every frame, encoded as JSON in a StringMessage.
type DetectionResult struct {
	Header  Header      `json:"header"`
	Objects []Detection `json:"objects"`
}

// Bridge runs a detector on every frame of an image topic and publishes the detections.
type Bridge struct {
	ImageTopic     string
	DetectionTopic string

	bus      PubSub
	detector Detector
	metrics  *Metrics
}

// NewBridge creates a bridge between the topics. metrics may be nil.
func NewBridge(bus PubSub, detector Detector, imageTopic, detectionTopic string,
		metrics *Metrics) *Bridge {

	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Bridge{
		ImageTopic:     imageTopic,
		DetectionTopic: detectionTopic,
		bus:            bus,
		detector:       detector,
		metrics:        metrics,
	}
}

// Run subscribes to the image topic and processes frames until ctx is cancelled or the
// subscription ends. Failures on single frames are logged and counted, not returned.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.bus.Advertise(b.DetectionTopic, StringType); err != nil {
		return fmt.Errorf("failed to advertise %s: %w", b.DetectionTopic, err)
	}
	sub, err := b.bus.Subscribe(b.ImageTopic, ImageType)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.ImageTopic, err)
	}
	log.Infof("Detecting objects in %s, publishing to %s", b.ImageTopic, b.DetectionTopic)

	defer func() {
		if err := b.bus.Unsubscribe(sub); err != nil {
			log.Warnf("Failed to unsubscribe from %s: %v", b.ImageTopic, err)
		}
		if n := sub.Dropped(); n > 0 {
			log.Infof("Dropped %d frames while busy", n)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-sub.C:
			if !ok {
				return fmt.Errorf("subscription to %s ended", b.ImageTopic)
			}
			b.metrics.FramesReceived.Inc()
			if stage, err := b.handleFrame(ctx, raw); err != nil {
				b.metrics.Errors.WithLabelValues(stage).Inc()
				log.Warnf("Frame dropped at %s: %v", stage, err)
			}
		}
	}
}

// handleFrame processes a single sensor_msgs/Image message. On failure it returns the name of the
// failed stage.
func (b *Bridge) handleFrame(ctx context.Context, raw []byte) (string, error) {
	var msg ImageMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return "decode", err
	}
	img, err := msg.Image()
	if err != nil {
		return "decode", err
	}

	detections, err := b.detector.Detect(ctx, img)
	if err != nil {
		return "detect", err
	}
	if detections == nil {
		detections = []Detection{}
	}

	payload, err := json.Marshal(DetectionResult{Header: msg.Header, Objects: detections})
	if err != nil {
		return "publish", err
	}
	if err := b.bus.Publish(b.DetectionTopic, StringMessage{Data: string(payload)}); err != nil {
		return "publish", err
	}
	b.metrics.DetectionsPublished.Inc()

	log.Debugf("Published %d detections for frame %s/%d.%09d", len(detections),
		msg.Header.FrameID, msg.Header.Stamp.Sec, msg.Header.Stamp.Nanosec)
	return "", nil
}
