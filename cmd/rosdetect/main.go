// Subscribes to a ROS image topic through rosbridge, runs an object detector on every frame and
// publishes the detections as JSON on a std_msgs/String topic.
//
// Flags default to the environment variables ROSBRIDGE_URL, IMAGE_TOPIC, DETECTION_TOPIC and
// METRICS_ADDR, which may also be set in a .env file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sensorable/tsdconv/internal/logging"
	"github.com/sensorable/tsdconv/rosbridge"
)

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func main() {
	// A missing .env file is fine, the flags and the environment suffice.
	envErr := godotenv.Load()

	url := flag.String("url", getenv("ROSBRIDGE_URL", "ws://192.168.56.128:9090"),
		"The rosbridge websocket `url`")
	imageTopic := flag.String("image-topic", getenv("IMAGE_TOPIC", "/image"),
		"The sensor_msgs/Image `topic` to subscribe to")
	detectionTopic := flag.String("detection-topic", getenv("DETECTION_TOPIC", "/detections"),
		"The std_msgs/String `topic` to publish detections on")
	metricsAddr := flag.String("metrics-addr", getenv("METRICS_ADDR", ""),
		"Serve Prometheus metrics on this `address` (e.g. :9100); disabled if empty")
	inputSize := flag.Int("input-size", 0,
		"Letterbox frames to this square `size` before detection; zero passes frames unchanged")
	var logOpts logging.Options
	flag.StringVar(&logOpts.Level, "log-level", getenv("LOG_LEVEL", "info"), "The log `level`")
	flag.StringVar(&logOpts.File, "log-file", "", "Also log to the rotated log `file`")
	flag.Parse()

	log, err := logging.New(logOpts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(1)
	}
	rosbridge.SetLogger(log)
	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		log.Warnf("Failed to load .env: %v", envErr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := rosbridge.Dial(ctx, *url, rosbridge.Options{})
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	metrics := rosbridge.NewMetrics()
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		server := &http.Server{Addr: *metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("Metrics server failed: %v", err)
			}
		}()
		defer server.Close()
	}

	var detector rosbridge.Detector = rosbridge.StubDetector{}
	if *inputSize > 0 {
		detector = rosbridge.LetterboxDetector{Detector: detector, Width: *inputSize,
			Height: *inputSize}
	}

	bridge := rosbridge.NewBridge(client, detector, *imageTopic, *detectionTopic, metrics)
	if err := bridge.Run(ctx); err != nil {
		log.Errorf("Bridge stopped: %v", err)
		return
	}
	log.Info("Interrupted, shutting down")
}
