package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/RafhaelMaglunob/pistream-cloud/pkg/detector"
	"github.com/RafhaelMaglunob/pistream-cloud/pkg/logger"
	"github.com/RafhaelMaglunob/pistream-cloud/pkg/pipeline"
	"github.com/RafhaelMaglunob/pistream-cloud/pkg/vision"
)

func main() {
	var (
		url       string
		imagePath string
		label     string
		minConf   float64
		output    string
		all       bool
	)
	flag.StringVar(&url, "url", "http://localhost:9000/detect", "Detection endpoint")
	flag.StringVar(&imagePath, "image", "", "JPEG file to analyse")
	flag.StringVar(&label, "label", pipeline.CrashLabel, "Label to keep")
	flag.Float64Var(&minConf, "min", pipeline.CrashConfidence, "Minimum confidence")
	flag.StringVar(&output, "output", "", "Write the annotated frame to this file")
	flag.BoolVar(&all, "all", false, "Print every detection, unfiltered")
	flag.Parse()
	logger.Setup(os.Getenv("LOG_LEVEL"))

	if imagePath == "" {
		logger.Fatal("An image is required (-image)")
	}

	data, err := os.ReadFile(imagePath)
	if err != nil {
		logger.Fatal("Failed to read image", "path", imagePath, "error", err)
	}
	img, err := vision.Decode(data)
	if err != nil {
		logger.Fatal("Failed to decode image", "path", imagePath, "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	dets, err := detector.NewClient(url).Detect(ctx, data)
	if err != nil {
		logger.Fatal("Detection failed", "url", url, "error", err)
	}
	if !all {
		dets = vision.Filter(dets, label, minConf, img.Bounds().Dx())
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(dets); err != nil {
		logger.Fatal("Failed to write detections", "error", err)
	}

	if output != "" {
		annotated, err := vision.NewRenderer().Render(img, vision.ModeCenter, nil, dets)
		if err != nil {
			logger.Fatal("Failed to render frame", "error", err)
		}
		if err := os.WriteFile(output, annotated, 0644); err != nil {
			logger.Fatal("Failed to write annotated frame", "error", err)
		}
		slog.Info("Wrote annotated frame", "file", output, "detections", len(dets))
	}
}
