// Command ssd-detect runs an SSD model over one image, prints the detections
// and writes a copy of the image with the boxes drawn.
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/color"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/go-ssd/config"
	"github.com/nvr-ai/go-ssd/inference"
	"github.com/nvr-ai/go-ssd/logger"
	"github.com/nvr-ai/go-ssd/postprocess"
)

func main() {
	var (
		configPath  string
		imagePath   string
		outputDir   string
		relative    bool
		printConfig bool
	)
	flag.StringVar(&configPath, "config", "", "Path to YAML config file")
	flag.StringVar(&imagePath, "image", "", "Path to image file (.jpg, .jpeg, .png, .bmp)")
	flag.StringVar(&outputDir, "output-dir", ".", "Output directory for the annotated image")
	flag.BoolVar(&relative, "relative", true, "Without normalize_coords, treat boxes as relative to the image instead of model input pixels")
	flag.BoolVar(&printConfig, "print-config", false, "Print the effective config as YAML and exit")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if printConfig {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Print(string(out))
		return
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	err = run(cfg, imagePath, outputDir, relative, log)
	if err != nil {
		log.Error("detection failed", zap.Error(err))
	}
	_ = log.Sync()
	if err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.AppConfig, imagePath, outputDir string, relative bool, log *zap.Logger) error {
	if imagePath == "" {
		return fmt.Errorf("-image is required")
	}
	if cfg.Model.Path == "" {
		return fmt.Errorf("model.path is not configured")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	decoder, err := postprocess.New(cfg.Decoder.Postprocess(),
		postprocess.WithWorkers(cfg.Decoder.Workers),
		postprocess.WithLogger(log),
	)
	if err != nil {
		return err
	}
	detector, session, err := inference.Open(cfg.Model, decoder, log)
	if err != nil {
		return err
	}
	defer session.Close()

	img := gocv.IMRead(imagePath, gocv.IMReadColor)
	if img.Empty() {
		return fmt.Errorf("error reading image: %s", imagePath)
	}
	defer img.Close()

	rgb, err := img.ToImage()
	if err != nil {
		return fmt.Errorf("convert image: %w", err)
	}

	dets, err := detector.Detect(ctx, rgb)
	if err != nil {
		return err
	}

	sx, sy := imageScale(cfg, img.Cols(), img.Rows(), relative)
	labels := detector.Labels()
	log.Info("detections",
		zap.String("image", imagePath),
		zap.Int("width", img.Cols()),
		zap.Int("height", img.Rows()),
		zap.Int("count", len(dets)),
	)
	for i, d := range dets {
		box := d.Box.Scale(sx, sy)
		rect := image.Rect(int(box.X1), int(box.Y1), int(box.X2), int(box.Y2))
		label := fmt.Sprintf("%s %.2f", inference.Label(labels, d.Class), d.Score)

		fmt.Printf("Object %d: %s at %v\n", i+1, label, rect)
		gocv.Rectangle(&img, rect, color.RGBA{0, 255, 0, 0}, 2)
		gocv.PutText(&img, label, rect.Min, gocv.FontHersheyPlain, 0.8, color.RGBA{0, 255, 0, 0}, 2)
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	outputPath := filepath.Join(outputDir, "detected_"+filepath.Base(imagePath))
	if !gocv.IMWrite(outputPath, img) {
		return fmt.Errorf("failed to save %s", outputPath)
	}
	log.Info("annotated image saved", zap.String("path", outputPath))
	return nil
}

// imageScale maps decoded box coordinates onto a width x height image.
func imageScale(cfg *config.AppConfig, width, height int, relative bool) (float32, float32) {
	switch {
	case cfg.Decoder.NormalizeCoords:
		return float32(width) / float32(cfg.Decoder.ImageWidth), float32(height) / float32(cfg.Decoder.ImageHeight)
	case relative:
		return float32(width), float32(height)
	default:
		return float32(width) / float32(cfg.Model.InputWidth), float32(height) / float32(cfg.Model.InputHeight)
	}
}
