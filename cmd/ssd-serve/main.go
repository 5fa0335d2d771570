// Command ssd-serve exposes SSD decoding and, when model.path is set,
// detection over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/go-ssd/config"
	"github.com/nvr-ai/go-ssd/inference"
	"github.com/nvr-ai/go-ssd/logger"
	"github.com/nvr-ai/go-ssd/postprocess"
	"github.com/nvr-ai/go-ssd/server"
)

func main() {
	var (
		configPath  string
		printConfig bool
	)
	flag.StringVar(&configPath, "config", "", "Path to YAML config file")
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = serve(ctx, cfg, log)
	stop()
	if err != nil {
		log.Error("server stopped", zap.Error(err))
	}
	_ = log.Sync()
	if err != nil {
		os.Exit(1)
	}
}

// serve runs until ctx is done. Deferred cleanup runs before it returns.
func serve(ctx context.Context, cfg *config.AppConfig, log *zap.Logger) error {
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	decoder, err := postprocess.New(cfg.Decoder.Postprocess(),
		postprocess.WithWorkers(cfg.Decoder.Workers),
		postprocess.WithLogger(log),
	)
	if err != nil {
		return errors.Wrap(err, "invalid decoder config")
	}

	var detector *inference.Detector
	if cfg.Model.Path != "" {
		var session *inference.Session
		detector, session, err = inference.Open(cfg.Model, decoder, log)
		if err != nil {
			return errors.Wrap(err, "load model")
		}
		defer session.Close()
	} else {
		log.Warn("model.path not set, /api/detect is disabled")
	}

	return server.New(decoder, detector, cfg.Server, log).Run(ctx)
}
