package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	glyphclassifier "github.com/menta2k/glyph-classifier"
	"github.com/menta2k/glyph-classifier/internal/config"
	"github.com/menta2k/glyph-classifier/internal/server"
)

func main() {
	var configPath, addr, backend, model string
	var debug bool

	flag.StringVar(&configPath, "config", "", "JSON configuration file")
	flag.StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	flag.StringVar(&backend, "backend", "", "classifier backend: onnx, ollama or llamacpp")
	flag.StringVar(&model, "model", "", "ONNX model path, or model name for the LLM backends")
	flag.BoolVar(&debug, "debug", false, "debug logging and gin debug mode")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	gin.SetMode(gin.ReleaseMode)
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		gin.SetMode(gin.DebugMode)
	}

	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.LoadFromFile(configPath); err != nil {
			log.Fatal().Err(err).Msg("failed to load configuration")
		}
	}
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Addr = ":" + port
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if backend != "" {
		cfg.Classifier.Backend = backend
	}
	if model != "" {
		if cfg.Classifier.Backend == "onnx" {
			cfg.Classifier.ModelPath = model
		} else {
			cfg.Classifier.Model = model
		}
	}

	gc, err := glyphclassifier.NewWithConfig(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize classifier")
	}
	defer gc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(gc.Recognizer(), gc.Backend(), server.Limits{
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		MaxPixels:      cfg.Server.MaxPixels,
	})
	if err := srv.Run(ctx, cfg.Server.Addr); err != nil {
		log.Error().Err(err).Msg("server stopped")
	}
}
