package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	glyphclassifier "github.com/menta2k/glyph-classifier"
	"github.com/menta2k/glyph-classifier/internal/config"
	"github.com/menta2k/glyph-classifier/internal/utils"
	"github.com/menta2k/glyph-classifier/internal/watch"
	"github.com/menta2k/glyph-classifier/pkg/types"
)

type result struct {
	Source     string            `json:"source"`
	Char       string            `json:"char,omitempty"`
	Confidence float32           `json:"confidence,omitempty"`
	Top        []types.Candidate `json:"top,omitempty"`
	Error      string            `json:"error,omitempty"`
}

func main() {
	var in, dir, watchDir, outDir, configPath string
	var backend, model, url, resampler string
	var debugDir, dbgext string
	var screenshot, debug, asJSON, verbose bool
	var top int

	flag.StringVar(&in, "in", "", "input image path or URL (png/jpg/gif/webp)")
	flag.StringVar(&dir, "dir", "", "classify every image under a directory")
	flag.StringVar(&watchDir, "watch", "", "classify images as they appear in a directory")
	flag.StringVar(&outDir, "out", "", "also write each result as <name>.prediction.json into this directory")
	flag.StringVar(&configPath, "config", "", "JSON configuration file (default: "+config.GetConfigPath()+" if present)")

	flag.StringVar(&backend, "backend", "", "classifier backend: onnx, ollama or llamacpp")
	flag.StringVar(&model, "model", "", "ONNX model path, or model name for the LLM backends")
	flag.StringVar(&url, "url", "", "LLM server URL (defaults: ollama="+glyphclassifier.DefaultOllamaURL+", llamacpp="+glyphclassifier.DefaultLlamaCppURL+")")
	flag.StringVar(&resampler, "resampler", "", "downscale filter: imaging, nfnt or xdraw")

	flag.BoolVar(&screenshot, "screenshot", false, "input is a screen capture; crop the drawing area first")
	flag.BoolVar(&debug, "debug", false, "write intermediate images")
	flag.StringVar(&debugDir, "debugdir", "", "directory for debug images")
	flag.StringVar(&dbgext, "dbgext", "", "debug image format: png|jpg|webp")

	flag.IntVar(&top, "top", 3, "number of candidates to print")
	flag.BoolVar(&asJSON, "json", false, "print results as JSON lines")
	flag.BoolVar(&verbose, "v", false, "verbose logging")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	logger := log.With().Str("component", "CLI").Logger()

	if in == "" && dir == "" && watchDir == "" {
		fmt.Fprintf(os.Stderr, "usage: %s -in glyph.png|URL | -dir DIR | -watch DIR [-screenshot] [-backend onnx|ollama|llamacpp] [-model M] [-top k] [-json]\n", filepath.Base(os.Args[0]))
		os.Exit(2)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
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
	if url != "" {
		cfg.Classifier.URL = url
	}
	if resampler != "" {
		cfg.Preprocess.Resampler = resampler
	}
	if debug {
		cfg.Debug.Enabled = true
	}
	if debugDir != "" {
		cfg.Debug.Dir = debugDir
	}
	if dbgext != "" {
		cfg.Debug.Format = dbgext
	}

	for _, d := range []string{dir, watchDir} {
		if d != "" && !utils.DirExists(d) {
			logger.Fatal().Str("dir", d).Msg("directory does not exist")
		}
	}
	if outDir != "" {
		if err := utils.EnsureDir(outDir); err != nil {
			logger.Fatal().Err(err).Str("dir", outDir).Msg("failed to create output directory")
		}
	}

	gc, err := glyphclassifier.NewWithConfig(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize classifier")
	}
	defer gc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	failed := false
	classify := func(source string) {
		res := result{Source: source}
		pred, err := gc.ClassifyFile(ctx, source, screenshot)
		if err != nil {
			failed = true
			res.Error = err.Error()
		} else {
			res.Char, res.Confidence, res.Top = pred.Char, pred.Confidence, pred.Top(top)
		}
		printResult(res, asJSON)
		if outDir != "" {
			if err := writeResult(res, utils.GenerateRelativeOutputFilename(source, dir, outDir, ".prediction", "json")); err != nil {
				logger.Warn().Err(err).Str("source", source).Msg("failed to write result")
			}
		}
	}

	switch {
	case in != "":
		classify(in)
	case dir != "":
		files, err := utils.ListImageFiles(dir)
		if err != nil {
			logger.Fatal().Err(err).Str("dir", dir).Msg("failed to list images")
		}
		logger.Info().Int("files", len(files)).Str("dir", dir).Msg("classifying directory")
		for _, f := range files {
			if ctx.Err() != nil {
				break
			}
			classify(f)
		}
	case watchDir != "":
		if err := watch.New(watchDir, watch.DefaultSettle, classify).Run(ctx); err != nil {
			logger.Fatal().Err(err).Str("dir", watchDir).Msg("watch failed")
		}
	}

	if failed {
		gc.Close()
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		if !utils.FileExists(config.GetConfigPath()) {
			return config.Default(), nil
		}
		path = config.GetConfigPath()
	}
	log.Debug().Str("component", "CLI").Str("path", path).Msg("loading configuration")
	return config.LoadFromFile(path)
}

func writeResult(res result, path string) error {
	if err := utils.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func printResult(res result, asJSON bool) {
	if asJSON {
		data, _ := json.Marshal(res)
		fmt.Println(string(data))
		return
	}
	if res.Error != "" {
		fmt.Printf("%s: error: %s\n", res.Source, res.Error)
		return
	}
	fmt.Printf("%s: %s (%.3f)", res.Source, res.Char, res.Confidence)
	for i, c := range res.Top {
		if i == 0 {
			fmt.Print("  top:")
		}
		fmt.Printf(" %s=%.3f", c.Char, c.Confidence)
	}
	fmt.Println()
}
