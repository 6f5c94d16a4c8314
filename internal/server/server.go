// Package server exposes the recognizer over HTTP.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/ksuid"

	"github.com/menta2k/glyph-classifier/internal/metrics"
	"github.com/menta2k/glyph-classifier/pkg/processing"
	"github.com/menta2k/glyph-classifier/pkg/raster"
	"github.com/menta2k/glyph-classifier/pkg/recognition"
	"github.com/menta2k/glyph-classifier/pkg/types"
)

const (
	requestIDHeader = "X-Request-Id"
	defaultTop      = 3
	maxTop          = 62
)

// PredictRequest carries an already processed feature vector
type PredictRequest struct {
	Features []float32 `json:"features" binding:"required"`
}

// PredictResponse is returned by both prediction endpoints
type PredictResponse struct {
	RequestID  string            `json:"request_id"`
	Char       string            `json:"char"`
	Index      int               `json:"index"`
	Confidence float32           `json:"confidence"`
	Top        []types.Candidate `json:"top,omitempty"`
}

// Limits bounds what an upload may cost. MaxUploadBytes caps the request
// body, MaxPixels the decoded image.
type Limits struct {
	MaxUploadBytes int64
	MaxPixels      int
}

// Server routes HTTP requests to a recognizer
type Server struct {
	recognizer *recognition.Recognizer
	backend    string
	limits     Limits
	engine     *gin.Engine
}

// New builds the router. Zero limits fall back to 10 MiB and processing.DefaultMaxPixels.
func New(recognizer *recognition.Recognizer, backend string, limits Limits) *Server {
	metrics.Register()

	if limits.MaxUploadBytes <= 0 {
		limits.MaxUploadBytes = 10 << 20
	}
	if limits.MaxPixels <= 0 {
		limits.MaxPixels = processing.DefaultMaxPixels
	}
	s := &Server{
		recognizer: recognizer,
		backend:    backend,
		limits:     limits,
		engine:     gin.New(),
	}
	s.engine.Use(gin.Recovery(), requestID(), accessLog())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.health)
	s.engine.POST("/predict", s.predict)
	s.engine.POST("/predict/image", s.predictImage)
	s.engine.GET("/metrics", gin.WrapH(metrics.Handler()))
}

// Handler returns the instrumented router
func (s *Server) Handler() http.Handler {
	return metrics.Instrument("api", s.engine)
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("component", "HTTP").Str("addr", addr).Str("backend", s.backend).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info().Str("component", "HTTP").Msg("shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "healthy",
		"backend":      s.backend,
		"feature_len":  s.recognizer.Processor().FeatureLen(),
		"preprocessor": s.recognizer.Processor().Config().Resampler,
	})
}

func (s *Server) predict(c *gin.Context) {
	var req PredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON: " + err.Error()})
		return
	}

	prediction, err := s.recognizer.RecognizeFeatures(c.Request.Context(), req.Features)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.response(c, prediction))
}

func (s *Server) predictImage(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.limits.MaxUploadBytes)

	file, header, err := c.Request.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload exceeds " + strconv.FormatInt(s.limits.MaxUploadBytes, 10) + " bytes"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "no image file provided, use 'image' as the form field name"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read upload"})
		return
	}
	img, err := processing.DecodeImageLimited(data, s.limits.MaxPixels)
	if err != nil {
		if errors.Is(err, processing.ErrImageTooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported image format, use png, jpg, gif or webp"})
		return
	}

	log.Debug().Str("component", "HTTP").Str("request", c.GetString("request_id")).
		Str("file", header.Filename).Int64("size", header.Size).
		Int("width", img.Bounds().Dx()).Int("height", img.Bounds().Dy()).Msg("image received")

	canvas := raster.FromImage(img)
	screenshot, _ := strconv.ParseBool(c.Query("screenshot"))

	var prediction *types.Prediction
	if screenshot {
		prediction, err = s.recognizer.RecognizeScreenshot(c.Request.Context(), canvas)
	} else {
		prediction, err = s.recognizer.Recognize(c.Request.Context(), canvas)
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.response(c, prediction))
}

func (s *Server) response(c *gin.Context, p *types.Prediction) PredictResponse {
	top := defaultTop
	if v, err := strconv.Atoi(c.Query("top")); err == nil && v >= 0 {
		top = v
	}
	if top > maxTop {
		top = maxTop
	}
	return PredictResponse{
		RequestID:  c.GetString("request_id"),
		Char:       p.Char,
		Index:      p.Index,
		Confidence: p.Confidence,
		Top:        p.Top(top),
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, recognition.ErrUnexpectedOutput):
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("component", "HTTP").Str("request", c.GetString("request_id")).Msg("prediction failed")
	}
	c.JSON(status, gin.H{"error": err.Error(), "request_id": c.GetString("request_id")})
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = ksuid.New().String()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().Str("component", "HTTP").
			Str("request", c.GetString("request_id")).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}
