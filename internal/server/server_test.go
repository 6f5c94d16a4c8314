package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/menta2k/glyph-classifier/pkg/labels"
	"github.com/menta2k/glyph-classifier/pkg/processing"
	"github.com/menta2k/glyph-classifier/pkg/recognition"
	"github.com/menta2k/glyph-classifier/pkg/types"
)

// centerClassifier votes for 'A' when the center cell is ink and 'z' otherwise
type centerClassifier struct{}

func (centerClassifier) Classify(ctx context.Context, features types.FeatureVector) ([]float32, error) {
	probs := make([]float32, labels.Size)
	if features[14*28+14] > 0.5 {
		probs[idx('A')] = 0.9
		probs[idx('4')] = 0.1
	} else {
		probs[idx('z')] = 1
	}
	return probs, nil
}

func idx(r rune) int {
	i, _ := labels.CharToIndex(r)
	return i
}

func setupTestServer(t *testing.T, maxUpload int64) *Server {
	t.Helper()
	return setupTestServerWithLimits(t, Limits{MaxUploadBytes: maxUpload})
}

func setupTestServerWithLimits(t *testing.T, limits Limits) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rec := recognition.New(processing.NewProcessor(), centerClassifier{}, "stub")
	return New(rec, "stub", limits)
}

func performRequest(h http.Handler, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func blockPNG(t *testing.T, size int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			c := color.NRGBA{255, 255, 255, 255}
			if x >= size*3/8 && x < size*5/8 && y >= size*3/8 && y < size*5/8 {
				c = color.NRGBA{0, 0, 0, 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func multipartBody(t *testing.T, field string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile(field, "glyph.png")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatal(err)
	}
	w.Close()
	return &buf, w.FormDataContentType()
}

func TestHealth(t *testing.T) {
	s := setupTestServer(t, 1<<20)
	resp := performRequest(s.Handler(), http.MethodGet, "/health", nil, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d", resp.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "healthy" || body["feature_len"] != float64(784) {
		t.Errorf("unexpected body %v", body)
	}
	if resp.Header().Get(requestIDHeader) == "" {
		t.Error("missing request id header")
	}
}

func TestPredictFeatures(t *testing.T) {
	s := setupTestServer(t, 1<<20)

	features := make([]float32, 784)
	features[14*28+14] = 1
	payload, _ := json.Marshal(PredictRequest{Features: features})

	resp := performRequest(s.Handler(), http.MethodPost, "/predict?top=2", bytes.NewReader(payload), "application/json")
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", resp.Code, resp.Body.String())
	}
	var out PredictResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.Char != "A" || out.Confidence != 0.9 {
		t.Errorf("unexpected prediction %+v", out)
	}
	if len(out.Top) != 2 || out.Top[1].Char != "4" {
		t.Errorf("unexpected top %+v", out.Top)
	}
	if out.RequestID == "" {
		t.Error("missing request id")
	}
}

func TestPredictFeaturesWrongLength(t *testing.T) {
	s := setupTestServer(t, 1<<20)
	payload, _ := json.Marshal(PredictRequest{Features: make([]float32, 10)})

	resp := performRequest(s.Handler(), http.MethodPost, "/predict", bytes.NewReader(payload), "application/json")
	if resp.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.Code)
	}
}

func TestPredictInvalidJSON(t *testing.T) {
	s := setupTestServer(t, 1<<20)
	resp := performRequest(s.Handler(), http.MethodPost, "/predict", strings.NewReader("{"), "application/json")
	if resp.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.Code)
	}
}

func TestPredictImage(t *testing.T) {
	s := setupTestServer(t, 1<<20)
	body, ct := multipartBody(t, "image", blockPNG(t, 200))

	resp := performRequest(s.Handler(), http.MethodPost, "/predict/image", body, ct)
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", resp.Code, resp.Body.String())
	}
	var out PredictResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.Char != "A" {
		t.Errorf("char = %q, want A", out.Char)
	}
}

func TestPredictImageScreenshotTooSmall(t *testing.T) {
	s := setupTestServer(t, 1<<20)
	body, ct := multipartBody(t, "image", blockPNG(t, 200))

	resp := performRequest(s.Handler(), http.MethodPost, "/predict/image?screenshot=true", body, ct)
	if resp.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for a screenshot smaller than the crop", resp.Code)
	}
}

func TestPredictImageErrors(t *testing.T) {
	s := setupTestServer(t, 1<<20)

	body, ct := multipartBody(t, "file", blockPNG(t, 50))
	resp := performRequest(s.Handler(), http.MethodPost, "/predict/image", body, ct)
	if resp.Code != http.StatusBadRequest {
		t.Errorf("wrong field: status = %d, want 400", resp.Code)
	}

	body, ct = multipartBody(t, "image", []byte("not an image"))
	resp = performRequest(s.Handler(), http.MethodPost, "/predict/image", body, ct)
	if resp.Code != http.StatusUnsupportedMediaType {
		t.Errorf("garbage: status = %d, want 415", resp.Code)
	}
}

func TestPredictImageTooLarge(t *testing.T) {
	s := setupTestServer(t, 512)
	body, ct := multipartBody(t, "image", bytes.Repeat([]byte{0}, 4096))

	resp := performRequest(s.Handler(), http.MethodPost, "/predict/image", body, ct)
	if resp.Code == http.StatusOK {
		t.Errorf("oversized upload accepted")
	}
}

func TestPredictImageRejectsHugeDimensions(t *testing.T) {
	s := setupTestServer(t, 10<<20)

	// a blank image compresses to a few KB but decodes to ~17M pixels
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4100, 4100))); err != nil {
		t.Fatal(err)
	}
	if buf.Len() > 1<<20 {
		t.Fatalf("test image unexpectedly large: %d bytes", buf.Len())
	}
	body, ct := multipartBody(t, "image", buf.Bytes())

	resp := performRequest(s.Handler(), http.MethodPost, "/predict/image", body, ct)
	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413 body=%s", resp.Code, resp.Body.String())
	}
}

func TestPredictImageConfiguredPixelLimit(t *testing.T) {
	s := setupTestServerWithLimits(t, Limits{MaxUploadBytes: 1 << 20, MaxPixels: 100 * 100})

	body, ct := multipartBody(t, "image", blockPNG(t, 101))
	resp := performRequest(s.Handler(), http.MethodPost, "/predict/image", body, ct)
	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", resp.Code)
	}

	body, ct = multipartBody(t, "image", blockPNG(t, 100))
	resp = performRequest(s.Handler(), http.MethodPost, "/predict/image", body, ct)
	if resp.Code != http.StatusOK {
		t.Errorf("image at the limit: status = %d, want 200", resp.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := setupTestServer(t, 1<<20)
	performRequest(s.Handler(), http.MethodGet, "/health", nil, "")

	resp := performRequest(s.Handler(), http.MethodGet, "/metrics", nil, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "glyph_http_requests_total") {
		t.Error("request counter not exported")
	}
}
