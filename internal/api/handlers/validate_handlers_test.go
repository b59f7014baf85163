package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"face-validate-go/config"
	"face-validate-go/internal/api/middleware"
	"face-validate-go/internal/core/facecompare"
	"face-validate-go/internal/imaging"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
)

// fakeExtractor ersetzt die gocv-Extraktion in den Handler-Tests
type fakeExtractor struct {
	mu    sync.Mutex
	fn    func(path string) (*facecompare.FaceDetection, error)
	paths []string
}

func (f *fakeExtractor) ExtractDescriptor(_ context.Context, path string) (*facecompare.FaceDetection, error) {
	f.mu.Lock()
	f.paths = append(f.paths, path)
	f.mu.Unlock()
	return f.fn(path)
}

func (f *fakeExtractor) seenPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

func testConfig() *config.Config {
	return &config.Config{
		Upload: config.Upload{
			MaxSizeMB: 20,
			AllowedMimeTypes: []string{
				"image/jpeg", "image/png", "image/webp", "image/gif",
				"image/bmp", "image/tiff", "image/svg+xml", "image/heic", "image/heif",
			},
		},
		Face: config.Face{
			SimilarityThreshold: 0.75,
			DetectionConfidence: 0.5,
			MinImageSize:        224,
			MaxImageSize:        1024,
		},
	}
}

// newTestRouter baut einen Router ohne i18n-Middleware auf; Fehlertexte
// sind dann die Übersetzungsschlüssel selbst
func newTestRouter(t *testing.T, cfg *config.Config, extractor DescriptorExtractor) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	handler := NewValidateHandler(
		cfg,
		imaging.NewVerifier(cfg.Upload.AllowedMimeTypes),
		imaging.NewTempStore(t.TempDir()),
		extractor,
		nil,
	)
	handler.RegisterRoutes(router)
	return router
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode test png: %v", err)
	}
	return buf.Bytes()
}

func multipartRequest(t *testing.T, fields map[string][]byte) *http.Request {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for field, content := range fields {
		part, err := writer.CreateFormFile(field, field+".png")
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		if _, err := part.Write(content); err != nil {
			t.Fatalf("failed to write form file: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/validate-faces", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

type validationResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Data    *struct {
		IsMatch    bool    `json:"isMatch"`
		Similarity float64 `json:"similarity"`
		DebugInfo  *struct {
			Threshold               float64 `json:"threshold"`
			RawDistance             float64 `json:"rawDistance"`
			UsingMockImplementation bool    `json:"usingMockImplementation"`
		} `json:"debugInfo"`
	} `json:"data"`
}

func doRequest(t *testing.T, router *gin.Engine, req *http.Request) (int, validationResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp validationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON response %q: %v", rec.Body.String(), err)
	}
	return rec.Code, resp
}

func TestValidateFacesMissingFile(t *testing.T) {
	extractor := &fakeExtractor{fn: func(string) (*facecompare.FaceDetection, error) {
		t.Fatal("extractor must not be called when a file is missing")
		return nil, nil
	}}
	router := newTestRouter(t, testConfig(), extractor)

	req := multipartRequest(t, map[string][]byte{"image1": pngBytes(t)})
	code, resp := doRequest(t, router, req)

	if code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", code)
	}
	if resp.Success {
		t.Error("success must be false")
	}
	if resp.Error != "errors.missing_files" {
		t.Errorf("error = %q, want errors.missing_files", resp.Error)
	}
}

func TestValidateFacesInvalidFormat(t *testing.T) {
	extractor := &fakeExtractor{fn: func(string) (*facecompare.FaceDetection, error) {
		t.Fatal("extractor must not be called for invalid uploads")
		return nil, nil
	}}
	router := newTestRouter(t, testConfig(), extractor)

	req := multipartRequest(t, map[string][]byte{
		"image1": {0x00, 0x01, 0x02, 0x03, 0xAA, 0xBB},
		"image2": pngBytes(t),
	})
	code, resp := doRequest(t, router, req)

	if code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", code)
	}
	if resp.Error != "errors.invalid_format" {
		t.Errorf("error = %q, want errors.invalid_format", resp.Error)
	}
}

func TestValidateFacesSuccess(t *testing.T) {
	descriptor := make(facecompare.Descriptor, facecompare.DescriptorLength)
	for i := range descriptor {
		descriptor[i] = 0.1
	}

	extractor := &fakeExtractor{fn: func(string) (*facecompare.FaceDetection, error) {
		return &facecompare.FaceDetection{
			Score:      0.99,
			Box:        facecompare.Box{X: 10, Y: 10, Width: 100, Height: 100},
			Descriptor: descriptor,
		}, nil
	}}
	router := newTestRouter(t, testConfig(), extractor)

	req := multipartRequest(t, map[string][]byte{
		"image1": pngBytes(t),
		"image2": pngBytes(t),
	})
	code, resp := doRequest(t, router, req)

	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if !resp.Success || resp.Data == nil {
		t.Fatalf("expected success response with data, got %+v", resp)
	}
	if !resp.Data.IsMatch {
		t.Error("identical descriptors must match")
	}
	if resp.Data.Similarity != 1 {
		t.Errorf("similarity = %v, want 1", resp.Data.Similarity)
	}
	if resp.Data.DebugInfo == nil || resp.Data.DebugInfo.UsingMockImplementation {
		t.Error("real comparison must not be flagged as mock")
	}

	// Temporäre Dateien müssen nach der Antwort entfernt sein
	for _, path := range extractor.seenPaths() {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("temp file %s still exists after request", path)
		}
	}
}

func TestValidateFacesNoFaceDetected(t *testing.T) {
	extractor := &fakeExtractor{fn: func(string) (*facecompare.FaceDetection, error) {
		return nil, fmt.Errorf("image analysis: %w", facecompare.ErrNoFaceDetected)
	}}
	router := newTestRouter(t, testConfig(), extractor)

	req := multipartRequest(t, map[string][]byte{
		"image1": pngBytes(t),
		"image2": pngBytes(t),
	})
	code, resp := doRequest(t, router, req)

	if code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", code)
	}
	if resp.Error != "errors.faces_not_detected" {
		t.Errorf("error = %q, want errors.faces_not_detected", resp.Error)
	}
}

func TestValidateFacesModelUnavailableFallsBackToMock(t *testing.T) {
	extractor := &fakeExtractor{fn: func(string) (*facecompare.FaceDetection, error) {
		return nil, fmt.Errorf("%w: download failed", facecompare.ErrModelUnavailable)
	}}
	router := newTestRouter(t, testConfig(), extractor)

	req := multipartRequest(t, map[string][]byte{
		"image1": pngBytes(t),
		"image2": pngBytes(t),
	})
	code, resp := doRequest(t, router, req)

	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if !resp.Success || resp.Data == nil {
		t.Fatalf("expected success response with data, got %+v", resp)
	}
	if resp.Data.DebugInfo == nil || !resp.Data.DebugInfo.UsingMockImplementation {
		t.Error("mock fallback must be flagged in debugInfo")
	}
	if resp.Data.Similarity < 0 || resp.Data.Similarity >= 1 {
		t.Errorf("mock similarity %v outside [0, 1)", resp.Data.Similarity)
	}

	// Auch auf dem Mock-Pfad müssen die temporären Dateien entfernt sein
	for _, path := range extractor.seenPaths() {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("temp file %s still exists after request", path)
		}
	}
}

func TestValidateFacesOversizedUpload(t *testing.T) {
	cfg := testConfig()
	cfg.Upload.MaxSizeMB = 1

	extractor := &fakeExtractor{fn: func(string) (*facecompare.FaceDetection, error) {
		t.Fatal("extractor must not be called for oversized uploads")
		return nil, nil
	}}
	router := newTestRouter(t, cfg, extractor)

	req := multipartRequest(t, map[string][]byte{
		"image1": make([]byte, 2*1024*1024),
		"image2": pngBytes(t),
	})
	code, resp := doRequest(t, router, req)

	if code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", code)
	}
	if resp.Error != "errors.too_large" {
		t.Errorf("error = %q, want errors.too_large", resp.Error)
	}
}

// TestValidateFacesLocalizedErrors prüft die Sprachauswahl über den
// Accept-Language-Header mit den echten Übersetzungsdateien
func TestValidateFacesLocalizedErrors(t *testing.T) {
	translator, err := middleware.NewTranslator(middleware.I18nConfig{
		DefaultLanguage: "pt",
		LocalesDir:      "../../../web/locales",
	})
	if err != nil {
		t.Fatalf("failed to load translations: %v", err)
	}

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(sessions.Sessions("test_session", cookie.NewStore([]byte("test"))))
	router.Use(middleware.I18n(translator))

	extractor := &fakeExtractor{fn: func(string) (*facecompare.FaceDetection, error) {
		return nil, facecompare.ErrNoFaceDetected
	}}
	cfg := testConfig()
	handler := NewValidateHandler(
		cfg,
		imaging.NewVerifier(cfg.Upload.AllowedMimeTypes),
		imaging.NewTempStore(t.TempDir()),
		extractor,
		nil,
	)
	handler.RegisterRoutes(router)

	tests := []struct {
		name           string
		acceptLanguage string
		wantError      string
	}{
		{"english header", "en-US,en;q=0.9", "Faces not detected in one or both images. Please use images with clearly visible faces."},
		{"no header defaults to pt", "", "Faces não detectados em uma ou ambas as imagens. Por favor, utilize imagens com rostos claramente visíveis."},
		{"unknown language defaults to pt", "fr-FR", "Faces não detectados em uma ou ambas as imagens. Por favor, utilize imagens com rostos claramente visíveis."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := multipartRequest(t, map[string][]byte{
				"image1": pngBytes(t),
				"image2": pngBytes(t),
			})
			if tt.acceptLanguage != "" {
				req.Header.Set("Accept-Language", tt.acceptLanguage)
			}

			code, resp := doRequest(t, router, req)
			if code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", code)
			}
			if resp.Error != tt.wantError {
				t.Errorf("error = %q, want %q", resp.Error, tt.wantError)
			}
		})
	}
}
