package handlers

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"face-validate-go/config"
	"face-validate-go/internal/api/middleware"
	"face-validate-go/internal/core/facecompare"
	"face-validate-go/internal/imaging"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// DescriptorExtractor liefert für einen Bildpfad höchstens eine
// Gesichtserkennung samt Embedding
type DescriptorExtractor interface {
	ExtractDescriptor(ctx context.Context, imagePath string) (*facecompare.FaceDetection, error)
}

// ResultPublisher veröffentlicht Vergleichsergebnisse an externe
// Konsumenten (optional)
type ResultPublisher interface {
	PublishComparison(result *facecompare.ValidationResult)
}

// ValidateHandler behandelt die Gesichtsvergleichs-Anfragen
type ValidateHandler struct {
	cfg       *config.Config
	verifier  *imaging.Verifier
	store     *imaging.TempStore
	extractor DescriptorExtractor
	publisher ResultPublisher
}

// NewValidateHandler erstellt einen neuen ValidateHandler.
// publisher darf nil sein, wenn keine Ergebnisse veröffentlicht werden.
func NewValidateHandler(cfg *config.Config, verifier *imaging.Verifier, store *imaging.TempStore, extractor DescriptorExtractor, publisher ResultPublisher) *ValidateHandler {
	return &ValidateHandler{
		cfg:       cfg,
		verifier:  verifier,
		store:     store,
		extractor: extractor,
		publisher: publisher,
	}
}

// RegisterRoutes registriert die API-Routen
func (h *ValidateHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.POST("/validate-faces", h.ValidateFaces)
}

// uploadedImage bündelt den Puffer eines Uploads mit seinen Metadaten
type uploadedImage struct {
	buffer       []byte
	originalName string
}

// ValidateFaces vergleicht zwei hochgeladene Gesichtsbilder.
//
// Ablauf: Upload entgegennehmen -> Formate prüfen -> temporär speichern
// -> Embeddings extrahieren -> Ähnlichkeit bewerten -> Antwort.
// Erkennungsfehler nach dem Speichern führen zur Mock-Implementierung
// statt zu einem Fehler; temporäre Dateien werden auf jedem Pfad vor
// der Antwort entfernt.
func (h *ValidateHandler) ValidateFaces(c *gin.Context) {
	t := middleware.TranslateFunc(c)
	started := time.Now()

	// Request-Body auf das konfigurierte Limit begrenzen, bevor der
	// Multipart-Inhalt gelesen wird
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.Upload.MaxSizeBytes())

	form, err := c.MultipartForm()
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			log.Warnf("Upload rejected: body exceeds %d MB", h.cfg.Upload.MaxSizeMB)
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": t("errors.too_large")})
			return
		}
		log.Warnf("Could not parse multipart form: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": t("errors.missing_files")})
		return
	}

	// 1. Beide Bildfelder müssen vorhanden sein
	image1, err1 := readFormImage(form, "image1")
	image2, err2 := readFormImage(form, "image2")
	if err1 != nil || err2 != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": t("errors.missing_files")})
		return
	}

	// 2. Formatprüfung anhand der tatsächlichen Signatur - vor dem
	// Anlegen von temporären Dateien
	check1 := h.verifier.Verify(image1.buffer)
	check2 := h.verifier.Verify(image2.buffer)
	if !check1.Valid || !check2.Valid {
		log.Infof("Upload rejected: invalid format (%s / %s)", check1.Message, check2.Message)
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": t("errors.invalid_format")})
		return
	}

	log.Debugf("Processing images - type 1: %s, type 2: %s", check1.MIME, check2.MIME)

	// 3. Puffer in temporäre Dateien auslagern. Die Bereinigung läuft
	// über defer und greift damit auf jedem Ausgangspfad.
	var tempFiles []string
	defer func() {
		h.store.Cleanup(tempFiles)
	}()

	path1, err := h.store.Save(image1.buffer, imaging.ExtensionForMIME(check1.MIME, image1.originalName))
	if err != nil {
		log.WithError(err).Error("Failed to persist first upload")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": t("errors.processing")})
		return
	}
	tempFiles = append(tempFiles, path1)

	path2, err := h.store.Save(image2.buffer, imaging.ExtensionForMIME(check2.MIME, image2.originalName))
	if err != nil {
		log.WithError(err).Error("Failed to persist second upload")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": t("errors.processing")})
		return
	}
	tempFiles = append(tempFiles, path2)

	// 4. Embeddings für beide Bilder extrahieren - unabhängig
	// voneinander, daher parallel
	result, status := h.compare(c.Request.Context(), path1, path2, started)
	if status != http.StatusOK {
		switch status {
		case http.StatusBadRequest:
			c.JSON(status, gin.H{"success": false, "error": t("errors.faces_not_detected")})
		default:
			c.JSON(status, gin.H{"success": false, "error": t("errors.processing")})
		}
		return
	}

	if h.publisher != nil {
		h.publisher.PublishComparison(result)
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": result})
}

// compare führt Extraktion und Bewertung aus und bildet Fehler auf den
// HTTP-Status ab. Erkennungsfehler münden in das Mock-Ergebnis (Status
// 200), fehlende Gesichter in Status 400.
func (h *ValidateHandler) compare(ctx context.Context, path1, path2 string, started time.Time) (*facecompare.ValidationResult, int) {
	threshold := h.cfg.Face.SimilarityThreshold

	var (
		wg         sync.WaitGroup
		det1, det2 *facecompare.FaceDetection
		err1, err2 error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		det1, err1 = h.extractor.ExtractDescriptor(ctx, path1)
	}()
	go func() {
		defer wg.Done()
		det2, err2 = h.extractor.ExtractDescriptor(ctx, path2)
	}()
	wg.Wait()

	// Kein Gesicht gefunden: eigener Fehlerfall mit eigener Meldung
	if errors.Is(err1, facecompare.ErrNoFaceDetected) || errors.Is(err2, facecompare.ErrNoFaceDetected) {
		log.Info("No face detected in one or both images")
		return nil, http.StatusBadRequest
	}

	// Jeder andere Erkennungsfehler (Modelle nicht verfügbar,
	// Dekodierung fehlgeschlagen) degradiert zur Mock-Implementierung
	if err1 != nil || err2 != nil {
		if err1 != nil {
			log.WithError(err1).Warn("Falling back to mock implementation")
		}
		if err2 != nil {
			log.WithError(err2).Warn("Falling back to mock implementation")
		}
		result := facecompare.MockCompare(path1, path2, threshold)
		result.DebugInfo.ProcessingTimeMs = time.Since(started).Milliseconds()
		return result, http.StatusOK
	}

	score, err := facecompare.Score(det1.Descriptor, det2.Descriptor, threshold)
	if err != nil {
		log.WithError(err).Error("Descriptor comparison failed")
		return nil, http.StatusInternalServerError
	}

	log.Infof("Face comparison complete: match=%t, similarity=%.4f", score.IsMatch, score.Similarity)

	return &facecompare.ValidationResult{
		IsMatch:    score.IsMatch,
		Similarity: score.Similarity,
		Source:     facecompare.SourceReal,
		DebugInfo: &facecompare.DebugInfo{
			Threshold:        threshold,
			RawDistance:      score.RawDistance,
			FaceDetection1:   det1.Info(),
			FaceDetection2:   det2.Info(),
			ProcessingTimeMs: time.Since(started).Milliseconds(),
		},
	}, http.StatusOK
}

// readFormImage liest genau eine Datei aus einem Multipart-Feld in den
// Speicher
func readFormImage(form *multipart.Form, field string) (*uploadedImage, error) {
	files := form.File[field]
	if len(files) == 0 {
		return nil, errors.New("missing form field: " + field)
	}

	header := files[0]
	src, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	buffer, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}

	return &uploadedImage{buffer: buffer, originalName: header.Filename}, nil
}
