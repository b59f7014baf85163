package opencv

import (
	"context"
	"fmt"
	"image"
	"math"
	"sync"

	"face-validate-go/config"
	"face-validate-go/internal/core/facecompare"

	log "github.com/sirupsen/logrus"
	gocv "gocv.io/x/gocv"
)

// Eingabegrößen der drei Netze
const (
	detectorInputSize   = 300
	landmarkInputSize   = 112
	recognizerInputSize = 96
	landmarkCount       = 68
)

// Extractor führt die Gesichtserkennung und die Embedding-Berechnung
// für ein einzelnes Bild aus. Pro Bild wird höchstens ein Gesicht
// verwendet - bei mehreren Treffern nur der mit der höchsten Konfidenz.
type Extractor struct {
	cfg    config.Face
	models *ModelStore

	// Die gocv-Netze sind nicht für parallele Forward-Aufrufe ausgelegt,
	// daher wird die Inferenz serialisiert
	inferMu sync.Mutex
}

// NewExtractor erstellt einen neuen Extractor
func NewExtractor(cfg config.Face, models *ModelStore) *Extractor {
	return &Extractor{cfg: cfg, models: models}
}

// ExtractDescriptor lädt ein Bild, erkennt das Gesicht mit der höchsten
// Konfidenz und berechnet dessen Embedding.
//
// Fehlerarten: facecompare.ErrModelUnavailable, wenn die Modelle nicht
// geladen werden konnten; facecompare.ErrNoFaceDetected, wenn kein
// Gesicht gefunden wurde; alle anderen Fehler sind Verarbeitungsfehler.
func (e *Extractor) ExtractDescriptor(ctx context.Context, imagePath string) (*facecompare.FaceDetection, error) {
	if err := e.models.EnsureLoaded(ctx); err != nil {
		log.WithError(err).Warn("Face models unavailable")
		return nil, fmt.Errorf("%w: %v", facecompare.ErrModelUnavailable, err)
	}

	// Bild laden
	img := gocv.IMRead(imagePath, gocv.IMReadColor)
	if img.Empty() {
		return nil, fmt.Errorf("could not decode image %s", imagePath)
	}
	defer img.Close()

	// Arbeitsbild: längste Seite in den konfigurierten Bereich bringen,
	// damit Detektorleistung und Genauigkeit stabil bleiben
	workImg, scale := e.normalizeSize(img)
	defer workImg.Close()

	e.inferMu.Lock()
	defer e.inferMu.Unlock()

	// 1. Gesicht mit der höchsten Konfidenz suchen
	rect, score, err := e.detectBestFace(workImg)
	if err != nil {
		return nil, err
	}

	// 2. Gesichtsausschnitt für die nachgelagerten Netze
	faceRegion := workImg.Region(rect)
	face := faceRegion.Clone()
	faceRegion.Close()
	defer face.Close()

	// 3. Landmarken bestimmen und den Ausschnitt darüber nachzentrieren
	cropRect := rect
	if centered, ok := e.landmarkCrop(face, rect, workImg.Cols(), workImg.Rows()); ok {
		cropRect = centered
	}
	if cropRect != rect {
		face.Close()
		region := workImg.Region(cropRect)
		face = region.Clone()
		region.Close()
	}

	// 4. Embedding berechnen
	descriptor, err := e.computeDescriptor(face)
	if err != nil {
		return nil, err
	}

	// Box in Koordinaten des Originalbildes zurückrechnen
	detection := &facecompare.FaceDetection{
		Score: score,
		Box: facecompare.Box{
			X:      float64(rect.Min.X) / scale,
			Y:      float64(rect.Min.Y) / scale,
			Width:  float64(rect.Dx()) / scale,
			Height: float64(rect.Dy()) / scale,
		},
		Descriptor: descriptor,
	}

	log.Debugf("Extracted descriptor for %s (score=%.3f)", imagePath, score)
	return detection, nil
}

// normalizeSize skaliert das Bild so, dass die längste Seite im Bereich
// [MinImageSize, MaxImageSize] liegt. Der zurückgegebene Faktor rechnet
// Arbeitskoordinaten in Originalkoordinaten um.
func (e *Extractor) normalizeSize(img gocv.Mat) (gocv.Mat, float64) {
	width, height := img.Cols(), img.Rows()
	longest := width
	if height > longest {
		longest = height
	}

	minSize, maxSize := e.cfg.MinImageSize, e.cfg.MaxImageSize
	scale := 1.0
	switch {
	case maxSize > 0 && longest > maxSize:
		scale = float64(maxSize) / float64(longest)
	case minSize > 0 && longest < minSize:
		scale = float64(minSize) / float64(longest)
	}

	if scale == 1.0 {
		return img.Clone(), 1.0
	}

	resized := gocv.NewMat()
	newSize := image.Point{
		X: int(math.Round(float64(width) * scale)),
		Y: int(math.Round(float64(height) * scale)),
	}
	gocv.Resize(img, &resized, newSize, 0, 0, gocv.InterpolationLinear)
	return resized, scale
}

// detectBestFace führt den SSD-Detektor aus und liefert nur den Treffer
// mit der höchsten Konfidenz zurück
func (e *Extractor) detectBestFace(img gocv.Mat) (image.Rectangle, float64, error) {
	blob := gocv.BlobFromImage(
		img,
		1.0,
		image.Point{X: detectorInputSize, Y: detectorInputSize},
		gocv.NewScalar(104, 177, 123, 0), // Mittelwerte des res10-Trainings
		false,
		false,
	)
	defer blob.Close()

	e.models.detector.SetInput(blob, "")
	prob := e.models.detector.Forward("")
	defer prob.Close()

	width := float32(img.Cols())
	height := float32(img.Rows())

	bestScore := float32(0)
	var bestRect image.Rectangle
	found := false

	// SSD-Ausgabeformat: [img_id, class_id, confidence, left, top, right, bottom]
	for i := 0; i < prob.Total(); i += 7 {
		confidence := prob.GetFloatAt(0, i+2)
		if float64(confidence) < e.cfg.DetectionConfidence {
			continue
		}
		if confidence <= bestScore {
			continue
		}

		left := int(prob.GetFloatAt(0, i+3) * width)
		top := int(prob.GetFloatAt(0, i+4) * height)
		right := int(prob.GetFloatAt(0, i+5) * width)
		bottom := int(prob.GetFloatAt(0, i+6) * height)

		rect := clampRect(image.Rect(left, top, right, bottom), img.Cols(), img.Rows())
		if rect.Empty() {
			continue
		}

		bestScore = confidence
		bestRect = rect
		found = true
	}

	if !found {
		return image.Rectangle{}, 0, facecompare.ErrNoFaceDetected
	}

	return bestRect, float64(bestScore), nil
}

// landmarkCrop bestimmt die 68 Landmarken im Gesichtsausschnitt und
// berechnet daraus einen nachzentrierten Ausschnitt für das Embedding.
// Schlägt die Landmarkenbestimmung fehl, bleibt der Detektorausschnitt
// in Gebrauch.
func (e *Extractor) landmarkCrop(face gocv.Mat, rect image.Rectangle, imgWidth, imgHeight int) (image.Rectangle, bool) {
	blob := gocv.BlobFromImage(
		face,
		1.0/255.0,
		image.Point{X: landmarkInputSize, Y: landmarkInputSize},
		gocv.NewScalar(0, 0, 0, 0),
		true,
		false,
	)
	defer blob.Close()

	e.models.landmark.SetInput(blob, "")
	out := e.models.landmark.Forward("")
	defer out.Close()

	if out.Total() < landmarkCount*2 {
		log.Debugf("Landmark output too small (%d values), keeping detector crop", out.Total())
		return rect, false
	}

	// Ausgabe: 68 (x, y)-Paare relativ zum Ausschnitt
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for i := 0; i < landmarkCount; i++ {
		x := float64(out.GetFloatAt(0, i*2))*float64(rect.Dx()) + float64(rect.Min.X)
		y := float64(out.GetFloatAt(0, i*2+1))*float64(rect.Dy()) + float64(rect.Min.Y)
		minX = math.Min(minX, x)
		minY = math.Min(minY, y)
		maxX = math.Max(maxX, x)
		maxY = math.Max(maxY, y)
	}

	if maxX <= minX || maxY <= minY {
		return rect, false
	}

	// Etwas Rand um die Landmarken lassen, damit Kinn und Stirn für das
	// Embedding-Netz erhalten bleiben
	marginX := (maxX - minX) * 0.15
	marginY := (maxY - minY) * 0.2
	centered := clampRect(image.Rect(
		int(minX-marginX),
		int(minY-marginY),
		int(maxX+marginX),
		int(maxY+marginY),
	), imgWidth, imgHeight)

	if centered.Empty() {
		return rect, false
	}

	return centered, true
}

// computeDescriptor berechnet das 128-dimensionale Embedding eines
// Gesichtsausschnitts
func (e *Extractor) computeDescriptor(face gocv.Mat) (facecompare.Descriptor, error) {
	blob := gocv.BlobFromImage(
		face,
		1.0/255.0,
		image.Point{X: recognizerInputSize, Y: recognizerInputSize},
		gocv.NewScalar(0, 0, 0, 0),
		true,
		false,
	)
	defer blob.Close()

	e.models.recognizer.SetInput(blob, "")
	out := e.models.recognizer.Forward("")
	defer out.Close()

	if out.Total() < facecompare.DescriptorLength {
		return nil, fmt.Errorf("recognition model returned %d values, expected %d",
			out.Total(), facecompare.DescriptorLength)
	}

	descriptor := make(facecompare.Descriptor, facecompare.DescriptorLength)
	for i := 0; i < facecompare.DescriptorLength; i++ {
		descriptor[i] = out.GetFloatAt(0, i)
	}

	// Auf Einheitslänge bringen; das OpenFace-Netz liefert bereits nahezu
	// normierte Embeddings, die Distanzskala bleibt dadurch unabhängig
	// vom Modellstand
	return descriptor.Normalized(), nil
}

// clampRect begrenzt ein Rechteck auf die Bildgrenzen
func clampRect(rect image.Rectangle, width, height int) image.Rectangle {
	return rect.Intersect(image.Rect(0, 0, width, height))
}
