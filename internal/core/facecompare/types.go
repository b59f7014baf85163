package facecompare

import "errors"

// DescriptorLength ist die feste Länge der Gesichts-Embeddings
const DescriptorLength = 128

// Fehlerarten, auf die der Orchestrator mit errors.Is verzweigt.
// ErrNoFaceDetected führt zu einer 400-Antwort, ErrModelUnavailable
// zur Mock-Implementierung.
var (
	ErrNoFaceDetected   = errors.New("no face detected")
	ErrModelUnavailable = errors.New("face models unavailable")
)

// Descriptor ist das Embedding eines erkannten Gesichts
type Descriptor []float32

// Box beschreibt die Position eines Gesichts im Bild
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// FaceDetection enthält Region, Konfidenz und Embedding eines erkannten Gesichts
type FaceDetection struct {
	Score      float64    `json:"score"`
	Box        Box        `json:"box"`
	Descriptor Descriptor `json:"-"`
}

// FaceDetectionInfo ist der nach außen sichtbare Teil einer Erkennung
// (ohne das Embedding selbst)
type FaceDetectionInfo struct {
	Score float64 `json:"score"`
	Box   Box     `json:"box"`
}

// Info reduziert eine Erkennung auf die Debug-Darstellung
func (d *FaceDetection) Info() *FaceDetectionInfo {
	if d == nil {
		return nil
	}
	return &FaceDetectionInfo{Score: d.Score, Box: d.Box}
}

// DebugInfo enthält die Diagnosedaten eines Vergleichs
type DebugInfo struct {
	Threshold               float64            `json:"threshold"`
	RawDistance             float64            `json:"rawDistance"`
	FaceDetection1          *FaceDetectionInfo `json:"faceDetection1,omitempty"`
	FaceDetection2          *FaceDetectionInfo `json:"faceDetection2,omitempty"`
	ProcessingTimeMs        int64              `json:"processingTimeMs"`
	UsingMockImplementation bool               `json:"usingMockImplementation"`
}

// ValidationResult ist das Ergebnis eines Gesichtsvergleichs.
// Source kennzeichnet explizit, ob das Ergebnis aus der echten Erkennung
// oder aus der Mock-Implementierung stammt.
type ValidationResult struct {
	IsMatch    bool       `json:"isMatch"`
	Similarity float64    `json:"similarity"`
	DebugInfo  *DebugInfo `json:"debugInfo,omitempty"`
	Source     Source     `json:"-"`
}

// Source kennzeichnet die Herkunft eines Vergleichsergebnisses
type Source string

const (
	SourceReal Source = "real"
	SourceMock Source = "mock"
)
