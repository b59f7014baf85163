package facecompare

import (
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// MockCompare liefert ein deterministisches Pseudo-Ergebnis, wenn die echte
// Erkennung nicht laufen kann. Jeder Aufruf wird geloggt und das Ergebnis
// im DebugInfo als Mock gekennzeichnet, damit ein degradierter Vergleich
// für den Aufrufer immer erkennbar bleibt.
func MockCompare(image1Path, image2Path string, threshold float64) *ValidationResult {
	log.Warnf("Using mock implementation for face comparison (%s vs %s)",
		filepath.Base(image1Path), filepath.Base(image2Path))

	// Gleicher Basisname: der typische Fall, dass dieselbe Datei zweimal
	// eingereicht wurde
	if filepath.Base(image1Path) == filepath.Base(image2Path) {
		return &ValidationResult{
			IsMatch:    true,
			Similarity: 0.95,
			Source:     SourceMock,
			DebugInfo: &DebugInfo{
				Threshold:               threshold,
				RawDistance:             0.05,
				UsingMockImplementation: true,
			},
		}
	}

	// Bytewerte der zusammengesetzten Pfade aufsummieren und auf [0, 1)
	// reduzieren - reproduzierbar für identische Eingaben
	combined := image1Path + image2Path
	var sum int
	for i := 0; i < len(combined); i++ {
		sum += int(combined[i])
	}

	similarity := float64(sum%100) / 100

	return &ValidationResult{
		IsMatch:    similarity >= threshold,
		Similarity: similarity,
		Source:     SourceMock,
		DebugInfo: &DebugInfo{
			Threshold:               threshold,
			RawDistance:             1 - similarity,
			UsingMockImplementation: true,
		},
	}
}
