package facecompare

import (
	"fmt"
	"math"
)

// ScoreResult ist das Ergebnis der reinen Distanzberechnung
type ScoreResult struct {
	IsMatch     bool
	Similarity  float64
	RawDistance float64
}

// EuclideanDistance berechnet die euklidische Distanz zwischen zwei Embeddings
func EuclideanDistance(a, b Descriptor) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("descriptor length mismatch: %d != %d", len(a), len(b))
	}

	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

// Normalized gibt den Deskriptor auf Einheitslänge (L2-Norm 1) skaliert
// zurück. Ein Nullvektor bleibt unverändert.
func (d Descriptor) Normalized() Descriptor {
	var sum float64
	for _, v := range d {
		sum += float64(v) * float64(v)
	}

	out := make(Descriptor, len(d))
	if sum == 0 {
		copy(out, d)
		return out
	}

	norm := math.Sqrt(sum)
	for i, v := range d {
		out[i] = float32(float64(v) / norm)
	}
	return out
}

// Score vergleicht zwei Embeddings gegen den konfigurierten Schwellenwert.
//
// Die Distanz wird auf [0, 1] begrenzt, bevor sie in die Ähnlichkeit
// übersetzt wird: similarity = 1 - min(distance, 1). Jede Rohdistanz >= 1
// ergibt damit die Ähnlichkeit 0 - die Ordnung jenseits dieses Punktes
// geht verloren (sättigendes Verhalten).
func Score(a, b Descriptor, threshold float64) (ScoreResult, error) {
	distance, err := EuclideanDistance(a, b)
	if err != nil {
		return ScoreResult{}, err
	}

	similarity := 1 - math.Min(distance, 1.0)

	return ScoreResult{
		IsMatch:     similarity >= threshold,
		Similarity:  similarity,
		RawDistance: distance,
	}, nil
}
