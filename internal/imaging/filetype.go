package imaging

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	log "github.com/sirupsen/logrus"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// MIMEUnknown kennzeichnet Puffer, deren Signatur nicht erkannt wurde,
// die sich aber trotzdem als Bild dekodieren lassen
const MIMEUnknown = "image/unknown"

// VerifiedFileType ist das Ergebnis der Formatprüfung
type VerifiedFileType struct {
	Valid   bool
	MIME    string
	Message string
}

// Verifier prüft die tatsächliche Signatur hochgeladener Puffer gegen
// eine Liste erlaubter Bildformate. Dem vom Client gemeldeten MIME-Typ
// oder Dateinamen wird dabei nicht vertraut.
type Verifier struct {
	allowed map[string]bool
}

// NewVerifier erstellt einen Verifier für die angegebenen MIME-Typen
func NewVerifier(allowedMimeTypes []string) *Verifier {
	allowed := make(map[string]bool, len(allowedMimeTypes))
	for _, m := range allowedMimeTypes {
		allowed[strings.ToLower(m)] = true
	}
	return &Verifier{allowed: allowed}
}

// Verify klassifiziert einen Puffer anhand seiner binären Signatur.
// Schlägt die Signaturerkennung fehl, wird als zweite Stufe eine
// generische Bilddekodierung versucht; gelingt sie, wird der Puffer als
// "image/unknown" akzeptiert. Verify gibt niemals einen Fehler weiter.
func (v *Verifier) Verify(buf []byte) VerifiedFileType {
	mtype := mimetype.Detect(buf)
	detected := strings.ToLower(mtype.String())

	// mimetype liefert Parameter wie "; charset=utf-8" mit (z.B. bei SVG)
	if i := strings.Index(detected, ";"); i >= 0 {
		detected = strings.TrimSpace(detected[:i])
	}

	if v.allowed[detected] {
		return VerifiedFileType{Valid: true, MIME: detected}
	}

	// Keine bekannte Signatur: zweite Stufe über generische Dekodierung
	if detected == "application/octet-stream" {
		if _, _, err := image.DecodeConfig(bytes.NewReader(buf)); err == nil {
			return VerifiedFileType{Valid: true, MIME: MIMEUnknown}
		}
		return VerifiedFileType{
			Valid:   false,
			Message: "no valid image signature detected",
		}
	}

	log.Debugf("Rejected upload with unsupported format: %s", detected)
	return VerifiedFileType{
		Valid:   false,
		Message: "unsupported image format: " + detected,
	}
}

// mimeToExtension ordnet unterstützten MIME-Typen eine Dateiendung zu
var mimeToExtension = map[string]string{
	"image/jpeg":    ".jpg",
	"image/jpg":     ".jpg",
	"image/png":     ".png",
	"image/webp":    ".webp",
	"image/gif":     ".gif",
	"image/bmp":     ".bmp",
	"image/tiff":    ".tiff",
	"image/svg+xml": ".svg",
	"image/heic":    ".heic",
	"image/heif":    ".heif",
}

// ExtensionForMIME bestimmt die Dateiendung für eine temporäre Datei.
// Bei unbekanntem MIME-Typ wird auf die Endung des gemeldeten Dateinamens
// und zuletzt auf ".jpg" zurückgegriffen.
func ExtensionForMIME(mime, originalName string) string {
	if ext, ok := mimeToExtension[strings.ToLower(mime)]; ok {
		return ext
	}

	if ext := strings.ToLower(filepath.Ext(originalName)); ext != "" {
		return ext
	}

	return ".jpg"
}
