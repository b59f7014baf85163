package imaging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// TempStore legt validierte Upload-Puffer als eindeutig benannte
// temporäre Dateien ab, damit die Erkennung dateibasiert arbeiten kann,
// und garantiert deren spätere Entfernung.
type TempStore struct {
	dir string
}

// NewTempStore erstellt einen TempStore. Ohne Verzeichnis wird das
// System-Temp-Verzeichnis verwendet.
func NewTempStore(dir string) *TempStore {
	if dir == "" {
		dir = os.TempDir()
	}
	return &TempStore{dir: dir}
}

// Save schreibt den Puffer in eine neue temporäre Datei und gibt deren
// Pfad zurück. Der Name wird aus Zeitstempel und Zufallstoken gebildet,
// damit parallele Anfragen nicht kollidieren können.
func (s *TempStore) Save(buf []byte, extension string) (string, error) {
	ext := normalizeExtension(extension)

	name := fmt.Sprintf("%d-%s%s", time.Now().UnixNano(), uuid.NewString(), ext)
	path := filepath.Join(s.dir, name)

	if err := os.WriteFile(path, buf, 0600); err != nil {
		return "", fmt.Errorf("could not write temp file %s: %w", path, err)
	}

	return path, nil
}

// Cleanup entfernt die angegebenen Pfade. Bereits gelöschte Dateien sind
// kein Fehler; andere Fehler werden geloggt, aber nicht weitergereicht,
// damit die Bereinigung die eigentliche Antwort nie überschreibt.
func (s *TempStore) Cleanup(paths []string) {
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			log.Warnf("Failed to remove temp file %s: %v", path, err)
		}
	}
}

// normalizeExtension sorgt dafür, dass die Endung immer mit '.' beginnt;
// eine leere Endung wird zu ".tmp"
func normalizeExtension(extension string) string {
	ext := strings.TrimSpace(extension)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if ext == "" || ext == "." {
		ext = ".tmp"
	}
	return ext
}
