package opencv

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"face-validate-go/config"

	log "github.com/sirupsen/logrus"
	gocv "gocv.io/x/gocv"
)

// modelFile beschreibt eine einzelne Modelldatei samt Download-Quelle
type modelFile struct {
	Name string
	URL  string
}

// Die drei benötigten Modelle: Gesichtsdetektor (SSD), Landmarken-Netz
// und Embedding-Netz (OpenFace, 128 Dimensionen)
var (
	detectorFiles = []modelFile{
		{
			Name: "deploy.prototxt",
			URL:  "https://raw.githubusercontent.com/opencv/opencv/master/samples/dnn/face_detector/deploy.prototxt",
		},
		{
			Name: "res10_300x300_ssd_iter_140000.caffemodel",
			URL:  "https://github.com/opencv/opencv_3rdparty/raw/dnn_samples_face_detector_20170830/res10_300x300_ssd_iter_140000.caffemodel",
		},
	}

	landmarkFiles = []modelFile{
		{
			Name: "face_landmark_68.onnx",
			URL:  "https://github.com/face-validate/models/releases/download/v1.0/face_landmark_68.onnx",
		},
	}

	recognizerFiles = []modelFile{
		{
			Name: "nn4.small2.v1.t7",
			URL:  "https://storage.cmusatyalab.org/openface-models/nn4.small2.v1.t7",
		},
	}
)

// ModelStore hält die drei DNN-Modelle prozessweit. Der Ladezustand wird
// pro Modell einmalig gesetzt und innerhalb der Prozesslaufzeit nie
// zurückgesetzt; es gibt keinen Unload-Pfad.
type ModelStore struct {
	cfg config.Models

	mu               sync.Mutex
	detector         gocv.Net
	landmark         gocv.Net
	recognizer       gocv.Net
	detectorLoaded   bool
	landmarkLoaded   bool
	recognizerLoaded bool
}

// NewModelStore erstellt einen neuen ModelStore
func NewModelStore(cfg config.Models) *ModelStore {
	return &ModelStore{cfg: cfg}
}

// EnsureLoaded lädt alle noch fehlenden Modelle - zuerst aus dem lokalen
// Verzeichnis, bei Bedarf per Download. Der Aufruf ist idempotent und
// unter konkurrierenden Anfragen sicher; redundante Ladeversuche sind
// erlaubt, aber nie mehr nötig, sobald die Flags gesetzt sind.
func (m *ModelStore) EnsureLoaded(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.detectorLoaded && m.landmarkLoaded && m.recognizerLoaded {
		return nil
	}

	log.Info("Loading face models...")

	if !m.detectorLoaded {
		net, err := m.loadNet(ctx, detectorFiles)
		if err != nil {
			return fmt.Errorf("could not load face detector model: %w", err)
		}
		m.detector = net
		m.detectorLoaded = true
	}

	if !m.landmarkLoaded {
		net, err := m.loadNet(ctx, landmarkFiles)
		if err != nil {
			return fmt.Errorf("could not load landmark model: %w", err)
		}
		m.landmark = net
		m.landmarkLoaded = true
	}

	if !m.recognizerLoaded {
		net, err := m.loadNet(ctx, recognizerFiles)
		if err != nil {
			return fmt.Errorf("could not load recognition model: %w", err)
		}
		m.recognizer = net
		m.recognizerLoaded = true
	}

	log.Info("All face models loaded")
	return nil
}

// Loaded gibt zurück, ob alle drei Modelle geladen sind
func (m *ModelStore) Loaded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.detectorLoaded && m.landmarkLoaded && m.recognizerLoaded
}

// loadNet stellt die Dateien eines Modells sicher und lädt das Netz
func (m *ModelStore) loadNet(ctx context.Context, files []modelFile) (gocv.Net, error) {
	paths := make([]string, 0, len(files))
	for _, f := range files {
		path, err := m.ensureFile(ctx, f)
		if err != nil {
			return gocv.Net{}, err
		}
		paths = append(paths, path)
	}

	// ReadNet wählt anhand der Dateiendung das passende Framework
	var net gocv.Net
	if len(paths) > 1 {
		net = gocv.ReadNet(paths[1], paths[0]) // Caffe: Gewichte + Prototxt
	} else {
		net = gocv.ReadNet(paths[0], "")
	}

	if net.Empty() {
		return gocv.Net{}, fmt.Errorf("model %s could not be read", files[0].Name)
	}

	return net, nil
}

// ensureFile liefert den lokalen Pfad einer Modelldatei und lädt sie bei
// Bedarf aus dem Netz nach
func (m *ModelStore) ensureFile(ctx context.Context, f modelFile) (string, error) {
	path := filepath.Join(m.cfg.Dir, f.Name)

	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		return path, nil
	}

	if !m.cfg.DownloadEnabled {
		return "", fmt.Errorf("model file %s missing and downloads are disabled", f.Name)
	}

	url := f.URL
	if m.cfg.BaseURL != "" {
		url = strings.TrimSuffix(m.cfg.BaseURL, "/") + "/" + f.Name
	}

	log.Infof("Downloading model file %s from %s", f.Name, url)
	if err := m.downloadFile(ctx, url, path); err != nil {
		return "", fmt.Errorf("download of %s failed: %w", f.Name, err)
	}

	return path, nil
}

// downloadFile lädt eine Datei herunter und schreibt sie atomar
// (über eine temporäre Datei) an den Zielpfad
func (m *ModelStore) downloadFile(ctx context.Context, url, dest string) error {
	timeout := time.Duration(m.cfg.DownloadTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	client := &http.Client{Timeout: timeout}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".download-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), dest)
}

// Close gibt die geladenen Netze frei. Nur für den Shutdown gedacht;
// die Loaded-Flags bleiben unverändert.
func (m *ModelStore) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.detectorLoaded {
		m.detector.Close()
	}
	if m.landmarkLoaded {
		m.landmark.Close()
	}
	if m.recognizerLoaded {
		m.recognizer.Close()
	}
}
