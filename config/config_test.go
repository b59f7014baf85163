package config

import (
	"os"
	"path/filepath"
	"testing"
)

// redirectDirs verhindert, dass die Tests Verzeichnisse im Arbeitsverzeichnis anlegen
func redirectDirs(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("FACE_VALIDATE_SERVER_DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("FACE_VALIDATE_MODELS_DIR", filepath.Join(dir, "models"))
	return dir
}

func TestLoadDefaults(t *testing.T) {
	redirectDirs(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("server.port = %d, want 3000", cfg.Server.Port)
	}
	if cfg.Upload.MaxSizeMB != 20 {
		t.Errorf("upload.max_size_mb = %d, want 20", cfg.Upload.MaxSizeMB)
	}
	if got := cfg.Upload.MaxSizeBytes(); got != 20*1024*1024 {
		t.Errorf("MaxSizeBytes() = %d, want %d", got, 20*1024*1024)
	}
	if cfg.Face.SimilarityThreshold != 0.75 {
		t.Errorf("face.similarity_threshold = %v, want 0.75", cfg.Face.SimilarityThreshold)
	}
	if cfg.I18n.DefaultLanguage != "pt" {
		t.Errorf("i18n.default_language = %q, want pt", cfg.I18n.DefaultLanguage)
	}
	if !cfg.Models.DownloadEnabled {
		t.Error("models.download_enabled must default to true")
	}
	if cfg.MQTT.Enabled {
		t.Error("mqtt.enabled must default to false")
	}
	if len(cfg.Upload.AllowedMimeTypes) == 0 {
		t.Error("upload.allowed_mime_types must not be empty")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := redirectDirs(t)

	configPath := filepath.Join(dir, "config.yaml")
	content := []byte("server:\n  port: 8080\nface:\n  similarity_threshold: 0.6\n")
	if err := os.WriteFile(configPath, content, 0644); err != nil {
		t.Fatalf("could not write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("server.port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Face.SimilarityThreshold != 0.6 {
		t.Errorf("face.similarity_threshold = %v, want 0.6", cfg.Face.SimilarityThreshold)
	}
	// Nicht überschriebene Werte behalten ihre Standardwerte
	if cfg.Upload.MaxSizeMB != 20 {
		t.Errorf("upload.max_size_mb = %d, want default 20", cfg.Upload.MaxSizeMB)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	dir := redirectDirs(t)

	cfg, err := Load(filepath.Join(dir, "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load must not fail for a missing config file: %v", err)
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("server.port = %d, want default 3000", cfg.Server.Port)
	}

	if _, err := os.Stat(cfg.Models.Dir); err != nil {
		t.Errorf("models dir %s was not created: %v", cfg.Models.Dir, err)
	}
}

func TestEnvOverrides(t *testing.T) {
	redirectDirs(t)
	t.Setenv("FACE_VALIDATE_UPLOAD_MAX_SIZE_MB", "5")
	t.Setenv("FACE_VALIDATE_I18N_DEFAULT_LANGUAGE", "en")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Upload.MaxSizeMB != 5 {
		t.Errorf("upload.max_size_mb = %d, want 5 from env", cfg.Upload.MaxSizeMB)
	}
	if cfg.I18n.DefaultLanguage != "en" {
		t.Errorf("i18n.default_language = %q, want en from env", cfg.I18n.DefaultLanguage)
	}
}
