package config

import (
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config repräsentiert die Hauptkonfiguration der Anwendung
type Config struct {
	Server Server `mapstructure:"server"`
	Log    Log    `mapstructure:"log"`
	Upload Upload `mapstructure:"upload"`
	Face   Face   `mapstructure:"face"`
	Models Models `mapstructure:"models"`
	I18n   I18n   `mapstructure:"i18n"`
	CORS   CORS   `mapstructure:"cors"`
	MQTT   MQTT   `mapstructure:"mqtt"`
}

// Server enthält Server-bezogene Einstellungen
type Server struct {
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	DataDir string `mapstructure:"data_dir"`
}

// Log enthält Log-Einstellungen
type Log struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// Upload enthält Einstellungen für den Datei-Upload
type Upload struct {
	MaxSizeMB        int64    `mapstructure:"max_size_mb"`        // Maximale Größe des Request-Bodys in Megabyte
	AllowedMimeTypes []string `mapstructure:"allowed_mime_types"` // Liste der akzeptierten Bildformate
}

// MaxSizeBytes gibt das Upload-Limit in Bytes zurück
func (u Upload) MaxSizeBytes() int64 {
	return u.MaxSizeMB * 1024 * 1024
}

// Face enthält Einstellungen für den Gesichtsvergleich
type Face struct {
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"` // Schwellenwert, ab dem zwei Gesichter als Match gelten
	DetectionConfidence float64 `mapstructure:"detection_confidence"` // Mindest-Konfidenz für eine Gesichtserkennung
	MinImageSize        int     `mapstructure:"min_image_size"`       // Untergrenze der längsten Bildseite in Pixeln
	MaxImageSize        int     `mapstructure:"max_image_size"`       // Obergrenze der längsten Bildseite in Pixeln
}

// Models enthält Einstellungen für den Modell-Speicher
type Models struct {
	Dir                    string `mapstructure:"dir"`                      // Lokales Verzeichnis mit den Modellgewichten
	BaseURL                string `mapstructure:"base_url"`                 // Überschreibt die Standard-Download-URLs (optional)
	DownloadEnabled        bool   `mapstructure:"download_enabled"`         // Fehlende Modelle aus dem Netz nachladen
	DownloadTimeoutSeconds int    `mapstructure:"download_timeout_seconds"` // Timeout pro Modell-Download
}

// I18n enthält Einstellungen für die Lokalisierung
type I18n struct {
	DefaultLanguage string `mapstructure:"default_language"`
	LocalesDir      string `mapstructure:"locales_dir"`
	SessionSecret   string `mapstructure:"session_secret"`
}

// CORS enthält Einstellungen für Cross-Origin-Anfragen
type CORS struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// MQTT enthält die Konfiguration für den optionalen Ergebnis-Publisher
type MQTT struct {
	Enabled  bool   `mapstructure:"enabled"`
	Broker   string `mapstructure:"broker"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	ClientID string `mapstructure:"client_id"`
	Topic    string `mapstructure:"topic"`
}

// Load lädt die Konfiguration aus Datei, Umgebungsvariablen und Standardwerten
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Standardwerte festlegen
	setDefaults(v)

	// Konfigurationsdatei laden, wenn vorhanden
	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			log.Warnf("Config file %s does not exist, using defaults", configPath)
		} else {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			log.Infof("Config loaded from %s", configPath)
		}
	}

	// Umgebungsvariablen überlagern die Konfiguration
	v.AutomaticEnv()
	v.SetEnvPrefix("FACE_VALIDATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Konfiguration in Struct umwandeln
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Sicherstellen, dass erforderliche Verzeichnisse existieren
	if err := ensureDirectories(&cfg); err != nil {
		return nil, fmt.Errorf("failed to create required directories: %w", err)
	}

	return &cfg, nil
}

// setDefaults legt Standardwerte für die Konfiguration fest
func setDefaults(v *viper.Viper) {
	// Server-Standardwerte
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.data_dir", "./data")

	// Log-Standardwerte
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")

	// Upload-Standardwerte
	v.SetDefault("upload.max_size_mb", 20)
	v.SetDefault("upload.allowed_mime_types", []string{
		"image/jpeg",
		"image/png",
		"image/webp",
		"image/gif",
		"image/bmp",
		"image/tiff",
		"image/svg+xml",
		"image/heic",
		"image/heif",
	})

	// Gesichtsvergleich-Standardwerte
	v.SetDefault("face.similarity_threshold", 0.75)
	v.SetDefault("face.detection_confidence", 0.5)
	v.SetDefault("face.min_image_size", 224)
	v.SetDefault("face.max_image_size", 1024)

	// Modell-Standardwerte
	v.SetDefault("models.dir", "./data/models")
	v.SetDefault("models.base_url", "")
	v.SetDefault("models.download_enabled", true)
	v.SetDefault("models.download_timeout_seconds", 120)

	// I18n-Standardwerte
	v.SetDefault("i18n.default_language", "pt")
	v.SetDefault("i18n.locales_dir", "./web/locales")
	v.SetDefault("i18n.session_secret", "face-validate-session")

	// CORS-Standardwerte
	v.SetDefault("cors.allowed_origins", []string{"*"})

	// MQTT-Standardwerte
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.client_id", "face-validate-go")
	v.SetDefault("mqtt.topic", "face-validate/results")
}

// ensureDirectories stellt sicher, dass die benötigten Verzeichnisse existieren
func ensureDirectories(cfg *Config) error {
	dirs := []string{
		cfg.Server.DataDir,
		cfg.Models.Dir,
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("could not create directory %s: %w", dir, err)
		}
	}

	return nil
}
