package middleware

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

// I18nConfig definiert die Konfiguration für die i18n-Middleware
type I18nConfig struct {
	DefaultLanguage string
	LocalesDir      string
}

// Translator hält die Übersetzungsfunktionalität
type Translator struct {
	defaultLanguage string
	bundle          *i18n.Bundle
	localizer       map[string]*i18n.Localizer
	translations    map[string]map[string]interface{}
}

// NewTranslator erstellt einen neuen Übersetzer und lädt alle
// JSON-Übersetzungsdateien aus dem Locales-Verzeichnis
func NewTranslator(config I18nConfig) (*Translator, error) {
	if config.DefaultLanguage == "" {
		config.DefaultLanguage = "pt"
	}
	if config.LocalesDir == "" {
		config.LocalesDir = "./web/locales"
	}

	bundle := i18n.NewBundle(language.MustParse(config.DefaultLanguage))
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	t := &Translator{
		defaultLanguage: config.DefaultLanguage,
		bundle:          bundle,
		localizer:       make(map[string]*i18n.Localizer),
		translations:    make(map[string]map[string]interface{}),
	}

	localeFiles, err := os.ReadDir(config.LocalesDir)
	if err != nil {
		return nil, err
	}

	for _, file := range localeFiles {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
			continue
		}

		// Sprachcode aus dem Dateinamen extrahieren (z.B. "pt.json" -> "pt")
		langCode := strings.TrimSuffix(file.Name(), filepath.Ext(file.Name()))

		filePath := filepath.Join(config.LocalesDir, file.Name())
		if _, err := bundle.LoadMessageFile(filePath); err != nil {
			return nil, err
		}

		t.localizer[langCode] = i18n.NewLocalizer(bundle, langCode)

		// Vollständige Übersetzungsdatei auch als Map laden für direkten Zugriff
		jsonData, err := os.ReadFile(filePath)
		if err != nil {
			return nil, err
		}

		var translations map[string]interface{}
		if err := json.Unmarshal(jsonData, &translations); err != nil {
			return nil, err
		}

		t.translations[langCode] = flattenMap(translations, "")
	}

	return t, nil
}

// Supported gibt zurück, ob eine Sprache geladen wurde
func (t *Translator) Supported(lang string) bool {
	_, ok := t.translations[lang]
	return ok
}

// Translate übersetzt einen Schlüssel in die angegebene Sprache, mit
// Fallback auf die Standardsprache und zuletzt auf den Schlüssel selbst
func (t *Translator) Translate(lang, key string) string {
	if msgs, ok := t.translations[lang]; ok {
		if val, ok := msgs[key]; ok {
			if s, ok := val.(string); ok {
				return s
			}
		}
	}

	if msgs, ok := t.translations[t.defaultLanguage]; ok {
		if val, ok := msgs[key]; ok {
			if s, ok := val.(string); ok {
				return s
			}
		}
	}

	return key
}

// I18n liefert die gin-Middleware, die pro Anfrage die Sprache bestimmt
// und eine Übersetzungsfunktion in den Kontext legt.
//
// Reihenfolge der Sprachauswahl: ?lang-Parameter, dann Session, dann
// Accept-Language-Header (enthält "en" -> Englisch), sonst die
// Standardsprache.
func I18n(translator *Translator) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		lang := c.Query("lang")

		if lang != "" && translator.Supported(lang) {
			session.Set("language", lang)
			session.Save()
		} else {
			lang = ""
			if sessionLang, ok := session.Get("language").(string); ok && translator.Supported(sessionLang) {
				lang = sessionLang
			}
		}

		// Accept-Language-Header auswerten, wenn weder Parameter noch
		// Session eine Sprache liefern
		if lang == "" {
			acceptLanguage := c.GetHeader("Accept-Language")
			if strings.Contains(strings.ToLower(acceptLanguage), "en") {
				lang = "en"
			}
		}

		if lang == "" || !translator.Supported(lang) {
			lang = translator.defaultLanguage
		}

		c.Set("language", lang)
		c.Set("t", func(key string) string {
			return translator.Translate(lang, key)
		})

		c.Next()
	}
}

// TranslateFunc holt die Übersetzungsfunktion aus dem Kontext
func TranslateFunc(c *gin.Context) func(string) string {
	if fn, ok := c.Get("t"); ok {
		if t, ok := fn.(func(string) string); ok {
			return t
		}
	}
	// Fallback: Schlüssel unverändert zurückgeben
	return func(key string) string { return key }
}

// flattenMap erstellt eine flache Map für einfacheren Zugriff
// (z.B. "errors.processing" statt errors["processing"])
func flattenMap(input map[string]interface{}, prefix string) map[string]interface{} {
	result := make(map[string]interface{})

	for k, v := range input {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}

		switch child := v.(type) {
		case map[string]interface{}:
			for childKey, childValue := range flattenMap(child, key) {
				result[childKey] = childValue
			}
		default:
			result[key] = v
		}
	}

	return result
}
