package handlers

import (
	"net/http"
	"time"

	"face-validate-go/internal/utils"

	"github.com/gin-gonic/gin"
)

// SystemHandler behandelt Health- und Statistik-Endpunkte
type SystemHandler struct {
	modelsLoaded func() bool
}

// NewSystemHandler erstellt einen neuen SystemHandler.
// modelsLoaded meldet, ob alle Gesichtsmodelle geladen sind.
func NewSystemHandler(modelsLoaded func() bool) *SystemHandler {
	return &SystemHandler{modelsLoaded: modelsLoaded}
}

// RegisterRoutes registriert die System-Routen
func (h *SystemHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
	router.GET("/api/system/stats", h.SystemStats)
}

// Health gibt den Zustand des Dienstes zurück
func (h *SystemHandler) Health(c *gin.Context) {
	loaded := false
	if h.modelsLoaded != nil {
		loaded = h.modelsLoaded()
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        "OK",
		"models_loaded": loaded,
		"timestamp":     time.Now().Format(time.RFC3339),
	})
}

// SystemStats liefert aktuelle Prozess-Statistiken
func (h *SystemHandler) SystemStats(c *gin.Context) {
	c.JSON(http.StatusOK, utils.CollectSystemStats())
}
