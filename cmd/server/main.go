package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"face-validate-go/config"
	"face-validate-go/internal/api/handlers"
	"face-validate-go/internal/api/middleware"
	"face-validate-go/internal/imaging"
	"face-validate-go/internal/integrations/mqtt"
	"face-validate-go/internal/integrations/opencv"
	"face-validate-go/internal/logger"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const defaultConfigPath = "config.yaml"

func main() {
	configPath := os.Getenv("FACE_VALIDATE_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		// Use logrus fatal even before full initialization if config fails
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	if err := logger.Init(cfg.Log); err != nil {
		log.Errorf("Failed to initialize logger completely: %v", err)
	}

	// Initialize translator for localized error messages
	translator, err := middleware.NewTranslator(middleware.I18nConfig{
		DefaultLanguage: cfg.I18n.DefaultLanguage,
		LocalesDir:      cfg.I18n.LocalesDir,
	})
	if err != nil {
		log.Fatalf("Failed to load translations: %v", err)
	}

	// Initialize the model store and warm it up in the background.
	// A failed warm-up only degrades comparisons to the mock
	// implementation; the API stays available either way.
	modelStore := opencv.NewModelStore(cfg.Models)
	go func() {
		if err := modelStore.EnsureLoaded(context.Background()); err != nil {
			log.WithError(err).Warn("Model warm-up failed; comparisons will use the mock implementation until models become available")
		}
	}()

	extractor := opencv.NewExtractor(cfg.Face, modelStore)

	// Optional MQTT result publisher
	mqttClient := mqtt.NewClient(cfg.MQTT)
	if err := mqttClient.Start(); err != nil {
		log.WithError(err).Warn("MQTT publisher unavailable, continuing without it")
	}

	verifier := imaging.NewVerifier(cfg.Upload.AllowedMimeTypes)
	tempStore := imaging.NewTempStore("")

	// Set up the HTTP router
	if cfg.Log.Level != "debug" && cfg.Log.Level != "trace" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	router.MaxMultipartMemory = cfg.Upload.MaxSizeBytes()

	corsConfig := cors.DefaultConfig()
	if len(cfg.CORS.AllowedOrigins) == 1 && cfg.CORS.AllowedOrigins[0] == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.CORS.AllowedOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Accept-Language", "Authorization"}
	router.Use(cors.New(corsConfig))

	sessionStore := cookie.NewStore([]byte(cfg.I18n.SessionSecret))
	router.Use(sessions.Sessions("face_validate_session", sessionStore))
	router.Use(middleware.I18n(translator))

	// Register routes
	validateHandler := handlers.NewValidateHandler(cfg, verifier, tempStore, extractor, mqttClient)
	validateHandler.RegisterRoutes(router)

	systemHandler := handlers.NewSystemHandler(modelStore.Loaded)
	systemHandler.RegisterRoutes(router)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	// Start the server and wait for a shutdown signal
	errCh := make(chan error, 1)
	go func() {
		log.Infof("Face validation server listening on %s", server.Addr)
		err := server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	case sig := <-sigCh:
		log.Infof("Received signal %s, shutting down...", sig)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Errorf("Graceful shutdown failed: %v", err)
		}
	}

	mqttClient.Stop()
	modelStore.Close()
	log.Info("Server stopped")
}
