package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	"face-validate-go/config"
	"face-validate-go/internal/core/facecompare"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// Client veröffentlicht Vergleichsergebnisse auf einem MQTT-Topic,
// damit externe Systeme degradierte Vergleiche (Mock-Pfad) und
// Trefferquoten beobachten können. Standardmäßig deaktiviert.
type Client struct {
	config config.MQTT
	client mqtt.Client
}

// ComparisonEvent ist die veröffentlichte Darstellung eines Ergebnisses
type ComparisonEvent struct {
	IsMatch          bool      `json:"is_match"`
	Similarity       float64   `json:"similarity"`
	UsingMock        bool      `json:"using_mock"`
	ProcessingTimeMs int64     `json:"processing_time_ms"`
	Timestamp        time.Time `json:"timestamp"`
}

// NewClient erstellt einen neuen MQTT-Client
func NewClient(cfg config.MQTT) *Client {
	return &Client{config: cfg}
}

// Start verbindet den Client mit dem Broker. Bei deaktivierter
// Konfiguration ist Start ein No-op.
func (c *Client) Start() error {
	if !c.config.Enabled {
		log.Info("MQTT client is disabled in configuration")
		return nil
	}

	opts := mqtt.NewClientOptions()

	brokerURL := fmt.Sprintf("tcp://%s:%d", c.config.Broker, c.config.Port)
	opts.AddBroker(brokerURL)
	opts.SetClientID(c.config.ClientID)

	if c.config.Username != "" {
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
	}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Infof("MQTT connected, publishing results to topic '%s'", c.config.Topic)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warnf("MQTT connection lost: %v", err)
	})

	// Automatische Wiederverbindung
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)

	c.client = mqtt.NewClient(opts)

	log.Infof("Connecting to MQTT broker at %s", brokerURL)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		log.Errorf("Failed to connect to MQTT broker: %v", token.Error())
		return token.Error()
	}

	return nil
}

// Stop trennt die Verbindung zum Broker
func (c *Client) Stop() {
	if c.client != nil && c.client.IsConnected() {
		log.Info("Disconnecting MQTT client...")
		c.client.Disconnect(250)
	}
}

// PublishComparison veröffentlicht ein Vergleichsergebnis. Fehler werden
// geloggt, aber nicht zurückgegeben - das Veröffentlichen darf die
// eigentliche Antwort nie beeinflussen.
func (c *Client) PublishComparison(result *facecompare.ValidationResult) {
	if !c.config.Enabled || c.client == nil || !c.client.IsConnected() {
		return
	}

	event := ComparisonEvent{
		IsMatch:    result.IsMatch,
		Similarity: result.Similarity,
		UsingMock:  result.Source == facecompare.SourceMock,
		Timestamp:  time.Now(),
	}
	if result.DebugInfo != nil {
		event.ProcessingTimeMs = result.DebugInfo.ProcessingTimeMs
	}

	payload, err := json.Marshal(event)
	if err != nil {
		log.Errorf("Failed to marshal comparison event: %v", err)
		return
	}

	token := c.client.Publish(c.config.Topic, 0, false, payload)
	go func() {
		if token.Wait() && token.Error() != nil {
			log.Warnf("Failed to publish comparison event: %v", token.Error())
		}
	}()
}
