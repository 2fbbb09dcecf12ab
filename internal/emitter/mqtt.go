// Package emitter publishes pipeline statistics to an MQTT broker. The log
// content itself never goes over the network; only operational counters do.
package emitter

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/visiona/canlogd/internal/stats"
)

const (
	connectRetryInterval = 2 * time.Second
	maxReconnectInterval = 30 * time.Second
	publishTimeout       = time.Second
)

// StatsPayload is the JSON document published per report interval.
type StatsPayload struct {
	SessionID string         `json:"session_id"`
	Interface string         `json:"interface"`
	RatePerS  uint64         `json:"rate_per_s"`
	Counters  stats.Snapshot `json:"counters"`
	SentAt    time.Time      `json:"sent_at"`
}

// MQTTEmitter publishes stats payloads to a fixed topic.
type MQTTEmitter struct {
	client mqtt.Client
	topic  string

	sessionID string
	iface     string

	mu        sync.Mutex
	connected bool
	errors    uint64
}

// New configures the client without connecting.
func New(broker, clientID, topic, sessionID, iface string) *MQTTEmitter {
	e := &MQTTEmitter{
		topic:     topic,
		sessionID: sessionID,
		iface:     iface,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(connectRetryInterval)
	opts.SetMaxReconnectInterval(maxReconnectInterval)

	opts.OnConnect = func(mqtt.Client) {
		e.mu.Lock()
		e.connected = true
		e.mu.Unlock()
		slog.Info("mqtt connected", "broker", broker, "client_id", clientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		e.mu.Lock()
		e.connected = false
		e.mu.Unlock()
		slog.Warn("mqtt connection lost, will auto-reconnect", "error", err)
	}

	e.client = mqtt.NewClient(opts)
	return e
}

// Connect starts the connection attempt; with retry enabled it returns
// quickly and reconnection is handled in the background.
func (e *MQTTEmitter) Connect() error {
	tok := e.client.Connect()
	tok.Wait()
	if err := tok.Error(); err != nil {
		return fmt.Errorf("emitter: connect: %w", err)
	}
	return nil
}

// PublishStats sends one payload; failures are counted and logged, never
// propagated into the pipeline.
func (e *MQTTEmitter) PublishStats(snap stats.Snapshot, rate uint64) {
	payload := StatsPayload{
		SessionID: e.sessionID,
		Interface: e.iface,
		RatePerS:  rate,
		Counters:  snap,
		SentAt:    time.Now().UTC(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("mqtt stats encode failed", "error", err)
		return
	}

	tok := e.client.Publish(e.topic, 0, false, data)
	if !tok.WaitTimeout(publishTimeout) || tok.Error() != nil {
		e.mu.Lock()
		e.errors++
		n := e.errors
		e.mu.Unlock()
		slog.Debug("mqtt stats publish failed", "errors", n, "error", tok.Error())
	}
}

// Connected reports the current broker connection state.
func (e *MQTTEmitter) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

// Close disconnects with a short grace period.
func (e *MQTTEmitter) Close() {
	e.client.Disconnect(uint(publishTimeout.Milliseconds()))
}
