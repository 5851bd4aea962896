// Package mqtt bridges the hub's devices to an MQTT broker: retained device
// state, system lifecycle events and inbound commands.
package mqtt

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/sweeney/gpio-hub/internal/device"
)

const (
	suffixState  = "state"
	suffixSet    = "set"
	suffixSystem = "system"
)

// Topics builds the topic names under a prefix.
type Topics struct {
	Prefix string
}

// State is where a device's retained state is published.
func (t Topics) State(id string) string {
	return t.Prefix + "/" + id + "/" + suffixState
}

// Set is where commands for a device are received.
func (t Topics) Set(id string) string {
	return t.Prefix + "/" + id + "/" + suffixSet
}

// Commands is the subscription filter matching every device's Set topic.
func (t Topics) Commands() string {
	return t.Prefix + "/+/" + suffixSet
}

// System is where lifecycle events are published.
func (t Topics) System() string {
	return t.Prefix + "/" + suffixSystem
}

// ParseSet extracts the device id from a command topic.
func (t Topics) ParseSet(topic string) (string, bool) {
	rest := strings.TrimPrefix(topic, t.Prefix+"/")
	if rest == topic {
		return "", false
	}
	id := strings.TrimSuffix(rest, "/"+suffixSet)
	if id == rest || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// Command is an action requested for a device over MQTT.
type Command struct {
	ID     string
	Action string
}

// CommandHandler receives commands. It is called on the client's goroutine.
type CommandHandler func(Command)

// Publisher publishes device state and system events and delivers commands.
type Publisher interface {
	// PublishState sends a device's state, retained.
	// Returns error if publishing fails (should not crash the process).
	PublishState(st device.State) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Subscribe registers the handler for inbound commands.
	Subscribe(handler CommandHandler) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// StatePayload is the JSON published for a device.
type StatePayload struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	State     string `json:"state"`
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
	Offsets   []int  `json:"offsets"`
	Timestamp string `json:"timestamp"`
}

// FormatState creates the JSON payload for a device state.
func FormatState(st device.State, ts time.Time) ([]byte, error) {
	return json.Marshal(StatePayload{
		ID:        st.ID,
		Name:      st.Name,
		Kind:      st.Kind.String(),
		State:     st.Value(),
		Available: st.Available,
		Error:     st.Error,
		Offsets:   st.Offsets,
		Timestamp: ts.UTC().Format(time.RFC3339),
	})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// NopPublisher discards everything. It stands in when MQTT is disabled.
type NopPublisher struct{}

func (NopPublisher) PublishState(device.State) error { return nil }
func (NopPublisher) PublishSystem(SystemEvent) error { return nil }
func (NopPublisher) Subscribe(CommandHandler) error  { return nil }
func (NopPublisher) Close() error                    { return nil }
func (NopPublisher) IsConnected() bool               { return false }
