// Package protocol defines the typed JSON messages carried over the relay
// connection between the engine and the downstream consumer.
package protocol

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message types.
const (
	// Housekeeping
	MsgHello = "hello"
	MsgPing  = "ping"
	MsgPong  = "pong"

	// Engine -> consumer
	MsgScreenshot         = "screenshot"
	MsgFileSkipped        = "file-skipped"
	MsgManualSyncComplete = "manual-sync-complete"

	// Consumer -> engine
	MsgScreenshotReceived = "screenshot-received"
	MsgScreenshotFailed   = "screenshot-failed"
	MsgStartRealtime      = "start-realtime"
	MsgStopRealtime       = "stop-realtime"
	MsgManualSync         = "manual-sync"
	MsgSwitchSyncMode     = "switch-sync-mode"
)

// Connection roles announced in hello messages.
const (
	RoleConsumer = "consumer"
	RoleWatcher  = "watcher"
)

// Skip reasons carried by file-skipped messages.
const (
	SkipReasonVideo    = "video"
	SkipReasonTooLarge = "too-large"
)

// SyncSummary reports the outcome of a manual full-folder sweep.
type SyncSummary struct {
	Succeeded int      `json:"succeeded"`
	Total     int      `json:"total"`
	Errors    []string `json:"errors,omitempty"`
}

// Message is the wire format for all relay traffic. Fields are populated
// depending on Type; unused fields are omitted.
type Message struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId,omitempty"`
	Role     string `json:"role,omitempty"`
	Mode     string `json:"mode,omitempty"`

	// screenshot payload
	Data      []byte `json:"bytes,omitempty"` // base64 on the wire
	Filename  string `json:"filename,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	FileRef   string `json:"fileRef,omitempty"` // backend-specific file reference

	// file-skipped
	Reason string `json:"reason,omitempty"`

	// screenshot-failed
	Keep bool `json:"keep,omitempty"`

	// manual-sync-complete
	Summary *SyncSummary `json:"summary,omitempty"`
}

// NewHello builds a hello message for the given role. Watchers include their
// active mode. The generated client ID identifies the connection to the hub.
func NewHello(role, syncMode string) Message {
	return Message{
		Type:     MsgHello,
		ClientID: uuid.New().String(),
		Role:     role,
		Mode:     syncMode,
	}
}

// NewScreenshot builds the payload message for a relayed file.
func NewScreenshot(data []byte, filename, fileRef string) Message {
	return Message{
		Type:      MsgScreenshot,
		Data:      data,
		Filename:  filename,
		FileRef:   fileRef,
		Timestamp: time.Now().Unix(),
	}
}

// NewFileSkipped builds the informational skip notification.
func NewFileSkipped(filename, reason string) Message {
	return Message{
		Type:      MsgFileSkipped,
		Filename:  filename,
		Reason:    reason,
		Timestamp: time.Now().Unix(),
	}
}

// NewManualSyncComplete builds the manual sweep summary message.
func NewManualSyncComplete(summary SyncSummary) Message {
	return Message{
		Type:      MsgManualSyncComplete,
		Summary:   &summary,
		Timestamp: time.Now().Unix(),
	}
}

// NewSwitchSyncMode builds the mode switch request.
func NewSwitchSyncMode(syncMode string) Message {
	return Message{Type: MsgSwitchSyncMode, Mode: syncMode}
}

// Validate checks that a message carries the fields its type requires.
func Validate(m Message) error {
	switch m.Type {
	case "":
		return fmt.Errorf("message has no type")
	case MsgHello:
		if m.Role != RoleConsumer && m.Role != RoleWatcher {
			return fmt.Errorf("hello with unknown role %q", m.Role)
		}
		if m.ClientID == "" {
			return fmt.Errorf("hello without client id")
		}
	case MsgScreenshot:
		if len(m.Data) == 0 {
			return fmt.Errorf("screenshot without payload")
		}
		if m.Filename == "" {
			return fmt.Errorf("screenshot without filename")
		}
	case MsgScreenshotReceived:
		if m.FileRef == "" && m.Filename == "" {
			return fmt.Errorf("screenshot-received without file reference or filename")
		}
	case MsgScreenshotFailed:
		if m.FileRef == "" && m.Filename == "" {
			return fmt.Errorf("screenshot-failed without file reference or filename")
		}
	case MsgFileSkipped:
		if m.Reason != SkipReasonVideo && m.Reason != SkipReasonTooLarge {
			return fmt.Errorf("file-skipped with unknown reason %q", m.Reason)
		}
	case MsgSwitchSyncMode:
		if m.Mode == "" {
			return fmt.Errorf("switch-sync-mode without mode")
		}
	case MsgManualSyncComplete:
		if m.Summary == nil {
			return fmt.Errorf("manual-sync-complete without summary")
		}
	case MsgPing, MsgPong, MsgStartRealtime, MsgStopRealtime, MsgManualSync:
		// No required fields.
	default:
		return fmt.Errorf("unknown message type %q", m.Type)
	}
	return nil
}

// ToConsumer reports whether a message flows from the watcher to the
// consumer; all other valid traffic flows the opposite way.
func ToConsumer(msgType string) bool {
	switch msgType {
	case MsgScreenshot, MsgFileSkipped, MsgManualSyncComplete:
		return true
	}
	return false
}
