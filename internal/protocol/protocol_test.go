package protocol

import (
	"encoding/json"
	"testing"
)

func TestValidate(t *testing.T) {
	valid := []Message{
		NewHello(RoleConsumer, ""),
		NewHello(RoleWatcher, "s3"),
		NewScreenshot([]byte{1, 2, 3}, "shot1.png", "abc123"),
		NewFileSkipped("clip1.mp4", SkipReasonVideo),
		NewFileSkipped("big.gif", SkipReasonTooLarge),
		NewManualSyncComplete(SyncSummary{Succeeded: 2, Total: 3, Errors: []string{"x"}}),
		NewSwitchSyncMode("smb"),
		{Type: MsgScreenshotReceived, FileRef: "abc123"},
		{Type: MsgScreenshotReceived, Filename: "shot1.png"},
		{Type: MsgScreenshotFailed, Filename: "shot1.png", Keep: true},
		{Type: MsgStartRealtime},
		{Type: MsgStopRealtime},
		{Type: MsgManualSync},
		{Type: MsgPing},
		{Type: MsgPong},
	}
	for _, m := range valid {
		if err := Validate(m); err != nil {
			t.Errorf("Validate(%s) failed: %v", m.Type, err)
		}
	}

	invalid := []Message{
		{},
		{Type: "bogus"},
		{Type: MsgHello, Role: "admin", ClientID: "x"},
		{Type: MsgHello, Role: RoleConsumer},
		{Type: MsgScreenshot, Filename: "a.png"},
		{Type: MsgScreenshot, Data: []byte{1}},
		{Type: MsgScreenshotReceived},
		{Type: MsgFileSkipped, Filename: "a.mp4", Reason: "huge"},
		{Type: MsgSwitchSyncMode},
		{Type: MsgManualSyncComplete},
	}
	for _, m := range invalid {
		if err := Validate(m); err == nil {
			t.Errorf("Validate(%s) should have failed", m.Type)
		}
	}
}

func TestScreenshotWireFormat(t *testing.T) {
	msg := NewScreenshot([]byte("pngbytes"), "shot1.png", "key/shot1.png")

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	// Payload bytes must travel base64-encoded in a "bytes" field.
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}
	if raw["bytes"] != "cG5nYnl0ZXM=" {
		t.Errorf("expected base64 payload, got %v", raw["bytes"])
	}
	if raw["type"] != MsgScreenshot {
		t.Errorf("expected type screenshot, got %v", raw["type"])
	}

	var back Message
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(back.Data) != "pngbytes" || back.Filename != "shot1.png" || back.FileRef != "key/shot1.png" {
		t.Errorf("round trip mismatch: %+v", back)
	}
}

func TestToConsumer(t *testing.T) {
	for _, mt := range []string{MsgScreenshot, MsgFileSkipped, MsgManualSyncComplete} {
		if !ToConsumer(mt) {
			t.Errorf("%s should flow to the consumer", mt)
		}
	}
	for _, mt := range []string{MsgScreenshotReceived, MsgScreenshotFailed, MsgStartRealtime, MsgStopRealtime, MsgManualSync, MsgSwitchSyncMode} {
		if ToConsumer(mt) {
			t.Errorf("%s should flow to the watcher", mt)
		}
	}
}
