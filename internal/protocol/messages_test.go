package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessageUserMessage(t *testing.T) {
	raw := []byte(`{"type":"user_message","device_id":"dev-1","user_id":"u1","text":"any updates?","ts_ms":123}`)
	parsed, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	msg, ok := parsed.(UserMessage)
	if !ok {
		t.Fatalf("parsed type = %T, want UserMessage", parsed)
	}
	if msg.DeviceID != "dev-1" || msg.Text != "any updates?" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestParseClientMessageDeviceHello(t *testing.T) {
	raw := []byte(`{"type":"device_hello","device_id":"dev-1","user_id":"u1","agent_version":"0.3.0"}`)
	parsed, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	if _, ok := parsed.(DeviceHello); !ok {
		t.Fatalf("parsed type = %T, want DeviceHello", parsed)
	}
}

func TestParseClientMessageRejectsMissingFields(t *testing.T) {
	cases := []string{
		`{"type":"user_message","device_id":"dev-1"}`,
		`{"type":"user_message","text":"hello"}`,
		`{"type":"device_hello"}`,
		`{"type":"restart_request"}`,
	}
	for _, raw := range cases {
		if _, err := ParseClientMessage([]byte(raw)); err == nil {
			t.Fatalf("ParseClientMessage(%s) expected error, got nil", raw)
		}
	}
}

func TestParseClientMessageUnsupportedType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"task_result","device_id":"dev-1"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageInvalidJSON(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`{not json`)); err == nil {
		t.Fatalf("expected envelope error, got nil")
	}
}
