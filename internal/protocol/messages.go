package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants on the device link.
type MessageType string

const (
	// Client (local agent) to server.
	TypeDeviceHello    MessageType = "device_hello"
	TypeUserMessage    MessageType = "user_message"
	TypeRestartRequest MessageType = "restart_request"

	// Server to client.
	TypeAck          MessageType = "ack"
	TypeAgentReply   MessageType = "agent_reply"
	TypeTaskUpdate   MessageType = "task_update"
	TypeTaskQuestion MessageType = "task_question"
	TypeTaskResult   MessageType = "task_result"
	TypeErrorEvent   MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// DeviceHello is the first frame a local agent sends after connecting.
type DeviceHello struct {
	Type         MessageType `json:"type"`
	DeviceID     string      `json:"device_id"`
	UserID       string      `json:"user_id"`
	AgentVersion string      `json:"agent_version,omitempty"`
}

// UserMessage carries one natural-language prompt or follow-up.
type UserMessage struct {
	Type     MessageType `json:"type"`
	DeviceID string      `json:"device_id"`
	UserID   string      `json:"user_id,omitempty"`
	Text     string      `json:"text"`
	TSMs     int64       `json:"ts_ms,omitempty"`
}

// RestartRequest asks the server to cancel the device's tasks and
// re-submit their prompts once the agent has reconnected.
type RestartRequest struct {
	Type     MessageType `json:"type"`
	DeviceID string      `json:"device_id"`
}

type Ack struct {
	Type   MessageType `json:"type"`
	Ref    MessageType `json:"ref"`
	Detail string      `json:"detail,omitempty"`
}

// AgentReply is a direct conversational answer: chat, a status
// summary, a task acknowledgement, or a refusal.
type AgentReply struct {
	Type     MessageType `json:"type"`
	DeviceID string      `json:"device_id"`
	Kind     string      `json:"kind"`
	Text     string      `json:"text"`
	TaskID   string      `json:"task_id,omitempty"`
}

type TaskUpdate struct {
	Type     MessageType `json:"type"`
	DeviceID string      `json:"device_id"`
	TaskID   string      `json:"task_id"`
	Name     string      `json:"name"`
	Status   string      `json:"status"`
	Note     string      `json:"note,omitempty"`
}

// TaskQuestion tells the user a task is blocked waiting on them.
type TaskQuestion struct {
	Type     MessageType `json:"type"`
	DeviceID string      `json:"device_id"`
	TaskID   string      `json:"task_id"`
	Name     string      `json:"name"`
	Reason   string      `json:"reason"`
	Hint     string      `json:"hint,omitempty"`
}

type TaskResult struct {
	Type     MessageType `json:"type"`
	DeviceID string      `json:"device_id"`
	TaskID   string      `json:"task_id"`
	Name     string      `json:"name"`
	Success  bool        `json:"success"`
	Summary  string      `json:"summary,omitempty"`
	Error    string      `json:"error,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	DeviceID  string      `json:"device_id,omitempty"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

// ParseClientMessage decodes and validates one inbound frame from a
// local agent.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeDeviceHello:
		var msg DeviceHello
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.DeviceID) == "" {
			return nil, errors.New("invalid device_hello: device_id is required")
		}
		return msg, nil
	case TypeUserMessage:
		var msg UserMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.DeviceID) == "" || strings.TrimSpace(msg.Text) == "" {
			return nil, errors.New("invalid user_message: device_id and text are required")
		}
		return msg, nil
	case TypeRestartRequest:
		var msg RestartRequest
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.DeviceID) == "" {
			return nil, errors.New("invalid restart_request: device_id is required")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
