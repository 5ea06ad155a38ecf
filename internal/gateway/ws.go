package gateway

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okibrian/valet/internal/protocol"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 120 * time.Second
	wsReadLimit    = 1 << 20
)

// handleAgentWS runs one local-agent connection: a single writer pump
// draining the device's outbound queue, and a read loop feeding frames
// into the intake pipeline.
func (s *Server) handleAgentWS(w http.ResponseWriter, r *http.Request) {
	deviceID := strings.TrimSpace(r.URL.Query().Get("device_id"))
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if deviceID == "" {
		respondError(w, http.StatusBadRequest, "missing_device_id", "query parameter device_id is required")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.devices.Register(deviceID, userID, "")
	s.metrics.SetActiveDevices(s.devices.OnlineCount())
	log.Printf("gateway: device %s connected", deviceID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := s.registerOutbound(deviceID)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if t, ok := serverMessageType(msg); ok {
					s.metrics.ObserveWSMessage("outbound", string(t))
				}
			}
		}
	}()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.enqueue(outbound, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				DeviceID:  deviceID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Retryable: false,
				Detail:    err.Error(),
			})
			continue
		}

		if err := s.devices.Touch(deviceID); err != nil {
			log.Printf("gateway: touch device %s: %v", deviceID, err)
		}

		switch msg := parsed.(type) {
		case protocol.DeviceHello:
			s.metrics.ObserveWSMessage("inbound", string(protocol.TypeDeviceHello))
			if msg.UserID != "" {
				userID = msg.UserID
			}
			s.devices.Register(msg.DeviceID, msg.UserID, msg.AgentVersion)
			s.enqueue(outbound, protocol.Ack{Type: protocol.TypeAck, Ref: protocol.TypeDeviceHello})

		case protocol.UserMessage:
			s.metrics.ObserveWSMessage("inbound", string(protocol.TypeUserMessage))
			uid := msg.UserID
			if uid == "" {
				uid = userID
			}
			for _, frame := range s.handleUserText(ctx, msg.DeviceID, uid, msg.Text) {
				s.enqueue(outbound, frame)
			}

		case protocol.RestartRequest:
			s.metrics.ObserveWSMessage("inbound", string(protocol.TypeRestartRequest))
			n := s.restartDeviceTasks(msg.DeviceID, userID)
			s.enqueue(outbound, protocol.Ack{
				Type:   protocol.TypeAck,
				Ref:    protocol.TypeRestartRequest,
				Detail: fmt.Sprintf("restarted %d tasks", n),
			})
		}

		select {
		case <-ctx.Done():
			break readLoop
		default:
		}
	}

	cancel()
	<-writerDone
	// A reconnect may already own the device; only the last connection
	// marks it offline.
	if s.unregisterOutbound(deviceID, outbound) {
		if _, err := s.devices.End(deviceID); err == nil {
			s.metrics.SetActiveDevices(s.devices.OnlineCount())
		}
		log.Printf("gateway: device %s disconnected", deviceID)
	}
}

// restartDeviceTasks cancels everything live for the device and
// re-submits the cancelled prompts as fresh tasks.
func (s *Server) restartDeviceTasks(deviceID, userID string) int {
	prompts := s.registry.CancelAllForRestart(deviceID)
	n := 0
	for _, prompt := range prompts {
		if _, err := s.spawnTask(deviceID, userID, prompt); err != nil {
			log.Printf("gateway: restart spawn for device %s: %v", deviceID, err)
			continue
		}
		n++
	}
	return n
}

// enqueue adds a frame to a connection's write queue, dropping when the
// queue is saturated so the reader is never blocked by a slow client.
func (s *Server) enqueue(outbound chan any, msg any) {
	select {
	case outbound <- msg:
	default:
		log.Printf("gateway: outbound queue full, dropping %T", msg)
	}
}

func serverMessageType(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.Ack:
		return m.Type, true
	case protocol.AgentReply:
		return m.Type, true
	case protocol.TaskUpdate:
		return m.Type, true
	case protocol.TaskQuestion:
		return m.Type, true
	case protocol.TaskResult:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
