// Package ws provides the WebSocket gateway for observer connections.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/bridge/internal/config"
	"github.com/xiaot623/gogo/bridge/internal/domain"
	"github.com/xiaot623/gogo/bridge/internal/hub"
	"github.com/xiaot623/gogo/bridge/internal/protocol"
)

// Bridge is the part of the service observers can drive.
type Bridge interface {
	SubmitInput(ctx context.Context, req domain.SubmitInputRequest) (domain.SubmitInputResponse, error)
	Cancel(ctx context.Context, executionID string) (domain.Execution, error)
}

// Server handles WebSocket connections.
type Server struct {
	cfg      *config.Config
	hub      *hub.Hub
	bridge   Bridge
	upgrader websocket.Upgrader
	log      *zap.SugaredLogger
}

// NewServer creates a new WebSocket server.
func NewServer(cfg *config.Config, h *hub.Hub, b Bridge, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Server{
		cfg:    cfg,
		hub:    h,
		bridge: b,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Observers are gated by the shared secret, not by origin.
				return true
			},
		},
		log: log,
	}
}

// HandleWebSocket refuses the handshake when the connection ceiling is
// reached, otherwise upgrades and starts the pumps.
func (s *Server) HandleWebSocket(c echo.Context) error {
	if !s.hub.Reserve() {
		s.log.Warnw("connection refused", "reason", protocol.ErrorCodeConnectionLimit)
		return c.JSON(http.StatusServiceUnavailable, protocol.ErrorMessage{
			BaseMessage: protocol.BaseMessage{Type: protocol.TypeError, Ts: time.Now().UnixMilli()},
			Code:        protocol.ErrorCodeConnectionLimit,
			Message:     "connection limit reached",
		})
	}

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.hub.Release()
		s.log.Warnw("failed to upgrade websocket", "error", err)
		return nil
	}

	conn := s.hub.NewConnection(ws)
	s.hub.Register(conn)

	ws.SetReadLimit(s.cfg.MaxMessageSize)

	_ = s.hub.SendJSON(conn, protocol.CapabilitiesMessage{
		BaseMessage:     protocol.BaseMessage{Type: protocol.TypeCapabilities, Ts: time.Now().UnixMilli()},
		ConnectionID:    conn.ID,
		ProtocolVersion: protocol.Version,
		Events:          protocol.Events,
		Accepts:         protocol.Accepts,
	})

	go s.writePump(conn)
	go s.readPump(conn)

	return nil
}

// readPump reads messages from the WebSocket connection.
func (s *Server) readPump(conn *hub.Connection) {
	defer func() {
		s.hub.Unregister(conn)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	conn.Conn.SetPongHandler(func(string) error {
		conn.Touch()
		conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
		return nil
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Infow("websocket closed", "connectionId", conn.ID, "error", err)
			}
			break
		}

		conn.Touch()
		s.Route(conn.ID, message)
	}
}

// writePump writes messages to the WebSocket connection and pings it.
func (s *Server) writePump(conn *hub.Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				// Hub closed the channel
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.log.Infow("failed to write message", "connectionId", conn.ID, "error", err)
				s.hub.Unregister(conn)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.hub.Unregister(conn)
				return
			}
		}
	}
}

// Route dispatches one inbound message from a connection. Only input
// submissions and cancellations are accepted.
func (s *Server) Route(connectionID string, data []byte) {
	conn, ok := s.hub.Get(connectionID)
	if !ok {
		return
	}

	if !conn.Allow() {
		s.sendError(conn, "", protocol.ErrorCodeRateLimited, "too many messages")
		return
	}

	var base protocol.BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		s.sendError(conn, "", protocol.ErrorCodeInvalidMessage, "invalid JSON message")
		return
	}

	switch base.Type {
	case protocol.TypeInputSubmission:
		s.handleInputSubmission(conn, data)
	case protocol.TypeCancelExecution:
		s.handleCancelExecution(conn, data)
	default:
		s.sendError(conn, base.RequestID, protocol.ErrorCodeInvalidMessage, "unknown message type: "+base.Type)
	}
}

func (s *Server) handleInputSubmission(conn *hub.Connection, data []byte) {
	var msg protocol.InputSubmissionMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "", protocol.ErrorCodeInvalidMessage, "invalid input_submission message")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
	defer cancel()

	resp, err := s.bridge.SubmitInput(ctx, domain.SubmitInputRequest{
		ExecutionID: strings.TrimSpace(msg.ExecutionID),
		Value:       msg.Value,
		Kind:        msg.Kind,
	})

	out := protocol.InputResponseMessage{
		BaseMessage: protocol.BaseMessage{
			Type:        protocol.TypeInputResponse,
			Ts:          time.Now().UnixMilli(),
			RequestID:   msg.RequestID,
			ExecutionID: resp.ExecutionID,
		},
		Success: resp.Success,
	}
	if err != nil {
		out.Success = false
		out.Error = domain.PublicMessage(err)
		out.Code = string(domain.CodeOf(err))
	}
	s.log.Debugw("input submission", "connectionId", conn.ID, "executionId", resp.ExecutionID, "success", out.Success, "code", out.Code)
	_ = s.hub.SendJSON(conn, out)
}

func (s *Server) handleCancelExecution(conn *hub.Connection, data []byte) {
	var msg protocol.CancelExecutionMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "", protocol.ErrorCodeInvalidMessage, "invalid cancel_execution message")
		return
	}
	if msg.ExecutionID == "" {
		s.sendError(conn, msg.RequestID, protocol.ErrorCodeInvalidMessage, "executionId is required")
		return
	}

	// Cancel waits for the driver; keep the read loop free.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
		defer cancel()

		exec, err := s.bridge.Cancel(ctx, msg.ExecutionID)
		out := protocol.CancelResponseMessage{
			BaseMessage: protocol.BaseMessage{
				Type:        protocol.TypeCancelResponse,
				Ts:          time.Now().UnixMilli(),
				RequestID:   msg.RequestID,
				ExecutionID: msg.ExecutionID,
			},
			Success: err == nil,
			Status:  exec.Status,
		}
		if err != nil {
			out.Error = domain.PublicMessage(err)
			out.Code = string(domain.CodeOf(err))
		}
		_ = s.hub.SendJSON(conn, out)
	}()
}

// sendError sends an error message to a connection.
func (s *Server) sendError(conn *hub.Connection, requestID, code, message string) {
	_ = s.hub.SendJSON(conn, protocol.ErrorMessage{
		BaseMessage: protocol.BaseMessage{
			Type:      protocol.TypeError,
			Ts:        time.Now().UnixMilli(),
			RequestID: requestID,
		},
		Code:    code,
		Message: message,
	})
}
