package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/strataline/callflow-backend/internal/domain/call"
	domainerrors "github.com/strataline/callflow-backend/internal/domain/errors"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// CommandHandler executes call control commands received from observers.
type CommandHandler interface {
	EndCall(ctx context.Context, id uuid.UUID) (*call.Call, error)
}

// command is one inbound observer message.
type command struct {
	Action string `json:"action"`
	CallID string `json:"callId"`
}

// commandResult acknowledges a command back to the issuing observer only.
type commandResult struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

// Client is one connected observer.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	commands CommandHandler
	logger   *zap.Logger
}

// ReadPump consumes observer messages until the connection drops. It also
// keeps the read deadline fresh from pong frames.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("observer read error", zap.Error(err))
			}
			return
		}
		c.handleCommand(ctx, message)
	}
}

func (c *Client) handleCommand(ctx context.Context, message []byte) {
	var cmd command
	if err := json.Unmarshal(message, &cmd); err != nil {
		c.reply(commandResult{Type: "commandResult", OK: false, Error: "malformed command"})
		return
	}

	switch cmd.Action {
	case "endCall":
		id, err := uuid.Parse(cmd.CallID)
		if err != nil {
			c.reply(commandResult{Type: "commandResult", Action: cmd.Action, OK: false, Error: "invalid call id"})
			return
		}
		if _, err := c.commands.EndCall(ctx, id); err != nil {
			c.logger.Warn("end call command failed",
				zap.String("call_id", cmd.CallID), zap.Error(err))
			c.reply(commandResult{Type: "commandResult", Action: cmd.Action, OK: false, Error: commandError(err)})
			return
		}
		c.reply(commandResult{Type: "commandResult", Action: cmd.Action, OK: true})
	default:
		// Unknown actions are ignored so newer clients can speak a wider
		// command set against this server.
		c.logger.Debug("ignoring unknown observer action",
			zap.String("action", cmd.Action))
	}
}

func commandError(err error) string {
	var appErr *domainerrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "command failed"
}

// reply sends a message to this observer only, without blocking the hub.
func (c *Client) reply(result commandResult) {
	payload, err := json.Marshal(result)
	if err != nil {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

// WritePump streams queued notifications to the observer and keeps the
// connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
