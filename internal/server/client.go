// Package server manages individual WebSocket clients, handling read/write
// pumps, liveness probes, and lifecycle control for each connection.
package server

import (
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Tyrowin/gochat-relay/internal/relay"
)

// Client represents a WebSocket connection to the relay. The hub owns the
// closed flag and the send channel's lifetime; the pumps only move bytes.
type Client struct {
	id     relay.ConnID
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
	addr   string
	closed bool
	logger *zap.Logger

	maxFrameSize int64
	pingInterval time.Duration
	pongWait     time.Duration
	writeWait    time.Duration
}

// NewClient creates a Client for conn with a fresh connection id. The
// client's send channel is buffered to absorb short bursts of broadcasts.
func NewClient(conn *websocket.Conn, hub *Hub, addr string, cfg *Config) *Client {
	id := relay.ConnID(uuid.NewString())
	if conn != nil {
		conn.SetReadLimit(cfg.MaxFrameSize)
		conn.EnableWriteCompression(cfg.EnableCompression)
	}

	return &Client{
		id:           id,
		conn:         conn,
		send:         make(chan []byte, cfg.SendBuffer),
		hub:          hub,
		addr:         addr,
		logger:       hub.logger.With(zap.String("conn_id", string(id)), zap.String("remote_addr", addr)),
		maxFrameSize: cfg.MaxFrameSize,
		pingInterval: cfg.PingInterval,
		pongWait:     cfg.PongWait,
		writeWait:    cfg.WriteWait,
	}
}

// ID returns the connection id.
func (c *Client) ID() relay.ConnID {
	return c.id
}

// GetSendChan returns the client's send channel for reading outgoing frames.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.pongWait)); err != nil {
		c.logger.Warn("setting initial read deadline", zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})
}

// handleReadError logs the reason the read loop is ending.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn("frame exceeded maximum size", zap.Int64("max_frame_size", c.maxFrameSize))
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		c.logger.Debug("client disconnected", zap.Error(err))
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.logger.Debug("connection closed", zap.Error(err))
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.logger.Info("unexpected close", zap.Error(err))
	default:
		// Includes the read deadline expiring after missed pongs.
		c.logger.Info("read error", zap.Error(err))
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Warn("closing connection in readPump", zap.Error(err))
		}
	}()

	c.setupReadConnection()

	for {
		msgType, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		if msgType != websocket.TextMessage {
			continue
		}

		event, text, err := decodeInbound(raw)
		if err != nil {
			c.logger.Debug("dropping malformed frame", zap.Error(err))
			continue
		}

		if !c.hub.deliver(inbound{client: c, event: event, text: text}) {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger.Warn("closing connection in writePump", zap.Error(err))
	}
}

// handleMessage writes one outgoing frame and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		c.logger.Warn("setting write deadline", zap.Error(err))
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Info("writing frame", zap.Error(err))
		}
		return false
	}
	return true
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	err := c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil && !isExpectedCloseError(err) {
		c.logger.Debug("writing close message", zap.Error(err))
	}
	return false
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		c.logger.Warn("setting write deadline for ping", zap.Error(err))
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Debug("writing ping", zap.Error(err))
		return false
	}
	return true
}
