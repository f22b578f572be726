// Package server coordinates connection registration, event processing and
// broadcast for the relay via the Hub type.
package server

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Tyrowin/gochat-relay/internal/relay"
)

// Hub owns the relay and every open connection. Its Run loop is the only
// goroutine that touches either, so connects, inbound events and disconnects
// are processed strictly one at a time.
type Hub struct {
	clients    map[relay.ConnID]*Client
	relay      *relay.Relay
	register   chan *Client
	unregister chan *Client
	inbound    chan inbound
	now        func() time.Time
	logger     *zap.Logger
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewHub creates a Hub running a relay with the given policy.
func NewHub(policy relay.Policy, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		clients:    make(map[relay.ConnID]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inbound, 256),
		now:        time.Now,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	h.relay = relay.New(policy, h, logger.Named("relay"))
	return h
}

// join hands a freshly upgraded client to the hub. It returns false when the
// hub is shutting down.
func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// leave reports a closed connection to the hub.
func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

// deliver queues an inbound event. It returns false when the hub is shutting
// down.
func (h *Hub) deliver(in inbound) bool {
	if h.ctx.Err() != nil {
		return false
	}
	select {
	case h.inbound <- in:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Run starts the hub's event loop. It returns after Shutdown is called.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			h.handleRegister(client)

		case client := <-h.unregister:
			h.handleUnregister(client)

		case in := <-h.inbound:
			h.handleInbound(in)
		}
	}
}

func (h *Hub) handleRegister(client *Client) {
	if client == nil {
		h.logger.Warn("received nil client registration; skipping")
		return
	}

	h.clients[client.id] = client
	h.relay.Connect(client.id)
	client.logger.Debug("client registered", zap.Int("total_clients", len(h.clients)))

	if client.conn == nil {
		return
	}
	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

func (h *Hub) handleUnregister(client *Client) {
	if _, ok := h.clients[client.id]; !ok {
		return
	}
	delete(h.clients, client.id)
	h.closeSend(client)
	h.relay.Disconnect(client.id)
	client.logger.Debug("client unregistered", zap.Int("total_clients", len(h.clients)))
}

func (h *Hub) handleInbound(in inbound) {
	// Events still queued from a connection that already left are stale.
	if current, ok := h.clients[in.client.id]; !ok || current != in.client {
		return
	}

	switch in.event {
	case relay.EventNewUser:
		h.relay.Announce(in.client.id, in.text)
	case relay.EventChatMessage:
		h.relay.Submit(in.client.id, in.text, h.now())
	}
}

// Broadcast implements relay.Outbox. The frame is encoded once and queued on
// every open connection.
func (h *Hub) Broadcast(event string, payload any) {
	frame, err := EncodeFrame(event, payload)
	if err != nil {
		h.logger.Error("encoding broadcast", zap.String("event", event), zap.Error(err))
		return
	}

	for _, client := range h.clients {
		h.safeSend(client, frame)
	}
}

// Send implements relay.Outbox.
func (h *Hub) Send(id relay.ConnID, event string, payload any) {
	client, ok := h.clients[id]
	if !ok {
		return
	}
	frame, err := EncodeFrame(event, payload)
	if err != nil {
		h.logger.Error("encoding frame", zap.String("event", event), zap.Error(err))
		return
	}
	h.safeSend(client, frame)
}

// safeSend queues frame without blocking. A client whose buffer is full is
// evicted: its send channel is closed, the write pump hangs up, and the read
// pump then reports the disconnect through the normal path.
func (h *Hub) safeSend(client *Client, frame []byte) {
	if client.closed {
		return
	}
	select {
	case client.send <- frame:
	default:
		client.logger.Warn("send buffer full; evicting client")
		h.closeSend(client)
	}
}

func (h *Hub) closeSend(client *Client) {
	if client.closed {
		return
	}
	client.closed = true
	close(client.send)
}

// shutdownClients gracefully closes all active client connections
func (h *Hub) shutdownClients() {
	h.logger.Info("shutting down all client connections")

	for _, client := range h.clients {
		h.closeSend(client)
		if client.conn != nil {
			if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
				client.logger.Warn("closing client connection", zap.Error(err))
			}
		}
	}

	h.logger.Info("closed client connections", zap.Int("count", len(h.clients)))
}

// Shutdown stops the event loop, which must have been started with Run, and
// waits for all client goroutines to finish or until the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
