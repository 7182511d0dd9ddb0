// Package relayclient maintains the agent's persistent WebSocket to the
// relay: register on connect, heartbeat while open, reconnect forever on
// loss with a fixed delay.
package relayclient

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	"github.com/codelink-dev/codelink/internal/protocol"
)

const (
	// maxMessageSize is the maximum frame size allowed (512 KB)
	maxMessageSize = 512 * 1024

	// heartbeatInterval is how often we emit application-level pings
	heartbeatInterval = 30 * time.Second

	// reconnectDelay is the fixed wait between reconnection attempts
	reconnectDelay = 5 * time.Second

	// writeTimeout is max time to write a frame
	writeTimeout = 10 * time.Second
)

// FrameHandler is invoked for every parsed inbound frame. Handlers run
// sequentially on the read loop, in registration order.
type FrameHandler func(f *protocol.Frame)

// Client owns exactly one connection to one relay URL under one agent
// identity.
type Client struct {
	relayURL string
	identity string
	version  string

	mu       sync.Mutex
	conn     *websocket.Conn
	handlers []FrameHandler

	connected atomic.Bool

	// Main context, cancelled by Close
	ctx    context.Context
	cancel context.CancelFunc

	// Per-connection context, cancelled when the socket drops
	connCtx    context.Context
	connCancel context.CancelFunc

	wg sync.WaitGroup
}

// NewClient creates a relay client. Nothing connects until Run.
func NewClient(relayURL, identity, version string) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		relayURL: relayURL,
		identity: identity,
		version:  version,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// OnFrame registers a handler for inbound frames. All handlers see
// every frame; a panicking handler does not take down the others.
func (c *Client) OnFrame(h FrameHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

// Run connects and keeps the connection alive until Close. It blocks,
// reconnecting after the fixed delay whenever the socket drops.
func (c *Client) Run() {
	attempt := 0
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		attempt++
		err := c.connectAndServe()
		if err != nil {
			// Only log every 5th attempt to reduce noise during outages
			if attempt <= 3 || attempt%5 == 0 {
				log.Printf("Relay connection lost (attempt %d): %v. Retrying in %v...", attempt, err, reconnectDelay)
			}
		}

		select {
		case <-c.ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

// connectAndServe dials, registers, and pumps frames until the socket
// drops or the client closes.
func (c *Client) connectAndServe() error {
	url := fmt.Sprintf("%s?type=agent&agentToken=%s", c.relayURL, c.identity)

	conn, _, err := websocket.Dial(c.ctx, url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)

	c.mu.Lock()
	c.conn = conn
	c.connCtx, c.connCancel = context.WithCancel(c.ctx)
	connCtx := c.connCtx
	c.mu.Unlock()
	c.connected.Store(true)

	log.Println("✅ Connected to relay server")

	defer func() {
		c.connected.Store(false)
		c.mu.Lock()
		if c.connCancel != nil {
			c.connCancel()
		}
		c.conn = nil
		c.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "reconnecting")
	}()

	// Register before anything else; the relay replies register_ok with
	// the stable pairing code.
	register := &protocol.Frame{
		Type:       protocol.TypeAgentRegister,
		AgentToken: c.identity,
		Version:    c.version,
	}
	if !c.Send(register) {
		return fmt.Errorf("failed to send agent_register")
	}

	// Heartbeat is active iff the socket is open.
	c.wg.Add(1)
	go c.heartbeat(connCtx)

	// Read loop: sequential dispatch to handlers.
	for {
		_, data, err := conn.Read(connCtx)
		if err != nil {
			select {
			case <-c.ctx.Done():
				return nil // clean shutdown
			default:
			}
			return fmt.Errorf("read: %w", err)
		}

		frame, err := protocol.Decode(data)
		if err != nil {
			continue // unparsable frames are dropped
		}
		c.dispatch(frame)
	}
}

// dispatch invokes every registered handler in order.
func (c *Client) dispatch(frame *protocol.Frame) {
	c.mu.Lock()
	handlers := make([]FrameHandler, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("⚠️  Frame handler panicked: %v", r)
				}
			}()
			h(frame)
		}()
	}
}

// heartbeat emits an application-level ping every 30s while the
// connection is open.
func (c *Client) heartbeat(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.Send(&protocol.Frame{Type: protocol.TypePing, SessionID: protocol.HeartbeatSessionID}) {
				return
			}
		}
	}
}

// Send writes one frame. Returns false when the socket is not open;
// nothing is ever queued across a disconnect.
func (c *Client) Send(f *protocol.Frame) bool {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil || !c.connected.Load() {
		return false
	}

	data, err := f.Encode()
	if err != nil {
		log.Printf("Failed to encode frame: %v", err)
		return false
	}

	ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()

	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		log.Printf("WebSocket write error: %v", err)
		return false
	}
	return true
}

// IsConnected returns whether the socket is currently open.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Close cancels any pending reconnect and closes the socket cleanly.
func (c *Client) Close() {
	c.cancel()

	c.mu.Lock()
	if c.connCancel != nil {
		c.connCancel()
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "client closed")
	}
	c.connected.Store(false)
	c.wg.Wait()
}
