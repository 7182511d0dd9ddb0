package relay

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/codelink-dev/codelink/internal/protocol"
)

const (
	// maxMessageSize is the maximum frame size allowed (512 KB)
	maxMessageSize = 512 * 1024

	// idleTimeout closes any socket that produces no frames for 90s
	idleTimeout = 90 * time.Second

	// pairingIdleTimeout bounds how long an unpaired mobile may sit idle
	pairingIdleTimeout = 60 * time.Second

	// writeTimeout is max time to write a frame
	writeTimeout = 10 * time.Second

	// Close codes for fatal classification errors
	closeBadRequest     websocket.StatusCode = 4000
	closeSessionExpired websocket.StatusCode = 4001
)

// Server terminates every WebSocket, classifies connections, and
// multiplexes frames between one agent and its paired mobiles. Frame
// content is opaque except for the six control frame kinds.
type Server struct {
	registry *Registry
}

// NewServer creates a relay server around a registry.
func NewServer(registry *Registry) *Server {
	return &Server{registry: registry}
}

// Registry exposes the lookup tables, mainly for tests.
func (s *Server) Registry() *Registry {
	return s.registry
}

// ServeHTTP upgrades and classifies an incoming connection. The query
// string carries type=agent|mobile plus agentToken or sessionToken.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	connType := r.URL.Query().Get("type")
	agentToken := r.URL.Query().Get("agentToken")
	sessionToken := r.URL.Query().Get("sessionToken")

	if connType != "agent" && connType != "mobile" {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		conn.Close(closeBadRequest, "missing or malformed classification")
		return
	}
	if connType == "agent" && agentToken == "" {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		conn.Close(closeBadRequest, "agent connection requires agentToken")
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Printf("Failed to accept connection: %v", err)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	peer := &peerConn{conn: conn, ctx: r.Context()}

	switch connType {
	case "agent":
		s.serveAgent(r.Context(), peer, agentToken)
	case "mobile":
		s.serveMobile(r.Context(), peer, sessionToken)
	}
}

// peerConn wraps a websocket connection with a write lock so routing
// goroutines and the owning read loop can both emit frames.
type peerConn struct {
	conn *websocket.Conn
	ctx  context.Context
	mu   sync.Mutex
}

// WriteFrame sends one JSON text frame with a bounded write deadline.
func (p *peerConn) WriteFrame(f *protocol.Frame) error {
	data, err := f.Encode()
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, cancel := context.WithTimeout(p.ctx, writeTimeout)
	defer cancel()
	return p.conn.Write(ctx, websocket.MessageText, data)
}

// readFrame blocks for the next parseable frame. Malformed JSON is
// dropped silently; the deadline is the connection-dead timer.
func (p *peerConn) readFrame(ctx context.Context, timeout time.Duration) (*protocol.Frame, error) {
	for {
		readCtx, cancel := context.WithTimeout(ctx, timeout)
		_, data, err := p.conn.Read(readCtx)
		cancel()
		if err != nil {
			return nil, err
		}

		frame, err := protocol.Decode(data)
		if err != nil {
			continue // malformed JSON: drop and keep reading
		}
		return frame, nil
	}
}

// serveAgent runs the agent side of the pairing state machine:
// AGENT_CONNECTED until agent_register, then AGENT_REGISTERED with
// frames routed to mobiles by sessionId.
func (s *Server) serveAgent(ctx context.Context, peer *peerConn, identity string) {
	registered := false
	defer func() {
		if registered {
			s.registry.AgentDisconnected(identity, peer)
			log.Printf("🔌 Agent disconnected: %s", identity)
		}
		peer.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		frame, err := peer.readFrame(ctx, idleTimeout)
		if err != nil {
			return
		}

		switch frame.Type {
		case protocol.TypeAgentRegister:
			// The URL identity is authoritative; the frame's token
			// must match or the socket is impersonating.
			if frame.AgentToken != identity {
				peer.WriteFrame(protocol.ErrorFrame("", "agent token mismatch"))
				peer.conn.Close(closeBadRequest, "agent token mismatch")
				return
			}
			code := s.registry.RegisterAgent(identity, peer)
			registered = true
			log.Printf("✅ Agent registered: %s (version %s)", identity, frame.Version)
			if err := peer.WriteFrame(&protocol.Frame{Type: protocol.TypeRegisterOK, PairingCode: code}); err != nil {
				return
			}

		default:
			// Anything else from an agent is a session-bound reply.
			// Frames without a live session are dropped silently; the
			// agent is not expected to buffer.
			if frame.SessionID == "" {
				continue
			}
			if mobile, ok := s.registry.RouteToMobile(frame.SessionID); ok {
				if err := mobile.WriteFrame(frame); err != nil {
					log.Printf("Failed to route frame to mobile: %v", err)
				}
			}
		}
	}
}

// serveMobile runs the mobile side: a connection presenting a session
// token resumes, everything else starts in PAIR_WAIT.
func (s *Server) serveMobile(ctx context.Context, peer *peerConn, sessionToken string) {
	if sessionToken != "" {
		if !s.registry.Resume(sessionToken, peer) {
			peer.WriteFrame(protocol.ErrorFrame("", "Session expired — reconnect"))
			peer.conn.Close(closeSessionExpired, "session expired")
			return
		}
		log.Printf("📱 Mobile resumed session")
		s.servePaired(ctx, peer, sessionToken)
		return
	}

	// PAIR_WAIT: keep the socket open across failed attempts, bounded
	// by the pairing idle timeout.
	for {
		frame, err := peer.readFrame(ctx, pairingIdleTimeout)
		if err != nil {
			peer.conn.Close(websocket.StatusNormalClosure, "pairing timed out")
			return
		}

		if frame.Type != protocol.TypeMobileConnect {
			continue
		}

		token, err := s.registry.Pair(frame.PairingCode, peer)
		if err != nil {
			peer.WriteFrame(protocol.ErrorFrame("", "Invalid or expired pairing code"))
			continue
		}

		log.Printf("🤝 Mobile paired")
		if err := peer.WriteFrame(&protocol.Frame{Type: protocol.TypeSessionOK, SessionToken: token}); err != nil {
			peer.conn.Close(websocket.StatusNormalClosure, "")
			return
		}
		s.servePaired(ctx, peer, token)
		return
	}
}

// servePaired forwards mobile frames to the bound agent. Every frame is
// stamped with the session token; whatever sessionId the mobile supplied
// is overwritten. invalidate_pairing is intercepted.
func (s *Server) servePaired(ctx context.Context, peer *peerConn, token string) {
	defer func() {
		s.registry.MobileDisconnected(token, peer)
		peer.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		frame, err := peer.readFrame(ctx, idleTimeout)
		if err != nil {
			return
		}

		if frame.Type == protocol.TypeInvalidatePairing {
			s.handleInvalidate(peer, token)
			return
		}

		frame.SessionID = token

		agent, ok := s.registry.RouteToAgent(token)
		if !ok {
			peer.WriteFrame(protocol.ErrorFrame(token, "Agent disconnected"))
			continue
		}
		if err := agent.WriteFrame(frame); err != nil {
			log.Printf("Failed to route frame to agent: %v", err)
			peer.WriteFrame(protocol.ErrorFrame(token, "Agent disconnected"))
		}
	}
}

// handleInvalidate tears down the session, rotates the pairing code,
// pushes the fresh code to a live agent, and closes the mobile cleanly.
func (s *Server) handleInvalidate(peer *peerConn, token string) {
	newCode, agent, err := s.registry.Invalidate(token)
	if err != nil {
		peer.WriteFrame(protocol.ErrorFrame(token, "Session expired — reconnect"))
		return
	}

	if agent != nil {
		if err := agent.WriteFrame(&protocol.Frame{Type: protocol.TypeRegisterOK, PairingCode: newCode}); err != nil {
			log.Printf("Failed to push rotated code to agent: %v", err)
		}
	}
	peer.conn.Close(websocket.StatusNormalClosure, "pairing invalidated")
}
