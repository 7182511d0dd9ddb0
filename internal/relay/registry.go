package relay

import (
	"crypto/rand"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codelink-dev/codelink/internal/protocol"
)

// FrameWriter is the outbound half of a connected peer. The registry
// never reads from peers; the server's per-socket loops feed it.
type FrameWriter interface {
	WriteFrame(f *protocol.Frame) error
}

// AgentEntry tracks one registered agent. The entry outlives socket
// drops so the pairing code stays stable across agent reconnects.
type AgentEntry struct {
	Identity    string
	Live        FrameWriter // nil while the agent is offline
	PairingCode string
	ConnectedAt time.Time
}

// Session binds one mobile to one agent. LiveMobile is nil while the
// mobile is disconnected; the session itself survives until invalidated.
type Session struct {
	Token       string
	Identity    string
	PairingCode string
	LiveMobile  FrameWriter
}

// Registry owns every lookup table of the relay. All mutation happens
// under one mutex: register, pair, and invalidate each touch several
// tables and must be atomic with respect to each other.
type Registry struct {
	mu sync.Mutex

	agents       map[string]*AgentEntry // identity -> entry
	codeToAgent  map[string]string      // pairing code -> identity
	agentToCode  map[string]string      // identity -> pairing code
	sessions     map[string]*Session    // session token -> session
	issuedTokens map[string]bool        // every token ever minted (uniqueness)
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		agents:       make(map[string]*AgentEntry),
		codeToAgent:  make(map[string]string),
		agentToCode:  make(map[string]string),
		sessions:     make(map[string]*Session),
		issuedTokens: make(map[string]bool),
	}
}

// RegisterAgent records a live agent socket under its identity. The
// pairing code is minted on first registration and reused afterwards;
// a re-registration displaces any previous socket without touching the
// code.
func (r *Registry) RegisterAgent(identity string, sock FrameWriter) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	code, ok := r.agentToCode[identity]
	if !ok {
		code = r.mintCodeLocked()
		r.agentToCode[identity] = code
		r.codeToAgent[code] = identity
		log.Printf("🔑 Issued pairing code for agent %s", identity)
	}

	entry, ok := r.agents[identity]
	if !ok {
		entry = &AgentEntry{Identity: identity}
		r.agents[identity] = entry
	}
	entry.Live = sock
	entry.PairingCode = code
	entry.ConnectedAt = time.Now()

	return code
}

// AgentDisconnected clears the live socket pointer if it still belongs
// to the departing connection. The entry and its code are retained.
func (r *Registry) AgentDisconnected(identity string, sock FrameWriter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.agents[identity]; ok && entry.Live == sock {
		entry.Live = nil
	}
}

// Pair redeems a pairing code for a fresh session token. The code stays
// valid: a second mobile may redeem it again and receive its own token.
func (r *Registry) Pair(code string, sock FrameWriter) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity, ok := r.codeToAgent[code]
	if !ok {
		return "", fmt.Errorf("invalid or expired pairing code")
	}

	token := uuid.New().String()
	for r.issuedTokens[token] {
		token = uuid.New().String()
	}
	r.issuedTokens[token] = true

	r.sessions[token] = &Session{
		Token:       token,
		Identity:    identity,
		PairingCode: code,
		LiveMobile:  sock,
	}

	return token, nil
}

// Resume re-attaches a returning mobile socket to its session. Returns
// false when the token was never issued or has been invalidated.
func (r *Registry) Resume(token string, sock FrameWriter) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[token]
	if !ok {
		return false
	}
	sess.LiveMobile = sock
	return true
}

// MobileDisconnected clears the session's socket pointer. The session
// survives so the same token can resume later.
func (r *Registry) MobileDisconnected(token string, sock FrameWriter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sess, ok := r.sessions[token]; ok && sess.LiveMobile == sock {
		sess.LiveMobile = nil
	}
}

// Invalidate tears down a session and retires the originating pairing
// code. Every other session minted from the same code dies with it.
// A connected agent gets a rotated code pushed through the returned
// socket; an offline agent's entry is destroyed outright, so its next
// registration mints a fresh code.
func (r *Registry) Invalidate(token string) (newCode string, agent FrameWriter, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[token]
	if !ok {
		return "", nil, fmt.Errorf("unknown session")
	}

	oldCode := sess.PairingCode
	identity := sess.Identity

	// Drop every session derived from the invalidated code.
	for t, s := range r.sessions {
		if s.PairingCode == oldCode {
			delete(r.sessions, t)
		}
	}
	delete(r.codeToAgent, oldCode)
	delete(r.agentToCode, identity)

	entry, ok := r.agents[identity]
	if !ok || entry.Live == nil {
		delete(r.agents, identity)
		log.Printf("🗑️  Dropped offline agent %s on invalidation", identity)
		return "", nil, nil
	}

	newCode = r.mintCodeLocked()
	r.agentToCode[identity] = newCode
	r.codeToAgent[newCode] = identity
	entry.PairingCode = newCode

	log.Printf("🔄 Rotated pairing code for agent %s", identity)
	return newCode, entry.Live, nil
}

// RouteToAgent resolves the live agent socket for a session token.
func (r *Registry) RouteToAgent(token string) (FrameWriter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[token]
	if !ok {
		return nil, false
	}
	entry, ok := r.agents[sess.Identity]
	if !ok || entry.Live == nil {
		return nil, false
	}
	return entry.Live, true
}

// RouteToAgentByIdentity resolves the live socket for an agent identity.
func (r *Registry) RouteToAgentByIdentity(identity string) (FrameWriter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.agents[identity]
	if !ok || entry.Live == nil {
		return nil, false
	}
	return entry.Live, true
}

// RouteToMobile resolves the live mobile socket bound to a session.
func (r *Registry) RouteToMobile(token string) (FrameWriter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[token]
	if !ok || sess.LiveMobile == nil {
		return nil, false
	}
	return sess.LiveMobile, true
}

// SessionExists reports whether a token is currently live.
func (r *Registry) SessionExists(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.sessions[token]
	return ok
}

// PairingCodeFor returns the current code for an agent identity.
func (r *Registry) PairingCodeFor(identity string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	code, ok := r.agentToCode[identity]
	return code, ok
}

// mintCodeLocked generates a six-digit decimal code, retrying until it
// does not collide with a live code. Leading zeros are preserved by the
// string form. Caller must hold r.mu.
func (r *Registry) mintCodeLocked() string {
	for {
		n, err := rand.Int(rand.Reader, big.NewInt(1000000))
		if err != nil {
			// crypto/rand failing is unrecoverable for a relay
			panic(fmt.Sprintf("pairing code generation failed: %v", err))
		}
		code := fmt.Sprintf("%06d", n.Int64())
		if _, taken := r.codeToAgent[code]; !taken {
			return code
		}
	}
}
