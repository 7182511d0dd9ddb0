// Package protocol defines the JSON frame catalog shared by the relay,
// the agent, and mobile clients. Every WebSocket text message is exactly
// one Frame.
package protocol

import (
	"encoding/json"
	"fmt"
)

// FrameType identifies the kind of a frame
type FrameType string

const (
	// Control frames interpreted by the relay
	TypeAgentRegister     FrameType = "agent_register"     // Agent → Relay
	TypeRegisterOK        FrameType = "register_ok"        // Relay → Agent
	TypeMobileConnect     FrameType = "mobile_connect"     // Mobile → Relay
	TypeSessionOK         FrameType = "session_ok"         // Relay → Mobile
	TypeInvalidatePairing FrameType = "invalidate_pairing" // Mobile → Relay
	TypeError             FrameType = "error"              // Relay/Agent → Either

	// Request frames forwarded to the agent (relay stamps sessionId)
	TypeRepoList    FrameType = "repo_list"
	TypeChatMessage FrameType = "chat_message"
	TypeTaskStart   FrameType = "task_start"
	TypePing        FrameType = "ping"

	// Reply frames routed back to the mobile by sessionId
	TypeRepoListResult FrameType = "repo_list_result"
	TypeStreamChunk    FrameType = "stream_chunk"
	TypeStreamEnd      FrameType = "stream_end"
	TypeTaskDone       FrameType = "task_done"
	TypePong           FrameType = "pong"
)

// HeartbeatSessionID is the sessionId carried by agent keepalive pings.
// The relay treats it like any other ping; no session resolves to it, so
// the frame is absorbed.
const HeartbeatSessionID = "__heartbeat__"

// Frame is one WebSocket text message. Type is mandatory; all other
// fields are populated per the catalog for that type.
type Frame struct {
	Type FrameType `json:"type"`

	// Routing
	SessionID string `json:"sessionId,omitempty"`

	// Pairing handshake
	AgentToken   string `json:"agentToken,omitempty"`
	Version      string `json:"version,omitempty"`
	PairingCode  string `json:"pairingCode,omitempty"`
	SessionToken string `json:"sessionToken,omitempty"`

	// Errors
	Message string `json:"message,omitempty"`

	// Chat / streaming
	Text string `json:"text,omitempty"`

	// Task pipeline
	Context      string `json:"context,omitempty"`
	RepoFullName string `json:"repoFullName,omitempty"`
	BranchName   string `json:"branchName,omitempty"`
	BaseBranch   string `json:"baseBranch,omitempty"`
	PRURL        string `json:"prUrl,omitempty"`
	PRTitle      string `json:"prTitle,omitempty"`

	// Repository listing
	Repos []Repository `json:"repos,omitempty"`
}

// Repository is the fixed projection of a forge repository sent to mobiles.
type Repository struct {
	ID            int64   `json:"id"`
	FullName      string  `json:"fullName"`
	Description   *string `json:"description"`
	DefaultBranch string  `json:"defaultBranch"`
	Language      *string `json:"language"`
	Private       bool    `json:"private"`
	UpdatedAt     string  `json:"updatedAt"`
}

// Decode parses a single JSON frame. A frame without a type is rejected.
func Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	if f.Type == "" {
		return nil, fmt.Errorf("frame missing type")
	}
	return &f, nil
}

// Encode serializes the frame as one JSON object.
func (f *Frame) Encode() ([]byte, error) {
	return json.Marshal(f)
}

// ErrorFrame builds an error frame for a session. sessionID may be empty
// for handshake errors that have no session yet.
func ErrorFrame(sessionID, message string) *Frame {
	return &Frame{Type: TypeError, SessionID: sessionID, Message: message}
}
