package agent

import (
	"log"

	"github.com/codelink-dev/codelink/internal/protocol"
)

// handleFrame is the main router for frames delivered by the relay.
// Each request runs as its own goroutine; requests for different
// sessions proceed in parallel.
func (a *Agent) handleFrame(f *protocol.Frame) {
	switch f.Type {
	case protocol.TypeRegisterOK:
		a.displayPairingCode(f.PairingCode)

	case protocol.TypeRepoList:
		go a.handleRepoList(f.SessionID)

	case protocol.TypeChatMessage:
		go a.handleChat(f.SessionID, f.Text, f.RepoFullName, f.BranchName)

	case protocol.TypeTaskStart:
		go a.handleTask(f.SessionID, f.Context, f.RepoFullName, f.BaseBranch)

	case protocol.TypePing:
		a.send(&protocol.Frame{Type: protocol.TypePong, SessionID: f.SessionID})

	case protocol.TypeError:
		log.Printf("⚠️  Error from relay: %s", f.Message)

	default:
		log.Printf("Unknown frame type: %s", f.Type)
	}
}

// handleRepoList answers repo_list with the forge's repositories.
func (a *Agent) handleRepoList(sessionID string) {
	log.Println("📋 Mobile requested repository list")

	repos, err := a.forge.ListRepos()
	if err != nil {
		log.Printf("❌ Repository listing failed: %v", err)
		a.sendError(sessionID, err.Error())
		return
	}

	a.send(&protocol.Frame{
		Type:      protocol.TypeRepoListResult,
		SessionID: sessionID,
		Repos:     repos,
	})
}

// send writes a frame to the relay. A session whose mobile has no live
// socket gets its frames dropped relay-side; here we only cope with the
// agent's own socket being down.
func (a *Agent) send(f *protocol.Frame) {
	if !a.client.Send(f) {
		log.Printf("📭 Relay connection down - dropped %s frame", f.Type)
	}
}

// sendError surfaces exactly one diagnostic frame on the session.
func (a *Agent) sendError(sessionID, message string) {
	a.send(protocol.ErrorFrame(sessionID, message))
}

// sendChunk forwards one output chunk to the session.
func (a *Agent) sendChunk(sessionID, text string) {
	a.send(&protocol.Frame{
		Type:      protocol.TypeStreamChunk,
		SessionID: sessionID,
		Text:      text,
	})
}
