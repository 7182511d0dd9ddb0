package agent

import (
	"errors"
	"log"
	"os"
	"os/exec"

	"github.com/codelink-dev/codelink/internal/config"
	"github.com/codelink-dev/codelink/internal/git"
	"github.com/codelink-dev/codelink/internal/protocol"
	"github.com/codelink-dev/codelink/internal/runner"
)

// handleChat runs an interactive streaming request: resolve the working
// directory, spawn the tool, forward every chunk, then stream_end. The
// tool's exit code is ignored for chat.
func (a *Agent) handleChat(sessionID, prompt, repoFullName, branchName string) {
	log.Printf("💬 Chat request (repo: %q)", repoFullName)

	dir, err := a.chatWorkdir(repoFullName, branchName)
	if err != nil {
		log.Printf("❌ Chat workdir failed: %v", err)
		a.sendError(sessionID, err.Error())
		return
	}

	r := a.newRunner(dir)
	err = r.Stream(prompt, func(text string) {
		a.sendChunk(sessionID, text)
	})

	var spawnErr *runner.SpawnError
	if errors.As(err, &spawnErr) {
		log.Printf("❌ %v", spawnErr)
		a.sendError(sessionID, spawnErr.Error())
		return // no stream_end after a spawn failure
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		log.Printf("⚠️  Chat tool error: %v", err)
	}

	a.send(&protocol.Frame{Type: protocol.TypeStreamEnd, SessionID: sessionID})
}

// chatWorkdir resolves the chat working directory: the refreshed
// working copy when a repository is named, the current directory
// otherwise. An optional branch is checked out for committing edits.
func (a *Agent) chatWorkdir(repoFullName, branchName string) (string, error) {
	if repoFullName == "" {
		return os.Getwd()
	}

	unlock := a.workspaces.Lock(repoFullName)
	defer unlock()

	dir, err := a.workspaces.Ensure(repoFullName)
	if err != nil {
		return "", err
	}

	if branchName != "" {
		repo := git.NewRepository(dir)
		if err := repo.Checkout(branchName); err != nil {
			// Branch may not exist yet for this conversation
			if err := repo.CreateBranch(branchName); err != nil {
				return "", err
			}
		}
	}

	return dir, nil
}

// newRunner builds a runner for dir, exporting the provider key when
// the operator chose api-key auth.
func (a *Agent) newRunner(dir string) *runner.Runner {
	r := runner.New(dir)

	a.mu.RLock()
	cfg := a.cfg
	a.mu.RUnlock()

	if cfg.AuthMode == config.AuthModeAPIKey && cfg.ProviderKey != "" {
		r.SetEnv("ANTHROPIC_API_KEY=" + cfg.ProviderKey)
	}
	return r
}
