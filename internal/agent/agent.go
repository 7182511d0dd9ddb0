// Package agent is the long-running daemon that pairs with mobiles
// through the relay and drives the code tool against local working
// copies.
package agent

import (
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/codelink-dev/codelink/internal/config"
	"github.com/codelink-dev/codelink/internal/forge"
	"github.com/codelink-dev/codelink/internal/relayclient"
	"github.com/codelink-dev/codelink/internal/workspace"
)

// Agent wires the relay client, the forge client, and the working-copy
// manager together and dispatches inbound session frames.
type Agent struct {
	mu  sync.RWMutex
	cfg *config.Config

	client     *relayclient.Client
	forge      *forge.Client
	workspaces *workspace.Manager
	watcher    *config.Watcher

	version string
}

// New creates an agent from a validated config.
func New(cfg *config.Config, version string) *Agent {
	a := &Agent{
		cfg:        cfg,
		forge:      forge.NewClient(cfg.GitHubToken),
		workspaces: workspace.NewManager(config.WorkspaceRoot(), cfg.GitHubToken),
		version:    version,
	}
	a.client = relayclient.NewClient(cfg.RelayURL, cfg.Identity, version)
	a.client.OnFrame(a.handleFrame)
	return a
}

// Start connects to the relay and blocks until a shutdown signal.
func (a *Agent) Start() error {
	log.Println("🚀 CodeLink agent starting...")
	log.Printf("   Relay: %s", a.cfg.RelayURL)

	// Pick up a token rotated by 'codelink setup' without a restart.
	watcher, err := config.NewWatcher(a.handleConfigReload)
	if err != nil {
		log.Printf("⚠️  Config watcher unavailable: %v", err)
	} else {
		a.watcher = watcher
	}

	go a.client.Run()

	a.waitForShutdown()
	return nil
}

// waitForShutdown blocks until SIGINT or SIGTERM.
func (a *Agent) waitForShutdown() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	log.Printf("Received signal: %v", sig)

	a.Stop()
}

// Stop shuts down the relay connection and the config watcher.
func (a *Agent) Stop() {
	log.Println("Shutting down...")

	if a.watcher != nil {
		a.watcher.Stop()
	}
	a.client.Close()
}

// handleConfigReload applies a freshly loaded store to live components.
// Only the forge token is hot-swappable; identity and relay URL changes
// need a restart.
func (a *Agent) handleConfigReload(cfg *config.Config) {
	a.mu.Lock()
	oldToken := a.cfg.GitHubToken
	a.cfg = cfg
	a.mu.Unlock()

	if cfg.GitHubToken != oldToken {
		a.forge.SetToken(cfg.GitHubToken)
		a.workspaces.SetToken(cfg.GitHubToken)
		log.Println("🔑 Forge token updated from config store")
	}
}
