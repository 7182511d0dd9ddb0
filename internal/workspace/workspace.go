// Package workspace manages local working copies of forge repositories.
// Each repository gets a flat directory under the workspace root and a
// lock that serializes clone/pull/branch/commit/push against it.
package workspace

import (
	"fmt"
	"log"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	"github.com/codelink-dev/codelink/internal/git"
)

// Manager resolves "owner/name" repositories to refreshed local paths.
type Manager struct {
	root  string
	token string

	mu    sync.Mutex
	locks map[string]*sync.Mutex // full name -> per-repo lock
}

// NewManager creates a manager rooted at root, cloning with token.
func NewManager(root, token string) *Manager {
	return &Manager{
		root:  root,
		token: token,
		locks: make(map[string]*sync.Mutex),
	}
}

// SetToken swaps the forge token used for subsequent clones.
func (m *Manager) SetToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
}

// Lock acquires the per-repository lock and returns its release func.
// Requests against the same repository serialize; different repos
// proceed in parallel.
func (m *Manager) Lock(fullName string) func() {
	m.mu.Lock()
	lock, ok := m.locks[fullName]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[fullName] = lock
	}
	m.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// Ensure returns the absolute path of an up-to-date working copy for
// fullName ("owner/name"), cloning on first use or fast-forwarding the
// default branch otherwise. Callers must hold the per-repo lock.
func (m *Manager) Ensure(fullName string) (string, error) {
	owner, name, err := splitFullName(fullName)
	if err != nil {
		return "", err
	}

	path := m.PathFor(fullName)

	if !git.IsGitRepo(path) {
		log.Printf("📥 Cloning %s/%s...", owner, name)
		if err := git.Clone(m.cloneURL(owner, name), path); err != nil {
			return "", err
		}
		return path, nil
	}

	repo := git.NewRepository(path)

	// Idempotent refresh: make sure we are on the default branch and
	// fast-forwarded before any task touches the tree.
	defaultBranch, err := repo.DefaultBranch()
	if err != nil {
		return "", err
	}
	current, err := repo.CurrentBranch()
	if err != nil {
		return "", err
	}
	if current != defaultBranch {
		if err := repo.Checkout(defaultBranch); err != nil {
			return "", err
		}
	}

	if err := repo.Fetch(); err != nil {
		return "", err
	}
	if err := repo.PullFastForward(); err != nil {
		return "", err
	}

	return path, nil
}

// PathFor computes the flat directory for a repository.
func (m *Manager) PathFor(fullName string) string {
	return filepath.Join(m.root, Sanitize(fullName))
}

// Sanitize flattens "owner/name" into one directory component.
func Sanitize(fullName string) string {
	return strings.ReplaceAll(fullName, "/", "__")
}

// cloneURL builds a single-use authenticated HTTPS URL. The token is
// URL-encoded so arbitrary token characters survive.
func (m *Manager) cloneURL(owner, name string) string {
	m.mu.Lock()
	token := m.token
	m.mu.Unlock()

	return fmt.Sprintf("https://x-access-token:%s@github.com/%s/%s.git",
		url.QueryEscape(token), owner, name)
}

func splitFullName(fullName string) (owner, name string, err error) {
	parts := strings.Split(fullName, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository name %q (want owner/name)", fullName)
	}
	return parts[0], parts[1], nil
}
