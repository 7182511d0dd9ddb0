package agent

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/codelink-dev/codelink/internal/git"
	"github.com/codelink-dev/codelink/internal/protocol"
	"github.com/codelink-dev/codelink/internal/runner"
)

// branchPrefix namespaces every branch the task pipeline creates.
const branchPrefix = "claude-mobile/"

// slugMaxLen bounds the human-readable part of a branch name.
const slugMaxLen = 50

// commitSummaryLen bounds the task summary embedded in commit messages
// and PR titles.
const commitSummaryLen = 72

// handleTask runs the autonomous pipeline: branch, invoke the tool,
// commit, push, open a PR, and report task_done. Any failure yields
// exactly one error frame and stops the pipeline.
func (a *Agent) handleTask(sessionID, taskContext, repoFullName, baseBranch string) {
	log.Printf("🤖 Task request (repo: %s, base: %s)", repoFullName, baseBranch)

	if repoFullName == "" || baseBranch == "" {
		a.sendError(sessionID, "task_start requires repoFullName and baseBranch")
		return
	}

	unlock := a.workspaces.Lock(repoFullName)
	defer unlock()

	dir, err := a.workspaces.Ensure(repoFullName)
	if err != nil {
		log.Printf("❌ Workspace setup failed: %v", err)
		a.sendError(sessionID, err.Error())
		return
	}

	repo := git.NewRepository(dir)
	branch := BranchName(taskContext, time.Now())

	if err := repo.CreateBranch(branch); err != nil {
		a.sendError(sessionID, err.Error())
		return
	}

	a.sendChunk(sessionID, fmt.Sprintf("Working on branch %s\n", branch))

	r := a.newRunner(dir)
	runErr := r.Stream(taskContext, func(text string) {
		a.sendChunk(sessionID, text)
	})

	var spawnErr *runner.SpawnError
	if errors.As(runErr, &spawnErr) {
		log.Printf("❌ %v", spawnErr)
		a.abandonBranch(repo, baseBranch)
		a.sendError(sessionID, spawnErr.Error())
		return
	}
	if runErr != nil {
		log.Printf("❌ Tool failed: %v", runErr)
		a.abandonBranch(repo, baseBranch)
		a.sendError(sessionID, fmt.Sprintf("Code tool failed: %v", runErr))
		return
	}

	changed, err := repo.HasChanges()
	if err != nil {
		a.abandonBranch(repo, baseBranch)
		a.sendError(sessionID, err.Error())
		return
	}
	if !changed {
		log.Println("📊 Tool made no edits - nothing to commit")
		a.abandonBranch(repo, baseBranch)
		a.sendError(sessionID, "No changes to commit")
		return
	}

	summary := Truncate(taskContext, commitSummaryLen)

	if err := repo.CommitAll(fmt.Sprintf("Automated change: %s", summary)); err != nil {
		a.abandonBranch(repo, baseBranch)
		a.sendError(sessionID, err.Error())
		return
	}

	if err := repo.PushUpstream(branch); err != nil {
		log.Printf("❌ Push failed: %v", err)
		a.abandonBranch(repo, baseBranch)
		a.sendError(sessionID, err.Error())
		return
	}

	// Back to the base branch so the next refresh fast-forwards cleanly.
	if err := repo.Checkout(baseBranch); err != nil {
		a.sendError(sessionID, err.Error())
		return
	}

	pr, err := a.forge.CreatePullRequest(
		repoFullName,
		summary,
		fmt.Sprintf("Automated task run on branch `%s`.\n\nTask:\n\n> %s", branch, taskContext),
		branch,
		baseBranch,
	)
	if err != nil {
		log.Printf("❌ Pull request creation failed: %v", err)
		a.sendError(sessionID, err.Error())
		return
	}

	log.Printf("✅ Task complete: %s", pr.URL)
	a.send(&protocol.Frame{
		Type:      protocol.TypeTaskDone,
		SessionID: sessionID,
		PRURL:     pr.URL,
		PRTitle:   pr.Title,
	})
}

// abandonBranch returns to the base branch after a failed pipeline so
// the working copy stays refreshable. Best effort: the original error
// is the one surfaced to the session.
func (a *Agent) abandonBranch(repo *git.Repository, baseBranch string) {
	if err := repo.Checkout(baseBranch); err != nil {
		log.Printf("⚠️  Failed to return to %s: %v", baseBranch, err)
	}
}

// BranchName derives the task branch: prefix + slug + base36 timestamp.
func BranchName(taskContext string, now time.Time) string {
	return branchPrefix + Slug(taskContext) + "-" + strconv.FormatInt(now.Unix(), 36)
}

// Slug lowercases and truncates the context to 50 characters, collapses
// non-alphanumeric runs to single hyphens, and trims stray hyphens.
// Truncation counts runes so multibyte context is never cut mid-rune.
func Slug(s string) string {
	s = strings.ToLower(s)
	if runes := []rune(s); len(runes) > slugMaxLen {
		s = string(runes[:slugMaxLen])
	}

	var b strings.Builder
	lastHyphen := false
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastHyphen = false
		} else if !lastHyphen {
			b.WriteByte('-')
			lastHyphen = true
		}
	}

	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		slug = "task"
	}
	return slug
}

// Truncate shortens s to max runes, appending an ellipsis when anything
// was cut. Cutting on rune boundaries keeps commit messages and PR
// titles valid UTF-8.
func Truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return strings.TrimSpace(string(runes[:max-3])) + "..."
}
