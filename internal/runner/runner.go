// Package runner spawns the code-generation CLI as a child process and
// streams its combined output in raw byte chunks.
package runner

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

// DefaultBinary is the code tool invoked for chat and task requests.
const DefaultBinary = "claude"

// readChunkSize matches the OS read size; chunks are forwarded as they
// arrive with no additional buffering.
const readChunkSize = 4096

// ChunkHandler receives each output chunk in emission order. Intra-stream
// order is preserved; stdout and stderr interleave arbitrarily.
type ChunkHandler func(text string)

// Runner executes the code tool inside one working directory.
type Runner struct {
	binary string
	dir    string
	env    []string
}

// New creates a runner for the given working directory.
func New(dir string) *Runner {
	return &Runner{
		binary: DefaultBinary,
		dir:    dir,
		env:    os.Environ(),
	}
}

// SetBinary overrides the tool binary (used by tests).
func (r *Runner) SetBinary(binary string) {
	r.binary = binary
}

// SetEnv adds environment variables for the child process.
func (r *Runner) SetEnv(extra ...string) {
	r.env = append(r.env, extra...)
}

// SpawnError marks a failure to start the child process, as opposed to
// a nonzero exit after it ran.
type SpawnError struct {
	Binary string
	Cause  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("Failed to spawn '%s': %v", e.Binary, e.Cause)
}

func (e *SpawnError) Unwrap() error { return e.Cause }

// Stream runs the tool with the prompt, forwarding every stdout and
// stderr chunk to onChunk as it is read. stdin is closed: the permission
// prompt flag is mandatory because no TTY is attached. The returned
// error is nil on a clean exit; a nonzero exit code comes back as an
// *exec.ExitError which chat callers may ignore.
func (r *Runner) Stream(prompt string, onChunk ChunkHandler) error {
	cmd := exec.Command(r.binary,
		"--dangerously-skip-permissions",
		"-p", prompt)

	cmd.Dir = r.dir
	cmd.Env = r.env
	cmd.Stdin = nil

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &SpawnError{Binary: r.binary, Cause: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &SpawnError{Binary: r.binary, Cause: err}
	}

	if err := cmd.Start(); err != nil {
		return &SpawnError{Binary: r.binary, Cause: err}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go pump(stdout, onChunk, &wg)
	go pump(stderr, onChunk, &wg)

	// Drain both pipes fully before Wait closes them.
	wg.Wait()

	return cmd.Wait()
}

// pump forwards raw chunks from one stream until EOF.
func pump(src io.Reader, onChunk ChunkHandler, wg *sync.WaitGroup) {
	defer wg.Done()

	buf := make([]byte, readChunkSize)
	for {
		n, err := src.Read(buf)
		if n > 0 && onChunk != nil {
			onChunk(string(buf[:n]))
		}
		if err != nil {
			return
		}
	}
}

// IsInstalled checks whether the code tool is on PATH.
func IsInstalled(binary string) bool {
	_, err := exec.LookPath(binary)
	return err == nil
}
