// Package stage provides the collaborators that produce handoff payloads
// for the orchestrator: shell commands, payload directories and built-in
// fixtures.
package stage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/lucasnoah/mailgate/internal/handoff"
	"github.com/lucasnoah/mailgate/internal/orchestrator"
)

const defaultTimeout = 5 * time.Minute

// stderrTail bounds how much stderr is quoted in an error.
const stderrTail = 512

// CommandRunner abstracts command execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, dir, command string, stdin []byte) (stdout, stderr string, exitCode int, err error)
}

// ExecRunner implements CommandRunner by shelling out.
type ExecRunner struct{}

func (e *ExecRunner) Run(ctx context.Context, dir, command string, stdin []byte) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	cmd.Stdin = bytes.NewReader(stdin)

	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return stdoutBuf.String(), stderrBuf.String(), -1, fmt.Errorf("exec: %w", err)
		}
	}
	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// Command is one stage's producer command.
type Command struct {
	Command string
	Timeout time.Duration
}

// CommandCollaborator runs a shell command per stage. The command receives
// the StageRequest as JSON on stdin and must print the handoff payload as a
// JSON object on stdout.
type CommandCollaborator struct {
	cmd      CommandRunner
	commands map[handoff.Stage]Command
	dir      string
	progress io.Writer
}

// NewCommandCollaborator creates a collaborator running commands from dir.
// A nil runner uses ExecRunner.
func NewCommandCollaborator(runner CommandRunner, dir string, commands map[handoff.Stage]Command) *CommandCollaborator {
	if runner == nil {
		runner = &ExecRunner{}
	}
	return &CommandCollaborator{cmd: runner, commands: commands, dir: dir}
}

// SetProgress sets a writer for live progress output (e.g. os.Stderr).
func (c *CommandCollaborator) SetProgress(w io.Writer) {
	c.progress = w
}

func (c *CommandCollaborator) logf(format string, args ...any) {
	if c.progress != nil {
		fmt.Fprintf(c.progress, "  → "+format+"\n", args...)
	}
}

// Handles reports whether a command is configured for s.
func (c *CommandCollaborator) Handles(s handoff.Stage) bool {
	_, ok := c.commands[s]
	return ok
}

// Produce runs the stage's command and decodes its stdout.
func (c *CommandCollaborator) Produce(ctx context.Context, req orchestrator.StageRequest) (handoff.Payload, error) {
	sc, ok := c.commands[req.Stage]
	if !ok {
		return nil, fmt.Errorf("no command configured for stage %s", req.Stage)
	}
	timeout := sc.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	stdin, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode stage request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c.logf("%s (iteration %d): %s", req.Stage, req.Iteration, sc.Command)
	start := time.Now()
	stdout, stderr, exitCode, err := c.cmd.Run(ctx, c.dir, sc.Command, stdin)
	elapsed := time.Since(start)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("stage %s command after %s: %w", req.Stage, elapsed.Round(time.Millisecond), ctxErr)
	}
	if err != nil {
		return nil, fmt.Errorf("stage %s command: %w", req.Stage, err)
	}
	if exitCode != 0 {
		return nil, fmt.Errorf("stage %s command exited %d: %s", req.Stage, exitCode, tail(stderr))
	}

	payload, err := handoff.DecodePayload([]byte(stdout))
	if err != nil {
		return nil, fmt.Errorf("stage %s output: %w", req.Stage, err)
	}
	c.logf("%s produced %d top-level fields in %s", req.Stage, len(payload), elapsed.Round(time.Millisecond))
	return payload, nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrTail {
		s = "..." + s[len(s)-stderrTail:]
	}
	if s == "" {
		return "(no stderr)"
	}
	return s
}
