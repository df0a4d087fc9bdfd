package groupmap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/isometry/groupsync/internal/logging"
)

// Request is one invocation of the group mapping tool.
type Request struct {
	Args []string
}

// Response carries the tool output.
type Response struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes group mapping requests.
type Runner interface {
	Run(ctx context.Context, req Request) (Response, error)
}

// ExecRunner runs the Samba net command.
type ExecRunner struct {
	Command string
	logger  logging.Logger
}

// NewExecRunner returns a runner for command, "net" when empty.
func NewExecRunner(command string, logger logging.Logger) *ExecRunner {
	if command == "" {
		command = "net"
	}
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &ExecRunner{Command: command, logger: logger}
}

func (r *ExecRunner) Run(ctx context.Context, req Request) (Response, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, r.Command, req.Args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug("Running group mapping command", map[string]any{
		"command": r.Command,
		"args":    strings.Join(req.Args, " "),
	})

	err := cmd.Run()
	resp := Response{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			resp.ExitCode = exitErr.ExitCode()
		}
		msg := strings.TrimSpace(resp.Stderr)
		if msg == "" {
			msg = err.Error()
		}
		return resp, fmt.Errorf("%s %s: %s: %w", r.Command, strings.Join(req.Args, " "), msg, err)
	}

	return resp, nil
}
