package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

const (
	defaultShellTimeout = 2 * time.Minute
	maxShellOutput      = 64 << 10
)

// bashTool runs a command with bash -c inside the workspace.
type bashTool struct{}

func (bashTool) Name() string { return "bash" }

func (bashTool) Run(ctx context.Context, env *Env, args map[string]any) (*Result, error) {
	command := stringArg(args, "command", "")
	timeout := defaultShellTimeout
	if secs := intArg(args, "timeout", 0); secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	cmd.Dir = env.resolve(stringArg(args, "workdir", "."))
	cmd.WaitDelay = time.Second

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	output, truncated := capOutput(out.String(), maxShellOutput)
	res := &Result{Output: output, Truncated: truncated}

	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return res, fmt.Errorf("command timed out after %s", timeout)
		}
		return res, ctx.Err()
	}
	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	case err != nil:
		return nil, err
	}
	return res, nil
}
