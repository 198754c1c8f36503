package orchestrator

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/triage-ai/agentgate/internal/findings"
	"github.com/triage-ai/agentgate/internal/gate"
	"github.com/triage-ai/agentgate/internal/tools"
)

// Message types exchanged with a bridge process, one JSON object per line.
const (
	msgStart      = "start"       // runtime -> bridge
	msgToolResult = "tool_result" // runtime -> bridge
	msgToolCall   = "tool_call"   // bridge -> runtime
	msgFinding    = "finding"     // bridge -> runtime
	msgSummary    = "summary"     // bridge -> runtime
	msgDone       = "done"        // bridge -> runtime
	msgError      = "error"       // bridge -> runtime
)

const (
	maxMessageSize   = 8 << 20
	defaultExitGrace = 2 * time.Second
)

// startPayload describes the invocation to the bridge.
type startPayload struct {
	ID          string   `json:"id"`
	RunID       string   `json:"run_id"`
	Agent       string   `json:"agent"`
	Description string   `json:"description"`
	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Prompt      string   `json:"prompt"`
	Input       string   `json:"input"`
	Tools       []string `json:"tools"`
	TimeoutMs   int64    `json:"timeout_ms"`
}

// wireFinding carries severity as text so an unknown value reaches the
// aggregator as invalid instead of failing the decode.
type wireFinding struct {
	Severity    string `json:"severity"`
	Category    string `json:"category"`
	File        string `json:"file"`
	Line        int    `json:"line"`
	Description string `json:"description"`
	Fix         string `json:"fix"`
}

func (w wireFinding) finding() findings.Finding {
	sev, _ := findings.ParseSeverity(w.Severity)
	return findings.Finding{
		Severity:    sev,
		Category:    w.Category,
		Location:    findings.Location{File: w.File, Line: w.Line},
		Description: w.Description,
		Fix:         w.Fix,
	}
}

type message struct {
	Type string `json:"type"`

	Invocation *startPayload `json:"invocation,omitempty"`

	CallID    string         `json:"call_id,omitempty"`
	Tool      string         `json:"tool,omitempty"`
	Args      map[string]any `json:"args,omitempty"`
	Output    string         `json:"output,omitempty"`
	ExitCode  int            `json:"exit_code,omitempty"`
	Truncated bool           `json:"truncated,omitempty"`
	Error     string         `json:"error,omitempty"`
	Denied    bool           `json:"denied,omitempty"`

	Finding *wireFinding `json:"finding,omitempty"`
	Text    string       `json:"text,omitempty"`
	Message string       `json:"message,omitempty"`
}

// ProcessExecutor runs each invocation through an external bridge command
// that talks to the model. The bridge reads and writes JSON lines on
// stdin/stdout; stderr is logged.
type ProcessExecutor struct {
	Command []string
	Env     []string
	Dir     string
	// ExitGrace is how long a bridge may keep running after it sent done
	// before it is killed. Zero means two seconds.
	ExitGrace time.Duration
	Logger    *zap.Logger
}

// NewProcessExecutor parses a whitespace-separated command line.
func NewProcessExecutor(commandLine string, logger *zap.Logger) (*ProcessExecutor, error) {
	argv := strings.Fields(commandLine)
	if len(argv) == 0 {
		return nil, errors.New("NewProcessExecutor: empty command")
	}
	return &ProcessExecutor{Command: argv, Logger: logger}, nil
}

func (p *ProcessExecutor) Execute(ctx context.Context, inv *Invocation, runner tools.Runner) (*Output, error) {
	cmd := exec.CommandContext(ctx, p.Command[0], p.Command[1:]...)
	cmd.Dir = p.Dir
	cmd.Env = append(os.Environ(), p.Env...)
	cmd.WaitDelay = 2 * time.Second

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("Execute: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("Execute: %w", err)
	}
	stderr := &tailWriter{max: 4096}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("Execute: start bridge: %w", err)
	}

	out, runErr := p.converse(ctx, inv, runner, stdin, stdout)
	_ = stdin.Close()
	if runErr == nil {
		// The bridge reported done, so its output stands however it exits.
		p.reap(cmd, inv)
		return out, nil
	}
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if tail := stderr.String(); tail != "" {
		p.Logger.Debug("bridge stderr",
			zap.String("invocation", inv.ID),
			zap.String("stderr", tail),
			zap.NamedError("exit", waitErr),
		)
	}
	return nil, runErr
}

// reap waits up to ExitGrace for a finished bridge to exit, then kills it.
func (p *ProcessExecutor) reap(cmd *exec.Cmd, inv *Invocation) {
	grace := p.ExitGrace
	if grace <= 0 {
		grace = defaultExitGrace
	}
	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case err := <-exited:
		if err != nil {
			p.Logger.Warn("bridge exited with error after done", zap.String("invocation", inv.ID), zap.Error(err))
		}
	case <-timer.C:
		_ = cmd.Process.Kill()
		<-exited
		p.Logger.Debug("killed bridge lingering after done", zap.String("invocation", inv.ID), zap.Duration("grace", grace))
	}
}

func (p *ProcessExecutor) converse(ctx context.Context, inv *Invocation, runner tools.Runner, w io.Writer, r io.Reader) (*Output, error) {
	enc := json.NewEncoder(w)
	send := func(m *message) error {
		if err := enc.Encode(m); err != nil {
			return fmt.Errorf("write to bridge: %w", err)
		}
		return nil
	}

	if err := send(&message{Type: msgStart, Invocation: &startPayload{
		ID:          inv.ID,
		RunID:       inv.RunID,
		Agent:       inv.Agent.Name,
		Description: inv.Agent.Description,
		Model:       inv.Agent.Model,
		Temperature: inv.Agent.Temperature,
		Prompt:      inv.Agent.Prompt,
		Input:       inv.Input,
		Tools:       enabledTools(inv),
		TimeoutMs:   inv.Timeout.Milliseconds(),
	}}); err != nil {
		return nil, err
	}

	out := &Output{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxMessageSize)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var m message
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			return nil, fmt.Errorf("bridge sent invalid JSON: %w", err)
		}

		switch m.Type {
		case msgToolCall:
			res, err := runner.Invoke(ctx, m.Tool, m.Args)
			reply := &message{Type: msgToolResult, CallID: m.CallID}
			if err != nil {
				reply.Error = err.Error()
				reply.Denied = isGateError(err)
			} else {
				reply.Output, reply.ExitCode, reply.Truncated = res.Output, res.ExitCode, res.Truncated
			}
			if serr := send(reply); serr != nil {
				return nil, serr
			}
			// A refused tool call ends the invocation.
			if reply.Denied {
				return nil, err
			}
		case msgFinding:
			if m.Finding != nil {
				out.Findings = append(out.Findings, m.Finding.finding())
			}
		case msgSummary:
			out.Summary = m.Text
		case msgDone:
			return out, nil
		case msgError:
			return nil, fmt.Errorf("bridge error: %s", m.Message)
		default:
			p.Logger.Warn("unknown bridge message", zap.String("type", m.Type), zap.String("invocation", inv.ID))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read from bridge: %w", err)
	}
	return nil, errors.New("bridge exited without done")
}

func isGateError(err error) bool {
	return errors.Is(err, gate.ErrPermissionDenied) || errors.Is(err, gate.ErrConfirmationRequired)
}

func enabledTools(inv *Invocation) []string {
	var names []string
	for _, t := range gate.ToolNames() {
		if inv.Agent.ToolEnabled(t) {
			names = append(names, t)
		}
	}
	return names
}

// tailWriter keeps the last max bytes written to it.
type tailWriter struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (t *tailWriter) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailWriter) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
