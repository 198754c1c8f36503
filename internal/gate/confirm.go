package gate

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
)

// Pending is an ask decision waiting for a human.
type Pending struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Agent     string    `json:"agent"`
	Tool      string    `json:"tool"`
	Subject   string    `json:"subject"`
	Rule      string    `json:"rule,omitempty"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

func newPending(req *Request, dec Decision) *Pending {
	return &Pending{
		ID:        uuid.NewString(),
		RunID:     req.RunID,
		Agent:     req.Agent.Name,
		Tool:      req.Tool,
		Subject:   dec.Subject,
		Rule:      dec.Rule,
		Reason:    dec.Reason,
		CreatedAt: time.Now().UTC(),
	}
}

// Confirmer resolves ask decisions. Confirm blocks until the request is
// approved, rejected, or ctx ends.
type Confirmer interface {
	Confirm(ctx context.Context, p *Pending) (bool, error)
}

// StaticConfirmer answers every request the same way.
type StaticConfirmer struct {
	Approve bool
}

func (s StaticConfirmer) Confirm(context.Context, *Pending) (bool, error) {
	return s.Approve, nil
}

// TerminalConfirmer prompts on a terminal. Prompts from concurrent subagents
// are serialized. A single goroutine reads answers for the confirmer's whole
// life, so an answer typed after a prompt was abandoned goes to the next one.
type TerminalConfirmer struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer

	start sync.Once
	lines chan answer
}

type answer struct {
	line string
	err  error
}

// NewTerminalConfirmer reads answers from in and writes prompts to out.
func NewTerminalConfirmer(in io.Reader, out io.Writer) *TerminalConfirmer {
	return &TerminalConfirmer{in: bufio.NewReader(in), out: out, lines: make(chan answer)}
}

// readLines feeds lines until the input fails. The last answer carries the
// error and the channel is closed after it.
func (t *TerminalConfirmer) readLines() {
	defer close(t.lines)
	for {
		line, err := t.in.ReadString('\n')
		t.lines <- answer{line: line, err: err}
		if err != nil {
			return
		}
	}
}

func (t *TerminalConfirmer) Confirm(ctx context.Context, p *Pending) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.start.Do(func() { go t.readLines() })

	warn := color.New(color.FgYellow, color.Bold)
	warn.Fprintf(t.out, "\n%s wants to run %s\n", p.Agent, p.Tool)
	fmt.Fprintf(t.out, "  %s\n", p.Subject)
	if p.Reason != "" {
		fmt.Fprintf(t.out, "  reason: %s\n", p.Reason)
	}
	fmt.Fprint(t.out, "Allow? [y/N]: ")

	select {
	case <-ctx.Done():
		fmt.Fprintln(t.out)
		return false, ctx.Err()
	case a, ok := <-t.lines:
		if !ok {
			return false, nil
		}
		if a.err != nil && a.line == "" {
			if a.err == io.EOF {
				return false, nil
			}
			return false, a.err
		}
		switch strings.ToLower(strings.TrimSpace(a.line)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	}
}

// QueueConfirmer parks ask decisions until they are resolved through the API.
type QueueConfirmer struct {
	mu      sync.Mutex
	pending map[string]*queued
	timeout time.Duration
}

type queued struct {
	p      *Pending
	answer chan bool
}

// NewQueueConfirmer creates a queue. A non-zero timeout rejects requests
// nobody resolved in time.
func NewQueueConfirmer(timeout time.Duration) *QueueConfirmer {
	return &QueueConfirmer{pending: make(map[string]*queued), timeout: timeout}
}

func (q *QueueConfirmer) Confirm(ctx context.Context, p *Pending) (bool, error) {
	item := &queued{p: p, answer: make(chan bool, 1)}
	q.mu.Lock()
	q.pending[p.ID] = item
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		delete(q.pending, p.ID)
		q.mu.Unlock()
	}()

	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}

	select {
	case approved := <-item.answer:
		return approved, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Pending lists unresolved requests, oldest first.
func (q *QueueConfirmer) Pending() []Pending {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Pending, 0, len(q.pending))
	for _, item := range q.pending {
		out = append(out, *item.p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Resolve answers a pending request.
func (q *QueueConfirmer) Resolve(id string, approve bool) error {
	q.mu.Lock()
	item, ok := q.pending[id]
	if ok {
		delete(q.pending, id)
	}
	q.mu.Unlock()
	if !ok {
		return ErrNoSuchConfirmation
	}
	item.answer <- approve
	return nil
}
