package gate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/triage-ai/agentgate/internal/agents"
	"github.com/triage-ai/agentgate/internal/storage"
)

func newTestGate(t *testing.T, opts Options) (*Gate, *storage.MemoryStore) {
	t.Helper()
	mem := storage.NewMemoryStore(100)
	if opts.Workspace == "" {
		opts.Workspace = t.TempDir()
	}
	opts.Audit = mem
	opts.Logger = zap.NewNop()
	g, err := New(opts)
	require.NoError(t, err)
	return g, mem
}

func gitOnlyAgent() *agents.Definition {
	return &agents.Definition{
		Name: "reviewer",
		Mode: agents.ModeSubagent,
		Permissions: map[string][]agents.Rule{
			"bash": {
				{Pattern: "git *", Action: agents.ActionAllow},
				{Pattern: "*", Action: agents.ActionDeny},
			},
		},
	}
}

func bash(def *agents.Definition, cmd string) *Request {
	return &Request{RunID: "run-1", Agent: def, Tool: "bash", Args: map[string]any{"command": cmd}}
}

func TestAuthorize_GitScenario(t *testing.T) {
	g, _ := newTestGate(t, Options{})
	def := gitOnlyAgent()
	ctx := context.Background()

	dec := g.Authorize(ctx, bash(def, "git push --force"))
	assert.Equal(t, agents.ActionAsk, dec.Action)
	assert.Equal(t, "destructive_command", dec.Rule, "the allow rule did not decide")
	assert.Contains(t, dec.Reason, "git push --force")

	dec = g.Authorize(ctx, bash(def, "git log"))
	assert.Equal(t, agents.ActionAllow, dec.Action)

	dec = g.Authorize(ctx, bash(def, "rm -rf /"))
	assert.Equal(t, agents.ActionDeny, dec.Action)
}

func TestAuthorize_CompoundCommands(t *testing.T) {
	g, _ := newTestGate(t, Options{})
	def := gitOnlyAgent()
	ctx := context.Background()

	cases := []struct {
		cmd  string
		want agents.Action
	}{
		{"git status && rm -rf build", agents.ActionDeny},
		{"git log | head -5", agents.ActionDeny},
		{"git status; git diff", agents.ActionAllow},
		{"git fetch\ngit log", agents.ActionAllow},
		{`git commit -m "fix; rm -rf /"`, agents.ActionAllow},
		{"git log $(rm -rf ~)", agents.ActionDeny},
		{"git status & git diff", agents.ActionAllow},
	}
	for _, c := range cases {
		t.Run(c.cmd, func(t *testing.T) {
			dec := g.Authorize(ctx, bash(def, c.cmd))
			assert.Equal(t, c.want, dec.Action, dec.Reason)
		})
	}
}

func TestAuthorize_DestructiveOverridesAllow(t *testing.T) {
	g, _ := newTestGate(t, Options{})
	def := &agents.Definition{
		Name: "builder",
		Permissions: map[string][]agents.Rule{
			"bash": {{Pattern: "*", Action: agents.ActionAllow}},
		},
	}
	ctx := context.Background()

	assert.Equal(t, agents.ActionAsk, g.Authorize(ctx, bash(def, "rm -rf build")).Action)
	assert.Equal(t, agents.ActionDeny, g.Authorize(ctx, bash(def, "rm -rf ~")).Action)
	assert.Equal(t, agents.ActionAsk, g.Authorize(ctx, bash(def, "make && sudo make install")).Action)
	assert.Equal(t, agents.ActionAsk, g.Authorize(ctx, bash(def, "echo $(whoami)")).Action)
	assert.Equal(t, agents.ActionAllow, g.Authorize(ctx, bash(def, "go test ./...")).Action)

	tests := []struct {
		cmd  string
		want agents.Action
	}{
		{`bash -c "rm -rf /"`, agents.ActionDeny},
		{`sh -c 'git push --force'`, agents.ActionAsk},
		{`bash -o pipefail -ec 'make && rm -rf ~'`, agents.ActionDeny},
		{`eval rm -rf /`, agents.ActionDeny},
		{`timeout 5 rm -rf /`, agents.ActionDeny},
		{`timeout -s KILL 5s git reset --hard`, agents.ActionAsk},
		{`nice rm -rf ~`, agents.ActionDeny},
		{`nice -n 10 rm -rf build`, agents.ActionAsk},
		{`command rm -rf /`, agents.ActionDeny},
		{`exec rm -rf /`, agents.ActionDeny},
		{`stdbuf -o L rm -rf /`, agents.ActionDeny},
		{`ionice -c 3 rm -rf /`, agents.ActionDeny},
		{`env FOO=bar rm -rf /`, agents.ActionDeny},
		{`find / -delete`, agents.ActionDeny},
		{`find . -name '*.tmp' -delete`, agents.ActionAsk},
		{`find . -name '*.o' -exec rm {} \;`, agents.ActionAsk},
		{`rm -rf "/"`, agents.ActionDeny},
		{`bash -c "go vet ./..."`, agents.ActionAllow},
		{`timeout 30 go test ./...`, agents.ActionAllow},
		{`find . -name '*.go'`, agents.ActionAllow},
	}
	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			dec := g.Authorize(ctx, bash(def, tt.cmd))
			assert.Equal(t, tt.want, dec.Action, dec.Reason)
		})
	}
}

func TestAuthorize_ClassDefaults(t *testing.T) {
	g, _ := newTestGate(t, Options{})
	def := &agents.Definition{Name: "bare"}
	ctx := context.Background()

	assert.Equal(t, agents.ActionDeny, g.Authorize(ctx, bash(def, "ls")).Action)
	assert.Equal(t, agents.ActionAllow, g.Authorize(ctx, &Request{Agent: def, Tool: "read", Args: map[string]any{"path": "main.go"}}).Action)
	assert.Equal(t, agents.ActionAllow, g.Authorize(ctx, &Request{Agent: def, Tool: "list", Args: map[string]any{}}).Action)
	assert.Equal(t, agents.ActionDeny, g.Authorize(ctx, &Request{Agent: def, Tool: "write", Args: map[string]any{"path": "a.txt", "content": "x"}}).Action)
	assert.Equal(t, agents.ActionDeny, g.Authorize(ctx, &Request{Agent: def, Tool: "webfetch", Args: map[string]any{"url": "https://example.com"}}).Action)
}

func TestAuthorize_ClassKeyAndPaths(t *testing.T) {
	g, _ := newTestGate(t, Options{})
	def := &agents.Definition{
		Name: "docs",
		Permissions: map[string][]agents.Rule{
			"edit": {
				{Pattern: "**/*.md", Action: agents.ActionAllow},
				{Pattern: ".git/**", Action: agents.ActionAllow},
				{Pattern: "*", Action: agents.ActionDeny},
			},
		},
	}
	ctx := context.Background()
	write := func(p string) Decision {
		return g.Authorize(ctx, &Request{Agent: def, Tool: "write", Args: map[string]any{"path": p, "content": "x"}})
	}

	assert.Equal(t, agents.ActionAllow, write("docs/guide.md").Action)
	assert.Equal(t, agents.ActionAllow, write("README.md").Action)
	assert.Equal(t, agents.ActionDeny, write("main.go").Action)
	assert.Equal(t, agents.ActionAsk, write(".git/config").Action, "protected path floors to ask")
	assert.Equal(t, agents.ActionDeny, write("/etc/motd").Action)

	edit := g.Authorize(ctx, &Request{Agent: def, Tool: "edit", Args: map[string]any{
		"path": "CHANGELOG.md", "old_string": "a", "new_string": "b",
	}})
	assert.Equal(t, agents.ActionAllow, edit.Action)
}

func TestAuthorize_ProtectedPaths(t *testing.T) {
	g, _ := newTestGate(t, Options{})
	def := &agents.Definition{
		Name:        "writer",
		Permissions: map[string][]agents.Rule{"write": {{Pattern: "*", Action: agents.ActionAllow}}},
	}
	ctx := context.Background()
	for _, p := range []string{".env", "config/.env.local", ".git/HEAD", "../outside.txt", "/tmp/elsewhere"} {
		dec := g.Authorize(ctx, &Request{Agent: def, Tool: "write", Args: map[string]any{"path": p, "content": ""}})
		assert.Equal(t, agents.ActionAsk, dec.Action, p)
	}
	dec := g.Authorize(ctx, &Request{Agent: def, Tool: "write", Args: map[string]any{"path": "src/app.go", "content": ""}})
	assert.Equal(t, agents.ActionAllow, dec.Action)
}

func TestAuthorize_DisabledAndInvalid(t *testing.T) {
	g, _ := newTestGate(t, Options{})
	def := &agents.Definition{
		Name:        "ro",
		Tools:       map[string]bool{"bash": false},
		Permissions: map[string][]agents.Rule{"webfetch": {{Pattern: "*", Action: agents.ActionAllow}}},
	}
	ctx := context.Background()

	dec := g.Authorize(ctx, bash(def, "git log"))
	assert.Equal(t, agents.ActionDeny, dec.Action)
	assert.Contains(t, dec.Reason, "disabled")

	dec = g.Authorize(ctx, &Request{Agent: def, Tool: "webfetch", Args: map[string]any{"url": "ftp://example.com"}})
	assert.Equal(t, agents.ActionDeny, dec.Action)

	dec = g.Authorize(ctx, &Request{Agent: def, Tool: "read", Args: map[string]any{"file": "x"}})
	assert.Equal(t, agents.ActionDeny, dec.Action)

	dec = g.Authorize(ctx, &Request{Agent: def, Tool: "teleport", Args: nil})
	assert.Equal(t, agents.ActionDeny, dec.Action)
	assert.Contains(t, dec.Reason, "unknown tool")
}

func TestAuthorize_RateLimit(t *testing.T) {
	g, _ := newTestGate(t, Options{ToolRate: 0.001, ToolBurst: 2})
	def := &agents.Definition{Name: "chatty"}
	ctx := context.Background()
	read := &Request{Agent: def, Tool: "read", Args: map[string]any{"path": "a"}}

	assert.Equal(t, agents.ActionAllow, g.Authorize(ctx, read).Action)
	assert.Equal(t, agents.ActionAllow, g.Authorize(ctx, read).Action)
	dec := g.Authorize(ctx, read)
	assert.Equal(t, agents.ActionDeny, dec.Action)
	assert.Contains(t, dec.Reason, "exceeded")

	other := &Request{Agent: &agents.Definition{Name: "quiet"}, Tool: "read", Args: map[string]any{"path": "a"}}
	assert.Equal(t, agents.ActionAllow, g.Authorize(ctx, other).Action, "limits are per agent")
}

func TestAuthorize_OneAuditRecordPerDecision(t *testing.T) {
	g, mem := newTestGate(t, Options{})
	def := gitOnlyAgent()
	g.Authorize(context.Background(), bash(def, "git log"))
	g.Authorize(context.Background(), bash(def, "rm -rf /"))

	recs := mem.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, "deny", recs[0].Decision)
	assert.Equal(t, "allow", recs[1].Decision)
	for _, r := range recs {
		assert.Equal(t, storage.StageDecision, r.Stage)
		assert.Equal(t, "run-1", r.RunID)
		assert.Equal(t, "reviewer", r.Agent)
	}
}

func TestResolve_AskWithoutConfirmer(t *testing.T) {
	g, _ := newTestGate(t, Options{})
	req := bash(gitOnlyAgent(), "git push --force")
	dec := g.Authorize(context.Background(), req)

	err := g.Resolve(context.Background(), req, dec, nil)
	var cre *ConfirmationRequiredError
	require.ErrorAs(t, err, &cre)
	assert.True(t, errors.Is(err, ErrConfirmationRequired))
	assert.Equal(t, "git push --force", cre.Pending.Subject)
}

func TestResolve_ApprovalWritesTwoRecords(t *testing.T) {
	g, mem := newTestGate(t, Options{})
	req := bash(gitOnlyAgent(), "git push --force")
	dec := g.Authorize(context.Background(), req)

	require.NoError(t, g.Resolve(context.Background(), req, dec, StaticConfirmer{Approve: true}))

	recs := mem.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, storage.StageConfirmation, recs[0].Stage)
	assert.Equal(t, "allow", recs[0].Decision)
	assert.Equal(t, storage.StageDecision, recs[1].Stage)
	assert.Equal(t, "ask", recs[1].Decision)
}

func TestResolve_Rejection(t *testing.T) {
	g, mem := newTestGate(t, Options{})
	req := bash(gitOnlyAgent(), "git reset --hard HEAD~3")
	dec := g.Authorize(context.Background(), req)
	require.Equal(t, agents.ActionAsk, dec.Action)

	err := g.Resolve(context.Background(), req, dec, StaticConfirmer{Approve: false})
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, "deny", mem.Records()[0].Decision)
}

func TestResolve_Deny(t *testing.T) {
	g, _ := newTestGate(t, Options{})
	req := bash(gitOnlyAgent(), "curl https://example.com")
	dec := g.Authorize(context.Background(), req)

	err := g.Resolve(context.Background(), req, dec, StaticConfirmer{Approve: true})
	var de *DeniedError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "bash", de.Tool)
}

func TestAggregate_MostRestrictiveWins(t *testing.T) {
	dec := Aggregate([]*Verdict{
		{Action: agents.ActionAllow, Rule: `bash["*"]`, Reason: "matched"},
		{Action: agents.ActionAsk, Rule: "destructive_command", Reason: "destructive"},
		{Action: agents.ActionAsk, Rule: "protected_path", Reason: "protected"},
	})
	assert.Equal(t, agents.ActionAsk, dec.Action)
	assert.Equal(t, "destructive_command", dec.Rule)
	assert.Equal(t, "destructive; protected", dec.Reason)

	dec = Aggregate([]*Verdict{
		{Action: agents.ActionAllow, Reason: "read-only"},
		{Action: agents.ActionAllow, Rule: `read["*"]`, Reason: "matched"},
	})
	assert.Equal(t, agents.ActionAllow, dec.Action)
	assert.Equal(t, `read["*"]`, dec.Rule)

	assert.Equal(t, agents.ActionAllow, Aggregate(nil).Action)
}
