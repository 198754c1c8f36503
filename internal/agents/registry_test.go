package agents

import (
	"context"
	"errors"
	"strings"
	"testing"
	"testing/fstest"

	"go.uber.org/zap"
)

func mapSource(label string, files map[string]string) *FSSource {
	fsys := fstest.MapFS{}
	for name, content := range files {
		fsys[name] = &fstest.MapFile{Data: []byte(content)}
	}
	return &FSSource{FS: fsys, Dir: ".", Label: label}
}

func TestLoad_Builtins(t *testing.T) {
	reg, err := Load(context.Background(), zap.NewNop(), EmbeddedSource())
	if err != nil {
		t.Fatal(err)
	}
	if len(reg.Problems()) != 0 {
		t.Fatalf("expected builtins to parse cleanly, got %v", reg.Problems())
	}
	want := []string{"chat", "code-review", "docs", "git-diff", "lint", "plan", "review", "security-review", "test-gen"}
	got := reg.Names()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, got)
	}

	review, err := reg.Lookup("review")
	if err != nil {
		t.Fatal(err)
	}
	if !review.Mode.Invocable() {
		t.Fatal("expected review to be invocable")
	}
	for _, task := range review.Subagents {
		sub, err := reg.Lookup(task.Agent)
		if err != nil {
			t.Fatalf("review declares %s: %v", task.Agent, err)
		}
		if !sub.Mode.Delegable() {
			t.Fatalf("%s is not delegable", task.Agent)
		}
	}
}

func TestLoad_SkipsMalformed(t *testing.T) {
	src := mapSource("test", map[string]string{
		"good.md":   "---\ndescription: d\nmode: primary\n---\n",
		"bad.md":    "---\nmode: primary\n---\n",
		"notes.txt": "ignored",
	})
	reg, err := Load(context.Background(), zap.NewNop(), src)
	if err != nil {
		t.Fatal(err)
	}
	if names := reg.Names(); len(names) != 1 || names[0] != "good" {
		t.Fatalf("expected only good, got %v", names)
	}
	if len(reg.Problems()) != 1 || reg.Problems()[0].Name != "bad" {
		t.Fatalf("expected one problem for bad, got %v", reg.Problems())
	}
}

func TestLoad_DuplicateNameRejected(t *testing.T) {
	first := mapSource("first", map[string]string{"a.md": "---\ndescription: one\nmode: primary\n---\n"})
	second := mapSource("second", map[string]string{"b.md": "---\nname: a\ndescription: two\nmode: primary\n---\n"})

	reg, err := Load(context.Background(), zap.NewNop(), first, second)
	if err != nil {
		t.Fatal(err)
	}
	def, err := reg.Lookup("a")
	if err != nil {
		t.Fatal(err)
	}
	if def.Description != "one" {
		t.Fatalf("expected first definition to win, got %q", def.Description)
	}
	if len(reg.Problems()) != 1 {
		t.Fatalf("expected duplicate to be reported, got %d problems", len(reg.Problems()))
	}
}

func TestLoad_MissingDirectoryIsEmpty(t *testing.T) {
	reg, err := Load(context.Background(), zap.NewNop(), DirSource(t.TempDir()+"/nope"))
	if err != nil {
		t.Fatal(err)
	}
	if len(reg.List()) != 0 {
		t.Fatal("expected empty registry")
	}
}

type failingSource struct{}

func (failingSource) Documents(context.Context) ([]Document, error) {
	return nil, errors.New("connection refused")
}
func (failingSource) String() string { return "failing" }

func TestLoad_UnreadableSourceFails(t *testing.T) {
	_, err := Load(context.Background(), zap.NewNop(), failingSource{})
	if err == nil {
		t.Fatal("expected load error")
	}
}

func TestLookup_UnknownSuggests(t *testing.T) {
	reg, err := Load(context.Background(), zap.NewNop(), EmbeddedSource())
	if err != nil {
		t.Fatal(err)
	}
	_, err = reg.Lookup("codereview")
	if !errors.Is(err, ErrUnknownAgent) {
		t.Fatalf("expected ErrUnknownAgent, got %v", err)
	}
	var lerr *LookupError
	if !errors.As(err, &lerr) {
		t.Fatalf("expected *LookupError, got %T", err)
	}
	found := false
	for _, s := range lerr.Suggestions {
		if s == "code-review" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected code-review suggestion, got %v", lerr.Suggestions)
	}
	if !strings.Contains(err.Error(), "did you mean") {
		t.Fatalf("expected suggestion in message, got %q", err.Error())
	}
}

func TestRegistry_Close(t *testing.T) {
	reg, err := Load(context.Background(), zap.NewNop(), EmbeddedSource())
	if err != nil {
		t.Fatal(err)
	}
	reg.Close()
	if _, err := reg.Lookup("chat"); err == nil {
		t.Fatal("expected lookup to fail after close")
	}
}
