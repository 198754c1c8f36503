package tools

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	maxReadLines   = 2000
	maxLineLength  = 2000
	maxListEntries = 1000
	maxGlobMatches = 1000
	maxGrepMatches = 500
)

// skipDirs are never descended into by glob and grep.
var skipDirs = map[string]bool{".git": true, "node_modules": true, "vendor": true}

// readTool returns numbered lines of a text file.
type readTool struct{}

func (readTool) Name() string { return "read" }

func (readTool) Run(ctx context.Context, env *Env, args map[string]any) (*Result, error) {
	f, err := os.Open(env.resolve(stringArg(args, "path", "")))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	offset := intArg(args, "offset", 0)
	limit := min(intArg(args, "limit", maxReadLines), maxReadLines)

	var b strings.Builder
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	line, shown := 0, 0
	truncated := false
	for sc.Scan() {
		line++
		if line <= offset {
			continue
		}
		if shown == limit {
			truncated = true
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		text := sc.Text()
		if len(text) > maxLineLength {
			text = text[:maxLineLength] + "..."
		}
		fmt.Fprintf(&b, "%6d\t%s\n", line, text)
		shown++
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return &Result{Output: b.String(), Truncated: truncated}, nil
}

// listTool lists one directory. Directories carry a trailing slash.
type listTool struct{}

func (listTool) Name() string { return "list" }

func (listTool) Run(_ context.Context, env *Env, args map[string]any) (*Result, error) {
	entries, err := os.ReadDir(env.resolve(stringArg(args, "path", ".")))
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	truncated := false
	for i, e := range entries {
		if i == maxListEntries {
			truncated = true
			break
		}
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		b.WriteString(name)
		b.WriteByte('\n')
	}
	return &Result{Output: b.String(), Truncated: truncated}, nil
}

// globTool matches doublestar patterns relative to a base directory.
type globTool struct{}

func (globTool) Name() string { return "glob" }

func (globTool) Run(ctx context.Context, env *Env, args map[string]any) (*Result, error) {
	base := env.resolve(stringArg(args, "path", "."))
	pattern := stringArg(args, "pattern", "")

	var matches []string
	err := doublestar.GlobWalk(os.DirFS(base), pattern, func(p string, d fs.DirEntry) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		for _, part := range strings.Split(p, "/") {
			if skipDirs[part] {
				return nil
			}
		}
		if d.IsDir() {
			p += "/"
		}
		matches = append(matches, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	truncated := false
	if len(matches) > maxGlobMatches {
		matches, truncated = matches[:maxGlobMatches], true
	}
	return &Result{Output: strings.Join(matches, "\n"), Truncated: truncated}, nil
}

// grepTool searches file contents with a regular expression.
type grepTool struct{}

func (grepTool) Name() string { return "grep" }

var errTooManyMatches = errors.New("too many matches")

func (grepTool) Run(ctx context.Context, env *Env, args map[string]any) (*Result, error) {
	re, err := regexp.Compile(stringArg(args, "pattern", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	root := env.resolve(stringArg(args, "path", "."))
	include := stringArg(args, "include", "")

	var b strings.Builder
	count := 0
	walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if p != root && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if include != "" {
			if ok, _ := doublestar.Match(include, d.Name()); !ok {
				return nil
			}
		}
		return grepFile(p, env.display(p), re, &b, &count)
	})
	truncated := errors.Is(walkErr, errTooManyMatches)
	if walkErr != nil && !truncated {
		return nil, walkErr
	}
	if count == 0 {
		return &Result{Output: "no matches", ExitCode: 1}, nil
	}
	return &Result{Output: b.String(), Truncated: truncated}, nil
}

func grepFile(p, shown string, re *regexp.Regexp, b *strings.Builder, count *int) error {
	f, err := os.Open(p)
	if err != nil {
		return nil
	}
	defer f.Close()

	r := bufio.NewReader(f)
	if head, _ := r.Peek(512); isBinary(head) {
		return nil
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		if !re.MatchString(sc.Text()) {
			continue
		}
		text := sc.Text()
		if len(text) > maxLineLength {
			text = text[:maxLineLength] + "..."
		}
		fmt.Fprintf(b, "%s:%d: %s\n", shown, line, text)
		*count++
		if *count >= maxGrepMatches {
			return errTooManyMatches
		}
	}
	return nil
}

func isBinary(head []byte) bool {
	for _, c := range head {
		if c == 0 {
			return true
		}
	}
	return false
}

// writeTool creates or overwrites a file.
type writeTool struct{}

func (writeTool) Name() string { return "write" }

func (writeTool) Run(_ context.Context, env *Env, args map[string]any) (*Result, error) {
	p := env.resolve(stringArg(args, "path", ""))
	content := stringArg(args, "content", "")
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		return nil, err
	}
	return &Result{Output: fmt.Sprintf("wrote %d bytes to %s", len(content), env.display(p))}, nil
}

// editTool replaces an exact string in a file.
type editTool struct{}

func (editTool) Name() string { return "edit" }

func (editTool) Run(_ context.Context, env *Env, args map[string]any) (*Result, error) {
	p := env.resolve(stringArg(args, "path", ""))
	oldStr := stringArg(args, "old_string", "")
	newStr, _ := args["new_string"].(string)

	info, err := os.Stat(p)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	content := string(data)

	n := strings.Count(content, oldStr)
	switch {
	case n == 0:
		return nil, fmt.Errorf("old_string not found in %s", env.display(p))
	case n > 1 && !boolArg(args, "replace_all"):
		return nil, fmt.Errorf("old_string matches %d times in %s; add context or set replace_all", n, env.display(p))
	}

	if boolArg(args, "replace_all") {
		content = strings.ReplaceAll(content, oldStr, newStr)
	} else {
		content = strings.Replace(content, oldStr, newStr, 1)
	}
	if err := os.WriteFile(p, []byte(content), info.Mode().Perm()); err != nil {
		return nil, err
	}
	return &Result{Output: fmt.Sprintf("replaced %d occurrence(s) in %s", n, env.display(p))}, nil
}
