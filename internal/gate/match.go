package gate

import (
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"github.com/bmatcuk/doublestar/v4"
)

var wildcardCache sync.Map // pattern -> *regexp.Regexp

// matchWildcard matches s against a pattern where * is any run of characters
// and ? is one character. A trailing " *" also accepts the bare prefix, so
// "git *" matches "git".
func matchWildcard(pattern, s string) bool {
	if pattern == "*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, " *"); ok && s == prefix {
		return true
	}
	v, ok := wildcardCache.Load(pattern)
	if !ok {
		var b strings.Builder
		b.WriteString(`^`)
		for _, r := range pattern {
			switch r {
			case '*':
				b.WriteString(`.*`)
			case '?':
				b.WriteString(`.`)
			default:
				b.WriteString(regexp.QuoteMeta(string(r)))
			}
		}
		b.WriteString(`$`)
		v, _ = wildcardCache.LoadOrStore(pattern, regexp.MustCompile(`(?s)`+b.String()))
	}
	return v.(*regexp.Regexp).MatchString(s)
}

// matchPath matches a workspace-relative path against a doublestar pattern.
func matchPath(pattern, rel string) bool {
	if pattern == "*" || pattern == "**" {
		return true
	}
	ok, err := doublestar.Match(pattern, rel)
	return err == nil && ok
}

// splitCommand breaks a shell command into the simple commands joined by
// &&, ||, ;, |, & or newlines. Separators inside quotes are ignored.
func splitCommand(cmd string) []string {
	var (
		segments []string
		cur      strings.Builder
		quote    rune
		escaped  bool
	)
	flush := func() {
		if s := normalizeSegment(cur.String()); s != "" {
			segments = append(segments, s)
		}
		cur.Reset()
	}

	rs := []rune(cmd)
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		switch {
		case escaped:
			escaped = false
		case r == '\\' && quote != '\'':
			escaped = true
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == ';' || r == '\n':
			flush()
			continue
		case r == '|':
			if i+1 < len(rs) && (rs[i+1] == '|' || rs[i+1] == '&') {
				i++
			}
			flush()
			continue
		case r == '&':
			if i+1 < len(rs) && rs[i+1] == '&' {
				i++
				flush()
				continue
			}
			// 2>&1, &> and >& are redirections, not separators.
			prevRedirect := i > 0 && (rs[i-1] == '>' || rs[i-1] == '<')
			nextRedirect := i+1 < len(rs) && rs[i+1] == '>'
			if !prevRedirect && !nextRedirect {
				flush()
				continue
			}
		}
		cur.WriteRune(r)
	}
	flush()
	return segments
}

// shellFields splits a simple command into words with quotes and backslash
// escapes removed.
func shellFields(s string) []string {
	var (
		words   []string
		cur     strings.Builder
		inWord  bool
		quote   rune
		escaped bool
	)
	for _, r := range s {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\' && quote != '\'':
			escaped = true
			inWord = true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inWord = true
		case unicode.IsSpace(r):
			if inWord {
				words = append(words, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteRune(r)
			inWord = true
		}
	}
	if inWord {
		words = append(words, cur.String())
	}
	return words
}

var envAssign = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*=\S*$`)

// normalizeSegment collapses whitespace and drops subshell braces and
// leading VAR=value assignments.
func normalizeSegment(s string) string {
	fields := strings.Fields(s)
	for len(fields) > 0 {
		f := strings.TrimLeft(fields[0], "({")
		if f == "" || f == "!" || envAssign.MatchString(f) {
			fields = fields[1:]
			continue
		}
		fields[0] = f
		break
	}
	for len(fields) > 0 {
		f := strings.TrimRight(fields[len(fields)-1], ")}")
		if f == "" {
			fields = fields[:len(fields)-1]
			continue
		}
		fields[len(fields)-1] = f
		break
	}
	return strings.Join(fields, " ")
}

// relativeTo resolves p against the workspace. It returns the slash-separated
// relative path and whether p lies inside the workspace.
func relativeTo(workspace, p string) (string, bool) {
	abs := p
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(workspace, p)
	}
	abs = filepath.Clean(abs)
	rel, err := filepath.Rel(workspace, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.ToSlash(abs), false
	}
	return filepath.ToSlash(rel), true
}
