package agents

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
)

//go:embed builtin/*.md
var builtinFS embed.FS

// Document is one raw agent definition as read from a source.
type Document struct {
	Name    string // fallback name when the header has none
	Source  string // file path or row identifier, for error messages
	Content []byte
}

// Source yields agent documents.
type Source interface {
	Documents(ctx context.Context) ([]Document, error)
	String() string
}

// FSSource reads every *.md file in one directory of a file system.
type FSSource struct {
	FS    fs.FS
	Dir   string
	Label string
}

// EmbeddedSource returns the personas shipped with the binary.
func EmbeddedSource() *FSSource {
	return &FSSource{FS: builtinFS, Dir: "builtin", Label: "builtin"}
}

// DirSource returns a source reading *.md files from a directory on disk.
// A directory that does not exist yields no documents.
func DirSource(dir string) *FSSource {
	return &FSSource{FS: os.DirFS(dir), Dir: ".", Label: dir}
}

func (s *FSSource) String() string { return s.Label }

func (s *FSSource) Documents(ctx context.Context) ([]Document, error) {
	entries, err := fs.ReadDir(s.FS, s.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("Documents %s: %w", s.Label, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var docs []Document
	for _, e := range entries {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if e.IsDir() || path.Ext(e.Name()) != ".md" {
			continue
		}
		p := path.Join(s.Dir, e.Name())
		content, err := fs.ReadFile(s.FS, p)
		if err != nil {
			return nil, fmt.Errorf("Documents %s: %w", s.Label, err)
		}
		docs = append(docs, Document{
			Name:    strings.TrimSuffix(e.Name(), ".md"),
			Source:  path.Join(s.Label, e.Name()),
			Content: content,
		})
	}
	return docs, nil
}
