package agents

import (
	"context"
	"fmt"
	"sort"

	"github.com/sahilm/fuzzy"
	"go.uber.org/zap"
)

// maxSuggestions caps the "did you mean" list on lookup failures.
const maxSuggestions = 3

// Registry is the read-only table of loaded agent definitions. It is built
// once at startup by Load and dropped by Close at shutdown.
type Registry struct {
	defs     map[string]*Definition
	problems []*ParseError
}

// Load reads every source in order and builds the registry. A malformed
// definition is skipped and reported through Problems; a source that cannot
// be read fails the whole load.
func Load(ctx context.Context, logger *zap.Logger, sources ...Source) (*Registry, error) {
	r := &Registry{defs: make(map[string]*Definition)}

	for _, src := range sources {
		docs, err := src.Documents(ctx)
		if err != nil {
			return nil, fmt.Errorf("Load: %w", err)
		}
		for _, doc := range docs {
			def, err := Parse(doc.Content, doc.Name, doc.Source)
			if err != nil {
				r.reject(logger, err.(*ParseError))
				continue
			}
			if prev, dup := r.defs[def.Name]; dup {
				r.reject(logger, &ParseError{
					Name:   def.Name,
					Source: doc.Source,
					Err:    fmt.Errorf("duplicate agent name, already defined in %s", prev.Source),
				})
				continue
			}
			r.defs[def.Name] = def
		}
		logger.Debug("agent source loaded",
			zap.String("source", src.String()),
			zap.Int("documents", len(docs)),
		)
	}

	for _, def := range r.defs {
		for _, task := range def.Subagents {
			sub, ok := r.defs[task.Agent]
			switch {
			case !ok:
				logger.Warn("agent declares unknown subagent",
					zap.String("agent", def.Name),
					zap.String("subagent", task.Agent),
				)
			case !sub.Mode.Delegable():
				logger.Warn("agent declares subagent that cannot be delegated to",
					zap.String("agent", def.Name),
					zap.String("subagent", task.Agent),
					zap.String("mode", string(sub.Mode)),
				)
			}
		}
	}

	logger.Info("agent registry loaded",
		zap.Int("agents", len(r.defs)),
		zap.Int("rejected", len(r.problems)),
	)
	return r, nil
}

func (r *Registry) reject(logger *zap.Logger, perr *ParseError) {
	logger.Warn("agent definition rejected",
		zap.String("agent", perr.Name),
		zap.String("source", perr.Source),
		zap.Error(perr.Err),
	)
	r.problems = append(r.problems, perr)
}

// Lookup returns the named definition or a *LookupError with suggestions.
func (r *Registry) Lookup(name string) (*Definition, error) {
	if def, ok := r.defs[name]; ok {
		return def, nil
	}
	return nil, &LookupError{Name: name, Suggestions: r.suggest(name)}
}

func (r *Registry) suggest(name string) []string {
	if name == "" {
		return nil
	}
	var out []string
	for _, m := range fuzzy.Find(name, r.Names()) {
		out = append(out, m.Str)
		if len(out) == maxSuggestions {
			break
		}
	}
	return out
}

// Names returns all agent names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns all definitions sorted by name.
func (r *Registry) List() []*Definition {
	out := make([]*Definition, 0, len(r.defs))
	for _, name := range r.Names() {
		out = append(out, r.defs[name])
	}
	return out
}

// Problems returns the definitions rejected during Load.
func (r *Registry) Problems() []*ParseError {
	return r.problems
}

// Close drops the table.
func (r *Registry) Close() {
	r.defs = map[string]*Definition{}
}
