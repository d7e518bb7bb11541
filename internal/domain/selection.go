package domain

import (
	"fmt"
	"regexp"
	"sort"
)

// Selection chooses the set of projects a Run targets (spec.md §4.K step
// 1). Exactly one of the fields below is meaningful, discriminated by
// Kind.
type Selection struct {
	Kind            SelectionKind
	Names           []string       // Kind == SelectionArray
	IncludePattern  *regexp.Regexp // Kind == SelectionIncludeExclude
	ExcludePattern  *regexp.Regexp // Kind == SelectionIncludeExclude
	Tags            []string       // Kind == SelectionTagged
}

type SelectionKind int

const (
	SelectionAll SelectionKind = iota
	SelectionArray
	SelectionIncludeExclude
	SelectionTagged
)

// Resolve selects project names from ws according to the Selection.
// Array selection fails if any requested project is missing, per spec.md
// §4.K step 1.
func (s Selection) Resolve(ws *Workspace) ([]string, error) {
	switch s.Kind {
	case SelectionAll:
		names := make([]string, 0, len(ws.Projects))
		for name := range ws.Projects {
			names = append(names, name)
		}
		sort.Strings(names)
		return names, nil

	case SelectionArray:
		for _, n := range s.Names {
			if _, ok := ws.Projects[n]; !ok {
				return nil, fmt.Errorf("selection error: project %q not found in workspace", n)
			}
		}
		out := append([]string(nil), s.Names...)
		sort.Strings(out)
		return out, nil

	case SelectionIncludeExclude:
		names := make([]string, 0)
		for name := range ws.Projects {
			if s.IncludePattern != nil && !s.IncludePattern.MatchString(name) {
				continue
			}
			if s.ExcludePattern != nil && s.ExcludePattern.MatchString(name) {
				continue
			}
			names = append(names, name)
		}
		sort.Strings(names)
		return names, nil

	case SelectionTagged:
		wanted := make(map[string]struct{}, len(s.Tags))
		for _, t := range s.Tags {
			wanted[t] = struct{}{}
		}
		names := make([]string, 0)
		for name, ref := range ws.Projects {
			for _, tag := range ref.Tags {
				if _, ok := wanted[tag]; ok {
					names = append(names, name)
					break
				}
			}
		}
		sort.Strings(names)
		return names, nil

	default:
		return nil, fmt.Errorf("selection error: unknown selection kind %d", s.Kind)
	}
}

// ResolveNamed resolves a named selector from the workspace settings,
// falling back to the default selector when name is empty. Missing named
// selectors are a SelectionError per spec.md §7.
func ResolveNamed(ws *Workspace, name string) ([]string, error) {
	if name == "" {
		name = ws.Settings.DefaultSelector
	}
	if name == "" {
		return Selection{Kind: SelectionAll}.Resolve(ws)
	}
	sel, ok := ws.Settings.NamedSelectors[name]
	if !ok {
		return nil, fmt.Errorf("selection error: named selector %q not found", name)
	}
	return sel.Resolve(ws)
}
