// Package workspace is the External Configuration Loader boundary
// (spec.md §1 Non-goals): full workspace/project/target parsing is an
// external collaborator the core depends on but does not implement.
// This package only defines that boundary — a ProjectLoader interface
// the Execution Graph builds against — plus the one piece of workspace
// configuration spec.md does assign to the core itself: decoding the
// workspace-wide Settings block (parallelism, resolution parallelism,
// log level, selectors).
//
// Grounded on original_source/core/src (the settings schema's
// source-of-truth field names and defaults) for DecodeSettings, and on
// spec.md §1's Non-goals for the ProjectLoader boundary itself.
package workspace

import (
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"

	"blaze/internal/domain"
)

// ProjectLoader turns a project name into its fully parsed Project
// (targets, dependencies, cache specs). The Execution Graph (internal/
// graph) depends on this interface rather than any concrete loader,
// per spec.md §1: project/target parsing is out of core scope.
type ProjectLoader interface {
	Load(name string) (*domain.Project, error)
}

// settingsDocument mirrors the on-disk YAML shape of a workspace's
// settings block.
type settingsDocument struct {
	DefaultSelector       string                     `yaml:"default_selector"`
	Selectors             map[string]selectorDocument `yaml:"selectors"`
	Parallelism           string                     `yaml:"parallelism"`
	ResolutionParallelism int                        `yaml:"resolution_parallelism"`
	LogLevel              string                     `yaml:"log_level"`
}

type selectorDocument struct {
	Kind    string   `yaml:"kind"`
	Names   []string `yaml:"names"`
	Include string   `yaml:"include"`
	Exclude string   `yaml:"exclude"`
	Tags    []string `yaml:"tags"`
}

// DecodeSettings parses a workspace's settings YAML document into a
// domain.Settings, resolving parallelism keywords and named selectors.
func DecodeSettings(data []byte) (domain.Settings, error) {
	var doc settingsDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return domain.Settings{}, fmt.Errorf("workspace: decoding settings: %w", err)
	}

	parallelism, err := parseParallelism(doc.Parallelism)
	if err != nil {
		return domain.Settings{}, fmt.Errorf("workspace: settings.parallelism: %w", err)
	}

	named := make(map[string]domain.Selection, len(doc.Selectors))
	for name, sel := range doc.Selectors {
		resolved, err := sel.resolve()
		if err != nil {
			return domain.Settings{}, fmt.Errorf("workspace: settings.selectors[%q]: %w", name, err)
		}
		named[name] = resolved
	}

	resolutionParallelism := doc.ResolutionParallelism
	if resolutionParallelism <= 0 {
		resolutionParallelism = 1
	}

	return domain.Settings{
		DefaultSelector:       doc.DefaultSelector,
		NamedSelectors:        named,
		Parallelism:           parallelism,
		ResolutionParallelism: resolutionParallelism,
		LogLevel:              doc.LogLevel,
	}, nil
}

func parseParallelism(raw string) (domain.Parallelism, error) {
	switch raw {
	case "", "all":
		return domain.ParallelismAll(), nil
	case "none":
		return domain.ParallelismNone(), nil
	case "infinite":
		return domain.ParallelismInfinite(), nil
	default:
		var n int
		if _, err := fmt.Sscanf(raw, "%d", &n); err != nil {
			return domain.Parallelism{}, fmt.Errorf("unrecognized parallelism %q", raw)
		}
		return domain.ParallelismCount(n), nil
	}
}

func (s selectorDocument) resolve() (domain.Selection, error) {
	switch s.Kind {
	case "", "all":
		return domain.Selection{Kind: domain.SelectionAll}, nil
	case "array":
		return domain.Selection{Kind: domain.SelectionArray, Names: s.Names}, nil
	case "include_exclude":
		sel := domain.Selection{Kind: domain.SelectionIncludeExclude}
		if s.Include != "" {
			re, err := regexp.Compile(s.Include)
			if err != nil {
				return domain.Selection{}, fmt.Errorf("include pattern: %w", err)
			}
			sel.IncludePattern = re
		}
		if s.Exclude != "" {
			re, err := regexp.Compile(s.Exclude)
			if err != nil {
				return domain.Selection{}, fmt.Errorf("exclude pattern: %w", err)
			}
			sel.ExcludePattern = re
		}
		return sel, nil
	case "tagged":
		return domain.Selection{Kind: domain.SelectionTagged, Tags: s.Tags}, nil
	default:
		return domain.Selection{}, fmt.Errorf("unrecognized selector kind %q", s.Kind)
	}
}
