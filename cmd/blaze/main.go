// Command blaze wires the Run Orchestrator (internal/orchestrator) to a
// workspace root on disk. Workspace and project configuration parsing is
// an external collaborator (spec.md §1 Non-goals): this binary only
// implements the minimal on-disk project loader needed to exercise the
// orchestrator end to end, reading a workspace's settings and each
// project's targets from plain YAML files instead of a full config
// loader.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"blaze/internal/cachestore"
	"blaze/internal/domain"
	"blaze/internal/orchestrator"
	"blaze/internal/processlock"
	"blaze/internal/resolver"
	"blaze/internal/workspace"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: blaze <workspace-root> <target> [project...]")
		os.Exit(2)
	}
	root, target := os.Args[1], os.Args[2]
	var projectNames []string
	if len(os.Args) > 3 {
		projectNames = os.Args[3:]
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	ws, loader, err := loadWorkspace(root)
	if err != nil {
		logger.Fatal().Err(err).Msg("loading workspace")
	}
	if ws.Settings.LogLevel != "" {
		lvl, err := zerolog.ParseLevel(ws.Settings.LogLevel)
		if err != nil {
			logger.Fatal().Err(err).Msg("parsing settings log_level")
		}
		logger = logger.Level(lvl)
	}

	cache, err := cachestore.Open(filepath.Join(root, ".blaze", "cache"))
	if err != nil {
		logger.Fatal().Err(err).Msg("opening cache store")
	}
	locks, err := processlock.New(filepath.Join(root, ".blaze", "locks"))
	if err != nil {
		logger.Fatal().Err(err).Msg("opening process locks")
	}

	colors := orchestrator.ColorsEnabled(os.Stdout.Fd())
	if v, ok := os.LookupEnv("BLAZE_COLORS"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			colors = b
		}
	}

	orch := &orchestrator.Orchestrator{
		Workspace: ws,
		Loader:    loader,
		Logger:    logger,
		Cache:     cache,
		Locks:     locks,
		Resolver: &resolver.Manager{
			WorkspaceRoot: root,
			Cache:         cache,
			Locks:         locks,
			Parallelism:   domain.ParallelismCount(ws.Settings.ResolutionParallelism),
		},
		DisplayGraph: true,
		Colors:       colors,
	}

	sel := domain.Selection{Kind: domain.SelectionAll}
	if len(projectNames) > 0 {
		sel = domain.Selection{Kind: domain.SelectionArray, Names: projectNames}
	}

	report, err := orch.Run(context.Background(), sel, target, nil)
	if err != nil {
		logger.Fatal().Err(err).Msg("run failed")
	}

	if report.Tree != "" {
		fmt.Fprintln(os.Stdout, report.Tree)
	}
	fmt.Fprintf(os.Stdout, "executed=%d cached=%d failed=%d pending=%d\n",
		report.Stats.Executed, report.Stats.Cached, report.Stats.Failed, report.Stats.Pending)

	if report.Stats.Failed > 0 {
		os.Exit(1)
	}
}

// fileProjectLoader is the minimal reference ProjectLoader: each project
// is a directory under the workspace root containing a blaze.yaml file
// of targets. Real config loading (templates, dotenv, git-aware
// discovery) remains an external collaborator per spec.md §1 Non-goals.
type fileProjectLoader struct {
	root string
	refs map[string]domain.ProjectRef
}

func (l *fileProjectLoader) Load(name string) (*domain.Project, error) {
	ref, ok := l.refs[name]
	if !ok {
		return nil, fmt.Errorf("unknown project %q", name)
	}
	projectRoot := filepath.Join(l.root, ref.Path)

	data, err := os.ReadFile(filepath.Join(projectRoot, "blaze.yaml"))
	if err != nil {
		return nil, fmt.Errorf("reading %s/blaze.yaml: %w", name, err)
	}

	var doc struct {
		Targets map[string]struct {
			Executor     string         `yaml:"executor"`
			Options      map[string]any `yaml:"options"`
			Dependencies []string       `yaml:"dependencies"`
			Stateless    bool           `yaml:"stateless"`
		} `yaml:"targets"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s/blaze.yaml: %w", name, err)
	}

	proj := &domain.Project{Name: name, Root: projectRoot, Targets: map[string]domain.Target{}}
	for tname, t := range doc.Targets {
		tgt := domain.Target{Name: tname, Options: t.Options, Stateless: t.Stateless}
		if t.Executor != "" {
			ref, err := domain.ParseExecutorURL(t.Executor)
			if err != nil {
				return nil, fmt.Errorf("%s/%s: %w", name, tname, err)
			}
			tgt.Executor = &ref
		}
		for _, dep := range t.Dependencies {
			tgt.Dependencies = append(tgt.Dependencies, domain.Dependency{Target: dep})
		}
		proj.Targets[tname] = tgt
		proj.TargetNames = append(proj.TargetNames, tname)
	}
	return proj, nil
}

func loadWorkspace(root string) (*domain.Workspace, workspace.ProjectLoader, error) {
	settingsData, err := os.ReadFile(filepath.Join(root, "blaze.workspace.yaml"))
	if err != nil {
		return nil, nil, fmt.Errorf("reading blaze.workspace.yaml: %w", err)
	}
	settings, err := workspace.DecodeSettings(settingsData)
	if err != nil {
		return nil, nil, err
	}

	var doc struct {
		Projects map[string]string `yaml:"projects"`
	}
	if err := yaml.Unmarshal(settingsData, &doc); err != nil {
		return nil, nil, fmt.Errorf("parsing projects: %w", err)
	}

	refs := make(map[string]domain.ProjectRef, len(doc.Projects))
	for name, path := range doc.Projects {
		refs[name] = domain.ProjectRef{Path: path}
	}

	ws := &domain.Workspace{Root: root, Name: filepath.Base(root), Projects: refs, Settings: settings}
	return ws, &fileProjectLoader{root: root, refs: refs}, nil
}
