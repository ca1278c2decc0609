// Package taskdef loads declarative task definitions from YAML and merges
// command-line overrides into a validated domain.TaskDefinition.
package taskdef

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/patchstorm/patchstorm/internal/domain"
)

// file mirrors the YAML task definition format. Unknown fields are ignored.
type file struct {
	Agent struct {
		Provider string `yaml:"provider"`
	} `yaml:"agent"`
	Commit struct {
		Message string `yaml:"message"`
	} `yaml:"commit"`
	Prompts []struct {
		Prompt string `yaml:"prompt"`
	} `yaml:"prompts"`
	Repos struct {
		Include     []string `yaml:"include"`
		Exclude     []string `yaml:"exclude"`
		SearchQuery string   `yaml:"search_query"`
	} `yaml:"repos"`
	// Legacy top-level search query, kept for older task definitions.
	SearchQuery string   `yaml:"search_query"`
	Dry         bool     `yaml:"dry"`
	SkipPR      bool     `yaml:"skip_pr"`
	Draft       bool     `yaml:"draft"`
	Reviewers   []string `yaml:"reviewers"`
}

// Overrides carries command-line flag values that take precedence over the
// task definition file. Zero values mean "not given".
type Overrides struct {
	Prompt      string
	CommitMsg   string
	Repos       string // comma-separated owner/name list
	SearchQuery string
	Provider    string
	Reviewers   []string
	DryRun      bool
	SkipPR      bool
	Draft       bool
}

// Load reads and parses a task definition file, then applies overrides
func Load(path string, ov Overrides) (*domain.TaskDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading task definition: %w", err)
	}
	return Parse(data, ov)
}

// Parse parses task definition YAML and applies overrides. The returned
// definition is validated.
func Parse(data []byte, ov Overrides) (*domain.TaskDefinition, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing task definition: %w", err)
	}

	if f.SearchQuery != "" && f.Repos.SearchQuery != "" {
		return nil, fmt.Errorf("cannot specify both repos.search_query and top-level search_query")
	}
	searchQuery := f.Repos.SearchQuery
	if searchQuery == "" {
		searchQuery = f.SearchQuery
	}

	def := &domain.TaskDefinition{
		Provider:      domain.AgentProvider(f.Agent.Provider),
		CommitMessage: f.Commit.Message,
		DryRun:        f.Dry,
		SkipPR:        f.SkipPR,
		Draft:         f.Draft,
		Reviewers:     f.Reviewers,
	}
	def.Selector.SearchQuery = searchQuery
	for _, p := range f.Prompts {
		def.Prompts = append(def.Prompts, p.Prompt)
	}

	var err error
	if def.Selector.Include, err = parseRepoStrings(f.Repos.Include); err != nil {
		return nil, err
	}
	if def.Selector.Exclude, err = parseRepoStrings(f.Repos.Exclude); err != nil {
		return nil, err
	}

	return apply(def, ov)
}

// FromOverrides builds a task definition purely from flags (no file)
func FromOverrides(ov Overrides) (*domain.TaskDefinition, error) {
	if ov.Prompt == "" {
		return nil, fmt.Errorf("a prompt is required when no task definition file is given")
	}
	def := &domain.TaskDefinition{Provider: domain.ProviderCodex}
	return apply(def, ov)
}

func apply(def *domain.TaskDefinition, ov Overrides) (*domain.TaskDefinition, error) {
	if ov.Provider != "" {
		def.Provider = domain.AgentProvider(ov.Provider)
	}
	if ov.CommitMsg != "" {
		def.CommitMessage = ov.CommitMsg
	}
	if ov.Prompt != "" {
		def.Prompts = []string{ov.Prompt}
	}
	if ov.Repos != "" {
		include, err := domain.ParseRepoList(ov.Repos)
		if err != nil {
			return nil, err
		}
		// flag repos replace the file selector entirely
		def.Selector = domain.RepoSelector{Include: include}
	} else if ov.SearchQuery != "" {
		def.Selector = domain.RepoSelector{SearchQuery: ov.SearchQuery}
	}
	if len(ov.Reviewers) > 0 {
		def.Reviewers = ov.Reviewers
	}
	if ov.DryRun {
		def.DryRun = true
	}
	if ov.SkipPR {
		def.SkipPR = true
	}
	if ov.Draft {
		def.Draft = true
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

func parseRepoStrings(in []string) ([]domain.RepoID, error) {
	var out []domain.RepoID
	for _, s := range in {
		repo, err := domain.ParseRepoID(s)
		if err != nil {
			return nil, err
		}
		out = append(out, repo)
	}
	return out, nil
}
