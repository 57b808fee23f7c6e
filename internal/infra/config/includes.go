package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cfieandres/cyphr-tableau/internal/domain"
)

const maxIncludeDepth = 10

// agentFile is the shape of an included file: more agents and, optionally,
// further includes relative to the file.
type agentFile struct {
	Includes []string                 `yaml:"includes"`
	Agents   []domain.AgentDescriptor `yaml:"agents"`
}

// processIncludes appends the agents of every file matched by cfg.Includes
// to cfg.Agents. An included agent replaces an earlier one with the same
// endpoint path. visited tracks absolute paths to detect cycles.
func processIncludes(cfg *Config, basePath string, visited map[string]bool, depth int) error {
	agents, err := collectIncludes(cfg.Includes, basePath, visited, depth)
	if err != nil {
		return err
	}
	for _, a := range agents {
		cfg.Agents = upsertAgent(cfg.Agents, a)
	}
	cfg.Includes = nil
	return nil
}

func collectIncludes(patterns []string, basePath string, visited map[string]bool, depth int) ([]domain.AgentDescriptor, error) {
	if depth > maxIncludeDepth {
		return nil, fmt.Errorf("config includes: max depth %d exceeded", maxIncludeDepth)
	}

	var out []domain.AgentDescriptor
	for _, pattern := range patterns {
		paths, err := resolveIncludePaths(pattern, basePath)
		if err != nil {
			return nil, err
		}
		for _, p := range paths {
			abs, err := filepath.Abs(p)
			if err != nil {
				return nil, fmt.Errorf("config includes: abs path %q: %w", p, err)
			}
			if visited[abs] {
				return nil, fmt.Errorf("config includes: circular include detected for %q", abs)
			}
			visited[abs] = true

			agents, err := readAgentFile(abs, visited, depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, agents...)
		}
	}
	return out, nil
}

// resolveIncludePaths resolves a pattern (which may contain globs) relative
// to baseDir. The resolved path must not escape baseDir.
func resolveIncludePaths(pattern, baseDir string) ([]string, error) {
	if !filepath.IsAbs(pattern) {
		pattern = filepath.Join(baseDir, pattern)
	}
	pattern = filepath.Clean(pattern)

	rel, err := filepath.Rel(baseDir, pattern)
	if err == nil && strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("config includes: path %q escapes config directory", pattern)
	}

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("config includes: glob %q: %w", pattern, err)
	}
	if len(matches) == 0 && !strings.ContainsAny(pattern, "*?[") {
		// Literal path: let readAgentFile report the missing file.
		return []string{pattern}, nil
	}
	return matches, nil
}

// readAgentFile reads one included YAML file and its nested includes.
func readAgentFile(path string, visited map[string]bool, depth int) ([]domain.AgentDescriptor, error) {
	if err := validatePermissions(path); err != nil {
		return nil, fmt.Errorf("config includes: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config includes: read %q: %w", path, err)
	}

	var f agentFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config includes: parse %q: %w", path, err)
	}
	agents := f.Agents
	if len(f.Includes) > 0 {
		nested, err := collectIncludes(f.Includes, filepath.Dir(path), visited, depth)
		if err != nil {
			return nil, err
		}
		agents = append(agents, nested...)
	}
	return agents, nil
}

// LoadAgentsFile reads agents from a standalone YAML file, either an
// "agents:" document or a bare list.
func LoadAgentsFile(path string) ([]domain.AgentDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agents file: %w", err)
	}
	var f agentFile
	if err := yaml.Unmarshal(data, &f); err == nil && len(f.Agents) > 0 {
		return f.Agents, nil
	}
	var list []domain.AgentDescriptor
	if err := yaml.Unmarshal(data, &list); err == nil && len(list) > 0 {
		return list, nil
	}
	var single domain.AgentDescriptor
	if err := yaml.Unmarshal(data, &single); err != nil {
		return nil, fmt.Errorf("parse agents file %q: %w", path, err)
	}
	if single.EndpointPath == "" {
		return nil, fmt.Errorf("agents file %q contains no agents", path)
	}
	return []domain.AgentDescriptor{single}, nil
}

func upsertAgent(agents []domain.AgentDescriptor, a domain.AgentDescriptor) []domain.AgentDescriptor {
	for i := range agents {
		if agents[i].EndpointPath == a.EndpointPath {
			agents[i] = a
			return agents
		}
	}
	return append(agents, a)
}
