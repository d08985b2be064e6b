// Package homebrew parses the Homebrew formula API JSON.
package homebrew

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/chai-pm/chai/pkg/adapters"
	"github.com/chai-pm/chai/pkg/errors"
	"github.com/chai-pm/chai/pkg/model"
)

// formula is the subset of the API payload the pipeline consumes.
type formula struct {
	Name                    string   `json:"name"`
	Desc                    string   `json:"desc"`
	Homepage                string   `json:"homepage"`
	Deprecated              bool     `json:"deprecated"`
	Dependencies            []string `json:"dependencies"`
	BuildDependencies       []string `json:"build_dependencies"`
	TestDependencies        []string `json:"test_dependencies"`
	RecommendedDependencies []string `json:"recommended_dependencies"`
	OptionalDependencies    []string `json:"optional_dependencies"`
	// entries are either plain names or {"name": [...]} objects
	UsesFromMacos []any `json:"uses_from_macos"`
	URLs          struct {
		Stable struct {
			URL string `json:"url"`
		} `json:"stable"`
	} `json:"urls"`
}

// Parser reads a fetched formula.json.
type Parser struct {
	logger *log.Logger
}

// New creates a Homebrew parser.
func New(logger *log.Logger) *Parser {
	if logger == nil {
		logger = log.Default()
	}
	return &Parser{logger: logger}
}

// Parse emits one normalized record per formula.
func (p *Parser) Parse(ctx context.Context, dir string) ([]model.NormalizedPackage, error) {
	data, err := adapters.ReadFile(dir, "formula.json")
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeCancelled, err, "parse cancelled")
	}

	var formulae []formula
	if err := json.Unmarshal(data, &formulae); err != nil {
		return nil, errors.Wrap(errors.ErrCodeParse, err, "decoding formula.json")
	}

	out := make([]model.NormalizedPackage, 0, len(formulae))
	for _, f := range formulae {
		if f.Name == "" {
			p.logger.Debug("skipping formula without name")
			continue
		}
		if f.Deprecated {
			p.logger.Debug("skipping deprecated formula", "formula", f.Name)
			continue
		}
		out = append(out, p.normalize(f))
	}
	p.logger.Info("parsed formulae", "count", len(out))
	return out, nil
}

func (p *Parser) normalize(f formula) model.NormalizedPackage {
	urls := make(map[string][]string)
	if f.Homepage != "" {
		urls[model.URLTypeHomepage] = append(urls[model.URLTypeHomepage], f.Homepage)
	}
	if stable := f.URLs.Stable.URL; stable != "" {
		urls[model.URLTypeSource] = append(urls[model.URLTypeSource], stable)
	}
	for _, candidate := range []string{f.Homepage, f.URLs.Stable.URL} {
		if isGitHub(candidate) {
			urls[model.URLTypeRepository] = append(urls[model.URLTypeRepository], candidate)
			break
		}
	}

	var deps []model.NormalizedDep
	appendDeps := func(names []string, typeName string) {
		for _, name := range names {
			if name != "" {
				deps = append(deps, model.NormalizedDep{ImportID: name, TypeName: typeName})
			}
		}
	}
	appendDeps(f.Dependencies, model.DepTypeRuntime)
	appendDeps(f.BuildDependencies, model.DepTypeBuild)
	appendDeps(f.TestDependencies, model.DepTypeTest)
	appendDeps(f.RecommendedDependencies, model.DepTypeRecommended)
	appendDeps(f.OptionalDependencies, model.DepTypeOptional)
	appendDeps(macosNames(f.UsesFromMacos), model.DepTypeUsesFromMacos)

	return model.NormalizedPackage{
		ImportID:     f.Name,
		Name:         f.Name,
		Readme:       f.Desc,
		URLs:         urls,
		Dependencies: deps,
	}
}

// macosNames flattens uses_from_macos entries, which mix plain strings with
// one-key objects like {"zlib": "build"}.
func macosNames(entries []any) []string {
	var names []string
	for _, e := range entries {
		switch v := e.(type) {
		case string:
			names = append(names, v)
		case map[string]any:
			for name := range v {
				names = append(names, name)
			}
		}
	}
	return names
}

func isGitHub(raw string) bool {
	return strings.HasPrefix(raw, "https://github.com/") || strings.HasPrefix(raw, "http://github.com/")
}
