// Package pkgx parses the pkgx pantry, a git checkout with one
// projects/<domain>/package.yml per project.
//
// The project's import id is its path under projects/ (e.g. "openssl.org",
// "gnu.org/make"). Dependency maps may nest platform qualifiers
// (linux:/darwin:/windows:), which are flattened: the platform split is not
// part of the normalized model.
package pkgx

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"

	"github.com/chai-pm/chai/pkg/errors"
	"github.com/chai-pm/chai/pkg/model"
)

const packageFile = "package.yml"

// platform qualifiers that nest dependency maps one level deeper.
var platforms = map[string]bool{"linux": true, "darwin": true, "windows": true}

// pantryPackage is the subset of package.yml the pipeline consumes.
type pantryPackage struct {
	DisplayName   string         `yaml:"display-name"`
	Homepage      string         `yaml:"homepage"`
	Distributable any            `yaml:"distributable"`
	Dependencies  map[string]any `yaml:"dependencies"`
	Build         struct {
		Dependencies map[string]any `yaml:"dependencies"`
	} `yaml:"build"`
	Test struct {
		Dependencies map[string]any `yaml:"dependencies"`
	} `yaml:"test"`
}

// Parser reads a fetched pantry checkout.
type Parser struct {
	logger *log.Logger
}

// New creates a pkgx parser.
func New(logger *log.Logger) *Parser {
	if logger == nil {
		logger = log.Default()
	}
	return &Parser{logger: logger}
}

// Parse walks projects/ and emits one normalized record per package.yml.
// Malformed files are skipped with a log line; they never abort the run.
func (p *Parser) Parse(ctx context.Context, dir string) ([]model.NormalizedPackage, error) {
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "resolving %s", dir)
	}
	projects := filepath.Join(resolved, "projects")
	if _, err := os.Stat(projects); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "no projects directory under %s", resolved)
	}

	var out []model.NormalizedPackage
	err = filepath.WalkDir(projects, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || d.Name() != packageFile {
			return nil
		}

		rel, err := filepath.Rel(projects, filepath.Dir(path))
		if err != nil {
			return err
		}
		importID := filepath.ToSlash(rel)

		pkg, perr := p.parseFile(path, importID)
		if perr != nil {
			p.logger.Warn("skipping malformed package.yml", "project", importID, "err", perr)
			return nil
		}
		out = append(out, pkg)
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(errors.ErrCodeCancelled, ctx.Err(), "parse cancelled")
		}
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "walking pantry")
	}

	p.logger.Info("parsed pantry projects", "count", len(out))
	return out, nil
}

func (p *Parser) parseFile(path, importID string) (model.NormalizedPackage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.NormalizedPackage{}, err
	}

	var raw pantryPackage
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return model.NormalizedPackage{}, errors.Wrap(errors.ErrCodeParse, err, "decoding %s", path)
	}

	name := raw.DisplayName
	if name == "" {
		name = importID
	}

	urls := make(map[string][]string)
	if raw.Homepage != "" {
		urls[model.URLTypeHomepage] = append(urls[model.URLTypeHomepage], raw.Homepage)
	}
	for _, u := range distributableURLs(raw.Distributable) {
		urls[model.URLTypeSource] = append(urls[model.URLTypeSource], u)
		if strings.Contains(u, "github.com/") {
			urls[model.URLTypeRepository] = append(urls[model.URLTypeRepository], repoRoot(u))
		}
	}

	var deps []model.NormalizedDep
	deps = append(deps, flattenDeps(raw.Dependencies, model.DepTypeRuntime)...)
	deps = append(deps, flattenDeps(raw.Build.Dependencies, model.DepTypeBuild)...)
	deps = append(deps, flattenDeps(raw.Test.Dependencies, model.DepTypeTest)...)

	return model.NormalizedPackage{
		ImportID:     importID,
		Name:         name,
		URLs:         urls,
		Dependencies: deps,
	}, nil
}

// flattenDeps turns a pantry dependency map into declarations, descending
// into platform-qualified submaps.
func flattenDeps(m map[string]any, typeName string) []model.NormalizedDep {
	var deps []model.NormalizedDep
	for key, value := range m {
		if sub, ok := value.(map[string]any); ok && platforms[key] {
			deps = append(deps, flattenDeps(sub, typeName)...)
			continue
		}
		semver := ""
		switch v := value.(type) {
		case string:
			semver = v
		case int, int64, float64:
			semver = fmt.Sprintf("%v", v)
		}
		deps = append(deps, model.NormalizedDep{ImportID: key, TypeName: typeName, Semver: semver})
	}
	return deps
}

// distributableURLs extracts url strings from the distributable section,
// which is either a map with a url key or a list of such maps.
func distributableURLs(v any) []string {
	var urls []string
	switch d := v.(type) {
	case map[string]any:
		if u, ok := d["url"].(string); ok && u != "" {
			urls = append(urls, stripTemplate(u))
		}
	case []any:
		for _, item := range d {
			urls = append(urls, distributableURLs(item)...)
		}
	}
	return urls
}

// stripTemplate cuts pantry version templates ({{version}} and friends) so
// the remaining prefix is still a resolvable URL.
func stripTemplate(u string) string {
	if i := strings.Index(u, "{{"); i >= 0 {
		u = u[:i]
	}
	return strings.TrimRight(u, "/-_.")
}

// repoRoot reduces a github artifact URL to its owner/repo root.
func repoRoot(u string) string {
	i := strings.Index(u, "github.com/")
	if i < 0 {
		return u
	}
	rest := u[i+len("github.com/"):]
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) < 2 {
		return u
	}
	return "https://github.com/" + parts[0] + "/" + parts[1]
}
