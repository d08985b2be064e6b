// Package debian parses Debian Packages and Sources control files.
//
// The format is a sequence of stanzas separated by blank lines, each a set
// of "Field: value" lines where continuation lines begin with whitespace.
// Relationship fields (Depends, Build-Depends, ...) carry comma-separated
// lists with alternatives ("a | b"), version constraints ("(>= 1.2)"), and
// architecture qualifiers, all of which are reduced to the first
// alternative's bare package name plus the constraint string.
package debian

import (
	"context"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/chai-pm/chai/pkg/adapters"
	"github.com/chai-pm/chai/pkg/errors"
	"github.com/chai-pm/chai/pkg/model"
)

// relationship fields mapped to dependency types.
var depFields = []struct {
	field    string
	typeName string
}{
	{"Depends", model.DepTypeRuntime},
	{"Pre-Depends", model.DepTypeRuntime},
	{"Build-Depends", model.DepTypeBuild},
	{"Recommends", model.DepTypeRecommended},
	{"Suggests", model.DepTypeOptional},
}

// Parser reads a fetched Packages (or Sources) file.
type Parser struct {
	logger *log.Logger
}

// New creates a Debian parser.
func New(logger *log.Logger) *Parser {
	if logger == nil {
		logger = log.Default()
	}
	return &Parser{logger: logger}
}

// Parse emits one normalized record per stanza.
func (p *Parser) Parse(ctx context.Context, dir string) ([]model.NormalizedPackage, error) {
	data, err := adapters.ReadFile(dir, "Packages")
	if err != nil {
		// source-only mirrors ship Sources instead
		var srcErr error
		data, srcErr = adapters.ReadFile(dir, "Sources")
		if srcErr != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeCancelled, err, "parse cancelled")
	}

	var out []model.NormalizedPackage
	for _, stanza := range parseStanzas(string(data)) {
		name := stanza["Package"]
		if name == "" {
			continue
		}

		urls := make(map[string][]string)
		if hp := stanza["Homepage"]; hp != "" {
			urls[model.URLTypeHomepage] = append(urls[model.URLTypeHomepage], hp)
		}
		if vcs := stanza["Vcs-Browser"]; vcs != "" {
			urls[model.URLTypeRepository] = append(urls[model.URLTypeRepository], vcs)
		}
		if vcs := stanza["Vcs-Git"]; vcs != "" {
			urls[model.URLTypeSource] = append(urls[model.URLTypeSource], vcs)
		}

		var deps []model.NormalizedDep
		for _, f := range depFields {
			deps = append(deps, parseRelations(stanza[f.field], f.typeName)...)
		}

		out = append(out, model.NormalizedPackage{
			ImportID:     name,
			Name:         name,
			Readme:       stanza["Description"],
			URLs:         urls,
			Dependencies: deps,
		})
	}
	p.logger.Info("parsed stanzas", "count", len(out))
	return out, nil
}

// parseStanzas splits a control file into field maps. Continuation lines
// (leading space or tab) append to the previous field.
func parseStanzas(content string) []map[string]string {
	var stanzas []map[string]string
	current := make(map[string]string)
	var lastField string

	flush := func() {
		if len(current) > 0 {
			stanzas = append(stanzas, current)
			current = make(map[string]string)
		}
		lastField = ""
	}

	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			if lastField != "" {
				current[lastField] += " " + strings.TrimSpace(line)
			}
			continue
		}
		field, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		lastField = strings.TrimSpace(field)
		current[lastField] = strings.TrimSpace(value)
	}
	flush()
	return stanzas
}

// parseRelations reduces a relationship field to normalized dependency
// declarations.
func parseRelations(field, typeName string) []model.NormalizedDep {
	if field == "" {
		return nil
	}
	var deps []model.NormalizedDep
	for _, clause := range strings.Split(field, ",") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		// alternatives: the first one is the preferred package
		first, _, _ := strings.Cut(clause, "|")
		first = strings.TrimSpace(first)

		name := first
		semver := ""
		if i := strings.IndexByte(first, '('); i >= 0 {
			name = strings.TrimSpace(first[:i])
			semver = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(first[i:]), ")"))
			semver = strings.TrimPrefix(semver, "(")
		}
		// strip architecture qualifiers (gcc:any) and restrictions ([amd64])
		if i := strings.IndexByte(name, ':'); i >= 0 {
			name = name[:i]
		}
		if i := strings.IndexByte(name, '['); i >= 0 {
			name = strings.TrimSpace(name[:i])
		}
		if name == "" {
			continue
		}
		deps = append(deps, model.NormalizedDep{ImportID: name, TypeName: typeName, Semver: semver})
	}
	return deps
}
