// Package crates parses the crates.io database dump.
//
// The dump is a tarball of CSV files. Packages come from crates.csv;
// dependency edges are taken from dependencies.csv restricted to each
// crate's default version (default_versions.csv), so the snapshot reflects
// the latest published state rather than version history. Crate ownership
// links GitHub accounts from users.csv through crate_owners.csv.
package crates

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/chai-pm/chai/pkg/adapters"
	"github.com/chai-pm/chai/pkg/errors"
	"github.com/chai-pm/chai/pkg/model"
)

// Parser reads a fetched crates dump directory.
type Parser struct {
	logger *log.Logger
}

// New creates a crates parser.
func New(logger *log.Logger) *Parser {
	if logger == nil {
		logger = log.Default()
	}
	return &Parser{logger: logger}
}

// dependency kinds in the dump: 0 = normal, 1 = build, 2 = dev.
var kindToType = map[string]string{
	"0": model.DepTypeRuntime,
	"1": model.DepTypeBuild,
	"2": model.DepTypeTest,
}

// Parse reads the dump and emits one normalized record per crate.
func (p *Parser) Parse(ctx context.Context, dir string) ([]model.NormalizedPackage, error) {
	crates, err := p.readCrates(dir)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeCancelled, err, "parse cancelled")
	}

	latestByVersion, err := p.readDefaultVersions(dir)
	if err != nil {
		return nil, err
	}
	if err := p.attachDependencies(dir, crates, latestByVersion); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeCancelled, err, "parse cancelled")
	}
	if err := p.attachOwners(dir, crates); err != nil {
		// ownership files are absent from trimmed dumps; packages and deps
		// are still worth ingesting
		p.logger.Warn("skipping crate ownership", "err", err)
	}

	out := make([]model.NormalizedPackage, 0, len(crates))
	for _, c := range crates {
		out = append(out, c.pkg)
	}
	return out, nil
}

// crate accumulates one record across the dump's files, keyed by the
// dump-internal numeric crate id.
type crate struct {
	pkg model.NormalizedPackage
}

func (p *Parser) readCrates(dir string) (map[string]*crate, error) {
	rows, err := openCSV(dir, "crates.csv")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	crates := make(map[string]*crate)
	for {
		row, err := rows.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			p.logger.Debug("skipping malformed crates.csv row", "err", err)
			continue
		}

		name := row["name"]
		if name == "" {
			continue
		}
		readme := row["readme"]
		if readme == "" {
			readme = row["description"]
		}

		urls := make(map[string][]string)
		addURL(urls, model.URLTypeHomepage, row["homepage"])
		addURL(urls, model.URLTypeDocumentation, row["documentation"])
		addURL(urls, model.URLTypeRepository, row["repository"])
		if isGitHub(row["repository"]) {
			addURL(urls, model.URLTypeSource, row["repository"])
		}

		crates[row["id"]] = &crate{pkg: model.NormalizedPackage{
			ImportID: name,
			Name:     name,
			Readme:   readme,
			URLs:     urls,
		}}
	}
	p.logger.Info("parsed crates", "count", len(crates))
	return crates, nil
}

// readDefaultVersions maps each crate's default version id back to the
// crate id, restricting dependency extraction to the latest version.
func (p *Parser) readDefaultVersions(dir string) (map[string]string, error) {
	rows, err := openCSV(dir, "default_versions.csv")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byVersion := make(map[string]string)
	for {
		row, err := rows.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		byVersion[row["version_id"]] = row["crate_id"]
	}
	return byVersion, nil
}

func (p *Parser) attachDependencies(dir string, crates map[string]*crate, latestByVersion map[string]string) error {
	rows, err := openCSV(dir, "dependencies.csv")
	if err != nil {
		return err
	}
	defer rows.Close()

	edges := 0
	for {
		row, err := rows.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			p.logger.Debug("skipping malformed dependencies.csv row", "err", err)
			continue
		}

		ownerCrateID, ok := latestByVersion[row["version_id"]]
		if !ok {
			continue // dependency of a non-default version
		}
		owner, ok := crates[ownerCrateID]
		if !ok {
			continue
		}
		target, ok := crates[row["crate_id"]]
		if !ok {
			continue
		}

		typeName := kindToType[row["kind"]]
		if typeName == "" {
			typeName = model.DepTypeRuntime
		}
		if row["optional"] == "t" || row["optional"] == "true" {
			typeName = model.DepTypeOptional
		}

		owner.pkg.Dependencies = append(owner.pkg.Dependencies, model.NormalizedDep{
			ImportID: target.pkg.ImportID,
			TypeName: typeName,
			Semver:   row["req"],
		})
		edges++
	}
	p.logger.Info("parsed dependencies", "edges", edges)
	return nil
}

func (p *Parser) attachOwners(dir string, crates map[string]*crate) error {
	userRows, err := openCSV(dir, "users.csv")
	if err != nil {
		return err
	}
	defer userRows.Close()

	logins := make(map[string]string) // user id → gh login
	for {
		row, err := userRows.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		if row["gh_login"] != "" {
			logins[row["id"]] = row["gh_login"]
		}
	}

	ownerRows, err := openCSV(dir, "crate_owners.csv")
	if err != nil {
		return err
	}
	defer ownerRows.Close()

	for {
		row, err := ownerRows.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		// owner_kind 0 is a user; teams are skipped
		if row["owner_kind"] != "" && row["owner_kind"] != "0" {
			continue
		}
		c, ok := crates[row["crate_id"]]
		if !ok {
			continue
		}
		login, ok := logins[row["owner_id"]]
		if !ok {
			continue
		}
		c.pkg.Users = append(c.pkg.Users, model.NormalizedUser{Username: login, Source: "github"})
	}
	return nil
}

func addURL(urls map[string][]string, typeName, raw string) {
	if raw == "" {
		return
	}
	urls[typeName] = append(urls[typeName], raw)
}

func isGitHub(raw string) bool {
	return strings.Contains(raw, "github.com/")
}

// csvFile iterates a headered CSV as name → value rows.
type csvFile struct {
	f      *os.File
	r      *csv.Reader
	header []string
}

func openCSV(dir, name string) (*csvFile, error) {
	path, err := adapters.FindFile(dir, name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "opening %s", path)
	}

	r := csv.NewReader(f)
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(errors.ErrCodeParse, err, "reading header of %s", path)
	}
	return &csvFile{f: f, r: r, header: header}, nil
}

// Next returns the following row, io.EOF at the end, or a row-level error
// the caller may skip.
func (c *csvFile) Next() (map[string]string, error) {
	record, err := c.r.Read()
	if err != nil {
		return nil, err
	}
	row := make(map[string]string, len(c.header))
	for i, field := range record {
		if i < len(c.header) {
			row[c.header[i]] = field
		}
	}
	return row, nil
}

func (c *csvFile) Close() error { return c.f.Close() }
