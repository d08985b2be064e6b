// Package adapters holds the per-ecosystem parsers that turn fetched
// upstream files into normalized package records.
//
// Each subpackage (crates, homebrew, debian, pkgx) is the only code that
// knows its source's shape — CSV dump, formula JSON, control-file stanzas,
// pantry YAML. Parsers read from the fetched directory and emit
// [model.NormalizedPackage] values; they never touch the store, and URL
// canonicalization is left to the diff engine.
package adapters

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/chai-pm/chai/pkg/errors"
)

// FindFile locates name anywhere under root, following the "latest"
// symlink if root is one. Upstream dumps nest their payloads under
// dump-internal directories, so parsers search rather than assume a layout.
func FindFile(root, name string) (string, error) {
	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeInvalidInput, err, "resolving %s", root)
	}

	var found string
	err = filepath.WalkDir(resolved, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == name {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeInternal, err, "walking %s", resolved)
	}
	if found == "" {
		return "", errors.New(errors.ErrCodeNotFound, "%s not found under %s", name, resolved)
	}
	return found, nil
}

// ReadFile is FindFile plus the read.
func ReadFile(root, name string) ([]byte, error) {
	path, err := FindFile(root, name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "reading %s", path)
	}
	return data, nil
}
