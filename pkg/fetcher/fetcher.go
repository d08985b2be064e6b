// Package fetcher downloads and unpacks upstream package-manager payloads.
//
// Every fetch lands in a fresh timestamped directory under the pipeline's
// data root (<data>/<pm>/<timestamp>/), and a "latest" symlink is flipped to
// it once the payload is fully on disk. The symlink flip is the commit
// point: Fetch returns the timestamped directory only after the flip, and a
// run that reuses "latest" never sees a crashed or cancelled fetch's
// partial directory.
//
// Three payload shapes are supported, matching the upstream sources:
// tarballs (crates db dump), gzipped or plain single files (Debian Packages,
// Homebrew formula JSON), and git checkouts (pkgx pantry).
package fetcher

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	git "github.com/go-git/go-git/v5"

	"github.com/chai-pm/chai/pkg/config"
	"github.com/chai-pm/chai/pkg/errors"
)

const timestampLayout = "2006-01-02T15-04-05Z"

// Fetcher downloads one source into the pipeline's data directory.
type Fetcher struct {
	spec    config.SourceSpec
	dataDir string
	client  *http.Client
	logger  *log.Logger

	// fetched is the timestamped directory of the last successful Fetch,
	// removed by Cleanup when NO_CACHE is set.
	fetched string
}

// New creates a fetcher for one source. dataDir is the process-wide data
// root; the fetcher owns <dataDir>/<source name>.
func New(spec config.SourceSpec, dataDir string, logger *log.Logger) *Fetcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Fetcher{
		spec:    spec,
		dataDir: dataDir,
		client:  &http.Client{Timeout: 15 * time.Minute},
		logger:  logger,
	}
}

// Root returns this source's directory under the data root.
func (f *Fetcher) Root() string {
	return filepath.Join(f.dataDir, f.spec.Name)
}

// Latest returns the path of the "latest" symlink. It is only valid after a
// successful Fetch in this or a prior run.
func (f *Fetcher) Latest() string {
	return filepath.Join(f.Root(), "latest")
}

// Fetch downloads and unpacks the source, then atomically points "latest"
// at the new directory. It returns the timestamped directory path.
// Transient HTTP failures are retried with backoff inside the call; a run
// that still fails is reported as a network error and retried on the next
// scheduled cycle, not within this run.
func (f *Fetcher) Fetch(ctx context.Context) (string, error) {
	dir := filepath.Join(f.Root(), time.Now().UTC().Format(timestampLayout))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(errors.ErrCodeInternal, err, "creating %s", dir)
	}

	f.logger.Info("fetching", "source", f.spec.Name, "url", f.spec.URL, "type", f.spec.Fetch)

	var err error
	switch f.spec.Fetch {
	case config.FetchTarball:
		err = f.fetchTarball(ctx, dir)
	case config.FetchGzip:
		err = f.fetchGzip(ctx, dir)
	case config.FetchGit:
		err = f.fetchGit(ctx, dir)
	default:
		err = errors.New(errors.ErrCodeInvalidInput, "unknown fetch type %q", f.spec.Fetch)
	}
	if err != nil {
		os.RemoveAll(dir)
		return "", err
	}

	if err := f.flipLatest(filepath.Base(dir)); err != nil {
		os.RemoveAll(dir)
		return "", err
	}

	f.fetched = dir
	f.logger.Info("fetched", "source", f.spec.Name, "dir", dir)
	return dir, nil
}

// Cleanup removes the directory produced by the last successful Fetch.
// Called after ingest when NO_CACHE is set; the "latest" symlink dangles
// afterwards, which the next FETCH=false run reports as missing data.
func (f *Fetcher) Cleanup() error {
	if f.fetched == "" {
		return nil
	}
	f.logger.Debug("removing fetched artifacts", "dir", f.fetched)
	return os.RemoveAll(f.fetched)
}

// flipLatest atomically re-points the "latest" symlink at target (a
// directory name relative to Root). The symlink is created under a
// temporary name and renamed over the old one.
func (f *Fetcher) flipLatest(target string) error {
	tmp := filepath.Join(f.Root(), ".latest.tmp")
	os.Remove(tmp)
	if err := os.Symlink(target, tmp); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "creating symlink for %s", target)
	}
	if err := os.Rename(tmp, f.Latest()); err != nil {
		os.Remove(tmp)
		return errors.Wrap(errors.ErrCodeInternal, err, "flipping latest to %s", target)
	}
	return nil
}

// download retrieves the source URL with retries on transient failures.
func (f *Fetcher) download(ctx context.Context) ([]byte, error) {
	var body []byte
	err := FetchRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.spec.URL, nil)
		if err != nil {
			return err
		}
		resp, err := f.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &RetryableError{Err: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return &RetryableError{Err: errors.New(errors.ErrCodeNetwork, "%s returned %d", f.spec.URL, resp.StatusCode)}
		}
		if resp.StatusCode != http.StatusOK {
			return errors.New(errors.ErrCodeNetwork, "%s returned %d", f.spec.URL, resp.StatusCode)
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return &RetryableError{Err: err}
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(errors.ErrCodeCancelled, ctx.Err(), "fetch cancelled")
		}
		return nil, errors.Wrap(errors.ErrCodeNetwork, err, "fetching %s", f.spec.URL)
	}
	return body, nil
}

// fetchTarball downloads a .tar.gz payload and extracts its files into dir.
func (f *Fetcher) fetchTarball(ctx context.Context, dir string) error {
	body, err := f.download(ctx)
	if err != nil {
		return err
	}

	gz, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(errors.ErrCodeParse, err, "decompressing %s", f.spec.URL)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(errors.ErrCodeParse, err, "reading tarball from %s", f.spec.URL)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		name := filepath.Clean(hdr.Name)
		if strings.HasPrefix(name, "..") || filepath.IsAbs(name) {
			f.logger.Debug("skipping suspicious tar entry", "name", hdr.Name)
			continue
		}

		dst := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return errors.Wrap(errors.ErrCodeInternal, err, "creating %s", filepath.Dir(dst))
		}
		out, err := os.Create(dst)
		if err != nil {
			return errors.Wrap(errors.ErrCodeInternal, err, "creating %s", dst)
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return errors.Wrap(errors.ErrCodeInternal, err, "writing %s", dst)
		}
		out.Close()
	}
}

// fetchGzip downloads a single file, transparently decompressing it when the
// payload carries the gzip magic bytes. Plain payloads (e.g. Homebrew's
// formula.json) pass through unchanged.
func (f *Fetcher) fetchGzip(ctx context.Context, dir string) error {
	body, err := f.download(ctx)
	if err != nil {
		return err
	}

	if len(body) >= 2 && body[0] == 0x1f && body[1] == 0x8b {
		gz, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return errors.Wrap(errors.ErrCodeParse, err, "decompressing %s", f.spec.URL)
		}
		defer gz.Close()
		body, err = io.ReadAll(gz)
		if err != nil {
			return errors.Wrap(errors.ErrCodeParse, err, "decompressing %s", f.spec.URL)
		}
	}

	name := strings.TrimSuffix(filepath.Base(f.spec.URL), ".gz")
	dst := filepath.Join(dir, name)
	if err := os.WriteFile(dst, body, 0o644); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "writing %s", dst)
	}
	return nil
}

// fetchGit shallow-clones the source repository's default branch into dir.
func (f *Fetcher) fetchGit(ctx context.Context, dir string) error {
	f.logger.Debug("cloning", "url", f.spec.URL, "dir", dir)
	_, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:          f.spec.URL,
		Depth:        1,
		SingleBranch: true,
	})
	if err != nil {
		if ctx.Err() != nil {
			return errors.Wrap(errors.ErrCodeCancelled, ctx.Err(), "clone cancelled")
		}
		return errors.Wrap(errors.ErrCodeNetwork, err, "cloning %s", f.spec.URL)
	}
	return nil
}
