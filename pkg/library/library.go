// Package library resolves the input library files a simulation reads and
// reports their modification times for fingerprinting.
//
// Library files for a simulation type live under <root>/<simtype>/. Patterns
// are doublestar globs relative to that directory.
package library

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/3leaps/simrun/pkg/job"
	"github.com/3leaps/simrun/pkg/provider"
)

// ErrInvalidPattern is returned for a malformed glob.
var ErrInvalidPattern = errors.New("invalid library pattern")

// FSResolver reads library files from a directory on local disk.
type FSResolver struct {
	root string
}

// NewFSResolver returns a resolver rooted at root.
func NewFSResolver(root string) *FSResolver {
	return &FSResolver{root: filepath.Clean(root)}
}

// Resolve returns the names matching any of patterns, sorted and unique.
func (r *FSResolver) Resolve(ctx context.Context, simType string, patterns []string) ([]string, error) {
	if err := validatePatterns(patterns); err != nil {
		return nil, err
	}
	dir := filepath.Join(r.root, simType)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	fsys := os.DirFS(dir)
	unique := make(map[string]struct{})
	for _, p := range patterns {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		matches, err := doublestar.Glob(fsys, p, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", p, err)
		}
		for _, m := range matches {
			unique[m] = struct{}{}
		}
	}
	return sortedKeys(unique), nil
}

// FileMtime returns the modification time of one library file.
func (r *FSResolver) FileMtime(_ context.Context, simType, name string) (time.Time, error) {
	if !fs.ValidPath(name) || !fs.ValidPath(simType) {
		return time.Time{}, fmt.Errorf("invalid library file name %q", name)
	}
	st, err := os.Stat(filepath.Join(r.root, simType, filepath.FromSlash(name)))
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, fmt.Errorf("%s/%s: %w", simType, name, job.ErrNotFound)
		}
		return time.Time{}, err
	}
	if st.IsDir() {
		return time.Time{}, fmt.Errorf("%s/%s is a directory", simType, name)
	}
	return st.ModTime(), nil
}

// ProviderResolver reads library files from object storage under
// <prefix><simtype>/.
type ProviderResolver struct {
	p      provider.Provider
	prefix string
}

// DefaultPrefix is the key prefix library files are stored under.
const DefaultPrefix = "lib/"

// NewProviderResolver returns a resolver over p. An empty prefix uses
// DefaultPrefix.
func NewProviderResolver(p provider.Provider, prefix string) *ProviderResolver {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &ProviderResolver{p: p, prefix: prefix}
}

func (r *ProviderResolver) typePrefix(simType string) string {
	return r.prefix + simType + "/"
}

// Resolve lists the simulation type's library keys and matches them against
// patterns.
func (r *ProviderResolver) Resolve(ctx context.Context, simType string, patterns []string) ([]string, error) {
	if err := validatePatterns(patterns); err != nil {
		return nil, err
	}
	base := r.typePrefix(simType)
	objects, err := provider.ListAll(ctx, r.p, base)
	if err != nil {
		return nil, fmt.Errorf("list library files: %w", err)
	}

	unique := make(map[string]struct{})
	for _, obj := range objects {
		rel := strings.TrimPrefix(obj.Key, base)
		for _, p := range patterns {
			matched, err := doublestar.Match(p, rel)
			if err != nil {
				return nil, fmt.Errorf("%w: %q", ErrInvalidPattern, p)
			}
			if matched {
				unique[rel] = struct{}{}
				break
			}
		}
	}
	return sortedKeys(unique), nil
}

// FileMtime returns the LastModified time of one library object.
func (r *ProviderResolver) FileMtime(ctx context.Context, simType, name string) (time.Time, error) {
	meta, err := r.p.Head(ctx, r.typePrefix(simType)+path.Clean(name))
	if err != nil {
		if provider.IsNotFound(err) {
			return time.Time{}, fmt.Errorf("%s/%s: %w", simType, name, job.ErrNotFound)
		}
		return time.Time{}, err
	}
	return meta.LastModified, nil
}

func validatePatterns(patterns []string) error {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("%w: %q", ErrInvalidPattern, p)
		}
	}
	return nil
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
