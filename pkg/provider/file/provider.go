// Package file keeps job documents and library files as plain files under a
// base directory.
package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/3leaps/simrun/pkg/provider"
)

// partialPattern names in-flight writes. List never reports them.
const partialPattern = ".partial-*"

var errBadKey = errors.New("key escapes base directory")

// Provider is a provider.ReadWriter over one directory. A document becomes
// visible only once fully written: PutObject writes a sibling temp file and
// renames it over the key.
type Provider struct {
	baseDir string
}

var _ provider.ReadWriter = (*Provider)(nil)

type Config struct {
	BaseDir string
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseDir) == "" {
		return errors.New("base dir is required")
	}
	return nil
}

func New(cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base := filepath.Clean(cfg.BaseDir)
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create base dir: %w", err)
	}
	return &Provider{baseDir: base}, nil
}

// BaseDir returns the directory objects are stored under.
func (p *Provider) BaseDir() string { return p.baseDir }

func (p *Provider) Close() error { return nil }

// List walks the deepest directory the prefix names and pages through the
// matches in key order. The continuation token is the last key returned.
func (p *Provider) List(ctx context.Context, opts provider.ListOptions) (*provider.ListResult, error) {
	prefix := strings.TrimPrefix(opts.Prefix, "/")
	objects, err := p.walk(ctx, prefix)
	if err != nil {
		return nil, p.fail(provider.OpList, opts.Prefix, err)
	}

	if t := opts.ContinuationToken; t != "" {
		from := sort.Search(len(objects), func(i int) bool { return objects[i].Key > t })
		objects = objects[from:]
	}
	size := opts.MaxKeys
	if size <= 0 {
		size = provider.DefaultPageSize
	}

	res := &provider.ListResult{Objects: objects}
	if len(objects) > size {
		res.Objects = objects[:size]
		res.IsTruncated = true
		res.ContinuationToken = objects[size-1].Key
	}
	return res, nil
}

func (p *Provider) walk(ctx context.Context, prefix string) ([]provider.ObjectSummary, error) {
	dir := ""
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		dir = prefix[:i]
	}
	root, err := p.resolve(dir)
	if err != nil {
		return nil, err
	}

	var out []provider.ObjectSummary
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if ok, _ := filepath.Match(partialPattern, d.Name()); ok {
			return nil
		}
		rel, err := filepath.Rel(p.baseDir, path)
		if err != nil {
			return nil
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			// Deleted mid-walk.
			return nil
		}
		out = append(out, provider.ObjectSummary{Key: key, Size: info.Size(), LastModified: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (p *Provider) Head(ctx context.Context, key string) (*provider.ObjectMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, info, err := p.statFile(key)
	if err != nil {
		return nil, p.fail(provider.OpStat, key, err)
	}
	return &provider.ObjectMeta{ObjectSummary: provider.ObjectSummary{
		Key:          strings.TrimPrefix(key, "/"),
		Size:         info.Size(),
		LastModified: info.ModTime(),
	}}, nil
}

func (p *Provider) GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	path, info, err := p.statFile(key)
	if err != nil {
		return nil, 0, p.fail(provider.OpRead, key, err)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, p.fail(provider.OpRead, key, err)
	}
	return f, info.Size(), nil
}

// statFile resolves key and stats it. Directories read as missing.
func (p *Provider) statFile(key string) (string, fs.FileInfo, error) {
	path, err := p.resolve(key)
	if err != nil {
		return "", nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", nil, err
	}
	if info.IsDir() {
		return "", nil, fs.ErrNotExist
	}
	return path, info, nil
}

// PutObject ignores size; the file is as long as body.
func (p *Provider) PutObject(ctx context.Context, key string, body io.Reader, _ int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := p.resolve(key)
	if err != nil {
		return p.fail(provider.OpWrite, key, err)
	}
	if err := p.writeAtomic(path, body); err != nil {
		return p.fail(provider.OpWrite, key, err)
	}
	return nil
}

func (p *Provider) writeAtomic(path string, body io.Reader) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, partialPattern)
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, body); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// DeleteObject removes key and any parent directories it leaves empty.
// Missing keys are not an error.
func (p *Provider) DeleteObject(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := p.resolve(key)
	if err != nil {
		return p.fail(provider.OpDelete, key, err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return p.fail(provider.OpDelete, key, err)
	}
	for dir := filepath.Dir(path); dir != p.baseDir && strings.HasPrefix(dir, p.baseDir); dir = filepath.Dir(dir) {
		if os.Remove(dir) != nil {
			break
		}
	}
	return nil
}

// resolve maps a slash-separated key onto the filesystem. Keys cannot leave
// the base directory.
func (p *Provider) resolve(key string) (string, error) {
	key = strings.Trim(strings.TrimSpace(key), "/")
	if key == "" {
		return p.baseDir, nil
	}
	rel := filepath.FromSlash(key)
	if !filepath.IsLocal(rel) {
		return "", errBadKey
	}
	return filepath.Join(p.baseDir, rel), nil
}

func (p *Provider) fail(op, key string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		err = provider.ErrNotFound
	case errors.Is(err, fs.ErrPermission):
		err = provider.ErrAccessDenied
	}
	return &provider.OpError{Op: op, Store: p.baseDir, Key: key, Err: err}
}
