// Package fingerprint computes the job hash used to decide whether a cached
// result may be reused.
//
// The hash covers the relevant fields declared for a (simulation type,
// compute model) pair plus the modification time of every library file the
// job reads. It is a staleness oracle, not a security boundary, so a fast
// non-cryptographic digest (XXH3-128) is used.
package fingerprint

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oliveagle/jsonpath"
	"github.com/zeebo/xxh3"

	"github.com/3leaps/simrun/pkg/job"
	"github.com/3leaps/simrun/pkg/simtype"
)

// Size is the length of a fingerprint in hex characters.
const Size = 32

var separator = []byte{0}

// Library resolves the library files a job reads and reports their
// modification times.
type Library interface {
	Resolve(ctx context.Context, simType string, patterns []string) ([]string, error)
	FileMtime(ctx context.Context, simType, name string) (time.Time, error)
}

// Engine computes fingerprints. It holds no mutable state and is safe for
// concurrent use.
type Engine struct {
	catalog *simtype.Catalog
	library Library
}

// NewEngine returns an Engine reading field tables from catalog. library may
// be nil when no simulation type declares library files.
func NewEngine(catalog *simtype.Catalog, library Library) *Engine {
	return &Engine{catalog: catalog, library: library}
}

type fieldValue struct {
	key   string
	value []byte
}

// Fingerprint returns the hex job hash of req.
//
// Models must already be fully defaulted. A model without a declared field
// table hashes its whole compute-model section.
func (e *Engine) Fingerprint(ctx context.Context, req *job.Request) (string, error) {
	if req == nil {
		return "", errors.New("request is nil")
	}
	typ, err := e.catalog.Lookup(req.SimulationType)
	if err != nil {
		return "", err
	}

	fields, ok := typ.Fields(req.ComputeModel)
	if !ok {
		fields = []simtype.FieldRef{{Path: req.ComputeModel}}
	}

	values, err := resolveFields(typ.Name, req, fields)
	if err != nil {
		return "", err
	}

	h := xxh3.New()
	for _, v := range values {
		_, _ = h.Write(v.value)
		_, _ = h.Write(separator)
	}

	names, err := e.libraryFiles(ctx, typ, req)
	if err != nil {
		return "", err
	}
	for _, name := range names {
		mtime, err := e.library.FileMtime(ctx, typ.Name, name)
		if err != nil {
			return "", fmt.Errorf("library file %s: %w", name, err)
		}
		_, _ = h.Write([]byte(mtime.UTC().Format(time.RFC3339Nano)))
		_, _ = h.Write(separator)
	}

	sum := h.Sum128().Bytes()
	return hex.EncodeToString(sum[:]), nil
}

func resolveFields(simType string, req *job.Request, fields []simtype.FieldRef) ([]fieldValue, error) {
	root := make(map[string]any, len(req.Models))
	for name, section := range req.Models {
		root[name] = section
	}

	out := make([]fieldValue, 0, len(fields))
	for _, f := range fields {
		if f.IsLiteral() {
			b, err := canonicalJSON(f.Literal)
			if err != nil {
				return nil, fmt.Errorf("literal field entry: %w", err)
			}
			out = append(out, fieldValue{key: string(b), value: b})
			continue
		}

		v, err := lookup(root, f.Path)
		if err != nil {
			return nil, &InvalidFieldReferenceError{SimType: simType, Model: req.ComputeModel, Path: f.Path, Err: err}
		}
		b, err := canonicalJSON(v)
		if err != nil {
			return nil, &InvalidFieldReferenceError{SimType: simType, Model: req.ComputeModel, Path: f.Path, Err: err}
		}
		out = append(out, fieldValue{key: f.Path, value: b})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out, nil
}

func lookup(root map[string]any, path string) (any, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("empty path")
	}
	pattern, err := jsonpath.Compile("$." + path)
	if err != nil {
		return nil, err
	}
	return pattern.Lookup(root)
}

func (e *Engine) libraryFiles(ctx context.Context, typ *simtype.Type, req *job.Request) ([]string, error) {
	unique := make(map[string]struct{}, len(req.LibraryFiles))
	for _, name := range req.LibraryFiles {
		if name = strings.TrimSpace(name); name != "" {
			unique[name] = struct{}{}
		}
	}

	patterns := typ.LibraryPatterns(req.ComputeModel)
	if len(patterns) > 0 || len(unique) > 0 {
		if e.library == nil {
			return nil, fmt.Errorf("simulation type %s reads library files but no library source is configured", typ.Name)
		}
	}
	if len(patterns) > 0 {
		matched, err := e.library.Resolve(ctx, typ.Name, patterns)
		if err != nil {
			return nil, fmt.Errorf("resolve library files: %w", err)
		}
		for _, name := range matched {
			unique[name] = struct{}{}
		}
	}

	names := make([]string, 0, len(unique))
	for name := range unique {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
