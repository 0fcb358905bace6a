// Package pkginfo implements C4: extracting (or loading from a sibling
// cache file) a .pkg file's version, internal target list, and checksum.
package pkginfo

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/loadsctl/loadsctl/internal/hashutil"
	"github.com/loadsctl/loadsctl/pkg/target"
)

// Info is a package's extracted metadata view.
type Info struct {
	Version  string
	Targets  []string
	Checksum string
}

// Extractor runs the external pkgextract tool, C4's slow path.
type Extractor struct {
	PkgExtractPath string
}

// NewExtractor builds an Extractor; an empty path defaults to "pkgextract"
// found on $PATH.
func NewExtractor(pkgExtractPath string) *Extractor {
	if pkgExtractPath == "" {
		pkgExtractPath = "pkgextract"
	}
	return &Extractor{PkgExtractPath: pkgExtractPath}
}

// Targets extracts the comma-separated internal target list from a .pkg file.
func (x *Extractor) Targets(ctx context.Context, pkgPath string) ([]string, error) {
	out, err := exec.CommandContext(ctx, x.PkgExtractPath, "-T", "-f", pkgPath).Output()
	if err != nil {
		return nil, fmt.Errorf("pkgextract -T -f %s: %w", pkgPath, err)
	}
	fields := strings.Split(strings.TrimSpace(string(out)), ",")
	targets := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f != "" {
			targets = append(targets, f)
		}
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("pkgextract -T -f %s: empty target list", pkgPath)
	}
	return targets, nil
}

// Version extracts the version string from a .pkg file.
func (x *Extractor) Version(ctx context.Context, pkgPath string) (string, error) {
	out, err := exec.CommandContext(ctx, x.PkgExtractPath, "-u", "-f", pkgPath).Output()
	if err != nil {
		return "", fmt.Errorf("pkgextract -u -f %s: %w", pkgPath, err)
	}
	version := strings.TrimSpace(string(out))
	if version == "" {
		return "", fmt.Errorf("pkgextract -u -f %s: empty version", pkgPath)
	}
	return version, nil
}

// sidecarEntry mirrors the single-element array stored in a <pkg>.loads
// sidecar file. The field set matches manifest.Entry exactly.
type sidecarEntry struct {
	Product         string   `json:"product"`
	PackageLocation string   `json:"packageLocation"`
	Version         string   `json:"version"`
	Targets         []string `json:"targets"`
	Checksum        string   `json:"checksum"`
}

// cacheKey identifies a memoized lookup.
type cacheKey struct {
	targetName string
	path       string
	forceSlow  bool
}

// Resolver implements pkg_info: it tries the fast sidecar-cache path
// first, falls back to the slow extractor+hash path, and memoizes
// results for the process lifetime.
type Resolver struct {
	extractor *Extractor
	logger    *zap.Logger

	mu    sync.Mutex
	cache map[cacheKey]*Info
}

// NewResolver builds a Resolver. A nil logger defaults to a no-op logger.
func NewResolver(extractor *Extractor, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{extractor: extractor, logger: logger, cache: make(map[cacheKey]*Info)}
}

// Options tune a single PkgInfo call.
type Options struct {
	// ForceSlow bypasses the sidecar fast path even if present and
	// valid, matching the "verify" mode in SPEC_FULL.md §4.5.
	ForceSlow bool
}

// PkgInfo resolves path's metadata for tgt, preferring the sidecar cache
// file <path>.loads when it is present, fresh, and matches tgt.Product.
func (r *Resolver) PkgInfo(ctx context.Context, tgt target.Target, path string, opts Options) (*Info, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	key := cacheKey{targetName: tgt.Name, path: absPath, forceSlow: opts.ForceSlow}

	r.mu.Lock()
	if cached, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return cached, nil
	}
	r.mu.Unlock()

	var info *Info
	if !opts.ForceSlow {
		info, err = r.fastPath(tgt, absPath)
		if err != nil {
			r.logger.Warn("pkg sidecar fast path failed, falling back to extractor",
				zap.String("path", absPath), zap.Error(err))
			info = nil
		}
	}
	if info == nil {
		info, err = r.slowPath(ctx, absPath)
		if err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	r.cache[key] = info
	r.mu.Unlock()
	return info, nil
}

func (r *Resolver) fastPath(tgt target.Target, path string) (*Info, error) {
	sidecarPath := path + ".loads"

	pkgStat, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	sidecarStat, err := os.Stat(sidecarPath)
	if err != nil {
		return nil, fmt.Errorf("no sidecar: %w", err)
	}
	if sidecarStat.ModTime().Before(pkgStat.ModTime()) {
		return nil, fmt.Errorf("sidecar %s is older than %s", sidecarPath, path)
	}

	data, err := os.ReadFile(sidecarPath)
	if err != nil {
		return nil, err
	}
	var entries []sidecarEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse sidecar: %w", err)
	}
	if len(entries) != 1 {
		return nil, fmt.Errorf("sidecar has %d entries, want exactly 1", len(entries))
	}
	e := entries[0]
	if e.Product != tgt.Product {
		return nil, fmt.Errorf("sidecar product %q does not match target product %q", e.Product, tgt.Product)
	}
	if e.Version == "" || e.Checksum == "" || len(e.Targets) == 0 {
		return nil, fmt.Errorf("sidecar entry missing required fields")
	}
	return &Info{Version: e.Version, Targets: e.Targets, Checksum: e.Checksum}, nil
}

func (r *Resolver) slowPath(ctx context.Context, path string) (*Info, error) {
	version, err := r.extractor.Version(ctx, path)
	if err != nil {
		return nil, err
	}
	targets, err := r.extractor.Targets(ctx, path)
	if err != nil {
		return nil, err
	}
	checksum, err := hashutil.SHA512(path)
	if err != nil {
		return nil, err
	}
	return &Info{Version: version, Targets: targets, Checksum: checksum}, nil
}
