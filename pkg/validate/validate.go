// Package validate implements C7: a set of independent, toggleable
// invariant checks over an assembled bundle directory, yielded as a
// lazy stream of ValidationError rather than raised as exceptions.
package validate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/loadsctl/loadsctl/pkg/manifest"
	"github.com/loadsctl/loadsctl/pkg/pkginfo"
	"github.com/loadsctl/loadsctl/pkg/signing"
	"github.com/loadsctl/loadsctl/pkg/target"

	"github.com/loadsctl/loadsctl/pkg/bundle"
)

// maxConcurrentEntryChecks bounds the fan-out over a .loads file's
// entries; each entry's pkg_* checks may shell out via the package-info
// resolver's slow path, so unbounded concurrency would spawn one
// subprocess per entry at once.
const maxConcurrentEntryChecks = 8

// ValidationError is one failed invariant. It is a value yielded on a
// channel, never a panicking/raised error.
type ValidationError struct {
	Check   string
	Context string // the .loads path or .pkg path the check concerns
	Message string
}

func (e ValidationError) String() string {
	return fmt.Sprintf("Failed check %s in %s: %s", e.Check, e.Context, e.Message)
}

// Checks toggles which invariants run. All default to true; zero value
// (Checks{}) runs nothing.
type Checks struct {
	LoadsHasCodec       bool
	LoadsFilename       bool
	LoadsSigned         bool
	ProductExists       bool
	PkgRelative         bool
	PkgInside           bool
	PkgExists           bool
	PkgExternalSymlinks bool
	PkgVersion          bool
	PkgTargets          bool
	PkgChecksum         bool
	PkgFilename         bool
	PkgAttached         bool
}

// DefaultChecks returns every check enabled.
func DefaultChecks() Checks {
	return Checks{
		LoadsHasCodec: true, LoadsFilename: true, LoadsSigned: true,
		ProductExists: true, PkgRelative: true, PkgInside: true,
		PkgExists: true, PkgExternalSymlinks: true, PkgVersion: true,
		PkgTargets: true, PkgChecksum: true, PkgFilename: true,
		PkgAttached: true,
	}
}

// Validator runs C7's checks against an assembled bundle directory.
type Validator struct {
	Registry *target.Registry
	Resolver *pkginfo.Resolver
	Signer   *signing.Signer
	// PublicKey is the PEM public key loads_signed verifies signatures
	// against.
	PublicKey []byte
}

// Validate scans bundleRoot for `.loads` files and streams every failed
// check over the returned channel. The channel is closed when the scan
// completes; the consumer may stop ranging early to short-circuit.
func (v *Validator) Validate(ctx context.Context, bundleRoot string, checks Checks) <-chan ValidationError {
	out := make(chan ValidationError)
	go func() {
		defer close(out)
		v.run(ctx, bundleRoot, checks, out)
	}()
	return out
}

func (v *Validator) run(ctx context.Context, bundleRoot string, checks Checks, out chan<- ValidationError) {
	loadsFiles, err := findLoadsFiles(bundleRoot)
	if err != nil {
		emit(ctx, out, ValidationError{Check: "bundle_scan", Context: bundleRoot, Message: err.Error()})
		return
	}

	referencedPkgs := make(map[string]bool)

	for _, loadsPath := range loadsFiles {
		m, err := manifest.Parse(loadsPath)
		if err != nil {
			emit(ctx, out, ValidationError{Check: "loads_parse", Context: loadsPath, Message: err.Error()})
			continue
		}
		v.validateLoads(ctx, bundleRoot, loadsPath, m, checks, out, referencedPkgs)
	}

	if checks.PkgAttached {
		v.checkPkgAttached(ctx, bundleRoot, referencedPkgs, out)
	}
}

func (v *Validator) validateLoads(ctx context.Context, bundleRoot, loadsPath string, m *manifest.Manifest, checks Checks, out chan<- ValidationError, referencedPkgs map[string]bool) {
	codecEntries := codecEntries(v.Registry, m.Entries)

	if checks.LoadsHasCodec && len(codecEntries) == 0 {
		emit(ctx, out, ValidationError{Check: "loads_has_codec", Context: loadsPath, Message: "no entry is for a codec target"})
	}

	var expectedVersion string
	if len(codecEntries) > 0 {
		expectedVersion = codecEntries[0].Version
	}

	if checks.LoadsFilename {
		if err := v.checkLoadsFilename(loadsPath, codecEntries); err != nil {
			emit(ctx, out, ValidationError{Check: "loads_filename", Context: loadsPath, Message: err.Error()})
		}
	}

	if checks.LoadsSigned {
		if err := v.checkLoadsSigned(loadsPath); err != nil {
			emit(ctx, out, ValidationError{Check: "loads_signed", Context: loadsPath, Message: err.Error()})
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentEntryChecks)
	for _, e := range m.Entries {
		e := e
		g.Go(func() error {
			v.validateEntry(gctx, bundleRoot, loadsPath, e, expectedVersion, checks, out, referencedPkgs, &mu)
			return nil
		})
	}
	_ = g.Wait()
}

func (v *Validator) checkLoadsFilename(loadsPath string, codecEntries []manifest.Entry) error {
	if len(codecEntries) > 1 {
		return fmt.Errorf("multi-codec super-loads are not supported")
	}
	if len(codecEntries) == 0 {
		return nil
	}
	e := codecEntries[0]
	tgt, err := v.Registry.ByProduct(e.Product)
	if err != nil {
		return err
	}
	expected, err := bundle.PreferredFilename(tgt, e.Version, ".loads")
	if err != nil {
		return err
	}
	if filepath.Base(loadsPath) != expected {
		return fmt.Errorf("filename %s does not match preferred name %s", filepath.Base(loadsPath), expected)
	}
	return nil
}

func (v *Validator) checkLoadsSigned(loadsPath string) error {
	sgnPath := loadsPath + ".sgn"
	sig, err := os.ReadFile(sgnPath)
	if err != nil {
		return fmt.Errorf("signature file missing: %w", err)
	}
	if !v.Signer.Verify(loadsPath, sig, v.PublicKey) {
		return fmt.Errorf("signature does not verify")
	}
	return nil
}

func (v *Validator) validateEntry(ctx context.Context, bundleRoot, loadsPath string, e manifest.Entry, expectedVersion string, checks Checks, out chan<- ValidationError, referencedPkgs map[string]bool, mu *sync.Mutex) {
	var tgt target.Target
	var tgtOK bool
	if checks.ProductExists || checks.PkgFilename {
		t, err := v.Registry.ByProduct(e.Product)
		if err != nil {
			if checks.ProductExists {
				emit(ctx, out, ValidationError{Check: "product_exists", Context: loadsPath, Message: err.Error()})
			}
		} else {
			tgt, tgtOK = t, true
		}
	}

	if checks.PkgRelative {
		if filepath.IsAbs(e.PackageLocation) || strings.Contains(e.PackageLocation, "://") {
			emit(ctx, out, ValidationError{Check: "pkg_relative", Context: loadsPath, Message: fmt.Sprintf("packageLocation %q is not a relative path", e.PackageLocation)})
		}
	}

	resolvedPath := filepath.Join(filepath.Dir(loadsPath), e.PackageLocation)
	bundleAbs, _ := filepath.Abs(bundleRoot)
	resolvedAbs, _ := filepath.Abs(resolvedPath)

	if checks.PkgInside {
		if !withinRoot(bundleAbs, resolvedAbs) {
			emit(ctx, out, ValidationError{Check: "pkg_inside", Context: loadsPath, Message: fmt.Sprintf("%s lies outside bundle root %s", resolvedAbs, bundleAbs)})
		}
	}

	pkgExists := false
	if checks.PkgExists {
		if _, err := os.Stat(resolvedAbs); err != nil {
			emit(ctx, out, ValidationError{Check: "pkg_exists", Context: resolvedAbs, Message: err.Error()})
		} else {
			pkgExists = true
		}
	} else {
		if _, err := os.Stat(resolvedAbs); err == nil {
			pkgExists = true
		}
	}

	if pkgExists {
		mu.Lock()
		referencedPkgs[canonicalize(resolvedAbs)] = true
		mu.Unlock()
	}

	if checks.PkgExternalSymlinks && pkgExists {
		real, err := filepath.EvalSymlinks(resolvedAbs)
		if err == nil && !withinRoot(bundleAbs, real) {
			emit(ctx, out, ValidationError{Check: "pkg_external_symlinks", Context: resolvedAbs, Message: fmt.Sprintf("resolves outside bundle root to %s", real)})
		}
	}

	if (checks.PkgVersion || checks.PkgTargets || checks.PkgChecksum) && pkgExists && tgtOK {
		// validation always re-extracts from the package bytes rather
		// than trusting a .pkg.loads sidecar: a stale-but-present
		// sidecar is exactly what would hide a tampered package, the
		// scenario these checks exist to catch.
		info, err := v.Resolver.PkgInfo(ctx, tgt, resolvedAbs, pkginfo.Options{ForceSlow: true})
		if err != nil {
			// extraction failure suppresses only the three equality
			// checks for this entry; it does not abort validation.
			return
		}
		if checks.PkgVersion && info.Version != e.Version {
			emit(ctx, out, ValidationError{Check: "pkg_version", Context: resolvedAbs, Message: fmt.Sprintf("manifest version %q != package version %q", e.Version, info.Version)})
		}
		if checks.PkgTargets && !stringSliceEqual(info.Targets, e.Targets) {
			emit(ctx, out, ValidationError{Check: "pkg_targets", Context: resolvedAbs, Message: fmt.Sprintf("manifest targets %v != package targets %v", e.Targets, info.Targets)})
		}
		if checks.PkgChecksum && info.Checksum != e.Checksum {
			emit(ctx, out, ValidationError{Check: "pkg_checksum", Context: resolvedAbs, Message: fmt.Sprintf("manifest checksum %q != package checksum %q", e.Checksum, info.Checksum)})
		}
	}

	if checks.PkgFilename && tgtOK && expectedVersion != "" {
		expected, err := bundle.PreferredFilename(tgt, expectedVersion, ".pkg")
		if err == nil && filepath.Base(e.PackageLocation) != expected {
			emit(ctx, out, ValidationError{Check: "pkg_filename", Context: loadsPath, Message: fmt.Sprintf("filename %s does not match preferred name %s", filepath.Base(e.PackageLocation), expected)})
		}
	}
}

func (v *Validator) checkPkgAttached(ctx context.Context, bundleRoot string, referencedPkgs map[string]bool, out chan<- ValidationError) {
	err := filepath.WalkDir(bundleRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".pkg" {
			return nil
		}
		abs, _ := filepath.Abs(path)
		if !referencedPkgs[canonicalize(abs)] {
			emit(ctx, out, ValidationError{Check: "pkg_attached", Context: abs, Message: "package file is not referenced by any .loads entry"})
		}
		return nil
	})
	if err != nil {
		emit(ctx, out, ValidationError{Check: "pkg_attached", Context: bundleRoot, Message: err.Error()})
	}
}

func canonicalize(path string) string {
	if real, err := filepath.EvalSymlinks(path); err == nil {
		return real
	}
	return path
}

func withinRoot(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func codecEntries(reg *target.Registry, entries []manifest.Entry) []manifest.Entry {
	var out []manifest.Entry
	for _, e := range entries {
		if t, err := reg.ByProduct(e.Product); err == nil && t.IsCodec {
			out = append(out, e)
		}
	}
	return out
}

func findLoadsFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".loads") {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func stringSliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func emit(ctx context.Context, out chan<- ValidationError, e ValidationError) {
	select {
	case out <- e:
	case <-ctx.Done():
	}
}
