// Package bundle implements C6: materializing a directory of manifest +
// detached signature + referenced package files.
package bundle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/loadsctl/loadsctl/internal/atomicfile"
	"github.com/loadsctl/loadsctl/pkg/buildquery"
	"github.com/loadsctl/loadsctl/pkg/manifest"
	"github.com/loadsctl/loadsctl/pkg/pkginfo"
	"github.com/loadsctl/loadsctl/pkg/signing"
	"github.com/loadsctl/loadsctl/pkg/target"
)

// NameCollisionError is returned when a filename Build wants to place in
// dst already exists and does not refer to the same file content-identity.
type NameCollisionError struct {
	Path string
}

func (e *NameCollisionError) Error() string {
	return fmt.Sprintf("name collision: %s already exists and differs from the package being placed", e.Path)
}

// Options tunes a Build call. All fields are optional.
type Options struct {
	Version   string   // overrides the bundle version used to derive filenames/loads name
	Filenames []string // overrides the derived in-bundle filenames, parallel to targets/pkgs
	LoadsName string   // overrides the derived manifest filename
	Symlink   bool     // true (default set by caller) links packages in; false copies them
	SignKey   signing.KeySource
	PkgInfoOpts pkginfo.Options
}

// Assembler ties together the registry, package-metadata resolver, and
// signer needed to build bundles.
type Assembler struct {
	Resolver *pkginfo.Resolver
	Signer   *signing.Signer
}

// NewAssembler builds an Assembler.
func NewAssembler(resolver *pkginfo.Resolver, signer *signing.Signer) *Assembler {
	return &Assembler{Resolver: resolver, Signer: signer}
}

// Build materializes dst with a manifest covering targets/pkgs
// (parallel slices), its detached signature, and the referenced package
// files placed as symlinks or copies. It returns the path to the
// written `.loads` file.
func (a *Assembler) Build(ctx context.Context, dst string, targets []target.Target, pkgs []string, opts Options) (string, error) {
	info, err := os.Stat(dst)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("build: dst %s is not an existing directory", dst)
	}
	if len(targets) != len(pkgs) {
		return "", fmt.Errorf("build: targets (%d) and pkgs (%d) length mismatch", len(targets), len(pkgs))
	}
	if len(targets) == 0 {
		return "", fmt.Errorf("build: at least one target is required")
	}
	for _, p := range pkgs {
		st, err := os.Stat(p)
		if err != nil {
			return "", fmt.Errorf("build: package %s: %w", p, err)
		}
		if st.IsDir() {
			return "", fmt.Errorf("build: package %s is a directory", p)
		}
	}

	metas := make([]*pkginfo.Info, len(targets))
	for i, t := range targets {
		m, err := a.Resolver.PkgInfo(ctx, t, pkgs[i], opts.PkgInfoOpts)
		if err != nil {
			return "", fmt.Errorf("build: package metadata for %s: %w", t.Name, err)
		}
		metas[i] = m
	}

	filenames := opts.Filenames
	if filenames == nil {
		filenames = make([]string, len(targets))
		for i, t := range targets {
			fn, err := PreferredFilename(t, metas[i].Version, ".pkg")
			if err != nil {
				return "", fmt.Errorf("build: preferred filename for %s: %w", t.Name, err)
			}
			filenames[i] = fn
		}
	} else if len(filenames) != len(targets) {
		return "", fmt.Errorf("build: filenames (%d) and targets (%d) length mismatch", len(filenames), len(targets))
	}

	bundleVersion := opts.Version
	if bundleVersion == "" {
		bundleVersion = metas[0].Version
	}

	loadsName := opts.LoadsName
	if loadsName == "" {
		fn, err := PreferredFilename(targets[0], bundleVersion, ".loads")
		if err != nil {
			return "", fmt.Errorf("build: preferred loads name: %w", err)
		}
		loadsName = fn
	}

	m := manifest.New()
	for i, t := range targets {
		if err := m.Add(t.Product, filenames[i], manifest.PackageMeta{
			Version:  metas[i].Version,
			Targets:  metas[i].Targets,
			Checksum: metas[i].Checksum,
		}); err != nil {
			return "", fmt.Errorf("build: manifest entry for %s: %w", t.Name, err)
		}
	}

	loadsPath := filepath.Join(dst, loadsName)
	if err := m.WriteFile(loadsPath, func(path string, data []byte) error {
		return atomicfile.Write(path, data, 0o644)
	}); err != nil {
		return "", fmt.Errorf("build: writing manifest: %w", err)
	}

	if opts.SignKey != nil {
		sgnPath := loadsPath + ".sgn"
		if err := a.Signer.SignToFile(ctx, loadsPath, opts.SignKey, sgnPath); err != nil {
			return "", fmt.Errorf("build: signing manifest: %w", err)
		}
	}

	for i, filename := range filenames {
		dstPath := filepath.Join(dst, filename)
		if err := placePkg(dstPath, pkgs[i], opts.Symlink); err != nil {
			return "", fmt.Errorf("build: placing %s: %w", filename, err)
		}
	}

	return loadsPath, nil
}

func placePkg(dstPath, pkgPath string, symlink bool) error {
	if symlink {
		if err := os.Symlink(pkgPath, dstPath); err != nil {
			if !os.IsExist(err) {
				return err
			}
			existingTarget, readErr := os.Readlink(dstPath)
			if readErr == nil {
				absExisting := existingTarget
				if !filepath.IsAbs(absExisting) {
					absExisting = filepath.Join(filepath.Dir(dstPath), absExisting)
				}
				absWanted, _ := filepath.Abs(pkgPath)
				if sameFile(absExisting, absWanted) {
					return nil
				}
			}
			return &NameCollisionError{Path: dstPath}
		}
		return nil
	}

	if _, err := os.Stat(dstPath); err == nil {
		same, cmpErr := atomicfile.SameContent(dstPath, pkgPath)
		if cmpErr == nil && same {
			return nil
		}
		return &NameCollisionError{Path: dstPath}
	}
	return atomicfile.CopyFile(pkgPath, dstPath)
}

func sameFile(a, b string) bool {
	infoA, errA := os.Stat(a)
	infoB, errB := os.Stat(b)
	if errA != nil || errB != nil {
		return false
	}
	return os.SameFile(infoA, infoB)
}

// BuildWithDepsOptions extends Options with what's needed to expand a
// target into itself plus its peripheral dependencies.
type BuildWithDepsOptions struct {
	Options
	Registry *target.Registry
	Query    *buildquery.Client
	ObjDir   string
}

// BuildWithDeps expands tgt into [tgt, *deps], resolves each dependency's
// package path via the build-system query helper (pkg explicit for tgt
// itself, if provided), verifies every resolved path exists, and
// delegates to Build.
func (a *Assembler) BuildWithDeps(ctx context.Context, dst string, tgt target.Target, pkg string, opts BuildWithDepsOptions) (string, error) {
	if opts.Registry == nil {
		return "", fmt.Errorf("build with deps: registry is required")
	}
	if opts.Query == nil {
		return "", fmt.Errorf("build with deps: build query client is required")
	}

	pairs, err := opts.Query.FindTargetDepsAndPkgs(ctx, tgt.Name, pkg, tgt.Deps, opts.ObjDir)
	if err != nil {
		return "", fmt.Errorf("build with deps: %w", err)
	}
	present, err := buildquery.VerifyPkgs(pairs)
	if err != nil {
		return "", err
	}

	targets := make([]target.Target, len(present))
	pkgs := make([]string, len(present))
	for i, p := range present {
		t, err := opts.Registry.ByName(p.TargetName)
		if err != nil {
			return "", fmt.Errorf("build with deps: %w", err)
		}
		targets[i] = t
		pkgs[i] = p.Path
	}

	return a.Build(ctx, dst, targets, pkgs, opts.Options)
}
