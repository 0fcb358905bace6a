package validate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loadsctl/loadsctl/pkg/bundle"
	"github.com/loadsctl/loadsctl/pkg/manifest"
	"github.com/loadsctl/loadsctl/pkg/pkginfo"
	"github.com/loadsctl/loadsctl/pkg/signing"
	"github.com/loadsctl/loadsctl/pkg/target"
)

func writeFakeExtractor(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "fake-pkgextract")
	script := `#!/bin/sh
case "$1" in
  -T) echo "sunrise" ;;
  -u) echo "ce9.3.0 92f9c9ac866" ;;
esac
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func buildTestBundle(t *testing.T) (bundleDir, pkgPath, loadsPath string) {
	t.Helper()
	srcDir := t.TempDir()
	bundleDir = t.TempDir()

	pkgSrc := filepath.Join(srcDir, "sunrise-src.pkg")
	require.NoError(t, os.WriteFile(pkgSrc, []byte("binary payload"), 0o644))

	extractorPath := writeFakeExtractor(t, srcDir)
	resolver := pkginfo.NewResolver(pkginfo.NewExtractor(extractorPath), nil)
	signer := signing.NewSigner("", nil)
	assembler := bundle.NewAssembler(resolver, signer)

	sunrise, err := target.Default.ByName("sunrise")
	require.NoError(t, err)

	loadsPath, err = assembler.Build(context.Background(), bundleDir, []target.Target{sunrise}, []string{pkgSrc}, bundle.Options{})
	require.NoError(t, err)

	pkgPath = filepath.Join(bundleDir, "s53200ce9_3_0-92f9c9ac866.pkg")
	return bundleDir, pkgPath, loadsPath
}

func rewriteManifest(t *testing.T, loadsPath string, m *manifest.Manifest) {
	t.Helper()
	require.NoError(t, m.WriteFile(loadsPath, func(path string, data []byte) error {
		return os.WriteFile(path, data, 0o644)
	}))
}

func collect(ch <-chan ValidationError) []ValidationError {
	var out []ValidationError
	for e := range ch {
		out = append(out, e)
	}
	return out
}

func newValidator(t *testing.T) *Validator {
	t.Helper()
	extractorPath := writeFakeExtractor(t, t.TempDir())
	resolver := pkginfo.NewResolver(pkginfo.NewExtractor(extractorPath), nil)
	return &Validator{
		Registry: target.Default,
		Resolver: resolver,
		Signer:   signing.NewSigner("", nil),
	}
}

// TestTamperOneByteYieldsOnlyChecksumFailure exercises the worked scenario
// where flipping a single byte in the referenced package must produce
// exactly one pkg_checksum failure, leaving version and targets intact.
func TestTamperOneByteYieldsOnlyChecksumFailure(t *testing.T) {
	bundleDir, pkgPath, _ := buildTestBundle(t)

	data, err := os.ReadFile(pkgPath)
	require.NoError(t, err)
	data[0] ^= 0xFF
	require.NoError(t, os.WriteFile(pkgPath, data, 0o644))

	v := newValidator(t)
	checks := DefaultChecks()
	checks.LoadsSigned = false

	errs := collect(v.Validate(context.Background(), bundleDir, checks))

	require.Len(t, errs, 1)
	require.Equal(t, "pkg_checksum", errs[0].Check)
}

func TestUntamperedBundleHasNoFailuresExceptSigned(t *testing.T) {
	bundleDir, _, _ := buildTestBundle(t)

	v := newValidator(t)
	checks := DefaultChecks()
	checks.LoadsSigned = false

	errs := collect(v.Validate(context.Background(), bundleDir, checks))
	require.Empty(t, errs)
}

func TestLoadsSignedFailsWithoutSidecarSignature(t *testing.T) {
	bundleDir, _, _ := buildTestBundle(t)

	v := newValidator(t)
	errs := collect(v.Validate(context.Background(), bundleDir, Checks{LoadsSigned: true}))

	require.Len(t, errs, 1)
	require.Equal(t, "loads_signed", errs[0].Check)
}

func TestMultiCodecLoadsFilenameFails(t *testing.T) {
	bundleDir, _, loadsPath := buildTestBundle(t)

	sunrise, err := target.Default.ByName("sunrise")
	require.NoError(t, err)
	require.True(t, sunrise.IsCodec)

	zenith, err := target.Default.ByName("zenith")
	require.NoError(t, err)
	require.True(t, zenith.IsCodec)

	zenithPkg := filepath.Join(bundleDir, "zenith-pkg.pkg")
	require.NoError(t, os.WriteFile(zenithPkg, []byte("zenith payload"), 0o644))

	m, err := manifest.Parse(loadsPath)
	require.NoError(t, err)
	require.NoError(t, m.Add(zenith.Product, "zenith-pkg.pkg", manifest.PackageMeta{
		Version:  "ce9.3.0 92f9c9ac866",
		Targets:  []string{"zenith"},
		Checksum: "deadbeef",
	}))
	rewriteManifest(t, loadsPath, m)

	v := newValidator(t)
	errs := collect(v.Validate(context.Background(), bundleDir, Checks{LoadsFilename: true}))

	require.Len(t, errs, 1)
	require.Equal(t, "loads_filename", errs[0].Check)
}

func TestPkgAttachedFlagsUnreferencedPackage(t *testing.T) {
	bundleDir, _, _ := buildTestBundle(t)

	orphan := filepath.Join(bundleDir, "orphan.pkg")
	require.NoError(t, os.WriteFile(orphan, []byte("nobody points at me"), 0o644))

	v := newValidator(t)
	errs := collect(v.Validate(context.Background(), bundleDir, Checks{PkgAttached: true}))

	require.Len(t, errs, 1)
	require.Equal(t, "pkg_attached", errs[0].Check)
	require.Contains(t, errs[0].Context, "orphan.pkg")
}

func TestPkgAttachedAcceptsSymlinkToReferencedPackage(t *testing.T) {
	bundleDir, pkgPath, _ := buildTestBundle(t)

	linkPath := filepath.Join(bundleDir, "also-s53200.pkg")
	require.NoError(t, os.Symlink(pkgPath, linkPath))

	v := newValidator(t)
	checks := Checks{PkgAttached: true}
	errs := collect(v.Validate(context.Background(), bundleDir, checks))

	// the symlink resolves to the same canonical target as the
	// manifest-referenced package, so it must not be reported as
	// unattached even though nothing names it directly.
	require.Empty(t, errs)
}

func TestPkgRelativeRejectsAbsoluteLocation(t *testing.T) {
	bundleDir, _, loadsPath := buildTestBundle(t)

	m, err := manifest.Parse(loadsPath)
	require.NoError(t, err)
	m.Entries[0].PackageLocation = filepath.Join(bundleDir, "s53200ce9_3_0-92f9c9ac866.pkg")
	rewriteManifest(t, loadsPath, m)

	v := newValidator(t)
	errs := collect(v.Validate(context.Background(), bundleDir, Checks{PkgRelative: true, PkgExists: false}))

	require.Len(t, errs, 1)
	require.Equal(t, "pkg_relative", errs[0].Check)
}
