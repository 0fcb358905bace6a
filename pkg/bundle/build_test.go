package bundle

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loadsctl/loadsctl/pkg/manifest"
	"github.com/loadsctl/loadsctl/pkg/pkginfo"
	"github.com/loadsctl/loadsctl/pkg/signing"
	"github.com/loadsctl/loadsctl/pkg/target"
)

func writeSidecarPkg(t *testing.T, dir, name, product, version, checksum string, targets []string) string {
	t.Helper()
	pkgPath := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(pkgPath, []byte("binary-"+name), 0o644))

	entries := `[{"product":"` + product + `","packageLocation":"` + name + `","version":"` + version + `","targets":[`
	for i, tg := range targets {
		if i > 0 {
			entries += ","
		}
		entries += `"` + tg + `"`
	}
	entries += `],"checksum":"` + checksum + `"}]`
	require.NoError(t, os.WriteFile(pkgPath+".loads", []byte(entries), 0o644))
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(pkgPath+".loads", later, later))
	return pkgPath
}

func TestBuildAssemblesDirectory(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := t.TempDir()

	pkgPath := writeSidecarPkg(t, srcDir, "sunrise-src.pkg", "s53200", "ce9.3.0 92f9c9ac866", "abc123", []string{"sunrise"})

	sunrise, err := target.Default.ByName("sunrise")
	require.NoError(t, err)

	resolver := pkginfo.NewResolver(pkginfo.NewExtractor("nonexistent-pkgextract"), nil)
	signer := signing.NewSigner("", nil)
	assembler := NewAssembler(resolver, signer)

	loadsPath, err := assembler.Build(context.Background(), dstDir, []target.Target{sunrise}, []string{pkgPath}, Options{})
	require.NoError(t, err)

	require.FileExists(t, loadsPath)
	require.Equal(t, "s53200ce9_3_0-92f9c9ac866.loads", filepath.Base(loadsPath))
	require.FileExists(t, filepath.Join(dstDir, "s53200ce9_3_0-92f9c9ac866.pkg"))

	m, err := manifest.Parse(loadsPath)
	require.NoError(t, err)
	require.Len(t, m.Entries, 1)
	require.Equal(t, "abc123", m.Entries[0].Checksum)
}

func TestBuildDetectsNameCollisionOnDifferentContent(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := t.TempDir()

	pkgPath := writeSidecarPkg(t, srcDir, "sunrise-src.pkg", "s53200", "ce9.3.0 92f9c9ac866", "abc123", []string{"sunrise"})

	require.NoError(t, os.WriteFile(filepath.Join(dstDir, "s53200ce9_3_0-92f9c9ac866.pkg"), []byte("different content"), 0o644))

	sunrise, err := target.Default.ByName("sunrise")
	require.NoError(t, err)
	resolver := pkginfo.NewResolver(pkginfo.NewExtractor("nonexistent-pkgextract"), nil)
	signer := signing.NewSigner("", nil)
	assembler := NewAssembler(resolver, signer)

	_, err = assembler.Build(context.Background(), dstDir, []target.Target{sunrise}, []string{pkgPath}, Options{})
	require.Error(t, err)
	var collision *NameCollisionError
	require.ErrorAs(t, err, &collision)
}

func TestBuildToleratesIdenticalPreexistingCopy(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := t.TempDir()

	pkgPath := writeSidecarPkg(t, srcDir, "sunrise-src.pkg", "s53200", "ce9.3.0 92f9c9ac866", "abc123", []string{"sunrise"})
	data, err := os.ReadFile(pkgPath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dstDir, "s53200ce9_3_0-92f9c9ac866.pkg"), data, 0o644))

	sunrise, err := target.Default.ByName("sunrise")
	require.NoError(t, err)
	resolver := pkginfo.NewResolver(pkginfo.NewExtractor("nonexistent-pkgextract"), nil)
	signer := signing.NewSigner("", nil)
	assembler := NewAssembler(resolver, signer)

	_, err = assembler.Build(context.Background(), dstDir, []target.Target{sunrise}, []string{pkgPath}, Options{})
	require.NoError(t, err)
}

func TestBuildRequiresExistingDestDir(t *testing.T) {
	sunrise, err := target.Default.ByName("sunrise")
	require.NoError(t, err)
	resolver := pkginfo.NewResolver(pkginfo.NewExtractor("nonexistent-pkgextract"), nil)
	signer := signing.NewSigner("", nil)
	assembler := NewAssembler(resolver, signer)

	_, err = assembler.Build(context.Background(), "/no/such/dir", []target.Target{sunrise}, []string{"x.pkg"}, Options{})
	require.Error(t, err)
}
