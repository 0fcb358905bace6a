package install

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadOverlayMergesOverBase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overlay.yaml")
	doc := `
targets:
  - name: lab-box
    description: engineering lab unit
    destpath: /tmp/image.bin
  - name: asterix
    description: overridden asterix
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	base, err := NewRegistry([]Target{
		{Name: "asterix", Description: "original asterix"},
	})
	require.NoError(t, err)

	merged, err := LoadOverlay(path, base)
	require.NoError(t, err)

	lab, err := merged.ByName("lab-box")
	require.NoError(t, err)
	require.Equal(t, "/tmp/image.bin", lab.DestPath)
	require.True(t, lab.HasDestPath)

	asterix, err := merged.ByName("asterix")
	require.NoError(t, err)
	require.Equal(t, "overridden asterix", asterix.Description)
}

func TestLoadOverlayRejectsMissingName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overlay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("targets:\n  - description: no name here\n"), 0o644))

	base, err := NewRegistry(nil)
	require.NoError(t, err)

	_, err = LoadOverlay(path, base)
	require.Error(t, err)
}

func TestSaveOverlayRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overlay.yaml")

	targets := []Target{
		{Name: "lab-box", Description: "lab unit", DestPath: "/tmp/x.bin", HasDestPath: true, PostHook: "reboot $destpath"},
	}
	require.NoError(t, SaveOverlay(path, targets))

	base, err := NewRegistry(nil)
	require.NoError(t, err)
	merged, err := LoadOverlay(path, base)
	require.NoError(t, err)

	lab, err := merged.ByName("lab-box")
	require.NoError(t, err)
	require.Equal(t, "reboot $destpath", lab.PostHook)
}
