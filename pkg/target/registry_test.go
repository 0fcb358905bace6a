package target

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRegistryRejectsDuplicateName(t *testing.T) {
	_, err := NewRegistry([]Target{
		{Name: "a", Product: "p1"},
		{Name: "a", Product: "p2"},
	})
	require.Error(t, err)
}

func TestNewRegistryRejectsDuplicateProduct(t *testing.T) {
	_, err := NewRegistry([]Target{
		{Name: "a", Product: "p1"},
		{Name: "b", Product: "p1"},
	})
	require.Error(t, err)
}

func TestNewRegistryRejectsUnresolvedDep(t *testing.T) {
	_, err := NewRegistry([]Target{
		{Name: "a", Product: "p1", Deps: []string{"missing"}},
	})
	require.Error(t, err)
}

func TestNewRegistryAcceptsResolvedDeps(t *testing.T) {
	reg, err := NewRegistry([]Target{
		{Name: "a", Product: "p1"},
		{Name: "b", Product: "p2", Deps: []string{"a"}},
	})
	require.NoError(t, err)
	tgt, err := reg.ByName("b")
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, tgt.Deps)
}

func TestByNameAndByProductNotFound(t *testing.T) {
	reg, err := NewRegistry([]Target{{Name: "a", Product: "p1"}})
	require.NoError(t, err)

	_, err = reg.ByName("missing")
	require.Error(t, err)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)

	_, err = reg.ByProduct("missing")
	require.Error(t, err)
}

func TestDefaultRegistryIsValid(t *testing.T) {
	tgt, err := Default.ByName("sunrise")
	require.NoError(t, err)
	require.True(t, tgt.IsCodec)
	require.ElementsMatch(t, []string{"halley", "moody", "pyramid"}, tgt.Deps)

	zenith, err := Default.ByProduct("s53300")
	require.NoError(t, err)
	require.Equal(t, "zenith", zenith.Name)
}
