package assets

import (
	"testing"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/stretchr/testify/require"
)

func TestNewAsset_NormalizesFilename(t *testing.T) {
	b := NewAsset("./textures/../textures/crate.png")
	require.Equal(t, "textures/crate.png", b.VirtualFilename)
	require.Equal(t, "png", b.Extension())
	require.Equal(t, NewAssetID("textures/crate.png"), b.ID)
	require.Equal(t, NewAssetID("Textures/Crate.png"), b.ID)
}

func TestAssetPackage_AddRemove(t *testing.T) {
	pkg := NewAssetPackage("test")

	crate := pkg.AddAsset("textures/crate.png")
	again := pkg.AddAsset("textures//crate.png")
	require.Same(t, crate, again)
	require.Equal(t, 1, pkg.NumberOfAssets())

	got, err := pkg.GetAsset(crate.ID)
	require.NoError(t, err)
	require.Same(t, crate, got)

	got, err = pkg.GetAssetByVirtualFilename("textures/crate.png")
	require.NoError(t, err)
	require.Same(t, crate, got)

	require.True(t, pkg.RemoveAsset(crate.ID))
	require.False(t, pkg.RemoveAsset(crate.ID))

	_, err = pkg.GetAsset(crate.ID)
	require.ErrorIs(t, err, core.ErrUnknownAsset)
}

func TestAssetPackage_Scan(t *testing.T) {
	fm := NewMemoryFileManager()
	fm.AddFile("meshes/cube.mesh", []byte{1})
	fm.AddFile("textures/b.png", []byte{2})
	fm.AddFile("textures/a.png", []byte{3})

	pkg := NewAssetPackage("memory")
	added, err := pkg.Scan(fm)
	require.NoError(t, err)
	require.Equal(t, 3, added)

	added, err = pkg.Scan(fm)
	require.NoError(t, err)
	require.Equal(t, 0, added)

	list := pkg.Assets()
	require.Len(t, list, 3)
	require.Equal(t, "meshes/cube.mesh", list[0].VirtualFilename)
	require.Equal(t, "textures/a.png", list[1].VirtualFilename)
	require.Equal(t, "textures/b.png", list[2].VirtualFilename)
}
