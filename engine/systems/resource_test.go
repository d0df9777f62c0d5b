package systems

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/spaghettifunk/anima-rhi/engine/assets"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
	"github.com/spaghettifunk/anima-rhi/engine/resources"
	"github.com/stretchr/testify/require"
)

type testStack struct {
	fm       *assets.MemoryFileManager
	pkg      *assets.AssetPackage
	backend  *renderer.NullBackend
	streamer *ResourceStreamer
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	backend := renderer.NewNullBackend()
	require.NoError(t, backend.Initialize(renderer.BackendConfig{
		Type:       renderer.BackendTypeNull,
		MaxHandles: 64,
	}))
	fm := assets.NewMemoryFileManager()
	return &testStack{
		fm:       fm,
		pkg:      assets.NewAssetPackage("test"),
		backend:  backend,
		streamer: newTestStreamer(t, 2, fm),
	}
}

func (s *testStack) textures(t *testing.T) *TextureSystem {
	t.Helper()
	ts, err := NewTextureSystem(TextureSystemConfig{MaxTextureCount: 16, MaxMipLevels: 4}, s.streamer, s.pkg, s.backend)
	require.NoError(t, err)
	return ts
}

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 16), G: uint8(y * 16), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestResourceManager_LoadOnce(t *testing.T) {
	s := newTestStack(t)
	ts := s.textures(t)
	s.fm.AddFile("textures/a.png", pngBytes(t, 4, 4))
	asset := s.pkg.AddAsset("textures/a.png")

	first, err := ts.LoadResourceByAssetID(asset.ID, false)
	require.NoError(t, err)
	second, err := ts.LoadResourceByAssetID(asset.ID, false)
	require.NoError(t, err)
	require.Same(t, first, second)
	require.Equal(t, uint64(1), s.streamer.Stats().Committed)

	s.streamer.FlushAllQueues()
	require.Equal(t, resources.LoadingStateLoaded, first.LoadingState())
	require.Equal(t, asset.ID, first.AssetID())

	byAsset, ok := ts.GetResourceByAssetID(asset.ID)
	require.True(t, ok)
	require.Same(t, first, byAsset)

	generic, err := ts.GetResourceByResourceID(first.ResourceID())
	require.NoError(t, err)
	require.Equal(t, first.ResourceID(), generic.ResourceID())

	// loaded resources are not loaded again unless asked to
	_, err = ts.LoadResourceByAssetID(asset.ID, false)
	require.NoError(t, err)
	require.Equal(t, uint64(1), s.streamer.Stats().Committed)

	_, err = ts.LoadResourceByAssetID(asset.ID, true)
	require.NoError(t, err)
	require.Equal(t, uint64(2), s.streamer.Stats().Committed)
	s.streamer.FlushAllQueues()
	require.Equal(t, uint32(2), first.Generation())
}

func TestResourceManager_ReloadWhileLoading(t *testing.T) {
	s := newTestStack(t)
	ts := s.textures(t)
	s.fm.AddFile("textures/a.png", pngBytes(t, 4, 4))

	tex, err := ts.LoadResourceByVirtualFilename("textures/a.png", false)
	require.NoError(t, err)
	require.Equal(t, resources.LoadingStateLoading, tex.LoadingState())

	// the file changes again before the first load finished
	s.fm.AddFile("textures/a.png", pngBytes(t, 8, 8))
	_, err = ts.LoadResourceByVirtualFilename("textures/a.png", true)
	require.NoError(t, err)
	require.Equal(t, uint64(1), s.streamer.Stats().Committed)

	s.streamer.FlushAllQueues()
	require.Equal(t, uint64(2), s.streamer.Stats().Committed)
	require.Equal(t, resources.LoadingStateLoaded, tex.LoadingState())
	require.Equal(t, uint32(2), tex.Generation())
	require.Equal(t, uint32(8), tex.Description().Width)

	// nothing is left pending
	s.streamer.FlushAllQueues()
	require.Equal(t, uint64(2), s.streamer.Stats().Committed)
}

func TestResourceManager_Errors(t *testing.T) {
	s := newTestStack(t)
	ts := s.textures(t)

	_, err := ts.LoadResourceByAssetID(assets.NewAssetID("nope.png"), false)
	require.ErrorIs(t, err, core.ErrUnknownAsset)

	wrong := s.pkg.AddAsset("meshes/cube.mesh")
	_, err = ts.LoadResourceByAssetID(wrong.ID, false)
	require.ErrorIs(t, err, core.ErrUnknownResourceLoaderType)

	_, err = ts.CreateResourceLoaderInstance(resources.NewResourceLoaderTypeID("mesh"))
	require.ErrorIs(t, err, core.ErrUnknownResourceLoaderType)

	_, err = ts.GetResourceByResourceID(12345)
	require.ErrorIs(t, err, core.ErrUnknownResource)

	require.Error(t, ts.RegisterResourceLoader(".PNG", nil))
	require.ErrorIs(t, ts.DestroyResource(12345), core.ErrUnknownResource)
}

func TestResourceManager_DestroyResource(t *testing.T) {
	s := newTestStack(t)
	ts := s.textures(t)
	s.fm.AddFile("a.png", pngBytes(t, 2, 2))

	texture, err := ts.LoadResourceByVirtualFilename("a.png", false)
	require.NoError(t, err)

	// owned by the streamer until it is finalized on dispatch
	require.ErrorIs(t, ts.DestroyResource(texture.ResourceID()), core.ErrResourceLoading)

	s.streamer.FlushAllQueues()
	require.Equal(t, 1, s.backend.Stats().Textures)

	id := texture.ResourceID()
	require.NoError(t, ts.DestroyResource(id))
	require.Equal(t, uint32(0), ts.NumberOfResources())
	require.Equal(t, 0, s.backend.Stats().Textures)
	_, ok := ts.TryGetResource(id)
	require.False(t, ok)
	_, ok = ts.GetResourceByAssetID(assets.NewAssetID("a.png"))
	require.False(t, ok)
}

func TestResourceManager_CapacityExceeded(t *testing.T) {
	s := newTestStack(t)
	ts, err := NewTextureSystem(TextureSystemConfig{MaxTextureCount: 1}, s.streamer, s.pkg, s.backend)
	require.NoError(t, err)
	s.fm.AddFile("a.png", pngBytes(t, 2, 2))

	_, err = ts.LoadResourceByVirtualFilename("a.png", false)
	require.NoError(t, err)
	_, err = ts.LoadResourceByVirtualFilename("b.png", false)
	require.ErrorIs(t, err, core.ErrCapacityExceeded)
	s.streamer.FlushAllQueues()
}

func TestResourceSystem_Routing(t *testing.T) {
	s := newTestStack(t)
	ts := s.textures(t)
	ms, err := NewMeshSystem(MeshSystemConfig{MaxMeshCount: 4}, s.streamer, s.pkg, s.backend)
	require.NoError(t, err)

	rs, err := NewResourceSystem(s.streamer, s.pkg)
	require.NoError(t, err)
	require.NoError(t, rs.RegisterResourceManager(ts))
	require.NoError(t, rs.RegisterResourceManager(ms))
	require.Error(t, rs.RegisterResourceManager(s.textures(t)))

	s.fm.AddFile("textures/a.png", pngBytes(t, 4, 2))
	s.fm.AddFile("textures/b.png", pngBytes(t, 2, 4))
	s.fm.AddFile("meshes/quad.mesh", quadMeshBytes(t))
	s.fm.AddFile("readme.txt", []byte("not an asset"))
	n, err := s.pkg.Scan(s.fm)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	count, err := rs.LoadAllAssets()
	require.NoError(t, err)
	require.Equal(t, 3, count)
	require.Equal(t, uint32(3), rs.NumberOfLoadingResources())

	_, err = rs.LoadAsset(assets.NewAssetID("readme.txt"))
	require.ErrorIs(t, err, core.ErrUnknownResourceLoaderType)

	s.streamer.FlushAllQueues()
	require.Equal(t, uint32(0), rs.NumberOfLoadingResources())
	require.Equal(t, uint32(2), ts.NumberOfResourcesInState(resources.LoadingStateLoaded))
	require.Equal(t, uint32(1), ms.NumberOfResourcesInState(resources.LoadingStateLoaded))

	// a modified file is streamed again
	quad := s.pkg.AddAsset("meshes/quad.mesh")
	rs.OnAssetChanged(quad, assets.AssetChangeModified)
	require.Equal(t, uint32(1), rs.NumberOfLoadingResources())
	s.streamer.FlushAllQueues()
	mesh, ok := ms.GetResourceByAssetID(quad.ID)
	require.True(t, ok)
	require.Equal(t, uint32(2), mesh.Generation())

	rs.OnAssetChanged(quad, assets.AssetChangeRemoved)
	require.Equal(t, uint32(0), ms.NumberOfResources())

	require.NoError(t, rs.Shutdown())
	require.Equal(t, uint32(0), ts.NumberOfResources())
	stats := s.backend.Stats()
	require.Equal(t, 0, stats.Textures)
	require.Equal(t, 0, stats.Buffers)
}
