package systems

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"

	"github.com/spaghettifunk/anima-rhi/engine/renderer"
	"github.com/spaghettifunk/anima-rhi/engine/resources"
)

func TestMipLevelCount(t *testing.T) {
	tests := []struct {
		width, height, max uint32
		expected           uint32
	}{
		{1, 1, 8, 1},
		{8, 4, 8, 4},
		{256, 256, 16, 9},
		{256, 256, 4, 4},
		{3, 5, 0, 1},
	}
	for _, test := range tests {
		require.Equal(t, test.expected, MipLevelCount(test.width, test.height, test.max), "%dx%d max %d", test.width, test.height, test.max)
	}
}

func TestTextureSystem_LoadsPNG(t *testing.T) {
	s := newTestStack(t)
	ts := s.textures(t)
	s.fm.AddFile("textures/crate.png", pngBytes(t, 8, 4))

	texture, err := ts.LoadResourceByVirtualFilename("textures/crate.png", false)
	require.NoError(t, err)
	require.Equal(t, renderer.InvalidTextureHandle, texture.Handle())
	s.streamer.FlushAllQueues()

	require.Equal(t, resources.LoadingStateLoaded, texture.LoadingState())
	require.True(t, texture.IsReady())
	require.NotEqual(t, renderer.InvalidTextureHandle, texture.Handle())
	require.True(t, s.backend.IsTextureUploaded(texture.Handle()))

	desc := texture.Description()
	require.Equal(t, uint32(8), desc.Width)
	require.Equal(t, uint32(4), desc.Height)
	require.Equal(t, uint32(4), desc.MipLevels)
	require.Equal(t, "textures/crate.png", desc.Name)
	require.Equal(t, desc.Size(), s.backend.Stats().UploadedBytes)
	require.Equal(t, uint32(1), texture.Generation())
}

func TestTextureSystem_ReloadReplacesHandle(t *testing.T) {
	s := newTestStack(t)
	ts := s.textures(t)

	img := image.NewRGBA(image.Rect(0, 0, 3, 3))
	img.Set(1, 1, color.White)
	var buf bytes.Buffer
	require.NoError(t, bmp.Encode(&buf, img))
	s.fm.AddFile("ui/dot.bmp", buf.Bytes())

	texture, err := ts.LoadResourceByVirtualFilename("ui/dot.bmp", false)
	require.NoError(t, err)
	s.streamer.FlushAllQueues()
	require.Equal(t, resources.LoadingStateLoaded, texture.LoadingState())
	first := texture.Handle()

	s.fm.AddFile("ui/dot.bmp", pngBytes(t, 16, 16))
	_, err = ts.LoadResourceByVirtualFilename("ui/dot.bmp", true)
	require.NoError(t, err)
	s.streamer.FlushAllQueues()

	require.Equal(t, resources.LoadingStateLoaded, texture.LoadingState())
	require.NotEqual(t, first, texture.Handle())
	require.Equal(t, uint32(16), texture.Description().Width)
	require.Equal(t, uint32(2), texture.Generation())
	require.Equal(t, 1, s.backend.Stats().Textures)
}

func TestTextureSystem_CorruptImageFails(t *testing.T) {
	s := newTestStack(t)
	ts := s.textures(t)
	s.fm.AddFile("broken.png", []byte("definitely not a png"))

	texture, err := ts.LoadResourceByVirtualFilename("broken.png", false)
	require.NoError(t, err)
	s.streamer.FlushAllQueues()

	require.Equal(t, resources.LoadingStateFailed, texture.LoadingState())
	require.Equal(t, renderer.InvalidTextureHandle, texture.Handle())
	require.Equal(t, 0, s.backend.Stats().Textures)
	require.NoError(t, ts.Shutdown())
}
