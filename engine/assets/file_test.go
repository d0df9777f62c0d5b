package assets

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/stretchr/testify/require"
)

func TestDiskFileManager_WriteThenRead(t *testing.T) {
	fm, err := NewDiskFileManager(t.TempDir())
	require.NoError(t, err)

	w, err := fm.OpenFile(FileModeWrite, "materials/crate.mat")
	require.NoError(t, err)
	_, err = w.Write([]byte("name = \"crate\"\n"))
	require.NoError(t, err)
	require.NoError(t, fm.CloseFile(w))

	r, err := fm.OpenFile(FileModeRead, "materials/crate.mat")
	require.NoError(t, err)
	require.Equal(t, "materials/crate.mat", r.Name())
	require.Equal(t, int64(15), r.Size())
	require.Equal(t, int32(1), fm.NumberOfOpenFiles())

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "name = \"crate\"\n", string(data))

	buf := make([]byte, 5)
	_, err = r.ReadAt(buf, 7)
	require.NoError(t, err)
	require.Equal(t, "\"crat", string(buf))

	_, err = r.Write([]byte("x"))
	require.Error(t, err)
	require.NoError(t, fm.CloseFile(r))
	require.Equal(t, int32(0), fm.NumberOfOpenFiles())
}

func TestDiskFileManager_MissingFile(t *testing.T) {
	fm, err := NewDiskFileManager(t.TempDir())
	require.NoError(t, err)

	_, err = fm.OpenFile(FileModeRead, "textures/missing.png")
	require.ErrorIs(t, err, core.ErrAssetUnavailable)

	_, err = fm.OpenFile(FileModeRead, "../outside.png")
	require.ErrorIs(t, err, core.ErrAssetUnavailable)
}

func TestDiskFileManager_TruncatedWhileOpen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 1<<20), 0o644))

	fm, err := NewDiskFileManager(dir)
	require.NoError(t, err)
	f, err := fm.OpenFile(FileModeRead, "big.bin")
	require.NoError(t, err)
	defer fm.CloseFile(f)

	require.NoError(t, os.Truncate(path, 0))

	buf := make([]byte, 4096)
	_, err = f.ReadAt(buf, 512*1024)
	require.ErrorIs(t, err, core.ErrAssetUnavailable)

	_, err = io.ReadAll(f)
	require.ErrorIs(t, err, core.ErrAssetUnavailable)
}

func TestDiskFileManager_ListFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "textures"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".cache"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "textures", "crate.png"), []byte{0}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cube.mesh"), []byte{0}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".cache", "ignored"), []byte{0}, 0o644))

	fm, err := NewDiskFileManager(dir)
	require.NoError(t, err)

	names, err := fm.ListFiles()
	require.NoError(t, err)
	require.Equal(t, []string{"cube.mesh", "textures/crate.png"}, names)
}

func TestMemoryFileManager(t *testing.T) {
	fm := NewMemoryFileManager()

	_, err := fm.OpenFile(FileModeRead, "nope.bin")
	require.ErrorIs(t, err, core.ErrAssetUnavailable)

	w, err := fm.OpenFile(FileModeWrite, "data/blob.bin")
	require.NoError(t, err)
	_, err = w.Write([]byte{1, 2, 3, 4})
	require.NoError(t, err)
	require.Equal(t, int64(4), w.Size())
	require.NoError(t, fm.CloseFile(w))

	r, err := fm.OpenFile(FileModeRead, "data/blob.bin")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4}, data)
	require.NoError(t, fm.CloseFile(r))

	require.True(t, fm.RemoveFile("data/blob.bin"))
	names, err := fm.ListFiles()
	require.NoError(t, err)
	require.Empty(t, names)
}
