package systems

import (
	"bytes"
	"encoding/binary"
	"runtime"
	"testing"

	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rhi/engine/assets"
	"github.com/spaghettifunk/anima-rhi/engine/math"
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
	"github.com/spaghettifunk/anima-rhi/engine/resources"
)

func quadMeshData() MeshData {
	return MeshData{
		Vertices: []math.Vertex3D{
			{Position: math.NewVec3(-1, -1, 0), Texcoord: math.Vec2{X: 0, Y: 0}},
			{Position: math.NewVec3(1, -1, 0), Texcoord: math.Vec2{X: 1, Y: 0}},
			{Position: math.NewVec3(1, 1, 0), Texcoord: math.Vec2{X: 1, Y: 1}},
			{Position: math.NewVec3(-1, 1, 0), Texcoord: math.Vec2{X: 0, Y: 1}},
		},
		Indices: []uint32{0, 1, 2, 0, 2, 3},
	}
}

func quadMeshBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, WriteMesh(&buf, quadMeshData()))
	return buf.Bytes()
}

func TestReadMesh(t *testing.T) {
	data, err := ReadMesh(bytes.NewReader(quadMeshBytes(t)))
	require.NoError(t, err)
	require.Equal(t, quadMeshData(), data)

	raw := quadMeshBytes(t)
	raw[0] = 'X'
	_, err = ReadMesh(bytes.NewReader(raw))
	require.ErrorIs(t, err, ErrInvalidMeshFile)

	_, err = ReadMesh(bytes.NewReader(quadMeshBytes(t)[:20]))
	require.ErrorIs(t, err, ErrInvalidMeshFile)
}

func TestReadMesh_CountsBeyondPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, &meshHeader{
		Magic:       meshMagic,
		Version:     meshVersion,
		VertexCount: maxMeshVertices,
		IndexCount:  maxMeshIndices,
	}))
	zw := lz4.NewWriter(&buf)
	_, err := zw.Write(make([]byte, 3*vertexSize))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	_, err = ReadMesh(bytes.NewReader(buf.Bytes()))
	runtime.ReadMemStats(&after)

	require.ErrorIs(t, err, ErrInvalidMeshFile)
	// the header claims hundreds of megabytes, only the chunk buffers get allocated
	require.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(32<<20))
}

func TestMeshSystem_Loads(t *testing.T) {
	s := newTestStack(t)
	ms, err := NewMeshSystem(MeshSystemConfig{MaxMeshCount: 4}, s.streamer, s.pkg, s.backend)
	require.NoError(t, err)
	s.fm.AddFile("meshes/quad.mesh", quadMeshBytes(t))

	mesh, err := ms.LoadResourceByVirtualFilename("meshes/quad.mesh", false)
	require.NoError(t, err)
	s.streamer.FlushAllQueues()

	require.Equal(t, resources.LoadingStateLoaded, mesh.LoadingState())
	vertexCount, indexCount := mesh.Counts()
	require.Equal(t, uint32(4), vertexCount)
	require.Equal(t, uint32(6), indexCount)

	extents := mesh.Extents()
	require.Equal(t, math.NewVec3(-1, -1, 0), extents.Min)
	require.Equal(t, math.NewVec3(1, 1, 0), extents.Max)

	vertexBuffer, indexBuffer := mesh.Buffers()
	require.NotEqual(t, renderer.InvalidBufferHandle, vertexBuffer)
	require.NotEqual(t, renderer.InvalidBufferHandle, indexBuffer)
	require.Equal(t, uint64(4*vertexSize+6*indexSize), s.backend.Stats().UploadedBytes)

	require.NoError(t, ms.Shutdown())
	require.Equal(t, 0, s.backend.Stats().Buffers)
}

func TestMeshLoader_GeneratesNormals(t *testing.T) {
	s := newTestStack(t)
	s.fm.AddFile("quad.mesh", quadMeshBytes(t))
	asset := s.pkg.AddAsset("quad.mesh")

	l := newMeshLoader(resources.NewResourceLoaderTypeID(MeshExtension), s.backend)
	l.Initialize(asset, false, &Mesh{})
	file, err := s.fm.OpenFile(assets.FileModeRead, asset.VirtualFilename)
	require.NoError(t, err)
	require.NoError(t, l.OnDeserialization(file))
	require.NoError(t, s.fm.CloseFile(file))
	require.False(t, l.data.HasNormals)

	require.NoError(t, l.OnProcessing())
	require.True(t, l.data.HasNormals)
	for _, v := range l.data.Vertices {
		require.True(t, v.Normal.Compare(math.NewVec3(0, 0, 1), 1e-6), "normal %+v", v.Normal)
	}
	require.Equal(t, 4*vertexSize, l.vertexBytes.Len())
	require.Equal(t, 6*indexSize, l.indexBytes.Len())
}

func TestMeshSystem_InvalidIndicesFail(t *testing.T) {
	s := newTestStack(t)
	ms, err := NewMeshSystem(MeshSystemConfig{MaxMeshCount: 4}, s.streamer, s.pkg, s.backend)
	require.NoError(t, err)

	data := quadMeshData()
	data.Indices = []uint32{0, 1, 7}
	var buf bytes.Buffer
	require.NoError(t, WriteMesh(&buf, data))
	s.fm.AddFile("broken.mesh", buf.Bytes())

	mesh, err := ms.LoadResourceByVirtualFilename("broken.mesh", false)
	require.NoError(t, err)
	s.streamer.FlushAllQueues()

	require.Equal(t, resources.LoadingStateFailed, mesh.LoadingState())
	require.Equal(t, 0, s.backend.Stats().Buffers)
}
