package systems

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/pierrec/lz4/v4"

	"github.com/spaghettifunk/anima-rhi/engine/assets"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/math"
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
	"github.com/spaghettifunk/anima-rhi/engine/resources"
)

// MeshExtension is the extension of mesh assets.
const MeshExtension = "mesh"

const (
	meshVersion uint16 = 1
	// MeshFlagHasNormals is set when the vertex normals in the file are valid.
	MeshFlagHasNormals uint16 = 1 << 0

	maxMeshVertices = 1 << 24
	maxMeshIndices  = 1 << 26

	vertexSize = 32
	indexSize  = 4

	meshReadChunk uint32 = 4096
)

var meshMagic = [4]byte{'A', 'M', 'S', 'H'}

var ErrInvalidMeshFile = errors.New("invalid mesh file")

// meshHeader is the uncompressed head of a .mesh file, everything after it is one lz4 frame
// holding the vertices followed by the indices.
type meshHeader struct {
	Magic       [4]byte
	Version     uint16
	Flags       uint16
	VertexCount uint32
	IndexCount  uint32
}

/** @brief The CPU side data of a mesh. */
type MeshData struct {
	Vertices   []math.Vertex3D
	Indices    []uint32
	HasNormals bool
}

// WriteMesh encodes data in the .mesh format.
func WriteMesh(w io.Writer, data MeshData) error {
	if len(data.Vertices) > maxMeshVertices || len(data.Indices) > maxMeshIndices {
		return fmt.Errorf("mesh with %d vertices and %d indices: %w", len(data.Vertices), len(data.Indices), core.ErrCapacityExceeded)
	}
	header := meshHeader{
		Magic:       meshMagic,
		Version:     meshVersion,
		VertexCount: uint32(len(data.Vertices)),
		IndexCount:  uint32(len(data.Indices)),
	}
	if data.HasNormals {
		header.Flags |= MeshFlagHasNormals
	}
	if err := binary.Write(w, binary.LittleEndian, &header); err != nil {
		return err
	}

	zw := lz4.NewWriter(w)
	if err := binary.Write(zw, binary.LittleEndian, data.Vertices); err != nil {
		return err
	}
	if err := binary.Write(zw, binary.LittleEndian, data.Indices); err != nil {
		return err
	}
	return zw.Close()
}

// ReadMesh decodes a .mesh stream written by WriteMesh.
func ReadMesh(r io.Reader) (MeshData, error) {
	var header meshHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return MeshData{}, fmt.Errorf("%w: header: %w", ErrInvalidMeshFile, err)
	}
	if header.Magic != meshMagic {
		return MeshData{}, fmt.Errorf("%w: bad magic %q", ErrInvalidMeshFile, header.Magic[:])
	}
	if header.Version != meshVersion {
		return MeshData{}, fmt.Errorf("%w: unsupported version %d", ErrInvalidMeshFile, header.Version)
	}
	if header.VertexCount > maxMeshVertices || header.IndexCount > maxMeshIndices {
		return MeshData{}, fmt.Errorf("%w: %d vertices and %d indices: %w", ErrInvalidMeshFile, header.VertexCount, header.IndexCount, core.ErrCapacityExceeded)
	}

	zr := lz4.NewReader(r)
	vertices, err := readMeshChunks[math.Vertex3D](zr, header.VertexCount)
	if err != nil {
		return MeshData{}, fmt.Errorf("%w: vertices: %w", ErrInvalidMeshFile, err)
	}
	indices, err := readMeshChunks[uint32](zr, header.IndexCount)
	if err != nil {
		return MeshData{}, fmt.Errorf("%w: indices: %w", ErrInvalidMeshFile, err)
	}
	return MeshData{
		Vertices:   vertices,
		Indices:    indices,
		HasNormals: header.Flags&MeshFlagHasNormals != 0,
	}, nil
}

// readMeshChunks decodes count values a chunk at a time, memory grows with the payload
// actually present instead of the count claimed by the header.
func readMeshChunks[T math.Vertex3D | uint32](r io.Reader, count uint32) ([]T, error) {
	chunk := make([]T, min(count, meshReadChunk))
	out := make([]T, 0, len(chunk))
	for remaining := count; remaining > 0; {
		n := min(remaining, meshReadChunk)
		if err := binary.Read(r, binary.LittleEndian, chunk[:n]); err != nil {
			return nil, err
		}
		out = append(out, chunk[:n]...)
		remaining -= n
	}
	return out, nil
}

/**
 * @brief A mesh resource: one vertex buffer, one index buffer and the bounds
 * of the geometry.
 */
type Mesh struct {
	resources.ResourceBase

	backend renderer.Backend
	mutex   sync.RWMutex

	vertexBuffer renderer.BufferHandle
	indexBuffer  renderer.BufferHandle
	vertexCount  uint32
	indexCount   uint32
	extents      math.Extents3D
	generation   uint32
}

func (m *Mesh) Buffers() (renderer.BufferHandle, renderer.BufferHandle) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.vertexBuffer, m.indexBuffer
}

func (m *Mesh) Counts() (vertexCount uint32, indexCount uint32) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.vertexCount, m.indexCount
}

func (m *Mesh) Extents() math.Extents3D {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.extents
}

func (m *Mesh) Generation() uint32 {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.generation
}

func (m *Mesh) Release() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	err := destroyBuffers(m.backend, m.vertexBuffer, m.indexBuffer)
	m.vertexBuffer = renderer.InvalidBufferHandle
	m.indexBuffer = renderer.InvalidBufferHandle
	return err
}

func destroyBuffers(backend renderer.Backend, buffers ...renderer.BufferHandle) error {
	var errs []error
	for _, b := range buffers {
		if b == renderer.InvalidBufferHandle {
			continue
		}
		if err := backend.DestroyBuffer(b); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type MeshSystemConfig struct {
	/** @brief The maximum number of meshes that can be loaded at once. */
	MaxMeshCount uint32
}

type MeshSystem struct {
	*ResourceManager[*Mesh]
	config MeshSystemConfig
}

func NewMeshSystem(config MeshSystemConfig, streamer *ResourceStreamer, pkg *assets.AssetPackage, backend renderer.Backend) (*MeshSystem, error) {
	if config.MaxMeshCount == 0 {
		err := fmt.Errorf("func NewMeshSystem - config.MaxMeshCount must be > 0")
		core.LogError(err.Error())
		return nil, err
	}
	if backend == nil {
		return nil, fmt.Errorf("func NewMeshSystem - backend: %w", core.ErrBackendUnavailable)
	}
	rm, err := NewResourceManager(ResourceManagerConfig{
		Name:             "meshes",
		MaxResourceCount: config.MaxMeshCount,
	}, func() *Mesh {
		return &Mesh{
			backend:      backend,
			vertexBuffer: renderer.InvalidBufferHandle,
			indexBuffer:  renderer.InvalidBufferHandle,
		}
	}, streamer, pkg)
	if err != nil {
		return nil, err
	}

	typeID := resources.NewResourceLoaderTypeID(MeshExtension)
	if err := rm.RegisterResourceLoader(MeshExtension, func() resources.ResourceLoader {
		return newMeshLoader(typeID, backend)
	}); err != nil {
		return nil, err
	}
	return &MeshSystem{ResourceManager: rm, config: config}, nil
}

func (ms *MeshSystem) Shutdown() error {
	return ms.DestroyAllResources()
}

type meshLoader struct {
	typeID  resources.ResourceLoaderTypeID
	backend renderer.Backend

	asset   *assets.Asset
	mesh    *Mesh
	data    MeshData
	extents math.Extents3D

	vertexBytes   bytes.Buffer
	indexBytes    bytes.Buffer
	commandBuffer *renderer.CommandBuffer
	vertexBuffer  renderer.BufferHandle
	indexBuffer   renderer.BufferHandle
	fence         renderer.Fence
}

func newMeshLoader(typeID resources.ResourceLoaderTypeID, backend renderer.Backend) *meshLoader {
	return &meshLoader{
		typeID:        typeID,
		backend:       backend,
		commandBuffer: renderer.NewCommandBuffer("mesh upload"),
		vertexBuffer:  renderer.InvalidBufferHandle,
		indexBuffer:   renderer.InvalidBufferHandle,
	}
}

func (l *meshLoader) TypeID() resources.ResourceLoaderTypeID {
	return l.typeID
}

func (l *meshLoader) Initialize(asset *assets.Asset, reload bool, resource resources.Resource) {
	l.asset = asset
	l.mesh, _ = resource.(*Mesh)
	l.data = MeshData{}
	l.extents = math.Extents3D{}
	l.vertexBytes.Reset()
	l.indexBytes.Reset()
	l.vertexBuffer = renderer.InvalidBufferHandle
	l.indexBuffer = renderer.InvalidBufferHandle
	l.fence = renderer.InvalidFence
}

func (l *meshLoader) HasDeserialization() bool {
	return true
}

func (l *meshLoader) OnDeserialization(file assets.File) error {
	if l.mesh == nil {
		return fmt.Errorf("mesh loader '%s': resource is not a mesh", l.asset.VirtualFilename)
	}
	data, err := ReadMesh(file)
	if err != nil {
		return fmt.Errorf("read mesh '%s': %w", l.asset.VirtualFilename, err)
	}
	l.data = data
	return nil
}

func (l *meshLoader) OnProcessing() error {
	if len(l.data.Vertices) == 0 || len(l.data.Indices) == 0 {
		return fmt.Errorf("mesh '%s' has no geometry: %w", l.asset.VirtualFilename, ErrInvalidMeshFile)
	}
	if err := math.GeometryValidateIndices(uint32(len(l.data.Vertices)), l.data.Indices); err != nil {
		return fmt.Errorf("mesh '%s': %w", l.asset.VirtualFilename, err)
	}
	if !l.data.HasNormals {
		math.GeometryGenerateNormals(l.data.Vertices, l.data.Indices)
		l.data.HasNormals = true
	}
	l.extents = math.GeometryCalculateExtents(l.data.Vertices)

	l.vertexBytes.Grow(len(l.data.Vertices) * vertexSize)
	if err := binary.Write(&l.vertexBytes, binary.LittleEndian, l.data.Vertices); err != nil {
		return err
	}
	l.indexBytes.Grow(len(l.data.Indices) * indexSize)
	return binary.Write(&l.indexBytes, binary.LittleEndian, l.data.Indices)
}

func (l *meshLoader) OnDispatch() (bool, error) {
	name := l.asset.VirtualFilename
	vertexBuffer, err := l.backend.CreateBuffer(renderer.BufferDescription{
		Name: name,
		Type: renderer.BufferTypeVertex,
		Size: uint64(l.vertexBytes.Len()),
	})
	if err != nil {
		return false, err
	}
	indexBuffer, err := l.backend.CreateBuffer(renderer.BufferDescription{
		Name: name,
		Type: renderer.BufferTypeIndex,
		Size: uint64(l.indexBytes.Len()),
	})
	if err != nil {
		return false, errors.Join(err, destroyBuffers(l.backend, vertexBuffer))
	}

	cb := l.commandBuffer
	cb.Reset()
	cb.Name = name
	err = cb.Begin()
	if err == nil {
		err = cb.Record(renderer.CopyBufferCommand{Buffer: vertexBuffer, Data: l.vertexBytes.Bytes()})
	}
	if err == nil {
		err = cb.Record(renderer.CopyBufferCommand{Buffer: indexBuffer, Data: l.indexBytes.Bytes()})
	}
	if err == nil {
		err = cb.End()
	}
	var fence renderer.Fence
	if err == nil {
		fence, err = l.backend.Submit(cb)
	}
	cb.Reset()
	if err != nil {
		return false, errors.Join(err, destroyBuffers(l.backend, vertexBuffer, indexBuffer))
	}

	l.vertexBuffer = vertexBuffer
	l.indexBuffer = indexBuffer
	l.fence = fence
	return false, nil
}

func (l *meshLoader) IsFullyLoaded() bool {
	if !l.backend.IsFenceSignaled(l.fence) {
		return false
	}

	m := l.mesh
	m.mutex.Lock()
	oldVertex, oldIndex := m.vertexBuffer, m.indexBuffer
	m.vertexBuffer = l.vertexBuffer
	m.indexBuffer = l.indexBuffer
	m.vertexCount = uint32(len(l.data.Vertices))
	m.indexCount = uint32(len(l.data.Indices))
	m.extents = l.extents
	m.generation++
	m.mutex.Unlock()

	if err := destroyBuffers(l.backend, oldVertex, oldIndex); err != nil {
		core.LogWarn("failed to destroy replaced buffers of mesh '%s': %s", l.asset.VirtualFilename, err)
	}
	l.vertexBuffer = renderer.InvalidBufferHandle
	l.indexBuffer = renderer.InvalidBufferHandle
	l.data = MeshData{}
	l.vertexBytes.Reset()
	l.indexBytes.Reset()
	return true
}

func (l *meshLoader) Asset() *assets.Asset {
	return l.asset
}
