package systems

import (
	"bytes"
	"encoding/binary"
	"fmt"
	gomath "math"
	"path"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/anima-rhi/engine/assets"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/math"
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
	"github.com/spaghettifunk/anima-rhi/engine/resources"
)

/** @brief The name of the default material. */
const DefaultMaterialName string = "default"

// MaterialExtension is the extension of material assets.
const MaterialExtension = "mat"

// materialUniformSize is diffuse colour (vec4), shininess and padding to 16 byte alignment.
const materialUniformSize = 32

/** @brief The texture maps a material references, as virtual filenames. */
type MaterialMaps struct {
	Diffuse  string `toml:"diffuse,omitempty"`
	Specular string `toml:"specular,omitempty"`
	Normal   string `toml:"normal,omitempty"`
}

func (m MaterialMaps) names() []string {
	var names []string
	for _, name := range []string{m.Diffuse, m.Specular, m.Normal} {
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}

/**
 * @brief Material configuration as stored in a .mat asset, e.g.
 *
 *	name = "crate"
 *	diffuse_colour = [1.0, 1.0, 1.0, 1.0]
 *	shininess = 32.0
 *	[maps]
 *	diffuse = "textures/crate.png"
 */
type MaterialConfig struct {
	/** @brief The name of the material. Defaults to the asset base name. */
	Name string `toml:"name"`
	/** @brief The diffuse colour of the material. */
	DiffuseColour [4]float32 `toml:"diffuse_colour"`
	/** @brief The shininess of the material. */
	Shininess float32      `toml:"shininess"`
	Maps      MaterialMaps `toml:"maps"`
}

func DecodeMaterialConfig(data []byte) (MaterialConfig, error) {
	var config MaterialConfig
	decoder := toml.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&config); err != nil {
		return config, err
	}
	return config, nil
}

func EncodeMaterialConfig(config MaterialConfig) ([]byte, error) {
	return toml.Marshal(config)
}

/**
 * @brief A material, which represents various properties
 * of a surface in the world such as texture, colour and shininess.
 * The referenced textures are owned by the texture system.
 */
type Material struct {
	resources.ResourceBase

	backend renderer.Backend
	mutex   sync.RWMutex

	name          string
	diffuseColour math.Vec4
	shininess     float32
	textures      MaterialTextures
	uniformBuffer renderer.BufferHandle
	/** @brief Incremented every time the material is changed. */
	generation uint32
}

/** @brief The textures bound to a material, InvalidResourceID when a map is unused. */
type MaterialTextures struct {
	Diffuse  resources.ResourceID
	Specular resources.ResourceID
	Normal   resources.ResourceID
}

func (m *Material) Name() string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.name
}

func (m *Material) DiffuseColour() math.Vec4 {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.diffuseColour
}

func (m *Material) Shininess() float32 {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.shininess
}

func (m *Material) Textures() MaterialTextures {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.textures
}

func (m *Material) UniformBuffer() renderer.BufferHandle {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.uniformBuffer
}

func (m *Material) Generation() uint32 {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.generation
}

// Release destroys the uniform buffer. Textures stay with the texture system.
func (m *Material) Release() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.uniformBuffer == renderer.InvalidBufferHandle {
		return nil
	}
	err := m.backend.DestroyBuffer(m.uniformBuffer)
	m.uniformBuffer = renderer.InvalidBufferHandle
	return err
}

type MaterialSystemConfig struct {
	/** @brief The maximum number of materials that can be loaded at once. */
	MaxMaterialCount uint32
}

type MaterialSystem struct {
	*ResourceManager[*Material]
	config   MaterialSystemConfig
	textures *TextureSystem
}

func NewMaterialSystem(config MaterialSystemConfig, streamer *ResourceStreamer, pkg *assets.AssetPackage, backend renderer.Backend, ts *TextureSystem) (*MaterialSystem, error) {
	if config.MaxMaterialCount == 0 {
		err := fmt.Errorf("func NewMaterialSystem - config.MaxMaterialCount must be > 0")
		core.LogError(err.Error())
		return nil, err
	}
	if backend == nil || ts == nil {
		return nil, fmt.Errorf("func NewMaterialSystem - backend and texture system are required")
	}

	rm, err := NewResourceManager(ResourceManagerConfig{
		Name:             "materials",
		MaxResourceCount: config.MaxMaterialCount,
	}, func() *Material {
		return &Material{backend: backend, uniformBuffer: renderer.InvalidBufferHandle}
	}, streamer, pkg)
	if err != nil {
		return nil, err
	}

	typeID := resources.NewResourceLoaderTypeID(MaterialExtension)
	if err := rm.RegisterResourceLoader(MaterialExtension, func() resources.ResourceLoader {
		return newMaterialLoader(typeID, backend, ts)
	}); err != nil {
		return nil, err
	}
	return &MaterialSystem{
		ResourceManager: rm,
		config:          config,
		textures:        ts,
	}, nil
}

func (ms *MaterialSystem) Shutdown() error {
	return ms.DestroyAllResources()
}

type materialLoader struct {
	typeID   resources.ResourceLoaderTypeID
	backend  renderer.Backend
	textures *TextureSystem

	asset    *assets.Asset
	material *Material
	config   MaterialConfig
	uniform  []byte

	requested     MaterialTextures
	pending       []*Texture
	commandBuffer *renderer.CommandBuffer
	buffer        renderer.BufferHandle
	fence         renderer.Fence
}

func newMaterialLoader(typeID resources.ResourceLoaderTypeID, backend renderer.Backend, ts *TextureSystem) *materialLoader {
	return &materialLoader{
		typeID:        typeID,
		backend:       backend,
		textures:      ts,
		uniform:       make([]byte, materialUniformSize),
		commandBuffer: renderer.NewCommandBuffer("material upload"),
		buffer:        renderer.InvalidBufferHandle,
	}
}

func (l *materialLoader) TypeID() resources.ResourceLoaderTypeID {
	return l.typeID
}

func (l *materialLoader) Initialize(asset *assets.Asset, reload bool, resource resources.Resource) {
	l.asset = asset
	l.material, _ = resource.(*Material)
	l.config = MaterialConfig{}
	l.requested = MaterialTextures{
		Diffuse:  resources.InvalidResourceID,
		Specular: resources.InvalidResourceID,
		Normal:   resources.InvalidResourceID,
	}
	l.pending = l.pending[:0]
	l.buffer = renderer.InvalidBufferHandle
	l.fence = renderer.InvalidFence
}

func (l *materialLoader) HasDeserialization() bool {
	return true
}

func (l *materialLoader) OnDeserialization(file assets.File) error {
	if l.material == nil {
		return fmt.Errorf("material loader '%s': resource is not a material", l.asset.VirtualFilename)
	}
	decoder := toml.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&l.config); err != nil {
		return fmt.Errorf("decode material '%s': %w", l.asset.VirtualFilename, err)
	}
	return nil
}

func (l *materialLoader) OnProcessing() error {
	if l.config.Name == "" {
		base := path.Base(l.asset.VirtualFilename)
		l.config.Name = strings.TrimSuffix(base, path.Ext(base))
	}
	if l.config.Shininess < 0 {
		return fmt.Errorf("material '%s': negative shininess %f", l.config.Name, l.config.Shininess)
	}
	for i, c := range l.config.DiffuseColour {
		binary.LittleEndian.PutUint32(l.uniform[i*4:], gomath.Float32bits(math.Clamp(c, 0, 1)))
	}
	binary.LittleEndian.PutUint32(l.uniform[16:], gomath.Float32bits(l.config.Shininess))
	return nil
}

// OnDispatch requests the referenced textures and uploads the uniform buffer.
func (l *materialLoader) OnDispatch() (bool, error) {
	maps := []struct {
		name string
		id   *resources.ResourceID
	}{
		{l.config.Maps.Diffuse, &l.requested.Diffuse},
		{l.config.Maps.Specular, &l.requested.Specular},
		{l.config.Maps.Normal, &l.requested.Normal},
	}
	for _, m := range maps {
		if m.name == "" {
			continue
		}
		texture, err := l.textures.LoadResourceByVirtualFilename(m.name, false)
		if err != nil {
			return false, fmt.Errorf("material '%s' texture '%s': %w", l.config.Name, m.name, err)
		}
		*m.id = texture.ResourceID()
		l.pending = append(l.pending, texture)
	}

	buffer, err := l.backend.CreateBuffer(renderer.BufferDescription{
		Name: l.config.Name,
		Type: renderer.BufferTypeUniform,
		Size: materialUniformSize,
	})
	if err != nil {
		return false, err
	}
	cb := l.commandBuffer
	cb.Reset()
	cb.Name = l.config.Name
	err = cb.Begin()
	if err == nil {
		err = cb.Record(renderer.CopyBufferCommand{Buffer: buffer, Data: l.uniform})
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
		if destroyErr := l.backend.DestroyBuffer(buffer); destroyErr != nil {
			core.LogWarn("failed to destroy buffer of material '%s': %s", l.config.Name, destroyErr)
		}
		return false, err
	}
	l.buffer = buffer
	l.fence = fence
	return false, nil
}

// IsFullyLoaded waits for the uniform upload and until no referenced texture is loading anymore.
// A texture that failed leaves the material usable, the renderer falls back to a default.
func (l *materialLoader) IsFullyLoaded() bool {
	for _, texture := range l.pending {
		if texture.LoadingState() == resources.LoadingStateLoading {
			return false
		}
	}
	if !l.backend.IsFenceSignaled(l.fence) {
		return false
	}

	for _, texture := range l.pending {
		if texture.LoadingState() == resources.LoadingStateFailed {
			core.LogWarn("material '%s': texture '%s' failed to load", l.config.Name, l.textureName(texture))
		}
	}

	m := l.material
	m.mutex.Lock()
	old := m.uniformBuffer
	m.name = l.config.Name
	m.diffuseColour = math.NewVec4(l.config.DiffuseColour[0], l.config.DiffuseColour[1], l.config.DiffuseColour[2], l.config.DiffuseColour[3])
	m.shininess = l.config.Shininess
	m.textures = l.requested
	m.uniformBuffer = l.buffer
	m.generation++
	m.mutex.Unlock()

	if old != renderer.InvalidBufferHandle {
		if err := l.backend.DestroyBuffer(old); err != nil {
			core.LogWarn("failed to destroy replaced buffer of material '%s': %s", l.config.Name, err)
		}
	}
	l.pending = l.pending[:0]
	l.buffer = renderer.InvalidBufferHandle
	return true
}

func (l *materialLoader) textureName(texture *Texture) string {
	for _, name := range l.config.Maps.names() {
		if assets.NewAssetID(name) == texture.AssetID() {
			return name
		}
	}
	return fmt.Sprintf("%#x", uint32(texture.ResourceID()))
}

func (l *materialLoader) Asset() *assets.Asset {
	return l.asset
}
