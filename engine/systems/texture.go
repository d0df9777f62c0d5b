package systems

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math/bits"
	"sync"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/spaghettifunk/anima-rhi/engine/assets"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/math"
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
	"github.com/spaghettifunk/anima-rhi/engine/resources"
)

// TextureExtensions are the image formats the texture system decodes.
var TextureExtensions = []string{"png", "jpg", "jpeg", "bmp", "tif", "tiff", "webp"}

/**
 * @brief A texture resource. The backend handle is swapped in once the upload of a
 * load or reload completed, so readers never see a partially uploaded texture.
 */
type Texture struct {
	resources.ResourceBase

	backend     renderer.Backend
	mutex       sync.RWMutex
	handle      renderer.TextureHandle
	description renderer.TextureDescription
	/** @brief Incremented every time the texture data changes. */
	generation uint32
}

func (t *Texture) Handle() renderer.TextureHandle {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.handle
}

func (t *Texture) Description() renderer.TextureDescription {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.description
}

func (t *Texture) Generation() uint32 {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.generation
}

// Release destroys the backend texture.
func (t *Texture) Release() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.handle == renderer.InvalidTextureHandle {
		return nil
	}
	err := t.backend.DestroyTexture(t.handle)
	t.handle = renderer.InvalidTextureHandle
	return err
}

// swap installs a new backend texture and returns the previous handle.
func (t *Texture) swap(handle renderer.TextureHandle, description renderer.TextureDescription) renderer.TextureHandle {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	old := t.handle
	t.handle = handle
	t.description = description
	t.generation++
	return old
}

type TextureSystemConfig struct {
	/** @brief The maximum number of textures that can be loaded at once. */
	MaxTextureCount uint32
	/** @brief Upper bound of the generated mip chain, 1 disables mip generation. */
	MaxMipLevels uint32
}

type TextureSystem struct {
	*ResourceManager[*Texture]
	config  TextureSystemConfig
	backend renderer.Backend
}

func NewTextureSystem(config TextureSystemConfig, streamer *ResourceStreamer, pkg *assets.AssetPackage, backend renderer.Backend) (*TextureSystem, error) {
	if config.MaxTextureCount == 0 {
		err := fmt.Errorf("func NewTextureSystem - config.MaxTextureCount must be > 0")
		core.LogError(err.Error())
		return nil, err
	}
	if config.MaxMipLevels == 0 {
		config.MaxMipLevels = 1
	}
	if backend == nil {
		return nil, fmt.Errorf("func NewTextureSystem - backend: %w", core.ErrBackendUnavailable)
	}

	newTexture := func() *Texture {
		return &Texture{backend: backend, handle: renderer.InvalidTextureHandle}
	}
	rm, err := NewResourceManager(ResourceManagerConfig{
		Name:             "textures",
		MaxResourceCount: config.MaxTextureCount,
	}, newTexture, streamer, pkg)
	if err != nil {
		return nil, err
	}

	ts := &TextureSystem{
		ResourceManager: rm,
		config:          config,
		backend:         backend,
	}
	for _, ext := range TextureExtensions {
		typeID := resources.NewResourceLoaderTypeID(ext)
		if err := rm.RegisterResourceLoader(ext, func() resources.ResourceLoader {
			return newTextureLoader(typeID, backend, config.MaxMipLevels)
		}); err != nil {
			return nil, err
		}
	}
	return ts, nil
}

func (ts *TextureSystem) Shutdown() error {
	return ts.DestroyAllResources()
}

// MipLevelCount is the length of the full mip chain of a width x height image, clamped to maxLevels.
func MipLevelCount(width, height, maxLevels uint32) uint32 {
	if maxLevels == 0 {
		maxLevels = 1
	}
	largest := width
	if height > largest {
		largest = height
	}
	return math.Clamp(uint32(bits.Len32(largest)), 1, maxLevels)
}

type textureLoader struct {
	typeID       resources.ResourceLoaderTypeID
	backend      renderer.Backend
	maxMipLevels uint32

	asset   *assets.Asset
	texture *Texture
	decoded image.Image

	description   renderer.TextureDescription
	mips          [][]byte
	commandBuffer *renderer.CommandBuffer
	pending       renderer.TextureHandle
	fence         renderer.Fence
}

func newTextureLoader(typeID resources.ResourceLoaderTypeID, backend renderer.Backend, maxMipLevels uint32) *textureLoader {
	return &textureLoader{
		typeID:        typeID,
		backend:       backend,
		maxMipLevels:  maxMipLevels,
		commandBuffer: renderer.NewCommandBuffer("texture upload"),
		pending:       renderer.InvalidTextureHandle,
	}
}

func (l *textureLoader) TypeID() resources.ResourceLoaderTypeID {
	return l.typeID
}

func (l *textureLoader) Initialize(asset *assets.Asset, reload bool, resource resources.Resource) {
	l.asset = asset
	l.texture, _ = resource.(*Texture)
	l.decoded = nil
	l.description = renderer.TextureDescription{}
	l.mips = l.mips[:0]
	l.pending = renderer.InvalidTextureHandle
	l.fence = renderer.InvalidFence
}

func (l *textureLoader) HasDeserialization() bool {
	return true
}

func (l *textureLoader) OnDeserialization(file assets.File) error {
	if l.texture == nil {
		return fmt.Errorf("texture loader '%s': resource is not a texture", l.asset.VirtualFilename)
	}
	img, format, err := image.Decode(file)
	if err != nil {
		return fmt.Errorf("decode '%s': %w", l.asset.VirtualFilename, err)
	}
	core.LogDebug("decoded %s image '%s' (%dx%d)", format, l.asset.VirtualFilename, img.Bounds().Dx(), img.Bounds().Dy())
	l.decoded = img
	return nil
}

// OnProcessing converts the image to RGBA8 and builds the mip chain.
func (l *textureLoader) OnProcessing() error {
	bounds := l.decoded.Bounds()
	if bounds.Empty() {
		return fmt.Errorf("texture '%s' has no pixels", l.asset.VirtualFilename)
	}
	width, height := uint32(bounds.Dx()), uint32(bounds.Dy())
	l.description = renderer.TextureDescription{
		Name:      l.asset.VirtualFilename,
		Width:     width,
		Height:    height,
		MipLevels: MipLevelCount(width, height, l.maxMipLevels),
		Format:    renderer.TextureFormatRGBA8,
	}

	base := image.NewRGBA(image.Rect(0, 0, int(width), int(height)))
	draw.Draw(base, base.Bounds(), l.decoded, bounds.Min, draw.Src)
	l.decoded = nil
	l.mips = append(l.mips, base.Pix)

	previous := base
	for level := uint32(1); level < l.description.MipLevels; level++ {
		w, h := l.description.MipExtent(level)
		mip := image.NewRGBA(image.Rect(0, 0, int(w), int(h)))
		draw.BiLinear.Scale(mip, mip.Bounds(), previous, previous.Bounds(), draw.Src, nil)
		l.mips = append(l.mips, mip.Pix)
		previous = mip
	}
	return nil
}

func (l *textureLoader) OnDispatch() (bool, error) {
	handle, err := l.backend.CreateTexture(l.description)
	if err != nil {
		return false, err
	}

	cb := l.commandBuffer
	cb.Reset()
	cb.Name = l.description.Name
	err = cb.Begin()
	for level := 0; err == nil && level < len(l.mips); level++ {
		err = cb.Record(renderer.CopyTextureCommand{
			Texture:  handle,
			MipLevel: uint32(level),
			Pixels:   l.mips[level],
		})
	}
	if err == nil {
		err = cb.End()
	}
	var fence renderer.Fence
	if err == nil {
		fence, err = l.backend.Submit(cb)
	}
	cb.Reset()
	l.mips = l.mips[:0]
	if err != nil {
		if destroyErr := l.backend.DestroyTexture(handle); destroyErr != nil {
			core.LogWarn("failed to destroy texture '%s': %s", l.description.Name, destroyErr)
		}
		return false, err
	}

	l.pending = handle
	l.fence = fence
	return false, nil
}

func (l *textureLoader) IsFullyLoaded() bool {
	if !l.backend.IsFenceSignaled(l.fence) {
		return false
	}
	if old := l.texture.swap(l.pending, l.description); old != renderer.InvalidTextureHandle {
		if err := l.backend.DestroyTexture(old); err != nil {
			core.LogWarn("failed to destroy replaced texture '%s': %s", l.description.Name, err)
		}
	}
	l.pending = renderer.InvalidTextureHandle
	return true
}

func (l *textureLoader) Asset() *assets.Asset {
	return l.asset
}
