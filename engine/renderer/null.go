package renderer

import (
	"fmt"
	"sync"
	"time"

	"github.com/spaghettifunk/anima-rhi/engine/containers"
	"github.com/spaghettifunk/anima-rhi/engine/core"
)

const defaultMaxHandles uint32 = 4096

type nullTexture struct {
	desc     TextureDescription
	uploaded []bool
}

type nullBuffer struct {
	desc BufferDescription
}

type pendingFence struct {
	fence    Fence
	signalAt time.Time
}

type NullBackendStats struct {
	Textures       int
	Buffers        int
	AllocatedBytes uint64
	UploadedBytes  uint64
	Submissions    uint64
	Frames         uint64
}

/**
 * @brief NullBackend implements the full backend contract without a GPU.
 * Handles come from MakeID allocators, uploads are validated and counted, and
 * fences signal once the configured upload latency passed.
 */
type NullBackend struct {
	mutex       sync.Mutex
	config      BackendConfig
	initialized bool

	textureIDs *core.MakeID
	bufferIDs  *core.MakeID
	textures   map[TextureHandle]*nullTexture
	buffers    map[BufferHandle]*nullBuffer

	pending      *containers.Queue[pendingFence]
	nextFence    Fence
	lastSignaled Fence

	stats NullBackendStats
	// now is replaced in tests
	now func() time.Time
}

func NewNullBackend() *NullBackend {
	return &NullBackend{
		now: time.Now,
	}
}

func (b *NullBackend) Type() BackendType {
	return BackendTypeNull
}

func (b *NullBackend) Initialize(config BackendConfig) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.initialized {
		return fmt.Errorf("null backend already initialized")
	}
	if config.MaxHandles == 0 {
		config.MaxHandles = defaultMaxHandles
	}
	b.config = config
	b.textureIDs = core.NewMakeID(config.MaxHandles - 1)
	b.bufferIDs = core.NewMakeID(config.MaxHandles - 1)
	b.textures = make(map[TextureHandle]*nullTexture)
	b.buffers = make(map[BufferHandle]*nullBuffer)
	b.pending = containers.NewQueue[pendingFence](64)
	b.nextFence = InvalidFence + 1
	b.lastSignaled = InvalidFence
	b.stats = NullBackendStats{}
	b.initialized = true

	core.LogDebug("null backend: %d handles per object kind, upload latency %s", config.MaxHandles, config.UploadLatency)
	return nil
}

func (b *NullBackend) Shutdown() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if !b.initialized {
		return nil
	}
	if len(b.textures) > 0 || len(b.buffers) > 0 {
		core.LogWarn("null backend shutdown with %d textures and %d buffers still alive", len(b.textures), len(b.buffers))
	}
	b.initialized = false
	return nil
}

func (b *NullBackend) BeginFrame(delta time.Duration) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if !b.initialized {
		return core.ErrBackendUnavailable
	}
	b.retireFences()
	return nil
}

func (b *NullBackend) EndFrame(delta time.Duration) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if !b.initialized {
		return core.ErrBackendUnavailable
	}
	b.stats.Frames++
	return nil
}

func (b *NullBackend) CreateTexture(desc TextureDescription) (TextureHandle, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if !b.initialized {
		return InvalidTextureHandle, core.ErrBackendUnavailable
	}
	if desc.Width == 0 || desc.Height == 0 || desc.MipLevels == 0 || desc.Format.BytesPerPixel() == 0 {
		return InvalidTextureHandle, fmt.Errorf("create texture '%s': invalid description %+v", desc.Name, desc)
	}
	id, err := b.textureIDs.CreateID()
	if err != nil {
		return InvalidTextureHandle, fmt.Errorf("create texture '%s': %w", desc.Name, err)
	}
	handle := TextureHandle(id)
	b.textures[handle] = &nullTexture{desc: desc, uploaded: make([]bool, desc.MipLevels)}
	b.stats.AllocatedBytes += desc.Size()
	return handle, nil
}

func (b *NullBackend) DestroyTexture(texture TextureHandle) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	t, ok := b.textures[texture]
	if !ok {
		return fmt.Errorf("destroy texture %d: %w", texture, core.ErrInvalidID)
	}
	if err := b.textureIDs.DestroyID(uint32(texture)); err != nil {
		return err
	}
	delete(b.textures, texture)
	b.stats.AllocatedBytes -= t.desc.Size()
	return nil
}

func (b *NullBackend) CreateBuffer(desc BufferDescription) (BufferHandle, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if !b.initialized {
		return InvalidBufferHandle, core.ErrBackendUnavailable
	}
	if desc.Size == 0 {
		return InvalidBufferHandle, fmt.Errorf("create %s buffer '%s': size is 0", desc.Type, desc.Name)
	}
	id, err := b.bufferIDs.CreateID()
	if err != nil {
		return InvalidBufferHandle, fmt.Errorf("create %s buffer '%s': %w", desc.Type, desc.Name, err)
	}
	handle := BufferHandle(id)
	b.buffers[handle] = &nullBuffer{desc: desc}
	b.stats.AllocatedBytes += desc.Size
	return handle, nil
}

func (b *NullBackend) DestroyBuffer(buffer BufferHandle) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	buf, ok := b.buffers[buffer]
	if !ok {
		return fmt.Errorf("destroy buffer %d: %w", buffer, core.ErrInvalidID)
	}
	if err := b.bufferIDs.DestroyID(uint32(buffer)); err != nil {
		return err
	}
	delete(b.buffers, buffer)
	b.stats.AllocatedBytes -= buf.desc.Size
	return nil
}

// nullCommandTarget replays commands while Submit holds the backend lock.
type nullCommandTarget struct {
	b *NullBackend
}

func (t nullCommandTarget) UpdateTexture(texture TextureHandle, mipLevel uint32, pixels []byte) error {
	return t.b.updateTexture(texture, mipLevel, pixels)
}

func (t nullCommandTarget) UpdateBuffer(buffer BufferHandle, offset uint64, data []byte) error {
	return t.b.updateBuffer(buffer, offset, data)
}

func (b *NullBackend) updateTexture(texture TextureHandle, mipLevel uint32, pixels []byte) error {
	t, ok := b.textures[texture]
	if !ok {
		return fmt.Errorf("update texture %d: %w", texture, core.ErrInvalidID)
	}
	if mipLevel >= t.desc.MipLevels {
		return fmt.Errorf("update texture '%s': mip level %d out of range [0, %d)", t.desc.Name, mipLevel, t.desc.MipLevels)
	}
	w, h := t.desc.MipExtent(mipLevel)
	expected := uint64(w) * uint64(h) * uint64(t.desc.Format.BytesPerPixel())
	if uint64(len(pixels)) != expected {
		return fmt.Errorf("update texture '%s' mip %d: got %d bytes, expected %d", t.desc.Name, mipLevel, len(pixels), expected)
	}
	t.uploaded[mipLevel] = true
	b.stats.UploadedBytes += expected
	return nil
}

func (b *NullBackend) updateBuffer(buffer BufferHandle, offset uint64, data []byte) error {
	buf, ok := b.buffers[buffer]
	if !ok {
		return fmt.Errorf("update buffer %d: %w", buffer, core.ErrInvalidID)
	}
	if offset+uint64(len(data)) > buf.desc.Size {
		return fmt.Errorf("update %s buffer '%s': range [%d, %d) exceeds size %d", buf.desc.Type, buf.desc.Name, offset, offset+uint64(len(data)), buf.desc.Size)
	}
	b.stats.UploadedBytes += uint64(len(data))
	return nil
}

func (b *NullBackend) Submit(commandBuffer *CommandBuffer) (Fence, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if !b.initialized {
		return InvalidFence, core.ErrBackendUnavailable
	}
	if err := commandBuffer.Replay(nullCommandTarget{b}); err != nil {
		return InvalidFence, err
	}
	fence := b.nextFence
	b.nextFence++
	b.stats.Submissions++
	b.pending.Enqueue(pendingFence{fence: fence, signalAt: b.now().Add(b.config.UploadLatency)})
	b.retireFences()
	return fence, nil
}

func (b *NullBackend) IsFenceSignaled(fence Fence) bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if fence == InvalidFence || fence >= b.nextFence {
		return false
	}
	b.retireFences()
	return fence <= b.lastSignaled
}

// IsTextureUploaded reports whether every mip level of texture received data.
func (b *NullBackend) IsTextureUploaded(texture TextureHandle) bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	t, ok := b.textures[texture]
	if !ok {
		return false
	}
	for _, uploaded := range t.uploaded {
		if !uploaded {
			return false
		}
	}
	return true
}

func (b *NullBackend) Stats() NullBackendStats {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	stats := b.stats
	stats.Textures = len(b.textures)
	stats.Buffers = len(b.buffers)
	return stats
}

// fences signal in submission order
func (b *NullBackend) retireFences() {
	now := b.now()
	for !b.pending.IsEmpty() {
		next, _ := b.pending.Peek()
		if next.signalAt.After(now) {
			return
		}
		_, _ = b.pending.Dequeue()
		b.lastSignaled = next.fence
	}
}
