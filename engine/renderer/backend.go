package renderer

import (
	"fmt"
	"strings"
	"time"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

type BackendType uint8

/** @brief The renderer backends the RHI can sit on. */
const (
	BackendTypeNull BackendType = iota
	BackendTypeVulkan
	BackendTypeDirect3D9
	BackendTypeDirect3D10
	BackendTypeDirect3D11
	BackendTypeDirect3D12
	BackendTypeOpenGL
	BackendTypeOpenGLES
)

var backendTypeNames = map[BackendType]string{
	BackendTypeNull:       "null",
	BackendTypeVulkan:     "vulkan",
	BackendTypeDirect3D9:  "direct3d9",
	BackendTypeDirect3D10: "direct3d10",
	BackendTypeDirect3D11: "direct3d11",
	BackendTypeDirect3D12: "direct3d12",
	BackendTypeOpenGL:     "opengl",
	BackendTypeOpenGLES:   "opengles",
}

func (t BackendType) String() string {
	if name, ok := backendTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("BackendType(%d)", uint8(t))
}

func ParseBackendType(name string) (BackendType, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for t, n := range backendTypeNames {
		if n == name {
			return t, nil
		}
	}
	return BackendTypeNull, fmt.Errorf("unknown renderer backend '%s'", name)
}

type TextureHandle uint32
type BufferHandle uint32

// Fence is signaled by the backend once a submitted command buffer executed.
// Fences are handed out in submission order.
type Fence uint64

const (
	InvalidTextureHandle TextureHandle = 0xFFFFFFFF
	InvalidBufferHandle  BufferHandle  = 0xFFFFFFFF
	InvalidFence         Fence         = 0
)

type TextureFormat uint8

const (
	TextureFormatRGBA8 TextureFormat = iota
)

// BytesPerPixel of the format.
func (f TextureFormat) BytesPerPixel() uint32 {
	switch f {
	case TextureFormatRGBA8:
		return 4
	default:
		return 0
	}
}

type TextureDescription struct {
	Name      string
	Width     uint32
	Height    uint32
	MipLevels uint32
	Format    TextureFormat
}

// MipExtent returns the dimensions of a mip level, never smaller than 1x1.
func (d TextureDescription) MipExtent(level uint32) (uint32, uint32) {
	w, h := d.Width>>level, d.Height>>level
	if w == 0 {
		w = 1
	}
	if h == 0 {
		h = 1
	}
	return w, h
}

// Size is the number of bytes of the whole mip chain.
func (d TextureDescription) Size() uint64 {
	var size uint64
	for level := uint32(0); level < d.MipLevels; level++ {
		w, h := d.MipExtent(level)
		size += uint64(w) * uint64(h) * uint64(d.Format.BytesPerPixel())
	}
	return size
}

type BufferType uint8

const (
	BufferTypeVertex BufferType = iota
	BufferTypeIndex
	BufferTypeUniform
)

func (t BufferType) String() string {
	switch t {
	case BufferTypeVertex:
		return "vertex"
	case BufferTypeIndex:
		return "index"
	case BufferTypeUniform:
		return "uniform"
	default:
		return fmt.Sprintf("BufferType(%d)", uint8(t))
	}
}

type BufferDescription struct {
	Name string
	Type BufferType
	Size uint64
}

type BackendConfig struct {
	Type            BackendType
	ApplicationName string
	// MaxHandles bounds the number of live textures and the number of live buffers.
	MaxHandles uint32
	// UploadLatency is how long the null backend takes to signal a fence.
	UploadLatency time.Duration
}

// CommandTarget is what recorded commands are replayed against.
type CommandTarget interface {
	UpdateTexture(texture TextureHandle, mipLevel uint32, pixels []byte) error
	UpdateBuffer(buffer BufferHandle, offset uint64, data []byte) error
}

/**
 * @brief Backend is the capability set every RHI implementation provides.
 * Everything except IsFenceSignaled and Type must be called from the goroutine
 * owning the backend, which is the one running the frame loop and the
 * streamer dispatch.
 */
type Backend interface {
	Type() BackendType
	Initialize(config BackendConfig) error
	Shutdown() error
	BeginFrame(delta time.Duration) error
	EndFrame(delta time.Duration) error

	CreateTexture(desc TextureDescription) (TextureHandle, error)
	DestroyTexture(texture TextureHandle) error
	CreateBuffer(desc BufferDescription) (BufferHandle, error)
	DestroyBuffer(buffer BufferHandle) error

	// Submit replays the command buffer and returns the fence signaled on completion.
	Submit(commandBuffer *CommandBuffer) (Fence, error)
	IsFenceSignaled(fence Fence) bool
}

// NewBackend creates and initializes the backend selected in config.
// Only the null backend is built in.
func NewBackend(config BackendConfig) (Backend, error) {
	var backend Backend
	switch config.Type {
	case BackendTypeNull:
		backend = NewNullBackend()
	default:
		err := fmt.Errorf("renderer backend '%s': %w", config.Type, core.ErrBackendUnavailable)
		core.LogError(err.Error())
		return nil, err
	}
	if err := backend.Initialize(config); err != nil {
		return nil, err
	}
	core.LogInfo("renderer backend '%s' initialized", backend.Type())
	return backend, nil
}
