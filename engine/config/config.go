package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
)

// Duration is a time.Duration written as a string ("1ms", "2s") in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type ApplicationConfig struct {
	// The application name used in logs and by the backend.
	Name string `toml:"name"`
	// Frames per second the loop aims for, 0 runs unthrottled.
	TargetFrameRate uint32 `toml:"target_frame_rate"`
	// Stop after this many frames, 0 runs until quit.
	MaxFrames uint64 `toml:"max_frames"`
}

type LogConfig struct {
	Level        string `toml:"level"`
	ReportCaller bool   `toml:"report_caller"`
}

type AssetsConfig struct {
	// Directory is the asset root, relative to the working directory.
	Directory string `toml:"directory"`
	// Watch enables hot reload of changed assets.
	Watch bool `toml:"watch"`
}

type StreamerConfig struct {
	MaxLoaderInstancesPerType uint32   `toml:"max_loader_instances_per_type"`
	FlushPollInterval         Duration `toml:"flush_poll_interval"`
	// FlushOnShutdown drains every in-flight request before the engine stops.
	FlushOnShutdown bool `toml:"flush_on_shutdown"`
}

type RendererConfig struct {
	Backend       string   `toml:"backend"`
	MaxHandles    uint32   `toml:"max_handles"`
	UploadLatency Duration `toml:"upload_latency"`
}

type ResourcesConfig struct {
	MaxTextures  uint32 `toml:"max_textures"`
	MaxMaterials uint32 `toml:"max_materials"`
	MaxMeshes    uint32 `toml:"max_meshes"`
	// MaxMipLevels caps the generated mip chain, 0 generates the full chain.
	MaxMipLevels uint32 `toml:"max_mip_levels"`
}

/** @brief The engine configuration, one section per subsystem. */
type Config struct {
	Application ApplicationConfig `toml:"application"`
	Log         LogConfig         `toml:"log"`
	Assets      AssetsConfig      `toml:"assets"`
	Streamer    StreamerConfig    `toml:"streamer"`
	Renderer    RendererConfig    `toml:"renderer"`
	Resources   ResourcesConfig   `toml:"resources"`
}

func Default() Config {
	return Config{
		Application: ApplicationConfig{
			Name:            "Anima RHI",
			TargetFrameRate: 60,
		},
		Log: LogConfig{
			Level:        "info",
			ReportCaller: true,
		},
		Assets: AssetsConfig{
			Directory: "assets",
			Watch:     true,
		},
		Streamer: StreamerConfig{
			MaxLoaderInstancesPerType: 5,
			FlushPollInterval:         Duration{time.Millisecond},
			FlushOnShutdown:           true,
		},
		Renderer: RendererConfig{
			Backend:       renderer.BackendTypeNull.String(),
			MaxHandles:    4096,
			UploadLatency: Duration{2 * time.Millisecond},
		},
		Resources: ResourcesConfig{
			MaxTextures:  1024,
			MaxMaterials: 512,
			MaxMeshes:    512,
		},
	}
}

// Parse decodes TOML on top of the defaults. Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return Config{}, fmt.Errorf("invalid config:\n%s", strict.String())
		}
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Encode writes cfg as TOML.
func Encode(cfg Config) ([]byte, error) {
	return toml.Marshal(cfg)
}

func (c Config) Validate() error {
	var errs []error
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if _, err := c.BackendType(); err != nil {
		errs = append(errs, fmt.Errorf("renderer.backend: %w", err))
	}
	if c.Assets.Directory == "" {
		errs = append(errs, errors.New("assets.directory must not be empty"))
	}
	if c.Streamer.MaxLoaderInstancesPerType == 0 {
		errs = append(errs, errors.New("streamer.max_loader_instances_per_type must be greater than 0"))
	}
	if c.Streamer.FlushPollInterval.Duration <= 0 {
		errs = append(errs, errors.New("streamer.flush_poll_interval must be positive"))
	}
	if c.Renderer.MaxHandles == 0 {
		errs = append(errs, errors.New("renderer.max_handles must be greater than 0"))
	}
	if c.Renderer.UploadLatency.Duration < 0 {
		errs = append(errs, errors.New("renderer.upload_latency must not be negative"))
	}
	if c.Resources.MaxTextures == 0 || c.Resources.MaxMaterials == 0 || c.Resources.MaxMeshes == 0 {
		errs = append(errs, errors.New("resources.max_textures, max_materials and max_meshes must be greater than 0"))
	}
	return errors.Join(errs...)
}

func (c Config) LogLevel() (core.LogLevel, error) {
	return core.ParseLogLevel(c.Log.Level)
}

func (c Config) BackendType() (renderer.BackendType, error) {
	return renderer.ParseBackendType(c.Renderer.Backend)
}
