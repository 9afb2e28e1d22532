// Package config holds the settings of the triangle program. Settings start from
// Default, are overlaid by an optional TOML file and then by command-line flags.
package config

import (
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"
)

// ErrInvalid is returned by Validate for settings the program cannot run with.
var ErrInvalid = errors.New("invalid configuration")

// PresentModes are the accepted values of Renderer.PresentMode.
var PresentModes = []string{"fifo", "fifo-relaxed", "mailbox", "immediate"}

// Duration is a time.Duration written as a string such as "250ms" in TOML.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

type Window struct {
	Title     string `toml:"title"`
	Width     int    `toml:"width"`
	Height    int    `toml:"height"`
	Resizable bool   `toml:"resizable"`
}

type Renderer struct {
	Validation  bool   `toml:"validation"`
	PresentMode string `toml:"present_mode"`
	// ExtraImages is requested on top of the surface's minimum image count.
	ExtraImages int       `toml:"extra_images"`
	ClearColor  []float32 `toml:"clear_color"`
}

type Loop struct {
	// AcquireTimeout of zero waits for an image forever.
	AcquireTimeout  Duration `toml:"acquire_timeout"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
	// RecoverAcquireErrors skips frames whose acquire failed instead of stopping,
	// until MaxAcquireFailures consecutive failures.
	RecoverAcquireErrors bool `toml:"recover_acquire_errors"`
	MaxAcquireFailures   int  `toml:"max_acquire_failures"`
	// StatsInterval is the time between frame stats log lines. Zero disables them.
	StatsInterval Duration `toml:"stats_interval"`
}

type Config struct {
	Window   Window   `toml:"window"`
	Renderer Renderer `toml:"renderer"`
	Loop     Loop     `toml:"loop"`
	LogLevel string   `toml:"log_level"`
}

func Default() Config {
	return Config{
		Window: Window{
			Title:     "Vulkan",
			Width:     800,
			Height:    600,
			Resizable: true,
		},
		Renderer: Renderer{
			PresentMode: "fifo",
			ClearColor:  []float32{0, 0, 1, 1},
		},
		Loop: Loop{
			ShutdownTimeout:    Duration(5 * time.Second),
			MaxAcquireFailures: 3,
		},
		LogLevel: "info",
	}
}

// Load reads path over the defaults. Settings missing from the file keep their
// default value; unknown settings are an error.
func Load(path string) (Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		return cfg, errors.Wrap(err, "failed to open config")
	}
	defer f.Close()

	decoder := toml.NewDecoder(f).DisallowUnknownFields()
	err = decoder.Decode(&cfg)
	if err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return cfg, errors.Wrapf(ErrInvalid, "%s: %s", path, strict.String())
		}
		return cfg, errors.Wrapf(err, "failed to parse %s", path)
	}

	return cfg, nil
}

func (c Config) Validate() error {
	if c.Window.Width <= 0 || c.Window.Height <= 0 {
		return errors.Wrapf(ErrInvalid, "window size %dx%d", c.Window.Width, c.Window.Height)
	}

	if !slices.Contains(PresentModes, c.Renderer.PresentMode) {
		return errors.Wrapf(ErrInvalid, "present mode %q, want one of %v", c.Renderer.PresentMode, PresentModes)
	}

	if c.Renderer.ExtraImages < 0 {
		return errors.Wrapf(ErrInvalid, "extra images %d", c.Renderer.ExtraImages)
	}

	if len(c.Renderer.ClearColor) != 4 {
		return errors.Wrapf(ErrInvalid, "clear colour has %d components, want 4", len(c.Renderer.ClearColor))
	}
	for _, component := range c.Renderer.ClearColor {
		if component < 0 || component > 1 {
			return errors.Wrapf(ErrInvalid, "clear colour component %v outside [0, 1]", component)
		}
	}

	if c.Loop.AcquireTimeout < 0 || c.Loop.ShutdownTimeout < 0 || c.Loop.StatsInterval < 0 {
		return errors.Wrap(ErrInvalid, "durations cannot be negative")
	}

	if c.Loop.MaxAcquireFailures < 0 {
		return errors.Wrapf(ErrInvalid, "max acquire failures %d", c.Loop.MaxAcquireFailures)
	}

	_, err := c.Level()
	return err
}

// Level parses LogLevel as a slog level name such as "debug" or "warn".
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(c.LogLevel))
	if err != nil {
		return slog.LevelInfo, errors.Wrapf(ErrInvalid, "log level %q", c.LogLevel)
	}
	return level, nil
}
