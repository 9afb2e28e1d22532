package config

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/pflag"
)

func newFlagSet(name string, cfg *Config) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SortFlags = false

	fs.String("config", "", "TOML file read before applying the other flags")

	fs.StringVar(&cfg.Window.Title, "title", cfg.Window.Title, "window title")
	fs.IntVar(&cfg.Window.Width, "width", cfg.Window.Width, "initial window width")
	fs.IntVar(&cfg.Window.Height, "height", cfg.Window.Height, "initial window height")
	fs.BoolVar(&cfg.Window.Resizable, "resizable", cfg.Window.Resizable, "allow the window to be resized")

	fs.BoolVar(&cfg.Renderer.Validation, "validation", cfg.Renderer.Validation, "enable the Khronos validation layer")
	fs.StringVar(&cfg.Renderer.PresentMode, "present-mode", cfg.Renderer.PresentMode, "fifo, fifo-relaxed, mailbox or immediate")
	fs.IntVar(&cfg.Renderer.ExtraImages, "extra-images", cfg.Renderer.ExtraImages, "swapchain images on top of the surface minimum")
	fs.Float32SliceVar(&cfg.Renderer.ClearColor, "clear-color", cfg.Renderer.ClearColor, "clear colour as r,g,b,a in [0, 1]")

	fs.DurationVar((*time.Duration)(&cfg.Loop.AcquireTimeout), "acquire-timeout", time.Duration(cfg.Loop.AcquireTimeout), "how long to wait for a swapchain image, 0 waits forever")
	fs.DurationVar((*time.Duration)(&cfg.Loop.ShutdownTimeout), "shutdown-timeout", time.Duration(cfg.Loop.ShutdownTimeout), "how long to wait for the last frame on exit")
	fs.BoolVar(&cfg.Loop.RecoverAcquireErrors, "recover-acquire-errors", cfg.Loop.RecoverAcquireErrors, "skip frames whose acquire failed instead of exiting")
	fs.IntVar(&cfg.Loop.MaxAcquireFailures, "max-acquire-failures", cfg.Loop.MaxAcquireFailures, "consecutive acquire failures tolerated with --recover-acquire-errors")
	fs.DurationVar((*time.Duration)(&cfg.Loop.StatsInterval), "stats-interval", time.Duration(cfg.Loop.StatsInterval), "time between frame stats log lines, 0 disables")

	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")

	return fs
}

// Parse builds the configuration for args, which exclude the program name. The file
// named by --config is applied first so that any other flag overrides it. It returns
// pflag.ErrHelp when help was requested.
func Parse(name string, args []string) (Config, error) {
	cfg := Default()

	fs := newFlagSet(name, &cfg)
	err := fs.Parse(args)
	if err != nil {
		return cfg, err
	}

	path, err := fs.GetString("config")
	if err != nil {
		return cfg, errors.WithStack(err)
	}

	if path != "" {
		cfg, err = Load(path)
		if err != nil {
			return cfg, err
		}

		// Parse again with the file's values as defaults
		err = newFlagSet(name, &cfg).Parse(args)
		if err != nil {
			return cfg, err
		}
	}

	if fs.NArg() > 0 {
		return cfg, errors.Wrapf(ErrInvalid, "unexpected arguments %v", fs.Args())
	}

	return cfg, cfg.Validate()
}
