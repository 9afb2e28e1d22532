package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/extensions/v3/khr_surface"

	"github.com/vkngwrapper/triangle/config"
	"github.com/vkngwrapper/triangle/present"
	"github.com/vkngwrapper/triangle/render"
)

var presentModes = map[string]khr_surface.PresentMode{
	"fifo":         khr_surface.PresentModeFIFO,
	"fifo-relaxed": khr_surface.PresentModeFIFORelaxed,
	"mailbox":      khr_surface.PresentModeMailbox,
	"immediate":    khr_surface.PresentModeImmediate,
}

type HelloTriangleApplication struct {
	cfg    config.Config
	logger *slog.Logger

	window    *sdl.Window
	instance  *render.Instance
	device    *render.Device
	swapchain *render.Swapchain
	graph     *render.FrameGraph
	loop      *present.Loop
}

func (app *HelloTriangleApplication) Run(ctx context.Context) error {
	err := app.initWindow()
	if err != nil {
		return err
	}
	defer app.cleanup()

	err = app.initVulkan(ctx)
	if err != nil {
		return err
	}

	return app.mainLoop(ctx)
}

func (app *HelloTriangleApplication) initWindow() error {
	if err := sdl.Init(sdl.INIT_VIDEO); err != nil {
		return errors.Wrap(err, "failed to initialise sdl")
	}

	flags := uint32(sdl.WINDOW_SHOWN | sdl.WINDOW_VULKAN)
	if app.cfg.Window.Resizable {
		flags |= sdl.WINDOW_RESIZABLE
	}

	window, err := sdl.CreateWindow(app.cfg.Window.Title, sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED,
		int32(app.cfg.Window.Width), int32(app.cfg.Window.Height), flags)
	if err != nil {
		return errors.Wrap(err, "failed to create window")
	}
	app.window = window

	return nil
}

func (app *HelloTriangleApplication) initVulkan(ctx context.Context) error {
	start := time.Now()

	var err error
	app.instance, err = render.NewInstance(app.window, render.InstanceOptions{
		ApplicationName: app.cfg.Window.Title,
		Validation:      app.cfg.Renderer.Validation,
	})
	if err != nil {
		return err
	}

	app.device, err = render.NewDevice(app.instance)
	if err != nil {
		return err
	}

	swapchainOptions := render.DefaultSwapchainOptions()
	swapchainOptions.PresentMode = presentModes[app.cfg.Renderer.PresentMode]
	swapchainOptions.ExtraImages = app.cfg.Renderer.ExtraImages

	app.swapchain, err = render.NewSwapchain(app.device, swapchainOptions)
	if err != nil {
		return err
	}

	clear := app.cfg.Renderer.ClearColor
	app.graph, err = render.NewFrameGraph(ctx, app.device, app.swapchain.State().Format, render.FrameGraphOptions{
		ClearColor: mgl32.Vec4{clear[0], clear[1], clear[2], clear[3]},
	})
	if err != nil {
		return err
	}

	err = app.swapchain.BindRenderPass(app.graph.RenderPass())
	if err != nil {
		return err
	}

	app.loop = present.NewLoop(app.device, app.swapchain, app.graph, present.Options{
		Logger:               app.logger.With("component", "present"),
		AcquireTimeout:       time.Duration(app.cfg.Loop.AcquireTimeout),
		ShutdownTimeout:      time.Duration(app.cfg.Loop.ShutdownTimeout),
		RecoverAcquireErrors: app.cfg.Loop.RecoverAcquireErrors,
		MaxAcquireFailures:   app.cfg.Loop.MaxAcquireFailures,
		StatsInterval:        time.Duration(app.cfg.Loop.StatsInterval),
	})

	app.logger.Info("vulkan ready", "elapsed", time.Since(start))
	return nil
}

func (app *HelloTriangleApplication) mainLoop(ctx context.Context) error {
	err := app.loop.Run(ctx, newSDLWindow(app.window))

	stats := app.loop.Stats()
	app.logger.Info("stopped",
		"presented", stats.Presented,
		"dropped", stats.Dropped,
		"recreations", stats.Recreations,
		"avgFrameTime", stats.AverageFrameTime())

	return err
}

func (app *HelloTriangleApplication) cleanup() {
	if app.device != nil {
		err := app.device.WaitIdle()
		if err != nil {
			app.logger.Warn("device did not go idle", "error", err)
		}
	}

	if app.graph != nil {
		app.graph.Destroy()
	}

	if app.swapchain != nil {
		app.swapchain.Destroy()
	}

	if app.device != nil {
		app.device.Destroy()
	}

	if app.instance != nil {
		app.instance.Destroy()
	}

	if app.window != nil {
		app.window.Destroy()
	}

	sdl.Quit()
}

// newLogger tags every line with a run ID so the output of concurrent runs can be
// told apart.
func newLogger(w io.Writer, cfg config.Config) (*slog.Logger, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}

	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With("run", uuid.NewString()), nil
}

func main() {
	runtime.LockOSThread()

	cfg, err := config.Parse(os.Args[0], os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := newLogger(os.Stderr, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	render.SetLogger(logger.With("component", "render"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	app := &HelloTriangleApplication{cfg: cfg, logger: logger}
	err = app.Run(ctx)
	stop()

	if err != nil {
		logger.Error("triangle failed", "error", fmt.Sprintf("%+v", err))
		os.Exit(1)
	}
}
