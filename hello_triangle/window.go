package main

import (
	"github.com/veandco/go-sdl2/sdl"

	"github.com/vkngwrapper/triangle/present"
)

// idleWait is how long PollEvents blocks for events while there is nothing to draw.
const idleWait = 100

// sdlWindow turns SDL events into loop events. It stops asking for redraws while
// the window is minimized or has no drawable area.
type sdlWindow struct {
	window    *sdl.Window
	rendering bool
}

func newSDLWindow(window *sdl.Window) *sdlWindow {
	return &sdlWindow{window: window, rendering: true}
}

func (w *sdlWindow) PollEvents() present.Events {
	var events present.Events

	event := sdl.PollEvent()
	if event == nil && !w.rendering {
		event = sdl.WaitEventTimeout(idleWait)
	}

	for ; event != nil; event = sdl.PollEvent() {
		w.handle(event, &events)
	}

	events.Redraw = w.rendering && !events.Close
	return events
}

func (w *sdlWindow) handle(event sdl.Event, events *present.Events) {
	switch e := event.(type) {
	case *sdl.QuitEvent:
		events.Close = true
	case *sdl.WindowEvent:
		switch e.Event {
		case sdl.WINDOWEVENT_CLOSE:
			events.Close = true
		case sdl.WINDOWEVENT_MINIMIZED:
			w.rendering = false
		case sdl.WINDOWEVENT_RESTORED:
			w.rendering = true
			events.Resized = true
		case sdl.WINDOWEVENT_RESIZED, sdl.WINDOWEVENT_SIZE_CHANGED:
			width, height := w.window.GetSize()
			w.rendering = width > 0 && height > 0
			events.Resized = true
		}
	}
}
