package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/veandco/go-sdl2/sdl"

	"github.com/vkngwrapper/triangle/config"
	"github.com/vkngwrapper/triangle/present"
)

func TestWindowEvents(t *testing.T) {
	w := newSDLWindow(nil)

	var events present.Events
	w.handle(&sdl.WindowEvent{Event: sdl.WINDOWEVENT_MINIMIZED}, &events)
	assert.False(t, w.rendering)
	assert.False(t, events.Resized)

	w.handle(&sdl.WindowEvent{Event: sdl.WINDOWEVENT_RESTORED}, &events)
	assert.True(t, w.rendering)
	assert.True(t, events.Resized)

	w.handle(&sdl.QuitEvent{}, &events)
	assert.True(t, events.Close)
}

func TestWindowCloseEvent(t *testing.T) {
	w := newSDLWindow(nil)

	var events present.Events
	w.handle(&sdl.WindowEvent{Event: sdl.WINDOWEVENT_CLOSE}, &events)
	assert.True(t, events.Close)
}

func TestEveryPresentModeIsMapped(t *testing.T) {
	for _, mode := range config.PresentModes {
		_, ok := presentModes[mode]
		assert.True(t, ok, mode)
	}
	assert.Len(t, presentModes, len(config.PresentModes))
}
