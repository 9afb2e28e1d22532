package main

import (
	"bytes"
	"io"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vkngwrapper/triangle/config"
)

func TestNewLogger(t *testing.T) {
	cfg := config.Default()
	cfg.LogLevel = "warn"

	var out bytes.Buffer
	logger, err := newLogger(&out, cfg)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, out.String(), "hidden")
	assert.Contains(t, out.String(), "msg=shown")
	assert.Regexp(t, `run=[0-9a-f-]{36}`, out.String())
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	cfg := config.Default()
	cfg.LogLevel = "loud"

	_, err := newLogger(io.Discard, cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrInvalid))
}
