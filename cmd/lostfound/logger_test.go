package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/lostfound/internal/config"
)

func TestNewHandler_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newHandler(&buf, config.LoggingConfig{Level: "warn", Format: "json"}))

	logger.Info("hidden")
	logger.With("component", "items").Warn("shown", "item_id", "abc")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, "items", rec["component"])
	assert.Equal(t, "abc", rec["item_id"])
}

func TestNewHandler_Text(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	var buf bytes.Buffer
	logger := slog.New(newHandler(&buf, config.LoggingConfig{Level: "debug", Format: "text"}))

	logger.With("component", "responder").WithGroup("reply").Debug("scheduled", "thread_id", "thr_1")

	out := buf.String()
	assert.Contains(t, out, "DBG scheduled")
	assert.Contains(t, out, "component=responder")
	assert.Contains(t, out, "reply.thread_id=thr_1")
}
