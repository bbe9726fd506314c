package main

import (
	"bytes"
	"context"
	stderrors "errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/wippyai/wasm-bridge/bridge"
	"github.com/wippyai/wasm-bridge/config"
	"github.com/wippyai/wasm-bridge/heap"
	"github.com/wippyai/wasm-bridge/host"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := newLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	if err != nil {
		t.Fatal(err)
	}
	log.Info("hidden")
	log.Warn("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"msg":"shown"`) {
		t.Errorf("output = %q", out)
	}

	for _, bad := range []config.LogConfig{{Level: "loud"}, {Level: "info", Format: "xml"}} {
		if _, err := newLogger(bad, &buf); err == nil {
			t.Errorf("%+v should fail", bad)
		}
	}
}

func TestApplyFlags(t *testing.T) {
	cfg := config.Defaults()
	applyFlags(cfg, "0.0.0.0:1", "guest.wasm", 3)
	if cfg.Listen != "0.0.0.0:1" || cfg.Module != "guest.wasm" || cfg.Workers != 3 {
		t.Errorf("cfg = %+v", cfg)
	}
	applyFlags(cfg, "", "", 0)
	if cfg.Module != "guest.wasm" || cfg.Workers != 3 {
		t.Error("empty flags should keep values")
	}
}

func sampleStats() []host.WorkerStats {
	return []host.WorkerStats{
		{ID: 0, Requests: 12, Stats: bridge.Stats{Heap: heap.Stats{Live: 1}},
			Handles: []host.HandleInfo{{Handle: 4, Type: "ReadableStream", Value: "ReadableStream { state: readable }"}}},
		{ID: 1, Requests: 7, Failures: 2, Stats: bridge.Stats{Heap: heap.Stats{Live: 1}},
			Handles: []host.HandleInfo{{Handle: 9, Type: "string", Value: `"session"`}}},
	}
}

func TestInspector_Navigation(t *testing.T) {
	cfg := config.Defaults()
	cfg.Module = "app.wasm"
	m := newInspectorModel(context.Background(), cfg, func(context.Context) ([]host.WorkerStats, error) {
		return sampleStats(), nil
	})

	if !strings.Contains(m.View(), "Waiting for workers") {
		t.Error("initial view should wait for a snapshot")
	}
	m.Update(m.fetch())
	view := m.View()
	if !strings.Contains(view, "app.wasm") || !strings.Contains(view, "ReadableStream") {
		t.Errorf("view misses worker 0 handles:\n%s", view)
	}

	m.Update(tea.KeyMsg{Type: tea.KeyTab})
	if m.selected != 1 || !strings.Contains(m.View(), "session") {
		t.Errorf("tab should select worker 1, selected %d", m.selected)
	}
	m.Update(tea.KeyMsg{Type: tea.KeyTab})
	if m.selected != 0 {
		t.Errorf("selection should wrap, got %d", m.selected)
	}

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("q should quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should return tea.Quit")
	}
}

func TestInspector_SnapshotError(t *testing.T) {
	m := newInspectorModel(context.Background(), config.Defaults(), func(context.Context) ([]host.WorkerStats, error) {
		return nil, stderrors.New("loop stopped")
	})
	m.stats = sampleStats()
	m.Update(m.fetch())
	view := m.View()
	if !strings.Contains(view, "loop stopped") {
		t.Errorf("view should show the error:\n%s", view)
	}
	if len(m.stats) != 2 {
		t.Error("a failed snapshot should keep the last stats")
	}
}
