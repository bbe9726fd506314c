package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/wasm-bridge/config"
	"github.com/wippyai/wasm-bridge/host"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

const refreshInterval = time.Second

type snapshotFunc func(ctx context.Context) ([]host.WorkerStats, error)

type inspectorModel struct {
	ctx      context.Context
	snapshot snapshotFunc
	module   string
	addr     string

	stats    []host.WorkerStats
	err      error
	selected int
	workers  table.Model
	handles  table.Model
	height   int
}

type snapshotMsg struct {
	stats []host.WorkerStats
	err   error
}

type tickMsg time.Time

func newInspectorModel(ctx context.Context, cfg *config.Config, snapshot snapshotFunc) *inspectorModel {
	m := &inspectorModel{
		ctx:      ctx,
		snapshot: snapshot,
		module:   cfg.Module,
		addr:     "http://" + cfg.Listen,
	}
	m.workers = newTable([]table.Column{
		{Title: "Worker", Width: 6},
		{Title: "Requests", Width: 9},
		{Title: "Failures", Width: 9},
		{Title: "Live", Width: 6},
		{Title: "Slots", Width: 6},
		{Title: "Free", Width: 6},
		{Title: "Stack", Width: 8},
		{Title: "Closures", Width: 9},
		{Title: "Exceptions", Width: 10},
	}, 4)
	m.handles = newTable([]table.Column{
		{Title: "Handle", Width: 8},
		{Title: "Type", Width: 18},
		{Title: "Value", Width: 50},
	}, 10)
	m.handles.Focus()
	return m
}

func newTable(cols []table.Column, height int) table.Model {
	t := table.New(
		table.WithColumns(cols),
		table.WithFocused(false),
		table.WithHeight(height),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("#7D56F4")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("#FAFAFA")).
		Background(lipgloss.Color("#7D56F4"))
	t.SetStyles(s)
	return t
}

func (m *inspectorModel) Init() tea.Cmd {
	return tea.Batch(m.fetch, m.tick())
}

func (m *inspectorModel) fetch() tea.Msg {
	stats, err := m.snapshot(m.ctx)
	return snapshotMsg{stats: stats, err: err}
}

func (m *inspectorModel) tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *inspectorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "tab", "right", "l":
			if n := len(m.stats); n > 0 {
				m.selected = (m.selected + 1) % n
				m.rebuild()
			}
			return m, nil
		case "shift+tab", "left", "h":
			if n := len(m.stats); n > 0 {
				m.selected = (m.selected + n - 1) % n
				m.rebuild()
			}
			return m, nil
		case "r":
			return m, m.fetch
		}

	case tea.WindowSizeMsg:
		m.height = msg.Height
		m.rebuild()
		return m, nil

	case snapshotMsg:
		m.err = msg.err
		if msg.err == nil {
			m.stats = msg.stats
			if m.selected >= len(m.stats) {
				m.selected = 0
			}
		}
		m.rebuild()
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.fetch, m.tick())
	}

	var cmd tea.Cmd
	m.handles, cmd = m.handles.Update(msg)
	return m, cmd
}

func (m *inspectorModel) rebuild() {
	rows := make([]table.Row, 0, len(m.stats))
	for _, ws := range m.stats {
		rows = append(rows, table.Row{
			strconv.Itoa(ws.ID),
			strconv.FormatUint(ws.Requests, 10),
			strconv.FormatUint(ws.Failures, 10),
			strconv.Itoa(ws.Heap.Live),
			strconv.Itoa(ws.Heap.Slots),
			strconv.Itoa(ws.Heap.Free),
			fmt.Sprintf("%d/%d", ws.Heap.StackDepth, ws.Heap.StackPeak),
			strconv.Itoa(ws.Closures.Live),
			strconv.FormatUint(ws.Exceptions, 10),
		})
	}
	m.workers.SetRows(rows)
	m.workers.SetHeight(len(rows) + 1)
	m.workers.SetCursor(m.selected)

	var handleRows []table.Row
	if m.selected < len(m.stats) {
		for _, h := range m.stats[m.selected].Handles {
			handleRows = append(handleRows, table.Row{
				strconv.FormatUint(uint64(h.Handle), 10),
				h.Type,
				h.Value,
			})
		}
	}
	m.handles.SetRows(handleRows)
	if m.height > 0 {
		m.handles.SetHeight(max(m.height-len(rows)-12, 5))
	}
}

func (m *inspectorModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Bridge Inspector"))
	b.WriteString(" ")
	b.WriteString(m.module)
	b.WriteString(" ")
	b.WriteString(labelStyle.Render(m.addr))
	b.WriteString("\n\n")

	if m.err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n\n")
	}
	if len(m.stats) == 0 {
		b.WriteString("Waiting for workers...\n")
		return b.String()
	}

	b.WriteString(m.workers.View())
	b.WriteString("\n\n")

	ws := m.stats[m.selected]
	b.WriteString(labelStyle.Render(fmt.Sprintf("Live handles of worker %d (%d shown, %d live)",
		ws.ID, len(ws.Handles), ws.Heap.Live)))
	b.WriteString("\n")
	b.WriteString(m.handles.View())
	b.WriteString("\n\n")
	b.WriteString(helpStyle.Render("tab/←/→ worker • ↑/↓ scroll • r refresh • q quit"))
	return b.String()
}

func runInspector(ctx context.Context, cfg *config.Config, pool *host.Pool) error {
	p := tea.NewProgram(newInspectorModel(ctx, cfg, pool.Snapshot), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
