// ABOUTME: Bubbletea model for the clock display TUI
// ABOUTME: Renders the adjusted clock and sync status, turns keys into control requests
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/classclock/classclock-go/pkg/timesync"
	tea "github.com/charmbracelet/bubbletea"
)

const (
	refreshInterval = 100 * time.Millisecond

	// manualStepMs is how far +/- move the manual offset
	manualStepMs = 100

	boxWidth = 54
)

// Model represents the TUI state
type Model struct {
	settings timesync.Settings
	syncing  bool
	bridge   string
	now      time.Time

	controls *Controls
	clock    func() time.Time

	width  int
	height int
}

// tickMsg redraws the clock
type tickMsg time.Time

// StatusMsg updates TUI state; nil fields are left untouched
type StatusMsg struct {
	Settings *timesync.Settings
	Syncing  *bool
	Bridge   string
}

// Init starts the redraw ticker
func (m Model) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tickMsg:
		m.now = m.clock()
		return m, tick()
	case StatusMsg:
		m.applyStatus(msg)
	}

	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	s := m.renderHeader()
	s += m.renderSync()
	s += m.renderHelp()
	return s
}

// renderHeader renders the adjusted clock
func (m Model) renderHeader() string {
	adjusted := time.UnixMilli(timesync.AdjustedNowMsAt(m.settings, m.now))

	source := "local clock"
	if m.settings.Enabled {
		source = fmt.Sprintf("%s (%+dms)", m.settings.Provider, timesync.EffectiveOffsetMs(m.settings))
	}

	return "┌─ ClassClock " + strings.Repeat("─", boxWidth-13) + "┐\n" +
		line("Time:   %s", adjusted.Format("15:04:05.0")) +
		line("Date:   %s", adjusted.Format("Mon 2 Jan 2006")) +
		line("Source: %s", source) +
		"├" + strings.Repeat("─", boxWidth) + "┤\n"
}

// renderSync renders the last result and the current settings
func (m Model) renderSync() string {
	status := "✗ Off"
	switch {
	case m.syncing:
		status = "⟳ Syncing..."
	case m.settings.Enabled && m.settings.LastError != "":
		status = "⚠ Failed"
	case m.settings.Enabled && m.settings.LastSyncAt != nil:
		status = "✓ Synced"
	case m.settings.Enabled:
		status = "… Waiting for first sync"
	}

	endpoint, err := m.settings.Endpoint()
	if err != nil {
		endpoint = "(not configured)"
	}

	auto := "off"
	if m.settings.AutoSyncEnabled {
		auto = fmt.Sprintf("every %ds", m.settings.AutoSyncIntervalSec)
	}

	s := line("Sync:   %s", status)
	s += line("Server: %s", endpoint)
	s += line("Offset: %+dms  Manual: %+dms", m.settings.OffsetMs, m.settings.ManualOffsetMs)
	s += line("RTT:    %s", formatRTT(m.settings.LastRTTMs))
	s += line("Last:   %s", formatLastSync(m.settings.LastSyncAt, m.now))
	s += line("Auto:   %s", auto)
	if m.bridge != "" {
		s += line("Bridge: %s", m.bridge)
	}
	if m.settings.LastError != "" {
		s += line("Error:  %s", m.settings.LastError)
	}
	return s
}

// renderHelp renders keyboard shortcuts
func (m Model) renderHelp() string {
	return "├" + strings.Repeat("─", boxWidth) + "┤\n" +
		line("s:Sync  e:Enable  +/-:Offset  0:Reset  q:Quit") +
		"└" + strings.Repeat("─", boxWidth) + "┘\n"
}

// handleKey turns keyboard input into control requests
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.controls.send(QuitMsg{})
		return m, tea.Quit
	case "s":
		m.controls.send(SyncNowMsg{})
	case "e":
		m.controls.send(SetEnabledMsg{Enabled: !m.settings.Enabled})
	case "+", "=":
		m.controls.send(ManualOffsetMsg{OffsetMs: m.settings.ManualOffsetMs + manualStepMs})
	case "-", "_":
		m.controls.send(ManualOffsetMsg{OffsetMs: m.settings.ManualOffsetMs - manualStepMs})
	case "0":
		m.controls.send(ManualOffsetMsg{OffsetMs: 0})
	}

	return m, nil
}

// applyStatus updates model from status message
func (m *Model) applyStatus(msg StatusMsg) {
	if msg.Settings != nil {
		m.settings = *msg.Settings
	}
	if msg.Syncing != nil {
		m.syncing = *msg.Syncing
	}
	if msg.Bridge != "" {
		m.bridge = msg.Bridge
	}
}

// line renders one boxed row
func line(format string, args ...interface{}) string {
	text := truncate(fmt.Sprintf(format, args...), boxWidth-2)
	pad := boxWidth - 2 - len([]rune(text))
	return "│ " + text + strings.Repeat(" ", pad) + " │\n"
}

func formatRTT(rtt *int64) string {
	if rtt == nil {
		return "-"
	}
	return fmt.Sprintf("%dms", *rtt)
}

func formatLastSync(at *int64, now time.Time) string {
	if at == nil {
		return "never"
	}
	t := time.UnixMilli(*at)
	ago := now.Sub(t).Truncate(time.Second)
	if ago < 0 {
		ago = 0
	}
	return fmt.Sprintf("%s (%s ago)", t.Format("15:04:05"), ago)
}

func truncate(s string, length int) string {
	r := []rune(s)
	if len(r) <= length {
		return s
	}
	return string(r[:length-3]) + "..."
}
