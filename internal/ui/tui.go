// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program and the channel of user requests
package ui

import (
	"time"

	"github.com/classclock/classclock-go/pkg/timesync"
	tea "github.com/charmbracelet/bubbletea"
)

// SyncNowMsg asks for an immediate sync
type SyncNowMsg struct{}

// SetEnabledMsg turns network sync on or off
type SetEnabledMsg struct {
	Enabled bool
}

// ManualOffsetMsg sets the manual offset
type ManualOffsetMsg struct {
	OffsetMs int64
}

// QuitMsg reports that the user left the TUI
type QuitMsg struct{}

// Controls carries user requests from the TUI to the app
type Controls struct {
	Requests chan tea.Msg
}

// NewControls creates a new control handler
func NewControls() *Controls {
	return &Controls{
		Requests: make(chan tea.Msg, 10),
	}
}

// send never blocks the UI; a full queue drops the request
func (c *Controls) send(msg tea.Msg) {
	if c == nil {
		return
	}
	select {
	case c.Requests <- msg:
	default:
	}
}

// NewModel creates a new TUI model showing initial
func NewModel(controls *Controls, initial timesync.Settings) Model {
	return Model{
		settings: initial,
		controls: controls,
		clock:    time.Now,
		now:      time.Now(),
	}
}

// Run creates the TUI program; the caller runs it
func Run(controls *Controls, initial timesync.Settings) (*tea.Program, error) {
	p := tea.NewProgram(NewModel(controls, initial), tea.WithAltScreen())
	return p, nil
}
