// ABOUTME: Tests for TUI model and state management
// ABOUTME: Tests status updates, key requests, clock rendering and layout
package ui

import (
	"strings"
	"testing"
	"time"

	"github.com/classclock/classclock-go/pkg/timesync"
	tea "github.com/charmbracelet/bubbletea"
)

var fixedNow = time.UnixMilli(1_700_000_000_000)

func newTestModel(controls *Controls, s timesync.Settings) Model {
	m := NewModel(controls, s)
	m.clock = func() time.Time { return fixedNow }
	m.now = fixedNow
	m.width = 80
	m.height = 24
	return m
}

func runeKey(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestNewModel(t *testing.T) {
	s := timesync.DefaultSettings()
	model := NewModel(nil, s)

	if model.syncing {
		t.Error("expected syncing to be false initially")
	}
	if model.settings.Provider != timesync.ProviderHTTPDate {
		t.Errorf("expected initial settings, got provider %s", model.settings.Provider)
	}
	if model.View() != "Loading..." {
		t.Error("expected loading view before first window size")
	}
}

func TestStatusMsgSettings(t *testing.T) {
	model := newTestModel(nil, timesync.DefaultSettings())

	s := timesync.DefaultSettings()
	s.Enabled = true
	s.OffsetMs = 1500
	model.applyStatus(StatusMsg{Settings: &s})

	if !model.settings.Enabled || model.settings.OffsetMs != 1500 {
		t.Errorf("expected settings to be replaced, got %+v", model.settings)
	}
}

func TestStatusMsgSyncingAndBridge(t *testing.T) {
	model := newTestModel(nil, timesync.DefaultSettings())

	syncing := true
	model.applyStatus(StatusMsg{Syncing: &syncing, Bridge: "remote 10.0.0.2:8928"})
	if !model.syncing || model.bridge != "remote 10.0.0.2:8928" {
		t.Errorf("unexpected state syncing=%v bridge=%q", model.syncing, model.bridge)
	}

	// Zero values leave state alone
	model.applyStatus(StatusMsg{})
	if !model.syncing || model.bridge == "" {
		t.Error("empty status should not clear state")
	}

	done := false
	model.applyStatus(StatusMsg{Syncing: &done})
	if model.syncing {
		t.Error("expected syncing to be false")
	}
}

func TestKeyRequests(t *testing.T) {
	s := timesync.DefaultSettings()
	s.ManualOffsetMs = 300

	tests := []struct {
		key  tea.KeyMsg
		want tea.Msg
	}{
		{runeKey("s"), SyncNowMsg{}},
		{runeKey("e"), SetEnabledMsg{Enabled: true}},
		{runeKey("+"), ManualOffsetMsg{OffsetMs: 400}},
		{runeKey("="), ManualOffsetMsg{OffsetMs: 400}},
		{runeKey("-"), ManualOffsetMsg{OffsetMs: 200}},
		{runeKey("0"), ManualOffsetMsg{OffsetMs: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.key.String(), func(t *testing.T) {
			controls := NewControls()
			model := newTestModel(controls, s)

			_, cmd := model.Update(tt.key)
			if cmd != nil {
				t.Error("expected no command")
			}

			select {
			case got := <-controls.Requests:
				if got != tt.want {
					t.Errorf("expected %#v, got %#v", tt.want, got)
				}
			default:
				t.Fatal("expected a request")
			}
		})
	}
}

func TestQuitKey(t *testing.T) {
	for _, key := range []tea.KeyMsg{runeKey("q"), {Type: tea.KeyCtrlC}} {
		controls := NewControls()
		model := newTestModel(controls, timesync.DefaultSettings())

		_, cmd := model.Update(key)
		if cmd == nil {
			t.Fatalf("%s: expected quit command", key)
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Errorf("%s: expected tea.QuitMsg", key)
		}

		select {
		case got := <-controls.Requests:
			if _, ok := got.(QuitMsg); !ok {
				t.Errorf("%s: expected QuitMsg request, got %#v", key, got)
			}
		default:
			t.Errorf("%s: expected quit request", key)
		}
	}
}

func TestKeysWithoutControls(t *testing.T) {
	model := newTestModel(nil, timesync.DefaultSettings())
	for _, k := range []string{"s", "e", "+", "-", "0", "x"} {
		model.Update(runeKey(k))
	}
}

func TestFullControlQueueDropsRequests(t *testing.T) {
	controls := &Controls{Requests: make(chan tea.Msg, 1)}
	model := newTestModel(controls, timesync.DefaultSettings())

	model.Update(runeKey("s"))
	model.Update(runeKey("s"))

	if n := len(controls.Requests); n != 1 {
		t.Errorf("expected 1 queued request, got %d", n)
	}
}

func TestTickRefreshesClock(t *testing.T) {
	model := newTestModel(nil, timesync.DefaultSettings())
	model.now = time.Time{}

	updated, cmd := model.Update(tickMsg(fixedNow))
	if cmd == nil {
		t.Error("expected next tick to be scheduled")
	}
	if !updated.(Model).now.Equal(fixedNow) {
		t.Errorf("expected now %v, got %v", fixedNow, updated.(Model).now)
	}
}

func TestViewShowsAdjustedTime(t *testing.T) {
	s := timesync.DefaultSettings()
	s.Enabled = true
	s.OffsetMs = 1500
	s.ManualOffsetMs = 500
	rtt := int64(40)
	s.LastRTTMs = &rtt
	at := fixedNow.Add(-2 * time.Minute).UnixMilli()
	s.LastSyncAt = &at

	view := newTestModel(nil, s).View()

	adjusted := fixedNow.Add(2 * time.Second).Format("15:04:05.0")
	for _, want := range []string{adjusted, "httpDate (+2000ms)", "✓ Synced", "40ms", "2m0s ago", "every 3600s"} {
		if !strings.Contains(view, want) {
			t.Errorf("expected view to contain %q:\n%s", want, view)
		}
	}
}

func TestViewDisabledUsesLocalClock(t *testing.T) {
	s := timesync.DefaultSettings()
	s.OffsetMs = 1500

	view := newTestModel(nil, s).View()

	for _, want := range []string{fixedNow.Format("15:04:05.0"), "local clock", "✗ Off", "never"} {
		if !strings.Contains(view, want) {
			t.Errorf("expected view to contain %q:\n%s", want, view)
		}
	}
}

func TestViewShowsFailure(t *testing.T) {
	s := timesync.DefaultSettings()
	s.Enabled = true
	s.HTTPDateURL = ""
	s.LastError = "protocol error: response has no readable Date header"

	view := newTestModel(nil, s).View()

	for _, want := range []string{"⚠ Failed", "(not configured)", "Error:  protocol error"} {
		if !strings.Contains(view, want) {
			t.Errorf("expected view to contain %q:\n%s", want, view)
		}
	}
}

func TestViewLinesHaveEqualWidth(t *testing.T) {
	s := timesync.DefaultSettings()
	s.Enabled = true
	s.LastError = strings.Repeat("very long failure ", 10)

	model := newTestModel(nil, s)
	syncing := true
	model.applyStatus(StatusMsg{Syncing: &syncing, Bridge: "local"})

	for _, l := range strings.Split(strings.TrimSuffix(model.View(), "\n"), "\n") {
		if n := len([]rune(l)); n != boxWidth+2 {
			t.Errorf("expected width %d, got %d: %q", boxWidth+2, n, l)
		}
	}
}

func TestFormatLastSync(t *testing.T) {
	if got := formatLastSync(nil, fixedNow); got != "never" {
		t.Errorf("expected never, got %q", got)
	}

	future := fixedNow.Add(time.Minute).UnixMilli()
	if got := formatLastSync(&future, fixedNow); !strings.HasSuffix(got, "(0s ago)") {
		t.Errorf("expected clamped age, got %q", got)
	}
}

func TestTruncateFunction(t *testing.T) {
	tests := []struct {
		input  string
		length int
		want   string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is too long", 10, "this is..."},
		{"✓✓✓✓✓✓", 5, "✓✓..."},
	}

	for _, tt := range tests {
		if got := truncate(tt.input, tt.length); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.length, got, tt.want)
		}
	}
}
