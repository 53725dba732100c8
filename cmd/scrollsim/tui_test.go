package main

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func press(t *testing.T, m Model, key string) Model {
	t.Helper()
	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)})
	return updated.(Model)
}

func TestModelInit(t *testing.T) {
	m := NewModel(newTestSim(t, nil))
	if m.Init() == nil {
		t.Error("Init should return a command")
	}
}

func TestModelWindowSize(t *testing.T) {
	m := NewModel(newTestSim(t, nil))
	updated, cmd := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	model := updated.(Model)
	if cmd != nil {
		t.Error("window size should not produce a command")
	}
	if model.width != 120 || model.height != 40 {
		t.Errorf("size = %dx%d", model.width, model.height)
	}
}

func TestModelConnectAndDisconnect(t *testing.T) {
	sim := newTestSim(t, nil)
	m := NewModel(sim)

	m = press(t, m, "c")
	if sim.Sys.Table.Len() != 1 {
		t.Fatalf("active = %d", sim.Sys.Table.Len())
	}
	m = press(t, m, "d")
	if sim.Sys.Table.Len() != 0 {
		t.Fatalf("active = %d", sim.Sys.Table.Len())
	}
	m = press(t, m, "d")
	if m.lastErr != "no connections" {
		t.Errorf("lastErr = %q", m.lastErr)
	}
}

func TestModelAlertToggle(t *testing.T) {
	sim := newTestSim(t, nil)
	m := NewModel(sim)

	press(t, m, "a")
	if !sim.Sys.Alert.Load() {
		t.Error("alert not set")
	}
}

func TestModelTypeMessage(t *testing.T) {
	sim := newTestSim(t, nil)
	m := NewModel(sim)

	m = press(t, m, "i")
	if !m.typing {
		t.Fatal("not in input mode")
	}
	m = press(t, m, "hey")
	// 'q' is text while typing.
	m = press(t, m, "q")
	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = updated.(Model)

	if m.typing {
		t.Error("still typing after enter")
	}
	if text, ok := sim.Sys.Cell.ReadAndClear(); !ok || text != "heyq" {
		t.Errorf("cell = %q, %v", text, ok)
	}
}

func TestModelEmptyMessageShowsError(t *testing.T) {
	m := NewModel(newTestSim(t, nil))

	m = press(t, m, "i")
	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = updated.(Model)
	if m.lastErr == "" {
		t.Error("expected error for empty message")
	}
}

func TestModelQuit(t *testing.T) {
	m := NewModel(newTestSim(t, nil))
	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("q should return tea.Quit")
	}
	if !updated.(Model).quitting {
		t.Error("quitting not set")
	}
}

func TestModelActivityAppendsLog(t *testing.T) {
	m := NewModel(newTestSim(t, nil))
	updated, cmd := m.Update(activityMsg{Kind: "connect", Conn: 3})
	m = updated.(Model)
	if cmd == nil {
		t.Error("activity should wait for the next one")
	}
	if len(m.lines) != 1 || !strings.Contains(m.lines[0], "conn=3") {
		t.Errorf("lines = %q", m.lines)
	}
}

func TestModelView(t *testing.T) {
	m := NewModel(newTestSim(t, nil))
	v := m.View()
	for _, want := range []string{"scrollsim", "advertising", "hello world", "pending"} {
		if !strings.Contains(v, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestModelRejectsOversizeMultibyteMessage(t *testing.T) {
	sim := newTestSim(t, nil)
	m := NewModel(sim)

	m = press(t, m, "i")
	// 100 three-byte runes fit the rune limit but exceed the byte limit.
	m = press(t, m, strings.Repeat("€", 100))
	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = updated.(Model)

	if !strings.Contains(m.lastErr, "300 bytes") {
		t.Errorf("lastErr = %q", m.lastErr)
	}
	if sim.Sys.Cell.Pending() {
		t.Error("oversize message reached the cell")
	}
}
