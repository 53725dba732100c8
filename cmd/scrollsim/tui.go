package main

import (
	"fmt"
	"image/color"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tuffrabit/tinygo-ledscroll/pkg/display"
	"github.com/tuffrabit/tinygo-ledscroll/pkg/message"
)

const refresh = 50 * time.Millisecond

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF79C6"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6272A4"))
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F8F8F2"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5555"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#44475A"))
	panelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type tickMsg time.Time

type activityMsg Activity

// Model is the bubbletea model for the simulator.
type Model struct {
	sim *Sim

	input    textinput.Model
	log      viewport.Model
	lines    []string
	typing   bool
	lastErr  string
	width    int
	height   int
	quitting bool
}

// NewModel builds the simulator view over sim.
func NewModel(sim *Sim) Model {
	ti := textinput.New()
	ti.Placeholder = "message"
	ti.CharLimit = message.MaxLen
	ti.Width = 40

	return Model{
		sim:    sim,
		input:  ti,
		log:    viewport.New(60, 8),
		width:  80,
		height: 24,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(tick(), m.waitForActivity())
}

func tick() tea.Cmd {
	return tea.Tick(refresh, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) waitForActivity() tea.Cmd {
	ch := m.sim.Radio.activity
	return func() tea.Msg {
		return activityMsg(<-ch)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.log.Width = max(msg.Width-4, 20)
		return m, nil

	case tickMsg:
		return m, tick()

	case activityMsg:
		m = m.appendLine(formatActivity(Activity(msg)))
		return m, m.waitForActivity()

	case tea.KeyMsg:
		if m.typing {
			return m.handleInput(msg)
		}
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.lastErr = ""
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case "c":
		if _, ok := m.sim.Connect(); !ok {
			m.lastErr = "not accepting connections"
		}
	case "d":
		if _, ok := m.sim.DisconnectOldest(); !ok {
			m.lastErr = "no connections"
		}
	case "t":
		if !m.sim.Trigger(1) {
			m.lastErr = "trigger queue full"
		}
	case "a":
		m.sim.ToggleAlert()
	case "r":
		m.sim.Readvertise()
	case "m":
		if !m.sim.ExchangeMTU(247) {
			m.lastErr = "no connections"
		}
	case "i":
		m.typing = true
		m.input.Reset()
		cmd := m.input.Focus()
		return m, cmd
	case "up", "k":
		m.log.LineUp(1)
	case "down", "j":
		m.log.LineDown(1)
	}
	return m, nil
}

func (m Model) handleInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.typing = false
		m.input.Blur()
		return m, nil
	case tea.KeyEnter:
		m.typing = false
		m.input.Blur()
		// CharLimit counts runes; the ingest limit is in bytes.
		if text := m.input.Value(); len(text) > message.MaxLen {
			m.lastErr = fmt.Sprintf("message is %d bytes, limit %d", len(text), message.MaxLen)
			return m, nil
		}
		if err := m.sim.Write(m.input.Value()); err != nil {
			m.lastErr = err.Error()
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) appendLine(line string) Model {
	m.lines = append(m.lines, line)
	if len(m.lines) > 200 {
		m.lines = m.lines[len(m.lines)-200:]
	}
	m.log.SetContent(strings.Join(m.lines, "\n"))
	m.log.GotoBottom()
	return m
}

func formatActivity(a Activity) string {
	ts := time.Now().Format("15:04:05")
	switch a.Kind {
	case "adv":
		return fmt.Sprintf("%s  %s", ts, a.Info)
	case "write":
		return fmt.Sprintf("%s  write   conn=%d %s", ts, a.Conn, a.Info)
	default:
		line := fmt.Sprintf("%s  %-7s conn=%d", ts, a.Kind, a.Conn)
		if a.Info != "" {
			line += " " + a.Info
		}
		return line
	}
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	st := m.sim.Sys.Server.Status()
	frame, frames := m.sim.Target.Snapshot()

	header := titleStyle.Render("scrollsim") + "  " +
		field("phase", st.State.Phase.String()) + "  " +
		field("adv", fmt.Sprint(st.State.Advertising)) + "  " +
		field("conns", fmt.Sprint(st.State.Connections)) + "  " +
		field("addr", st.Address.String())

	side := strings.Join([]string{
		field("text", fmt.Sprintf("%q", m.sim.Sys.Loop.Text())),
		field("pending", fmt.Sprint(m.sim.Sys.Cell.Pending())),
		field("alert", fmt.Sprint(m.sim.Sys.Alert.Load())),
		field("frames", fmt.Sprint(frames)),
		field("notified", fmt.Sprint(m.sim.Radio.notified.Load())),
		field("dropped", fmt.Sprint(m.sim.Source.Dropped())),
	}, "\n")

	body := lipgloss.JoinHorizontal(lipgloss.Top,
		panelStyle.Render(renderMatrix(frame)),
		"  ",
		side,
	)

	var b strings.Builder
	b.WriteString(header + "\n")
	b.WriteString(body + "\n")
	if m.typing {
		b.WriteString(m.input.View() + "\n")
	}
	if m.lastErr != "" {
		b.WriteString(errStyle.Render(m.lastErr) + "\n")
	}
	b.WriteString(panelStyle.Render(m.log.View()) + "\n")
	b.WriteString(helpStyle.Render("c connect  d disconnect  t trigger  a alert  i message  r readvertise  m mtu  q quit"))
	return b.String()
}

func field(label, value string) string {
	return labelStyle.Render(label+":") + " " + valueStyle.Render(value)
}

// renderMatrix draws the frame as a grid of colored cells.
func renderMatrix(frame [display.Pixels]color.RGBA) string {
	var b strings.Builder
	for y := 0; y < display.Height; y++ {
		for x := 0; x < display.Width; x++ {
			c := frame[y*display.Width+x]
			hex := fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
			b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color(hex)).Render("██"))
		}
		if y < display.Height-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}
