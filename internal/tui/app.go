// Package tui is the terminal watcher: it joins a session as a participant
// and renders its target, pursuers, clock and the scoreboard.
package tui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/chainhunt/backend/internal/chain"
	"github.com/chainhunt/backend/internal/client"
	"github.com/chainhunt/backend/internal/session"
	"github.com/chainhunt/backend/internal/ws"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const frameInterval = 200 * time.Millisecond

type frameMsg time.Time

type scoreboardMsg struct {
	snap *session.Snapshot
	err  error
}

type actionMsg struct {
	action string
	err    error
}

// Model is the root Bubble Tea model.
type Model struct {
	ws     *client.WSClient
	http   *client.HTTPClient
	ctx    context.Context
	cancel context.CancelFunc

	keys   KeyMap
	width  int
	height int

	me       ws.WelcomePayload
	target   chain.ParticipantID
	pursuers []chain.ParticipantID
	state    ws.StatePayload
	stateAt  time.Time
	board    []session.Participant

	selectedIdx int
	connected   bool
	notice      string
	now         func() time.Time
}

func New(wsc *client.WSClient, httpc *client.HTTPClient) Model {
	ctx, cancel := context.WithCancel(context.Background())
	return Model{
		ws:     wsc,
		http:   httpc,
		ctx:    ctx,
		cancel: cancel,
		keys:   DefaultKeyMap(),
		now:    time.Now,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.ws.Listen(m.ctx), frame())
}

func frame() tea.Cmd {
	return tea.Tick(frameInterval, func(t time.Time) tea.Msg { return frameMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case frameMsg:
		return m, frame()

	case client.WSConnectedMsg:
		m.connected = true
		m.notice = ""
		return m, m.ws.ReadLoop()

	case client.WSDisconnectedMsg:
		m.connected = false
		m.target = chain.NoTarget
		m.pursuers = nil
		if m.ctx.Err() != nil {
			return m, nil
		}
		return m, m.ws.Listen(m.ctx)

	case client.WSWelcomeMsg:
		m.me = msg.Payload
		return m, tea.Batch(m.ws.ReadLoop(), m.fetchScoreboard())

	case client.WSTargetMsg:
		m.target = msg.Target
		return m, m.ws.ReadLoop()

	case client.WSPursuersMsg:
		m.pursuers = msg.Pursuers
		return m, m.ws.ReadLoop()

	case client.WSStateMsg:
		changed := msg.Payload.Phase != m.state.Phase ||
			msg.Payload.Active != m.state.Active ||
			msg.Payload.Connected != m.state.Connected
		m.state = msg.Payload
		m.stateAt = m.now()
		if changed {
			return m, tea.Batch(m.ws.ReadLoop(), m.fetchScoreboard())
		}
		return m, m.ws.ReadLoop()

	case client.WSRejectedMsg:
		m.notice = "rejected: " + msg.Reason
		return m, m.ws.ReadLoop()

	case scoreboardMsg:
		if msg.err != nil {
			m.notice = msg.err.Error()
			return m, nil
		}
		m.board = rankBoard(msg.snap.Participants)
		if m.selectedIdx >= len(m.board) {
			m.selectedIdx = max(len(m.board)-1, 0)
		}
		return m, nil

	case actionMsg:
		if msg.err != nil {
			m.notice = msg.action + ": " + msg.err.Error()
		} else {
			m.notice = msg.action + " ok"
		}
		return m, m.fetchScoreboard()
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.cancel()
		if m.ws != nil {
			_ = m.ws.Close()
		}
		return m, tea.Quit

	case key.Matches(msg, m.keys.Down):
		if len(m.board) > 0 {
			m.selectedIdx = (m.selectedIdx + 1) % len(m.board)
		}
		return m, nil

	case key.Matches(msg, m.keys.Up):
		if len(m.board) > 0 {
			m.selectedIdx = (m.selectedIdx - 1 + len(m.board)) % len(m.board)
		}
		return m, nil

	case key.Matches(msg, m.keys.Start):
		return m, m.send("start", m.ws.Start)

	case key.Matches(msg, m.keys.End):
		return m, m.send("end", m.ws.End)

	case key.Matches(msg, m.keys.Resync):
		return m, m.send("resync", m.ws.Resync)

	case key.Matches(msg, m.keys.Kill):
		if len(m.board) == 0 {
			return m, nil
		}
		return m, m.reportKill(m.board[m.selectedIdx].ID)
	}
	return m, nil
}

func (m Model) send(action string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		return actionMsg{action: action, err: fn()}
	}
}

// reportKill finds who hunts victim and reports the kill. It needs the host
// token for both the graph lookup and the report.
func (m Model) reportKill(victim chain.ParticipantID) tea.Cmd {
	hc := m.http
	return func() tea.Msg {
		if hc == nil {
			return actionMsg{action: "kill", err: fmt.Errorf("no api client")}
		}
		edges, err := hc.Graph()
		if err != nil {
			return actionMsg{action: "kill", err: err}
		}
		killer, ok := hunterOf(edges, victim)
		if !ok {
			return actionMsg{action: "kill", err: fmt.Errorf("nobody is hunting %s", victim)}
		}
		_, err = hc.Kill(killer, victim)
		return actionMsg{action: "kill " + string(victim), err: err}
	}
}

func hunterOf(edges map[chain.ParticipantID]chain.ParticipantID, victim chain.ParticipantID) (chain.ParticipantID, bool) {
	hunters := make([]chain.ParticipantID, 0, 1)
	for p, t := range edges {
		if t == victim {
			hunters = append(hunters, p)
		}
	}
	if len(hunters) == 0 {
		return "", false
	}
	sort.Slice(hunters, func(i, j int) bool { return hunters[i] < hunters[j] })
	return hunters[0], true
}

func (m Model) fetchScoreboard() tea.Cmd {
	hc := m.http
	if hc == nil {
		return nil
	}
	return func() tea.Msg {
		snap, err := hc.Session()
		return scoreboardMsg{snap: snap, err: err}
	}
}

// rankBoard orders survivors first, then by kills, then by id.
func rankBoard(ps []session.Participant) []session.Participant {
	out := append([]session.Participant(nil), ps...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Eliminated != out[j].Eliminated {
			return !out[i].Eliminated
		}
		if out[i].Kills != out[j].Kills {
			return out[i].Kills > out[j].Kills
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// clock interpolates the replicated clock between state pushes.
func (m Model) clock() time.Duration {
	remaining := time.Duration(m.state.ClockRemainingMs) * time.Millisecond
	if m.state.InProgress && !m.stateAt.IsZero() {
		remaining -= m.now().Sub(m.stateAt)
	}
	return max(remaining, 0)
}

func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}
	if !m.connected {
		return m.renderDisconnected()
	}

	help := make([]string, 0, len(m.keys.ShortHelp()))
	for _, b := range m.keys.ShortHelp() {
		h := b.Help()
		help = append(help, h.Key+":"+h.Desc)
	}

	sections := []string{
		m.renderStatus(),
		m.renderHunt(),
		m.renderBoard(),
	}
	if m.notice != "" {
		sections = append(sections, lipgloss.NewStyle().Foreground(ColorWarning).Render("  "+m.notice))
	}
	sections = append(sections, StyleDimmed.Render("  "+strings.Join(help, "  ")))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderDisconnected() string {
	body := lipgloss.JoinVertical(lipgloss.Center,
		lipgloss.NewStyle().Bold(true).Foreground(ColorDanger).Render("DISCONNECTED"),
		StyleDimmed.Render("Reconnecting..."),
	)
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, StyleBorder.Padding(1, 4).Render(body))
}

func (m Model) renderStatus() string {
	width := max(m.width, 40)

	phase := m.state.Phase
	if phase == "" {
		phase = "unknown"
	}
	phaseStr := lipgloss.NewStyle().Foreground(PhaseColor(phase)).Render(strings.ReplaceAll(phase, "_", " "))

	remaining := m.clock()
	clockStr := lipgloss.NewStyle().Bold(true).
		Foreground(ClockColor(remaining.Milliseconds(), m.state.DurationMs)).
		Render(formatClock(remaining))

	who := string(m.me.ID)
	if m.me.Name != "" {
		who = m.me.Name
	}
	if m.me.Authoritative {
		who += " (host)"
	}

	sep := lipgloss.NewStyle().Foreground(ColorBorder).Render(" | ")
	content := lipgloss.NewStyle().Foreground(ColorHealthy).Render("● "+who) + sep + phaseStr + sep + clockStr + sep +
		fmt.Sprintf("%d alive  %d connected", m.state.Active, m.state.Connected)

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(ColorBorder).
		Render(content)
}

func (m Model) renderHunt() string {
	target := StyleDimmed.Render("none")
	if m.target != chain.NoTarget {
		target = lipgloss.NewStyle().Bold(true).Foreground(ColorTarget).Render(string(m.target))
	}
	hunters := StyleDimmed.Render("none")
	if len(m.pursuers) > 0 {
		names := make([]string, len(m.pursuers))
		for i, p := range m.pursuers {
			names[i] = string(p)
		}
		hunters = lipgloss.NewStyle().Foreground(ColorPursuer).Render(strings.Join(names, ", "))
	}
	return StyleHeader.Render("  TARGET   ") + target + "\n" + StyleHeader.Render("  HUNTED BY ") + hunters
}

func (m Model) renderBoard() string {
	lines := []string{StyleHeader.Render("=== SCOREBOARD ===========================================")}
	for i, p := range m.board {
		prefix := "  "
		if i == m.selectedIdx {
			prefix = "> "
		}
		color := ColorActive
		status := "alive"
		if p.Eliminated {
			color, status = ColorEliminated, "out"
		}
		if p.ID == m.me.ID {
			color = ColorSelf
		}
		name := p.Name
		if name == "" {
			name = string(p.ID)
		}
		line := fmt.Sprintf("%-24s %3d kills  %s", truncate(name, 24), p.Kills, status)
		lines = append(lines, prefix+lipgloss.NewStyle().Foreground(color).Render(line))
	}
	if len(m.board) == 0 {
		lines = append(lines, StyleDimmed.Render("  No players yet"))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func formatClock(d time.Duration) string {
	d = d.Round(time.Second)
	return fmt.Sprintf("%02d:%02d", int(d/time.Minute), int(d%time.Minute/time.Second))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
