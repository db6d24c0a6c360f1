// Package console is the operator terminal UI: live agents, open threats,
// the store event log and keys to authorize, dismiss or revoke.
package console

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"hiveops/internal/gate"
	"hiveops/internal/logging"
	"hiveops/internal/sink"
	"hiveops/internal/swarm"
)

// teaProgram abstracts bubbletea.Program for testing.
type teaProgram interface {
	Send(tea.Msg)
}

// eventMsg carries a store event for the log viewport.
type eventMsg struct{ sink.EventRow }

// tickMsg refreshes the tables from a new snapshot.
type tickMsg time.Time

// resultMsg reports the outcome of an operator action.
type resultMsg struct {
	line string
	err  error
}

const (
	maxLogLines    = 500
	refreshEvery   = 250 * time.Millisecond
	tablePadding   = 6
	minTableHeight = 3
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	dividerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	okStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	degradedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// Console runs the terminal UI as a sink.EventWriter.
type Console struct {
	program teaProgram
	run     func() (tea.Model, error)
	quit    func()
}

// New builds a console over store and g. The program owns the terminal
// once Run is called.
func New(store *swarm.Store, g *gate.Gate, log *slog.Logger) *Console {
	p := tea.NewProgram(newModel(store, g, log), tea.WithAltScreen())
	return &Console{program: p, run: p.Run, quit: p.Quit}
}

// Run blocks until the operator quits or ctx is done.
func (c *Console) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, c.quit)
	defer stop()
	_, err := c.run()
	return err
}

// WriteEvent implements sink.EventWriter.
func (c *Console) WriteEvent(row sink.EventRow) error {
	c.program.Send(eventMsg{row})
	return nil
}

// WriteEvents implements the batch form of sink.EventWriter.
func (c *Console) WriteEvents(rows []sink.EventRow) error {
	for _, r := range rows {
		c.program.Send(eventMsg{r})
	}
	return nil
}

type model struct {
	store   *swarm.Store
	gate    *gate.Gate
	log     *slog.Logger
	agents  table.Model
	threats table.Model
	vp      viewport.Model
	logs    []string
	open    []swarm.ThreatRecord
	status  string
	backlog int
	version uint64
	wrap    bool
	width   int
	height  int
}

func newModel(store *swarm.Store, g *gate.Gate, log *slog.Logger) model {
	if log == nil {
		log = slog.Default()
	}
	agents := table.New(table.WithColumns([]table.Column{
		{Title: "Agent", Width: 12},
		{Title: "Role", Width: 9},
		{Title: "Status", Width: 12},
		{Title: "Phase", Width: 10},
		{Title: "Position", Width: 22},
	}), table.WithHeight(minTableHeight))
	threats := table.New(table.WithColumns([]table.Column{
		{Title: "ID", Width: 5},
		{Title: "Class", Width: 11},
		{Title: "Conf", Width: 5},
		{Title: "State", Width: 22},
		{Title: "Position", Width: 14},
		{Title: "Unit", Width: 10},
		{Title: "Expires", Width: 8},
	}), table.WithHeight(minTableHeight), table.WithFocused(true))
	m := model{
		store:   store,
		gate:    g,
		log:     log,
		agents:  agents,
		threats: threats,
		vp:      viewport.New(0, 0),
	}
	m.refresh()
	return m
}

func tick() tea.Cmd {
	return tea.Tick(refreshEvery, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Init() tea.Cmd { return tick() }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
	case tickMsg:
		m.refresh()
		return m, tick()
	case eventMsg:
		m.appendLog(formatEvent(msg.EventRow))
	case resultMsg:
		if msg.err != nil {
			m.status = errorStyle.Render(msg.err.Error())
		} else {
			m.status = okStyle.Render(msg.line)
		}
		m.refresh()
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "w":
			m.wrap = !m.wrap
			m.refreshViewport()
		case "a":
			return m, m.decide(swarm.DecisionAuthorize)
		case "d":
			return m, m.decide(swarm.DecisionDismiss)
		case "r":
			return m, m.revoke()
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.vp, cmd = m.vp.Update(msg)
			return m, cmd
		default:
			var cmd tea.Cmd
			m.threats, cmd = m.threats.Update(msg)
			return m, cmd
		}
	}
	return m, nil
}

// selected returns the highlighted open threat.
func (m model) selected() (swarm.ThreatRecord, bool) {
	i := m.threats.Cursor()
	if i < 0 || i >= len(m.open) {
		return swarm.ThreatRecord{}, false
	}
	return m.open[i], true
}

func (m model) decide(d swarm.Decision) tea.Cmd {
	t, ok := m.selected()
	if !ok {
		return nil
	}
	if t.State != swarm.ThreatPendingAuthorization {
		return func() tea.Msg {
			return resultMsg{err: fmt.Errorf("threat %d is %s, not pending", t.ID, t.State)}
		}
	}
	g, log := m.gate, m.log
	return func() tea.Msg {
		ctx := logging.NewContext(context.Background(), log.With("source", "console"))
		res, err := g.Decide(ctx, t.ID, d)
		if err != nil {
			return resultMsg{err: err}
		}
		switch {
		case res.SlotID != "":
			return resultMsg{line: fmt.Sprintf("threat %d authorized, %s engaging", t.ID, res.SlotID)}
		case res.Queued():
			return resultMsg{line: fmt.Sprintf("threat %d authorized, queued: no strike unit free", t.ID)}
		default:
			return resultMsg{line: fmt.Sprintf("threat %d dismissed", t.ID)}
		}
	}
}

func (m model) revoke() tea.Cmd {
	t, ok := m.selected()
	if !ok {
		return nil
	}
	g, log := m.gate, m.log
	return func() tea.Msg {
		ctx := logging.NewContext(context.Background(), log.With("source", "console"))
		if _, err := g.Revoke(ctx, t.ID); err != nil {
			return resultMsg{err: err}
		}
		return resultMsg{line: fmt.Sprintf("threat %d revoked", t.ID)}
	}
}

// refresh reloads both tables from the latest snapshot.
func (m *model) refresh() {
	snap := m.store.Snapshot()
	m.version = snap.Version
	m.backlog = snap.Backlog()

	agentRows := make([]table.Row, 0, len(snap.Agents))
	for _, a := range snap.Agents {
		status := string(a.Status)
		if a.Status == swarm.StatusDegraded {
			status = "! " + status
		}
		agentRows = append(agentRows, table.Row{
			a.ID, string(a.Role), status, a.Phase,
			fmt.Sprintf("%.1f,%.1f,%.1f", a.Position.X, a.Position.Y, a.Position.Z),
		})
	}
	m.agents.SetRows(agentRows)

	m.open = nil
	for _, t := range snap.Threats {
		switch t.State {
		case swarm.ThreatPendingAuthorization, swarm.ThreatAuthorized, swarm.ThreatAssigned:
			m.open = append(m.open, t)
		}
	}
	now := time.Now()
	threatRows := make([]table.Row, 0, len(m.open))
	for _, t := range m.open {
		expires := "-"
		if d, ok := m.gate.Deadline(t); ok {
			expires = fmt.Sprintf("%.0fs", max(d.Sub(now), 0).Seconds())
		}
		threatRows = append(threatRows, table.Row{
			fmt.Sprint(t.ID), t.ObjectClass, fmt.Sprintf("%.2f", t.Confidence), string(t.State),
			fmt.Sprintf("%.1f,%.1f", t.WorldPosition.X, t.WorldPosition.Y), t.AssignedSlot, expires,
		})
	}
	m.threats.SetRows(threatRows)
	if c := m.threats.Cursor(); c >= len(threatRows) && len(threatRows) > 0 {
		m.threats.SetCursor(len(threatRows) - 1)
	}
	m.layout()
}

func (m *model) appendLog(line string) {
	m.logs = append(m.logs, line)
	if len(m.logs) > maxLogLines {
		m.logs = m.logs[len(m.logs)-maxLogLines:]
	}
	m.refreshViewport()
}

func (m *model) refreshViewport() {
	var lines []string
	for _, l := range m.logs {
		if m.wrap && m.vp.Width > 0 {
			lines = append(lines, wordwrap.String(l, m.vp.Width))
		} else {
			lines = append(lines, l)
		}
	}
	m.vp.SetContent(strings.Join(lines, "\n"))
	m.vp.GotoBottom()
}

// layout sizes the tables to their rows and gives the log the rest.
func (m *model) layout() {
	m.agents.SetHeight(max(len(m.agents.Rows())+1, minTableHeight))
	m.threats.SetHeight(max(len(m.threats.Rows())+1, minTableHeight))
	m.vp.Width = m.width
	used := m.agents.Height() + m.threats.Height() + tablePadding + 3
	m.vp.Height = max(m.height-used, 1)
	m.refreshViewport()
}

func formatEvent(e sink.EventRow) string {
	ts := e.Timestamp.Format("15:04:05")
	switch swarm.EventKind(e.Kind) {
	case swarm.EventThreat:
		line := fmt.Sprintf("%s threat %d %s -> %s (%s %.2f at %.1f,%.1f)", ts, e.ThreatID, e.From, e.To, e.ObjectClass, e.Confidence, e.X, e.Y)
		if e.AgentID != "" {
			line += " unit=" + e.AgentID
		}
		return line
	case swarm.EventSlot:
		return fmt.Sprintf("%s slot %s %s -> %s", ts, e.AgentID, e.From, e.To)
	case swarm.EventPatrol:
		return fmt.Sprintf("%s patrol area moved to %.1f,%.1f %s", ts, e.X, e.Y, e.To)
	default:
		line := fmt.Sprintf("%s agent %s %s -> %s", ts, e.AgentID, e.From, e.To)
		if e.To == string(swarm.StatusDegraded) {
			line = degradedStyle.Render(line)
		}
		return line
	}
}

func (m model) View() string {
	divider := dividerStyle.Render(strings.Repeat("─", max(m.width, 10)))
	header := titleStyle.Render(fmt.Sprintf("hiveops  state v%d  backlog %d", m.version, m.backlog))
	sections := []string{
		header,
		m.agents.View(),
		divider,
		titleStyle.Render("Open threats"),
		m.threats.View(),
		divider,
		m.vp.View(),
		divider,
	}
	if m.status != "" {
		sections = append(sections, m.status)
	}
	sections = append(sections, helpStyle.Render("↑/↓ select  a authorize  d dismiss  r revoke  w wrap  q quit"))
	return strings.Join(sections, "\n")
}
