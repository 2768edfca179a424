package board

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/egv/super-ralph-lite/internal/eventbus"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
	landedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	evictedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	footerStyle  = lipgloss.NewStyle().Faint(true)
)

// Model is the read-only ticket dashboard, following yolo-runner's TUI's
// spinner-plus-tick-driven polling shape but with no control-plane state:
// it never stops a run, it only shows one.
type Model struct {
	runID     string
	poll      func() Snapshot
	snap      Snapshot
	spinner   spinner.Model
	now       func() time.Time
	lastPoll  time.Time
	quitting  bool
	busCh     <-chan []byte
	busCancel func()
	busEvents int
}

// NewModel builds a dashboard for runID, polling snapshots through poll.
func NewModel(runID string, poll func() Snapshot) Model {
	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	return Model{runID: runID, poll: poll, spinner: sp, now: time.Now}
}

// NewModelWithBus builds a dashboard that subscribes to runID's subject on
// the given bus and additionally re-polls whenever an event arrives there,
// giving the tick-driven poll loop a live push in addition to its
// once-a-second fallback.
func NewModelWithBus(runID string, poll func() Snapshot, bus eventbus.Bus) (Model, error) {
	m := NewModel(runID, poll)
	ch, cancel, err := bus.Subscribe(eventbus.RunSubject(runID))
	if err != nil {
		return Model{}, fmt.Errorf("board: subscribe to bus: %w", err)
	}
	m.busCh = ch
	m.busCancel = cancel
	return m, nil
}

type snapshotMsg Snapshot

type tickMsg struct{}

// busEventMsg carries the raw bus payload up to Update; the dashboard only
// uses it as a trigger to re-poll, since the stores remain the source of
// truth for rendered state.
type busEventMsg struct {
	payload []byte
	ch      <-chan []byte
}

func waitForBusEvent(ch <-chan []byte) tea.Cmd {
	return func() tea.Msg {
		payload, ok := <-ch
		if !ok {
			return nil
		}
		return busEventMsg{payload: payload, ch: ch}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

func (m Model) pollCmd() tea.Cmd {
	return func() tea.Msg {
		return snapshotMsg(m.poll())
	}
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick, m.pollCmd(), tickCmd()}
	if m.busCh != nil {
		cmds = append(cmds, waitForBusEvent(m.busCh))
	}
	return tea.Batch(cmds...)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	m.spinner, cmd = m.spinner.Update(msg)

	switch typed := msg.(type) {
	case snapshotMsg:
		m.snap = Snapshot(typed)
		m.lastPoll = m.now()
	case tickMsg:
		return m, tea.Batch(cmd, m.pollCmd(), tickCmd())
	case busEventMsg:
		m.busEvents++
		return m, tea.Batch(cmd, m.pollCmd(), waitForBusEvent(typed.ch))
	case tea.KeyMsg:
		if typed.Type == tea.KeyCtrlC || (typed.Type == tea.KeyRunes && len(typed.Runes) == 1 && typed.Runes[0] == 'q') {
			m.quitting = true
			if m.busCancel != nil {
				m.busCancel()
			}
			return m, tea.Quit
		}
	}
	return m, cmd
}

func (m Model) View() string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s\n\n", m.spinner.View(), headerStyle.Render("run "+m.runID))

	if m.snap.Err != nil {
		fmt.Fprintf(&b, "error: %v\n", m.snap.Err)
	} else if len(m.snap.Tickets) == 0 {
		fmt.Fprintf(&b, "no tickets discovered yet\n")
	} else {
		for _, t := range m.snap.Tickets {
			b.WriteString(ticketLine(t))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	footer := fmt.Sprintf("polled %s ago (q: quit)", m.lastPollAge())
	if m.busCh != nil {
		footer = fmt.Sprintf("%s | %d live updates", footer, m.busEvents)
	}
	b.WriteString(footerStyle.Render(footer))
	b.WriteString("\n")
	return b.String()
}

func ticketLine(t TicketStatus) string {
	state := string(t.CurrentStage)
	if state == "" {
		state = "queued"
	}
	switch {
	case t.Landed:
		state = landedStyle.Render("landed")
	case t.Evicted:
		reason := t.EvictReason
		if reason == "" {
			reason = "unknown"
		}
		state = evictedStyle.Render(fmt.Sprintf("evicted: %s", reason))
	}
	return fmt.Sprintf("  %-12s [%s] %s", t.ID, t.Tier, state)
}

func (m Model) lastPollAge() string {
	if m.lastPoll.IsZero() {
		return "n/a"
	}
	return m.now().Sub(m.lastPoll).Round(time.Second).String()
}
