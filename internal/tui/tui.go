package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/n0roo/session-etl/internal/dags"
	"github.com/n0roo/session-etl/internal/db"
	"github.com/n0roo/session-etl/internal/lock"
	"github.com/n0roo/session-etl/internal/pipeline"
)

// Tab represents a dashboard tab
type Tab int

const (
	TabStatus Tab = iota
	TabRuns
	TabDAGs
	TabLocks
)

const tabCount = 4

func (t Tab) String() string {
	return []string{"Status", "Runs", "DAGs", "Locks"}[t]
}

// dagState is the per-DAG view of the history
type dagState struct {
	dag      *dags.DAG
	last     time.Time
	hasLast  bool
	next     time.Time
	progress string
}

// Model is the main TUI model
type Model struct {
	// Config
	dbPath string
	dags   []*dags.DAG

	// State
	currentTab  Tab
	width       int
	height      int
	ready       bool
	lastRefresh time.Time
	err         error

	// Data
	runs   []pipeline.Run
	states []dagState
	locks  []lock.Lock

	// Components
	spinner spinner.Model
}

// tickMsg is sent periodically to refresh data
type tickMsg time.Time

// dataMsg carries refreshed data
type dataMsg struct {
	runs   []pipeline.Run
	states []dagState
	locks  []lock.Lock
	err    error
}

// NewModel creates a new TUI model
func NewModel(dbPath string, all []*dags.DAG) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(primaryColor)

	return Model{
		dbPath:     dbPath,
		dags:       all,
		currentTab: TabStatus,
		spinner:    s,
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.refreshData,
		tickEvery(5*time.Second),
	)
}

// tickEvery returns a command that ticks every duration
func tickEvery(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// refreshData fetches fresh data
func (m Model) refreshData() tea.Msg {
	var data dataMsg

	database, err := db.Open(m.dbPath)
	if err != nil {
		data.err = err
		return data
	}
	defer database.Close()

	history := pipeline.NewService(database)
	if runs, err := history.ListRuns("", "", 20); err == nil {
		data.runs = runs
	} else {
		data.err = err
	}

	now := time.Now()
	for _, d := range m.dags {
		st := dagState{dag: d, next: d.Schedule.Next(now)}
		if last, ok, err := history.LastCompleteSlot(d.ID); err == nil {
			st.last, st.hasLast = last, ok
		}
		data.states = append(data.states, st)
	}

	// 실행 중인 run 진행률
	for i := range data.states {
		for _, r := range data.runs {
			if r.DAGID != data.states[i].dag.ID || r.Status != pipeline.StatusRunning {
				continue
			}
			if done, total, err := history.GetProgress(r.ID); err == nil {
				data.states[i].progress = fmt.Sprintf("%d/%d", done, total)
			}
			break
		}
	}

	if locks, err := lock.NewService(database).List(); err == nil {
		data.locks = locks
	}

	return data
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "1":
			m.currentTab = TabStatus
		case "2":
			m.currentTab = TabRuns
		case "3":
			m.currentTab = TabDAGs
		case "4":
			m.currentTab = TabLocks
		case "r":
			return m, m.refreshData
		case "tab":
			m.currentTab = Tab((int(m.currentTab) + 1) % tabCount)
		case "shift+tab":
			m.currentTab = Tab((int(m.currentTab) + tabCount - 1) % tabCount)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true

	case tickMsg:
		return m, tea.Batch(
			m.refreshData,
			tickEvery(5*time.Second),
		)

	case dataMsg:
		m.runs = msg.runs
		m.states = msg.states
		m.locks = msg.locks
		m.err = msg.err
		m.lastRefresh = time.Now()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the UI
func (m Model) View() string {
	if !m.ready {
		return "\n  Loading..."
	}

	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.renderTabs())
	b.WriteString("\n\n")

	if m.err != nil {
		b.WriteString(statusErrorStyle.Render("  ✗ " + m.err.Error()))
		b.WriteString("\n\n")
	}

	switch m.currentTab {
	case TabStatus:
		b.WriteString(m.renderStatusTab())
	case TabRuns:
		b.WriteString(m.renderRunsTab())
	case TabDAGs:
		b.WriteString(m.renderDAGsTab())
	case TabLocks:
		b.WriteString(m.renderLocksTab())
	}

	b.WriteString("\n")
	b.WriteString(m.renderFooter())

	return b.String()
}

func (m Model) renderHeader() string {
	title := "🚀 session-etl Dashboard"
	refresh := fmt.Sprintf("Last refresh: %s", m.lastRefresh.Format("15:04:05"))

	headerWidth := m.width
	if headerWidth < 60 {
		headerWidth = 60
	}

	left := lipgloss.NewStyle().Bold(true).Render(title)
	right := lipgloss.NewStyle().Foreground(mutedColor).Render(refresh)

	gap := headerWidth - lipgloss.Width(left) - lipgloss.Width(right) - 4
	if gap < 0 {
		gap = 0
	}

	return lipgloss.NewStyle().
		Background(lipgloss.Color("#2D3748")).
		Foreground(lipgloss.Color("#FFFFFF")).
		Padding(0, 1).
		Width(headerWidth).
		Render(left + strings.Repeat(" ", gap) + right)
}

func (m Model) renderTabs() string {
	var tabs []string
	for i := 0; i < tabCount; i++ {
		tab := Tab(i)
		style := tabStyle
		if tab == m.currentTab {
			style = activeTabStyle
		}
		tabs = append(tabs, style.Render(fmt.Sprintf("[%d]%s", i+1, tab.String())))
	}
	return strings.Join(tabs, " ")
}

func (m Model) renderFooter() string {
	return helpStyle.Render("  [1-4] Switch tabs  [Tab] Next  [r] Refresh  [q] Quit")
}

func (m Model) renderStatusTab() string {
	counts := make(map[string]int)
	for _, r := range m.runs {
		counts[r.Status]++
	}

	running := fmt.Sprintf("%d", counts[pipeline.StatusRunning])
	if counts[pipeline.StatusRunning] > 0 {
		running = m.spinner.View() + " " + running
	}

	runsBox := boxStyle.Width(35).Render(
		titleStyle.Render("🔄 Recent runs") + "\n" +
			fmt.Sprintf("Running:  %s\n", statusActiveStyle.Render(running)) +
			fmt.Sprintf("Complete: %s\n", statusActiveStyle.Render(fmt.Sprintf("%d", counts[pipeline.StatusComplete]))) +
			fmt.Sprintf("Failed:   %s\n", statusErrorStyle.Render(fmt.Sprintf("%d", counts[pipeline.StatusFailed]))) +
			fmt.Sprintf("Total:    %d", len(m.runs)),
	)

	locksBox := boxStyle.Width(35).Render(
		titleStyle.Render("🔒 Slot locks") + "\n" +
			fmt.Sprintf("Held: %s", statusPendingStyle.Render(fmt.Sprintf("%d", len(m.locks)))),
	)

	return lipgloss.JoinHorizontal(lipgloss.Top, runsBox, "  ", locksBox)
}

func (m Model) renderRunsTab() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("🔄 Runs"))
	b.WriteString("\n\n")

	if len(m.runs) == 0 {
		b.WriteString(statusMutedStyle.Render("  No runs"))
		b.WriteString("\n\n")
		b.WriteString(subtitleStyle.Render("  Run: setl run <dag>"))
		return b.String()
	}

	for _, r := range m.runs {
		icon := StatusIcon(r.Status)
		extra := ""
		if r.DryRun {
			extra = statusMutedStyle.Render(" (dry-run)")
		}
		if r.StartedAt.Valid {
			end := time.Now()
			if r.CompletedAt.Valid {
				end = r.CompletedAt.Time
			}
			extra += statusMutedStyle.Render(" " + FormatDuration(end.Sub(r.StartedAt.Time)))
		}
		b.WriteString(fmt.Sprintf("  %s %-10s %s  %s%s\n",
			icon, r.DAGID, r.Slot.UTC().Format(time.RFC3339), statusMutedStyle.Render(shortID(r.ID)), extra))
		if r.Error.Valid {
			b.WriteString("      " + statusErrorStyle.Render(r.Error.String) + "\n")
		}
	}

	return b.String()
}

func (m Model) renderDAGsTab() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("📋 DAGs"))
	b.WriteString("\n\n")

	for _, st := range m.states {
		d := st.dag
		b.WriteString(fmt.Sprintf("  %s %s\n", statusActiveStyle.Render(d.ID), subtitleStyle.Render(d.Name)))
		b.WriteString(fmt.Sprintf("    %s %s\n", detailLabelStyle.Render("schedule"), d.Schedule))
		b.WriteString(fmt.Sprintf("    %s %s\n", detailLabelStyle.Render("next"), st.next.Format(time.RFC3339)))

		last := "-"
		if st.hasLast {
			last = st.last.Format(time.RFC3339)
		}
		b.WriteString(fmt.Sprintf("    %s %s\n", detailLabelStyle.Render("last ok"), last))

		if st.progress != "" {
			b.WriteString(fmt.Sprintf("    %s %s %s\n", detailLabelStyle.Render("running"), m.spinner.View(), st.progress))
		}
		b.WriteString(fmt.Sprintf("    %s %s\n\n", detailLabelStyle.Render("tasks"), strings.Join(d.Graph.Order(), " → ")))
	}

	return b.String()
}

func (m Model) renderLocksTab() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("🔒 Locks"))
	b.WriteString("\n\n")

	if len(m.locks) == 0 {
		b.WriteString(statusMutedStyle.Render("  No locks"))
		return b.String()
	}

	for _, l := range m.locks {
		held := FormatDuration(time.Since(l.AcquiredAt))
		b.WriteString(fmt.Sprintf("  %s %s  %s %s\n",
			StatusIcon(pipeline.StatusRunning), l.Resource, statusMutedStyle.Render(l.Owner), statusMutedStyle.Render(held)))
	}

	return b.String()
}

// shortID trims a run id for display
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Run starts the TUI
func Run(dbPath string, all []*dags.DAG) error {
	p := tea.NewProgram(
		NewModel(dbPath, all),
		tea.WithAltScreen(),
	)

	_, err := p.Run()
	return err
}
