package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/n0roo/session-etl/internal/pipeline"
)

// taskStartedMsg reports a task start
type taskStartedMsg struct {
	taskID string
	at     time.Time
}

// taskFinishedMsg reports a task result
type taskFinishedMsg struct {
	result pipeline.TaskResult
}

// runFinishedMsg reports the end of the run
type runFinishedMsg struct {
	err error
}

// RunModel renders the live progress of one DAG run
type RunModel struct {
	dagID  string
	slot   time.Time
	order  []string
	cancel func()

	started    map[string]time.Time
	results    map[string]pipeline.TaskResult
	done       bool
	cancelling bool
	err        error

	spinner spinner.Model
}

// NewRunModel creates a progress model for the tasks in order.
// cancel is called when the user interrupts the run.
func NewRunModel(dagID string, slot time.Time, order []string, cancel func()) RunModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(primaryColor)

	return RunModel{
		dagID:   dagID,
		slot:    slot,
		order:   order,
		cancel:  cancel,
		started: make(map[string]time.Time),
		results: make(map[string]pipeline.TaskResult),
		spinner: s,
	}
}

// Init initializes the model
func (m RunModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles messages
func (m RunModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.done {
				return m, tea.Quit
			}
			// 실행 중이면 취소 요청 후 종료 메시지를 기다림
			if !m.cancelling && m.cancel != nil {
				m.cancel()
			}
			m.cancelling = true
		}

	case taskStartedMsg:
		m.started[msg.taskID] = msg.at

	case taskFinishedMsg:
		m.results[msg.result.TaskID] = msg.result

	case runFinishedMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// Err returns the run error once finished
func (m RunModel) Err() error {
	return m.err
}

func (m RunModel) taskStatus(id string) string {
	if r, ok := m.results[id]; ok {
		return r.Status
	}
	if _, ok := m.started[id]; ok {
		return pipeline.StatusRunning
	}
	return pipeline.StatusPending
}

// View renders the UI
func (m RunModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(fmt.Sprintf("🚀 %s", m.dagID)))
	b.WriteString(subtitleStyle.Render(fmt.Sprintf("  slot %s", m.slot.UTC().Format(time.RFC3339))))
	b.WriteString("\n")

	finished := len(m.results)
	percent := 0.0
	if len(m.order) > 0 {
		percent = float64(finished) / float64(len(m.order))
	}
	b.WriteString(fmt.Sprintf("%s %d/%d\n\n", RenderProgressBar(percent, 30), finished, len(m.order)))

	for _, id := range m.order {
		status := m.taskStatus(id)
		icon := StatusIcon(status)
		if status == pipeline.StatusRunning {
			icon = m.spinner.View()
		}

		line := fmt.Sprintf("  %s %-32s %s", icon, id, statusMutedStyle.Render(status))
		if r, ok := m.results[id]; ok {
			line += statusMutedStyle.Render(" " + FormatDuration(r.Duration))
			switch {
			case r.Error != nil:
				line += "\n      " + statusErrorStyle.Render(r.Error.Error())
			case r.Output != "":
				line += "\n      " + statusMutedStyle.Render(r.Output)
			}
		} else if at, ok := m.started[id]; ok {
			line += statusMutedStyle.Render(" " + FormatDuration(time.Since(at)))
		}
		b.WriteString(line + "\n")
	}

	switch {
	case m.done && m.err != nil:
		b.WriteString("\n" + statusErrorStyle.Render("💥 "+m.err.Error()) + "\n")
	case m.done:
		b.WriteString("\n" + statusActiveStyle.Render("🎉 complete") + "\n")
	case m.cancelling:
		b.WriteString(helpStyle.Render("  cancelling...") + "\n")
	default:
		b.WriteString(helpStyle.Render("  [q] Cancel") + "\n")
	}

	return b.String()
}

// Progress forwards run events to a running program
type Progress struct {
	p *tea.Program
}

// Started reports a task start
func (pr *Progress) Started(taskID string) {
	pr.p.Send(taskStartedMsg{taskID: taskID, at: time.Now()})
}

// Finished reports a task result
func (pr *Progress) Finished(r pipeline.TaskResult) {
	pr.p.Send(taskFinishedMsg{result: r})
}

// Done reports the end of the run and stops the program
func (pr *Progress) Done(err error) {
	pr.p.Send(runFinishedMsg{err: err})
}

// RunProgress renders m while work runs in the background.
// work must call Done exactly once. RunProgress returns only after work
// has returned; if the program fails, the run is cancelled first.
func RunProgress(m RunModel, work func(*Progress), opts ...tea.ProgramOption) error {
	p := tea.NewProgram(m, opts...)

	done := make(chan struct{})
	go func() {
		defer close(done)
		work(&Progress{p: p})
	}()

	final, err := p.Run()
	if err != nil {
		// 화면 없이 남은 실행을 취소하고 종료를 기다림
		if m.cancel != nil {
			m.cancel()
		}
		<-done
		return fmt.Errorf("진행 화면 실행 실패: %w", err)
	}

	<-done
	if rm, ok := final.(RunModel); ok {
		return rm.Err()
	}
	return nil
}
