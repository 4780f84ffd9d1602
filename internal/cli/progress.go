package cli

import (
	"fmt"
	"os"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

var progressLabelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))

// progressReporter is the interface build reports its progress through
// (one Update per captured region, with the region count as the total),
// letting the command stay agnostic of whether a terminal is attached.
type progressReporter interface {
	Update(chunkIndex, totalChunks int)
	Done()
}

// newProgressReporter returns a bubbletea progress bar when stdout is a
// terminal, falling back to plain stderr line updates otherwise — mirrors
// how TUI-capable CLI tools in the ecosystem degrade for piped output.
func newProgressReporter(label string) progressReporter {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		return &plainReporter{label: label}
	}
	return newTeaReporter(label)
}

type plainReporter struct {
	label string
}

func (p *plainReporter) Update(chunkIndex, totalChunks int) {
	fmt.Fprintf(os.Stderr, "%s: %d/%d\n", p.label, chunkIndex, totalChunks)
}

func (p *plainReporter) Done() {
	fmt.Fprintf(os.Stderr, "%s: done\n", p.label)
}

type progressMsg struct {
	chunkIndex, totalChunks int
}

type doneMsg struct{}

type teaReporter struct {
	label   string
	program *tea.Program
	done    chan struct{}
}

type progressModel struct {
	label string
	bar   progress.Model
	total int
}

func newProgressModel(label string) progressModel {
	return progressModel{label: label, bar: progress.New(progress.WithDefaultGradient())}
}

func (m progressModel) Init() tea.Cmd { return nil }

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch v := msg.(type) {
	case progressMsg:
		m.total = v.totalChunks
		if v.totalChunks > 0 {
			return m, m.bar.SetPercent(float64(v.chunkIndex) / float64(v.totalChunks))
		}
		return m, nil
	case doneMsg:
		return m, tea.Quit
	case tea.KeyMsg:
		if v.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case progress.FrameMsg:
		newModel, cmd := m.bar.Update(msg)
		m.bar = newModel.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m progressModel) View() string {
	return fmt.Sprintf("%s\n%s\n", progressLabelStyle.Render(m.label), m.bar.View())
}

func newTeaReporter(label string) *teaReporter {
	model := newProgressModel(label)
	p := tea.NewProgram(model)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = p.Run()
	}()
	return &teaReporter{label: label, program: p, done: done}
}

func (t *teaReporter) Update(chunkIndex, totalChunks int) {
	t.program.Send(progressMsg{chunkIndex: chunkIndex, totalChunks: totalChunks})
}

func (t *teaReporter) Done() {
	t.program.Send(doneMsg{})
	<-t.done
}
