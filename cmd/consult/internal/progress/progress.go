// Package progress shows a spinner on the terminal while a blocking call runs.
package progress

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/germanamz/consult/cmd/consult/internal/styles"
)

type doneMsg struct{}

// Model is the bubbletea model behind Run. It renders "<spinner> <title> (<elapsed>)"
// until it receives the completion message, then clears its line.
type Model struct {
	spinner spinner.Model
	title   string
	start   time.Time
	now     func() time.Time
	done    bool
}

// NewModel creates a spinner model with the given title.
func NewModel(title string) Model {
	s := spinner.New(
		spinner.WithSpinner(spinner.MiniDot),
		spinner.WithStyle(styles.SpinnerStyle),
	)

	return Model{spinner: s, title: title, start: time.Now(), now: time.Now}
}

// Init starts the spinner animation.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update advances the spinner and quits once the work is done.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case doneMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the spinner line. It is empty once done so nothing is left behind.
func (m Model) View() string {
	if m.done {
		return ""
	}

	elapsed := m.now().Sub(m.start).Truncate(100 * time.Millisecond)

	return fmt.Sprintf("%s %s %s", m.spinner.View(), m.title, styles.DimStyle.Render(elapsed.String()))
}

// Done reports whether the completion message was received.
func (m Model) Done() bool {
	return m.done
}

// Run calls fn while a spinner titled title is drawn on out. The spinner is
// removed before Run returns. fn's error is returned unchanged; a failure of
// the terminal UI itself is not reported so the answer is never lost.
func Run(ctx context.Context, out io.Writer, title string, fn func(context.Context) error) error {
	p := tea.NewProgram(NewModel(title),
		tea.WithContext(ctx),
		tea.WithOutput(out),
		tea.WithInput(nil),
		tea.WithoutSignalHandler(),
	)

	result := make(chan error, 1)
	go func() {
		result <- fn(ctx)
		p.Send(doneMsg{})
	}()

	// Cancellation ends the program with ErrProgramKilled; fn still reports it.
	_, _ = p.Run()

	return <-result
}
