// Package progress renders a running solve in the terminal and formats
// finished results.
package progress

import (
	"context"
	"fmt"
	"math"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/ercrd/internal/optimizer"
)

const historyCapacity = 200

type progressMsg optimizer.Progress

type doneMsg struct {
	res *optimizer.Result
	err error
}

// Model is the bubbletea model of one solve.
type Model struct {
	problem string
	last    optimizer.Progress
	costs   []float64
	seen    bool
	res     *optimizer.Result
	err     error
	cancel  context.CancelFunc
	width   int
}

func NewModel(problem string, cancel context.CancelFunc) Model {
	return Model{problem: problem, cancel: cancel, width: 60}
}

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if m.cancel != nil {
				m.cancel()
			}
		}
		return m, nil
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case progressMsg:
		m.last = optimizer.Progress(msg)
		m.seen = true
		if !math.IsInf(msg.Cost, 0) && !math.IsNaN(msg.Cost) {
			m.costs = append(m.costs, msg.Cost)
			if len(m.costs) > historyCapacity {
				m.costs = m.costs[len(m.costs)-historyCapacity:]
			}
		}
		return m, nil
	case doneMsg:
		m.res, m.err = msg.res, msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) View() string {
	var s strings.Builder
	s.WriteString(title.Render("ercrd · "+m.problem) + "\n\n")

	if !m.seen {
		s.WriteString(hint.Render("initialising…") + "\n")
		return panel.Render(s.String())
	}

	row := func(name, v string) {
		s.WriteString(label.Render(name) + value.Render(v) + "\n")
	}
	row("phase", m.last.Phase.String())
	row("iteration", fmt.Sprintf("%d", m.last.Iteration))
	row("cost", fmt.Sprintf("%.6g", m.last.Cost))
	if !math.IsNaN(m.last.GradientNorm) {
		row("‖∇J‖", fmt.Sprintf("%.3e", m.last.GradientNorm))
	}
	if m.last.Step > 0 {
		row("step", fmt.Sprintf("%.3g", m.last.Step))
	}
	row("violation", fmt.Sprintf("%.3g", m.last.MaxViolation))

	if len(m.costs) > 1 {
		w := m.width - 20
		if w < 20 {
			w = 20
		}
		chart := asciigraph.Plot(m.costs, asciigraph.Height(6), asciigraph.Width(w), asciigraph.Caption("cost"))
		s.WriteString("\n" + graphStyle.Render(chart) + "\n")
	}

	if m.res == nil && m.err == nil {
		s.WriteString("\n" + hint.Render("q to stop") + "\n")
	}
	return panel.Render(s.String())
}

// Result is the outcome once the model has quit.
func (m Model) Result() (*optimizer.Result, error) {
	return m.res, m.err
}

// SolveFunc runs a solve that reports to obs.
type SolveFunc func(ctx context.Context, obs optimizer.Observer) (*optimizer.Result, error)

// Watch runs solve while rendering its progress. Pressing q cancels the
// solve; the best trajectory so far is still returned.
func Watch(ctx context.Context, problem string, solve SolveFunc, opts ...tea.ProgramOption) (*optimizer.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewModel(problem, cancel), opts...)
	go func() {
		obs := optimizer.ObserverFunc(func(pr optimizer.Progress) { p.Send(progressMsg(pr)) })
		res, err := solve(ctx, obs)
		p.Send(doneMsg{res: res, err: err})
	}()

	final, err := p.Run()
	if err != nil {
		return nil, fmt.Errorf("progress view: %w", err)
	}
	return final.(Model).Result()
}
