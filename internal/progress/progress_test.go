package progress

import (
	"context"
	"io"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/ercrd/internal/dynamo"
	"github.com/san-kum/ercrd/internal/logging"
	"github.com/san-kum/ercrd/internal/models"
	"github.com/san-kum/ercrd/internal/optimizer"
)

func init() {
	_ = logging.SetLevel("disabled")
}

func solver(t *testing.T) SolveFunc {
	t.Helper()
	p := dynamo.Problem{
		Dynamics:     models.NewScalar(0.5, 1),
		Adaptability: models.NewIdentityQuadratic(1, nil),
		Control:      models.NewEffort(1),
	}
	cfg := optimizer.DefaultConfig()
	cfg.Steps = 10
	cfg.MaxIterations = 20
	opt, err := optimizer.New(p, cfg)
	require.NoError(t, err)
	return func(ctx context.Context, obs optimizer.Observer) (*optimizer.Result, error) {
		return opt.Solve(ctx, dynamo.State{1}, optimizer.WithObserver(obs))
	}
}

func TestModelTracksProgress(t *testing.T) {
	var m tea.Model = NewModel("lqr", nil)
	assert.Contains(t, m.View(), "initialising")

	for i, c := range []float64{4, 2, 1} {
		m, _ = m.Update(progressMsg{Phase: optimizer.PhaseIterating, Iteration: i, Cost: c, GradientNorm: 0.5, Step: 1})
	}
	view := m.View()

	assert.Contains(t, view, "iterating")
	assert.Contains(t, view, "cost")
	assert.Contains(t, view, "q to stop")
	assert.Equal(t, []float64{4, 2, 1}, m.(Model).costs)
}

func TestModelKeepsBoundedHistory(t *testing.T) {
	var m tea.Model = NewModel("lqr", nil)
	for i := 0; i < historyCapacity+10; i++ {
		m, _ = m.Update(progressMsg{Phase: optimizer.PhaseIterating, Iteration: i, Cost: float64(i)})
	}
	costs := m.(Model).costs
	assert.Len(t, costs, historyCapacity)
	assert.Equal(t, float64(historyCapacity+9), costs[len(costs)-1])
}

func TestModelQuitCancels(t *testing.T) {
	cancelled := false
	var m tea.Model = NewModel("lqr", func() { cancelled = true })

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	assert.True(t, cancelled)

	_, cmd := m.Update(doneMsg{})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
}

func TestWatch(t *testing.T) {
	res, err := Watch(context.Background(), "lqr", solver(t),
		tea.WithInput(nil), tea.WithOutput(io.Discard), tea.WithoutRenderer())
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Positive(t, res.Iterations())
}

func TestSummary(t *testing.T) {
	res, err := solver(t)(context.Background(), optimizer.ObserverFunc(func(optimizer.Progress) {}))
	require.NoError(t, err)

	out := Summary("lqr", res, map[string]float64{"control_effort": 0.25})

	assert.Contains(t, out, res.Status().String())
	assert.Contains(t, out, "control_effort")
	assert.Contains(t, out, "cost per iteration")
	assert.False(t, strings.Contains(out, "violation"), "no constraint, no violation row")
}
