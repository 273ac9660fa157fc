package tui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/san-kum/blobuq/internal/refine"
	"github.com/san-kum/blobuq/internal/sc"
)

func send(m *Progress, msgs ...tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	for _, msg := range msgs {
		_, cmd = m.Update(msg)
	}
	return cmd
}

func TestProgressTracksEvents(t *testing.T) {
	m := NewProgress("blob2d", nil)
	send(m,
		passMsg(Pass{QoI: "avgTransp", Tolerance: 0.1, MaxIterations: 4}),
		eventMsg(refine.Event{Phase: refine.Evaluated, Evaluated: 4, Failed: 1, Samples: 5}),
		eventMsg(refine.Event{Phase: refine.Refining, Iteration: 1, QoI: "avgTransp", Accepted: sc.MultiIndex{1, 0}, Normalized: 0.5, Samples: 5}),
		eventMsg(refine.Event{Phase: refine.Evaluated, Evaluated: 2, Samples: 7}),
		eventMsg(refine.Event{Phase: refine.Refining, Iteration: 2, QoI: "avgTransp", Accepted: sc.MultiIndex{0, 1}, Normalized: 0.05, Samples: 7}),
	)

	if m.iteration != 2 || m.passDone != 2 || m.samples != 7 {
		t.Errorf("iteration %d, pass %d, samples %d", m.iteration, m.passDone, m.samples)
	}
	if m.evaluated != 6 || m.failed != 1 {
		t.Errorf("evaluated %d, failed %d", m.evaluated, m.failed)
	}

	view := m.View()
	for _, want := range []string{"blob2d", "avgTransp", "2/4", "(0, 1)", "5.000e-02", "log err", "q stop"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestProgressDone(t *testing.T) {
	m := NewProgress("demo", nil)
	send(m, eventMsg(refine.Event{Phase: refine.Refining, Iteration: 1, Accepted: sc.MultiIndex{1}, Normalized: 1}))
	cmd := send(m, doneMsg{})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("done should quit the program")
	}
	if !strings.Contains(m.View(), "converged") {
		t.Errorf("view should report convergence:\n%s", m.View())
	}

	failed := NewProgress("demo", nil)
	send(failed, doneMsg{err: errors.New("solver crashed")})
	if !strings.Contains(failed.View(), "solver crashed") {
		t.Errorf("view should show the error:\n%s", failed.View())
	}
}

func TestProgressQuitCancels(t *testing.T) {
	cancelled := false
	m := NewProgress("demo", func() { cancelled = true })
	send(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if !cancelled {
		t.Error("quitting should cancel the refinement")
	}
}

func TestSparkline(t *testing.T) {
	if got := sparkline([]float64{0, 7}, 8); got != "▁█" {
		t.Errorf("sparkline = %q", got)
	}
	if got := sparkline([]float64{1, 1, 1}, 2); got != "▁▁" {
		t.Errorf("sparkline keeps the last width points, got %q", got)
	}
}
