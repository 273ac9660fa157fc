package tui

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/san-kum/blobuq/internal/refine"
)

var (
	cyan    = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	white   = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	dim     = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	dimmer  = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	green   = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	yellow  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	magenta = lipgloss.NewStyle().Foreground(lipgloss.Color("213"))
	red     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// Pass is the refinement pass the view is tracking.
type Pass struct {
	QoI           string
	Tolerance     float64
	MaxIterations int
}

type eventMsg refine.Event

type passMsg Pass

type doneMsg struct{ err error }

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Progress is a live view of an adaptive refinement run.
type Progress struct {
	campaign string
	cancel   context.CancelFunc

	pass      Pass
	passDone  int
	phase     refine.Phase
	iteration int
	last      refine.Event
	errors    []float64
	evaluated int
	failed    int
	samples   int

	started time.Time
	now     time.Time
	done    bool
	err     error

	width int
}

// NewProgress returns the view. cancel is called when the user quits before
// refinement finishes.
func NewProgress(campaign string, cancel context.CancelFunc) *Progress {
	now := time.Now()
	return &Progress{
		campaign: campaign,
		cancel:   cancel,
		started:  now,
		now:      now,
		width:    80,
	}
}

func (m *Progress) Init() tea.Cmd { return tick() }

func (m *Progress) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if !m.done && m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tickMsg:
		m.now = time.Time(msg)
		if m.done {
			return m, nil
		}
		return m, tick()
	case passMsg:
		m.pass = Pass(msg)
		m.passDone = 0
	case eventMsg:
		m.apply(refine.Event(msg))
	case doneMsg:
		m.done = true
		m.err = msg.err
		if m.phase != refine.Idle && msg.err == nil {
			m.phase = refine.Converged
		}
		return m, tea.Quit
	}
	return m, nil
}

func (m *Progress) apply(e refine.Event) {
	m.phase = e.Phase
	m.samples = e.Samples
	switch e.Phase {
	case refine.Evaluated:
		m.evaluated += e.Evaluated
		m.failed += e.Failed
	case refine.Refining:
		m.iteration = e.Iteration
		m.passDone++
		m.last = e
		m.errors = append(m.errors, e.Normalized)
	}
}

func (m *Progress) View() string {
	var b strings.Builder

	icon, status := m.status()
	b.WriteString(fmt.Sprintf("\n   %s %s  %s\n", icon, cyan.Render(m.campaign), status))
	b.WriteString(dimmer.Render("   "+strings.Repeat("─", 40)) + "\n")

	if m.pass.QoI != "" {
		b.WriteString(fmt.Sprintf("   %s %s  %s %s\n",
			dim.Render("qoi"), white.Render(m.pass.QoI),
			dim.Render("tol"), white.Render(fmt.Sprintf("%g", m.pass.Tolerance))))
		if m.pass.MaxIterations > 0 {
			progress := math.Min(float64(m.passDone)/float64(m.pass.MaxIterations), 1)
			barWidth := 36
			filled := int(progress * float64(barWidth))
			bar := cyan.Render(strings.Repeat("━", filled)) + dimmer.Render(strings.Repeat("─", barWidth-filled))
			b.WriteString(fmt.Sprintf("   %s %s\n", bar, dim.Render(fmt.Sprintf("%d/%d", m.passDone, m.pass.MaxIterations))))
		}
	}
	b.WriteString("\n")

	b.WriteString(fmt.Sprintf("   %s %s   %s %s   %s %s\n",
		dim.Render("iteration"), white.Render(fmt.Sprintf("%d", m.iteration)),
		dim.Render("samples"), white.Render(fmt.Sprintf("%d", m.samples)),
		dim.Render("failed"), failedStyle(m.failed).Render(fmt.Sprintf("%d", m.failed))))

	if m.last.Accepted != nil {
		b.WriteString(fmt.Sprintf("   %s %s   %s %s\n",
			dim.Render("accepted"), magenta.Render(m.last.Accepted.String()),
			dim.Render("error"), white.Render(fmt.Sprintf("%.3e", m.last.Normalized))))
	}

	if len(m.errors) > 1 {
		logs := make([]float64, len(m.errors))
		for i, e := range m.errors {
			logs[i] = math.Log10(math.Max(e, 1e-300))
		}
		b.WriteString(fmt.Sprintf("   %s %s\n", dim.Render("log err"), cyan.Render(sparkline(logs, 32))))
	}

	b.WriteString(fmt.Sprintf("\n   %s\n", dim.Render(fmt.Sprintf("elapsed %s", m.now.Sub(m.started).Round(time.Second)))))
	if m.err != nil {
		b.WriteString("   " + red.Render(m.err.Error()) + "\n")
	}
	if !m.done {
		b.WriteString("\n" + dim.Render("   q stop") + "\n")
	}
	return b.String()
}

func (m *Progress) status() (string, string) {
	switch {
	case m.err != nil:
		return red.Render("●"), red.Render("failed")
	case m.phase == refine.Converged:
		return green.Render("●"), green.Render("converged")
	case m.done:
		return green.Render("●"), green.Render("done")
	case m.phase == refine.AwaitingEvaluation || m.phase == refine.Evaluated:
		return yellow.Render("○"), yellow.Render("evaluating")
	}
	return green.Render("●"), green.Render(m.phase.String())
}

func failedStyle(n int) lipgloss.Style {
	if n > 0 {
		return red
	}
	return white
}

func sparkline(data []float64, width int) string {
	if len(data) == 0 {
		return ""
	}
	chars := []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}
	minVal, maxVal := data[0], data[0]
	for _, v := range data {
		minVal = math.Min(minVal, v)
		maxVal = math.Max(maxVal, v)
	}
	rang := maxVal - minVal
	if rang == 0 {
		rang = 1
	}
	start := max(len(data)-width, 0)
	var sb strings.Builder
	for _, v := range data[start:] {
		idx := int((v - minVal) / rang * 7)
		sb.WriteRune(chars[min(max(idx, 0), 7)])
	}
	return sb.String()
}

// Live drives a Progress view from a refinement running on another
// goroutine. Sends block until the view has started and return at once after
// it has exited.
type Live struct {
	program *tea.Program
	view    *Progress
}

func NewLive(campaign string, cancel context.CancelFunc, opts ...tea.ProgramOption) *Live {
	view := NewProgress(campaign, cancel)
	return &Live{program: tea.NewProgram(view, opts...), view: view}
}

// Observer forwards controller events to the view.
func (l *Live) Observer() refine.Observer {
	return refine.ObserverFunc(func(e refine.Event) {
		l.program.Send(eventMsg(e))
	})
}

func (l *Live) StartPass(p Pass) {
	l.program.Send(passMsg(p))
}

// Finish ends the view with the outcome of the run.
func (l *Live) Finish(err error) {
	l.program.Send(doneMsg{err: err})
}

// Run blocks until the view exits.
func (l *Live) Run() error {
	_, err := l.program.Run()
	return err
}
