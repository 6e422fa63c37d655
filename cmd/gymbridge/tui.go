package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"
	"golang.org/x/term"

	"github.com/wippyai/gym-bridge/env"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB")).
			Width(14)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	graphStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("49")).
			Padding(1, 0)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type keyMap struct {
	Pause key.Binding
	Step  key.Binding
	Reset key.Binding
	Quit  key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Pause, k.Step, k.Reset, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

var keys = keyMap{
	Pause: key.NewBinding(key.WithKeys(" ", "p"), key.WithHelp("space", "pause")),
	Step:  key.NewBinding(key.WithKeys("s", "n"), key.WithHelp("s", "step")),
	Reset: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reset")),
	Quit:  key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

const (
	tickInterval  = 50 * time.Millisecond
	returnHistory = 200
)

type tickMsg time.Time

type stepMsg struct {
	res    *env.StepResult
	action any
	reset  bool
	err    error
}

type spacesMsg struct {
	action, observation string
	err                 error
}

type tuiModel struct {
	ctx     context.Context
	d       driver
	title   string
	running bool
	busy    bool
	err     error
	help    help.Model
	spinner spinner.Model

	actionSpace      string
	observationSpace string

	episode   int
	steps     int
	ret       float64
	lastAct   any
	last      *env.StepResult
	returns   []float64
	needReset bool
}

func newTUIModel(ctx context.Context, title string, d driver) *tuiModel {
	return &tuiModel{
		ctx:       ctx,
		d:         d,
		title:     title,
		running:   true,
		needReset: true,
		help:      help.New(),
		spinner:   spinner.New(spinner.WithSpinner(spinner.Dot)),
	}
}

func (m *tuiModel) Init() tea.Cmd {
	return tea.Batch(m.loadSpaces, tick(), m.spinner.Tick)
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *tuiModel) loadSpaces() tea.Msg {
	a, o, err := m.d.Spaces(m.ctx)
	return spacesMsg{action: a, observation: o, err: err}
}

// advance resets when an episode is over, otherwise takes one random step.
func (m *tuiModel) advance() tea.Cmd {
	ctx, d, reset := m.ctx, m.d, m.needReset
	return func() tea.Msg {
		if reset {
			_, _, err := d.Reset(ctx)
			return stepMsg{reset: true, err: err}
		}
		a, err := d.Sample(ctx)
		if err != nil {
			return stepMsg{err: err}
		}
		res, err := d.Step(ctx, a)
		return stepMsg{res: res, action: a, err: err}
	}
}

func (m *tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Pause):
			m.running = !m.running
		case key.Matches(msg, keys.Step):
			if !m.running && !m.busy {
				m.busy = true
				return m, m.advance()
			}
		case key.Matches(msg, keys.Reset):
			m.endEpisode()
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		if m.ctx.Err() != nil {
			return m, tea.Quit
		}
		var cmds []tea.Cmd
		if m.running && !m.busy && m.err == nil {
			m.busy = true
			cmds = append(cmds, m.advance())
		}
		return m, tea.Batch(append(cmds, tick())...)

	case spacesMsg:
		m.actionSpace, m.observationSpace = msg.action, msg.observation
		if msg.err != nil {
			m.err = msg.err
		}

	case stepMsg:
		m.busy = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		if msg.reset {
			m.needReset = false
			m.episode++
			return m, nil
		}
		m.steps++
		m.ret += msg.res.Reward
		m.last, m.lastAct = msg.res, msg.action
		if msg.res.Done() {
			m.endEpisode()
		}
	}
	return m, nil
}

func (m *tuiModel) endEpisode() {
	if m.steps > 0 {
		m.returns = append(m.returns, m.ret)
		if len(m.returns) > returnHistory {
			m.returns = m.returns[len(m.returns)-returnHistory:]
		}
	}
	m.steps, m.ret = 0, 0
	m.needReset = true
}

func (m *tuiModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("gymbridge"))
	b.WriteString(" ")
	b.WriteString(m.title)
	b.WriteString("\n\n")

	row := func(label string, v any) {
		b.WriteString(labelStyle.Render(label))
		b.WriteString(valueStyle.Render(fmt.Sprint(v)))
		b.WriteString("\n")
	}
	row("action space", m.actionSpace)
	row("observation", m.observationSpace)
	row("episode", m.episode)
	row("step", m.steps)
	row("return", fmt.Sprintf("%.2f", m.ret))
	if m.last != nil {
		row("action", m.lastAct)
		row("reward", fmt.Sprintf("%.3f", m.last.Reward))
		row("state", truncate(m.last.Observation.String(), plotWidth()))
	}

	if len(m.returns) > 1 {
		b.WriteString(graphStyle.Render(asciigraph.Plot(m.returns,
			asciigraph.Height(8),
			asciigraph.Width(plotWidth()),
			asciigraph.Caption("episode return"),
		)))
		b.WriteString("\n")
	}

	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.running {
		b.WriteString(m.spinner.View())
		b.WriteString(statusStyle.Render(" running  "))
	} else {
		b.WriteString(statusStyle.Render("paused  "))
	}
	b.WriteString(m.help.View(keys))
	return b.String()
}

func truncate(s string, n int) string {
	if n > 3 && len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}

// plotWidth fits graphs to the terminal, leaving room for the axis labels.
func plotWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return max(20, min(w-12, 160))
}

func runTUI(ctx context.Context, title string, d driver) error {
	p := tea.NewProgram(newTUIModel(ctx, title, d), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
