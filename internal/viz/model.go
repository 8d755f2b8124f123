package viz

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"
	"go.uber.org/zap"

	"github.com/san-kum/nbodysim/internal/dynamo"
	"github.com/san-kum/nbodysim/internal/metrics"
	"github.com/san-kum/nbodysim/internal/sim"
)

const (
	defaultWidth  = 120
	defaultHeight = 36
	graphPoints   = 120
)

type TickMsg time.Time

// Options configures the live viewer.
type Options struct {
	Title string
	FPS   int
	// Reseed returns a fresh body set of the same size for the r key.
	Reseed func() (*dynamo.Bodies, error)
	// SampleEvery is the number of frames between momentum samples.
	SampleEvery int
	Theme       string
	Logger      *zap.Logger
}

// Model is the bubbletea program driving a simulation: every tick message
// becomes one frame.
type Model struct {
	sim      *sim.Simulation
	renderer *PointRenderer
	input    *sim.InputState
	opts     Options
	log      *zap.Logger

	theme  Theme
	styles styles

	width, height int
	lastFrame     time.Time
	fps           float64
	mouse         [2]int
	momentum      *metrics.MomentumDrift
	showHelp      bool
	err           error
}

func NewModel(s *sim.Simulation, opts Options) Model {
	if opts.FPS <= 0 {
		opts.FPS = 60
	}
	if opts.SampleEvery <= 0 {
		opts.SampleEvery = 10
	}
	if opts.Title == "" {
		opts.Title = "nbodysim"
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	theme := GetTheme(opts.Theme)

	m := Model{
		sim:      s,
		renderer: NewPointRenderer(1, 1),
		input:    &sim.InputState{},
		opts:     opts,
		log:      log,
		theme:    theme,
		styles:   newStyles(theme),
		momentum: metrics.NewMomentumDrift(),
	}
	m.resize(defaultWidth, defaultHeight)
	return m
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(time.Second/time.Duration(m.opts.FPS), func(t time.Time) tea.Msg { return TickMsg(t) })
}

func (m Model) Init() tea.Cmd {
	return m.tick()
}

// Err is the error that stopped the viewer, if any.
func (m Model) Err() error { return m.err }

func (m *Model) resize(w, h int) {
	m.width, m.height = w, h
	cw := w - panelWidth - 2
	ch := h - 1
	m.renderer.Resize(cw, ch)
	m.sim.Camera.Aspect = m.renderer.Aspect()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.MouseMsg:
		m.handleMouse(msg)
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
	case TickMsg:
		return m.frame(time.Time(msg))
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case " ":
		m.sim.SetPaused(!m.sim.Paused())
	case "o":
		m.sim.Camera.Toggle()
	case "a":
		m.renderer.ToggleAxes()
	case "t":
		m.theme = NextTheme(m.theme.Name)
		m.styles = newStyles(m.theme)
	case "r":
		m.reseed()
	case "?":
		m.showHelp = !m.showHelp
	}
	return m, nil
}

func (m *Model) reseed() {
	if m.opts.Reseed == nil {
		return
	}
	b, err := m.opts.Reseed()
	if err == nil {
		err = m.sim.Reset(b)
	}
	if err != nil {
		m.log.Error("reseed failed", zap.Error(err))
		m.err = err
		return
	}
	m.momentum.Reset()
}

func (m *Model) handleMouse(msg tea.MouseMsg) {
	switch msg.Button {
	case tea.MouseButtonWheelUp:
		m.input.AddScroll(m.sim.Controls.Lines(0, 1))
		return
	case tea.MouseButtonWheelDown:
		m.input.AddScroll(m.sim.Controls.Lines(0, -1))
		return
	}

	switch msg.Action {
	case tea.MouseActionPress:
		if msg.Button == tea.MouseButtonLeft {
			m.input.Dragging = true
			m.mouse = [2]int{msg.X, msg.Y}
		}
	case tea.MouseActionMotion:
		if m.input.Dragging {
			// Cells are roughly twice as tall as they are wide.
			m.input.AddDrag(float64(msg.X-m.mouse[0])*4, float64(msg.Y-m.mouse[1])*8)
			m.mouse = [2]int{msg.X, msg.Y}
		}
	case tea.MouseActionRelease:
		m.input.Dragging = false
	}
}

func (m Model) frame(now time.Time) (tea.Model, tea.Cmd) {
	elapsed := 1 / float64(m.opts.FPS)
	if !m.lastFrame.IsZero() {
		elapsed = now.Sub(m.lastFrame).Seconds()
		if elapsed > 0 {
			m.fps = 0.9*m.fps + 0.1/elapsed
		}
	}
	m.lastFrame = now

	if err := m.sim.Frame(m.input.Pop(elapsed), m.renderer); err != nil {
		m.log.Error("frame failed", zap.Error(err))
		m.err = err
		return m, tea.Quit
	}

	if !m.sim.Paused() && m.sim.Frames()%m.opts.SampleEvery == 0 {
		snap, err := m.sim.Backend().Snapshot()
		if err != nil {
			m.err = err
			return m, tea.Quit
		}
		m.momentum.Observe(snap, float64(m.sim.Frames()))
	}
	return m, m.tick()
}

func (m Model) View() string {
	s := m.styles
	var b strings.Builder

	b.WriteString(s.header.Render(strings.ToUpper(m.opts.Title)) + "\n")
	switch {
	case m.err != nil:
		b.WriteString(s.failed.Render("ERROR: "+m.err.Error()) + "\n\n")
	case m.sim.Paused():
		b.WriteString(s.paused.Render("PAUSED") + "\n\n")
	default:
		b.WriteString(s.running.Render("RUNNING") + "\n\n")
	}

	drawn, visible := m.renderer.Stats()
	b.WriteString(s.row("Bodies", fmt.Sprintf("%d", m.sim.Backend().Len())))
	b.WriteString(s.row("Visible", fmt.Sprintf("%d/%d", visible, drawn)))
	b.WriteString(s.row("Backend", m.sim.Backend().Name()))
	b.WriteString(s.row("Frame", fmt.Sprintf("%d", m.sim.Frames())))
	b.WriteString(s.row("FPS", fmt.Sprintf("%.1f", m.fps)))
	b.WriteString(s.row("Camera", m.sim.Camera.Mode.Name()))
	b.WriteString(s.row("Theme", m.theme.Name))

	if hist := m.momentum.History(); len(hist) > 1 {
		if len(hist) > graphPoints {
			hist = hist[len(hist)-graphPoints:]
		}
		chart := asciigraph.Plot(hist,
			asciigraph.Height(5),
			asciigraph.Width(panelWidth-12),
			asciigraph.Precision(2),
			asciigraph.Caption("|ΔP|"),
		)
		b.WriteString(s.graph.Render(chart) + "\n")
	}

	if m.showHelp {
		b.WriteString(s.help.Render(strings.Join([]string{
			"drag     rotate",
			"wheel    zoom",
			"space    pause/resume",
			"o        orbit / free-look",
			"r        reseed",
			"a        axes",
			"t        theme",
			"q        quit",
		}, "\n")))
	} else {
		b.WriteString(s.help.Render("SP:Pause O:Camera R:Reseed\nA:Axes T:Theme ?:Help Q:Quit"))
	}

	canvas := s.canvas.Render(m.renderer.Frame())
	return lipgloss.JoinHorizontal(lipgloss.Top, canvas, s.panel.Render(b.String()))
}
