package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/vexide/pros-simulator/config"
	"github.com/vexide/pros-simulator/event"
	"github.com/vexide/pros-simulator/runtime"
)

// buttonHold is how long a key press holds an LCD button down.
const buttonHold = 150 * time.Millisecond

var tuiCmd = &cobra.Command{
	Use:   "tui <robot.wasm>",
	Short: "Run robot code with an interactive terminal frontend",
	Long: `Tui shows the LLEMU display, the live tasks, the console and the
competition phase, and lets you press LCD buttons and switch phases.

Unless --clock or a config file says otherwise, time runs in real time.`,
	Args: cobra.ExactArgs(1),
	RunE: runTUI,
}

func init() {
	tuiCmd.Flags().StringVar(&runFlags.clock, "clock", "", "clock mode: virtual or realtime")
	tuiCmd.Flags().StringVar(&runFlags.record, "record", "", "record the run to this SQLite database")
}

func runTUI(cmd *cobra.Command, args []string) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("tui needs an interactive terminal; use run or serve instead")
	}
	if !cmd.Flags().Changed("clock") && configPath == "" {
		cfg.Clock.Mode = config.ClockRealtime
	}
	if err := applyRunFlags(cmd); err != nil {
		return err
	}
	// The alternate screen owns the terminal; stderr logs would tear it.
	installLogger(zap.NewNop())

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	s, err := openSession(ctx, args[0])
	if err != nil {
		return err
	}

	events := make(chan event.Event, 256)
	quit := make(chan struct{})
	s.consume(func(ev event.Event) error {
		select {
		case events <- ev:
		case <-quit:
		}
		return nil
	})
	go func() {
		<-s.done
		close(events)
	}()

	m := newTUIModel(s, args[0], events, cancel)
	p := tea.NewProgram(m, tea.WithAltScreen())

	done := make(chan runDoneMsg, 1)
	go func() {
		res, err := s.run(ctx)
		done <- runDoneMsg{res: res, err: err}
		p.Send(runDoneMsg{res: res, err: err})
	}()

	_, err = p.Run()
	close(quit)
	cancel()
	r := <-done
	if err != nil {
		return err
	}
	if r.res.Reason == runtime.TerminationCanceled {
		return nil
	}
	return resultError(r.res)
}

type keyMap struct {
	Button     key.Binding
	Autonomous key.Binding
	Opcontrol  key.Binding
	Disabled   key.Binding
	Connect    key.Binding
	Quit       key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Button, k.Autonomous, k.Opcontrol, k.Disabled, k.Connect, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

var keys = keyMap{
	Button:     key.NewBinding(key.WithKeys("1", "2", "3"), key.WithHelp("1/2/3", "lcd button")),
	Autonomous: key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "autonomous")),
	Opcontrol:  key.NewBinding(key.WithKeys("o"), key.WithHelp("o", "opcontrol")),
	Disabled:   key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "disabled")),
	Connect:    key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "toggle competition")),
	Quit:       key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

var (
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
	pressedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FAFAFA")).Background(lipgloss.Color("#7D56F4"))
	releasedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
)

type tuiModel struct {
	s        *session
	filename string
	events   <-chan event.Event
	cancel   context.CancelFunc

	lines     event.Lines
	buttons   [3]bool
	lcdOn     bool
	phase     event.Phase
	phaseSet  bool
	connected bool
	tasks     map[uint32]event.TaskInfo
	timeMs    uint32

	log      []string
	console  viewport.Model
	help     help.Model
	width    int
	result   *runtime.Result
	quitting bool
}

type eventMsg event.Event

type eventsClosedMsg struct{}

type runDoneMsg struct {
	res *runtime.Result
	err error
}

type releaseMsg int

func newTUIModel(s *session, filename string, events <-chan event.Event, cancel context.CancelFunc) *tuiModel {
	return &tuiModel{
		s:        s,
		filename: filename,
		events:   events,
		cancel:   cancel,
		tasks:    make(map[uint32]event.TaskInfo),
		console:  viewport.New(80, 10),
		help:     help.New(),
	}
}

func (m *tuiModel) Init() tea.Cmd {
	return m.waitEvent
}

func (m *tuiModel) waitEvent() tea.Msg {
	ev, ok := <-m.events
	if !ok {
		return eventsClosedMsg{}
	}
	return eventMsg(ev)
}

func (m *tuiModel) send(msg event.Message) {
	// Input after the run has ended is dropped.
	_ = m.s.sim.Bus().Send(msg)
}

func (m *tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			m.cancel()
			return m, tea.Quit

		case key.Matches(msg, keys.Button):
			button := int(msg.String()[0] - '1')
			m.send(event.ButtonPress(button))
			return m, tea.Tick(buttonHold, func(time.Time) tea.Msg { return releaseMsg(button) })

		case key.Matches(msg, keys.Autonomous):
			m.switchPhase(event.ModeAutonomous)
		case key.Matches(msg, keys.Opcontrol):
			m.switchPhase(event.ModeOpcontrol)
		case key.Matches(msg, keys.Disabled):
			m.switchPhase(event.ModeDisabled)
		case key.Matches(msg, keys.Connect):
			m.connected = !m.connected
			mode := event.ModeDisabled
			if m.phaseSet {
				mode = m.phase.Mode
			}
			m.switchPhase(mode)
		}

	case releaseMsg:
		m.send(event.ButtonRelease(int(msg)))

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		m.console.Width = msg.Width - 2
		m.console.Height = max(msg.Height-lipgloss.Height(m.panels())-4, 3)

	case eventMsg:
		m.apply(event.Event(msg))
		return m, m.waitEvent

	case eventsClosedMsg:
		return m, nil

	case runDoneMsg:
		m.result = msg.res
		m.appendLog(infoStyle.Render(fmt.Sprintf("run ended: %s (press q to quit)", msg.res)))
		return m, nil
	}

	var cmd tea.Cmd
	m.console, cmd = m.console.Update(msg)
	return m, cmd
}

func (m *tuiModel) switchPhase(mode event.Mode) {
	m.send(event.PhaseChange(event.Phase{Mode: mode, Connected: m.connected}))
}

// apply folds an event into the model.
func (m *tuiModel) apply(ev event.Event) {
	m.timeMs = ev.TimeMs
	switch ev.Type {
	case event.TypeLcdInitialized:
		m.lcdOn = true
	case event.TypeLcdShutdown:
		m.lcdOn = false
	case event.TypeLcdUpdated:
		m.lines = *ev.Lines
	case event.TypeLcdButtons:
		m.buttons = *ev.Buttons
	case event.TypePhaseChange:
		m.phase, m.phaseSet = *ev.Phase, true
		m.connected = ev.Phase.Connected
	case event.TypeTaskSpawned:
		m.tasks[ev.Task.ID] = *ev.Task
	case event.TypeTaskExited:
		delete(m.tasks, ev.Task.ID)
	}
	if line := prettyEvent(ev); line != "" && ev.Type != event.TypeLcdUpdated {
		m.appendLog(line)
	}
}

func (m *tuiModel) appendLog(line string) {
	m.log = append(m.log, line)
	m.console.SetContent(strings.Join(m.log, "\n"))
	m.console.GotoBottom()
}

func (m *tuiModel) panels() string {
	return lipgloss.JoinHorizontal(lipgloss.Top, m.lcdPanel(), m.statusPanel())
}

func (m *tuiModel) lcdPanel() string {
	lcd := renderLCD(m.lines)
	if !m.lcdOn {
		lcd = releasedStyle.Render(lcd)
	}
	var btns []string
	for i, down := range m.buttons {
		label := fmt.Sprintf(" %d ", i+1)
		if down {
			btns = append(btns, pressedStyle.Render(label))
		} else {
			btns = append(btns, releasedStyle.Render(label))
		}
	}
	row := lipgloss.PlaceHorizontal(lipgloss.Width(lcd), lipgloss.Center, strings.Join(btns, "   "))
	return lipgloss.JoinVertical(lipgloss.Left, lcd, row)
}

func (m *tuiModel) statusPanel() string {
	var b strings.Builder
	phase := "waiting for a phase"
	if m.phaseSet {
		phase = m.phase.String()
	} else if m.connected {
		phase += " (connected)"
	}
	fmt.Fprintf(&b, "phase: %s\n", phase)
	fmt.Fprintf(&b, "time:  %d ms\n\n", m.timeMs)

	ids := make([]uint32, 0, len(m.tasks))
	for id := range m.tasks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	b.WriteString("tasks:\n")
	if len(ids) == 0 {
		b.WriteString(releasedStyle.Render("  none"))
	}
	for _, id := range ids {
		t := m.tasks[id]
		fmt.Fprintf(&b, "  %s\n", taskStyle.Render(fmt.Sprintf("%3d %-30s p%d", t.ID, t.Name, t.Priority)))
	}
	return panelStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func (m *tuiModel) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("PROS Simulator"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	b.WriteString("\n\n")
	b.WriteString(m.panels())
	b.WriteString("\n")
	b.WriteString(panelStyle.Width(max(m.width-2, 20)).Render(m.console.View()))
	b.WriteString("\n")
	b.WriteString(m.help.View(keys))
	return b.String()
}
