package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/vexide/pros-simulator/event"
)

// Output formats.
const (
	formatAuto   = "auto"
	formatNDJSON = "ndjson"
	formatPretty = "pretty"
)

var (
	timeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
	consoleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FAFAFA"))
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#87CEEB"))
	taskStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#98FB98"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD166"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	titleStyle   = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)
	lcdStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7D56F4")).
			Padding(0, 1)
)

// eventSink returns a sink writing events to w in format.
func eventSink(w io.Writer, format string) (func(event.Event) error, error) {
	switch resolveFormat(format) {
	case formatNDJSON:
		return event.NewEncoder(w).Encode, nil
	case formatPretty:
		return func(ev event.Event) error {
			if line := prettyEvent(ev); line != "" {
				_, err := fmt.Fprintln(w, line)
				return err
			}
			return nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}

func resolveFormat(format string) string {
	if format != formatAuto {
		return format
	}
	if term.IsTerminal(int(os.Stdout.Fd())) {
		return formatPretty
	}
	return formatNDJSON
}

// prettyEvent renders one event for a person reading a terminal. Events
// with no interesting content render as "".
func prettyEvent(ev event.Event) string {
	stamp := timeStyle.Render(fmt.Sprintf("%8dms", ev.TimeMs))

	var body string
	switch ev.Type {
	case event.TypeConsoleMessage:
		body = consoleStyle.Render(ev.Message)
	case event.TypeRobotCodeLoading:
		body = infoStyle.Render("loading robot code")
	case event.TypeRobotCodeStarting:
		body = infoStyle.Render("robot code started")
	case event.TypeRobotCodeFinished:
		if ev.ExitCode != nil {
			body = infoStyle.Render(fmt.Sprintf("robot code finished with exit code %d", *ev.ExitCode))
		} else {
			body = infoStyle.Render("robot code finished")
		}
	case event.TypeRobotCodeError:
		body = errorStyle.Render("failed to load robot code: " + ev.Message)
	case event.TypeAbortOccurred:
		var task string
		if ev.Task != nil {
			task = fmt.Sprintf(" in task %q", ev.Task.Name)
		}
		body = errorStyle.Render(fmt.Sprintf("abort (%s)%s: %s", ev.Reason, task, ev.Message))
		if len(ev.Backtrace) > 0 {
			body += "\n" + timeStyle.Render(event.FormatBacktrace(ev.Backtrace))
		}
	case event.TypeUnimplementedAPIWarning:
		body = warnStyle.Render("robot code uses unimplemented API " + ev.Name)
	case event.TypeWarning:
		body = warnStyle.Render("warning: " + ev.Message)
	case event.TypeTaskSpawned:
		body = taskStyle.Render(fmt.Sprintf("task %d %q started (priority %d)", ev.Task.ID, ev.Task.Name, ev.Task.Priority))
	case event.TypeTaskExited:
		body = taskStyle.Render(fmt.Sprintf("task %d %q exited", ev.Task.ID, ev.Task.Name))
	case event.TypePhaseChange:
		body = infoStyle.Render("competition phase: " + ev.Phase.String())
	case event.TypeLcdInitialized:
		body = infoStyle.Render("LCD initialized")
	case event.TypeLcdShutdown:
		body = infoStyle.Render("LCD shut down")
	case event.TypeLcdUpdated:
		body = "\n" + renderLCD(*ev.Lines)
	default:
		return ""
	}
	return stamp + " " + body
}

// renderLCD draws the 8 line LLEMU display.
func renderLCD(lines event.Lines) string {
	rows := make([]string, len(lines))
	for i, l := range lines {
		rows[i] = fmt.Sprintf("%-40s", l)
	}
	return lcdStyle.Render(strings.Join(rows, "\n"))
}
