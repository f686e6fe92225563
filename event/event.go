package event

// Type tags an outbound event.
type Type string

const (
	TypeRobotCodeLoading        Type = "robot_code_loading"
	TypeRobotCodeStarting       Type = "robot_code_starting"
	TypeRobotCodeFinished       Type = "robot_code_finished"
	TypeRobotCodeError          Type = "robot_code_error"
	TypeLcdInitialized          Type = "lcd_initialized"
	TypeLcdUpdated              Type = "lcd_updated"
	TypeLcdColorsUpdated        Type = "lcd_colors_updated"
	TypeLcdShutdown             Type = "lcd_shutdown"
	TypeLcdButtons              Type = "lcd_buttons"
	TypeAbortOccurred           Type = "abort_occurred"
	TypeUnimplementedAPIWarning Type = "unimplemented_api_warning"
	TypeWarning                 Type = "warning"
	TypeConsoleMessage          Type = "console_message"
	TypePhaseChange             Type = "phase_change"
	TypeTaskSpawned             Type = "task_spawned"
	TypeTaskExited              Type = "task_exited"
)

// Event is an observable state change or lifecycle milestone. Only the
// fields relevant to Type are set; Seq, TimeMs and RunID are stamped by the Bus.
type Event struct {
	Lines     *Lines    `json:"lines,omitempty"`
	Buttons   *[3]bool  `json:"buttons,omitempty"`
	Colors    *Colors   `json:"colors,omitempty"`
	Phase     *Phase    `json:"phase,omitempty"`
	Task      *TaskInfo `json:"task,omitempty"`
	ExitCode  *int32    `json:"exit_code,omitempty"`
	Type      Type      `json:"type"`
	RunID     string    `json:"run_id,omitempty"`
	Message   string    `json:"message,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Name      string    `json:"name,omitempty"`
	Backtrace []Frame   `json:"backtrace,omitempty"`
	Seq       uint64    `json:"seq"`
	TimeMs    uint32    `json:"time_ms"`
}

func RobotCodeLoading() Event  { return Event{Type: TypeRobotCodeLoading} }
func RobotCodeStarting() Event { return Event{Type: TypeRobotCodeStarting} }
func LcdInitialized() Event    { return Event{Type: TypeLcdInitialized} }
func LcdShutdown() Event       { return Event{Type: TypeLcdShutdown} }

// RobotCodeFinished marks the end of the run. code is nil unless robot code called exit.
func RobotCodeFinished(code *int32) Event {
	return Event{Type: TypeRobotCodeFinished, ExitCode: code}
}

// RobotCodeError reports a load failure; no task has run.
func RobotCodeError(message string) Event {
	return Event{Type: TypeRobotCodeError, Message: message}
}

// LcdUpdated carries the full display after any change.
func LcdUpdated(lines Lines) Event {
	return Event{Type: TypeLcdUpdated, Lines: &lines}
}

func LcdColorsUpdated(c Colors) Event {
	return Event{Type: TypeLcdColorsUpdated, Colors: &c}
}

func LcdButtonsChanged(buttons [3]bool) Event {
	return Event{Type: TypeLcdButtons, Buttons: &buttons}
}

// AbortOccurred reports a trap or explicit abort in robot code.
func AbortOccurred(reason, message string, backtrace []Frame, task *TaskInfo) Event {
	return Event{
		Type:      TypeAbortOccurred,
		Reason:    reason,
		Message:   message,
		Backtrace: backtrace,
		Task:      task,
	}
}

// UnimplementedAPIWarning is emitted at load for each recognized but unsupported import.
func UnimplementedAPIWarning(name string) Event {
	return Event{Type: TypeUnimplementedAPIWarning, Name: name}
}

func Warning(message string) Event {
	return Event{Type: TypeWarning, Message: message}
}

func ConsoleMessage(message string) Event {
	return Event{Type: TypeConsoleMessage, Message: message}
}

func PhaseChanged(p Phase) Event {
	return Event{Type: TypePhaseChange, Phase: &p}
}

func TaskSpawned(t TaskInfo) Event {
	return Event{Type: TypeTaskSpawned, Task: &t}
}

func TaskExited(t TaskInfo) Event {
	return Event{Type: TypeTaskExited, Task: &t}
}
