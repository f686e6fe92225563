package runtime

import (
	"context"
	stderrors "errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/vexide/pros-simulator/event"
	"github.com/vexide/pros-simulator/rtos"
)

// Entrypoints robot programs may export.
const (
	EntryInitialize            = "initialize"
	EntryCompetitionInitialize = "competition_initialize"
	EntryDisabled              = "disabled"
	EntryAutonomous            = "autonomous"
	EntryOpcontrol             = "opcontrol"
)

var entrypoints = []string{
	EntryInitialize,
	EntryCompetitionInitialize,
	EntryDisabled,
	EntryAutonomous,
	EntryOpcontrol,
}

// Task names PROS gives the tasks running entrypoints.
var entryTaskNames = map[string]string{
	EntryInitialize:            "User Initialization (PROS)",
	EntryCompetitionInitialize: "User Comp. Init. (PROS)",
	EntryDisabled:              "User Disabled (PROS)",
	EntryAutonomous:            "User Autonomous (PROS)",
	EntryOpcontrol:             "User Operator Control (PROS)",
}

// selectEntrypoint picks the competition entrypoint for a phase change
// from prev (if set) to next.
func selectEntrypoint(prev event.Phase, prevSet bool, next event.Phase) string {
	switch {
	case next.Mode == event.ModeDisabled && next.Connected && (!prevSet || !prev.Connected):
		return EntryCompetitionInitialize
	case next.Mode == event.ModeDisabled:
		return EntryDisabled
	case next.Mode == event.ModeAutonomous:
		return EntryAutonomous
	default:
		return EntryOpcontrol
	}
}

// gate starts entrypoint tasks in response to phase changes, the way the
// PROS system daemon does. Nothing runs before the first phase change.
type gate struct {
	sim      *Simulator
	prev     event.Phase
	initTask rtos.TaskID
	compTask rtos.TaskID
	prevSet  bool
	open     bool
}

// phaseChanged reacts to a phase change that has already been applied to
// the competition state. prev is the phase before it.
func (g *gate) phaseChanged(ctx context.Context, prev event.Phase, prevSet bool, next event.Phase) {
	g.prev, g.prevSet = prev, prevSet

	if !g.open {
		g.open = true
		if g.sim.inst.HasExport(EntryInitialize) {
			g.initTask = g.spawn(EntryInitialize)
			return
		}
		g.sim.warn("robot code has no initialize entrypoint")
	}
	if g.initTask != 0 {
		// The competition task starts when initialize returns.
		return
	}
	g.startCompetition(ctx, next)
}

// exited is told about every task that left the scheduler.
func (g *gate) exited(ctx context.Context, id rtos.TaskID) {
	switch id {
	case g.compTask:
		g.compTask = 0
	case g.initTask:
		g.initTask = 0
		if phase, ok := g.sim.state.Competition.Phase(); ok {
			g.startCompetition(ctx, phase)
		}
	}
}

func (g *gate) startCompetition(ctx context.Context, phase event.Phase) {
	if g.compTask != 0 {
		err := g.sim.sched.Delete(ctx, g.compTask)
		if err != nil && !stderrors.Is(err, rtos.ErrNoSuchTask) {
			Logger().Warn("failed to stop competition task", zap.Uint32("task", uint32(g.compTask)), zap.Error(err))
		}
		g.compTask = 0
	}

	entry := selectEntrypoint(g.prev, g.prevSet, phase)
	if !g.sim.inst.HasExport(entry) {
		g.sim.warn(fmt.Sprintf("robot code has no %s entrypoint", entry), zap.Stringer("phase", phase))
		return
	}
	g.compTask = g.spawn(entry)
}

func (g *gate) spawn(entry string) rtos.TaskID {
	id := g.sim.host.SpawnExport(entryTaskNames[entry], entry, rtos.PriorityDefault)
	Logger().Debug("started entrypoint", zap.String("entry", entry), zap.Uint32("task", uint32(id)))
	return id
}
