package netscen

// scheduler.go holds the SimulationContext, the one handle through which scenario code reaches
// the event clock.  Nothing in the package keeps the event manager in a global; every component
// that schedules events is handed the context it belongs to.
//
// Callers schedule at absolute simulation times.  The event manager takes offsets from the
// current time, so Schedule converts; an absolute time already in the past is rejected

import (
	"fmt"

	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
)

// ctxState tracks the lifecycle of a SimulationContext
type ctxState int

const (
	ctxReady ctxState = iota
	ctxRunning
	ctxStopped
	ctxDestroyed
)

var ctxStateName = map[ctxState]string{ctxReady: "ready", ctxRunning: "running",
	ctxStopped: "stopped", ctxDestroyed: "destroyed"}

func (cs ctxState) String() string {
	return ctxStateName[cs]
}

// SimulationContext owns the event manager for one scenario run
type SimulationContext struct {
	evtMgr *evtm.EventManager
	state  ctxState
	stop   float64
	events int
}

// CreateSimulationContext is a constructor
func CreateSimulationContext() *SimulationContext {
	sc := new(SimulationContext)
	sc.evtMgr = evtm.New()
	sc.state = ctxReady
	return sc
}

// EventManager exposes the underlying event manager to handlers that need to schedule further events
func (sc *SimulationContext) EventManager() *evtm.EventManager {
	return sc.evtMgr
}

// Now returns the current simulation time in seconds
func (sc *SimulationContext) Now() float64 {
	return sc.evtMgr.CurrentSeconds()
}

// Schedule registers a handler to run at absolute time at (seconds).  Before the clock starts
// any non-negative time is accepted; while it runs the time must not precede the current time
func (sc *SimulationContext) Schedule(at float64, context any, data any, handler evtm.EventHandlerFunction) error {
	if err := sc.CanSchedule(at); err != nil {
		return err
	}
	sc.evtMgr.Schedule(context, data, handler, vrtime.SecondsToTime(at-sc.Now()))
	sc.events += 1
	return nil
}

// CanSchedule reports the error Schedule would return for an event at time at, if any
func (sc *SimulationContext) CanSchedule(at float64) error {
	if sc.state == ctxStopped || sc.state == ctxDestroyed {
		return fmt.Errorf("%w: schedule at %g on a %s context", ErrContextFinished, at, sc.state)
	}
	if now := sc.Now(); at < now {
		return fmt.Errorf("%w: event time %g precedes current time %g", ErrTiming, at, now)
	}
	return nil
}

// After registers a handler to run delay seconds from now.  It is the form used by handlers
// already executing under the clock
func (sc *SimulationContext) After(delay float64, context any, data any, handler evtm.EventHandlerFunction) {
	sc.evtMgr.Schedule(context, data, handler, vrtime.SecondsToTime(delay))
	sc.events += 1
}

// Events returns the number of events registered on the context
func (sc *SimulationContext) Events() int {
	return sc.events
}

// StopTime returns the time limit of the last run, zero if the context has not run
func (sc *SimulationContext) StopTime() float64 {
	return sc.stop
}

// Run executes registered events until the clock passes stop.  A context runs once
func (sc *SimulationContext) Run(stop float64) error {
	if sc.state != ctxReady {
		return fmt.Errorf("%w: run on a %s context", ErrContextFinished, sc.state)
	}
	if stop < 0 {
		return fmt.Errorf("%w: stop time %g is negative", ErrTiming, stop)
	}
	sc.stop = stop
	sc.state = ctxRunning
	sc.evtMgr.Run(stop)
	sc.state = ctxStopped
	return nil
}

// Destroy releases the event manager.  After Destroy nothing may be scheduled or run
func (sc *SimulationContext) Destroy() {
	sc.evtMgr = nil
	sc.state = ctxDestroyed
}

// Destroyed reports whether Destroy has been called
func (sc *SimulationContext) Destroyed() bool {
	return sc.state == ctxDestroyed
}
