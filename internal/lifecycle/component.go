// Package lifecycle brings a statically declared set of components up in a
// safe order, keeps them running, and stops them in dependency order.
//
// Components are registered on an Application under unique names. Prepare and
// Start run sequentially in declaration order; Stop runs in the order derived
// from each component's stop-after set.
package lifecycle

import "context"

// Component defines the lifecycle interface that all managed components must implement.
type Component interface {
	// Prepare acquires everything the component needs to be ready: connections,
	// listeners, handler registration. Prepare of a later component may assume
	// every earlier component is fully prepared.
	// Returns error if the component cannot become ready; the application then
	// unwinds and does not start.
	Prepare(ctx context.Context) error

	// Start begins serving. Start must not assume sibling components are started,
	// only that every component is prepared.
	Start(ctx context.Context) error

	// Stop stops accepting new work and waits for in-flight work to finish.
	// Returns error if shutdown fails (but this never prevents other components
	// from stopping).
	Stop(ctx context.Context) error
}

// State is the lifecycle state of a registered component.
type State int

const (
	// Unprepared is the state of a registered component before Prepare.
	Unprepared State = iota
	// Prepared means Prepare returned successfully.
	Prepared
	// Running means Start returned successfully.
	Running
	// Stopped means Stop returned successfully.
	Stopped
	// Failed means a lifecycle transition returned an error.
	Failed
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case Unprepared:
		return "unprepared"
	case Prepared:
		return "prepared"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}
