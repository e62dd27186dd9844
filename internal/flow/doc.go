// Package flow runs a static graph of named tasks.
//
// A Task declares its dependencies by name and receives their outputs as
// Inputs. NewGraph validates the declarations once (unique names, known
// dependencies, no cycles). Run executes the dependency closure of a target:
// every task runs in its own goroutine as soon as all of its dependencies
// succeeded, so independent tasks fan out and a task with several
// dependencies is the fan-in point.
//
// State of a task in a run:
//
//	Pending -> Running -> Succeeded
//	                   -> Failed
//	Pending -> Skipped            (a dependency did not succeed, or ctx is done)
//
// A failure never cancels tasks on independent branches; they run to
// completion and only the dependents of the failed task are skipped.
//
// WithSeed marks a task as already succeeded with a given output. Its own
// dependencies are pruned from the run, which allows composing a run on top
// of a result computed earlier.
package flow
