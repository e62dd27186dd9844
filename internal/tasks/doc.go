// Package tasks declares the build, test and check tasks of the platform
// and wires them into a flow.Graph.
//
// Every task receives a RunContext explicitly. The context owns the
// execution environment handle of the run; the graph creates it in the
// "engine" task before any fan-out, so sibling tasks share one handle.
// Tasks derive their own engine.Pipeline values and never modify shared
// state other than the workspace directories they own.
//
// Dependency order, leaves first:
//
//	engine
//	backend-build, frontend-build, storybook-build, frontend-test
//	frontend (join of the three frontend tasks)
//	build (join of backend-build and frontend)
//	backend-test, backend-check
//	test (join)
//	ci
package tasks
