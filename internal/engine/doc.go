// Package engine describes work executed in an isolated environment.
//
// A Pipeline is an immutable value: every With* method returns a modified
// copy, so tasks derive their own pipelines from shared ones without
// affecting each other. A Client executes a Pipeline in a workspace
// directory on the host and returns an Artifact, a handle to the workspace
// in the state the steps left it. Downstream pipelines never receive an
// Artifact as a whole; they Export an allow-listed subset of it into their
// own workspace.
//
// Backends live in sub packages: docker (testcontainers) and local (host
// processes). enginetest provides a recording fake.
package engine
