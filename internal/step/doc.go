// Package step defines the boundary between the engine and the executors
// that perform the actual work of a plan node, along with a handful of
// general-purpose built-in steps
package step
