// Package builder provides an API for assembling plans and driving the
// engine over HTTP
//
// Plans and nodes are built with immutable fluent builders: every With
// method returns a modified copy, so a partially configured builder can be
// shared as a template. The Client wraps the engine's REST endpoints for
// starting plans, registering interrupts, and delivering callbacks and
// task results
package builder
