// Package server implements the HTTP API of the pipeline engine
//
// It exposes REST endpoints for starting and inspecting plan executions,
// registering interrupts, delivering callbacks and task results, managing
// resource unit capacities, reading archived plans, and a WebSocket that
// streams node status notifications
package server
