// Package api defines the data model shared by the execution engine and its
// collaborators
//
// It contains plans and plan nodes, the ambiance context, node and plan
// execution records, executable responses, advises, interrupts, restraint
// instances, persisted event payloads, and HTTP messages
package api
