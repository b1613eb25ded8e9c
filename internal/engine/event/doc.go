// Package event queues inbound async callbacks and task results so that
// they are delivered to node executions in arrival order
package event
