// Package facilitator decides how a node's step executor is invoked:
// synchronously, asynchronously, as a remote task, or by spawning children
package facilitator
