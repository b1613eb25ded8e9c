// Package conductor is the root of the pipeline execution engine. The
// runnable service lives in cmd/conductor
package conductor

const (
	// Name identifies the service in logs and health responses
	Name = "conductor"

	// Version is the released version of the service
	Version = "0.4.0"
)
