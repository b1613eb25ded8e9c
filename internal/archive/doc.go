// Package archive keeps finished plan executions in blob storage once they
// leave the active set, and hibernates evicted aggregates to the same
// bucket
package archive
