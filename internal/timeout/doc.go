// Package timeout tracks elapsed time for node executions across several
// independent dimensions. Tracked timeouts can be paused while a node is
// blocked or paused, and persisted and restored across restarts
package timeout
