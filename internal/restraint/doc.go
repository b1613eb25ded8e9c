// Package restraint implements admission control for node executions that
// compete for capacity-limited resource units. Requests queue per unit in
// arrival order and are admitted strictly from the head of the queue
package restraint
