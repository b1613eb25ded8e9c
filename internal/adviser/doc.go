// Package adviser decides what happens after a node execution reaches a
// terminal status: continue, retry, ignore, mark, wait for intervention, or
// end the plan
package adviser
