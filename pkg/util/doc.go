// Package util provides the small generic containers shared by the engine:
// sets and a hierarchical path index used to group scheduled work by plan
// and node execution
package util
