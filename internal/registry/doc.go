// Package registry provides the keyed producer registry shared by the
// facilitator, adviser, and step executor registries
package registry
