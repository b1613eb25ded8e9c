// Package script compiles and evaluates the skip conditions attached to
// plan nodes. Lua and expr-lang conditions are supported
package script
