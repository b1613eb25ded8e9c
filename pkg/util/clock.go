package util

import "time"

// Clock provides the current time. Components take one so tests can drive
// time by hand
type Clock func() time.Time
