package util

import (
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

var ErrInvalidDuration = errors.New("invalid duration")

// Duration reads a duration from a JSON value. Numbers are milliseconds,
// strings use time.ParseDuration syntax, and a missing value is zero
func Duration(v gjson.Result) (time.Duration, error) {
	switch v.Type {
	case gjson.Null:
		return 0, nil
	case gjson.Number:
		if v.Int() < 0 {
			return 0, fmt.Errorf("%w: %s", ErrInvalidDuration, v.Raw)
		}
		return time.Duration(v.Int()) * time.Millisecond, nil
	case gjson.String:
		d, err := time.ParseDuration(v.String())
		if err != nil || d < 0 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, v.String())
		}
		return d, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrInvalidDuration, v.Raw)
	}
}

// Durations reads an array of durations from a JSON value
func Durations(v gjson.Result) ([]time.Duration, error) {
	if !v.Exists() {
		return nil, nil
	}
	if !v.IsArray() {
		d, err := Duration(v)
		if err != nil {
			return nil, err
		}
		return []time.Duration{d}, nil
	}
	var res []time.Duration
	for _, e := range v.Array() {
		d, err := Duration(e)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, nil
}
