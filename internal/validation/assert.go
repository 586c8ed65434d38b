// Package validation holds constructor-time contract checks.
package validation

import "fmt"

// AssertNotNil panics if the provided pointer is nil. Use it in constructors
// for mandatory dependencies; runtime failures must be returned as errors.
//
//	validation.AssertNotNil(config, "project config")
func AssertNotNil[T any](ptr *T, name string) {
	if ptr == nil {
		panic(fmt.Sprintf("critical error: %s cannot be nil", name))
	}
}

// AssertNotEmpty panics if a mandatory string setting is empty.
func AssertNotEmpty(value, name string) {
	if value == "" {
		panic(fmt.Sprintf("critical error: %s cannot be empty", name))
	}
}
