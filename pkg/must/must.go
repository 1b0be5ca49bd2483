// Package must contains functions from the stdlib that panic on error instead
// of returning the error. It is mostly useful in tests and in setup code that
// cannot meaningfully recover.
package must

import (
	"peabody.computer/peabody/pkg"
)

// Do takes any value and error pair, and panics if the error is non-nil. Use it
// wrapping another function call that returns two values, to get a single
// statement that only returns one value.
//
// Example:
//
//	f := must.Do(os.Open("somefile.txt"))
//	defer f.Close()
func Do[T any](v T, err error) T {
	if err != nil {
		pkg.Panicf("expected nil-error, got %s", err)
	}
	return v
}

// Succeed panics if err is non-nil.
func Succeed(err error) {
	if err != nil {
		pkg.Panicf("expected nil-error, got %s", err)
	}
}
