// Package thunks contains pointers to functions that might be replaced in
// tests.
package thunks

import (
	"os"
)

// LookupEnv is an alias for os.LookupEnv
var LookupEnv func(string) (string, bool) = os.LookupEnv

// SetUpTest replaces thunks with stable test versions. Environment lookups
// only see the values in env.
func SetUpTest(env map[string]string) {
	LookupEnv = func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

// TearDownTest restores the thunks replaced by SetUpTest.
func TearDownTest() {
	LookupEnv = os.LookupEnv
}
