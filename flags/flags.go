// Package flags provides support for peabodyd CLI args
package flags

import "github.com/pkg/errors"

// ErrExcessArgs is returned when unparsed arguments remain
var ErrExcessArgs = errors.New("excess arguments provided")
