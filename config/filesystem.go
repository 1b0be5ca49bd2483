package config

import (
	"io/fs"
	"os"
)

// fileSystem is where config files are read from. Tests replace it with an
// fstest.MapFS.
var fileSystem fs.FS = osFS{}

// osFS opens paths on the host filesystem, absolute paths included.
type osFS struct{}

func (osFS) Open(name string) (fs.File, error) {
	return os.Open(name)
}
