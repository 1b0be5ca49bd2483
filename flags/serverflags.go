package flags

import (
	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"peabody.computer/peabody/config"
)

// ServerFlags holds CLI args for the gateway. Empty values leave the
// configuration untouched.
type ServerFlags struct {
	ConfigPath    string
	ListenAddress string
	RuntimeDir    string
	DisplaySocket string
	LogLevel      string
}

// ParseServerArgs defines and parses the flags from the cmd line for
// peabodyd. args[0] is the program name.
func ParseServerArgs(args []string) (*ServerFlags, error) {
	f := &ServerFlags{}
	fs := pflag.NewFlagSet(args[0], pflag.ContinueOnError)
	defineServerFlags(fs, f)

	if err := fs.Parse(args[1:]); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, ErrExcessArgs
	}
	return f, nil
}

func defineServerFlags(fs *pflag.FlagSet, f *ServerFlags) {
	fs.StringVarP(&f.ConfigPath, "config", "C", "", "path to server config file")
	fs.StringVar(&f.ListenAddress, "listen", "", "address of the WebSocket endpoint")
	fs.StringVar(&f.RuntimeDir, "runtime-dir", "", "directory holding the display socket (default $XDG_RUNTIME_DIR)")
	fs.StringVar(&f.DisplaySocket, "socket", "", "name of the display socket")
	fs.StringVar(&f.LogLevel, "log-level", "", "logging level")
}

func mergeServerFlagsAndConfig(f *ServerFlags, sc *config.ServerConfig) {
	if f.ListenAddress != "" {
		sc.ListenAddress = f.ListenAddress
	}
	if f.RuntimeDir != "" {
		sc.RuntimeDir = f.RuntimeDir
	}
	if f.DisplaySocket != "" {
		sc.DisplaySocket = f.DisplaySocket
	}
	if f.LogLevel != "" {
		sc.LogLevel = f.LogLevel
	}
}

// LoadServerConfigFromFlags loads the config file named in the flags, or the
// defaults when there is none, and applies the remaining flags on top.
func LoadServerConfigFromFlags(f *ServerFlags) (*config.ServerConfig, error) {
	sc := config.Default()
	if f.ConfigPath != "" {
		var err error
		sc, err = config.LoadServerConfigFromFile(f.ConfigPath)
		if err != nil {
			return nil, err
		}
	}
	mergeServerFlagsAndConfig(f, sc)
	if err := sc.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid flags")
	}
	return sc, nil
}
