// Package config contains the gateway's server configuration and its TOML
// loader.
package config

import (
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"peabody.computer/peabody/common"
	"peabody.computer/peabody/native"
	"peabody.computer/peabody/pkg/thunks"
)

// DefaultWriteTimeout bounds a single write to a remote channel.
const DefaultWriteTimeout = 10 * time.Second

// maxFdsLimit is the kernel's SCM_MAX_FD.
const maxFdsLimit = 253

// ErrNoRuntimeDir is returned by SocketPath when neither the configuration
// nor the environment names a runtime directory.
var ErrNoRuntimeDir = errors.New("config: no runtime directory, set runtime_dir or " + common.RuntimeDirEnv)

// Duration is a time.Duration written as a string such as "10s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig represents a parsed server configuration.
type ServerConfig struct {
	ListenAddress  string   `toml:"listen_address"`
	RuntimeDir     string   `toml:"runtime_dir"`
	DisplaySocket  string   `toml:"display_socket"`
	Subprotocol    string   `toml:"subprotocol"`
	AllowedOrigins []string `toml:"allowed_origins"`

	MaxFdsPerRead     int      `toml:"max_fds_per_read"`
	ReadBufferSize    int      `toml:"read_buffer_size"`
	RegionWorkers     int      `toml:"region_workers"`
	MaxRegionRowBytes int64    `toml:"max_region_row_bytes"`
	WriteTimeout      Duration `toml:"write_timeout"`

	LogLevel string `toml:"log_level"`
}

// Default returns the configuration used when no file is given.
func Default() *ServerConfig {
	return &ServerConfig{
		ListenAddress:     common.DefaultListenAddress,
		DisplaySocket:     common.DefaultDisplaySocket,
		Subprotocol:       common.Subprotocol,
		MaxFdsPerRead:     common.MaxFdsPerRead,
		ReadBufferSize:    common.NativeReadBufferSize,
		RegionWorkers:     common.DefaultRegionWorkers,
		MaxRegionRowBytes: common.DefaultMaxRegionRowBytes,
		WriteTimeout:      Duration{DefaultWriteTimeout},
		LogLevel:          logrus.InfoLevel.String(),
	}
}

// LoadServerConfigFromFile reads the TOML file at path over the defaults and
// validates the result. Unknown keys are an error.
func LoadServerConfigFromFile(path string) (*ServerConfig, error) {
	sc := Default()
	f, err := fileSystem.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "config: unable to open")
	}
	defer f.Close()
	md, err := toml.NewDecoder(f).Decode(sc)
	if err != nil {
		return nil, errors.Wrapf(err, "config: unable to parse %s", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, errors.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}
	if err := sc.Validate(); err != nil {
		return nil, errors.Wrap(err, path)
	}
	return sc, nil
}

// Validate checks that every setting is usable.
func (sc *ServerConfig) Validate() error {
	switch {
	case sc.ListenAddress == "":
		return errors.New("config: listen_address is empty")
	case sc.DisplaySocket == "" || strings.ContainsRune(sc.DisplaySocket, '/'):
		return errors.Errorf("config: display_socket %q must be a plain file name", sc.DisplaySocket)
	case sc.Subprotocol == "":
		return errors.New("config: subprotocol is empty")
	case sc.MaxFdsPerRead < 1 || sc.MaxFdsPerRead > maxFdsLimit:
		return errors.Errorf("config: max_fds_per_read must be between 1 and %d", maxFdsLimit)
	case sc.ReadBufferSize < 1:
		return errors.New("config: read_buffer_size must be positive")
	case sc.RegionWorkers < 1:
		return errors.New("config: region_workers must be positive")
	case sc.MaxRegionRowBytes < 1:
		return errors.New("config: max_region_row_bytes must be positive")
	case sc.WriteTimeout.Duration < 0:
		return errors.New("config: write_timeout is negative")
	}
	if _, err := logrus.ParseLevel(sc.LogLevel); err != nil {
		return errors.Wrap(err, "config: log_level")
	}
	return nil
}

// SocketPath returns the path of the native display socket. The runtime
// directory falls back to the environment.
func (sc *ServerConfig) SocketPath() (string, error) {
	dir := sc.RuntimeDir
	if dir == "" {
		v, ok := thunks.LookupEnv(common.RuntimeDirEnv)
		if !ok || v == "" {
			return "", ErrNoRuntimeDir
		}
		dir = v
	}
	return native.SocketPath(dir, sc.DisplaySocket), nil
}
