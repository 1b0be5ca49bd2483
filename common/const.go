package common

const (
	// RuntimeDirEnv names the environment variable holding the per-user
	// runtime directory the display socket lives in.
	RuntimeDirEnv = "XDG_RUNTIME_DIR"

	// DefaultDisplaySocket is the file name of the native display socket
	// inside the runtime directory.
	DefaultDisplaySocket = "wayland-0"

	// DefaultListenAddress is the address the WebSocket server listens on
	// when none is configured.
	DefaultListenAddress = ":8080"

	// Subprotocol is the WebSocket application subprotocol negotiated with
	// remote peers.
	Subprotocol = "peabody"

	// MaxFdsPerRead bounds the number of descriptors accepted from a single
	// native read event.
	MaxFdsPerRead = 28

	// NativeReadBufferSize is the size of the payload buffer for a single
	// native read event.
	NativeReadBufferSize = 0xFFFF

	// DefaultRegionWorkers is the number of concurrent region reads allowed
	// across the whole gateway.
	DefaultRegionWorkers = 4

	// DefaultMaxRegionRowBytes bounds the width of a single region row.
	DefaultMaxRegionRowBytes = 16 << 20
)

// Tag frames sent on a pairing channel ahead of each binary frame.
const (
	TagWayland = "wl"
	TagFds     = "fd"
)

// Route prefixes on the remote transport.
const (
	ControlRoute = "/control/"
	ClientRoute  = "/client/"
	FdRoute      = "/fd/"
)
