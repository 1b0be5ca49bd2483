// Package peabodyserver wires the gateway together: the native display
// socket, the WebSocket endpoint, and the components shared between them.
package peabodyserver

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"peabody.computer/peabody/bridge"
	"peabody.computer/peabody/config"
	"peabody.computer/peabody/control"
	"peabody.computer/peabody/native"
	"peabody.computer/peabody/region"
	"peabody.computer/peabody/router"
)

const acceptBackoff = 100 * time.Millisecond

// PeabodyServer holds the listeners and state of one gateway instance.
type PeabodyServer struct {
	config *config.ServerConfig

	ctx    context.Context
	cancel context.CancelFunc

	handles *region.Handles
	regions *region.Service
	bridge  *bridge.Bridge
	control *control.Slot

	nativePath string
	native     *net.UnixListener
	remote     net.Listener
	http       *http.Server

	closeOnce sync.Once
}

// NewPeabodyServer binds the native display socket and the remote endpoint
// described by sc. Failure to bind either is returned.
func NewPeabodyServer(sc *config.ServerConfig) (*PeabodyServer, error) {
	path, err := sc.SocketPath()
	if err != nil {
		return nil, err
	}
	nl, err := native.Listen(path)
	if err != nil {
		return nil, err
	}
	rl, err := net.Listen("tcp", sc.ListenAddress)
	if err != nil {
		nl.Close()
		return nil, errors.Wrapf(err, "server: unable to listen at %s", sc.ListenAddress)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &PeabodyServer{
		config:     sc,
		ctx:        ctx,
		cancel:     cancel,
		handles:    region.NewHandles(),
		control:    &control.Slot{},
		nativePath: path,
		native:     nl,
		remote:     rl,
	}
	s.regions = region.NewService(s.handles, region.Config{
		Workers:     sc.RegionWorkers,
		MaxRowBytes: sc.MaxRegionRowBytes,
	})
	s.bridge = bridge.New(s.handles, bridge.Config{
		MaxFdsPerRead:  sc.MaxFdsPerRead,
		ReadBufferSize: sc.ReadBufferSize,
	})
	rt := router.New(ctx, s.control, s.bridge, s.handles, s.regions, router.Config{
		Subprotocol:    sc.Subprotocol,
		AllowedOrigins: sc.AllowedOrigins,
		WriteTimeout:   sc.WriteTimeout.Duration,
	})
	s.http = &http.Server{
		Handler:           rt,
		ReadHeaderTimeout: 10 * time.Second,
	}
	logrus.Infof("server: native clients at %s", path)
	logrus.Infof("server: remote peers at %s", rl.Addr())
	return s, nil
}

// Serve runs both accept loops until Close is called or one of them fails.
func (s *PeabodyServer) Serve() error {
	logrus.Info("peabody server starting")
	g, ctx := errgroup.WithContext(s.ctx)
	g.Go(s.acceptNative)
	g.Go(func() error {
		err := s.http.Serve(s.remote)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "server: remote endpoint failed")
	})
	g.Go(func() error {
		<-ctx.Done()
		s.Close()
		return nil
	})
	return g.Wait()
}

func (s *PeabodyServer) acceptNative() error {
	for {
		conn, err := s.native.AcceptUnix()
		if errors.Is(err, net.ErrClosed) {
			return nil
		} else if err != nil {
			logrus.Errorf("server: error accepting native client: %v", err)
			select {
			case <-time.After(acceptBackoff):
				continue
			case <-s.ctx.Done():
				return nil
			}
		}
		s.newSession(conn)
	}
}

func (s *PeabodyServer) newSession(conn *net.UnixConn) {
	creds, err := native.PeerCredentials(conn)
	if err != nil {
		logrus.Warnf("server: accepted native client with unknown credentials: %v", err)
	} else {
		logrus.WithFields(logrus.Fields{
			"pid": creds.Pid,
			"uid": creds.Uid,
			"gid": creds.Gid,
		}).Info("server: accepted native client")
	}
	sess, err := s.bridge.Create(conn)
	if err != nil {
		logrus.Errorf("server: %v", err)
		return
	}
	s.control.NotifyNewSession(sess.ID)
}

// NativeAddress returns the path of the native display socket.
func (s *PeabodyServer) NativeAddress() string {
	return s.nativePath
}

// RemoteAddress returns the address of the WebSocket endpoint.
func (s *PeabodyServer) RemoteAddress() net.Addr {
	return s.remote.Addr()
}

// Close stops both listeners and closes every session, channel and handle.
func (s *PeabodyServer) Close() error {
	var err error
	s.closeOnce.Do(func() {
		logrus.Info("peabody server stopping")
		s.cancel()
		if nerr := s.native.Close(); nerr != nil {
			err = errors.Wrap(nerr, "server: closing native listener")
		}
		if herr := s.http.Close(); herr != nil && err == nil {
			err = errors.Wrap(herr, "server: closing remote endpoint")
		}
		s.control.Close()
		s.regions.Close()
		s.bridge.Close()
		s.handles.Close()
	})
	return err
}
