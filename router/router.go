// Package router accepts remote channels and hands them to the control slot,
// the bridge, or the region service depending on the requested path.
package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"goji.io"
	"goji.io/pat"

	"peabody.computer/peabody/bridge"
	"peabody.computer/peabody/channel"
	"peabody.computer/peabody/common"
	"peabody.computer/peabody/control"
	"peabody.computer/peabody/region"
	"peabody.computer/peabody/registry"
)

// Config tunes the remote endpoint.
type Config struct {
	// Subprotocol is the WebSocket subprotocol offered to peers.
	Subprotocol string

	// AllowedOrigins lists the browser origins accepted. Empty, or a single
	// "*", accepts any origin.
	AllowedOrigins []string

	// WriteTimeout bounds a single write to a remote channel.
	WriteTimeout time.Duration
}

// Router is an http.Handler serving the remote endpoint.
type Router struct {
	*goji.Mux

	ctx      context.Context
	upgrader websocket.Upgrader
	config   Config

	control *control.Slot
	bridge  *bridge.Bridge
	handles *region.Handles
	regions *region.Service
}

// New returns a Router dispatching to the given components. ctx bounds the
// region reads started by the router.
func New(ctx context.Context, slot *control.Slot, b *bridge.Bridge, handles *region.Handles, regions *region.Service, config Config) *Router {
	if config.Subprotocol == "" {
		config.Subprotocol = common.Subprotocol
	}
	rt := &Router{
		Mux:      goji.NewMux(),
		ctx:      ctx,
		upgrader: makeUpgrader(config),
		config:   config,
		control:  slot,
		bridge:   b,
		handles:  handles,
		regions:  regions,
	}
	rt.Handle(pat.Get(common.ControlRoute+"*"), http.HandlerFunc(rt.serveControl))
	rt.Handle(pat.Get(common.ClientRoute+":id"), http.HandlerFunc(rt.serveClient))
	rt.Handle(pat.Get(common.FdRoute+":id"), http.HandlerFunc(rt.serveRegion))
	rt.Handle(pat.New("/*"), http.HandlerFunc(rt.serveUnknown))
	return rt
}

func makeUpgrader(config Config) websocket.Upgrader {
	allowAll := len(config.AllowedOrigins) == 0 ||
		(len(config.AllowedOrigins) == 1 && config.AllowedOrigins[0] == "*")
	allowed := make(map[string]bool, len(config.AllowedOrigins))
	for _, o := range config.AllowedOrigins {
		allowed[o] = true
	}
	return websocket.Upgrader{
		Subprotocols: []string{config.Subprotocol},
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			return origin == "" || allowed[origin]
		},
	}
}

// upgrade turns the request into a channel. Every route upgrades before
// deciding anything so that rejections reach the peer as close frames.
func (rt *Router) upgrade(w http.ResponseWriter, r *http.Request) (*channel.Conn, *logrus.Entry, bool) {
	log := logrus.WithFields(logrus.Fields{"route": r.URL.Path, "remote": r.RemoteAddr})
	ws, err := rt.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("router: upgrade failed: %v", err)
		return nil, nil, false
	}
	log.Debug("router: channel opened")
	return channel.New(ws, rt.config.WriteTimeout, log), log, true
}

func (rt *Router) serveControl(w http.ResponseWriter, r *http.Request) {
	ch, log, ok := rt.upgrade(w, r)
	if !ok {
		return
	}
	log.Info("router: control channel opened")
	rt.control.Serve(ch)
}

func (rt *Router) serveClient(w http.ResponseWriter, r *http.Request) {
	ch, log, ok := rt.upgrade(w, r)
	if !ok {
		return
	}
	id, err := registry.ParseID(pat.Param(r, "id"))
	if err != nil {
		log.Warnf("router: %v", err)
		ch.Close(channel.CloseProtocolError, "malformed session id")
		return
	}
	sess, err := rt.bridge.Pair(id, ch)
	switch {
	case err == nil:
	case errors.Is(err, bridge.ErrUnknownSession):
		log.Warnf("router: %v", err)
		ch.Close(channel.CloseProtocolError, "unknown session")
		return
	case errors.Is(err, bridge.ErrAlreadyPaired):
		log.Warnf("router: %v", err)
		ch.Close(channel.ClosePolicyViolation, "session already paired")
		return
	default:
		log.Warnf("router: unable to pair: %v", err)
		ch.Close(channel.CloseGoingAway, "server shutting down")
		return
	}
	<-sess.Done()
}

func (rt *Router) serveRegion(w http.ResponseWriter, r *http.Request) {
	ch, log, ok := rt.upgrade(w, r)
	if !ok {
		return
	}
	id, err := registry.ParseID(pat.Param(r, "id"))
	if err != nil {
		log.Warnf("router: %v", err)
		ch.Close(channel.CloseProtocolError, "malformed handle id")
		return
	}
	h, ok := rt.handles.Lookup(id)
	if !ok {
		log.Warnf("router: unknown handle %d", id)
		ch.Close(channel.CloseProtocolError, "unknown handle")
		return
	}
	if !h.Claim() {
		log.Warnf("router: handle %d is already being served", id)
		ch.Close(channel.ClosePolicyViolation, "handle already in use")
		return
	}
	rt.regions.Serve(rt.ctx, h, ch)
}

func (rt *Router) serveUnknown(w http.ResponseWriter, r *http.Request) {
	ch, log, ok := rt.upgrade(w, r)
	if !ok {
		return
	}
	log.Warn("router: unknown route")
	ch.Close(channel.CloseProtocolError, "unknown route")
}
