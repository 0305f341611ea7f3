package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	serial "github.com/luhtfiimanal/go-livestock-serial"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// bridge exposes one Manager over HTTP: control endpoints, a websocket feed
// of decoded values and status changes, and metrics.
type bridge struct {
	mgr      *serial.Manager
	cfg      *serial.Config
	log      zerolog.Logger
	gatherer prometheus.Gatherer
}

func newBridge(mgr *serial.Manager, cfg *serial.Config, log zerolog.Logger, g prometheus.Gatherer) *bridge {
	return &bridge{mgr: mgr, cfg: cfg, log: log, gatherer: g}
}

func (b *bridge) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", b.handleStatus)
	mux.HandleFunc("GET /api/ports", b.handlePorts)
	mux.HandleFunc("POST /api/{channel}/{action}", b.handleControl)
	mux.HandleFunc("GET /ws", b.handleWS)
	mux.Handle("GET /metrics", promhttp.HandlerFor(b.gatherer, promhttp.HandlerOpts{}))
	return requestLogger(b.log, mux)
}

func (b *bridge) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, b.mgr.Snapshot())
}

func (b *bridge) handlePorts(w http.ResponseWriter, r *http.Request) {
	ports, err := b.mgr.ListPorts()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"ports": ports})
}

// handleControl runs connect, disconnect or toggle on one channel using the
// port settings from the config file.
func (b *bridge) handleControl(w http.ResponseWriter, r *http.Request) {
	kind := serial.Kind(r.PathValue("channel"))
	var portCfg serial.PortConfig
	switch kind {
	case serial.KindScanner:
		portCfg = b.cfg.Scanner
	case serial.KindScale:
		portCfg = b.cfg.Scale
	default:
		http.Error(w, "unknown channel", http.StatusNotFound)
		return
	}

	var err error
	switch r.PathValue("action") {
	case "connect":
		err = b.mgr.Connect(r.Context(), kind, portCfg)
	case "disconnect":
		err = b.mgr.Disconnect(kind)
	case "toggle":
		err = b.mgr.Toggle(r.Context(), kind, portCfg)
	default:
		http.Error(w, "unknown action", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b.mgr.Snapshot())
}

// handleWS streams bus events to one websocket client. Each client has its
// own subscription, so a slow client only loses its own old events.
func (b *bridge) handleWS(w http.ResponseWriter, r *http.Request) {
	// subscribe before the handshake completes so the client misses nothing
	// published after it is connected
	sub := b.mgr.Subscribe(b.cfg.EventQueue)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Close()
		return
	}

	// reader: detects the client going away
	go func() {
		defer sub.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go func() {
		defer func() {
			if err := conn.Close(); err != nil {
				b.log.Debug().Err(err).Msg("close websocket")
			}
		}()
		for ev := range sub.C() {
			if err := conn.WriteJSON(ev); err != nil {
				sub.Close()
				return
			}
		}
	}()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the serial error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, serial.ErrDeviceUnsupported):
		status = http.StatusNotImplemented
	case errors.Is(err, serial.ErrPermissionDenied):
		status = http.StatusForbidden
	case errors.Is(err, serial.ErrSelectionCancelled):
		status = http.StatusBadRequest
	case errors.Is(err, serial.ErrDeviceBusy):
		status = http.StatusConflict
	case errors.Is(err, serial.ErrInvalidConfig):
		status = http.StatusBadRequest
	case errors.Is(err, serial.ErrOpenFailed):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
