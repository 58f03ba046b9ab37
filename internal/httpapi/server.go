// Package httpapi serves the trade lifecycle over HTTP and pushes committed
// changes to participants over websockets.
package httpapi

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"confianza/internal/auth"
	"confianza/internal/observability"
	"confianza/internal/storage"
	"confianza/internal/trading"
)

const (
	maxBodyBytes        = 1 << 20
	defaultPingInterval = 30 * time.Second
)

// Options wires a Server.
type Options struct {
	Executor *trading.Executor
	Opener   *trading.Opener
	Trades   storage.TradeStore
	Feed     storage.ChangeFeed
	Sessions *auth.Sessions
	Logger   logrus.FieldLogger
	// PingInterval is how often live connections are pinged. Zero selects
	// 30s.
	PingInterval time.Duration
}

// Server is the HTTP surface.
type Server struct {
	executor     *trading.Executor
	opener       *trading.Opener
	trades       storage.TradeStore
	feed         storage.ChangeFeed
	sessions     *auth.Sessions
	logger       logrus.FieldLogger
	pingInterval time.Duration
	upgrader     websocket.Upgrader
}

// NewServer creates a server from opts.
func NewServer(opts Options) *Server {
	ping := opts.PingInterval
	if ping <= 0 {
		ping = defaultPingInterval
	}
	return &Server{
		executor:     opts.Executor,
		opener:       opts.Opener,
		trades:       opts.Trades,
		feed:         opts.Feed,
		sessions:     opts.Sessions,
		logger:       opts.Logger,
		pingInterval: ping,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("POST /api/trades/update-status", s.instrument("update_status", s.handleUpdateStatus))
	mux.Handle("POST /api/trades", s.instrument("open_trade", s.handleOpenTrade))
	mux.Handle("GET /api/trades/{id}", s.instrument("get_trade", s.handleGetTrade))
	mux.Handle("GET /api/trades/{id}/live", s.instrument("live", s.handleLive))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", observability.Handler())

	return mux
}

// instrument records the response code of every request to route.
func (s *Server) instrument(route string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		h(rec, r)

		observability.RecordHTTPRequest(route, rec.code)
		s.logger.WithFields(logrus.Fields{
			"route":    route,
			"method":   r.Method,
			"path":     r.URL.Path,
			"code":     rec.code,
			"duration": time.Since(start).String(),
		}).Debug("request handled")
	})
}

// statusRecorder captures the response code. It forwards Hijack so
// websocket upgrades pass through.
type statusRecorder struct {
	http.ResponseWriter
	code        int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.code = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	if !r.wroteHeader {
		r.code = http.StatusSwitchingProtocols
		r.wroteHeader = true
	}
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, ErrorResponse{Error: msg})
}

var errBadBody = errors.New("invalid request body")

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadBody, err)
	}
	return nil
}
