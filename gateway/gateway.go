// Package gateway exposes execution sessions over HTTP: a server-sent
// events endpoint, a WebSocket endpoint, a legacy JSON endpoint kept only
// to redirect callers, and health checks.
package gateway

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"codexgate/session"
)

// Gateway is the HTTP server in front of the session runner.
type Gateway struct {
	logger     *zap.SugaredLogger
	listenAddr string
	apiKey     string
	limiter    *rate.Limiter
	runner     *session.Runner

	mut        sync.Mutex
	httpServer *http.Server
}

type Option func(g *Gateway)

func WithListenAddr(s string) Option {
	return func(g *Gateway) {
		g.listenAddr = s
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(g *Gateway) {
		g.logger = l.Named("gateway").Sugar()
	}
}

func WithLogLevel(l zapcore.Level) Option {
	return func(g *Gateway) {
		g.logger = g.logger.WithOptions(zap.IncreaseLevel(l))
	}
}

// WithAPIKey enables bearer-token auth on the exec endpoints. An empty key
// leaves them open (dev mode).
func WithAPIKey(key string) Option {
	return func(g *Gateway) {
		g.apiKey = key
	}
}

// WithRateLimit caps exec requests at rps with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(g *Gateway) {
		g.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// New constructs a Gateway around a session runner.
func New(runner *session.Runner, opts ...Option) (*Gateway, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	g := &Gateway{
		logger:     logger.Named("gateway").Sugar(),
		listenAddr: "0.0.0.0:8080",
		runner:     runner,
	}
	for _, o := range opts {
		o(g)
	}
	return g, nil
}

// Run listens on the configured address and serves until stopped.
func (g *Gateway) Run() error {
	ln, err := net.Listen("tcp", g.listenAddr)
	if err != nil {
		return err
	}
	return g.Serve(ln)
}

// Serve serves on an existing listener.
func (g *Gateway) Serve(ln net.Listener) error {
	router := httprouter.New()
	router.GET("/health", g.health)
	router.GET("/healthz", g.health)
	router.POST("/api/v1/exec/stream", g.authed(g.limited(g.execStream)))
	router.GET("/api/v1/exec/ws", g.authed(g.limited(g.execWS)))
	router.POST("/api/v1/exec", g.authed(g.limited(g.execLegacy)))

	server := http.Server{Handler: router}
	g.mut.Lock()
	g.httpServer = &server
	g.mut.Unlock()

	err := server.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (g *Gateway) Stop() error {
	g.mut.Lock()
	defer g.mut.Unlock()
	if g.httpServer == nil {
		return nil
	}
	return g.httpServer.Close()
}

// ErrorResponse is the body of the legacy endpoint's rejection.
type ErrorResponse struct {
	Error               string  `json:"error"`
	RecommendedEndpoint *string `json:"recommended_endpoint"`
	Status              int     `json:"status"`
}

func (g *Gateway) health(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	g.writeJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
	}{Status: "healthy"})
}

// execLegacy rejects the old buffered endpoint and points callers at the
// streaming one.
func (g *Gateway) execLegacy(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	endpoint := "/api/v1/exec/stream"
	g.writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
		Error:               "Use /api/v1/exec/stream endpoint for real-time execution",
		RecommendedEndpoint: &endpoint,
		Status:              http.StatusUnprocessableEntity,
	})
}

// execStream runs one session and relays its events as server-sent events.
func (g *Gateway) execStream(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	req, ok := g.decodeExecRequest(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range g.runner.Run(r.Context(), req) {
		if err := writeSSE(w, ev); err != nil {
			g.logger.Debugf("error writing SSE event: %s", err)
			return
		}
		flusher.Flush()
	}
}

func (g *Gateway) decodeExecRequest(w http.ResponseWriter, r *http.Request) (session.Request, bool) {
	var req session.Request
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return session.Request{}, false
	}
	if req.Prompt == "" {
		http.Error(w, "request contained no prompt", http.StatusBadRequest)
		return session.Request{}, false
	}
	return req, true
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		g.logger.Debugf("error marshaling response: %s", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
}
