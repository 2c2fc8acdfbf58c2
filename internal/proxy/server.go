// Package proxy serves a small CORS-enabled JSON-RPC pass-through so browser
// tooling can reach the chain RPC without cross-origin failures.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"go.uber.org/ratelimit"
)

// maxBodySize bounds a proxied /rpc request body.
const maxBodySize = 10 << 20

// maxConsecutiveFailures opens the upstream circuit.
const maxConsecutiveFailures = 5

const requestIDHeader = "X-Request-Id"

var allowedHeaders = []string{
	"Content-Type",
	"Authorization",
	"alchemy-aa-sdk-version",
	"x-api-key",
	"x-request-id",
}

// Config configures a Server.
type Config struct {
	Addr string
	// RPCURL receives POST /rpc bodies.
	RPCURL string
	// BaseURL receives every other request, path appended. Defaults to
	// RPCURL without its last path element.
	BaseURL string
	Timeout time.Duration
	// RateLimit caps /rpc requests sent upstream per second. Zero means
	// unlimited.
	RateLimit int
	// BreakerTimeout is how long the circuit stays open after repeated
	// upstream failures. Defaults to 30s.
	BreakerTimeout time.Duration
}

// Server is the RPC proxy HTTP server.
type Server struct {
	rpcURL  string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter ratelimit.Limiter
	server  *http.Server
	log     *log.Entry
}

// New validates cfg and builds the server.
func New(cfg Config) (*Server, error) {
	rpcURL, err := url.Parse(cfg.RPCURL)
	if err != nil || rpcURL.Scheme == "" || rpcURL.Host == "" {
		return nil, fmt.Errorf("invalid upstream url %q", cfg.RPCURL)
	}

	base := cfg.BaseURL
	if base == "" {
		u := *rpcURL
		u.Path = path.Dir(u.Path)
		base = u.String()
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", base, err)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	s := &Server{
		rpcURL:  rpcURL.String(),
		client:  &http.Client{Timeout: timeout},
		limiter: ratelimit.NewUnlimited(),
		log:     log.WithField("component", "proxy"),
	}
	if cfg.RateLimit > 0 {
		s.limiter = ratelimit.New(cfg.RateLimit)
	}

	breakerTimeout := cfg.BreakerTimeout
	if breakerTimeout == 0 {
		breakerTimeout = 30 * time.Second
	}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "upstream",
		Timeout: breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			entry := s.log.WithFields(log.Fields{"from": from.String(), "to": to.String()})
			if to == gobreaker.StateOpen {
				entry.Warn("upstream seems down, stop forwarding rpc requests")
				return
			}
			entry.Info("upstream circuit state changed")
		},
	})

	reverse := httputil.NewSingleHostReverseProxy(baseURL)
	director := reverse.Director
	reverse.Director = func(r *http.Request) {
		director(r)
		r.Host = baseURL.Host
	}
	reverse.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		s.log.WithError(err).WithField("path", r.URL.Path).Error("upstream request failed")
		writeProxyError(w)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /rpc", s.handleRPC)
	mux.Handle("/", reverse)

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: allowedHeaders,
	}).Handler(withRequestID(mux))

	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.log.Infof("RPC proxy listening on %s, forwarding to %s", s.server.Addr, s.rpcURL)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down RPC proxy")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		s.log.WithError(err).Warn("failed to read request body")
		writeProxyError(w)
		return
	}
	if !json.Valid(body) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON body"})
		return
	}

	requestID := r.Header.Get(requestIDHeader)
	entry := s.log.WithField("request_id", requestID)
	if s.log.Logger.IsLevelEnabled(log.DebugLevel) {
		entry.WithField("body", redactJSON(body)).Debug("forwarding rpc request")
	}

	out, err := s.forward(r.Context(), body, requestID)
	if err != nil {
		entry.WithError(err).Error("RPC proxy error")
		writeProxyError(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

// forward posts body upstream through the rate limiter and circuit
// breaker.
func (s *Server) forward(ctx context.Context, body []byte, requestID string) ([]byte, error) {
	out, err := s.breaker.Execute(func() (interface{}, error) {
		s.limiter.Take()
		return s.post(ctx, body, requestID)
	})
	if err != nil {
		return nil, err
	}
	return out.([]byte), nil
}

func (s *Server) post(ctx context.Context, body []byte, requestID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if requestID != "" {
		req.Header.Set(requestIDHeader, requestID)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("upstream returned %s", resp.Status)
	}
	return out, nil
}

// withRequestID tags every request with an X-Request-Id, keeping the
// caller's when present, and echoes it in the response.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(requestIDHeader, id)
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func writeProxyError(w http.ResponseWriter) {
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to proxy RPC request"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
