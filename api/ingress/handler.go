package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/omnia-iot/omnia-backend/api"
	"github.com/omnia-iot/omnia-backend/challenge"
	"github.com/omnia-iot/omnia-backend/interfaces"
)

const (
	// ErrorContentType is the content type of every error response.
	ErrorContentType = "plain/text"

	SPARQLContentType = "application/json"
)

// Backend is the part of the registry reachable over plain HTTP.
type Backend interface {
	IngestChallenge(nonce string, h http.Header) (interfaces.IPChallenge, error)
	QuerySPARQL(ctx context.Context, query string) ([]byte, error)
}

// Handler serves the unauthenticated HTTP ingress: IP challenges and SPARQL
// queries. Every response allows any origin.
type Handler struct {
	backend          Backend
	appendRemoteAddr bool
	log              *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithAppendRemoteAddr makes the handler append the TCP peer address to
// X-Forwarded-For before deriving the requester IP.
func WithAppendRemoteAddr(enabled bool) Option {
	return func(h *Handler) {
		h.appendRemoteAddr = enabled
	}
}

func NewHandler(backend Backend, log *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		backend: backend,
		log:     log,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes mounts the ingress routes on r and installs the 405 and 404
// handlers of r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(allowAnyOrigin)
		r.Post("/ip-challenge", h.HandleIPChallenge)
		r.Post("/sparql/query", h.HandleSPARQLQuery)
	})
	r.MethodNotAllowed(methodNotAllowed)
	r.NotFound(notFound)
}

// HandleIPChallenge records the requester IP of a locality challenge.
//
// URL format: POST /ip-challenge
// Request body: {"nonce": "<opaque>"}
// Required headers: X-Forwarded-For, and X-Proxied-For with X-Peer-Id when
// the last hop is the proxy.
//
// Response: 200 with an empty body.
func (h *Handler) HandleIPChallenge(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, api.MaxBodySize))
	if err != nil {
		writeError(w, interfaces.ErrorTag(interfaces.ErrMalformedBody), http.StatusBadRequest)
		return
	}

	var req api.ChallengeRequest
	if err := json.Unmarshal(body, &req); err != nil || req.Nonce == "" {
		writeError(w, interfaces.ErrorTag(interfaces.ErrMalformedBody), http.StatusBadRequest)
		return
	}

	header := r.Header
	if h.appendRemoteAddr {
		header = withRemoteAddr(r)
	}

	challengeValue, err := h.backend.IngestChallenge(req.Nonce, header)
	if err != nil {
		h.log.Debug("Rejected IP challenge", "err", err)
		writeError(w, interfaces.ErrorTag(err), challengeStatus(err))
		return
	}

	h.log.Debug("Accepted IP challenge", "requesterIP", challengeValue.RequesterIP, "proxied", challengeValue.IsProxied)
	w.WriteHeader(http.StatusOK)
}

// HandleSPARQLQuery forwards a SPARQL query to the triple store.
//
// URL format: POST /sparql/query
// Request body: the SPARQL query string
//
// Response: the store's JSON result, or 500 with "Error: <msg>".
func (h *Handler) HandleSPARQLQuery(w http.ResponseWriter, r *http.Request) {
	query, err := io.ReadAll(http.MaxBytesReader(w, r.Body, api.MaxBodySize))
	if err != nil {
		writeError(w, "Error: "+err.Error(), http.StatusInternalServerError)
		return
	}

	result, err := h.backend.QuerySPARQL(r.Context(), string(query))
	if err != nil {
		h.log.Warn("SPARQL query failed", "err", err)
		writeError(w, "Error: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", SPARQLContentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(result); err != nil {
		h.log.Error("Failed to write SPARQL response", "err", err)
	}
}

func challengeStatus(err error) int {
	switch {
	case errors.Is(err, interfaces.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, interfaces.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, interfaces.ErrMalformedBody):
		return http.StatusBadRequest
	}

	var missing *interfaces.MissingHeaderError
	var malformed *interfaces.MalformedHeaderError
	if errors.As(err, &missing) || errors.As(err, &malformed) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// withRemoteAddr returns a copy of the request headers with the peer of the
// TCP connection appended to X-Forwarded-For.
func withRemoteAddr(r *http.Request) http.Header {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.Header
	}
	header := r.Header.Clone()
	header.Add(challenge.HeaderForwardedFor, host)
	return header
}

func allowAnyOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

func methodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	writeError(w, "Not found", http.StatusNotFound)
}

func writeError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", ErrorContentType)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, msg)
}
