package rpc

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/omnia-iot/omnia-backend/api"
	"github.com/omnia-iot/omnia-backend/interfaces"
	"github.com/omnia-iot/omnia-backend/metrics"
	"github.com/omnia-iot/omnia-backend/registry"
)

// Handler exposes the registry operations as signed JSON calls.
type Handler struct {
	reg *registry.Registry
	log *slog.Logger
}

func NewHandler(reg *registry.Registry, log *slog.Logger) *Handler {
	return &Handler{
		reg: reg,
		log: log,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/rpc/{method}", h.HandleCall)
}

// HandleCall runs one RPC method.
//
// URL format: POST /rpc/{method}
// Required headers:
//   - X-Principal-Id: checksummed address of the caller
//   - X-Principal-Signature: signature over sha256(path || body)
//
// Request body: the JSON argument object of the method.
//
// Response: {"ok": <result>} or {"err": "<tag>"}.
func (h *Handler) HandleCall(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "method")
	m, found := methods[name]
	if !found {
		h.writeResponse(w, http.StatusNotFound, api.RPCResponse{Err: "NotFound(method)"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, api.MaxBodySize))
	if err != nil {
		h.writeError(w, name, interfaces.ErrMalformedBody)
		return
	}

	caller, err := Authenticate(r, body)
	if err != nil {
		h.log.Debug("Rejected RPC caller", "method", name, "err", err)
		h.writeError(w, name, err)
		return
	}

	if m.backendOnly && !h.reg.CallerIsBackend(caller) {
		h.writeError(w, name, interfaces.ErrUnauthorized)
		return
	}

	result, err := m.call(r.Context(), h.reg, caller, body)
	if err != nil {
		h.writeError(w, name, err)
		return
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		h.log.Error("Failed to encode RPC result", "method", name, "err", err)
		h.writeError(w, name, err)
		return
	}

	metrics.RPCRequests.WithLabelValues(name, "ok").Inc()
	h.writeResponse(w, http.StatusOK, api.RPCResponse{Ok: encoded})
}

func (h *Handler) writeError(w http.ResponseWriter, name string, err error) {
	tag := interfaces.ErrorTag(err)
	status := StatusFor(tag)
	if status == http.StatusInternalServerError {
		h.log.Error("RPC failed", "method", name, "err", err)
	}

	metrics.RPCRequests.WithLabelValues(name, metricTag(tag)).Inc()
	h.writeResponse(w, status, api.RPCResponse{Err: tag})
}

func (h *Handler) writeResponse(w http.ResponseWriter, status int, resp api.RPCResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

// StatusFor maps an error tag to the HTTP status of the response.
func StatusFor(tag string) int {
	switch {
	case tag == "Unauthorized":
		return http.StatusUnauthorized
	case strings.HasPrefix(tag, "NotFound("):
		return http.StatusNotFound
	case strings.HasPrefix(tag, "AlreadyExists("), tag == "IpBoundToOtherEnvironment":
		return http.StatusConflict
	case tag == "RateLimited":
		return http.StatusTooManyRequests
	case tag == "Internal", tag == "BackendUnavailable",
		strings.HasPrefix(tag, "LedgerError("), strings.HasPrefix(tag, "SignatureOracleError("):
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// metricTag drops free-form messages from a tag to bound label cardinality.
func metricTag(tag string) string {
	for _, prefix := range []string{"LedgerError", "SignatureOracleError"} {
		if strings.HasPrefix(tag, prefix+"(") {
			return prefix
		}
	}
	if before, _, found := strings.Cut(tag, ": "); found {
		return before + ")"
	}
	return tag
}
