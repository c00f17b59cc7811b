// Package api exposes the control-plane operations over HTTP. Routing here
// is a thin shim: identity arrives pre-resolved in the X-Roam-Owner header
// (credential verification happens upstream) and every operation delegates
// to the core packages.
package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/roambrowse/roam/internal/browser"
	"github.com/roambrowse/roam/internal/channel"
	"github.com/roambrowse/roam/internal/fault"
	"github.com/roambrowse/roam/internal/fleet"
	"github.com/roambrowse/roam/internal/models"
)

// OwnerHeader carries the caller identity resolved by the auth layer.
const OwnerHeader = "X-Roam-Owner"

// AttachChannel builds a transport channel for an owner; wired by the
// daemon to NATS or to the loopback executor.
type AttachChannel func(owner string) (channel.Channel, error)

// Handler serves the control API.
type Handler struct {
	fleet      *fleet.Manager
	sessions   *browser.Sessions
	dispatcher *browser.Dispatcher
	registry   *channel.Registry
	attach     AttachChannel
	logger     *zap.Logger
}

// NewHandler returns the API handler as an http.Handler.
func NewHandler(fm *fleet.Manager, sessions *browser.Sessions, dispatcher *browser.Dispatcher,
	registry *channel.Registry, attach AttachChannel, logger *zap.Logger) http.Handler {
	h := &Handler{
		fleet:      fm,
		sessions:   sessions,
		dispatcher: dispatcher,
		registry:   registry,
		attach:     attach,
		logger:     logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealthz)

	mux.HandleFunc("GET /instances", h.handleListInstances)
	mux.HandleFunc("GET /instances/get", h.handleGetInstance)
	mux.HandleFunc("POST /instances/launch", h.handleLaunch)
	mux.HandleFunc("POST /instances/terminate", h.handleTerminate)
	mux.HandleFunc("GET /instances/health", h.handleInstanceHealth)

	mux.HandleFunc("GET /sessions", h.handleListSessions)
	mux.HandleFunc("GET /sessions/get", h.handleGetSession)
	mux.HandleFunc("POST /sessions/create", h.handleCreateSession)
	mux.HandleFunc("POST /sessions/close", h.handleCloseSession)

	mux.HandleFunc("POST /commands/execute", h.handleExecute)
	mux.HandleFunc("GET /commands/get", h.handleGetCommand)
	mux.HandleFunc("GET /commands/result", h.handleCommandResult)

	mux.HandleFunc("POST /channels/attach", h.handleAttachChannel)
	mux.HandleFunc("POST /channels/detach", h.handleDetachChannel)

	return mux
}

func (h *Handler) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleListInstances(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.fleet.ListByOwner(owner))
}

func (h *Handler) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, h.logger, http.StatusBadRequest, "id required")
		return
	}
	inst, err := h.fleet.Get(id)
	if err != nil {
		h.writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (h *Handler) handleLaunch(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	var req struct {
		InstanceClass string `json:"instance_class"`
		Region        string `json:"region"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	inst, err := h.fleet.Launch(r.Context(), owner, req.InstanceClass, req.Region)
	if err != nil {
		h.writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inst)
}

func (h *Handler) handleTerminate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		writeError(w, h.logger, http.StatusBadRequest, "id required")
		return
	}
	if err := h.fleet.Terminate(r.Context(), req.ID); err != nil {
		h.writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": req.ID, "status": "terminating"})
}

func (h *Handler) handleInstanceHealth(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, h.logger, http.StatusBadRequest, "id required")
		return
	}
	healthy := h.fleet.CheckHealth(r.Context(), id)
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "healthy": healthy})
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.sessions.ListByOwner(owner))
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, h.logger, http.StatusBadRequest, "id required")
		return
	}
	sess, err := h.sessions.Get(id)
	if err != nil {
		h.writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	var req struct {
		InstanceID string `json:"instance_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.InstanceID == "" {
		writeError(w, h.logger, http.StatusBadRequest, "instance_id required")
		return
	}
	sess, err := h.sessions.Create(owner, req.InstanceID)
	if err != nil {
		h.writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (h *Handler) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		writeError(w, h.logger, http.StatusBadRequest, "id required")
		return
	}
	if err := h.sessions.Close(req.ID); err != nil {
		h.writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": req.ID, "status": "closed"})
}

func (h *Handler) handleExecute(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	var req struct {
		InstanceID string         `json:"instance_id"`
		Type       string         `json:"type"`
		Params     map[string]any `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.InstanceID == "" || req.Type == "" {
		writeError(w, h.logger, http.StatusBadRequest, "instance_id and type required")
		return
	}
	cmd, err := h.dispatcher.Execute(r.Context(), owner, req.InstanceID, models.CommandType(req.Type), req.Params)
	if err != nil && cmd == nil {
		h.writeFault(w, err)
		return
	}
	// A terminal command record is a successful dispatch even when the
	// command itself failed or timed out; clients read its status.
	writeJSON(w, http.StatusOK, cmd)
}

func (h *Handler) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, h.logger, http.StatusBadRequest, "id required")
		return
	}
	cmd, err := h.dispatcher.Get(id)
	if err != nil {
		h.writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cmd)
}

func (h *Handler) handleCommandResult(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, h.logger, http.StatusBadRequest, "id required")
		return
	}
	payload, err := h.dispatcher.Result(r.Context(), id)
	if err != nil {
		h.writeFault(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (h *Handler) handleAttachChannel(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	if h.attach == nil {
		writeError(w, h.logger, http.StatusNotImplemented, "no transport configured")
		return
	}
	ch, err := h.attach(owner)
	if err != nil {
		writeError(w, h.logger, http.StatusInternalServerError, "attach failed: "+err.Error())
		return
	}
	h.registry.Register(owner, ch)
	writeJSON(w, http.StatusOK, map[string]string{"owner": owner, "status": "attached"})
}

func (h *Handler) handleDetachChannel(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	h.registry.OnDisconnect(owner)
	writeJSON(w, http.StatusOK, map[string]string{"owner": owner, "status": "detached"})
}

func (h *Handler) owner(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner := r.Header.Get(OwnerHeader)
	if owner == "" {
		writeError(w, h.logger, http.StatusBadRequest, OwnerHeader+" header required")
		return "", false
	}
	return owner, true
}

// writeFault maps fault kinds to HTTP statuses.
func (h *Handler) writeFault(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch fault.KindOf(err) {
	case fault.KindNotFound:
		status = http.StatusNotFound
	case fault.KindInvalidState:
		status = http.StatusConflict
	case fault.KindInvalidArgument, fault.KindUnsupportedCommand:
		status = http.StatusBadRequest
	case fault.KindChannelUnavailable:
		status = http.StatusServiceUnavailable
	case fault.KindTimeout:
		status = http.StatusGatewayTimeout
	case fault.KindProviderError:
		status = http.StatusBadGateway
	}
	writeError(w, h.logger, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, logger *zap.Logger, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
	logger.Debug("request failed", zap.Int("status", status), zap.String("error", msg))
}
