package controlapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ruteri/secure-node-control/api"
	"github.com/ruteri/secure-node-control/cryptoutils"
	"github.com/ruteri/secure-node-control/interfaces"
)

// maxBodySize is the maximum allowed request body size (1MB).
const maxBodySize = 1024 * 1024

// Handler serves the control API routes. Every route maps 1:1 onto a
// non-blocking machine or keyring operation; the handler itself never waits
// for the init worker.
type Handler struct {
	machine    api.Controller
	identities api.IdentityLister
	log        *slog.Logger
}

// NewHandler creates a control API handler.
//
// Parameters:
//   - machine: the control state machine
//   - identities: the keyring listing, usually the account engine
//   - log: structured logger for request failures
func NewHandler(machine api.Controller, identities api.IdentityLister, log *slog.Logger) *Handler {
	return &Handler{
		machine:    machine,
		identities: identities,
		log:        log,
	}
}

// RegisterRoutes attaches the control API routes to the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/v1/status", h.HandleStatus)
	r.Get("/api/v1/identities", h.HandleIdentities)
	r.Get("/api/v1/locations", h.HandleLocations)
	r.Post("/api/v1/login", h.HandleLogin)
	r.Post("/api/v1/password", h.HandlePassword)
	r.Post("/api/v1/signature", h.HandleSignature)
	r.Post("/api/v1/shutdown", h.HandleShutdown)
	r.Post("/api/v1/import_pgp", h.HandleImportPgp)
	r.Post("/api/v1/create_location", h.HandleCreateLocation)
}

// HandleStatus returns the current machine snapshot.
//
// URL format: GET /api/v1/status
//
// Response: JSON, see api.StatusResponse
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, api.NewStatusResponse(h.machine.Status()))
}

// HandleIdentities lists the PGP identities in the node keyring.
//
// URL format: GET /api/v1/identities
//
// Response: JSON array of interfaces.IdentityInfo
func (h *Handler) HandleIdentities(w http.ResponseWriter, r *http.Request) {
	infos, err := h.identities.Identities(r.Context())
	if err != nil {
		h.log.Error("Failed to list identities", "err", err)
		http.Error(w, "failed to list identities", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, infos)
}

// HandleLocations lists the known node locations.
//
// URL format: GET /api/v1/locations
//
// Response: JSON array of interfaces.AccountInfo
func (h *Handler) HandleLocations(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.machine.Accounts())
}

// HandleLogin selects a location for unlock.
//
// URL format: POST /api/v1/login
//
// Request body: JSON, see api.LoginRequest
//
// Responses: 204 on success, 409 when selection is not legal in the current
// state or the id is unknown.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req api.LoginRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if req.LocationID.IsZero() {
		http.Error(w, "location_id is required", http.StatusBadRequest)
		return
	}

	if err := h.machine.SelectAccount(req.LocationID, req.Autologin); err != nil {
		h.writeMachineError(w, "login rejected", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandlePassword answers the pending password request. The first answer
// wins; later answers get 409.
//
// URL format: POST /api/v1/password
//
// Request body: JSON, see api.PasswordRequest
func (h *Handler) HandlePassword(w http.ResponseWriter, r *http.Request) {
	var req api.PasswordRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	if err := h.machine.SupplyPassword(req.Password, req.Canceled); err != nil {
		h.writeMachineError(w, "password rejected", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSignature answers the pending deferred-signature request.
//
// URL format: POST /api/v1/signature
//
// Request body: JSON, see api.SignatureRequest
func (h *Handler) HandleSignature(w http.ResponseWriter, r *http.Request) {
	var req api.SignatureRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if !req.Rejected && len(req.Signature) == 0 {
		http.Error(w, "signature or rejected is required", http.StatusBadRequest)
		return
	}

	if err := h.machine.ConfirmSignature(req.Signature, req.Rejected); err != nil {
		h.writeMachineError(w, "signature rejected", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleShutdown requests node shutdown. Always succeeds with 204; repeated
// calls are no-ops.
//
// URL format: POST /api/v1/shutdown
func (h *Handler) HandleShutdown(w http.ResponseWriter, r *http.Request) {
	h.machine.RequestShutdown()
	w.WriteHeader(http.StatusNoContent)
}

// HandleImportPgp merges armored PGP key material into the node keyring.
//
// URL format: POST /api/v1/import_pgp
//
// Request body: ASCII-armored PGP key block
//
// Response: JSON, see api.ImportPgpResponse
func (h *Handler) HandleImportPgp(w http.ResponseWriter, r *http.Request) {
	armored, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	if _, err := cryptoutils.NewArmoredKeyring(armored); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	fingerprint, err := h.machine.ImportPgpKey(r.Context(), armored)
	if err != nil {
		h.writeMachineError(w, "import rejected", err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.ImportPgpResponse{Fingerprint: fingerprint})
}

// HandleCreateLocation mints a new location and schedules its first unlock.
//
// URL format: POST /api/v1/create_location
//
// Request body: JSON, see api.CreateLocationRequest
//
// Response: JSON, see api.CreateLocationResponse
func (h *Handler) HandleCreateLocation(w http.ResponseWriter, r *http.Request) {
	var req api.CreateLocationRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	params := interfaces.CreateLocationParams{
		Name:       req.Name,
		Identity:   req.Fingerprint,
		Autologin:  req.Autologin,
		DynDNSHost: req.DynDNSHost,
	}
	if err := params.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Password == "" {
		http.Error(w, "password is required", http.StatusBadRequest)
		return
	}

	id, err := h.machine.CreateLocation(r.Context(), params, req.Password)
	if err != nil {
		h.writeMachineError(w, "location creation failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.CreateLocationResponse{LocationID: id})
}

// writeMachineError maps machine errors onto HTTP statuses: state and
// pending-request violations are conflicts, anything else is a server error.
func (h *Handler) writeMachineError(w http.ResponseWriter, msg string, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, interfaces.ErrInvalidStateTransition) ||
		errors.Is(err, interfaces.ErrUnknownAccount) ||
		errors.Is(err, interfaces.ErrNoPendingRequest) {
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		h.log.Error(msg, "err", err)
	} else {
		h.log.Debug(msg, "err", err)
	}
	http.Error(w, err.Error(), status)
}

func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(v); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}
