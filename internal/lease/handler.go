package lease

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/gsmlg-dev/secrethub/internal/apperror"
	"github.com/gsmlg-dev/secrethub/internal/httpserver"
)

// Handler exposes lease CRUD over HTTP for the external lease-manager
// collaborator (§4.9) and for operator inspection.
type Handler struct {
	manager *Manager
}

// NewHandler builds a lease Handler over manager.
func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

// Routes returns a chi.Router with the lease endpoints mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleIssue)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/revoke", h.handleRevoke)
	r.Get("/expired", h.handleExpired)
	r.Get("/secret/{secretID}", h.handleForSecret)
	return r
}

type issueRequest struct {
	SecretID   string `json:"secret_id" validate:"required,uuid"`
	EntityType string `json:"entity_type" validate:"required"`
	EntityID   string `json:"entity_id" validate:"required"`
	TTLSeconds int    `json:"ttl_seconds" validate:"required,min=1"`
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	secretID, err := uuid.Parse(req.SecretID)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid secret_id")
		return
	}

	l, err := h.manager.Issue(r.Context(), secretID, req.EntityType, req.EntityID, req.TTLSeconds)
	if err != nil {
		if apperror.Is(err, apperror.KindPolicyDenied) {
			httpserver.RespondError(w, http.StatusForbidden, "policy_denied", err.Error())
			return
		}
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to issue lease")
		return
	}
	httpserver.Respond(w, http.StatusCreated, l)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := parseLeaseID(w, r, "id")
	if !ok {
		return
	}
	l, err := h.manager.Get(r.Context(), id)
	if err != nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "lease not found")
		return
	}
	httpserver.Respond(w, http.StatusOK, l)
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	id, ok := parseLeaseID(w, r, "id")
	if !ok {
		return
	}
	if err := h.manager.Revoke(r.Context(), id); err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to revoke lease")
		return
	}
	httpserver.Respond(w, http.StatusNoContent, nil)
}

func (h *Handler) handleExpired(w http.ResponseWriter, r *http.Request) {
	leases, err := h.manager.Expired(r.Context(), time.Now())
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list expired leases")
		return
	}
	httpserver.Respond(w, http.StatusOK, leases)
}

func (h *Handler) handleForSecret(w http.ResponseWriter, r *http.Request) {
	id, ok := parseLeaseID(w, r, "secretID")
	if !ok {
		return
	}
	leases, err := h.manager.ForSecret(r.Context(), id)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list leases for secret")
		return
	}
	httpserver.Respond(w, http.StatusOK, leases)
}

func parseLeaseID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid id")
		return uuid.UUID{}, false
	}
	return id, true
}
