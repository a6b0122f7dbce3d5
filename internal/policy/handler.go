package policy

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/gsmlg-dev/secrethub/internal/audit"
	"github.com/gsmlg-dev/secrethub/internal/httpserver"
)

// Handler exposes policy CRUD, binding, evaluation, and simulation over
// HTTP, mirroring the audit package's thin-handler-over-Service style.
type Handler struct {
	admin     *Admin
	evaluator *Evaluator
	auditlog  *audit.Writer
}

// NewHandler builds a policy Handler. auditlog may be nil in contexts
// that don't need evaluation to be audited (it is always non-nil in
// production wiring).
func NewHandler(admin *Admin, evaluator *Evaluator, auditlog *audit.Writer) *Handler {
	return &Handler{admin: admin, evaluator: evaluator, auditlog: auditlog}
}

// Routes returns a chi.Router with every policy endpoint mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleGet)
	r.Put("/{id}", h.handleUpdate)
	r.Delete("/{id}", h.handleDelete)
	r.Post("/{id}/bind", h.handleBind)
	r.Post("/{id}/unbind", h.handleUnbind)
	r.Post("/{id}/simulate", h.handleSimulate)
	r.Post("/evaluate", h.handleEvaluate)
	return r
}

type createPolicyRequest struct {
	Name        string  `json:"name" validate:"required"`
	Description string  `json:"description"`
	Rules       RuleSet `json:"rules" validate:"required"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createPolicyRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	p, err := h.admin.Create(r.Context(), req.Name, req.Description, req.Rules)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to create policy")
		return
	}
	httpserver.Respond(w, http.StatusCreated, p)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePolicyID(w, r)
	if !ok {
		return
	}
	p, err := h.admin.Get(r.Context(), id)
	if err != nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "policy not found")
		return
	}
	httpserver.Respond(w, http.StatusOK, p)
}

type updatePolicyRequest struct {
	Rules RuleSet `json:"rules" validate:"required"`
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePolicyID(w, r)
	if !ok {
		return
	}
	var req updatePolicyRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	p, err := h.admin.Update(r.Context(), id, req.Rules)
	if err != nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "policy not found")
		return
	}
	httpserver.Respond(w, http.StatusOK, p)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePolicyID(w, r)
	if !ok {
		return
	}
	if err := h.admin.Delete(r.Context(), id); err != nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "policy not found")
		return
	}
	httpserver.Respond(w, http.StatusNoContent, nil)
}

type bindRequest struct {
	EntityType string `json:"entity_type" validate:"required"`
	EntityID   string `json:"entity_id" validate:"required"`
}

func (h *Handler) handleBind(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePolicyID(w, r)
	if !ok {
		return
	}
	var req bindRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	b, err := h.admin.Bind(r.Context(), id, req.EntityType, req.EntityID)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to bind policy")
		return
	}
	httpserver.Respond(w, http.StatusCreated, b)
}

func (h *Handler) handleUnbind(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePolicyID(w, r)
	if !ok {
		return
	}
	var req bindRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	if err := h.admin.Unbind(r.Context(), id, req.EntityType, req.EntityID); err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to unbind policy")
		return
	}
	httpserver.Respond(w, http.StatusNoContent, nil)
}

type evaluateRequest struct {
	EntityType string `json:"entity_type" validate:"required"`
	EntityID   string `json:"entity_id" validate:"required"`
	Path       string `json:"path" validate:"required"`
	Operation  string `json:"operation" validate:"required"`
}

func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	decision, err := h.evaluator.Evaluate(r.Context(), Request{
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		Path:       req.Path,
		Operation:  req.Operation,
		SourceIP:   audit.ClientIP(r),
		When:       time.Now().UTC(),
	})
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to evaluate policy")
		return
	}

	if h.auditlog != nil {
		detail, _ := json.Marshal(decision)
		_, _ = h.auditlog.LogEvent(r.Context(), audit.Event{
			ActorType: "operator", ActorID: "api",
			Action: "policy.evaluated", Target: req.EntityType + ":" + req.EntityID,
			Outcome: "ok", Detail: detail,
		})
	}
	httpserver.Respond(w, http.StatusOK, decision)
}

func (h *Handler) handleSimulate(w http.ResponseWriter, r *http.Request) {
	// The {id} path segment is accepted for symmetry with the rest of the
	// policy surface but simulation evaluates against an entity's full
	// bound set, not a single policy, matching Evaluate's semantics.
	var req evaluateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	decision, err := h.evaluator.Simulate(r.Context(), Request{
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		Path:       req.Path,
		Operation:  req.Operation,
		SourceIP:   audit.ClientIP(r),
		When:       time.Now().UTC(),
	})
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to simulate policy")
		return
	}
	httpserver.Respond(w, http.StatusOK, decision)
}

func parsePolicyID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid policy id")
		return uuid.UUID{}, false
	}
	return id, true
}
