package cluster

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gsmlg-dev/secrethub/internal/httpserver"
	"github.com/gsmlg-dev/secrethub/internal/seal"
	"github.com/gsmlg-dev/secrethub/internal/store"
	"github.com/gsmlg-dev/secrethub/internal/version"
)

// Handler exposes cluster membership over HTTP (§6 "Cluster node record
// on wire").
type Handler struct {
	coordinator *Coordinator
	seal        *seal.Seal
}

// NewHandler builds a cluster Handler.
func NewHandler(coordinator *Coordinator, sealMgr *seal.Seal) *Handler {
	return &Handler{coordinator: coordinator, seal: sealMgr}
}

// Routes returns a chi.Router with the cluster endpoints mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/nodes", h.handleListNodes)
	r.Get("/info", h.handleInfo)
	return r
}

// nodeWire is the §6 wire shape for one cluster node record.
type nodeWire struct {
	NodeID      string         `json:"node_id"`
	Hostname    string         `json:"hostname"`
	Status      string         `json:"status"`
	Leader      bool           `json:"leader"`
	Sealed      bool           `json:"sealed"`
	Initialized bool           `json:"initialized"`
	LastSeenAt  time.Time      `json:"last_seen_at"`
	StartedAt   time.Time      `json:"started_at"`
	Version     string         `json:"version"`
	Metadata    map[string]any `json:"metadata"`
}

func toNodeWire(n store.Node, staleAfter time.Duration, initialized, leader bool) nodeWire {
	status := "active"
	if time.Since(n.LastHeartbeat) > staleAfter {
		status = "unreachable"
	}
	return nodeWire{
		NodeID:      n.ID.String(),
		Hostname:    n.Address,
		Status:      status,
		Leader:      leader,
		Sealed:      n.Sealed,
		Initialized: initialized,
		LastSeenAt:  n.LastHeartbeat,
		StartedAt:   n.RegisteredAt,
		Version:     version.Version,
		Metadata:    map[string]any{},
	}
}

func (h *Handler) handleListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.coordinator.ListNodes(r.Context())
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list cluster nodes")
		return
	}

	snap, err := h.seal.Status(r.Context())
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to read seal status")
		return
	}
	initialized := snap.State != seal.StatusUninitialized

	out := make([]nodeWire, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, toNodeWire(n, h.coordinator.cfg.StaleAfter, initialized, n.ID == h.coordinator.nodeID && h.coordinator.IsLeader()))
	}
	httpserver.Respond(w, http.StatusOK, out)
}

func (h *Handler) handleInfo(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.coordinator.ListNodes(r.Context())
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to read cluster info")
		return
	}

	snap, err := h.seal.Status(r.Context())
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to read seal status")
		return
	}
	initialized := snap.State != seal.StatusUninitialized

	for _, n := range nodes {
		if n.ID == h.coordinator.nodeID {
			httpserver.Respond(w, http.StatusOK, toNodeWire(n, h.coordinator.cfg.StaleAfter, initialized, h.coordinator.IsLeader()))
			return
		}
	}
	httpserver.RespondError(w, http.StatusNotFound, "not_found", "this node is not yet registered")
}
