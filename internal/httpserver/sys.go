package httpserver

import (
	"net"
	"net/http"

	"github.com/gsmlg-dev/secrethub/internal/apperror"
	"github.com/gsmlg-dev/secrethub/internal/cluster"
	"github.com/gsmlg-dev/secrethub/internal/crypto"
	"github.com/gsmlg-dev/secrethub/internal/ratelimit"
	"github.com/gsmlg-dev/secrethub/internal/seal"
	"github.com/gsmlg-dev/secrethub/internal/version"
)

// SysHandler implements the §6 seal/unseal REST surface: init, unseal,
// seal, seal-status, and health. Init is routed through the cluster
// coordinator so that concurrent init calls across nodes race safely;
// every other seal operation talks to the local node's seal actor
// directly, since unseal/seal state is per-process by design (§4.4).
type SysHandler struct {
	coordinator *cluster.Coordinator
	seal        *seal.Seal
	unsealLimit *ratelimit.Limiter // nil disables throttling
}

// NewSysHandler builds a SysHandler. unsealLimit may be nil to disable
// unseal attempt throttling.
func NewSysHandler(coordinator *cluster.Coordinator, sealMgr *seal.Seal, unsealLimit *ratelimit.Limiter) *SysHandler {
	return &SysHandler{coordinator: coordinator, seal: sealMgr, unsealLimit: unsealLimit}
}

type initRequest struct {
	TotalShares int `json:"total_shares" validate:"required,min=1,max=255"`
	Threshold   int `json:"threshold" validate:"required,min=1"`
}

type initResponse struct {
	Shares   []string `json:"shares"`
	Progress int      `json:"progress"`
}

func (h *SysHandler) HandleInit(w http.ResponseWriter, r *http.Request) {
	var req initRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	if req.Threshold > req.TotalShares {
		RespondError(w, http.StatusBadRequest, "bad_request", "threshold cannot exceed total_shares")
		return
	}

	shares, err := h.coordinator.CoordinatedInit(r.Context(), req.Threshold, req.TotalShares)
	if err != nil {
		respondSealError(w, err)
		return
	}

	encoded := make([]string, len(shares))
	for i, s := range shares {
		encoded[i] = s.Encode()
	}
	Respond(w, http.StatusOK, initResponse{Shares: encoded, Progress: 0})
}

type unsealRequest struct {
	Share string `json:"share" validate:"required"`
}

type unsealResponse struct {
	Sealed    bool `json:"sealed"`
	Progress  int  `json:"progress"`
	Threshold int  `json:"threshold"`
}

func (h *SysHandler) HandleUnseal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ip := clientIP(r)

	if h.unsealLimit != nil {
		result, err := h.unsealLimit.Check(ctx, ip)
		if err != nil {
			RespondError(w, http.StatusInternalServerError, "internal_error", "checking unseal rate limit")
			return
		}
		if !result.Allowed {
			RespondError(w, http.StatusTooManyRequests, "rate_limited", "too many unseal attempts, try again later")
			return
		}
	}

	var req unsealRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	share, err := crypto.ParseShare(req.Share)
	if err != nil {
		if h.unsealLimit != nil {
			h.unsealLimit.Record(ctx, ip)
		}
		RespondAppError(w, string(apperror.KindInvalidShare), "malformed share")
		return
	}

	snap, err := h.seal.Unseal(ctx, share)
	if err != nil {
		if h.unsealLimit != nil {
			h.unsealLimit.Record(ctx, ip)
		}
		respondSealError(w, err)
		return
	}
	if h.unsealLimit != nil && snap.State == seal.StatusUnsealed {
		h.unsealLimit.Reset(ctx, ip)
	}
	Respond(w, http.StatusOK, unsealResponse{
		Sealed:    snap.State != seal.StatusUnsealed,
		Progress:  snap.SharesProvided,
		Threshold: snap.Threshold,
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (h *SysHandler) HandleSeal(w http.ResponseWriter, r *http.Request) {
	if err := h.seal.Seal(r.Context()); err != nil {
		respondSealError(w, err)
		return
	}
	Respond(w, http.StatusOK, map[string]bool{"sealed": true})
}

type sealStatusResponse struct {
	Initialized bool `json:"initialized"`
	Sealed      bool `json:"sealed"`
	Progress    int  `json:"progress"`
	Threshold   int  `json:"threshold"`
	TotalShares int  `json:"total_shares"`
}

func (h *SysHandler) HandleSealStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := h.seal.Status(r.Context())
	if err != nil {
		respondSealError(w, err)
		return
	}
	Respond(w, http.StatusOK, sealStatusResponse{
		Initialized: snap.State != seal.StatusUninitialized,
		Sealed:      snap.State != seal.StatusUnsealed,
		Progress:    snap.SharesProvided,
		Threshold:   snap.Threshold,
		TotalShares: snap.TotalShares,
	})
}

type healthResponse struct {
	Status      string          `json:"status"`
	Initialized bool            `json:"initialized"`
	Sealed      bool            `json:"sealed"`
	Checks      map[string]bool `json:"checks"`
	Version     string          `json:"version"`
}

func (h *SysHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	snap, err := h.seal.Status(r.Context())
	checks := map[string]bool{"seal_actor": err == nil}

	status := "ok"
	if err != nil {
		status = "error"
	}

	Respond(w, http.StatusOK, healthResponse{
		Status:      status,
		Initialized: snap.State != seal.StatusUninitialized,
		Sealed:      snap.State != seal.StatusUnsealed,
		Checks:      checks,
		Version:     version.Version,
	})
}

func respondSealError(w http.ResponseWriter, err error) {
	if kind, ok := apperror.KindOf(err); ok {
		RespondAppError(w, string(kind), err.Error())
		return
	}
	RespondError(w, http.StatusInternalServerError, "internal_error", err.Error())
}
