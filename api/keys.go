package api

import (
	"net/http"

	"github.com/ruteri/vetkd-access-backend/interfaces"
	"github.com/ruteri/vetkd-access-backend/keyslots"
)

type slotRequest struct {
	Resource interfaces.ResourceID    `json:"resource"`
	Epoch    interfaces.VetKeyEpochID `json:"epoch"`
	Key      []byte                   `json:"key,omitempty"`
}

type slotResponse struct {
	Key   []byte `json:"key,omitempty"`
	Found bool   `json:"found"`
}

func (h *Handler) handleUpdateCache(w http.ResponseWriter, r *http.Request) {
	const op = "keys_cache"
	caller, err := h.caller(r)
	if err != nil {
		h.unauthenticated(w, op, err)
		return
	}
	var req slotRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, op, err)
		return
	}

	if err := h.slots.UpdateCache(caller, req.Resource, req.Epoch, req.Key); err != nil {
		h.writeError(w, op, err)
		return
	}
	h.ok(w, op, map[string]string{"status": "cached"})
}

func (h *Handler) handleGetCache(w http.ResponseWriter, r *http.Request) {
	const op = "keys_cached"
	caller, err := h.caller(r)
	if err != nil {
		h.unauthenticated(w, op, err)
		return
	}
	var req slotRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, op, err)
		return
	}

	key, found, err := h.slots.GetCache(caller, req.Resource, req.Epoch)
	if err != nil {
		h.writeError(w, op, err)
		return
	}
	h.ok(w, op, slotResponse{Key: key, Found: found})
}

type reshareRequest struct {
	Resource interfaces.ResourceID    `json:"resource"`
	Epoch    interfaces.VetKeyEpochID `json:"epoch"`
	Shares   []keyslots.Share         `json:"shares"`
}

func (h *Handler) handleReshare(w http.ResponseWriter, r *http.Request) {
	const op = "keys_reshare"
	caller, err := h.caller(r)
	if err != nil {
		h.unauthenticated(w, op, err)
		return
	}
	var req reshareRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, op, err)
		return
	}
	if len(req.Shares) == 0 {
		h.writeError(w, op, errMissingField("shares"))
		return
	}

	if err := h.slots.Reshare(caller, req.Resource, req.Epoch, req.Shares); err != nil {
		h.writeError(w, op, err)
		return
	}
	h.ok(w, op, map[string]string{"status": "reshared"})
}

func (h *Handler) handleClaimReshared(w http.ResponseWriter, r *http.Request) {
	const op = "keys_claim"
	caller, err := h.caller(r)
	if err != nil {
		h.unauthenticated(w, op, err)
		return
	}
	var req slotRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, op, err)
		return
	}

	key, found, err := h.slots.ConsumeReshared(caller, req.Resource, req.Epoch)
	if err != nil {
		h.writeError(w, op, err)
		return
	}
	h.ok(w, op, slotResponse{Key: key, Found: found})
}
