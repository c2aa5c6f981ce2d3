package api

import (
	"net/http"

	"github.com/ruteri/vetkd-access-backend/interfaces"
	"github.com/ruteri/vetkd-access-backend/ledger"
)

type rightsRequest struct {
	Resource interfaces.ResourceID    `json:"resource"`
	User     interfaces.Principal     `json:"user"`
	Rights   *interfaces.AccessRights `json:"rights,omitempty"`
}

type rightsResponse struct {
	Rights *interfaces.AccessRights `json:"rights,omitempty"`
	Found  bool                     `json:"found"`
}

func rightsResult(rights interfaces.AccessRights, found bool) rightsResponse {
	resp := rightsResponse{Found: found}
	if found {
		resp.Rights = &rights
	}
	return resp
}

func (h *Handler) handleGetRights(w http.ResponseWriter, r *http.Request) {
	const op = "rights_get"
	caller, err := h.caller(r)
	if err != nil {
		h.unauthenticated(w, op, err)
		return
	}
	var req rightsRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, op, err)
		return
	}

	rights, found, err := h.rights.GetRights(caller, req.Resource, req.User)
	if err != nil {
		h.writeError(w, op, err)
		return
	}
	h.ok(w, op, rightsResult(rights, found))
}

func (h *Handler) handleSetRights(w http.ResponseWriter, r *http.Request) {
	const op = "rights_set"
	caller, err := h.caller(r)
	if err != nil {
		h.unauthenticated(w, op, err)
		return
	}
	var req rightsRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, op, err)
		return
	}
	if req.Rights == nil {
		h.writeError(w, op, errMissingField("rights"))
		return
	}

	prev, had, err := h.rights.SetRights(caller, req.Resource, req.User, *req.Rights)
	if err != nil {
		h.writeError(w, op, err)
		return
	}
	h.ok(w, op, rightsResult(prev, had))
}

func (h *Handler) handleRemoveRights(w http.ResponseWriter, r *http.Request) {
	const op = "rights_remove"
	caller, err := h.caller(r)
	if err != nil {
		h.unauthenticated(w, op, err)
		return
	}
	var req rightsRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, op, err)
		return
	}

	prev, had, err := h.rights.RemoveRights(caller, req.Resource, req.User)
	if err != nil {
		h.writeError(w, op, err)
		return
	}
	h.ok(w, op, rightsResult(prev, had))
}

func (h *Handler) handleListRights(w http.ResponseWriter, r *http.Request) {
	const op = "rights_list"
	caller, err := h.caller(r)
	if err != nil {
		h.unauthenticated(w, op, err)
		return
	}
	var req rightsRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, op, err)
		return
	}

	entries, err := h.rights.ListRights(caller, req.Resource)
	if err != nil {
		h.writeError(w, op, err)
		return
	}
	if entries == nil {
		entries = []ledger.RightsEntry{}
	}
	h.ok(w, op, map[string][]ledger.RightsEntry{"entries": entries})
}
