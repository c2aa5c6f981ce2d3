package api

import (
	"net/http"

	"github.com/ruteri/vetkd-access-backend/interfaces"
	"github.com/ruteri/vetkd-access-backend/maps"
)

type mapRequest struct {
	Resource interfaces.ResourceID `json:"resource"`
	Key      []byte                `json:"key,omitempty"`
	Value    []byte                `json:"value,omitempty"`
}

type mapValueResponse struct {
	Value []byte `json:"value,omitempty"`
	Found bool   `json:"found"`
}

func (h *Handler) handleMapInsert(w http.ResponseWriter, r *http.Request) {
	const op = "maps_insert"
	caller, err := h.caller(r)
	if err != nil {
		h.unauthenticated(w, op, err)
		return
	}
	var req mapRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, op, err)
		return
	}

	prev, had, err := h.maps.Insert(caller, req.Resource, req.Key, req.Value)
	if err != nil {
		h.writeError(w, op, err)
		return
	}
	h.ok(w, op, mapValueResponse{Value: prev, Found: had})
}

func (h *Handler) handleMapGet(w http.ResponseWriter, r *http.Request) {
	const op = "maps_get"
	caller, err := h.caller(r)
	if err != nil {
		h.unauthenticated(w, op, err)
		return
	}
	var req mapRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, op, err)
		return
	}

	value, found, err := h.maps.Get(caller, req.Resource, req.Key)
	if err != nil {
		h.writeError(w, op, err)
		return
	}
	h.ok(w, op, mapValueResponse{Value: value, Found: found})
}

func (h *Handler) handleMapItems(w http.ResponseWriter, r *http.Request) {
	const op = "maps_items"
	caller, err := h.caller(r)
	if err != nil {
		h.unauthenticated(w, op, err)
		return
	}
	var req mapRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, op, err)
		return
	}

	items, err := h.maps.Items(caller, req.Resource)
	if err != nil {
		h.writeError(w, op, err)
		return
	}
	if items == nil {
		items = []maps.Entry{}
	}
	h.ok(w, op, map[string][]maps.Entry{"items": items})
}

func (h *Handler) handleMapRemove(w http.ResponseWriter, r *http.Request) {
	const op = "maps_remove"
	caller, err := h.caller(r)
	if err != nil {
		h.unauthenticated(w, op, err)
		return
	}
	var req mapRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, op, err)
		return
	}

	prev, had, err := h.maps.Remove(caller, req.Resource, req.Key)
	if err != nil {
		h.writeError(w, op, err)
		return
	}
	h.ok(w, op, mapValueResponse{Value: prev, Found: had})
}

func (h *Handler) handleMapRemoveAll(w http.ResponseWriter, r *http.Request) {
	const op = "maps_remove_all"
	caller, err := h.caller(r)
	if err != nil {
		h.unauthenticated(w, op, err)
		return
	}
	var req mapRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, op, err)
		return
	}

	removed, err := h.maps.RemoveAll(caller, req.Resource)
	if err != nil {
		h.writeError(w, op, err)
		return
	}
	if removed == nil {
		removed = [][]byte{}
	}
	h.ok(w, op, map[string][][]byte{"removed": removed})
}

func (h *Handler) handleOwnedMaps(w http.ResponseWriter, r *http.Request) {
	const op = "maps_owned"
	caller, err := h.caller(r)
	if err != nil {
		h.unauthenticated(w, op, err)
		return
	}

	names := h.maps.OwnedMapNames(caller)
	if names == nil {
		names = [][]byte{}
	}
	h.ok(w, op, map[string][][]byte{"names": names})
}
