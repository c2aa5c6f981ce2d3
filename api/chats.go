package api

import (
	"net/http"

	"github.com/ruteri/vetkd-access-backend/interfaces"
)

type createDirectChatRequest struct {
	Peer interfaces.Principal `json:"peer"`
}

type createGroupChatRequest struct {
	Members []interfaces.Principal `json:"members"`
}

type chatResponse struct {
	Chat interfaces.ResourceID `json:"chat"`
}

func (h *Handler) handleCreateDirectChat(w http.ResponseWriter, r *http.Request) {
	const op = "chats_create_direct"
	caller, err := h.caller(r)
	if err != nil {
		h.unauthenticated(w, op, err)
		return
	}
	var req createDirectChatRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, op, err)
		return
	}
	if _, err := interfaces.NewPrincipal(string(req.Peer)); err != nil {
		h.writeError(w, op, err)
		return
	}

	chat, err := h.epochs.CreateDirectChat(caller, req.Peer)
	if err != nil {
		h.writeError(w, op, err)
		return
	}
	h.ok(w, op, chatResponse{Chat: chat})
}

func (h *Handler) handleCreateGroupChat(w http.ResponseWriter, r *http.Request) {
	const op = "chats_create_group"
	caller, err := h.caller(r)
	if err != nil {
		h.unauthenticated(w, op, err)
		return
	}
	var req createGroupChatRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, op, err)
		return
	}
	for _, member := range req.Members {
		if _, err := interfaces.NewPrincipal(string(member)); err != nil {
			h.writeError(w, op, err)
			return
		}
	}

	chat, err := h.epochs.CreateGroupChat(caller, req.Members)
	if err != nil {
		h.writeError(w, op, err)
		return
	}
	h.ok(w, op, chatResponse{Chat: chat})
}

type chatListing struct {
	Chat          interfaces.ResourceID    `json:"chat"`
	NextMessageID interfaces.ChatMessageID `json:"next_message_id"`
}

func (h *Handler) handleMyChats(w http.ResponseWriter, r *http.Request) {
	const op = "chats_list"
	caller, err := h.caller(r)
	if err != nil {
		h.unauthenticated(w, op, err)
		return
	}

	chats := h.epochs.MyChats(caller)
	listings := make([]chatListing, 0, len(chats))
	for _, chat := range chats {
		next, err := h.messages.NextID(caller, chat)
		if err != nil {
			h.writeError(w, op, err)
			return
		}
		listings = append(listings, chatListing{Chat: chat, NextMessageID: next})
	}
	h.ok(w, op, map[string][]chatListing{"chats": listings})
}

type resourceRequest struct {
	Resource interfaces.ResourceID `json:"resource"`
}

func (h *Handler) handleChatMetadata(w http.ResponseWriter, r *http.Request) {
	const op = "chats_metadata"
	caller, err := h.caller(r)
	if err != nil {
		h.unauthenticated(w, op, err)
		return
	}
	var req resourceRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, op, err)
		return
	}

	info, err := h.epochs.LatestEpochMetadata(caller, req.Resource)
	if err != nil {
		h.writeError(w, op, err)
		return
	}
	h.ok(w, op, info)
}

type rotateRequest struct {
	Resource interfaces.ResourceID  `json:"resource"`
	Add      []interfaces.Principal `json:"add,omitempty"`
	Remove   []interfaces.Principal `json:"remove,omitempty"`
}

func (h *Handler) handleRotate(w http.ResponseWriter, r *http.Request) {
	const op = "epochs_rotate"
	caller, err := h.caller(r)
	if err != nil {
		h.unauthenticated(w, op, err)
		return
	}
	var req rotateRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, op, err)
		return
	}

	info, err := h.epochs.Rotate(caller, req.Resource, req.Add, req.Remove)
	if err != nil {
		h.writeError(w, op, err)
		return
	}
	h.ok(w, op, info)
}

type deriveRequest struct {
	Resource           interfaces.ResourceID     `json:"resource"`
	Epoch              *interfaces.VetKeyEpochID `json:"epoch,omitempty"`
	TransportPublicKey []byte                    `json:"transport_public_key"`
}

type deriveResponse struct {
	Key   []byte                   `json:"key"`
	Epoch interfaces.VetKeyEpochID `json:"epoch"`
}

func (h *Handler) handleDerive(w http.ResponseWriter, r *http.Request) {
	const op = "epochs_derive"
	caller, err := h.caller(r)
	if err != nil {
		h.unauthenticated(w, op, err)
		return
	}
	var req deriveRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, op, err)
		return
	}

	key, epoch, err := h.epochs.DeriveKeyMaterial(r.Context(), caller, req.Resource, req.Epoch, req.TransportPublicKey)
	if err != nil {
		h.writeError(w, op, err)
		return
	}
	h.ok(w, op, deriveResponse{Key: key, Epoch: epoch})
}

type publicKeyRequest struct {
	Resource interfaces.ResourceID     `json:"resource"`
	Epoch    *interfaces.VetKeyEpochID `json:"epoch,omitempty"`
}

type publicKeyResponse struct {
	PublicKey []byte                   `json:"public_key"`
	Epoch     interfaces.VetKeyEpochID `json:"epoch"`
}

func (h *Handler) handlePublicKey(w http.ResponseWriter, r *http.Request) {
	const op = "epochs_public_key"
	// public keys are public: no authentication required
	var req publicKeyRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, op, err)
		return
	}

	pk, epoch := h.epochs.PublicKey(r.Context(), req.Resource, req.Epoch)
	h.ok(w, op, publicKeyResponse{PublicKey: pk, Epoch: epoch})
}
