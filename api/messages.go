package api

import (
	"net/http"

	"github.com/ruteri/vetkd-access-backend/inbox"
	"github.com/ruteri/vetkd-access-backend/interfaces"
	"github.com/ruteri/vetkd-access-backend/messages"
)

type sendMessageRequest struct {
	Resource          interfaces.ResourceID          `json:"resource"`
	Epoch             *interfaces.VetKeyEpochID      `json:"epoch,omitempty"`
	SymmetricKeyEpoch interfaces.SymmetricKeyEpochID `json:"symmetric_key_epoch"`
	Content           []byte                         `json:"content"`
}

func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	const op = "messages_send"
	caller, err := h.caller(r)
	if err != nil {
		h.unauthenticated(w, op, err)
		return
	}
	var req sendMessageRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, op, err)
		return
	}

	epoch := req.Epoch
	if epoch == nil {
		latest, ok := h.epochs.LatestEpoch(req.Resource)
		if !ok {
			h.writeError(w, op, interfaces.ErrEpochNotFound)
			return
		}
		epoch = &latest.ID
	}

	msg, err := h.messages.Append(caller, req.Resource, *epoch, req.SymmetricKeyEpoch, req.Content)
	if err != nil {
		h.writeError(w, op, err)
		return
	}
	h.ok(w, op, msg)
}

type readMessagesRequest struct {
	Resource interfaces.ResourceID    `json:"resource"`
	Start    interfaces.ChatMessageID `json:"start"`
	Limit    uint64                   `json:"limit,omitempty"`
}

func (h *Handler) handleReadMessages(w http.ResponseWriter, r *http.Request) {
	const op = "messages_range"
	caller, err := h.caller(r)
	if err != nil {
		h.unauthenticated(w, op, err)
		return
	}
	var req readMessagesRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, op, err)
		return
	}

	msgs, err := h.messages.ReadRange(caller, req.Resource, req.Start, req.Limit)
	if err != nil {
		h.writeError(w, op, err)
		return
	}
	if msgs == nil {
		msgs = []messages.Message{}
	}
	h.ok(w, op, map[string][]messages.Message{"messages": msgs})
}

type inboxSendRequest struct {
	Recipient interfaces.Principal `json:"recipient"`
	Content   []byte               `json:"content"`
}

func (h *Handler) handleInboxSend(w http.ResponseWriter, r *http.Request) {
	const op = "inbox_send"
	caller, err := h.caller(r)
	if err != nil {
		h.unauthenticated(w, op, err)
		return
	}
	var req inboxSendRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, op, err)
		return
	}
	if _, err := interfaces.NewPrincipal(string(req.Recipient)); err != nil {
		h.writeError(w, op, err)
		return
	}

	if err := h.inbox.Send(caller, req.Recipient, req.Content); err != nil {
		h.writeError(w, op, err)
		return
	}
	h.ok(w, op, map[string]string{"status": "sent"})
}

func (h *Handler) handleInboxList(w http.ResponseWriter, r *http.Request) {
	const op = "inbox_list"
	caller, err := h.caller(r)
	if err != nil {
		h.unauthenticated(w, op, err)
		return
	}

	msgs := h.inbox.MyMessages(caller)
	if msgs == nil {
		msgs = []inbox.Message{}
	}
	h.ok(w, op, map[string][]inbox.Message{"messages": msgs})
}

type inboxRemoveRequest struct {
	Index uint64 `json:"index"`
}

func (h *Handler) handleInboxRemove(w http.ResponseWriter, r *http.Request) {
	const op = "inbox_remove"
	caller, err := h.caller(r)
	if err != nil {
		h.unauthenticated(w, op, err)
		return
	}
	var req inboxRemoveRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, op, err)
		return
	}

	removed, err := h.inbox.RemoveByIndex(caller, req.Index)
	if err != nil {
		h.writeError(w, op, err)
		return
	}
	h.ok(w, op, removed)
}
