// Package api exposes the service over HTTP. All mutating endpoints accept
// JSON bodies, authenticate the caller from the X-Auth-Principal header set
// by the fronting proxy, and map the core error taxonomy onto HTTP status
// codes.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/vetkd-access-backend/epochs"
	"github.com/ruteri/vetkd-access-backend/inbox"
	"github.com/ruteri/vetkd-access-backend/interfaces"
	"github.com/ruteri/vetkd-access-backend/janitor"
	"github.com/ruteri/vetkd-access-backend/keyslots"
	"github.com/ruteri/vetkd-access-backend/ledger"
	"github.com/ruteri/vetkd-access-backend/maps"
	"github.com/ruteri/vetkd-access-backend/messages"
	"github.com/ruteri/vetkd-access-backend/metrics"
)

// PrincipalHeader carries the authenticated caller identity, set by the
// fronting proxy after authentication.
const PrincipalHeader = "X-Auth-Principal"

// Config wires the handler to the stores.
type Config struct {
	Log     *slog.Logger
	Metrics *metrics.MetricsServer // optional

	Rights   *ledger.Store
	Epochs   *epochs.Manager
	Slots    *keyslots.Store
	Messages *messages.Store
	Inbox    *inbox.Store
	Maps     *maps.Store
	Janitor  *janitor.Janitor
}

// Handler serves the API routes.
type Handler struct {
	log     *slog.Logger
	metrics *metrics.MetricsServer

	rights   *ledger.Store
	epochs   *epochs.Manager
	slots    *keyslots.Store
	messages *messages.Store
	inbox    *inbox.Store
	maps     *maps.Store
	janitor  *janitor.Janitor
}

// NewHandler creates a handler from its wired stores.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		log:      cfg.Log,
		metrics:  cfg.Metrics,
		rights:   cfg.Rights,
		epochs:   cfg.Epochs,
		slots:    cfg.Slots,
		messages: cfg.Messages,
		inbox:    cfg.Inbox,
		maps:     cfg.Maps,
		janitor:  cfg.Janitor,
	}
}

// RegisterRoutes mounts all API routes on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/rights/get", h.handleGetRights)
		r.Post("/rights/set", h.handleSetRights)
		r.Post("/rights/remove", h.handleRemoveRights)
		r.Post("/rights/list", h.handleListRights)

		r.Post("/chats/direct", h.handleCreateDirectChat)
		r.Post("/chats/group", h.handleCreateGroupChat)
		r.Get("/chats", h.handleMyChats)
		r.Post("/chats/metadata", h.handleChatMetadata)

		r.Post("/epochs/rotate", h.handleRotate)
		r.Post("/epochs/derive", h.handleDerive)
		r.Post("/epochs/public-key", h.handlePublicKey)

		r.Post("/keys/cache", h.handleUpdateCache)
		r.Post("/keys/cached", h.handleGetCache)
		r.Post("/keys/reshare", h.handleReshare)
		r.Post("/keys/claim", h.handleClaimReshared)

		r.Post("/messages/send", h.handleSendMessage)
		r.Post("/messages/range", h.handleReadMessages)

		r.Post("/inbox/send", h.handleInboxSend)
		r.Get("/inbox", h.handleInboxList)
		r.Post("/inbox/remove", h.handleInboxRemove)

		r.Post("/maps/insert", h.handleMapInsert)
		r.Post("/maps/get", h.handleMapGet)
		r.Post("/maps/items", h.handleMapItems)
		r.Post("/maps/remove", h.handleMapRemove)
		r.Post("/maps/remove-all", h.handleMapRemoveAll)
		r.Get("/maps/owned", h.handleOwnedMaps)

		r.Post("/admin/sweep", h.handleSweep)
	})
}

func (h *Handler) caller(r *http.Request) (interfaces.Principal, error) {
	return interfaces.NewPrincipal(r.Header.Get(PrincipalHeader))
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding request body: %w", err)
	}
	return nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, interfaces.ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, interfaces.ErrEpochNotFound):
		return http.StatusNotFound, "epoch_not_found"
	case errors.Is(err, interfaces.ErrEpochExpired):
		return http.StatusGone, "epoch_expired"
	case errors.Is(err, interfaces.ErrWrongSymmetricKeyEpoch):
		return http.StatusUnprocessableEntity, "wrong_symmetric_key_epoch"
	case errors.Is(err, interfaces.ErrChatAlreadyExists),
		errors.Is(err, interfaces.ErrAlreadyCached),
		errors.Is(err, interfaces.ErrAlreadyReshared),
		errors.Is(err, interfaces.ErrCannotReshareWithSelf),
		errors.Is(err, interfaces.ErrResourceFull):
		return http.StatusConflict, "conflict"
	default:
		return http.StatusBadRequest, "bad_request"
	}
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	status, class := statusFor(err)
	h.record(op, class)
	http.Error(w, err.Error(), status)
}

func (h *Handler) ok(w http.ResponseWriter, op string, v any) {
	h.record(op, "ok")
	h.writeJSON(w, v)
}

func (h *Handler) record(op, outcome string) {
	if h.metrics != nil {
		h.metrics.Operations.WithLabelValues(op, outcome).Inc()
	}
}

func errMissingField(name string) error {
	return fmt.Errorf("missing required field %q", name)
}

func (h *Handler) unauthenticated(w http.ResponseWriter, op string, err error) {
	h.record(op, "unauthenticated")
	http.Error(w, fmt.Errorf("authenticating caller: %w", err).Error(), http.StatusUnauthorized)
}
