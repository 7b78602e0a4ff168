package notification

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/go-chi/chi/v5"

	"github.com/wisbric/safeguard/internal/errs"
	"github.com/wisbric/safeguard/internal/httpserver"
	"github.com/wisbric/safeguard/internal/store"
	"github.com/wisbric/safeguard/pkg/identity"
)

// Handler exposes a user's durable notifications over HTTP, mirroring the
// realtime notification.read command for clients that poll instead.
type Handler struct {
	repo *Repo
}

// NewHandler builds a Handler over repo.
func NewHandler(repo *Repo) *Handler { return &Handler{repo: repo} }

type notificationResponse struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Title     string          `json:"title"`
	Body      string          `json:"body"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Priority  string          `json:"priority"`
	Read      bool            `json:"read"`
	CreatedAt string          `json:"created_at"`
}

func toNotificationResponse(n *Notification) notificationResponse {
	return notificationResponse{
		ID:        n.ID.String(),
		Type:      n.Type,
		Title:     n.Title,
		Body:      n.Body,
		Payload:   n.Payload,
		Priority:  string(n.Priority),
		Read:      n.Read,
		CreatedAt: n.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// HandleList handles GET /api/notifications.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	p := identity.FromContext(r.Context())
	if p == nil {
		httpserver.RespondError(w, nil, errs.New(errs.Authn, "MissingToken", "authentication required"))
		return
	}

	params, err := store.ParsePageParams(r)
	if err != nil {
		httpserver.RespondError(w, nil, errs.New(errs.Validation, "InvalidPage", err.Error()))
		return
	}

	page, err := h.repo.ListForUser(r.Context(), nil, p.UserID, params)
	if err != nil {
		httpserver.RespondError(w, nil, err)
		return
	}

	items := make([]notificationResponse, 0, len(page.Items))
	for _, n := range page.Items {
		items = append(items, toNotificationResponse(n))
	}
	httpserver.RespondWithMeta(w, http.StatusOK, items, httpserver.MetaFromPage(page))
}

// HandleMarkRead handles POST /api/notifications/{id}/read.
func (h *Handler) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	p := identity.FromContext(r.Context())
	if p == nil {
		httpserver.RespondError(w, nil, errs.New(errs.Authn, "MissingToken", "authentication required"))
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, nil, errs.New(errs.Validation, "InvalidID", "id must be a valid UUID"))
		return
	}

	if err := h.repo.MarkRead(r.Context(), nil, id, p.UserID); err != nil {
		httpserver.RespondError(w, nil, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
