package ban

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wisbric/safeguard/internal/audit"
	"github.com/wisbric/safeguard/internal/errs"
	"github.com/wisbric/safeguard/internal/httpserver"
	"github.com/wisbric/safeguard/internal/ratelimit"
	"github.com/wisbric/safeguard/internal/store"
	"github.com/wisbric/safeguard/pkg/identity"
)

// Handler exposes BanEngine over HTTP: create, list, unban, check.
type Handler struct {
	svc   *Service
	audit *audit.Writer
}

// NewHandler builds a Handler over svc.
func NewHandler(svc *Service, aud *audit.Writer) *Handler {
	return &Handler{svc: svc, audit: aud}
}

func (h *Handler) auditLog(r *http.Request, p *identity.Principal, action string, banID uuid.UUID) {
	h.audit.Log(audit.Entry{
		UserID:     &p.UserID,
		BuildingID: p.BuildingID,
		Action:     action,
		Resource:   "ban",
		ResourceID: banID,
		IPAddress:  ratelimit.ClientIP(r),
		UserAgent:  r.UserAgent(),
	})
}

type banRequest struct {
	Phone     string  `json:"phone" validate:"required"`
	Name      string  `json:"name" validate:"required"`
	Reason    string  `json:"reason" validate:"required"`
	Severity  string  `json:"severity" validate:"required,oneof=low medium high"`
	ExpiresAt *string `json:"expires_at"`
}

type banResponse struct {
	ID          string  `json:"id"`
	OwnerID     string  `json:"owner_id"`
	Phone       string  `json:"phone"`
	Name        string  `json:"name"`
	Reason      string  `json:"reason"`
	Severity    string  `json:"severity"`
	Type        string  `json:"type"`
	CreatedAt   string  `json:"created_at"`
	ExpiresAt   *string `json:"expires_at,omitempty"`
	Active      bool    `json:"active"`
	UnbanReason string  `json:"unban_reason,omitempty"`
}

func toBanResponse(b *Ban) banResponse {
	resp := banResponse{
		ID:          b.ID.String(),
		OwnerID:     b.OwnerID.String(),
		Phone:       b.TargetPhone,
		Name:        b.TargetName,
		Reason:      b.Reason,
		Severity:    string(b.Severity),
		Type:        string(b.Type),
		CreatedAt:   b.CreatedAt.UTC().Format(time.RFC3339),
		Active:      b.Active,
		UnbanReason: b.UnbanReason,
	}
	if b.ExpiresAt != nil {
		s := b.ExpiresAt.UTC().Format(time.RFC3339)
		resp.ExpiresAt = &s
	}
	return resp
}

// HandleCreate handles POST /api/bans.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	p := identity.FromContext(r.Context())
	if err := identity.Authorize(p, identity.CapBanUnban); err != nil {
		httpserver.RespondError(w, nil, err)
		return
	}

	var req banRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	in := Input{
		OwnerID:  p.UserID,
		Phone:    req.Phone,
		Name:     req.Name,
		Reason:   req.Reason,
		Severity: Severity(req.Severity),
	}
	if req.ExpiresAt != nil {
		t, err := time.Parse(time.RFC3339, *req.ExpiresAt)
		if err != nil {
			httpserver.RespondError(w, nil, errs.New(errs.Validation, "InvalidExpiresAt", "expires_at must be RFC3339"))
			return
		}
		in.ExpiresAt = &t
	}

	b, err := h.svc.Ban(r.Context(), p.BuildingID, in)
	if err != nil {
		httpserver.RespondError(w, nil, err)
		return
	}
	h.auditLog(r, p, "ban.create", b.ID)
	httpserver.Respond(w, http.StatusCreated, toBanResponse(b))
}

// HandleUnban handles DELETE /api/bans/{id}.
func (h *Handler) HandleUnban(w http.ResponseWriter, r *http.Request) {
	p := identity.FromContext(r.Context())
	if err := identity.Authorize(p, identity.CapBanUnban); err != nil {
		httpserver.RespondError(w, nil, err)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, nil, errs.New(errs.Validation, "InvalidID", "id must be a valid UUID"))
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	_ = httpserver.Decode(r, &req)

	isAdmin := p.Role == identity.RoleSuperAdmin || p.Role == identity.RoleBuildingAdmin
	b, err := h.svc.Unban(r.Context(), p.UserID, isAdmin, id, req.Reason)
	if err != nil {
		httpserver.RespondError(w, nil, err)
		return
	}
	h.auditLog(r, p, "ban.unban", b.ID)
	httpserver.Respond(w, http.StatusOK, toBanResponse(b))
}

// HandleCheck handles GET /api/bans/check/{phone}.
func (h *Handler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	p := identity.FromContext(r.Context())
	if p == nil {
		httpserver.RespondError(w, nil, errs.New(errs.Authn, "MissingToken", "authentication required"))
		return
	}

	phone := chi.URLParam(r, "phone")
	result, err := h.svc.Check(r.Context(), p.UserID, p.BuildingID, phone)
	if err != nil {
		httpserver.RespondError(w, nil, err)
		return
	}

	resp := struct {
		UserBan      *banResponse  `json:"user_ban,omitempty"`
		BuildingBans []banResponse `json:"building_bans"`
		Multiple     bool          `json:"multiple"`
	}{
		BuildingBans: make([]banResponse, 0, len(result.BuildingBans)),
		Multiple:     result.Multiple,
	}
	if result.UserBan != nil {
		v := toBanResponse(result.UserBan)
		resp.UserBan = &v
	}
	for _, b := range result.BuildingBans {
		resp.BuildingBans = append(resp.BuildingBans, toBanResponse(b))
	}
	httpserver.Respond(w, http.StatusOK, resp)
}

// HandleList handles GET /api/bans, scoped to the caller's building.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	p := identity.FromContext(r.Context())
	if err := identity.Authorize(p, identity.CapReadBuildingBans); err != nil {
		httpserver.RespondError(w, nil, err)
		return
	}
	if p.BuildingID == nil {
		httpserver.RespondError(w, nil, errs.New(errs.Validation, "NoBuilding", "principal has no associated building"))
		return
	}

	params, err := store.ParsePageParams(r)
	if err != nil {
		httpserver.RespondError(w, nil, errs.New(errs.Validation, "InvalidPage", err.Error()))
		return
	}

	page, err := h.svc.ListForBuilding(r.Context(), *p.BuildingID, params)
	if err != nil {
		httpserver.RespondError(w, nil, err)
		return
	}

	items := make([]banResponse, 0, len(page.Items))
	for _, b := range page.Items {
		items = append(items, toBanResponse(b))
	}
	httpserver.RespondWithMeta(w, http.StatusOK, items, httpserver.MetaFromPage(page))
}
