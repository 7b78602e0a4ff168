package visit

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

// Handler exposes VisitEngine over HTTP: create, list, read, update,
// cancel, scan.
type Handler struct {
	svc   *Service
	audit *audit.Writer
}

// NewHandler builds a Handler over svc.
func NewHandler(svc *Service, aud *audit.Writer) *Handler {
	return &Handler{svc: svc, audit: aud}
}

// parseOptionalUUID converts an already-validated optional UUID string to
// *uuid.UUID. Malformed input is rejected by the request validator before
// this runs.
func parseOptionalUUID(s *string) *uuid.UUID {
	if s == nil {
		return nil
	}
	id, err := uuid.Parse(*s)
	if err != nil {
		return nil
	}
	return &id
}

func (h *Handler) auditLog(r *http.Request, p *identity.Principal, action string, visitID uuid.UUID) {
	h.audit.Log(audit.Entry{
		UserID:     &p.UserID,
		BuildingID: p.BuildingID,
		Action:     action,
		Resource:   "visit",
		ResourceID: visitID,
		IPAddress:  ratelimit.ClientIP(r),
		UserAgent:  r.UserAgent(),
	})
}

type visitorRequest struct {
	Name  string `json:"name" validate:"required"`
	Phone string `json:"phone" validate:"required"`
}

type createRequest struct {
	Visitors      []visitorRequest `json:"visitors" validate:"required,min=1,dive"`
	Purpose       string           `json:"purpose" validate:"required"`
	ExpectedStart time.Time        `json:"expected_start" validate:"required"`
	ExpectedEnd   time.Time        `json:"expected_end" validate:"required"`
	BuildingID    *string          `json:"building_id" validate:"omitempty,uuid"`
}

type visitorResponse struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Phone   string  `json:"phone"`
	State   string  `json:"state"`
	EntryAt *string `json:"entry_at,omitempty"`
	ExitAt  *string `json:"exit_at,omitempty"`
}

type visitResponse struct {
	ID            string            `json:"id"`
	HostID        string            `json:"host_id"`
	BuildingID    string            `json:"building_id"`
	Purpose       string            `json:"purpose"`
	ExpectedStart string            `json:"expected_start"`
	ExpectedEnd   string            `json:"expected_end"`
	ShortCode     string            `json:"short_code,omitempty"`
	State         string            `json:"state"`
	CreatedAt     string            `json:"created_at"`
	Visitors      []visitorResponse `json:"visitors"`
}

func toVisitorResponse(v *Visitor) visitorResponse {
	resp := visitorResponse{ID: v.ID.String(), Name: v.Name, Phone: v.Phone, State: string(v.State)}
	if v.EntryAt != nil {
		s := v.EntryAt.UTC().Format(time.RFC3339)
		resp.EntryAt = &s
	}
	if v.ExitAt != nil {
		s := v.ExitAt.UTC().Format(time.RFC3339)
		resp.ExitAt = &s
	}
	return resp
}

func toVisitResponse(v *Visit) visitResponse {
	resp := visitResponse{
		ID:            v.ID.String(),
		HostID:        v.HostID.String(),
		BuildingID:    v.BuildingID.String(),
		Purpose:       v.Purpose,
		ExpectedStart: v.ExpectedStart.UTC().Format(time.RFC3339),
		ExpectedEnd:   v.ExpectedEnd.UTC().Format(time.RFC3339),
		ShortCode:     v.ShortCode,
		State:         string(v.State),
		CreatedAt:     v.CreatedAt.UTC().Format(time.RFC3339),
		Visitors:      make([]visitorResponse, 0, len(v.Visitors)),
	}
	for _, vv := range v.Visitors {
		resp.Visitors = append(resp.Visitors, toVisitorResponse(vv))
	}
	return resp
}

// HandleCreate handles POST /api/visits.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	p := identity.FromContext(r.Context())
	if err := identity.Authorize(p, identity.CapCreateVisit); err != nil {
		httpserver.RespondError(w, nil, err)
		return
	}

	var req createRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	buildingID, err := identity.BuildingScope(p, parseOptionalUUID(req.BuildingID))
	if err != nil {
		httpserver.RespondError(w, nil, err)
		return
	}

	in := CreateInput{
		HostID:        p.UserID,
		BuildingID:    buildingID,
		Purpose:       req.Purpose,
		ExpectedStart: req.ExpectedStart,
		ExpectedEnd:   req.ExpectedEnd,
	}
	for _, v := range req.Visitors {
		in.Visitors = append(in.Visitors, VisitorInput{Name: v.Name, Phone: v.Phone})
	}

	result, err := h.svc.Create(r.Context(), in)
	if err != nil {
		httpserver.RespondError(w, nil, err)
		return
	}
	h.auditLog(r, p, "visit.create", result.Visit.ID)

	resp := struct {
		visitResponse
		QR       string   `json:"qr"`
		Warnings []string `json:"warnings,omitempty"`
	}{visitResponse: toVisitResponse(result.Visit), QR: result.QRPlain, Warnings: result.Warnings}
	httpserver.Respond(w, http.StatusCreated, resp)
}

// HandleList handles GET /api/visits.
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

	var page store.Page[*Visit]
	if b := r.URL.Query().Get("building"); b != "" {
		buildingID, err := uuid.Parse(b)
		if err != nil {
			httpserver.RespondError(w, nil, errs.New(errs.Validation, "InvalidBuildingID", "building must be a valid UUID"))
			return
		}
		if !identity.SameBuilding(p, buildingID) {
			httpserver.RespondError(w, nil, identity.Denied())
			return
		}
		page, err = h.svc.ListForBuilding(r.Context(), buildingID, params)
		if err != nil {
			httpserver.RespondError(w, nil, err)
			return
		}
	} else {
		page, err = h.svc.ListForUser(r.Context(), p.UserID, params)
		if err != nil {
			httpserver.RespondError(w, nil, err)
			return
		}
	}

	items := make([]visitResponse, 0, len(page.Items))
	for _, v := range page.Items {
		items = append(items, toVisitResponse(v))
	}
	httpserver.RespondWithMeta(w, http.StatusOK, items, httpserver.MetaFromPage(page))
}

func (h *Handler) loadScoped(w http.ResponseWriter, r *http.Request) (*Visit, *identity.Principal, bool) {
	p := identity.FromContext(r.Context())
	if p == nil {
		httpserver.RespondError(w, nil, errs.New(errs.Authn, "MissingToken", "authentication required"))
		return nil, nil, false
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, nil, errs.New(errs.Validation, "InvalidID", "id must be a valid UUID"))
		return nil, nil, false
	}

	v, err := h.svc.Get(r.Context(), id)
	if err != nil {
		httpserver.RespondError(w, nil, err)
		return nil, nil, false
	}

	if v.HostID != p.UserID && !identity.SameBuilding(p, v.BuildingID) {
		httpserver.RespondError(w, nil, errs.New(errs.NotFound, "NotFound", "visit not found"))
		return nil, nil, false
	}

	return v, p, true
}

// HandleGet handles GET /api/visits/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	v, _, ok := h.loadScoped(w, r)
	if !ok {
		return
	}
	httpserver.Respond(w, http.StatusOK, toVisitResponse(v))
}

type updateRequest struct {
	Purpose       string    `json:"purpose" validate:"required"`
	ExpectedStart time.Time `json:"expected_start" validate:"required"`
	ExpectedEnd   time.Time `json:"expected_end" validate:"required"`
}

func isHostOrAdmin(p *identity.Principal, v *Visit) bool {
	return v.HostID == p.UserID || p.Role == identity.RoleSuperAdmin ||
		(p.Role == identity.RoleBuildingAdmin && p.InBuilding(v.BuildingID))
}

// HandleUpdate handles PATCH /api/visits/{id}.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	v, p, ok := h.loadScoped(w, r)
	if !ok {
		return
	}
	if !isHostOrAdmin(p, v) {
		httpserver.RespondError(w, nil, identity.Denied())
		return
	}

	var req updateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	updated, err := h.svc.Update(r.Context(), v.ID, UpdateInput{
		Purpose:       req.Purpose,
		ExpectedStart: req.ExpectedStart,
		ExpectedEnd:   req.ExpectedEnd,
	})
	if err != nil {
		httpserver.RespondError(w, nil, err)
		return
	}
	h.auditLog(r, p, "visit.update", updated.ID)
	httpserver.Respond(w, http.StatusOK, toVisitResponse(updated))
}

// HandleCancel handles DELETE /api/visits/{id}.
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	v, p, ok := h.loadScoped(w, r)
	if !ok {
		return
	}
	if !isHostOrAdmin(p, v) {
		httpserver.RespondError(w, nil, identity.Denied())
		return
	}

	if _, err := h.svc.Cancel(r.Context(), v.ID); err != nil {
		httpserver.RespondError(w, nil, err)
		return
	}
	h.auditLog(r, p, "visit.cancel", v.ID)
	w.WriteHeader(http.StatusNoContent)
}

type scanRequest struct {
	Code       string  `json:"code" validate:"required"`
	Action     string  `json:"action" validate:"required,oneof=entry exit"`
	IsQR       bool    `json:"is_qr"`
	BuildingID *string `json:"building_id" validate:"omitempty,uuid"`
}

// HandleScan handles POST /api/visits/scan.
func (h *Handler) HandleScan(w http.ResponseWriter, r *http.Request) {
	p := identity.FromContext(r.Context())
	if err := identity.Authorize(p, identity.CapScanVisit); err != nil {
		httpserver.RespondError(w, nil, err)
		return
	}

	var req scanRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	buildingID, err := identity.BuildingScope(p, parseOptionalUUID(req.BuildingID))
	if err != nil {
		httpserver.RespondError(w, nil, err)
		return
	}

	v, err := h.svc.Scan(r.Context(), ScanInput{
		Code:       req.Code,
		IsQR:       req.IsQR,
		Action:     ScanAction(req.Action),
		Scanner:    p.UserID,
		BuildingID: buildingID,
	})
	if err != nil {
		httpserver.RespondError(w, nil, err)
		return
	}
	h.auditLog(r, p, "visit.scan."+req.Action, v.ID)
	httpserver.Respond(w, http.StatusOK, toVisitResponse(v))
}
