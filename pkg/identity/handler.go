package identity

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wisbric/safeguard/internal/audit"
	"github.com/wisbric/safeguard/internal/errs"
	"github.com/wisbric/safeguard/internal/httpserver"
	"github.com/wisbric/safeguard/internal/ratelimit"
)

// Handler exposes Identity over HTTP: register, login, refresh, logout,
// profile.
type Handler struct {
	svc   *Service
	audit *audit.Writer
}

// NewHandler builds a Handler over svc.
func NewHandler(svc *Service, aud *audit.Writer) *Handler {
	return &Handler{svc: svc, audit: aud}
}

func (h *Handler) auditLog(r *http.Request, action string, u *User) {
	h.audit.Log(audit.Entry{
		UserID:     &u.ID,
		BuildingID: u.BuildingID,
		Action:     action,
		Resource:   "user",
		ResourceID: u.ID,
		IPAddress:  ratelimit.ClientIP(r),
		UserAgent:  r.UserAgent(),
	})
}

type registerRequest struct {
	Email      string  `json:"email" validate:"required,email"`
	Phone      string  `json:"phone" validate:"required"`
	Password   string  `json:"password" validate:"required,min=8"`
	Role       string  `json:"role" validate:"required,oneof=super_admin building_admin resident security visitor"`
	BuildingID *string `json:"building_id"`
	Apartment  string  `json:"apartment"`
}

type authResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresAt    string       `json:"expires_at"`
	User         userResponse `json:"user"`
}

type userResponse struct {
	ID         string  `json:"id"`
	Email      string  `json:"email"`
	Phone      string  `json:"phone"`
	Role       string  `json:"role"`
	BuildingID *string `json:"building_id,omitempty"`
	Apartment  string  `json:"apartment,omitempty"`
}

func toUserResponse(u *User) userResponse {
	resp := userResponse{ID: u.ID.String(), Email: u.Email, Phone: u.Phone, Role: string(u.Role), Apartment: u.Apartment}
	if u.BuildingID != nil {
		s := u.BuildingID.String()
		resp.BuildingID = &s
	}
	return resp
}

func toAuthResponse(r *AuthResult) authResponse {
	return authResponse{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		ExpiresAt:    r.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z"),
		User:         toUserResponse(r.User),
	}
}

// HandleRegister handles POST /api/auth/register.
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	in := RegisterInput{
		Email:     req.Email,
		Phone:     req.Phone,
		Password:  req.Password,
		Role:      Role(req.Role),
		Apartment: req.Apartment,
	}
	if req.BuildingID != nil {
		id, err := uuid.Parse(*req.BuildingID)
		if err != nil {
			httpserver.RespondError(w, nil, errs.New(errs.Validation, "InvalidBuildingID", "building_id must be a valid UUID"))
			return
		}
		in.BuildingID = &id
	}

	result, err := h.svc.Register(r.Context(), in)
	if err != nil {
		httpserver.RespondError(w, nil, err)
		return
	}
	h.auditLog(r, "register", result.User)
	httpserver.Respond(w, http.StatusCreated, toAuthResponse(result))
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Device   string `json:"device"`
}

// HandleLogin handles POST /api/auth/login.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	device := Device{Fingerprint: req.Device, IP: ratelimit.ClientIP(r), UserAgent: r.UserAgent()}
	result, err := h.svc.Login(r.Context(), req.Email, req.Password, device)
	if err != nil {
		httpserver.RespondError(w, nil, err)
		return
	}
	h.auditLog(r, "login", result.User)
	httpserver.Respond(w, http.StatusOK, toAuthResponse(result))
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
	Device       string `json:"device"`
}

// HandleRefresh handles POST /api/auth/refresh.
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	device := Device{Fingerprint: req.Device, IP: ratelimit.ClientIP(r), UserAgent: r.UserAgent()}
	result, err := h.svc.Refresh(r.Context(), req.RefreshToken, device)
	if err != nil {
		httpserver.RespondError(w, nil, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, toAuthResponse(result))
}

type logoutRequest struct {
	AllDevices bool `json:"all_devices"`
}

// HandleLogout handles POST /api/auth/logout.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	p := FromContext(r.Context())
	if p == nil {
		httpserver.RespondError(w, nil, errs.New(errs.Authn, "MissingToken", "authentication required"))
		return
	}

	var req logoutRequest
	_ = httpserver.Decode(r, &req) // body is optional

	var err error
	if req.AllDevices {
		err = h.svc.RevokeAll(r.Context(), p.UserID)
	} else {
		err = h.svc.Revoke(r.Context(), p.SessionID)
	}
	if err != nil {
		httpserver.RespondError(w, nil, err)
		return
	}
	h.audit.Log(audit.Entry{
		UserID:     &p.UserID,
		BuildingID: p.BuildingID,
		Action:     "logout",
		Resource:   "session",
		ResourceID: p.SessionID,
		IPAddress:  ratelimit.ClientIP(r),
		UserAgent:  r.UserAgent(),
	})
	w.WriteHeader(http.StatusNoContent)
}

// HandleApprove handles POST /api/users/{id}/approve.
func (h *Handler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	p := FromContext(r.Context())
	if p == nil {
		httpserver.RespondError(w, nil, errs.New(errs.Authn, "MissingToken", "authentication required"))
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, nil, errs.New(errs.Validation, "InvalidID", "id must be a valid UUID"))
		return
	}

	u, err := h.svc.Approve(r.Context(), p, id)
	if err != nil {
		httpserver.RespondError(w, nil, err)
		return
	}

	h.audit.Log(audit.Entry{
		UserID:     &p.UserID,
		BuildingID: p.BuildingID,
		Action:     "user.approve",
		Resource:   "user",
		ResourceID: u.ID,
		IPAddress:  ratelimit.ClientIP(r),
		UserAgent:  r.UserAgent(),
	})
	httpserver.Respond(w, http.StatusOK, toUserResponse(u))
}

// HandleProfile handles GET /api/auth/profile.
func (h *Handler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	p := FromContext(r.Context())
	if p == nil {
		httpserver.RespondError(w, nil, errs.New(errs.Authn, "MissingToken", "authentication required"))
		return
	}

	u, err := h.svc.users.FindByID(r.Context(), nil, p.UserID)
	if err != nil {
		httpserver.RespondError(w, nil, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, toUserResponse(u))
}
