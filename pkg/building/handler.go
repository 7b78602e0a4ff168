package building

import (
	"net/http"
	"time"

	"github.com/wisbric/safeguard/internal/audit"
	"github.com/wisbric/safeguard/internal/httpserver"
	"github.com/wisbric/safeguard/internal/ratelimit"
	"github.com/wisbric/safeguard/pkg/identity"
)

// Handler exposes building administration over HTTP. The route group is
// restricted to super_admin by the router; the handlers assume that check
// has already run.
type Handler struct {
	repo  *Repo
	audit *audit.Writer
}

// NewHandler builds a Handler over repo.
func NewHandler(repo *Repo, aud *audit.Writer) *Handler {
	return &Handler{repo: repo, audit: aud}
}

type createRequest struct {
	Name         string `json:"name" validate:"required"`
	LicenseQuota int    `json:"license_quota" validate:"required,min=1"`
}

type buildingResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	LicenseQuota int    `json:"license_quota"`
	Active       bool   `json:"active"`
	CreatedAt    string `json:"created_at"`
}

func toBuildingResponse(b *Building) buildingResponse {
	return buildingResponse{
		ID:           b.ID.String(),
		Name:         b.Name,
		LicenseQuota: b.LicenseQuota,
		Active:       b.Active,
		CreatedAt:    b.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// HandleCreate handles POST /api/buildings.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	b, err := h.repo.Insert(r.Context(), nil, req.Name, req.LicenseQuota)
	if err != nil {
		httpserver.RespondError(w, nil, err)
		return
	}

	if p := identity.FromContext(r.Context()); p != nil {
		h.audit.Log(audit.Entry{
			UserID:     &p.UserID,
			Action:     "building.create",
			Resource:   "building",
			ResourceID: b.ID,
			IPAddress:  ratelimit.ClientIP(r),
			UserAgent:  r.UserAgent(),
		})
	}
	httpserver.Respond(w, http.StatusCreated, toBuildingResponse(b))
}

// HandleList handles GET /api/buildings.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	buildings, err := h.repo.List(r.Context(), nil)
	if err != nil {
		httpserver.RespondError(w, nil, err)
		return
	}

	items := make([]buildingResponse, 0, len(buildings))
	for _, b := range buildings {
		items = append(items, toBuildingResponse(b))
	}
	httpserver.Respond(w, http.StatusOK, items)
}
