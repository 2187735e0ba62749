// Dashboard HTTP handlers.
//
// This file exposes REST endpoints for the dashboard projection:
//   - POST   /dashboard/items          (add a material)
//   - GET    /dashboard/items          (list with material details)
//   - GET    /dashboard/items/check    (membership probe)
//   - PATCH  /dashboard/items/{id}     (overwrite progress)
//   - DELETE /dashboard/items/{id}     (remove)
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-study-backend/internal/repo"
	"github.com/tbourn/go-study-backend/internal/services"
)

//
// DTOs
//

// AddDashboardItemRequest is the JSON payload for adding a material to the
// dashboard.
type AddDashboardItemRequest struct {
	MaterialID string `json:"material_id" binding:"required" format:"uuid"`
}

// UpdateProgressRequest is the JSON payload for overwriting item progress.
type UpdateProgressRequest struct {
	// Progress is a completion percentage in [0, 100]; regression is allowed.
	Progress *int `json:"progress" binding:"required" example:"40"`
}

// DashboardCheckResponse reports dashboard membership for a material.
type DashboardCheckResponse struct {
	Added bool `json:"added"`
}

// ListDashboardResponse wraps the user's dashboard rows.
type ListDashboardResponse struct {
	Items []repo.DashboardRow `json:"items"`
}

//
// Handlers
//

// AddDashboardItem godoc
// @ID          addDashboardItem
// @Summary     Add a material to the dashboard
// @Description Pins an existing material at progress 0. Adding the same material twice is a conflict.
// @Tags        Dashboard
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "External identity"  example(user123)
// @Param       body       body    handlers.AddDashboardItemRequest  true  "Material reference"
//
// @Success     201  {object}  domain.DashboardItem
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse "Missing identity"
// @Failure     404  {object}  handlers.ErrorResponse "Material not found"
// @Failure     409  {object}  handlers.ErrorResponse "Already added"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /dashboard/items [post]
func (h *Handlers) AddDashboardItem(c *gin.Context) {
	u := h.currentUser(c)
	if u == nil {
		return
	}

	var req AddDashboardItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "material_id required")
		return
	}
	if _, err := uuid.Parse(req.MaterialID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "material_id must be a UUID")
		return
	}

	item, err := h.dashSvc.Add(c.Request.Context(), u.ID, req.MaterialID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrMaterialNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "material not found")
		case errors.Is(err, services.ErrAlreadyAdded):
			fail(c, http.StatusConflict, ErrCodeConflict, "already added")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	ok(c, http.StatusCreated, item)
}

// ListDashboard godoc
// @ID          listDashboard
// @Summary     List dashboard items
// @Description Returns the user's items joined with material topic and difficulty.
// @Tags        Dashboard
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "External identity"  example(user123)
//
// @Success     200  {object}  handlers.ListDashboardResponse
// @Failure     401  {object}  handlers.ErrorResponse "Missing identity"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /dashboard/items [get]
func (h *Handlers) ListDashboard(c *gin.Context) {
	u := h.currentUser(c)
	if u == nil {
		return
	}

	rows, err := h.dashSvc.List(c.Request.Context(), u.ID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	if rows == nil {
		rows = []repo.DashboardRow{}
	}
	ok(c, http.StatusOK, ListDashboardResponse{Items: rows})
}

// CheckDashboard godoc
// @ID          checkDashboard
// @Summary     Check dashboard membership
// @Description Reports whether a material is already on the caller's dashboard. Drives the add/added toggle in clients; signed-out viewers get added=false instead of an error.
// @Tags        Dashboard
// @Produce     json
//
// @Param       X-User-ID    header  string  false "External identity"  example(user123)
// @Param       material_id  query   string  true  "Material ID (UUID)" format(uuid)
//
// @Success     200  {object}  handlers.DashboardCheckResponse
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /dashboard/items/check [get]
func (h *Handlers) CheckDashboard(c *gin.Context) {
	materialID := c.Query("material_id")
	if _, err := uuid.Parse(materialID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "material_id must be a UUID")
		return
	}

	// Anonymous viewers see the add affordance.
	if externalID(c) == "" {
		ok(c, http.StatusOK, DashboardCheckResponse{Added: false})
		return
	}
	u := h.currentUser(c)
	if u == nil {
		return
	}

	added, err := h.dashSvc.IsAdded(c.Request.Context(), u.ID, materialID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, DashboardCheckResponse{Added: added})
}

// UpdateDashboardProgress godoc
// @ID          updateDashboardProgress
// @Summary     Overwrite item progress
// @Description Sets the completion percentage of an owned item. Values outside [0, 100] are rejected; lowering progress is allowed.
// @Tags        Dashboard
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "External identity"  example(user123)
// @Param       id         path    string  true  "Item ID (UUID)"     format(uuid)
// @Param       body       body    handlers.UpdateProgressRequest  true  "New progress"
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request or out-of-range progress"
// @Failure     401  {object} handlers.ErrorResponse "Missing identity"
// @Failure     404  {object} handlers.ErrorResponse "Item not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /dashboard/items/{id} [patch]
func (h *Handlers) UpdateDashboardProgress(c *gin.Context) {
	u := h.currentUser(c)
	if u == nil {
		return
	}

	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "item id must be a UUID")
		return
	}

	var req UpdateProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Progress == nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "progress required")
		return
	}

	if err := h.dashSvc.UpdateProgress(c.Request.Context(), u.ID, id, *req.Progress); err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidProgress):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "progress must be between 0 and 100")
		case errors.Is(err, services.ErrItemNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "item not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	noContent(c)
}

// RemoveDashboardItem godoc
// @ID          removeDashboardItem
// @Summary     Remove a dashboard item
// @Description Deletes an owned item. The underlying material and its request history are untouched.
// @Tags        Dashboard
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "External identity"  example(user123)
// @Param       id         path    string  true  "Item ID (UUID)"     format(uuid)
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     401  {object} handlers.ErrorResponse "Missing identity"
// @Failure     404  {object} handlers.ErrorResponse "Item not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /dashboard/items/{id} [delete]
func (h *Handlers) RemoveDashboardItem(c *gin.Context) {
	u := h.currentUser(c)
	if u == nil {
		return
	}

	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "item id must be a UUID")
		return
	}

	if err := h.dashSvc.Remove(c.Request.Context(), u.ID, id); err != nil {
		if errors.Is(err, services.ErrItemNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "item not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}
