// Study material HTTP handlers.
//
// Materials are the generated artifacts. They are fetched by id when a user
// opens a course, either from the request history or from a dashboard item.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-study-backend/internal/services"
)

// GetMaterial godoc
// @ID          getMaterial
// @Summary     Fetch a study material
// @Description Returns the material with its decoded course layout.
// @Tags        Materials
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "External identity"   example(user123)
// @Param       id         path    string  true  "Material ID (UUID)"  format(uuid)
//
// @Success     200  {object}  domain.StudyMaterial
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse "Missing identity"
// @Failure     404  {object}  handlers.ErrorResponse "Material not found"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /materials/{id} [get]
func (h *Handlers) GetMaterial(c *gin.Context) {
	u := h.currentUser(c)
	if u == nil {
		return
	}

	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "material id must be a UUID")
		return
	}

	mat, err := h.matSvc.GetMaterial(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrMaterialNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "material not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, materialViewOf(mat))
}
