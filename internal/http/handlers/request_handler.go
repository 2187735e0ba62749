// Study request HTTP handlers.
//
// This file exposes REST endpoints for the request lifecycle:
//   - POST /requests             (create, debit, generate)
//   - GET  /requests             (list, paginated, ETag support)
//   - GET  /requests/{id}        (fetch one)
//   - POST /requests/{id}/cancel (cancel a queued request)
//
// Creation is synchronous: the handler persists the queued request, runs the
// generation pipeline, and returns the terminal outcome in one round trip.
// An Idempotency-Key header makes retries safe; a replayed key returns the
// originally created request without a second debit.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-study-backend/internal/domain"
	"github.com/tbourn/go-study-backend/internal/generation"
	"github.com/tbourn/go-study-backend/internal/http/middleware"
	"github.com/tbourn/go-study-backend/internal/repo"
	"github.com/tbourn/go-study-backend/internal/services"
)

// IdempotencyScopeRequests is the scope under which request-creation
// idempotency records are stored. Records are keyed by the caller's external
// identity so the middleware can check them before the account is resolved.
const IdempotencyScopeRequests = "requests"

// idempotencyTTL bounds how long a stored key can be replayed.
const idempotencyTTL = 24 * time.Hour

//
// DTOs
//

// CreateRequestRequest is the JSON payload for creating a study request.
type CreateRequestRequest struct {
	// Purpose classifies the study goal (exam, job, practice, coding, other).
	Purpose string `json:"purpose" binding:"required" example:"exam"`
	// Topic is the free-text subject (1–255 chars after trimming).
	Topic string `json:"topic" binding:"required" example:"Graph algorithms"`
	// Difficulty is the requested depth (Easy, Medium, Hard).
	Difficulty string `json:"difficulty" binding:"required" example:"Medium"`
}

// CreateRequestResponse wraps the terminal request and, on success, the
// generated material.
type CreateRequestResponse struct {
	Request  requestView   `json:"request"`
	Material *materialView `json:"material,omitempty"`
	// Replayed is true when an Idempotency-Key matched a previous creation.
	Replayed bool `json:"replayed,omitempty"`
}

// ListRequestsResponse wraps a page of requests and pagination information.
type ListRequestsResponse struct {
	Requests   []requestView `json:"requests"`
	Pagination Pagination    `json:"pagination"`
}

//
// Handlers
//

// CreateRequest godoc
// @ID          createRequest
// @Summary     Create a study request
// @Description Validates input, debits one credit (free tier), runs generation, and returns the terminal request. Failed generation refunds the debit.
// @Tags        Requests
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  true  "External identity"                 example(user123)
// @Param       Idempotency-Key  header  string  false "Dedupe key for safe retries"       example(req-2024-0042)
// @Param       body             body    handlers.CreateRequestRequest  true  "Request payload"
//
// @Success     201  {object}  handlers.CreateRequestResponse
// @Success     200  {object}  handlers.CreateRequestResponse "Idempotent replay"
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse "Missing identity"
// @Failure     402  {object}  handlers.ErrorResponse "Insufficient credits"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /requests [post]
func (h *Handlers) CreateRequest(c *gin.Context) {
	u := h.currentUser(c)
	if u == nil {
		return
	}
	ctx := c.Request.Context()

	var req CreateRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "purpose, topic and difficulty required")
		return
	}

	// Idempotent replay: a stored key returns the original request untouched.
	key, hasKey := middleware.GetIdempotencyKey(c)
	if hasKey {
		if rec, err := h.idempotencyRecord(c, u, key); err == nil && rec != nil {
			if r, gerr := h.reqSvc.Get(ctx, rec.RefID, u.ID); gerr == nil {
				resp := CreateRequestResponse{Request: viewOf(r), Replayed: true}
				if r.Status == domain.StatusCompleted {
					if mat, merr := h.materialForRequest(c, r.ID); merr == nil && mat != nil {
						resp.Material = materialViewOf(mat)
					}
				}
				ok(c, http.StatusOK, resp)
				return
			}
		}
	}

	r, err := h.reqSvc.Create(ctx, u.ID, strings.TrimSpace(req.Purpose), req.Topic, strings.TrimSpace(req.Difficulty))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidPurpose),
			errors.Is(err, services.ErrInvalidDifficulty),
			errors.Is(err, services.ErrEmptyTopic),
			errors.Is(err, services.ErrTopicTooLong):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		case errors.Is(err, services.ErrInsufficientCredits):
			fail(c, http.StatusPaymentRequired, ErrCodeInsufficientCredits, "not enough credits")
		case errors.Is(err, services.ErrUserNotFound):
			fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "unknown account")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		}
		return
	}

	// Record the key before generation so a retry during a slow pipeline
	// replays instead of double-debiting. Best effort; a lost record only
	// costs the dedupe, never the request.
	if hasKey {
		h.storeIdempotency(c, u, key, r.ID)
	}

	r, mat, err := h.reqSvc.Process(ctx, r.ID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	resp := CreateRequestResponse{Request: viewOf(r)}
	if mat != nil {
		resp.Material = materialViewOf(mat)
	}
	ok(c, http.StatusCreated, resp)
}

// ListRequests godoc
// @ID          listRequests
// @Summary     List study requests (paginated)
// @Description Returns a page of the user's request history, newest first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Requests
// @Produce     json
//
// @Param       X-User-ID      header  string  true  "External identity"           example(user123)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
// @Param       page           query   int     false "Page number"                  minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"               minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListRequestsResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     401  {object} handlers.ErrorResponse "Missing identity"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /requests [get]
func (h *Handlers) ListRequests(c *gin.Context) {
	u := h.currentUser(c)
	if u == nil {
		return
	}
	ctx := c.Request.Context()
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	if db := h.serviceDB(); db != nil {
		count, maxTS, err := repo.RequestsStats(ctx, db, u.ID)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"requests:%s:%d:%d"`, u.ID, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.reqSvc.ListPage(ctx, u.ID, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	views := make([]requestView, 0, len(items))
	for i := range items {
		views = append(views, viewOf(&items[i]))
	}
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListRequestsResponse{
		Requests: views,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// GetRequest godoc
// @ID          getRequest
// @Summary     Fetch one study request
// @Tags        Requests
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "External identity"  example(user123)
// @Param       id         path    string  true  "Request ID (UUID)"  format(uuid)
//
// @Success     200  {object} handlers.CreateRequestResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     401  {object} handlers.ErrorResponse "Missing identity"
// @Failure     404  {object} handlers.ErrorResponse "Request not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /requests/{id} [get]
func (h *Handlers) GetRequest(c *gin.Context) {
	u := h.currentUser(c)
	if u == nil {
		return
	}

	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "request id must be a UUID")
		return
	}

	r, err := h.reqSvc.Get(c.Request.Context(), id, u.ID)
	if err != nil {
		if errors.Is(err, services.ErrRequestNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "request not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	resp := CreateRequestResponse{Request: viewOf(r)}
	if r.Status == domain.StatusCompleted {
		if mat, merr := h.materialForRequest(c, r.ID); merr == nil && mat != nil {
			resp.Material = materialViewOf(mat)
		}
	}
	ok(c, http.StatusOK, resp)
}

// CancelRequest godoc
// @ID          cancelRequest
// @Summary     Cancel a queued study request
// @Description Only queued requests can be canceled; the consumed credit stays spent.
// @Tags        Requests
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "External identity"  example(user123)
// @Param       id         path    string  true  "Request ID (UUID)"  format(uuid)
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     401  {object} handlers.ErrorResponse "Missing identity"
// @Failure     404  {object} handlers.ErrorResponse "Request not found"
// @Failure     409  {object} handlers.ErrorResponse "Not cancelable from its current state"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /requests/{id}/cancel [post]
func (h *Handlers) CancelRequest(c *gin.Context) {
	u := h.currentUser(c)
	if u == nil {
		return
	}

	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "request id must be a UUID")
		return
	}

	if err := h.reqSvc.Cancel(c.Request.Context(), id, u.ID); err != nil {
		switch {
		case errors.Is(err, services.ErrRequestNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "request not found")
		case errors.Is(err, services.ErrInvalidTransition):
			fail(c, http.StatusConflict, ErrCodeInvalidTransition, "request is no longer queued")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	noContent(c)
}

//
// Helpers
//

// serviceDB exposes the underlying handle when the request service is the
// concrete implementation; used for cheap stat queries (ETag).
func (h *Handlers) serviceDB() *gorm.DB {
	if svc, ok := h.reqSvc.(*services.RequestService); ok {
		return svc.DB
	}
	return nil
}

// idempotencyRecord fetches a live idempotency record for (caller, key), or
// nil when none exists. Lookup failures are swallowed; dedupe is best effort.
func (h *Handlers) idempotencyRecord(c *gin.Context, u *domain.User, key string) (*domain.Idempotency, error) {
	db := h.serviceDB()
	if db == nil {
		return nil, nil
	}
	rec, err := repo.GetIdempotency(c.Request.Context(), db, u.ExternalID, IdempotencyScopeRequests, key, time.Now().UTC())
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

// storeIdempotency persists the key-to-request mapping. A concurrent retry
// losing the unique-index race is fine; the stored record wins.
func (h *Handlers) storeIdempotency(c *gin.Context, u *domain.User, key, requestID string) {
	db := h.serviceDB()
	if db == nil {
		return
	}
	_, err := repo.CreateIdempotency(c.Request.Context(), db, u.ExternalID, IdempotencyScopeRequests, key, requestID, http.StatusCreated, idempotencyTTL)
	if err != nil && !errors.Is(err, repo.ErrDuplicate) {
		lg := middleware.LoggerFrom(c)
		lg.Warn().Err(err).Str("key", key).Msg("idempotency record not stored")
	}
}

// materialForRequest loads the material linked to a completed request.
func (h *Handlers) materialForRequest(c *gin.Context, requestID string) (*domain.StudyMaterial, error) {
	db := h.serviceDB()
	if db == nil {
		return nil, nil
	}
	mat, err := repo.GetMaterialByRequest(c.Request.Context(), db, requestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return mat, nil
}

// materialViewOf converts a stored material into its API shape, decoding the
// persisted course layout when present.
func materialViewOf(m *domain.StudyMaterial) *materialView {
	v := &materialView{
		ID:         m.ID,
		RequestID:  m.RequestID,
		Topic:      m.Topic,
		Difficulty: m.Difficulty,
		Status:     m.Status,
		CreatedAt:  m.CreatedAt.UTC().Format(time.RFC3339),
	}
	if len(m.CourseLayout) > 0 {
		var course generation.Course
		if err := json.Unmarshal(m.CourseLayout, &course); err == nil {
			v.CourseLayout = &course
		}
	}
	return v
}
