// Handler wiring and identity resolution.
//
// Handlers are transport-thin: they validate input, call application
// services, and translate results into HTTP responses. The authenticated
// identity is the external identity-provider subject set by upstream
// middleware (tests and the demo deployment use the X-User-ID header);
// every handler resolves it to the internal account via the idempotent
// first-sign-in upsert.
package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-study-backend/internal/domain"
	"github.com/tbourn/go-study-backend/internal/generation"
	"github.com/tbourn/go-study-backend/internal/repo"
	"github.com/tbourn/go-study-backend/internal/services"
	"github.com/tbourn/go-study-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// AccountService defines the account and ledger operations consumed by the
// HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type AccountService interface {
	// Resolve returns the account for an external identity, creating it on
	// first sign-in.
	Resolve(ctx context.Context, externalID, name, email string) (*domain.User, error)
	// GetBalance returns counters, remaining capacity, and subscription state.
	GetBalance(ctx context.Context, userID string) (*services.Balance, error)
	// Subscribe applies an already-authorized plan change.
	Subscribe(ctx context.Context, userID, planID string, now time.Time) error
	// BuyCreditPack applies an already-authorized pack purchase.
	BuyCreditPack(ctx context.Context, userID, packID string) (*services.CreditPack, error)
	// DeleteAccount removes the account and everything it owns.
	DeleteAccount(ctx context.Context, userID string) error
}

// RequestService defines the study-request lifecycle operations.
type RequestService interface {
	// Create persists a queued request, debiting one credit unless the user
	// has an active subscription.
	Create(ctx context.Context, userID, purpose, topic, difficulty string) (*domain.StudyRequest, error)
	// Process runs the generation pipeline for a queued request.
	Process(ctx context.Context, requestID string) (*domain.StudyRequest, *domain.StudyMaterial, error)
	// Cancel moves a queued request to canceled.
	Cancel(ctx context.Context, requestID, userID string) error
	// Get fetches one owned request.
	Get(ctx context.Context, requestID, userID string) (*domain.StudyRequest, error)
	// ListPage returns a page of the user's request history and the total count.
	ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.StudyRequest, int64, error)
}

// DashboardService defines the dashboard projection operations.
type DashboardService interface {
	Add(ctx context.Context, userID, materialID string) (*domain.DashboardItem, error)
	UpdateProgress(ctx context.Context, userID, itemID string, progress int) error
	Remove(ctx context.Context, userID, itemID string) error
	List(ctx context.Context, userID string) ([]repo.DashboardRow, error)
	IsAdded(ctx context.Context, userID, materialID string) (bool, error)
}

// MaterialReader fetches generated artifacts for display.
type MaterialReader interface {
	GetMaterial(ctx context.Context, id string) (*domain.StudyMaterial, error)
}

// Handlers groups HTTP endpoints for accounts, study requests, materials,
// and the dashboard. It depends on abstract service interfaces to keep
// transport concerns separate from business logic.
type Handlers struct {
	acctSvc AccountService
	reqSvc  RequestService
	dashSvc DashboardService
	matSvc  MaterialReader
}

// New constructs and returns a Handlers instance bound to the given services.
func New(acctSvc AccountService, reqSvc RequestService, dashSvc DashboardService, matSvc MaterialReader) *Handlers {
	return &Handlers{acctSvc: acctSvc, reqSvc: reqSvc, dashSvc: dashSvc, matSvc: matSvc}
}

// externalID extracts the authenticated identity-provider subject from the
// Gin context (set by upstream middleware). If absent, it falls back to the
// "X-User-ID" header (tests use it). Empty means unauthenticated.
func externalID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return ""
}

// currentUser resolves the caller to a database account, creating it on
// first sign-in. On missing identity it writes the 401 envelope and
// returns nil; callers bail out on nil.
func (h *Handlers) currentUser(c *gin.Context) *domain.User {
	ext := externalID(c)
	if ext == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing identity")
		return nil
	}

	name := strings.TrimSpace(c.GetHeader("X-User-Name"))
	email := strings.TrimSpace(c.GetHeader("X-User-Email"))
	if email == "" {
		// Identity providers that withhold the email still get an account;
		// the derived address keeps the unique-email constraint satisfied.
		email = ext + "@users.noreply.local"
	}

	u, err := h.acctSvc.Resolve(c.Request.Context(), ext, name, email)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return nil
	}
	return u
}

// requestView is the JSON shape of a study request in API responses.
type requestView struct {
	ID          string `json:"id"`
	Purpose     string `json:"purpose"`
	Topic       string `json:"topic"`
	Difficulty  string `json:"difficulty"`
	Status      string `json:"status"`
	Model       string `json:"model,omitempty"`
	Error       string `json:"error,omitempty"`
	CreditsUsed int    `json:"credits_used"`
	CreatedAt   string `json:"created_at"`
}

func viewOf(r *domain.StudyRequest) requestView {
	return requestView{
		ID:          r.ID,
		Purpose:     r.Purpose,
		Topic:       r.Topic,
		Difficulty:  r.Difficulty,
		Status:      r.Status,
		Model:       r.Model,
		Error:       r.Error,
		CreditsUsed: r.CreditsUsed,
		CreatedAt:   r.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// materialView is the JSON shape of a study material in API responses.
type materialView struct {
	ID           string             `json:"id"`
	RequestID    *string            `json:"request_id,omitempty"`
	Topic        string             `json:"topic"`
	Difficulty   string             `json:"difficulty"`
	Status       string             `json:"status"`
	CourseLayout *generation.Course `json:"course_layout,omitempty"`
	CreatedAt    string             `json:"created_at"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}
