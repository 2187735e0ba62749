// Account HTTP handlers.
//
// This file exposes REST endpoints for the account resource:
//   - GET    /me                  (balance and subscription state)
//   - DELETE /me                  (delete account and owned data)
//   - POST   /upgrade/subscribe   (apply an authorized plan change)
//   - POST   /upgrade/credits     (apply an authorized pack purchase)
//
// The upgrade endpoints trust the caller: payment authorization happens
// upstream and only the resulting entitlement is applied here.
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-study-backend/internal/services"
)

//
// DTOs
//

// SubscribeRequest is the JSON payload for applying a plan change.
type SubscribeRequest struct {
	// PlanID names the subscription tier to activate ("pro" or "unlimited").
	PlanID string `json:"plan_id" binding:"required" example:"pro"`
}

// BuyCreditsRequest is the JSON payload for applying a credit pack purchase.
type BuyCreditsRequest struct {
	// PackID names the pack from the catalog ("basic", "pro", "ultimate").
	PackID string `json:"pack_id" binding:"required" example:"basic"`
}

// BuyCreditsResponse confirms the credited pack.
type BuyCreditsResponse struct {
	PackID  string `json:"pack_id"`
	Credits int    `json:"credits"`
	Label   string `json:"label"`
}

//
// Handlers
//

// GetMe godoc
// @ID          getMe
// @Summary     Current account
// @Description Returns credit counters, remaining capacity, and subscription state for the caller. Creates the account on first sign-in.
// @Tags        Account
// @Produce     json
//
// @Param       X-User-ID     header  string  true  "External identity"  example(user123)
// @Param       X-User-Email  header  string  false "Email (first sign-in only)"
// @Param       X-User-Name   header  string  false "Display name (first sign-in only)"
//
// @Success     200  {object}  services.Balance
// @Failure     401  {object}  handlers.ErrorResponse "Missing identity"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /me [get]
func (h *Handlers) GetMe(c *gin.Context) {
	u := h.currentUser(c)
	if u == nil {
		return
	}

	bal, err := h.acctSvc.GetBalance(c.Request.Context(), u.ID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, bal)
}

// DeleteMe godoc
// @ID          deleteMe
// @Summary     Delete account
// @Description Removes the account and everything it owns (requests, materials, ledger, dashboard).
// @Tags        Account
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "External identity"  example(user123)
//
// @Success     204  {string} string "No Content"
// @Failure     401  {object} handlers.ErrorResponse "Missing identity"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /me [delete]
func (h *Handlers) DeleteMe(c *gin.Context) {
	u := h.currentUser(c)
	if u == nil {
		return
	}

	if err := h.acctSvc.DeleteAccount(c.Request.Context(), u.ID); err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "account not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}

// Subscribe godoc
// @ID          subscribe
// @Summary     Activate a subscription plan
// @Description Applies an already-authorized plan change. "pro" grants a one-month term plus bonus credits; "unlimited" removes the quota entirely.
// @Tags        Account
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "External identity"  example(user123)
// @Param       body       body    handlers.SubscribeRequest  true  "Plan payload"
//
// @Success     200  {object}  services.Balance
// @Failure     400  {object}  handlers.ErrorResponse "Bad request or unknown plan"
// @Failure     401  {object}  handlers.ErrorResponse "Missing identity"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /upgrade/subscribe [post]
func (h *Handlers) Subscribe(c *gin.Context) {
	u := h.currentUser(c)
	if u == nil {
		return
	}

	var req SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "plan_id required")
		return
	}

	if err := h.acctSvc.Subscribe(c.Request.Context(), u.ID, req.PlanID, time.Now().UTC()); err != nil {
		if errors.Is(err, services.ErrUnknownPlan) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown plan")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	bal, err := h.acctSvc.GetBalance(c.Request.Context(), u.ID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, bal)
}

// BuyCredits godoc
// @ID          buyCredits
// @Summary     Apply a credit pack purchase
// @Description Credits the pack amount to the account and records a ledger entry. Available on any tier, including active subscribers.
// @Tags        Account
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "External identity"  example(user123)
// @Param       body       body    handlers.BuyCreditsRequest  true  "Pack payload"
//
// @Success     200  {object}  handlers.BuyCreditsResponse
// @Failure     400  {object}  handlers.ErrorResponse "Bad request or unknown pack"
// @Failure     401  {object}  handlers.ErrorResponse "Missing identity"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /upgrade/credits [post]
func (h *Handlers) BuyCredits(c *gin.Context) {
	u := h.currentUser(c)
	if u == nil {
		return
	}

	var req BuyCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "pack_id required")
		return
	}

	pack, err := h.acctSvc.BuyCreditPack(c.Request.Context(), u.ID, req.PackID)
	if err != nil {
		if errors.Is(err, services.ErrUnknownPack) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown pack")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	ok(c, http.StatusOK, BuyCreditsResponse{
		PackID:  req.PackID,
		Credits: pack.Credits,
		Label:   pack.Label,
	})
}
