package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"

	"github.com/tbourn/go-study-backend/internal/domain"
	"github.com/tbourn/go-study-backend/internal/repo"
	"github.com/tbourn/go-study-backend/internal/services"
)

const validCreate = `{"purpose":"exam","topic":"Graph algorithms","difficulty":"Medium"}`

func balanceOf(t *testing.T, app *testApp, ext string) services.Balance {
	t.Helper()
	w := app.do(t, http.MethodGet, "/me", ext, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get me -> %d", w.Code)
	}
	var bal services.Balance
	if err := json.Unmarshal(w.Body.Bytes(), &bal); err != nil {
		t.Fatalf("json: %v", err)
	}
	return bal
}

func TestCreateRequest_BadJSON_Success_Debit(t *testing.T) {
	app := newApp(t)

	// Bad JSON -> 400
	w := app.do(t, http.MethodPost, "/requests", "u1", jsonBody("{bad"), nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad json -> %d", w.Code)
	}

	// Success: synchronous pipeline returns the terminal request and material.
	w = app.do(t, http.MethodPost, "/requests", "u1", jsonBody(validCreate), nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create -> %d body=%s", w.Code, w.Body.String())
	}
	var out CreateRequestResponse
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("json: %v", err)
	}
	if out.Request.Status != domain.StatusCompleted || out.Request.CreditsUsed != 1 {
		t.Fatalf("request unexpected: %+v", out.Request)
	}
	if out.Material == nil || out.Material.CourseLayout == nil {
		t.Fatalf("material missing: %+v", out.Material)
	}
	// The generator normalizes the topic to title case.
	if out.Material.Topic != "Graph Algorithms" {
		t.Fatalf("material topic = %q", out.Material.Topic)
	}

	// One credit consumed.
	if bal := balanceOf(t, app, "u1"); bal.Remaining != 4 {
		t.Fatalf("remaining = %d after one request", bal.Remaining)
	}
}

func TestCreateRequest_ValidationAndQuota(t *testing.T) {
	app := newApp(t)

	// Unknown difficulty -> 400, nothing debited.
	w := app.do(t, http.MethodPost, "/requests", "u1",
		jsonBody(`{"purpose":"exam","topic":"t","difficulty":"Expert"}`), nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad difficulty -> %d", w.Code)
	}
	if bal := balanceOf(t, app, "u1"); bal.Remaining != 5 {
		t.Fatalf("validation failure debited: %+v", bal)
	}

	// Exhausted quota -> 402 with the routing code.
	u := app.resolve(t, "u1")
	app.db.Model(&domain.User{}).Where("id = ?", u.ID).Update("used_credits", 5)

	w = app.do(t, http.MethodPost, "/requests", "u1", jsonBody(validCreate), nil)
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("exhausted -> %d body=%s", w.Code, w.Body.String())
	}
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("envelope: %v", err)
	}
	if er.Code != ErrCodeInsufficientCredits {
		t.Fatalf("code = %q", er.Code)
	}
}

func TestCreateRequest_IdempotentReplay(t *testing.T) {
	app := newApp(t)
	hdr := map[string]string{"Idempotency-Key": "retry-1"}

	w := app.do(t, http.MethodPost, "/requests", "u1", jsonBody(validCreate), hdr)
	if w.Code != http.StatusCreated {
		t.Fatalf("first -> %d body=%s", w.Code, w.Body.String())
	}
	var first CreateRequestResponse
	if err := json.Unmarshal(w.Body.Bytes(), &first); err != nil {
		t.Fatalf("json: %v", err)
	}

	// The retry replays the stored request without a second debit.
	w = app.do(t, http.MethodPost, "/requests", "u1", jsonBody(validCreate), hdr)
	if w.Code != http.StatusOK {
		t.Fatalf("replay -> %d body=%s", w.Code, w.Body.String())
	}
	var second CreateRequestResponse
	if err := json.Unmarshal(w.Body.Bytes(), &second); err != nil {
		t.Fatalf("json: %v", err)
	}
	if !second.Replayed || second.Request.ID != first.Request.ID {
		t.Fatalf("replay mismatch: first=%s second=%+v", first.Request.ID, second)
	}
	if second.Material == nil {
		t.Fatalf("replay must carry the material for a completed request")
	}
	if bal := balanceOf(t, app, "u1"); bal.Remaining != 4 {
		t.Fatalf("remaining = %d, replay double-debited", bal.Remaining)
	}

	// A fresh key creates a new request.
	w = app.do(t, http.MethodPost, "/requests", "u1", jsonBody(validCreate),
		map[string]string{"Idempotency-Key": "retry-2"})
	if w.Code != http.StatusCreated {
		t.Fatalf("fresh key -> %d", w.Code)
	}
}

func TestListRequests_ETag304_and_Pagination(t *testing.T) {
	app := newApp(t)
	for i := 0; i < 2; i++ {
		if w := app.do(t, http.MethodPost, "/requests", "u1", jsonBody(validCreate), nil); w.Code != http.StatusCreated {
			t.Fatalf("seed %d -> %d", i, w.Code)
		}
	}
	u := app.resolve(t, "u1")

	count, maxTS, err := repo.RequestsStats(context.Background(), app.db, u.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	var ts int64
	if maxTS != nil {
		ts = maxTS.Unix()
	}
	etag := fmt.Sprintf(`W/"requests:%s:%d:%d"`, u.ID, count, ts)

	// 304 path
	w := app.do(t, http.MethodGet, "/requests", "u1", nil, map[string]string{"If-None-Match": etag})
	if w.Code != http.StatusNotModified {
		t.Fatalf("etag 304 -> %d", w.Code)
	}

	// 200 with pagination
	w = app.do(t, http.MethodGet, "/requests?page=1&page_size=1", "u1", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list -> %d body=%s", w.Code, w.Body.String())
	}
	var out ListRequestsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(out.Requests) != 1 || out.Pagination.Total != 2 || !out.Pagination.HasNext {
		t.Fatalf("pagination mismatch: %#v", out.Pagination)
	}
}

func TestGetRequest_Paths(t *testing.T) {
	app := newApp(t)

	// Malformed id -> 400
	w := app.do(t, http.MethodGet, "/requests/not-a-uuid", "u1", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad id -> %d", w.Code)
	}

	// Unknown id -> 404
	w = app.do(t, http.MethodGet, "/requests/"+uuid.NewString(), "u1", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing -> %d", w.Code)
	}

	// Completed request comes back with its material attached.
	w = app.do(t, http.MethodPost, "/requests", "u1", jsonBody(validCreate), nil)
	var created CreateRequestResponse
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("json: %v", err)
	}
	w = app.do(t, http.MethodGet, "/requests/"+created.Request.ID, "u1", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get -> %d body=%s", w.Code, w.Body.String())
	}
	var got CreateRequestResponse
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("json: %v", err)
	}
	if got.Request.ID != created.Request.ID || got.Material == nil {
		t.Fatalf("fetched request unexpected: %+v", got)
	}

	// Other users never see it.
	w = app.do(t, http.MethodGet, "/requests/"+created.Request.ID, "u2", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("foreign get -> %d", w.Code)
	}
}

func TestCancelRequest(t *testing.T) {
	app := newApp(t)
	u := app.resolve(t, "u1")

	// Seed a queued request directly; the HTTP pipeline would have processed it.
	r, err := app.reqSvc.Create(context.Background(), u.ID, "practice", "topic", "Easy")
	if err != nil {
		t.Fatalf("seed queued: %v", err)
	}

	w := app.do(t, http.MethodPost, "/requests/"+r.ID+"/cancel", "u1", nil, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("cancel -> %d body=%s", w.Code, w.Body.String())
	}

	// Already canceled -> 409 with the transition code.
	w = app.do(t, http.MethodPost, "/requests/"+r.ID+"/cancel", "u1", nil, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("second cancel -> %d", w.Code)
	}
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("envelope: %v", err)
	}
	if er.Code != ErrCodeInvalidTransition {
		t.Fatalf("code = %q", er.Code)
	}

	// Unknown id -> 404
	w = app.do(t, http.MethodPost, "/requests/"+uuid.NewString()+"/cancel", "u1", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing cancel -> %d", w.Code)
	}
}
