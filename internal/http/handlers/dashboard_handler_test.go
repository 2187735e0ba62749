package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/tbourn/go-study-backend/internal/domain"
	"github.com/tbourn/go-study-backend/internal/repo"
)

func seedHandlerMaterial(t *testing.T, app *testApp, ownerID, topic string) *domain.StudyMaterial {
	t.Helper()
	layout := datatypes.JSON([]byte(`{"topic":"` + topic + `","chapters":[]}`))
	m, err := repo.CreateStudyMaterial(context.Background(), app.db, nil, topic, "Medium", layout, ownerID)
	if err != nil {
		t.Fatalf("seed material: %v", err)
	}
	return m
}

func TestAddDashboardItem(t *testing.T) {
	app := newApp(t)
	u := app.resolve(t, "u1")
	mat := seedHandlerMaterial(t, app, u.ID, "Calculus")

	// Malformed body / id -> 400
	w := app.do(t, http.MethodPost, "/dashboard/items", "u1", jsonBody("{bad"), nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad json -> %d", w.Code)
	}
	w = app.do(t, http.MethodPost, "/dashboard/items", "u1", jsonBody(`{"material_id":"nope"}`), nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad uuid -> %d", w.Code)
	}

	// Unknown material -> 404
	w = app.do(t, http.MethodPost, "/dashboard/items", "u1",
		jsonBody(`{"material_id":"`+uuid.NewString()+`"}`), nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing material -> %d", w.Code)
	}

	// First add -> 201 at progress 0
	w = app.do(t, http.MethodPost, "/dashboard/items", "u1",
		jsonBody(`{"material_id":"`+mat.ID+`"}`), nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("add -> %d body=%s", w.Code, w.Body.String())
	}
	var item domain.DashboardItem
	if err := json.Unmarshal(w.Body.Bytes(), &item); err != nil {
		t.Fatalf("json: %v", err)
	}
	if item.MaterialID != mat.ID || item.Progress != 0 {
		t.Fatalf("item unexpected: %+v", item)
	}

	// Second add -> 409 conflict
	w = app.do(t, http.MethodPost, "/dashboard/items", "u1",
		jsonBody(`{"material_id":"`+mat.ID+`"}`), nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate add -> %d", w.Code)
	}
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("envelope: %v", err)
	}
	if er.Code != ErrCodeConflict {
		t.Fatalf("code = %q", er.Code)
	}
}

func TestListAndCheckDashboard(t *testing.T) {
	app := newApp(t)
	u := app.resolve(t, "u1")
	mat := seedHandlerMaterial(t, app, u.ID, "Statistics")

	// Empty list is an empty array, never null.
	w := app.do(t, http.MethodGet, "/dashboard/items", "u1", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("empty list -> %d", w.Code)
	}
	var out ListDashboardResponse
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("json: %v", err)
	}
	if out.Items == nil || len(out.Items) != 0 {
		t.Fatalf("empty list body: %s", w.Body.String())
	}

	// Check before and after adding.
	w = app.do(t, http.MethodGet, "/dashboard/items/check?material_id="+mat.ID, "u1", nil, nil)
	var chk DashboardCheckResponse
	if err := json.Unmarshal(w.Body.Bytes(), &chk); err != nil {
		t.Fatalf("json: %v", err)
	}
	if chk.Added {
		t.Fatalf("added before add")
	}

	app.do(t, http.MethodPost, "/dashboard/items", "u1", jsonBody(`{"material_id":"`+mat.ID+`"}`), nil)

	w = app.do(t, http.MethodGet, "/dashboard/items/check?material_id="+mat.ID, "u1", nil, nil)
	if err := json.Unmarshal(w.Body.Bytes(), &chk); err != nil {
		t.Fatalf("json: %v", err)
	}
	if !chk.Added {
		t.Fatalf("not added after add")
	}

	// Invalid query id -> 400
	w = app.do(t, http.MethodGet, "/dashboard/items/check?material_id=nope", "u1", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad check id -> %d", w.Code)
	}

	// Anonymous check is not an error; it reports not-added.
	w = app.do(t, http.MethodGet, "/dashboard/items/check?material_id="+mat.ID, "", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("anonymous check -> %d", w.Code)
	}
	if err := json.Unmarshal(w.Body.Bytes(), &chk); err != nil || chk.Added {
		t.Fatalf("anonymous check body: %s (%v)", w.Body.String(), err)
	}

	// List joins material metadata.
	w = app.do(t, http.MethodGet, "/dashboard/items", "u1", nil, nil)
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(out.Items) != 1 || out.Items[0].Topic != "Statistics" || out.Items[0].Difficulty != "Medium" {
		t.Fatalf("list rows unexpected: %+v", out.Items)
	}
}

func TestUpdateDashboardProgress(t *testing.T) {
	app := newApp(t)
	u := app.resolve(t, "u1")
	mat := seedHandlerMaterial(t, app, u.ID, "Networks")

	w := app.do(t, http.MethodPost, "/dashboard/items", "u1", jsonBody(`{"material_id":"`+mat.ID+`"}`), nil)
	var item domain.DashboardItem
	if err := json.Unmarshal(w.Body.Bytes(), &item); err != nil {
		t.Fatalf("json: %v", err)
	}

	// Missing progress field -> 400
	w = app.do(t, http.MethodPatch, "/dashboard/items/"+item.ID, "u1", jsonBody(`{}`), nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing progress -> %d", w.Code)
	}

	// Out of range -> 400
	w = app.do(t, http.MethodPatch, "/dashboard/items/"+item.ID, "u1", jsonBody(`{"progress":101}`), nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("out of range -> %d", w.Code)
	}

	// Zero is a legal value; pointer binding must not treat it as absent.
	w = app.do(t, http.MethodPatch, "/dashboard/items/"+item.ID, "u1", jsonBody(`{"progress":0}`), nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("zero progress -> %d body=%s", w.Code, w.Body.String())
	}

	w = app.do(t, http.MethodPatch, "/dashboard/items/"+item.ID, "u1", jsonBody(`{"progress":40}`), nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("update -> %d", w.Code)
	}

	// Foreign caller gets the same 404 as a missing item.
	w = app.do(t, http.MethodPatch, "/dashboard/items/"+item.ID, "u2", jsonBody(`{"progress":50}`), nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("foreign update -> %d", w.Code)
	}
	w = app.do(t, http.MethodPatch, "/dashboard/items/"+uuid.NewString(), "u1", jsonBody(`{"progress":50}`), nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing item -> %d", w.Code)
	}
}

func TestRemoveDashboardItem(t *testing.T) {
	app := newApp(t)
	u := app.resolve(t, "u1")
	mat := seedHandlerMaterial(t, app, u.ID, "Geometry")

	w := app.do(t, http.MethodPost, "/dashboard/items", "u1", jsonBody(`{"material_id":"`+mat.ID+`"}`), nil)
	var item domain.DashboardItem
	if err := json.Unmarshal(w.Body.Bytes(), &item); err != nil {
		t.Fatalf("json: %v", err)
	}

	w = app.do(t, http.MethodDelete, "/dashboard/items/"+item.ID, "u1", nil, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("remove -> %d", w.Code)
	}
	w = app.do(t, http.MethodDelete, "/dashboard/items/"+item.ID, "u1", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("second remove -> %d", w.Code)
	}

	// The material survives removal.
	w = app.do(t, http.MethodGet, "/materials/"+mat.ID, "u1", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("material after remove -> %d", w.Code)
	}
}
