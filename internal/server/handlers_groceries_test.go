package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/go-groceries/backend/internal/groceries"
	"github.com/go-groceries/backend/internal/syncsvc"
	"gorm.io/gorm"
)

type fakeOutboundSyncer struct {
	url       string
	err       error
	automatic []bool
}

func (f *fakeOutboundSyncer) SyncTo(ctx context.Context, existing *syncsvc.Location, automatic bool) (string, error) {
	f.automatic = append(f.automatic, automatic)
	return f.url, f.err
}

func newAppTestHandler(t *testing.T, outbound OutboundSyncer) (http.Handler, *groceries.Store) {
	t.Helper()
	databasePath := filepath.Join(t.TempDir(), "app.db")
	db, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&groceries.Meal{},
		&groceries.GroceryList{},
		&groceries.GroceryListState{},
		&groceries.Recipe{},
		&groceries.Tag{},
		&groceries.CustomIngredient{},
		&groceries.PendingRecipe{},
		&groceries.StoreLocation{},
		&groceries.IngredientStore{},
		&groceries.Setting{},
		&syncsvc.Location{},
	); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	store, err := groceries.NewStore(groceries.StoreConfig{
		Database: db,
		Clock:    func() time.Time { return time.Unix(1700000000, 0) },
	})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	registry, err := syncsvc.NewRegistry(db, func() time.Time { return time.Unix(1700000000, 0) })
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	handler := newTestRouter(t, Dependencies{
		Pass:         "secret",
		PassEnabled:  false,
		Store:        store,
		Outbound:     outbound,
		SyncRegistry: registry,
	})
	return handler, store
}

func TestCreateAndListMeals(t *testing.T) {
	handler, _ := newAppTestHandler(t, nil)

	recorder := postJSON(t, handler, "/meals", map[string]interface{}{
		"name":        "Pasta Carbonara",
		"recipe":      "Boil pasta.",
		"ingredients": []map[string]interface{}{{"name": "spaghetti", "quantity": 200}},
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}
	created := decodeBody(t, recorder)
	if created["name"] != "Pasta Carbonara" {
		t.Fatalf("unexpected created meal %s", recorder.Body.String())
	}

	request := httptest.NewRequest(http.MethodGet, "/meals", nil)
	listRecorder := httptest.NewRecorder()
	handler.ServeHTTP(listRecorder, request)
	if listRecorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", listRecorder.Code)
	}
	meals, ok := decodeBody(t, listRecorder)["meals"].([]interface{})
	if !ok || len(meals) != 1 {
		t.Fatalf("expected one meal, got %s", listRecorder.Body.String())
	}
}

func TestCreateMealRejectsEmptyName(t *testing.T) {
	handler, _ := newAppTestHandler(t, nil)

	recorder := postJSON(t, handler, "/meals", map[string]string{"name": "   "})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	if decodeBody(t, recorder)["error"] != "invalid_meal_name" {
		t.Fatalf("unexpected body %s", recorder.Body.String())
	}
}

func TestUpdateMealKeepsTagsAndCreationTime(t *testing.T) {
	handler, store := newAppTestHandler(t, nil)

	meal := groceries.Meal{Name: "Pasta"}
	if err := store.CreateMeal(context.Background(), &meal); err != nil {
		t.Fatalf("failed to seed meal: %v", err)
	}
	err := store.DB().Model(&groceries.Meal{}).Where("id = ?", meal.ID).
		Update("tag_ids_json", `[3]`).Error
	if err != nil {
		t.Fatalf("failed to tag meal: %v", err)
	}

	recorder := putJSON(t, handler, "/meals/1", map[string]interface{}{
		"name":   "Pasta al Limone",
		"recipe": "Zest, then toss.",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	var reloaded groceries.Meal
	if err := store.DB().First(&reloaded, meal.ID).Error; err != nil {
		t.Fatalf("failed to reload meal: %v", err)
	}
	if reloaded.Name != "Pasta al Limone" {
		t.Fatalf("expected edit applied, got %+v", reloaded)
	}
	if reloaded.TagIDsJSON != `[3]` {
		t.Fatalf("expected tags to survive the edit, got %q", reloaded.TagIDsJSON)
	}
	if reloaded.CreatedAtSeconds != meal.CreatedAtSeconds || reloaded.CreatedAtSeconds == 0 {
		t.Fatalf("expected creation time to survive the edit, got %d", reloaded.CreatedAtSeconds)
	}
	if reloaded.IngredientsJSON != "[]" {
		t.Fatalf("expected ingredients untouched, got %q", reloaded.IngredientsJSON)
	}
}

func TestUpdateMealUnknownIDIs404(t *testing.T) {
	handler, _ := newAppTestHandler(t, nil)

	recorder := putJSON(t, handler, "/meals/42", map[string]string{"name": "Ghost"})
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
	if decodeBody(t, recorder)["error"] != "meal_not_found" {
		t.Fatalf("unexpected body %s", recorder.Body.String())
	}
}

func TestDeleteMealRejectsMalformedID(t *testing.T) {
	handler, _ := newAppTestHandler(t, nil)

	request := httptest.NewRequest(http.MethodDelete, "/meals/not-a-number", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	if decodeBody(t, recorder)["error"] != "invalid_id" {
		t.Fatalf("unexpected body %s", recorder.Body.String())
	}
}

func TestDeleteMealRemovesRecord(t *testing.T) {
	handler, store := newAppTestHandler(t, nil)

	meal := groceries.Meal{Name: "Curry"}
	if err := store.CreateMeal(context.Background(), &meal); err != nil {
		t.Fatalf("failed to seed meal: %v", err)
	}

	request := httptest.NewRequest(http.MethodDelete, "/meals/1", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", recorder.Code)
	}
	meals, err := store.ListMeals(context.Background())
	if err != nil {
		t.Fatalf("failed to list meals: %v", err)
	}
	if len(meals) != 0 {
		t.Fatalf("expected empty store, got %d meals", len(meals))
	}
}

func TestSaveListStateRoundTrip(t *testing.T) {
	handler, store := newAppTestHandler(t, nil)

	list := groceries.GroceryList{Name: "Weekly"}
	if err := store.CreateGroceryList(context.Background(), &list); err != nil {
		t.Fatalf("failed to seed list: %v", err)
	}

	recorder := putJSON(t, handler, "/grocery-lists/1/state", map[string]string{
		"checked_json": `{"spaghetti":true}`,
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var state groceries.GroceryListState
	if err := store.DB().Where("grocery_list_id = ?", list.ID).First(&state).Error; err != nil {
		t.Fatalf("failed to read state: %v", err)
	}
	if state.CheckedJSON != `{"spaghetti":true}` {
		t.Fatalf("unexpected state %q", state.CheckedJSON)
	}
}

func TestManualSyncToReportsURL(t *testing.T) {
	outbound := &fakeOutboundSyncer{url: "https://bucket.example/get?sig=1"}
	handler, _ := newAppTestHandler(t, outbound)

	recorder := postJSON(t, handler, "/sync/to", map[string]string{})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if decodeBody(t, recorder)["url"] != "https://bucket.example/get?sig=1" {
		t.Fatalf("unexpected body %s", recorder.Body.String())
	}
	if len(outbound.automatic) != 1 || outbound.automatic[0] {
		t.Fatalf("manual trigger must not be automatic: %v", outbound.automatic)
	}
}

func TestManualSyncToWithoutWiringIsUnconfigured(t *testing.T) {
	handler, _ := newAppTestHandler(t, nil)

	recorder := postJSON(t, handler, "/sync/to", map[string]string{})
	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", recorder.Code)
	}
	if decodeBody(t, recorder)["error"] != "sync_not_configured" {
		t.Fatalf("unexpected body %s", recorder.Body.String())
	}
}

func TestSyncStatusListsConfiguredDirections(t *testing.T) {
	outbound := &fakeOutboundSyncer{url: "https://bucket.example/get"}
	handler, _ := newAppTestHandler(t, outbound)

	request := httptest.NewRequest(http.MethodGet, "/sync/status", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if body := decodeBody(t, recorder); len(body) != 0 {
		t.Fatalf("expected empty status, got %s", recorder.Body.String())
	}
}

func putJSON(t *testing.T, handler http.Handler, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	request := httptest.NewRequest(http.MethodPut, path, bytes.NewReader(body))
	request.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}
